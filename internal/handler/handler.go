package handler

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Paintersrp/quill/internal/constants"
	"github.com/Paintersrp/quill/internal/pathutil"
	"github.com/Paintersrp/quill/internal/volume"
)

var (
	ErrFileAlreadyExists = errors.New("file already exists")
	ErrCrossVolumeMove   = errors.New("cannot move files between volumes")
	ErrNotFound          = fmt.Errorf("not found: %w", fs.ErrNotExist)
	ErrVolumeRoot        = errors.New("operation not allowed on a volume root")
	ErrUnsupportedImage  = errors.New("unsupported image type")
	ErrNotMarkdown       = errors.New("not a markdown file")
)

const (
	TypeFile   = "file"
	TypeFolder = "folder"
)

// Entry is one item of a directory listing.
type Entry struct {
	Name       string     `json:"name"`
	Path       string     `json:"path"`
	Type       string     `json:"type"`
	Extension  string     `json:"extension,omitempty"`
	Size       int64      `json:"size,omitempty"`
	ModifiedAt *time.Time `json:"modifiedAt,omitempty"`
}

// Document is the content of a markdown file.
type Document struct {
	Content string `json:"content"`
	Path    string `json:"path"`
}

// FileHandler performs workspace file operations. Every path it accepts is a
// volume path and is sandboxed before any filesystem access. Writes to the
// same file are serialized.
type FileHandler struct {
	vols   *volume.Set
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*pathLock
}

type pathLock struct {
	mu   sync.Mutex
	refs int
}

func NewFileHandler(vols *volume.Set, logger *slog.Logger) *FileHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileHandler{
		vols:   vols,
		logger: logger,
		locks:  make(map[string]*pathLock),
	}
}

// Volumes returns the configured volumes.
func (h *FileHandler) Volumes() []volume.Volume {
	return h.vols.Volumes()
}

// Resolve sandboxes a volume path.
func (h *FileHandler) Resolve(volumePath string) (pathutil.Target, error) {
	return pathutil.ValidateVolumePath(h.vols, volumePath)
}

func (h *FileHandler) virtual(t pathutil.Target) string {
	return h.vols.Join(t.Volume, t.RelativePath)
}

// List returns the folders and markdown files directly inside volumePath,
// folders first. With several volumes, an empty path lists the volume roots.
func (h *FileHandler) List(volumePath string) ([]Entry, error) {
	if strings.Trim(volumePath, "/") == "" && h.vols.Len() > 1 {
		entries := make([]Entry, 0, h.vols.Len())
		for _, v := range h.vols.Volumes() {
			entries = append(entries, Entry{Name: v.Name, Path: v.Name, Type: TypeFolder})
		}
		return entries, nil
	}

	target, err := h.Resolve(volumePath)
	if err != nil {
		return nil, err
	}

	dirEntries, err := os.ReadDir(target.AbsPath)
	if err != nil {
		return nil, wrapFSError(err, volumePath)
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		name := de.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}

		rel := path.Join(target.RelativePath, name)
		entry := Entry{Name: name, Path: h.vols.Join(target.Volume, rel)}

		if de.IsDir() {
			entry.Type = TypeFolder
			entries = append(entries, entry)
			continue
		}
		if !strings.EqualFold(filepath.Ext(name), constants.MarkdownExt) {
			continue
		}

		entry.Type = TypeFile
		entry.Extension = strings.ToLower(filepath.Ext(name))
		if info, err := de.Info(); err == nil {
			mod := info.ModTime().UTC()
			entry.Size = info.Size()
			entry.ModifiedAt = &mod
		}
		entries = append(entries, entry)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Type != entries[j].Type {
			return entries[i].Type == TypeFolder
		}
		return strings.ToLower(entries[i].Name) < strings.ToLower(entries[j].Name)
	})
	return entries, nil
}

// Read returns the UTF-8 content of a file.
func (h *FileHandler) Read(volumePath string) (Document, error) {
	target, err := h.Resolve(volumePath)
	if err != nil {
		return Document{}, err
	}

	data, err := os.ReadFile(target.AbsPath)
	if err != nil {
		return Document{}, wrapFSError(err, volumePath)
	}
	return Document{Content: string(data), Path: h.virtual(target)}, nil
}

// Save writes content, creating parent folders as needed.
func (h *FileHandler) Save(volumePath, content string) (string, error) {
	target, err := h.writableTarget(volumePath)
	if err != nil {
		return "", err
	}

	unlock := h.lock(target.AbsPath)
	defer unlock()

	if err := os.MkdirAll(filepath.Dir(target.AbsPath), 0o755); err != nil {
		return "", fmt.Errorf("create parent of %q: %w", volumePath, err)
	}
	if err := writeFileAtomic(target.AbsPath, []byte(content)); err != nil {
		return "", fmt.Errorf("save %q: %w", volumePath, err)
	}

	h.logger.Debug("file saved", "path", h.virtual(target), "bytes", len(content))
	return h.virtual(target), nil
}

// Create writes a new file and fails with ErrFileAlreadyExists when the path
// is taken.
func (h *FileHandler) Create(volumePath, content string) (string, error) {
	target, err := h.writableTarget(volumePath)
	if err != nil {
		return "", err
	}

	unlock := h.lock(target.AbsPath)
	defer unlock()

	if err := os.MkdirAll(filepath.Dir(target.AbsPath), 0o755); err != nil {
		return "", fmt.Errorf("create parent of %q: %w", volumePath, err)
	}

	f, err := os.OpenFile(target.AbsPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("%w: %s", ErrFileAlreadyExists, h.virtual(target))
		}
		return "", fmt.Errorf("create %q: %w", volumePath, err)
	}
	if _, err := io.WriteString(f, content); err != nil {
		f.Close()
		return "", fmt.Errorf("write %q: %w", volumePath, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close %q: %w", volumePath, err)
	}

	h.logger.Info("file created", "path", h.virtual(target))
	return h.virtual(target), nil
}

// CreateUntitled creates an empty document with the first free
// "Untitled", "Untitled 1", ... name inside the folder volumePath.
func (h *FileHandler) CreateUntitled(folder string) (string, error) {
	for i := 0; i < 1000; i++ {
		name := constants.UntitledPrefix
		if i > 0 {
			name = fmt.Sprintf("%s %d", constants.UntitledPrefix, i)
		}
		p, err := h.Create(joinVirtual(folder, name+constants.MarkdownExt), "")
		if errors.Is(err, ErrFileAlreadyExists) {
			continue
		}
		return p, err
	}
	return "", fmt.Errorf("%w: no free untitled name in %q", ErrFileAlreadyExists, folder)
}

// Delete removes a file or folder. Volume roots cannot be deleted.
func (h *FileHandler) Delete(volumePath string) error {
	target, err := h.Resolve(volumePath)
	if err != nil {
		return err
	}
	if target.RelativePath == "." {
		return fmt.Errorf("%w: %s", ErrVolumeRoot, volumePath)
	}

	unlock := h.lock(target.AbsPath)
	defer unlock()

	info, err := os.Stat(target.AbsPath)
	if err != nil {
		return wrapFSError(err, volumePath)
	}
	if info.IsDir() {
		err = os.RemoveAll(target.AbsPath)
	} else {
		err = os.Remove(target.AbsPath)
	}
	if err != nil {
		return fmt.Errorf("delete %q: %w", volumePath, err)
	}

	h.logger.Info("file deleted", "path", h.virtual(target))
	return nil
}

// Rename moves oldPath to newPath inside one volume and returns the new
// volume path.
func (h *FileHandler) Rename(oldPath, newPath string) (string, error) {
	from, err := h.Resolve(oldPath)
	if err != nil {
		return "", err
	}
	to, err := h.Resolve(newPath)
	if err != nil {
		return "", err
	}
	if from.Volume.Name != to.Volume.Name {
		return "", fmt.Errorf("%w: %s -> %s", ErrCrossVolumeMove, from.Volume.Name, to.Volume.Name)
	}
	if err := pathutil.ValidateFilenameLength(to.RelativePath); err != nil {
		return "", err
	}
	if from.RelativePath == "." || to.RelativePath == "." {
		return "", fmt.Errorf("%w: %s", ErrVolumeRoot, oldPath)
	}
	if from.AbsPath == to.AbsPath {
		return h.virtual(to), nil
	}

	unlock := h.lock(from.AbsPath, to.AbsPath)
	defer unlock()

	if _, err := os.Stat(from.AbsPath); err != nil {
		return "", wrapFSError(err, oldPath)
	}
	if _, err := os.Stat(to.AbsPath); err == nil {
		if !sameFile(from.AbsPath, to.AbsPath) {
			return "", fmt.Errorf("%w: %s", ErrFileAlreadyExists, h.virtual(to))
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("stat %q: %w", newPath, err)
	}

	if err := os.MkdirAll(filepath.Dir(to.AbsPath), 0o755); err != nil {
		return "", fmt.Errorf("create parent of %q: %w", newPath, err)
	}
	if err := os.Rename(from.AbsPath, to.AbsPath); err != nil {
		return "", fmt.Errorf("rename %q: %w", oldPath, err)
	}

	h.logger.Info("file renamed", "from", h.virtual(from), "to", h.virtual(to))
	return h.virtual(to), nil
}

func (h *FileHandler) writableTarget(volumePath string) (pathutil.Target, error) {
	target, err := h.Resolve(volumePath)
	if err != nil {
		return pathutil.Target{}, err
	}
	if target.RelativePath == "." {
		return pathutil.Target{}, fmt.Errorf("%w: %s", ErrVolumeRoot, volumePath)
	}
	if err := pathutil.ValidateFilenameLength(target.RelativePath); err != nil {
		return pathutil.Target{}, err
	}
	return target, nil
}

// lock acquires the write locks of every path in a fixed order and returns
// the function releasing them.
func (h *FileHandler) lock(paths ...string) func() {
	sorted := append([]string(nil), paths...)
	sort.Strings(sorted)

	var held []string
	for _, p := range sorted {
		if len(held) > 0 && held[len(held)-1] == p {
			continue
		}
		h.mu.Lock()
		l, ok := h.locks[p]
		if !ok {
			l = &pathLock{}
			h.locks[p] = l
		}
		l.refs++
		h.mu.Unlock()

		l.mu.Lock()
		held = append(held, p)
	}

	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			h.mu.Lock()
			l := h.locks[held[i]]
			l.mu.Unlock()
			l.refs--
			if l.refs == 0 {
				delete(h.locks, held[i])
			}
			h.mu.Unlock()
		}
	}
}

func writeFileAtomic(name string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(name), "."+filepath.Base(name)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	mode := fs.FileMode(0o644)
	if info, err := os.Stat(name); err == nil {
		mode = info.Mode().Perm()
	}
	if err := os.Chmod(tmp.Name(), mode); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), name)
}

func sameFile(a, b string) bool {
	ai, err := os.Stat(a)
	if err != nil {
		return false
	}
	bi, err := os.Stat(b)
	if err != nil {
		return false
	}
	return os.SameFile(ai, bi)
}

func wrapFSError(err error, volumePath string) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, volumePath)
	}
	return fmt.Errorf("%s: %w", volumePath, err)
}

func joinVirtual(dir, name string) string {
	dir = strings.TrimSuffix(dir, "/")
	if dir == "" {
		return name
	}
	return dir + "/" + name
}
