package state

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/Paintersrp/quill/internal/constants"
	"github.com/Paintersrp/quill/internal/pathutil"
	"github.com/Paintersrp/quill/internal/volume"
)

type EventType string

const (
	EventCreated  EventType = "created"
	EventModified EventType = "modified"
	EventDeleted  EventType = "deleted"
	EventRenamed  EventType = "renamed"
)

// Event is a change to a markdown file, addressed by volume path.
type Event struct {
	Type EventType `json:"type"`
	Path string    `json:"path"`
}

const subscriberBuffer = 32

// WorkspaceWatcher watches every volume mount recursively and fans markdown
// changes out to subscribers.
type WorkspaceWatcher struct {
	watcher *fsnotify.Watcher
	vols    *volume.Set
	logger  *slog.Logger
	done    chan struct{}
	once    sync.Once

	mu       sync.Mutex
	subs     map[string]chan Event
	onChange []func(Event)
	onClose  func()
}

func NewWorkspaceWatcher(vols *volume.Set, logger *slog.Logger) (*WorkspaceWatcher, error) {
	if vols == nil {
		return nil, errors.New("volume set cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &WorkspaceWatcher{
		watcher: fw,
		vols:    vols,
		logger:  logger,
		done:    make(chan struct{}),
		subs:    make(map[string]chan Event),
	}

	for _, v := range vols.Volumes() {
		if err := w.addRecursive(v.MountPath); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				logger.Warn("not watching missing volume", "volume", v.Name, "path", v.MountPath)
				continue
			}
			_ = w.Close()
			return nil, err
		}
	}

	return w, nil
}

// Run dispatches filesystem events until ctx is done or the watcher is
// closed.
func (w *WorkspaceWatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.done:
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}

			if event.Op&fsnotify.Create != 0 && isDir(event.Name) {
				if err := w.addRecursive(event.Name); err != nil {
					w.logger.Warn("failed to watch new folder", "path", event.Name, "err", err)
				}
				continue
			}

			if ev, ok := w.translate(event); ok {
				w.publish(ev)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			if err != nil {
				w.logger.Warn("workspace watcher error", "err", err)
			}
		}
	}
}

// Subscribe registers a listener. Events are dropped for a subscriber whose
// buffer is full. The returned cancel function closes the channel.
func (w *WorkspaceWatcher) Subscribe() (string, <-chan Event, func()) {
	id := uuid.NewString()
	ch := make(chan Event, subscriberBuffer)

	w.mu.Lock()
	w.subs[id] = ch
	w.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			w.mu.Lock()
			if _, ok := w.subs[id]; ok {
				delete(w.subs, id)
				close(ch)
			}
			w.mu.Unlock()
		})
	}
	return id, ch, cancel
}

// OnChange registers a callback invoked for every relevant change.
func (w *WorkspaceWatcher) OnChange(fn func(Event)) {
	if w == nil || fn == nil {
		return
	}
	w.mu.Lock()
	w.onChange = append(w.onChange, fn)
	w.mu.Unlock()
}

// OnClose registers a callback that is invoked exactly once when the watcher
// shuts down.
func (w *WorkspaceWatcher) OnClose(fn func()) {
	if w == nil {
		return
	}
	w.mu.Lock()
	w.onClose = fn
	w.mu.Unlock()
}

func (w *WorkspaceWatcher) Close() error {
	if w == nil {
		return nil
	}

	var closeErr error
	w.once.Do(func() {
		close(w.done)
		closeErr = w.watcher.Close()

		w.mu.Lock()
		for id, ch := range w.subs {
			delete(w.subs, id)
			close(ch)
		}
		onClose := w.onClose
		w.mu.Unlock()

		if onClose != nil {
			onClose()
		}
	})

	return closeErr
}

func (w *WorkspaceWatcher) publish(ev Event) {
	w.mu.Lock()
	callbacks := append([]func(Event){}, w.onChange...)
	for id, ch := range w.subs {
		select {
		case ch <- ev:
		default:
			w.logger.Debug("dropping event for slow subscriber", "subscriber", id, "path", ev.Path)
		}
	}
	w.mu.Unlock()

	for _, fn := range callbacks {
		fn(ev)
	}
}

func (w *WorkspaceWatcher) addRecursive(root string) error {
	normalized := pathutil.NormalizePath(root)
	return filepath.WalkDir(normalized, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrPermission) {
				return filepath.SkipDir
			}
			return err
		}

		if !d.IsDir() {
			return nil
		}
		if path != normalized && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}

		return w.watcher.Add(path)
	})
}

// translate maps a raw event to a volume path. Hidden files and folders,
// temporary files and non-markdown files are ignored.
func (w *WorkspaceWatcher) translate(event fsnotify.Event) (Event, bool) {
	var typ EventType
	switch {
	case event.Op&fsnotify.Create != 0:
		typ = EventCreated
	case event.Op&fsnotify.Write != 0:
		typ = EventModified
	case event.Op&fsnotify.Remove != 0:
		typ = EventDeleted
	case event.Op&fsnotify.Rename != 0:
		typ = EventRenamed
	default:
		return Event{}, false
	}

	p, ok := w.volumePath(event.Name)
	if !ok || !strings.EqualFold(filepath.Ext(p), constants.MarkdownExt) {
		return Event{}, false
	}
	return Event{Type: typ, Path: p}, true
}

// volumePath finds the volume with the deepest mount containing abs.
func (w *WorkspaceWatcher) volumePath(abs string) (string, bool) {
	normalized := pathutil.NormalizePath(abs)

	var (
		best    volume.Volume
		bestRel string
		found   bool
	)
	for _, v := range w.vols.Volumes() {
		rel, err := pathutil.Relative(v.MountPath, normalized)
		if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
			continue
		}
		if !found || len(v.MountPath) > len(best.MountPath) {
			best, bestRel, found = v, rel, true
		}
	}
	if !found {
		return "", false
	}

	for _, seg := range strings.Split(bestRel, "/") {
		if strings.HasPrefix(seg, ".") {
			return "", false
		}
	}
	return w.vols.Join(best, bestRel), true
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
