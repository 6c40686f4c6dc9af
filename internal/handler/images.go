package handler

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/Paintersrp/quill/internal/constants"
	"github.com/Paintersrp/quill/internal/pathutil"
)

// Image is an image file ready to be served.
type Image struct {
	Path        string
	AbsPath     string
	ContentType string
}

// ImportedImage describes an image copied next to a document.
type ImportedImage struct {
	// Path is the volume path of the copy.
	Path string `json:"path"`
	// Link is the path to use in the document's markdown, relative to the
	// document's folder.
	Link string `json:"link"`
}

// ImageContentType returns the content type for an allowed image extension.
func ImageContentType(name string) (string, bool) {
	ct, ok := constants.ImageTypes[strings.ToLower(filepath.Ext(name))]
	return ct, ok
}

// Image resolves an image for serving. Only allow-listed extensions are
// served.
func (h *FileHandler) Image(volumePath string) (Image, error) {
	ct, ok := ImageContentType(volumePath)
	if !ok {
		return Image{}, fmt.Errorf("%w: %s", ErrUnsupportedImage, path.Ext(volumePath))
	}

	target, err := h.Resolve(volumePath)
	if err != nil {
		return Image{}, err
	}
	info, err := os.Stat(target.AbsPath)
	if err != nil {
		return Image{}, wrapFSError(err, volumePath)
	}
	if info.IsDir() {
		return Image{}, fmt.Errorf("%w: %s", ErrNotFound, volumePath)
	}

	return Image{Path: h.virtual(target), AbsPath: target.AbsPath, ContentType: ct}, nil
}

// AssetFolder is the folder holding images of a document: a sibling named
// after the document without its extension.
func AssetFolder(docRelPath string) string {
	return strings.TrimSuffix(docRelPath, path.Ext(docRelPath))
}

// ImportImage copies the image at sourcePath into the asset folder of the
// document at documentPath. Both are volume paths and may be in different
// volumes.
func (h *FileHandler) ImportImage(documentPath, sourcePath string) (ImportedImage, error) {
	src, err := h.Image(sourcePath)
	if err != nil {
		return ImportedImage{}, err
	}

	f, err := os.Open(src.AbsPath)
	if err != nil {
		return ImportedImage{}, wrapFSError(err, sourcePath)
	}
	defer f.Close()

	return h.UploadImage(documentPath, path.Base(filepath.ToSlash(src.AbsPath)), f)
}

// UploadImage stores r as name in the asset folder of the document at
// documentPath. A numeric suffix is added when name is taken.
func (h *FileHandler) UploadImage(documentPath, name string, r io.Reader) (ImportedImage, error) {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	if _, ok := ImageContentType(name); !ok {
		return ImportedImage{}, fmt.Errorf("%w: %s", ErrUnsupportedImage, path.Ext(name))
	}

	doc, err := h.Resolve(documentPath)
	if err != nil {
		return ImportedImage{}, err
	}
	if doc.RelativePath == "." {
		return ImportedImage{}, fmt.Errorf("%w: %s", ErrVolumeRoot, documentPath)
	}

	folderRel := AssetFolder(doc.RelativePath)
	folder, err := h.Resolve(h.vols.Join(doc.Volume, folderRel))
	if err != nil {
		return ImportedImage{}, err
	}

	unlock := h.lock(folder.AbsPath)
	defer unlock()

	if err := os.MkdirAll(folder.AbsPath, 0o755); err != nil {
		return ImportedImage{}, fmt.Errorf("create asset folder for %q: %w", documentPath, err)
	}

	dst, finalName, err := createUnique(folder.AbsPath, name)
	if err != nil {
		return ImportedImage{}, err
	}
	if _, err := io.Copy(dst, r); err != nil {
		dst.Close()
		os.Remove(dst.Name())
		return ImportedImage{}, fmt.Errorf("copy image: %w", err)
	}
	if err := dst.Close(); err != nil {
		return ImportedImage{}, fmt.Errorf("close image: %w", err)
	}

	rel := path.Join(folderRel, finalName)
	h.logger.Info("image imported", "document", documentPath, "image", rel)
	return ImportedImage{
		Path: h.vols.Join(doc.Volume, rel),
		Link: path.Base(folderRel) + "/" + finalName,
	}, nil
}

// SiblingImages lists the images stored in the asset folder of a document.
// A missing folder yields no images.
func (h *FileHandler) SiblingImages(documentPath string) ([]Image, error) {
	doc, err := h.Resolve(documentPath)
	if err != nil {
		return nil, err
	}

	folderRel := AssetFolder(doc.RelativePath)
	folder, err := pathutil.Validate(folderRel, doc.Volume.MountPath)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(folder)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list images of %q: %w", documentPath, err)
	}

	var images []Image
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ct, ok := ImageContentType(e.Name())
		if !ok {
			continue
		}
		rel := path.Join(folderRel, e.Name())
		images = append(images, Image{
			Path:        h.vols.Join(doc.Volume, rel),
			AbsPath:     filepath.Join(folder, e.Name()),
			ContentType: ct,
		})
	}
	return images, nil
}

func createUnique(dir, name string) (*os.File, string, error) {
	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	for i := 0; i < 1000; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s-%d%s", stem, i, ext)
		}
		if err := pathutil.ValidateFilenameLength(candidate); err != nil {
			return nil, "", err
		}
		f, err := os.OpenFile(filepath.Join(dir, candidate), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, candidate, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, "", fmt.Errorf("create image %q: %w", candidate, err)
		}
	}
	return nil, "", fmt.Errorf("%w: %s", ErrFileAlreadyExists, name)
}
