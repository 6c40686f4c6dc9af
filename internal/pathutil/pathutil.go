package pathutil

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/Paintersrp/quill/internal/constants"
	"github.com/Paintersrp/quill/internal/volume"
)

var (
	// ErrPathTraversal is returned when a relative path climbs out of its root.
	ErrPathTraversal = errors.New("path traversal detected")
	// ErrPathOutsideWorkspace is returned when the resolved absolute path is
	// not contained in the root.
	ErrPathOutsideWorkspace = errors.New("path outside workspace")
	// ErrFilenameTooLong is returned when the final segment exceeds
	// constants.MaxFilenameBytes when UTF-8 encoded.
	ErrFilenameTooLong = errors.New("filename too long")
)

// NormalizePath converts Windows-style separators to the current platform's separator
// and cleans the resulting path.
func NormalizePath(p string) string {
	if p == "" {
		return ""
	}

	// Replace Windows separators and collapse redundant separators/segments.
	replaced := strings.ReplaceAll(p, "\\", "/")
	return filepath.Clean(filepath.FromSlash(replaced))
}

// Relative returns the path to target relative to root, always with forward
// slashes.
func Relative(root, target string) (string, error) {
	base := NormalizePath(root)
	cleanedTarget := NormalizePath(target)

	rel, err := filepath.Rel(base, cleanedTarget)
	if err != nil {
		return "", err
	}

	return filepath.ToSlash(rel), nil
}

// Validate resolves relativePath against root and guarantees the result stays
// inside root. An empty path or "/" resolves to root itself.
func Validate(relativePath, root string) (string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve root %q: %w", root, err)
	}
	absRoot = filepath.Clean(absRoot)

	if relativePath == "" || relativePath == "/" {
		return absRoot, nil
	}

	trimmed := strings.TrimPrefix(strings.ReplaceAll(relativePath, "\\", "/"), "/")
	normalized := path.Clean(trimmed)
	if normalized == ".." || strings.HasPrefix(normalized, "../") || hasParentSegment(normalized) {
		return "", fmt.Errorf("%w: %q", ErrPathTraversal, relativePath)
	}

	resolved := filepath.Join(absRoot, filepath.FromSlash(normalized))
	if !within(absRoot, resolved) {
		return "", fmt.Errorf("%w: %q", ErrPathOutsideWorkspace, relativePath)
	}

	return resolved, nil
}

// Target is a fully validated volume path.
type Target struct {
	Volume       volume.Volume
	RelativePath string
	AbsPath      string
}

// ValidateVolumePath resolves the volume prefix and sandboxes the remainder
// inside that volume's mount.
func ValidateVolumePath(set *volume.Set, volumePath string) (Target, error) {
	resolved, err := set.Resolve(volumePath)
	if err != nil {
		return Target{}, err
	}

	abs, err := Validate(resolved.RelativePath, resolved.Volume.MountPath)
	if err != nil {
		return Target{}, err
	}

	rel, err := Relative(resolved.Volume.MountPath, abs)
	if err != nil {
		return Target{}, err
	}

	return Target{Volume: resolved.Volume, RelativePath: rel, AbsPath: abs}, nil
}

// ValidateFilenameLength checks the byte length of the final path segment.
func ValidateFilenameLength(p string) error {
	name := path.Base(strings.ReplaceAll(p, "\\", "/"))
	if n := len(name); n > constants.MaxFilenameBytes {
		return fmt.Errorf(
			"%w: %d bytes exceeds the %d byte limit",
			ErrFilenameTooLong,
			n,
			constants.MaxFilenameBytes,
		)
	}
	return nil
}

func hasParentSegment(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}

func within(root, target string) bool {
	if target == root {
		return true
	}
	prefix := root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(target, prefix)
}
