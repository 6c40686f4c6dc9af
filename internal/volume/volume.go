// Package volume maps virtual root names to real filesystem mounts.
package volume

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// ErrUnknownVolume is returned when a volume-prefixed path names no
// configured volume.
var ErrUnknownVolume = errors.New("unknown volume")

// ErrInvalidVolume is returned by NewSet for malformed or duplicate entries.
var ErrInvalidVolume = errors.New("invalid volume")

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Volume is a named, sandboxed filesystem root exposed to clients.
type Volume struct {
	Name      string `json:"name"`
	MountPath string `json:"path"`
}

// UnknownVolumeError reports the rejected segment together with the names
// that would have been accepted.
type UnknownVolumeError struct {
	Input     string
	Available []string
}

func (e *UnknownVolumeError) Error() string {
	return fmt.Sprintf(
		"unknown volume in path %q (available: %s)",
		e.Input,
		strings.Join(e.Available, ", "),
	)
}

func (e *UnknownVolumeError) Unwrap() error { return ErrUnknownVolume }

// ValidName reports whether name is usable as a volume name.
func ValidName(name string) bool {
	return namePattern.MatchString(name)
}

// Set is the ordered, read-only collection of configured volumes. It is
// built once at startup and shared by every request.
type Set struct {
	volumes []Volume
	byName  map[string]int
}

// NewSet validates the volumes and freezes them in order. Mount paths are made
// absolute and cleaned.
func NewSet(vols ...Volume) (*Set, error) {
	if len(vols) == 0 {
		return nil, fmt.Errorf("%w: at least one volume is required", ErrInvalidVolume)
	}

	s := &Set{
		volumes: make([]Volume, 0, len(vols)),
		byName:  make(map[string]int, len(vols)),
	}
	for _, v := range vols {
		if !ValidName(v.Name) {
			return nil, fmt.Errorf("%w: name %q must match %s", ErrInvalidVolume, v.Name, namePattern)
		}
		if _, dup := s.byName[v.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate name %q", ErrInvalidVolume, v.Name)
		}
		if strings.TrimSpace(v.MountPath) == "" {
			return nil, fmt.Errorf("%w: volume %q has no mount path", ErrInvalidVolume, v.Name)
		}
		abs, err := filepath.Abs(v.MountPath)
		if err != nil {
			return nil, fmt.Errorf("%w: volume %q: %v", ErrInvalidVolume, v.Name, err)
		}
		s.byName[v.Name] = len(s.volumes)
		s.volumes = append(s.volumes, Volume{Name: v.Name, MountPath: filepath.Clean(abs)})
	}

	return s, nil
}

// Volumes returns a copy of the configured volumes in configuration order.
func (s *Set) Volumes() []Volume {
	return append([]Volume(nil), s.volumes...)
}

// Names returns the volume names in configuration order.
func (s *Set) Names() []string {
	names := make([]string, len(s.volumes))
	for i, v := range s.volumes {
		names[i] = v.Name
	}
	return names
}

func (s *Set) Len() int { return len(s.volumes) }

// Default is the first configured volume.
func (s *Set) Default() Volume { return s.volumes[0] }

func (s *Set) Lookup(name string) (Volume, bool) {
	i, ok := s.byName[name]
	if !ok {
		return Volume{}, false
	}
	return s.volumes[i], true
}

// Resolved is a volume path split into its volume and the remainder.
type Resolved struct {
	Volume       Volume
	RelativePath string
}

// Resolve splits a virtual path of the form <volume>/<relative>. With a single
// configured volume an unprefixed path is taken as relative to it.
func (s *Set) Resolve(input string) (Resolved, error) {
	cleaned := strings.TrimPrefix(input, "/")

	head, rest, _ := strings.Cut(cleaned, "/")
	if v, ok := s.Lookup(head); ok {
		if rest == "" {
			rest = "."
		}
		return Resolved{Volume: v, RelativePath: rest}, nil
	}

	if len(s.volumes) == 1 {
		rel := cleaned
		if rel == "" {
			rel = "."
		}
		return Resolved{Volume: s.volumes[0], RelativePath: rel}, nil
	}

	return Resolved{}, &UnknownVolumeError{Input: input, Available: s.Names()}
}

// Join builds the virtual path for rel inside v.
func (s *Set) Join(v Volume, rel string) string {
	rel = strings.TrimPrefix(filepath.ToSlash(rel), "/")
	if rel == "" || rel == "." {
		return v.Name
	}
	return v.Name + "/" + rel
}
