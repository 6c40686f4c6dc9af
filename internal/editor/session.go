// Package editor reconciles open documents with an external editing surface:
// round-trip detection, per-document undo isolation, debounced autosave and
// automatic renaming of untitled documents.
//
// The package is embedded by a host that owns the editing surface, such as a
// desktop shell or a WebAssembly front end. The server never constructs a
// Controller; a host persists through internal/client, which implements Store.
package editor

import (
	"context"
	"errors"
	"time"
)

var ErrUnknownSession = errors.New("unknown editing session")

type SaveStatus string

const (
	StatusSaved   SaveStatus = "saved"
	StatusSaving  SaveStatus = "saving"
	StatusUnsaved SaveStatus = "unsaved"
	StatusError   SaveStatus = "error"
)

// Session is one open document. ID is the volume path of the backing file
// and changes when the file is renamed.
type Session struct {
	ID                   string     `json:"id"`
	Content              string     `json:"content"`
	LastSavedContent     string     `json:"lastSavedContent"`
	SaveStatus           SaveStatus `json:"saveStatus"`
	IsAutoNamed          bool       `json:"isAutoNamed"`
	LastAutoRenamedTitle string     `json:"lastAutoRenamedTitle"`
	LastError            string     `json:"lastError,omitempty"`
}

// NewSession opens a document loaded from disk.
func NewSession(id, content string) Session {
	return Session{
		ID:               id,
		Content:          content,
		LastSavedContent: content,
		SaveStatus:       StatusSaved,
	}
}

// NewUntitledSession opens a freshly created document that is renamed after
// its first heading.
func NewUntitledSession(id, content string) Session {
	s := NewSession(id, content)
	s.IsAutoNamed = true
	return s
}

// Dirty reports whether the content differs from what was last saved.
func (s Session) Dirty() bool {
	return s.Content != s.LastSavedContent
}

// Store persists documents.
type Store interface {
	Save(ctx context.Context, path, content string) error
	// Rename moves oldPath to newPath and returns the path actually used.
	Rename(ctx context.Context, oldPath, newPath string) (string, error)
}

// Timer is the part of *time.Timer the controller needs.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
