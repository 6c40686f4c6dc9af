package editor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Paintersrp/quill/internal/constants"
	"github.com/Paintersrp/quill/internal/parser"
)

// entry is the controller's bookkeeping for one session. Pointers stay valid
// across renames; only the map key changes.
type entry struct {
	Session

	saveTimer   Timer
	renameTimer Timer

	// busy is set while a save or rename is in flight for this session.
	busy          bool
	saveAgain     bool
	renameAgain   bool
	failedTitle   string
	selection     Selection
	scrollTop     float64
	hasViewRecord bool
}

type Controller struct {
	surface Surface
	store   Store
	logger  *slog.Logger

	autosaveDelay   time.Duration
	autoRenameDelay time.Duration
	afterFunc       AfterFunc
	onStatus        func(Session)

	// applying is non-zero while the controller itself writes to the surface;
	// change events raised by the surface during that window are ignored.
	applying atomic.Int32

	mu sync.Mutex
	// idle is signalled whenever a session's in-flight operation lands.
	idle     *sync.Cond
	sessions map[string]*entry
	active   *entry
	lastSent string
}

type Option func(*Controller)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

func WithAutosaveDelay(d time.Duration) Option {
	return func(c *Controller) { c.autosaveDelay = d }
}

func WithAutoRenameDelay(d time.Duration) Option {
	return func(c *Controller) { c.autoRenameDelay = d }
}

// WithAfterFunc replaces time.AfterFunc for debounce timers.
func WithAfterFunc(f AfterFunc) Option {
	return func(c *Controller) { c.afterFunc = f }
}

// WithStatusListener is called with a snapshot whenever a session's save
// status or path changes.
func WithStatusListener(fn func(Session)) Option {
	return func(c *Controller) { c.onStatus = fn }
}

func New(surface Surface, store Store, opts ...Option) *Controller {
	c := &Controller{
		surface:         surface,
		store:           store,
		logger:          slog.Default(),
		autosaveDelay:   constants.DefaultAutosaveDelay,
		autoRenameDelay: constants.DefaultAutoRenameDelay,
		afterFunc:       realAfterFunc,
		sessions:        make(map[string]*entry),
	}
	c.idle = sync.NewCond(&c.mu)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Open registers a session. The first session opened becomes active.
func (c *Controller) Open(s Session) {
	if s.SaveStatus == "" {
		s.SaveStatus = StatusSaved
	}

	c.mu.Lock()
	if existing, ok := c.sessions[s.ID]; ok {
		c.mu.Unlock()
		c.SetContent(existing.ID, s.Content)
		return
	}
	e := &entry{Session: s}
	c.sessions[s.ID] = e
	activate := c.active == nil
	c.mu.Unlock()

	if activate {
		_ = c.Activate(s.ID)
	}
}

// Activate shows the session in the surface. The surface is recreated with
// fresh undo history so undo never crosses into another document.
func (c *Controller) Activate(id string) error {
	c.mu.Lock()
	e, ok := c.sessions[id]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("activate %q: %w", id, ErrUnknownSession)
	}
	prev := c.active
	if prev == e {
		c.mu.Unlock()
		return nil
	}
	c.active = e
	c.lastSent = e.Content
	content, sel, top, restore := e.Content, e.selection, e.scrollTop, e.hasViewRecord
	c.mu.Unlock()

	if prev != nil {
		// Remember where the user was in the document being left.
		sel, top := c.surface.Selection(), c.surface.ScrollTop()
		c.mu.Lock()
		prev.selection, prev.scrollTop, prev.hasViewRecord = sel, top, true
		c.mu.Unlock()
	}

	c.applySurface(func() {
		c.surface.ResetWithFreshHistory(content)
		if restore {
			c.surface.SetSelection(sel.Clamp(len(content)))
			c.surface.SetScrollTop(top)
		}
	})
	return nil
}

// SurfaceChanged records an edit that originated in the surface.
func (c *Controller) SurfaceChanged(text string) {
	if c.applying.Load() > 0 {
		return
	}

	c.mu.Lock()
	e := c.active
	if e == nil {
		c.mu.Unlock()
		return
	}
	c.lastSent = text
	if e.Content == text {
		c.mu.Unlock()
		return
	}
	e.Content = text
	c.markChangedLocked(e)
	snap := e.Session
	c.mu.Unlock()

	c.notify(snap)
}

// SetContent applies an authoritative content change. When the content is
// what the surface last emitted it is already displayed and the surface is
// left alone; otherwise the buffer is replaced outside the undo history with
// the selection clamped and the scroll position restored.
func (c *Controller) SetContent(id, content string) error {
	c.mu.Lock()
	e, ok := c.sessions[id]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("set content %q: %w", id, ErrUnknownSession)
	}
	changed := e.Content != content
	e.Content = content
	if changed {
		c.markChangedLocked(e)
	}
	replace := e == c.active && content != c.lastSent
	if replace {
		c.lastSent = content
	}
	snap := e.Session
	c.mu.Unlock()

	if replace {
		c.forceReplace(content)
	}
	if changed {
		c.notify(snap)
	}
	return nil
}

// Reload applies content read from disk, for example after an external
// change. The session is marked saved.
func (c *Controller) Reload(id, content string) error {
	c.mu.Lock()
	e, ok := c.sessions[id]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("reload %q: %w", id, ErrUnknownSession)
	}
	stopTimer(e.saveTimer)
	e.saveTimer = nil
	e.Content = content
	e.LastSavedContent = content
	e.SaveStatus = StatusSaved
	e.LastError = ""
	replace := e == c.active && content != c.lastSent
	if replace {
		c.lastSent = content
	}
	snap := e.Session
	c.mu.Unlock()

	if replace {
		c.forceReplace(content)
	}
	c.notify(snap)
	return nil
}

func (c *Controller) forceReplace(content string) {
	c.applySurface(func() {
		sel := c.surface.Selection()
		top := c.surface.ScrollTop()
		c.surface.ReplaceAll(content)
		c.surface.SetSelection(sel.Clamp(len(content)))
		c.surface.SetScrollTop(top)
	})
}

func (c *Controller) applySurface(fn func()) {
	c.applying.Add(1)
	defer c.applying.Add(-1)
	fn()
}

// markChangedLocked flags e unsaved and restarts its debounce timers.
func (c *Controller) markChangedLocked(e *entry) {
	if e.Content == e.LastSavedContent && !e.busy {
		stopTimer(e.saveTimer)
		e.saveTimer = nil
		e.SaveStatus = StatusSaved
	} else {
		e.SaveStatus = StatusUnsaved
		stopTimer(e.saveTimer)
		e.saveTimer = c.afterFunc(c.autosaveDelay, func() { c.save(e) })
	}

	if !e.IsAutoNamed {
		return
	}
	heading := parser.FirstHeading([]byte(e.Content))
	stopTimer(e.renameTimer)
	e.renameTimer = nil
	if heading == "" || heading == e.LastAutoRenamedTitle || heading == e.failedTitle {
		return
	}
	e.renameTimer = c.afterFunc(c.autoRenameDelay, func() { c.autoRename(e) })
}

// save writes the latest content of e. A save requested while another
// operation is in flight is deferred until it lands and then writes whatever
// content is current at that time.
func (c *Controller) save(e *entry) {
	c.mu.Lock()
	if _, open := c.sessions[e.ID]; !open {
		c.mu.Unlock()
		return
	}
	if e.busy {
		e.saveAgain = true
		c.mu.Unlock()
		return
	}
	if !e.Dirty() && e.SaveStatus != StatusError {
		e.SaveStatus = StatusSaved
		c.mu.Unlock()
		return
	}
	e.busy = true
	e.SaveStatus = StatusSaving
	path, content := e.ID, e.Content
	snap := e.Session
	c.mu.Unlock()
	c.notify(snap)

	err := c.store.Save(context.Background(), path, content)

	c.mu.Lock()
	e.busy = false
	c.idle.Broadcast()
	if err != nil {
		e.SaveStatus = StatusError
		e.LastError = err.Error()
		c.logger.Error("autosave failed", "path", path, "err", err)
	} else {
		e.LastSavedContent = content
		e.LastError = ""
		if e.Content == content {
			e.SaveStatus = StatusSaved
		} else {
			e.SaveStatus = StatusUnsaved
		}
	}
	snap = e.Session
	c.mu.Unlock()
	c.notify(snap)

	c.drain(e)
}

// autoRename renames an auto-named document after its first heading.
// Failures are logged and otherwise ignored; the session stays auto-named.
func (c *Controller) autoRename(e *entry) {
	c.mu.Lock()
	if _, open := c.sessions[e.ID]; !open || !e.IsAutoNamed {
		c.mu.Unlock()
		return
	}
	heading := parser.FirstHeading([]byte(e.Content))
	if heading == "" || heading == e.LastAutoRenamedTitle {
		c.mu.Unlock()
		return
	}
	if e.busy {
		e.renameAgain = true
		c.mu.Unlock()
		return
	}
	oldPath := e.ID
	newPath := RenamedPath(oldPath, heading)
	if newPath == oldPath {
		e.LastAutoRenamedTitle = heading
		c.mu.Unlock()
		return
	}
	e.busy = true
	c.mu.Unlock()

	got, err := c.store.Rename(context.Background(), oldPath, newPath)

	c.mu.Lock()
	e.busy = false
	c.idle.Broadcast()
	var snap *Session
	if err != nil {
		e.failedTitle = heading
		c.logger.Warn("auto-rename failed", "path", oldPath, "target", newPath, "err", err)
	} else {
		if got == "" {
			got = newPath
		}
		delete(c.sessions, oldPath)
		e.ID = got
		c.sessions[got] = e
		e.LastAutoRenamedTitle = heading
		e.failedTitle = ""
		s := e.Session
		snap = &s
		c.logger.Info("document renamed after heading", "from", oldPath, "to", got)
	}
	c.mu.Unlock()

	if snap != nil {
		c.notify(*snap)
	}
	c.drain(e)
}

// drain runs operations that were requested while e was busy.
func (c *Controller) drain(e *entry) {
	c.mu.Lock()
	rename, save := e.renameAgain, e.saveAgain
	e.renameAgain, e.saveAgain = false, false
	c.mu.Unlock()

	if rename {
		c.autoRename(e)
	}
	if save {
		c.save(e)
	}
}

// Session returns a snapshot of the session with the given id.
func (c *Controller) Session(id string) (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.sessions[id]
	if !ok {
		return Session{}, false
	}
	return e.Session, true
}

// Active returns the active session, if any.
func (c *Controller) Active() (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return Session{}, false
	}
	return c.active.Session, true
}

// Sessions returns snapshots of every open session.
func (c *Controller) Sessions() []Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Session, 0, len(c.sessions))
	for _, e := range c.sessions {
		out = append(out, e.Session)
	}
	return out
}

// SaveNow saves id immediately, bypassing the debounce.
func (c *Controller) SaveNow(id string) error {
	c.mu.Lock()
	e, ok := c.sessions[id]
	if ok {
		stopTimer(e.saveTimer)
		e.saveTimer = nil
	}
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("save %q: %w", id, ErrUnknownSession)
	}

	c.save(e)

	c.mu.Lock()
	defer c.mu.Unlock()
	if e.SaveStatus == StatusError {
		return fmt.Errorf("save %q: %s", e.ID, e.LastError)
	}
	return nil
}

// Close saves unsaved content and forgets the session.
func (c *Controller) Close(ctx context.Context, id string) error {
	c.mu.Lock()
	e, ok := c.sessions[id]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("close %q: %w", id, ErrUnknownSession)
	}
	stopTimer(e.saveTimer)
	stopTimer(e.renameTimer)
	c.waitIdleLocked(e)
	delete(c.sessions, e.ID)
	if c.active == e {
		c.active = nil
		c.lastSent = ""
	}
	path, content, dirty := e.ID, e.Content, e.Dirty()
	c.mu.Unlock()

	if !dirty {
		return nil
	}
	if err := c.store.Save(ctx, path, content); err != nil {
		return fmt.Errorf("save on close %q: %w", path, err)
	}
	return nil
}

// Flush stops all timers and saves every session with unsaved content. It is
// meant for teardown and reports every failure. A save already in flight is
// waited for, then the latest content is written.
func (c *Controller) Flush(ctx context.Context) error {
	c.mu.Lock()
	entries := make([]*entry, 0, len(c.sessions))
	for _, e := range c.sessions {
		stopTimer(e.saveTimer)
		stopTimer(e.renameTimer)
		e.saveTimer, e.renameTimer = nil, nil
		entries = append(entries, e)
	}
	c.mu.Unlock()

	var errs []error
	for _, e := range entries {
		if err := c.flushEntry(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Controller) flushEntry(ctx context.Context, e *entry) error {
	c.mu.Lock()
	c.waitIdleLocked(e)
	if _, open := c.sessions[e.ID]; !open || !e.Dirty() {
		c.mu.Unlock()
		return nil
	}
	e.busy = true
	e.SaveStatus = StatusSaving
	path, content := e.ID, e.Content
	c.mu.Unlock()

	err := c.store.Save(ctx, path, content)

	c.mu.Lock()
	e.busy = false
	e.renameAgain = false
	c.idle.Broadcast()
	if err != nil {
		e.SaveStatus = StatusError
		e.LastError = err.Error()
		err = fmt.Errorf("flush %q: %w", path, err)
	} else {
		e.LastSavedContent = content
		e.LastError = ""
		if e.Content == content {
			e.SaveStatus = StatusSaved
		} else {
			e.SaveStatus = StatusUnsaved
		}
	}
	snap := e.Session
	c.mu.Unlock()
	c.notify(snap)

	c.drain(e)
	return err
}

// waitIdleLocked blocks until no save or rename is in flight for e. c.mu
// must be held.
func (c *Controller) waitIdleLocked(e *entry) {
	for e.busy {
		c.idle.Wait()
	}
}

func (c *Controller) notify(s Session) {
	if c.onStatus != nil {
		c.onStatus(s)
	}
}

func stopTimer(t Timer) {
	if t != nil {
		t.Stop()
	}
}
