package scrollsync

import "sync"

// State is the lock state between editor and preview.
type State int

const (
	Synced State = iota
	Unsynced
)

func (s State) String() string {
	if s == Synced {
		return "synced"
	}
	return "unsynced"
}

// Viewport is the scrollable preview as seen by the synchronizer.
type Viewport interface {
	Geometry() Geometry
	// Anchors are measured including the current scroll offset so they are
	// stable across reflows.
	Anchors() []Anchor
	SetScrollTop(top float64)
}

// Synchronizer drives the preview scroll position from editor scroll events.
// At most one recomputation is pending per frame; events arriving before the
// frame runs only update the target line.
type Synchronizer struct {
	viewport  Viewport
	scheduler FrameScheduler

	mu           sync.Mutex
	state        State
	lastLine     float64
	totalLines   float64
	manualOffset float64
	pending      bool
}

func New(viewport Viewport, scheduler FrameScheduler) *Synchronizer {
	if scheduler == nil {
		scheduler = NewTickerScheduler(FrameInterval)
	}
	return &Synchronizer{
		viewport:  viewport,
		scheduler: scheduler,
		state:     Synced,
	}
}

// SetTotalLines records the editor line count used by the proportional
// fallback.
func (s *Synchronizer) SetTotalLines(n int) {
	s.mu.Lock()
	s.totalLines = float64(n)
	s.mu.Unlock()
}

// OnEditorScroll receives the fractional top line of the editor viewport.
func (s *Synchronizer) OnEditorScroll(line float64) {
	s.mu.Lock()
	s.lastLine = line
	schedule := s.state == Synced && !s.pending
	if schedule {
		s.pending = true
	}
	s.mu.Unlock()

	if schedule {
		s.scheduler.Schedule(s.applyFrame)
	}
}

func (s *Synchronizer) applyFrame() {
	s.mu.Lock()
	s.pending = false
	if s.state != Synced || s.viewport == nil {
		s.mu.Unlock()
		return
	}
	line, total, offset := s.lastLine, s.totalLines, s.manualOffset
	s.mu.Unlock()

	target := LineToScrollTop(line, total, s.viewport.Anchors(), s.viewport.Geometry(), offset)
	s.viewport.SetScrollTop(target)
}

// SetEnabled toggles sync. Re-enabling stores the distance between the
// preview's current position and the computed one so the preview keeps its
// place.
func (s *Synchronizer) SetEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !enabled {
		s.state = Unsynced
		return
	}
	if s.state == Synced {
		return
	}

	if s.viewport != nil {
		g := s.viewport.Geometry()
		computed := LineToScrollTop(s.lastLine, s.totalLines, s.viewport.Anchors(), g, 0)
		s.manualOffset = g.ScrollTop - computed
	}
	s.state = Synced
}

func (s *Synchronizer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Synchronizer) ManualOffset() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.manualOffset
}

// LastLine is the most recent editor line, recorded in either state.
func (s *Synchronizer) LastLine() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastLine
}
