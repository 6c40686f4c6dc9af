package editor

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"
)

const lineHeight = 20.0

// fakeSurface keeps a real buffer and undo stack. The calls the tests assert
// on go through the embedded mock.
type fakeSurface struct {
	mock.Mock

	text          string
	sel           Selection
	top           float64
	history       []string
	viewport      float64
	contentHeight float64
	flash         *Selection
	focused       bool

	// onChange simulates engines that emit change events for programmatic
	// writes too.
	onChange func(string)
}

func newFakeSurface() *fakeSurface {
	return &fakeSurface{viewport: 200}
}

func (s *fakeSurface) CurrentText() string { return s.text }

func (s *fakeSurface) ReplaceAll(text string) {
	s.Called(text)
	s.text = text
	s.sel = Selection{}
	s.top = 0
	if s.onChange != nil {
		s.onChange(text)
	}
}

func (s *fakeSurface) ReplaceRange(start, end int, text string) {
	s.history = append(s.history, s.text)
	s.text = s.text[:start] + text + s.text[end:]
}

func (s *fakeSurface) ResetWithFreshHistory(text string) {
	s.Called(text)
	s.text = text
	s.history = nil
	s.sel = Selection{}
	s.top = 0
	if s.onChange != nil {
		s.onChange(text)
	}
}

func (s *fakeSurface) Selection() Selection       { return s.sel }
func (s *fakeSurface) SetSelection(sel Selection) { s.sel = sel }
func (s *fakeSurface) ScrollTop() float64         { return s.top }
func (s *fakeSurface) SetScrollTop(top float64)   { s.top = top }
func (s *fakeSurface) ViewportHeight() float64    { return s.viewport }

func (s *fakeSurface) ContentHeight() float64 {
	if s.contentHeight > 0 {
		return s.contentHeight
	}
	return float64(strings.Count(s.text, "\n")+1) * lineHeight
}

func (s *fakeSurface) OffsetTop(offset int) float64 {
	if offset > len(s.text) {
		offset = len(s.text)
	}
	return float64(strings.Count(s.text[:offset], "\n")) * lineHeight
}

func (s *fakeSurface) LineAt(top float64) float64 { return top/lineHeight + 1 }

func (s *fakeSurface) Focus()               { s.focused = true }
func (s *fakeSurface) Flash(start, end int) { s.flash = &Selection{Start: start, End: end} }
func (s *fakeSurface) ClearFlash()          { s.flash = nil }

// typeText simulates the user replacing the buffer with an undoable edit.
func (s *fakeSurface) typeText(c *Controller, text string) {
	s.history = append(s.history, s.text)
	s.text = text
	c.SurfaceChanged(text)
}

func (s *fakeSurface) undo() bool {
	if len(s.history) == 0 {
		return false
	}
	s.text = s.history[len(s.history)-1]
	s.history = s.history[:len(s.history)-1]
	return true
}

type storeMock struct {
	mock.Mock
}

func (m *storeMock) Save(ctx context.Context, path, content string) error {
	return m.Called(path, content).Error(0)
}

func (m *storeMock) Rename(ctx context.Context, oldPath, newPath string) (string, error) {
	args := m.Called(oldPath, newPath)
	return args.String(0), args.Error(1)
}

// fakeClock hands out timers that only fire when the test says so.
type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

type fakeTimer struct {
	delay   time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{delay: d, fn: f}
	c.timers = append(c.timers, t)
	return t
}

// fire runs every active timer created so far, in creation order, and
// returns how many ran.
func (c *fakeClock) fire() int {
	c.mu.Lock()
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	for _, t := range due {
		t.fn()
	}
	return len(due)
}

func (c *fakeClock) active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}
