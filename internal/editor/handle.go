package editor

import (
	"strings"
	"sync"
)

// Direction constrains ScrollToFraction.
type Direction int

const (
	DirectionNone Direction = iota
	DirectionDown
	DirectionUp
)

// Handle is the surface as exposed to UI components. Edits made through it
// are reported to the controller like any other surface edit.
type Handle struct {
	surface    Surface
	controller *Controller

	mu       sync.Mutex
	onScroll []func(line float64)
}

// Handle returns a handle on the controller's surface.
func (c *Controller) Handle() *Handle {
	return &Handle{surface: c.surface, controller: c}
}

func (h *Handle) Focus() { h.surface.Focus() }

func (h *Handle) GetValue() string { return h.surface.CurrentText() }

func (h *Handle) SetSelectionRange(start, end int) {
	n := len(h.surface.CurrentText())
	h.surface.SetSelection(Selection{Start: start, End: end}.Clamp(n))
}

// ReplaceRange edits the buffer with undo and reports the new text.
func (h *Handle) ReplaceRange(start, end int, text string) {
	n := len(h.surface.CurrentText())
	sel := Selection{Start: start, End: end}.Clamp(n)
	h.surface.ReplaceRange(sel.Start, sel.End, text)
	if h.controller != nil {
		h.controller.SurfaceChanged(h.surface.CurrentText())
	}
}

func (h *Handle) GetScrollTop() float64 { return h.surface.ScrollTop() }

func (h *Handle) SetScrollTop(top float64) {
	h.surface.SetScrollTop(h.clampTop(top))
	h.ScrollChanged()
}

// ScrollToOffset scrolls so that offset sits in the middle of the viewport.
func (h *Handle) ScrollToOffset(offset int) {
	top := h.surface.OffsetTop(offset) - h.surface.ViewportHeight()/2
	h.SetScrollTop(top)
}

// ScrollToLineTop scrolls so that the 1-based line is at the top.
func (h *Handle) ScrollToLineTop(line int) {
	h.SetScrollTop(h.surface.OffsetTop(lineOffset(h.surface.CurrentText(), line)))
}

// ScrollToFraction scrolls to fraction of the scrollable range. DirectionDown
// never moves the viewport up and DirectionUp never moves it down. It returns
// the resulting scroll position.
func (h *Handle) ScrollToFraction(fraction float64, dir Direction) float64 {
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	target := fraction * h.maxScroll()
	current := h.surface.ScrollTop()

	switch {
	case dir == DirectionDown && target < current:
		return current
	case dir == DirectionUp && target > current:
		return current
	}
	h.SetScrollTop(target)
	return h.surface.ScrollTop()
}

func (h *Handle) Flash(start, end int) { h.surface.Flash(start, end) }

func (h *Handle) ClearFlash() { h.surface.ClearFlash() }

// OnScrollLine registers fn to receive the fractional top line whenever the
// viewport scrolls.
func (h *Handle) OnScrollLine(fn func(line float64)) {
	h.mu.Lock()
	h.onScroll = append(h.onScroll, fn)
	h.mu.Unlock()
}

// ScrollChanged is called by the host on every viewport scroll.
func (h *Handle) ScrollChanged() {
	h.mu.Lock()
	listeners := append([]func(float64){}, h.onScroll...)
	h.mu.Unlock()
	if len(listeners) == 0 {
		return
	}

	line := h.surface.LineAt(h.surface.ScrollTop())
	for _, fn := range listeners {
		fn(line)
	}
}

func (h *Handle) maxScroll() float64 {
	if m := h.surface.ContentHeight() - h.surface.ViewportHeight(); m > 0 {
		return m
	}
	return 0
}

func (h *Handle) clampTop(top float64) float64 {
	if top < 0 {
		return 0
	}
	if m := h.maxScroll(); top > m {
		return m
	}
	return top
}

// lineOffset returns the byte offset where the 1-based line starts.
func lineOffset(text string, line int) int {
	offset := 0
	for i := 1; i < line; i++ {
		j := strings.IndexByte(text[offset:], '\n')
		if j < 0 {
			return len(text)
		}
		offset += j + 1
	}
	return offset
}
