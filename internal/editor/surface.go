package editor

// Selection is a byte range in the surface text. Start == End is a cursor.
type Selection struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Clamp keeps the selection inside a text of length n.
func (s Selection) Clamp(n int) Selection {
	clampInt := func(v int) int {
		if v < 0 {
			return 0
		}
		if v > n {
			return n
		}
		return v
	}
	s.Start, s.End = clampInt(s.Start), clampInt(s.End)
	if s.End < s.Start {
		s.End = s.Start
	}
	return s
}

// Surface is the external editing engine. It owns its own buffer, cursor,
// scroll position and undo history.
type Surface interface {
	CurrentText() string
	// ReplaceAll swaps the whole buffer without recording an undo step.
	ReplaceAll(text string)
	// ReplaceRange edits the buffer as a user edit would, undo included.
	ReplaceRange(start, end int, text string)
	// ResetWithFreshHistory recreates the editing state with text and an
	// empty undo history.
	ResetWithFreshHistory(text string)

	Selection() Selection
	SetSelection(sel Selection)

	ScrollTop() float64
	SetScrollTop(top float64)
	ViewportHeight() float64
	ContentHeight() float64
	// OffsetTop is the vertical position of a text offset within the content.
	OffsetTop(offset int) float64
	// LineAt is the fractional source line shown at a vertical position.
	LineAt(top float64) float64

	Focus()
	Flash(start, end int)
	ClearFlash()
}
