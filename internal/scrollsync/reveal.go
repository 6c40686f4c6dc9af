package scrollsync

import (
	"time"

	"github.com/Paintersrp/quill/internal/constants"
)

// RevealTarget is the part of the editing surface used to show a resolved
// click.
type RevealTarget interface {
	Focus()
	// ScrollToOffset scrolls so that offset is vertically centered.
	ScrollToOffset(offset int)
	SetSelectionRange(start, end int)
	Flash(start, end int)
	ClearFlash()
}

// Reveal centers offset in the surface, moves the cursor there and flashes
// length bytes for d (constants.FlashDuration when d is zero). The returned
// timer clears the flash; stopping it leaves the highlight in place.
func Reveal(t RevealTarget, offset, length int, d time.Duration) *time.Timer {
	if t == nil {
		return nil
	}
	if d <= 0 {
		d = constants.FlashDuration
	}

	t.ScrollToOffset(offset)
	t.SetSelectionRange(offset, offset)
	t.Focus()
	t.Flash(offset, offset+length)

	return time.AfterFunc(d, t.ClearFlash)
}
