// Package scrollsync keeps a rendered preview aligned with the editor viewport
// and maps clicks in the preview back to source offsets.
//
// Caret resolution also backs the server's locate endpoint and the locate
// command. Synchronizer is driven by the host that owns both viewports and
// has no caller inside this module.
package scrollsync

import (
	"sort"

	"github.com/Paintersrp/quill/internal/parser"
)

// Geometry describes a scrollable container.
type Geometry struct {
	ScrollTop    float64 `json:"scrollTop"`
	ScrollHeight float64 `json:"scrollHeight"`
	ClientHeight float64 `json:"clientHeight"`
}

// MaxScroll is the largest valid ScrollTop.
func (g Geometry) MaxScroll() float64 {
	if m := g.ScrollHeight - g.ClientHeight; m > 0 {
		return m
	}
	return 0
}

// Anchor pairs a rendered block's source line with its vertical position,
// measured from the content origin of the scroll container.
type Anchor struct {
	Line float64 `json:"line"`
	Top  float64 `json:"top"`
}

// LineToScrollTop maps an editor line, possibly fractional, to the preview
// scroll position. Without anchors the mapping is proportional to the line
// count. The result includes manualOffset and is clamped to the scrollable
// range.
func LineToScrollTop(line, totalLines float64, anchors []Anchor, g Geometry, manualOffset float64) float64 {
	var target float64
	if len(anchors) == 0 {
		if totalLines > 0 {
			target = line / totalLines * g.MaxScroll()
		}
	} else {
		target = interpolate(line, sortedAnchors(anchors))
	}
	return clamp(target+manualOffset, 0, g.MaxScroll())
}

func sortedAnchors(anchors []Anchor) []Anchor {
	if sort.SliceIsSorted(anchors, func(i, j int) bool { return anchors[i].Line < anchors[j].Line }) {
		return anchors
	}
	sorted := make([]Anchor, len(anchors))
	copy(sorted, anchors)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Line < sorted[j].Line })
	return sorted
}

func interpolate(line float64, anchors []Anchor) float64 {
	first, last := anchors[0], anchors[len(anchors)-1]
	if line <= first.Line {
		return first.Top
	}
	if line >= last.Line {
		return last.Top
	}

	i := sort.Search(len(anchors), func(i int) bool { return anchors[i].Line >= line })
	hi := anchors[i]
	if hi.Line == line {
		return hi.Top
	}
	lo := anchors[i-1]
	if hi.Line == lo.Line {
		return lo.Top
	}
	ratio := (line - lo.Line) / (hi.Line - lo.Line)
	return lo.Top + ratio*(hi.Top-lo.Top)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// AnchorsFromRecords builds anchors for block records from measured element
// tops keyed by record id. Records without a measurement are skipped.
func AnchorsFromRecords(records []parser.Record, tops map[int]float64) []Anchor {
	anchors := make([]Anchor, 0, len(tops))
	for _, rec := range records {
		if !rec.IsBlock || rec.Line <= 0 {
			continue
		}
		top, ok := tops[rec.ID]
		if !ok {
			continue
		}
		anchors = append(anchors, Anchor{Line: float64(rec.Line), Top: top})
	}
	return anchors
}
