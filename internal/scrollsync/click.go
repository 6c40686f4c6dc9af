package scrollsync

import (
	"bytes"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/Paintersrp/quill/internal/parser"
)

// Caret is the text position under a point: the innermost record containing
// it and a byte offset into that record's Text.
type Caret struct {
	RecordID   int `json:"recordId"`
	TextOffset int `json:"textOffset"`
}

// CaretResolver resolves a point in the preview to a text position. It
// reports false when the host cannot resolve carets.
type CaretResolver interface {
	CaretAt(x, y float64) (Caret, bool)
}

// Preview is a rendered document the user can click on.
type Preview interface {
	Viewport
	CaretResolver
	Records() []parser.Record
}

// ClickTarget is where a click in the preview lands in the source.
type ClickTarget struct {
	Offset int            `json:"offset"`
	Exact  bool           `json:"exact"`
	Word   string         `json:"word"`
	Block  parser.Record  `json:"block"`
	Inline *parser.Record `json:"inline,omitempty"`
}

// ResolveClick maps a point in the preview to a source offset. It reports
// false when nothing could be resolved, in which case the caller should do
// nothing.
func ResolveClick(p Preview, source []byte, x, y float64) (ClickTarget, bool) {
	if p == nil {
		return ClickTarget{}, false
	}
	caret, ok := p.CaretAt(x, y)
	if !ok {
		return ClickTarget{}, false
	}
	return ResolveCaret(p.Records(), source, caret)
}

// ResolveCaret performs the record walk and word search for a resolved caret.
func ResolveCaret(records []parser.Record, source []byte, caret Caret) (ClickTarget, bool) {
	if caret.RecordID < 0 || caret.RecordID >= len(records) {
		return ClickTarget{}, false
	}
	hit := records[caret.RecordID]

	var (
		block  parser.Record
		inline *parser.Record
		found  bool
	)
	for cur, ok := hit, true; ok; cur, ok = parent(records, cur) {
		if cur.IsBlock {
			block, found = cur, true
			break
		}
		if cur.IsInline && inline == nil {
			rec := cur
			inline = &rec
		}
	}
	if !found {
		return ClickTarget{}, false
	}

	target := ClickTarget{Offset: block.Span.Start, Block: block, Inline: inline}

	word, wordStart := ExtractWord(hit.Text, caret.TextOffset)
	if word == "" {
		return target, true
	}
	target.Word = word

	// Position of the word inside the block's text.
	blockPos := wordStart
	if !hit.IsBlock {
		blockPos += hit.TextOffset
	}
	n := OccurrenceIndex(block.Text, word, blockPos)

	start, end := block.Span.Start, block.Span.End
	if start < 0 || end > len(source) || start > end {
		return target, true
	}
	slice := source[start:end]

	idx := FindNthOccurrence(slice, word, n)
	if idx < 0 {
		idx = FindNthStripped(slice, word, n)
	}
	if idx >= 0 {
		target.Offset = start + idx
		target.Exact = true
	}
	return target, true
}

func parent(records []parser.Record, rec parser.Record) (parser.Record, bool) {
	if rec.Parent < 0 || rec.Parent >= len(records) {
		return parser.Record{}, false
	}
	return records[rec.Parent], true
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// ExtractWord returns the run of letters and digits around offset in text and
// the byte offset where it starts.
func ExtractWord(text string, offset int) (string, int) {
	if offset < 0 {
		offset = 0
	}
	if offset > len(text) {
		offset = len(text)
	}
	for offset > 0 && offset < len(text) && !utf8.RuneStart(text[offset]) {
		offset--
	}

	start := offset
	for start > 0 {
		r, size := utf8.DecodeLastRuneInString(text[:start])
		if !isWordRune(r) {
			break
		}
		start -= size
	}

	end := offset
	for end < len(text) {
		r, size := utf8.DecodeRuneInString(text[end:])
		if !isWordRune(r) {
			break
		}
		end += size
	}

	return text[start:end], start
}

// OccurrenceIndex counts the occurrences of word in text that start before
// pos.
func OccurrenceIndex(text, word string, pos int) int {
	if word == "" {
		return 0
	}
	n := 0
	for i := 0; i < pos && i < len(text); {
		j := strings.Index(text[i:], word)
		if j < 0 || i+j >= pos {
			break
		}
		n++
		i += j + len(word)
	}
	return n
}

// FindNthOccurrence returns the offset of the zero-based nth occurrence of
// word in slice, or -1.
func FindNthOccurrence(slice []byte, word string, n int) int {
	if word == "" || n < 0 {
		return -1
	}
	w := []byte(word)
	from := 0
	for {
		j := bytes.Index(slice[from:], w)
		if j < 0 {
			return -1
		}
		if n == 0 {
			return from + j
		}
		n--
		from += j + len(w)
	}
}

const inlineMarkup = "*_`~[]"

// FindNthStripped searches for the nth occurrence of word after removing
// inline markup characters from slice, and maps the match back to an offset
// in the original slice. It returns -1 when there is no match.
func FindNthStripped(slice []byte, word string, n int) int {
	stripped := make([]byte, 0, len(slice))
	origin := make([]int, 0, len(slice))
	for i, b := range slice {
		if strings.IndexByte(inlineMarkup, b) >= 0 {
			continue
		}
		stripped = append(stripped, b)
		origin = append(origin, i)
	}

	idx := FindNthOccurrence(stripped, word, n)
	if idx < 0 {
		return -1
	}
	return origin[idx]
}
