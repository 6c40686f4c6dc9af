package parser

import (
	"bytes"
	"sort"
	"strconv"

	"github.com/yuin/goldmark/ast"
	east "github.com/yuin/goldmark/extension/ast"
	gparser "github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
)

const (
	AttrLine  = "data-source-line"
	AttrStart = "data-source-start"
	AttrEnd   = "data-source-end"
	AttrID    = "data-source-id"
)

var recordsKey = gparser.NewContextKey()

// positionTransformer decorates the parsed tree with source positions and
// collects the addressable record list into the parser context.
type positionTransformer struct{}

func (positionTransformer) Transform(doc *ast.Document, reader text.Reader, pc gparser.Context) {
	source := reader.Source()
	idx := newLineIndex(source)

	spans := make(map[ast.Node]Span)
	computeSpan(doc, source, spans)

	var records []Record
	ids := make(map[ast.Node]int)

	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering || n.Kind() == ast.KindDocument {
			return ast.WalkContinue, nil
		}

		isBlock := n.Type() == ast.TypeBlock
		isInline := isDesignatedInline(n)
		if !isBlock && !isInline {
			return ast.WalkContinue, nil
		}

		span, ok := spans[n]
		if !ok {
			return ast.WalkContinue, nil
		}

		parentID := -1
		for p := n.Parent(); p != nil; p = p.Parent() {
			if id, ok := ids[p]; ok {
				parentID = id
				break
			}
		}
		if parentID >= 0 {
			span = records[parentID].Span.Clamp(span)
		}

		rec := Record{
			ID:       len(records),
			Kind:     n.Kind().String(),
			Span:     span,
			IsBlock:  isBlock,
			IsInline: isInline,
			Parent:   parentID,
			Text:     plainText(n, source),
		}
		if isInline {
			rec.TextOffset = textOffset(n, source)
		}
		if isBlock {
			rec.Line = idx.lineOf(span.Start)
			n.SetAttributeString(AttrLine, []byte(strconv.Itoa(rec.Line)))
		}
		n.SetAttributeString(AttrStart, []byte(strconv.Itoa(span.Start)))
		n.SetAttributeString(AttrEnd, []byte(strconv.Itoa(span.End)))
		n.SetAttributeString(AttrID, []byte(strconv.Itoa(rec.ID)))

		ids[n] = rec.ID
		records = append(records, rec)
		return ast.WalkContinue, nil
	})

	pc.Set(recordsKey, records)
}

func isDesignatedInline(n ast.Node) bool {
	switch n.Kind() {
	case ast.KindEmphasis, ast.KindLink, ast.KindCodeSpan, east.KindStrikethrough:
		return true
	}
	return false
}

// computeSpan fills spans bottom-up. A parent always covers its children so
// that child spans nest inside parent spans.
func computeSpan(n ast.Node, source []byte, spans map[ast.Node]Span) (Span, bool) {
	var (
		acc   Span
		found bool
	)
	merge := func(s Span) {
		if !found {
			acc, found = s, true
			return
		}
		acc = acc.Union(s)
	}

	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if s, ok := computeSpan(c, source, spans); ok {
			merge(s)
		}
	}

	if own, ok := ownSpan(n, source, spans); ok {
		merge(own)
	}
	if !found {
		return Span{}, false
	}

	if n.Type() == ast.TypeInline {
		acc = widenInline(n, acc, source)
	} else if n.Type() == ast.TypeBlock {
		acc = widenBlock(n, acc, source)
	}
	acc = acc.Clamp(Span{Start: 0, End: len(source)})

	if n.Kind() != ast.KindDocument {
		spans[n] = acc
	}
	return acc, true
}

// ownSpan returns the positions goldmark records directly on the node.
func ownSpan(n ast.Node, source []byte, spans map[ast.Node]Span) (Span, bool) {
	switch v := n.(type) {
	case *ast.Text:
		if v.Segment.Len() == 0 && v.Segment.Start == 0 {
			return Span{}, false
		}
		return Span{Start: v.Segment.Start, End: v.Segment.Stop}, true
	case *ast.RawHTML:
		return segmentsSpan(v.Segments)
	case *ast.AutoLink:
		return autoLinkSpan(v, source, spans)
	case *ast.FencedCodeBlock:
		return fencedSpan(v, source)
	}

	if n.Type() != ast.TypeBlock {
		return Span{}, false
	}
	return segmentsSpan(n.Lines())
}

// autoLinkSpan locates an autolink by its label. goldmark keeps the label
// segment private, so the label is searched for after the previous sibling,
// or from the start of the enclosing block.
func autoLinkSpan(n *ast.AutoLink, source []byte, spans map[ast.Node]Span) (Span, bool) {
	label := n.Label(source)
	if len(label) == 0 {
		return Span{}, false
	}

	from := -1
	for p := n.PreviousSibling(); p != nil; p = p.PreviousSibling() {
		if s, ok := spans[p]; ok {
			from = s.End
			break
		}
	}
	if from < 0 {
		for p := n.Parent(); p != nil; p = p.Parent() {
			if p.Type() == ast.TypeBlock && p.Lines().Len() > 0 {
				from = p.Lines().At(0).Start
				break
			}
		}
	}
	if from < 0 || from > len(source) {
		from = 0
	}

	i := bytes.Index(source[from:], label)
	if i < 0 {
		return Span{}, false
	}
	s := Span{Start: from + i, End: from + i + len(label)}
	if s.Start > 0 && source[s.Start-1] == '<' && s.End < len(source) && source[s.End] == '>' {
		s.Start--
		s.End++
	}
	return s, true
}

func segmentsSpan(lines *text.Segments) (Span, bool) {
	if lines == nil || lines.Len() == 0 {
		return Span{}, false
	}
	first := lines.At(0)
	last := lines.At(lines.Len() - 1)
	return Span{Start: first.Start, End: last.Stop}, true
}

func fencedSpan(n *ast.FencedCodeBlock, source []byte) (Span, bool) {
	var s Span
	switch {
	case n.Info != nil:
		s.Start = lineStart(source, n.Info.Segment.Start)
	case n.Lines().Len() > 0:
		first := n.Lines().At(0).Start
		if first == 0 {
			return Span{}, false
		}
		s.Start = lineStart(source, first-1)
	default:
		return Span{}, false
	}
	s.Start = skipIndent(source, s.Start)

	if n.Lines().Len() > 0 {
		s.End = n.Lines().At(n.Lines().Len() - 1).Stop
	} else {
		s.End = lineEnd(source, s.Start)
	}

	// Cover the closing fence line when one follows.
	if next := s.End; next < len(source) {
		if source[next-1] != '\n' && source[next] == '\n' {
			next++
		}
		rest := source[skipIndent(source, next):]
		if bytes.HasPrefix(rest, []byte("```")) || bytes.HasPrefix(rest, []byte("~~~")) {
			s.End = lineEnd(source, next)
		}
	}
	return s, true
}

func widenBlock(n ast.Node, s Span, source []byte) Span {
	switch n.Kind() {
	case ast.KindHeading, ast.KindList, ast.KindListItem, ast.KindBlockquote:
		// The first character of these blocks is a marker that precedes the
		// first recorded segment on the same line.
		start := skipIndent(source, lineStart(source, s.Start))
		if start < s.Start {
			s.Start = start
		}
	}

	if h, ok := n.(*ast.Heading); ok && s.End < len(source) {
		// ATX closing sequences and setext underlines belong to the heading.
		end := lineEnd(source, s.End)
		if next := end + 1; !isATX(source, s.Start) && h.Level <= 2 && next < len(source) {
			if isSetextUnderline(bytes.TrimSpace(source[next:lineEnd(source, next)])) {
				end = lineEnd(source, next)
			}
		}
		s.End = end
	}

	for s.End > s.Start && s.End <= len(source) && source[s.End-1] == '\n' {
		s.End--
	}
	return s
}

func isATX(source []byte, at int) bool {
	return at < len(source) && source[at] == '#'
}

func isSetextUnderline(line []byte) bool {
	if len(line) == 0 {
		return false
	}
	return len(bytes.Trim(line, "=")) == 0 || len(bytes.Trim(line, "-")) == 0
}

func widenInline(n ast.Node, s Span, source []byte) Span {
	switch v := n.(type) {
	case *ast.Emphasis:
		return widenBy(s, v.Level, source)
	case *ast.CodeSpan:
		start := s.Start
		if start > 0 && source[start-1] == ' ' && start > 1 && source[start-2] == '`' {
			start--
		}
		for start > 0 && source[start-1] == '`' {
			start--
		}
		end := s.End
		if end < len(source) && source[end] == ' ' && end+1 < len(source) && source[end+1] == '`' {
			end++
		}
		for end < len(source) && source[end] == '`' {
			end++
		}
		return Span{Start: start, End: end}
	case *east.Strikethrough:
		start, end := s.Start, s.End
		for start > 0 && source[start-1] == '~' {
			start--
		}
		for end < len(source) && source[end] == '~' {
			end++
		}
		return Span{Start: start, End: end}
	case *ast.Link:
		return linkSpan(s, source)
	}
	return s
}

func widenBy(s Span, n int, source []byte) Span {
	if s.Start-n >= 0 {
		s.Start -= n
	}
	if s.End+n <= len(source) {
		s.End += n
	}
	return s
}

// linkSpan extends link text to the surrounding brackets and destination.
func linkSpan(s Span, source []byte) Span {
	if s.Start > 0 && source[s.Start-1] == '[' {
		s.Start--
	}
	end := s.End
	if end >= len(source) || source[end] != ']' {
		return s
	}
	end++
	if end < len(source) {
		switch source[end] {
		case '(':
			if close := matchClose(source, end, '(', ')'); close > 0 {
				end = close + 1
			}
		case '[':
			if close := matchClose(source, end, '[', ']'); close > 0 {
				end = close + 1
			}
		}
	}
	s.End = end
	return s
}

func matchClose(source []byte, open int, o, c byte) int {
	depth := 0
	for i := open; i < len(source); i++ {
		switch source[i] {
		case '\\':
			i++
		case o:
			depth++
		case c:
			depth--
			if depth == 0 {
				return i
			}
		case '\n':
			if i+1 < len(source) && source[i+1] == '\n' {
				return -1
			}
		}
	}
	return -1
}

func lineStart(source []byte, at int) int {
	if at > len(source) {
		at = len(source)
	}
	if i := bytes.LastIndexByte(source[:at], '\n'); i >= 0 {
		return i + 1
	}
	return 0
}

func lineEnd(source []byte, at int) int {
	if at >= len(source) {
		return len(source)
	}
	if i := bytes.IndexByte(source[at:], '\n'); i >= 0 {
		return at + i
	}
	return len(source)
}

func skipIndent(source []byte, at int) int {
	for at < len(source) && (source[at] == ' ' || source[at] == '\t') {
		at++
	}
	return at
}

// plainText approximates the rendered text content of a node.
func plainText(n ast.Node, source []byte) string {
	text, _ := collectText(n, source, nil)
	return text
}

// textOffset returns where the text of target starts inside the text of its
// innermost enclosing block.
func textOffset(target ast.Node, source []byte) int {
	block := target.Parent()
	for block != nil && block.Type() != ast.TypeBlock {
		block = block.Parent()
	}
	if block == nil {
		return 0
	}
	_, off := collectText(block, source, target)
	return max(off, 0)
}

// collectText concatenates the text under n. When stop is entered during the
// walk its starting offset is returned, otherwise -1.
func collectText(n ast.Node, source []byte, stop ast.Node) (string, int) {
	var buf bytes.Buffer
	at := -1
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if c == stop {
			at = buf.Len()
			return ast.WalkStop, nil
		}
		switch v := c.(type) {
		case *ast.Text:
			buf.Write(v.Segment.Value(source))
			if v.SoftLineBreak() || v.HardLineBreak() {
				buf.WriteByte('\n')
			}
		case *ast.String:
			buf.Write(v.Value)
		case *ast.CodeBlock, *ast.FencedCodeBlock, *ast.HTMLBlock:
			lines := c.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				buf.Write(seg.Value(source))
			}
			return ast.WalkSkipChildren, nil
		case *ast.AutoLink:
			buf.Write(v.Label(source))
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return buf.String(), at
}

type lineIndex struct {
	starts []int
}

func newLineIndex(source []byte) lineIndex {
	starts := []int{0}
	for i, b := range source {
		if b == '\n' {
			starts = append(starts, i+1)
		}
	}
	return lineIndex{starts: starts}
}

// lineOf returns the 1-based line containing offset.
func (l lineIndex) lineOf(offset int) int {
	return sort.Search(len(l.starts), func(i int) bool { return l.starts[i] > offset })
}
