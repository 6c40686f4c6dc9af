// Package parser builds the source-position index of a markdown document and
// renders HTML whose elements carry their source spans.
package parser

import (
	"bytes"
	"fmt"
	"io"
	"sort"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	gparser "github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
)

// Span is a half-open byte range [Start, End) into the document source.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

func (s Span) Len() int { return s.End - s.Start }

// Contains reports whether offset falls inside the span.
func (s Span) Contains(offset int) bool {
	return offset >= s.Start && offset < s.End
}

// Union returns the smallest span covering both s and o.
func (s Span) Union(o Span) Span {
	if o.Start < s.Start {
		s.Start = o.Start
	}
	if o.End > s.End {
		s.End = o.End
	}
	return s
}

// Clamp restricts o to lie within s.
func (s Span) Clamp(o Span) Span {
	if o.Start < s.Start {
		o.Start = s.Start
	}
	if o.Start > s.End {
		o.Start = s.End
	}
	if o.End > s.End {
		o.End = s.End
	}
	if o.End < o.Start {
		o.End = o.Start
	}
	return o
}

// Record is one addressable node of the rendered document. Parent is -1 for
// top-level blocks. TextOffset locates an inline record's Text inside the
// Text of its innermost enclosing block.
type Record struct {
	ID         int    `json:"id"`
	Kind       string `json:"kind"`
	Span       Span   `json:"span"`
	Line       int    `json:"line,omitempty"`
	IsBlock    bool   `json:"isBlock"`
	IsInline   bool   `json:"isInline"`
	Parent     int    `json:"parent"`
	Text       string `json:"text"`
	TextOffset int    `json:"textOffset"`
}

type Document struct {
	Source  []byte
	Root    ast.Node
	Records []Record

	lines lineIndex
}

// LineCount returns the number of source lines. A trailing newline ends the
// last line rather than starting an empty one.
func (d *Document) LineCount() int {
	n := len(d.lines.starts)
	if n > 1 && d.lines.starts[n-1] == len(d.Source) {
		n--
	}
	return n
}

// LineOf returns the 1-based line containing offset.
func (d *Document) LineOf(offset int) int {
	return d.lines.lineOf(offset)
}

// Record returns the record with the given id.
func (d *Document) Record(id int) (Record, bool) {
	if id < 0 || id >= len(d.Records) {
		return Record{}, false
	}
	return d.Records[id], true
}

// BlockAt returns the innermost block starting at or before line. Lines
// between blocks resolve to the nearest preceding block.
func (d *Document) BlockAt(line int) (Record, bool) {
	var (
		best  Record
		found bool
	)
	for _, rec := range d.Records {
		if !rec.IsBlock || rec.Line > line {
			continue
		}
		// Records are in document order, so on equal lines the later one is
		// nested deeper.
		if !found || rec.Line >= best.Line {
			best, found = rec, true
		}
	}
	return best, found
}

// Ancestors returns the chain of records enclosing id, innermost first.
func (d *Document) Ancestors(id int) []Record {
	rec, ok := d.Record(id)
	if !ok {
		return nil
	}
	var chain []Record
	for rec.Parent >= 0 {
		rec = d.Records[rec.Parent]
		chain = append(chain, rec)
	}
	return chain
}

// EnclosingBlock returns the nearest block record at or above id.
func (d *Document) EnclosingBlock(id int) (Record, bool) {
	rec, ok := d.Record(id)
	if !ok {
		return Record{}, false
	}
	if rec.IsBlock {
		return rec, true
	}
	for _, a := range d.Ancestors(id) {
		if a.IsBlock {
			return a, true
		}
	}
	return Record{}, false
}

// Lines returns the 1-based start line of every block, sorted and unique.
func (d *Document) Lines() []int {
	seen := make(map[int]struct{})
	var lines []int
	for _, rec := range d.Records {
		if !rec.IsBlock {
			continue
		}
		if _, ok := seen[rec.Line]; ok {
			continue
		}
		seen[rec.Line] = struct{}{}
		lines = append(lines, rec.Line)
	}
	sort.Ints(lines)
	return lines
}

type Renderer struct {
	md goldmark.Markdown
}

type Option func(*options)

type options struct {
	extensions []goldmark.Extender
	positions  bool
}

// WithExtensions adds goldmark extensions, for example syntax highlighting
// in exports.
func WithExtensions(ext ...goldmark.Extender) Option {
	return func(o *options) { o.extensions = append(o.extensions, ext...) }
}

// WithoutSourcePositions renders plain HTML: no records are collected, no
// data-source attributes are written and goldmark's own code block renderers
// stay in place so highlighting extensions can take them over.
func WithoutSourcePositions() Option {
	return func(o *options) { o.positions = false }
}

func NewRenderer(opts ...Option) *Renderer {
	o := &options{positions: true}
	for _, opt := range opts {
		opt(o)
	}

	var (
		parserOpts   []gparser.Option
		rendererOpts []renderer.Option
	)
	if o.positions {
		parserOpts = append(parserOpts,
			gparser.WithASTTransformers(util.Prioritized(positionTransformer{}, 999)))
		rendererOpts = append(rendererOpts,
			renderer.WithNodeRenderers(util.Prioritized(&codeBlockRenderer{}, 100)))
	}

	exts := append([]goldmark.Extender{extension.GFM}, o.extensions...)
	md := goldmark.New(
		goldmark.WithExtensions(exts...),
		goldmark.WithParserOptions(parserOpts...),
		goldmark.WithRendererOptions(rendererOpts...),
	)
	return &Renderer{md: md}
}

// Parse builds the decorated tree and the record list for source.
func (r *Renderer) Parse(source []byte) *Document {
	pc := gparser.NewContext()
	root := r.md.Parser().Parse(text.NewReader(source), gparser.WithContext(pc))

	records, _ := pc.Get(recordsKey).([]Record)
	return &Document{
		Source:  source,
		Root:    root,
		Records: records,
		lines:   newLineIndex(source),
	}
}

// Render writes the HTML of doc.
func (r *Renderer) Render(w io.Writer, doc *Document) error {
	if err := r.md.Renderer().Render(w, doc.Source, doc.Root); err != nil {
		return fmt.Errorf("render markdown: %w", err)
	}
	return nil
}

// RenderHTML parses and renders source in one step.
func (r *Renderer) RenderHTML(source []byte) (string, *Document, error) {
	doc := r.Parse(source)
	var buf bytes.Buffer
	if err := r.Render(&buf, doc); err != nil {
		return "", nil, err
	}
	return buf.String(), doc, nil
}

var defaultRenderer = NewRenderer()

// Parse uses the default renderer.
func Parse(source []byte) *Document {
	return defaultRenderer.Parse(source)
}

// RenderHTML uses the default renderer.
func RenderHTML(source []byte) (string, []Record, error) {
	html, doc, err := defaultRenderer.RenderHTML(source)
	if err != nil {
		return "", nil, err
	}
	return html, doc.Records, nil
}

// LineOf returns the 1-based line of offset in source.
func LineOf(source []byte, offset int) int {
	if offset > len(source) {
		offset = len(source)
	}
	if offset < 0 {
		offset = 0
	}
	return 1 + bytes.Count(source[:offset], []byte("\n"))
}
