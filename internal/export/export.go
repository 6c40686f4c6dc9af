// Package export renders workspace documents into standalone files.
package export

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"
	"time"

	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/klauspost/compress/zip"
	highlighting "github.com/yuin/goldmark-highlighting/v2"

	"github.com/Paintersrp/quill/internal/constants"
	"github.com/Paintersrp/quill/internal/handler"
	"github.com/Paintersrp/quill/internal/parser"
)

type Format string

const (
	FormatHTML Format = "html"
	FormatZip  Format = "zip"
	FormatPDF  Format = "pdf"
)

const DefaultStyle = "github"

var (
	// ErrNotImplemented is returned for formats that are recognized but not
	// produced.
	ErrNotImplemented = errors.New("export format not implemented")
	// ErrUnknownFormat is returned for unrecognized formats.
	ErrUnknownFormat = errors.New("unknown export format")
)

// Result is a rendered export ready to be written or served.
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

// Files is the part of the file handler the exporter reads through.
type Files interface {
	Read(volumePath string) (handler.Document, error)
	SiblingImages(documentPath string) ([]handler.Image, error)
}

//go:embed templates/document.html
var templateFS embed.FS

var documentTemplate = template.Must(template.ParseFS(templateFS, "templates/document.html"))

type templateData struct {
	Title     string
	Generator string
	Content   template.HTML
}

type Exporter struct {
	files    Files
	renderer *parser.Renderer
	logger   *slog.Logger
	style    string
	now      func() time.Time
}

type Option func(*Exporter)

// WithStyle selects the chroma style used for code blocks. Unknown names
// fall back to DefaultStyle.
func WithStyle(name string) Option {
	return func(e *Exporter) {
		if _, ok := styles.Registry[strings.ToLower(name)]; ok {
			e.style = strings.ToLower(name)
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Exporter) { e.logger = logger }
}

func NewExporter(files Files, opts ...Option) *Exporter {
	e := &Exporter{
		files:  files,
		logger: slog.Default(),
		style:  DefaultStyle,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	e.renderer = parser.NewRenderer(
		parser.WithoutSourcePositions(),
		parser.WithExtensions(highlighting.NewHighlighting(
			highlighting.WithStyle(e.style),
			highlighting.WithFormatOptions(chromahtml.WithClasses(false)),
		)),
	)
	return e
}

// ParseFormat accepts a format name, case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatHTML, FormatZip, FormatPDF:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

// Export produces the document at volumePath in the given format.
func (e *Exporter) Export(ctx context.Context, volumePath string, format Format) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch format {
	case FormatHTML:
		return e.HTML(volumePath)
	case FormatZip:
		return e.Zip(volumePath)
	case FormatPDF:
		return nil, fmt.Errorf("%w: %s", ErrNotImplemented, format)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// HTML renders a standalone page with inlined styles. The title comes from
// the front matter, the first heading or the file name, in that order.
func (e *Exporter) HTML(volumePath string) (*Result, error) {
	doc, err := e.files.Read(volumePath)
	if err != nil {
		return nil, err
	}

	page, err := e.renderPage(doc)
	if err != nil {
		return nil, err
	}

	return &Result{
		Data:     page,
		Filename: stem(doc.Path) + ".html",
		MimeType: "text/html; charset=utf-8",
	}, nil
}

// Zip bundles the markdown source, the rendered page and the document's
// sibling images, keeping the relative image links valid.
func (e *Exporter) Zip(volumePath string) (*Result, error) {
	doc, err := e.files.Read(volumePath)
	if err != nil {
		return nil, err
	}
	page, err := e.renderPage(doc)
	if err != nil {
		return nil, err
	}
	images, err := e.files.SiblingImages(doc.Path)
	if err != nil {
		return nil, err
	}

	name := stem(doc.Path)
	modified := e.now()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	if err := writeEntry(zw, name+constants.MarkdownExt, modified, strings.NewReader(doc.Content)); err != nil {
		return nil, err
	}
	if err := writeEntry(zw, name+".html", modified, bytes.NewReader(page)); err != nil {
		return nil, err
	}
	for _, img := range images {
		if err := e.addImage(zw, name, img, modified); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finish zip: %w", err)
	}

	e.logger.Info("document exported", "path", doc.Path, "format", FormatZip, "images", len(images), "bytes", buf.Len())
	return &Result{
		Data:     buf.Bytes(),
		Filename: name + ".zip",
		MimeType: "application/zip",
	}, nil
}

func (e *Exporter) renderPage(doc handler.Document) ([]byte, error) {
	fm, body := parser.SplitFrontMatter([]byte(doc.Content))

	title := fm.Title
	if title == "" {
		title = parser.FirstHeading(body)
	}
	if title == "" {
		title = stem(doc.Path)
	}

	rendered, _, err := e.renderer.RenderHTML(body)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	err = documentTemplate.Execute(&buf, templateData{
		Title:     title,
		Generator: constants.AppName + " " + constants.Version,
		Content:   template.HTML(rendered),
	})
	if err != nil {
		return nil, fmt.Errorf("render page: %w", err)
	}
	return buf.Bytes(), nil
}

func (e *Exporter) addImage(zw *zip.Writer, folder string, img handler.Image, modified time.Time) error {
	f, err := os.Open(img.AbsPath)
	if err != nil {
		e.logger.Warn("skipping unreadable image", "path", img.Path, "err", err)
		return nil
	}
	defer f.Close()

	return writeEntry(zw, folder+"/"+path.Base(img.Path), modified, f)
}

func writeEntry(zw *zip.Writer, name string, modified time.Time, r io.Reader) error {
	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: modified,
	})
	if err != nil {
		return fmt.Errorf("add %s: %w", name, err)
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

func stem(volumePath string) string {
	base := path.Base(volumePath)
	return strings.TrimSuffix(base, path.Ext(base))
}
