package server

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/Paintersrp/quill/internal/constants"
	"github.com/Paintersrp/quill/internal/handler"
	"github.com/Paintersrp/quill/internal/parser"
	"github.com/Paintersrp/quill/internal/scrollsync"
)

type renderResponse struct {
	Path    string          `json:"path"`
	HTML    string          `json:"html"`
	Records []parser.Record `json:"records"`
	Lines   int             `json:"lines"`
}

type locateRequest struct {
	Path       string  `json:"path"`
	Content    *string `json:"content"`
	RecordID   int     `json:"recordId"`
	TextOffset int     `json:"textOffset"`
}

type locateResponse struct {
	Offset  int    `json:"offset"`
	Line    int    `json:"line"`
	Exact   bool   `json:"exact"`
	Word    string `json:"word,omitempty"`
	BlockID int    `json:"blockId"`
}

type blockResponse struct {
	Record parser.Record `json:"record"`
	Offset int           `json:"offset"`
}

// rendered is a cached render of one source text. Documents are read-only
// once cached.
type rendered struct {
	html string
	doc  *parser.Document
}

// render parses and renders source, reusing the result for identical
// content.
func (s *Server) render(source string) (rendered, error) {
	sum := sha256.Sum256([]byte(source))
	key := hex.EncodeToString(sum[:])
	if hit, ok := s.rendered.Get(key); ok {
		return hit, nil
	}

	html, doc, err := s.renderer.RenderHTML([]byte(source))
	if err != nil {
		return rendered{}, err
	}
	out := rendered{html: html, doc: doc}
	s.rendered.Put(key, out)
	return out, nil
}

// handleRender returns the rendered document with its record list.
func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePath(w, r)
	if !ok {
		return
	}
	doc, err := s.readMarkdown(p)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	out, err := s.render(doc.Content)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, renderResponse{
		Path:    doc.Path,
		HTML:    out.html,
		Records: out.doc.Records,
		Lines:   out.doc.LineCount(),
	})
}

// handleLocate maps a caret in the rendered output back to a source offset
// for clients that do not keep the record list themselves.
func (s *Server) handleLocate(w http.ResponseWriter, r *http.Request) {
	var body locateRequest
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidBody, err.Error())
		return
	}

	var source string
	switch {
	case body.Content != nil:
		source = *body.Content
	case strings.TrimSpace(body.Path) != "":
		doc, err := s.readMarkdown(body.Path)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		source = doc.Content
	default:
		writeError(w, http.StatusBadRequest, CodeInvalidParameter, "path or content is required")
		return
	}

	out, err := s.render(source)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	parsed := out.doc
	target, ok := scrollsync.ResolveCaret(parsed.Records, parsed.Source, scrollsync.Caret{
		RecordID:   body.RecordID,
		TextOffset: body.TextOffset,
	})
	if !ok {
		writeError(w, http.StatusBadRequest, CodeInvalidParameter, fmt.Sprintf("no record %d", body.RecordID))
		return
	}

	writeJSON(w, http.StatusOK, locateResponse{
		Offset:  target.Offset,
		Line:    parsed.LineOf(target.Offset),
		Exact:   target.Exact,
		Word:    target.Word,
		BlockID: target.Block.ID,
	})
}

// handleBlock returns the block that owns a source line.
func (s *Server) handleBlock(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePath(w, r)
	if !ok {
		return
	}
	line, err := strconv.Atoi(r.URL.Query().Get("line"))
	if err != nil || line < 1 {
		writeError(w, http.StatusBadRequest, CodeInvalidParameter, "line must be a positive integer")
		return
	}

	doc, err := s.readMarkdown(p)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out, err := s.render(doc.Content)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	rec, ok := out.doc.BlockAt(line)
	if !ok {
		writeError(w, http.StatusNotFound, CodeNotFound, fmt.Sprintf("no block at line %d", line))
		return
	}
	writeJSON(w, http.StatusOK, blockResponse{Record: rec, Offset: rec.Span.Start})
}

func (s *Server) readMarkdown(volumePath string) (handler.Document, error) {
	if !strings.EqualFold(path.Ext(volumePath), constants.MarkdownExt) {
		return handler.Document{}, fmt.Errorf("%w: %s", handler.ErrNotMarkdown, volumePath)
	}
	return s.files.Read(volumePath)
}
