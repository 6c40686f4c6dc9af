package server

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Paintersrp/quill/internal/export"
)

type importRequest struct {
	DocumentPath string `json:"documentPath"`
	SourcePath   string `json:"sourcePath"`
}

// handleImage serves an allow-listed image. The content type comes from the
// extension, never from the file contents.
func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePath(w, r)
	if !ok {
		return
	}
	img, err := s.files.Image(p)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	f, err := os.Open(img.AbsPath)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		s.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", img.ContentType)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	http.ServeContent(w, r, "", info.ModTime(), f)
}

func (s *Server) handleImportImage(w http.ResponseWriter, r *http.Request) {
	var body importRequest
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidBody, err.Error())
		return
	}
	if strings.TrimSpace(body.DocumentPath) == "" || strings.TrimSpace(body.SourcePath) == "" {
		writeError(w, http.StatusBadRequest, CodeInvalidParameter, "documentPath and sourcePath are required")
		return
	}

	imported, err := s.files.ImportImage(body.DocumentPath, body.SourcePath)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, imported)
}

// handleUploadImage stores a multipart "file" next to the document given by
// ?path=.
func (s *Server) handleUploadImage(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePath(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidBody, fmt.Sprintf("read upload: %v", err))
		return
	}
	defer file.Close()

	imported, err := s.files.UploadImage(p, header.Filename, file)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, CodeInvalidBody, err.Error())
			return
		}
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, imported)
}

// handleExport streams an export as a download.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	format, err := export.ParseFormat(chi.URLParam(r, "format"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if format == export.FormatPDF {
		s.fail(w, r, fmt.Errorf("%w: %s", export.ErrNotImplemented, format))
		return
	}

	p, ok := requirePath(w, r)
	if !ok {
		return
	}
	res, err := s.exporter.Export(r.Context(), p, format)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", res.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", res.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Data)
}
