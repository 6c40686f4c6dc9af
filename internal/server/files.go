package server

import (
	"net/http"
	"strings"
)

type saveRequest struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

type renameRequest struct {
	OldPath string `json:"oldPath"`
	NewPath string `json:"newPath"`
}

type pathResponse struct {
	Success bool   `json:"success"`
	Path    string `json:"path"`
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	entries, err := s.files.List(r.URL.Query().Get("path"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePath(w, r)
	if !ok {
		return
	}
	doc, err := s.files.Read(p)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	var body saveRequest
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidBody, err.Error())
		return
	}
	if strings.TrimSpace(body.Path) == "" {
		writeError(w, http.StatusBadRequest, CodeInvalidParameter, "path is required")
		return
	}

	p, err := s.files.Save(body.Path, body.Content)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.reindex(r.Context(), p)
	writeJSON(w, http.StatusOK, pathResponse{Success: true, Path: p})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var body saveRequest
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidBody, err.Error())
		return
	}
	if strings.TrimSpace(body.Path) == "" {
		writeError(w, http.StatusBadRequest, CodeInvalidParameter, "path is required")
		return
	}

	p, err := s.files.Create(body.Path, body.Content)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.reindex(r.Context(), p)
	writeJSON(w, http.StatusCreated, pathResponse{Success: true, Path: p})
}

// handleCreateUntitled creates an empty auto-named document in the folder
// given by ?path=.
func (s *Server) handleCreateUntitled(w http.ResponseWriter, r *http.Request) {
	p, err := s.files.CreateUntitled(r.URL.Query().Get("path"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.reindex(r.Context(), p)
	writeJSON(w, http.StatusCreated, pathResponse{Success: true, Path: p})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePath(w, r)
	if !ok {
		return
	}
	if err := s.files.Delete(p); err != nil {
		s.fail(w, r, err)
		return
	}
	s.reindex(r.Context(), p)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleRename(w http.ResponseWriter, r *http.Request) {
	var body renameRequest
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidBody, err.Error())
		return
	}
	if strings.TrimSpace(body.OldPath) == "" || strings.TrimSpace(body.NewPath) == "" {
		writeError(w, http.StatusBadRequest, CodeInvalidParameter, "oldPath and newPath are required")
		return
	}

	p, err := s.files.Rename(body.OldPath, body.NewPath)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.reindex(r.Context(), body.OldPath, p)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "newPath": p})
}

func (s *Server) handleVolumes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.files.Volumes())
}

func requirePath(w http.ResponseWriter, r *http.Request) (string, bool) {
	p := r.URL.Query().Get("path")
	if strings.TrimSpace(p) == "" {
		writeError(w, http.StatusBadRequest, CodeInvalidParameter, "path is required")
		return "", false
	}
	return p, true
}
