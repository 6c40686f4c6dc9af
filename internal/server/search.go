package server

import (
	"context"
	"net/http"
	"strconv"

	"github.com/Paintersrp/quill/internal/search"
)

// handleSearch answers ?q=&tag=&volume=&limit=. Repeated tag parameters
// must all match.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.index == nil {
		writeError(w, http.StatusNotImplemented, CodeNotImplemented, "search is disabled")
		return
	}

	q := r.URL.Query()
	query := search.Query{
		Term:   q.Get("q"),
		Tags:   q["tag"],
		Volume: q.Get("volume"),
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, CodeInvalidParameter, "limit must be a non-negative integer")
			return
		}
		query.Limit = limit
	}

	writeJSON(w, http.StatusOK, s.index.Search(query))
}

func (s *Server) handleTags(w http.ResponseWriter, r *http.Request) {
	if s.index == nil {
		writeError(w, http.StatusNotImplemented, CodeNotImplemented, "search is disabled")
		return
	}
	writeJSON(w, http.StatusOK, s.index.Tags())
}

// handleLinks returns the outbound links and backlinks of ?path=.
func (s *Server) handleLinks(w http.ResponseWriter, r *http.Request) {
	if s.index == nil {
		writeError(w, http.StatusNotImplemented, CodeNotImplemented, "search is disabled")
		return
	}
	p, ok := requirePath(w, r)
	if !ok {
		return
	}
	if _, err := s.files.Resolve(p); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.index.Related(p))
}

// reindex refreshes the search index after a write. Failures only affect
// search results and are logged.
func (s *Server) reindex(ctx context.Context, paths ...string) {
	if s.index == nil {
		return
	}
	for _, p := range paths {
		if err := s.index.Refresh(ctx, p); err != nil {
			s.logger.Warn("failed to refresh search index", "path", p, "err", err)
		}
	}
}
