package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Paintersrp/quill/internal/cache"
	"github.com/Paintersrp/quill/internal/handler"
	"github.com/Paintersrp/quill/internal/parser"
	"github.com/Paintersrp/quill/internal/search"
	"github.com/Paintersrp/quill/internal/volume"
)

func newSearchServer(t *testing.T) testServer {
	t.Helper()
	work := t.TempDir()
	set, err := volume.NewSet(volume.Volume{Name: "workspace", MountPath: work})
	require.NoError(t, err)

	writeFile(t, filepath.Join(work, "hub.md"), "---\ntags: [go]\n---\n# Hub\n\nsee [[spoke]]\n")
	writeFile(t, filepath.Join(work, "spoke.md"), "# Spoke\n\nplain body\n")

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	idx := search.NewIndex(set, search.Config{EnableBody: true}, logger)
	require.NoError(t, idx.Build(context.Background()))

	srv := New(handler.NewFileHandler(set, logger), parser.NewRenderer(), WithLogger(logger), WithSearch(idx))
	return testServer{handler: srv.Handler(), work: work}
}

func TestSearchEndpoints(t *testing.T) {
	ts := newSearchServer(t)

	rec := ts.do(t, http.MethodGet, "/api/search?q=spoke", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	results := decode[[]search.Result](t, rec)
	require.Len(t, results, 2)
	assert.Equal(t, "workspace/hub.md", results[0].Path)
	assert.Equal(t, "links", results[0].MatchFrom)
	assert.Equal(t, "title", results[1].MatchFrom)

	rec = ts.do(t, http.MethodGet, "/api/search?tag=go", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]search.Result](t, rec), 1)

	rec = ts.do(t, http.MethodGet, "/api/search?q=x&limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/search/tags", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]int{"go": 1}, decode[map[string]int](t, rec))

	rec = ts.do(t, http.MethodGet, "/api/files/links?path="+q("workspace/spoke.md"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"workspace/hub.md"}, decode[search.Related](t, rec).Backlinks)

	rec = ts.do(t, http.MethodGet, "/api/files/links?path="+q("../etc"), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWritesRefreshSearchIndex(t *testing.T) {
	ts := newSearchServer(t)

	rec := ts.do(t, http.MethodPost, "/api/files/create", map[string]string{
		"path":    "workspace/new.md",
		"content": "mentions a platypus\n",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/search?q=platypus", nil)
	require.Len(t, decode[[]search.Result](t, rec), 1)

	rec = ts.do(t, http.MethodPut, "/api/files/rename", map[string]string{
		"oldPath": "workspace/new.md",
		"newPath": "workspace/moved.md",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/search?q=platypus", nil)
	results := decode[[]search.Result](t, rec)
	require.Len(t, results, 1)
	assert.Equal(t, "workspace/moved.md", results[0].Path)

	rec = ts.do(t, http.MethodDelete, "/api/files/delete?path="+q("workspace/moved.md"), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/search?q=platypus", nil)
	assert.Empty(t, decode[[]search.Result](t, rec))
}

func TestSearchDisabled(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/search?q=x", nil)
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestRenderCacheReusesIdenticalContent(t *testing.T) {
	ts := newTestServer(t)
	writeFile(t, filepath.Join(ts.work, "a.md"), "# Same\n")
	writeFile(t, filepath.Join(ts.work, "b.md"), "# Same\n")

	for _, p := range []string{"workspace/a.md", "workspace/b.md"} {
		rec := ts.do(t, http.MethodGet, "/api/files/render?path="+q(p), nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := ts.do(t, http.MethodGet, "/api/health", nil)
	health := decode[struct {
		RenderCache cache.Stats `json:"renderCache"`
	}](t, rec)
	assert.Equal(t, cache.Stats{Len: 1, Hits: 1, Misses: 1}, health.RenderCache)
}
