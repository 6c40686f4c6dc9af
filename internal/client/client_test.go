package client

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Paintersrp/quill/internal/handler"
	"github.com/Paintersrp/quill/internal/parser"
	"github.com/Paintersrp/quill/internal/pathutil"
	"github.com/Paintersrp/quill/internal/server"
	"github.com/Paintersrp/quill/internal/state"
	"github.com/Paintersrp/quill/internal/volume"
)

type stubEvents struct {
	ch chan state.Event
}

func (s *stubEvents) Subscribe() (string, <-chan state.Event, func()) {
	return "stub", s.ch, func() {}
}

func newTestClient(t *testing.T, opts ...server.Option) (*Client, string) {
	t.Helper()
	work := t.TempDir()
	return newVolumesClient(t, []volume.Volume{{Name: "workspace", MountPath: work}}, opts...), work
}

func newVolumesClient(t *testing.T, vols []volume.Volume, opts ...server.Option) *Client {
	t.Helper()
	set, err := volume.NewSet(vols...)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts = append([]server.Option{server.WithLogger(logger)}, opts...)
	srv := server.New(handler.NewFileHandler(set, logger), parser.NewRenderer(), opts...)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return New(ts.URL + "/")
}

func TestClientFileLifecycle(t *testing.T) {
	c, work := newTestClient(t)
	ctx := context.Background()

	created, err := c.Create(ctx, "workspace/note.md", "# Note\n")
	require.NoError(t, err)
	assert.Equal(t, "workspace/note.md", created)

	require.NoError(t, c.Save(ctx, created, "# Note\n\nbody\n"))
	doc, err := c.Read(ctx, created)
	require.NoError(t, err)
	assert.Equal(t, "# Note\n\nbody\n", doc.Content)

	renamed, err := c.Rename(ctx, created, "workspace/renamed.md")
	require.NoError(t, err)
	assert.Equal(t, "workspace/renamed.md", renamed)
	assert.FileExists(t, filepath.Join(work, "renamed.md"))

	entries, err := c.List(ctx, "workspace")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "renamed.md", entries[0].Name)

	untitled, err := c.CreateUntitled(ctx, "workspace")
	require.NoError(t, err)
	assert.Equal(t, "workspace/Untitled.md", untitled)

	require.NoError(t, c.Delete(ctx, renamed))
	_, err = os.Stat(filepath.Join(work, "renamed.md"))
	assert.True(t, errors.Is(err, fs.ErrNotExist))

	vols, err := c.Volumes(ctx)
	require.NoError(t, err)
	require.Len(t, vols, 1)
	assert.Equal(t, "workspace", vols[0].Name)
}

func TestClientErrorsUnwrapToSentinels(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	_, err := c.Create(ctx, "workspace/a.md", "")
	require.NoError(t, err)

	_, err = c.Create(ctx, "workspace/a.md", "")
	assert.ErrorIs(t, err, handler.ErrFileAlreadyExists)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, server.CodeFileExists, apiErr.Code)

	_, err = c.Read(ctx, "workspace/../../etc/passwd")
	assert.ErrorIs(t, err, pathutil.ErrPathTraversal)

	_, err = c.Read(ctx, "workspace/missing.md")
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestClientVolumeResolution(t *testing.T) {
	ctx := context.Background()

	single, work := newTestClient(t)
	require.NoError(t, single.Save(ctx, "nowhere/a.md", "x"))
	assert.FileExists(t, filepath.Join(work, "nowhere", "a.md"))

	multi := newVolumesClient(t, []volume.Volume{
		{Name: "workspace", MountPath: t.TempDir()},
		{Name: "docs", MountPath: t.TempDir()},
	})
	err := multi.Save(ctx, "nowhere/a.md", "x")
	assert.ErrorIs(t, err, volume.ErrUnknownVolume)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
}

func TestClientUnknownCodeHasNoSentinel(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer ts.Close()

	err := New(ts.URL).Save(context.Background(), "workspace/a.md", "x")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Equal(t, http.StatusText(http.StatusBadGateway), apiErr.Message)
	assert.Nil(t, errors.Unwrap(err))
}

func TestClientEvents(t *testing.T) {
	src := &stubEvents{ch: make(chan state.Event, 1)}
	c, _ := newTestClient(t, server.WithEvents(src), server.WithKeepAlive(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := c.Events(ctx)
	require.NoError(t, err)

	src.ch <- state.Event{Type: state.EventCreated, Path: "workspace/new.md"}

	select {
	case ev := <-events:
		assert.Equal(t, state.EventCreated, ev.Type)
		assert.Equal(t, "workspace/new.md", ev.Path)
	case <-time.After(5 * time.Second):
		t.Fatal("no event received")
	}

	cancel()
	for range events {
	}
}

func TestClientEventsDisabled(t *testing.T) {
	c, _ := newTestClient(t)

	_, err := c.Events(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotImplemented, apiErr.Status)
}
