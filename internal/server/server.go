// Package server exposes the workspace over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Paintersrp/quill/internal/cache"
	"github.com/Paintersrp/quill/internal/constants"
	"github.com/Paintersrp/quill/internal/export"
	"github.com/Paintersrp/quill/internal/handler"
	"github.com/Paintersrp/quill/internal/parser"
	"github.com/Paintersrp/quill/internal/search"
	"github.com/Paintersrp/quill/internal/state"
)

const (
	// maxBodyBytes bounds JSON request bodies.
	maxBodyBytes = 16 << 20
	// maxUploadBytes bounds image uploads.
	maxUploadBytes = 32 << 20

	shutdownTimeout = 5 * time.Second

	defaultRenderCacheSize = 64
)

// EventSource feeds the change stream.
type EventSource interface {
	Subscribe() (string, <-chan state.Event, func())
}

type Server struct {
	files     *handler.FileHandler
	renderer  *parser.Renderer
	exporter  *export.Exporter
	index     *search.Index
	events    EventSource
	logger    *slog.Logger
	keepAlive time.Duration

	cacheSize int
	rendered  *cache.LRU[string, rendered]
}

type Option func(*Server)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithEvents enables GET /api/files/events.
func WithEvents(src EventSource) Option {
	return func(s *Server) { s.events = src }
}

func WithExporter(e *export.Exporter) Option {
	return func(s *Server) { s.exporter = e }
}

// WithSearch enables the search routes. Writes made through the server
// refresh the index.
func WithSearch(idx *search.Index) Option {
	return func(s *Server) { s.index = idx }
}

// WithRenderCacheSize bounds the number of rendered documents kept, keyed by
// content.
func WithRenderCacheSize(n int) Option {
	return func(s *Server) { s.cacheSize = n }
}

// WithKeepAlive sets the interval of comment frames on the event stream.
func WithKeepAlive(d time.Duration) Option {
	return func(s *Server) { s.keepAlive = d }
}

func New(files *handler.FileHandler, renderer *parser.Renderer, opts ...Option) *Server {
	s := &Server{
		files:     files,
		renderer:  renderer,
		logger:    slog.Default(),
		keepAlive: 15 * time.Second,
		cacheSize: defaultRenderCacheSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.rendered = cache.New[string, rendered](s.cacheSize)
	if s.renderer == nil {
		s.renderer = parser.NewRenderer()
	}
	if s.exporter == nil {
		s.exporter = export.NewExporter(files, export.WithLogger(s.logger))
	}
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/files", func(r chi.Router) {
			r.Get("/list", s.handleList)
			r.Get("/read", s.handleRead)
			r.Post("/save", s.handleSave)
			r.Post("/create", s.handleCreate)
			r.Post("/untitled", s.handleCreateUntitled)
			r.Delete("/delete", s.handleDelete)
			r.Put("/rename", s.handleRename)
			r.Get("/volumes", s.handleVolumes)
			r.Get("/render", s.handleRender)
			r.Get("/events", s.handleEvents)
			r.Get("/links", s.handleLinks)
		})

		r.Get("/search", s.handleSearch)
		r.Get("/search/tags", s.handleTags)

		r.Post("/sync/locate", s.handleLocate)
		r.Get("/sync/block", s.handleBlock)

		r.Get("/images", s.handleImage)
		r.Post("/images/import", s.handleImportImage)
		r.Post("/images/upload", s.handleUploadImage)

		r.Get("/export/{format}", s.handleExport)
	})

	return r
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", addr, "version", constants.Version)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen on %s: %w", addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]any{
		"ok":          true,
		"version":     constants.Version,
		"volumes":     len(s.files.Volumes()),
		"renderCache": s.rendered.Stats(),
	}
	if s.index != nil {
		health["indexed"] = s.index.Len()
	}
	writeJSON(w, http.StatusOK, health)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		w.Header().Set(middleware.RequestIDHeader, middleware.GetReqID(r.Context()))
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Info("request",
			"request_id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(started),
		)
	})
}

// fail writes the mapped error response and logs server errors.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError && status != http.StatusNotImplemented {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	}
	writeError(w, status, code, errorMessage(err, status))
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"code":  code,
		"error": message,
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, target any) error {
	if r.Body == nil {
		return errors.New("missing JSON body")
	}
	defer r.Body.Close()

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(target); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}
