package serve

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Paintersrp/quill/internal/export"
	"github.com/Paintersrp/quill/internal/search"
	"github.com/Paintersrp/quill/internal/server"
	"github.com/Paintersrp/quill/internal/state"
)

type options struct {
	addr      string
	noWatch   bool
	noSearch  bool
	style     string
	cacheSize int
}

func NewCmdServe(s *state.State) *cobra.Command {
	var o options

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the configured volumes over HTTP.",
		Long: heredoc.Doc(`
			Start the HTTP backend. Files in every volume are listed, read,
			saved and renamed through /api/files, the preview is rendered with
			source positions through /api/files/render, and changes made on
			disk are streamed to clients through /api/files/events.

			Examples:
			  quill serve
			  quill serve --addr 127.0.0.1:8080 --no-watch
		`),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, s, o)
		},
	}

	cmd.Flags().StringVar(&o.addr, "addr", "", "Listen address (defaults to the configured addr).")
	cmd.Flags().BoolVar(&o.noWatch, "no-watch", false, "Disable the filesystem change stream.")
	cmd.Flags().BoolVar(&o.noSearch, "no-search", false, "Disable the search index.")
	cmd.Flags().StringVar(&o.style, "style", export.DefaultStyle, "Highlighting style for exported documents.")
	cmd.Flags().IntVar(&o.cacheSize, "render-cache", 64, "Number of rendered documents to keep in memory.")

	return cmd
}

func run(ctx context.Context, s *state.State, o options) error {
	addr := o.addr
	if addr == "" {
		addr = s.Config.Addr
	}

	opts := []server.Option{
		server.WithLogger(s.Logger),
		server.WithRenderCacheSize(o.cacheSize),
		server.WithExporter(export.NewExporter(
			s.Handler,
			export.WithStyle(o.style),
			export.WithLogger(s.Logger),
		)),
	}

	var idx *search.Index
	if !o.noSearch {
		idx = search.NewIndex(s.Volumes, search.Config{
			EnableBody:     s.Config.Search.Body,
			IgnoredFolders: s.Config.Search.Ignore,
		}, s.Logger)
		if err := idx.Build(ctx); err != nil {
			return err
		}
		opts = append(opts, server.WithSearch(idx))
	}

	g, ctx := errgroup.WithContext(ctx)

	if !o.noWatch {
		watcher, err := s.StartWatcher()
		if err != nil {
			return err
		}
		if idx != nil {
			watcher.OnChange(func(ev state.Event) {
				if err := idx.Refresh(ctx, ev.Path); err != nil {
					s.Logger.Warn("failed to refresh search index", "path", ev.Path, "err", err)
				}
			})
		}
		opts = append(opts, server.WithEvents(watcher))
		g.Go(func() error {
			return watcher.Run(ctx)
		})
	}

	srv := server.New(s.Handler, s.Renderer, opts...)
	g.Go(func() error {
		return srv.ListenAndServe(ctx, addr)
	})

	return g.Wait()
}
