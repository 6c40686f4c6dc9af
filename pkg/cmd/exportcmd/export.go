package exportcmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/spf13/cobra"

	"github.com/Paintersrp/quill/internal/export"
	"github.com/Paintersrp/quill/internal/publish"
	"github.com/Paintersrp/quill/internal/state"
)

type options struct {
	format  string
	output  string
	style   string
	publish bool
	bucket  string
}

func NewCmdExport(s *state.State) *cobra.Command {
	var o options

	cmd := &cobra.Command{
		Use:   "export [volume path]",
		Short: "Export a document as standalone HTML or a zip bundle.",
		Long: heredoc.Doc(`
			Render a document to a standalone HTML page with highlighted code, or
			bundle the markdown, the page and the document's images into a zip.

			With --publish the result is uploaded to the configured S3 bucket
			instead of being written locally.

			Examples:
			  quill export workspace/notes/today.md
			  quill export workspace/notes/today.md --format zip -o today.zip
			  quill export docs/guide.md --publish --bucket my-notes
			  quill export workspace/a.md -o - > a.html
		`),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cmd.OutOrStdout(), s, args[0], o)
		},
	}

	cmd.Flags().StringVarP(&o.format, "format", "f", string(export.FormatHTML), "Export format: html or zip.")
	cmd.Flags().StringVarP(&o.output, "output", "o", "", `Output file, "-" for stdout (defaults to the export filename).`)
	cmd.Flags().StringVar(&o.style, "style", export.DefaultStyle, "Highlighting style for code blocks.")
	cmd.Flags().BoolVar(&o.publish, "publish", false, "Upload the export to S3.")
	cmd.Flags().StringVar(&o.bucket, "bucket", "", "Bucket override for --publish.")

	return cmd
}

func run(ctx context.Context, out io.Writer, s *state.State, path string, o options) error {
	format, err := export.ParseFormat(o.format)
	if err != nil {
		return err
	}

	exporter := export.NewExporter(s.Handler, export.WithStyle(o.style), export.WithLogger(s.Logger))
	res, err := exporter.Export(ctx, path, format)
	if err != nil {
		return err
	}

	if o.publish {
		cfg := s.Config.Export
		if o.bucket != "" {
			cfg.Bucket = o.bucket
		}
		pub, err := publish.New(ctx, cfg, s.Logger)
		if err != nil {
			return err
		}
		location, err := pub.Publish(ctx, res)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, location)
		return nil
	}

	return write(out, res, o.output)
}

func write(out io.Writer, res *export.Result, target string) error {
	if target == "-" {
		_, err := out.Write(res.Data)
		return err
	}
	if target == "" {
		target = res.Filename
	}

	if dir := filepath.Dir(target); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output folder: %w", err)
		}
	}
	if err := os.WriteFile(target, res.Data, 0o644); err != nil {
		return fmt.Errorf("failed to write export: %w", err)
	}

	fmt.Fprintf(out, "Exported %s (%d bytes)\n", target, len(res.Data))
	return nil
}
