package locate

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/Paintersrp/quill/internal/parser"
	"github.com/Paintersrp/quill/internal/scrollsync"
	"github.com/Paintersrp/quill/internal/state"
)

type options struct {
	line       int
	record     int
	textOffset int
	all        bool
}

func NewCmdLocate(s *state.State) *cobra.Command {
	o := options{record: -1}

	cmd := &cobra.Command{
		Use:   "locate [volume path]",
		Short: "Inspect the source-position index of a document.",
		Long: heredoc.Doc(`
			Print the records the preview uses to map between rendered output and
			source text.

			--line prints the block the preview would align with that editor line.
			--record with --text-offset resolves a preview click to a source
			offset the way the browser does.

			Examples:
			  quill locate workspace/a.md --all
			  quill locate workspace/a.md --line 12
			  quill locate workspace/a.md --record 7 --text-offset 4
		`),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := s.Handler.Read(args[0])
			if err != nil {
				return err
			}
			return run(cmd.OutOrStdout(), s.Renderer.Parse([]byte(doc.Content)), o)
		},
	}

	cmd.Flags().IntVarP(&o.line, "line", "l", 0, "Editor line (1-based) to find the block for.")
	cmd.Flags().IntVar(&o.record, "record", -1, "Record id under the click.")
	cmd.Flags().IntVar(&o.textOffset, "text-offset", 0, "Offset into the record's text.")
	cmd.Flags().BoolVarP(&o.all, "all", "a", false, "Print every record.")

	return cmd
}

func run(w io.Writer, doc *parser.Document, o options) error {
	switch {
	case o.all:
		printRecords(w, doc.Records)
	case o.record >= 0:
		target, ok := scrollsync.ResolveCaret(doc.Records, doc.Source, scrollsync.Caret{
			RecordID:   o.record,
			TextOffset: o.textOffset,
		})
		if !ok {
			return fmt.Errorf("record %d does not resolve to a block", o.record)
		}
		fmt.Fprintf(w, "offset %d line %d exact %t word %q\n",
			target.Offset, parser.LineOf(doc.Source, target.Offset), target.Exact, target.Word)
		printRecords(w, []parser.Record{target.Block})
	case o.line > 0:
		rec, ok := doc.BlockAt(o.line)
		if !ok {
			return fmt.Errorf("no block at or before line %d", o.line)
		}
		printRecords(w, append([]parser.Record{rec}, doc.Ancestors(rec.ID)...))
	default:
		return errors.New("one of --all, --line or --record is required")
	}
	return nil
}

func printRecords(w io.Writer, records []parser.Record) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"ID", "Kind", "Line", "Span", "Parent", "Text"})
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetAutoWrapText(false)

	for _, rec := range records {
		line := ""
		if rec.Line > 0 {
			line = strconv.Itoa(rec.Line)
		}
		table.Append([]string{
			strconv.Itoa(rec.ID),
			rec.Kind,
			line,
			fmt.Sprintf("%d-%d", rec.Span.Start, rec.Span.End),
			strconv.Itoa(rec.Parent),
			truncate(rec.Text, 40),
		})
	}

	table.Render()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
