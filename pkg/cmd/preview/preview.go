package preview

import (
	"fmt"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/charmbracelet/glamour"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"github.com/Paintersrp/quill/internal/parser"
	"github.com/Paintersrp/quill/internal/state"
)

type options struct {
	style string
	width int
	html  bool
}

func NewCmdPreview(s *state.State) *cobra.Command {
	var o options

	cmd := &cobra.Command{
		Use:   "preview [volume path]",
		Short: "Render a document in the terminal.",
		Long: heredoc.Doc(`
			Render a document from any volume with colors and wrapping. With
			--html the browser preview markup is printed instead, including the
			data-source attributes used for scroll synchronization.

			Examples:
			  quill preview workspace/notes/today.md
			  quill preview docs/guide.md --style light --width 80
			  quill preview docs/guide.md --html
		`),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := s.Handler.Read(args[0])
			if err != nil {
				return err
			}

			var rendered string
			if o.html {
				rendered, _, err = s.Renderer.RenderHTML([]byte(doc.Content))
			} else {
				rendered, err = Render(doc.Content, o.style, o.width)
			}
			if err != nil {
				return err
			}

			fmt.Fprint(cmd.OutOrStdout(), rendered)
			return nil
		},
	}

	cmd.Flags().StringVar(&o.style, "style", "dracula", "Glamour style (dark, light, dracula, notty).")
	cmd.Flags().IntVar(&o.width, "width", 100, "Word wrap width.")
	cmd.Flags().BoolVar(&o.html, "html", false, "Print the preview HTML instead.")

	return cmd
}

// Render styles markdown for a 256 color terminal. Front matter is not shown.
func Render(content, style string, width int) (string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(width),
		glamour.WithColorProfile(termenv.ANSI256),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create renderer: %w", err)
	}

	_, body := parser.SplitFrontMatter([]byte(content))
	out, err := r.Render(string(body))
	if err != nil {
		return "", fmt.Errorf("failed to render markdown: %w", err)
	}
	return out, nil
}
