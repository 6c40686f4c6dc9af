package root

import (
	"fmt"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/spf13/cobra"

	"github.com/Paintersrp/quill/internal/config"
	"github.com/Paintersrp/quill/internal/constants"
	"github.com/Paintersrp/quill/internal/state"
	"github.com/Paintersrp/quill/pkg/cmd/exportcmd"
	"github.com/Paintersrp/quill/pkg/cmd/locate"
	"github.com/Paintersrp/quill/pkg/cmd/preview"
	"github.com/Paintersrp/quill/pkg/cmd/serve"
	"github.com/Paintersrp/quill/pkg/cmd/volumes"
)

// NewCmdRoot builds the command tree. s is filled in by the persistent
// pre-run once global flags are parsed, so subcommands must only read it
// from their RunE.
func NewCmdRoot(s *state.State) (*cobra.Command, error) {
	var opts state.Options

	cmd := &cobra.Command{
		Use:     constants.AppName,
		Short:   "Self-hosted markdown editor backend.",
		Version: constants.Version,
		Long: heredoc.Doc(`
			Quill serves one or more folders of markdown documents to a browser
			editor with a live, scroll-synchronized preview.

			Folders are exposed as named volumes. The default volume is the
			workspace; more can be added in the config file or with the
			QUILL_VOLUMES environment variable ("name=path,name=path").

			Examples:
			  quill serve --addr :3001
			  quill volumes
			  quill export workspace/notes/today.md --format zip
		`),
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return s.Load(opts)
		},
	}

	cmd.PersistentFlags().
		StringVar(&opts.ConfigFile, "config", "", fmt.Sprintf("Config file (default is %s).", config.GetConfigPath("$HOME")))
	cmd.PersistentFlags().
		StringVar(&opts.LogFile, "log-file", "", "Write logs to a rotating file instead of stderr.")
	cmd.PersistentFlags().
		BoolVarP(&opts.Verbose, "verbose", "v", false, "Enable debug logging.")

	cmd.AddCommand(
		serve.NewCmdServe(s),
		volumes.NewCmdVolumes(s),
		exportcmd.NewCmdExport(s),
		preview.NewCmdPreview(s),
		locate.NewCmdLocate(s),
	)

	return cmd, nil
}
