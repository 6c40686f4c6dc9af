package volumes

import (
	"fmt"
	"io"
	"os"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/Paintersrp/quill/internal/state"
	"github.com/Paintersrp/quill/internal/volume"
)

func NewCmdVolumes(s *state.State) *cobra.Command {
	return &cobra.Command{
		Use:   "volumes",
		Short: "List the configured volumes.",
		Long: heredoc.Doc(`
			Print every volume with its mount path and whether the mount exists.
			The first row is the default volume.
		`),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			Render(cmd.OutOrStdout(), s.Volumes.Volumes())
			return nil
		},
	}
}

// Render writes vols as a borderless table.
func Render(w io.Writer, vols []volume.Volume) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Name", "Mount", "Status"})
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetAutoWrapText(false)
	table.SetColumnAlignment([]int{
		tablewriter.ALIGN_LEFT,
		tablewriter.ALIGN_LEFT,
		tablewriter.ALIGN_CENTER,
	})

	for _, v := range vols {
		table.Append([]string{v.Name, v.MountPath, status(v.MountPath)})
	}
	table.SetFooter([]string{fmt.Sprintf("%d volumes", len(vols)), "", ""})

	table.Render()
}

func status(mount string) string {
	info, err := os.Stat(mount)
	switch {
	case err != nil:
		return "missing"
	case !info.IsDir():
		return "not a folder"
	default:
		return "ok"
	}
}
