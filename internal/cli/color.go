package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/soa-bra/glass-project-flow-sub021/internal/collab"
)

// ParticipantColor pairs a connection id with its presence color.
type ParticipantColor struct {
	ID    string `json:"id"`
	Color string `json:"color"`
}

// NewColorCommand creates the color command.
func NewColorCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "color <connection-id>...",
		Short: "Print the presence color of connection ids",
		Long: `Print the presence color every participant computes for a connection id.

Examples:
  boardsync color 0 1 2
  boardsync color alice --format json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			colors := make([]ParticipantColor, len(args))
			for i, id := range args {
				colors[i] = ParticipantColor{ID: id, Color: collab.ColorFor(id)}
			}
			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			return out.Success(colors, func(w io.Writer) {
				for _, c := range colors {
					fmt.Fprintf(w, "%s\t%s\n", c.ID, c.Color)
				}
			})
		},
	}
}
