package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/soa-bra/glass-project-flow-sub021/internal/relay"
)

// DiscoveredRelay is one relay found on the LAN.
type DiscoveredRelay struct {
	Instance string   `json:"instance"`
	URL      string   `json:"url"`
	Text     []string `json:"text,omitempty"`
}

// NewDiscoverCommand creates the discover command.
func NewDiscoverCommand(rootOpts *RootOptions) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Find relays advertised over mDNS",
		Long: `Browse the LAN for relays started with --mdns.

Examples:
  boardsync discover
  boardsync discover --timeout 5s --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			found, err := relay.Discover(ctx)
			if err != nil {
				return WrapExitError(ExitCommandError, "discovery failed", err)
			}
			relays := make([]DiscoveredRelay, len(found))
			for i, d := range found {
				relays[i] = DiscoveredRelay{Instance: d.Instance, URL: d.URL(), Text: d.Text}
			}

			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			return out.Success(relays, func(w io.Writer) {
				if len(relays) == 0 {
					fmt.Fprintln(w, "No relays found.")
					return
				}
				for _, r := range relays {
					fmt.Fprintf(w, "%s\t%s\n", r.Instance, r.URL)
				}
			})
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "how long to browse")
	return cmd
}
