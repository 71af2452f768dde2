package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/rl1809/tiered-checkout/internal/app"
)

type SweepResult struct {
	Expired int `json:"expired"`
}

func NewSweepCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire overdue holds once and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd.Context(), rootOpts, func(c *app.Container) error {
				n, err := c.Engine.SweepHolds(cmd.Context())
				if err != nil {
					return err
				}
				return output(cmd.OutOrStdout(), rootOpts, SweepResult{Expired: n}, func(w io.Writer) {
					fmt.Fprintf(w, "expired %d hold(s)\n", n)
				})
			})
		},
	}
}
