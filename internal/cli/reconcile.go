package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rl1809/tiered-checkout/internal/app"
	"github.com/rl1809/tiered-checkout/internal/core/domain"
)

func NewReconcileCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Review and resolve reconciliation entries",
	}
	cmd.AddCommand(newReconcileListCommand(rootOpts))
	cmd.AddCommand(newReconcileResolveCommand(rootOpts))
	cmd.AddCommand(newReconcileSummaryCommand(rootOpts))
	return cmd
}

func newReconcileListCommand(rootOpts *RootOptions) *cobra.Command {
	var d string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List unresolved entries of one domain",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd.Context(), rootOpts, func(c *app.Container) error {
				entries, err := c.Engine.ListReconciliation(cmd.Context(), domain.ReconciliationDomain(d))
				if err != nil {
					return err
				}
				if entries == nil {
					entries = []domain.ReconciliationEntry{}
				}
				return output(cmd.OutOrStdout(), rootOpts, entries, func(w io.Writer) {
					tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "ID\tLOCATION\tREF\tCREATED\tREASON")
					for _, e := range entries {
						fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
							e.ID, e.LocationID, e.OperationRef, e.CreatedAt.Format("2006-01-02 15:04:05"), e.Reason)
					}
					tw.Flush()
				})
			})
		},
	}

	cmd.Flags().StringVarP(&d, "domain", "d", string(domain.ReconcileInventory), "inventory|adjustment|purchase-order")
	return cmd
}

func newReconcileResolveCommand(rootOpts *RootOptions) *cobra.Command {
	var resolution, actor string

	cmd := &cobra.Command{
		Use:   "resolve <entry-id>",
		Short: "Mark an entry resolved",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd.Context(), rootOpts, func(c *app.Container) error {
				entry, err := c.Engine.ResolveReconciliation(cmd.Context(), args[0], resolution, actor)
				if err != nil {
					return err
				}
				return output(cmd.OutOrStdout(), rootOpts, entry, func(w io.Writer) {
					fmt.Fprintf(w, "resolved %s by %s\n", entry.ID, entry.ResolvedBy)
				})
			})
		},
	}

	cmd.Flags().StringVar(&resolution, "resolution", "", "what was done to resolve the entry")
	cmd.Flags().StringVar(&actor, "actor", "", "who resolved the entry")
	cmd.MarkFlagRequired("resolution")
	cmd.MarkFlagRequired("actor")
	return cmd
}

func newReconcileSummaryCommand(rootOpts *RootOptions) *cobra.Command {
	var location string

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Count unresolved entries per domain for a location",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd.Context(), rootOpts, func(c *app.Container) error {
				summary, err := c.Engine.GetReconciliationSummary(cmd.Context(), location)
				if err != nil {
					return err
				}
				return output(cmd.OutOrStdout(), rootOpts, summary, func(w io.Writer) {
					for _, d := range domain.ReconciliationDomains {
						fmt.Fprintf(w, "%-16s %d\n", d, summary[d])
					}
				})
			})
		},
	}

	cmd.Flags().StringVarP(&location, "location", "l", "", "location id")
	cmd.MarkFlagRequired("location")
	return cmd
}
