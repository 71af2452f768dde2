package cli

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/rl1809/tiered-checkout/internal/app"
	"github.com/rl1809/tiered-checkout/internal/core/domain"
	"github.com/rl1809/tiered-checkout/internal/core/service"
)

func NewInventoryCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inventory",
		Short: "Inspect and correct stock levels",
	}
	cmd.AddCommand(newInventoryLevelCommand(rootOpts))
	cmd.AddCommand(newInventoryAdjustCommand(rootOpts))
	return cmd
}

func newInventoryLevelCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "level <product-id> <location-id>",
		Short: "Show on-hand, held and available quantities",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd.Context(), rootOpts, func(c *app.Container) error {
				level, err := c.Engine.GetInventoryLevel(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				return output(cmd.OutOrStdout(), rootOpts, level, func(w io.Writer) {
					printLevel(w, level)
				})
			})
		},
	}
}

type adjustOptions struct {
	key    string
	reason string
	actor  string
}

func newInventoryAdjustCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &adjustOptions{}

	cmd := &cobra.Command{
		Use:   "adjust <product-id> <location-id> <delta>",
		Short: "Apply a non-sale stock correction (damage, recount, receiving)",
		Long: `Apply a signed correction to on-hand stock. A correction that would take
on-hand below zero or below the quantity currently held is not applied; it
is queued for reconciliation and reported as CONFLICT.

Pass the same --key to retry safely.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			delta, err := strconv.ParseInt(args[2], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid delta %q: %w", args[2], err)
			}
			if opts.key == "" {
				opts.key = uuid.New().String()
			}

			return withContainer(cmd.Context(), rootOpts, func(c *app.Container) error {
				res, err := c.Engine.AdjustInventory(cmd.Context(), service.AdjustRequest{
					IdempotencyKey: opts.key,
					ProductID:      args[0],
					LocationID:     args[1],
					Delta:          delta,
					Reason:         opts.reason,
					Actor:          opts.actor,
				})
				if err != nil {
					return err
				}

				if err := output(cmd.OutOrStdout(), rootOpts, res, func(w io.Writer) {
					fmt.Fprintf(w, "%s (key %s)\n", res.Status, opts.key)
					printLevel(w, res.Level)
					if res.ReconciliationID != "" {
						fmt.Fprintf(w, "reconciliation entry %s: %s\n", res.ReconciliationID, res.Message)
					}
				}); err != nil {
					return err
				}
				if res.Status == domain.AdjustConflict {
					return errors.New("adjustment not applied")
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&opts.key, "key", "", "idempotency key (generated when empty)")
	cmd.Flags().StringVarP(&opts.reason, "reason", "r", "", "reason for the correction")
	cmd.Flags().StringVar(&opts.actor, "actor", "cli", "who is making the correction")
	cmd.MarkFlagRequired("reason")

	return cmd
}

func printLevel(w io.Writer, l domain.InventoryLevel) {
	fmt.Fprintf(w, "%s @ %s: on hand %d, held %d, available %d\n",
		l.ProductID, l.LocationID, l.OnHand, l.Held, l.Available)
}
