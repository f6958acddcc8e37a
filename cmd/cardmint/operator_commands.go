package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"cardmint/internal/api"
	"cardmint/internal/config"
	"cardmint/internal/queue"
)

func newOperatorCommand(ctx *commandContext) *cobra.Command {
	operatorCmd := &cobra.Command{
		Use:   "operator",
		Short: "Operator review gates and acceptance",
	}

	operatorCmd.AddCommand(newGateCommand(ctx, "lock-front", "Confirm the front image", (*queue.Store).LockFront))
	operatorCmd.AddCommand(newGateCommand(ctx, "back-ready", "Allow the back capture to proceed", (*queue.Store).MarkBackReady))
	operatorCmd.AddCommand(newGateCommand(ctx, "lock-canonical", "Lock the canonical card identity", (*queue.Store).LockCanonical))
	operatorCmd.AddCommand(newAcceptCommand(ctx, false))
	operatorCmd.AddCommand(newAcceptCommand(ctx, true))

	return operatorCmd
}

type gateFunc func(store *queue.Store, ctx context.Context, id string) error

func newGateCommand(ctx *commandContext, use, short string, apply gateFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, store *queue.Store) error {
				if err := apply(store, operatorContext(cmd.Context()), args[0]); err != nil {
					return err
				}
				return showUpdatedJob(ctx, cmd, store, args[0])
			})
		},
	}
}

type truthFlags struct {
	name        string
	hp          int
	collectorNo string
	setName     string
	setSize     int
	variants    []string
	itemUID     string
	cmCardID    string
}

func (f truthFlags) truthCore() queue.TruthCore {
	return queue.TruthCore{
		Name:        f.name,
		HP:          f.hp,
		CollectorNo: f.collectorNo,
		SetName:     f.setName,
		SetSize:     f.setSize,
		VariantTags: f.variants,
	}
}

func newAcceptCommand(ctx *commandContext, baseline bool) *cobra.Command {
	var flags truthFlags
	use, short := "accept", "Accept a job with its truth core and inventory item"
	if baseline {
		use, short = "accept-baseline", "Accept a job for baseline collection without inventory"
	}

	cmd := &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, store *queue.Store) error {
				opCtx := operatorContext(cmd.Context())
				var err error
				if baseline {
					err = store.AcceptForBaselineOnly(opCtx, args[0], flags.truthCore())
				} else {
					err = store.AcceptWithTruthCoreAndInventory(opCtx, args[0], flags.truthCore(),
						queue.InventoryResult{ItemUID: flags.itemUID, CMCardID: flags.cmCardID}, nil)
				}
				if err != nil {
					return err
				}
				return showUpdatedJob(ctx, cmd, store, args[0])
			})
		},
	}
	cmd.Flags().StringVar(&flags.name, "name", "", "Card name (required)")
	cmd.Flags().IntVar(&flags.hp, "hp", 0, "Hit points")
	cmd.Flags().StringVar(&flags.collectorNo, "collector-no", "", "Collector number")
	cmd.Flags().StringVar(&flags.setName, "set", "", "Set name")
	cmd.Flags().IntVar(&flags.setSize, "set-size", 0, "Cards in the set")
	cmd.Flags().StringSliceVar(&flags.variants, "variant", nil, "Variant tag (repeatable)")
	if !baseline {
		cmd.Flags().StringVar(&flags.itemUID, "item-uid", "", "Inventory item uid (required)")
		cmd.Flags().StringVar(&flags.cmCardID, "cm-card-id", "", "Canonical card id")
	}
	return cmd
}

func showUpdatedJob(ctx *commandContext, cmd *cobra.Command, store *queue.Store, id string) error {
	job, err := store.GetByID(cmd.Context(), id)
	if err != nil {
		return err
	}
	return ctx.emit(cmd, api.FromScanJob(job), func() string {
		return fmt.Sprintf("Job %s: %s (front %s, back %s, canonical %s)\n",
			job.ID, job.Status, yesNo(job.FrontLocked), yesNo(job.BackReady), yesNo(job.CanonicalLocked))
	})
}
