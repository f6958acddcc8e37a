package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"cardmint/internal/config"
	"cardmint/internal/daemon"
	"cardmint/internal/events"
	"cardmint/internal/intake"
	"cardmint/internal/logging"
	"cardmint/internal/queue"
	"cardmint/internal/stage"
	"cardmint/internal/workflow"
)

func newWorkerCommand(ctx *commandContext) *cobra.Command {
	workerCmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the scan processing worker pool",
	}
	workerCmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Recover, then process jobs and serve the API until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkerProcess(cmd.Context(), ctx)
		},
	})
	return workerCmd
}

func runWorkerProcess(cmdCtx context.Context, ctx *commandContext) error {
	if cmdCtx == nil {
		cmdCtx = context.Background()
	}
	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := ctx.ensureConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	stages, err := buildStages(cfg)
	if err != nil {
		return err
	}

	store, err := queue.Open(cfg)
	if err != nil {
		logger.Error("open job store", logging.Error(err))
		return err
	}

	bus := events.NewBus(logger)
	manager := workflow.NewManager(cfg, store, logger, workflow.WithPublisher(bus))
	manager.ConfigureStages(stages)

	d, err := daemon.New(cfg, store, logger, manager, daemon.WithBus(bus))
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		return err
	}

	<-signalCtx.Done()
	logger.Info("cardmint worker shutting down")
	return nil
}

// buildStages wires the HTTP classifier and, when configured, the pricing service.
func buildStages(cfg *config.Config) (workflow.StageSet, error) {
	if strings.TrimSpace(cfg.Classifier.URL) == "" {
		return workflow.StageSet{}, errors.New("classifier.url is required to run workers; set it in the config file")
	}
	set := workflow.StageSet{Classifier: stage.NewHTTPClassifier(cfg.Classifier)}
	if strings.TrimSpace(cfg.Classifier.PricingURL) != "" {
		set.Pricing = stage.NewHTTPPriceLookup(cfg.Classifier)
	}
	return set, nil
}

func newRecoverCommand(ctx *commandContext) *cobra.Command {
	var policyFlag string
	var keepIntake bool

	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Run startup recovery without starting workers",
		Long: "Run startup recovery without starting workers.\n\n" +
			"resume requeues interrupted jobs and clears stale leases.\n" +
			"destructive deletes every active job and empties the intake inbox unless --keep-intake is set.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				policyValue := cfg.Recovery.Policy
				if cmd.Flags().Changed("policy") {
					policyValue = policyFlag
				}
				policy, err := queue.ParseRecoveryPolicy(policyValue)
				if err != nil {
					return err
				}
				if !cmd.Flags().Changed("keep-intake") {
					keepIntake = cfg.Recovery.KeepIntake
				}

				lock := flock.New(cfg.LockPath())
				ok, err := lock.TryLock()
				if err != nil {
					return fmt.Errorf("acquire lock: %w", err)
				}
				if !ok {
					return errors.New("a cardmint worker is running; stop it before running recovery")
				}
				defer lock.Unlock()

				var opts queue.RecoveryOptions
				if !keepIntake {
					opts.Intake = intake.NewDirSource(cfg.Paths.IntakeDir, logging.NewNop(), intake.WithCaptureDir(cfg.CaptureDir()))
				}
				report, err := store.Recover(cmd.Context(), policy, opts)
				if err != nil {
					return err
				}
				return ctx.emit(cmd, report, func() string {
					return renderTable(
						[]string{"Policy", "Requeued", "Leases Cleared", "Deleted", "Sessions Ended", "Files Removed"},
						[][]string{{
							string(report.Policy),
							fmt.Sprint(report.Requeued),
							fmt.Sprint(report.LeasesCleared),
							fmt.Sprint(report.Deleted),
							fmt.Sprint(report.SessionsTerminated),
							fmt.Sprint(report.ArtifactsRemoved),
						}},
						[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight},
					)
				})
			})
		},
	}
	cmd.Flags().StringVar(&policyFlag, "policy", "", "Recovery policy: resume or destructive (defaults to recovery.policy)")
	cmd.Flags().BoolVar(&keepIntake, "keep-intake", false, "Leave the intake inbox alone during destructive recovery")
	return cmd
}
