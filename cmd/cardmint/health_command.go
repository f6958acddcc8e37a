package main

import (
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"cardmint/internal/config"
	"cardmint/internal/notifications"
	"cardmint/internal/queue"
	"cardmint/internal/stage"
)

type healthReport struct {
	Database queue.DatabaseHealth    `json:"database"`
	Queue    queue.HealthSummary     `json:"queue"`
	Depth    int                     `json:"depth"`
	Services map[string]stage.Health `json:"services"`
}

func newHealthCommand(ctx *commandContext) *cobra.Command {
	var notify bool

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check the job store and external services",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				reqCtx := cmd.Context()
				report := healthReport{}
				var err error
				if report.Database, err = store.CheckHealth(reqCtx); err != nil {
					return err
				}
				if report.Queue, err = store.Health(reqCtx); err != nil {
					return err
				}
				if report.Depth, err = store.QueueDepth(reqCtx); err != nil {
					return err
				}

				var checkers []stage.HealthChecker
				if strings.TrimSpace(cfg.Classifier.URL) != "" {
					checkers = append(checkers, stage.NewHTTPClassifier(cfg.Classifier))
				}
				if strings.TrimSpace(cfg.Classifier.PricingURL) != "" {
					checkers = append(checkers, stage.NewHTTPPriceLookup(cfg.Classifier))
				}
				report.Services = stage.CheckAll(reqCtx, checkers...)

				if notify {
					if err := notifications.NewService(cfg).TestNotification(reqCtx); err != nil {
						return err
					}
				}

				return ctx.emit(cmd, report, func() string {
					db := report.Database
					rows := [][]string{
						{"store", db.Driver, yesNo(db.Readable && db.TableExists && db.IntegrityCheck), db.Location},
						{"queue", "", "yes", "depth " + strconv.Itoa(report.Depth) + ", leased " + strconv.Itoa(report.Queue.Leased)},
					}
					for _, name := range slices.Sorted(maps.Keys(report.Services)) {
						health := report.Services[name]
						rows = append(rows, []string{name, "", yesNo(health.Ready), health.Detail})
					}
					return renderTable([]string{"Component", "Driver", "Ready", "Detail"}, rows, nil)
				})
			})
		},
	}
	cmd.Flags().BoolVar(&notify, "notify", false, "Also send a test notification")
	return cmd
}
