package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"cardmint/internal/api"
	"cardmint/internal/config"
	"cardmint/internal/export"
	"cardmint/internal/fileutil"
	"cardmint/internal/logging"
	"cardmint/internal/queue"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:     "jobs",
		Aliases: []string{"job"},
		Short:   "Inspect and manage scan jobs",
	}

	jobsCmd.AddCommand(newJobsCreateCommand(ctx))
	jobsCmd.AddCommand(newJobsListCommand(ctx))
	jobsCmd.AddCommand(newJobsShowCommand(ctx))
	jobsCmd.AddCommand(newJobsHistoryCommand(ctx))
	jobsCmd.AddCommand(newJobsDepthCommand(ctx))
	jobsCmd.AddCommand(newJobsClearCommand(ctx))
	jobsCmd.AddCommand(newJobsExportCommand(ctx))
	jobsCmd.AddCommand(newJobsReleaseCommand(ctx))
	jobsCmd.AddCommand(newJobsRetryCommand(ctx))

	return jobsCmd
}

func parseStatuses(values []string) ([]queue.Status, error) {
	statuses := make([]queue.Status, 0, len(values))
	for _, value := range values {
		status, ok := queue.ParseStatus(value)
		if !ok {
			return nil, fmt.Errorf("unknown status %q", value)
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

func newJobsCreateCommand(ctx *commandContext) *cobra.Command {
	var id, captureUID, sessionID, image, status string
	var force bool

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a scan job",
		RunE: func(cmd *cobra.Command, args []string) error {
			initial := queue.StatusQueued
			if strings.TrimSpace(status) != "" {
				parsed, ok := queue.ParseStatus(status)
				if !ok {
					return fmt.Errorf("unknown status %q", status)
				}
				initial = parsed
			}
			if image != "" {
				abs, err := filepath.Abs(image)
				if err != nil {
					return fmt.Errorf("resolve image path: %w", err)
				}
				if _, err := os.Stat(abs); err != nil {
					return fmt.Errorf("stat image: %w", err)
				}
				image = abs
			}
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				if !force && cfg.Admission.MaxQueueDepth > 0 {
					depth, err := store.QueueDepth(cmd.Context())
					if err != nil {
						return err
					}
					if depth >= cfg.Admission.MaxQueueDepth {
						return fmt.Errorf("queue full: depth %d reaches max %d (use --force to bypass)", depth, cfg.Admission.MaxQueueDepth)
					}
				}
				jobID := strings.TrimSpace(id)
				if jobID == "" {
					jobID = uuid.NewString()
				}
				job, err := store.Create(operatorContext(cmd.Context()), queue.NewJob{
					ID:           jobID,
					CaptureUID:   captureUID,
					SessionID:    sessionID,
					Status:       initial,
					RawImagePath: image,
				})
				if err != nil {
					return err
				}
				return ctx.emit(cmd, api.FromScanJob(job), func() string {
					return fmt.Sprintf("Created job %s (%s)\n", job.ID, job.Status)
				})
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Job id (generated when empty)")
	cmd.Flags().StringVar(&captureUID, "capture-uid", "", "Capture identifier; must be unique")
	cmd.Flags().StringVar(&sessionID, "session", "", "Operator session id")
	cmd.Flags().StringVar(&image, "image", "", "Path to the raw front image")
	cmd.Flags().StringVar(&status, "status", "", "Initial status: QUEUED, CAPTURING, or CAPTURED")
	cmd.Flags().BoolVar(&force, "force", false, "Create even when the queue is at its depth limit")
	return cmd
}

func newJobsListCommand(ctx *commandContext) *cobra.Command {
	var statusFlags []string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List scan jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses, err := parseStatuses(statusFlags)
			if err != nil {
				return err
			}
			return ctx.withStore(func(_ *config.Config, store *queue.Store) error {
				var jobs []*queue.ScanJob
				if len(statuses) > 0 {
					jobs, err = store.List(cmd.Context(), statuses...)
				} else {
					jobs, err = store.ListRecent(cmd.Context(), limit)
				}
				if err != nil {
					return err
				}
				return ctx.emit(cmd, api.FromScanJobs(jobs), func() string {
					if len(jobs) == 0 {
						return "No jobs\n"
					}
					return renderTable(
						[]string{"ID", "Status", "Created", "Best Match", "Retries", "Lease", "Error"},
						buildJobRows(jobs),
						[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
					)
				})
			})
		},
	}
	cmd.Flags().StringSliceVarP(&statusFlags, "status", "s", nil, "Filter by status (repeatable)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum jobs to list when no status filter is given")
	return cmd
}

func newJobsShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one scan job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, store *queue.Store) error {
				job, err := store.GetByID(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return ctx.emit(cmd, api.FromScanJob(job), func() string {
					return renderTable([]string{"Field", "Value"}, buildJobDetailRows(job), nil)
				})
			})
		},
	}
}

func newJobsHistoryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "history <id>",
		Short: "Show a job's status history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, store *queue.Store) error {
				if _, err := store.GetByID(cmd.Context(), args[0]); err != nil {
					return err
				}
				history, err := store.History(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return ctx.emit(cmd, api.FromJobEvents(history), func() string {
					rows := make([][]string, 0, len(history))
					for _, evt := range history {
						rows = append(rows, []string{
							evt.RecordedAt.Local().Format(time.DateTime),
							string(evt.Status),
							evt.Actor,
							evt.Detail,
						})
					}
					return renderTable([]string{"Time", "Status", "Actor", "Detail"}, rows, nil)
				})
			})
		},
	}
}

func newJobsDepthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "depth",
		Short: "Show queue depth and admission limit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				depth, err := store.QueueDepth(cmd.Context())
				if err != nil {
					return err
				}
				maxDepth := cfg.Admission.MaxQueueDepth
				resp := api.DepthResponse{
					Depth:     depth,
					MaxDepth:  maxDepth,
					Accepting: maxDepth <= 0 || depth < maxDepth,
				}
				return ctx.emit(cmd, resp, func() string {
					limit := "unlimited"
					if maxDepth > 0 {
						limit = strconv.Itoa(maxDepth)
					}
					return renderTable(
						[]string{"Depth", "Max", "Accepting"},
						[][]string{{strconv.Itoa(depth), limit, yesNo(resp.Accepting)}},
						[]columnAlignment{alignRight, alignRight, alignLeft},
					)
				})
			})
		},
	}
}

func newJobsClearCommand(ctx *commandContext) *cobra.Command {
	var all bool
	var force bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete active jobs (or every job with --all)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if all && !force {
				return errors.New("--all deletes accepted jobs and history; pass --force to confirm")
			}
			return ctx.withStore(func(_ *config.Config, store *queue.Store) error {
				var removed int64
				var err error
				if all {
					removed, err = store.ClearAll(cmd.Context())
				} else {
					removed, err = store.ClearQueue(cmd.Context())
				}
				if err != nil {
					return err
				}
				return ctx.emit(cmd, map[string]int64{"removed": removed}, func() string {
					return fmt.Sprintf("Cleared %d jobs\n", removed)
				})
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Delete every job, its history, and all sessions")
	cmd.Flags().BoolVar(&force, "force", false, "Confirm a destructive clear")
	return cmd
}

func newJobsExportCommand(ctx *commandContext) *cobra.Command {
	var outPath string
	var statusFlags []string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export jobs to an XLSX workbook",
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses, err := parseStatuses(statusFlags)
			if err != nil {
				return err
			}
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				target := strings.TrimSpace(outPath)
				if target == "" {
					name := fmt.Sprintf("cardmint-jobs-%s.xlsx", time.Now().UTC().Format("20060102T150405Z"))
					target = filepath.Join(cfg.Paths.ExportDir, name)
				}
				data, rows, err := export.NewService(store, logging.NewNop()).JobsXLSX(cmd.Context(), statuses...)
				if err != nil {
					return err
				}
				if err := fileutil.WriteFileAtomic(target, data, 0o644); err != nil {
					return fmt.Errorf("write export: %w", err)
				}
				return ctx.emit(cmd, map[string]any{"path": target, "rows": rows}, func() string {
					return fmt.Sprintf("Exported %d jobs to %s\n", rows, target)
				})
			})
		},
	}
	cmd.Flags().StringVar(&outPath, "out", "", "Destination file (defaults to the export directory)")
	cmd.Flags().StringSliceVarP(&statusFlags, "status", "s", nil, "Only export these statuses (repeatable)")
	return cmd
}

func newJobsReleaseCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "release <id>",
		Short: "Drop a job's worker lease without changing its status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, store *queue.Store) error {
				if err := store.ReleaseJob(operatorContext(cmd.Context()), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Released job %s\n", args[0])
				return nil
			})
		},
	}
}

func newJobsRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <id>",
		Short: "Return a failed or parked job to the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, store *queue.Store) error {
				status, err := store.ResetForRetry(operatorContext(cmd.Context()), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job %s requeued as %s\n", args[0], status)
				return nil
			})
		},
	}
}
