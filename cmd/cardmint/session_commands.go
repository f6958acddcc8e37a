package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"cardmint/internal/config"
	"cardmint/internal/queue"
)

type sessionView struct {
	ID        string `json:"id"`
	Operator  string `json:"operator,omitempty"`
	Status    string `json:"status"`
	StartedAt string `json:"startedAt"`
	EndedAt   string `json:"endedAt,omitempty"`
}

func toSessionView(session *queue.Session) sessionView {
	view := sessionView{
		ID:        session.ID,
		Operator:  session.Operator,
		Status:    session.Status,
		StartedAt: session.StartedAt.UTC().Format(time.RFC3339),
	}
	if session.EndedAt != nil {
		view.EndedAt = session.EndedAt.UTC().Format(time.RFC3339)
	}
	return view
}

func newSessionCommand(ctx *commandContext) *cobra.Command {
	sessionCmd := &cobra.Command{
		Use:   "session",
		Short: "Manage operator capture sessions",
	}
	sessionCmd.AddCommand(newSessionStartCommand(ctx))
	sessionCmd.AddCommand(newSessionEndCommand(ctx))
	sessionCmd.AddCommand(newSessionListCommand(ctx))
	return sessionCmd
}

func newSessionStartCommand(ctx *commandContext) *cobra.Command {
	var operator string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Open a capture session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, store *queue.Store) error {
				session, err := store.StartSession(cmd.Context(), operator)
				if err != nil {
					return err
				}
				return ctx.emit(cmd, toSessionView(session), func() string {
					return fmt.Sprintf("Started session %s\n", session.ID)
				})
			})
		},
	}
	cmd.Flags().StringVar(&operator, "operator", "", "Operator name")
	return cmd
}

func newSessionEndCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "end <id>",
		Short: "Close an active session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, store *queue.Store) error {
				if err := store.EndSession(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Ended session %s\n", args[0])
				return nil
			})
		},
	}
}

func newSessionListCommand(ctx *commandContext) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List capture sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, store *queue.Store) error {
				sessions, err := store.ListSessions(cmd.Context(), strings.ToUpper(strings.TrimSpace(status)))
				if err != nil {
					return err
				}
				views := make([]sessionView, 0, len(sessions))
				rows := make([][]string, 0, len(sessions))
				for _, session := range sessions {
					views = append(views, toSessionView(session))
					ended := "-"
					if session.EndedAt != nil {
						ended = formatLocal(*session.EndedAt)
					}
					rows = append(rows, []string{session.ID, dash(session.Operator), session.Status, formatLocal(session.StartedAt), ended})
				}
				return ctx.emit(cmd, views, func() string {
					if len(rows) == 0 {
						return "No sessions\n"
					}
					return renderTable([]string{"ID", "Operator", "Status", "Started", "Ended"}, rows, nil)
				})
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter by status: ACTIVE, ENDED, or ABORTED")
	return cmd
}
