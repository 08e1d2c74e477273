package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/zulandar/perito/internal/dashboard"
	"github.com/zulandar/perito/internal/identity"
	"github.com/zulandar/perito/internal/messaging"
	"github.com/zulandar/perito/internal/models"
	"github.com/zulandar/perito/internal/store"
)

func newConversationCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conversation",
		Aliases: []string{"conv"},
		Short:   "Inspect and manage conversations",
	}
	cmd.AddCommand(newConversationShowCmd(g))
	cmd.AddCommand(newConversationListCmd(g))
	cmd.AddCommand(newConversationResetCmd(g))
	cmd.AddCommand(newConversationStatsCmd(g))
	return cmd
}

func newConversationShowCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "show <phone>",
		Short: "Show one conversation with its history and handoffs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := identity.Normalize(args[0])
			if err != nil {
				return err
			}
			ctx := context.Background()
			a, err := newApp(ctx, g.configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			c, err := a.store.Get(ctx, id)
			if err != nil {
				return err
			}
			handoffs, err := messaging.ForConversation(a.db, id)
			if err != nil {
				return err
			}
			printConversation(cmd.OutOrStdout(), c, handoffs)
			return nil
		},
	}
}

func printConversation(out io.Writer, c *models.Conversation, handoffs []models.Handoff) {
	fmt.Fprintf(out, "Conversation: %s\n", c.ID)
	fmt.Fprintf(out, "Stage:        %s\n", c.Stage)
	fmt.Fprintf(out, "Status:       %s\n", c.Status)
	fmt.Fprintf(out, "Attempts:     %d\n", c.Attempts)
	if c.Unparsed > 0 {
		fmt.Fprintf(out, "Unparsed:     %d\n", c.Unparsed)
	}
	printTime(out, "Next reminder", c.NextReminderAt)
	printTime(out, "Snoozed until", c.SnoozedUntil)
	printTime(out, "Continuation ends", c.ContinuationTimeoutAt)
	printTime(out, "Deferred until", c.DeferredUntil)

	fields := c.StringFields()
	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintln(out, "\nFields:")
		for _, k := range keys {
			fmt.Fprintf(out, "  %s: %s\n", k, fields[k])
		}
	}

	if len(c.History) > 0 {
		fmt.Fprintln(out, "\nHistory:")
		for _, m := range c.History {
			fmt.Fprintf(out, "  [%s] %-6s %s\n", m.SentAt.Format("2006-01-02 15:04"), m.Actor, oneLine(m.Text))
		}
	}

	if len(handoffs) > 0 {
		fmt.Fprintln(out, "\nHandoffs:")
		for _, h := range handoffs {
			state := "open"
			if h.Acknowledged {
				state = "acknowledged"
			}
			fmt.Fprintf(out, "  #%d %s (%s, %s)\n", h.ID, h.Subject, h.Reason, state)
		}
	}
}

func printTime(out io.Writer, label string, t *time.Time) {
	if t == nil {
		return
	}
	fmt.Fprintf(out, "%-13s %s\n", label+":", t.Format("2006-01-02 15:04 MST"))
}

func oneLine(s string) string {
	const width = 80
	b := []rune(s)
	for i, r := range b {
		if r == '\n' {
			b[i] = ' '
		}
	}
	if len(b) > width {
		return string(b[:width-3]) + "..."
	}
	return string(b)
}

func newConversationListCmd(g *globals) *cobra.Command {
	var (
		status string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List conversations, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := newApp(ctx, g.configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			rows, err := a.store.List(ctx, store.Filter{Status: status, Limit: limit})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(rows) == 0 {
				fmt.Fprintln(out, "No conversations found.")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTAGE\tSTATUS\tATTEMPTS\tLAST MESSAGE")
			for _, c := range rows {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
					c.ID, c.Stage, c.Status, c.Attempts, c.LastMessageAt.Format("2006-01-02 15:04"))
			}
			w.Flush()
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "only conversations with this status")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	return cmd
}

func newConversationResetCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <phone>",
		Short: "Return a conversation to its initial stage",
		Long:  "Clears progress, timers and waiting modes, keeping the claim data and history. Nothing is sent; the next reminder re-asks the initial question.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := newApp(ctx, g.configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			c, err := a.engine.Reset(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reset %s to %s/%s\n", c.ID, c.Stage, c.Status)
			return nil
		},
	}
}

func newConversationStatsCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Count conversations by status and stage",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := newApp(ctx, g.configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			stats, err := dashboard.Summarize(ctx, a.store)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Total: %d\n", stats.Total)
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "\nSTATUS\tCOUNT")
			for _, k := range dashboard.SortedKeys(stats.ByStatus) {
				fmt.Fprintf(w, "%s\t%d\n", k, stats.ByStatus[k])
			}
			fmt.Fprintln(w, "\nSTAGE\tCOUNT")
			for _, k := range dashboard.SortedKeys(stats.ByStage) {
				fmt.Fprintf(w, "%s\t%d\n", k, stats.ByStage[k])
			}
			w.Flush()
			return nil
		},
	}
}
