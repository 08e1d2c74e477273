package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/zulandar/perito/internal/sweep"
)

func newSweepCmd(g *globals) *cobra.Command {
	var at string

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one sweep tick and print the actions taken",
		Long:  "Evaluates every due conversation once: reminders, inactivity prompts, continuation expiry, snooze wake-ups and escalations.",
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now()
			if at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("--at: %w", err)
				}
				now = t
			}

			ctx := context.Background()
			a, err := newApp(ctx, g.configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			actions, err := a.sweeper.Tick(ctx, now)
			if err != nil {
				return err
			}
			printActions(cmd, actions)
			return nil
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "evaluate timers as of this RFC 3339 instant instead of now")
	return cmd
}

func printActions(cmd *cobra.Command, actions []sweep.Action) {
	out := cmd.OutOrStdout()
	if len(actions) == 0 {
		fmt.Fprintln(out, "Nothing due.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CONVERSATION\tACTION\tPROMPT\tRESULT")
	for _, a := range actions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", a.ConversationID, a.Kind, a.Prompt, actionResult(a))
	}
	w.Flush()
}

func actionResult(a sweep.Action) string {
	switch {
	case a.Err != nil:
		return "error: " + a.Err.Error()
	case a.Escalated:
		return "escalated after dispatch failures"
	case a.DeferredTo != nil:
		return "deferred to " + a.DeferredTo.Format("2006-01-02 15:04 MST")
	case a.Dispatched:
		return "sent"
	}
	return "applied"
}
