package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/zulandar/perito/internal/db"
	"github.com/zulandar/perito/internal/identity"
	"github.com/zulandar/perito/internal/messaging"
)

func newHandoffCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "handoff",
		Short: "Manage the staff handoff inbox",
	}
	cmd.AddCommand(newHandoffListCmd(g))
	cmd.AddCommand(newHandoffAckCmd(g))
	cmd.AddCommand(newHandoffSendCmd(g))
	return cmd
}

func newHandoffListCmd(g *globals) *cobra.Command {
	var recipient string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List unacknowledged handoffs",
		Long:  "Lists unacknowledged handoffs, urgent first, then oldest first.",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gdb, err := connectFromConfig(g.configPath)
			if err != nil {
				return err
			}
			defer db.Close(gdb)

			hs, err := messaging.Inbox(gdb, recipient)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(hs) == 0 {
				fmt.Fprintf(out, "No handoffs for %s\n", recipient)
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCONVERSATION\tREASON\tSUBJECT\tPRIORITY\tCREATED")
			for _, h := range hs {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
					h.ID, h.ConversationID, h.Reason, h.Subject, h.Priority,
					h.CreatedAt.Format("2006-01-02 15:04"))
			}
			w.Flush()
			return nil
		},
	}
	cmd.Flags().StringVar(&recipient, "recipient", messaging.Human, "inbox to list")
	return cmd
}

func newHandoffAckCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "ack <id>",
		Short: "Acknowledge a handoff",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid handoff id %q", args[0])
			}
			_, gdb, err := connectFromConfig(g.configPath)
			if err != nil {
				return err
			}
			defer db.Close(gdb)

			if err := messaging.Acknowledge(gdb, uint(id), time.Now()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Acknowledged handoff %d\n", id)
			return nil
		},
	}
}

func newHandoffSendCmd(g *globals) *cobra.Command {
	var (
		subject string
		body    string
		urgent  bool
	)
	cmd := &cobra.Command{
		Use:   "send <phone>",
		Short: "Put a conversation in the staff inbox by hand",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := identity.Normalize(args[0])
			if err != nil {
				return err
			}
			_, gdb, err := connectFromConfig(g.configPath)
			if err != nil {
				return err
			}
			defer db.Close(gdb)

			priority := messaging.PriorityNormal
			if urgent {
				priority = messaging.PriorityUrgent
			}
			h, err := messaging.Send(gdb, id, messaging.ReasonManual, subject, body, messaging.SendOpts{
				Source:   "cli",
				Priority: priority,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Recorded handoff %d for %s\n", h.ID, id)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "handoff subject (required)")
	cmd.Flags().StringVar(&body, "body", "", "handoff body")
	cmd.Flags().BoolVar(&urgent, "urgent", false, "mark as urgent")
	cmd.MarkFlagRequired("subject")
	return cmd
}
