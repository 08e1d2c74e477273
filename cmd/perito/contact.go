package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zulandar/perito/internal/intake"
)

func newContactCmd(g *globals) *cobra.Command {
	var ct intake.Contact

	cmd := &cobra.Command{
		Use:   "contact <phone>",
		Short: "Open a conversation with a claimant",
		Long: `Creates the conversation with the given claim data and sends the initial
verification prompt. Outside the send window nothing is sent; the first
message goes out when the window opens.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := newApp(ctx, g.configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.engine.StartContact(ctx, args[0], ct)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			c := res.Conversation
			switch {
			case res.Sent:
				fmt.Fprintf(out, "Sent initial prompt to %s\n", c.ID)
			case res.Err != nil:
				fmt.Fprintf(out, "Opened %s but the initial prompt failed: %v (the sweep will retry)\n", c.ID, res.Err)
			default:
				fmt.Fprintf(out, "Opened %s; outside the send window, first message at %s\n",
					c.ID, c.NextReminderAt.Format("2006-01-02 15:04 MST"))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&ct.ClaimRef, "claim-ref", "", "claim reference")
	cmd.Flags().StringVar(&ct.InsuredName, "name", "", "insured person's name")
	cmd.Flags().StringVar(&ct.Address, "address", "", "address of the loss")
	cmd.Flags().StringVar(&ct.IncidentDate, "incident-date", "", "date of the incident")
	cmd.MarkFlagRequired("claim-ref")
	return cmd
}
