package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/zulandar/perito/internal/telegraph"
)

func newDigestCmd(g *globals) *cobra.Command {
	var (
		at     string
		period time.Duration
		post   bool
	)

	cmd := &cobra.Command{
		Use:   "digest",
		Short: "Print the intake digest for the last day",
		Long:  "Summarises conversations opened, completed and escalated in the period, and handoffs still waiting on staff. With --post the digest is sent to the configured staff channels.",
		RunE: func(cmd *cobra.Command, args []string) error {
			until := time.Now()
			if at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("--at: %w", err)
				}
				until = t
			}

			ctx := context.Background()
			a, err := newApp(ctx, g.configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			since := until.Add(-period)
			if post {
				if len(a.staff) == 0 {
					return fmt.Errorf("no staff channels configured")
				}
				return telegraph.PostDigest(ctx, a.digestOpts(), since, until)
			}

			r, err := telegraph.BuildDailyReport(ctx, a.store, a.db, since, until)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			alert := telegraph.FormatDaily(r)
			fmt.Fprintln(out, alert.Title)
			fmt.Fprintln(out, alert.Body)
			if r.Quiet() {
				fmt.Fprintln(out, "(quiet period; nothing would be posted)")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "end the period at this RFC 3339 instant instead of now")
	cmd.Flags().DurationVar(&period, "period", 24*time.Hour, "length of the period")
	cmd.Flags().BoolVar(&post, "post", false, "send the digest to staff channels")
	return cmd
}
