package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zulandar/perito/internal/dashboard"
	"github.com/zulandar/perito/internal/telegraph"
)

func newServeCmd(g *globals) *cobra.Command {
	var noSweep bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server and the sweep daemon",
		Long: `Starts the inbound WhatsApp webhook and inspection API, and the sweep
daemon that sends reminders, inactivity prompts and escalations. When
staff.digest_schedule is set, a daily summary is posted to staff chat.
Stops cleanly on SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cmd, g.configPath, noSweep)
		},
	}
	cmd.Flags().BoolVar(&noSweep, "no-sweep", false, "serve the webhook only; run the sweep elsewhere")
	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command, configPath string, noSweep bool) error {
	out := cmd.OutOrStdout()
	a, err := newApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	fmt.Fprintf(out, "Send window: %s\n", a.window)
	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return dashboard.Start(gctx, dashboard.StartOpts{
			Inbound: a.engine,
			Store:   a.store,
			DB:      a.db,
			Port:    a.cfg.Server.Port,
			Out:     out,
			Logger:  a.log.Named("http"),
		})
	})
	if !noSweep {
		group.Go(func() error {
			return a.sweeper.RunDaemon(gctx, a.cfg.Timing.Tick.Duration, out)
		})
	}
	if a.cfg.Staff.DigestSchedule != "" && len(a.staff) > 0 {
		fmt.Fprintf(out, "Daily digest: %s\n", a.cfg.Staff.DigestSchedule)
		group.Go(func() error {
			return telegraph.RunDigest(gctx, a.digestOpts())
		})
	}
	return group.Wait()
}
