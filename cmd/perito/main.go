package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// globals holds flags shared by every subcommand.
type globals struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	cmd := &cobra.Command{
		Use:           "perito",
		Short:         "Perito: WhatsApp claim intake",
		Long:          "Perito runs the claimant conversation for insurance claim intake: inbound replies, reminders, escalation to staff.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().StringVarP(&g.configPath, "config", "c", "perito.yaml", "path to Perito config file")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newDBCmd(g))
	cmd.AddCommand(newServeCmd(g))
	cmd.AddCommand(newSweepCmd(g))
	cmd.AddCommand(newContactCmd(g))
	cmd.AddCommand(newConversationCmd(g))
	cmd.AddCommand(newHandoffCmd(g))
	cmd.AddCommand(newDigestCmd(g))
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "perito %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
