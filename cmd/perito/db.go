package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zulandar/perito/internal/db"
)

func newDBCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
	}
	cmd.AddCommand(newDBMigrateCmd(g))
	cmd.AddCommand(newDBHealCmd(g))
	return cmd
}

func newDBMigrateCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the database and migrate all tables",
		Long:  "Creates the configured database when missing (mysql) and migrates the conversation, history and handoff tables.",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			cfg, gdb, err := connectFromConfig(g.configPath)
			if err != nil {
				return err
			}
			defer db.Close(gdb)

			target := cfg.Database.Path
			if cfg.Database.Driver == "mysql" {
				target = fmt.Sprintf("%s@%s:%d/%s", cfg.Database.User, cfg.Database.Host, cfg.Database.Port, cfg.Database.Name)
			}
			fmt.Fprintf(out, "Connected to %s database %s\n", cfg.Database.Driver, target)
			fmt.Fprintf(out, "Migrated %d tables\n", len(db.AllModels()))
			return nil
		},
	}
}

func newDBHealCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "heal",
		Short: "Merge conversations stored under non-canonical keys",
		Long:  "Finds records whose key is not a canonical whatsapp:+<digits> identity and merges them into the canonical record.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			cfg, gdb, err := connectFromConfig(g.configPath)
			if err != nil {
				return err
			}
			st, err := openStore(ctx, cfg, gdb, zap.NewNop())
			if err != nil {
				db.Close(gdb)
				return fmt.Errorf("open store: %w", err)
			}
			defer func() {
				st.Close()
				if cfg.Storage.Backend == "bolt" {
					db.Close(gdb)
				}
			}()

			// Opening the store already heals; a second pass reports what is left.
			n, err := st.Heal(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Store %s healthy (%d legacy keys merged)\n", cfg.Storage.Backend, n)
			return nil
		},
	}
}
