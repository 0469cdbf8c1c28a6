package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yellowcrystalz/masa-meter/db"
)

func (a *app) migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "migrate",
		Short:   "Apply, roll back or inspect schema migrations",
		GroupID: "system",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := db.RunMigrations(a.conn); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Migrations applied.")
				return nil
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back every migration (drops all ledger data)",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := db.MigrateDown(a.conn); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Migrations rolled back.")
				return nil
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				v, dirty, err := db.GetMigrationVersion(a.conn)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if a.jsonOutput {
					return a.printJSON(out, map[string]any{"version": v, "dirty": dirty})
				}
				fmt.Fprintf(out, "version %d (dirty=%t)\n", v, dirty)
				return nil
			},
		},
	)
	return cmd
}
