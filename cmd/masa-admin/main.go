// Command masa-admin inspects and maintains the mention ledger directly against Postgres.
//
// Usage:
//
//	masa-admin meter [--username NAME]
//	masa-admin leaderboard [--limit N]
//	masa-admin history [--username NAME]
//	masa-admin achievements
//	masa-admin speaker NAME
//	masa-admin record NAME
//	masa-admin delete-speaker NAME
//	masa-admin delete-mention ID
//	masa-admin token [--key KEY]
//	masa-admin migrate up|down|version
//
// The database is taken from --dsn, then DB_DSN, then the compose default.
package main

import (
	"database/sql"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/yellowcrystalz/masa-meter/db"
	"github.com/yellowcrystalz/masa-meter/ledger"
)

// opener connects to the database. Tests substitute a sqlmock connection.
type opener func(dsn string) (*sql.DB, error)

type app struct {
	dsn        string
	jsonOutput bool

	open   opener
	conn   *sql.DB
	ledger *ledger.Ledger
}

func defaultDSN() string {
	if s := os.Getenv("DB_DSN"); s != "" {
		return s
	}
	return db.DefaultDSN
}

func newRootCmd(open opener) *cobra.Command {
	a := &app{open: open}

	root := &cobra.Command{
		Use:           "masa-admin <command>",
		Short:         "Admin CLI for the Masa Meter ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			conn, err := a.open(a.dsn)
			if err != nil {
				return fmt.Errorf("connecting to database: %w", err)
			}
			a.conn = conn
			a.ledger = ledger.New(conn)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.conn != nil {
				_ = a.conn.Close()
			}
		},
	}
	root.PersistentFlags().StringVar(&a.dsn, "dsn", defaultDSN(), "Postgres connection string")
	root.PersistentFlags().BoolVar(&a.jsonOutput, "json", false, "output as JSON")

	root.AddGroup(
		&cobra.Group{ID: "read", Title: "Queries:"},
		&cobra.Group{ID: "write", Title: "Changes:"},
		&cobra.Group{ID: "system", Title: "System:"},
	)
	cobra.EnableCommandSorting = false

	root.AddCommand(
		a.meterCmd(),
		a.leaderboardCmd(),
		a.historyCmd(),
		a.achievementsCmd(),
		a.speakerCmd(),
		a.recordCmd(),
		a.deleteSpeakerCmd(),
		a.deleteMentionCmd(),
		a.tokenCmd(),
		a.migrateCmd(),
	)
	return root
}

func main() {
	_ = godotenv.Load()
	if err := newRootCmd(db.Connect).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
