package main

import (
	"errors"
	"fmt"
	"strings"

	migrate "github.com/golang-migrate/migrate/v4"
	"github.com/spf13/cobra"

	"github.com/noah-isme/xmoney-bridge/internal/db"
)

func migrateCmd() *cobra.Command {
	var databaseURL string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back the embedded schema",
	}
	cmd.PersistentFlags().StringVar(&databaseURL, "database-url", envOr("DATABASE_URL", ""), "Postgres URL (defaults to DATABASE_URL)")

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrate(databaseURL, func(m *migrate.Migrate) error { return db.Up(m) }, cmd)
		},
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrate(databaseURL, func(m *migrate.Migrate) error { return db.Down(m, steps) }, cmd)
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "Number of migrations to roll back, 0 for all")

	cmd.AddCommand(up, down)
	return cmd
}

func runMigrate(databaseURL string, fn func(*migrate.Migrate) error, cmd *cobra.Command) error {
	if strings.TrimSpace(databaseURL) == "" {
		return errors.New("--database-url or DATABASE_URL is required")
	}
	m, err := db.New(databaseURL)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close(m) }()
	if err := fn(m); err != nil {
		return err
	}
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		fmt.Fprintln(cmd.OutOrStdout(), "schema empty")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "schema at version %d (dirty=%t)\n", version, dirty)
	return nil
}
