package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/curatorhq/curator/internal/cli"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run any pending database migrations",
		RunE:  runMigrate,
	}
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	store, err := initStorage(cmd.Context())
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	defer store.Close()

	fmt.Println(cli.FormatSuccess("Database schema is up to date"))

	return nil
}
