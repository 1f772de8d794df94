package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/curatorhq/curator/internal/cli"
	"github.com/curatorhq/curator/internal/model"
	"github.com/curatorhq/curator/internal/service"
)

func batchesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batches",
		Short: "List proposal batches",
		RunE:  runBatches,
	}

	cmd.Flags().String("owner", "", "only show batches for this owner")
	cmd.Flags().String("status", "", "only show batches with this status")
	cmd.Flags().Int("limit", 20, "maximum number of batches to show")

	cmd.AddCommand(batchesExpireCmd())

	return cmd
}

func runBatches(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	ownerID, _ := cmd.Flags().GetString("owner")
	status, _ := cmd.Flags().GetString("status")
	limit, _ := cmd.Flags().GetInt("limit")

	store, err := initStorage(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	batches, err := store.ListBatches(ctx, service.BatchFilter{
		OwnerID: ownerID,
		Status:  model.BatchStatus(status),
		Limit:   limit,
	})
	if err != nil {
		return fmt.Errorf("failed to list batches: %w", err)
	}

	if len(batches) == 0 {
		fmt.Println("No batches found.")
		return nil
	}

	fmt.Println(cli.RenderBatches(batches))

	return nil
}

func batchesExpireCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "expire",
		Short: "Expire unreviewed batches older than a cutoff",
		Long: `Expire marks pending and partially reviewed batches older than the cutoff
as expired. Their unresolved proposals stop being actionable; resolved
proposals keep their outcome.`,
		RunE: runBatchesExpire,
	}

	cmd.Flags().Duration("older-than", 30*24*time.Hour, "expire batches created longer ago than this")

	return cmd
}

func runBatchesExpire(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	olderThan, _ := cmd.Flags().GetDuration("older-than")

	store, err := initStorage(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	expired, err := store.ExpireStaleBatches(ctx, time.Now().Add(-olderThan))
	if err != nil {
		return fmt.Errorf("failed to expire batches: %w", err)
	}

	if expired == 0 {
		fmt.Println(cli.FormatSuccess("No stale batches to expire"))
		return nil
	}

	fmt.Println(cli.FormatSuccess(fmt.Sprintf("Expired %d stale batches", expired)))

	return nil
}
