package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/curatorhq/curator/internal/cli"
)

func proposalsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "proposals <batch-id>",
		Short: "Show the proposals in a batch",
		Args:  cobra.ExactArgs(1),
		RunE:  runProposals,
	}
}

func runProposals(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	batchID := args[0]

	store, err := initStorage(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	batch, err := store.GetBatch(ctx, batchID)
	if err != nil {
		return fmt.Errorf("failed to load batch: %w", err)
	}

	proposals, err := store.ListProposals(ctx, batchID)
	if err != nil {
		return fmt.Errorf("failed to list proposals: %w", err)
	}

	fmt.Println(cli.RenderBatchHeader(*batch))
	if len(proposals) == 0 {
		fmt.Println("No proposals in this batch.")
		return nil
	}

	fmt.Println(cli.RenderProposals(proposals))

	return nil
}
