package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/curatorhq/curator/internal/cli"
	"github.com/curatorhq/curator/internal/engine"
	"github.com/curatorhq/curator/internal/model"
)

func reconcileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Reconcile a set of extracted drafts against the entity store",
		Long: `Reconcile reads extracted drafts from a JSON file, matches them against
accepted entities by fingerprint and then semantically, and stages every
resulting change as a proposal batch for review. No accepted entity is
touched by this command.`,
		RunE: runReconcile,
	}

	cmd.Flags().String("owner", "", "owner whose entities the drafts belong to (required)")
	cmd.Flags().String("type", "", "resource type of the drafts: post, note, organization (required)")
	cmd.Flags().String("drafts", "", "path to a JSON file of extracted drafts (required)")
	_ = cmd.MarkFlagRequired("owner")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("drafts")

	return cmd
}

func runReconcile(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	ownerID, _ := cmd.Flags().GetString("owner")
	resourceType, _ := cmd.Flags().GetString("type")
	draftsPath, _ := cmd.Flags().GetString("drafts")

	rt := model.ResourceType(resourceType)
	if !rt.Valid() {
		return fmt.Errorf("unknown resource type %q", resourceType)
	}

	drafts, err := loadDrafts(draftsPath)
	if err != nil {
		return err
	}
	for i := range drafts {
		drafts[i].OwnerID = ownerID
		drafts[i].ResourceType = rt
	}

	store, err := initStorage(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	reasoner, err := initReasoner()
	if err != nil {
		return err
	}

	cfg := engine.DefaultConfig()
	cfg.SortTokens = sortTokensEnabled()
	eng := engine.NewWithConfig(store, reasoner, ownerLocks, cfg)

	slog.Debug("loaded drafts", "count", len(drafts), "path", draftsPath)

	batch, stats, err := eng.Run(ctx, ownerID, rt, drafts)
	if err != nil {
		return fmt.Errorf("reconciliation failed: %w", err)
	}

	if batch.ProposalCount == 0 {
		fmt.Println(cli.FormatSuccess(fmt.Sprintf(
			"All %d drafts matched existing entities; nothing to review (batch %s)", stats.Drafts, batch.ID)))
		return nil
	}

	fmt.Println(cli.FormatSuccess(fmt.Sprintf(
		"Staged batch %s with %d proposals (%d exact matches, %d reasoning calls, %s)",
		batch.ID, stats.Proposals, stats.ExactMatches, stats.SemanticCalls, stats.Duration.Round(10*time.Millisecond))))
	fmt.Fprintf(os.Stdout, "\nReview with: curator proposals %s\n", batch.ID)

	return nil
}
