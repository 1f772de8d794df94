package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/curatorhq/curator/internal/cli"
	"github.com/curatorhq/curator/internal/syncmon"
)

func syncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sweep a source and stage deletes for entities that disappeared",
		Long: `Sync compares the latest extraction from a source against the entities
tracked for it. Entities still present get their last-seen timestamp
refreshed. Entities absent for longer than the grace period get a delete
proposal staged for review; nothing is removed directly.`,
		RunE: runSync,
	}

	cmd.Flags().String("source", "", "source identifier to sweep (required)")
	cmd.Flags().String("extracted", "", "path to a JSON file of the source's current extraction (required)")
	cmd.Flags().Duration("grace-period", 0, "how long absence must persist before a delete is staged (default 168h)")
	_ = cmd.MarkFlagRequired("source")
	_ = cmd.MarkFlagRequired("extracted")

	return cmd
}

func runSync(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	sourceID, _ := cmd.Flags().GetString("source")
	extractedPath, _ := cmd.Flags().GetString("extracted")
	grace, _ := cmd.Flags().GetDuration("grace-period")

	extracted, err := loadDrafts(extractedPath)
	if err != nil {
		return err
	}

	store, err := initStorage(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	cfg := syncmon.DefaultConfig()
	cfg.SortTokens = sortTokensEnabled()
	if grace > 0 {
		cfg.GracePeriod = grace
	} else if configured := viper.GetDuration("sync.grace_period"); configured > 0 {
		cfg.GracePeriod = configured
	}

	monitor := syncmon.New(store, cfg)

	stats, err := monitor.RunSweep(ctx, sourceID, extracted)
	if err != nil {
		return fmt.Errorf("sync sweep failed: %w", err)
	}

	if stats.StagedDeletes == 0 {
		fmt.Println(cli.FormatSuccess(fmt.Sprintf(
			"Source %s: %d tracked entities, %d seen, nothing to stage", sourceID, stats.Tracked, stats.Seen)))
		return nil
	}

	fmt.Println(cli.FormatWarning(fmt.Sprintf(
		"Source %s: staged %d delete proposals across %d batches (%d tracked, %d seen, grace %s)",
		sourceID, stats.StagedDeletes, stats.Batches, stats.Tracked, stats.Seen, cfg.GracePeriod.Round(time.Hour))))

	return nil
}
