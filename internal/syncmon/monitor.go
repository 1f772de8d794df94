// Package syncmon watches re-crawls of a source: entities seen again get
// their last_seen_at refreshed, and entities absent past a grace window get
// a delete proposal staged through the normal review pipeline.
package syncmon

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/curatorhq/curator/internal/model"
	"github.com/curatorhq/curator/internal/service"
)

// Config holds sync monitor options.
type Config struct {
	// GracePeriod is how long an entity must stay unseen before expiry is
	// staged. Absence must persist across the window so transient crawl
	// failures do not flap entities in and out of existence.
	GracePeriod time.Duration
	// SortTokens mirrors the engine's fingerprint policy flag.
	SortTokens bool
}

// DefaultConfig returns the default sync monitor configuration.
func DefaultConfig() Config {
	return Config{
		GracePeriod: 7 * 24 * time.Hour,
	}
}

// Monitor stages expiry for entities that disappeared from their source.
type Monitor struct {
	storage service.Storage
	config  Config
}

// New creates a sync monitor.
func New(storage service.Storage, config Config) *Monitor {
	if config.GracePeriod <= 0 {
		config.GracePeriod = DefaultConfig().GracePeriod
	}
	return &Monitor{
		storage: storage,
		config:  config,
	}
}

// SweepStats reports the outcome of one sweep.
type SweepStats struct {
	Tracked       int
	Seen          int
	StagedDeletes int
	Batches       int
}

// RunSweep compares a fresh extraction of a source against the entities tied
// to it. Seen entities are refreshed; entities unseen longer than the grace
// period get a delete proposal, one batch per owner and resource type.
func (m *Monitor) RunSweep(ctx context.Context, sourceID string, extracted []model.DraftEntity) (SweepStats, error) {
	var stats SweepStats

	if sourceID == "" {
		return stats, fmt.Errorf("source ID is required")
	}

	entities, err := m.storage.ListEntities(ctx, service.EntityFilter{
		SourceID: sourceID,
		Status:   model.EntityActive,
	})
	if err != nil {
		return stats, fmt.Errorf("failed to list entities for source %s: %w", sourceID, err)
	}
	stats.Tracked = len(entities)
	if len(entities) == 0 {
		return stats, nil
	}

	normalizer := model.Normalizer{SortTokens: m.config.SortTokens}
	fresh := make(map[string]bool, len(extracted))
	for _, draft := range extracted {
		fresh[normalizer.Fingerprint(draft.Content)] = true
	}

	now := time.Now()
	var seenIDs []string
	var unseen []model.ManagedEntity

	for _, entity := range entities {
		fp := entity.ContentFingerprint
		if fp == "" {
			fp = normalizer.Fingerprint(entity.Content)
		}
		if fresh[fp] {
			seenIDs = append(seenIDs, entity.ID)
			continue
		}

		lastSeen := entity.LastSeenAt
		if lastSeen.IsZero() {
			lastSeen = entity.CreatedAt
		}
		if now.Sub(lastSeen) > m.config.GracePeriod {
			unseen = append(unseen, entity)
		}
	}

	if len(seenIDs) > 0 {
		if err := m.storage.TouchEntitiesSeen(ctx, seenIDs, now); err != nil {
			return stats, fmt.Errorf("failed to refresh seen entities: %w", err)
		}
		stats.Seen = len(seenIDs)
	}

	if len(unseen) == 0 {
		return stats, nil
	}

	staged, batches, err := m.stageDeletes(ctx, sourceID, unseen)
	if err != nil {
		return stats, err
	}
	stats.StagedDeletes = staged
	stats.Batches = batches

	slog.Info("Sync sweep complete",
		"source_id", sourceID,
		"tracked", stats.Tracked,
		"seen", stats.Seen,
		"staged_deletes", stats.StagedDeletes)
	return stats, nil
}

// stageDeletes creates delete proposals for unseen entities, one batch per
// owner and resource type, skipping entities already covered by a pending
// delete so repeated sweeps do not pile up duplicate proposals.
func (m *Monitor) stageDeletes(ctx context.Context, sourceID string, unseen []model.ManagedEntity) (staged, batches int, err error) {
	type scope struct {
		ownerID      string
		resourceType model.ResourceType
	}

	byScope := make(map[scope][]model.ManagedEntity)
	for _, entity := range unseen {
		key := scope{entity.OwnerID, entity.ResourceType}
		byScope[key] = append(byScope[key], entity)
	}

	for key, scoped := range byScope {
		pendingDeletes, listErr := m.storage.ListPendingDeleteProposals(ctx, key.ownerID, key.resourceType)
		if listErr != nil {
			return staged, batches, fmt.Errorf("failed to list pending deletes: %w", listErr)
		}
		alreadyStaged := make(map[string]bool, len(pendingDeletes))
		for _, p := range pendingDeletes {
			alreadyStaged[p.TargetEntityID] = true
		}

		var proposals []model.Proposal
		for _, entity := range scoped {
			if alreadyStaged[entity.ID] {
				continue
			}
			proposals = append(proposals, model.Proposal{
				ID:             uuid.New().String(),
				Operation:      model.OpDelete,
				TargetEntityID: entity.ID,
				Reason: fmt.Sprintf("Absent from source %s since %s, past the %s grace period",
					sourceID, entity.LastSeenAt.Format("2006-01-02"), m.config.GracePeriod),
				Status: model.ProposalPending,
			})
		}
		if len(proposals) == 0 {
			continue
		}

		batch := &model.Batch{
			ID:            uuid.New().String(),
			OwnerID:       key.ownerID,
			ResourceType:  key.resourceType,
			Status:        model.BatchPending,
			ProposalCount: len(proposals),
			Summary:       fmt.Sprintf("Sync sweep of %s: %d entities no longer present", sourceID, len(proposals)),
		}
		for i := range proposals {
			proposals[i].BatchID = batch.ID
		}

		tx, txErr := m.storage.BeginTx(ctx)
		if txErr != nil {
			return staged, batches, txErr
		}
		if err := tx.CreateBatch(ctx, batch); err != nil {
			_ = tx.Rollback()
			return staged, batches, err
		}
		if err := tx.CreateProposals(ctx, proposals); err != nil {
			_ = tx.Rollback()
			return staged, batches, err
		}
		if err := tx.Commit(); err != nil {
			return staged, batches, err
		}

		staged += len(proposals)
		batches++
	}
	return staged, batches, nil
}
