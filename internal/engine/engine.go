// Package engine implements the reconciliation engine: it compares freshly
// extracted drafts against the entity store and stages every proposed
// mutation as a reviewable proposal instead of applying it.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/curatorhq/curator/internal/locks"
	"github.com/curatorhq/curator/internal/matcher"
	"github.com/curatorhq/curator/internal/model"
	"github.com/curatorhq/curator/internal/service"
)

// Config holds configuration options for the reconciliation engine.
type Config struct {
	Matcher matcher.Config
	// SortTokens makes fingerprints ignore word order. Policy flag; off by
	// default.
	SortTokens bool
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Matcher:    matcher.DefaultConfig(),
		SortTokens: false,
	}
}

// ReconciliationEngine orchestrates a reconciliation run for one owner and
// resource type.
type ReconciliationEngine struct {
	storage    service.Storage
	reasoner   service.Reasoner
	ownerLocks *locks.Keyed
	config     Config
}

// New creates a new reconciliation engine with the given dependencies.
// ownerLocks must be shared with the approval workflow so runs and
// batch-level applies for the same owner serialize against each other.
func New(storage service.Storage, reasoner service.Reasoner, ownerLocks *locks.Keyed) *ReconciliationEngine {
	return NewWithConfig(storage, reasoner, ownerLocks, DefaultConfig())
}

// NewWithConfig creates a new reconciliation engine with custom configuration.
func NewWithConfig(storage service.Storage, reasoner service.Reasoner, ownerLocks *locks.Keyed, config Config) *ReconciliationEngine {
	return &ReconciliationEngine{
		storage:    storage,
		reasoner:   reasoner,
		ownerLocks: ownerLocks,
		config:     config,
	}
}

// Run reconciles the drafts against the store and produces a batch of
// proposals. An empty batch is valid: it means nothing actionable was found.
func (e *ReconciliationEngine) Run(ctx context.Context, ownerID string, resourceType model.ResourceType, drafts []model.DraftEntity) (*model.Batch, service.RunStats, error) {
	stats := service.RunStats{Drafts: len(drafts)}
	started := time.Now()

	if ownerID == "" {
		return nil, stats, fmt.Errorf("owner ID is required")
	}
	if !resourceType.Valid() {
		return nil, stats, fmt.Errorf("unknown resource type %q", resourceType)
	}

	// Group membership is keyed on draft id, so every draft needs a
	// distinct one even when the extractor supplied none.
	for i := range drafts {
		if drafts[i].ID == "" {
			drafts[i].ID = uuid.New().String()
		}
	}

	release, err := e.ownerLocks.Acquire(ctx, ownerID)
	if err != nil {
		return nil, stats, fmt.Errorf("failed to acquire owner lock: %w", err)
	}
	defer release()

	slog.Info("Starting reconciliation run",
		"owner_id", ownerID,
		"resource_type", resourceType,
		"drafts", len(drafts))

	stored, err := e.storage.ListEntities(ctx, service.EntityFilter{
		OwnerID:      ownerID,
		ResourceType: resourceType,
		Status:       model.EntityActive,
	})
	if err != nil {
		return nil, stats, fmt.Errorf("failed to load stored entities: %w", err)
	}

	m := matcher.New(e.reasoner, model.Normalizer{SortTokens: e.config.SortTokens}, e.config.Matcher)

	// Exact tier: a draft whose fingerprint matches a stored active entity
	// is the same content seen again. Refresh last_seen_at, stage nothing.
	fingerprintIndex := m.IndexByFingerprint(stored)
	bySource := indexBySource(stored)

	var seenIDs []string
	var updates []model.Proposal
	var semanticCandidates []model.DraftEntity

	for _, draft := range drafts {
		fp := m.Fingerprint(draft.Content)

		if matches, ok := fingerprintIndex[fp]; ok {
			for _, entity := range matches {
				seenIDs = append(seenIDs, entity.ID)
			}
			stats.ExactMatches++
			continue
		}

		// Same source, different fingerprint: the source changed its
		// content, so the stored entity needs an update.
		if draft.SourceID != "" {
			if target, ok := bySource[draft.SourceID]; ok {
				updates = append(updates, model.Proposal{
					ID:             uuid.New().String(),
					Operation:      model.OpUpdate,
					TargetEntityID: target.ID,
					DraftEntityID:  draft.ID,
					Draft:          draftContent(draft),
					Reason:         fmt.Sprintf("Content at source %s changed since last acceptance", draft.SourceID),
					Status:         model.ProposalPending,
				})
				seenIDs = append(seenIDs, target.ID)
				continue
			}
		}

		semanticCandidates = append(semanticCandidates, draft)
	}

	// Semantic tier: near-duplicates worded differently. Failures degrade
	// to fingerprint-only matching; the run still produces a valid batch.
	var groups []model.MatchGroup
	if len(semanticCandidates) > 0 && e.reasoner != nil {
		groups = m.SemanticGroups(ctx, semanticCandidates, stored)
		stats.SemanticCalls = (len(semanticCandidates) + e.config.Matcher.SemanticBatchSize - 1) / e.config.Matcher.SemanticBatchSize
	}

	proposals := updates
	proposals = append(proposals, e.proposalsFromGroups(groups, semanticCandidates, stored)...)
	proposals = append(proposals, e.insertsForUngrouped(groups, semanticCandidates)...)

	batch := &model.Batch{
		ID:            uuid.New().String(),
		OwnerID:       ownerID,
		ResourceType:  resourceType,
		Status:        model.BatchPending,
		ProposalCount: len(proposals),
		Summary:       summarize(len(drafts), stats.ExactMatches, proposals),
		CreatedAt:     started,
	}
	batch.Status = model.DeriveBatchStatus(*batch)

	for i := range proposals {
		proposals[i].BatchID = batch.ID
	}

	if err := e.persist(ctx, batch, proposals); err != nil {
		return nil, stats, err
	}

	if len(seenIDs) > 0 {
		if touchErr := e.storage.TouchEntitiesSeen(ctx, seenIDs, time.Now()); touchErr != nil {
			slog.Warn("Failed to refresh last_seen_at", "error", touchErr)
		}
	}

	stats.Proposals = len(proposals)
	stats.Duration = time.Since(started)

	slog.Info("Reconciliation run complete",
		"batch_id", batch.ID,
		"proposals", len(proposals),
		"exact_matches", stats.ExactMatches,
		"duration", stats.Duration)

	return batch, stats, nil
}

// persist writes the batch and its proposals in one store transaction so a
// half-created batch is never visible.
func (e *ReconciliationEngine) persist(ctx context.Context, batch *model.Batch, proposals []model.Proposal) error {
	tx, err := e.storage.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := tx.CreateBatch(ctx, batch); err != nil {
		return err
	}
	if len(proposals) > 0 {
		if err := tx.CreateProposals(ctx, proposals); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

// proposalsFromGroups turns repaired match groups into proposals.
func (e *ReconciliationEngine) proposalsFromGroups(groups []model.MatchGroup, drafts []model.DraftEntity, stored []model.ManagedEntity) []model.Proposal {
	storedByID := make(map[string]model.ManagedEntity, len(stored))
	for _, entity := range stored {
		storedByID[entity.ID] = entity
	}
	draftsByID := make(map[string]model.DraftEntity, len(drafts))
	for _, draft := range drafts {
		draftsByID[draft.ID] = draft
	}

	var proposals []model.Proposal
	for _, group := range groups {
		var storedMembers []model.ManagedEntity
		var draftMembers []model.DraftEntity
		for _, id := range group.MemberIDs {
			if entity, ok := storedByID[id]; ok {
				storedMembers = append(storedMembers, entity)
			} else if draft, ok := draftsByID[id]; ok {
				draftMembers = append(draftMembers, draft)
			}
		}

		canonical, canonicalIsStored := storedByID[group.CanonicalID]

		switch {
		case canonicalIsStored && len(storedMembers) > 1:
			// Several accepted entities describe the same thing: merge the
			// others into the canonical, carrying the best draft content.
			absorbed := make([]string, 0, len(storedMembers)-1)
			for _, entity := range storedMembers {
				if entity.ID != canonical.ID {
					absorbed = append(absorbed, entity.ID)
				}
			}
			proposals = append(proposals, model.Proposal{
				ID:             uuid.New().String(),
				Operation:      model.OpMerge,
				TargetEntityID: canonical.ID,
				MergeSourceIDs: absorbed,
				Draft:          mergeContent(canonical, draftMembers),
				Reason:         group.Reasoning,
				Status:         model.ProposalPending,
			})

		case canonicalIsStored:
			// One accepted entity plus near-duplicate drafts: the drafts
			// refine the accepted entity, never replace it.
			best, ok := bestDraft(draftMembers)
			if !ok {
				continue
			}
			proposals = append(proposals, model.Proposal{
				ID:             uuid.New().String(),
				Operation:      model.OpUpdate,
				TargetEntityID: canonical.ID,
				DraftEntityID:  best.ID,
				Draft:          draftContent(best),
				Reason:         group.Reasoning,
				Status:         model.ProposalPending,
			})

		default:
			// All members are drafts: collapse them into one insert from
			// the canonical draft.
			canonicalDraft, ok := draftsByID[group.CanonicalID]
			if !ok {
				continue
			}
			reason := group.Reasoning
			if len(draftMembers) > 1 {
				reason = fmt.Sprintf("%s (collapsed %d duplicate drafts)", group.Reasoning, len(draftMembers)-1)
			}
			proposals = append(proposals, model.Proposal{
				ID:            uuid.New().String(),
				Operation:     model.OpInsert,
				DraftEntityID: canonicalDraft.ID,
				Draft:         draftContent(canonicalDraft),
				Reason:        reason,
				Status:        model.ProposalPending,
			})
		}
	}
	return proposals
}

// insertsForUngrouped stages an insert for every semantic candidate no group
// claimed: it is genuinely new content.
func (e *ReconciliationEngine) insertsForUngrouped(groups []model.MatchGroup, candidates []model.DraftEntity) []model.Proposal {
	grouped := make(map[string]bool)
	for _, group := range groups {
		for _, id := range group.MemberIDs {
			grouped[id] = true
		}
	}

	var proposals []model.Proposal
	for _, draft := range candidates {
		if grouped[draft.ID] {
			continue
		}
		proposals = append(proposals, model.Proposal{
			ID:            uuid.New().String(),
			Operation:     model.OpInsert,
			DraftEntityID: draft.ID,
			Draft:         draftContent(draft),
			Reason:        "New content with no stored counterpart",
			Status:        model.ProposalPending,
		})
	}
	return proposals
}

func indexBySource(entities []model.ManagedEntity) map[string]model.ManagedEntity {
	index := make(map[string]model.ManagedEntity, len(entities))
	for _, entity := range entities {
		if entity.SourceID == "" {
			continue
		}
		if _, exists := index[entity.SourceID]; !exists {
			index[entity.SourceID] = entity
		}
	}
	return index
}

func draftContent(draft model.DraftEntity) model.DraftContent {
	return model.DraftContent{
		Title:    draft.Title,
		Content:  draft.Content,
		Audience: draft.Audience,
		SourceID: draft.SourceID,
	}
}

// mergeContent picks the content the canonical entity should carry after a
// merge: the most complete draft in the group if one improves on the
// canonical, otherwise the canonical's current content.
func mergeContent(canonical model.ManagedEntity, drafts []model.DraftEntity) model.DraftContent {
	if best, ok := bestDraft(drafts); ok && len(best.Content) > len(canonical.Content) {
		return draftContent(best)
	}
	return model.DraftContent{
		Title:    canonical.Title,
		Content:  canonical.Content,
		Audience: canonical.Audience,
		SourceID: canonical.SourceID,
	}
}

func bestDraft(drafts []model.DraftEntity) (model.DraftEntity, bool) {
	if len(drafts) == 0 {
		return model.DraftEntity{}, false
	}
	best := drafts[0]
	for _, draft := range drafts[1:] {
		if draft.Completeness() > best.Completeness() {
			best = draft
		}
	}
	return best, true
}

func summarize(drafts, exact int, proposals []model.Proposal) string {
	counts := make(map[model.Operation]int, 4)
	for _, p := range proposals {
		counts[p.Operation]++
	}
	return fmt.Sprintf("%d drafts: %d unchanged, %d inserts, %d updates, %d merges",
		drafts, exact, counts[model.OpInsert], counts[model.OpUpdate], counts[model.OpMerge])
}
