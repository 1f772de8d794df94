// Package matcher implements two-tier duplicate detection: fingerprint
// equality as the fast path, and semantic grouping through the reasoning
// service for near-duplicates worded differently.
package matcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/curatorhq/curator/internal/common"
	"github.com/curatorhq/curator/internal/model"
	"github.com/curatorhq/curator/internal/service"
)

// Config holds matcher tuning options.
type Config struct {
	// SemanticBatchSize bounds how many candidates go to the reasoning
	// service per call.
	SemanticBatchSize int
	// SemanticTimeout bounds each reasoning call. On timeout the affected
	// candidates are simply not grouped.
	SemanticTimeout time.Duration
	// MinConfidence discards groups the reasoning service was unsure about.
	MinConfidence float64
}

// DefaultConfig returns the default matcher configuration.
func DefaultConfig() Config {
	return Config{
		SemanticBatchSize: 20,
		SemanticTimeout:   45 * time.Second,
		MinConfidence:     0.7,
	}
}

// Matcher groups candidate entities that describe the same real-world thing.
// A matcher instance is scoped to one reconciliation run.
type Matcher struct {
	reasoner   service.Reasoner
	normalizer model.Normalizer
	config     Config
}

// New creates a matcher. The reasoner may be nil, in which case only the
// fingerprint tier runs.
func New(reasoner service.Reasoner, normalizer model.Normalizer, config Config) *Matcher {
	if config.SemanticBatchSize <= 0 {
		config.SemanticBatchSize = DefaultConfig().SemanticBatchSize
	}
	if config.SemanticTimeout <= 0 {
		config.SemanticTimeout = DefaultConfig().SemanticTimeout
	}
	return &Matcher{
		reasoner:   reasoner,
		normalizer: normalizer,
		config:     config,
	}
}

// Fingerprint exposes the run's normalizer so callers agree on fingerprints.
func (m *Matcher) Fingerprint(text string) string {
	return m.normalizer.Fingerprint(text)
}

// ExactMatch reports whether two contents fingerprint identically.
func (m *Matcher) ExactMatch(a, b string) bool {
	return m.normalizer.Fingerprint(a) == m.normalizer.Fingerprint(b)
}

// IndexByFingerprint builds a fingerprint index over stored entities so the
// exact tier is a hash lookup per draft instead of a pairwise scan.
func (m *Matcher) IndexByFingerprint(entities []model.ManagedEntity) map[string][]model.ManagedEntity {
	index := make(map[string][]model.ManagedEntity, len(entities))
	for _, entity := range entities {
		fp := entity.ContentFingerprint
		if fp == "" {
			fp = m.normalizer.Fingerprint(entity.Content)
		}
		index[fp] = append(index[fp], entity)
	}
	return index
}

// SemanticGroups sends drafts that survived the exact tier, together with
// the stored entities they might duplicate, to the reasoning service.
// Upstream failures degrade to no grouping: a missed match only costs a
// redundant proposal, a wrong match corrupts accepted data.
func (m *Matcher) SemanticGroups(ctx context.Context, drafts []model.DraftEntity, stored []model.ManagedEntity) []model.MatchGroup {
	if m.reasoner == nil || len(drafts) == 0 {
		return nil
	}

	storedCandidates := make([]service.MatchCandidate, 0, len(stored))
	for _, entity := range stored {
		storedCandidates = append(storedCandidates, service.MatchCandidate{
			ID:       entity.ID,
			Title:    entity.Title,
			Content:  entity.Content,
			Audience: entity.Audience,
			Status:   string(entity.Status),
		})
	}

	var groups []model.MatchGroup
	for start := 0; start < len(drafts); start += m.config.SemanticBatchSize {
		end := start + m.config.SemanticBatchSize
		if end > len(drafts) {
			end = len(drafts)
		}

		candidates := make([]service.MatchCandidate, 0, len(storedCandidates)+end-start)
		candidates = append(candidates, storedCandidates...)
		for _, draft := range drafts[start:end] {
			candidates = append(candidates, service.MatchCandidate{
				ID:       draft.ID,
				Title:    draft.Title,
				Content:  draft.Content,
				Audience: draft.Audience,
			})
		}

		batchGroups, err := m.matchBatch(ctx, candidates)
		if err != nil {
			slog.Warn("Semantic match batch failed, leaving candidates ungrouped",
				"batch_start", start,
				"batch_size", end-start,
				"error", err)
			continue
		}
		groups = append(groups, batchGroups...)
	}

	return m.repairGroups(groups, drafts, stored)
}

func (m *Matcher) matchBatch(ctx context.Context, candidates []service.MatchCandidate) ([]model.MatchGroup, error) {
	callCtx, cancel := context.WithTimeout(ctx, m.config.SemanticTimeout)
	defer cancel()

	var groups []model.MatchGroup
	err := common.WithRetry(callCtx, func() error {
		var matchErr error
		groups, matchErr = m.reasoner.MatchGroups(callCtx, candidates)
		if matchErr != nil && !common.IsRetryable(matchErr) {
			return &common.RetryableError{Err: matchErr, Retryable: false}
		}
		return matchErr
	}, service.RetryOptions{
		MaxAttempts:  2,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
	})
	if err != nil {
		return nil, fmt.Errorf("semantic match failed: %w", err)
	}
	return groups, nil
}

// repairGroups enforces the canonical-selection rules locally rather than
// trusting the reasoning service to have followed its instructions:
// an active stored entity always wins canonical over a draft, and if no
// stored member exists the most complete draft is chosen. Low-confidence
// and single-member groups are dropped.
func (m *Matcher) repairGroups(groups []model.MatchGroup, drafts []model.DraftEntity, stored []model.ManagedEntity) []model.MatchGroup {
	storedByID := make(map[string]model.ManagedEntity, len(stored))
	for _, entity := range stored {
		storedByID[entity.ID] = entity
	}
	draftsByID := make(map[string]model.DraftEntity, len(drafts))
	for _, draft := range drafts {
		draftsByID[draft.ID] = draft
	}

	repaired := make([]model.MatchGroup, 0, len(groups))
	claimed := make(map[string]bool)

	for _, group := range groups {
		if len(group.MemberIDs) < 2 {
			continue
		}
		if group.Confidence < m.config.MinConfidence {
			slog.Debug("Dropping low-confidence match group",
				"group", group.Name,
				"confidence", group.Confidence)
			continue
		}

		// A candidate may appear in at most one group.
		overlap := false
		for _, id := range group.MemberIDs {
			if claimed[id] {
				overlap = true
				break
			}
		}
		if overlap {
			continue
		}

		group.CanonicalID = m.selectCanonical(group, storedByID, draftsByID)
		if group.CanonicalID == "" {
			continue
		}

		for _, id := range group.MemberIDs {
			claimed[id] = true
		}
		repaired = append(repaired, group)
	}
	return repaired
}

func (m *Matcher) selectCanonical(group model.MatchGroup, storedByID map[string]model.ManagedEntity, draftsByID map[string]model.DraftEntity) string {
	// Prefer an active stored member; the proposed canonical if it is one.
	var activeID string
	for _, id := range group.MemberIDs {
		entity, ok := storedByID[id]
		if !ok || entity.Status != model.EntityActive {
			continue
		}
		if id == group.CanonicalID {
			return id
		}
		if activeID == "" {
			activeID = id
		}
	}
	if activeID != "" {
		return activeID
	}

	// All members are drafts: keep the service's pick if it is a member,
	// otherwise take the most complete draft.
	if _, ok := draftsByID[group.CanonicalID]; ok && group.Contains(group.CanonicalID) {
		return group.CanonicalID
	}

	best := ""
	bestScore := -1
	for _, id := range group.MemberIDs {
		draft, ok := draftsByID[id]
		if !ok {
			continue
		}
		if score := draft.Completeness(); score > bestScore {
			best = id
			bestScore = score
		}
	}
	return best
}
