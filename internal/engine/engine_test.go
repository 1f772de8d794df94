package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curatorhq/curator/internal/locks"
	"github.com/curatorhq/curator/internal/model"
	"github.com/curatorhq/curator/internal/service"
	"github.com/curatorhq/curator/internal/storage"
)

func newTestStorage(t *testing.T) *storage.SQLiteStorage {
	t.Helper()
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedEntity(t *testing.T, store *storage.SQLiteStorage, ownerID, sourceID, content string) *model.ManagedEntity {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Second)
	entity := &model.ManagedEntity{
		ID:                 uuid.New().String(),
		OwnerID:            ownerID,
		SourceID:           sourceID,
		Title:              "Seeded",
		Content:            content,
		ResourceType:       model.ResourcePost,
		Status:             model.EntityActive,
		ContentFingerprint: model.Normalizer{}.Fingerprint(content),
		LastSeenAt:         now.Add(-24 * time.Hour),
		CreatedAt:          now.Add(-24 * time.Hour),
		UpdatedAt:          now.Add(-24 * time.Hour),
	}
	require.NoError(t, store.SaveEntity(context.Background(), entity))
	return entity
}

func draft(content string) model.DraftEntity {
	return model.DraftEntity{
		ID:           uuid.New().String(),
		OwnerID:      "owner-1",
		ResourceType: model.ResourcePost,
		Content:      content,
		ExtractedAt:  time.Now(),
	}
}

func TestRunValidatesInput(t *testing.T) {
	store := newTestStorage(t)
	eng := New(store, &MockReasoner{}, locks.NewKeyed())
	ctx := context.Background()

	_, _, err := eng.Run(ctx, "", model.ResourcePost, nil)
	assert.Error(t, err)

	_, _, err = eng.Run(ctx, "owner-1", model.ResourceType("bogus"), nil)
	assert.Error(t, err)
}

func TestRunExactMatchRefreshesWithoutProposal(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	entity := seedEntity(t, store, "owner-1", "src-1", "Release notes for version two")
	reasoner := &MockReasoner{}
	eng := New(store, reasoner, locks.NewKeyed())

	// Same content, different casing and punctuation: exact tier catches it.
	batch, stats, err := eng.Run(ctx, "owner-1", model.ResourcePost, []model.DraftEntity{
		draft("Release Notes for Version Two!"),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, stats.ExactMatches)
	assert.Equal(t, 0, stats.Proposals)
	assert.Equal(t, model.BatchCompleted, batch.Status)
	assert.Empty(t, reasoner.MatchCalls, "exact matches must not reach the reasoning service")

	// The stored entity was marked seen, not modified.
	got, err := store.GetEntity(ctx, entity.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.Content, got.Content)
	assert.True(t, got.LastSeenAt.After(entity.LastSeenAt))
}

func TestRunStagesUpdateForChangedSource(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	entity := seedEntity(t, store, "owner-1", "src-1", "Original wording")
	eng := New(store, &MockReasoner{}, locks.NewKeyed())

	changed := draft("Completely new wording from the same place")
	changed.SourceID = "src-1"

	batch, stats, err := eng.Run(ctx, "owner-1", model.ResourcePost, []model.DraftEntity{changed})
	require.NoError(t, err)
	require.Equal(t, 1, stats.Proposals)

	proposals, err := store.ListProposals(ctx, batch.ID)
	require.NoError(t, err)
	require.Len(t, proposals, 1)

	p := proposals[0]
	assert.Equal(t, model.OpUpdate, p.Operation)
	assert.Equal(t, entity.ID, p.TargetEntityID)
	assert.Equal(t, changed.Content, p.Draft.Content)
	assert.Equal(t, model.ProposalPending, p.Status)

	// Staging never touches the entity itself.
	got, err := store.GetEntity(ctx, entity.ID)
	require.NoError(t, err)
	assert.Equal(t, "Original wording", got.Content)
}

func TestRunStagesInsertForNewContent(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	eng := New(store, &MockReasoner{}, locks.NewKeyed())

	batch, stats, err := eng.Run(ctx, "owner-1", model.ResourcePost, []model.DraftEntity{
		draft("Brand new announcement"),
	})
	require.NoError(t, err)
	require.Equal(t, 1, stats.Proposals)

	proposals, err := store.ListProposals(ctx, batch.ID)
	require.NoError(t, err)
	require.Len(t, proposals, 1)
	assert.Equal(t, model.OpInsert, proposals[0].Operation)
	assert.Empty(t, proposals[0].TargetEntityID)
	assert.Equal(t, model.BatchPending, batch.Status)
}

func TestRunSemanticMergeAndCollapse(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	a := seedEntity(t, store, "owner-1", "src-a", "Offsite agenda first draft")
	b := seedEntity(t, store, "owner-1", "src-b", "Agenda for the offsite, first pass")

	d1 := draft("Town hall recap")
	d2 := draft("Recap of the town hall, with highlights and action items")

	reasoner := &MockReasoner{
		MatchGroupsFunc: func(_ context.Context, _ []service.MatchCandidate) ([]model.MatchGroup, error) {
			return []model.MatchGroup{
				{
					Name:        "offsite agenda",
					CanonicalID: a.ID,
					MemberIDs:   []string{a.ID, b.ID},
					Confidence:  0.92,
					Reasoning:   "Both describe the offsite agenda",
				},
				{
					Name:        "town hall recap",
					CanonicalID: d1.ID,
					MemberIDs:   []string{d1.ID, d2.ID},
					Confidence:  0.88,
					Reasoning:   "Both recap the town hall",
				},
			}, nil
		},
	}
	eng := New(store, reasoner, locks.NewKeyed())

	batch, stats, err := eng.Run(ctx, "owner-1", model.ResourcePost, []model.DraftEntity{d1, d2})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Proposals)

	proposals, err := store.ListProposals(ctx, batch.ID)
	require.NoError(t, err)
	require.Len(t, proposals, 2)

	byOp := make(map[model.Operation]model.Proposal)
	for _, p := range proposals {
		byOp[p.Operation] = p
	}

	merge, ok := byOp[model.OpMerge]
	require.True(t, ok, "expected a merge proposal for the duplicate stored pair")
	assert.Equal(t, a.ID, merge.TargetEntityID)
	assert.Equal(t, []string{b.ID}, merge.MergeSourceIDs)

	insert, ok := byOp[model.OpInsert]
	require.True(t, ok, "expected a collapsed insert for the duplicate drafts")
	// The group's canonical draft supplies the content even when another
	// member is longer.
	assert.Equal(t, d1.Content, insert.Draft.Content)
	assert.Contains(t, insert.Reason, "collapsed 1 duplicate")
}

func TestRunSemanticUpdateAgainstStoredCanonical(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	entity := seedEntity(t, store, "owner-1", "src-1", "Old phrasing of the policy")
	d := draft("The policy, freshly rephrased with more detail than before")

	reasoner := &MockReasoner{
		MatchGroupsFunc: func(_ context.Context, _ []service.MatchCandidate) ([]model.MatchGroup, error) {
			return []model.MatchGroup{
				{
					CanonicalID: entity.ID,
					MemberIDs:   []string{entity.ID, d.ID},
					Confidence:  0.9,
					Reasoning:   "Same policy, new phrasing",
				},
			}, nil
		},
	}
	eng := New(store, reasoner, locks.NewKeyed())

	batch, _, err := eng.Run(ctx, "owner-1", model.ResourcePost, []model.DraftEntity{d})
	require.NoError(t, err)

	proposals, err := store.ListProposals(ctx, batch.ID)
	require.NoError(t, err)
	require.Len(t, proposals, 1)
	assert.Equal(t, model.OpUpdate, proposals[0].Operation)
	assert.Equal(t, entity.ID, proposals[0].TargetEntityID)
}

func TestRunAssignsIDsToAnonymousDrafts(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	entity := seedEntity(t, store, "owner-1", "src-1", "Quarterly planning summary")

	// Extractors may omit draft ids entirely. Two anonymous drafts must not
	// share an identity: grouping one of them may not swallow the other.
	related := model.DraftEntity{
		OwnerID:      "owner-1",
		ResourceType: model.ResourcePost,
		Content:      "Summary of the quarterly planning session",
		ExtractedAt:  time.Now(),
	}
	unrelated := model.DraftEntity{
		OwnerID:      "owner-1",
		ResourceType: model.ResourcePost,
		Content:      "Notes from the security incident review",
		ExtractedAt:  time.Now(),
	}

	reasoner := &MockReasoner{
		MatchGroupsFunc: func(_ context.Context, candidates []service.MatchCandidate) ([]model.MatchGroup, error) {
			for _, c := range candidates {
				if c.Content == related.Content {
					return []model.MatchGroup{
						{
							CanonicalID: entity.ID,
							MemberIDs:   []string{entity.ID, c.ID},
							Confidence:  0.9,
							Reasoning:   "Same planning summary",
						},
					}, nil
				}
			}
			return nil, nil
		},
	}
	eng := New(store, reasoner, locks.NewKeyed())

	batch, stats, err := eng.Run(ctx, "owner-1", model.ResourcePost, []model.DraftEntity{related, unrelated})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Proposals)

	proposals, err := store.ListProposals(ctx, batch.ID)
	require.NoError(t, err)
	require.Len(t, proposals, 2)

	byOp := make(map[model.Operation]model.Proposal)
	for _, p := range proposals {
		byOp[p.Operation] = p
	}

	update, ok := byOp[model.OpUpdate]
	require.True(t, ok, "grouped draft should update the stored entity")
	assert.Equal(t, entity.ID, update.TargetEntityID)

	insert, ok := byOp[model.OpInsert]
	require.True(t, ok, "ungrouped draft must still be staged as an insert")
	assert.Equal(t, unrelated.Content, insert.Draft.Content)
	assert.NotEmpty(t, insert.DraftEntityID)
}

func TestRunReasonerFailureStillProducesBatch(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	seedEntity(t, store, "owner-1", "src-1", "Some stored content")

	reasoner := &MockReasoner{
		MatchGroupsFunc: func(_ context.Context, _ []service.MatchCandidate) ([]model.MatchGroup, error) {
			return nil, context.DeadlineExceeded
		},
	}
	eng := New(store, reasoner, locks.NewKeyed())

	batch, stats, err := eng.Run(ctx, "owner-1", model.ResourcePost, []model.DraftEntity{
		draft("unmatched new content"),
	})
	require.NoError(t, err, "reasoning failure must not fail the run")
	assert.Equal(t, 1, stats.Proposals)

	proposals, err := store.ListProposals(ctx, batch.ID)
	require.NoError(t, err)
	require.Len(t, proposals, 1)
	assert.Equal(t, model.OpInsert, proposals[0].Operation)
}
