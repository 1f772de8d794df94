package approval

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curatorhq/curator/internal/common"
	"github.com/curatorhq/curator/internal/locks"
	"github.com/curatorhq/curator/internal/model"
	"github.com/curatorhq/curator/internal/service"
	"github.com/curatorhq/curator/internal/storage"
)

func newTestWorkflow(t *testing.T) (*Workflow, *storage.SQLiteStorage) {
	t.Helper()
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))
	t.Cleanup(func() { _ = store.Close() })

	return New(store, locks.NewKeyed(), model.Normalizer{}), store
}

func seedEntity(t *testing.T, store service.Storage, content string) *model.ManagedEntity {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Second)
	entity := &model.ManagedEntity{
		ID:                 uuid.New().String(),
		OwnerID:            "owner-1",
		Content:            content,
		ResourceType:       model.ResourcePost,
		Status:             model.EntityActive,
		ContentFingerprint: model.Normalizer{}.Fingerprint(content),
		LastSeenAt:         now,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	require.NoError(t, store.SaveEntity(context.Background(), entity))
	return entity
}

func seedBatch(t *testing.T, store service.Storage, proposals ...model.Proposal) *model.Batch {
	t.Helper()
	ctx := context.Background()

	batch := &model.Batch{
		ID:            uuid.New().String(),
		OwnerID:       "owner-1",
		ResourceType:  model.ResourcePost,
		Status:        model.BatchPending,
		ProposalCount: len(proposals),
		CreatedAt:     time.Now(),
	}
	require.NoError(t, store.CreateBatch(ctx, batch))

	for i := range proposals {
		proposals[i].BatchID = batch.ID
		if proposals[i].ID == "" {
			proposals[i].ID = uuid.New().String()
		}
		if proposals[i].Status == "" {
			proposals[i].Status = model.ProposalPending
		}
	}
	require.NoError(t, store.CreateProposals(ctx, proposals))
	return batch
}

func TestApproveInsertCreatesActiveEntity(t *testing.T) {
	workflow, store := newTestWorkflow(t)
	ctx := context.Background()

	batch := seedBatch(t, store, model.Proposal{
		Operation: model.OpInsert,
		Draft:     model.DraftContent{Title: "New post", Content: "Fresh content", SourceID: "src-9"},
	})
	proposals, err := store.ListProposals(ctx, batch.ID)
	require.NoError(t, err)

	resolved, updatedBatch, err := workflow.ApproveProposal(ctx, proposals[0].ID)
	require.NoError(t, err)

	assert.Equal(t, model.ProposalApproved, resolved.Status)
	assert.True(t, resolved.Applied)
	assert.Equal(t, model.BatchCompleted, updatedBatch.Status)

	entities, err := store.ListEntities(ctx, service.EntityFilter{OwnerID: "owner-1", Status: model.EntityActive})
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Equal(t, "Fresh content", entities[0].Content)
	assert.Equal(t, "src-9", entities[0].SourceID)
	assert.NotEmpty(t, entities[0].ContentFingerprint)
}

func TestApproveIsIdempotent(t *testing.T) {
	workflow, store := newTestWorkflow(t)
	ctx := context.Background()

	batch := seedBatch(t, store, model.Proposal{
		Operation: model.OpInsert,
		Draft:     model.DraftContent{Content: "Only once"},
	})
	proposals, err := store.ListProposals(ctx, batch.ID)
	require.NoError(t, err)
	id := proposals[0].ID

	_, _, err = workflow.ApproveProposal(ctx, id)
	require.NoError(t, err)

	// Second approval succeeds without reapplying.
	resolved, _, err := workflow.ApproveProposal(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.ProposalApproved, resolved.Status)

	entities, err := store.ListEntities(ctx, service.EntityFilter{OwnerID: "owner-1"})
	require.NoError(t, err)
	assert.Len(t, entities, 1, "double approval must not duplicate the entity")
}

func TestApproveRejectedProposalConflicts(t *testing.T) {
	workflow, store := newTestWorkflow(t)
	ctx := context.Background()

	batch := seedBatch(t, store, model.Proposal{
		Operation: model.OpInsert,
		Draft:     model.DraftContent{Content: "Doomed"},
	})
	proposals, err := store.ListProposals(ctx, batch.ID)
	require.NoError(t, err)
	id := proposals[0].ID

	_, _, err = workflow.RejectProposal(ctx, id)
	require.NoError(t, err)

	_, _, err = workflow.ApproveProposal(ctx, id)
	assert.ErrorIs(t, err, common.ErrConflict)
}

func TestApproveUpdateOverwritesTarget(t *testing.T) {
	workflow, store := newTestWorkflow(t)
	ctx := context.Background()

	entity := seedEntity(t, store, "Old content")
	batch := seedBatch(t, store, model.Proposal{
		Operation:      model.OpUpdate,
		TargetEntityID: entity.ID,
		Draft:          model.DraftContent{Title: "Updated", Content: "New content"},
	})
	proposals, err := store.ListProposals(ctx, batch.ID)
	require.NoError(t, err)

	_, _, err = workflow.ApproveProposal(ctx, proposals[0].ID)
	require.NoError(t, err)

	got, err := store.GetEntity(ctx, entity.ID)
	require.NoError(t, err)
	assert.Equal(t, "New content", got.Content)
	assert.Equal(t, "Updated", got.Title)
	assert.Equal(t, model.Normalizer{}.Fingerprint("New content"), got.ContentFingerprint)
	assert.Equal(t, model.EntityActive, got.Status)
}

func TestApproveDeleteExpiresNotRemoves(t *testing.T) {
	workflow, store := newTestWorkflow(t)
	ctx := context.Background()

	entity := seedEntity(t, store, "Going away")
	batch := seedBatch(t, store, model.Proposal{
		Operation:      model.OpDelete,
		TargetEntityID: entity.ID,
	})
	proposals, err := store.ListProposals(ctx, batch.ID)
	require.NoError(t, err)

	_, _, err = workflow.ApproveProposal(ctx, proposals[0].ID)
	require.NoError(t, err)

	got, err := store.GetEntity(ctx, entity.ID)
	require.NoError(t, err, "expired entities stay readable")
	assert.Equal(t, model.EntityExpired, got.Status)
}

func TestApproveMergeAtomically(t *testing.T) {
	workflow, store := newTestWorkflow(t)
	ctx := context.Background()

	canonical := seedEntity(t, store, "Canonical content")
	dupA := seedEntity(t, store, "Duplicate A")
	dupB := seedEntity(t, store, "Duplicate B")

	batch := seedBatch(t, store, model.Proposal{
		Operation:      model.OpMerge,
		TargetEntityID: canonical.ID,
		MergeSourceIDs: []string{dupA.ID, dupB.ID},
		Draft:          model.DraftContent{Content: "Merged best content"},
	})
	proposals, err := store.ListProposals(ctx, batch.ID)
	require.NoError(t, err)

	_, _, err = workflow.ApproveProposal(ctx, proposals[0].ID)
	require.NoError(t, err)

	got, err := store.GetEntity(ctx, canonical.ID)
	require.NoError(t, err)
	assert.Equal(t, "Merged best content", got.Content)
	assert.Equal(t, model.EntityActive, got.Status)

	for _, absorbedID := range []string{dupA.ID, dupB.ID} {
		absorbed, getErr := store.GetEntity(ctx, absorbedID)
		require.NoError(t, getErr)
		assert.Equal(t, model.EntityExpired, absorbed.Status)
		assert.Equal(t, canonical.ID, absorbed.CanonicalID)
	}
}

func TestApplicationFailureLeavesProposalPending(t *testing.T) {
	workflow, store := newTestWorkflow(t)
	ctx := context.Background()

	// Update against a missing target cannot apply.
	batch := seedBatch(t, store, model.Proposal{
		Operation:      model.OpUpdate,
		TargetEntityID: "missing-entity",
		Draft:          model.DraftContent{Content: "Never lands"},
	})
	proposals, err := store.ListProposals(ctx, batch.ID)
	require.NoError(t, err)

	_, _, err = workflow.ApproveProposal(ctx, proposals[0].ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrNotFound))

	got, err := store.GetProposal(ctx, proposals[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProposalPending, got.Status, "failed application must not resolve the proposal")

	gotBatch, err := store.GetBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, gotBatch.ApprovedCount)
}

func TestRejectProposal(t *testing.T) {
	workflow, store := newTestWorkflow(t)
	ctx := context.Background()

	entity := seedEntity(t, store, "Safe content")
	batch := seedBatch(t, store, model.Proposal{
		Operation:      model.OpDelete,
		TargetEntityID: entity.ID,
	})
	proposals, err := store.ListProposals(ctx, batch.ID)
	require.NoError(t, err)

	resolved, updatedBatch, err := workflow.RejectProposal(ctx, proposals[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProposalRejected, resolved.Status)
	assert.False(t, resolved.Applied)
	assert.Equal(t, model.BatchRejected, updatedBatch.Status)

	// The target was never touched.
	got, err := store.GetEntity(ctx, entity.ID)
	require.NoError(t, err)
	assert.Equal(t, model.EntityActive, got.Status)

	// Rejecting again conflicts.
	_, _, err = workflow.RejectProposal(ctx, proposals[0].ID)
	assert.ErrorIs(t, err, common.ErrConflict)
}

func TestBatchLifecycleToCompleted(t *testing.T) {
	workflow, store := newTestWorkflow(t)
	ctx := context.Background()

	entity := seedEntity(t, store, "Update me")
	batch := seedBatch(t, store,
		model.Proposal{Operation: model.OpInsert, Draft: model.DraftContent{Content: "First"}},
		model.Proposal{Operation: model.OpUpdate, TargetEntityID: entity.ID, Draft: model.DraftContent{Content: "Second"}},
		model.Proposal{Operation: model.OpInsert, Draft: model.DraftContent{Content: "Third"}},
	)
	proposals, err := store.ListProposals(ctx, batch.ID)
	require.NoError(t, err)
	require.Len(t, proposals, 3)

	// First resolution: pending -> partially reviewed.
	_, b, err := workflow.ApproveProposal(ctx, proposals[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchPartiallyReviewed, b.Status)

	// Second: reject, still partially reviewed.
	_, b, err = workflow.RejectProposal(ctx, proposals[1].ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchPartiallyReviewed, b.Status)

	// Last one resolves the batch.
	_, b, err = workflow.ApproveProposal(ctx, proposals[2].ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchCompleted, b.Status)
	assert.Equal(t, 2, b.ApprovedCount)
	assert.Equal(t, 1, b.RejectedCount)
	assert.Equal(t, 2, b.AppliedCount)
}

func TestApproveBatchResolvesAllPending(t *testing.T) {
	workflow, store := newTestWorkflow(t)
	ctx := context.Background()

	batch := seedBatch(t, store,
		model.Proposal{Operation: model.OpInsert, Draft: model.DraftContent{Content: "One"}},
		model.Proposal{Operation: model.OpInsert, Draft: model.DraftContent{Content: "Two"}},
		model.Proposal{Operation: model.OpInsert, Draft: model.DraftContent{Content: "Three"}},
	)

	var progress []int
	updated, err := workflow.ApproveBatch(ctx, batch.ID, func(done, total int) {
		require.Equal(t, 3, total)
		progress = append(progress, done)
	})
	require.NoError(t, err)

	assert.Equal(t, model.BatchCompleted, updated.Status)
	assert.Equal(t, 3, updated.AppliedCount)
	assert.Equal(t, []int{1, 2, 3}, progress)

	entities, err := store.ListEntities(ctx, service.EntityFilter{OwnerID: "owner-1"})
	require.NoError(t, err)
	assert.Len(t, entities, 3)
}

func TestRejectBatchSkipsResolved(t *testing.T) {
	workflow, store := newTestWorkflow(t)
	ctx := context.Background()

	batch := seedBatch(t, store,
		model.Proposal{Operation: model.OpInsert, Draft: model.DraftContent{Content: "Keep"}},
		model.Proposal{Operation: model.OpInsert, Draft: model.DraftContent{Content: "Drop"}},
	)
	proposals, err := store.ListProposals(ctx, batch.ID)
	require.NoError(t, err)

	// Approve one first; batch rejection must leave it alone.
	_, _, err = workflow.ApproveProposal(ctx, proposals[0].ID)
	require.NoError(t, err)

	updated, err := workflow.RejectBatch(ctx, batch.ID, nil)
	require.NoError(t, err)

	assert.Equal(t, model.BatchCompleted, updated.Status)
	assert.Equal(t, 1, updated.ApprovedCount)
	assert.Equal(t, 1, updated.RejectedCount)

	kept, err := store.GetProposal(ctx, proposals[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProposalApproved, kept.Status)
}

func TestExpiredBatchRefusesResolution(t *testing.T) {
	workflow, store := newTestWorkflow(t)
	ctx := context.Background()

	batch := seedBatch(t, store, model.Proposal{
		Operation: model.OpInsert,
		Draft:     model.DraftContent{Content: "Too late"},
	})

	// Age the batch out.
	expired, err := store.ExpireStaleBatches(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, 1, expired)

	proposals, err := store.ListProposals(ctx, batch.ID)
	require.NoError(t, err)

	_, _, err = workflow.ApproveProposal(ctx, proposals[0].ID)
	assert.ErrorIs(t, err, common.ErrConflict)

	_, err = workflow.ApproveBatch(ctx, batch.ID, nil)
	assert.ErrorIs(t, err, common.ErrConflict)
}
