// Package approval applies approved proposals to the entity store. It is the
// only writer of accepted entity state, and every application happens in one
// store transaction so partial applies are never observable.
package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/curatorhq/curator/internal/common"
	"github.com/curatorhq/curator/internal/locks"
	"github.com/curatorhq/curator/internal/model"
	"github.com/curatorhq/curator/internal/service"
)

// Workflow manages the approve/reject lifecycle of proposals and batches.
type Workflow struct {
	storage    service.Storage
	ownerLocks *locks.Keyed
	normalizer model.Normalizer
}

// New creates an approval workflow. ownerLocks must be the same lock set the
// reconciliation engine uses, so batch-level applies serialize against runs
// for the same owner.
func New(storage service.Storage, ownerLocks *locks.Keyed, normalizer model.Normalizer) *Workflow {
	return &Workflow{
		storage:    storage,
		ownerLocks: ownerLocks,
		normalizer: normalizer,
	}
}

// ApproveProposal approves and applies a single proposal. Approving an
// already-approved proposal is a no-op success so retries after partial
// failures are safe.
func (w *Workflow) ApproveProposal(ctx context.Context, proposalID string) (*model.Proposal, *model.Batch, error) {
	proposal, err := w.storage.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, nil, err
	}

	if proposal.Status == model.ProposalApproved {
		batch, batchErr := w.storage.GetBatch(ctx, proposal.BatchID)
		if batchErr != nil {
			return nil, nil, batchErr
		}
		slog.Debug("Proposal already approved, no-op", "proposal_id", proposalID)
		return proposal, batch, nil
	}
	if proposal.Status == model.ProposalRejected {
		return nil, nil, fmt.Errorf("%w: proposal %s was rejected", common.ErrConflict, proposalID)
	}

	batch, err := w.storage.GetBatch(ctx, proposal.BatchID)
	if err != nil {
		return nil, nil, err
	}
	if batch.Status == model.BatchExpired {
		return nil, nil, fmt.Errorf("%w: batch %s has expired", common.ErrConflict, batch.ID)
	}

	updatedBatch, err := w.applyAndResolve(ctx, proposal, batch)
	if err != nil {
		return nil, nil, err
	}

	resolved, err := w.storage.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, nil, err
	}
	return resolved, updatedBatch, nil
}

// applyAndResolve runs the entity mutation, the proposal resolution, and the
// batch counter update in one transaction.
func (w *Workflow) applyAndResolve(ctx context.Context, proposal *model.Proposal, batch *model.Batch) (*model.Batch, error) {
	tx, err := w.storage.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrApplicationFailure, err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now()

	if err := w.apply(ctx, tx, proposal, batch, now); err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: proposal %s: %v", common.ErrApplicationFailure, proposal.ID, err)
	}

	if err := tx.ResolveProposal(ctx, proposal.ID, model.ProposalApproved, true, now); err != nil {
		return nil, err
	}

	batch.ApprovedCount++
	batch.AppliedCount++
	batch.Status = model.DeriveBatchStatus(*batch)
	if err := tx.UpdateBatchCounts(ctx, batch); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit failed for proposal %s: %v", common.ErrApplicationFailure, proposal.ID, err)
	}

	slog.Info("Applied proposal",
		"proposal_id", proposal.ID,
		"operation", proposal.Operation,
		"batch_id", batch.ID,
		"batch_status", batch.Status)
	return batch, nil
}

// apply mutates the entity store according to the proposal's operation.
func (w *Workflow) apply(ctx context.Context, tx service.Transaction, proposal *model.Proposal, batch *model.Batch, now time.Time) error {
	switch proposal.Operation {
	case model.OpInsert:
		entity := &model.ManagedEntity{
			ID:                 uuid.New().String(),
			OwnerID:            batch.OwnerID,
			ResourceType:       batch.ResourceType,
			Title:              proposal.Draft.Title,
			Content:            proposal.Draft.Content,
			Audience:           proposal.Draft.Audience,
			SourceID:           proposal.Draft.SourceID,
			Status:             model.EntityActive,
			ContentFingerprint: w.normalizer.Fingerprint(proposal.Draft.Content),
			LastSeenAt:         now,
		}
		return tx.SaveEntity(ctx, entity)

	case model.OpUpdate:
		target, err := tx.GetEntity(ctx, proposal.TargetEntityID)
		if err != nil {
			return err
		}
		w.overwriteContent(target, proposal.Draft, now)
		return tx.SaveEntity(ctx, target)

	case model.OpDelete:
		// Soft expiry only; accepted content is never hard-deleted.
		return tx.ExpireEntity(ctx, proposal.TargetEntityID, "", now)

	case model.OpMerge:
		canonical, err := tx.GetEntity(ctx, proposal.TargetEntityID)
		if err != nil {
			return err
		}
		w.overwriteContent(canonical, proposal.Draft, now)
		if err := tx.SaveEntity(ctx, canonical); err != nil {
			return err
		}
		for _, absorbedID := range proposal.MergeSourceIDs {
			if err := tx.ExpireEntity(ctx, absorbedID, canonical.ID, now); err != nil {
				return err
			}
		}
		return nil

	default:
		return fmt.Errorf("unknown operation %q", proposal.Operation)
	}
}

func (w *Workflow) overwriteContent(entity *model.ManagedEntity, draft model.DraftContent, now time.Time) {
	entity.Title = draft.Title
	entity.Content = draft.Content
	entity.Audience = draft.Audience
	if draft.SourceID != "" {
		entity.SourceID = draft.SourceID
	}
	entity.ContentFingerprint = w.normalizer.Fingerprint(draft.Content)
	entity.LastSeenAt = now
}

// RejectProposal rejects a pending proposal. No entity-store writes happen.
// Rejecting an already-resolved proposal is a conflict, not a no-op.
func (w *Workflow) RejectProposal(ctx context.Context, proposalID string) (*model.Proposal, *model.Batch, error) {
	proposal, err := w.storage.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, nil, err
	}
	if proposal.Status.Resolved() {
		return nil, nil, fmt.Errorf("%w: proposal %s already resolved", common.ErrConflict, proposalID)
	}

	batch, err := w.storage.GetBatch(ctx, proposal.BatchID)
	if err != nil {
		return nil, nil, err
	}
	if batch.Status == model.BatchExpired {
		return nil, nil, fmt.Errorf("%w: batch %s has expired", common.ErrConflict, batch.ID)
	}

	tx, err := w.storage.BeginTx(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now()
	if err := tx.ResolveProposal(ctx, proposalID, model.ProposalRejected, false, now); err != nil {
		return nil, nil, err
	}

	batch.RejectedCount++
	batch.Status = model.DeriveBatchStatus(*batch)
	if err := tx.UpdateBatchCounts(ctx, batch); err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit rejection: %w", err)
	}

	resolved, err := w.storage.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, nil, err
	}
	return resolved, batch, nil
}

// ApproveBatch approves every still-pending proposal in the batch, honoring
// the same per-proposal rules. onProgress may be nil.
func (w *Workflow) ApproveBatch(ctx context.Context, batchID string, onProgress func(done, total int)) (*model.Batch, error) {
	return w.resolveBatch(ctx, batchID, true, onProgress)
}

// RejectBatch rejects every still-pending proposal in the batch.
func (w *Workflow) RejectBatch(ctx context.Context, batchID string, onProgress func(done, total int)) (*model.Batch, error) {
	return w.resolveBatch(ctx, batchID, false, onProgress)
}

func (w *Workflow) resolveBatch(ctx context.Context, batchID string, approve bool, onProgress func(done, total int)) (*model.Batch, error) {
	batch, err := w.storage.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if batch.Status == model.BatchExpired {
		return nil, fmt.Errorf("%w: batch %s has expired", common.ErrConflict, batchID)
	}

	// Batch-level applies hold the owner lock so a concurrent
	// reconciliation run never matches against entities mid-mutation.
	release, err := w.ownerLocks.Acquire(ctx, batch.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire owner lock: %w", err)
	}
	defer release()

	proposals, err := w.storage.ListProposals(ctx, batchID)
	if err != nil {
		return nil, err
	}

	pending := make([]model.Proposal, 0, len(proposals))
	for _, p := range proposals {
		if p.Status == model.ProposalPending {
			pending = append(pending, p)
		}
	}

	for i := range pending {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		p := pending[i]
		if approve {
			batch, err = w.applyAndResolve(ctx, &p, batch)
			if err != nil {
				return nil, fmt.Errorf("batch %s stopped at proposal %s: %w", batchID, p.ID, err)
			}
		} else {
			tx, txErr := w.storage.BeginTx(ctx)
			if txErr != nil {
				return nil, txErr
			}
			if err = tx.ResolveProposal(ctx, p.ID, model.ProposalRejected, false, time.Now()); err != nil {
				_ = tx.Rollback()
				return nil, err
			}
			batch.RejectedCount++
			batch.Status = model.DeriveBatchStatus(*batch)
			if err = tx.UpdateBatchCounts(ctx, batch); err != nil {
				_ = tx.Rollback()
				return nil, err
			}
			if err = tx.Commit(); err != nil {
				return nil, err
			}
		}

		if onProgress != nil {
			onProgress(i+1, len(pending))
		}
	}

	return batch, nil
}
