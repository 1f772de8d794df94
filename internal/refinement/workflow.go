// Package refinement implements the comment-driven revision loop: a reviewer
// comment on a pending proposal is sent to the reasoning service, and the
// revised draft replaces the proposal's content in place.
package refinement

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/curatorhq/curator/internal/common"
	"github.com/curatorhq/curator/internal/locks"
	"github.com/curatorhq/curator/internal/model"
	"github.com/curatorhq/curator/internal/service"
)

// Workflow revises pending proposal drafts from reviewer comments.
type Workflow struct {
	storage       service.Storage
	reasoner      service.Reasoner
	proposalLocks *locks.Keyed
}

// New creates a refinement workflow.
func New(storage service.Storage, reasoner service.Reasoner) *Workflow {
	return &Workflow{
		storage:       storage,
		reasoner:      reasoner,
		proposalLocks: locks.NewKeyed(),
	}
}

// Refine sends the proposal's current draft plus the reviewer comment to the
// reasoning service and replaces the draft with the revision. Identity,
// batch membership, and pending status are untouched. A concurrent refine on
// the same proposal fails fast rather than queue behind a slow reasoning
// call; the revision check in the store catches any writer that slipped past
// the lock.
func (w *Workflow) Refine(ctx context.Context, proposalID, comment string) (*model.Proposal, error) {
	if comment == "" {
		return nil, fmt.Errorf("comment is required")
	}

	release, ok := w.proposalLocks.TryAcquire(proposalID)
	if !ok {
		return nil, fmt.Errorf("%w: proposal %s is being refined by another request", common.ErrConflict, proposalID)
	}
	defer release()

	proposal, err := w.storage.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if proposal.Status != model.ProposalPending {
		return nil, fmt.Errorf("%w: proposal %s is %s, only pending proposals can be refined",
			common.ErrConflict, proposalID, proposal.Status)
	}

	var revised model.DraftContent
	err = common.WithRetry(ctx, func() error {
		var refineErr error
		revised, refineErr = w.reasoner.Refine(ctx, proposal.Draft, comment)
		if refineErr != nil && !common.IsRetryable(refineErr) {
			return &common.RetryableError{Err: refineErr, Retryable: false}
		}
		return refineErr
	}, service.RetryOptions{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
	})
	if err != nil {
		return nil, fmt.Errorf("refinement failed: %w", err)
	}

	if revised.Content == "" {
		return nil, fmt.Errorf("reasoning service returned an empty revision")
	}

	// The reasoner revises content only; provenance carries over from the
	// current draft.
	revised.SourceID = proposal.Draft.SourceID

	if err := w.storage.ReplaceProposalDraft(ctx, proposalID, revised, proposal.Revision); err != nil {
		return nil, err
	}
	if err := w.storage.RecordRefinementComment(ctx, proposalID, comment, time.Now()); err != nil {
		slog.Warn("Failed to record refinement comment", "proposal_id", proposalID, "error", err)
	}

	slog.Info("Refined proposal draft",
		"proposal_id", proposalID,
		"revision", proposal.Revision+1)

	return w.storage.GetProposal(ctx, proposalID)
}
