package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/curatorhq/curator/internal/common"
	"github.com/curatorhq/curator/internal/model"
	"github.com/curatorhq/curator/internal/service"
)

const batchColumns = `id, owner_id, resource_type, status, proposal_count,
	approved_count, rejected_count, applied_count, summary, created_at`

const proposalColumns = `id, batch_id, operation, target_entity_id, draft_entity_id,
	draft_title, draft_content, draft_audience, draft_source_id,
	merge_source_ids, reason, status, applied, revision, created_at, resolved_at`

// CreateBatch persists a new batch.
func (s *SQLiteStorage) CreateBatch(ctx context.Context, batch *model.Batch) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateBatch(batch); err != nil {
		return err
	}
	return s.createBatchTx(ctx, s.db, batch)
}

func (s *SQLiteStorage) createBatchTx(ctx context.Context, q queryable, batch *model.Batch) error {
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = time.Now()
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO batches (
			id, owner_id, resource_type, status, proposal_count,
			approved_count, rejected_count, applied_count, summary, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		batch.ID,
		batch.OwnerID,
		string(batch.ResourceType),
		string(batch.Status),
		batch.ProposalCount,
		batch.ApprovedCount,
		batch.RejectedCount,
		batch.AppliedCount,
		batch.Summary,
		batch.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create batch %s: %w", batch.ID, err)
	}
	return nil
}

// GetBatch retrieves a batch by id.
func (s *SQLiteStorage) GetBatch(ctx context.Context, id string) (*model.Batch, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return s.getBatchTx(ctx, s.db, id)
}

func (s *SQLiteStorage) getBatchTx(ctx context.Context, q queryable, id string) (*model.Batch, error) {
	row := q.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM batches WHERE id = ?`, id)

	batch, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: batch %s", common.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get batch %s: %w", id, err)
	}
	return batch, nil
}

// ListBatches retrieves batches matching the filter, newest first.
func (s *SQLiteStorage) ListBatches(ctx context.Context, filter service.BatchFilter) ([]model.Batch, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.listBatchesTx(ctx, s.db, filter)
}

func (s *SQLiteStorage) listBatchesTx(ctx context.Context, q queryable, filter service.BatchFilter) ([]model.Batch, error) {
	conditions := make([]string, 0, 2)
	args := make([]any, 0, 3)

	if filter.OwnerID != "" {
		conditions = append(conditions, "owner_id = ?")
		args = append(args, filter.OwnerID)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}

	query := `SELECT ` + batchColumns + ` FROM batches`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var batches []model.Batch
	for rows.Next() {
		batch, scanErr := scanBatch(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan batch: %w", scanErr)
		}
		batches = append(batches, *batch)
	}
	return batches, rows.Err()
}

// UpdateBatchCounts writes the batch counters and derived status.
func (s *SQLiteStorage) UpdateBatchCounts(ctx context.Context, batch *model.Batch) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateBatch(batch); err != nil {
		return err
	}
	return s.updateBatchCountsTx(ctx, s.db, batch)
}

func (s *SQLiteStorage) updateBatchCountsTx(ctx context.Context, q queryable, batch *model.Batch) error {
	result, err := q.ExecContext(ctx, `
		UPDATE batches
		SET status = ?, approved_count = ?, rejected_count = ?, applied_count = ?
		WHERE id = ?
	`,
		string(batch.Status),
		batch.ApprovedCount,
		batch.RejectedCount,
		batch.AppliedCount,
		batch.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update batch %s: %w", batch.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check batch update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: batch %s", common.ErrNotFound, batch.ID)
	}
	return nil
}

// ExpireStaleBatches marks unresolved batches created before the cutoff as
// expired and returns how many were transitioned.
func (s *SQLiteStorage) ExpireStaleBatches(ctx context.Context, olderThan time.Time) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	return s.expireStaleBatchesTx(ctx, s.db, olderThan)
}

func (s *SQLiteStorage) expireStaleBatchesTx(ctx context.Context, q queryable, olderThan time.Time) (int, error) {
	result, err := q.ExecContext(ctx, `
		UPDATE batches
		SET status = ?
		WHERE status IN (?, ?) AND created_at < ?
	`,
		string(model.BatchExpired),
		string(model.BatchPending),
		string(model.BatchPartiallyReviewed),
		olderThan,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to expire stale batches: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count expired batches: %w", err)
	}
	return int(affected), nil
}

// CreateProposals persists all proposals of one batch.
func (s *SQLiteStorage) CreateProposals(ctx context.Context, proposals []model.Proposal) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateProposals(proposals); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.createProposalsTx(ctx, tx, proposals); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStorage) createProposalsTx(ctx context.Context, tx queryable, proposals []model.Proposal) error {
	for i := range proposals {
		p := &proposals[i]

		mergeIDs, err := json.Marshal(p.MergeSourceIDs)
		if err != nil {
			return fmt.Errorf("failed to encode merge sources for %s: %w", p.ID, err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO proposals (
				id, batch_id, operation, target_entity_id, draft_entity_id,
				draft_title, draft_content, draft_audience, draft_source_id,
				merge_source_ids, reason, status, applied, revision
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0)
		`,
			p.ID,
			p.BatchID,
			string(p.Operation),
			p.TargetEntityID,
			p.DraftEntityID,
			p.Draft.Title,
			p.Draft.Content,
			p.Draft.Audience,
			p.Draft.SourceID,
			string(mergeIDs),
			p.Reason,
			string(p.Status),
		)
		if err != nil {
			return fmt.Errorf("failed to insert proposal %s: %w", p.ID, err)
		}
	}
	return nil
}

// GetProposal retrieves a proposal by id.
func (s *SQLiteStorage) GetProposal(ctx context.Context, id string) (*model.Proposal, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return s.getProposalTx(ctx, s.db, id)
}

func (s *SQLiteStorage) getProposalTx(ctx context.Context, q queryable, id string) (*model.Proposal, error) {
	row := q.QueryRowContext(ctx, `SELECT `+proposalColumns+` FROM proposals WHERE id = ?`, id)

	proposal, err := scanProposal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: proposal %s", common.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get proposal %s: %w", id, err)
	}
	return proposal, nil
}

// ListProposals retrieves all proposals of a batch in creation order.
func (s *SQLiteStorage) ListProposals(ctx context.Context, batchID string) ([]model.Proposal, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(batchID, "batchID"); err != nil {
		return nil, err
	}
	return s.listProposalsTx(ctx, s.db, batchID)
}

func (s *SQLiteStorage) listProposalsTx(ctx context.Context, q queryable, batchID string) ([]model.Proposal, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+proposalColumns+` FROM proposals WHERE batch_id = ? ORDER BY created_at, id`,
		batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list proposals: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectProposals(rows)
}

// ListPendingDeleteProposals returns pending delete proposals for an owner.
// The sync sweep uses this to avoid staging the same expiry twice.
func (s *SQLiteStorage) ListPendingDeleteProposals(ctx context.Context, ownerID string, resourceType model.ResourceType) ([]model.Proposal, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.listPendingDeleteProposalsTx(ctx, s.db, ownerID, resourceType)
}

func (s *SQLiteStorage) listPendingDeleteProposalsTx(ctx context.Context, q queryable, ownerID string, resourceType model.ResourceType) ([]model.Proposal, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+proposalColumns+`
		FROM proposals p
		WHERE p.status = ? AND p.operation = ?
		  AND p.batch_id IN (
			SELECT id FROM batches WHERE owner_id = ? AND resource_type = ?
		  )
	`,
		string(model.ProposalPending),
		string(model.OpDelete),
		ownerID,
		string(resourceType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending delete proposals: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectProposals(rows)
}

// ResolveProposal transitions a proposal out of pending and records whether
// it was applied. The WHERE clause guards the terminal-state invariant: a
// resolved proposal row is never rewritten.
func (s *SQLiteStorage) ResolveProposal(ctx context.Context, id string, status model.ProposalStatus, applied bool, at time.Time) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}
	return s.resolveProposalTx(ctx, s.db, id, status, applied, at)
}

func (s *SQLiteStorage) resolveProposalTx(ctx context.Context, q queryable, id string, status model.ProposalStatus, applied bool, at time.Time) error {
	appliedVal := 0
	if applied {
		appliedVal = 1
	}

	result, err := q.ExecContext(ctx, `
		UPDATE proposals
		SET status = ?, applied = ?, resolved_at = ?
		WHERE id = ? AND status = ?
	`, string(status), appliedVal, at, id, string(model.ProposalPending))
	if err != nil {
		return fmt.Errorf("failed to resolve proposal %s: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check resolve result: %w", err)
	}
	if affected == 0 {
		// Either missing or already resolved; let the caller distinguish.
		if _, getErr := s.getProposalTx(ctx, q, id); getErr != nil {
			return getErr
		}
		return fmt.Errorf("%w: proposal %s already resolved", common.ErrConflict, id)
	}
	return nil
}

// ReplaceProposalDraft swaps the draft content snapshot of a pending
// proposal. The revision check rejects concurrent refinements that would
// otherwise silently lose an update.
func (s *SQLiteStorage) ReplaceProposalDraft(ctx context.Context, id string, draft model.DraftContent, expectedRevision int) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}
	return s.replaceProposalDraftTx(ctx, s.db, id, draft, expectedRevision)
}

func (s *SQLiteStorage) replaceProposalDraftTx(ctx context.Context, q queryable, id string, draft model.DraftContent, expectedRevision int) error {
	result, err := q.ExecContext(ctx, `
		UPDATE proposals
		SET draft_title = ?, draft_content = ?, draft_audience = ?, draft_source_id = ?,
		    revision = revision + 1
		WHERE id = ? AND status = ? AND revision = ?
	`,
		draft.Title,
		draft.Content,
		draft.Audience,
		draft.SourceID,
		id,
		string(model.ProposalPending),
		expectedRevision,
	)
	if err != nil {
		return fmt.Errorf("failed to replace draft for proposal %s: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check draft replacement result: %w", err)
	}
	if affected == 0 {
		if _, getErr := s.getProposalTx(ctx, q, id); getErr != nil {
			return getErr
		}
		return fmt.Errorf("%w: proposal %s resolved or revised concurrently", common.ErrConflict, id)
	}
	return nil
}

// RecordRefinementComment appends a reviewer comment to the audit trail.
func (s *SQLiteStorage) RecordRefinementComment(ctx context.Context, proposalID, comment string, at time.Time) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(proposalID, "proposalID"); err != nil {
		return err
	}
	if err := validateString(comment, "comment"); err != nil {
		return err
	}
	return s.recordRefinementCommentTx(ctx, s.db, proposalID, comment, at)
}

func (s *SQLiteStorage) recordRefinementCommentTx(ctx context.Context, q queryable, proposalID, comment string, at time.Time) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO refinement_comments (proposal_id, comment, created_at) VALUES (?, ?, ?)`,
		proposalID, comment, at)
	if err != nil {
		return fmt.Errorf("failed to record refinement comment: %w", err)
	}
	return nil
}

func scanBatch(row rowScanner) (*model.Batch, error) {
	var batch model.Batch
	var resourceType, status string

	err := row.Scan(
		&batch.ID,
		&batch.OwnerID,
		&resourceType,
		&status,
		&batch.ProposalCount,
		&batch.ApprovedCount,
		&batch.RejectedCount,
		&batch.AppliedCount,
		&batch.Summary,
		&batch.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	batch.ResourceType = model.ResourceType(resourceType)
	batch.Status = model.BatchStatus(status)
	return &batch, nil
}

func scanProposal(row rowScanner) (*model.Proposal, error) {
	var p model.Proposal
	var operation, status, mergeIDs string
	var applied int
	var resolvedAt sql.NullTime

	err := row.Scan(
		&p.ID,
		&p.BatchID,
		&operation,
		&p.TargetEntityID,
		&p.DraftEntityID,
		&p.Draft.Title,
		&p.Draft.Content,
		&p.Draft.Audience,
		&p.Draft.SourceID,
		&mergeIDs,
		&p.Reason,
		&status,
		&applied,
		&p.Revision,
		&p.CreatedAt,
		&resolvedAt,
	)
	if err != nil {
		return nil, err
	}

	p.Operation = model.Operation(operation)
	p.Status = model.ProposalStatus(status)
	p.Applied = applied != 0
	if resolvedAt.Valid {
		p.ResolvedAt = resolvedAt.Time
	}
	if err := json.Unmarshal([]byte(mergeIDs), &p.MergeSourceIDs); err != nil {
		return nil, fmt.Errorf("failed to decode merge sources: %w", err)
	}
	return &p, nil
}

func collectProposals(rows *sql.Rows) ([]model.Proposal, error) {
	var proposals []model.Proposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan proposal: %w", err)
		}
		proposals = append(proposals, *p)
	}
	return proposals, rows.Err()
}
