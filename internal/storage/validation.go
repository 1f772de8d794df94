// Package storage provides the sqlite persistence layer for entities,
// batches, and proposals.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/curatorhq/curator/internal/model"
)

// Validation errors.
var (
	ErrNilContext      = errors.New("context cannot be nil")
	ErrEmptyString     = errors.New("string parameter cannot be empty")
	ErrNilParameter    = errors.New("parameter cannot be nil")
	ErrEmptySlice      = errors.New("slice cannot be empty")
	ErrInvalidEntity   = errors.New("invalid entity")
	ErrInvalidBatch    = errors.New("invalid batch")
	ErrInvalidProposal = errors.New("invalid proposal")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

// validateEntity validates a managed entity before it is written.
func validateEntity(entity *model.ManagedEntity) error {
	if entity == nil {
		return fmt.Errorf("%w: entity", ErrNilParameter)
	}
	if entity.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidEntity)
	}
	if entity.OwnerID == "" {
		return fmt.Errorf("%w: missing owner ID", ErrInvalidEntity)
	}
	if !entity.ResourceType.Valid() {
		return fmt.Errorf("%w: unknown resource type %q", ErrInvalidEntity, entity.ResourceType)
	}
	if entity.Status == "" {
		return fmt.Errorf("%w: missing status", ErrInvalidEntity)
	}
	return nil
}

// validateBatch validates a batch before it is written.
func validateBatch(batch *model.Batch) error {
	if batch == nil {
		return fmt.Errorf("%w: batch", ErrNilParameter)
	}
	if batch.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidBatch)
	}
	if batch.OwnerID == "" {
		return fmt.Errorf("%w: missing owner ID", ErrInvalidBatch)
	}
	if !batch.ResourceType.Valid() {
		return fmt.Errorf("%w: unknown resource type %q", ErrInvalidBatch, batch.ResourceType)
	}
	if batch.ApprovedCount+batch.RejectedCount > batch.ProposalCount {
		return fmt.Errorf("%w: resolved counts exceed proposal count", ErrInvalidBatch)
	}
	return nil
}

// validateProposals validates a slice of proposals.
func validateProposals(proposals []model.Proposal) error {
	if proposals == nil {
		return fmt.Errorf("%w: proposals", ErrNilParameter)
	}
	if len(proposals) == 0 {
		return fmt.Errorf("%w: proposals", ErrEmptySlice)
	}
	for i := range proposals {
		if err := validateProposal(&proposals[i]); err != nil {
			return fmt.Errorf("proposal at index %d: %w", i, err)
		}
	}
	return nil
}

// validateProposal validates a single proposal.
func validateProposal(p *model.Proposal) error {
	if p == nil {
		return fmt.Errorf("%w: proposal", ErrNilParameter)
	}
	if p.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidProposal)
	}
	if p.BatchID == "" {
		return fmt.Errorf("%w: missing batch ID", ErrInvalidProposal)
	}
	if !p.Operation.Valid() {
		return fmt.Errorf("%w: unknown operation %q", ErrInvalidProposal, p.Operation)
	}
	if p.Operation != model.OpInsert && p.TargetEntityID == "" {
		return fmt.Errorf("%w: %s requires a target entity", ErrInvalidProposal, p.Operation)
	}
	if p.Operation == model.OpMerge && len(p.MergeSourceIDs) == 0 {
		return fmt.Errorf("%w: merge requires source entities", ErrInvalidProposal)
	}
	return nil
}
