// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/curatorhq/curator/internal/model"
)

// EntityFilter defines filtering options for entity queries.
type EntityFilter struct {
	OwnerID      string
	SourceID     string
	ResourceType model.ResourceType
	Status       model.EntityStatus
	Limit        int
}

// BatchFilter defines filtering options for batch listings.
type BatchFilter struct {
	OwnerID string
	Status  model.BatchStatus
	Limit   int
}

// Storage defines the contract for the persistence layer: the entity store
// plus the proposal store. Pure data access, no policy.
type Storage interface {
	// Entity operations
	GetEntity(ctx context.Context, id string) (*model.ManagedEntity, error)
	ListEntities(ctx context.Context, filter EntityFilter) ([]model.ManagedEntity, error)
	SaveEntity(ctx context.Context, entity *model.ManagedEntity) error
	TouchEntitiesSeen(ctx context.Context, ids []string, seenAt time.Time) error
	ExpireEntity(ctx context.Context, id, canonicalID string, at time.Time) error

	// Batch operations
	CreateBatch(ctx context.Context, batch *model.Batch) error
	GetBatch(ctx context.Context, id string) (*model.Batch, error)
	ListBatches(ctx context.Context, filter BatchFilter) ([]model.Batch, error)
	UpdateBatchCounts(ctx context.Context, batch *model.Batch) error
	ExpireStaleBatches(ctx context.Context, olderThan time.Time) (int, error)

	// Proposal operations
	CreateProposals(ctx context.Context, proposals []model.Proposal) error
	GetProposal(ctx context.Context, id string) (*model.Proposal, error)
	ListProposals(ctx context.Context, batchID string) ([]model.Proposal, error)
	ListPendingDeleteProposals(ctx context.Context, ownerID string, resourceType model.ResourceType) ([]model.Proposal, error)
	ResolveProposal(ctx context.Context, id string, status model.ProposalStatus, applied bool, at time.Time) error
	ReplaceProposalDraft(ctx context.Context, id string, draft model.DraftContent, expectedRevision int) error
	RecordRefinementComment(ctx context.Context, proposalID, comment string, at time.Time) error

	// Database management
	Migrate(ctx context.Context) error
	BeginTx(ctx context.Context) (Transaction, error)
	Close() error
}

// Transaction represents a database transaction.
type Transaction interface {
	Commit() error
	Rollback() error
	// Include all Storage methods for use within transaction
	Storage
}

// MatchCandidate is one entity handed to the reasoning service for semantic
// comparison. Stored entities carry their status so the service can respect
// canonical-selection rules.
type MatchCandidate struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Content  string `json:"content"`
	Audience string `json:"audience"`
	Status   string `json:"status"` // empty for drafts
}

// Reasoner is the external reasoning service used for semantic matching and
// comment-driven draft revision. Both calls may fail or time out; callers
// must degrade gracefully.
type Reasoner interface {
	MatchGroups(ctx context.Context, candidates []MatchCandidate) ([]model.MatchGroup, error)
	Refine(ctx context.Context, draft model.DraftContent, comment string) (model.DraftContent, error)
}

// RetryOptions configures retry behavior for operations.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// RunStats shows the results of a reconciliation run.
type RunStats struct {
	Drafts        int
	ExactMatches  int
	SemanticCalls int
	Proposals     int
	Duration      time.Duration
}
