package model

import "time"

// BatchStatus is the review state of a reconciliation batch.
type BatchStatus string

// Batch review states.
const (
	BatchPending           BatchStatus = "pending"
	BatchPartiallyReviewed BatchStatus = "partially_reviewed"
	BatchApproved          BatchStatus = "approved"
	BatchRejected          BatchStatus = "rejected"
	BatchCompleted         BatchStatus = "completed"
	BatchExpired           BatchStatus = "expired"
)

// Terminal reports whether no further review or application is allowed.
func (s BatchStatus) Terminal() bool {
	return s == BatchCompleted || s == BatchExpired
}

// Batch is the unit of one reconciliation run: a reviewable group of
// proposals for a single owner and resource type. Batches are never deleted;
// unresolved batches past the retention window transition to expired.
type Batch struct {
	CreatedAt     time.Time
	ID            string
	OwnerID       string
	Summary       string
	ResourceType  ResourceType
	Status        BatchStatus
	ProposalCount int
	ApprovedCount int
	RejectedCount int
	AppliedCount  int
}

// Resolved returns how many proposals have been approved or rejected.
func (b Batch) Resolved() int {
	return b.ApprovedCount + b.RejectedCount
}

// DeriveBatchStatus computes the batch status purely from its counters.
// Expiry is decided elsewhere (time-based sweep) and is terminal; this
// function never moves a batch out of expired.
func DeriveBatchStatus(b Batch) BatchStatus {
	if b.Status == BatchExpired {
		return BatchExpired
	}
	resolved := b.Resolved()
	switch {
	case b.ProposalCount == 0:
		// Nothing actionable was found; the batch is inert.
		return BatchCompleted
	case resolved == 0:
		return BatchPending
	case resolved < b.ProposalCount:
		return BatchPartiallyReviewed
	case b.RejectedCount == b.ProposalCount:
		return BatchRejected
	case b.AppliedCount == b.ApprovedCount:
		// Every proposal resolved and every approved one applied.
		return BatchCompleted
	default:
		return BatchApproved
	}
}
