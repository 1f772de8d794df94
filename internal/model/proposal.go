package model

import "time"

// Operation is the kind of mutation a proposal stages.
type Operation string

// Proposal operations.
const (
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
	OpMerge  Operation = "merge"
)

// Valid reports whether the operation is one the approval workflow can apply.
func (o Operation) Valid() bool {
	switch o {
	case OpInsert, OpUpdate, OpDelete, OpMerge:
		return true
	}
	return false
}

// ProposalStatus is the review state of a single proposal.
type ProposalStatus string

// Proposal review states. Approved and rejected are terminal.
const (
	ProposalPending  ProposalStatus = "pending"
	ProposalApproved ProposalStatus = "approved"
	ProposalRejected ProposalStatus = "rejected"
)

// Resolved reports whether the proposal has left the pending state.
func (s ProposalStatus) Resolved() bool {
	return s == ProposalApproved || s == ProposalRejected
}

// DraftContent is the content snapshot a proposal would write. Refinement
// rewrites this snapshot in place while the proposal is still pending.
type DraftContent struct {
	Title    string `json:"title"`
	Content  string `json:"content"`
	Audience string `json:"audience"`
	SourceID string `json:"source_id"`
}

// Proposal is one staged mutation awaiting review. Rejected proposals are
// kept for audit, never deleted.
type Proposal struct {
	CreatedAt      time.Time
	ResolvedAt     time.Time
	ID             string
	BatchID        string
	TargetEntityID string // empty for insert
	DraftEntityID  string
	Reason         string
	MergeSourceIDs []string // entities absorbed by a merge
	Draft          DraftContent
	Operation      Operation
	Status         ProposalStatus
	Applied        bool
	Revision       int // bumped by each refinement, guards lost updates
}
