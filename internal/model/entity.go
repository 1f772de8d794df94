// Package model defines the core domain types shared across the application.
package model

import "time"

// ResourceType identifies the kind of content an entity carries.
type ResourceType string

// Supported resource types.
const (
	ResourcePost         ResourceType = "post"
	ResourceNote         ResourceType = "note"
	ResourceOrganization ResourceType = "organization"
)

// Valid reports whether the resource type is one the pipeline understands.
func (r ResourceType) Valid() bool {
	switch r {
	case ResourcePost, ResourceNote, ResourceOrganization:
		return true
	}
	return false
}

// EntityStatus is the lifecycle state of an accepted entity.
type EntityStatus string

// Entity lifecycle states.
const (
	EntityActive   EntityStatus = "active"
	EntityExpired  EntityStatus = "expired"
	EntityRejected EntityStatus = "rejected"
)

// ManagedEntity is a unit of accepted content owned by the entity store.
// The reconciliation pipeline reads it and applies approved diffs; it never
// mutates one outside an approved proposal.
type ManagedEntity struct {
	LastSeenAt         time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
	ID                 string
	OwnerID            string
	SourceID           string
	Title              string
	Content            string
	Audience           string
	CanonicalID        string // set when expired by a merge, points at the surviving entity
	ContentFingerprint string
	ResourceType       ResourceType
	Status             EntityStatus
}

// DraftEntity is a candidate produced by extraction, not yet accepted.
// It exists only until a proposal resolves it.
type DraftEntity struct {
	ExtractedAt     time.Time
	ID              string
	OwnerID         string
	SourceID        string
	ExtractionRunID string
	Title           string
	Content         string
	Audience        string
	ResourceType    ResourceType
}

// Completeness scores a draft by how much of its content shape is filled in.
// Used to pick a canonical member when no accepted entity is in a match group.
func (d DraftEntity) Completeness() int {
	score := len(d.Content)
	if d.Title != "" {
		score += 50
	}
	if d.Audience != "" {
		score += 25
	}
	return score
}
