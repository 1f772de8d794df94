// Package reasoning implements the external reasoning-service client used
// for semantic duplicate matching and comment-driven draft revision.
package reasoning

import "time"

// Config holds reasoning client configuration.
type Config struct {
	Provider          string
	APIKey            string
	Model             string
	Temperature       float64
	MaxTokens         int
	Timeout           time.Duration
	RequestsPerMinute int
}

// matchResponse is the wire shape of a semantic match call, validated
// against matchResponseSchema before anything trusts it.
type matchResponse struct {
	Groups []struct {
		Name        string   `json:"name"`
		CanonicalID string   `json:"canonical_id"`
		MemberIDs   []string `json:"member_ids"`
		Confidence  float64  `json:"confidence"`
		Reasoning   string   `json:"reasoning"`
	} `json:"groups"`
}

// refineResponse is the wire shape of a refine call.
type refineResponse struct {
	Title    string `json:"title"`
	Content  string `json:"content"`
	Audience string `json:"audience"`
}
