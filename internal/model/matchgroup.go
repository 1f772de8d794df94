package model

// MatchGroup is a set of entity references judged to describe the same
// real-world thing. Transient: it exists only inside a reconciliation run.
type MatchGroup struct {
	Name        string
	CanonicalID string
	Reasoning   string
	MemberIDs   []string
	Confidence  float64
}

// Contains reports whether id is a member of the group.
func (g MatchGroup) Contains(id string) bool {
	for _, m := range g.MemberIDs {
		if m == id {
			return true
		}
	}
	return false
}
