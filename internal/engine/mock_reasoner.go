package engine

import (
	"context"
	"sync"

	"github.com/curatorhq/curator/internal/model"
	"github.com/curatorhq/curator/internal/service"
)

// MockReasoner is a test double for the reasoning service.
type MockReasoner struct {
	mu sync.Mutex

	// MatchGroupsFunc overrides MatchGroups when set.
	MatchGroupsFunc func(ctx context.Context, candidates []service.MatchCandidate) ([]model.MatchGroup, error)
	// RefineFunc overrides Refine when set.
	RefineFunc func(ctx context.Context, draft model.DraftContent, comment string) (model.DraftContent, error)

	// MatchCalls records every candidate set passed to MatchGroups.
	MatchCalls [][]service.MatchCandidate
	// RefineCalls records every comment passed to Refine.
	RefineCalls []string
}

// MatchGroups implements service.Reasoner.
func (m *MockReasoner) MatchGroups(ctx context.Context, candidates []service.MatchCandidate) ([]model.MatchGroup, error) {
	m.mu.Lock()
	m.MatchCalls = append(m.MatchCalls, candidates)
	m.mu.Unlock()

	if m.MatchGroupsFunc != nil {
		return m.MatchGroupsFunc(ctx, candidates)
	}
	return nil, nil
}

// Refine implements service.Reasoner.
func (m *MockReasoner) Refine(ctx context.Context, draft model.DraftContent, comment string) (model.DraftContent, error) {
	m.mu.Lock()
	m.RefineCalls = append(m.RefineCalls, comment)
	m.mu.Unlock()

	if m.RefineFunc != nil {
		return m.RefineFunc(ctx, draft, comment)
	}
	return draft, nil
}
