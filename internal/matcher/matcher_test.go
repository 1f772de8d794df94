package matcher

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curatorhq/curator/internal/model"
	"github.com/curatorhq/curator/internal/service"
)

type stubReasoner struct {
	groups []model.MatchGroup
	err    error
	calls  int
}

func (s *stubReasoner) MatchGroups(_ context.Context, _ []service.MatchCandidate) ([]model.MatchGroup, error) {
	s.calls++
	return s.groups, s.err
}

func (s *stubReasoner) Refine(_ context.Context, draft model.DraftContent, _ string) (model.DraftContent, error) {
	return draft, nil
}

func storedEntity(id string, status model.EntityStatus) model.ManagedEntity {
	return model.ManagedEntity{
		ID:      id,
		Content: "content of " + id,
		Status:  status,
	}
}

func draftEntity(id, content string) model.DraftEntity {
	return model.DraftEntity{ID: id, Content: content}
}

func TestIndexByFingerprint(t *testing.T) {
	n := model.Normalizer{}
	m := New(nil, n, DefaultConfig())

	entities := []model.ManagedEntity{
		{ID: "a", Content: "Shared Content", ContentFingerprint: n.Fingerprint("Shared Content")},
		{ID: "b", Content: "shared content!"},
		{ID: "c", Content: "something else"},
	}

	index := m.IndexByFingerprint(entities)

	shared := index[n.Fingerprint("shared content")]
	require.Len(t, shared, 2, "equivalent contents should share a bucket")
	assert.Len(t, index[n.Fingerprint("something else")], 1)
}

func TestExactMatch(t *testing.T) {
	m := New(nil, model.Normalizer{}, DefaultConfig())

	assert.True(t, m.ExactMatch("Weekly Update!", "weekly update"))
	assert.False(t, m.ExactMatch("weekly update", "monthly update"))
}

func TestSemanticGroupsNilReasoner(t *testing.T) {
	m := New(nil, model.Normalizer{}, DefaultConfig())

	groups := m.SemanticGroups(context.Background(), []model.DraftEntity{draftEntity("d1", "x")}, nil)
	assert.Nil(t, groups)
}

func TestSemanticGroupsFailureDegradesToUngrouped(t *testing.T) {
	reasoner := &stubReasoner{err: errors.New("model unavailable")}
	m := New(reasoner, model.Normalizer{}, DefaultConfig())

	groups := m.SemanticGroups(context.Background(),
		[]model.DraftEntity{draftEntity("d1", "x"), draftEntity("d2", "y")},
		nil)

	assert.Empty(t, groups, "upstream failure must not invent groups")
	assert.Equal(t, 1, reasoner.calls)
}

func TestSemanticGroupsChunksDrafts(t *testing.T) {
	reasoner := &stubReasoner{}
	cfg := DefaultConfig()
	cfg.SemanticBatchSize = 2
	m := New(reasoner, model.Normalizer{}, cfg)

	drafts := []model.DraftEntity{
		draftEntity("d1", "a"), draftEntity("d2", "b"),
		draftEntity("d3", "c"), draftEntity("d4", "d"),
		draftEntity("d5", "e"),
	}
	m.SemanticGroups(context.Background(), drafts, nil)

	assert.Equal(t, 3, reasoner.calls)
}

func TestRepairGroups(t *testing.T) {
	stored := []model.ManagedEntity{
		storedEntity("s1", model.EntityActive),
		storedEntity("s2", model.EntityActive),
		storedEntity("s3", model.EntityExpired),
	}
	drafts := []model.DraftEntity{
		{ID: "d1", Content: "short"},
		{ID: "d2", Content: "much longer and more complete content", Title: "Has a title"},
	}

	tests := []struct {
		name          string
		groups        []model.MatchGroup
		wantGroups    int
		wantCanonical string
	}{
		{
			name: "active stored member wins canonical over draft",
			groups: []model.MatchGroup{
				{CanonicalID: "d1", MemberIDs: []string{"d1", "s1"}, Confidence: 0.9},
			},
			wantGroups:    1,
			wantCanonical: "s1",
		},
		{
			name: "service pick kept when it is an active stored member",
			groups: []model.MatchGroup{
				{CanonicalID: "s2", MemberIDs: []string{"s1", "s2", "d1"}, Confidence: 0.9},
			},
			wantGroups:    1,
			wantCanonical: "s2",
		},
		{
			name: "expired stored member never wins canonical",
			groups: []model.MatchGroup{
				{CanonicalID: "s3", MemberIDs: []string{"s3", "d1", "d2"}, Confidence: 0.9},
			},
			wantGroups:    1,
			wantCanonical: "d2",
		},
		{
			name: "all drafts falls back to most complete",
			groups: []model.MatchGroup{
				{CanonicalID: "unknown", MemberIDs: []string{"d1", "d2"}, Confidence: 0.9},
			},
			wantGroups:    1,
			wantCanonical: "d2",
		},
		{
			name: "low confidence dropped",
			groups: []model.MatchGroup{
				{CanonicalID: "s1", MemberIDs: []string{"s1", "d1"}, Confidence: 0.5},
			},
			wantGroups: 0,
		},
		{
			name: "single member dropped",
			groups: []model.MatchGroup{
				{CanonicalID: "d1", MemberIDs: []string{"d1"}, Confidence: 0.95},
			},
			wantGroups: 0,
		},
		{
			name: "overlapping claim dropped",
			groups: []model.MatchGroup{
				{CanonicalID: "s1", MemberIDs: []string{"s1", "d1"}, Confidence: 0.9},
				{CanonicalID: "s2", MemberIDs: []string{"s2", "d1"}, Confidence: 0.9},
			},
			wantGroups:    1,
			wantCanonical: "s1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(nil, model.Normalizer{}, DefaultConfig())
			repaired := m.repairGroups(tt.groups, drafts, stored)

			require.Len(t, repaired, tt.wantGroups)
			if tt.wantGroups > 0 && tt.wantCanonical != "" {
				assert.Equal(t, tt.wantCanonical, repaired[0].CanonicalID)
			}
		})
	}
}
