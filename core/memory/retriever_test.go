package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adalundhe/quorum/core/store"
)

type fakeSource struct {
	fragments []store.Fragment
	searchErr error
	calls     int
}

func (f *fakeSource) SearchFragments(_ context.Context, query string, limit int) ([]store.Fragment, error) {
	f.calls++
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	var out []store.Fragment
	for _, fr := range f.fragments {
		if len(out) == limit {
			break
		}
		out = append(out, fr)
	}
	return out, nil
}

func (f *fakeSource) AllFragments(context.Context) ([]store.Fragment, error) {
	return f.fragments, nil
}

func fragment(id, content string, age time.Duration) store.Fragment {
	return store.Fragment{
		ID:             id,
		ConversationID: "c1",
		Role:           "user",
		Content:        content,
		CreatedAt:      time.Now().UTC().Add(-age),
	}
}

func TestRetrieveEmptyQuery(t *testing.T) {
	r, err := NewRetriever(&fakeSource{}, nil, RetrieverConfig{})
	require.NoError(t, err)
	assert.Nil(t, r.Retrieve(context.Background(), ""))
}

func TestRetrieveSubstringFallback(t *testing.T) {
	source := &fakeSource{fragments: []store.Fragment{
		fragment("1", "notes on postgres indexes", time.Hour),
		fragment("2", "older postgres discussion", 40*24*time.Hour),
	}}
	r, err := NewRetriever(source, nil, RetrieverConfig{})
	require.NoError(t, err)

	memories := r.Retrieve(context.Background(), "postgres")
	require.Len(t, memories, 2)
	assert.Equal(t, "notes on postgres indexes", memories[0].Content)
	assert.Equal(t, TierToday, memories[0].Tier)
	assert.Equal(t, TierArchive, memories[1].Tier)
}

func TestRetrieveNeverErrors(t *testing.T) {
	source := &fakeSource{searchErr: errors.New("db locked")}
	r, err := NewRetriever(source, nil, RetrieverConfig{})
	require.NoError(t, err)

	assert.Empty(t, r.Retrieve(context.Background(), "anything"))
}

func TestRetrieveUsesQueryCache(t *testing.T) {
	source := &fakeSource{fragments: []store.Fragment{
		fragment("1", "cache me", time.Hour),
	}}
	r, err := NewRetriever(source, nil, RetrieverConfig{})
	require.NoError(t, err)

	r.Retrieve(context.Background(), "cache")
	r.Retrieve(context.Background(), "cache")
	assert.Equal(t, 1, source.calls)

	// Remembering new content invalidates cached queries.
	r.Remember(fragment("2", "cache me too", 0))
	r.Retrieve(context.Background(), "cache")
	assert.Equal(t, 2, source.calls)
}

func TestRetrieveViaIndex(t *testing.T) {
	index, err := NewFragmentIndex(0)
	require.NoError(t, err)
	defer index.Close()

	source := &fakeSource{fragments: []store.Fragment{
		fragment("1", "designing a raft consensus module", 2*time.Hour),
		fragment("2", "grocery list", time.Hour),
	}}
	r, err := NewRetriever(source, index, RetrieverConfig{})
	require.NoError(t, err)
	require.NoError(t, r.SeedIndex(context.Background()))

	memories := r.Retrieve(context.Background(), "raft consensus")
	require.NotEmpty(t, memories)
	assert.Equal(t, "designing a raft consensus module", memories[0].Content)
	assert.Greater(t, memories[0].Relevance, 0.0)
	// Index hit, so the substring fallback never ran.
	assert.Zero(t, source.calls)
}

func TestTierBoundaries(t *testing.T) {
	r, err := NewRetriever(&fakeSource{}, nil, RetrieverConfig{})
	require.NoError(t, err)
	now := time.Now()
	r.now = func() time.Time { return now }

	tests := []struct {
		age  time.Duration
		want int
	}{
		{time.Hour, TierToday},
		{25 * time.Hour, TierThisWeek},
		{6 * 24 * time.Hour, TierThisWeek},
		{8 * 24 * time.Hour, TierRecent},
		{31 * 24 * time.Hour, TierArchive},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, r.tierFor(now.Add(-tt.age)), "age %s", tt.age)
	}
}

func TestFrameCombinesRetrievalAndSummary(t *testing.T) {
	source := &fakeSource{fragments: []store.Fragment{
		fragment("1", "How do I tune postgres for writes?", time.Hour),
	}}
	r, err := NewRetriever(source, nil, RetrieverConfig{})
	require.NoError(t, err)

	frame := r.Frame(context.Background(), "postgres")
	require.False(t, frame.Empty())
	assert.Contains(t, frame.Summary, "postgres")
	assert.Contains(t, frame.Topics, "postgres")
	assert.Contains(t, frame.Patterns, "question")
}
