package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/adalundhe/quorum/core/store"
)

// DefaultFragmentCacheSize bounds the number of fragments kept in memory for
// retrieval after a search hit.
const DefaultFragmentCacheSize = 10000

// fragmentDocument is the shape indexed in Bleve.
type fragmentDocument struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	Role           string `json:"role"`
	Content        string `json:"content"`
	CreatedAt      string `json:"created_at"`
}

// FragmentIndex provides full-text search over the conversation corpus.
// Fragments are cached in an LRU alongside the index so search hits can be
// materialized without a round trip to the store.
type FragmentIndex struct {
	index bleve.Index
	mu    sync.RWMutex

	cache *lru.Cache[string, store.Fragment]
}

// NewFragmentIndex creates an in-memory full-text index.
func NewFragmentIndex(cacheSize int) (*FragmentIndex, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultFragmentCacheSize
	}

	mapping := bleve.NewIndexMapping()
	index, err := bleve.NewMemOnly(mapping)
	if err != nil {
		return nil, fmt.Errorf("create fragment index: %w", err)
	}

	cache, err := lru.New[string, store.Fragment](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create fragment cache: %w", err)
	}

	return &FragmentIndex{index: index, cache: cache}, nil
}

// Seed indexes an existing corpus, typically at startup.
func (fi *FragmentIndex) Seed(fragments []store.Fragment) error {
	for _, f := range fragments {
		if err := fi.Add(f); err != nil {
			return err
		}
	}
	return nil
}

// Add indexes a single fragment.
func (fi *FragmentIndex) Add(f store.Fragment) error {
	fi.mu.Lock()
	defer fi.mu.Unlock()

	doc := fragmentDocument{
		ID:             f.ID,
		ConversationID: f.ConversationID,
		Role:           f.Role,
		Content:        f.Content,
		CreatedAt:      f.CreatedAt.Format(time.RFC3339),
	}
	if err := fi.index.Index(f.ID, doc); err != nil {
		return fmt.Errorf("index fragment %s: %w", f.ID, err)
	}

	fi.cache.Add(f.ID, f)
	return nil
}

// Search returns up to limit fragments matching the query, ranked by score.
// Hits evicted from the fragment cache are skipped; the caller falls back to
// the store when nothing usable remains.
func (fi *FragmentIndex) Search(ctx context.Context, query string, limit int) ([]ScoredFragment, error) {
	fi.mu.RLock()
	defer fi.mu.RUnlock()

	match := bleve.NewMatchQuery(query)
	req := bleve.NewSearchRequestOptions(match, limit, 0, false)

	result, err := fi.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search fragments: %w", err)
	}

	scored := make([]ScoredFragment, 0, len(result.Hits))
	for _, hit := range result.Hits {
		f, ok := fi.cache.Get(hit.ID)
		if !ok {
			continue
		}
		scored = append(scored, ScoredFragment{Fragment: f, Score: hit.Score})
	}
	return scored, nil
}

// Close releases the underlying index.
func (fi *FragmentIndex) Close() error {
	fi.mu.Lock()
	defer fi.mu.Unlock()
	return fi.index.Close()
}

// ScoredFragment pairs a fragment with its search relevance score.
type ScoredFragment struct {
	Fragment store.Fragment
	Score    float64
}
