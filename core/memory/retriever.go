// Package memory retrieves prior conversation fragments relevant to a query
// and condenses them into a compact context frame for the consensus engine.
package memory

import (
	"context"
	"log/slog"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/adalundhe/quorum/core/store"
)

// Recency tiers. Lower is fresher.
const (
	TierToday    = 1
	TierThisWeek = 2
	TierRecent   = 3
	TierArchive  = 4
)

// DefaultRetrieveLimit bounds how many fragments one query may pull back.
const DefaultRetrieveLimit = 10

// Memory is one retrieved conversation fragment annotated for ranking.
type Memory struct {
	Content        string
	Tier           int
	Relevance      float64
	ConversationID string
	CreatedAt      time.Time
}

// FragmentSource is the slice of the store the retriever needs.
type FragmentSource interface {
	SearchFragments(ctx context.Context, query string, limit int) ([]store.Fragment, error)
	AllFragments(ctx context.Context) ([]store.Fragment, error)
}

type RetrieverConfig struct {
	Limit          int
	QueryCacheSize int
	Logger         *slog.Logger
}

// Retriever finds past fragments matching a query. Retrieval is best effort:
// a failing index or store yields an empty result, never an error, so memory
// problems cannot take down a session.
type Retriever struct {
	source FragmentSource
	index  *FragmentIndex
	cache  *lru.Cache[string, []Memory]
	limit  int
	logger *slog.Logger
	now    func() time.Time
}

// NewRetriever creates a retriever over the given source. The index is
// optional; without it only the substring fallback runs.
func NewRetriever(source FragmentSource, index *FragmentIndex, cfg RetrieverConfig) (*Retriever, error) {
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultRetrieveLimit
	}
	if cfg.QueryCacheSize <= 0 {
		cfg.QueryCacheSize = 256
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	cache, err := lru.New[string, []Memory](cfg.QueryCacheSize)
	if err != nil {
		return nil, err
	}

	return &Retriever{
		source: source,
		index:  index,
		cache:  cache,
		limit:  cfg.Limit,
		logger: cfg.Logger,
		now:    time.Now,
	}, nil
}

// SeedIndex loads the existing corpus into the full-text index.
func (r *Retriever) SeedIndex(ctx context.Context) error {
	if r.index == nil {
		return nil
	}
	fragments, err := r.source.AllFragments(ctx)
	if err != nil {
		return err
	}
	return r.index.Seed(fragments)
}

// Remember appends a fragment to the index and invalidates cached queries.
func (r *Retriever) Remember(f store.Fragment) {
	if r.index != nil {
		if err := r.index.Add(f); err != nil {
			r.logger.Warn("memory index add failed", "error", err)
		}
	}
	r.cache.Purge()
}

// Retrieve returns up to the configured limit of fragments relevant to the
// query, newest first. It never returns an error.
func (r *Retriever) Retrieve(ctx context.Context, query string) []Memory {
	if query == "" {
		return nil
	}

	if cached, ok := r.cache.Get(query); ok {
		return cached
	}

	memories := r.searchIndex(ctx, query)
	if len(memories) == 0 {
		memories = r.searchStore(ctx, query)
	}

	sort.SliceStable(memories, func(i, j int) bool {
		return memories[i].CreatedAt.After(memories[j].CreatedAt)
	})

	r.cache.Add(query, memories)
	return memories
}

func (r *Retriever) searchIndex(ctx context.Context, query string) []Memory {
	if r.index == nil {
		return nil
	}

	scored, err := r.index.Search(ctx, query, r.limit)
	if err != nil {
		r.logger.Warn("memory index search failed", "error", err)
		return nil
	}

	memories := make([]Memory, 0, len(scored))
	for _, sf := range scored {
		memories = append(memories, Memory{
			Content:        sf.Fragment.Content,
			Tier:           r.tierFor(sf.Fragment.CreatedAt),
			Relevance:      sf.Score,
			ConversationID: sf.Fragment.ConversationID,
			CreatedAt:      sf.Fragment.CreatedAt,
		})
	}
	return memories
}

func (r *Retriever) searchStore(ctx context.Context, query string) []Memory {
	fragments, err := r.source.SearchFragments(ctx, query, r.limit)
	if err != nil {
		r.logger.Warn("memory store search failed", "error", err)
		return nil
	}

	memories := make([]Memory, 0, len(fragments))
	for _, f := range fragments {
		tier := r.tierFor(f.CreatedAt)
		memories = append(memories, Memory{
			Content:        f.Content,
			Tier:           tier,
			Relevance:      1.0 - 0.2*float64(tier-1),
			ConversationID: f.ConversationID,
			CreatedAt:      f.CreatedAt,
		})
	}
	return memories
}

// Frame retrieves memories for the query and condenses them into a context
// frame. Like Retrieve, it is best effort and never errors.
func (r *Retriever) Frame(ctx context.Context, query string) ContextFrame {
	return BuildFrame(r.Retrieve(ctx, query))
}

func (r *Retriever) tierFor(createdAt time.Time) int {
	age := r.now().Sub(createdAt)
	switch {
	case age < 24*time.Hour:
		return TierToday
	case age < 7*24*time.Hour:
		return TierThisWeek
	case age < 30*24*time.Hour:
		return TierRecent
	default:
		return TierArchive
	}
}
