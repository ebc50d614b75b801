package rag

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"
)

// Common errors for retrieval
var (
	ErrInvalidTopK = errors.New("top_k must be positive")
	ErrEmptyQuery  = errors.New("query cannot be empty")
)

// Retriever ranks passages of a PassageStore against a free-text query.
type Retriever struct {
	embedder Embedder
	store    *PassageStore
	logger   *zap.Logger
}

// NewRetriever creates a new Retriever instance. A nil logger discards logs.
func NewRetriever(embedder Embedder, store *PassageStore, logger *zap.Logger) (*Retriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder cannot be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("passage store cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Retriever{
		embedder: embedder,
		store:    store,
		logger:   logger,
	}, nil
}

// Store returns the passage store the retriever searches.
func (r *Retriever) Store() *PassageStore { return r.store }

// Retrieve returns up to k passages for query.
//
// With an act or scene in filter, only passages tagged with those values are
// considered and they are ranked by exact cosine similarity. When no passage
// carries the tags the result has Error set and the embedder is not called.
// Without a filter the ANN index is queried and its raw distances are
// returned in index order.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int, filter QueryFilter) (*Retrieval, error) {
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if k <= 0 {
		return nil, fmt.Errorf("%w, got %d", ErrInvalidTopK, k)
	}

	if !filter.IsEmpty() {
		return r.retrieveFiltered(ctx, query, k, filter)
	}
	return r.retrieveIndexed(ctx, query, k)
}

func (r *Retriever) retrieveFiltered(ctx context.Context, query string, k int, filter QueryFilter) (*Retrieval, error) {
	out := &Retrieval{
		Filter:    filter,
		Path:      PathFiltered,
		ScoreKind: ScoreCosine,
	}

	var candidates []int
	for i, p := range r.store.Passages() {
		if filter.Matches(p.Metadata) {
			candidates = append(candidates, i)
		}
	}
	if len(candidates) == 0 {
		r.logger.Debug("no passages match filter", zap.Stringer("filter", filter))
		out.Results = []Result{}
		out.Error = NoCandidatesMessage
		return out, nil
	}

	q, err := embedQuery(ctx, r.embedder, query, r.store.Dim())
	if err != nil {
		return nil, err
	}

	vectors := r.store.Vectors()
	scored := make([]Result, len(candidates))
	for i, pos := range candidates {
		scored[i] = resultFromPassage(r.store.Passage(pos), cosine(q, vectors.Row(pos)))
	}
	// Candidates are already in corpus order, so a stable sort breaks ties by it.
	sort.SliceStable(scored, func(a, b int) bool { return scored[a].Score > scored[b].Score })

	if k < len(scored) {
		scored = scored[:k]
	}
	out.Results = scored

	r.logger.Debug("filtered retrieval",
		zap.Stringer("filter", filter),
		zap.Int("candidates", len(candidates)),
		zap.Int("returned", len(scored)),
	)
	return out, nil
}

func (r *Retriever) retrieveIndexed(ctx context.Context, query string, k int) (*Retrieval, error) {
	index := r.store.Index()
	out := &Retrieval{
		Path:      PathIndex,
		ScoreKind: index.Metric().ScoreKind(),
	}

	if n := r.store.Len(); k > n {
		k = n
	}
	if k == 0 {
		out.Results = []Result{}
		return out, nil
	}

	q, err := embedQuery(ctx, r.embedder, query, r.store.Dim())
	if err != nil {
		return nil, err
	}

	neighbors, err := index.Search(ctx, q, k)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSearchFailed, err)
	}

	out.Results = make([]Result, 0, len(neighbors))
	for _, nb := range neighbors {
		// faiss pads short result lists with -1
		if nb.Position < 0 || nb.Position >= r.store.Len() {
			continue
		}
		out.Results = append(out.Results, resultFromPassage(r.store.Passage(nb.Position), nb.Distance))
	}

	r.logger.Debug("index retrieval",
		zap.String("metric", string(index.Metric())),
		zap.Int("returned", len(out.Results)),
	)
	return out, nil
}
