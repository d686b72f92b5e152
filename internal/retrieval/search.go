package retrieval

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/kalambet/driftline/internal/scoring"
	"github.com/kalambet/driftline/internal/storage"
)

// Hit is one search result.
type Hit struct {
	ID      string  `json:"id"`
	Kind    string  `json:"kind"`
	Title   string  `json:"title,omitempty"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// Searcher answers nearest-neighbour queries with a brute-force cosine scan.
type Searcher struct {
	store    *storage.Store
	embedder *Embedder
	logger   *slog.Logger
}

// NewSearcher creates a Searcher over the given store.
func NewSearcher(store *storage.Store, embedder *Embedder) *Searcher {
	return &Searcher{store: store, embedder: embedder, logger: slog.Default()}
}

// Search embeds query and returns the topK most similar rows of kind
// (storage.KindSignals or storage.KindDocuments) in the workspace, best first.
func (s *Searcher) Search(ctx context.Context, workspaceID, query, kind string, topK int) ([]Hit, error) {
	if topK <= 0 {
		topK = 10
	}
	vec, err := s.embedder.Embed(ctx, query, ShortInputLimit)
	if err != nil {
		return nil, err
	}

	top, err := s.nearest(ctx, workspaceID, kind, vec, topK)
	if err != nil {
		return nil, err
	}
	if len(top) == 0 {
		return nil, nil
	}
	return s.hydrate(ctx, kind, top)
}

// idScore holds only the ID and score during the scan phase.
// Full records are fetched only for the top-K winners.
type idScore struct {
	ID    string
	Score float64
}

func (s *Searcher) nearest(ctx context.Context, workspaceID, kind string, query []float32, topK int) ([]idScore, error) {
	if scoring.Norm(query) == 0 {
		return nil, nil
	}

	h := &idScoreHeap{}
	heap.Init(h)

	// Reusable buffer for decoding embeddings to avoid per-row allocations.
	var buf []float32
	skipped := 0

	err := s.store.ScanEmbeddings(ctx, kind, workspaceID, func(id string, blob []byte) error {
		var err error
		buf, err = storage.DecodeVectorInto(buf, blob)
		if err != nil {
			return fmt.Errorf("decoding embedding for %s: %w", id, err)
		}
		score, err := scoring.CosineSimilarity(query, buf)
		if err != nil {
			// Rows embedded by a different model.
			skipped++
			return nil
		}
		if h.Len() < topK {
			heap.Push(h, idScore{ID: id, Score: score})
		} else if score > (*h)[0].Score {
			(*h)[0] = idScore{ID: id, Score: score}
			heap.Fix(h, 0)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if skipped > 0 {
		s.logger.Debug("skipped embeddings with mismatched dimension", "kind", kind, "workspace_id", workspaceID, "count", skipped)
	}

	out := make([]idScore, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(h).(idScore)
	}
	return out, nil
}

func (s *Searcher) hydrate(ctx context.Context, kind string, top []idScore) ([]Hit, error) {
	ids := make([]string, len(top))
	scores := make(map[string]float64, len(top))
	for i, t := range top {
		ids[i] = t.ID
		scores[t.ID] = t.Score
	}

	var hits []Hit
	switch kind {
	case storage.KindSignals:
		sigs, err := s.store.GetSignalsByIDs(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("fetching signals: %w", err)
		}
		for _, sig := range sigs {
			hits = append(hits, Hit{ID: sig.ID, Kind: kind, Content: sig.Content, Score: scores[sig.ID]})
		}
	case storage.KindDocuments:
		docs, err := s.store.GetDocumentsByIDs(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("fetching documents: %w", err)
		}
		for _, d := range docs {
			hits = append(hits, Hit{ID: d.ID, Kind: kind, Title: d.Title, Content: d.Content, Score: scores[d.ID]})
		}
	default:
		return nil, fmt.Errorf("unsupported kind %q", kind)
	}

	// IN queries don't preserve order.
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	for i := range hits {
		hits[i].Score = scoring.Round2(hits[i].Score)
	}
	return hits, nil
}

// idScoreHeap is a min-heap of idScore ordered by Score.
type idScoreHeap []idScore

func (h idScoreHeap) Len() int           { return len(h) }
func (h idScoreHeap) Less(i, j int) bool { return h[i].Score < h[j].Score }
func (h idScoreHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *idScoreHeap) Push(x any)        { *h = append(*h, x.(idScore)) }
func (h *idScoreHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
