// Package retrieval turns text into embeddings and answers nearest-neighbour
// queries over stored signals and synthesis documents.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"
)

// Input caps, in characters, applied before text is sent for embedding.
const (
	// LongInputLimit applies to captures, canons and synthesis documents.
	LongInputLimit = 8000
	// ShortInputLimit applies to signals and search queries.
	ShortInputLimit = 2000
)

// EmbeddingService produces an embedding for one text. engine.Engine satisfies it.
type EmbeddingService interface {
	Embed(ctx context.Context, model string, text string) ([]float32, error)
}

// Embedder wraps an EmbeddingService with a fixed model and input caps.
type Embedder struct {
	service EmbeddingService
	model   string
}

// NewEmbedder creates an Embedder using the given service and model name.
func NewEmbedder(s EmbeddingService, model string) *Embedder {
	return &Embedder{service: s, model: model}
}

// Embed returns the embedding vector for text truncated to limit characters.
// Upstream errors are wrapped with %w so their transient/fatal class survives.
func (e *Embedder) Embed(ctx context.Context, text string, limit int) ([]float32, error) {
	vec, err := e.service.Embed(ctx, e.model, Truncate(text, limit))
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	if len(vec) == 0 {
		return nil, errors.New("embedding text: service returned an empty vector")
	}
	return vec, nil
}

// EmbedBatch returns embedding vectors for multiple texts concurrently.
// Returns nil (not error) for empty/nil input.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string, limit int) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4) // Bound concurrency to avoid overwhelming the engine.

	for i, text := range texts {
		g.Go(func() error {
			vec, err := e.Embed(gCtx, text, limit)
			if err != nil {
				return fmt.Errorf("text %d: %w", i, err)
			}
			results[i] = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Truncate cuts s to at most limit characters without splitting a rune.
// A non-positive limit disables truncation.
func Truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}
