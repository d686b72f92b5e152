package synthesis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kalambet/driftline/internal/extract"
	"github.com/kalambet/driftline/internal/retrieval"
	"github.com/kalambet/driftline/internal/storage"
)

// SignalStore persists signals. *storage.Store satisfies it.
type SignalStore interface {
	AddSignal(ctx context.Context, sig storage.Signal) error
}

// SignalRequest is one new signal.
type SignalRequest struct {
	WorkspaceID    string
	Content        string
	ConversationID string
	MessageID      string
	Priority       string // defaults to "medium"
}

// Signals records incoming signals with their embedding.
type Signals struct {
	store    SignalStore
	embedder Embedder
	now      func() time.Time
}

func NewSignals(store SignalStore, embedder Embedder) *Signals {
	return &Signals{store: store, embedder: embedder, now: func() time.Time { return time.Now().UTC() }}
}

// Add validates, embeds and stores a signal.
func (s *Signals) Add(ctx context.Context, req SignalRequest) (storage.Signal, error) {
	content := strings.TrimSpace(req.Content)
	if req.WorkspaceID == "" {
		return storage.Signal{}, fmt.Errorf("%w: workspace is required", ErrInvalidInput)
	}
	if content == "" {
		return storage.Signal{}, fmt.Errorf("%w: content is required", ErrInvalidInput)
	}
	priority := req.Priority
	if priority == "" {
		priority = "medium"
	}
	if !extract.ValidPriority(priority) {
		return storage.Signal{}, fmt.Errorf("%w: priority must be one of %s", ErrInvalidInput, strings.Join(extract.Priorities, ", "))
	}

	vec, err := s.embedder.Embed(ctx, content, retrieval.ShortInputLimit)
	if err != nil {
		return storage.Signal{}, fmt.Errorf("embedding signal: %w", err)
	}
	sig := storage.Signal{
		ID:             uuid.New().String(),
		WorkspaceID:    req.WorkspaceID,
		ConversationID: req.ConversationID,
		MessageID:      req.MessageID,
		Content:        content,
		Embedding:      vec,
		AIPriority:     priority,
		CreatedAt:      s.now(),
	}
	if err := s.store.AddSignal(ctx, sig); err != nil {
		return storage.Signal{}, fmt.Errorf("saving signal: %w", err)
	}
	return sig, nil
}
