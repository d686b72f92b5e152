package synthesis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kalambet/driftline/internal/metrics"
	"github.com/kalambet/driftline/internal/retrieval"
	"github.com/kalambet/driftline/internal/storage"
)

// ErrInvalidInput rejects an edit or signal before anything is written.
var ErrInvalidInput = errors.New("invalid input")

// EditStore is the persistence manual edits need. *storage.Store satisfies it.
type EditStore interface {
	GetDocument(ctx context.Context, id string) (storage.Document, error)
	CommitChanges(ctx context.Context, cs storage.ChangeSet) (storage.CommitDetail, error)
}

// Editor applies human edits. Each edit is one manual commit holding one version.
type Editor struct {
	store    EditStore
	embedder Embedder
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func NewEditor(store EditStore, embedder Embedder, m *metrics.Metrics) *Editor {
	return &Editor{store: store, embedder: embedder, metrics: m, logger: slog.Default()}
}

// Create adds a document. A live document with the same title yields
// storage.ErrTitleTaken.
func (e *Editor) Create(ctx context.Context, workspaceID, title, content string) (storage.CommitDetail, error) {
	title = strings.TrimSpace(title)
	if workspaceID == "" {
		return storage.CommitDetail{}, fmt.Errorf("%w: workspace is required", ErrInvalidInput)
	}
	if title == "" {
		return storage.CommitDetail{}, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	vec, err := e.embedder.Embed(ctx, documentText(title, content), retrieval.LongInputLimit)
	if err != nil {
		return storage.CommitDetail{}, fmt.Errorf("embedding document: %w", err)
	}
	return e.commit(ctx, workspaceID, "Create "+title, storage.DocumentChange{
		ChangeType: storage.ChangeCreated,
		Title:      title,
		Content:    content,
		Embedding:  vec,
	})
}

// Modify replaces a live document's content. An empty title keeps the
// current one.
func (e *Editor) Modify(ctx context.Context, documentID, title, content string) (storage.CommitDetail, error) {
	doc, err := e.liveDocument(ctx, documentID)
	if err != nil {
		return storage.CommitDetail{}, err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = doc.Title
	}
	vec, err := e.embedder.Embed(ctx, documentText(title, content), retrieval.LongInputLimit)
	if err != nil {
		return storage.CommitDetail{}, fmt.Errorf("embedding document: %w", err)
	}
	return e.commit(ctx, doc.WorkspaceID, "Edit "+title, storage.DocumentChange{
		ChangeType: storage.ChangeModified,
		DocumentID: doc.ID,
		Title:      title,
		Content:    content,
		Embedding:  vec,
	})
}

// Delete removes a live document. Its history stays queryable.
func (e *Editor) Delete(ctx context.Context, documentID string) (storage.CommitDetail, error) {
	doc, err := e.liveDocument(ctx, documentID)
	if err != nil {
		return storage.CommitDetail{}, err
	}
	return e.commit(ctx, doc.WorkspaceID, "Delete "+doc.Title, storage.DocumentChange{
		ChangeType: storage.ChangeDeleted,
		DocumentID: doc.ID,
	})
}

func (e *Editor) liveDocument(ctx context.Context, id string) (storage.Document, error) {
	doc, err := e.store.GetDocument(ctx, id)
	if err != nil {
		return storage.Document{}, fmt.Errorf("document %s: %w", id, err)
	}
	if doc.DeletedAt != nil {
		return storage.Document{}, fmt.Errorf("document %s is deleted: %w", id, storage.ErrNotFound)
	}
	return doc, nil
}

func (e *Editor) commit(ctx context.Context, workspaceID, summary string, ch storage.DocumentChange) (storage.CommitDetail, error) {
	detail, err := e.store.CommitChanges(ctx, storage.ChangeSet{
		WorkspaceID: workspaceID,
		Summary:     summary,
		Trigger:     storage.TriggerManual,
		Changes:     []storage.DocumentChange{ch},
	})
	if err != nil {
		return storage.CommitDetail{}, err
	}
	e.metrics.AddVersion(ch.ChangeType)
	e.logger.Info("manual edit committed", "workspace_id", workspaceID, "commit_id", detail.ID, "change_type", ch.ChangeType)
	return detail, nil
}
