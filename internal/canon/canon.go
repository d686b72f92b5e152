// Package canon manages a workspace's reference strategy, the text every
// capture is scored against.
package canon

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kalambet/driftline/internal/retrieval"
	"github.com/kalambet/driftline/internal/storage"
	"github.com/ledongthuc/pdf"
)

// ErrEmpty is returned when there is no strategy text to store.
var ErrEmpty = errors.New("canon text is empty")

// Store persists canons. *storage.Store satisfies it.
type Store interface {
	SaveCanon(ctx context.Context, c storage.Canon) error
}

// Embedder embeds the strategy text. *retrieval.Embedder satisfies it.
type Embedder interface {
	Embed(ctx context.Context, text string, limit int) ([]float32, error)
}

type Service struct {
	store    Store
	embedder Embedder
	now      func() time.Time
}

func NewService(store Store, embedder Embedder) *Service {
	return &Service{store: store, embedder: embedder, now: func() time.Time { return time.Now().UTC() }}
}

// Set appends a new canon for the workspace. Earlier canons are kept; the
// newest one is used for scoring.
func (s *Service) Set(ctx context.Context, workspaceID, text string) (storage.Canon, error) {
	text = strings.TrimSpace(text)
	if workspaceID == "" {
		return storage.Canon{}, errors.New("workspace is required")
	}
	if text == "" {
		return storage.Canon{}, ErrEmpty
	}
	vec, err := s.embedder.Embed(ctx, text, retrieval.LongInputLimit)
	if err != nil {
		return storage.Canon{}, fmt.Errorf("embedding canon: %w", err)
	}
	c := storage.Canon{
		ID:          uuid.New().String(),
		WorkspaceID: workspaceID,
		Content:     text,
		Embedding:   vec,
		CreatedAt:   s.now(),
	}
	if err := s.store.SaveCanon(ctx, c); err != nil {
		return storage.Canon{}, fmt.Errorf("saving canon: %w", err)
	}
	return c, nil
}

// ReadFile returns the strategy text in path. Files ending in .pdf are
// parsed; anything else is read as UTF-8 text.
func ReadFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		return PDFText(bytes.NewReader(data), int64(len(data)))
	}
	return string(data), nil
}

// PDFText extracts the plain text of every page.
func PDFText(r io.ReaderAt, size int64) (text string, err error) {
	// The pdf reader panics on some malformed inputs.
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("reading pdf: %v", p)
		}
	}()

	doc, err := pdf.NewReader(r, size)
	if err != nil {
		return "", fmt.Errorf("opening pdf: %w", err)
	}
	plain, err := doc.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return "", fmt.Errorf("extracting pdf text: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}
