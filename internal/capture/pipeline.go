// Package capture turns a member's free-text update into a scored artifact
// and folds the result into their engagement state.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kalambet/driftline/internal/engagement"
	"github.com/kalambet/driftline/internal/engine"
	"github.com/kalambet/driftline/internal/extract"
	"github.com/kalambet/driftline/internal/metrics"
	"github.com/kalambet/driftline/internal/retrieval"
	"github.com/kalambet/driftline/internal/scoring"
	"github.com/kalambet/driftline/internal/storage"
	"github.com/kalambet/driftline/internal/usage"
)

// DefaultMinLength is the shortest capture text accepted.
const DefaultMinLength = 10

// Pipeline stages, reported in ProcessingError.
const (
	StageEmbed   = "embed"
	StageCanon   = "canon"
	StageScore   = "score"
	StageExtract = "extract"
	StagePersist = "persist"
)

// Store is the persistence the pipeline needs. *storage.Store satisfies it.
type Store interface {
	SaveCapture(ctx context.Context, c storage.Capture) error
	DeleteUnprocessedCapture(ctx context.Context, id string) error
	LatestCanon(ctx context.Context, workspaceID string) (storage.Canon, error)
	CompleteCapture(ctx context.Context, a storage.Artifact, processedAt time.Time, update func(st engagement.State, at time.Time) engagement.State) (storage.Completion, error)
}

// Embedder embeds capture text. *retrieval.Embedder satisfies it.
type Embedder interface {
	Embed(ctx context.Context, text string, limit int) ([]float32, error)
}

// Extractor reads structure out of capture text. *extract.Extractor satisfies it.
type Extractor interface {
	Extract(ctx context.Context, text string) (extract.Extraction, engine.Usage, error)
}

// Config tunes the pipeline.
type Config struct {
	MinLength    int
	StreakWindow time.Duration
	Pricing      usage.Pricing
}

// Request is one capture submission.
type Request struct {
	UserID      string
	WorkspaceID string
	Text        string
	Source      string
	AudioURL    string
}

// Result is the outcome of a processed capture. Engagement is the member's
// state after the capture; Member is false when the author has no membership
// row, in which case Engagement is Unscored.
type Result struct {
	Capture    storage.Capture
	Artifact   storage.Artifact
	Member     bool
	Engagement engagement.State
}

// ValidationError rejects a request before anything is persisted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ProcessingError is the single failure type returned once a capture has been
// accepted. Retryable reports whether resubmitting may succeed.
type ProcessingError struct {
	Stage     string
	Retryable bool
	Err       error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("capture %s failed: %v", e.Stage, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

// Pipeline scores captures.
type Pipeline struct {
	store     Store
	embedder  Embedder
	extractor Extractor
	cfg       Config
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// NewPipeline creates a Pipeline. Zero config fields take their defaults.
func NewPipeline(store Store, embedder Embedder, extractor Extractor, cfg Config, m *metrics.Metrics) *Pipeline {
	if cfg.MinLength <= 0 {
		cfg.MinLength = DefaultMinLength
	}
	if cfg.StreakWindow <= 0 {
		cfg.StreakWindow = engagement.LiveStreakWindow
	}
	if cfg.Pricing == (usage.Pricing{}) {
		cfg.Pricing = usage.DefaultPricing
	}
	return &Pipeline{
		store:     store,
		embedder:  embedder,
		extractor: extractor,
		cfg:       cfg,
		metrics:   m,
		logger:    slog.Default(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Validate checks a request without touching the store.
func (p *Pipeline) Validate(req Request) error {
	if req.UserID == "" {
		return &ValidationError{Field: "user_id", Reason: "required"}
	}
	if req.WorkspaceID == "" {
		return &ValidationError{Field: "workspace_id", Reason: "required"}
	}
	switch req.Source {
	case storage.SourceWeb, storage.SourceVoice:
	default:
		return &ValidationError{Field: "source", Reason: fmt.Sprintf("must be %q or %q", storage.SourceWeb, storage.SourceVoice)}
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return &ValidationError{Field: "text", Reason: "required"}
	}
	if n := len([]rune(text)); n < p.cfg.MinLength {
		return &ValidationError{Field: "text", Reason: fmt.Sprintf("must be at least %d characters, got %d", p.cfg.MinLength, n)}
	}
	return nil
}

// Accept validates and persists an unprocessed capture.
func (p *Pipeline) Accept(ctx context.Context, req Request) (storage.Capture, error) {
	if err := p.Validate(req); err != nil {
		return storage.Capture{}, err
	}
	c := storage.Capture{
		ID:          uuid.New().String(),
		WorkspaceID: req.WorkspaceID,
		AuthorID:    req.UserID,
		Content:     strings.TrimSpace(req.Text),
		AudioURL:    req.AudioURL,
		Source:      req.Source,
		CreatedAt:   p.now(),
	}
	if err := p.store.SaveCapture(ctx, c); err != nil {
		return storage.Capture{}, fmt.Errorf("saving capture: %w", err)
	}
	return c, nil
}

// ProcessCapture validates, persists and scores a capture in one call. On
// failure the capture row is removed so no half-processed record survives.
func (p *Pipeline) ProcessCapture(ctx context.Context, req Request) (Result, usage.Metrics, error) {
	start := time.Now()
	c, err := p.Accept(ctx, req)
	if err != nil {
		var vErr *ValidationError
		if errors.As(err, &vErr) {
			p.metrics.ObserveCapture(metrics.ResultInvalid, time.Since(start))
		} else {
			p.metrics.ObserveCapture(metrics.ResultError, time.Since(start))
		}
		return Result{}, usage.Metrics{}, err
	}

	res, m, err := p.Process(ctx, c)
	if err != nil {
		p.discard(ctx, c.ID)
		return Result{}, m, err
	}
	return res, m, nil
}

// Process scores an already persisted capture. The capture is left untouched
// on failure; the caller decides whether to retry or discard it.
func (p *Pipeline) Process(ctx context.Context, c storage.Capture) (Result, usage.Metrics, error) {
	start := time.Now()
	res, u, err := p.process(ctx, c)
	m := p.cfg.Pricing.Estimate(u)
	p.metrics.AddTokens(u)
	if err != nil {
		p.metrics.ObserveCapture(metrics.ResultError, time.Since(start))
		return Result{}, m, err
	}
	p.metrics.ObserveCapture(metrics.ResultOK, time.Since(start))
	return res, m, nil
}

func (p *Pipeline) process(ctx context.Context, c storage.Capture) (Result, engine.Usage, error) {
	log := p.logger.With("capture_id", c.ID, "workspace_id", c.WorkspaceID)

	vec, err := p.embedder.Embed(ctx, c.Content, retrieval.LongInputLimit)
	if err != nil {
		log.Error("embedding capture failed", "error", err)
		return Result{}, engine.Usage{}, upstreamError(StageEmbed, err)
	}

	var canonID string
	var reference []float32
	canon, err := p.store.LatestCanon(ctx, c.WorkspaceID)
	switch {
	case err == nil:
		canonID, reference = canon.ID, canon.Embedding
	case errors.Is(err, storage.ErrNotFound):
		log.Debug("no canon set, using neutral alignment")
	default:
		log.Error("loading canon failed", "error", err)
		return Result{}, engine.Usage{}, &ProcessingError{Stage: StageCanon, Retryable: true, Err: err}
	}

	score, err := scoring.Align(vec, reference)
	if err != nil {
		// Capture and canon were embedded by different models.
		log.Error("scoring capture failed", "canon_id", canonID, "error", err)
		return Result{}, engine.Usage{}, &ProcessingError{Stage: StageScore, Err: err}
	}
	// Stored, folded and returned scores all carry two decimals.
	score = score.Rounded()

	ext, u, err := p.extractor.Extract(ctx, c.Content)
	if err != nil {
		log.Error("extraction failed", "error", err)
		return Result{}, u, upstreamError(StageExtract, err)
	}

	items := make([]storage.ActionItem, len(ext.ActionItems))
	for i, it := range ext.ActionItems {
		items[i] = storage.ActionItem{Task: it.Task, Status: it.Status}
	}
	processedAt := p.now()
	a := storage.Artifact{
		ID:             uuid.New().String(),
		CaptureID:      c.ID,
		CanonID:        canonID,
		DriftScore:     score.Drift,
		AlignmentScore: score.Alignment,
		SentimentScore: ext.SentimentScore,
		Synthesis:      ext.Synthesis,
		ActionItems:    items,
		Feedback:       ext.Feedback,
		Embedding:      vec,
		CreatedAt:      processedAt,
	}

	// The fold is timed by completion, the order MemberHistory replays in.
	done, err := p.store.CompleteCapture(ctx, a, processedAt, func(s engagement.State, at time.Time) engagement.State {
		return s.Apply(score.Alignment, at, p.cfg.StreakWindow)
	})
	if err != nil {
		log.Error("persisting artifact failed", "error", err)
		return Result{}, u, &ProcessingError{Stage: StagePersist, Retryable: !errors.Is(err, storage.ErrNotFound), Err: err}
	}

	c.ProcessedAt = &done.ProcessedAt
	log.Info("capture processed", "alignment", score.Alignment, "member", done.Member)
	return Result{Capture: c, Artifact: a, Member: done.Member, Engagement: done.State}, u, nil
}

func (p *Pipeline) discard(ctx context.Context, id string) {
	// The request context may already be done.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := p.store.DeleteUnprocessedCapture(ctx, id); err != nil && !errors.Is(err, storage.ErrNotFound) {
		p.logger.Error("removing failed capture", "capture_id", id, "error", err)
	}
}

func upstreamError(stage string, err error) *ProcessingError {
	retryable := engine.IsTransient(err) || errors.Is(err, context.DeadlineExceeded)
	if errors.Is(err, extract.ErrMalformedResponse) {
		retryable = true
	}
	return &ProcessingError{Stage: stage, Retryable: retryable, Err: err}
}
