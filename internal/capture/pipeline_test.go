package capture

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/kalambet/driftline/internal/engagement"
	"github.com/kalambet/driftline/internal/engine"
	"github.com/kalambet/driftline/internal/extract"
	"github.com/kalambet/driftline/internal/storage"
	"github.com/kalambet/driftline/internal/usage"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// stubEmbedder returns vectors[text], or unitX for unknown text.
type stubEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (s *stubEmbedder) Embed(_ context.Context, text string, _ int) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	if v, ok := s.vectors[text]; ok {
		return v, nil
	}
	return []float32{1, 0}, nil
}

type stubExtractor struct {
	result extract.Extraction
	usage  engine.Usage
	err    error
	calls  int
}

func (s *stubExtractor) Extract(_ context.Context, text string) (extract.Extraction, engine.Usage, error) {
	s.calls++
	if s.err != nil {
		return extract.Extraction{}, s.usage, s.err
	}
	r := s.result
	if r.Synthesis == "" {
		r.Synthesis = text
	}
	if r.ActionItems == nil {
		r.ActionItems = []extract.ActionItem{}
	}
	return r, s.usage, nil
}

// spyStore records capture writes made through the pipeline.
type spyStore struct {
	*storage.Store
	saved   []string
	deleted []string
}

func (s *spyStore) SaveCapture(ctx context.Context, c storage.Capture) error {
	s.saved = append(s.saved, c.ID)
	return s.Store.SaveCapture(ctx, c)
}

func (s *spyStore) DeleteUnprocessedCapture(ctx context.Context, id string) error {
	s.deleted = append(s.deleted, id)
	return s.Store.DeleteUnprocessedCapture(ctx, id)
}

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// unit returns a 2-d unit vector whose cosine with (1, 0) is a.
func unit(a float64) []float32 {
	return []float32{float32(a), float32(math.Sqrt(1 - a*a))}
}

func newTestPipeline(store Store, emb Embedder, ext Extractor, at *time.Time) *Pipeline {
	p := NewPipeline(store, emb, ext, Config{}, nil)
	p.now = func() time.Time { return *at }
	return p
}

func req(text string) Request {
	return Request{UserID: "u1", WorkspaceID: "ws1", Text: text, Source: storage.SourceWeb}
}

func TestProcessCapture_NoCanonIsNeutral(t *testing.T) {
	store := openTestStore(t)
	at := t0
	p := newTestPipeline(store, &stubEmbedder{}, &stubExtractor{}, &at)

	res, _, err := p.ProcessCapture(context.Background(), req("shipped the billing migration"))
	if err != nil {
		t.Fatalf("ProcessCapture: %v", err)
	}
	if res.Artifact.AlignmentScore != 0.5 || res.Artifact.DriftScore != 0.5 {
		t.Errorf("scores = %v/%v, want exactly 0.5/0.5", res.Artifact.AlignmentScore, res.Artifact.DriftScore)
	}
	if res.Artifact.CanonID != "" {
		t.Errorf("CanonID = %q, want empty", res.Artifact.CanonID)
	}
	if res.Capture.ProcessedAt == nil {
		t.Error("ProcessedAt not set")
	}

	got, err := store.GetArtifactByCapture(context.Background(), res.Capture.ID)
	if err != nil {
		t.Fatalf("GetArtifactByCapture: %v", err)
	}
	if got.AlignmentScore != 0.5 {
		t.Errorf("stored alignment = %v, want 0.5", got.AlignmentScore)
	}
}

func TestProcessCapture_EngagementScenario(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	if _, err := store.EnsureMembership(ctx, "u1", "ws1"); err != nil {
		t.Fatalf("EnsureMembership: %v", err)
	}
	if err := store.SaveCanon(ctx, storage.Canon{ID: "c1", WorkspaceID: "ws1", Content: "strategy", Embedding: []float32{1, 0}, CreatedAt: t0.Add(-time.Hour)}); err != nil {
		t.Fatalf("SaveCanon: %v", err)
	}

	emb := &stubEmbedder{vectors: map[string][]float32{
		"first update text":  unit(0.8),
		"second update text": unit(0.4),
		"third update text":  unit(1.0),
	}}
	at := t0
	p := newTestPipeline(store, emb, &stubExtractor{}, &at)

	steps := []struct {
		text     string
		at       time.Time
		streak   int
		traction float64
	}{
		{"first update text", t0, 1, 0.80},
		{"second update text", t0.Add(10 * time.Hour), 2, 0.68},
		{"third update text", t0.Add(82 * time.Hour), 1, 0.78},
	}
	for _, st := range steps {
		at = st.at
		res, _, err := p.ProcessCapture(ctx, req(st.text))
		if err != nil {
			t.Fatalf("ProcessCapture(%q): %v", st.text, err)
		}
		if !res.Member {
			t.Fatalf("%q: Member = false, want true", st.text)
		}
		if res.Artifact.CanonID != "c1" {
			t.Errorf("%q: CanonID = %q, want c1", st.text, res.Artifact.CanonID)
		}
		if res.Engagement.Streak != st.streak {
			t.Errorf("%q: streak = %d, want %d", st.text, res.Engagement.Streak, st.streak)
		}
		if got := res.Engagement.DisplayTraction(); got != st.traction {
			t.Errorf("%q: traction = %v, want %v", st.text, got, st.traction)
		}
	}

	m, err := store.GetMembership(ctx, "u1", "ws1")
	if err != nil {
		t.Fatalf("GetMembership: %v", err)
	}
	if m.State.Streak != 1 || m.State.DisplayTraction() != 0.78 {
		t.Errorf("persisted state = %d/%v, want 1/0.78", m.State.Streak, m.State.DisplayTraction())
	}

	history, err := store.MemberHistory(ctx, "u1", "ws1")
	if err != nil {
		t.Fatalf("MemberHistory: %v", err)
	}
	replayed := engagement.Replay(history, engagement.LiveStreakWindow)
	if replayed.Streak != m.State.Streak || replayed.DisplayTraction() != m.State.DisplayTraction() {
		t.Errorf("replay = %d/%v, live = %d/%v", replayed.Streak, replayed.DisplayTraction(), m.State.Streak, m.State.DisplayTraction())
	}
}

func TestProcessCapture_StoresRoundedScores(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	if _, err := store.EnsureMembership(ctx, "u1", "ws1"); err != nil {
		t.Fatalf("EnsureMembership: %v", err)
	}
	if err := store.SaveCanon(ctx, storage.Canon{ID: "c1", WorkspaceID: "ws1", Content: "strategy", Embedding: []float32{1, 0}, CreatedAt: t0.Add(-time.Hour)}); err != nil {
		t.Fatalf("SaveCanon: %v", err)
	}
	at := t0
	p := newTestPipeline(store, &stubEmbedder{vectors: map[string][]float32{"oblique update": unit(0.123)}}, &stubExtractor{}, &at)

	res, _, err := p.ProcessCapture(ctx, req("oblique update"))
	if err != nil {
		t.Fatalf("ProcessCapture: %v", err)
	}
	if res.Artifact.AlignmentScore != 0.12 || res.Artifact.DriftScore != 0.88 {
		t.Errorf("returned scores = %v/%v, want 0.12/0.88", res.Artifact.AlignmentScore, res.Artifact.DriftScore)
	}
	got, err := store.GetArtifactByCapture(ctx, res.Capture.ID)
	if err != nil {
		t.Fatalf("GetArtifactByCapture: %v", err)
	}
	if got.AlignmentScore != 0.12 || got.DriftScore != 0.88 {
		t.Errorf("stored scores = %v/%v, want 0.12/0.88", got.AlignmentScore, got.DriftScore)
	}
	if res.Engagement.Traction != 0.12 {
		t.Errorf("traction = %v, want the rounded sample 0.12", res.Engagement.Traction)
	}
}

func TestProcessCapture_NonMember(t *testing.T) {
	store := openTestStore(t)
	at := t0
	p := newTestPipeline(store, &stubEmbedder{}, &stubExtractor{}, &at)

	res, _, err := p.ProcessCapture(context.Background(), req("an update from a guest"))
	if err != nil {
		t.Fatalf("ProcessCapture: %v", err)
	}
	if res.Member {
		t.Error("Member = true, want false")
	}
	if res.Engagement.IsScored() || res.Engagement.Streak != 0 || res.Engagement.Traction != 0 {
		t.Errorf("Engagement = %+v, want unscored zero", res.Engagement)
	}
}

func TestProcessCapture_PersistsExtraction(t *testing.T) {
	store := openTestStore(t)
	at := t0
	ext := &stubExtractor{
		result: extract.Extraction{
			SentimentScore: -0.4,
			ActionItems:    []extract.ActionItem{{Task: "fix login", Status: extract.StatusBlocked}},
			Synthesis:      "Login is blocked.",
			Feedback:       "Escalate to platform.",
		},
		usage: engine.Usage{PromptTokens: 1_000_000, CompletionTokens: 100_000},
	}
	p := newTestPipeline(store, &stubEmbedder{}, ext, &at)

	res, m, err := p.ProcessCapture(context.Background(), req("login is broken again, blocked"))
	if err != nil {
		t.Fatalf("ProcessCapture: %v", err)
	}
	want := usage.Metrics{InputTokens: 1_000_000, OutputTokens: 100_000, CostUSD: 0.21}
	if m != want {
		t.Errorf("metrics = %+v, want %+v", m, want)
	}

	got, err := store.GetArtifactByCapture(context.Background(), res.Capture.ID)
	if err != nil {
		t.Fatalf("GetArtifactByCapture: %v", err)
	}
	if got.SentimentScore != -0.4 || got.Synthesis != "Login is blocked." || got.Feedback != "Escalate to platform." {
		t.Errorf("artifact = %+v", got)
	}
	if len(got.ActionItems) != 1 || got.ActionItems[0] != (storage.ActionItem{Task: "fix login", Status: "blocked"}) {
		t.Errorf("action items = %+v", got.ActionItems)
	}
}

func TestProcessCapture_ValidationRejectsBeforePersist(t *testing.T) {
	spy := &spyStore{Store: openTestStore(t)}
	at := t0
	emb := &stubEmbedder{}
	p := newTestPipeline(spy, emb, &stubExtractor{}, &at)

	tests := []struct {
		name  string
		req   Request
		field string
	}{
		{"short text", req("too short"), "text"},
		{"blank text", req("            "), "text"},
		{"no user", Request{WorkspaceID: "ws1", Text: "long enough text", Source: storage.SourceWeb}, "user_id"},
		{"no workspace", Request{UserID: "u1", Text: "long enough text", Source: storage.SourceWeb}, "workspace_id"},
		{"bad source", Request{UserID: "u1", WorkspaceID: "ws1", Text: "long enough text", Source: "email"}, "source"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := p.ProcessCapture(context.Background(), tt.req)
			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
			if vErr.Field != tt.field {
				t.Errorf("Field = %q, want %q", vErr.Field, tt.field)
			}
		})
	}
	if len(spy.saved) != 0 {
		t.Errorf("saved %d captures, want 0", len(spy.saved))
	}
}

func TestProcessCapture_MinLengthCountsRunes(t *testing.T) {
	at := t0
	p := newTestPipeline(openTestStore(t), &stubEmbedder{}, &stubExtractor{}, &at)
	if err := p.Validate(req("éééééééééé")); err != nil {
		t.Errorf("10 runes rejected: %v", err)
	}
}

func TestProcessCapture_ExtractionFailureLeavesNoOrphan(t *testing.T) {
	ctx := context.Background()
	spy := &spyStore{Store: openTestStore(t)}
	if _, err := spy.EnsureMembership(ctx, "u1", "ws1"); err != nil {
		t.Fatalf("EnsureMembership: %v", err)
	}
	at := t0
	ext := &stubExtractor{err: engine.NewTransientError(errors.New("rate limited"))}
	p := newTestPipeline(spy, &stubEmbedder{}, ext, &at)

	_, _, err := p.ProcessCapture(ctx, req("weekly update on the roadmap"))
	var pErr *ProcessingError
	if !errors.As(err, &pErr) {
		t.Fatalf("err = %v, want ProcessingError", err)
	}
	if pErr.Stage != StageExtract || !pErr.Retryable {
		t.Errorf("ProcessingError = %+v, want retryable extract failure", pErr)
	}

	if len(spy.saved) != 1 || len(spy.deleted) != 1 || spy.saved[0] != spy.deleted[0] {
		t.Fatalf("saved %v, deleted %v", spy.saved, spy.deleted)
	}
	if _, err := spy.GetCapture(ctx, spy.saved[0]); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetCapture after failure: %v, want ErrNotFound", err)
	}
	m, err := spy.GetMembership(ctx, "u1", "ws1")
	if err != nil {
		t.Fatalf("GetMembership: %v", err)
	}
	if m.State.IsScored() {
		t.Error("membership was updated by a failed capture")
	}
}

func TestProcessCapture_EmbedFailure(t *testing.T) {
	spy := &spyStore{Store: openTestStore(t)}
	at := t0
	ext := &stubExtractor{}
	p := newTestPipeline(spy, &stubEmbedder{err: engine.NewFatalError(errors.New("model not found"))}, ext, &at)

	_, _, err := p.ProcessCapture(context.Background(), req("weekly update on the roadmap"))
	var pErr *ProcessingError
	if !errors.As(err, &pErr) {
		t.Fatalf("err = %v, want ProcessingError", err)
	}
	if pErr.Stage != StageEmbed || pErr.Retryable {
		t.Errorf("ProcessingError = %+v, want non-retryable embed failure", pErr)
	}
	if ext.calls != 0 {
		t.Errorf("extractor called %d times after embed failure", ext.calls)
	}
	if len(spy.deleted) != 1 {
		t.Errorf("deleted %v, want the failed capture", spy.deleted)
	}
}

func TestProcessCapture_MalformedResponseIsRetryable(t *testing.T) {
	at := t0
	ext := &stubExtractor{err: extract.ErrMalformedResponse}
	p := newTestPipeline(openTestStore(t), &stubEmbedder{}, ext, &at)

	_, _, err := p.ProcessCapture(context.Background(), req("weekly update on the roadmap"))
	var pErr *ProcessingError
	if !errors.As(err, &pErr) || !pErr.Retryable {
		t.Fatalf("err = %v, want retryable ProcessingError", err)
	}
	if !errors.Is(err, extract.ErrMalformedResponse) {
		t.Error("cause not preserved")
	}
}

func TestProcessCapture_DimensionMismatch(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	if err := store.SaveCanon(ctx, storage.Canon{ID: "c1", WorkspaceID: "ws1", Content: "s", Embedding: []float32{1, 0, 0}, CreatedAt: t0}); err != nil {
		t.Fatalf("SaveCanon: %v", err)
	}
	at := t0
	p := newTestPipeline(store, &stubEmbedder{}, &stubExtractor{}, &at)

	_, _, err := p.ProcessCapture(ctx, req("weekly update on the roadmap"))
	var pErr *ProcessingError
	if !errors.As(err, &pErr) || pErr.Stage != StageScore || pErr.Retryable {
		t.Fatalf("err = %v, want non-retryable score failure", err)
	}
}
