// Package synthesis folds unprocessed signals into a workspace's versioned
// knowledge base. Every mutation, whether proposed by the model or made by
// hand, lands as exactly one commit with one version per touched document.
package synthesis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kalambet/driftline/internal/engine"
	"github.com/kalambet/driftline/internal/extract"
	"github.com/kalambet/driftline/internal/metrics"
	"github.com/kalambet/driftline/internal/retrieval"
	"github.com/kalambet/driftline/internal/storage"
	"github.com/kalambet/driftline/internal/usage"
)

// Run stages, reported in RunError.
const (
	StageGather  = "gather"
	StagePropose = "propose"
	StageEmbed   = "embed"
	StageCommit  = "commit"
)

// Store is the persistence the orchestrator needs. *storage.Store satisfies it.
type Store interface {
	ListSignals(ctx context.Context, workspaceID string, unprocessedOnly bool) ([]storage.Signal, error)
	ListDocuments(ctx context.Context, workspaceID string) ([]storage.Document, error)
	HeadCommit(ctx context.Context, workspaceID string) (storage.Commit, error)
	CommitChanges(ctx context.Context, cs storage.ChangeSet) (storage.CommitDetail, error)
}

// Proposer asks the model for document operations. *extract.Extractor satisfies it.
type Proposer interface {
	Propose(ctx context.Context, signals []extract.SignalInput, docs []extract.DocumentInput) (extract.Proposal, engine.Usage, error)
}

// Embedder embeds document text. *retrieval.Embedder satisfies it.
type Embedder interface {
	Embed(ctx context.Context, text string, limit int) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string, limit int) ([][]float32, error)
}

// RunError is the single failure type returned by Run.
type RunError struct {
	Stage     string
	Retryable bool
	Err       error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("synthesis %s failed: %v", e.Stage, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// AppliedOperation is a proposed operation as it was recorded.
type AppliedOperation struct {
	Action     string `json:"action"`
	ChangeType string `json:"change_type"`
	DocumentID string `json:"document_id"`
	Title      string `json:"title"`
}

// SkippedOperation is a proposed operation that could not be applied.
type SkippedOperation struct {
	Operation extract.Operation `json:"operation"`
	Reason    string            `json:"reason"`
}

// RunResult reports what a run did. Commit is nil when nothing was applied.
type RunResult struct {
	Summary                 string                           `json:"summary"`
	Commit                  *storage.Commit                  `json:"commit,omitempty"`
	Operations              []AppliedOperation               `json:"operations"`
	Skipped                 []SkippedOperation               `json:"skipped,omitempty"`
	PriorityRecommendations []extract.PriorityRecommendation `json:"priority_recommendations"`
	SignalsConsumed         int                              `json:"signals_consumed"`
}

// Orchestrator runs synthesis for one workspace at a time.
type Orchestrator struct {
	store    Store
	proposer Proposer
	embedder Embedder
	pricing  usage.Pricing
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewOrchestrator creates an Orchestrator. A zero pricing uses usage.DefaultPricing.
func NewOrchestrator(store Store, proposer Proposer, embedder Embedder, pricing usage.Pricing, m *metrics.Metrics) *Orchestrator {
	if pricing == (usage.Pricing{}) {
		pricing = usage.DefaultPricing
	}
	return &Orchestrator{
		store:    store,
		proposer: proposer,
		embedder: embedder,
		pricing:  pricing,
		metrics:  m,
		logger:   slog.Default(),
	}
}

// Run consumes the workspace's unprocessed signals. With no signals, or when
// none of the proposed operations can be applied, nothing is written.
func (o *Orchestrator) Run(ctx context.Context, workspaceID, trigger string) (RunResult, usage.Metrics, error) {
	res, u, err := o.run(ctx, workspaceID, trigger)
	m := o.pricing.Estimate(u)
	o.metrics.AddTokens(u)
	switch {
	case err != nil:
		o.metrics.ObserveSynthesis(trigger, metrics.ResultError)
	case res.Commit == nil:
		o.metrics.ObserveSynthesis(trigger, metrics.ResultNoop)
	default:
		o.metrics.ObserveSynthesis(trigger, metrics.ResultOK)
	}
	return res, m, err
}

func (o *Orchestrator) run(ctx context.Context, workspaceID, trigger string) (RunResult, engine.Usage, error) {
	log := o.logger.With("workspace_id", workspaceID, "trigger", trigger)

	signals, err := o.store.ListSignals(ctx, workspaceID, true)
	if err != nil {
		log.Error("listing unprocessed signals failed", "error", err)
		return RunResult{}, engine.Usage{}, &RunError{Stage: StageGather, Retryable: true, Err: err}
	}
	if len(signals) == 0 {
		log.Debug("no unprocessed signals")
		return RunResult{Operations: []AppliedOperation{}, PriorityRecommendations: []extract.PriorityRecommendation{}}, engine.Usage{}, nil
	}

	// The head is read before the documents so a concurrent commit is
	// detected at write time instead of silently overwritten.
	var parentID string
	head, err := o.store.HeadCommit(ctx, workspaceID)
	switch {
	case err == nil:
		parentID = head.ID
	case errors.Is(err, storage.ErrNotFound):
	default:
		log.Error("reading head commit failed", "error", err)
		return RunResult{}, engine.Usage{}, &RunError{Stage: StageGather, Retryable: true, Err: err}
	}

	docs, err := o.store.ListDocuments(ctx, workspaceID)
	if err != nil {
		log.Error("listing documents failed", "error", err)
		return RunResult{}, engine.Usage{}, &RunError{Stage: StageGather, Retryable: true, Err: err}
	}

	sigInputs := make([]extract.SignalInput, len(signals))
	signalIDs := make([]string, len(signals))
	for i, s := range signals {
		p := s.HumanPriority
		if p == "" {
			p = s.AIPriority
		}
		sigInputs[i] = extract.SignalInput{ID: s.ID, Content: s.Content, Priority: p}
		signalIDs[i] = s.ID
	}
	docInputs := make([]extract.DocumentInput, len(docs))
	for i, d := range docs {
		docInputs[i] = extract.DocumentInput{Title: d.Title, Content: d.Content}
	}

	proposal, u, err := o.proposer.Propose(ctx, sigInputs, docInputs)
	if err != nil {
		log.Error("synthesis proposal failed", "error", err)
		return RunResult{}, u, upstreamError(StagePropose, err)
	}

	plan := planChanges(docs, proposal.Operations)
	for _, s := range plan.skipped {
		log.Warn("skipping proposed operation", "action", s.Operation.Action, "title", s.Operation.Title, "reason", s.Reason)
	}

	recs := filterRecommendations(proposal.PriorityRecommendations, signalIDs)
	res := RunResult{
		Summary:                 proposal.Summary,
		Operations:              []AppliedOperation{},
		Skipped:                 plan.skipped,
		PriorityRecommendations: recs,
	}
	if len(plan.changes) == 0 {
		log.Info("no applicable operations, nothing committed", "proposed", len(proposal.Operations))
		return res, u, nil
	}

	if err := embedChanges(ctx, o.embedder, plan.changes); err != nil {
		log.Error("embedding documents failed", "error", err)
		return RunResult{}, u, upstreamError(StageEmbed, err)
	}

	priorities := make(map[string]string, len(recs))
	for _, r := range recs {
		priorities[r.SignalID] = r.Priority
	}
	summary := proposal.Summary
	if strings.TrimSpace(summary) == "" {
		summary = fmt.Sprintf("Synthesized %d signals", len(signals))
	}

	detail, err := o.store.CommitChanges(ctx, storage.ChangeSet{
		WorkspaceID:     workspaceID,
		Summary:         summary,
		Trigger:         trigger,
		ParentID:        parentID,
		Changes:         plan.changes,
		SignalIDs:       signalIDs,
		PriorityUpdates: priorities,
	})
	if err != nil {
		log.Error("committing synthesis failed", "error", err)
		retryable := errors.Is(err, storage.ErrHeadMoved) || errors.Is(err, storage.ErrSignalConsumed)
		return RunResult{}, u, &RunError{Stage: StageCommit, Retryable: retryable, Err: err}
	}

	for i, v := range detail.Versions {
		o.metrics.AddVersion(v.ChangeType)
		res.Operations = append(res.Operations, AppliedOperation{
			Action:     plan.actions[i],
			ChangeType: v.ChangeType,
			DocumentID: v.DocumentID,
			Title:      v.Title,
		})
	}
	res.Commit = &detail.Commit
	res.Summary = summary
	res.SignalsConsumed = len(signalIDs)
	log.Info("synthesis committed", "commit_id", detail.ID, "seq", detail.Seq, "versions", len(detail.Versions), "signals", len(signalIDs))
	return res, u, nil
}

type changePlan struct {
	changes []storage.DocumentChange
	actions []string // proposed action behind each change
	skipped []SkippedOperation
}

// planChanges maps proposed operations onto live documents by title. A create
// for an existing title becomes a modification. Operations on a title already
// touched by this proposal are skipped.
func planChanges(docs []storage.Document, ops []extract.Operation) changePlan {
	live := make(map[string]storage.Document, len(docs))
	for _, d := range docs {
		live[d.Title] = d
	}
	touched := make(map[string]bool)

	var p changePlan
	skip := func(op extract.Operation, reason string) {
		p.skipped = append(p.skipped, SkippedOperation{Operation: op, Reason: reason})
	}

	for _, op := range ops {
		title := strings.TrimSpace(op.Title)
		if touched[title] {
			skip(op, "title already changed in this run")
			continue
		}
		doc, exists := live[title]

		var ch storage.DocumentChange
		switch op.Action {
		case extract.ActionCreate:
			if exists {
				ch = storage.DocumentChange{ChangeType: storage.ChangeModified, DocumentID: doc.ID, Title: title, Content: op.Content}
			} else {
				ch = storage.DocumentChange{ChangeType: storage.ChangeCreated, Title: title, Content: op.Content}
			}
		case extract.ActionModify:
			if !exists {
				skip(op, "no live document with this title")
				continue
			}
			if doc.Content == op.Content {
				skip(op, "content unchanged")
				continue
			}
			ch = storage.DocumentChange{ChangeType: storage.ChangeModified, DocumentID: doc.ID, Title: title, Content: op.Content}
		case extract.ActionDelete:
			if !exists {
				skip(op, "no live document with this title")
				continue
			}
			ch = storage.DocumentChange{ChangeType: storage.ChangeDeleted, DocumentID: doc.ID, Title: title}
		default:
			skip(op, "unknown action")
			continue
		}
		touched[title] = true
		p.changes = append(p.changes, ch)
		p.actions = append(p.actions, op.Action)
	}
	return p
}

// filterRecommendations keeps recommendations for signals consumed by this run.
func filterRecommendations(recs []extract.PriorityRecommendation, signalIDs []string) []extract.PriorityRecommendation {
	known := make(map[string]bool, len(signalIDs))
	for _, id := range signalIDs {
		known[id] = true
	}
	out := []extract.PriorityRecommendation{}
	for _, r := range recs {
		if known[r.SignalID] {
			out = append(out, r)
		}
	}
	return out
}

// embedChanges fills in the embedding of every created or modified document.
func embedChanges(ctx context.Context, e Embedder, changes []storage.DocumentChange) error {
	var texts []string
	var idx []int
	for i, ch := range changes {
		if ch.ChangeType == storage.ChangeDeleted {
			continue
		}
		texts = append(texts, documentText(ch.Title, ch.Content))
		idx = append(idx, i)
	}
	vecs, err := e.EmbedBatch(ctx, texts, retrieval.LongInputLimit)
	if err != nil {
		return err
	}
	for j, i := range idx {
		changes[i].Embedding = vecs[j]
	}
	return nil
}

func documentText(title, content string) string {
	return title + "\n\n" + content
}

func upstreamError(stage string, err error) *RunError {
	retryable := engine.IsTransient(err) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, extract.ErrMalformedResponse)
	return &RunError{Stage: stage, Retryable: retryable, Err: err}
}
