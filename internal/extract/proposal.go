package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kalambet/driftline/internal/engine"
)

// Document operation actions.
const (
	ActionCreate = "create"
	ActionModify = "modify"
	ActionDelete = "delete"
)

// Signal priorities, lowest first.
var Priorities = []string{"low", "medium", "high", "critical"}

// ValidPriority reports whether p is one of Priorities.
func ValidPriority(p string) bool {
	for _, v := range Priorities {
		if p == v {
			return true
		}
	}
	return false
}

// SignalInput is an unprocessed signal shown to the model.
type SignalInput struct {
	ID       string
	Content  string
	Priority string
}

// DocumentInput is the current state of a live synthesis document.
type DocumentInput struct {
	Title   string
	Content string
}

// Operation is one proposed document mutation.
type Operation struct {
	Action  string `json:"action"`
	Title   string `json:"title"`
	Content string `json:"content,omitempty"`
}

// PriorityRecommendation suggests a new priority for a signal.
type PriorityRecommendation struct {
	SignalID string `json:"signalId"`
	Priority string `json:"priority"`
}

// Proposal is the model's plan for folding signals into the knowledge base.
type Proposal struct {
	Summary                 string                   `json:"summary"`
	Operations              []Operation              `json:"operations"`
	PriorityRecommendations []PriorityRecommendation `json:"priorityRecommendations"`
}

// Propose asks the model how signals should change the workspace documents.
// Operations are validated; priority recommendations with an unknown
// priority are dropped.
func (e *Extractor) Propose(ctx context.Context, signals []SignalInput, docs []DocumentInput) (Proposal, engine.Usage, error) {
	resp, err := e.client.Chat(ctx, e.model, BuildSynthesisPrompt(signals, docs), proposalSchema())
	if err != nil {
		e.logger.Warn("synthesis chat failed", "error", err)
		return Proposal{}, engine.Usage{}, fmt.Errorf("synthesis chat: %w", err)
	}

	p, err := parseProposal(resp.Content)
	if err != nil {
		e.logger.Warn("rejecting synthesis response", "error", err, "response", resp.Content)
		return Proposal{}, resp.Usage, err
	}

	recs := p.PriorityRecommendations[:0]
	for _, r := range p.PriorityRecommendations {
		if r.SignalID == "" || !ValidPriority(r.Priority) {
			e.logger.Debug("dropping priority recommendation", "signal_id", r.SignalID, "priority", r.Priority)
			continue
		}
		recs = append(recs, r)
	}
	p.PriorityRecommendations = recs
	return p, resp.Usage, nil
}

func parseProposal(content string) (Proposal, error) {
	cleaned := cleanResponse(content)
	if cleaned == "" {
		return Proposal{}, fmt.Errorf("%w: no JSON object in reply", ErrMalformedResponse)
	}

	var p Proposal
	if err := json.Unmarshal([]byte(cleaned), &p); err != nil {
		return Proposal{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	for i := range p.Operations {
		op := &p.Operations[i]
		op.Action = strings.ToLower(strings.TrimSpace(op.Action))
		op.Title = strings.TrimSpace(op.Title)
		if op.Title == "" {
			return Proposal{}, fmt.Errorf("%w: operations[%d] has no title", ErrMalformedResponse, i)
		}
		switch op.Action {
		case ActionCreate, ActionModify:
			if strings.TrimSpace(op.Content) == "" {
				return Proposal{}, fmt.Errorf("%w: operations[%d] %s %q has no content", ErrMalformedResponse, i, op.Action, op.Title)
			}
		case ActionDelete:
			op.Content = ""
		default:
			return Proposal{}, fmt.Errorf("%w: operations[%d] has action %q", ErrMalformedResponse, i, op.Action)
		}
	}
	p.Summary = strings.TrimSpace(p.Summary)
	return p, nil
}

func proposalSchema() *engine.Schema {
	return &engine.Schema{
		Type: "object",
		Properties: map[string]*engine.Schema{
			"summary": {Type: "string", Description: "One-line description of the changes, used as the commit summary"},
			"operations": {
				Type: "array",
				Items: &engine.Schema{
					Type: "object",
					Properties: map[string]*engine.Schema{
						"action":  {Type: "string", Enum: []string{ActionCreate, ActionModify, ActionDelete}},
						"title":   {Type: "string"},
						"content": {Type: "string", Description: "Full new document content; omit for delete"},
					},
					Required: []string{"action", "title"},
				},
			},
			"priorityRecommendations": {
				Type: "array",
				Items: &engine.Schema{
					Type: "object",
					Properties: map[string]*engine.Schema{
						"signalId": {Type: "string"},
						"priority": {Type: "string", Enum: Priorities},
					},
					Required: []string{"signalId", "priority"},
				},
			},
		},
		Required: []string{"summary", "operations"},
	}
}
