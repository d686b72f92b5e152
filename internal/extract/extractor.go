// Package extract wraps the language-model calls that turn free text into
// structured data: the per-capture extraction and the synthesis proposal.
// Both validate the model's JSON and fail with ErrMalformedResponse instead
// of persisting guesses.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kalambet/driftline/internal/engine"
	"github.com/kalambet/driftline/internal/scoring"
)

// ErrMalformedResponse is returned when the model reply is not JSON of the
// requested shape.
var ErrMalformedResponse = errors.New("malformed model response")

// Chatter is the chat capability the extractor needs. engine.Engine satisfies it.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []engine.Message, jsonSchema *engine.Schema) (engine.ChatResponse, error)
}

// Action item statuses.
const (
	StatusOpen    = "open"
	StatusBlocked = "blocked"
	StatusDone    = "done"
)

// ActionItem is one task mentioned in a capture.
type ActionItem struct {
	Task   string `json:"task"`
	Status string `json:"status"`
}

// Extraction is the structured reading of one capture.
type Extraction struct {
	SentimentScore float64      `json:"sentimentScore"`
	ActionItems    []ActionItem `json:"actionItems"`
	Synthesis      string       `json:"synthesis"`
	Feedback       string       `json:"feedback"`
}

// rawExtraction distinguishes absent fields from zero values.
type rawExtraction struct {
	SentimentScore *float64     `json:"sentimentScore"`
	ActionItems    []ActionItem `json:"actionItems"`
	Synthesis      string       `json:"synthesis"`
	Feedback       string       `json:"feedback"`
}

// Extractor runs structured extraction and synthesis proposals against a chat model.
type Extractor struct {
	client Chatter
	model  string
	logger *slog.Logger
}

// NewExtractor creates an Extractor using the given chat client and model name.
func NewExtractor(client Chatter, model string) *Extractor {
	return &Extractor{client: client, model: model, logger: slog.Default()}
}

// Extract asks the model for sentiment, action items, a synthesis and
// coaching feedback for text. Sentiment is clamped to [-1,1], a missing
// action-item list becomes empty and an empty synthesis falls back to text.
// Upstream errors are returned as-is so their transient/fatal class survives.
// The returned usage is valid whenever the model answered, even if the
// answer was rejected.
func (e *Extractor) Extract(ctx context.Context, text string) (Extraction, engine.Usage, error) {
	resp, err := e.client.Chat(ctx, e.model, BuildExtractionPrompt(text), extractionSchema())
	if err != nil {
		e.logger.Warn("extraction chat failed", "error", err)
		return Extraction{}, engine.Usage{}, fmt.Errorf("extraction chat: %w", err)
	}

	out, err := parseExtraction(resp.Content, text)
	if err != nil {
		e.logger.Warn("rejecting extraction response", "error", err, "response", resp.Content)
		return Extraction{}, resp.Usage, err
	}
	return out, resp.Usage, nil
}

func parseExtraction(content, text string) (Extraction, error) {
	cleaned := cleanResponse(content)
	if cleaned == "" {
		return Extraction{}, fmt.Errorf("%w: no JSON object in reply", ErrMalformedResponse)
	}

	var raw rawExtraction
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return Extraction{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if raw.SentimentScore == nil {
		return Extraction{}, fmt.Errorf("%w: sentimentScore missing", ErrMalformedResponse)
	}

	items := make([]ActionItem, 0, len(raw.ActionItems))
	for i, it := range raw.ActionItems {
		task := strings.TrimSpace(it.Task)
		if task == "" {
			return Extraction{}, fmt.Errorf("%w: actionItems[%d] has no task", ErrMalformedResponse, i)
		}
		if !validStatus(it.Status) {
			return Extraction{}, fmt.Errorf("%w: actionItems[%d] has status %q", ErrMalformedResponse, i, it.Status)
		}
		items = append(items, ActionItem{Task: task, Status: it.Status})
	}

	synthesis := strings.TrimSpace(raw.Synthesis)
	if synthesis == "" {
		synthesis = text
	}

	return Extraction{
		SentimentScore: scoring.ClampSentiment(*raw.SentimentScore),
		ActionItems:    items,
		Synthesis:      synthesis,
		Feedback:       strings.TrimSpace(raw.Feedback),
	}, nil
}

func validStatus(s string) bool {
	switch s {
	case StatusOpen, StatusBlocked, StatusDone:
		return true
	}
	return false
}

func extractionSchema() *engine.Schema {
	return &engine.Schema{
		Type: "object",
		Properties: map[string]*engine.Schema{
			"sentimentScore": {Type: "number", Description: "Overall sentiment from -1.0 (negative) to 1.0 (positive)"},
			"actionItems": {
				Type:        "array",
				Description: "Concrete tasks mentioned in the update",
				Items: &engine.Schema{
					Type: "object",
					Properties: map[string]*engine.Schema{
						"task":   {Type: "string"},
						"status": {Type: "string", Enum: []string{StatusOpen, StatusBlocked, StatusDone}},
					},
					Required: []string{"task", "status"},
				},
			},
			"synthesis": {Type: "string", Description: "A concise restatement of the update"},
			"feedback":  {Type: "string", Description: "One or two sentences of coaching feedback"},
		},
		Required: []string{"sentimentScore", "actionItems", "synthesis", "feedback"},
	}
}
