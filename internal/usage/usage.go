// Package usage turns engine token counts into the metrics a caller persists
// for billing, and defines the quota gate consulted before expensive work.
package usage

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/kalambet/driftline/internal/engine"
	"github.com/kalambet/driftline/internal/storage"
)

// Operations named in usage records and quota checks.
const (
	OpCapture   = "capture"
	OpSynthesis = "synthesis"
)

// Pricing is the per-million-token price in USD.
type Pricing struct {
	InputPerMTok  float64
	OutputPerMTok float64
}

// DefaultPricing matches gpt-4o-mini list prices.
var DefaultPricing = Pricing{InputPerMTok: 0.15, OutputPerMTok: 0.60}

// Metrics is the usage reported with every pipeline result.
type Metrics struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// Estimate prices u. Cost is rounded to micro-dollars.
func (p Pricing) Estimate(u engine.Usage) Metrics {
	cost := float64(u.PromptTokens)*p.InputPerMTok/1e6 + float64(u.CompletionTokens)*p.OutputPerMTok/1e6
	return Metrics{
		InputTokens:  u.PromptTokens,
		OutputTokens: u.CompletionTokens,
		CostUSD:      math.Round(cost*1e6) / 1e6,
	}
}

// Decision is the result of a quota check.
type Decision struct {
	Allowed bool
	Reason  string
}

// QuotaGate is consulted by the caller before a capture or synthesis run.
// Quota policy lives outside this service.
type QuotaGate interface {
	Check(ctx context.Context, userID, workspaceID, operation string) (Decision, error)
}

// AllowAll is the QuotaGate used when no external policy is configured.
type AllowAll struct{}

func (AllowAll) Check(context.Context, string, string, string) (Decision, error) {
	return Decision{Allowed: true}, nil
}

// Logger persists usage records. *storage.Store satisfies it.
type Logger interface {
	LogUsage(ctx context.Context, r storage.UsageRecord) error
}

// Record writes one usage row for a completed operation.
func Record(ctx context.Context, l Logger, workspaceID, userID, operation string, m Metrics) error {
	err := l.LogUsage(ctx, storage.UsageRecord{
		ID:           uuid.New().String(),
		WorkspaceID:  workspaceID,
		UserID:       userID,
		Operation:    operation,
		InputTokens:  m.InputTokens,
		OutputTokens: m.OutputTokens,
		CostUSD:      m.CostUSD,
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("logging %s usage: %w", operation, err)
	}
	return nil
}
