package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/kalambet/driftline/internal/storage"
)

// BudgetWindow is the trailing period a BudgetGate sums spend over.
const BudgetWindow = 24 * time.Hour

// UsageReader sums recorded usage. *storage.Store satisfies it.
type UsageReader interface {
	UsageSince(ctx context.Context, workspaceID string, since time.Time) (storage.UsageTotals, error)
}

// BudgetGate denies work for a workspace whose estimated spend over the last
// BudgetWindow has reached Limit USD.
type BudgetGate struct {
	reader UsageReader
	limit  float64
	now    func() time.Time
}

// NewBudgetGate creates a BudgetGate with a daily limit in USD.
func NewBudgetGate(reader UsageReader, limit float64) *BudgetGate {
	return &BudgetGate{reader: reader, limit: limit, now: time.Now}
}

func (g *BudgetGate) Check(ctx context.Context, _, workspaceID, _ string) (Decision, error) {
	totals, err := g.reader.UsageSince(ctx, workspaceID, g.now().Add(-BudgetWindow))
	if err != nil {
		return Decision{}, fmt.Errorf("reading workspace spend: %w", err)
	}
	if totals.CostUSD >= g.limit {
		return Decision{Reason: fmt.Sprintf("daily budget of $%.2f reached ($%.4f over %d runs)", g.limit, totals.CostUSD, totals.Runs)}, nil
	}
	return Decision{Allowed: true}, nil
}
