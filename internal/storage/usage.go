package storage

import (
	"context"
	"fmt"
	"time"
)

// LogUsage persists the token counts and cost of one pipeline run.
func (s *Store) LogUsage(ctx context.Context, r UsageRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_log (id, workspace_id, user_id, operation, input_tokens, output_tokens, cost_usd, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.WorkspaceID, r.UserID, r.Operation, r.InputTokens, r.OutputTokens, r.CostUSD, formatTime(r.CreatedAt),
	)
	return err
}

// UsageTotals is aggregated usage for a workspace.
type UsageTotals struct {
	Runs         int
	InputTokens  int
	OutputTokens int
	CostUSD      float64
}

// UsageSince sums the workspace's usage recorded at or after since.
func (s *Store) UsageSince(ctx context.Context, workspaceID string, since time.Time) (UsageTotals, error) {
	var t UsageTotals
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0), COALESCE(SUM(cost_usd), 0)
		FROM usage_log WHERE workspace_id = ? AND created_at >= ?`,
		workspaceID, formatTime(since),
	).Scan(&t.Runs, &t.InputTokens, &t.OutputTokens, &t.CostUSD)
	if err != nil {
		return UsageTotals{}, fmt.Errorf("summing usage: %w", err)
	}
	return t, nil
}
