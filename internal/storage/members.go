package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kalambet/driftline/internal/engagement"
)

// EnsureMembership creates an unscored membership if none exists and returns
// the current row.
func (s *Store) EnsureMembership(ctx context.Context, userID, workspaceID string) (Membership, error) {
	ts := formatTime(clock())
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO memberships (user_id, workspace_id, traction, streak, last_capture_at, created_at, updated_at)
		VALUES (?, ?, NULL, 0, NULL, ?, ?)
		ON CONFLICT (user_id, workspace_id) DO NOTHING`,
		userID, workspaceID, ts, ts,
	); err != nil {
		return Membership{}, err
	}
	return s.GetMembership(ctx, userID, workspaceID)
}

func (s *Store) GetMembership(ctx context.Context, userID, workspaceID string) (Membership, error) {
	m, err := scanMembership(s.db.QueryRowContext(ctx, `
		SELECT user_id, workspace_id, traction, streak, last_capture_at, created_at, updated_at
		FROM memberships WHERE user_id = ? AND workspace_id = ?`, userID, workspaceID))
	if err == sql.ErrNoRows {
		return Membership{}, ErrNotFound
	}
	return m, err
}

// SetMembershipState overwrites a member's engagement state. Used by replay.
func (s *Store) SetMembershipState(ctx context.Context, userID, workspaceID string, st engagement.State) error {
	return writeMembershipState(ctx, s.db, userID, workspaceID, st)
}

// MemberHistory returns the alignment samples of every processed capture the
// member authored in the workspace, timed by processing and in the order they
// were folded into the membership.
func (s *Store) MemberHistory(ctx context.Context, userID, workspaceID string) ([]engagement.Sample, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.alignment_score, c.processed_at
		FROM captures c JOIN artifacts a ON a.capture_id = c.id
		WHERE c.author_id = ? AND c.workspace_id = ? AND c.processed_at IS NOT NULL
		ORDER BY c.processed_at ASC, a.rowid ASC`, userID, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []engagement.Sample
	for rows.Next() {
		var smp engagement.Sample
		var at string
		if err := rows.Scan(&smp.Alignment, &at); err != nil {
			return nil, err
		}
		if smp.At, err = parseTime(at); err != nil {
			return nil, fmt.Errorf("parsing processed_at: %w", err)
		}
		samples = append(samples, smp)
	}
	return samples, rows.Err()
}

func applyMembership(ctx context.Context, q querier, userID, workspaceID string, fn func(engagement.State) engagement.State) (engagement.State, bool, error) {
	m, err := scanMembership(q.QueryRowContext(ctx, `
		SELECT user_id, workspace_id, traction, streak, last_capture_at, created_at, updated_at
		FROM memberships WHERE user_id = ? AND workspace_id = ?`, userID, workspaceID))
	if err == sql.ErrNoRows {
		return engagement.Unscored(), false, nil
	}
	if err != nil {
		return engagement.State{}, false, fmt.Errorf("reading membership: %w", err)
	}

	next := fn(m.State)
	if err := writeMembershipState(ctx, q, userID, workspaceID, next); err != nil {
		return engagement.State{}, false, err
	}
	return next, true, nil
}

func writeMembershipState(ctx context.Context, q querier, userID, workspaceID string, st engagement.State) error {
	var traction sql.NullFloat64
	var lastAt sql.NullString
	if st.IsScored() {
		traction = sql.NullFloat64{Float64: st.Traction, Valid: true}
		lastAt = sql.NullString{String: formatTime(st.LastAt), Valid: true}
	}
	res, err := q.ExecContext(ctx, `
		UPDATE memberships SET traction = ?, streak = ?, last_capture_at = ?, updated_at = ?
		WHERE user_id = ? AND workspace_id = ?`,
		traction, st.Streak, lastAt, formatTime(clock()), userID, workspaceID,
	)
	if err != nil {
		return fmt.Errorf("updating membership: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanMembership(row *sql.Row) (Membership, error) {
	var m Membership
	var traction sql.NullFloat64
	var streak int
	var lastAt sql.NullString
	var createdAt, updatedAt string
	if err := row.Scan(&m.UserID, &m.WorkspaceID, &traction, &streak, &lastAt, &createdAt, &updatedAt); err != nil {
		return Membership{}, err
	}
	var err error
	if m.CreatedAt, err = parseTime(createdAt); err != nil {
		return Membership{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if m.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Membership{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	if !traction.Valid {
		m.State = engagement.Unscored()
		return m, nil
	}
	last, err := parseNullTime(lastAt)
	if err != nil {
		return Membership{}, fmt.Errorf("parsing last_capture_at: %w", err)
	}
	if last == nil {
		return Membership{}, fmt.Errorf("membership %s/%s has traction but no last capture time", m.UserID, m.WorkspaceID)
	}
	m.State = engagement.Scored(traction.Float64, streak, *last)
	return m, nil
}
