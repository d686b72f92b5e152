package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const signalColumns = `s.id, s.workspace_id, s.conversation_id, s.message_id, s.content, s.embedding,
	s.ai_priority, s.human_priority, s.reviewed_at, s.created_at, cs.commit_id`

const signalFrom = `FROM signals s LEFT JOIN synthesis_commit_signals cs ON cs.signal_id = s.id`

func (s *Store) AddSignal(ctx context.Context, sig Signal) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO signals (id, workspace_id, conversation_id, message_id, content, embedding, ai_priority, human_priority, reviewed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sig.ID, sig.WorkspaceID, nullString(sig.ConversationID), nullString(sig.MessageID), sig.Content,
		EncodeVector(sig.Embedding), sig.AIPriority, nullString(sig.HumanPriority), nullTime(sig.ReviewedAt),
		formatTime(sig.CreatedAt),
	)
	return err
}

func (s *Store) GetSignal(ctx context.Context, id string) (Signal, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+signalColumns+` `+signalFrom+` WHERE s.id = ?`, id)
	if err != nil {
		return Signal{}, err
	}
	sigs, err := scanSignals(rows)
	if err != nil {
		return Signal{}, err
	}
	if len(sigs) == 0 {
		return Signal{}, ErrNotFound
	}
	return sigs[0], nil
}

// ListSignals returns the workspace's signals, oldest first. With
// unprocessedOnly it returns only signals not yet linked to any commit.
func (s *Store) ListSignals(ctx context.Context, workspaceID string, unprocessedOnly bool) ([]Signal, error) {
	query := `SELECT ` + signalColumns + ` ` + signalFrom + ` WHERE s.workspace_id = ?`
	if unprocessedOnly {
		query += ` AND cs.commit_id IS NULL`
	}
	query += ` ORDER BY s.created_at ASC, s.rowid ASC`

	rows, err := s.db.QueryContext(ctx, query, workspaceID)
	if err != nil {
		return nil, err
	}
	return scanSignals(rows)
}

// GetSignalsByIDs returns the signals with the given IDs in no particular order.
func (s *Store) GetSignalsByIDs(ctx context.Context, ids []string) ([]Signal, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+signalColumns+` `+signalFrom+` WHERE s.id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return nil, err
	}
	return scanSignals(rows)
}

// SetHumanPriority records a human-assigned priority. reviewed_at is set the
// first time only.
func (s *Store) SetHumanPriority(ctx context.Context, id, priority string) (Signal, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE signals SET human_priority = ?, reviewed_at = COALESCE(reviewed_at, ?)
		WHERE id = ?`, priority, formatTime(clock()), id)
	if err != nil {
		return Signal{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Signal{}, err
	}
	if n == 0 {
		return Signal{}, ErrNotFound
	}
	return s.GetSignal(ctx, id)
}

// DeleteSignal removes a signal that has not been consumed. Consumed signals
// stay for traceability and yield ErrSignalConsumed.
func (s *Store) DeleteSignal(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var consumed int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM synthesis_commit_signals WHERE signal_id = ?`, id).Scan(&consumed); err != nil {
		return err
	}
	if consumed > 0 {
		return ErrSignalConsumed
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM signals WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// PendingWorkspace summarises a workspace's unprocessed signals. Two equal
// values describe the same pending batch unless a signal was replaced by one
// created at the same instant.
type PendingWorkspace struct {
	WorkspaceID string
	Signals     int
	LatestAt    time.Time
}

// WorkspacesWithUnprocessedSignals lists workspaces that have at least one
// signal not linked to a commit.
func (s *Store) WorkspacesWithUnprocessedSignals(ctx context.Context) ([]PendingWorkspace, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.workspace_id, COUNT(*), MAX(s.created_at) `+signalFrom+`
		WHERE cs.commit_id IS NULL
		GROUP BY s.workspace_id ORDER BY s.workspace_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pending []PendingWorkspace
	for rows.Next() {
		var p PendingWorkspace
		var latest string
		if err := rows.Scan(&p.WorkspaceID, &p.Signals, &latest); err != nil {
			return nil, err
		}
		if p.LatestAt, err = parseTime(latest); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		pending = append(pending, p)
	}
	return pending, rows.Err()
}

func scanSignals(rows *sql.Rows) ([]Signal, error) {
	defer rows.Close()

	var sigs []Signal
	for rows.Next() {
		var sig Signal
		var conversationID, messageID, humanPriority, reviewedAt, commitID sql.NullString
		var blob []byte
		var createdAt string
		if err := rows.Scan(&sig.ID, &sig.WorkspaceID, &conversationID, &messageID, &sig.Content, &blob,
			&sig.AIPriority, &humanPriority, &reviewedAt, &createdAt, &commitID); err != nil {
			return nil, err
		}
		sig.ConversationID = conversationID.String
		sig.MessageID = messageID.String
		sig.HumanPriority = humanPriority.String
		sig.CommitID = commitID.String

		var err error
		if sig.Embedding, err = DecodeVector(blob); err != nil {
			return nil, fmt.Errorf("decoding embedding for signal %s: %w", sig.ID, err)
		}
		if sig.ReviewedAt, err = parseNullTime(reviewedAt); err != nil {
			return nil, fmt.Errorf("parsing reviewed_at: %w", err)
		}
		if sig.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		sigs = append(sigs, sig)
	}
	return sigs, rows.Err()
}
