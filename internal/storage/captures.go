package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kalambet/driftline/internal/engagement"
)

// --- Captures ---

func (s *Store) SaveCapture(ctx context.Context, c Capture) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO captures (id, workspace_id, author_id, content, audio_url, source, created_at, processed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.WorkspaceID, c.AuthorID, c.Content, nullString(c.AudioURL), c.Source,
		formatTime(c.CreatedAt), nullTime(c.ProcessedAt),
	)
	return err
}

func (s *Store) GetCapture(ctx context.Context, id string) (Capture, error) {
	var c Capture
	var audioURL, processedAt sql.NullString
	var createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, author_id, content, audio_url, source, created_at, processed_at
		FROM captures WHERE id = ?`, id,
	).Scan(&c.ID, &c.WorkspaceID, &c.AuthorID, &c.Content, &audioURL, &c.Source, &createdAt, &processedAt)
	if err == sql.ErrNoRows {
		return Capture{}, ErrNotFound
	}
	if err != nil {
		return Capture{}, err
	}
	c.AudioURL = audioURL.String
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return Capture{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if c.ProcessedAt, err = parseNullTime(processedAt); err != nil {
		return Capture{}, fmt.Errorf("parsing processed_at: %w", err)
	}
	return c, nil
}

// DeleteUnprocessedCapture removes a capture that never produced an artifact.
// Processed captures are immutable and are never removed here.
func (s *Store) DeleteUnprocessedCapture(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM captures WHERE id = ? AND processed_at IS NULL`, id)
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
	return nil
}

// Completion is the outcome of CompleteCapture.
type Completion struct {
	// ProcessedAt is the activity time recorded for the capture.
	ProcessedAt time.Time
	State       engagement.State
	// Member is false when the author has no membership in the workspace.
	Member bool
}

// CompleteCapture persists the artifact, marks the capture processed and
// folds the result into the author's membership, all in one transaction.
//
// The recorded processing time is processedAt, raised if needed so that it
// never precedes the author's previously processed capture in the workspace.
// Completions therefore sort by processed_at in the order they were folded,
// which is the order MemberHistory returns. update receives the current
// engagement state and that time; it is not called for non-members.
func (s *Store) CompleteCapture(ctx context.Context, a Artifact, processedAt time.Time, update func(st engagement.State, at time.Time) engagement.State) (Completion, error) {
	items, err := json.Marshal(a.ActionItems)
	if err != nil {
		return Completion{}, fmt.Errorf("encoding action items: %w", err)
	}
	if a.ActionItems == nil {
		items = []byte("[]")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Completion{}, fmt.Errorf("beginning capture transaction: %w", err)
	}
	defer tx.Rollback()

	var userID, workspaceID string
	err = tx.QueryRowContext(ctx, `SELECT author_id, workspace_id FROM captures WHERE id = ? AND processed_at IS NULL`, a.CaptureID).
		Scan(&userID, &workspaceID)
	if err == sql.ErrNoRows {
		return Completion{}, fmt.Errorf("capture %s: %w", a.CaptureID, ErrNotFound)
	}
	if err != nil {
		return Completion{}, err
	}

	var latest sql.NullString
	if err := tx.QueryRowContext(ctx, `
		SELECT MAX(processed_at) FROM captures WHERE author_id = ? AND workspace_id = ?`,
		userID, workspaceID,
	).Scan(&latest); err != nil {
		return Completion{}, fmt.Errorf("reading latest processed capture: %w", err)
	}
	if latest.Valid {
		prev, err := parseTime(latest.String)
		if err != nil {
			return Completion{}, fmt.Errorf("parsing processed_at: %w", err)
		}
		if processedAt.Before(prev) {
			processedAt = prev
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO artifacts (id, capture_id, canon_id, drift_score, alignment_score, sentiment_score, synthesis, action_items_json, feedback, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.CaptureID, nullString(a.CanonID), a.DriftScore, a.AlignmentScore, a.SentimentScore,
		a.Synthesis, string(items), a.Feedback, EncodeVector(a.Embedding), formatTime(a.CreatedAt),
	); err != nil {
		return Completion{}, fmt.Errorf("inserting artifact: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE captures SET processed_at = ? WHERE id = ?`, formatTime(processedAt), a.CaptureID); err != nil {
		return Completion{}, fmt.Errorf("marking capture processed: %w", err)
	}

	state, member, err := applyMembership(ctx, tx, userID, workspaceID, func(st engagement.State) engagement.State {
		return update(st, processedAt)
	})
	if err != nil {
		return Completion{}, err
	}

	if err := tx.Commit(); err != nil {
		return Completion{}, fmt.Errorf("committing capture: %w", err)
	}
	return Completion{ProcessedAt: processedAt, State: state, Member: member}, nil
}

// --- Artifacts ---

func (s *Store) GetArtifactByCapture(ctx context.Context, captureID string) (Artifact, error) {
	var a Artifact
	var canonID sql.NullString
	var items, createdAt string
	var blob []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, capture_id, canon_id, drift_score, alignment_score, sentiment_score, synthesis, action_items_json, feedback, embedding, created_at
		FROM artifacts WHERE capture_id = ?`, captureID,
	).Scan(&a.ID, &a.CaptureID, &canonID, &a.DriftScore, &a.AlignmentScore, &a.SentimentScore, &a.Synthesis, &items, &a.Feedback, &blob, &createdAt)
	if err == sql.ErrNoRows {
		return Artifact{}, ErrNotFound
	}
	if err != nil {
		return Artifact{}, err
	}
	a.CanonID = canonID.String
	if err := json.Unmarshal([]byte(items), &a.ActionItems); err != nil {
		return Artifact{}, fmt.Errorf("decoding action items: %w", err)
	}
	if a.Embedding, err = DecodeVector(blob); err != nil {
		return Artifact{}, fmt.Errorf("decoding embedding: %w", err)
	}
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return Artifact{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return a, nil
}

// --- Canons ---

func (s *Store) SaveCanon(ctx context.Context, c Canon) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO canons (id, workspace_id, content, embedding, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.WorkspaceID, c.Content, EncodeVector(c.Embedding), formatTime(c.CreatedAt),
	)
	return err
}

// LatestCanon returns the most recently created canon for the workspace, or
// ErrNotFound when none has been set.
func (s *Store) LatestCanon(ctx context.Context, workspaceID string) (Canon, error) {
	var c Canon
	var blob []byte
	var createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, content, embedding, created_at
		FROM canons WHERE workspace_id = ?
		ORDER BY created_at DESC, rowid DESC LIMIT 1`, workspaceID,
	).Scan(&c.ID, &c.WorkspaceID, &c.Content, &blob, &createdAt)
	if err == sql.ErrNoRows {
		return Canon{}, ErrNotFound
	}
	if err != nil {
		return Canon{}, err
	}
	if c.Embedding, err = DecodeVector(blob); err != nil {
		return Canon{}, fmt.Errorf("decoding canon embedding: %w", err)
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return Canon{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return c, nil
}
