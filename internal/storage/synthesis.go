package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Tx is a write transaction over the synthesis log. Every commit appended
// through a Tx must receive at least one document version before Commit,
// otherwise the whole transaction is rolled back with ErrEmptyCommit.
type Tx struct {
	tx       *sql.Tx
	versions map[string]int
	commits  map[string]Commit
}

// BeginSynthesis opens a synthesis write transaction.
func (s *Store) BeginSynthesis(ctx context.Context) (*Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning synthesis transaction: %w", err)
	}
	return &Tx{tx: tx, versions: map[string]int{}, commits: map[string]Commit{}}, nil
}

// Commit verifies that no appended commit is empty and commits.
func (t *Tx) Commit() error {
	for id, n := range t.versions {
		if n == 0 {
			t.tx.Rollback()
			return fmt.Errorf("commit %s: %w", id, ErrEmptyCommit)
		}
	}
	return t.tx.Commit()
}

// Rollback aborts the transaction. It is safe to call after Commit.
func (t *Tx) Rollback() error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

// CommitInput describes a commit to append. ParentID, when set, must equal
// the workspace head or the append fails with ErrHeadMoved; when empty the
// current head is used.
type CommitInput struct {
	WorkspaceID string
	Summary     string
	Trigger     string
	SignalCount int
	ParentID    string
}

// AppendCommit appends a commit to the workspace chain. Sequence numbers
// are unique per workspace, so two writers that read the same head cannot
// both succeed.
func (t *Tx) AppendCommit(ctx context.Context, in CommitInput) (Commit, error) {
	if !validTrigger(in.Trigger) {
		return Commit{}, fmt.Errorf("invalid commit trigger %q", in.Trigger)
	}

	head, err := headCommit(ctx, t.tx, in.WorkspaceID)
	switch {
	case errors.Is(err, ErrNotFound):
		head = Commit{}
	case err != nil:
		return Commit{}, err
	}
	if in.ParentID != "" && in.ParentID != head.ID {
		return Commit{}, ErrHeadMoved
	}

	c := Commit{
		ID:          uuid.NewString(),
		WorkspaceID: in.WorkspaceID,
		Seq:         head.Seq + 1,
		ParentID:    head.ID,
		Summary:     in.Summary,
		Trigger:     in.Trigger,
		SignalCount: in.SignalCount,
		CreatedAt:   clock(),
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO synthesis_commits (id, workspace_id, seq, parent_id, summary, trigger_kind, signal_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.WorkspaceID, c.Seq, nullString(c.ParentID), c.Summary, c.Trigger, c.SignalCount, formatTime(c.CreatedAt),
	)
	if isUniqueViolation(err) {
		return Commit{}, ErrHeadMoved
	}
	if err != nil {
		return Commit{}, fmt.Errorf("inserting commit: %w", err)
	}

	t.versions[c.ID] = 0
	t.commits[c.ID] = c
	return c, nil
}

// RecordDocumentVersion appends a version row. Versions can only be recorded
// against commits appended in this transaction; committed history is immutable.
func (t *Tx) RecordDocumentVersion(ctx context.Context, v DocumentVersion) (DocumentVersion, error) {
	if _, ok := t.versions[v.CommitID]; !ok {
		return DocumentVersion{}, fmt.Errorf("commit %s is not open in this transaction", v.CommitID)
	}
	if !validChangeType(v.ChangeType) {
		return DocumentVersion{}, fmt.Errorf("invalid change type %q", v.ChangeType)
	}
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	v.CreatedAt = clock()

	if _, err := t.tx.ExecContext(ctx, `
		INSERT INTO synthesis_document_versions (id, document_id, commit_id, title, content, change_type, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.DocumentID, v.CommitID, v.Title, v.Content, v.ChangeType, formatTime(v.CreatedAt),
	); err != nil {
		return DocumentVersion{}, fmt.Errorf("inserting document version: %w", err)
	}
	t.versions[v.CommitID]++
	return v, nil
}

// LinkSignalsToCommit records which signals a commit consumed. A signal can
// be consumed once; a second link fails with ErrSignalConsumed.
func (t *Tx) LinkSignalsToCommit(ctx context.Context, commitID string, signalIDs []string) error {
	for _, id := range signalIDs {
		_, err := t.tx.ExecContext(ctx, `INSERT INTO synthesis_commit_signals (commit_id, signal_id) VALUES (?, ?)`, commitID, id)
		if isUniqueViolation(err) {
			return fmt.Errorf("signal %s: %w", id, ErrSignalConsumed)
		}
		if err != nil {
			return fmt.Errorf("linking signal %s: %w", id, err)
		}
	}
	return nil
}

// CreateDocument inserts a live document. A live document with the same
// title in the workspace yields ErrTitleTaken.
func (t *Tx) CreateDocument(ctx context.Context, d Document) (Document, error) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	ts := clock()
	d.CreatedAt, d.UpdatedAt, d.DeletedAt = ts, ts, nil

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO synthesis_documents (id, workspace_id, title, content, embedding, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.WorkspaceID, d.Title, d.Content, embeddingOrNull(d.Embedding), formatTime(ts), formatTime(ts),
	)
	if isUniqueViolation(err) {
		return Document{}, fmt.Errorf("%q: %w", d.Title, ErrTitleTaken)
	}
	if err != nil {
		return Document{}, fmt.Errorf("inserting document: %w", err)
	}
	return d, nil
}

// UpdateDocument replaces the live title, content and embedding.
func (t *Tx) UpdateDocument(ctx context.Context, id, title, content string, embedding []float32) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE synthesis_documents SET title = ?, content = ?, embedding = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL`,
		title, content, embeddingOrNull(embedding), formatTime(clock()), id,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%q: %w", title, ErrTitleTaken)
	}
	return expectOneRow(res, err)
}

// DeleteDocument marks a live document deleted. Its versions are untouched.
func (t *Tx) DeleteDocument(ctx context.Context, id string) error {
	ts := formatTime(clock())
	res, err := t.tx.ExecContext(ctx, `
		UPDATE synthesis_documents SET deleted_at = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL`, ts, ts, id)
	return expectOneRow(res, err)
}

// GetDocument reads a document inside the transaction.
func (t *Tx) GetDocument(ctx context.Context, id string) (Document, error) {
	return getDocument(ctx, t.tx, id)
}

// LiveDocuments returns the workspace's non-deleted documents.
func (t *Tx) LiveDocuments(ctx context.Context, workspaceID string) ([]Document, error) {
	return liveDocuments(ctx, t.tx, workspaceID)
}

// SetAIPriority overwrites a signal's model-assigned priority.
func (t *Tx) SetAIPriority(ctx context.Context, signalID, priority string) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE signals SET ai_priority = ? WHERE id = ?`, priority, signalID)
	return expectOneRow(res, err)
}

// --- Change sets ---

// DocumentChange is one document mutation in a ChangeSet.
type DocumentChange struct {
	ChangeType string // created, modified or deleted
	DocumentID string // required for modified and deleted
	Title      string
	Content    string
	Embedding  []float32
}

// ChangeSet is everything one commit records.
type ChangeSet struct {
	WorkspaceID     string
	Summary         string
	Trigger         string
	ParentID        string
	Changes         []DocumentChange
	SignalIDs       []string
	PriorityUpdates map[string]string
}

// CommitChanges applies a change set atomically: one commit, one version per
// change, the signal links and any priority updates. An empty change set is
// rejected with ErrEmptyCommit before anything is written.
func (s *Store) CommitChanges(ctx context.Context, cs ChangeSet) (CommitDetail, error) {
	if len(cs.Changes) == 0 {
		return CommitDetail{}, ErrEmptyCommit
	}

	tx, err := s.BeginSynthesis(ctx)
	if err != nil {
		return CommitDetail{}, err
	}
	defer tx.Rollback()

	c, err := tx.AppendCommit(ctx, CommitInput{
		WorkspaceID: cs.WorkspaceID,
		Summary:     cs.Summary,
		Trigger:     cs.Trigger,
		SignalCount: len(cs.SignalIDs),
		ParentID:    cs.ParentID,
	})
	if err != nil {
		return CommitDetail{}, err
	}

	detail := CommitDetail{Commit: c, SignalIDs: cs.SignalIDs}
	for _, ch := range cs.Changes {
		v, err := tx.applyChange(ctx, c, ch)
		if err != nil {
			return CommitDetail{}, err
		}
		detail.Versions = append(detail.Versions, v)
	}

	if err := tx.LinkSignalsToCommit(ctx, c.ID, cs.SignalIDs); err != nil {
		return CommitDetail{}, err
	}
	for id, p := range cs.PriorityUpdates {
		if err := tx.SetAIPriority(ctx, id, p); err != nil {
			return CommitDetail{}, fmt.Errorf("updating priority of signal %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return CommitDetail{}, err
	}
	return detail, nil
}

func (t *Tx) applyChange(ctx context.Context, c Commit, ch DocumentChange) (DocumentVersion, error) {
	docID := ch.DocumentID
	title, content := ch.Title, ch.Content

	switch ch.ChangeType {
	case ChangeCreated:
		d, err := t.CreateDocument(ctx, Document{WorkspaceID: c.WorkspaceID, Title: title, Content: content, Embedding: ch.Embedding})
		if err != nil {
			return DocumentVersion{}, err
		}
		docID = d.ID
	case ChangeModified:
		if err := t.ensureInWorkspace(ctx, docID, c.WorkspaceID); err != nil {
			return DocumentVersion{}, err
		}
		if err := t.UpdateDocument(ctx, docID, title, content, ch.Embedding); err != nil {
			return DocumentVersion{}, fmt.Errorf("modifying document %s: %w", docID, err)
		}
	case ChangeDeleted:
		if err := t.ensureInWorkspace(ctx, docID, c.WorkspaceID); err != nil {
			return DocumentVersion{}, err
		}
		// The deleted version snapshots the last live state.
		d, err := t.GetDocument(ctx, docID)
		if err != nil {
			return DocumentVersion{}, err
		}
		title, content = d.Title, d.Content
		if err := t.DeleteDocument(ctx, docID); err != nil {
			return DocumentVersion{}, fmt.Errorf("deleting document %s: %w", docID, err)
		}
	default:
		return DocumentVersion{}, fmt.Errorf("invalid change type %q", ch.ChangeType)
	}

	return t.RecordDocumentVersion(ctx, DocumentVersion{
		DocumentID: docID,
		CommitID:   c.ID,
		Title:      title,
		Content:    content,
		ChangeType: ch.ChangeType,
	})
}

func (t *Tx) ensureInWorkspace(ctx context.Context, docID, workspaceID string) error {
	d, err := t.GetDocument(ctx, docID)
	if err != nil {
		return fmt.Errorf("document %s: %w", docID, err)
	}
	if d.WorkspaceID != workspaceID || d.DeletedAt != nil {
		return fmt.Errorf("document %s: %w", docID, ErrNotFound)
	}
	return nil
}

// --- Queries ---

// HeadCommit returns the workspace's latest commit, or ErrNotFound.
func (s *Store) HeadCommit(ctx context.Context, workspaceID string) (Commit, error) {
	return headCommit(ctx, s.db, workspaceID)
}

// ListCommits returns the workspace's commits, newest first.
func (s *Store) ListCommits(ctx context.Context, workspaceID string, limit int) ([]Commit, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+commitColumns+` FROM synthesis_commits
		WHERE workspace_id = ? ORDER BY seq DESC LIMIT ?`, workspaceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var commits []Commit
	for rows.Next() {
		c, err := scanCommit(rows)
		if err != nil {
			return nil, err
		}
		commits = append(commits, c)
	}
	return commits, rows.Err()
}

// GetCommit returns a commit with its versions and consumed signal IDs.
func (s *Store) GetCommit(ctx context.Context, id string) (CommitDetail, error) {
	c, err := scanCommit(s.db.QueryRowContext(ctx, `SELECT `+commitColumns+` FROM synthesis_commits WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return CommitDetail{}, ErrNotFound
	}
	if err != nil {
		return CommitDetail{}, err
	}
	detail := CommitDetail{Commit: c}

	vrows, err := s.db.QueryContext(ctx, `
		SELECT `+versionColumns+` FROM synthesis_document_versions v
		WHERE v.commit_id = ? ORDER BY v.created_at ASC, v.rowid ASC`, id)
	if err != nil {
		return CommitDetail{}, err
	}
	if detail.Versions, err = scanVersions(vrows); err != nil {
		return CommitDetail{}, err
	}

	srows, err := s.db.QueryContext(ctx, `SELECT signal_id FROM synthesis_commit_signals WHERE commit_id = ? ORDER BY signal_id`, id)
	if err != nil {
		return CommitDetail{}, err
	}
	defer srows.Close()
	for srows.Next() {
		var sid string
		if err := srows.Scan(&sid); err != nil {
			return CommitDetail{}, err
		}
		detail.SignalIDs = append(detail.SignalIDs, sid)
	}
	return detail, srows.Err()
}

// DocumentHistory returns a document's versions in commit order.
func (s *Store) DocumentHistory(ctx context.Context, documentID string) ([]DocumentVersion, error) {
	if _, err := getDocument(ctx, s.db, documentID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+versionColumns+` FROM synthesis_document_versions v
		JOIN synthesis_commits c ON c.id = v.commit_id
		WHERE v.document_id = ? ORDER BY c.seq ASC, v.rowid ASC`, documentID)
	if err != nil {
		return nil, err
	}
	return scanVersions(rows)
}

// ReconstructDocument rebuilds a document by replaying its versions. The
// result must match the live projection returned by GetDocument.
func (s *Store) ReconstructDocument(ctx context.Context, documentID string) (Document, error) {
	live, err := getDocument(ctx, s.db, documentID)
	if err != nil {
		return Document{}, err
	}
	history, err := s.DocumentHistory(ctx, documentID)
	if err != nil {
		return Document{}, err
	}

	d := Document{ID: live.ID, WorkspaceID: live.WorkspaceID}
	for _, v := range history {
		d.Title, d.Content = v.Title, v.Content
		switch v.ChangeType {
		case ChangeCreated:
			at := v.CreatedAt
			d.CreatedAt, d.DeletedAt = at, nil
		case ChangeDeleted:
			at := v.CreatedAt
			d.DeletedAt = &at
		}
		d.UpdatedAt = v.CreatedAt
	}
	return d, nil
}

// GetDocument returns a document, including deleted ones.
func (s *Store) GetDocument(ctx context.Context, id string) (Document, error) {
	return getDocument(ctx, s.db, id)
}

// ListDocuments returns the workspace's live documents ordered by title.
func (s *Store) ListDocuments(ctx context.Context, workspaceID string) ([]Document, error) {
	return liveDocuments(ctx, s.db, workspaceID)
}

// GetDocumentsByIDs returns the live documents with the given IDs.
func (s *Store) GetDocumentsByIDs(ctx context.Context, ids []string) ([]Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+documentColumns+` FROM synthesis_documents
		WHERE deleted_at IS NULL AND id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return nil, err
	}
	return scanDocuments(rows)
}

const commitColumns = `id, workspace_id, seq, parent_id, summary, trigger_kind, signal_count, created_at`
const versionColumns = `v.id, v.document_id, v.commit_id, v.title, v.content, v.change_type, v.created_at`
const documentColumns = `id, workspace_id, title, content, embedding, created_at, updated_at, deleted_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func headCommit(ctx context.Context, q querier, workspaceID string) (Commit, error) {
	c, err := scanCommit(q.QueryRowContext(ctx, `
		SELECT `+commitColumns+` FROM synthesis_commits
		WHERE workspace_id = ? ORDER BY seq DESC LIMIT 1`, workspaceID))
	if err == sql.ErrNoRows {
		return Commit{}, ErrNotFound
	}
	return c, err
}

func scanCommit(row rowScanner) (Commit, error) {
	var c Commit
	var parentID sql.NullString
	var createdAt string
	if err := row.Scan(&c.ID, &c.WorkspaceID, &c.Seq, &parentID, &c.Summary, &c.Trigger, &c.SignalCount, &createdAt); err != nil {
		return Commit{}, err
	}
	c.ParentID = parentID.String
	var err error
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return Commit{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return c, nil
}

func scanVersions(rows *sql.Rows) ([]DocumentVersion, error) {
	defer rows.Close()
	var out []DocumentVersion
	for rows.Next() {
		var v DocumentVersion
		var createdAt string
		if err := rows.Scan(&v.ID, &v.DocumentID, &v.CommitID, &v.Title, &v.Content, &v.ChangeType, &createdAt); err != nil {
			return nil, err
		}
		var err error
		if v.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func getDocument(ctx context.Context, q querier, id string) (Document, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+documentColumns+` FROM synthesis_documents WHERE id = ?`, id)
	if err != nil {
		return Document{}, err
	}
	docs, err := scanDocuments(rows)
	if err != nil {
		return Document{}, err
	}
	if len(docs) == 0 {
		return Document{}, ErrNotFound
	}
	return docs[0], nil
}

func liveDocuments(ctx context.Context, q querier, workspaceID string) ([]Document, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+documentColumns+` FROM synthesis_documents
		WHERE workspace_id = ? AND deleted_at IS NULL ORDER BY title ASC`, workspaceID)
	if err != nil {
		return nil, err
	}
	return scanDocuments(rows)
}

func scanDocuments(rows *sql.Rows) ([]Document, error) {
	defer rows.Close()
	var out []Document
	for rows.Next() {
		var d Document
		var blob []byte
		var createdAt, updatedAt string
		var deletedAt sql.NullString
		if err := rows.Scan(&d.ID, &d.WorkspaceID, &d.Title, &d.Content, &blob, &createdAt, &updatedAt, &deletedAt); err != nil {
			return nil, err
		}
		var err error
		if len(blob) > 0 {
			if d.Embedding, err = DecodeVector(blob); err != nil {
				return nil, fmt.Errorf("decoding embedding for document %s: %w", d.ID, err)
			}
		}
		if d.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		if d.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}
		if d.DeletedAt, err = parseNullTime(deletedAt); err != nil {
			return nil, fmt.Errorf("parsing deleted_at: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func embeddingOrNull(v []float32) any {
	if len(v) == 0 {
		return nil
	}
	return EncodeVector(v)
}

func expectOneRow(res sql.Result, err error) error {
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

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}

func validTrigger(t string) bool {
	switch t {
	case TriggerManual, TriggerScheduled, TriggerSynthesisRun:
		return true
	}
	return false
}

func validChangeType(c string) bool {
	switch c {
	case ChangeCreated, ChangeModified, ChangeDeleted:
		return true
	}
	return false
}
