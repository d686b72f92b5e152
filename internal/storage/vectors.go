package storage

import (
	"context"
	"fmt"
)

// Searchable entity kinds.
const (
	KindSignals   = "signals"
	KindDocuments = "documents"
)

var scanQueries = map[string]string{
	KindSignals:   `SELECT id, embedding FROM signals WHERE workspace_id = ?`,
	KindDocuments: `SELECT id, embedding FROM synthesis_documents WHERE workspace_id = ? AND deleted_at IS NULL AND embedding IS NOT NULL`,
}

// ScanEmbeddings calls fn with the raw embedding of every row of the given
// kind in the workspace. The blob is only valid for the duration of the call.
func (s *Store) ScanEmbeddings(ctx context.Context, kind, workspaceID string, fn func(id string, blob []byte) error) error {
	query, ok := scanQueries[kind]
	if !ok {
		return fmt.Errorf("unsupported kind %q", kind)
	}

	rows, err := s.db.QueryContext(ctx, query, workspaceID)
	if err != nil {
		return fmt.Errorf("querying %s embeddings: %w", kind, err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return fmt.Errorf("scanning row: %w", err)
		}
		if err := fn(id, blob); err != nil {
			return err
		}
	}
	return rows.Err()
}
