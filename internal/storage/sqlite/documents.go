package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/steveyegge/rdscout/internal/types"
)

const documentColumns = `id, scope, title, summary, doc_date, uploaded_at,
	uncertainty_signals, systematic_signals, failure_signals, advancement_signals,
	team_members, project_hints`

// UpsertDocument inserts or replaces a processed document. batchID groups
// documents uploaded together; it may be empty.
func (s *Store) UpsertDocument(ctx context.Context, doc types.Document, batchID string) error {
	if err := doc.Validate(); err != nil {
		return fmt.Errorf("invalid document: %w", err)
	}
	if doc.Scope == "" {
		return fmt.Errorf("document %s has no scope", doc.ID)
	}
	team, err := encodeStrings(doc.TeamMembers)
	if err != nil {
		return fmt.Errorf("failed to encode team members: %w", err)
	}
	hints, err := encodeStrings(doc.ProjectHints)
	if err != nil {
		return fmt.Errorf("failed to encode project hints: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (id, scope, batch_id, title, summary, doc_date, uploaded_at, processed,
			uncertainty_signals, systematic_signals, failure_signals, advancement_signals,
			team_members, project_hints)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			scope = excluded.scope,
			batch_id = excluded.batch_id,
			title = excluded.title,
			summary = excluded.summary,
			doc_date = excluded.doc_date,
			uploaded_at = excluded.uploaded_at,
			processed = 1,
			uncertainty_signals = excluded.uncertainty_signals,
			systematic_signals = excluded.systematic_signals,
			failure_signals = excluded.failure_signals,
			advancement_signals = excluded.advancement_signals,
			team_members = excluded.team_members,
			project_hints = excluded.project_hints
	`,
		doc.ID, doc.Scope, batchID, doc.Title, doc.Summary,
		formatNullTime(doc.Date), formatTime(doc.UploadedAt),
		doc.Signals.Uncertainty, doc.Signals.Systematic, doc.Signals.Failure, doc.Signals.Advancement,
		team, hints,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert document %s: %w", doc.ID, err)
	}
	return nil
}

// MarkUnprocessed hides a document from discovery until it is upserted again
func (s *Store) MarkUnprocessed(ctx context.Context, documentID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE documents SET processed = 0 WHERE id = ?`, documentID)
	if err != nil {
		return fmt.Errorf("failed to mark document %s unprocessed: %w", documentID, err)
	}
	return nil
}

// ReplaceChunkEmbeddings replaces every stored chunk embedding of a document
func (s *Store) ReplaceChunkEmbeddings(ctx context.Context, documentID string, vectors [][]float32) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunk_embeddings WHERE document_id = ?`, documentID); err != nil {
		return fmt.Errorf("failed to clear chunk embeddings: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunk_embeddings (document_id, chunk_index, vector) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for i, v := range vectors {
		if _, err := stmt.ExecContext(ctx, documentID, i, serializeVector(v)); err != nil {
			return fmt.Errorf("failed to insert chunk %d of %s: %w", i, documentID, err)
		}
	}
	return tx.Commit()
}

// FetchProcessedDocuments returns every processed document in scope, ordered by ID
func (s *Store) FetchProcessedDocuments(ctx context.Context, scope string) ([]types.Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE scope = ? AND processed = 1
		ORDER BY id
	`, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()
	return scanDocuments(rows)
}

// FetchNewDocuments returns the processed documents of one upload batch, ordered by ID
func (s *Store) FetchNewDocuments(ctx context.Context, scope, batchID string) ([]types.Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE scope = ? AND batch_id = ? AND processed = 1
		ORDER BY id
	`, scope, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to query batch %s: %w", batchID, err)
	}
	defer rows.Close()
	return scanDocuments(rows)
}

// FetchChunkEmbeddings returns up to limit chunk embeddings in chunk order
func (s *Store) FetchChunkEmbeddings(ctx context.Context, documentID string, limit int) ([][]float32, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT vector FROM chunk_embeddings
		WHERE document_id = ?
		ORDER BY chunk_index
		LIMIT ?
	`, documentID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunk embeddings: %w", err)
	}
	defer rows.Close()

	var vectors [][]float32
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, fmt.Errorf("failed to scan chunk embedding: %w", err)
		}
		v, err := deserializeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("document %s: %w", documentID, err)
		}
		vectors = append(vectors, v)
	}
	return vectors, rows.Err()
}

// getDocumentsByID loads the given documents, skipping IDs that don't exist
func (s *Store) getDocumentsByID(ctx context.Context, ids []string) (map[string]types.Document, error) {
	out := make(map[string]types.Document, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	stmt, err := s.db.PrepareContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`)
	if err != nil {
		return nil, fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, id := range ids {
		rows, err := stmt.QueryContext(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to query document %s: %w", id, err)
		}
		docs, err := scanDocuments(rows)
		rows.Close()
		if err != nil {
			return nil, err
		}
		if len(docs) == 1 {
			out[id] = docs[0]
		}
	}
	return out, nil
}

func scanDocuments(rows *sql.Rows) ([]types.Document, error) {
	var docs []types.Document
	for rows.Next() {
		var (
			doc         types.Document
			docDate     sql.NullString
			uploadedAt  string
			team, hints string
		)
		if err := rows.Scan(
			&doc.ID, &doc.Scope, &doc.Title, &doc.Summary, &docDate, &uploadedAt,
			&doc.Signals.Uncertainty, &doc.Signals.Systematic, &doc.Signals.Failure, &doc.Signals.Advancement,
			&team, &hints,
		); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}

		var err error
		if doc.Date, err = parseNullTime(docDate); err != nil {
			return nil, fmt.Errorf("document %s: %w", doc.ID, err)
		}
		if doc.UploadedAt, err = parseTime(uploadedAt); err != nil {
			return nil, fmt.Errorf("document %s: %w", doc.ID, err)
		}
		if doc.TeamMembers, err = decodeStrings(team); err != nil {
			return nil, fmt.Errorf("document %s: invalid team members: %w", doc.ID, err)
		}
		if doc.ProjectHints, err = decodeStrings(hints); err != nil {
			return nil, fmt.Errorf("document %s: invalid project hints: %w", doc.ID, err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}
