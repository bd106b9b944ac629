// Package postgres reads processed documents and their pgvector chunk
// embeddings from the document-processing pipeline's PostgreSQL database.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/steveyegge/rdscout/internal/storage"
	"github.com/steveyegge/rdscout/internal/types"
)

// Config holds PostgreSQL connection configuration
type Config struct {
	DatabaseURL     string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultConfig returns a config with sensible pool defaults
func DefaultConfig(databaseURL string) Config {
	return Config{
		DatabaseURL:     databaseURL,
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// Store is a read-only document and chunk-embedding source
type Store struct {
	db *sql.DB
}

var (
	_ storage.DocumentStore        = (*Store)(nil)
	_ storage.ChunkEmbeddingSource = (*Store)(nil)
)

// New opens a connection pool and verifies it
func New(ctx context.Context, cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return nil, fmt.Errorf("database URL is required")
	}
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the connection pool
func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureSchema creates the tables this store reads, for local setups and
// tests. Production databases are owned by the processing pipeline.
func (s *Store) EnsureSchema(ctx context.Context, embeddingDim int) error {
	if embeddingDim <= 0 {
		return fmt.Errorf("embedding dimension must be positive (got %d)", embeddingDim)
	}
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			scope TEXT NOT NULL,
			batch_id TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL DEFAULT '',
			summary TEXT NOT NULL DEFAULT '',
			doc_date TIMESTAMPTZ,
			uploaded_at TIMESTAMPTZ NOT NULL,
			processed BOOLEAN NOT NULL DEFAULT TRUE,
			uncertainty_signals INTEGER NOT NULL DEFAULT 0,
			systematic_signals INTEGER NOT NULL DEFAULT 0,
			failure_signals INTEGER NOT NULL DEFAULT 0,
			advancement_signals INTEGER NOT NULL DEFAULT 0,
			team_members TEXT[] NOT NULL DEFAULT '{}',
			project_hints TEXT[] NOT NULL DEFAULT '{}'
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS document_chunks (
			document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
			chunk_index INTEGER NOT NULL,
			embedding vector(%d) NOT NULL,
			PRIMARY KEY (document_id, chunk_index)
		)`, embeddingDim),
		`CREATE INDEX IF NOT EXISTS idx_documents_scope ON documents(scope) WHERE processed`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

const documentColumns = `id, scope, title, summary, doc_date, uploaded_at,
	uncertainty_signals, systematic_signals, failure_signals, advancement_signals,
	team_members, project_hints`

// FetchProcessedDocuments returns every processed document in scope, ordered by ID
func (s *Store) FetchProcessedDocuments(ctx context.Context, scope string) ([]types.Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE scope = $1 AND processed
		ORDER BY id`, scope)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()
	return scanDocuments(rows)
}

// FetchNewDocuments returns the processed documents of one upload batch, ordered by ID
func (s *Store) FetchNewDocuments(ctx context.Context, scope, batchID string) ([]types.Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE scope = $1 AND batch_id = $2 AND processed
		ORDER BY id`, scope, batchID)
	if err != nil {
		return nil, fmt.Errorf("query batch %s: %w", batchID, err)
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
		SELECT embedding::text
		FROM document_chunks
		WHERE document_id = $1
		ORDER BY chunk_index
		LIMIT $2`, documentID, limit)
	if err != nil {
		return nil, fmt.Errorf("query chunk embeddings: %w", err)
	}
	defer rows.Close()

	var vectors [][]float32
	for rows.Next() {
		var text string
		if err := rows.Scan(&text); err != nil {
			return nil, fmt.Errorf("scan chunk embedding: %w", err)
		}
		v, err := parseVector(text)
		if err != nil {
			return nil, fmt.Errorf("document %s: %w", documentID, err)
		}
		vectors = append(vectors, v)
	}
	return vectors, rows.Err()
}

func scanDocuments(rows *sql.Rows) ([]types.Document, error) {
	var docs []types.Document
	for rows.Next() {
		var (
			doc         types.Document
			docDate     sql.NullTime
			team, hints []string
		)
		if err := rows.Scan(
			&doc.ID, &doc.Scope, &doc.Title, &doc.Summary, &docDate, &doc.UploadedAt,
			&doc.Signals.Uncertainty, &doc.Signals.Systematic, &doc.Signals.Failure, &doc.Signals.Advancement,
			pq.Array(&team), pq.Array(&hints),
		); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		if docDate.Valid {
			d := docDate.Time
			doc.Date = &d
		}
		if len(team) > 0 {
			doc.TeamMembers = team
		}
		if len(hints) > 0 {
			doc.ProjectHints = hints
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// parseVector parses pgvector text format: [0.1,0.2,0.3]
func parseVector(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '[' || s[len(s)-1] != ']' {
		return nil, fmt.Errorf("invalid vector literal %q", s)
	}
	body := strings.TrimSpace(s[1 : len(s)-1])
	if body == "" {
		return []float32{}, nil
	}
	parts := strings.Split(body, ",")
	out := make([]float32, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("invalid vector component %d: %w", i, err)
		}
		out[i] = float32(f)
	}
	return out, nil
}

// formatVector converts a vector to pgvector text format
func formatVector(v []float32) string {
	parts := make([]string, len(v))
	for i, val := range v {
		parts[i] = strconv.FormatFloat(float64(val), 'g', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// InsertDocument writes a processed document and its chunk embeddings in one
// transaction, replacing any previous copy. Used for seeding and tests.
func (s *Store) InsertDocument(ctx context.Context, doc types.Document, batchID string, chunks [][]float32) error {
	if err := doc.Validate(); err != nil {
		return fmt.Errorf("invalid document: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var docDate any
	if doc.Date != nil {
		docDate = *doc.Date
	}
	team := doc.TeamMembers
	if team == nil {
		team = []string{}
	}
	hints := doc.ProjectHints
	if hints == nil {
		hints = []string{}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO documents (id, scope, batch_id, title, summary, doc_date, uploaded_at, processed,
			uncertainty_signals, systematic_signals, failure_signals, advancement_signals,
			team_members, project_hints)
		VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			scope = EXCLUDED.scope, batch_id = EXCLUDED.batch_id, title = EXCLUDED.title,
			summary = EXCLUDED.summary, doc_date = EXCLUDED.doc_date, uploaded_at = EXCLUDED.uploaded_at,
			processed = TRUE,
			uncertainty_signals = EXCLUDED.uncertainty_signals, systematic_signals = EXCLUDED.systematic_signals,
			failure_signals = EXCLUDED.failure_signals, advancement_signals = EXCLUDED.advancement_signals,
			team_members = EXCLUDED.team_members, project_hints = EXCLUDED.project_hints`,
		doc.ID, doc.Scope, batchID, doc.Title, doc.Summary, docDate, doc.UploadedAt,
		doc.Signals.Uncertainty, doc.Signals.Systematic, doc.Signals.Failure, doc.Signals.Advancement,
		pq.Array(team), pq.Array(hints),
	); err != nil {
		return fmt.Errorf("insert document %s: %w", doc.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM document_chunks WHERE document_id = $1`, doc.ID); err != nil {
		return fmt.Errorf("clear chunks: %w", err)
	}
	for i, v := range chunks {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO document_chunks (document_id, chunk_index, embedding) VALUES ($1, $2, $3::vector)`,
			doc.ID, i, formatVector(v)); err != nil {
			return fmt.Errorf("insert chunk %d of %s: %w", i, doc.ID, err)
		}
	}
	return tx.Commit()
}
