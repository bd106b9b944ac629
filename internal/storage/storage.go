// Package storage defines the narrow interfaces the discovery core uses to
// reach its external collaborators (document store, embedding store,
// persistence sink) and the scope locks that serialize runs.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/steveyegge/rdscout/internal/types"
)

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = errors.New("not found")

// DocumentStore returns documents that have completed upstream text and
// embedding processing. Documents still in flight must never be returned.
type DocumentStore interface {
	// FetchProcessedDocuments returns every processed document in scope
	FetchProcessedDocuments(ctx context.Context, scope string) ([]types.Document, error)

	// FetchNewDocuments returns the processed documents of one upload batch
	FetchNewDocuments(ctx context.Context, scope, batchID string) ([]types.Document, error)
}

// ChunkEmbeddingSource returns stored chunk embeddings for a document,
// in chunk order, at most limit of them.
type ChunkEmbeddingSource interface {
	FetchChunkEmbeddings(ctx context.Context, documentID string, limit int) ([][]float32, error)
}

// TextEmbedder embeds free text; used only as a fallback when a document has
// no chunk embeddings.
type TextEmbedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

// EmbeddingStore combines both embedding operations the feature extractor needs
type EmbeddingStore interface {
	ChunkEmbeddingSource
	TextEmbedder
}

// Sink persists discovery results. It owns the durable Project and
// DocumentProjectTag rows; the core only hands it candidates.
type Sink interface {
	// RecordRun inserts or updates the run record (status transitions, totals)
	RecordRun(ctx context.Context, run *types.DiscoveryRun) error

	// SaveCandidates persists all candidates of a run atomically
	SaveCandidates(ctx context.Context, run *types.DiscoveryRun, candidates []types.ProjectCandidate) error
}

// RunReader exposes run history
type RunReader interface {
	GetRun(ctx context.Context, id string) (*types.DiscoveryRun, error)
	ListRuns(ctx context.Context, scope string, limit int) ([]*types.DiscoveryRun, error)
}

// StoredProject is a persisted project with the IDs of its tagged documents
type StoredProject struct {
	ID          string     `json:"id"`
	RunID       string     `json:"run_id"`
	Scope       string     `json:"scope"`
	Name        string     `json:"name"`
	Summary     string     `json:"summary,omitempty"`
	Tier        types.Tier `json:"tier"`
	Confidence  float64    `json:"confidence"`
	Eligibility float64    `json:"eligibility"`
	DocumentIDs []string   `json:"document_ids"`
	CreatedAt   time.Time  `json:"created_at"`
}

// ProjectReader lists persisted projects, used to seed change detection
type ProjectReader interface {
	ListProjects(ctx context.Context, scope string) ([]StoredProject, error)

	// ExistingProjects returns the persisted projects of a scope with their
	// member documents loaded, ready to hand to the change detector
	ExistingProjects(ctx context.Context, scope string) ([]types.ExistingProject, error)
}
