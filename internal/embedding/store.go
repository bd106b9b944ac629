package embedding

import (
	"context"
	"fmt"

	"github.com/steveyegge/rdscout/internal/storage"
)

// Store joins a chunk-embedding source with a text embedder so both can be
// handed to the feature extractor as one storage.EmbeddingStore. Either
// half may be nil.
type Store struct {
	chunks   storage.ChunkEmbeddingSource
	embedder storage.TextEmbedder
}

var _ storage.EmbeddingStore = (*Store)(nil)

// NewStore creates a composite embedding store
func NewStore(chunks storage.ChunkEmbeddingSource, embedder storage.TextEmbedder) *Store {
	return &Store{chunks: chunks, embedder: embedder}
}

// FetchChunkEmbeddings returns stored chunk embeddings, or none when no
// chunk source is configured
func (s *Store) FetchChunkEmbeddings(ctx context.Context, documentID string, limit int) ([][]float32, error) {
	if s.chunks == nil {
		return nil, nil
	}
	return s.chunks.FetchChunkEmbeddings(ctx, documentID, limit)
}

// EmbedText embeds text, or fails when no embedder is configured
func (s *Store) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if s.embedder == nil {
		return nil, fmt.Errorf("no text embedder configured")
	}
	return s.embedder.EmbedText(ctx, text)
}
