// Package features converts documents into fixed-length numeric feature
// vectors: temporal, semantic and team dimensions concatenated in that order.
package features

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/steveyegge/rdscout/internal/storage"
	"github.com/steveyegge/rdscout/internal/types"
)

// TemporalDims is the width of the temporal sub-vector:
// years since epoch, sin/cos month-of-year, sin/cos day-of-week.
const TemporalDims = 5

const (
	daysPerYear   = 365.25
	secondsPerDay = 86400
)

// Config controls the shape of the feature vector
type Config struct {
	// EmbeddingDim is the dimensionality of the semantic sub-vector.
	// Every chunk embedding must have exactly this length.
	EmbeddingDim int

	// MaxChunks bounds how many chunk embeddings are averaged per document
	MaxChunks int

	// TeamBuckets is the width of the hashed bag-of-names team sub-vector
	TeamBuckets int

	// Concurrency caps parallel embedding fetches in ExtractAll
	Concurrency int
}

// DefaultConfig returns the default extractor configuration
func DefaultConfig() Config {
	return Config{
		EmbeddingDim: 768,
		MaxChunks:    5,
		TeamBuckets:  10,
		Concurrency:  8,
	}
}

// Validate checks if the configuration has valid values
func (c Config) Validate() error {
	if c.EmbeddingDim <= 0 {
		return fmt.Errorf("embedding_dim must be positive (got %d)", c.EmbeddingDim)
	}
	if c.EmbeddingDim > 16384 {
		return fmt.Errorf("embedding_dim too large (got %d, max 16384)", c.EmbeddingDim)
	}
	if c.MaxChunks <= 0 || c.MaxChunks > 100 {
		return fmt.Errorf("max_chunks must be between 1 and 100 (got %d)", c.MaxChunks)
	}
	if c.TeamBuckets <= 0 || c.TeamBuckets > 1024 {
		return fmt.Errorf("team_buckets must be between 1 and 1024 (got %d)", c.TeamBuckets)
	}
	if c.Concurrency <= 0 || c.Concurrency > 256 {
		return fmt.Errorf("concurrency must be between 1 and 256 (got %d)", c.Concurrency)
	}
	return nil
}

// Dimension returns the total feature vector length
func (c Config) Dimension() int {
	return TemporalDims + c.EmbeddingDim + c.TeamBuckets
}

// SemanticSource records which path produced a document's semantic features
type SemanticSource string

const (
	SemanticFromChunks SemanticSource = "chunks"
	SemanticFromText   SemanticSource = "text"
	SemanticNone       SemanticSource = "none"
)

// Extraction is the feature vector of one document plus how it was obtained
type Extraction struct {
	DocumentID     string
	Vector         types.FeatureVector
	SemanticSource SemanticSource
}

// Extractor builds feature vectors. It is safe for concurrent use.
type Extractor struct {
	embeddings storage.EmbeddingStore
	config     Config
	logger     *slog.Logger
}

// NewExtractor creates an extractor. embeddings may be nil, in which case
// every document gets a zero semantic sub-vector.
func NewExtractor(embeddings storage.EmbeddingStore, config Config, logger *slog.Logger) (*Extractor, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{embeddings: embeddings, config: config, logger: logger}, nil
}

// Config returns the extractor's configuration
func (e *Extractor) Config() Config {
	return e.config
}

// Extract builds the feature vector for one document.
//
// Missing semantic data is not an error: the document falls back to a text
// embedding, then to a zero vector. Errors are reserved for malformed input
// (invalid document, wrong embedding width) and failed chunk fetches.
func (e *Extractor) Extract(ctx context.Context, doc types.Document) (Extraction, error) {
	if err := doc.Validate(); err != nil {
		return Extraction{}, types.NewError(types.KindInvalidInput, "extract features", err)
	}

	vec := make(types.FeatureVector, 0, e.config.Dimension())

	temporal := TemporalFeatures(doc.EffectiveDate())
	vec = append(vec, temporal[:]...)

	semantic, source, err := e.semanticFeatures(ctx, doc)
	if err != nil {
		return Extraction{}, err
	}
	vec = append(vec, semantic...)

	vec = append(vec, TeamFeatures(doc.TeamMembers, e.config.TeamBuckets)...)

	return Extraction{DocumentID: doc.ID, Vector: vec, SemanticSource: source}, nil
}

// ExtractAll extracts features for every document, preserving input order.
// The first fatal error aborts the batch.
func (e *Extractor) ExtractAll(ctx context.Context, docs []types.Document) ([]Extraction, error) {
	out := make([]Extraction, len(docs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.config.Concurrency)
	for i := range docs {
		g.Go(func() error {
			ex, err := e.Extract(gctx, docs[i])
			if err != nil {
				return err
			}
			out[i] = ex
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Extractor) semanticFeatures(ctx context.Context, doc types.Document) ([]float64, SemanticSource, error) {
	zero := make([]float64, e.config.EmbeddingDim)
	if e.embeddings == nil {
		return zero, SemanticNone, nil
	}

	chunks, err := e.embeddings.FetchChunkEmbeddings(ctx, doc.ID, e.config.MaxChunks)
	if err != nil {
		return nil, "", types.NewError(types.KindUpstream, "fetch chunk embeddings",
			fmt.Errorf("document %s: %w", doc.ID, err))
	}
	if len(chunks) > e.config.MaxChunks {
		chunks = chunks[:e.config.MaxChunks]
	}
	if len(chunks) > 0 {
		mean, err := e.meanEmbedding(doc.ID, chunks)
		if err != nil {
			return nil, "", err
		}
		return mean, SemanticFromChunks, nil
	}

	text := strings.TrimSpace(strings.TrimSpace(doc.Title) + "\n" + strings.TrimSpace(doc.Summary))
	if text == "" {
		return zero, SemanticNone, nil
	}

	embedded, err := e.embeddings.EmbedText(ctx, text)
	if err != nil {
		e.logger.Warn("text embedding fallback failed, using zero semantic vector",
			"document_id", doc.ID, "error", err)
		return zero, SemanticNone, nil
	}
	if len(embedded) == 0 {
		return zero, SemanticNone, nil
	}
	mean, err := e.meanEmbedding(doc.ID, [][]float32{embedded})
	if err != nil {
		return nil, "", err
	}
	return mean, SemanticFromText, nil
}

func (e *Extractor) meanEmbedding(docID string, vectors [][]float32) ([]float64, error) {
	mean := make([]float64, e.config.EmbeddingDim)
	for i, v := range vectors {
		if len(v) != e.config.EmbeddingDim {
			return nil, types.NewError(types.KindInvalidInput, "extract features",
				fmt.Errorf("document %s embedding %d has %d dimensions, expected %d",
					docID, i, len(v), e.config.EmbeddingDim))
		}
		for j, x := range v {
			f := float64(x)
			if math.IsNaN(f) || math.IsInf(f, 0) {
				return nil, types.NewError(types.KindInvalidInput, "extract features",
					fmt.Errorf("document %s embedding %d contains a non-finite value", docID, i))
			}
			mean[j] += f
		}
	}
	n := float64(len(vectors))
	for j := range mean {
		mean[j] /= n
	}
	return mean, nil
}

// TemporalFeatures encodes a date as years since the Unix epoch plus the
// cyclical month-of-year and day-of-week, so December sits next to January.
func TemporalFeatures(t time.Time) [TemporalDims]float64 {
	t = t.UTC()
	years := float64(t.Unix()) / (secondsPerDay * daysPerYear)

	monthAngle := 2 * math.Pi * float64(t.Month()-1) / 12
	dayAngle := 2 * math.Pi * float64(t.Weekday()) / 7

	return [TemporalDims]float64{
		years,
		math.Sin(monthAngle),
		math.Cos(monthAngle),
		math.Sin(dayAngle),
		math.Cos(dayAngle),
	}
}

// TeamFeatures hashes each team member into one of buckets slots.
// Collisions are accepted; the encoding is stable across runs.
func TeamFeatures(names []string, buckets int) []float64 {
	out := make([]float64, buckets)
	for _, name := range names {
		if b := TeamBucket(name, buckets); b >= 0 {
			out[b] = 1
		}
	}
	return out
}

// TeamBucket returns the bucket for a name, or -1 for a blank name
func TeamBucket(name string, buckets int) int {
	normalized := NormalizeName(name)
	if normalized == "" || buckets <= 0 {
		return -1
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(normalized))
	return int(h.Sum32() % uint32(buckets))
}

// NormalizeName lower-cases a person name and collapses whitespace
func NormalizeName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}
