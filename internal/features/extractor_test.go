package features

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/steveyegge/rdscout/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEmbeddings struct {
	mu        sync.Mutex
	chunks    map[string][][]float32
	chunkErr  error
	text      []float32
	textErr   error
	textCalls int
}

func (f *fakeEmbeddings) FetchChunkEmbeddings(ctx context.Context, documentID string, limit int) ([][]float32, error) {
	if f.chunkErr != nil {
		return nil, f.chunkErr
	}
	return f.chunks[documentID], nil
}

func (f *fakeEmbeddings) EmbedText(ctx context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	f.textCalls++
	f.mu.Unlock()
	if f.textErr != nil {
		return nil, f.textErr
	}
	return f.text, nil
}

func smallConfig() Config {
	cfg := DefaultConfig()
	cfg.EmbeddingDim = 4
	cfg.MaxChunks = 2
	cfg.TeamBuckets = 3
	return cfg
}

func testDoc(id string) types.Document {
	return types.Document{
		ID:          id,
		Title:       "Thermal model " + id,
		UploadedAt:  time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC),
		TeamMembers: []string{"Ada Lovelace"},
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Config)
		errorMsg string
	}{
		{name: "default", mutate: func(*Config) {}},
		{name: "zero dim", mutate: func(c *Config) { c.EmbeddingDim = 0 }, errorMsg: "embedding_dim must be positive"},
		{name: "zero chunks", mutate: func(c *Config) { c.MaxChunks = 0 }, errorMsg: "max_chunks must be between"},
		{name: "zero buckets", mutate: func(c *Config) { c.TeamBuckets = 0 }, errorMsg: "team_buckets must be between"},
		{name: "zero concurrency", mutate: func(c *Config) { c.Concurrency = 0 }, errorMsg: "concurrency must be between"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.errorMsg == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.errorMsg)
		})
	}
}

func TestDefaultDimension(t *testing.T) {
	assert.Equal(t, 5+768+10, DefaultConfig().Dimension())
}

func TestExtract_MeanOfChunks(t *testing.T) {
	store := &fakeEmbeddings{chunks: map[string][][]float32{
		"a": {
			{1, 2, 3, 4},
			{3, 4, 5, 6},
			{100, 100, 100, 100}, // beyond MaxChunks
		},
	}}
	ex, err := NewExtractor(store, smallConfig(), nil)
	require.NoError(t, err)

	got, err := ex.Extract(context.Background(), testDoc("a"))
	require.NoError(t, err)

	assert.Equal(t, SemanticFromChunks, got.SemanticSource)
	require.Len(t, got.Vector, smallConfig().Dimension())
	assert.Equal(t, []float64{2, 3, 4, 5}, []float64(got.Vector[TemporalDims:TemporalDims+4]))
	assert.Zero(t, store.textCalls)
}

func TestExtract_TextFallback(t *testing.T) {
	store := &fakeEmbeddings{text: []float32{1, 0, 0, 1}}
	ex, err := NewExtractor(store, smallConfig(), nil)
	require.NoError(t, err)

	got, err := ex.Extract(context.Background(), testDoc("a"))
	require.NoError(t, err)
	assert.Equal(t, SemanticFromText, got.SemanticSource)
	assert.Equal(t, []float64{1, 0, 0, 1}, []float64(got.Vector[TemporalDims:TemporalDims+4]))
	assert.Equal(t, 1, store.textCalls)
}

func TestExtract_TextFallbackFailureDegradesToZero(t *testing.T) {
	store := &fakeEmbeddings{textErr: errors.New("ollama down")}
	ex, err := NewExtractor(store, smallConfig(), nil)
	require.NoError(t, err)

	got, err := ex.Extract(context.Background(), testDoc("a"))
	require.NoError(t, err)
	assert.Equal(t, SemanticNone, got.SemanticSource)
	assert.Equal(t, []float64{0, 0, 0, 0}, []float64(got.Vector[TemporalDims:TemporalDims+4]))
}

func TestExtract_NoTextSkipsEmbedder(t *testing.T) {
	store := &fakeEmbeddings{text: []float32{1, 1, 1, 1}}
	ex, err := NewExtractor(store, smallConfig(), nil)
	require.NoError(t, err)

	doc := testDoc("a")
	doc.Title = "   "
	got, err := ex.Extract(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, SemanticNone, got.SemanticSource)
	assert.Zero(t, store.textCalls)
}

func TestExtract_NilStore(t *testing.T) {
	ex, err := NewExtractor(nil, smallConfig(), nil)
	require.NoError(t, err)

	got, err := ex.Extract(context.Background(), testDoc("a"))
	require.NoError(t, err)
	assert.Equal(t, SemanticNone, got.SemanticSource)
	assert.Len(t, got.Vector, smallConfig().Dimension())
}

func TestExtract_Errors(t *testing.T) {
	t.Run("chunk fetch failure is upstream", func(t *testing.T) {
		ex, err := NewExtractor(&fakeEmbeddings{chunkErr: errors.New("timeout")}, smallConfig(), nil)
		require.NoError(t, err)
		_, err = ex.Extract(context.Background(), testDoc("a"))
		require.Error(t, err)
		assert.True(t, types.IsKind(err, types.KindUpstream))
		assert.True(t, types.IsRetryable(err))
	})

	t.Run("wrong embedding width is invalid input", func(t *testing.T) {
		store := &fakeEmbeddings{chunks: map[string][][]float32{"a": {{1, 2, 3}}}}
		ex, err := NewExtractor(store, smallConfig(), nil)
		require.NoError(t, err)
		_, err = ex.Extract(context.Background(), testDoc("a"))
		require.Error(t, err)
		assert.True(t, types.IsKind(err, types.KindInvalidInput))
		assert.Contains(t, err.Error(), "has 3 dimensions, expected 4")
	})

	t.Run("non-finite embedding is invalid input", func(t *testing.T) {
		nan := float32(math.NaN())
		store := &fakeEmbeddings{chunks: map[string][][]float32{"a": {{1, nan, 3, 4}}}}
		ex, err := NewExtractor(store, smallConfig(), nil)
		require.NoError(t, err)
		_, err = ex.Extract(context.Background(), testDoc("a"))
		assert.True(t, types.IsKind(err, types.KindInvalidInput))
	})

	t.Run("invalid document", func(t *testing.T) {
		ex, err := NewExtractor(nil, smallConfig(), nil)
		require.NoError(t, err)
		doc := testDoc("a")
		doc.Signals.Uncertainty = -2
		_, err = ex.Extract(context.Background(), doc)
		assert.True(t, types.IsKind(err, types.KindInvalidInput))
	})
}

func TestExtractAll_PreservesOrder(t *testing.T) {
	store := &fakeEmbeddings{chunks: map[string][][]float32{
		"a": {{1, 1, 1, 1}},
		"b": {{2, 2, 2, 2}},
		"c": {{3, 3, 3, 3}},
	}}
	ex, err := NewExtractor(store, smallConfig(), nil)
	require.NoError(t, err)

	got, err := ex.ExtractAll(context.Background(), []types.Document{testDoc("c"), testDoc("a"), testDoc("b")})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "c", got[0].DocumentID)
	assert.Equal(t, 3.0, got[0].Vector[TemporalDims])
	assert.Equal(t, "a", got[1].DocumentID)
	assert.Equal(t, "b", got[2].DocumentID)
}

func TestTemporalFeatures(t *testing.T) {
	// 1970-01-01 was a Thursday
	f := TemporalFeatures(time.Unix(0, 0))
	assert.InDelta(t, 0.0, f[0], 1e-12)
	assert.InDelta(t, 0.0, f[1], 1e-12) // sin(January)
	assert.InDelta(t, 1.0, f[2], 1e-12) // cos(January)
	assert.InDelta(t, math.Sin(2*math.Pi*4/7), f[3], 1e-12)
	assert.InDelta(t, math.Cos(2*math.Pi*4/7), f[4], 1e-12)

	// December and January are neighbours on the month circle
	dec := TemporalFeatures(time.Date(2023, 12, 15, 0, 0, 0, 0, time.UTC))
	jan := TemporalFeatures(time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC))
	jun := TemporalFeatures(time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC))
	near := math.Hypot(dec[1]-jan[1], dec[2]-jan[2])
	far := math.Hypot(jun[1]-jan[1], jun[2]-jan[2])
	assert.Less(t, near, far)

	assert.InDelta(t, 54.0, jan[0], 0.1)
}

func TestTemporalFeatures_DistantDates(t *testing.T) {
	tests := []struct {
		name  string
		date  time.Time
		years float64
	}{
		{name: "far future", date: time.Date(2500, 1, 1, 0, 0, 0, 0, time.UTC), years: 530},
		{name: "far past", date: time.Date(1500, 1, 1, 0, 0, 0, 0, time.UTC), years: -470},
		{name: "year 9999", date: time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC), years: 8028.8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := TemporalFeatures(tt.date)
			assert.InDelta(t, tt.years, f[0], 0.1)
		})
	}
}

func TestTeamFeatures(t *testing.T) {
	a := TeamFeatures([]string{"Ada  Lovelace"}, 10)
	b := TeamFeatures([]string{"  ada lovelace "}, 10)
	assert.Equal(t, a, b, "normalization makes spelling variants collide")

	sum := 0.0
	for _, v := range a {
		sum += v
	}
	assert.Equal(t, 1.0, sum)

	assert.Equal(t, make([]float64, 10), TeamFeatures([]string{"", "   "}, 10))
	assert.Equal(t, -1, TeamBucket(" ", 10))
}

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "grace hopper", NormalizeName("  Grace \t HOPPER "))
}
