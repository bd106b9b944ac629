package changes

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/steveyegge/rdscout/internal/storage"
	"github.com/steveyegge/rdscout/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	axisA = []float32{1, 0, 0, 0}
	axisB = []float32{0, 1, 0, 0}
	axisC = []float32{0, 0, 1, 0}
	axisD = []float32{0, 0, 0, 1}
)

type fakeEmbeddings struct {
	chunks map[string][]float32
}

func (f *fakeEmbeddings) FetchChunkEmbeddings(ctx context.Context, documentID string, limit int) ([][]float32, error) {
	if v, ok := f.chunks[documentID]; ok {
		return [][]float32{v}, nil
	}
	return nil, nil
}

func (f *fakeEmbeddings) EmbedText(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("not available")
}

type fakeDocuments struct {
	batch []types.Document
	err   error
}

func (f *fakeDocuments) FetchProcessedDocuments(ctx context.Context, scope string) ([]types.Document, error) {
	return nil, nil
}

func (f *fakeDocuments) FetchNewDocuments(ctx context.Context, scope, batchID string) ([]types.Document, error) {
	return f.batch, f.err
}

type fakeClassifier struct {
	mu      sync.Mutex
	impacts map[string]*types.NarrativeImpact // keyed by excerpt
	err     error
	calls   []string
}

func (f *fakeClassifier) ClassifyNarrativeImpact(ctx context.Context, projectSummary, documentExcerpt string) (*types.NarrativeImpact, error) {
	f.mu.Lock()
	f.calls = append(f.calls, projectSummary+"|"+documentExcerpt)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if impact, ok := f.impacts[documentExcerpt]; ok {
		return impact, nil
	}
	return &types.NarrativeImpact{Type: types.ImpactNone}, nil
}

type fixture struct {
	embeddings *fakeEmbeddings
	existing   []types.ExistingProject
	newDocs    []types.Document
}

func doc(id, summary string) types.Document {
	return types.Document{
		ID:          id,
		Title:       "Doc " + id,
		Summary:     summary,
		UploadedAt:  time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		TeamMembers: []string{"Ada"},
	}
}

// newFixture builds two existing projects on axes A and B, one new document
// on axis A, three identical new documents on axis C and one on axis D.
func newFixture() fixture {
	emb := &fakeEmbeddings{chunks: map[string][]float32{}}
	f := fixture{embeddings: emb}

	var p1, p2 []types.Document
	for _, id := range []string{"p1-a", "p1-b", "p1-c"} {
		p1 = append(p1, doc(id, ""))
		emb.chunks[id] = axisA
	}
	for _, id := range []string{"p2-a", "p2-b", "p2-c"} {
		p2 = append(p2, doc(id, ""))
		emb.chunks[id] = axisB
	}
	f.existing = []types.ExistingProject{
		{ID: "proj-2", Name: "Coatings", Summary: "Corrosion-resistant coating trials.", Members: p2},
		{ID: "proj-1", Name: "Kestrel", Summary: "Solid-state battery prototype.", Members: p1},
	}

	f.newDocs = append(f.newDocs, doc("x1", "Cell failed at 4.2V, contradicting the stability claim."))
	emb.chunks["x1"] = axisA
	for _, id := range []string{"y3", "y1", "y2"} {
		f.newDocs = append(f.newDocs, doc(id, ""))
		emb.chunks[id] = axisC
	}
	f.newDocs = append(f.newDocs, doc("z1", ""))
	emb.chunks["z1"] = axisD
	return f
}

func testPipeline() PipelineConfig {
	p := DefaultPipelineConfig()
	p.Features.EmbeddingDim = 4
	p.Features.TeamBuckets = 3
	return p
}

func newTestDetector(t *testing.T, deps Deps) *Detector {
	t.Helper()
	d, err := NewDetector(deps, DefaultConfig(), testPipeline())
	require.NoError(t, err)
	return d
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Config)
		errorMsg string
	}{
		{name: "default", mutate: func(*Config) {}},
		{name: "threshold out of range", mutate: func(c *Config) { c.AdditionThreshold = 1.5 }, errorMsg: "addition_threshold must be between"},
		{name: "medium above high", mutate: func(c *Config) { c.MediumSimilarity = 0.95 }, errorMsg: "cannot exceed high_similarity"},
		{name: "addition above medium", mutate: func(c *Config) { c.AdditionThreshold = 0.85 }, errorMsg: "cannot exceed medium_similarity"},
		{name: "zero impact concurrency", mutate: func(c *Config) { c.MaxConcurrentImpact = 0 }, errorMsg: "max_concurrent_impact"},
		{name: "zero impact timeout", mutate: func(c *Config) { c.ImpactTimeout = 0 }, errorMsg: "impact_timeout must be positive"},
		{name: "weights do not sum to one", mutate: func(c *Config) { c.TeamWeight = 0.3 }, errorMsg: "similarity weights must sum to 1.0"},
		{name: "negative weight", mutate: func(c *Config) { c.TemporalWeight = -0.15; c.SemanticWeight = 1.0 }, errorMsg: "temporal_weight must be between"},
		{name: "zero temporal scale", mutate: func(c *Config) { c.TemporalScaleYears = 0 }, errorMsg: "temporal_scale_years must be positive"},
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

func TestNewDetectorRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HighSimilarity = 2
	_, err := NewDetector(Deps{}, cfg, testPipeline())
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindInvalidConfig))
}

func TestAnalyze_FullProposal(t *testing.T) {
	f := newFixture()
	classifier := &fakeClassifier{impacts: map[string]*types.NarrativeImpact{
		"Cell failed at 4.2V, contradicting the stability claim.": {
			Type: types.ImpactContradiction, Severity: types.SeverityHigh, Description: "Contradicts stability claim",
		},
	}}
	d := newTestDetector(t, Deps{Embeddings: f.embeddings, Classifier: classifier})

	result, err := d.Analyze(context.Background(), "acme", f.newDocs, f.existing)
	require.NoError(t, err)

	require.Len(t, result.Additions, 1)
	add := result.Additions[0]
	assert.Equal(t, "proj-1", add.ProjectID)
	assert.Equal(t, "Kestrel", add.ProjectName)
	require.Len(t, add.Documents, 1)
	assert.Equal(t, "x1", add.Documents[0].DocumentID)
	assert.InDelta(t, 1.0, add.Documents[0].Similarity, 1e-9)
	assert.Equal(t, types.TierHigh, add.Documents[0].Tier)

	require.Len(t, result.NewCandidates, 1)
	assert.Equal(t, []string{"y1", "y2", "y3"}, result.NewCandidates[0].DocumentIDs)

	assert.Equal(t, []string{"z1"}, result.Unassigned)

	require.Len(t, result.NarrativeImpacts, 1)
	impact := result.NarrativeImpacts[0]
	assert.Equal(t, "proj-1", impact.ProjectID)
	assert.Equal(t, "x1", impact.DocumentID)
	assert.Equal(t, types.ImpactContradiction, impact.Type)
	assert.Equal(t, types.SeverityHigh, impact.Severity)

	// The classifier saw the project summary paired with the document excerpt
	require.Len(t, classifier.calls, 1)
	assert.Equal(t, "Solid-state battery prototype.|Cell failed at 4.2V, contradicting the stability claim.", classifier.calls[0])

	// Existing projects are untouched
	assert.Len(t, f.existing[1].Members, 3)
	assert.Equal(t, 1, result.ProposedAdditionCount())
}

func TestAnalyze_SingleProjectAddition(t *testing.T) {
	tests := []struct {
		name   string
		member func(k int) []float32
		newDoc []float32
	}{
		{
			name:   "identical embeddings",
			member: func(int) []float32 { return axisA },
			newDoc: axisA,
		},
		{
			name: "near-identical embeddings",
			member: func(k int) []float32 {
				return []float32{1, 0.01 * float32(k), -0.005 * float32(k), 0.002}
			},
			newDoc: []float32{1, 0.015, -0.01, 0},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			emb := &fakeEmbeddings{chunks: map[string][]float32{}}
			var members []types.Document
			for k := 0; k < 4; k++ {
				id := "m" + string(rune('0'+k))
				members = append(members, doc(id, ""))
				emb.chunks[id] = tt.member(k)
			}
			emb.chunks["new1"] = tt.newDoc
			existing := []types.ExistingProject{{ID: "proj-1", Name: "Kestrel", Members: members}}

			d := newTestDetector(t, Deps{Embeddings: emb})
			result, err := d.Analyze(context.Background(), "acme", []types.Document{doc("new1", "")}, existing)
			require.NoError(t, err)

			require.Len(t, result.Additions, 1)
			add := result.Additions[0]
			assert.Equal(t, "proj-1", add.ProjectID)
			require.Len(t, add.Documents, 1)
			assert.Equal(t, "new1", add.Documents[0].DocumentID)
			assert.Equal(t, types.TierHigh, add.Documents[0].Tier)
			assert.Empty(t, result.NewCandidates)
			assert.Empty(t, result.Unassigned)
		})
	}
}

func TestAnalyze_SingleProjectUnrelatedDocument(t *testing.T) {
	emb := &fakeEmbeddings{chunks: map[string][]float32{"new1": axisB}}
	var members []types.Document
	for _, id := range []string{"m0", "m1", "m2"} {
		members = append(members, doc(id, ""))
		emb.chunks[id] = axisA
	}
	existing := []types.ExistingProject{{ID: "proj-1", Name: "Kestrel", Members: members}}

	d := newTestDetector(t, Deps{Embeddings: emb})
	result, err := d.Analyze(context.Background(), "acme", []types.Document{doc("new1", "")}, existing)
	require.NoError(t, err)
	assert.Empty(t, result.Additions)
	assert.Equal(t, []string{"new1"}, result.Unassigned)
}

func TestSimilarity(t *testing.T) {
	d := newTestDetector(t, Deps{})
	// temporal(5) | semantic(4) | team(3)
	vec := func(years float64, sem []float64, team []float64) []float64 {
		v := []float64{years, 0, 1, 0, 1}
		v = append(v, sem...)
		return append(v, team...)
	}

	same := vec(54, []float64{1, 0, 0, 0}, []float64{1, 0, 0})
	assert.InDelta(t, 1.0, d.similarity(same, same), 1e-9)

	otherTopic := vec(54, []float64{0, 1, 0, 0}, []float64{1, 0, 0})
	assert.InDelta(t, 0.3, d.similarity(otherTopic, same), 1e-9)

	opposite := vec(54, []float64{-1, 0, 0, 0}, []float64{1, 0, 0})
	assert.InDelta(t, 0.3, d.similarity(opposite, same), 1e-9, "negative cosine counts as no similarity")

	noTeam := vec(54, []float64{1, 0, 0, 0}, []float64{0, 0, 0})
	assert.InDelta(t, 0.85, d.similarity(noTeam, same), 1e-9)

	yearLater := vec(55, []float64{1, 0, 0, 0}, []float64{1, 0, 0})
	assert.InDelta(t, 0.85+0.15*math.Exp(-1), d.similarity(yearLater, same), 1e-9)
}

func TestAnalyze_ClassifierFailureIsAbsorbed(t *testing.T) {
	f := newFixture()
	d := newTestDetector(t, Deps{Embeddings: f.embeddings, Classifier: &fakeClassifier{err: errors.New("timeout")}})

	result, err := d.Analyze(context.Background(), "acme", f.newDocs, f.existing)
	require.NoError(t, err)
	assert.Len(t, result.Additions, 1)
	assert.Empty(t, result.NarrativeImpacts)
}

func TestAnalyze_NoImpactIsNotReported(t *testing.T) {
	f := newFixture()
	classifier := &fakeClassifier{}
	d := newTestDetector(t, Deps{Embeddings: f.embeddings, Classifier: classifier})

	result, err := d.Analyze(context.Background(), "acme", f.newDocs, f.existing)
	require.NoError(t, err)
	assert.Len(t, classifier.calls, 1)
	assert.Empty(t, result.NarrativeImpacts)
}

func TestAnalyze_ProjectWithoutSummarySkipsClassification(t *testing.T) {
	f := newFixture()
	f.existing[1].Summary = ""
	classifier := &fakeClassifier{}
	d := newTestDetector(t, Deps{Embeddings: f.embeddings, Classifier: classifier})

	_, err := d.Analyze(context.Background(), "acme", f.newDocs, f.existing)
	require.NoError(t, err)
	assert.Empty(t, classifier.calls)
}

func TestAnalyze_AlreadyAssignedDocumentsAreSkipped(t *testing.T) {
	f := newFixture()
	d := newTestDetector(t, Deps{Embeddings: f.embeddings})

	result, err := d.Analyze(context.Background(), "acme", []types.Document{doc("p1-a", "")}, f.existing)
	require.NoError(t, err)
	assert.Empty(t, result.Additions)
	assert.Empty(t, result.Unassigned)
	assert.Empty(t, result.NewCandidates)
}

func TestAnalyze_NoExistingProjects(t *testing.T) {
	f := newFixture()
	d := newTestDetector(t, Deps{Embeddings: f.embeddings})

	result, err := d.Analyze(context.Background(), "acme", f.newDocs, nil)
	require.NoError(t, err)
	assert.Empty(t, result.Additions)

	var placed []string
	for _, c := range result.NewCandidates {
		placed = append(placed, c.DocumentIDs...)
	}
	placed = append(placed, result.Unassigned...)
	assert.ElementsMatch(t, []string{"x1", "y1", "y2", "y3", "z1"}, placed)
}

func TestAnalyze_TooFewUnmatchedAreUnassigned(t *testing.T) {
	f := newFixture()
	d := newTestDetector(t, Deps{Embeddings: f.embeddings})

	newDocs := []types.Document{f.newDocs[0], f.newDocs[4]} // x1, z1
	result, err := d.Analyze(context.Background(), "acme", newDocs, f.existing)
	require.NoError(t, err)
	assert.Equal(t, []string{"z1"}, result.Unassigned)
	assert.Empty(t, result.NewCandidates)
}

func TestAnalyze_EmptyInput(t *testing.T) {
	d := newTestDetector(t, Deps{})
	result, err := d.Analyze(context.Background(), "acme", nil, nil)
	require.NoError(t, err)
	assert.Empty(t, result.Additions)
	assert.Contains(t, result.Summary(), "Change analysis for acme")
}

func TestAnalyze_InvalidInput(t *testing.T) {
	d := newTestDetector(t, Deps{})

	_, err := d.Analyze(context.Background(), "acme", []types.Document{{ID: ""}}, nil)
	assert.True(t, types.IsKind(err, types.KindInvalidInput))

	_, err = d.Analyze(context.Background(), "acme", nil, []types.ExistingProject{{ID: ""}})
	assert.True(t, types.IsKind(err, types.KindInvalidInput))

	_, err = d.Analyze(context.Background(), " ", nil, nil)
	assert.True(t, types.IsKind(err, types.KindInvalidInput))
}

func TestAnalyze_ScopeLock(t *testing.T) {
	locker := storage.NewMemoryLocker()
	d := newTestDetector(t, Deps{Locker: locker})
	ctx := context.Background()

	release, err := locker.Acquire(ctx, storage.ChangesLockKey("acme"), false)
	require.NoError(t, err)

	_, err = d.Analyze(ctx, "acme", nil, nil)
	assert.ErrorIs(t, err, types.ErrScopeBusy)
	release()

	// A discovery run on the same scope does not block change detection
	releaseDiscovery, err := locker.Acquire(ctx, storage.DiscoveryLockKey("acme"), false)
	require.NoError(t, err)
	defer releaseDiscovery()
	_, err = d.Analyze(ctx, "acme", nil, nil)
	assert.NoError(t, err)
}

func TestAnalyzeBatch(t *testing.T) {
	f := newFixture()

	t.Run("fetches the batch", func(t *testing.T) {
		d := newTestDetector(t, Deps{Embeddings: f.embeddings, Documents: &fakeDocuments{batch: f.newDocs[:1]}})
		result, err := d.AnalyzeBatch(context.Background(), "acme", "batch-7", f.existing)
		require.NoError(t, err)
		assert.Equal(t, 1, result.ProposedAdditionCount())
	})

	t.Run("fetch failure is upstream", func(t *testing.T) {
		d := newTestDetector(t, Deps{Documents: &fakeDocuments{err: errors.New("503")}})
		_, err := d.AnalyzeBatch(context.Background(), "acme", "batch-7", f.existing)
		require.Error(t, err)
		assert.True(t, types.IsKind(err, types.KindUpstream))
		assert.Contains(t, err.Error(), "batch-7")
	})

	t.Run("requires a document store", func(t *testing.T) {
		d := newTestDetector(t, Deps{})
		_, err := d.AnalyzeBatch(context.Background(), "acme", "batch-7", nil)
		assert.ErrorContains(t, err, "document store is required")
	})
}

func TestSimilarityTier(t *testing.T) {
	d := newTestDetector(t, Deps{})
	assert.Equal(t, types.TierHigh, d.similarityTier(0.9))
	assert.Equal(t, types.TierMedium, d.similarityTier(0.85))
	assert.Equal(t, types.TierMedium, d.similarityTier(0.82))
	assert.Equal(t, types.TierLow, d.similarityTier(0.8))
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, cosineSimilarity([]float64{1, 2}, []float64{2, 4}), 1e-12)
	assert.InDelta(t, -1.0, cosineSimilarity([]float64{1, 0}, []float64{-1, 0}), 1e-12)
	assert.Equal(t, 0.0, cosineSimilarity([]float64{0, 0}, []float64{1, 1}))
}
