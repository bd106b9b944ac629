package discovery

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/steveyegge/rdscout/internal/storage"
	"github.com/steveyegge/rdscout/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDocuments struct {
	docs  map[string][]types.Document
	err   error
	calls int
	mu    sync.Mutex
	gate  chan struct{} // when set, fetches block until closed
}

func (f *fakeDocuments) FetchProcessedDocuments(ctx context.Context, scope string) ([]types.Document, error) {
	f.mu.Lock()
	f.calls++
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.docs[scope], nil
}

func (f *fakeDocuments) FetchNewDocuments(ctx context.Context, scope, batchID string) ([]types.Document, error) {
	return nil, nil
}

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
	return nil, errors.New("no text embedder")
}

type fakeSink struct {
	mu      sync.Mutex
	runs    []types.DiscoveryRun
	saved   map[string][]types.ProjectCandidate
	saveErr error
}

func newFakeSink() *fakeSink {
	return &fakeSink{saved: make(map[string][]types.ProjectCandidate)}
}

func (s *fakeSink) RecordRun(ctx context.Context, run *types.DiscoveryRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, *run)
	return nil
}

func (s *fakeSink) SaveCandidates(ctx context.Context, run *types.DiscoveryRun, candidates []types.ProjectCandidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.runs = append(s.runs, *run)
	s.saved[run.ID] = candidates
	return nil
}

func (s *fakeSink) lastRun() types.DiscoveryRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs[len(s.runs)-1]
}

type failingGenerator struct{}

func (failingGenerator) GenerateShortName(ctx context.Context, titles []string) (string, error) {
	return "", errors.New("model overloaded")
}

func (failingGenerator) GenerateSummary(ctx context.Context, excerpts []string) (string, error) {
	return "", errors.New("model overloaded")
}

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.Features.EmbeddingDim = 4
	cfg.Features.TeamBuckets = 3
	return cfg
}

var baseDate = time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)

// twoProjectCorpus returns five identical "a" documents, five identical "b"
// documents and two outliers, plus matching chunk embeddings.
func twoProjectCorpus() ([]types.Document, *fakeEmbeddings) {
	emb := &fakeEmbeddings{chunks: map[string][]float32{}}
	var docs []types.Document
	for i := 1; i <= 5; i++ {
		a := types.Document{
			ID: fmt.Sprintf("a%d", i), Scope: "acme", Title: "Kestrel prototype",
			UploadedAt: baseDate, TeamMembers: []string{"Ada"},
			Signals:      types.SignalCounts{Uncertainty: 2, Systematic: 2, Failure: 1, Advancement: 1},
			ProjectHints: []string{"Kestrel"},
		}
		b := types.Document{
			ID: fmt.Sprintf("b%d", i), Scope: "acme", Title: "Routine report",
			UploadedAt: baseDate, TeamMembers: []string{"Ada"},
		}
		docs = append(docs, a, b)
		emb.chunks[a.ID] = []float32{1, 0, 0, 0}
		emb.chunks[b.ID] = []float32{0, 1, 0, 0}
	}
	docs = append(docs,
		types.Document{ID: "n1", Scope: "acme", Title: "Outlier", UploadedAt: baseDate, TeamMembers: []string{"Ada"}},
		types.Document{ID: "n2", Scope: "acme", Title: "Outlier", UploadedAt: baseDate, TeamMembers: []string{"Ada"}},
	)
	emb.chunks["n1"] = []float32{0, 0, 10, 0}
	emb.chunks["n2"] = []float32{0, 0, 0, 10}
	return docs, emb
}

func newTestOrchestrator(t *testing.T, docs *fakeDocuments, emb *fakeEmbeddings, sink *fakeSink, cfg *Config) *Orchestrator {
	t.Helper()
	deps := Deps{Documents: docs, Sink: sink}
	if emb != nil {
		deps.Embeddings = emb
	}
	if sink == nil {
		deps.Sink = nil
	}
	o, err := NewOrchestrator(deps, cfg)
	require.NoError(t, err)
	return o
}

func TestDiscover_TwoProjectsAndNoise(t *testing.T) {
	corpus, emb := twoProjectCorpus()
	docs := &fakeDocuments{docs: map[string][]types.Document{"acme": corpus}}
	sink := newFakeSink()
	o := newTestOrchestrator(t, docs, emb, sink, testConfig())

	result, err := o.Discover(context.Background(), "acme")
	require.NoError(t, err)

	run := result.Run
	assert.Equal(t, types.RunCompleted, run.Status)
	assert.Equal(t, 12, run.DocumentsAnalyzed)
	assert.Equal(t, 2, run.CandidateCount())
	assert.Equal(t, 2, run.NoiseCount)
	assert.False(t, run.Degraded)
	assert.Equal(t, []string{"n1", "n2"}, result.Unassigned)

	cands := result.Candidates()
	require.Len(t, cands, 2)
	byName := map[string]types.ProjectCandidate{}
	for _, c := range cands {
		byName[c.Name] = c
		assert.NoError(t, c.Validate())
	}
	require.Contains(t, byName, "Kestrel")
	assert.Equal(t, []string{"a1", "a2", "a3", "a4", "a5"}, byName["Kestrel"].DocumentIDs)
	assert.Equal(t, types.NameFromHint, byName["Kestrel"].NameSource)
	require.Contains(t, byName, "Project b1")
	assert.Equal(t, types.NameFromPlaceholder, byName["Project b1"].NameSource)

	// Every document lands in exactly one place
	var seen []string
	for _, c := range cands {
		seen = append(seen, c.DocumentIDs...)
	}
	seen = append(seen, result.Unassigned...)
	sort.Strings(seen)
	assert.Len(t, seen, 12)

	// Persisted once, with the completed run
	require.Len(t, sink.saved[run.ID], 2)
	assert.Equal(t, types.RunCompleted, sink.lastRun().Status)
	assert.Equal(t, types.RunRunning, sink.runs[0].Status)

	assert.Contains(t, result.Summary(), "Candidates: 2")
}

func TestDiscover_NearIdenticalDocumentsFormOneCandidate(t *testing.T) {
	emb := &fakeEmbeddings{chunks: map[string][]float32{}}
	var corpus []types.Document
	for k := 0; k < 8; k++ {
		id := fmt.Sprintf("p%d", k)
		corpus = append(corpus, types.Document{
			ID: id, Scope: "acme", Title: "Anode coating trial",
			UploadedAt: baseDate, TeamMembers: []string{"Ada", "Grace"},
		})
		v := make([]float32, 4)
		r := float32(0.020 + 0.0008*float64(k))
		if k%2 == 1 {
			r = -r
		}
		v[k/2] = r
		emb.chunks[id] = v
	}
	scattered := [][]float32{{2, 2, 0, 0}, {-2, -2, 0, 0}, {0, 0, 2, 2}, {0, 0, -2, -2}}
	for i, v := range scattered {
		id := fmt.Sprintf("z%d", i)
		corpus = append(corpus, types.Document{
			ID: id, Scope: "acme", Title: "Unrelated memo",
			UploadedAt: baseDate, TeamMembers: []string{"Ada", "Grace"},
		})
		emb.chunks[id] = v
	}
	docs := &fakeDocuments{docs: map[string][]types.Document{"acme": corpus}}
	o := newTestOrchestrator(t, docs, emb, newFakeSink(), testConfig())

	result, err := o.Discover(context.Background(), "acme")
	require.NoError(t, err)

	cands := result.Candidates()
	require.Len(t, cands, 1)
	assert.Equal(t, []string{"p0", "p1", "p2", "p3", "p4", "p5", "p6", "p7"}, cands[0].DocumentIDs)
	assert.Equal(t, []string{"z0", "z1", "z2", "z3"}, result.Unassigned)
}

func TestDiscover_Deterministic(t *testing.T) {
	corpus, emb := twoProjectCorpus()

	var names [][]string
	for i := 0; i < 3; i++ {
		shuffled := append([]types.Document(nil), corpus...)
		rand.New(rand.NewSource(int64(i))).Shuffle(len(shuffled), func(a, b int) {
			shuffled[a], shuffled[b] = shuffled[b], shuffled[a]
		})
		docs := &fakeDocuments{docs: map[string][]types.Document{"acme": shuffled}}
		o := newTestOrchestrator(t, docs, emb, newFakeSink(), testConfig())

		result, err := o.Discover(context.Background(), "acme")
		require.NoError(t, err)
		var got []string
		for _, c := range result.Candidates() {
			got = append(got, c.Name+":"+fmt.Sprint(c.DocumentIDs))
		}
		names = append(names, got)
	}
	assert.Equal(t, names[0], names[1])
	assert.Equal(t, names[0], names[2])
}

func TestDiscover_SmallCorpusIsCappedAndDegraded(t *testing.T) {
	var corpus []types.Document
	for i := 0; i < 4; i++ {
		corpus = append(corpus, types.Document{
			ID:          fmt.Sprintf("d%d", i),
			Title:       "Cell chemistry",
			UploadedAt:  baseDate.AddDate(0, 0, i*20),
			Signals:     types.SignalCounts{Uncertainty: 5, Systematic: 5, Failure: 5, Advancement: 5},
			TeamMembers: []string{fmt.Sprintf("p%d", i), fmt.Sprintf("q%d", i)},
		})
	}
	docs := &fakeDocuments{docs: map[string][]types.Document{"acme": corpus}}
	sink := newFakeSink()
	o := newTestOrchestrator(t, docs, nil, sink, testConfig())

	result, err := o.Discover(context.Background(), "acme")
	require.NoError(t, err)

	assert.True(t, result.Run.Degraded)
	assert.Equal(t, types.DegradedInsufficientData, result.Run.DegradedReason)
	assert.Empty(t, result.High, "a small corpus never yields a high-tier candidate")

	cands := result.Candidates()
	require.Len(t, cands, 1)
	assert.LessOrEqual(t, cands[0].Confidence, 0.6)
	assert.Equal(t, []string{"d0", "d1", "d2", "d3"}, cands[0].DocumentIDs)
	assert.Contains(t, result.Summary(), "Degraded: insufficient_data")
}

func TestDiscover_EmptyCorpus(t *testing.T) {
	docs := &fakeDocuments{docs: map[string][]types.Document{}}
	o := newTestOrchestrator(t, docs, nil, newFakeSink(), testConfig())

	result, err := o.Discover(context.Background(), "acme")
	require.NoError(t, err)
	assert.Empty(t, result.Candidates())
	assert.Equal(t, types.RunCompleted, result.Run.Status)
	assert.True(t, result.Run.Degraded)
}

func TestDiscover_UpstreamFailureFailsRun(t *testing.T) {
	docs := &fakeDocuments{err: errors.New("connection reset")}
	sink := newFakeSink()
	o := newTestOrchestrator(t, docs, nil, sink, testConfig())

	result, err := o.Discover(context.Background(), "acme")
	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, types.IsKind(err, types.KindUpstream))
	assert.True(t, types.IsRetryable(err))

	last := sink.lastRun()
	assert.Equal(t, types.RunFailed, last.Status)
	assert.Contains(t, last.Error, "connection reset")
	assert.Empty(t, sink.saved)
}

func TestDiscover_PersistenceFailureFailsRun(t *testing.T) {
	corpus, emb := twoProjectCorpus()
	docs := &fakeDocuments{docs: map[string][]types.Document{"acme": corpus}}
	sink := newFakeSink()
	sink.saveErr = errors.New("disk full")
	o := newTestOrchestrator(t, docs, emb, sink, testConfig())

	_, err := o.Discover(context.Background(), "acme")
	require.Error(t, err)
	assert.Equal(t, types.RunFailed, sink.lastRun().Status)
	assert.Contains(t, sink.lastRun().Error, "disk full")
}

func TestDiscover_EnrichmentFailureStillCompletes(t *testing.T) {
	corpus, emb := twoProjectCorpus()
	docs := &fakeDocuments{docs: map[string][]types.Document{"acme": corpus}}
	o, err := NewOrchestrator(Deps{
		Documents:  docs,
		Embeddings: emb,
		Generator:  failingGenerator{},
		Sink:       newFakeSink(),
	}, testConfig())
	require.NoError(t, err)

	result, err := o.Discover(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, types.RunCompleted, result.Run.Status)
	for _, c := range result.Candidates() {
		assert.Empty(t, c.Summary)
		assert.NotEmpty(t, c.Name)
	}
}

func TestDiscover_ConcurrentRunOnSameScopeIsRejected(t *testing.T) {
	corpus, emb := twoProjectCorpus()
	gate := make(chan struct{})
	docs := &fakeDocuments{docs: map[string][]types.Document{"acme": corpus, "other": corpus}, gate: gate}
	o := newTestOrchestrator(t, docs, emb, newFakeSink(), testConfig())

	firstDone := make(chan error, 1)
	go func() {
		_, err := o.Discover(context.Background(), "acme")
		firstDone <- err
	}()

	// Wait until the first run is inside the fetch
	require.Eventually(t, func() bool {
		docs.mu.Lock()
		defer docs.mu.Unlock()
		return docs.calls == 1
	}, 2*time.Second, 5*time.Millisecond)

	_, err := o.Discover(context.Background(), "acme")
	assert.ErrorIs(t, err, types.ErrScopeBusy)
	assert.True(t, types.IsRetryable(err))

	// A different scope is not blocked
	otherDone := make(chan error, 1)
	go func() {
		_, err := o.Discover(context.Background(), "other")
		otherDone <- err
	}()

	close(gate)
	require.NoError(t, <-firstDone)
	require.NoError(t, <-otherDone)
}

func TestDiscover_DryRunPersistsNothing(t *testing.T) {
	corpus, emb := twoProjectCorpus()
	docs := &fakeDocuments{docs: map[string][]types.Document{"acme": corpus}}
	cfg := testConfig()
	cfg.DryRun = true
	o := newTestOrchestrator(t, docs, emb, nil, cfg)

	result, err := o.Discover(context.Background(), "acme")
	require.NoError(t, err)
	assert.Len(t, result.Candidates(), 2)
}

func TestDiscover_InvalidDocumentFailsRun(t *testing.T) {
	docs := &fakeDocuments{docs: map[string][]types.Document{"acme": {
		{ID: "x", UploadedAt: baseDate, Signals: types.SignalCounts{Failure: -1}},
	}}}
	sink := newFakeSink()
	o := newTestOrchestrator(t, docs, nil, sink, testConfig())

	_, err := o.Discover(context.Background(), "acme")
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindInvalidInput))
	assert.Equal(t, types.RunFailed, sink.lastRun().Status)
}

func TestDiscover_RequiresScope(t *testing.T) {
	o := newTestOrchestrator(t, &fakeDocuments{}, nil, newFakeSink(), testConfig())
	_, err := o.Discover(context.Background(), "  ")
	assert.True(t, types.IsKind(err, types.KindInvalidInput))
}

func TestNewOrchestrator_Validation(t *testing.T) {
	cfg := testConfig()
	cfg.SmallCorpusConfidenceCap = 0.8
	_, err := NewOrchestrator(Deps{Documents: &fakeDocuments{}, Sink: newFakeSink()}, cfg)
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindInvalidConfig))

	_, err = NewOrchestrator(Deps{Documents: &fakeDocuments{}}, testConfig())
	assert.ErrorContains(t, err, "sink is required")

	_, err = NewOrchestrator(Deps{Sink: newFakeSink()}, testConfig())
	assert.ErrorContains(t, err, "document store is required")
}

func TestDiscover_WaitForLock(t *testing.T) {
	corpus, emb := twoProjectCorpus()
	docs := &fakeDocuments{docs: map[string][]types.Document{"acme": corpus}}
	locker := storage.NewMemoryLocker()
	cfg := testConfig()
	cfg.WaitForLock = true
	o, err := NewOrchestrator(Deps{Documents: docs, Embeddings: emb, Sink: newFakeSink(), Locker: locker}, cfg)
	require.NoError(t, err)

	release, err := locker.Acquire(context.Background(), storage.DiscoveryLockKey("acme"), false)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := o.Discover(context.Background(), "acme")
		done <- err
	}()

	select {
	case <-done:
		t.Fatal("run should wait for the lock")
	case <-time.After(50 * time.Millisecond):
	}
	release()
	require.NoError(t, <-done)
}
