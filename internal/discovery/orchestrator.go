package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/steveyegge/rdscout/internal/clustering"
	"github.com/steveyegge/rdscout/internal/features"
	"github.com/steveyegge/rdscout/internal/scoring"
	"github.com/steveyegge/rdscout/internal/storage"
	"github.com/steveyegge/rdscout/internal/types"
)

// Deps are the external collaborators of the orchestrator
type Deps struct {
	Documents  storage.DocumentStore
	Embeddings storage.EmbeddingStore // optional; nil means zero semantic features
	Generator  scoring.TextGenerator  // optional; nil disables generated names and summaries
	Sink       storage.Sink           // required unless Config.DryRun
	Locker     storage.Locker         // optional; defaults to an in-process locker
	Logger     *slog.Logger
}

// Orchestrator coordinates discovery runs:
// - Serializes runs per scope
// - Owns the DiscoveryRun lifecycle
// - Drives extraction, clustering and scoring
// - Persists results only when the whole run succeeds
type Orchestrator struct {
	docs      storage.DocumentStore
	sink      storage.Sink
	locker    storage.Locker
	extractor *features.Extractor
	scorer    *scoring.Scorer
	config    *Config
	logger    *slog.Logger
	now       func() time.Time
}

// NewOrchestrator creates a new discovery orchestrator.
func NewOrchestrator(deps Deps, config *Config) (*Orchestrator, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, types.NewError(types.KindInvalidConfig, "create orchestrator", err)
	}
	if deps.Documents == nil {
		return nil, fmt.Errorf("document store is required")
	}
	if deps.Sink == nil && !config.DryRun {
		return nil, fmt.Errorf("sink is required unless running dry")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	locker := deps.Locker
	if locker == nil {
		locker = storage.NewMemoryLocker()
	}

	extractor, err := features.NewExtractor(deps.Embeddings, config.Features, logger)
	if err != nil {
		return nil, fmt.Errorf("creating feature extractor: %w", err)
	}
	scorer, err := scoring.NewScorer(deps.Generator, config.Scoring, logger)
	if err != nil {
		return nil, fmt.Errorf("creating scorer: %w", err)
	}

	return &Orchestrator{
		docs:      deps.Documents,
		sink:      deps.Sink,
		locker:    locker,
		extractor: extractor,
		scorer:    scorer,
		config:    config,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Result contains the outcome of a successful discovery run.
type Result struct {
	Run *types.DiscoveryRun `json:"run"`

	// Candidates by tier, each sorted by eligibility descending
	High   []types.ProjectCandidate `json:"high"`
	Medium []types.ProjectCandidate `json:"medium"`
	Low    []types.ProjectCandidate `json:"low"`

	// Unassigned holds the IDs of documents clustering labelled as noise
	Unassigned []string `json:"unassigned"`
}

// Candidates returns all candidates, high tier first
func (r *Result) Candidates() []types.ProjectCandidate {
	all := make([]types.ProjectCandidate, 0, len(r.High)+len(r.Medium)+len(r.Low))
	all = append(all, r.High...)
	all = append(all, r.Medium...)
	all = append(all, r.Low...)
	return all
}

// Summary returns a human-readable summary of the discovery results.
func (r *Result) Summary() string {
	s := fmt.Sprintf(
		"Discovery run %s completed in %v\n"+
			"Documents analyzed: %d\n"+
			"Candidates: %d (high: %d, medium: %d, low: %d)\n"+
			"Unassigned documents: %d",
		r.Run.ID,
		r.Run.Duration.Round(time.Millisecond),
		r.Run.DocumentsAnalyzed,
		r.Run.CandidateCount(), r.Run.HighCount, r.Run.MediumCount, r.Run.LowCount,
		r.Run.NoiseCount,
	)
	if r.Run.Degraded {
		s += fmt.Sprintf("\nDegraded: %s", r.Run.DegradedReason)
	}
	return s
}

// Discover runs full discovery for a scope. On failure the run is recorded
// as failed and the error is returned; no candidates are persisted.
func (o *Orchestrator) Discover(ctx context.Context, scope string) (*Result, error) {
	scope = strings.TrimSpace(scope)
	if scope == "" {
		return nil, types.NewError(types.KindInvalidInput, "discover", fmt.Errorf("scope is required"))
	}

	release, err := o.locker.Acquire(ctx, storage.DiscoveryLockKey(scope), o.config.WaitForLock)
	if err != nil {
		return nil, err
	}
	defer release()

	run := types.NewDiscoveryRun(scope)
	if err := run.Start(o.now()); err != nil {
		return nil, err
	}
	if err := o.recordRun(ctx, run); err != nil {
		return nil, types.NewError(types.KindUpstream, "record run start", err)
	}

	logger := o.logger.With("scope", scope, "run_id", run.ID)
	logger.Info("discovery run started", "dry_run", o.config.DryRun)

	result, err := o.execute(ctx, run, logger)
	if err != nil {
		if failErr := run.Fail(o.now(), err); failErr != nil {
			logger.Error("failed to mark run failed", "error", failErr)
		}
		// Record the failure even if the caller's context is already done
		if recErr := o.recordRun(context.WithoutCancel(ctx), run); recErr != nil {
			logger.Error("failed to record failed run", "error", recErr)
		}
		logger.Error("discovery run failed", "error", err)
		return nil, fmt.Errorf("discovery run %s failed: %w", run.ID, err)
	}

	logger.Info("discovery run completed",
		"documents", run.DocumentsAnalyzed,
		"high", run.HighCount,
		"medium", run.MediumCount,
		"low", run.LowCount,
		"noise", run.NoiseCount,
		"degraded", run.Degraded,
		"duration", run.Duration)
	return result, nil
}

func (o *Orchestrator) execute(ctx context.Context, run *types.DiscoveryRun, logger *slog.Logger) (*Result, error) {
	docs, err := o.docs.FetchProcessedDocuments(ctx, run.Scope)
	if err != nil {
		return nil, types.NewError(types.KindUpstream, "fetch processed documents", err)
	}
	docs = sortedByID(docs)
	for i := range docs {
		if err := docs[i].Validate(); err != nil {
			return nil, types.NewError(types.KindInvalidInput, "validate documents", err)
		}
	}
	run.DocumentsAnalyzed = len(docs)

	var candidates []types.ProjectCandidate
	unassigned := []string{}

	if len(docs) < o.config.MinDocuments {
		logger.Warn("corpus below minimum size, scoring as a single candidate",
			"documents", len(docs), "min_documents", o.config.MinDocuments)
		run.MarkDegraded(types.DegradedInsufficientData)

		if len(docs) > 0 {
			c, err := o.scorer.Score(ctx, docs)
			if err != nil {
				return nil, err
			}
			scoring.CapConfidence(&c, o.config.SmallCorpusConfidenceCap, o.config.Scoring.Thresholds)
			candidates = append(candidates, c)
		}
	} else {
		extractions, err := o.extractor.ExtractAll(ctx, docs)
		if err != nil {
			return nil, err
		}
		vectors := make([][]float64, len(extractions))
		for i, ex := range extractions {
			vectors[i] = ex.Vector
		}

		clusters, err := clustering.Cluster(vectors, o.config.Clustering)
		if err != nil {
			return nil, err
		}
		logger.Debug("clustering finished", "clusters", len(clusters.Clusters), "noise", len(clusters.Noise))

		candidates, err = o.scoreClusters(ctx, docs, clusters.Clusters)
		if err != nil {
			return nil, err
		}
		for _, i := range clusters.Noise {
			unassigned = append(unassigned, docs[i].ID)
		}
	}

	high, medium, low := scoring.Bucket(candidates)
	result := &Result{High: high, Medium: medium, Low: low, Unassigned: unassigned}

	// Persist against a completed copy so a persistence failure can still
	// move the live run to failed
	completed := *run
	if err := completed.Complete(o.now(), len(high), len(medium), len(low), len(unassigned)); err != nil {
		return nil, err
	}
	if !o.config.DryRun {
		if err := o.sink.SaveCandidates(ctx, &completed, result.Candidates()); err != nil {
			return nil, types.NewError(types.KindUpstream, "save candidates", err)
		}
	}
	*run = completed
	result.Run = run
	return result, nil
}

// scoreClusters scores every cluster concurrently, preserving cluster order
func (o *Orchestrator) scoreClusters(ctx context.Context, docs []types.Document, clusters [][]int) ([]types.ProjectCandidate, error) {
	candidates := make([]types.ProjectCandidate, len(clusters))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.config.MaxConcurrentScoring)
	for i, members := range clusters {
		g.Go(func() error {
			clusterDocs := make([]types.Document, len(members))
			for j, idx := range members {
				clusterDocs[j] = docs[idx]
			}
			c, err := o.scorer.Score(gctx, clusterDocs)
			if err != nil {
				return fmt.Errorf("scoring cluster %d: %w", i, err)
			}
			candidates[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return candidates, nil
}

func (o *Orchestrator) recordRun(ctx context.Context, run *types.DiscoveryRun) error {
	if o.config.DryRun {
		return nil
	}
	return o.sink.RecordRun(ctx, run)
}

// sortedByID returns a copy of docs ordered by ID so runs over the same
// corpus are reproducible regardless of store ordering
func sortedByID(docs []types.Document) []types.Document {
	out := make([]types.Document, len(docs))
	copy(out, docs)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
