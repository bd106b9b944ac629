// Package changes analyzes newly uploaded documents against already
// confirmed projects. It proposes additions to existing projects, new
// candidate projects for documents that fit nowhere, and flags additions
// that may change a project's narrative. It never applies anything.
package changes

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/steveyegge/rdscout/internal/clustering"
	"github.com/steveyegge/rdscout/internal/features"
	"github.com/steveyegge/rdscout/internal/scoring"
	"github.com/steveyegge/rdscout/internal/storage"
	"github.com/steveyegge/rdscout/internal/types"
)

// ImpactClassifier decides how a document excerpt affects a project summary.
// The returned impact's ProjectID and DocumentID are filled in by the caller.
type ImpactClassifier interface {
	ClassifyNarrativeImpact(ctx context.Context, projectSummary, documentExcerpt string) (*types.NarrativeImpact, error)
}

// Deps are the external collaborators of the detector
type Deps struct {
	Documents  storage.DocumentStore  // required only for AnalyzeBatch
	Embeddings storage.EmbeddingStore // optional
	Generator  scoring.TextGenerator  // optional
	Classifier ImpactClassifier       // optional; nil disables narrative impact
	Locker     storage.Locker         // optional; defaults to an in-process locker
	Logger     *slog.Logger
}

// Detector runs change analysis. It is safe for concurrent use.
type Detector struct {
	docs       storage.DocumentStore
	classifier ImpactClassifier
	locker     storage.Locker
	extractor  *features.Extractor
	scorer     *scoring.Scorer
	params     clustering.Params
	config     Config
	logger     *slog.Logger
}

// NewDetector creates a change detector
func NewDetector(deps Deps, config Config, pipeline PipelineConfig) (*Detector, error) {
	if err := config.Validate(); err != nil {
		return nil, types.NewError(types.KindInvalidConfig, "create detector", err)
	}
	if err := pipeline.Clustering.Validate(); err != nil {
		return nil, types.NewError(types.KindInvalidConfig, "create detector", err)
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	locker := deps.Locker
	if locker == nil {
		locker = storage.NewMemoryLocker()
	}

	extractor, err := features.NewExtractor(deps.Embeddings, pipeline.Features, logger)
	if err != nil {
		return nil, types.NewError(types.KindInvalidConfig, "create detector", err)
	}
	scorer, err := scoring.NewScorer(deps.Generator, pipeline.Scoring, logger)
	if err != nil {
		return nil, types.NewError(types.KindInvalidConfig, "create detector", err)
	}

	return &Detector{
		docs:       deps.Documents,
		classifier: deps.Classifier,
		locker:     locker,
		extractor:  extractor,
		scorer:     scorer,
		params:     pipeline.Clustering,
		config:     config,
		logger:     logger,
	}, nil
}

// Analyze compares newDocs against the existing projects of a scope
func (d *Detector) Analyze(ctx context.Context, scope string, newDocs []types.Document, existing []types.ExistingProject) (*types.ChangeAnalysisResult, error) {
	release, err := d.lock(ctx, scope)
	if err != nil {
		return nil, err
	}
	defer release()

	return d.analyze(ctx, strings.TrimSpace(scope), newDocs, existing)
}

// AnalyzeBatch fetches one upload batch from the document store and analyzes it
func (d *Detector) AnalyzeBatch(ctx context.Context, scope, batchID string, existing []types.ExistingProject) (*types.ChangeAnalysisResult, error) {
	if d.docs == nil {
		return nil, fmt.Errorf("document store is required for batch analysis")
	}
	release, err := d.lock(ctx, scope)
	if err != nil {
		return nil, err
	}
	defer release()

	scope = strings.TrimSpace(scope)
	newDocs, err := d.docs.FetchNewDocuments(ctx, scope, batchID)
	if err != nil {
		return nil, types.NewError(types.KindUpstream, "fetch new documents",
			fmt.Errorf("batch %s: %w", batchID, err))
	}
	return d.analyze(ctx, scope, newDocs, existing)
}

func (d *Detector) lock(ctx context.Context, scope string) (func(), error) {
	scope = strings.TrimSpace(scope)
	if scope == "" {
		return nil, types.NewError(types.KindInvalidInput, "analyze changes", fmt.Errorf("scope is required"))
	}
	return d.locker.Acquire(ctx, storage.ChangesLockKey(scope), d.config.WaitForLock)
}

func (d *Detector) analyze(ctx context.Context, scope string, newDocs []types.Document, existing []types.ExistingProject) (*types.ChangeAnalysisResult, error) {
	result := &types.ChangeAnalysisResult{
		Scope:            scope,
		Additions:        []types.ProjectAddition{},
		NewCandidates:    []types.ProjectCandidate{},
		NarrativeImpacts: []types.NarrativeImpact{},
		Unassigned:       []string{},
	}

	projects, assigned, err := prepareProjects(existing)
	if err != nil {
		return nil, err
	}

	// Documents already tagged to a project are not re-proposed
	var pending []types.Document
	for _, doc := range newDocs {
		if err := doc.Validate(); err != nil {
			return nil, types.NewError(types.KindInvalidInput, "analyze changes", err)
		}
		if _, ok := assigned[doc.ID]; ok {
			d.logger.Debug("document already assigned, skipping", "document_id", doc.ID, "project_id", assigned[doc.ID])
			continue
		}
		pending = append(pending, doc)
	}
	sort.SliceStable(pending, func(i, j int) bool { return pending[i].ID < pending[j].ID })
	if len(pending) == 0 {
		return result, nil
	}

	all := append([]types.Document(nil), pending...)
	for _, p := range projects {
		all = append(all, p.Members...)
	}
	extractions, err := d.extractor.ExtractAll(ctx, all)
	if err != nil {
		return nil, err
	}
	vectors := make([][]float64, len(extractions))
	for i, ex := range extractions {
		vectors[i] = ex.Vector
	}

	centroids := make([][]float64, len(projects))
	offset := len(pending)
	for i, p := range projects {
		centroids[i] = mean(vectors[offset : offset+len(p.Members)])
		offset += len(p.Members)
	}

	byProject := make(map[int][]types.DocumentMatch)
	var unmatched []int
	for i, doc := range pending {
		best, bestSim := -1, 0.0
		for j, c := range centroids {
			sim := d.similarity(vectors[i], c)
			if best == -1 || sim > bestSim {
				best, bestSim = j, sim
			}
		}
		if best >= 0 && bestSim >= d.config.AdditionThreshold {
			byProject[best] = append(byProject[best], types.DocumentMatch{
				DocumentID: doc.ID,
				Similarity: bestSim,
				Tier:       d.similarityTier(bestSim),
			})
			continue
		}
		unmatched = append(unmatched, i)
	}

	for j, p := range projects {
		matches, ok := byProject[j]
		if !ok {
			continue
		}
		sort.SliceStable(matches, func(a, b int) bool {
			if matches[a].Similarity != matches[b].Similarity {
				return matches[a].Similarity > matches[b].Similarity
			}
			return matches[a].DocumentID < matches[b].DocumentID
		})
		result.Additions = append(result.Additions, types.ProjectAddition{
			ProjectID:   p.ID,
			ProjectName: p.Name,
			Documents:   matches,
		})
	}

	if err := d.clusterUnmatched(ctx, pending, vectors, unmatched, result); err != nil {
		return nil, err
	}

	result.NarrativeImpacts = d.classifyImpacts(ctx, projects, pending, result.Additions)

	d.logger.Info("change analysis completed",
		"scope", scope,
		"new_documents", len(pending),
		"additions", result.ProposedAdditionCount(),
		"new_candidates", len(result.NewCandidates),
		"narrative_impacts", len(result.NarrativeImpacts),
		"unassigned", len(result.Unassigned))
	return result, nil
}

// prepareProjects validates and sorts the existing projects and returns an
// index from member document ID to project ID
func prepareProjects(existing []types.ExistingProject) ([]types.ExistingProject, map[string]string, error) {
	assigned := make(map[string]string)
	var projects []types.ExistingProject
	for _, p := range existing {
		if strings.TrimSpace(p.ID) == "" {
			return nil, nil, types.NewError(types.KindInvalidInput, "analyze changes", fmt.Errorf("existing project id is required"))
		}
		for _, m := range p.Members {
			if err := m.Validate(); err != nil {
				return nil, nil, types.NewError(types.KindInvalidInput, "analyze changes",
					fmt.Errorf("project %s: %w", p.ID, err))
			}
			assigned[m.ID] = p.ID
		}
		// A project without members has no centroid to compare against
		if len(p.Members) == 0 {
			continue
		}
		projects = append(projects, p)
	}
	sort.SliceStable(projects, func(i, j int) bool { return projects[i].ID < projects[j].ID })
	return projects, assigned, nil
}

// clusterUnmatched clusters the documents that matched no project and
// scores each cluster as a new candidate. Everything else is unassigned.
func (d *Detector) clusterUnmatched(ctx context.Context, pending []types.Document, vectors [][]float64, unmatched []int, result *types.ChangeAnalysisResult) error {
	if len(unmatched) < d.params.MinClusterSize {
		for _, i := range unmatched {
			result.Unassigned = append(result.Unassigned, pending[i].ID)
		}
		return nil
	}

	subset := make([][]float64, len(unmatched))
	for k, i := range unmatched {
		subset[k] = vectors[i]
	}
	clusters, err := clustering.Cluster(subset, d.params)
	if err != nil {
		return err
	}

	candidates := make([]types.ProjectCandidate, len(clusters.Clusters))
	g, gctx := errgroup.WithContext(ctx)
	for ci, members := range clusters.Clusters {
		g.Go(func() error {
			docs := make([]types.Document, len(members))
			for k, m := range members {
				docs[k] = pending[unmatched[m]]
			}
			c, err := d.scorer.Score(gctx, docs)
			if err != nil {
				return fmt.Errorf("scoring new cluster %d: %w", ci, err)
			}
			candidates[ci] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	high, medium, low := scoring.Bucket(candidates)
	result.NewCandidates = append(append(append(result.NewCandidates, high...), medium...), low...)

	for _, m := range clusters.Noise {
		result.Unassigned = append(result.Unassigned, pending[unmatched[m]].ID)
	}
	sort.Strings(result.Unassigned)
	return nil
}

// classifyImpacts routes each proposed addition to the classifier, paired
// with its project's summary. Failures are logged and dropped.
func (d *Detector) classifyImpacts(ctx context.Context, projects []types.ExistingProject, pending []types.Document, additions []types.ProjectAddition) []types.NarrativeImpact {
	impacts := []types.NarrativeImpact{}
	if d.classifier == nil {
		return impacts
	}

	summaries := make(map[string]string, len(projects))
	for _, p := range projects {
		summaries[p.ID] = strings.TrimSpace(p.Summary)
	}
	docsByID := make(map[string]types.Document, len(pending))
	for _, doc := range pending {
		docsByID[doc.ID] = doc
	}

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(d.config.MaxConcurrentImpact)
	for _, add := range additions {
		summary := summaries[add.ProjectID]
		if summary == "" {
			continue
		}
		for _, match := range add.Documents {
			md := docsByID[match.DocumentID]
			excerpt := md.Excerpt()
			if excerpt == "" {
				continue
			}
			projectID, documentID := add.ProjectID, match.DocumentID
			g.Go(func() error {
				callCtx, cancel := context.WithTimeout(ctx, d.config.ImpactTimeout)
				defer cancel()

				impact, err := d.classifier.ClassifyNarrativeImpact(callCtx, summary, excerpt)
				if err != nil {
					d.logger.Warn("narrative impact classification failed",
						"project_id", projectID, "document_id", documentID,
						"error", types.NewError(types.KindEnrichment, "classify narrative impact", err))
					return nil
				}
				if impact == nil || impact.Type == types.ImpactNone || !impact.Type.IsValid() {
					return nil
				}
				out := *impact
				out.ProjectID = projectID
				out.DocumentID = documentID
				if !out.Severity.IsValid() {
					out.Severity = types.SeverityLow
				}
				mu.Lock()
				impacts = append(impacts, out)
				mu.Unlock()
				return nil
			})
		}
	}
	_ = g.Wait()

	sort.Slice(impacts, func(i, j int) bool {
		if impacts[i].ProjectID != impacts[j].ProjectID {
			return impacts[i].ProjectID < impacts[j].ProjectID
		}
		return impacts[i].DocumentID < impacts[j].DocumentID
	})
	return impacts
}

func (d *Detector) similarityTier(sim float64) types.Tier {
	switch {
	case sim >= d.config.HighSimilarity:
		return types.TierHigh
	case sim >= d.config.MediumSimilarity:
		return types.TierMedium
	default:
		return types.TierLow
	}
}

// similarity compares a document's feature vector with a project centroid
// block by block: cosine over the semantic and team blocks and an
// exponential decay over the distance in years. A block that is empty on
// either side contributes nothing.
func (d *Detector) similarity(doc, centroid []float64) float64 {
	fc := d.extractor.Config()
	semStart := features.TemporalDims
	teamStart := semStart + fc.EmbeddingDim

	semantic := math.Max(0, cosineSimilarity(doc[semStart:teamStart], centroid[semStart:teamStart]))
	team := math.Max(0, cosineSimilarity(doc[teamStart:], centroid[teamStart:]))
	years := math.Abs(doc[0] - centroid[0])
	temporal := math.Exp(-years / d.config.TemporalScaleYears)

	sim := d.config.SemanticWeight*semantic + d.config.TeamWeight*team + d.config.TemporalWeight*temporal
	return math.Min(1, sim)
}

func mean(vectors [][]float64) []float64 {
	if len(vectors) == 0 {
		return nil
	}
	out := make([]float64, len(vectors[0]))
	for _, v := range vectors {
		for i, x := range v {
			out[i] += x
		}
	}
	for i := range out {
		out[i] /= float64(len(vectors))
	}
	return out
}

// cosineSimilarity returns 0 when either vector has zero norm
func cosineSimilarity(a, b []float64) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
