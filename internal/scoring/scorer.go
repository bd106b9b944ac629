// Package scoring turns a cluster of documents into a ProjectCandidate:
// aggregated dates, team and signals, an eligibility score, a confidence
// score and tier, and an optional generated name and summary.
package scoring

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/steveyegge/rdscout/internal/types"
)

// TextGenerator produces short project names and summaries. Both calls may
// fail or time out; the scorer always has a fallback.
type TextGenerator interface {
	GenerateShortName(ctx context.Context, titles []string) (string, error)
	GenerateSummary(ctx context.Context, excerpts []string) (string, error)
}

// Scorer scores clusters. It holds no per-run state and is safe for
// concurrent use.
type Scorer struct {
	generator TextGenerator
	config    Config
	logger    *slog.Logger
}

// NewScorer creates a scorer. generator may be nil, in which case names come
// from hints or the placeholder and summaries are empty.
func NewScorer(generator TextGenerator, config Config, logger *slog.Logger) (*Scorer, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scorer{generator: generator, config: config, logger: logger}, nil
}

// Config returns the scorer's configuration
func (s *Scorer) Config() Config {
	return s.config
}

// Score builds a candidate from the member documents of one cluster.
// Enrichment failures never fail scoring.
func (s *Scorer) Score(ctx context.Context, docs []types.Document) (types.ProjectCandidate, error) {
	if len(docs) == 0 {
		return types.ProjectCandidate{}, types.NewError(types.KindInvalidInput, "score cluster",
			fmt.Errorf("cluster has no documents"))
	}

	c := types.ProjectCandidate{
		DocumentIDs: make([]string, len(docs)),
	}

	var teamNames, hints []string
	for i, doc := range docs {
		c.DocumentIDs[i] = doc.ID

		d := doc.EffectiveDate()
		if i == 0 || d.Before(c.StartDate) {
			c.StartDate = d
		}
		if i == 0 || d.After(c.EndDate) {
			c.EndDate = d
		}

		c.Signals = c.Signals.Add(doc.Signals)
		teamNames = append(teamNames, doc.TeamMembers...)
		hints = append(hints, doc.ProjectHints...)
	}

	team := RankByFrequency(teamNames)
	c.TeamMembers = team
	if len(c.TeamMembers) > s.config.TopTeamMembers {
		c.TeamMembers = c.TeamMembers[:s.config.TopTeamMembers]
	}

	c.EligibilityScore = Eligibility(c.Signals, len(docs), s.config)
	c.Confidence = Confidence(len(docs), c.SpanDays(), len(team), c.EligibilityScore, s.config)
	c.Tier = TierFor(c.Confidence, s.config.Thresholds)

	var hint string
	if ranked := RankByFrequency(hints); len(ranked) > 0 {
		hint = ranked[0]
	}
	c.Name, c.NameSource, c.Summary = s.enrich(ctx, docs, hint)

	return c, nil
}

// enrich resolves the name and summary. The generator calls run
// concurrently, each under its own timeout.
func (s *Scorer) enrich(ctx context.Context, docs []types.Document, hint string) (string, types.NameSource, string) {
	name, source := hint, types.NameFromHint
	var summary string

	if s.generator != nil {
		titles, excerpts := s.enrichmentInputs(docs)

		var wg sync.WaitGroup
		if hint == "" && len(titles) > 0 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				callCtx, cancel := context.WithTimeout(ctx, s.config.EnrichmentTimeout)
				defer cancel()
				generated, err := s.generator.GenerateShortName(callCtx, titles)
				if err != nil {
					s.logEnrichmentFailure("generate short name", docs[0].ID, err)
					return
				}
				if generated = strings.TrimSpace(generated); generated != "" {
					name, source = generated, types.NameFromGenerator
				}
			}()
		}
		if len(excerpts) > 0 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				callCtx, cancel := context.WithTimeout(ctx, s.config.EnrichmentTimeout)
				defer cancel()
				generated, err := s.generator.GenerateSummary(callCtx, excerpts)
				if err != nil {
					s.logEnrichmentFailure("generate summary", docs[0].ID, err)
					return
				}
				summary = strings.TrimSpace(generated)
			}()
		}
		wg.Wait()
	}

	if name == "" {
		name, source = PlaceholderName(docs[0].ID), types.NameFromPlaceholder
	}
	return name, source, summary
}

func (s *Scorer) enrichmentInputs(docs []types.Document) (titles, excerpts []string) {
	for _, doc := range docs {
		if t := strings.TrimSpace(doc.Title); t != "" && len(titles) < s.config.MaxEnrichmentDocs {
			titles = append(titles, t)
		}
		if e := doc.Excerpt(); e != "" && len(excerpts) < s.config.MaxEnrichmentDocs {
			excerpts = append(excerpts, e)
		}
	}
	return titles, excerpts
}

func (s *Scorer) logEnrichmentFailure(op, firstDocID string, err error) {
	s.logger.Warn("enrichment failed, using fallback",
		"first_document_id", firstDocID,
		"error", types.NewError(types.KindEnrichment, op, err))
}

// PlaceholderName is the deterministic name used when neither a hint nor a
// generated name is available
func PlaceholderName(firstDocumentID string) string {
	return "Project " + firstDocumentID
}

// Eligibility computes the weighted signal density of a cluster, applying
// the floor penalty when uncertainty or systematic evidence is thin.
func Eligibility(signals types.SignalCounts, docCount int, cfg Config) float64 {
	if docCount <= 0 {
		return 0
	}
	weighted := cfg.Weights.Uncertainty*float64(signals.Uncertainty) +
		cfg.Weights.Failure*float64(signals.Failure) +
		cfg.Weights.Advancement*float64(signals.Advancement) +
		cfg.Weights.Systematic*float64(signals.Systematic)

	score := weighted / (float64(docCount) * cfg.ExpectedSignalsPerDoc)
	if signals.Uncertainty < cfg.MinUncertaintySignals || signals.Systematic < cfg.MinSystematicSignals {
		score *= cfg.FloorPenalty
	}
	return clamp01(score)
}

// Confidence combines cluster size, temporal span, team breadth and
// eligibility into a single score in [0,1].
func Confidence(docCount int, spanDays float64, distinctTeam int, eligibility float64, cfg Config) float64 {
	size := 1.0 / (1.0 + math.Exp(-(float64(docCount)-cfg.TypicalProjectSize)/2.0))
	span := spanScore(spanDays)
	team := math.Min(float64(distinctTeam)/5.0, 1.0)

	return clamp01(0.35*size + 0.25*span + 0.20*team + 0.20*clamp01(eligibility))
}

// spanScore favours projects spanning one month to one year
func spanScore(days float64) float64 {
	switch {
	case days < 0:
		return 0.4
	case days < 30:
		return 0.4 + 0.6*days/30
	case days <= 365:
		return 1.0
	default:
		return 0.3 + 0.7*math.Exp(-(days-365)/365)
	}
}

func clamp01(x float64) float64 {
	if math.IsNaN(x) || x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

// TierFor maps a confidence score to a tier
func TierFor(confidence float64, t Thresholds) types.Tier {
	switch {
	case confidence >= t.High:
		return types.TierHigh
	case confidence >= t.Medium:
		return types.TierMedium
	default:
		return types.TierLow
	}
}

// Bucket splits candidates by tier. Each bucket is sorted by eligibility
// descending, then name, then first document ID.
func Bucket(candidates []types.ProjectCandidate) (high, medium, low []types.ProjectCandidate) {
	high, medium, low = []types.ProjectCandidate{}, []types.ProjectCandidate{}, []types.ProjectCandidate{}
	for _, c := range candidates {
		switch c.Tier {
		case types.TierHigh:
			high = append(high, c)
		case types.TierMedium:
			medium = append(medium, c)
		default:
			low = append(low, c)
		}
	}
	SortCandidates(high)
	SortCandidates(medium)
	SortCandidates(low)
	return high, medium, low
}

// SortCandidates orders candidates by eligibility descending with stable
// tie-breaks on name and first document ID
func SortCandidates(cs []types.ProjectCandidate) {
	sort.SliceStable(cs, func(i, j int) bool {
		if cs[i].EligibilityScore != cs[j].EligibilityScore {
			return cs[i].EligibilityScore > cs[j].EligibilityScore
		}
		if cs[i].Name != cs[j].Name {
			return cs[i].Name < cs[j].Name
		}
		return firstID(cs[i]) < firstID(cs[j])
	})
}

func firstID(c types.ProjectCandidate) string {
	if len(c.DocumentIDs) == 0 {
		return ""
	}
	return c.DocumentIDs[0]
}

// RankByFrequency counts values case-insensitively after trimming and
// returns them most frequent first, ties alphabetical. The first spelling
// seen is the one returned.
func RankByFrequency(values []string) []string {
	counts := make(map[string]int)
	display := make(map[string]string)
	for _, v := range values {
		v = strings.Join(strings.Fields(v), " ")
		if v == "" {
			continue
		}
		key := strings.ToLower(v)
		if _, ok := display[key]; !ok {
			display[key] = v
		}
		counts[key]++
	}

	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})

	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = display[k]
	}
	return out
}

// CapConfidence lowers a candidate's confidence to limit and re-tiers it
func CapConfidence(c *types.ProjectCandidate, limit float64, t Thresholds) {
	if c.Confidence > limit {
		c.Confidence = limit
	}
	c.Tier = TierFor(c.Confidence, t)
}

