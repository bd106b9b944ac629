package changes

import (
	"fmt"
	"math"
	"time"

	"github.com/steveyegge/rdscout/internal/clustering"
	"github.com/steveyegge/rdscout/internal/features"
	"github.com/steveyegge/rdscout/internal/scoring"
)

// Config holds configuration for change detection
type Config struct {
	// AdditionThreshold is the minimum similarity between a new document
	// and a project centroid for the document to be proposed as an
	// addition to that project
	AdditionThreshold float64

	// SemanticWeight, TeamWeight and TemporalWeight weight the per-block
	// similarities that make up a document-to-centroid similarity. They
	// must sum to 1.
	SemanticWeight float64
	TeamWeight     float64
	TemporalWeight float64

	// TemporalScaleYears is the date distance at which temporal similarity
	// has decayed to 1/e
	TemporalScaleYears float64

	// HighSimilarity and MediumSimilarity tier proposed additions.
	// Matches below MediumSimilarity (but above AdditionThreshold) are low.
	HighSimilarity   float64
	MediumSimilarity float64

	// MaxConcurrentImpact caps concurrent narrative-impact classifications
	MaxConcurrentImpact int

	// ImpactTimeout bounds each narrative-impact classification call
	ImpactTimeout time.Duration

	// WaitForLock makes analysis block on a busy scope instead of failing
	WaitForLock bool
}

// DefaultConfig returns the default change-detection configuration
func DefaultConfig() Config {
	return Config{
		AdditionThreshold:   0.75,
		HighSimilarity:      0.9,
		MediumSimilarity:    0.82,
		SemanticWeight:      0.7,
		TeamWeight:          0.15,
		TemporalWeight:      0.15,
		TemporalScaleYears:  1.0,
		MaxConcurrentImpact: 4,
		ImpactTimeout:       30 * time.Second,
	}
}

// Validate checks if the configuration has valid values
func (c Config) Validate() error {
	if c.AdditionThreshold < 0.0 || c.AdditionThreshold > 1.0 {
		return fmt.Errorf("addition_threshold must be between 0.0 and 1.0 (got %.2f)", c.AdditionThreshold)
	}
	if c.HighSimilarity < 0.0 || c.HighSimilarity > 1.0 {
		return fmt.Errorf("high_similarity must be between 0.0 and 1.0 (got %.2f)", c.HighSimilarity)
	}
	if c.MediumSimilarity < 0.0 || c.MediumSimilarity > 1.0 {
		return fmt.Errorf("medium_similarity must be between 0.0 and 1.0 (got %.2f)", c.MediumSimilarity)
	}
	if c.MediumSimilarity > c.HighSimilarity {
		return fmt.Errorf("medium_similarity (%.2f) cannot exceed high_similarity (%.2f)",
			c.MediumSimilarity, c.HighSimilarity)
	}
	if c.AdditionThreshold > c.MediumSimilarity {
		return fmt.Errorf("addition_threshold (%.2f) cannot exceed medium_similarity (%.2f)",
			c.AdditionThreshold, c.MediumSimilarity)
	}
	for name, w := range map[string]float64{
		"semantic_weight": c.SemanticWeight,
		"team_weight":     c.TeamWeight,
		"temporal_weight": c.TemporalWeight,
	} {
		if w < 0.0 || w > 1.0 {
			return fmt.Errorf("%s must be between 0.0 and 1.0 (got %.2f)", name, w)
		}
	}
	if sum := c.SemanticWeight + c.TeamWeight + c.TemporalWeight; math.Abs(sum-1.0) > 1e-6 {
		return fmt.Errorf("similarity weights must sum to 1.0 (got %.2f)", sum)
	}
	if c.TemporalScaleYears <= 0 {
		return fmt.Errorf("temporal_scale_years must be positive (got %.2f)", c.TemporalScaleYears)
	}
	if c.MaxConcurrentImpact < 1 || c.MaxConcurrentImpact > 64 {
		return fmt.Errorf("max_concurrent_impact must be between 1 and 64 (got %d)", c.MaxConcurrentImpact)
	}
	if c.ImpactTimeout <= 0 {
		return fmt.Errorf("impact_timeout must be positive (got %v)", c.ImpactTimeout)
	}
	return nil
}

// PipelineConfig carries the extraction, clustering and scoring settings the
// detector shares with full discovery
type PipelineConfig struct {
	Features   features.Config
	Clustering clustering.Params
	Scoring    scoring.Config
}

// DefaultPipelineConfig returns the default shared pipeline settings
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		Features:   features.DefaultConfig(),
		Clustering: clustering.DefaultParams(),
		Scoring:    scoring.DefaultConfig(),
	}
}
