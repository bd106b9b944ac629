package scoring

import (
	"fmt"
	"time"
)

// SignalWeights weights each eligibility signal category
type SignalWeights struct {
	Uncertainty float64 `yaml:"uncertainty" json:"uncertainty"`
	Failure     float64 `yaml:"failure" json:"failure"`
	Advancement float64 `yaml:"advancement" json:"advancement"`
	Systematic  float64 `yaml:"systematic" json:"systematic"`
}

// Thresholds are the confidence cut-offs between tiers
type Thresholds struct {
	High   float64 `yaml:"high" json:"high"`
	Medium float64 `yaml:"medium" json:"medium"`
}

// Validate checks that both thresholds are in [0,1] and ordered
func (t Thresholds) Validate() error {
	if t.High < 0.0 || t.High > 1.0 {
		return fmt.Errorf("high threshold must be between 0.0 and 1.0 (got %.2f)", t.High)
	}
	if t.Medium < 0.0 || t.Medium > 1.0 {
		return fmt.Errorf("medium threshold must be between 0.0 and 1.0 (got %.2f)", t.Medium)
	}
	if t.Medium > t.High {
		return fmt.Errorf("medium threshold (%.2f) cannot exceed high threshold (%.2f)", t.Medium, t.High)
	}
	return nil
}

// Config holds configuration for cluster scoring
type Config struct {
	Weights SignalWeights `yaml:"weights" json:"weights"`

	// ExpectedSignalsPerDoc normalizes the weighted signal sum so that a
	// cluster averaging this many signals per document scores 1.0
	ExpectedSignalsPerDoc float64 `yaml:"expected_signals_per_doc" json:"expected_signals_per_doc"`

	// Floor thresholds: a cluster below either one has its eligibility
	// multiplied by FloorPenalty
	MinUncertaintySignals int     `yaml:"min_uncertainty_signals" json:"min_uncertainty_signals"`
	MinSystematicSignals  int     `yaml:"min_systematic_signals" json:"min_systematic_signals"`
	FloorPenalty          float64 `yaml:"floor_penalty" json:"floor_penalty"`

	// TypicalProjectSize is the member count at which the size component
	// of confidence reaches 0.5
	TypicalProjectSize float64 `yaml:"typical_project_size" json:"typical_project_size"`

	// TopTeamMembers caps the team list kept on a candidate
	TopTeamMembers int `yaml:"top_team_members" json:"top_team_members"`

	// MaxEnrichmentDocs caps how many titles/excerpts go to the text generator
	MaxEnrichmentDocs int `yaml:"max_enrichment_docs" json:"max_enrichment_docs"`

	// EnrichmentTimeout bounds each naming or summarization call
	EnrichmentTimeout time.Duration `yaml:"enrichment_timeout" json:"enrichment_timeout"`

	Thresholds Thresholds `yaml:"thresholds" json:"thresholds"`
}

// DefaultConfig returns the default scoring configuration
func DefaultConfig() Config {
	return Config{
		Weights: SignalWeights{
			Uncertainty: 1.0,
			Failure:     0.9,
			Advancement: 0.7,
			Systematic:  0.5,
		},
		ExpectedSignalsPerDoc: 5,
		MinUncertaintySignals: 3,
		MinSystematicSignals:  5,
		FloorPenalty:          0.5,
		TypicalProjectSize:    8,
		TopTeamMembers:        10,
		MaxEnrichmentDocs:     5,
		EnrichmentTimeout:     30 * time.Second,
		Thresholds: Thresholds{
			High:   0.7,
			Medium: 0.4,
		},
	}
}

// Validate checks if the configuration has valid values
func (c Config) Validate() error {
	weights := []struct {
		name  string
		value float64
	}{
		{"uncertainty", c.Weights.Uncertainty},
		{"failure", c.Weights.Failure},
		{"advancement", c.Weights.Advancement},
		{"systematic", c.Weights.Systematic},
	}
	for _, w := range weights {
		if w.value < 0.0 || w.value > 10.0 {
			return fmt.Errorf("%s weight must be between 0.0 and 10.0 (got %.2f)", w.name, w.value)
		}
	}
	if c.ExpectedSignalsPerDoc <= 0 {
		return fmt.Errorf("expected_signals_per_doc must be positive (got %.2f)", c.ExpectedSignalsPerDoc)
	}
	if c.MinUncertaintySignals < 0 {
		return fmt.Errorf("min_uncertainty_signals cannot be negative (got %d)", c.MinUncertaintySignals)
	}
	if c.MinSystematicSignals < 0 {
		return fmt.Errorf("min_systematic_signals cannot be negative (got %d)", c.MinSystematicSignals)
	}
	if c.FloorPenalty < 0.0 || c.FloorPenalty > 1.0 {
		return fmt.Errorf("floor_penalty must be between 0.0 and 1.0 (got %.2f)", c.FloorPenalty)
	}
	if c.TypicalProjectSize <= 0 {
		return fmt.Errorf("typical_project_size must be positive (got %.2f)", c.TypicalProjectSize)
	}
	if c.TopTeamMembers < 1 || c.TopTeamMembers > 100 {
		return fmt.Errorf("top_team_members must be between 1 and 100 (got %d)", c.TopTeamMembers)
	}
	if c.MaxEnrichmentDocs < 1 || c.MaxEnrichmentDocs > 50 {
		return fmt.Errorf("max_enrichment_docs must be between 1 and 50 (got %d)", c.MaxEnrichmentDocs)
	}
	if c.EnrichmentTimeout <= 0 {
		return fmt.Errorf("enrichment_timeout must be positive (got %v)", c.EnrichmentTimeout)
	}
	if c.EnrichmentTimeout > 10*time.Minute {
		return fmt.Errorf("enrichment_timeout too large (got %v, max 10m)", c.EnrichmentTimeout)
	}
	if err := c.Thresholds.Validate(); err != nil {
		return err
	}
	return nil
}
