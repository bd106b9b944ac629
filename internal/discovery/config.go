package discovery

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/steveyegge/rdscout/internal/changes"
	"github.com/steveyegge/rdscout/internal/clustering"
	"github.com/steveyegge/rdscout/internal/features"
	"github.com/steveyegge/rdscout/internal/scoring"
)

// Config holds configuration for discovery runs
type Config struct {
	Features   features.Config
	Clustering clustering.Params
	Scoring    scoring.Config

	// MinDocuments is the corpus size below which clustering is skipped and
	// the whole corpus is scored as one low-confidence candidate
	MinDocuments int

	// SmallCorpusConfidenceCap bounds the confidence of that single
	// candidate. Must stay below the high-tier threshold.
	SmallCorpusConfidenceCap float64

	// MaxConcurrentScoring caps how many clusters are scored at once
	MaxConcurrentScoring int

	// WaitForLock makes a run block until a concurrent run on the same
	// scope finishes, instead of failing with types.ErrScopeBusy
	WaitForLock bool

	// DryRun computes candidates without recording the run or persisting
	// anything
	DryRun bool
}

// DefaultConfig returns the default discovery configuration
func DefaultConfig() *Config {
	return &Config{
		Features:                 features.DefaultConfig(),
		Clustering:               clustering.DefaultParams(),
		Scoring:                  scoring.DefaultConfig(),
		MinDocuments:             5,
		SmallCorpusConfidenceCap: 0.6,
		MaxConcurrentScoring:     4,
	}
}

// Validate checks if the configuration has valid values.
// Out-of-range values are rejected, never clamped.
func (c *Config) Validate() error {
	if err := c.Features.Validate(); err != nil {
		return fmt.Errorf("features: %w", err)
	}
	if err := c.Clustering.Validate(); err != nil {
		return fmt.Errorf("clustering: %w", err)
	}
	if err := c.Scoring.Validate(); err != nil {
		return fmt.Errorf("scoring: %w", err)
	}
	if c.MinDocuments < 1 || c.MinDocuments > 10000 {
		return fmt.Errorf("min_documents must be between 1 and 10000 (got %d)", c.MinDocuments)
	}
	if c.SmallCorpusConfidenceCap < 0.0 || c.SmallCorpusConfidenceCap > 1.0 {
		return fmt.Errorf("small_corpus_confidence_cap must be between 0.0 and 1.0 (got %.2f)", c.SmallCorpusConfidenceCap)
	}
	if c.SmallCorpusConfidenceCap >= c.Scoring.Thresholds.High {
		return fmt.Errorf("small_corpus_confidence_cap (%.2f) must be below the high threshold (%.2f)",
			c.SmallCorpusConfidenceCap, c.Scoring.Thresholds.High)
	}
	if c.MaxConcurrentScoring < 1 || c.MaxConcurrentScoring > 64 {
		return fmt.Errorf("max_concurrent_scoring must be between 1 and 64 (got %d)", c.MaxConcurrentScoring)
	}
	return nil
}

// ConfigFromEnv applies RDSCOUT_* environment overrides on top of base.
// Unset variables keep the base value.
func ConfigFromEnv(base *Config) (*Config, error) {
	if base == nil {
		base = DefaultConfig()
	}
	cfg := *base

	if err := parseEnvInt("RDSCOUT_MIN_DOCUMENTS", &cfg.MinDocuments); err != nil {
		return nil, err
	}
	if err := parseEnvFloat("RDSCOUT_SMALL_CORPUS_CONFIDENCE_CAP", &cfg.SmallCorpusConfidenceCap); err != nil {
		return nil, err
	}
	if err := parseEnvInt("RDSCOUT_MAX_CONCURRENT_SCORING", &cfg.MaxConcurrentScoring); err != nil {
		return nil, err
	}
	if err := parseEnvBool("RDSCOUT_WAIT_FOR_LOCK", &cfg.WaitForLock); err != nil {
		return nil, err
	}
	if err := parseEnvInt("RDSCOUT_MIN_CLUSTER_SIZE", &cfg.Clustering.MinClusterSize); err != nil {
		return nil, err
	}
	if err := parseEnvInt("RDSCOUT_MIN_SAMPLES", &cfg.Clustering.MinSamples); err != nil {
		return nil, err
	}
	if err := parseEnvBool("RDSCOUT_ALLOW_SINGLE_CLUSTER", &cfg.Clustering.AllowSingleCluster); err != nil {
		return nil, err
	}
	if err := parseEnvInt("RDSCOUT_EMBEDDING_DIM", &cfg.Features.EmbeddingDim); err != nil {
		return nil, err
	}
	if err := parseEnvInt("RDSCOUT_MAX_CHUNKS", &cfg.Features.MaxChunks); err != nil {
		return nil, err
	}
	if err := parseEnvFloat("RDSCOUT_HIGH_THRESHOLD", &cfg.Scoring.Thresholds.High); err != nil {
		return nil, err
	}
	if err := parseEnvFloat("RDSCOUT_MEDIUM_THRESHOLD", &cfg.Scoring.Thresholds.Medium); err != nil {
		return nil, err
	}
	if err := parseEnvInt("RDSCOUT_MIN_UNCERTAINTY_SIGNALS", &cfg.Scoring.MinUncertaintySignals); err != nil {
		return nil, err
	}
	if err := parseEnvInt("RDSCOUT_MIN_SYSTEMATIC_SIGNALS", &cfg.Scoring.MinSystematicSignals); err != nil {
		return nil, err
	}
	if err := parseEnvDuration("RDSCOUT_ENRICHMENT_TIMEOUT_SECS", &cfg.Scoring.EnrichmentTimeout, time.Second); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration from environment: %w", err)
	}
	return &cfg, nil
}

// parseEnvFloat parses a float64 from an environment variable
func parseEnvFloat(key string, dest *float64) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

// parseEnvInt parses an int from an environment variable
func parseEnvInt(key string, dest *int) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

// parseEnvBool parses a bool from an environment variable
func parseEnvBool(key string, dest *bool) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

// parseEnvDuration parses an integer count of multiplier units
func parseEnvDuration(key string, dest *time.Duration, multiplier time.Duration) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = time.Duration(parsed) * multiplier
	return nil
}

// ConfigFile represents the structure of .rdscout/discovery.yaml.
// Zero values mean "keep the default"; pointers are used where zero is a
// legitimate setting.
type ConfigFile struct {
	MinDocuments             int     `yaml:"min_documents,omitempty"`
	SmallCorpusConfidenceCap float64 `yaml:"small_corpus_confidence_cap,omitempty"`
	MaxConcurrentScoring     int     `yaml:"max_concurrent_scoring,omitempty"`
	WaitForLock              bool    `yaml:"wait_for_lock"`

	Clustering ClusteringSection `yaml:"clustering"`
	Features   FeaturesSection   `yaml:"features"`
	Scoring    ScoringSection    `yaml:"scoring"`
	Changes    ChangesSection    `yaml:"changes"`
}

// ClusteringSection is the clustering block of the config file
type ClusteringSection struct {
	MinClusterSize     int   `yaml:"min_cluster_size,omitempty"`
	MinSamples         int   `yaml:"min_samples,omitempty"`
	AllowSingleCluster *bool   `yaml:"allow_single_cluster,omitempty"`
	OutlierThreshold   float64 `yaml:"outlier_threshold,omitempty"`
}

// FeaturesSection is the features block of the config file
type FeaturesSection struct {
	EmbeddingDim int `yaml:"embedding_dim,omitempty"`
	MaxChunks    int `yaml:"max_chunks,omitempty"`
	TeamBuckets  int `yaml:"team_buckets,omitempty"`
}

// ScoringSection is the scoring block of the config file
type ScoringSection struct {
	Weights               *scoring.SignalWeights `yaml:"weights,omitempty"`
	ExpectedSignalsPerDoc float64                `yaml:"expected_signals_per_doc,omitempty"`
	MinUncertaintySignals *int                   `yaml:"min_uncertainty_signals,omitempty"`
	MinSystematicSignals  *int                   `yaml:"min_systematic_signals,omitempty"`
	FloorPenalty          *float64               `yaml:"floor_penalty,omitempty"`
	EnrichmentTimeout     string                 `yaml:"enrichment_timeout,omitempty"` // Duration string like "30s"
	HighThreshold         float64                `yaml:"high_threshold,omitempty"`
	MediumThreshold       float64                `yaml:"medium_threshold,omitempty"`
}

// ChangesSection is the change-detection block of the config file
type ChangesSection struct {
	AdditionThreshold float64 `yaml:"addition_threshold,omitempty"`
	HighSimilarity    float64 `yaml:"high_similarity,omitempty"`
	MediumSimilarity  float64 `yaml:"medium_similarity,omitempty"`
	ImpactTimeout     string  `yaml:"impact_timeout,omitempty"`
}

// ConfigPath returns the config file location under projectRoot
func ConfigPath(projectRoot string) string {
	return filepath.Join(projectRoot, ".rdscout", "discovery.yaml")
}

// LoadConfigFile loads .rdscout/discovery.yaml. A missing file yields an
// empty ConfigFile, which converts to the defaults.
func LoadConfigFile(projectRoot string) (*ConfigFile, error) {
	configPath := ConfigPath(projectRoot)

	data, err := os.ReadFile(configPath)
	if os.IsNotExist(err) {
		return &ConfigFile{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var configFile ConfigFile
	if err := yaml.Unmarshal(data, &configFile); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return &configFile, nil
}

// ToConfig converts the file to a validated discovery Config
func (cf *ConfigFile) ToConfig() (*Config, error) {
	config := DefaultConfig()

	if cf.MinDocuments > 0 {
		config.MinDocuments = cf.MinDocuments
	}
	if cf.SmallCorpusConfidenceCap > 0 {
		config.SmallCorpusConfidenceCap = cf.SmallCorpusConfidenceCap
	}
	if cf.MaxConcurrentScoring > 0 {
		config.MaxConcurrentScoring = cf.MaxConcurrentScoring
	}
	config.WaitForLock = cf.WaitForLock

	// Clustering
	if cf.Clustering.MinClusterSize > 0 {
		config.Clustering.MinClusterSize = cf.Clustering.MinClusterSize
	}
	if cf.Clustering.MinSamples > 0 {
		config.Clustering.MinSamples = cf.Clustering.MinSamples
	}
	if cf.Clustering.AllowSingleCluster != nil {
		config.Clustering.AllowSingleCluster = *cf.Clustering.AllowSingleCluster
	}
	if cf.Clustering.OutlierThreshold > 0 {
		config.Clustering.OutlierThreshold = cf.Clustering.OutlierThreshold
	}

	// Features
	if cf.Features.EmbeddingDim > 0 {
		config.Features.EmbeddingDim = cf.Features.EmbeddingDim
	}
	if cf.Features.MaxChunks > 0 {
		config.Features.MaxChunks = cf.Features.MaxChunks
	}
	if cf.Features.TeamBuckets > 0 {
		config.Features.TeamBuckets = cf.Features.TeamBuckets
	}

	// Scoring
	s := cf.Scoring
	if s.Weights != nil {
		config.Scoring.Weights = *s.Weights
	}
	if s.ExpectedSignalsPerDoc > 0 {
		config.Scoring.ExpectedSignalsPerDoc = s.ExpectedSignalsPerDoc
	}
	if s.MinUncertaintySignals != nil {
		config.Scoring.MinUncertaintySignals = *s.MinUncertaintySignals
	}
	if s.MinSystematicSignals != nil {
		config.Scoring.MinSystematicSignals = *s.MinSystematicSignals
	}
	if s.FloorPenalty != nil {
		config.Scoring.FloorPenalty = *s.FloorPenalty
	}
	if s.EnrichmentTimeout != "" {
		d, err := parseDuration(s.EnrichmentTimeout)
		if err != nil {
			return nil, fmt.Errorf("invalid enrichment_timeout: %w", err)
		}
		config.Scoring.EnrichmentTimeout = d
	}
	if s.HighThreshold > 0 {
		config.Scoring.Thresholds.High = s.HighThreshold
	}
	if s.MediumThreshold > 0 {
		config.Scoring.Thresholds.Medium = s.MediumThreshold
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid discovery config: %w", err)
	}
	return config, nil
}

// ToChangesConfig converts the changes block to a validated changes.Config
func (cf *ConfigFile) ToChangesConfig() (changes.Config, error) {
	config := changes.DefaultConfig()
	c := cf.Changes

	if c.AdditionThreshold > 0 {
		config.AdditionThreshold = c.AdditionThreshold
	}
	if c.HighSimilarity > 0 {
		config.HighSimilarity = c.HighSimilarity
	}
	if c.MediumSimilarity > 0 {
		config.MediumSimilarity = c.MediumSimilarity
	}
	if c.ImpactTimeout != "" {
		d, err := parseDuration(c.ImpactTimeout)
		if err != nil {
			return config, fmt.Errorf("invalid impact_timeout: %w", err)
		}
		config.ImpactTimeout = d
	}
	config.WaitForLock = cf.WaitForLock

	if err := config.Validate(); err != nil {
		return config, fmt.Errorf("invalid changes config: %w", err)
	}
	return config, nil
}

// SaveConfigFile writes a Config (and the change-detection settings) to
// .rdscout/discovery.yaml
func SaveConfigFile(projectRoot string, config *Config, changesConfig changes.Config) error {
	configPath := ConfigPath(projectRoot)

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating .rdscout directory: %w", err)
	}

	allowSingle := config.Clustering.AllowSingleCluster
	minUncertainty := config.Scoring.MinUncertaintySignals
	minSystematic := config.Scoring.MinSystematicSignals
	floorPenalty := config.Scoring.FloorPenalty
	weights := config.Scoring.Weights

	configFile := ConfigFile{
		MinDocuments:             config.MinDocuments,
		SmallCorpusConfidenceCap: config.SmallCorpusConfidenceCap,
		MaxConcurrentScoring:     config.MaxConcurrentScoring,
		WaitForLock:              config.WaitForLock,
		Clustering: ClusteringSection{
			MinClusterSize:     config.Clustering.MinClusterSize,
			MinSamples:         config.Clustering.MinSamples,
			AllowSingleCluster: &allowSingle,
			OutlierThreshold:   config.Clustering.OutlierThreshold,
		},
		Features: FeaturesSection{
			EmbeddingDim: config.Features.EmbeddingDim,
			MaxChunks:    config.Features.MaxChunks,
			TeamBuckets:  config.Features.TeamBuckets,
		},
		Scoring: ScoringSection{
			Weights:               &weights,
			ExpectedSignalsPerDoc: config.Scoring.ExpectedSignalsPerDoc,
			MinUncertaintySignals: &minUncertainty,
			MinSystematicSignals:  &minSystematic,
			FloorPenalty:          &floorPenalty,
			EnrichmentTimeout:     config.Scoring.EnrichmentTimeout.String(),
			HighThreshold:         config.Scoring.Thresholds.High,
			MediumThreshold:       config.Scoring.Thresholds.Medium,
		},
		Changes: ChangesSection{
			AdditionThreshold: changesConfig.AdditionThreshold,
			HighSimilarity:    changesConfig.HighSimilarity,
			MediumSimilarity:  changesConfig.MediumSimilarity,
			ImpactTimeout:     changesConfig.ImpactTimeout.String(),
		},
	}

	data, err := yaml.Marshal(&configFile)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// ExampleConfigFile returns an example configuration file content.
func ExampleConfigFile() string {
	return `# rdscout discovery configuration

# Corpora smaller than this are scored as a single candidate
min_documents: 5
small_corpus_confidence_cap: 0.6
max_concurrent_scoring: 4

# Block instead of failing when another run holds the scope
wait_for_lock: false

clustering:
  min_cluster_size: 3
  allow_single_cluster: true
  # When the whole corpus is one cluster, points with an outlier score
  # above this are left unassigned
  outlier_threshold: 0.9

features:
  embedding_dim: 768
  max_chunks: 5
  team_buckets: 10

scoring:
  expected_signals_per_doc: 5
  min_uncertainty_signals: 3
  min_systematic_signals: 5
  floor_penalty: 0.5
  enrichment_timeout: 30s
  high_threshold: 0.7
  medium_threshold: 0.4

changes:
  addition_threshold: 0.75
  high_similarity: 0.9
  medium_similarity: 0.82
  impact_timeout: 30s
`
}

// parseDuration parses duration strings like "30s", "5m", "1d"
func parseDuration(s string) (time.Duration, error) {
	if len(s) > 1 && s[len(s)-1] == 'd' {
		var d int
		if _, err := fmt.Sscanf(s[:len(s)-1], "%d", &d); err != nil {
			return 0, fmt.Errorf("invalid duration: %s", s)
		}
		return time.Duration(d) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

// Pipeline returns the extraction, clustering and scoring settings change
// detection shares with full discovery
func (c *Config) Pipeline() changes.PipelineConfig {
	return changes.PipelineConfig{
		Features:   c.Features,
		Clustering: c.Clustering,
		Scoring:    c.Scoring,
	}
}
