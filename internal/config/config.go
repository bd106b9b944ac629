// Package config loads process-level configuration: where the stores live,
// which upstream services to call, and how the HTTP server listens.
// Discovery tuning lives in the discovery package's YAML file instead.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds process configuration loaded from the environment
type Config struct {
	// ProjectRoot is where .rdscout/ (database, locks, discovery.yaml) lives
	ProjectRoot string

	// DBPath is the SQLite database holding runs, projects and, unless
	// PostgresURL is set, documents
	DBPath string

	// PostgresURL points at the document-processing pipeline's database.
	// Empty means documents are read from the SQLite store.
	PostgresURL string

	// LockDir holds cross-process scope lock files
	LockDir string

	// Anthropic
	AnthropicAPIKey string
	AnthropicModel  string
	SimpleModel     string

	// Ollama embedding fallback. Empty URL disables it.
	OllamaURL     string
	OllamaModel   string
	OllamaToken   string
	OllamaTimeout time.Duration

	// HTTP server
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Default returns the configuration used when nothing is set
func Default() Config {
	return Config{
		ProjectRoot:   ".",
		DBPath:        filepath.Join(".rdscout", "rdscout.db"),
		LockDir:       filepath.Join(".rdscout", "locks"),
		OllamaTimeout: 30 * time.Second,
		Port:          "3001",
		ReadTimeout:   30 * time.Second,
		WriteTimeout:  5 * time.Minute,
	}
}

// Load reads .env (if present) and then the environment.
// Variables already set in the environment win over .env entries.
//
// Environment variables:
//   - RDSCOUT_ROOT: project root holding .rdscout/ (default: .)
//   - RDSCOUT_DB: SQLite database path (default: <root>/.rdscout/rdscout.db)
//   - DATABASE_URL: PostgreSQL document store (default: unset, use SQLite)
//   - RDSCOUT_LOCK_DIR: lock file directory (default: <root>/.rdscout/locks)
//   - ANTHROPIC_API_KEY, RDSCOUT_MODEL_DEFAULT, RDSCOUT_MODEL_SIMPLE
//   - OLLAMA_BASE_URL, OLLAMA_EMBED_MODEL, OLLAMA_EMBED_TOKEN, OLLAMA_TIMEOUT_SECS
//   - PORT, RDSCOUT_READ_TIMEOUT_SECS, RDSCOUT_WRITE_TIMEOUT_SECS
//
// Returns an error if any variable has an invalid value.
func Load() (Config, error) {
	_ = godotenv.Load() // silently ignore if .env doesn't exist
	return FromEnv()
}

// LoadFile is like Load but reads the given env file, which must exist
func LoadFile(path string) (Config, error) {
	if err := godotenv.Load(path); err != nil {
		return Config{}, fmt.Errorf("loading %s: %w", path, err)
	}
	return FromEnv()
}

// FromEnv builds a Config from the current environment only
func FromEnv() (Config, error) {
	cfg := Default()

	parseEnvString("RDSCOUT_ROOT", &cfg.ProjectRoot)
	cfg.DBPath = filepath.Join(cfg.ProjectRoot, cfg.DBPath)
	cfg.LockDir = filepath.Join(cfg.ProjectRoot, cfg.LockDir)

	parseEnvString("RDSCOUT_DB", &cfg.DBPath)
	parseEnvString("DATABASE_URL", &cfg.PostgresURL)
	parseEnvString("RDSCOUT_LOCK_DIR", &cfg.LockDir)
	parseEnvString("ANTHROPIC_API_KEY", &cfg.AnthropicAPIKey)
	parseEnvString("RDSCOUT_MODEL_DEFAULT", &cfg.AnthropicModel)
	parseEnvString("RDSCOUT_MODEL_SIMPLE", &cfg.SimpleModel)
	parseEnvString("OLLAMA_BASE_URL", &cfg.OllamaURL)
	parseEnvString("OLLAMA_EMBED_MODEL", &cfg.OllamaModel)
	parseEnvString("OLLAMA_EMBED_TOKEN", &cfg.OllamaToken)
	parseEnvString("PORT", &cfg.Port)

	if err := parseEnvSeconds("OLLAMA_TIMEOUT_SECS", &cfg.OllamaTimeout); err != nil {
		return cfg, err
	}
	if err := parseEnvSeconds("RDSCOUT_READ_TIMEOUT_SECS", &cfg.ReadTimeout); err != nil {
		return cfg, err
	}
	if err := parseEnvSeconds("RDSCOUT_WRITE_TIMEOUT_SECS", &cfg.WriteTimeout); err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration from environment: %w", err)
	}
	return cfg, nil
}

// Validate checks if the configuration has valid values
func (c Config) Validate() error {
	if strings.TrimSpace(c.DBPath) == "" {
		return fmt.Errorf("db path is required")
	}
	if strings.TrimSpace(c.LockDir) == "" {
		return fmt.Errorf("lock dir is required")
	}
	if c.OllamaURL != "" {
		u, err := url.Parse(c.OllamaURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("ollama url must be an absolute URL (got %q)", c.OllamaURL)
		}
	}
	if c.OllamaTimeout <= 0 {
		return fmt.Errorf("ollama timeout must be positive (got %v)", c.OllamaTimeout)
	}
	port, err := strconv.Atoi(c.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535 (got %q)", c.Port)
	}
	if c.ReadTimeout <= 0 || c.WriteTimeout <= 0 {
		return fmt.Errorf("server timeouts must be positive (got read %v, write %v)", c.ReadTimeout, c.WriteTimeout)
	}
	return nil
}

// UsePostgres reports whether documents come from PostgreSQL
func (c Config) UsePostgres() bool {
	return c.PostgresURL != ""
}

// UseOllama reports whether the Ollama embedding fallback is configured
func (c Config) UseOllama() bool {
	return c.OllamaURL != ""
}

// HasAnthropic reports whether text generation is available
func (c Config) HasAnthropic() bool {
	return c.AnthropicAPIKey != ""
}

// String returns a human-readable representation of the config with
// secrets redacted
func (c Config) String() string {
	return fmt.Sprintf(
		"Config{DBPath: %s, Postgres: %t, LockDir: %s, Anthropic: %t, Ollama: %q, Port: %s}",
		c.DBPath, c.UsePostgres(), c.LockDir, c.HasAnthropic(), c.OllamaURL, c.Port,
	)
}

// parseEnvInt parses an int from an environment variable
func parseEnvInt(key string, dest *int) error {
	value := os.Getenv(key)
	if value == "" {
		return nil // Use default
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

// parseEnvSeconds parses a whole number of seconds from an environment variable
func parseEnvSeconds(key string, dest *time.Duration) error {
	var secs int
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	if err := parseEnvInt(key, &secs); err != nil {
		return err
	}
	*dest = time.Duration(secs) * time.Second
	return nil
}

// parseEnvString parses a string from an environment variable
func parseEnvString(key string, dest *string) {
	if value := os.Getenv(key); value != "" {
		*dest = value
	}
}
