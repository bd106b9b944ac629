package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/steveyegge/rdscout/internal/ai"
	"github.com/steveyegge/rdscout/internal/changes"
	"github.com/steveyegge/rdscout/internal/config"
	"github.com/steveyegge/rdscout/internal/discovery"
	"github.com/steveyegge/rdscout/internal/embedding"
	"github.com/steveyegge/rdscout/internal/storage"
	"github.com/steveyegge/rdscout/internal/storage/postgres"
	"github.com/steveyegge/rdscout/internal/storage/sqlite"
)

// app holds the wired collaborators shared by every command
type app struct {
	cfg       config.Config
	discovery *discovery.Config
	changes   changes.Config

	store      *sqlite.Store
	docs       storage.DocumentStore
	projects   storage.ProjectReader
	embeddings storage.EmbeddingStore
	supervisor *ai.Supervisor // nil when no API key is configured
	locker     storage.Locker
	logger     *slog.Logger

	closers []func() error
}

// openApp loads configuration and opens every store. Callers must Close it.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := loadProcessConfig()
	if err != nil {
		return nil, err
	}
	logger := slog.Default()

	cf, err := discovery.LoadConfigFile(cfg.ProjectRoot)
	if err != nil {
		return nil, err
	}
	base, err := cf.ToConfig()
	if err != nil {
		return nil, err
	}
	discoveryCfg, err := discovery.ConfigFromEnv(base)
	if err != nil {
		return nil, err
	}
	changesCfg, err := cf.ToChangesConfig()
	if err != nil {
		return nil, err
	}
	changesCfg.WaitForLock = discoveryCfg.WaitForLock

	a := &app{
		cfg:       cfg,
		discovery: discoveryCfg,
		changes:   changesCfg,
		logger:    logger,
	}

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	a.store = store
	a.closers = append(a.closers, store.Close)

	var chunks storage.ChunkEmbeddingSource = store
	a.docs = store
	a.projects = store
	if cfg.UsePostgres() {
		pg, err := postgres.New(ctx, postgres.DefaultConfig(cfg.PostgresURL))
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to connect to document database: %w", err)
		}
		a.closers = append(a.closers, pg.Close)
		a.docs = pg
		a.projects = storage.ProjectView{Projects: store, Documents: pg}
		chunks = pg
	}

	// A nil embedder must stay a nil interface, not a typed nil pointer
	var embedder storage.TextEmbedder
	if cfg.UseOllama() {
		ollamaCfg := embedding.DefaultOllamaConfig()
		ollamaCfg.BaseURL = cfg.OllamaURL
		ollamaCfg.Token = cfg.OllamaToken
		ollamaCfg.Timeout = cfg.OllamaTimeout
		if cfg.OllamaModel != "" {
			ollamaCfg.Model = cfg.OllamaModel
		}
		ollama, err := embedding.NewOllama(ollamaCfg)
		if err != nil {
			a.Close()
			return nil, err
		}
		embedder = ollama
	}
	a.embeddings = embedding.NewStore(chunks, embedder)

	if cfg.HasAnthropic() {
		supervisor, err := ai.NewSupervisor(&ai.Config{
			APIKey:      cfg.AnthropicAPIKey,
			Model:       cfg.AnthropicModel,
			SimpleModel: cfg.SimpleModel,
			Logger:      logger,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("creating AI supervisor: %w", err)
		}
		a.supervisor = supervisor
	} else {
		logger.Warn("ANTHROPIC_API_KEY not set; names and summaries use fallbacks")
	}

	hostname, _ := os.Hostname()
	locker, err := storage.NewFileLocker(cfg.LockDir, hostname)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.locker = locker

	return a, nil
}

func loadProcessConfig() (config.Config, error) {
	if envFile != "" {
		return config.LoadFile(envFile)
	}
	return config.Load()
}

// Close releases every opened store, newest first
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
}

// orchestrator builds a discovery orchestrator over the app's stores
func (a *app) orchestrator(dryRun bool) (*discovery.Orchestrator, error) {
	cfg := *a.discovery
	cfg.DryRun = dryRun

	deps := discovery.Deps{
		Documents:  a.docs,
		Embeddings: a.embeddings,
		Sink:       a.store,
		Locker:     a.locker,
		Logger:     a.logger,
	}
	if a.supervisor != nil {
		deps.Generator = a.supervisor
	}
	return discovery.NewOrchestrator(deps, &cfg)
}

// detector builds a change detector sharing discovery's pipeline settings
func (a *app) detector() (*changes.Detector, error) {
	deps := changes.Deps{
		Documents:  a.docs,
		Embeddings: a.embeddings,
		Locker:     a.locker,
		Logger:     a.logger,
	}
	if a.supervisor != nil {
		deps.Generator = a.supervisor
		deps.Classifier = a.supervisor
	}
	return changes.NewDetector(deps, a.changes, a.discovery.Pipeline())
}
