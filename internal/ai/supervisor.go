package ai

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// AI model constants. Naming and impact classification are short,
// well-bounded prompts so the cheaper model is the default; summaries use
// the larger one.
//
// Environment variable overrides:
// - RDSCOUT_MODEL_DEFAULT: model for summaries (default: Sonnet)
// - RDSCOUT_MODEL_SIMPLE: model for names and impact classification (default: Haiku)
const (
	// ModelSonnet is used for cluster summaries
	ModelSonnet = "claude-sonnet-4-5-20250929"

	// ModelHaiku is used for short names and narrative impact
	ModelHaiku = "claude-3-5-haiku-20241022"
)

// GetDefaultModel returns the default model, checking RDSCOUT_MODEL_DEFAULT first
func GetDefaultModel() string {
	if model := os.Getenv("RDSCOUT_MODEL_DEFAULT"); model != "" {
		return model
	}
	return ModelSonnet
}

// GetSimpleTaskModel returns the model for simple tasks, checking RDSCOUT_MODEL_SIMPLE first
func GetSimpleTaskModel() string {
	if model := os.Getenv("RDSCOUT_MODEL_SIMPLE"); model != "" {
		return model
	}
	return ModelHaiku
}

// Supervisor is the text generator behind discovery and change detection.
// It names and summarizes candidate clusters and classifies the narrative
// impact of proposed additions.
//
// The Supervisor's responsibilities are split across files:
// - supervisor.go: struct, constructor and the shared call path (this file)
// - retry.go: circuit breaker, rate limiting and retry logic
// - generation.go: naming, summarization and impact prompts
// - json_parser.go: tolerant parsing of model JSON output
type Supervisor struct {
	client         *anthropic.Client
	model          string
	simpleModel    string
	retry          RetryConfig
	circuitBreaker *CircuitBreaker
	concurrencySem *semaphore.Weighted // Limits concurrent AI API calls
	limiter        *rate.Limiter       // Proactive request throttling
	logger         *slog.Logger
}

// Config holds supervisor configuration
type Config struct {
	APIKey      string // Anthropic API key (if empty, reads from ANTHROPIC_API_KEY env var)
	Model       string // Model for summaries (default: GetDefaultModel())
	SimpleModel string // Model for names and impacts (default: GetSimpleTaskModel())
	BaseURL     string // Optional API endpoint override
	Retry       RetryConfig
	Logger      *slog.Logger
}

// NewSupervisor creates a new AI supervisor
func NewSupervisor(cfg *Config) (*Supervisor, error) {
	if cfg == nil {
		cfg = &Config{}
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
		}
	}

	model := cfg.Model
	if model == "" {
		model = GetDefaultModel()
	}
	simpleModel := cfg.SimpleModel
	if simpleModel == "" {
		simpleModel = GetSimpleTaskModel()
	}

	// Use default retry config if not specified
	retry := cfg.Retry
	if retry.MaxRetries == 0 && retry.Timeout == 0 {
		retry = DefaultRetryConfig()
	}
	if err := retry.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retry config: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// Retries are handled here, not by the SDK, so the circuit breaker sees
	// every failed attempt
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := anthropic.NewClient(opts...)

	var circuitBreaker *CircuitBreaker
	if retry.CircuitBreakerEnabled {
		circuitBreaker = NewCircuitBreaker(
			retry.FailureThreshold,
			retry.SuccessThreshold,
			retry.OpenTimeout,
		)
		circuitBreaker.logger = logger
		logger.Debug("circuit breaker initialized",
			"failure_threshold", retry.FailureThreshold,
			"success_threshold", retry.SuccessThreshold,
			"open_timeout", retry.OpenTimeout)
	}

	var concurrencySem *semaphore.Weighted
	if retry.MaxConcurrentCalls > 0 {
		concurrencySem = semaphore.NewWeighted(int64(retry.MaxConcurrentCalls))
	}

	var limiter *rate.Limiter
	if retry.RequestsPerSecond > 0 {
		burst := retry.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(retry.RequestsPerSecond), burst)
	}

	return &Supervisor{
		client:         &client,
		model:          model,
		simpleModel:    simpleModel,
		retry:          retry,
		circuitBreaker: circuitBreaker,
		concurrencySem: concurrencySem,
		limiter:        limiter,
		logger:         logger,
	}, nil
}

// HealthCheck returns an error if the circuit breaker is open
func (s *Supervisor) HealthCheck(ctx context.Context) error {
	if s.circuitBreaker != nil {
		state, failures, _ := s.circuitBreaker.GetMetrics()
		switch state {
		case CircuitOpen:
			return fmt.Errorf("AI supervisor unavailable: %w (failures=%d, retry in %v)",
				ErrCircuitOpen, failures, s.retry.OpenTimeout)
		case CircuitHalfOpen:
			s.logger.Info("AI supervisor in half-open state (probing for recovery)")
		case CircuitClosed:
		}
	}
	return nil
}

// callAI sends a single-turn prompt and returns the concatenated text blocks
func (s *Supervisor) callAI(ctx context.Context, prompt, operation, model string, maxTokens int) (string, error) {
	startTime := time.Now()

	if model == "" {
		model = s.model
	}
	if maxTokens == 0 {
		maxTokens = 1024
	}

	var response *anthropic.Message
	err := s.retryWithBackoff(ctx, operation, func(attemptCtx context.Context) error {
		resp, apiErr := s.client.Messages.New(attemptCtx, anthropic.MessageNewParams{
			Model:     anthropic.Model(model),
			MaxTokens: int64(maxTokens),
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
		})
		if apiErr != nil {
			return apiErr
		}
		response = resp
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API call failed: %w", err)
	}

	var sb strings.Builder
	for _, block := range response.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}

	s.logger.Debug("AI call completed",
		"operation", operation,
		"model", model,
		"input_tokens", response.Usage.InputTokens,
		"output_tokens", response.Usage.OutputTokens,
		"duration", time.Since(startTime))

	return sb.String(), nil
}
