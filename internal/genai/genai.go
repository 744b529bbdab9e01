// Package genai provides model-backed text generation for PitchPipe.
//
// A Client turns a provider-neutral prompt ([]models.ChatMessage) into one completion using
// either Google Gemini or OpenAI, behind a circuit breaker and with a fixed sampling config.
package genai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/PitchPipe/internal/metrics"
	"github.com/BTreeMap/PitchPipe/internal/models"
	"github.com/sony/gobreaker"
)

// Provider names accepted by WithProvider.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// Default model identifiers per provider.
const (
	DefaultGeminiModel = "gemini-2.0-flash"
	DefaultOpenAIModel = "gpt-4o-mini"
)

var (
	// ErrModelUnavailable is returned when the provider cannot be reached in time or the
	// circuit breaker is open.
	ErrModelUnavailable = errors.New("model unavailable")
	// ErrModelError is returned when the provider answers but the answer is unusable.
	ErrModelError = errors.New("model error")
	// ErrNoChoicesReturned is returned when a completion carries no text.
	ErrNoChoicesReturned = errors.New("no choices returned")
	// ErrMissingAPIKey is returned by NewClient without credentials.
	ErrMissingAPIKey = errors.New("model API key not set")
	// ErrUnknownProvider is returned by NewClient for an unsupported provider name.
	ErrUnknownProvider = errors.New("unknown model provider")
)

// SafetyCategory is a content category moderated by the provider.
type SafetyCategory string

const (
	SafetyHarassment       SafetyCategory = "HARASSMENT"
	SafetyHateSpeech       SafetyCategory = "HATE_SPEECH"
	SafetySexuallyExplicit SafetyCategory = "SEXUALLY_EXPLICIT"
	SafetyDangerousContent SafetyCategory = "DANGEROUS_CONTENT"
)

// GenerationConfig is the sampling and moderation configuration sent with every request.
type GenerationConfig struct {
	Temperature     float32
	TopP            float32
	TopK            float32
	MaxOutputTokens int32
	// SafetyCategories are blocked at medium probability and above.
	SafetyCategories []SafetyCategory
}

// DefaultGenerationConfig returns the fixed configuration used by the coach persona.
func DefaultGenerationConfig() GenerationConfig {
	return GenerationConfig{
		Temperature:     0.7,
		TopP:            0.9,
		TopK:            40,
		MaxOutputTokens: 1024,
		SafetyCategories: []SafetyCategory{
			SafetyHarassment,
			SafetyHateSpeech,
			SafetySexuallyExplicit,
			SafetyDangerousContent,
		},
	}
}

// provider sends one prompt to a remote model.
type provider interface {
	name() string
	generate(ctx context.Context, model string, messages []models.ChatMessage, cfg GenerationConfig) (string, error)
}

// Opts holds configuration for the GenAI client.
type Opts struct {
	Provider  string
	APIKey    string
	Model     string
	DebugMode bool // write request/response pairs under StateDir/debug
	StateDir  string
	Metrics   *metrics.Collector
	Breaker   *gobreaker.Settings
}

// Option defines a configuration option for the GenAI client.
type Option func(*Opts)

// WithProvider selects "gemini" (default) or "openai".
func WithProvider(name string) Option {
	return func(o *Opts) {
		o.Provider = name
	}
}

// WithAPIKey sets the provider API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) {
		o.APIKey = key
	}
}

// WithModel overrides the provider's default model.
func WithModel(model string) Option {
	return func(o *Opts) {
		o.Model = model
	}
}

// WithDebugMode enables debug logging of API calls to files in stateDir/debug.
func WithDebugMode(enabled bool) Option {
	return func(o *Opts) {
		o.DebugMode = enabled
	}
}

// WithStateDir sets the directory used for debug output.
func WithStateDir(dir string) Option {
	return func(o *Opts) {
		o.StateDir = dir
	}
}

// WithMetrics records each request on c.
func WithMetrics(c *metrics.Collector) Option {
	return func(o *Opts) {
		o.Metrics = c
	}
}

// WithBreakerSettings overrides the circuit breaker settings.
func WithBreakerSettings(s gobreaker.Settings) Option {
	return func(o *Opts) {
		o.Breaker = &s
	}
}

// Client generates completions through one provider.
type Client struct {
	provider  provider
	model     string
	config    GenerationConfig
	breaker   *gobreaker.CircuitBreaker
	metrics   *metrics.Collector
	debugMode bool
	stateDir  string
}

// NewClient builds a Client for the configured provider.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Provider == "" {
		cfg.Provider = ProviderGemini
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w for provider %s", ErrMissingAPIKey, cfg.Provider)
	}

	var p provider
	switch cfg.Provider {
	case ProviderGemini:
		gp, err := newGeminiProvider(context.Background(), cfg.APIKey)
		if err != nil {
			slog.Error("GenAI NewClient: failed to create Gemini client", "error", err)
			return nil, err
		}
		p = gp
		if cfg.Model == "" {
			cfg.Model = DefaultGeminiModel
		}
	case ProviderOpenAI:
		p = newOpenAIProvider(cfg.APIKey)
		if cfg.Model == "" {
			cfg.Model = DefaultOpenAIModel
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}

	slog.Debug("GenAI client created", "provider", cfg.Provider, "model", cfg.Model, "debug", cfg.DebugMode)
	return newClientWithProvider(p, cfg), nil
}

func newClientWithProvider(p provider, cfg Opts) *Client {
	settings := defaultBreakerSettings(p.name())
	if cfg.Breaker != nil {
		settings = *cfg.Breaker
	}
	return &Client{
		provider:  p,
		model:     cfg.Model,
		config:    DefaultGenerationConfig(),
		breaker:   gobreaker.NewCircuitBreaker(settings),
		metrics:   cfg.Metrics,
		debugMode: cfg.DebugMode,
		stateDir:  cfg.StateDir,
	}
}

// defaultBreakerSettings trips after five consecutive failures and lets one request through
// again after a minute.
func defaultBreakerSettings(name string) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        "genai-" + name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			slog.Warn("GenAI circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			// Caller cancellation and refused content say nothing about provider health.
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, ErrModelError)
		},
	}
}

// Provider returns the active provider name.
func (c *Client) Provider() string {
	return c.provider.name()
}

// Model returns the model identifier requests are sent to.
func (c *Client) Model() string {
	return c.model
}

// Generate sends messages to the model and returns the completion text. Failures wrap
// ErrModelUnavailable (timeouts, transport failures, open breaker) or ErrModelError
// (empty or blocked completions).
func (c *Client) Generate(ctx context.Context, messages []models.ChatMessage) (string, error) {
	start := time.Now()
	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.provider.generate(ctx, c.model, messages, c.config)
	})

	var text string
	if err == nil {
		text = strings.TrimSpace(out.(string))
		if text == "" {
			err = fmt.Errorf("%w: %w", ErrModelError, ErrNoChoicesReturned)
		}
	}
	err = classifyError(err)

	outcome := metrics.OutcomeSuccess
	if err != nil {
		outcome = metrics.OutcomeError
	}
	c.metrics.ObserveModel(c.provider.name(), outcome, time.Since(start).Seconds())
	if c.debugMode {
		c.writeDebugLog("Generate", messages, text, err)
	}

	if err != nil {
		slog.Error("GenAI Generate failed", "provider", c.provider.name(), "model", c.model, "error", err)
		return "", err
	}
	slog.Debug("GenAI Generate succeeded", "provider", c.provider.name(), "model", c.model, "messages", len(messages), "length", len(text))
	return text, nil
}

// classifyError maps provider and breaker errors onto the package sentinels.
func classifyError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrModelError), errors.Is(err, ErrModelUnavailable):
		return err
	default:
		// Transport failures, deadlines, and gobreaker.ErrOpenState / ErrTooManyRequests.
		return fmt.Errorf("%w: %w", ErrModelUnavailable, err)
	}
}
