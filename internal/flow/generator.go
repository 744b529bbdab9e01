package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/PitchPipe/internal/genai"
	"github.com/BTreeMap/PitchPipe/internal/models"
)

// FallbackResponse is sent whenever the model cannot produce a reply.
const FallbackResponse = "Sorry, I'm having trouble connecting to my brain right now. Try again in a moment. 🤔"

// Model call policy defaults.
const (
	DefaultModelTimeout  = 30 * time.Second
	DefaultModelAttempts = 2
	DefaultRetryPause    = 500 * time.Millisecond
)

// ModelClient is the remote generation call, implemented by *genai.Client.
type ModelClient interface {
	Generate(ctx context.Context, messages []models.ChatMessage) (string, error)
}

// TextGenerator produces reply text for a prompt and never fails.
type TextGenerator interface {
	Generate(ctx context.Context, messages []models.ChatMessage) string
}

// ResponseGenerator wraps a ModelClient with a per-attempt timeout, one bounded retry, and
// the fallback reply.
type ResponseGenerator struct {
	client   ModelClient
	timeout  time.Duration
	attempts int
	pause    time.Duration
}

// NewResponseGenerator creates a generator. timeout <= 0 uses DefaultModelTimeout.
func NewResponseGenerator(client ModelClient, timeout time.Duration) *ResponseGenerator {
	if timeout <= 0 {
		timeout = DefaultModelTimeout
	}
	return &ResponseGenerator{
		client:   client,
		timeout:  timeout,
		attempts: DefaultModelAttempts,
		pause:    DefaultRetryPause,
	}
}

// Generate returns the model's reply, or FallbackResponse on any failure.
func (g *ResponseGenerator) Generate(ctx context.Context, messages []models.ChatMessage) string {
	text, err := g.generate(ctx, messages)
	if err != nil {
		slog.Error("ResponseGenerator Generate failed, sending fallback", "error", err, "messages", len(messages))
		return FallbackResponse
	}
	return text
}

func (g *ResponseGenerator) generate(ctx context.Context, messages []models.ChatMessage) (text string, err error) {
	if g.client == nil {
		return "", fmt.Errorf("%w: no model client configured", genai.ErrModelUnavailable)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic in model client: %v", genai.ErrModelError, r)
		}
	}()

	var lastErr error
	for attempt := 1; attempt <= g.attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("%w: %w", genai.ErrModelUnavailable, ctx.Err())
			case <-time.After(g.pause):
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, g.timeout)
		text, lastErr = g.client.Generate(attemptCtx, messages)
		cancel()
		if lastErr == nil {
			slog.Debug("ResponseGenerator Generate succeeded", "attempt", attempt)
			return text, nil
		}
		slog.Warn("ResponseGenerator attempt failed", "attempt", attempt, "error", lastErr)

		// A refused or empty completion will not change on retry.
		if errors.Is(lastErr, genai.ErrModelError) {
			return "", lastErr
		}
	}
	if errors.Is(lastErr, genai.ErrModelUnavailable) {
		return "", lastErr
	}
	return "", fmt.Errorf("%w: %w", genai.ErrModelUnavailable, lastErr)
}
