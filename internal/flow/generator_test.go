package flow

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/BTreeMap/PitchPipe/internal/genai"
	"github.com/BTreeMap/PitchPipe/internal/models"
	"github.com/BTreeMap/PitchPipe/internal/testutil"
)

type modelFunc func(ctx context.Context, messages []models.ChatMessage) (string, error)

func (f modelFunc) Generate(ctx context.Context, messages []models.ChatMessage) (string, error) {
	return f(ctx, messages)
}

func newTestGenerator(client ModelClient, timeout time.Duration) *ResponseGenerator {
	g := NewResponseGenerator(client, timeout)
	g.pause = time.Millisecond
	return g
}

var testPrompt = []models.ChatMessage{{Role: models.ChatRoleUser, Content: "hi"}}

func TestResponseGeneratorSuccess(t *testing.T) {
	m := testutil.NewScriptedModel("Who pays you? 💰")
	got := newTestGenerator(m, time.Second).Generate(context.Background(), testPrompt)
	if got != "Who pays you? 💰" {
		t.Errorf("unexpected reply %q", got)
	}
	if m.Calls() != 1 {
		t.Errorf("expected 1 call, got %d", m.Calls())
	}
}

func TestResponseGeneratorRetriesUnavailableOnce(t *testing.T) {
	m := testutil.NewScriptedModel("second try",
		testutil.ModelReply{Err: fmt.Errorf("%w: 503", genai.ErrModelUnavailable)},
	)
	got := newTestGenerator(m, time.Second).Generate(context.Background(), testPrompt)
	if got != "second try" {
		t.Errorf("expected retry to succeed, got %q", got)
	}
	if m.Calls() != 2 {
		t.Errorf("expected 2 calls, got %d", m.Calls())
	}
}

func TestResponseGeneratorFallback(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantCalls int
	}{
		{"unavailable is retried", fmt.Errorf("%w: timeout", genai.ErrModelUnavailable), DefaultModelAttempts},
		{"unclassified is retried", errors.New("socket closed"), DefaultModelAttempts},
		{"model error is final", fmt.Errorf("%w: blocked", genai.ErrModelError), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &testutil.ScriptedModel{Default: testutil.ModelReply{Err: tt.err}}
			got := newTestGenerator(m, time.Second).Generate(context.Background(), testPrompt)
			if got != FallbackResponse {
				t.Errorf("expected fallback, got %q", got)
			}
			if m.Calls() != tt.wantCalls {
				t.Errorf("expected %d calls, got %d", tt.wantCalls, m.Calls())
			}
		})
	}
}

func TestResponseGeneratorPerAttemptTimeout(t *testing.T) {
	calls := 0
	slow := modelFunc(func(ctx context.Context, _ []models.ChatMessage) (string, error) {
		calls++
		<-ctx.Done()
		return "", ctx.Err()
	})

	start := time.Now()
	got := newTestGenerator(slow, 20*time.Millisecond).Generate(context.Background(), testPrompt)
	if got != FallbackResponse {
		t.Errorf("expected fallback, got %q", got)
	}
	if calls != DefaultModelAttempts {
		t.Errorf("expected %d attempts, got %d", DefaultModelAttempts, calls)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("timeout not enforced, took %v", elapsed)
	}
}

func TestResponseGeneratorRecoversPanic(t *testing.T) {
	boom := modelFunc(func(context.Context, []models.ChatMessage) (string, error) {
		panic("nil map")
	})
	if got := newTestGenerator(boom, time.Second).Generate(context.Background(), testPrompt); got != FallbackResponse {
		t.Errorf("expected fallback after panic, got %q", got)
	}
}

func TestResponseGeneratorNilClient(t *testing.T) {
	if got := NewResponseGenerator(nil, 0).Generate(context.Background(), testPrompt); got != FallbackResponse {
		t.Errorf("expected fallback without a client, got %q", got)
	}
}

func TestResponseGeneratorCancelledParent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := &testutil.ScriptedModel{Default: testutil.ModelReply{Text: "never"}}
	if got := newTestGenerator(m, time.Second).Generate(ctx, testPrompt); got != FallbackResponse {
		t.Errorf("expected fallback for cancelled context, got %q", got)
	}
}
