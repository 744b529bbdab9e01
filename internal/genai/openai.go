package genai

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/PitchPipe/internal/models"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// chatService defines minimal interface for chat completions.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// completionsAdapter exposes openai.ChatCompletionService as a chatService.
type completionsAdapter struct {
	svc openai.ChatCompletionService
}

func (a completionsAdapter) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := a.svc.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

type openAIProvider struct {
	chat chatService
}

func newOpenAIProvider(apiKey string) *openAIProvider {
	cli := openai.NewClient(option.WithAPIKey(apiKey))
	return &openAIProvider{chat: completionsAdapter{svc: cli.Chat.Completions}}
}

func (p *openAIProvider) name() string { return ProviderOpenAI }

func (p *openAIProvider) generate(ctx context.Context, model string, messages []models.ChatMessage, cfg GenerationConfig) (string, error) {
	if cfg.TopK > 0 || len(cfg.SafetyCategories) > 0 {
		slog.Debug("OpenAI: top_k and safety settings are not supported and are ignored", "model", model)
	}

	params := openai.ChatCompletionNewParams{
		Model:               openai.ChatModel(model),
		Messages:            toOpenAIMessages(messages),
		Temperature:         openai.Float(float64(cfg.Temperature)),
		TopP:                openai.Float(float64(cfg.TopP)),
		MaxCompletionTokens: openai.Int(int64(cfg.MaxOutputTokens)),
	}
	resp, err := p.chat.Create(ctx, params)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: %w", ErrModelError, ErrNoChoicesReturned)
	}
	return resp.Choices[0].Message.Content, nil
}

func toOpenAIMessages(messages []models.ChatMessage) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case models.ChatRoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case models.ChatRoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}
