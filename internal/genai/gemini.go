package genai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/PitchPipe/internal/models"
	gemini "google.golang.org/genai"
)

// geminiService is the subset of *gemini.Models used here.
type geminiService interface {
	GenerateContent(ctx context.Context, model string, contents []*gemini.Content, config *gemini.GenerateContentConfig) (*gemini.GenerateContentResponse, error)
}

type geminiProvider struct {
	models geminiService
}

func newGeminiProvider(ctx context.Context, apiKey string) (*geminiProvider, error) {
	client, err := gemini.NewClient(ctx, &gemini.ClientConfig{
		APIKey:  apiKey,
		Backend: gemini.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &geminiProvider{models: client.Models}, nil
}

func (p *geminiProvider) name() string { return ProviderGemini }

func (p *geminiProvider) generate(ctx context.Context, model string, messages []models.ChatMessage, cfg GenerationConfig) (string, error) {
	system, contents := toGeminiContents(messages)
	config := toGeminiConfig(cfg)
	if system != "" {
		config.SystemInstruction = &gemini.Content{Parts: []*gemini.Part{gemini.NewPartFromText(system)}}
	}

	resp, err := p.models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return "", err
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return "", fmt.Errorf("%w: prompt blocked: %s", ErrModelError, resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason == gemini.FinishReasonSafety {
		return "", fmt.Errorf("%w: completion blocked by safety filter", ErrModelError)
	}
	return resp.Text(), nil
}

// toGeminiContents folds system messages into one instruction and maps the rest onto the
// user and model roles, preserving order.
func toGeminiContents(messages []models.ChatMessage) (string, []*gemini.Content) {
	var system []string
	contents := make([]*gemini.Content, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case models.ChatRoleSystem:
			system = append(system, m.Content)
		case models.ChatRoleAssistant:
			contents = append(contents, gemini.NewContentFromText(m.Content, gemini.RoleModel))
		default:
			contents = append(contents, gemini.NewContentFromText(m.Content, gemini.RoleUser))
		}
	}
	return strings.Join(system, "\n\n"), contents
}

func toGeminiConfig(cfg GenerationConfig) *gemini.GenerateContentConfig {
	settings := make([]*gemini.SafetySetting, 0, len(cfg.SafetyCategories))
	for _, c := range cfg.SafetyCategories {
		category, ok := geminiCategories[c]
		if !ok {
			slog.Warn("Gemini: unknown safety category ignored", "category", c)
			continue
		}
		settings = append(settings, &gemini.SafetySetting{
			Category:  category,
			Threshold: gemini.HarmBlockThresholdBlockMediumAndAbove,
		})
	}
	return &gemini.GenerateContentConfig{
		Temperature:     gemini.Ptr(cfg.Temperature),
		TopP:            gemini.Ptr(cfg.TopP),
		TopK:            gemini.Ptr(cfg.TopK),
		MaxOutputTokens: cfg.MaxOutputTokens,
		SafetySettings:  settings,
	}
}

var geminiCategories = map[SafetyCategory]gemini.HarmCategory{
	SafetyHarassment:       gemini.HarmCategoryHarassment,
	SafetyHateSpeech:       gemini.HarmCategoryHateSpeech,
	SafetySexuallyExplicit: gemini.HarmCategorySexuallyExplicit,
	SafetyDangerousContent: gemini.HarmCategoryDangerousContent,
}
