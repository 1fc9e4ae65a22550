package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/satriahrh/arunika/interpreter/domain/repositories"
)

const (
	defaultModel          = "gemini-2.0-flash"
	defaultTemperature    = 0.2
	defaultTimeoutSeconds = 30
	maxAttempts           = 3
)

const systemInstruction = `You are a professional interpreter in a live two-person conversation.
Translate the user's message faithfully and naturally.
Reply with the translation only: no quotes, notes, or explanations.`

// GeminiConfig holds configuration for the Gemini translator
type GeminiConfig struct {
	APIKey         string  // Required
	Model          string  // Optional, defaults to gemini-2.0-flash
	Temperature    float32 // Optional, between 0 and 1
	TimeoutSeconds int     // Optional, per request
}

// ValidateGeminiConfig validates the GeminiConfig
func ValidateGeminiConfig(config GeminiConfig) error {
	if config.APIKey == "" {
		return fmt.Errorf("gemini API key is required")
	}
	if config.Temperature < 0 || config.Temperature > 1 {
		return fmt.Errorf("temperature must be between 0 and 1, got %f", config.Temperature)
	}
	if config.TimeoutSeconds < 0 {
		return fmt.Errorf("timeout must be positive, got %d", config.TimeoutSeconds)
	}
	return nil
}

// GeminiTranslator implements Translator using Google's Gemini API
type GeminiTranslator struct {
	client      *genai.Client
	model       string
	temperature float32
	timeout     time.Duration
	logger      *zap.Logger
}

var _ repositories.Translator = (*GeminiTranslator)(nil)

// NewGeminiTranslator creates a new Gemini translator
func NewGeminiTranslator(ctx context.Context, config GeminiConfig, logger *zap.Logger) (*GeminiTranslator, error) {
	if err := ValidateGeminiConfig(config); err != nil {
		return nil, err
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	t := &GeminiTranslator{
		client:      client,
		model:       config.Model,
		temperature: config.Temperature,
		timeout:     time.Duration(config.TimeoutSeconds) * time.Second,
		logger:      logger,
	}
	if t.model == "" {
		t.model = defaultModel
	}
	if t.temperature == 0 {
		t.temperature = defaultTemperature
	}
	if t.timeout == 0 {
		t.timeout = defaultTimeoutSeconds * time.Second
	}

	logger.Info("Gemini translator configured", zap.String("model", t.model))
	return t, nil
}

// Translate implements Translator
func (t *GeminiTranslator) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("text cannot be empty")
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	contents := []*genai.Content{
		genai.NewContentFromText(buildPrompt(text, sourceLang, targetLang), genai.RoleUser),
	}
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemInstruction, genai.RoleUser),
		Temperature:       genai.Ptr(t.temperature),
	}

	var response *genai.GenerateContentResponse
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		response, err = t.client.Models.GenerateContent(ctx, t.model, contents, config)
		if err == nil {
			break
		}

		t.logger.Warn("Failed to generate content, retrying",
			zap.Int("attempt", attempt+1),
			zap.Error(err))

		if attempt < maxAttempts-1 {
			select {
			case <-time.After(time.Duration(attempt+1) * time.Second):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}
	if err != nil {
		return "", fmt.Errorf("failed to generate translation: %w", err)
	}

	translated := responseText(response)
	if translated == "" {
		return "", fmt.Errorf("empty translation")
	}
	return translated, nil
}

func buildPrompt(text, sourceLang, targetLang string) string {
	return fmt.Sprintf("Translate from %s to %s:\n%s", sourceLang, targetLang, text)
}

// responseText concatenates the text parts of the first candidate
func responseText(response *genai.GenerateContentResponse) string {
	if response == nil || len(response.Candidates) == 0 || response.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range response.Candidates[0].Content.Parts {
		if part != nil && part.Text != "" {
			b.WriteString(part.Text)
		}
	}
	return strings.TrimSpace(b.String())
}
