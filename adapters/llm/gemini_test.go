package llm

import (
	"context"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"
	"google.golang.org/genai"
)

func TestValidateGeminiConfig(t *testing.T) {
	tests := []struct {
		name    string
		config  GeminiConfig
		wantErr bool
	}{
		{name: "missing key", config: GeminiConfig{}, wantErr: true},
		{name: "defaults", config: GeminiConfig{APIKey: "k"}},
		{name: "temperature too high", config: GeminiConfig{APIKey: "k", Temperature: 1.5}, wantErr: true},
		{name: "negative timeout", config: GeminiConfig{APIKey: "k", TimeoutSeconds: -1}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateGeminiConfig(tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateGeminiConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewGeminiTranslatorDefaults(t *testing.T) {
	translator, err := NewGeminiTranslator(context.Background(), GeminiConfig{APIKey: "test-key"}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewGeminiTranslator failed: %v", err)
	}
	if translator.model != defaultModel || translator.temperature != defaultTemperature {
		t.Errorf("Expected defaults, got model=%q temperature=%f", translator.model, translator.temperature)
	}

	if _, err := translator.Translate(context.Background(), " ", "en", "es"); err == nil {
		t.Error("Expected error for empty text")
	}
}

func TestBuildPrompt(t *testing.T) {
	prompt := buildPrompt("good morning", "en", "es")
	if !strings.Contains(prompt, "from en to es") || !strings.HasSuffix(prompt, "good morning") {
		t.Errorf("Unexpected prompt %q", prompt)
	}
}

func TestResponseText(t *testing.T) {
	tests := []struct {
		name     string
		response *genai.GenerateContentResponse
		want     string
	}{
		{name: "nil", response: nil, want: ""},
		{name: "no candidates", response: &genai.GenerateContentResponse{}, want: ""},
		{
			name: "joined parts",
			response: &genai.GenerateContentResponse{
				Candidates: []*genai.Candidate{{
					Content: &genai.Content{Parts: []*genai.Part{{Text: "buenos "}, {Text: "días\n"}}},
				}},
			},
			want: "buenos días",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := responseText(tt.response); got != tt.want {
				t.Errorf("responseText() = %q, want %q", got, tt.want)
			}
		})
	}
}
