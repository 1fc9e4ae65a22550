package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/arunika/interpreter/domain/repositories"
)

const (
	defaultAPIBaseURL   = "https://api.elevenlabs.io/v1"
	defaultVoiceID      = "21m00Tcm4TlvDq8ikWAM"   // Rachel voice
	defaultChunkSize    = 4096                     // Size of audio chunks to stream
	defaultOutputFormat = "mp3_44100_128"          // Playable clip format
	defaultModelID      = "eleven_multilingual_v2" // Default model ID
	defaultStability    = 0.5                      // Default voice stability
	defaultClarity      = 0.75                     // Default voice clarity/similarity_boost
	requestTimeout      = 60 * time.Second
)

// ElevenLabsConfig holds configuration for the ElevenLabsTTS adapter.
// Only APIKey is required.
type ElevenLabsConfig struct {
	APIKey       string  // Required: Your Eleven Labs API key
	APIBaseURL   string  // Optional: The base URL for the Eleven Labs API
	VoiceID      string  // Optional: The voice ID to use
	ModelID      string  // Optional: The model ID to use
	OutputFormat string  // Optional: The output format
	ChunkSize    int     // Optional: The size of audio chunks to stream
	Stability    float64 // Optional: Voice stability value between 0 and 1
	Clarity      float64 // Optional: Voice clarity/similarity boost value between 0 and 1
}

// ElevenLabsTTS implements TextToSpeech using the Eleven Labs API
type ElevenLabsTTS struct {
	apiKey       string
	apiBaseURL   string
	voiceID      string
	modelID      string
	outputFormat string
	chunkSize    int
	stability    float64
	clarity      float64
	client       *http.Client
	logger       *zap.Logger
}

var _ repositories.TextToSpeech = (*ElevenLabsTTS)(nil)

// ElevenLabsVoiceSettings represents voice settings for Eleven Labs API
type ElevenLabsVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style,omitempty"`
	UseSpeakerBoost bool    `json:"use_speaker_boost,omitempty"`
}

// ElevenLabsRequest represents the request payload for Eleven Labs TTS API
type ElevenLabsRequest struct {
	Text                   string                  `json:"text"`
	ModelID                string                  `json:"model_id"`
	LanguageCode           string                  `json:"language_code,omitempty"`
	VoiceSettings          ElevenLabsVoiceSettings `json:"voice_settings"`
	ApplyTextNormalization string                  `json:"apply_text_normalization,omitempty"`
}

// ValidateElevenLabsConfig validates the ElevenLabsConfig
func ValidateElevenLabsConfig(config ElevenLabsConfig) error {
	if config.APIKey == "" {
		return fmt.Errorf("eleven labs API key is required")
	}
	if config.Stability < 0 || config.Stability > 1 {
		return fmt.Errorf("stability must be between 0 and 1, got %f", config.Stability)
	}
	if config.Clarity < 0 || config.Clarity > 1 {
		return fmt.Errorf("clarity must be between 0 and 1, got %f", config.Clarity)
	}
	if config.ChunkSize < 0 {
		return fmt.Errorf("chunk size must be positive, got %d", config.ChunkSize)
	}
	return nil
}

// NewElevenLabsTTS creates a new Eleven Labs TTS instance
func NewElevenLabsTTS(config ElevenLabsConfig, logger *zap.Logger) (*ElevenLabsTTS, error) {
	if err := ValidateElevenLabsConfig(config); err != nil {
		return nil, err
	}

	e := &ElevenLabsTTS{
		apiKey:       config.APIKey,
		apiBaseURL:   strings.TrimRight(config.APIBaseURL, "/"),
		voiceID:      config.VoiceID,
		modelID:      config.ModelID,
		outputFormat: config.OutputFormat,
		chunkSize:    config.ChunkSize,
		stability:    config.Stability,
		clarity:      config.Clarity,
		client:       &http.Client{Timeout: requestTimeout},
		logger:       logger,
	}
	if e.apiBaseURL == "" {
		e.apiBaseURL = defaultAPIBaseURL
	}
	if e.voiceID == "" {
		e.voiceID = defaultVoiceID
	}
	if e.modelID == "" {
		e.modelID = defaultModelID
	}
	if e.outputFormat == "" {
		e.outputFormat = defaultOutputFormat
	}
	if e.chunkSize == 0 {
		e.chunkSize = defaultChunkSize
	}
	if e.stability == 0 {
		e.stability = defaultStability
	}
	if e.clarity == 0 {
		e.clarity = defaultClarity
	}

	logger.Info("Eleven Labs TTS configured",
		zap.String("voiceID", e.voiceID),
		zap.String("modelID", e.modelID),
		zap.String("outputFormat", e.outputFormat))
	return e, nil
}

// Format returns the container of the produced audio, e.g. "mp3"
func (e *ElevenLabsTTS) Format() string {
	format, _, _ := strings.Cut(e.outputFormat, "_")
	return format
}

// ConvertTextToSpeech streams synthesized speech in chunks. The request is
// made before returning so API errors surface here; the channel closes at
// the end of the stream.
func (e *ElevenLabsTTS) ConvertTextToSpeech(ctx context.Context, text string) (<-chan []byte, error) {
	body, err := e.request(ctx, text, "")
	if err != nil {
		return nil, err
	}

	audioChan := make(chan []byte, 10)
	go func() {
		defer close(audioChan)
		defer body.Close()

		buffer := make([]byte, e.chunkSize)
		totalBytes := 0
		for {
			n, err := body.Read(buffer)
			if n > 0 {
				totalBytes += n
				chunk := make([]byte, n)
				copy(chunk, buffer[:n])

				select {
				case audioChan <- chunk:
				case <-ctx.Done():
					e.logger.Warn("Context cancelled while streaming audio data")
					return
				}
			}
			if err == io.EOF {
				e.logger.Debug("Finished streaming audio data", zap.Int("totalBytes", totalBytes))
				return
			}
			if err != nil {
				e.logger.Error("Error reading response body", zap.Error(err))
				return
			}
		}
	}()

	return audioChan, nil
}

// Synthesize returns the whole clip for text spoken in language. An empty
// language lets the model detect it.
func (e *ElevenLabsTTS) Synthesize(ctx context.Context, text, language string) ([]byte, error) {
	body, err := e.request(ctx, text, language)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	audio, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio: %w", err)
	}
	return audio, nil
}

func (e *ElevenLabsTTS) request(ctx context.Context, text, language string) (io.ReadCloser, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("text cannot be empty")
	}

	requestBody, err := json.Marshal(ElevenLabsRequest{
		Text:                   text,
		ModelID:                e.modelID,
		LanguageCode:           language,
		ApplyTextNormalization: "auto",
		VoiceSettings: ElevenLabsVoiceSettings{
			Stability:       e.stability,
			SimilarityBoost: e.clarity,
			UseSpeakerBoost: true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/text-to-speech/%s/stream?output_format=%s&enable_logging=false",
		e.apiBaseURL, e.voiceID, e.outputFormat)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	// PCM output requires the audio/pcm accept header
	acceptHeader := "audio/mpeg"
	if strings.HasPrefix(e.outputFormat, "pcm") {
		acceptHeader = "audio/pcm"
	}
	httpReq.Header.Set("Accept", acceptHeader)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("xi-api-key", e.apiKey)

	e.logger.Debug("Sending request to Eleven Labs API",
		zap.String("voiceID", e.voiceID),
		zap.String("language", language),
		zap.Int("textLength", len(text)))

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to execute HTTP request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		errorBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("eleven labs API returned %d: %s", resp.StatusCode, string(errorBody))
	}
	return resp.Body, nil
}
