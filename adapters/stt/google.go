package stt

import (
	"context"
	"fmt"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/interpreter/domain/repositories"
)

// GoogleSpeechToText implements SpeechToText for Google Cloud. Each finished
// segment is recognized with one synchronous request.
type GoogleSpeechToText struct {
	client *speech.Client
	logger *zap.Logger
}

var _ repositories.SpeechToText = (*GoogleSpeechToText)(nil)

// NewGoogleSpeechToText creates a recognizer using application default
// credentials
func NewGoogleSpeechToText(ctx context.Context, logger *zap.Logger) (*GoogleSpeechToText, error) {
	client, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create speech client: %w", err)
	}
	return &GoogleSpeechToText{client: client, logger: logger}, nil
}

// TranscribeAudio converts a finished clip to text. An empty result means no
// speech in the requested language.
func (g *GoogleSpeechToText) TranscribeAudio(ctx context.Context, audioData []byte, config repositories.AudioConfig) (string, error) {
	if len(audioData) == 0 {
		return "", fmt.Errorf("no audio data received")
	}

	encoding, err := getAudioEncoding(config.Encoding)
	if err != nil {
		return "", err
	}

	recognitionConfig := &speechpb.RecognitionConfig{
		Encoding:                   encoding,
		LanguageCode:               config.Language,
		EnableAutomaticPunctuation: true,
	}
	// containers with headers carry their own rate
	if encoding != speechpb.RecognitionConfig_OGG_OPUS && encoding != speechpb.RecognitionConfig_WEBM_OPUS && config.SampleRate > 0 {
		recognitionConfig.SampleRateHertz = int32(config.SampleRate)
	}

	resp, err := g.client.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: recognitionConfig,
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audioData},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to recognize audio: %w", err)
	}

	var parts []string
	for _, result := range resp.Results {
		if len(result.Alternatives) > 0 {
			// Take the best alternative
			parts = append(parts, strings.TrimSpace(result.Alternatives[0].Transcript))
		}
	}
	transcript := strings.Join(parts, " ")

	g.logger.Debug("Audio recognized",
		zap.String("language", config.Language),
		zap.Int("bytes", len(audioData)),
		zap.Int("results", len(resp.Results)))
	return transcript, nil
}

// Close releases the gRPC connection
func (g *GoogleSpeechToText) Close() error {
	return g.client.Close()
}

// getAudioEncoding converts a format name to the Google Speech API enum
func getAudioEncoding(encoding string) (speechpb.RecognitionConfig_AudioEncoding, error) {
	switch strings.ToUpper(encoding) {
	case "WAV", "LINEAR16", "PCM":
		return speechpb.RecognitionConfig_LINEAR16, nil
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC, nil
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW, nil
	case "AMR":
		return speechpb.RecognitionConfig_AMR, nil
	case "AMR_WB":
		return speechpb.RecognitionConfig_AMR_WB, nil
	case "OGG", "OPUS", "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS, nil
	case "SPEEX_WITH_HEADER_BYTE":
		return speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE, nil
	case "WEBM", "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS, nil
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED, fmt.Errorf("unsupported encoding: %s", encoding)
	}
}
