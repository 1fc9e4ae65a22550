package tts

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/satriahrh/arunika/interpreter/domain/repositories"
)

// ClipSource produces a complete audio clip for text
type ClipSource interface {
	Synthesize(ctx context.Context, text, language string) ([]byte, error)
	Format() string
}

// Synthesizer speaks text by synthesizing a clip and handing it to a player
type Synthesizer struct {
	source ClipSource
	player repositories.AudioPlayer
	logger *zap.Logger
}

var _ repositories.SpeechSynthesizer = (*Synthesizer)(nil)

// NewSynthesizer creates a synthesizer playing through player
func NewSynthesizer(source ClipSource, player repositories.AudioPlayer, logger *zap.Logger) *Synthesizer {
	return &Synthesizer{source: source, player: player, logger: logger}
}

// Speak implements repositories.SpeechSynthesizer
func (s *Synthesizer) Speak(ctx context.Context, text, language string, done func(error)) error {
	audio, err := s.source.Synthesize(ctx, text, language)
	if err != nil {
		return fmt.Errorf("failed to synthesize speech: %w", err)
	}

	s.logger.Debug("Speech synthesized", zap.String("language", language), zap.Int("bytes", len(audio)))
	return s.player.Play(ctx, repositories.AudioClip{Data: audio, Format: s.source.Format()}, done)
}

// Stop implements repositories.SpeechSynthesizer
func (s *Synthesizer) Stop() error {
	return s.player.Stop()
}
