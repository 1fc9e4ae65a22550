package devserver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/satriahrh/arunika/interpreter/domain/entities"
	"github.com/satriahrh/arunika/interpreter/domain/repositories"
	"github.com/satriahrh/arunika/interpreter/internal/protocol"
)

// ErrNoSpeech is returned when a clip contains nothing recognizable
var ErrNoSpeech = errors.New("no speech recognized")

// Interpretation is the result of one audio clip
type Interpretation struct {
	Person     int
	Original   protocol.TextPart
	Translated protocol.TextPart
	Audio      []byte
}

// Interpreter turns one audio clip into a translated turn
type Interpreter interface {
	Interpret(ctx context.Context, audio []byte, format string, settings entities.LanguageSettings) (Interpretation, error)
}

// EchoInterpreter treats the clip bytes as the spoken text. Clips starting
// with "2:" are attributed to the second speaker.
type EchoInterpreter struct{}

// Interpret implements Interpreter
func (EchoInterpreter) Interpret(ctx context.Context, audio []byte, format string, settings entities.LanguageSettings) (Interpretation, error) {
	text := string(audio)
	person := 1
	if rest, ok := strings.CutPrefix(text, "2:"); ok {
		text = rest
		person = 2
	}

	source, target := settings.Language1, settings.Language2
	if person == 2 {
		source, target = target, source
	}

	return Interpretation{
		Person:     person,
		Original:   protocol.TextPart{Text: text, Language: source},
		Translated: protocol.TextPart{Text: fmt.Sprintf("[%s] %s", target, text), Language: target},
	}, nil
}

// PipelineInterpreter recognizes speech, translates it and optionally
// synthesizes the translation. The speaker is whichever language the
// recognizer understands first.
type PipelineInterpreter struct {
	stt        repositories.SpeechToText
	translator repositories.Translator
	tts        repositories.TextToSpeech
	sampleRate int
	logger     *zap.Logger
}

// NewPipelineInterpreter wires the speech services together. tts may be nil.
func NewPipelineInterpreter(
	stt repositories.SpeechToText,
	translator repositories.Translator,
	tts repositories.TextToSpeech,
	sampleRate int,
	logger *zap.Logger,
) *PipelineInterpreter {
	return &PipelineInterpreter{
		stt:        stt,
		translator: translator,
		tts:        tts,
		sampleRate: sampleRate,
		logger:     logger,
	}
}

// Interpret implements Interpreter
func (p *PipelineInterpreter) Interpret(ctx context.Context, audio []byte, format string, settings entities.LanguageSettings) (Interpretation, error) {
	person, text, err := p.recognize(ctx, audio, format, settings)
	if err != nil {
		return Interpretation{}, err
	}

	source, target := settings.Language1, settings.Language2
	if person == 2 {
		source, target = target, source
	}

	translated, err := p.translator.Translate(ctx, text, source, target)
	if err != nil {
		return Interpretation{}, fmt.Errorf("failed to translate: %w", err)
	}

	result := Interpretation{
		Person:     person,
		Original:   protocol.TextPart{Text: text, Language: source},
		Translated: protocol.TextPart{Text: translated, Language: target},
	}

	if p.tts != nil {
		speech, err := p.synthesize(ctx, translated)
		if err != nil {
			// text is still useful without speech
			p.logger.Warn("Failed to synthesize translation", zap.Error(err))
		} else {
			result.Audio = speech
		}
	}

	p.logger.Info("Interpreted clip",
		zap.Int("person", person),
		zap.String("source", source),
		zap.String("target", target),
		zap.Int("audioBytes", len(result.Audio)))
	return result, nil
}

func (p *PipelineInterpreter) recognize(ctx context.Context, audio []byte, format string, settings entities.LanguageSettings) (int, string, error) {
	for person, language := range []string{settings.Language1, settings.Language2} {
		text, err := p.stt.TranscribeAudio(ctx, audio, repositories.AudioConfig{
			SampleRate: p.sampleRate,
			Encoding:   format,
			Language:   language,
		})
		if err != nil {
			return 0, "", fmt.Errorf("failed to transcribe: %w", err)
		}
		if strings.TrimSpace(text) != "" {
			return person + 1, text, nil
		}
	}
	return 0, "", ErrNoSpeech
}

func (p *PipelineInterpreter) synthesize(ctx context.Context, text string) ([]byte, error) {
	chunks, err := p.tts.ConvertTextToSpeech(ctx, text)
	if err != nil {
		return nil, err
	}
	var audio []byte
	for chunk := range chunks {
		audio = append(audio, chunk...)
	}
	return audio, nil
}
