package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/satriahrh/arunika/interpreter/domain/entities"
)

// ClientFrame is a frame sent by a session to the service: either
// *SetLanguagesFrame or *AudioFrame.
type ClientFrame interface {
	clientFrame()
}

func (*SetLanguagesFrame) clientFrame() {}
func (*AudioFrame) clientFrame()        {}

// DecodeClient parses and validates a frame received from a session. Client
// frames are untagged, so the payload key decides the type.
func DecodeClient(data []byte) (ClientFrame, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("invalid JSON format: %w", err)
	}
	if fields == nil {
		return nil, fmt.Errorf("empty frame")
	}

	if _, ok := fields["setLanguages"]; ok {
		var frame SetLanguagesFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			return nil, fmt.Errorf("invalid setLanguages frame: %w", err)
		}
		if err := validateSetLanguages(&frame); err != nil {
			return nil, err
		}
		return &frame, nil
	}

	if _, ok := fields["audio"]; ok {
		var frame AudioFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			return nil, fmt.Errorf("invalid audio frame: %w", err)
		}
		if err := validateAudio(&frame); err != nil {
			return nil, err
		}
		return &frame, nil
	}

	return nil, fmt.Errorf("unsupported client frame")
}

// validateSetLanguages validates negotiation frame fields
func validateSetLanguages(frame *SetLanguagesFrame) error {
	s := frame.SetLanguages
	if strings.TrimSpace(s.Language1) == "" || strings.TrimSpace(s.Language2) == "" {
		return fmt.Errorf("language1 and language2 are required")
	}
	if s.Language1 == s.Language2 {
		return fmt.Errorf("language1 and language2 must differ")
	}
	return nil
}

// validateAudio validates audio frame fields
func validateAudio(frame *AudioFrame) error {
	if frame.Audio == "" {
		return fmt.Errorf("audio is required")
	}
	if frame.Format == "" {
		return fmt.Errorf("format is required")
	}
	if _, err := base64.StdEncoding.DecodeString(frame.Audio); err != nil {
		return fmt.Errorf("audio must be base64 encoded: %w", err)
	}
	return nil
}

// DecodeAudio returns the raw segment bytes
func (f *AudioFrame) DecodeAudio() ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(f.Audio)
	if err != nil {
		return nil, fmt.Errorf("decode audio frame: %w", err)
	}
	return data, nil
}

// NewInitializationFrame creates the greeting a service sends on connect
func NewInitializationFrame(caps entities.ServiceCapabilities, current entities.LanguageSettings) *InitializationFrame {
	return &InitializationFrame{
		Type:               KindInitialization,
		SupportedLanguages: caps.SupportedLanguages,
		CurrentSettings:    ToWire(current),
		SupportedFormats:   caps.SupportedFormats,
		MaxAudioSize:       caps.MaxAudioSize,
	}
}

// NewConfigFrame creates a language pair acknowledgment
func NewConfigFrame(settings entities.LanguageSettings) *ConfigFrame {
	return &ConfigFrame{
		Type:             KindConfig,
		LanguageSettings: ToWire(settings),
	}
}

// NewTranslationFrame creates a translated turn. audio may be nil.
func NewTranslationFrame(person int, original, translated TextPart, audio []byte, settings entities.LanguageSettings) *TranslationFrame {
	frame := &TranslationFrame{
		Type:             KindTranslation,
		Person:           person,
		Original:         original,
		Translated:       translated,
		LanguageSettings: ToWire(settings),
	}
	if len(audio) > 0 {
		frame.Audio = base64.StdEncoding.EncodeToString(audio)
	}
	return frame
}

// NewErrorFrame creates a standardized error frame
func NewErrorFrame(message string) *ErrorFrame {
	return &ErrorFrame{
		Type:    KindError,
		Message: message,
	}
}
