package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/satriahrh/arunika/interpreter/domain/entities"
)

// Kind defines the type of an inbound frame
type Kind string

// Inbound frame kinds
const (
	KindInitialization Kind = "initialization"
	KindTranslation    Kind = "translation"
	KindConfig         Kind = "config"
	KindError          Kind = "error"
)

// DefaultAudioFormat is the container produced by mobile capture devices
const DefaultAudioFormat = "aac"

// Frame is an inbound frame. The concrete types below form a closed set.
type Frame interface {
	Kind() Kind
}

// TextPart is one side of a translation
type TextPart struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

// InitializationFrame is sent by the service right after the connection opens
type InitializationFrame struct {
	Type               Kind                         `json:"type"`
	SupportedLanguages map[string]entities.Language `json:"supportedLanguages"`
	CurrentSettings    WireSettings                 `json:"currentSettings"`
	SupportedFormats   []string                     `json:"supportedFormats"`
	MaxAudioSize       int64                        `json:"maxAudioSize"`
}

func (InitializationFrame) Kind() Kind { return KindInitialization }

// Settings returns the language pair the service currently holds
func (f InitializationFrame) Settings() entities.LanguageSettings {
	return f.CurrentSettings.settings()
}

// Capabilities converts the frame into the service capability snapshot
func (f InitializationFrame) Capabilities() entities.ServiceCapabilities {
	languages := make(map[string]entities.Language, len(f.SupportedLanguages))
	for code, lang := range f.SupportedLanguages {
		if lang.Code == "" {
			lang.Code = code
		}
		languages[code] = lang
	}
	return entities.ServiceCapabilities{
		SupportedLanguages: languages,
		SupportedFormats:   append([]string(nil), f.SupportedFormats...),
		MaxAudioSize:       f.MaxAudioSize,
	}
}

// TranslationFrame carries one recognized and translated turn
type TranslationFrame struct {
	Type             Kind         `json:"type"`
	Person           int          `json:"person"`
	Original         TextPart     `json:"original"`
	Translated       TextPart     `json:"translated"`
	Audio            string       `json:"audio,omitempty"` // base64 encoded
	LanguageSettings WireSettings `json:"languageSettings"`
}

func (TranslationFrame) Kind() Kind { return KindTranslation }

// Settings returns the language pair echoed with the translation
func (f TranslationFrame) Settings() entities.LanguageSettings {
	return f.LanguageSettings.settings()
}

// DecodeAudio returns the synthesized speech payload, if any
func (f TranslationFrame) DecodeAudio() ([]byte, error) {
	if f.Audio == "" {
		return nil, nil
	}
	data, err := base64.StdEncoding.DecodeString(f.Audio)
	if err != nil {
		return nil, fmt.Errorf("decode translation audio: %w", err)
	}
	return data, nil
}

// ConfigFrame is the authoritative language pair held by the service
type ConfigFrame struct {
	Type             Kind         `json:"type"`
	LanguageSettings WireSettings `json:"languageSettings"`
}

func (ConfigFrame) Kind() Kind { return KindConfig }

// Settings returns the confirmed language pair
func (f ConfigFrame) Settings() entities.LanguageSettings {
	return f.LanguageSettings.settings()
}

// ErrorFrame reports a non-fatal service error
type ErrorFrame struct {
	Type    Kind   `json:"type"`
	Message string `json:"message"`
}

func (ErrorFrame) Kind() Kind { return KindError }

// WireSettings is a language pair on the wire; null marks an unset language
type WireSettings struct {
	Language1 *string `json:"language1"`
	Language2 *string `json:"language2"`
}

func (w WireSettings) settings() entities.LanguageSettings {
	var s entities.LanguageSettings
	if w.Language1 != nil {
		s.Language1 = strings.TrimSpace(*w.Language1)
	}
	if w.Language2 != nil {
		s.Language2 = strings.TrimSpace(*w.Language2)
	}
	return s
}

// ToWire converts a language pair into its wire form, encoding unset
// languages as null.
func ToWire(s entities.LanguageSettings) WireSettings {
	var w WireSettings
	if s.Language1 != "" {
		l1 := s.Language1
		w.Language1 = &l1
	}
	if s.Language2 != "" {
		l2 := s.Language2
		w.Language2 = &l2
	}
	return w
}

// SetLanguagesFrame asks the service to switch to a language pair
type SetLanguagesFrame struct {
	SetLanguages entities.LanguageSettings `json:"setLanguages"`
}

// AudioFrame carries one encoded audio segment
type AudioFrame struct {
	Audio  string `json:"audio"` // base64 encoded
	Format string `json:"format"`
}

// NewSetLanguagesFrame creates a negotiation frame
func NewSetLanguagesFrame(language1, language2 string) SetLanguagesFrame {
	return SetLanguagesFrame{SetLanguages: entities.LanguageSettings{Language1: language1, Language2: language2}}
}

// NewAudioFrame base64-encodes a segment for transmission
func NewAudioFrame(data []byte, format string) AudioFrame {
	if format == "" {
		format = DefaultAudioFormat
	}
	return AudioFrame{
		Audio:  base64.StdEncoding.EncodeToString(data),
		Format: format,
	}
}

// Encode marshals an outbound frame
func Encode(frame any) ([]byte, error) {
	data, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return data, nil
}

// Decode parses an inbound text frame into its concrete type
func Decode(data []byte) (Frame, error) {
	var envelope struct {
		Type Kind `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("invalid JSON format: %w", err)
	}

	switch Kind(strings.TrimSpace(string(envelope.Type))) {
	case KindInitialization:
		var frame InitializationFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			return nil, fmt.Errorf("invalid initialization frame: %w", err)
		}
		return frame, nil

	case KindTranslation:
		var frame TranslationFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			return nil, fmt.Errorf("invalid translation frame: %w", err)
		}
		return frame, nil

	case KindConfig:
		var frame ConfigFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			return nil, fmt.Errorf("invalid config frame: %w", err)
		}
		return frame, nil

	case KindError:
		var frame ErrorFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			return nil, fmt.Errorf("invalid error frame: %w", err)
		}
		return frame, nil

	case "":
		return nil, fmt.Errorf("frame missing type field")

	default:
		return nil, fmt.Errorf("unsupported frame type: %s", envelope.Type)
	}
}
