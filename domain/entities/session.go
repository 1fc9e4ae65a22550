package entities

// ConnectionState represents the state of the persistent connection
type ConnectionState string

const (
	ConnectionStateDisconnected ConnectionState = "disconnected"
	ConnectionStateConnecting   ConnectionState = "connecting"
	ConnectionStateConnected    ConnectionState = "connected"
)

// Language describes a language offered by the translation service
type Language struct {
	Name string `json:"name" bson:"name"`
	Code string `json:"code" bson:"code"`
}

// LanguageSettings is the negotiated language pair. An empty code means the
// slot has not been chosen yet.
type LanguageSettings struct {
	Language1 string `json:"language1" bson:"language1"`
	Language2 string `json:"language2" bson:"language2"`
}

// Complete reports whether both languages are set
func (l LanguageSettings) Complete() bool {
	return l.Language1 != "" && l.Language2 != ""
}

// IsZero reports whether neither language is set
func (l LanguageSettings) IsZero() bool {
	return l.Language1 == "" && l.Language2 == ""
}

// Valid checks the pair invariant: both set and different
func (l LanguageSettings) Valid() bool {
	return l.Complete() && l.Language1 != l.Language2
}

// LanguageState separates the pair the server has confirmed from the pair the
// client has requested but not yet seen acknowledged.
type LanguageState struct {
	Confirmed LanguageSettings  `json:"confirmed"`
	Pending   *LanguageSettings `json:"pending,omitempty"`
}

// Active returns the pair the session should currently work with: the
// pending request if there is one, otherwise the confirmed pair.
func (s LanguageState) Active() LanguageSettings {
	if s.Pending != nil {
		return *s.Pending
	}
	return s.Confirmed
}

// IsConfirmed reports whether a complete pair is confirmed and nothing newer
// is waiting for acknowledgment.
func (s LanguageState) IsConfirmed() bool {
	return s.Pending == nil && s.Confirmed.Complete()
}

// ServiceCapabilities is what the remote service announced in its
// initialization frame.
type ServiceCapabilities struct {
	SupportedLanguages map[string]Language `json:"supported_languages"`
	SupportedFormats   []string            `json:"supported_formats"`
	MaxAudioSize       int64               `json:"max_audio_size"`
}

// SupportsLanguage reports whether code is known. An empty catalog accepts
// everything because the service has not announced one yet.
func (c ServiceCapabilities) SupportsLanguage(code string) bool {
	if len(c.SupportedLanguages) == 0 {
		return true
	}
	_, ok := c.SupportedLanguages[code]
	return ok
}

// SupportsFormat reports whether format is accepted, with the same empty
// catalog rule as SupportsLanguage.
func (c ServiceCapabilities) SupportsFormat(format string) bool {
	if len(c.SupportedFormats) == 0 {
		return true
	}
	for _, f := range c.SupportedFormats {
		if f == format {
			return true
		}
	}
	return false
}
