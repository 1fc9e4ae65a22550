package entities

import (
	"errors"
	"time"
)

// Speaker identifies which side of the conversation produced an utterance
type Speaker int

const (
	SpeakerOne Speaker = 1
	SpeakerTwo Speaker = 2
)

// Valid reports whether the speaker is one of the two participants
func (s Speaker) Valid() bool {
	return s == SpeakerOne || s == SpeakerTwo
}

// Utterance is one assembled conversational turn. Once appended to a
// conversation log it is never mutated or reordered.
type Utterance struct {
	ID             string    `json:"id" bson:"_id"`
	ConversationID string    `json:"conversation_id" bson:"conversation_id"`
	Speaker        Speaker   `json:"speaker" bson:"speaker"`
	SourceText     string    `json:"source_text" bson:"source_text"`
	SourceLanguage string    `json:"source_language" bson:"source_language"`
	TranslatedText string    `json:"translated_text" bson:"translated_text"`
	TargetLanguage string    `json:"target_language" bson:"target_language"`
	TTSAudio       []byte    `json:"tts_audio,omitempty" bson:"tts_audio,omitempty"`
	ArrivalOrder   int64     `json:"arrival_order" bson:"arrival_order"`
	ReceivedAt     time.Time `json:"received_at" bson:"received_at"`
}

// HasAudio reports whether the service attached synthesized speech
func (u Utterance) HasAudio() bool {
	return len(u.TTSAudio) > 0
}

// Validate validates the utterance data
func (u Utterance) Validate() error {
	if u.ID == "" {
		return errors.New("id is required")
	}
	if u.ArrivalOrder <= 0 {
		return errors.New("arrival order must be positive")
	}
	return nil
}
