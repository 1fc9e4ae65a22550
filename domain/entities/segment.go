package entities

import (
	"time"

	"github.com/google/uuid"
)

// SendState tracks an audio segment through submission
type SendState string

const (
	SendStatePending SendState = "pending"
	SendStateSending SendState = "sending"
	SendStateSent    SendState = "sent"
	SendStateFailed  SendState = "failed"
)

// AudioSegment is one bounded window of captured microphone audio. The file
// behind SourceURI is deleted as soon as the segment leaves Pending.
type AudioSegment struct {
	ID         string        `json:"id"`
	Sequence   int           `json:"sequence"`
	SourceURI  string        `json:"source_uri"`
	Format     string        `json:"format"`
	RecordedAt time.Time     `json:"recorded_at"`
	Duration   time.Duration `json:"duration"`
	SendState  SendState     `json:"send_state"`
}

// NewAudioSegment creates a pending segment for a finalized capture file
func NewAudioSegment(sequence int, sourceURI, format string, recordedAt time.Time, duration time.Duration) *AudioSegment {
	return &AudioSegment{
		ID:         uuid.NewString(),
		Sequence:   sequence,
		SourceURI:  sourceURI,
		Format:     format,
		RecordedAt: recordedAt,
		Duration:   duration,
		SendState:  SendStatePending,
	}
}
