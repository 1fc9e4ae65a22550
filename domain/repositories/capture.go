package repositories

import (
	"context"
	"time"
)

// CaptureHandle identifies one active recording on a capture device
type CaptureHandle struct {
	ID        string
	StartedAt time.Time
}

// AudioCaptureDevice abstracts the platform microphone. Only one recording
// may be active at a time; StopSegment returns once the file behind the
// returned URI is finalized.
type AudioCaptureDevice interface {
	// StartSegment begins a new bounded recording
	StartSegment(ctx context.Context) (CaptureHandle, error)
	// StopSegment stops the recording and returns the URI of the finished file
	StopSegment(ctx context.Context, handle CaptureHandle) (string, error)
}
