package repositories

import (
	"context"

	"github.com/satriahrh/arunika/interpreter/domain/entities"
)

// SegmentStore gives access to the temporary files produced by a capture device
type SegmentStore interface {
	Read(ctx context.Context, uri string) ([]byte, error)
	Delete(ctx context.Context, uri string) error
}

// TranscriptStore persists the utterance log of a conversation. List returns
// utterances in arrival order.
type TranscriptStore interface {
	Append(ctx context.Context, conversationID string, utterance entities.Utterance) error
	List(ctx context.Context, conversationID string) ([]entities.Utterance, error)
	Close(ctx context.Context) error
}
