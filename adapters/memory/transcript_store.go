package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/satriahrh/arunika/interpreter/domain/entities"
)

// TranscriptStore is an in-memory implementation of TranscriptStore, used
// when no database is configured
type TranscriptStore struct {
	mu            sync.RWMutex
	conversations map[string][]entities.Utterance // conversation_id -> utterances in arrival order
	ids           map[string]struct{}             // utterance ids already stored
}

// NewTranscriptStore creates a new in-memory transcript store
func NewTranscriptStore() *TranscriptStore {
	return &TranscriptStore{
		conversations: make(map[string][]entities.Utterance),
		ids:           make(map[string]struct{}),
	}
}

// Append implements TranscriptStore interface
func (m *TranscriptStore) Append(ctx context.Context, conversationID string, utterance entities.Utterance) error {
	if conversationID == "" {
		return errors.New("conversation ID cannot be empty")
	}
	if err := utterance.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.ids[utterance.ID]; exists {
		return errors.New("utterance already stored")
	}

	log := m.conversations[conversationID]
	if n := len(log); n > 0 && log[n-1].ArrivalOrder >= utterance.ArrivalOrder {
		return errors.New("utterance arrived out of order")
	}

	// Store a copy so callers cannot mutate the log
	utteranceCopy := utterance
	utteranceCopy.ConversationID = conversationID
	utteranceCopy.TTSAudio = append([]byte(nil), utterance.TTSAudio...)
	m.conversations[conversationID] = append(log, utteranceCopy)
	m.ids[utterance.ID] = struct{}{}

	return nil
}

// List implements TranscriptStore interface
func (m *TranscriptStore) List(ctx context.Context, conversationID string) ([]entities.Utterance, error) {
	if conversationID == "" {
		return nil, errors.New("conversation ID cannot be empty")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	log := m.conversations[conversationID]
	// Return copies to prevent external modifications
	result := make([]entities.Utterance, len(log))
	for i, utterance := range log {
		utterance.TTSAudio = append([]byte(nil), utterance.TTSAudio...)
		result[i] = utterance
	}
	return result, nil
}

// Close implements TranscriptStore interface
func (m *TranscriptStore) Close(ctx context.Context) error {
	return nil
}
