package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/satriahrh/arunika/interpreter/domain/entities"
)

const (
	// Redis key prefix for transcripts
	transcriptKeyPrefix = "transcript:"
	// Default TTL for transcript keys (7 days)
	defaultTTL = 7 * 24 * time.Hour
)

// TranscriptStore keeps each conversation as a Redis list in arrival order.
type TranscriptStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewClient connects to Redis at addr and verifies the connection
func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}
	return client, nil
}

// NewTranscriptStore creates a Redis-backed transcript store.
func NewTranscriptStore(client *redis.Client, ttl time.Duration) *TranscriptStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &TranscriptStore{
		client: client,
		ttl:    ttl,
	}
}

// Append implements TranscriptStore.
// Pushes the utterance to the tail of the list and refreshes the TTL.
func (s *TranscriptStore) Append(ctx context.Context, conversationID string, utterance entities.Utterance) error {
	if conversationID == "" {
		return errors.New("conversation ID cannot be empty")
	}
	if err := utterance.Validate(); err != nil {
		return err
	}

	utterance.ConversationID = conversationID
	val, err := json.Marshal(utterance)
	if err != nil {
		return fmt.Errorf("failed to encode utterance: %w", err)
	}

	key := s.key(conversationID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, val)
		pipe.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to append utterance: %w", err)
	}
	return nil
}

// List implements TranscriptStore.
// Returns an empty slice if the conversation is not found.
func (s *TranscriptStore) List(ctx context.Context, conversationID string) ([]entities.Utterance, error) {
	if conversationID == "" {
		return nil, errors.New("conversation ID cannot be empty")
	}

	vals, err := s.client.LRange(ctx, s.key(conversationID), 0, -1).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to list utterances: %w", err)
	}

	utterances := make([]entities.Utterance, 0, len(vals))
	for _, val := range vals {
		var utterance entities.Utterance
		if err := json.Unmarshal([]byte(val), &utterance); err != nil {
			return nil, fmt.Errorf("failed to decode utterance: %w", err)
		}
		utterances = append(utterances, utterance)
	}
	return utterances, nil
}

// Close implements TranscriptStore.
func (s *TranscriptStore) Close(ctx context.Context) error {
	return s.client.Close()
}

// key constructs the Redis key for a conversation ID.
func (s *TranscriptStore) key(conversationID string) string {
	return transcriptKeyPrefix + conversationID
}
