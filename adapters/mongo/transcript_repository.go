package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/interpreter/domain/entities"
)

// TranscriptRepository stores utterances, one document each, in the
// "utterances" collection
type TranscriptRepository struct {
	client     *Client
	collection *mongo.Collection
	logger     *zap.Logger
}

// NewTranscriptRepository creates a MongoDB transcript store and ensures its
// indexes in the background
func NewTranscriptRepository(client *Client, logger *zap.Logger) *TranscriptRepository {
	collection := client.Database.Collection("utterances")

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// One arrival order per conversation keeps the log append-only
		orderIndex := mongo.IndexModel{
			Keys: bson.D{
				{Key: "conversation_id", Value: 1},
				{Key: "arrival_order", Value: 1},
			},
			Options: options.Index().SetUnique(true),
		}

		if _, err := collection.Indexes().CreateOne(ctx, orderIndex); err != nil {
			logger.Error("Failed to create utterance indexes", zap.Error(err))
		} else {
			logger.Info("Utterance indexes created successfully")
		}
	}()

	return &TranscriptRepository{
		client:     client,
		collection: collection,
		logger:     logger,
	}
}

// Append implements repositories.TranscriptStore
func (r *TranscriptRepository) Append(ctx context.Context, conversationID string, utterance entities.Utterance) error {
	if conversationID == "" {
		return errors.New("conversation ID cannot be empty")
	}
	if err := utterance.Validate(); err != nil {
		return err
	}

	utterance.ConversationID = conversationID
	if _, err := r.collection.InsertOne(ctx, utterance); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("utterance %s already stored: %w", utterance.ID, err)
		}
		return fmt.Errorf("failed to append utterance: %w", err)
	}
	return nil
}

// List implements repositories.TranscriptStore
func (r *TranscriptRepository) List(ctx context.Context, conversationID string) ([]entities.Utterance, error) {
	if conversationID == "" {
		return nil, errors.New("conversation ID cannot be empty")
	}

	opts := options.Find().SetSort(bson.D{{Key: "arrival_order", Value: 1}})
	cursor, err := r.collection.Find(ctx, bson.M{"conversation_id": conversationID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list utterances for conversation %s: %w", conversationID, err)
	}
	defer cursor.Close(ctx)

	utterances := []entities.Utterance{}
	if err := cursor.All(ctx, &utterances); err != nil {
		return nil, fmt.Errorf("failed to decode utterances: %w", err)
	}
	return utterances, nil
}

// Close implements repositories.TranscriptStore
func (r *TranscriptRepository) Close(ctx context.Context) error {
	return r.client.Close(ctx)
}
