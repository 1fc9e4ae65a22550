// Package conversation turns translation frames into the ordered utterance
// log of a conversation.
package conversation

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/interpreter/domain/entities"
	"github.com/satriahrh/arunika/interpreter/domain/repositories"
	"github.com/satriahrh/arunika/interpreter/internal/protocol"
)

// persistTimeout bounds one transcript write
const persistTimeout = 5 * time.Second

// Assembler appends utterances in the order translation frames arrive. It
// never reorders by speaker or timestamp.
type Assembler struct {
	conversationID string
	store          repositories.TranscriptStore
	logger         *zap.Logger
	now            func() time.Time

	mu         sync.Mutex
	utterances []entities.Utterance
	lastOrder  int64
	awaiting   bool
	listeners  []func(entities.Utterance)
}

// NewAssembler creates an empty log. store may be nil.
func NewAssembler(conversationID string, store repositories.TranscriptStore, logger *zap.Logger) *Assembler {
	return &Assembler{
		conversationID: conversationID,
		store:          store,
		logger:         logger.With(zap.String("conversationID", conversationID)),
		now:            time.Now,
	}
}

// Restore loads a previously persisted log. It only works on an empty
// assembler.
func (a *Assembler) Restore(ctx context.Context) error {
	if a.store == nil {
		return nil
	}

	utterances, err := a.store.List(ctx, a.conversationID)
	if err != nil {
		return fmt.Errorf("restore transcript: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.utterances) > 0 {
		return fmt.Errorf("restore transcript: log already has %d utterances", len(a.utterances))
	}
	a.utterances = utterances
	for _, u := range utterances {
		if u.ArrivalOrder > a.lastOrder {
			a.lastOrder = u.ArrivalOrder
		}
	}

	a.logger.Info("Transcript restored", zap.Int("utterances", len(utterances)))
	return nil
}

// OnUtterance registers a listener called for every appended utterance, in
// arrival order
func (a *Assembler) OnUtterance(fn func(entities.Utterance)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listeners = append(a.listeners, fn)
}

// MarkAwaiting records that audio was sent and a translation is expected
func (a *Assembler) MarkAwaiting() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.awaiting = true
}

// Awaiting reports whether a translation is expected
func (a *Assembler) Awaiting() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.awaiting
}

// Utterances returns a copy of the log, audio included
func (a *Assembler) Utterances() []entities.Utterance {
	a.mu.Lock()
	defer a.mu.Unlock()

	utterances := make([]entities.Utterance, len(a.utterances))
	for i, u := range a.utterances {
		utterances[i] = cloneUtterance(u)
	}
	return utterances
}

func cloneUtterance(u entities.Utterance) entities.Utterance {
	u.TTSAudio = bytes.Clone(u.TTSAudio)
	return u
}

// HandleTranslation appends the utterance carried by frame. Frames without a
// known speaker are dropped and reported false; they still end the wait for
// a response.
func (a *Assembler) HandleTranslation(frame protocol.TranslationFrame) (entities.Utterance, bool) {
	speaker := entities.Speaker(frame.Person)
	if !speaker.Valid() {
		a.mu.Lock()
		a.awaiting = false
		a.mu.Unlock()
		a.logger.Warn("Dropping translation with unknown speaker", zap.Int("person", frame.Person))
		return entities.Utterance{}, false
	}

	audio, err := frame.DecodeAudio()
	if err != nil {
		a.logger.Warn("Ignoring undecodable translation audio", zap.Error(err))
	}

	a.mu.Lock()
	a.lastOrder++
	utterance := entities.Utterance{
		ID:             uuid.NewString(),
		ConversationID: a.conversationID,
		Speaker:        speaker,
		SourceText:     frame.Original.Text,
		SourceLanguage: frame.Original.Language,
		TranslatedText: frame.Translated.Text,
		TargetLanguage: frame.Translated.Language,
		TTSAudio:       audio,
		ArrivalOrder:   a.lastOrder,
		ReceivedAt:     a.now(),
	}
	a.utterances = append(a.utterances, utterance)
	a.awaiting = false
	listeners := slices.Clone(a.listeners)
	a.mu.Unlock()

	a.logger.Debug("Utterance appended",
		zap.String("utteranceID", utterance.ID),
		zap.Int64("arrivalOrder", utterance.ArrivalOrder),
		zap.Int("speaker", int(utterance.Speaker)))

	a.persist(utterance)
	for _, fn := range listeners {
		fn(cloneUtterance(utterance))
	}
	return cloneUtterance(utterance), true
}

func (a *Assembler) persist(utterance entities.Utterance) {
	if a.store == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := a.store.Append(ctx, a.conversationID, utterance); err != nil {
		a.logger.Warn("Failed to persist utterance",
			zap.String("utteranceID", utterance.ID),
			zap.Error(err))
	}
}
