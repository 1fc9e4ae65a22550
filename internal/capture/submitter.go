package capture

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/arunika/interpreter/domain"
	"github.com/satriahrh/arunika/interpreter/domain/entities"
	"github.com/satriahrh/arunika/interpreter/domain/repositories"
	"github.com/satriahrh/arunika/interpreter/internal/protocol"
)

// storeTimeout bounds reading and deleting one segment file
const storeTimeout = 10 * time.Second

// Sender is the part of the connection manager used for uploads
type Sender interface {
	State() entities.ConnectionState
	// SendNow fails instead of queueing when the connection is not open
	SendNow(ctx context.Context, frame any) error
	Capabilities() entities.ServiceCapabilities
}

// LanguageSource provides the language pair segments are submitted under
type LanguageSource interface {
	Active() entities.LanguageSettings
}

// SubmitterHooks are optional callbacks fired from the upload worker
type SubmitterHooks struct {
	// OnSent runs after a segment was written to the connection
	OnSent func(segment entities.AudioSegment)
	// OnSettled runs once per segment after it reached Sent or Failed
	OnSettled func(segment entities.AudioSegment)
	// OnError receives user-facing submission errors
	OnError func(err error)
}

// Submitter uploads segments one at a time in the order they were flushed.
// A segment that arrives while another is being sent waits its turn.
type Submitter struct {
	sender    Sender
	languages LanguageSource
	store     repositories.SegmentStore
	hooks     SubmitterHooks
	logger    *zap.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []*entities.AudioSegment
	closed  bool
	started bool
	warned  bool
	done    chan struct{}
}

// NewSubmitter creates a submitter. Call Start to run its worker.
func NewSubmitter(sender Sender, languages LanguageSource, store repositories.SegmentStore, hooks SubmitterHooks, logger *zap.Logger) *Submitter {
	s := &Submitter{
		sender:    sender,
		languages: languages,
		store:     store,
		hooks:     hooks,
		logger:    logger,
		done:      make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Start runs the upload worker
func (s *Submitter) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	go s.run()
}

// Enqueue adds a finished segment to the upload queue
func (s *Submitter) Enqueue(segment *entities.AudioSegment) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.logger.Warn("Submitter closed, discarding segment", zap.String("segmentID", segment.ID))
		segment.SendState = entities.SendStateFailed
		s.discard(*segment)
		return
	}
	s.queue = append(s.queue, segment)
	s.cond.Signal()
	s.mu.Unlock()
}

// Pending returns the number of segments waiting for upload
func (s *Submitter) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Close stops accepting segments and waits until the queued ones are
// processed or ctx is done.
func (s *Submitter) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	started := s.started
	s.cond.Broadcast()
	s.mu.Unlock()

	if !started {
		return nil
	}
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Submitter) run() {
	defer close(s.done)

	for {
		segment, ok := s.next()
		if !ok {
			return
		}
		s.process(segment)
	}
}

func (s *Submitter) next() (*entities.AudioSegment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.queue) == 0 && !s.closed {
		s.cond.Wait()
	}
	if len(s.queue) == 0 {
		return nil, false
	}
	segment := s.queue[0]
	s.queue = s.queue[1:]
	return segment, true
}

// process uploads one segment. Its file is deleted whatever the outcome.
func (s *Submitter) process(segment *entities.AudioSegment) {
	defer func() {
		s.discard(*segment)
		if s.hooks.OnSettled != nil {
			s.hooks.OnSettled(*segment)
		}
	}()

	logger := s.logger.With(zap.String("segmentID", segment.ID), zap.Int("sequence", segment.Sequence))

	if state := s.sender.State(); state != entities.ConnectionStateConnected {
		segment.SendState = entities.SendStateFailed
		logger.Warn("Dropping segment while not connected", zap.String("state", string(state)))
		return
	}

	if !s.languages.Active().Complete() {
		segment.SendState = entities.SendStateFailed
		s.warnOnce(fmt.Errorf("%w: choose both languages before speaking", domain.ErrNegotiation))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	data, err := s.store.Read(ctx, segment.SourceURI)
	cancel()
	if err != nil {
		segment.SendState = entities.SendStateFailed
		logger.Error("Failed to read segment", zap.String("uri", segment.SourceURI), zap.Error(err))
		return
	}

	if limit := s.sender.Capabilities().MaxAudioSize; limit > 0 && int64(len(data)) > limit {
		segment.SendState = entities.SendStateFailed
		logger.Warn("Segment exceeds service limit",
			zap.Int("size", len(data)),
			zap.Int64("maxAudioSize", limit))
		return
	}

	segment.SendState = entities.SendStateSending
	if err := s.sender.SendNow(context.Background(), protocol.NewAudioFrame(data, segment.Format)); err != nil {
		segment.SendState = entities.SendStateFailed
		logger.Error("Failed to send segment", zap.Error(fmt.Errorf("%w: %v", domain.ErrSend, err)))
		return
	}

	segment.SendState = entities.SendStateSent
	s.mu.Lock()
	s.warned = false
	s.mu.Unlock()

	logger.Debug("Segment sent", zap.Int("size", len(data)))
	if s.hooks.OnSent != nil {
		s.hooks.OnSent(*segment)
	}
}

// warnOnce surfaces err unless it was already surfaced since the last
// successful send
func (s *Submitter) warnOnce(err error) {
	s.mu.Lock()
	already := s.warned
	s.warned = true
	s.mu.Unlock()

	s.logger.Warn("Segment rejected", zap.Error(err))
	if !already && s.hooks.OnError != nil {
		s.hooks.OnError(err)
	}
}

func (s *Submitter) discard(segment entities.AudioSegment) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if err := s.store.Delete(ctx, segment.SourceURI); err != nil {
		s.logger.Warn("Failed to delete segment file",
			zap.String("segmentID", segment.ID),
			zap.String("uri", segment.SourceURI),
			zap.Error(err))
	}
}
