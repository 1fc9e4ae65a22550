// Package capture drives the rolling microphone capture loop and the ordered
// upload of finished segments.
package capture

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/interpreter/domain"
	"github.com/satriahrh/arunika/interpreter/domain/entities"
	"github.com/satriahrh/arunika/interpreter/domain/repositories"
	"github.com/satriahrh/arunika/interpreter/internal/protocol"
)

const (
	// DefaultSegmentDuration is the length of one capture window
	DefaultSegmentDuration = 5 * time.Second

	// deviceTimeout bounds a start or stop call made from the boundary timer
	deviceTimeout = 10 * time.Second
)

// State is the capture loop state
type State string

const (
	StateIdle      State = "idle"
	StateRecording State = "recording"
	StateFlushing  State = "flushing"
)

// SegmentSink receives finished segments. It must not block.
type SegmentSink interface {
	Enqueue(segment *entities.AudioSegment)
}

// SegmenterConfig holds the capture loop settings
type SegmenterConfig struct {
	SegmentDuration time.Duration
	Format          string
}

// Segmenter records fixed-length segments back to back. The next segment
// only starts after the previous one has been stopped on the device.
type Segmenter struct {
	device  repositories.AudioCaptureDevice
	sink    SegmentSink
	clock   clock.Clock
	config  SegmenterConfig
	logger  *zap.Logger
	onFatal func(error)

	// op serializes every device call
	op sync.Mutex

	mu         sync.Mutex
	state      State
	active     bool
	handle     repositories.CaptureHandle
	timer      *clock.Timer
	generation int
	sequence   int
}

// NewSegmenter creates an idle segmenter
func NewSegmenter(device repositories.AudioCaptureDevice, sink SegmentSink, clk clock.Clock, config SegmenterConfig, logger *zap.Logger) *Segmenter {
	if config.SegmentDuration <= 0 {
		config.SegmentDuration = DefaultSegmentDuration
	}
	if config.Format == "" {
		config.Format = protocol.DefaultAudioFormat
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Segmenter{
		device: device,
		sink:   sink,
		clock:  clk,
		config: config,
		logger: logger,
		state:  StateIdle,
	}
}

// OnFatal registers the callback for capture failures that stop the loop
func (s *Segmenter) OnFatal(fn func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onFatal = fn
}

// State returns the current loop state
func (s *Segmenter) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start begins continuous capture. Calling it while capturing is a no-op.
func (s *Segmenter) Start(ctx context.Context) error {
	s.op.Lock()
	defer s.op.Unlock()

	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	handle, err := s.device.StartSegment(ctx)
	if err != nil {
		return fmt.Errorf("%w: start recording: %v", domain.ErrCapture, err)
	}

	s.mu.Lock()
	s.active = true
	s.generation++
	s.recordingLocked(handle)
	s.mu.Unlock()

	s.logger.Info("Capture started", zap.Duration("segmentDuration", s.config.SegmentDuration))
	return nil
}

// recordingLocked enters Recording with handle and schedules its boundary
func (s *Segmenter) recordingLocked(handle repositories.CaptureHandle) {
	if handle.StartedAt.IsZero() {
		handle.StartedAt = s.clock.Now()
	}
	s.handle = handle
	s.state = StateRecording
	gen := s.generation
	s.timer = s.clock.AfterFunc(s.config.SegmentDuration, func() { s.boundary(gen) })
}

// boundary closes the current segment and opens the next one
func (s *Segmenter) boundary(gen int) {
	s.op.Lock()
	defer s.op.Unlock()

	s.mu.Lock()
	if !s.active || gen != s.generation || s.state != StateRecording {
		s.mu.Unlock()
		return
	}
	s.state = StateFlushing
	handle := s.handle
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), deviceTimeout)
	defer cancel()

	segment, err := s.finish(ctx, handle)
	if err != nil {
		s.fail(err)
		return
	}

	next, err := s.device.StartSegment(ctx)
	if err != nil {
		s.sink.Enqueue(segment)
		s.fail(fmt.Errorf("%w: start recording: %v", domain.ErrCapture, err))
		return
	}

	s.mu.Lock()
	if s.active && gen == s.generation {
		s.recordingLocked(next)
	}
	s.mu.Unlock()

	s.sink.Enqueue(segment)
}

// Stop ends capture and hands over the final partial segment. Safe to call
// when already stopped.
func (s *Segmenter) Stop(ctx context.Context) error {
	s.op.Lock()
	defer s.op.Unlock()

	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return nil
	}
	s.active = false
	s.generation++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	recording := s.state == StateRecording
	s.state = StateFlushing
	handle := s.handle
	s.mu.Unlock()

	var err error
	if recording {
		var segment *entities.AudioSegment
		segment, err = s.finish(ctx, handle)
		if err == nil {
			s.sink.Enqueue(segment)
		}
	}

	s.mu.Lock()
	s.state = StateIdle
	s.mu.Unlock()

	s.logger.Info("Capture stopped")
	return err
}

// finish stops the device recording and wraps the file as a segment
func (s *Segmenter) finish(ctx context.Context, handle repositories.CaptureHandle) (*entities.AudioSegment, error) {
	uri, err := s.device.StopSegment(ctx, handle)
	if err != nil {
		return nil, fmt.Errorf("%w: stop recording: %v", domain.ErrCapture, err)
	}

	s.mu.Lock()
	s.sequence++
	sequence := s.sequence
	s.mu.Unlock()

	segment := entities.NewAudioSegment(sequence, uri, s.config.Format, handle.StartedAt, s.clock.Since(handle.StartedAt))
	s.logger.Debug("Segment finalized",
		zap.String("segmentID", segment.ID),
		zap.Int("sequence", sequence),
		zap.Duration("duration", segment.Duration))
	return segment, nil
}

// fail stops the loop after a device error
func (s *Segmenter) fail(err error) {
	s.mu.Lock()
	s.active = false
	s.generation++
	s.state = StateIdle
	onFatal := s.onFatal
	s.mu.Unlock()

	s.logger.Error("Capture loop stopped", zap.Error(err))
	if onFatal != nil {
		onFatal(err)
	}
}
