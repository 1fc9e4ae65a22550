// Package session wires the connection, negotiation, capture, conversation
// and playback components of one conversation together.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/interpreter/domain"
	"github.com/satriahrh/arunika/interpreter/domain/entities"
	"github.com/satriahrh/arunika/interpreter/domain/repositories"
	"github.com/satriahrh/arunika/interpreter/internal/capture"
	"github.com/satriahrh/arunika/interpreter/internal/conversation"
	"github.com/satriahrh/arunika/interpreter/internal/negotiation"
	"github.com/satriahrh/arunika/interpreter/internal/playback"
	"github.com/satriahrh/arunika/interpreter/internal/protocol"
	"github.com/satriahrh/arunika/interpreter/internal/websocket"
)

// alertBuffer is how many user-facing errors wait for the UI before new
// ones are dropped
const alertBuffer = 16

// Config holds per-conversation settings
type Config struct {
	ConversationID  string
	SegmentDuration time.Duration
	AudioFormat     string
	PlaybackFormat  string
	// AutoPlay plays the synthesized audio of every arriving utterance
	AutoPlay bool
}

// Dependencies are the platform capabilities a session drives
type Dependencies struct {
	Device      repositories.AudioCaptureDevice
	Segments    repositories.SegmentStore
	Synthesizer repositories.SpeechSynthesizer
	Player      repositories.AudioPlayer
	// Transcripts is optional
	Transcripts repositories.TranscriptStore
}

// Status is a read-only snapshot for the UI
type Status struct {
	ConversationID     string                       `json:"conversation_id"`
	ConnectionState    entities.ConnectionState     `json:"connection_state"`
	Languages          entities.LanguageState       `json:"languages"`
	PickerRequired     bool                         `json:"picker_required"`
	SupportedLanguages map[string]entities.Language `json:"supported_languages"`
	Capture            capture.State                `json:"capture"`
	Utterances         []entities.Utterance         `json:"utterances"`
	AwaitingResponse   bool                         `json:"awaiting_response"`
	ActivePlaybackID   string                       `json:"active_playback_id"`
}

// Manager is one conversation. It owns the connection, the recording and
// the playback output; nothing outside mutates them.
type Manager struct {
	config Config
	logger *zap.Logger

	client     *websocket.Client
	negotiator *negotiation.Negotiator
	assembler  *conversation.Assembler
	submitter  *capture.Submitter
	segmenter  *capture.Segmenter
	playback   *playback.Coordinator

	alerts        chan error
	unsubscribers []func()

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
}

// Option configures a Manager
type Option func(*managerOptions)

type managerOptions struct {
	clock clock.Clock
}

// WithClock replaces the clock driving segment boundaries
func WithClock(c clock.Clock) Option {
	return func(o *managerOptions) { o.clock = c }
}

// NewManager wires a session around client
func NewManager(client *websocket.Client, deps Dependencies, config Config, logger *zap.Logger, opts ...Option) *Manager {
	options := managerOptions{clock: clock.New()}
	for _, opt := range opts {
		opt(&options)
	}
	if config.AudioFormat == "" {
		config.AudioFormat = protocol.DefaultAudioFormat
	}

	logger = logger.With(zap.String("conversationID", config.ConversationID))
	m := &Manager{
		config: config,
		logger: logger,
		client: client,
		alerts: make(chan error, alertBuffer),
	}

	m.negotiator = negotiation.NewNegotiator(client, logger)
	m.assembler = conversation.NewAssembler(config.ConversationID, deps.Transcripts, logger)
	m.submitter = capture.NewSubmitter(client, m.negotiator, deps.Segments, capture.SubmitterHooks{
		OnSent:  func(entities.AudioSegment) { m.assembler.MarkAwaiting() },
		OnError: m.alert,
	}, logger)
	m.segmenter = capture.NewSegmenter(deps.Device, m.submitter, options.clock, capture.SegmenterConfig{
		SegmentDuration: config.SegmentDuration,
		Format:          config.AudioFormat,
	}, logger)
	m.segmenter.OnFatal(m.alert)
	m.playback = playback.NewCoordinator(deps.Synthesizer, deps.Player, config.PlaybackFormat, logger)

	m.subscribe()
	client.OnStateChange(func(state entities.ConnectionState) {
		m.logger.Info("Connection status changed", zap.String("state", string(state)))
	})
	if config.AutoPlay {
		m.assembler.OnUtterance(m.autoPlay)
	}
	return m
}

func (m *Manager) subscribe() {
	m.unsubscribers = append(m.unsubscribers,
		m.client.Subscribe(protocol.KindInitialization, func(frame protocol.Frame) {
			m.negotiator.HandleInitialization(frame.(protocol.InitializationFrame))
		}),
		m.client.Subscribe(protocol.KindConfig, func(frame protocol.Frame) {
			m.negotiator.HandleConfig(frame.(protocol.ConfigFrame))
		}),
		m.client.Subscribe(protocol.KindTranslation, func(frame protocol.Frame) {
			translation := frame.(protocol.TranslationFrame)
			m.negotiator.HandleTranslation(translation)
			m.assembler.HandleTranslation(translation)
		}),
		m.client.Subscribe(protocol.KindError, func(frame protocol.Frame) {
			m.alert(&domain.ServerError{Message: frame.(protocol.ErrorFrame).Message})
		}),
	)
}

// Start restores the transcript, connects and starts the reconnect
// watchdog. A failed first connect is left to the watchdog.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return errors.New("session already stopped")
	}
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	runCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.mu.Unlock()

	if err := m.assembler.Restore(ctx); err != nil {
		m.logger.Warn("Starting with an empty transcript", zap.Error(err))
	}

	m.submitter.Start()
	if !m.client.Connect(ctx) {
		m.logger.Warn("Initial connect failed, watchdog will retry")
	}
	m.client.StartWatchdog(runCtx)

	m.logger.Info("Session started")
	return nil
}

// Resume is the foreground trigger. It reconnects subject to the throttle.
func (m *Manager) Resume(ctx context.Context) bool {
	return m.client.Reconnect(ctx)
}

// SetLanguages requests a language pair
func (m *Manager) SetLanguages(ctx context.Context, language1, language2 string) error {
	return m.negotiator.SetLanguages(ctx, language1, language2)
}

// StartCapture starts the rolling microphone capture
func (m *Manager) StartCapture(ctx context.Context) error {
	if err := m.segmenter.Start(ctx); err != nil {
		m.alert(err)
		return err
	}
	return nil
}

// StopCapture stops capture and submits the final segment
func (m *Manager) StopCapture(ctx context.Context) error {
	return m.segmenter.Stop(ctx)
}

// Speak speaks text, or stops it when id is already speaking
func (m *Manager) Speak(ctx context.Context, text, language, id string) error {
	return m.playback.Speak(ctx, text, language, id)
}

// PlayPayload plays a base64 clip from the service
func (m *Manager) PlayPayload(ctx context.Context, base64Audio string) error {
	return m.playback.PlayPayload(ctx, base64Audio)
}

// PlayUtterance plays the synthesized audio of an utterance, falling back to
// speaking its translation. Playing the active utterance again stops it.
func (m *Manager) PlayUtterance(ctx context.Context, id string) error {
	for _, u := range m.assembler.Utterances() {
		if u.ID != id {
			continue
		}
		if u.HasAudio() && m.playback.ActiveID() != id {
			return m.playback.PlayAudio(ctx, u.ID, u.TTSAudio)
		}
		return m.playback.Speak(ctx, u.TranslatedText, u.TargetLanguage, u.ID)
	}
	return fmt.Errorf("utterance %s not found", id)
}

// StopPlayback silences any output
func (m *Manager) StopPlayback() error {
	return m.playback.Stop()
}

// Stop ends the session: watchdog, capture and playback stop, pending
// segments are flushed and the connection is closed on purpose. Calling it
// again is a no-op.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	cancel := m.cancel
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.client.StopWatchdog()

	var errs []error
	if err := m.segmenter.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := m.submitter.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("flush segments: %w", err))
	}
	if err := m.playback.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop playback: %w", err))
	}
	m.client.Disconnect()

	for _, unsubscribe := range m.unsubscribers {
		unsubscribe()
	}

	m.logger.Info("Session stopped", zap.Int("utterances", len(m.assembler.Utterances())))
	return errors.Join(errs...)
}

// Snapshot returns the current session status
func (m *Manager) Snapshot() Status {
	return Status{
		ConversationID:     m.config.ConversationID,
		ConnectionState:    m.client.State(),
		Languages:          m.negotiator.State(),
		PickerRequired:     m.negotiator.PickerRequired(),
		SupportedLanguages: m.client.Capabilities().SupportedLanguages,
		Capture:            m.segmenter.State(),
		Utterances:         m.assembler.Utterances(),
		AwaitingResponse:   m.assembler.Awaiting(),
		ActivePlaybackID:   m.playback.ActiveID(),
	}
}

// Alerts delivers the errors meant for the user: capture failures, missing
// languages and service error notices
func (m *Manager) Alerts() <-chan error {
	return m.alerts
}

// OnUtterance registers a listener for every new utterance
func (m *Manager) OnUtterance(fn func(entities.Utterance)) {
	m.assembler.OnUtterance(fn)
}

func (m *Manager) alert(err error) {
	if !domain.UserFacing(err) {
		m.logger.Debug("Suppressed non user-facing error", zap.Error(err))
		return
	}

	select {
	case m.alerts <- err:
	default:
		m.logger.Warn("Alert dropped, nobody is listening", zap.Error(err))
	}
}

func (m *Manager) autoPlay(u entities.Utterance) {
	if !u.HasAudio() {
		return
	}
	if err := m.playback.PlayAudio(context.Background(), u.ID, u.TTSAudio); err != nil {
		m.logger.Warn("Auto-play failed", zap.String("utteranceID", u.ID), zap.Error(err))
	}
}
