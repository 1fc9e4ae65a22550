// Package negotiation keeps the language pair of a session in step with the
// translation service.
package negotiation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/arunika/interpreter/domain"
	"github.com/satriahrh/arunika/interpreter/domain/entities"
	"github.com/satriahrh/arunika/interpreter/internal/protocol"
)

// resendTimeout bounds the negotiation frame re-sent after a reconnect
const resendTimeout = 10 * time.Second

// Connection is the part of the connection manager the negotiator drives
type Connection interface {
	Connect(ctx context.Context) bool
	Send(ctx context.Context, frame any) error
	Capabilities() entities.ServiceCapabilities
}

// Negotiator holds the confirmed and pending language pair
type Negotiator struct {
	conn   Connection
	logger *zap.Logger

	mu             sync.Mutex
	state          entities.LanguageState
	pickerRequired bool
}

// NewNegotiator creates a negotiator with no languages chosen
func NewNegotiator(conn Connection, logger *zap.Logger) *Negotiator {
	return &Negotiator{
		conn:   conn,
		logger: logger,
	}
}

// SetLanguages requests a new language pair. It connects first if needed and
// records the pair as pending. On any error the previous state is kept.
func (n *Negotiator) SetLanguages(ctx context.Context, language1, language2 string) error {
	requested := entities.LanguageSettings{
		Language1: strings.TrimSpace(language1),
		Language2: strings.TrimSpace(language2),
	}
	if !requested.Complete() {
		return fmt.Errorf("%w: both languages are required", domain.ErrNegotiation)
	}
	if !requested.Valid() {
		return fmt.Errorf("%w: languages must differ, got %s twice", domain.ErrNegotiation, requested.Language1)
	}

	caps := n.conn.Capabilities()
	for _, code := range []string{requested.Language1, requested.Language2} {
		if !caps.SupportsLanguage(code) {
			return fmt.Errorf("%w: unsupported language %s", domain.ErrNegotiation, code)
		}
	}

	if !n.conn.Connect(ctx) {
		return fmt.Errorf("%w: could not connect to negotiate languages", domain.ErrConnection)
	}

	// pending before the send, so an acknowledgment racing the return of
	// Send is not overwritten
	pending := &requested
	n.mu.Lock()
	previous, previousPicker := n.state.Pending, n.pickerRequired
	n.state.Pending = pending
	n.pickerRequired = false
	n.mu.Unlock()

	if err := n.conn.Send(ctx, protocol.NewSetLanguagesFrame(requested.Language1, requested.Language2)); err != nil {
		n.mu.Lock()
		if n.state.Pending == pending {
			n.state.Pending = previous
			n.pickerRequired = previousPicker
		}
		n.mu.Unlock()
		return fmt.Errorf("send language pair: %w", err)
	}

	n.logger.Info("Language pair requested",
		zap.String("language1", requested.Language1),
		zap.String("language2", requested.Language2))
	return nil
}

// HandleInitialization reacts to the greeting the service sends on every
// connect. The service keeps no language state across connections, so a pair
// chosen before a drop is sent again.
func (n *Negotiator) HandleInitialization(frame protocol.InitializationFrame) {
	n.mu.Lock()
	active := n.state.Active()
	if active.Valid() {
		n.state.Pending = &active
		n.pickerRequired = false
		n.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), resendTimeout)
		defer cancel()
		if err := n.conn.Send(ctx, protocol.NewSetLanguagesFrame(active.Language1, active.Language2)); err != nil {
			n.logger.Warn("Failed to restore language pair", zap.Error(err))
			return
		}
		n.logger.Info("Restored language pair after connect",
			zap.String("language1", active.Language1),
			zap.String("language2", active.Language2))
		return
	}

	server := frame.Settings()
	if server.Valid() {
		n.state.Confirmed = server
		n.state.Pending = nil
		n.pickerRequired = false
	} else {
		n.pickerRequired = true
	}
	picker := n.pickerRequired
	n.mu.Unlock()

	n.logger.Info("Service initialized",
		zap.Int("languages", len(frame.SupportedLanguages)),
		zap.Bool("pickerRequired", picker))
}

// HandleConfig applies the pair the service holds. It is authoritative and
// settles any pending request.
func (n *Negotiator) HandleConfig(frame protocol.ConfigFrame) {
	settings := frame.Settings()

	n.mu.Lock()
	n.state.Confirmed = settings
	n.state.Pending = nil
	n.pickerRequired = !settings.Valid()
	n.mu.Unlock()

	n.logger.Info("Language pair confirmed",
		zap.String("language1", settings.Language1),
		zap.String("language2", settings.Language2))
}

// HandleTranslation reconciles with the pair echoed on a translation. A
// translation for an older pair does not undo a pending request.
func (n *Negotiator) HandleTranslation(frame protocol.TranslationFrame) {
	settings := frame.Settings()
	if !settings.Valid() {
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	switch {
	case n.state.Pending == nil:
		n.state.Confirmed = settings
	case *n.state.Pending == settings:
		n.state.Confirmed = settings
		n.state.Pending = nil
	}
}

// State returns the confirmed and pending pair
func (n *Negotiator) State() entities.LanguageState {
	n.mu.Lock()
	defer n.mu.Unlock()

	state := entities.LanguageState{Confirmed: n.state.Confirmed}
	if n.state.Pending != nil {
		pending := *n.state.Pending
		state.Pending = &pending
	}
	return state
}

// Active returns the pair audio is currently submitted under
func (n *Negotiator) Active() entities.LanguageSettings {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state.Active()
}

// PickerRequired reports whether the user has to choose a language pair
func (n *Negotiator) PickerRequired() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.pickerRequired
}
