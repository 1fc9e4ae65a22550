package negotiation

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/arunika/interpreter/domain"
	"github.com/satriahrh/arunika/interpreter/domain/entities"
	"github.com/satriahrh/arunika/interpreter/internal/protocol"
)

// fakeConnection records what the negotiator does with the connection
type fakeConnection struct {
	mu        sync.Mutex
	connected bool
	canDial   bool
	caps      entities.ServiceCapabilities
	calls     []string
	sent      []any
	sendErr   error
	// afterSend runs once a frame is written, before Send returns
	afterSend func(frame any)
}

func (f *fakeConnection) Connect(ctx context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "connect")
	if f.canDial {
		f.connected = true
	}
	return f.connected
}

func (f *fakeConnection) Send(ctx context.Context, frame any) error {
	f.mu.Lock()
	f.calls = append(f.calls, "send")
	if f.sendErr != nil {
		f.mu.Unlock()
		return f.sendErr
	}
	f.sent = append(f.sent, frame)
	afterSend := f.afterSend
	f.mu.Unlock()

	if afterSend != nil {
		afterSend(frame)
	}
	return nil
}

func (f *fakeConnection) Capabilities() entities.ServiceCapabilities {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.caps
}

func strPtr(s string) *string { return &s }

func TestSetLanguagesRejectsInvalidPairs(t *testing.T) {
	conn := &fakeConnection{canDial: true, caps: entities.ServiceCapabilities{
		SupportedLanguages: map[string]entities.Language{
			"en": {Name: "English", Code: "en"},
			"es": {Name: "Spanish", Code: "es"},
		},
	}}
	n := NewNegotiator(conn, zaptest.NewLogger(t))

	tests := []struct {
		name      string
		language1 string
		language2 string
	}{
		{name: "same language", language1: "en", language2: "en"},
		{name: "same language with spaces", language1: "es", language2: " es "},
		{name: "missing second", language1: "en", language2: ""},
		{name: "unsupported", language1: "en", language2: "de"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := n.SetLanguages(context.Background(), tt.language1, tt.language2)
			if !errors.Is(err, domain.ErrNegotiation) {
				t.Errorf("Expected negotiation error, got %v", err)
			}
		})
	}

	if len(conn.calls) != 0 {
		t.Errorf("Rejected pairs must not touch the connection, got %v", conn.calls)
	}
	if state := n.State(); !state.Confirmed.IsZero() || state.Pending != nil {
		t.Errorf("Rejected pairs must not change state, got %+v", state)
	}
}

func TestSetLanguagesConnectsFirst(t *testing.T) {
	conn := &fakeConnection{canDial: true}
	n := NewNegotiator(conn, zaptest.NewLogger(t))

	if err := n.SetLanguages(context.Background(), "en", "es"); err != nil {
		t.Fatalf("SetLanguages failed: %v", err)
	}

	if len(conn.calls) != 2 || conn.calls[0] != "connect" || conn.calls[1] != "send" {
		t.Fatalf("Expected connect then send, got %v", conn.calls)
	}
	frame, ok := conn.sent[0].(protocol.SetLanguagesFrame)
	if !ok || frame.SetLanguages.Language1 != "en" || frame.SetLanguages.Language2 != "es" {
		t.Fatalf("Unexpected negotiation frame %+v", conn.sent[0])
	}

	state := n.State()
	if state.Pending == nil || state.IsConfirmed() {
		t.Fatalf("Expected pair to be pending until acknowledged, got %+v", state)
	}
	if active := n.Active(); active.Language1 != "en" || active.Language2 != "es" {
		t.Errorf("Expected pending pair to be active, got %+v", active)
	}

	n.HandleConfig(protocol.ConfigFrame{
		Type:             protocol.KindConfig,
		LanguageSettings: protocol.WireSettings{Language1: strPtr("en"), Language2: strPtr("es")},
	})

	state = n.State()
	if !state.IsConfirmed() || state.Confirmed.Language1 != "en" || state.Confirmed.Language2 != "es" {
		t.Errorf("Expected {en, es} confirmed, got %+v", state)
	}
}

// The service can acknowledge the pair before Send returns; the
// acknowledgment must stand.
func TestSetLanguagesAcknowledgedDuringSend(t *testing.T) {
	conn := &fakeConnection{canDial: true}
	n := NewNegotiator(conn, zaptest.NewLogger(t))
	conn.afterSend = func(frame any) {
		request := frame.(protocol.SetLanguagesFrame).SetLanguages
		n.HandleConfig(protocol.ConfigFrame{
			Type: protocol.KindConfig,
			LanguageSettings: protocol.WireSettings{
				Language1: strPtr(request.Language1),
				Language2: strPtr(request.Language2),
			},
		})
	}

	if err := n.SetLanguages(context.Background(), "en", "es"); err != nil {
		t.Fatalf("SetLanguages failed: %v", err)
	}

	state := n.State()
	if !state.IsConfirmed() {
		t.Fatalf("Expected the acknowledged pair to be confirmed, got pending=%v confirmed=%+v", state.Pending, state.Confirmed)
	}
	if state.Confirmed != (entities.LanguageSettings{Language1: "en", Language2: "es"}) {
		t.Errorf("Unexpected confirmed pair %+v", state.Confirmed)
	}
}

func TestSetLanguagesConnectFailure(t *testing.T) {
	conn := &fakeConnection{canDial: false}
	n := NewNegotiator(conn, zaptest.NewLogger(t))

	err := n.SetLanguages(context.Background(), "en", "es")
	if !errors.Is(err, domain.ErrConnection) {
		t.Fatalf("Expected connection error, got %v", err)
	}
	if len(conn.sent) != 0 {
		t.Error("Nothing should be sent when connect fails")
	}
	if state := n.State(); state.Pending != nil || !state.Confirmed.IsZero() {
		t.Errorf("State should be unchanged, got %+v", state)
	}
}

func TestSetLanguagesSendFailure(t *testing.T) {
	conn := &fakeConnection{canDial: true, sendErr: domain.ErrSend}
	n := NewNegotiator(conn, zaptest.NewLogger(t))

	if err := n.SetLanguages(context.Background(), "en", "es"); !errors.Is(err, domain.ErrSend) {
		t.Fatalf("Expected send error, got %v", err)
	}
	if n.State().Pending != nil {
		t.Error("Failed send should not record a pending pair")
	}
}

func TestHandleInitialization(t *testing.T) {
	languages := map[string]entities.Language{
		"en": {Name: "English", Code: "en"},
		"es": {Name: "Spanish", Code: "es"},
	}

	t.Run("picker required when nothing is set", func(t *testing.T) {
		conn := &fakeConnection{connected: true}
		n := NewNegotiator(conn, zaptest.NewLogger(t))

		n.HandleInitialization(protocol.InitializationFrame{
			Type:               protocol.KindInitialization,
			SupportedLanguages: languages,
		})

		if !n.PickerRequired() {
			t.Error("Expected language picker to be required")
		}
		if len(conn.sent) != 0 {
			t.Errorf("Nothing should be sent, got %v", conn.sent)
		}
	})

	t.Run("adopts server pair", func(t *testing.T) {
		conn := &fakeConnection{connected: true}
		n := NewNegotiator(conn, zaptest.NewLogger(t))

		n.HandleInitialization(protocol.InitializationFrame{
			Type:               protocol.KindInitialization,
			SupportedLanguages: languages,
			CurrentSettings:    protocol.WireSettings{Language1: strPtr("es"), Language2: strPtr("en")},
		})

		if n.PickerRequired() {
			t.Error("Picker should not be required when the service holds a pair")
		}
		if state := n.State(); !state.IsConfirmed() || state.Confirmed.Language1 != "es" {
			t.Errorf("Expected server pair to be confirmed, got %+v", state)
		}
	})

	t.Run("re-sends local pair after reconnect", func(t *testing.T) {
		conn := &fakeConnection{connected: true}
		n := NewNegotiator(conn, zaptest.NewLogger(t))
		n.HandleConfig(protocol.ConfigFrame{
			Type:             protocol.KindConfig,
			LanguageSettings: protocol.WireSettings{Language1: strPtr("en"), Language2: strPtr("es")},
		})

		n.HandleInitialization(protocol.InitializationFrame{
			Type:               protocol.KindInitialization,
			SupportedLanguages: languages,
		})

		if len(conn.sent) != 1 {
			t.Fatalf("Expected the pair to be re-sent once, got %d frames", len(conn.sent))
		}
		frame := conn.sent[0].(protocol.SetLanguagesFrame)
		if frame.SetLanguages.Language1 != "en" || frame.SetLanguages.Language2 != "es" {
			t.Errorf("Unexpected frame %+v", frame)
		}
		if n.PickerRequired() {
			t.Error("Picker should not be required when a pair survived the drop")
		}
		if active := n.Active(); active.Language1 != "en" || active.Language2 != "es" {
			t.Errorf("Expected pair to stay active, got %+v", active)
		}
	})
}

func TestHandleTranslationReconciles(t *testing.T) {
	conn := &fakeConnection{canDial: true}
	n := NewNegotiator(conn, zaptest.NewLogger(t))

	if err := n.SetLanguages(context.Background(), "en", "fr"); err != nil {
		t.Fatalf("SetLanguages failed: %v", err)
	}

	stale := protocol.TranslationFrame{
		Type:             protocol.KindTranslation,
		LanguageSettings: protocol.WireSettings{Language1: strPtr("en"), Language2: strPtr("es")},
	}
	n.HandleTranslation(stale)
	if n.State().Pending == nil {
		t.Fatal("Translation for an older pair should not settle the request")
	}

	n.HandleTranslation(protocol.TranslationFrame{
		Type:             protocol.KindTranslation,
		LanguageSettings: protocol.WireSettings{Language1: strPtr("en"), Language2: strPtr("fr")},
	})
	if state := n.State(); !state.IsConfirmed() || state.Confirmed.Language2 != "fr" {
		t.Errorf("Expected {en, fr} confirmed, got %+v", state)
	}
}
