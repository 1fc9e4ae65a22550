package devserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/interpreter/internal/auth"
	"github.com/satriahrh/arunika/interpreter/internal/protocol"
)

func setupTestServer(t *testing.T, signer *auth.Signer) (*Hub, *httptest.Server) {
	t.Helper()
	logger := zap.NewNop()

	hub := NewHub(EchoInterpreter{}, DefaultCapabilities(), logger)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	server := httptest.NewServer(NewServer(hub, signer, logger))
	t.Cleanup(func() {
		server.Close()
		cancel()
	})
	return hub, server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
}

func dial(t *testing.T, url string, header http.Header) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) protocol.Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read frame: %v", err)
	}
	frame, err := protocol.Decode(data)
	if err != nil {
		t.Fatalf("Failed to decode frame %s: %v", data, err)
	}
	return frame
}

func writeFrame(t *testing.T, conn *websocket.Conn, frame any) {
	t.Helper()
	if err := conn.WriteJSON(frame); err != nil {
		t.Fatalf("Failed to write frame: %v", err)
	}
}

func TestHealth(t *testing.T) {
	_, server := setupTestServer(t, nil)

	resp, err := http.Get(server.URL + "/health")
	if err != nil {
		t.Fatalf("Health request failed: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Errorf("Unexpected health response %d %v", resp.StatusCode, body)
	}
}

func TestInitializationOnConnect(t *testing.T) {
	_, server := setupTestServer(t, nil)
	conn := dial(t, wsURL(server), nil)

	frame, ok := readFrame(t, conn).(protocol.InitializationFrame)
	if !ok {
		t.Fatal("Expected initialization frame first")
	}
	caps := frame.Capabilities()
	if !caps.SupportsLanguage("es") || caps.MaxAudioSize == 0 {
		t.Errorf("Unexpected capabilities %+v", caps)
	}
	if !frame.Settings().IsZero() {
		t.Errorf("Anonymous connection should start without languages, got %+v", frame.Settings())
	}
}

func TestTranslationRoundTrip(t *testing.T) {
	_, server := setupTestServer(t, nil)
	conn := dial(t, wsURL(server), nil)
	readFrame(t, conn)

	writeFrame(t, conn, protocol.NewSetLanguagesFrame("en", "es"))
	config, ok := readFrame(t, conn).(protocol.ConfigFrame)
	if !ok {
		t.Fatal("Expected config frame")
	}
	if s := config.Settings(); s.Language1 != "en" || s.Language2 != "es" {
		t.Errorf("Unexpected config %+v", s)
	}

	writeFrame(t, conn, protocol.NewAudioFrame([]byte("good morning"), protocol.DefaultAudioFormat))
	writeFrame(t, conn, protocol.NewAudioFrame([]byte("2:buenos días"), protocol.DefaultAudioFormat))

	first, ok := readFrame(t, conn).(protocol.TranslationFrame)
	if !ok {
		t.Fatal("Expected translation frame")
	}
	if first.Person != 1 || first.Original.Text != "good morning" || first.Translated.Language != "es" {
		t.Errorf("Unexpected first translation %+v", first)
	}

	second, ok := readFrame(t, conn).(protocol.TranslationFrame)
	if !ok {
		t.Fatal("Expected translation frame")
	}
	if second.Person != 2 || second.Original.Language != "es" || second.Translated.Text != "[en] buenos días" {
		t.Errorf("Unexpected second translation %+v", second)
	}
}

func TestInvalidFramesReturnErrors(t *testing.T) {
	_, server := setupTestServer(t, nil)
	conn := dial(t, wsURL(server), nil)
	readFrame(t, conn)

	tests := []struct {
		name  string
		frame any
	}{
		{name: "unknown frame", frame: map[string]any{"bogus": true}},
		{name: "audio before languages", frame: protocol.NewAudioFrame([]byte("hello"), "aac")},
		{name: "unsupported language", frame: protocol.NewSetLanguagesFrame("en", "xx")},
		{name: "same languages", frame: protocol.NewSetLanguagesFrame("en", "en")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			writeFrame(t, conn, tt.frame)
			if _, ok := readFrame(t, conn).(protocol.ErrorFrame); !ok {
				t.Error("Expected error frame")
			}
		})
	}

	writeFrame(t, conn, protocol.NewSetLanguagesFrame("en", "fr"))
	readFrame(t, conn)
	writeFrame(t, conn, protocol.NewAudioFrame([]byte("hello"), "flac"))
	if _, ok := readFrame(t, conn).(protocol.ErrorFrame); !ok {
		t.Error("Expected error frame for unsupported format")
	}
}

func TestAuthenticatedConnections(t *testing.T) {
	signer, err := auth.NewSigner("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("NewSigner failed: %v", err)
	}
	_, server := setupTestServer(t, signer)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(server), nil)
	if err == nil {
		t.Fatal("Expected anonymous dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("Expected 401, got %v", resp)
	}

	token, _, err := signer.Issue("phone-1")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	header := http.Header{"Authorization": []string{"Bearer " + token}}

	conn := dial(t, wsURL(server), header)
	readFrame(t, conn)
	writeFrame(t, conn, protocol.NewSetLanguagesFrame("en", "ja"))
	readFrame(t, conn)
	conn.Close()

	// the pair survives a reconnect of the same client
	again := dial(t, wsURL(server), header)
	initFrame, ok := readFrame(t, again).(protocol.InitializationFrame)
	if !ok {
		t.Fatal("Expected initialization frame")
	}
	if s := initFrame.Settings(); s.Language1 != "en" || s.Language2 != "ja" {
		t.Errorf("Expected remembered pair, got %+v", s)
	}
}

func TestHubClosesClientsOnShutdown(t *testing.T) {
	logger := zap.NewNop()
	hub := NewHub(nil, DefaultCapabilities(), logger)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	server := httptest.NewServer(NewServer(hub, nil, logger))
	defer server.Close()

	conn := dial(t, wsURL(server), nil)
	readFrame(t, conn)
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("Expected 1 client, got %d", hub.ClientCount())
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("Expected connection to be closed on shutdown")
	}
}
