package devserver

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/interpreter/domain/entities"
	"github.com/satriahrh/arunika/interpreter/internal/protocol"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. Audio frames are base64.
	maxMessageSize = 16 << 20

	// Time allowed to interpret one audio frame.
	interpretTimeout = 60 * time.Second
)

// ErrHubClosed is returned when a connection arrives after shutdown
var ErrHubClosed = errors.New("hub closed")

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// DefaultCapabilities is what the dev server announces when nothing else is
// configured
func DefaultCapabilities() entities.ServiceCapabilities {
	return entities.ServiceCapabilities{
		SupportedLanguages: map[string]entities.Language{
			"en": {Name: "English", Code: "en"},
			"es": {Name: "Spanish", Code: "es"},
			"fr": {Name: "French", Code: "fr"},
			"id": {Name: "Indonesian", Code: "id"},
			"ja": {Name: "Japanese", Code: "ja"},
		},
		SupportedFormats: []string{protocol.DefaultAudioFormat, "m4a", "wav"},
		MaxAudioSize:     10 << 20,
	}
}

// Hub maintains the set of active clients and the language pair each known
// client last chose.
type Hub struct {
	// Registered clients.
	clients map[string]*Client

	// Language pair per client ID, kept across reconnects.
	settings map[string]entities.LanguageSettings

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	// Closed when Run returns.
	done chan struct{}

	// Mutex for thread-safe access to clients and settings
	mu sync.RWMutex

	interpreter  Interpreter
	capabilities entities.ServiceCapabilities

	logger *zap.Logger
}

// NewHub creates a new WebSocket hub
func NewHub(interpreter Interpreter, capabilities entities.ServiceCapabilities, logger *zap.Logger) *Hub {
	if interpreter == nil {
		interpreter = EchoInterpreter{}
	}
	return &Hub{
		clients:      make(map[string]*Client),
		settings:     make(map[string]entities.LanguageSettings),
		register:     make(chan *Client),
		unregister:   make(chan *Client),
		done:         make(chan struct{}),
		interpreter:  interpreter,
		capabilities: capabilities,
		logger:       logger,
	}
}

// Run starts the hub's main loop. It closes every connection when ctx ends.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.connID] = client
			h.mu.Unlock()
			h.logger.Info("Client registered", zap.String("clientID", client.clientID), zap.String("connID", client.connID))

		case client := <-h.unregister:
			h.mu.Lock()
			delete(h.clients, client.connID)
			h.mu.Unlock()
			h.logger.Info("Client unregistered", zap.String("clientID", client.clientID), zap.String("connID", client.connID))

		case <-ctx.Done():
			h.mu.Lock()
			for id, client := range h.clients {
				client.conn.Close()
				delete(h.clients, id)
			}
			h.mu.Unlock()
			h.logger.Info("Hub stopped")
			return
		}
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) lastSettings(clientID string) entities.LanguageSettings {
	if clientID == "" {
		return entities.LanguageSettings{}
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.settings[clientID]
}

func (h *Hub) rememberSettings(clientID string, settings entities.LanguageSettings) {
	if clientID == "" {
		return
	}
	h.mu.Lock()
	h.settings[clientID] = settings
	h.mu.Unlock()
}

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound frames.
	send chan []byte

	// Closed when readPump exits.
	closed chan struct{}

	// Authenticated client ID, empty for anonymous connections
	clientID string
	connID   string

	// Language pair of this connection, only touched by readPump
	settings entities.LanguageSettings

	logger *zap.Logger
}

// HandleWebSocket upgrades the request and serves it until the peer leaves.
// clientID may be empty.
func HandleWebSocket(hub *Hub, c echo.Context, clientID string, logger *zap.Logger) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logger.Error("WebSocket upgrade failed", zap.Error(err))
		return err
	}

	connID := uuid.NewString()
	client := &Client{
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, 256),
		closed:   make(chan struct{}),
		clientID: clientID,
		connID:   connID,
		settings: hub.lastSettings(clientID),
		logger:   logger.With(zap.String("clientID", clientID), zap.String("connID", connID)),
	}

	select {
	case hub.register <- client:
	case <-hub.done:
		conn.Close()
		return ErrHubClosed
	}

	client.enqueue(protocol.NewInitializationFrame(hub.capabilities, client.settings))

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.writePump()
	go client.readPump()

	return nil
}

// readPump reads frames and answers them in arrival order.
func (c *Client) readPump() {
	defer func() {
		close(c.closed)
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Error("WebSocket error", zap.Error(err))
			}
			return
		}

		if messageType != websocket.TextMessage {
			c.logger.Warn("Received unsupported message type", zap.Int("type", messageType))
			c.enqueue(protocol.NewErrorFrame("binary frames are not supported"))
			continue
		}
		c.processMessage(message)
	}
}

// writePump pumps queued frames to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Error("Failed to write message", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.closed:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// processMessage handles one client frame
func (c *Client) processMessage(message []byte) {
	frame, err := protocol.DecodeClient(message)
	if err != nil {
		c.logger.Warn("Invalid client frame", zap.Error(err))
		c.enqueue(protocol.NewErrorFrame(err.Error()))
		return
	}

	switch f := frame.(type) {
	case *protocol.SetLanguagesFrame:
		c.handleSetLanguages(f)
	case *protocol.AudioFrame:
		c.handleAudio(f)
	}
}

func (c *Client) handleSetLanguages(frame *protocol.SetLanguagesFrame) {
	requested := frame.SetLanguages
	caps := c.hub.capabilities
	for _, code := range []string{requested.Language1, requested.Language2} {
		if !caps.SupportsLanguage(code) {
			c.enqueue(protocol.NewErrorFrame("unsupported language: " + code))
			return
		}
	}

	c.settings = requested
	c.hub.rememberSettings(c.clientID, requested)
	c.logger.Info("Language pair set",
		zap.String("language1", requested.Language1),
		zap.String("language2", requested.Language2))
	c.enqueue(protocol.NewConfigFrame(requested))
}

func (c *Client) handleAudio(frame *protocol.AudioFrame) {
	if !c.settings.Valid() {
		c.enqueue(protocol.NewErrorFrame("languages are not set"))
		return
	}
	if !c.hub.capabilities.SupportsFormat(frame.Format) {
		c.enqueue(protocol.NewErrorFrame("unsupported audio format: " + frame.Format))
		return
	}

	audio, err := frame.DecodeAudio()
	if err != nil {
		c.enqueue(protocol.NewErrorFrame(err.Error()))
		return
	}
	if limit := c.hub.capabilities.MaxAudioSize; limit > 0 && int64(len(audio)) > limit {
		c.enqueue(protocol.NewErrorFrame("audio exceeds maximum size"))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), interpretTimeout)
	defer cancel()

	start := time.Now()
	result, err := c.hub.interpreter.Interpret(ctx, audio, frame.Format, c.settings)
	if err != nil {
		c.logger.Error("Failed to interpret audio", zap.Int("size", len(audio)), zap.Error(err))
		c.enqueue(protocol.NewErrorFrame("failed to interpret audio"))
		return
	}

	c.logger.Debug("Audio interpreted",
		zap.Int("size", len(audio)),
		zap.Int("person", result.Person),
		zap.Duration("took", time.Since(start)))
	c.enqueue(protocol.NewTranslationFrame(result.Person, result.Original, result.Translated, result.Audio, c.settings))
}

// enqueue encodes a frame onto the send buffer, dropping it when the peer
// is not keeping up
func (c *Client) enqueue(frame any) {
	data, err := protocol.Encode(frame)
	if err != nil {
		c.logger.Error("Failed to encode frame", zap.Error(err))
		return
	}

	select {
	case c.send <- data:
	default:
		c.logger.Warn("Send buffer full, dropping frame")
	}
}
