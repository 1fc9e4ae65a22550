package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/interpreter/domain"
	"github.com/satriahrh/arunika/interpreter/domain/entities"
	"github.com/satriahrh/arunika/interpreter/domain/repositories"
	"github.com/satriahrh/arunika/interpreter/internal/protocol"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. Translation frames carry
	// synthesized audio.
	maxMessageSize = 4 << 20

	// Time allowed for the opening handshake.
	dialTimeout = 15 * time.Second

	// DefaultThrottle is the minimum time between two reconnect attempts.
	DefaultThrottle = 10 * time.Second

	// DefaultWatchdogInterval is how often the watchdog checks liveness.
	DefaultWatchdogInterval = 10 * time.Second
)

// ErrNotConnected is returned by SendNow while no connection is open
var ErrNotConnected = fmt.Errorf("%w: not connected", domain.ErrSend)

// DialFunc opens a websocket connection
type DialFunc func(ctx context.Context, url string, header http.Header) (*websocket.Conn, error)

func defaultDial(ctx context.Context, url string, header http.Header) (*websocket.Conn, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return conn, nil
}

// Option configures a Client
type Option func(*Client)

// WithClock replaces the wall clock used for throttling and timers
func WithClock(c clock.Clock) Option {
	return func(cl *Client) { cl.clock = c }
}

// WithThrottle sets the minimum time between reconnect attempts
func WithThrottle(d time.Duration) Option {
	return func(cl *Client) { cl.throttle = d }
}

// WithWatchdogInterval sets the watchdog tick interval
func WithWatchdogInterval(d time.Duration) Option {
	return func(cl *Client) { cl.watchdogInterval = d }
}

// WithTokenProvider attaches a bearer token to every dial
func WithTokenProvider(p repositories.TokenProvider) Option {
	return func(cl *Client) { cl.tokens = p }
}

// WithDialer replaces the function used to open connections
func WithDialer(dial DialFunc) Option {
	return func(cl *Client) { cl.dial = dial }
}

// WithDispatcher shares an existing dispatcher
func WithDispatcher(d *Dispatcher) Option {
	return func(cl *Client) { cl.dispatcher = d }
}

type outbound struct {
	payload []byte
	result  chan error
}

// attempt is one in-flight connection attempt shared by every waiter
type attempt struct {
	done chan struct{}
	ok   bool
}

func (a *attempt) wait(ctx context.Context) bool {
	select {
	case <-a.done:
		return a.ok
	case <-ctx.Done():
		return false
	}
}

// Client owns the single persistent connection to the translation service.
type Client struct {
	url              string
	logger           *zap.Logger
	clock            clock.Clock
	dial             DialFunc
	tokens           repositories.TokenProvider
	throttle         time.Duration
	watchdogInterval time.Duration
	dispatcher       *Dispatcher

	mu               sync.Mutex
	state            entities.ConnectionState
	conn             *websocket.Conn
	send             chan outbound
	closed           chan struct{}
	pending          *attempt
	queue            []outbound
	intentionalClose bool
	lastAttempt      time.Time
	attempts         int
	caps             entities.ServiceCapabilities
	listeners        []func(entities.ConnectionState)
	stopWatchdog     context.CancelFunc
}

// NewClient creates a disconnected client for url
func NewClient(url string, logger *zap.Logger, opts ...Option) *Client {
	c := &Client{
		url:              url,
		logger:           logger,
		clock:            clock.New(),
		dial:             defaultDial,
		throttle:         DefaultThrottle,
		watchdogInterval: DefaultWatchdogInterval,
		state:            entities.ConnectionStateDisconnected,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dispatcher == nil {
		c.dispatcher = NewDispatcher()
	}
	return c
}

// Subscribe registers a handler for inbound frames of kind
func (c *Client) Subscribe(kind protocol.Kind, handler Handler) func() {
	return c.dispatcher.Subscribe(kind, handler)
}

// OnStateChange registers a listener called after every state transition
func (c *Client) OnStateChange(fn func(entities.ConnectionState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// State returns the current connection state
func (c *Client) State() entities.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Capabilities returns what the service announced in its last
// initialization frame.
func (c *Client) Capabilities() entities.ServiceCapabilities {
	c.mu.Lock()
	defer c.mu.Unlock()

	caps := entities.ServiceCapabilities{
		SupportedLanguages: make(map[string]entities.Language, len(c.caps.SupportedLanguages)),
		SupportedFormats:   append([]string(nil), c.caps.SupportedFormats...),
		MaxAudioSize:       c.caps.MaxAudioSize,
	}
	for code, lang := range c.caps.SupportedLanguages {
		caps.SupportedLanguages[code] = lang
	}
	return caps
}

// Attempts returns how many connection attempts have been started
func (c *Client) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Connect opens the connection if needed and reports whether it is open.
// Concurrent callers share one attempt. An explicit connect clears a previous
// intentional close.
func (c *Client) Connect(ctx context.Context) bool {
	c.mu.Lock()
	c.intentionalClose = false
	if c.state == entities.ConnectionStateConnected {
		c.mu.Unlock()
		return true
	}
	if c.pending != nil {
		a := c.pending
		c.mu.Unlock()
		return a.wait(ctx)
	}
	a := c.beginAttemptLocked()
	c.mu.Unlock()

	c.notify(entities.ConnectionStateConnecting)
	go c.run(a)
	return a.wait(ctx)
}

// Reconnect is the automatic trigger used by the watchdog and by foreground
// events. It does nothing after an intentional close and starts at most one
// attempt per throttle window.
func (c *Client) Reconnect(ctx context.Context) bool {
	c.mu.Lock()
	if c.state == entities.ConnectionStateConnected {
		c.mu.Unlock()
		return true
	}
	if c.pending != nil {
		a := c.pending
		c.mu.Unlock()
		return a.wait(ctx)
	}
	if c.intentionalClose {
		c.mu.Unlock()
		return false
	}
	if !c.lastAttempt.IsZero() && c.clock.Since(c.lastAttempt) < c.throttle {
		c.mu.Unlock()
		c.logger.Debug("Reconnect throttled", zap.Duration("throttle", c.throttle))
		return false
	}
	a := c.beginAttemptLocked()
	c.mu.Unlock()

	c.logger.Info("Reconnecting", zap.String("url", c.url))
	c.notify(entities.ConnectionStateConnecting)
	go c.run(a)
	return a.wait(ctx)
}

func (c *Client) beginAttemptLocked() *attempt {
	a := &attempt{done: make(chan struct{})}
	c.pending = a
	c.state = entities.ConnectionStateConnecting
	c.lastAttempt = c.clock.Now()
	c.attempts++
	return a
}

// run dials and, on success, starts the pumps. The attempt is detached from
// any single caller's context because every waiter shares it.
func (c *Client) run(a *attempt) {
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	conn, err := c.open(ctx)

	c.mu.Lock()
	if err == nil && c.intentionalClose {
		err = errors.New("closed while connecting")
	}
	if err != nil {
		c.state = entities.ConnectionStateDisconnected
		c.pending = nil
		c.mu.Unlock()

		if conn != nil {
			conn.Close()
		}
		c.logger.Warn("Connection attempt failed",
			zap.String("url", c.url),
			zap.Error(fmt.Errorf("%w: %v", domain.ErrConnection, err)))
		c.notify(entities.ConnectionStateDisconnected)
		close(a.done)
		return
	}

	send := make(chan outbound, 256)
	closed := make(chan struct{})
	queued := c.queue
	c.queue = nil
	c.conn = conn
	c.send = send
	c.closed = closed
	c.state = entities.ConnectionStateConnected
	c.pending = nil
	a.ok = true
	c.mu.Unlock()

	c.logger.Info("Connected",
		zap.String("url", c.url),
		zap.Int("queued", len(queued)))
	c.notify(entities.ConnectionStateConnected)

	go c.writePump(conn, send, closed, queued)
	go c.readPump(conn)
	close(a.done)
}

func (c *Client) open(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("get token: %w", err)
		}
		if token != "" {
			header.Set("Authorization", "Bearer "+token)
		}
	}
	return c.dial(ctx, c.url, header)
}

// Disconnect closes the connection on purpose so no reconnect follows.
// Calling it again is a no-op.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.intentionalClose = true
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return
	}

	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	c.teardown(conn)
}

// teardown releases conn if it is still the current connection
func (c *Client) teardown(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.send = nil
	close(c.closed)
	c.closed = nil
	c.state = entities.ConnectionStateDisconnected
	intentional := c.intentionalClose
	c.mu.Unlock()

	conn.Close()
	c.logger.Info("Disconnected",
		zap.String("url", c.url),
		zap.Bool("intentional", intentional))
	c.notify(entities.ConnectionStateDisconnected)
}

// Send writes frame to the connection. While not connected the frame is
// queued and flushed, in order, once a connection opens.
func (c *Client) Send(ctx context.Context, frame any) error {
	return c.enqueue(ctx, frame, true)
}

// SendNow writes frame only if the connection is open; otherwise it fails
// with ErrNotConnected instead of queueing.
func (c *Client) SendNow(ctx context.Context, frame any) error {
	return c.enqueue(ctx, frame, false)
}

func (c *Client) enqueue(ctx context.Context, frame any, queue bool) error {
	payload, err := protocol.Encode(frame)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrSend, err)
	}
	item := outbound{payload: payload, result: make(chan error, 1)}

	c.mu.Lock()
	if c.state != entities.ConnectionStateConnected {
		if !queue {
			c.mu.Unlock()
			return ErrNotConnected
		}
		c.queue = append(c.queue, item)
		c.mu.Unlock()
		c.logger.Debug("Queued frame until connected", zap.Int("size", len(payload)))
		return nil
	}
	send, closed := c.send, c.closed
	c.mu.Unlock()

	select {
	case send <- item:
	case <-closed:
		return fmt.Errorf("%w: connection closed", domain.ErrSend)
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", domain.ErrSend, ctx.Err())
	}

	select {
	case err := <-item.result:
		return err
	case <-closed:
		select {
		case err := <-item.result:
			return err
		default:
			return fmt.Errorf("%w: connection closed", domain.ErrSend)
		}
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", domain.ErrSend, ctx.Err())
	}
}

// readPump decodes inbound frames and dispatches them in arrival order.
func (c *Client) readPump(conn *websocket.Conn) {
	defer c.teardown(conn)

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("WebSocket read error", zap.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			c.logger.Warn("Received unknown message type", zap.Int("type", messageType))
			continue
		}

		frame, err := protocol.Decode(message)
		if err != nil {
			c.logger.Warn("Dropping invalid frame", zap.Error(err))
			continue
		}

		if initFrame, ok := frame.(protocol.InitializationFrame); ok {
			c.mu.Lock()
			c.caps = initFrame.Capabilities()
			c.mu.Unlock()
		}

		if !c.dispatcher.Dispatch(frame) {
			c.logger.Debug("No handler for frame", zap.String("type", string(frame.Kind())))
		}
	}
}

// writePump flushes the frames queued before the connection opened, then
// writes outbound frames and pings until the connection closes.
func (c *Client) writePump(conn *websocket.Conn, send <-chan outbound, closed <-chan struct{}, queued []outbound) {
	ticker := c.clock.Ticker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.teardown(conn)
	}()

	for _, item := range queued {
		if !c.write(conn, item) {
			return
		}
	}

	for {
		select {
		case <-closed:
			return
		case item := <-send:
			if !c.write(conn, item) {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) write(conn *websocket.Conn, item outbound) bool {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, item.payload); err != nil {
		c.logger.Error("Failed to write message", zap.Error(err))
		item.result <- fmt.Errorf("%w: %v", domain.ErrSend, err)
		return false
	}
	item.result <- nil
	return true
}

func (c *Client) notify(state entities.ConnectionState) {
	c.mu.Lock()
	listeners := slices.Clone(c.listeners)
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(state)
	}
}
