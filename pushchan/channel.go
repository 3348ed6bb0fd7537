package pushchan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
)

// Event names understood by the execution backend.
const (
	EventProcessConnect = "processconnect"
	EventPrompt         = "prompt"
	EventResponse       = "response"
	EventProcessEnd     = "processend"
)

var (
	ErrClosed         = errors.New("channel closed")
	ErrSendBufferFull = errors.New("send buffer full")
)

// defaultPingWindow is used when the server handshake omits ping timings.
const defaultPingWindow = 45 * time.Second

// Handler receives the arguments of a subscribed event.
// Handlers run sequentially on the channel's read goroutine.
type Handler func(args []json.RawMessage)

type handlerEntry struct {
	id uint64
	fn Handler
}

type hookEntry struct {
	id uint64
	fn func()
}

type queuedFrame struct {
	event string
	frame string
}

// Channel is a long-lived Socket.IO connection to the backend. It
// reconnects on transport loss and holds outbound events while
// disconnected.
type Channel struct {
	url string
	cfg channelConfig

	// writeMu serializes frames on the wire and is taken before mu.
	writeMu sync.Mutex

	mu        sync.Mutex
	handlers  map[string][]handlerEntry
	hooks     []hookEntry
	nextID    uint64
	conn      *websocket.Conn
	connected bool
	stateCh   chan struct{}
	queue     []queuedFrame
	closed    bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Open starts connecting to the backend at rawURL (http, https, ws or wss)
// and returns immediately. Use WaitConnected to block until the first
// handshake completes.
func Open(rawURL string, opts ...Option) (*Channel, error) {
	cfg := defaultChannelConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	u, err := socketURL(rawURL, cfg.path)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Channel{
		url:      u,
		cfg:      cfg,
		handlers: make(map[string][]handlerEntry),
		stateCh:  make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go c.run()
	return c, nil
}

func socketURL(rawURL, path string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid backend url: %w", err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("invalid backend url %q: unsupported scheme", rawURL)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid backend url %q: missing host", rawURL)
	}

	if path == "" {
		path = DefaultPath
	}
	u.Path = strings.TrimSuffix(path, "/") + "/"

	q := u.Query()
	q.Set("EIO", "4")
	q.Set("transport", "websocket")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// URL returns the websocket URL the channel dials.
func (c *Channel) URL() string {
	return c.url
}

// Subscribe registers h for event and returns a function that removes it.
func (c *Channel) Subscribe(event string, h Handler) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return func() {}
	}
	c.nextID++
	id := c.nextID
	c.handlers[event] = append(c.handlers[event], handlerEntry{id: id, fn: h})

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		entries := c.handlers[event]
		for i, e := range entries {
			if e.id == id {
				c.handlers[event] = append(entries[:i:i], entries[i+1:]...)
				break
			}
		}
	}
}

// OnConnect registers fn to run after every successful handshake,
// including reconnects. It returns a function that removes the hook.
func (c *Channel) OnConnect(fn func()) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return func() {}
	}
	c.nextID++
	id := c.nextID
	c.hooks = append(c.hooks, hookEntry{id: id, fn: fn})

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, h := range c.hooks {
			if h.id == id {
				c.hooks = append(c.hooks[:i:i], c.hooks[i+1:]...)
				break
			}
		}
	}
}

// Emit sends event with args. While disconnected the frame is queued and
// flushed once the next handshake completes: processconnect frames first,
// then everything else in the order it was emitted.
func (c *Channel) Emit(ctx context.Context, event string, args ...any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	frame, err := EncodeEvent(c.cfg.namespace, event, args...)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if !c.connected {
		defer c.mu.Unlock()
		if len(c.queue) >= c.cfg.sendBuffer {
			return ErrSendBufferFull
		}
		c.queue = append(c.queue, queuedFrame{event: event, frame: frame})
		c.cfg.logger.Debug().Str("event", event).Int("queued", len(c.queue)).Msg("push channel offline, event queued")
		return nil
	}
	conn := c.conn
	c.mu.Unlock()

	deadline := time.Now().Add(c.cfg.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := writeFrame(conn, frame, deadline); err != nil {
		return fmt.Errorf("emit %s: %w", event, err)
	}
	return nil
}

// Associate tells the backend to route an execution's events to this
// connection.
func (c *Channel) Associate(ctx context.Context, executionID string) error {
	return c.Emit(ctx, EventProcessConnect, executionID)
}

// SendInput forwards a line of standard input to a running execution.
func (c *Channel) SendInput(ctx context.Context, executionID, text string) error {
	return c.Emit(ctx, EventPrompt, executionID, text)
}

// Connected reports whether the Socket.IO handshake is currently complete.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// WaitConnected blocks until the channel is connected, closed, or ctx ends.
func (c *Channel) WaitConnected(ctx context.Context) error {
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return ErrClosed
		}
		if c.connected {
			c.mu.Unlock()
			return nil
		}
		ch := c.stateCh
		c.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close disconnects and stops reconnecting. Handlers and queued events are
// discarded. Close is idempotent.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.cancel()
		<-c.done
		return nil
	}
	c.closed = true
	c.handlers = make(map[string][]handlerEntry)
	c.hooks = nil
	c.queue = nil
	conn := c.conn
	connected := c.connected
	c.signalLocked()
	c.mu.Unlock()

	c.cancel()
	if conn != nil {
		if connected {
			c.writeMu.Lock()
			writeFrame(conn, encodeDisconnect(c.cfg.namespace), time.Now().Add(time.Second))
			c.writeMu.Unlock()
		}
		conn.Close()
	}
	<-c.done
	c.cfg.logger.Debug().Msg("push channel closed")
	return nil
}

func (c *Channel) run() {
	defer close(c.done)

	b := c.cfg.newBackOff()
	for {
		established, err := c.session()
		if c.ctx.Err() != nil {
			return
		}
		if established {
			b.Reset()
		}

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			c.cfg.logger.Error().Err(err).Msg("push channel giving up on reconnect")
			c.mu.Lock()
			c.closed = true
			c.queue = nil
			c.signalLocked()
			c.mu.Unlock()
			return
		}
		c.cfg.logger.Warn().Err(err).Dur("retry_in", wait).Msg("push channel disconnected")

		t := time.NewTimer(wait)
		select {
		case <-t.C:
		case <-c.ctx.Done():
			t.Stop()
			return
		}
	}
}

// session runs one connection from dial to loss. It reports whether the
// handshake completed.
func (c *Channel) session() (bool, error) {
	conn, _, err := c.cfg.dialer.DialContext(c.ctx, c.url, c.cfg.header)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return false, ErrClosed
	}
	c.conn = conn
	c.mu.Unlock()

	defer c.detach(conn)

	open, err := c.handshake(conn)
	if err != nil {
		return false, fmt.Errorf("handshake: %w", err)
	}

	// Hooks run before the channel is marked connected, so whatever they
	// emit is queued and goes out with the backlog.
	c.fireHooks()
	if !c.attach(conn) {
		return true, ErrClosed
	}
	c.cfg.logger.Info().Str("sid", open.SID).Msg("push channel connected")

	return true, c.readLoop(conn, open)
}

func (c *Channel) handshake(conn *websocket.Conn) (openPayload, error) {
	var open openPayload
	conn.SetReadDeadline(time.Now().Add(c.cfg.handshakeTimeout))

	p, err := readPacket(conn)
	if err != nil {
		return open, err
	}
	if p.Engine != engineOpen {
		return open, fmt.Errorf("expected open packet, got %q", p.Engine)
	}
	if err := json.Unmarshal(p.Data, &open); err != nil {
		return open, fmt.Errorf("open packet: %w", err)
	}

	if err := c.writeLocked(conn, encodeConnect(c.cfg.namespace)); err != nil {
		return open, err
	}

	for {
		p, err := readPacket(conn)
		if err != nil {
			return open, err
		}
		switch {
		case p.Engine == enginePing:
			if err := c.writeLocked(conn, string(enginePong)); err != nil {
				return open, err
			}
		case p.Engine == engineClose:
			return open, errors.New("server closed the transport")
		case p.Engine == engineMessage && p.Socket == socketConnectError:
			return open, fmt.Errorf("connect refused: %s", p.Data)
		case p.Engine == engineMessage && p.Socket == socketConnect && sameNamespace(p.Namespace, c.cfg.namespace):
			return open, nil
		}
	}
}

func (c *Channel) readLoop(conn *websocket.Conn, open openPayload) error {
	window := time.Duration(open.PingInterval+open.PingTimeout) * time.Millisecond
	if window <= 0 {
		window = defaultPingWindow
	}

	for {
		conn.SetReadDeadline(time.Now().Add(window))
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if kind != websocket.TextMessage {
			continue
		}

		p, err := DecodePacket(string(data))
		if err != nil {
			c.cfg.logger.Debug().Err(err).Msg("push channel dropped frame")
			continue
		}

		switch p.Engine {
		case enginePing:
			if err := c.writeLocked(conn, string(enginePong)); err != nil {
				return err
			}
		case engineClose:
			return errors.New("server closed the transport")
		case engineMessage:
			if !sameNamespace(p.Namespace, c.cfg.namespace) {
				continue
			}
			switch p.Socket {
			case socketEvent:
				msg, err := p.Message()
				if err != nil {
					c.cfg.logger.Debug().Err(err).Msg("push channel dropped event")
					continue
				}
				c.dispatch(msg)
			case socketDisconnect:
				return errors.New("server disconnected the socket")
			}
		}
	}
}

func (c *Channel) attach(conn *websocket.Conn) bool {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.connected = true
	queue := associationsFirst(c.queue)
	c.queue = nil
	c.signalLocked()
	c.mu.Unlock()

	for i, q := range queue {
		if err := writeFrame(conn, q.frame, time.Now().Add(c.cfg.writeTimeout)); err != nil {
			c.cfg.logger.Warn().Err(err).Int("dropped", len(queue)-i).Msg("push channel flush failed")
			break
		}
	}
	return true
}

// associationsFirst moves processconnect frames ahead of the rest of the
// queue and drops repeated ones. Order within each group is kept.
func associationsFirst(queue []queuedFrame) []queuedFrame {
	out := make([]queuedFrame, 0, len(queue))
	seen := make(map[string]bool)
	for _, q := range queue {
		if q.event != EventProcessConnect || seen[q.frame] {
			continue
		}
		seen[q.frame] = true
		out = append(out, q)
	}
	for _, q := range queue {
		if q.event != EventProcessConnect {
			out = append(out, q)
		}
	}
	return out
}

func (c *Channel) detach(conn *websocket.Conn) {
	conn.Close()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == conn {
		c.conn = nil
	}
	if c.connected {
		c.connected = false
		c.signalLocked()
	}
}

func (c *Channel) dispatch(msg Message) {
	c.mu.Lock()
	entries := append([]handlerEntry(nil), c.handlers[msg.Event]...)
	c.mu.Unlock()

	for _, e := range entries {
		e.fn(msg.Args)
	}
}

func (c *Channel) fireHooks() {
	c.mu.Lock()
	hooks := append([]hookEntry(nil), c.hooks...)
	c.mu.Unlock()

	for _, h := range hooks {
		h.fn()
	}
}

// signalLocked wakes WaitConnected callers. c.mu must be held.
func (c *Channel) signalLocked() {
	close(c.stateCh)
	c.stateCh = make(chan struct{})
}

func (c *Channel) writeLocked(conn *websocket.Conn, frame string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return writeFrame(conn, frame, time.Now().Add(c.cfg.writeTimeout))
}

func writeFrame(conn *websocket.Conn, frame string, deadline time.Time) error {
	conn.SetWriteDeadline(deadline)
	return conn.WriteMessage(websocket.TextMessage, []byte(frame))
}

func readPacket(conn *websocket.Conn) (Packet, error) {
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return Packet{}, err
		}
		if kind == websocket.TextMessage {
			return DecodePacket(string(data))
		}
	}
}

func sameNamespace(a, b string) bool {
	if a == "" {
		a = "/"
	}
	if b == "" {
		b = "/"
	}
	return a == b
}
