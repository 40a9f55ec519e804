package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var (
	ErrConnectionFailed    = errors.New("connection failed")
	ErrTransportSendFailed = errors.New("failed to send event")
	ErrDecode              = errors.New("failed to decode event")
	ErrStaleGeneration     = errors.New("connection superseded")
	ErrClosed              = errors.New("client closed")
	// ErrDropped reports an event discarded under DropWhenDisconnected.
	ErrDropped             = errors.New("event dropped while not connected")
)

type ConnectionState int

const (
	Idle ConnectionState = iota
	Connecting
	Connected
	Failed
)

func (s ConnectionState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("ConnectionState(%d)", int(s))
}

// Message is what the receive loop hands to the consumer: either a decoded
// event or a terminal transport error, tagged with the generation of the
// connection it came from.
type Message struct {
	Generation uint64
	Event      *InboundEvent
	Err        error
}

// Client owns one duplex connection at a time. Every Connect and Disconnect
// starts a new generation; loops and writes belonging to an older generation
// never change state.
//
// Events sent while the connection is not ready wait in a FIFO queue that is
// flushed, in order, when the server acknowledges the session.
type Client struct {
	dialer          Dialer
	quiet           map[string]struct{}
	maxSendFailures int
	writeTimeout    time.Duration

	mu           sync.Mutex
	state        ConnectionState
	generation   uint64
	conn         Transport
	loopCtx      context.Context
	cancelLoop   context.CancelFunc
	intentional  bool
	pending      [][]byte
	sendFailures int
	closed       bool

	// writeMu orders writes, including the pending flush on ready.
	writeMu sync.Mutex

	messages chan Message
	done     chan struct{}
}

func NewClient(dialer Dialer, opts ...ClientOption) *Client {
	c := &Client{
		dialer:          dialer,
		maxSendFailures: defaultMaxSendFailures,
		writeTimeout:    defaultWriteTimeout,
		messages:        make(chan Message, defaultMessageBuffer),
		done:            make(chan struct{}),
	}
	WithQuietEventTypes(DefaultQuietEventTypes...)(c)
	for _, opt := range opts {
		opt(c)
	}
	if c.dialer == nil {
		c.dialer = WebsocketDialer{}
	}
	return c
}

// Messages delivers inbound events and terminal errors of every generation.
// Consumers compare Message.Generation with Generation to skip stale ones.
func (c *Client) Messages() <-chan Message { return c.messages }

func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// Pending is the number of events waiting for the connection to be ready.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Connect dials endpoint and starts a receive loop for a new generation. The
// connection becomes Connected only once the server sends a ready event.
func (c *Client) Connect(ctx context.Context, endpoint string, header http.Header) (generation uint64, err error) {
	ctx, span := tracer.Start(ctx, "connect")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, ErrClosed
	}
	c.generation++
	generation = c.generation
	c.teardownLocked()
	c.state = Connecting
	c.intentional = false
	c.sendFailures = 0
	c.mu.Unlock()

	span.SetAttributes(attribute.Int64("generation", int64(generation)))
	logger.Info("connecting", "generation", generation)

	conn, err := c.dialer.Dial(ctx, endpoint, header)

	c.mu.Lock()
	defer c.mu.Unlock()
	if generation != c.generation {
		if conn != nil {
			_ = conn.Close()
		}
		return generation, ErrStaleGeneration
	}
	if err != nil {
		c.state = Failed
		logger.Error("failed to connect", "generation", generation, "error", err)
		return generation, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	c.conn = conn
	c.loopCtx, c.cancelLoop = loopCtx, cancel
	go c.readLoop(loopCtx, generation, conn)

	return generation, nil
}

// Disconnect closes the connection on purpose: no failure is reported for it
// and queued events are discarded.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.intentional = true
	c.generation++
	c.teardownLocked()
	c.state = Idle
	c.pending = nil
}

// ClearPending discards events waiting for the connection to be ready.
func (c *Client) ClearPending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = nil
}

func (c *Client) Close() error {
	c.Disconnect()

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
	return nil
}

func (c *Client) teardownLocked() {
	if c.cancelLoop != nil {
		c.cancelLoop()
		c.cancelLoop = nil
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

type sendOptions struct {
	dropWhenDisconnected bool
}

type SendOption func(*sendOptions)

// DropWhenDisconnected discards the event instead of queueing it when the
// connection is not ready. Send then returns ErrDropped.
func DropWhenDisconnected() SendOption {
	return func(o *sendOptions) { o.dropWhenDisconnected = true }
}

// Send transmits event when connected and queues it otherwise.
func (c *Client) Send(event OutboundEvent, opts ...SendOption) error {
	options := sendOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	h := event.header()
	if h.EventID == "" {
		h.EventID = uuid.NewString()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", h.Type, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state != Connected {
		if options.dropWhenDisconnected {
			c.mu.Unlock()
			droppedEvents.Add(context.Background(), 1)
			return ErrDropped
		}
		c.pending = append(c.pending, payload)
		c.mu.Unlock()
		if !c.isQuiet(h.Type) {
			logger.Debug("queued event", "type", h.Type)
		}
		return nil
	}
	conn, generation := c.conn, c.generation
	c.mu.Unlock()

	if !c.isQuiet(h.Type) {
		logger.Debug("sending event", "type", h.Type, "event_id", h.EventID)
	}
	return c.write(generation, conn, payload)
}

// write must be called with writeMu held.
func (c *Client) write(generation uint64, conn Transport, payload []byte) error {
	if d, ok := conn.(writeDeadliner); ok && c.writeTimeout > 0 {
		_ = d.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}

	err := conn.WriteMessage(websocket.TextMessage, payload)

	c.mu.Lock()
	if generation != c.generation {
		c.mu.Unlock()
		if err != nil {
			return fmt.Errorf("%w: %w", ErrTransportSendFailed, ErrStaleGeneration)
		}
		return nil
	}
	if err == nil {
		c.sendFailures = 0
		c.mu.Unlock()
		sentEvents.Add(context.Background(), 1)
		return nil
	}

	c.sendFailures++
	failed := c.sendFailures >= c.maxSendFailures && c.state == Connected
	if failed {
		c.state = Failed
	}
	loopCtx := c.loopCtx
	c.mu.Unlock()

	err = fmt.Errorf("%w: %w", ErrTransportSendFailed, err)
	logger.Warn("failed to send event", "generation", generation, "error", err)
	if failed {
		c.emit(loopCtx, Message{Generation: generation, Err: err})
	}
	return err
}

func (c *Client) readLoop(ctx context.Context, generation uint64, conn Transport) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			c.handleReadError(ctx, generation, err)
			return
		}

		if !c.isCurrent(generation) {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		c.handleMessage(ctx, generation, data)
	}
}

func (c *Client) handleReadError(ctx context.Context, generation uint64, err error) {
	c.mu.Lock()
	if generation != c.generation || c.intentional {
		c.mu.Unlock()
		return
	}
	c.state = Failed
	c.mu.Unlock()

	err = fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	logger.Error("connection lost", "generation", generation, "error", err)
	c.emit(ctx, Message{Generation: generation, Err: err})
}

func (c *Client) handleMessage(ctx context.Context, generation uint64, data []byte) {
	var event InboundEvent
	if err := json.Unmarshal(data, &event); err != nil {
		decodeFailures.Add(ctx, 1)
		logger.Warn("dropped message", "generation", generation, "error", fmt.Errorf("%w: %w", ErrDecode, err))
		return
	} else if event.Type == "" && event.Error == nil {
		decodeFailures.Add(ctx, 1)
		logger.Warn("dropped message", "generation", generation, "error", fmt.Errorf("%w: missing type", ErrDecode))
		return
	}
	event.Raw = data

	if !c.isQuiet(event.Type) {
		logger.Debug("received event", "type", event.Type, "generation", generation)
	}

	if event.Kind() == KindReady {
		c.markReady(generation)
	}

	c.emit(ctx, Message{Generation: generation, Event: &event})
}

// markReady moves a connecting generation to Connected and flushes the queued
// events before any later Send can write.
func (c *Client) markReady(generation uint64) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	if generation != c.generation || c.state != Connecting {
		c.mu.Unlock()
		return
	}
	c.state = Connected
	pending := c.pending
	c.pending = nil
	conn := c.conn
	c.mu.Unlock()

	logger.Info("connected", "generation", generation, "pending_events", len(pending))
	for _, payload := range pending {
		if err := c.write(generation, conn, payload); err != nil && !c.isCurrent(generation) {
			return
		}
	}
}

func (c *Client) emit(ctx context.Context, message Message) {
	if ctx == nil {
		ctx = context.Background()
	}

	select {
	case c.messages <- message:
	case <-ctx.Done():
	case <-c.done:
	}
}

func (c *Client) isCurrent(generation uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return generation == c.generation
}

func (c *Client) isQuiet(eventType string) bool {
	_, ok := c.quiet[eventType]
	return ok
}
