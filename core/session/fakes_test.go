package session

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/koscakluka/ema-realtime/core/audio"
	"github.com/koscakluka/ema-realtime/core/capture"
	"github.com/koscakluka/ema-realtime/core/events"
	"github.com/koscakluka/ema-realtime/core/protocol"
)

type fakeCapture struct {
	mu sync.Mutex

	denied   bool
	startErr error

	onFrame capture.FrameHandler
	starts  int
	stops   int

	// stopGate, when set, holds Stop until it is closed.
	stopGate    chan struct{}
	stopEntered chan struct{}
}

func (c *fakeCapture) RequestPermission(context.Context) (bool, error) {
	return !c.denied, nil
}

func (c *fakeCapture) Start(_ context.Context, onFrame capture.FrameHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.startErr != nil {
		return c.startErr
	}
	c.starts++
	c.onFrame = onFrame
	return nil
}

func (c *fakeCapture) Stop() error {
	if c.stopGate != nil {
		select {
		case c.stopEntered <- struct{}{}:
		default:
		}
		<-c.stopGate
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.stops++
	return nil
}

func (c *fakeCapture) startCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.starts
}

func (c *fakeCapture) stopCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stops
}

// pushAudio delivers duration worth of 16kHz frames in 10ms chunks.
func (c *fakeCapture) pushAudio(duration time.Duration) {
	c.mu.Lock()
	onFrame := c.onFrame
	c.mu.Unlock()

	chunks := int(duration / (10 * time.Millisecond))
	for range chunks {
		onFrame(audio.NewFrame(make([]int16, 160), audio.CaptureSampleRate), 0.1)
	}
}

type connectCall struct {
	endpoint string
	header   http.Header
}

type fakeConnection struct {
	mu sync.Mutex

	generation  uint64
	connectErr  error
	connects    []connectCall
	disconnects int
	sent        []string
	cleared     int
	dropAppends bool

	messages  chan protocol.Message
	onConnect func(c *fakeConnection, generation uint64)
}

func newFakeConnection() *fakeConnection {
	return &fakeConnection{messages: make(chan protocol.Message, 64)}
}

func (c *fakeConnection) Connect(_ context.Context, endpoint string, header http.Header) (uint64, error) {
	c.mu.Lock()
	c.generation++
	generation := c.generation
	c.connects = append(c.connects, connectCall{endpoint: endpoint, header: header})
	onConnect := c.onConnect
	err := c.connectErr
	c.mu.Unlock()

	if err != nil {
		return generation, err
	}
	if onConnect != nil {
		go onConnect(c, generation)
	}
	return generation, nil
}

func (c *fakeConnection) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.disconnects++
}

func (c *fakeConnection) Send(event protocol.OutboundEvent, _ ...protocol.SendOption) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	var header struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dropAppends && header.Type == protocol.TypeInputAudioAppend {
		return protocol.ErrDropped
	}
	c.sent = append(c.sent, header.Type)
	return nil
}

func (c *fakeConnection) ClearPending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleared++
}

func (c *fakeConnection) Messages() <-chan protocol.Message { return c.messages }

func (c *fakeConnection) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

func (c *fakeConnection) deliver(generation uint64, payload string) {
	var event protocol.InboundEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		panic(err)
	}
	c.messages <- protocol.Message{Generation: generation, Event: &event}
}

func (c *fakeConnection) deliverCurrent(payload string) {
	c.deliver(c.Generation(), payload)
}

func (c *fakeConnection) sentCount(eventType string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := 0
	for _, sent := range c.sent {
		if sent == eventType {
			count++
		}
	}
	return count
}

func (c *fakeConnection) sentTypes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

func (c *fakeConnection) lastConnect() connectCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connects[len(c.connects)-1]
}

func (c *fakeConnection) connectCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.connects)
}

func (c *fakeConnection) setDropAppends(drop bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropAppends = drop
}

func (c *fakeConnection) disconnectCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnects
}

func readyAfter(delay time.Duration) func(*fakeConnection, uint64) {
	return func(c *fakeConnection, generation uint64) {
		time.Sleep(delay)
		c.deliver(generation, `{"type":"session.created"}`)
	}
}

type fakePlayback struct {
	mu      sync.Mutex
	frames  []audio.Frame
	flushes int
	stops   int
}

func (p *fakePlayback) Enqueue(frame audio.Frame) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames = append(p.frames, frame)
}

func (p *fakePlayback) Flush() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.flushes++
}

func (p *fakePlayback) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stops++
	return nil
}

func (p *fakePlayback) snapshot() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.frames), p.flushes
}

func staticBootstrapper(cfg Config) Bootstrapper {
	return BootstrapperFunc(func(context.Context) (Config, error) { return cfg, nil })
}

var realtimeConfig = Config{Token: "ek_test", Model: "gpt-realtime", Type: TypeRealtime}

func waitFor(t *testing.T, condition func() bool, message string) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(message)
}

// startRecording brings an orchestrator to Recording with an immediate ready.
func startRecording(t *testing.T, opts ...OrchestratorOption) (*Orchestrator, *fakeCapture, *fakeConnection) {
	t.Helper()

	mic := &fakeCapture{}
	conn := newFakeConnection()
	conn.onConnect = readyAfter(0)
	orchestrator := New(staticBootstrapper(realtimeConfig), mic, conn, opts...)
	t.Cleanup(orchestrator.Close)

	if err := orchestrator.Start(context.Background()); err != nil {
		t.Fatalf("expected start to succeed, got %v", err)
	}
	return orchestrator, mic, conn
}

func collectEvents(t *testing.T, orchestrator *Orchestrator, kind events.Kind, n int) []events.Event {
	t.Helper()

	var collected []events.Event
	timeout := time.After(2 * time.Second)
	for len(collected) < n {
		select {
		case event := <-orchestrator.Events():
			if events.Is(event, kind) {
				collected = append(collected, event)
			}
		case <-timeout:
			t.Fatalf("expected %d %s events, got %d", n, kind, len(collected))
		}
	}
	return collected
}
