package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/koscakluka/ema-realtime/core/audio"
	"github.com/koscakluka/ema-realtime/core/events"
	"github.com/koscakluka/ema-realtime/core/protocol"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type State int

const (
	Idle State = iota
	Connecting
	Recording
	Stopping
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Recording:
		return "recording"
	case Stopping:
		return "stopping"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Orchestrator drives one voice session at a time: it bootstraps credentials,
// connects, streams microphone audio upstream and interprets what comes back.
//
// Every Start begins a new epoch. Cancel and Reset bump it, so work resumed
// on behalf of an older attempt never changes the current session.
type Orchestrator struct {
	bootstrapper Bootstrapper
	capture      Capture
	playback     Playback
	conn         Connection

	endpoint          string
	protocolHeader    http.Header
	readyTimeout      time.Duration
	stopGrace         time.Duration
	minCommitDuration time.Duration
	sessionOptions    *SessionOptions
	sampleSink        SampleSink
	captureSampleRate int

	mu            sync.Mutex
	state         State
	epoch         uint64
	cancelAttempt context.CancelFunc
	ready         *readyWaiter
	transcript    transcriptAccumulator

	// forwardEpoch is the epoch whose captured frames are sent upstream, or 0.
	forwardEpoch atomic.Uint64
	samples      atomic.Int64

	events   *events.Queue
	quit     chan struct{}
	loopDone chan struct{}
	closed   sync.Once
}

func New(bootstrapper Bootstrapper, capture Capture, conn Connection, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		bootstrapper:      bootstrapper,
		capture:           capture,
		conn:              conn,
		endpoint:          DefaultEndpoint,
		protocolHeader:    http.Header{},
		readyTimeout:      DefaultReadyTimeout,
		stopGrace:         DefaultStopGrace,
		minCommitDuration: DefaultMinCommitDuration,
		captureSampleRate: audio.CaptureSampleRate,
		events:            events.NewQueue(),
		quit:              make(chan struct{}),
		loopDone:          make(chan struct{}),
	}
	o.protocolHeader.Set("OpenAI-Beta", "realtime=v1")
	for _, opt := range opts {
		opt(o)
	}

	o.transcript.reset()
	go o.interpret()
	return o
}

// Events delivers session events in the order they happen. The channel is
// closed by Close.
func (o *Orchestrator) Events() <-chan events.Event { return o.events.Events() }

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Transcript is the text accumulated in the current session so far.
func (o *Orchestrator) Transcript() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.transcript.text
}

// ObserveOutputLevel publishes the energy of audio being played back.
func (o *Orchestrator) ObserveOutputLevel(level float64) {
	o.events.Publish(events.NewOutputLevel(level))
}

// Start brings a session up: permission, bootstrap, connect, wait for the
// server to be ready, then capture. It returns once the session is recording.
// On failure nothing is left capturing and the state is Failed.
func (o *Orchestrator) Start(ctx context.Context) (err error) {
	ctx, span := tracer.Start(ctx, "start session")
	defer endSpan(span, &err)

	o.mu.Lock()
	if o.state != Idle {
		state := o.state
		o.mu.Unlock()
		return fmt.Errorf("%w: cannot start while %s", ErrInvalidState, state)
	}
	o.epoch++
	epoch := o.epoch
	attemptCtx, cancel := context.WithCancel(ctx)
	o.cancelAttempt = cancel
	o.transcript.reset()
	o.samples.Store(0)
	o.setStateLocked(Connecting)
	o.mu.Unlock()
	defer cancel()

	span.SetAttributes(attribute.Int64("epoch", int64(epoch)))

	if err := o.start(attemptCtx, epoch); err != nil {
		if !o.isCurrent(epoch) {
			if errors.Is(err, ErrCancelled) {
				return err
			}
			return fmt.Errorf("%w: %w", ErrCancelled, err)
		}
		logger.Error("failed to start session", "error", err)
		o.fail(epoch)
		return err
	}

	logger.Info("session recording", "epoch", epoch)
	return nil
}

func (o *Orchestrator) start(ctx context.Context, epoch uint64) error {
	if granted, err := o.capture.RequestPermission(ctx); err != nil {
		return err
	} else if !granted {
		return ErrPermissionDenied
	}

	cfg, err := o.bootstrapper.Bootstrap(ctx)
	if err != nil {
		if errors.Is(err, ErrTokenMissing) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrBootstrapFailed, err)
	} else if cfg.Token == "" {
		return ErrTokenMissing
	}
	if cfg.Type == "" {
		cfg.Type = TypeRealtime
	}

	endpoint, header, err := o.connectionTarget(cfg)
	if err != nil {
		return err
	}

	waiter := newReadyWaiter()
	o.mu.Lock()
	if epoch != o.epoch {
		o.mu.Unlock()
		return ErrCancelled
	}
	o.ready = waiter
	o.mu.Unlock()

	if _, err := o.conn.Connect(ctx, endpoint, header); err != nil {
		if errors.Is(err, protocol.ErrStaleGeneration) {
			return ErrCancelled
		} else if errors.Is(err, ErrConnectionFailed) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	if o.sessionOptions != nil && cfg.Type == TypeRealtime {
		session, err := o.sessionOptions.sessionConfig()
		if err != nil {
			return err
		}
		if err := o.conn.Send(protocol.NewSessionUpdate(session)); err != nil {
			return err
		}
	}

	if err := o.awaitReady(ctx, waiter); err != nil {
		return err
	}

	o.mu.Lock()
	if epoch != o.epoch {
		o.mu.Unlock()
		return ErrCancelled
	}
	o.ready = nil
	o.mu.Unlock()

	if err := o.capture.Start(ctx, o.forwardFrame(epoch)); err != nil {
		return err
	}

	o.mu.Lock()
	if epoch != o.epoch {
		o.mu.Unlock()
		_ = o.capture.Stop()
		return ErrCancelled
	}
	o.forwardEpoch.Store(epoch)
	o.setStateLocked(Recording)
	o.mu.Unlock()
	return nil
}

// awaitReady resumes on exactly one of: the ready event, a server error, the
// timeout or cancellation.
func (o *Orchestrator) awaitReady(ctx context.Context, waiter *readyWaiter) error {
	timer := time.NewTimer(o.readyTimeout)
	defer timer.Stop()

	select {
	case <-waiter.done:
	case <-timer.C:
		waiter.resolve(ErrConnectionTimeout)
	case <-ctx.Done():
		waiter.resolve(fmt.Errorf("%w: %w", ErrCancelled, ctx.Err()))
	}
	return waiter.err
}

func (o *Orchestrator) connectionTarget(cfg Config) (string, http.Header, error) {
	u, err := url.Parse(o.endpoint)
	if err != nil {
		return "", nil, fmt.Errorf("%w: invalid endpoint: %w", ErrConnectionFailed, err)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+cfg.Token)

	query := u.Query()
	switch cfg.Type {
	case TypeTranscription:
		query.Set("intent", "transcription")
		for key, values := range o.protocolHeader {
			header[key] = values
		}
	case TypeRealtime:
		if cfg.Model != "" {
			query.Set("model", cfg.Model)
		}
	default:
		return "", nil, fmt.Errorf("%w: unknown session type %q", ErrBootstrapFailed, cfg.Type)
	}
	u.RawQuery = query.Encode()

	return u.String(), header, nil
}

func (o *Orchestrator) forwardFrame(epoch uint64) func(audio.Frame, float64) {
	return func(frame audio.Frame, level float64) {
		if o.forwardEpoch.Load() != epoch {
			return
		}

		// Only audio the server will see counts towards the commit threshold.
		if err := o.conn.Send(protocol.NewAudioAppend(frame.Bytes()), protocol.DropWhenDisconnected()); err != nil {
			logger.Debug("failed to forward frame", "error", err)
			return
		}
		o.samples.Add(int64(len(frame.Samples)))

		if o.sampleSink != nil {
			if err := o.sampleSink.WriteFrame(frame); err != nil {
				logger.Warn("failed to write frame to sink", "error", err)
			}
		}

		o.events.Publish(events.NewInputLevel(level))
	}
}

// BufferedDuration is how much audio has been sent in the current session.
func (o *Orchestrator) BufferedDuration() time.Duration {
	return time.Duration(o.samples.Load()) * time.Second / time.Duration(o.captureSampleRate)
}

// Stop ends a recording session: it stops capture, commits the buffered audio
// when there is enough of it and no final transcript yet, waits briefly for
// trailing events and disconnects. It returns the accumulated transcript.
func (o *Orchestrator) Stop(ctx context.Context) (transcript string, err error) {
	ctx, span := tracer.Start(ctx, "stop session")
	defer endSpan(span, &err)

	o.mu.Lock()
	if o.state != Recording {
		state := o.state
		o.mu.Unlock()
		return "", fmt.Errorf("%w: cannot stop while %s", ErrInvalidState, state)
	}
	epoch := o.epoch
	finalized := o.transcript.finalizedCh
	o.setStateLocked(Stopping)
	o.mu.Unlock()

	if err := o.capture.Stop(); err != nil {
		logger.Warn("failed to stop capture", "error", err)
	}
	o.forwardEpoch.CompareAndSwap(epoch, 0)

	buffered := o.BufferedDuration()
	span.SetAttributes(attribute.Int64("buffered_ms", buffered.Milliseconds()))

	o.mu.Lock()
	alreadyFinal := o.transcript.finalized
	o.mu.Unlock()

	if buffered >= o.minCommitDuration && !alreadyFinal {
		if err := o.conn.Send(protocol.NewAudioCommit()); err != nil {
			logger.Warn("failed to commit audio", "error", err)
		}
	} else {
		logger.Debug("skipping commit", "buffered", buffered, "finalized", alreadyFinal)
	}

	grace := time.NewTimer(o.stopGrace)
	select {
	case <-grace.C:
	case <-finalized:
	case <-ctx.Done():
	}
	grace.Stop()

	o.mu.Lock()
	if epoch != o.epoch {
		o.mu.Unlock()
		return "", ErrCancelled
	}
	transcript = o.transcript.text
	o.mu.Unlock()

	o.conn.Disconnect()

	o.mu.Lock()
	if epoch == o.epoch {
		o.setStateLocked(Idle)
	}
	o.mu.Unlock()

	return transcript, nil
}

// Cancel tears the session down from any state, discarding the transcript
// and anything queued for sending. An in-flight Start returns ErrCancelled.
// Teardown stops as soon as a newer Start has taken over.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	previous := o.state
	o.epoch++
	epoch := o.epoch
	if o.cancelAttempt != nil {
		o.cancelAttempt()
		o.cancelAttempt = nil
	}
	if o.ready != nil {
		o.ready.resolve(ErrCancelled)
		o.ready = nil
	}
	o.forwardEpoch.Store(0)
	o.transcript.reset()
	o.samples.Store(0)
	o.mu.Unlock()

	if previous == Connecting {
		if f, ok := o.bootstrapper.(interface{ Forget() }); ok {
			f.Forget()
		}
	}
	if previous == Recording || previous == Stopping {
		_ = o.conn.Send(protocol.NewAudioClear(), protocol.DropWhenDisconnected())
	}

	if err := o.capture.Stop(); err != nil {
		logger.Warn("failed to stop capture", "error", err)
	}
	if !o.isCurrent(epoch) {
		return
	}
	o.conn.ClearPending()
	o.conn.Disconnect()
	if o.playback != nil {
		o.playback.Flush()
	}

	o.mu.Lock()
	if epoch != o.epoch {
		o.mu.Unlock()
		return
	}
	o.setStateLocked(Idle)
	o.mu.Unlock()

	if previous != Idle {
		logger.Info("session cancelled", "from", previous.String())
	}
}

// Reset returns the orchestrator to Idle from any state, including Failed.
func (o *Orchestrator) Reset() { o.Cancel() }

// Close cancels any session and stops event delivery.
func (o *Orchestrator) Close() {
	o.closed.Do(func() {
		o.Cancel()
		close(o.quit)
		<-o.loopDone
		if o.playback != nil {
			_ = o.playback.Stop()
		}
		o.events.Close()
	})
}

// fail tears down a start attempt that went wrong and marks the session
// Failed unless the attempt was cancelled meanwhile.
func (o *Orchestrator) fail(epoch uint64) {
	o.mu.Lock()
	if epoch != o.epoch {
		o.mu.Unlock()
		return
	}
	o.ready = nil
	o.forwardEpoch.Store(0)
	o.mu.Unlock()

	_ = o.capture.Stop()
	o.conn.Disconnect()

	o.mu.Lock()
	if epoch == o.epoch {
		o.setStateLocked(Failed)
	}
	o.mu.Unlock()
}

func (o *Orchestrator) isCurrent(epoch uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return epoch == o.epoch
}

func (o *Orchestrator) setStateLocked(state State) {
	if o.state == state {
		return
	}
	from := o.state
	o.state = state
	o.events.Publish(events.NewStateChanged(from.String(), state.String()))
}

func endSpan(span trace.Span, err *error) {
	if *err != nil {
		span.RecordError(*err)
		span.SetStatus(codes.Error, (*err).Error())
	}
	span.End()
}

// readyWaiter is resolved at most once.
type readyWaiter struct {
	once sync.Once
	done chan struct{}
	err  error
}

func newReadyWaiter() *readyWaiter {
	return &readyWaiter{done: make(chan struct{})}
}

func (w *readyWaiter) resolve(err error) {
	w.once.Do(func() {
		w.err = err
		close(w.done)
	})
}
