package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/koscakluka/ema-realtime/core/audio"
)

var ErrClosed = errors.New("playback engine closed")

// Device is a platform output device.
type Device interface {
	// Start brings the device up for audio in the given format.
	Start(info audio.EncodingInfo) error
	// Schedule queues frame after everything already scheduled.
	Schedule(frame audio.Frame) error
	// Clear discards scheduled audio that has not been rendered yet.
	Clear()
	// Stop tears the device down.
	Stop() error
}

type State int

const (
	NotRunning State = iota
	Starting
	Running
)

func (s State) String() string {
	switch s {
	case NotRunning:
		return "not_running"
	case Starting:
		return "starting"
	case Running:
		return "running"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

const (
	energyQueueSize       = 16
	defaultRestartBackoff = time.Second
)

// Engine plays inbound speech frames. Frames arriving before the device is up
// wait in a bounded Buffer and are scheduled, in order, as soon as it is.
//
// Every device call happens on a single worker goroutine. A flush epoch is
// captured when a schedule job is queued; jobs from an older epoch are
// skipped.
type Engine struct {
	device   Device
	info     audio.EncodingInfo
	buffer   *Buffer
	onEnergy func(float64)

	restartBackoff time.Duration

	mu     sync.Mutex
	state  State
	epoch  uint64
	closed bool
	// retryAt holds off restarts from Enqueue after the device failed to start.
	retryAt time.Time

	jobsMu sync.Mutex
	jobs   []func()
	signal chan struct{}

	energy chan audio.Frame

	quit chan struct{}
	done sync.WaitGroup
}

func NewEngine(device Device, opts ...EngineOption) *Engine {
	e := &Engine{
		device:         device,
		info:           audio.GetPlaybackEncodingInfo(),
		buffer:         NewBuffer(DefaultCapacity),
		restartBackoff: defaultRestartBackoff,
		signal:         make(chan struct{}, 1),
		energy:         make(chan audio.Frame, energyQueueSize),
		quit:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.done.Add(2)
	go e.runJobs()
	go e.dispatchEnergy()
	return e
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) EncodingInfo() audio.EncodingInfo { return e.info }

// Start brings the output device up and waits until it is running. Calling
// Start while starting or running is a no-op.
func (e *Engine) Start(ctx context.Context) error {
	result, err := e.start()
	if err != nil || result == nil {
		return err
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) start() (<-chan error, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	} else if e.state != NotRunning {
		return nil, nil
	}

	e.state = Starting
	result := make(chan error, 1)
	e.submit(func() { result <- e.startDevice() })
	return result, nil
}

func (e *Engine) startDevice() error {
	err := e.device.Start(e.info)

	e.mu.Lock()
	if e.state != Starting {
		// Stopped while starting; the queued stop job tears the device down.
		e.mu.Unlock()
		return nil
	}
	if err != nil {
		e.state = NotRunning
		e.retryAt = time.Now().Add(e.restartBackoff)
		e.buffer.Clear()
		e.mu.Unlock()
		logger.Error("failed to start playback device", "error", err, "retry_in", e.restartBackoff)
		return fmt.Errorf("failed to start playback device: %w", err)
	}

	pending := e.buffer.Drain()
	e.state = Running
	e.retryAt = time.Time{}
	epoch := e.epoch
	e.mu.Unlock()

	logger.Debug("playback started", "sample_rate", e.info.SampleRate, "buffered_frames", len(pending))
	for _, frame := range pending {
		e.schedule(epoch, frame)
	}
	return nil
}

// Enqueue schedules frame when the device is running. Otherwise the frame is
// buffered and the device is started, unless a recent start failed and the
// restart backoff has not passed yet.
func (e *Engine) Enqueue(frame audio.Frame) {
	if len(frame.Samples) == 0 {
		return
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}

	if e.state == Running {
		epoch := e.epoch
		e.submit(func() { e.schedule(epoch, frame) })
		e.mu.Unlock()
		return
	}

	if dropped := e.buffer.Push(frame); dropped {
		droppedFrames.Add(context.Background(), 1)
	}
	backingOff := e.state == NotRunning && time.Now().Before(e.retryAt)
	e.mu.Unlock()
	if backingOff {
		return
	}

	if _, err := e.start(); err != nil {
		logger.Debug("playback not started", "error", err)
	}
}

// Flush discards buffered and not yet rendered audio while keeping the device
// up, so a new utterance can start immediately.
func (e *Engine) Flush() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}

	e.epoch++
	e.buffer.Clear()
	if e.state == Running {
		e.submit(e.device.Clear)
	}
}

// Stop tears the output device down and discards everything pending.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if e.closed || e.state == NotRunning {
		e.mu.Unlock()
		return nil
	}

	e.epoch++
	e.state = NotRunning
	e.buffer.Clear()
	result := make(chan error, 1)
	e.submit(func() {
		e.device.Clear()
		result <- e.device.Stop()
	})
	e.mu.Unlock()

	if err := <-result; err != nil {
		return fmt.Errorf("failed to stop playback device: %w", err)
	}
	return nil
}

// Close stops the engine and releases its goroutines.
func (e *Engine) Close() error {
	err := e.Stop()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return err
	}
	e.closed = true
	e.mu.Unlock()

	close(e.quit)
	e.done.Wait()
	return err
}

func (e *Engine) schedule(epoch uint64, frame audio.Frame) {
	e.mu.Lock()
	stale := epoch != e.epoch || e.state != Running
	e.mu.Unlock()
	if stale {
		return
	}

	if err := e.device.Schedule(frame); err != nil {
		droppedFrames.Add(context.Background(), 1)
		logger.Warn("failed to schedule playback frame", "error", err)
		return
	}
	scheduledFrames.Add(context.Background(), 1)

	if e.onEnergy == nil {
		return
	}
	select {
	case e.energy <- frame:
	default:
	}
}

// submit must be called with e.mu held so jobs keep the order of the state
// changes that queued them.
func (e *Engine) submit(job func()) {
	e.jobsMu.Lock()
	e.jobs = append(e.jobs, job)
	e.jobsMu.Unlock()

	select {
	case e.signal <- struct{}{}:
	default:
	}
}

func (e *Engine) runJobs() {
	defer e.done.Done()
	for {
		e.jobsMu.Lock()
		jobs := e.jobs
		e.jobs = nil
		e.jobsMu.Unlock()

		for _, job := range jobs {
			e.runJob(job)
		}
		if len(jobs) > 0 {
			continue
		}

		select {
		case <-e.signal:
		case <-e.quit:
			return
		}
	}
}

func (e *Engine) runJob(job func()) {
	defer func() {
		if recovered := recover(); recovered != nil {
			logger.Error("playback job panicked", "panic", fmt.Sprint(recovered))
		}
	}()
	job()
}

func (e *Engine) dispatchEnergy() {
	defer e.done.Done()
	for {
		select {
		case frame := <-e.energy:
			e.onEnergy(audio.Energy(frame.Samples))
		case <-e.quit:
			return
		}
	}
}
