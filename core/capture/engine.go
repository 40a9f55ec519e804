package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/koscakluka/ema-realtime/core/audio"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrPermissionDenied            = errors.New("microphone permission denied")
	ErrDeviceUnavailable           = errors.New("capture device unavailable")
	ErrFormatConversionSetupFailed = errors.New("failed to set up capture format conversion")
)

// Device is a platform input device delivering interleaved PCM16 in its
// native format.
type Device interface {
	// Open prepares the device and reports its native format.
	Open() (audio.StreamFormat, error)
	// Start begins delivering buffers. onInput runs on the device thread and
	// must not retain the buffer.
	Start(onInput func(pcm []byte)) error
	// Stop halts delivery. No onInput call may happen after Stop returns.
	Stop() error
	Close() error
}

// FrameHandler receives converted frames with their RMS level.
type FrameHandler func(frame audio.Frame, level float64)

// Engine taps a Device, converts its native buffers to mono PCM16 at the
// target rate and hands them to a FrameHandler from a single worker
// goroutine, in capture order.
type Engine struct {
	device Device

	targetSampleRate  int
	requestPermission PermissionRequester
	queueSize         int
	logEvery          uint64

	mu      sync.Mutex
	granted bool
	running bool
	quit    chan struct{}
	done    chan struct{}

	delivered atomic.Uint64
	dropped   atomic.Uint64
}

func NewEngine(device Device, opts ...EngineOption) *Engine {
	e := &Engine{
		device:            device,
		targetSampleRate:  audio.CaptureSampleRate,
		requestPermission: grantAlways,
		queueSize:         defaultQueueSize,
		logEvery:          defaultLogEvery,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) TargetSampleRate() int { return e.targetSampleRate }

// RequestPermission asks for microphone access. A grant is remembered for the
// lifetime of the engine.
func (e *Engine) RequestPermission(ctx context.Context) (bool, error) {
	e.mu.Lock()
	granted := e.granted
	e.mu.Unlock()
	if granted {
		return true, nil
	}

	ok, err := e.requestPermission(ctx)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrPermissionDenied, err)
	}

	e.mu.Lock()
	e.granted = ok
	e.mu.Unlock()
	return ok, nil
}

func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Start opens the device and begins delivering frames to onFrame. Calling
// Start on a running engine is a no-op.
func (e *Engine) Start(ctx context.Context, onFrame FrameHandler) error {
	if e.Running() {
		return nil
	}

	if granted, err := e.RequestPermission(ctx); err != nil {
		return err
	} else if !granted {
		return ErrPermissionDenied
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return nil
	}

	if e.device == nil {
		return fmt.Errorf("%w: no device configured", ErrDeviceUnavailable)
	}

	format, err := e.device.Open()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}

	conv, err := newConverter(format, e.targetSampleRate)
	if err != nil {
		_ = e.device.Close()
		return err
	}

	if onFrame == nil {
		onFrame = func(audio.Frame, float64) {}
	}

	queue := make(chan []byte, e.queueSize)
	quit := make(chan struct{})
	done := make(chan struct{})
	go e.work(queue, quit, done, conv, onFrame)

	if err := e.device.Start(e.tap(queue)); err != nil {
		close(quit)
		<-done
		_ = e.device.Close()
		return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}

	logger.Info("capture started",
		"native_sample_rate", format.SampleRate,
		"native_channels", format.Channels,
		"target_sample_rate", e.targetSampleRate)

	e.quit, e.done = quit, done
	e.running = true
	return nil
}

// Stop removes the tap and releases the device. Buffers already queued are
// still delivered before Stop returns. Stopping a stopped engine is a no-op.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return nil
	}
	e.running = false

	stopErr := e.device.Stop()
	close(e.quit)
	<-e.done
	closeErr := e.device.Close()

	logger.Info("capture stopped",
		"delivered_frames", e.delivered.Load(),
		"dropped_buffers", e.dropped.Load())

	if err := errors.Join(stopErr, closeErr); err != nil {
		return fmt.Errorf("failed to release capture device: %w", err)
	}
	return nil
}

// tap runs on the device thread; it copies the buffer and never blocks.
func (e *Engine) tap(queue chan<- []byte) func([]byte) {
	return func(pcm []byte) {
		if len(pcm) == 0 {
			return
		}

		select {
		case queue <- bytes.Clone(pcm):
		default:
			e.drop("queue_full")
		}
	}
}

func (e *Engine) work(queue <-chan []byte, quit, done chan struct{}, conv *converter, onFrame FrameHandler) {
	defer close(done)
	for {
		select {
		case pcm := <-queue:
			e.process(conv, pcm, onFrame)
		case <-quit:
			for {
				select {
				case pcm := <-queue:
					e.process(conv, pcm, onFrame)
				default:
					return
				}
			}
		}
	}
}

func (e *Engine) process(conv *converter, pcm []byte, onFrame FrameHandler) {
	samples, err := conv.Convert(pcm)
	if err != nil {
		if n := e.drop("conversion_failed"); (n-1)%e.logEvery == 0 {
			logger.Warn("dropped capture buffer", "error", err, "dropped_buffers", n)
		}
		return
	} else if len(samples) == 0 {
		return
	}

	frame := audio.NewFrame(samples, e.targetSampleRate)
	level := audio.RMS(samples)

	if n := e.delivered.Add(1); (n-1)%e.logEvery == 0 {
		logger.Debug("captured frame", "frame", n, "samples", len(samples), "level", level)
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			logger.Error("frame handler panicked", "panic", fmt.Sprint(recovered))
		}
	}()
	onFrame(frame, level)
}

func (e *Engine) drop(reason string) uint64 {
	droppedBuffers.Add(context.Background(), 1, metric.WithAttributes(attribute.String("reason", reason)))
	return e.dropped.Add(1)
}
