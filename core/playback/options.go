package playback

import (
	"time"

	"github.com/koscakluka/ema-realtime/core/audio"
)

type EngineOption func(*Engine)

// WithEncodingInfo sets the format the output device is started with.
func WithEncodingInfo(info audio.EncodingInfo) EngineOption {
	return func(e *Engine) {
		if !info.IsZero() {
			e.info = info
		}
	}
}

// WithCapacity bounds how many frames are held while the device starts.
func WithCapacity(capacity int) EngineOption {
	return func(e *Engine) {
		e.buffer = NewBuffer(capacity)
	}
}

// WithEnergyHandler receives the energy of every scheduled frame. It runs on
// its own goroutine; energies are dropped while it lags behind.
func WithEnergyHandler(handler func(energy float64)) EngineOption {
	return func(e *Engine) {
		e.onEnergy = handler
	}
}

// WithRestartBackoff sets how long Enqueue waits before starting the device
// again after a failed start. Start is never held back.
func WithRestartBackoff(backoff time.Duration) EngineOption {
	return func(e *Engine) {
		if backoff >= 0 {
			e.restartBackoff = backoff
		}
	}
}
