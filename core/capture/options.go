package capture

import "context"

const (
	defaultQueueSize = 32
	defaultLogEvery  = 50
)

// PermissionRequester asks the platform for microphone access. It may block
// until the user answers.
type PermissionRequester func(ctx context.Context) (bool, error)

func grantAlways(context.Context) (bool, error) { return true, nil }

type EngineOption func(*Engine)

// WithTargetSampleRate sets the rate frames are delivered at.
func WithTargetSampleRate(sampleRate int) EngineOption {
	return func(e *Engine) {
		if sampleRate > 0 {
			e.targetSampleRate = sampleRate
		}
	}
}

func WithPermissionRequester(requester PermissionRequester) EngineOption {
	return func(e *Engine) {
		if requester != nil {
			e.requestPermission = requester
		}
	}
}

// WithQueueSize bounds how many raw device buffers may wait for conversion
// before new ones are dropped.
func WithQueueSize(size int) EngineOption {
	return func(e *Engine) {
		if size > 0 {
			e.queueSize = size
		}
	}
}

// WithLogEvery logs only every n-th delivered frame.
func WithLogEvery(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.logEvery = uint64(n)
		}
	}
}
