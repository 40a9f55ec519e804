package session

import (
	"context"
	"net/http"
	"time"

	"github.com/koscakluka/ema-realtime/core/audio"
	"github.com/koscakluka/ema-realtime/core/capture"
	"github.com/koscakluka/ema-realtime/core/protocol"
)

const (
	DefaultEndpoint          = "wss://api.openai.com/v1/realtime"
	DefaultReadyTimeout      = 5 * time.Second
	DefaultStopGrace         = 400 * time.Millisecond
	DefaultMinCommitDuration = 100 * time.Millisecond
)

// Capture is the microphone side of a session.
type Capture interface {
	RequestPermission(ctx context.Context) (bool, error)
	Start(ctx context.Context, onFrame capture.FrameHandler) error
	Stop() error
}

// Playback plays synthesized speech received during a session.
type Playback interface {
	Enqueue(frame audio.Frame)
	Flush()
	Stop() error
}

// Connection is the duplex event connection to the server.
type Connection interface {
	Connect(ctx context.Context, endpoint string, header http.Header) (uint64, error)
	Disconnect()
	Send(event protocol.OutboundEvent, opts ...protocol.SendOption) error
	ClearPending()
	Messages() <-chan protocol.Message
	Generation() uint64
}

// SampleSink receives every frame sent upstream, e.g. to record it.
type SampleSink interface {
	WriteFrame(frame audio.Frame) error
}

type OrchestratorOption func(*Orchestrator)

func WithPlayback(playback Playback) OrchestratorOption {
	return func(o *Orchestrator) {
		o.playback = playback
	}
}

func WithEndpoint(endpoint string) OrchestratorOption {
	return func(o *Orchestrator) {
		if endpoint != "" {
			o.endpoint = endpoint
		}
	}
}

// WithProtocolHeader sets a header sent on transcription sessions, which
// require a protocol version header.
func WithProtocolHeader(key, value string) OrchestratorOption {
	return func(o *Orchestrator) {
		o.protocolHeader.Set(key, value)
	}
}

// WithReadyTimeout bounds the wait for the server to acknowledge the session.
func WithReadyTimeout(timeout time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if timeout > 0 {
			o.readyTimeout = timeout
		}
	}
}

// WithStopGrace sets how long Stop waits for trailing events.
func WithStopGrace(grace time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if grace >= 0 {
			o.stopGrace = grace
		}
	}
}

// WithMinCommitDuration sets the least buffered audio worth committing.
func WithMinCommitDuration(duration time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if duration >= 0 {
			o.minCommitDuration = duration
		}
	}
}

// WithSessionUpdate configures realtime sessions once they are created.
func WithSessionUpdate(options SessionOptions) OrchestratorOption {
	return func(o *Orchestrator) {
		o.sessionOptions = &options
	}
}

func WithSampleSink(sink SampleSink) OrchestratorOption {
	return func(o *Orchestrator) {
		o.sampleSink = sink
	}
}

// WithCaptureSampleRate sets the rate captured frames are sent at, used to
// turn the sample counter into a duration.
func WithCaptureSampleRate(sampleRate int) OrchestratorOption {
	return func(o *Orchestrator) {
		if sampleRate > 0 {
			o.captureSampleRate = sampleRate
		}
	}
}
