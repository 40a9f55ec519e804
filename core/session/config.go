package session

import (
	"context"
	"fmt"

	"github.com/jinzhu/copier"
	"github.com/koscakluka/ema-realtime/core/protocol"
)

// Type selects how a session is negotiated with the server.
type Type string

const (
	// TypeRealtime passes the model on the connection and may configure the
	// session with an initial update.
	TypeRealtime Type = "realtime"
	// TypeTranscription lets the server infer the model from the token and
	// requires the protocol version header.
	TypeTranscription Type = "transcription"
)

// Config is what a session is issued with.
type Config struct {
	Token string `json:"token"`
	Model string `json:"model"`
	Type  Type   `json:"type"`
}

// Bootstrapper issues session configs, typically by calling a backend that
// mints ephemeral tokens.
type Bootstrapper interface {
	Bootstrap(ctx context.Context) (Config, error)
}

type BootstrapperFunc func(ctx context.Context) (Config, error)

func (f BootstrapperFunc) Bootstrap(ctx context.Context) (Config, error) { return f(ctx) }

// SessionOptions configure a realtime session right after it is created.
type SessionOptions struct {
	Modalities        []string
	Instructions      string
	Voice             string
	InputAudioFormat  string
	OutputAudioFormat string

	TranscriptionModel    string
	TranscriptionLanguage string

	// TurnDetectionMode is the server turn detection type, e.g. server_vad.
	// Empty leaves the server default.
	TurnDetectionMode      string
	TurnDetectionThreshold *float64
	SilenceDurationMs      *int
	PrefixPaddingMs        *int
}

func (o SessionOptions) sessionConfig() (protocol.SessionConfig, error) {
	var cfg protocol.SessionConfig
	if err := copier.Copy(&cfg, &o); err != nil {
		return protocol.SessionConfig{}, fmt.Errorf("failed to map session options: %w", err)
	}

	if o.TranscriptionModel != "" {
		cfg.InputAudioTranscription = &protocol.TranscriptionConfig{
			Model:    o.TranscriptionModel,
			Language: o.TranscriptionLanguage,
		}
	}
	if o.TurnDetectionMode != "" {
		cfg.TurnDetection = &protocol.TurnDetection{
			Type:              o.TurnDetectionMode,
			Threshold:         o.TurnDetectionThreshold,
			SilenceDurationMs: o.SilenceDurationMs,
			PrefixPaddingMs:   o.PrefixPaddingMs,
		}
	}

	return cfg, nil
}
