// Package config resolves voicestream settings from defaults, an optional
// JSON file, a .env file and the environment, in increasing precedence.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultEndpoint     = "wss://api.openai.com/v1/realtime"
	DefaultBootstrapURL = "https://api.openai.com/v1/realtime/client_secrets"
	DefaultModel        = "gpt-realtime"
	DefaultSessionType  = "transcription"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	Session   SessionConfig   `json:"session"`
	Bootstrap BootstrapConfig `json:"bootstrap"`
	Audio     AudioConfig     `json:"audio"`
	Recording RecordingConfig `json:"recording"`
}

type SessionConfig struct {
	Endpoint       string `json:"endpoint,omitempty" jsonschema:"description=Realtime websocket endpoint"`
	ReadyTimeoutMs int    `json:"ready_timeout_ms,omitempty" jsonschema:"minimum=1"`
	StopGraceMs    int    `json:"stop_grace_ms,omitempty" jsonschema:"minimum=0"`
	MinCommitMs    int    `json:"min_commit_ms,omitempty" jsonschema:"minimum=0"`

	Instructions       string `json:"instructions,omitempty"`
	Voice              string `json:"voice,omitempty"`
	TranscriptionModel string `json:"transcription_model,omitempty"`
	Language           string `json:"language,omitempty"`
	TurnDetection      string `json:"turn_detection,omitempty" jsonschema:"enum=server_vad,enum=semantic_vad"`
}

type BootstrapConfig struct {
	// URL of the backend issuing session tokens.
	URL        string `json:"url,omitempty"`
	APIKey     string `json:"api_key,omitempty"`
	Model      string `json:"model,omitempty"`
	Type       string `json:"type,omitempty" jsonschema:"enum=realtime,enum=transcription"`
	CooldownMs int    `json:"cooldown_ms,omitempty" jsonschema:"minimum=0"`
	// Token skips the backend and connects with a fixed token.
	Token string `json:"token,omitempty"`
}

type AudioConfig struct {
	Backend          string `json:"backend,omitempty" jsonschema:"enum=miniaudio,enum=portaudio"`
	PlaybackCapacity int    `json:"playback_capacity,omitempty" jsonschema:"minimum=1"`
	CaptureQueueSize int    `json:"capture_queue_size,omitempty" jsonschema:"minimum=1"`
}

type RecordingConfig struct {
	// Path of a WAV file receiving the audio sent upstream. Empty disables it.
	Path string `json:"path,omitempty"`
}

func Default() Config {
	return Config{
		Session: SessionConfig{
			Endpoint:       DefaultEndpoint,
			ReadyTimeoutMs: 5000,
			StopGraceMs:    400,
			MinCommitMs:    100,
		},
		Bootstrap: BootstrapConfig{
			URL:        DefaultBootstrapURL,
			Model:      DefaultModel,
			Type:       DefaultSessionType,
			CooldownMs: 2000,
		},
		Audio: AudioConfig{
			Backend:          "miniaudio",
			PlaybackCapacity: 64,
			CaptureQueueSize: 32,
		},
	}
}

// Load resolves the configuration. path may be empty, in which case only
// defaults and the environment apply.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config file failed: %w", err)
		}
		decoder := json.NewDecoder(bytes.NewReader(data))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("%w: %s: %w", ErrInvalidConfig, path, err)
		}
	}

	_ = godotenv.Load()
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Session.Endpoint = envOrDefault("VOICESTREAM_ENDPOINT", c.Session.Endpoint)
	c.Session.ReadyTimeoutMs = envOrDefaultInt("VOICESTREAM_READY_TIMEOUT_MS", c.Session.ReadyTimeoutMs)
	c.Session.StopGraceMs = envOrDefaultInt("VOICESTREAM_STOP_GRACE_MS", c.Session.StopGraceMs)
	c.Session.MinCommitMs = envOrDefaultInt("VOICESTREAM_MIN_COMMIT_MS", c.Session.MinCommitMs)
	c.Session.Instructions = envOrDefault("VOICESTREAM_INSTRUCTIONS", c.Session.Instructions)
	c.Session.Voice = envOrDefault("VOICESTREAM_VOICE", c.Session.Voice)
	c.Session.TranscriptionModel = envOrDefault("VOICESTREAM_TRANSCRIPTION_MODEL", c.Session.TranscriptionModel)
	c.Session.Language = envOrDefault("VOICESTREAM_LANGUAGE", c.Session.Language)
	c.Session.TurnDetection = envOrDefault("VOICESTREAM_TURN_DETECTION", c.Session.TurnDetection)

	c.Bootstrap.URL = envOrDefault("VOICESTREAM_BOOTSTRAP_URL", c.Bootstrap.URL)
	c.Bootstrap.APIKey = firstNonEmpty(os.Getenv("VOICESTREAM_API_KEY"), os.Getenv("OPENAI_API_KEY"), c.Bootstrap.APIKey)
	c.Bootstrap.Model = envOrDefault("VOICESTREAM_MODEL", c.Bootstrap.Model)
	c.Bootstrap.Type = envOrDefault("VOICESTREAM_SESSION_TYPE", c.Bootstrap.Type)
	c.Bootstrap.CooldownMs = envOrDefaultInt("VOICESTREAM_BOOTSTRAP_COOLDOWN_MS", c.Bootstrap.CooldownMs)
	c.Bootstrap.Token = envOrDefault("VOICESTREAM_TOKEN", c.Bootstrap.Token)

	c.Audio.Backend = envOrDefault("VOICESTREAM_AUDIO_BACKEND", c.Audio.Backend)
	c.Audio.PlaybackCapacity = envOrDefaultInt("VOICESTREAM_PLAYBACK_CAPACITY", c.Audio.PlaybackCapacity)
	c.Audio.CaptureQueueSize = envOrDefaultInt("VOICESTREAM_CAPTURE_QUEUE_SIZE", c.Audio.CaptureQueueSize)

	c.Recording.Path = envOrDefault("VOICESTREAM_RECORDING_PATH", c.Recording.Path)
}

func (c Config) Validate() error {
	var errs []error
	if c.Session.Endpoint == "" {
		errs = append(errs, errors.New("session endpoint is required"))
	}
	if c.Session.ReadyTimeoutMs <= 0 {
		errs = append(errs, errors.New("ready timeout must be positive"))
	}
	if c.Session.StopGraceMs < 0 || c.Session.MinCommitMs < 0 {
		errs = append(errs, errors.New("stop grace and minimum commit must not be negative"))
	}
	switch c.Bootstrap.Type {
	case "realtime", "transcription":
	default:
		errs = append(errs, fmt.Errorf("unknown session type %q", c.Bootstrap.Type))
	}
	if c.Bootstrap.Token == "" && c.Bootstrap.URL == "" {
		errs = append(errs, errors.New("either a bootstrap URL or a token is required"))
	}
	switch c.Audio.Backend {
	case "miniaudio", "portaudio":
	default:
		errs = append(errs, fmt.Errorf("unknown audio backend %q", c.Audio.Backend))
	}
	if c.Audio.PlaybackCapacity <= 0 || c.Audio.CaptureQueueSize <= 0 {
		errs = append(errs, errors.New("audio queue sizes must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

func (s SessionConfig) ReadyTimeout() time.Duration {
	return time.Duration(s.ReadyTimeoutMs) * time.Millisecond
}

func (s SessionConfig) StopGrace() time.Duration {
	return time.Duration(s.StopGraceMs) * time.Millisecond
}

func (s SessionConfig) MinCommit() time.Duration {
	return time.Duration(s.MinCommitMs) * time.Millisecond
}

func (b BootstrapConfig) Cooldown() time.Duration {
	return time.Duration(b.CooldownMs) * time.Millisecond
}

func envOrDefault(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
