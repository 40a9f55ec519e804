package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"VOICESTREAM_ENDPOINT", "VOICESTREAM_READY_TIMEOUT_MS", "VOICESTREAM_STOP_GRACE_MS",
		"VOICESTREAM_MIN_COMMIT_MS", "VOICESTREAM_BOOTSTRAP_URL", "VOICESTREAM_API_KEY",
		"OPENAI_API_KEY", "VOICESTREAM_MODEL", "VOICESTREAM_SESSION_TYPE", "VOICESTREAM_TOKEN",
		"VOICESTREAM_AUDIO_BACKEND", "VOICESTREAM_RECORDING_PATH",
	} {
		t.Setenv(key, "")
	}
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "voicestream.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("expected config file to be written, got %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("expected defaults to load, got %v", err)
	}

	if cfg.Session.ReadyTimeout() != 5*time.Second {
		t.Fatalf("expected 5s ready timeout, got %s", cfg.Session.ReadyTimeout())
	}
	if cfg.Session.StopGrace() != 400*time.Millisecond {
		t.Fatalf("expected 400ms stop grace, got %s", cfg.Session.StopGrace())
	}
	if cfg.Session.MinCommit() != 100*time.Millisecond {
		t.Fatalf("expected 100ms minimum commit, got %s", cfg.Session.MinCommit())
	}
	if cfg.Bootstrap.Type != "transcription" || cfg.Audio.Backend != "miniaudio" {
		t.Fatalf("expected default session type and backend, got %+v", cfg)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, `{
		"session": {"stop_grace_ms": 250, "voice": "alloy"},
		"bootstrap": {"type": "realtime", "model": "gpt-realtime-mini"},
		"audio": {"backend": "portaudio"}
	}`)
	t.Setenv("VOICESTREAM_MODEL", "gpt-realtime")
	t.Setenv("OPENAI_API_KEY", "sk_env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("expected config to load, got %v", err)
	}

	if cfg.Session.StopGraceMs != 250 || cfg.Session.Voice != "alloy" {
		t.Fatalf("expected file values, got %+v", cfg.Session)
	}
	if cfg.Session.ReadyTimeoutMs != 5000 {
		t.Fatalf("expected defaults to survive a partial file, got %d", cfg.Session.ReadyTimeoutMs)
	}
	if cfg.Bootstrap.Model != "gpt-realtime" {
		t.Fatalf("expected environment to override the file, got %q", cfg.Bootstrap.Model)
	}
	if cfg.Bootstrap.APIKey != "sk_env" {
		t.Fatalf("expected API key from the environment, got %q", cfg.Bootstrap.APIKey)
	}
	if cfg.Audio.Backend != "portaudio" {
		t.Fatalf("expected portaudio backend, got %q", cfg.Audio.Backend)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, `{"sesion": {}}`)

	if _, err := Load(path); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	testCases := []struct {
		name string
		env  map[string]string
	}{
		{name: "session type", env: map[string]string{"VOICESTREAM_SESSION_TYPE": "chat"}},
		{name: "backend", env: map[string]string{"VOICESTREAM_AUDIO_BACKEND": "alsa"}},
		{name: "ready timeout", env: map[string]string{"VOICESTREAM_READY_TIMEOUT_MS": "-1"}},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			clearEnv(t)
			for key, value := range testCase.env {
				t.Setenv(key, value)
			}
			if _, err := Load(""); !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestEnvIntFallsBackOnGarbage(t *testing.T) {
	t.Setenv("VOICESTREAM_TEST_INT", "many")
	if got := envOrDefaultInt("VOICESTREAM_TEST_INT", 7); got != 7 {
		t.Fatalf("expected fallback, got %d", got)
	}
}

func TestSchemaDescribesSections(t *testing.T) {
	data, err := Schema()
	if err != nil {
		t.Fatalf("expected schema to be generated, got %v", err)
	}

	var schema struct {
		Properties map[string]json.RawMessage `json:"properties"`
	}
	if err := json.Unmarshal(data, &schema); err != nil {
		t.Fatalf("expected schema to be valid JSON, got %v", err)
	}
	for _, section := range []string{"session", "bootstrap", "audio", "recording"} {
		if _, ok := schema.Properties[section]; !ok {
			t.Fatalf("expected %s section in schema, got %s", section, data)
		}
	}
}
