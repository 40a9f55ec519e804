package bootstrap

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/koscakluka/ema-realtime/core/session"
)

func TestHTTPClientIssuesSession(t *testing.T) {
	var gotAuth string
	var gotBody requestBody
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{"token":"ek_1","model":"gpt-realtime","type":"realtime"}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL,
		WithAPIKey("sk_backend"),
		WithRequestedSession("gpt-realtime", session.TypeRealtime),
	)
	cfg, err := client.Bootstrap(context.Background())
	if err != nil {
		t.Fatalf("expected bootstrap to succeed, got %v", err)
	}

	if cfg.Token != "ek_1" || cfg.Model != "gpt-realtime" || cfg.Type != session.TypeRealtime {
		t.Fatalf("expected issued config, got %+v", cfg)
	}
	if gotAuth != "Bearer sk_backend" {
		t.Fatalf("expected bearer key, got %q", gotAuth)
	}
	if gotBody.Session == nil || gotBody.Session.Model != "gpt-realtime" {
		t.Fatalf("expected requested session in body, got %+v", gotBody)
	}
}

func TestHTTPClientResponseShapes(t *testing.T) {
	testCases := []struct {
		name     string
		response string
		expected session.Config
	}{
		{
			name:     "client secret",
			response: `{"client_secret":{"value":"ek_2"},"model":"gpt-realtime"}`,
			expected: session.Config{Token: "ek_2", Model: "gpt-realtime", Type: session.TypeTranscription},
		},
		{
			name:     "value with session",
			response: `{"value":"ek_3","session":{"type":"realtime","model":"gpt-realtime-mini"}}`,
			expected: session.Config{Token: "ek_3", Model: "gpt-realtime-mini", Type: session.TypeRealtime},
		},
		{
			name:     "requested defaults",
			response: `{"token":"ek_4"}`,
			expected: session.Config{Token: "ek_4", Model: "whisper", Type: session.TypeTranscription},
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(testCase.response))
			}))
			defer server.Close()

			client := NewHTTPClient(server.URL, WithRequestedSession("whisper", session.TypeTranscription))
			cfg, err := client.Bootstrap(context.Background())
			if err != nil {
				t.Fatalf("expected bootstrap to succeed, got %v", err)
			}
			if cfg != testCase.expected {
				t.Fatalf("expected %+v, got %+v", testCase.expected, cfg)
			}
		})
	}
}

func TestHTTPClientMissingToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"model":"gpt-realtime"}`))
	}))
	defer server.Close()

	if _, err := NewHTTPClient(server.URL).Bootstrap(context.Background()); !errors.Is(err, session.ErrTokenMissing) {
		t.Fatalf("expected ErrTokenMissing, got %v", err)
	}
}

func TestHTTPClientRejectsNonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer server.Close()

	if _, err := NewHTTPClient(server.URL).Bootstrap(context.Background()); !errors.Is(err, ErrUnexpectedStatus) {
		t.Fatalf("expected ErrUnexpectedStatus, got %v", err)
	}
}

func TestStatic(t *testing.T) {
	cfg := session.Config{Token: "ek", Model: "m", Type: session.TypeRealtime}
	got, err := Static(cfg).Bootstrap(context.Background())
	if err != nil || got != cfg {
		t.Fatalf("expected %+v, got %+v (%v)", cfg, got, err)
	}
}
