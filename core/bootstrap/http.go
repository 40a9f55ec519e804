package bootstrap

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/koscakluka/ema-realtime/core/session"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var ErrUnexpectedStatus = errors.New("unexpected bootstrap response status")

const defaultRequestTimeout = 10 * time.Second

// HTTPClient asks a backend to issue a session. The backend holds the real
// API key and answers with a short-lived token.
type HTTPClient struct {
	url    string
	apiKey string
	client *http.Client

	model       string
	sessionType session.Type
}

type HTTPOption func(*HTTPClient)

// WithAPIKey authenticates bootstrap requests with a bearer key.
func WithAPIKey(apiKey string) HTTPOption {
	return func(c *HTTPClient) {
		c.apiKey = apiKey
	}
}

// WithRequestedSession asks the backend for a session of the given model and
// type. Values returned by the backend take precedence.
func WithRequestedSession(model string, sessionType session.Type) HTTPOption {
	return func(c *HTTPClient) {
		c.model = model
		c.sessionType = sessionType
	}
}

func WithHTTPClient(client *http.Client) HTTPOption {
	return func(c *HTTPClient) {
		if client != nil {
			c.client = client
		}
	}
}

func NewHTTPClient(url string, opts ...HTTPOption) *HTTPClient {
	c := &HTTPClient{
		url: url,
		client: &http.Client{
			Timeout: defaultRequestTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport,
				otelhttp.WithSpanNameFormatter(func(operationName string, request *http.Request) string {
					return operationName + " " + request.URL.Path
				}),
			),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type requestBody struct {
	Session *requestedSession `json:"session,omitempty"`
}

type requestedSession struct {
	Type  session.Type `json:"type,omitempty"`
	Model string       `json:"model,omitempty"`
}

// responseBody accepts both a flat {token, model, type} answer and the
// {value | client_secret.value, session{model, type}} shape of client
// secret endpoints.
type responseBody struct {
	Token        string `json:"token"`
	Value        string `json:"value"`
	ClientSecret *struct {
		Value string `json:"value"`
	} `json:"client_secret"`
	Model   string       `json:"model"`
	Type    session.Type `json:"type"`
	Session *struct {
		Model string       `json:"model"`
		Type  session.Type `json:"type"`
	} `json:"session"`
}

func (r responseBody) config() session.Config {
	cfg := session.Config{Token: r.Token, Model: r.Model, Type: r.Type}
	if cfg.Token == "" {
		cfg.Token = r.Value
	}
	if cfg.Token == "" && r.ClientSecret != nil {
		cfg.Token = r.ClientSecret.Value
	}
	if r.Session != nil {
		if cfg.Model == "" {
			cfg.Model = r.Session.Model
		}
		if cfg.Type == "" {
			cfg.Type = r.Session.Type
		}
	}
	return cfg
}

func (c *HTTPClient) Bootstrap(ctx context.Context) (cfg session.Config, err error) {
	ctx, span := tracer.Start(ctx, "bootstrap session")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	var body requestBody
	if c.model != "" || c.sessionType != "" {
		body.Session = &requestedSession{Type: c.sessionType, Model: c.model}
	}
	requestBodyBytes, err := json.Marshal(body)
	if err != nil {
		return session.Config{}, fmt.Errorf("error marshalling JSON: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(requestBodyBytes))
	if err != nil {
		return session.Config{}, fmt.Errorf("error creating HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	span.SetAttributes(attribute.String("request.url", req.URL.String()))
	resp, err := c.client.Do(req)
	if err != nil {
		return session.Config{}, fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("response.status_code", resp.StatusCode))
	if resp.StatusCode != http.StatusOK {
		if errorBody, err := io.ReadAll(io.LimitReader(resp.Body, 4096)); err == nil {
			span.SetAttributes(attribute.String("response.error", string(errorBody)))
		}
		return session.Config{}, fmt.Errorf("%w: %s", ErrUnexpectedStatus, resp.Status)
	}

	var responseBody responseBody
	if err := json.NewDecoder(resp.Body).Decode(&responseBody); err != nil {
		return session.Config{}, fmt.Errorf("error unmarshalling JSON: %w", err)
	}

	cfg = responseBody.config()
	if cfg.Model == "" {
		cfg.Model = c.model
	}
	if cfg.Type == "" {
		cfg.Type = c.sessionType
	}
	if cfg.Token == "" {
		return session.Config{}, session.ErrTokenMissing
	}

	span.SetAttributes(
		attribute.String("session.model", cfg.Model),
		attribute.String("session.type", string(cfg.Type)),
	)
	logger.Debug("session issued", "model", cfg.Model, "type", cfg.Type)
	return cfg, nil
}

// Static always issues cfg.
func Static(cfg session.Config) session.Bootstrapper {
	return session.BootstrapperFunc(func(context.Context) (session.Config, error) {
		return cfg, nil
	})
}
