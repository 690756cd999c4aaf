// Package rest is the shared HTTP transport for brokerage and market data
// clients: rate limited, health tracked, JSON or form encoded.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout  = 30 * time.Second
	maxErrorBody    = 500
	defaultRPS      = 5
	defaultBurst    = 2
	userAgentHeader = "arena/1.0"
)

// HealthRecorder receives the outcome of every upstream call
type HealthRecorder interface {
	Observe(source string, err error)
}

// Authorizer decorates an outgoing request with credentials
type Authorizer func(ctx context.Context, req *http.Request) error

// Config configures one upstream
type Config struct {
	Health            HealthRecorder
	Authorize         Authorizer
	Name              string
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
}

// StatusError is returned for non-2xx responses
type StatusError struct {
	Upstream   string
	Body       string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s API error: status %d, body: %s", e.Upstream, e.StatusCode, e.Body)
}

// Client performs requests against one base URL
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	health     HealthRecorder
	authorize  Authorizer
	name       string
	baseURL    string
	log        zerolog.Logger
}

// New creates a client for cfg
func New(cfg Config, log zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = defaultRPS
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = defaultBurst
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		health:     cfg.Health,
		authorize:  cfg.Authorize,
		name:       cfg.Name,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		log:        log.With().Str("client", cfg.Name).Logger(),
	}
}

// Name returns the upstream name used for health tracking
func (c *Client) Name() string {
	return c.name
}

// BaseURL returns the configured base URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Get decodes a GET response into out
func (c *Client) Get(ctx context.Context, path string, query url.Values, out interface{}) error {
	return c.Do(ctx, http.MethodGet, path, query, nil, out)
}

// Post sends body (JSON, or form when body is url.Values) and decodes into out
func (c *Client) Post(ctx context.Context, path string, body, out interface{}) error {
	return c.Do(ctx, http.MethodPost, path, nil, body, out)
}

// Delete issues a DELETE and decodes any body into out
func (c *Client) Delete(ctx context.Context, path string, out interface{}) error {
	return c.Do(ctx, http.MethodDelete, path, nil, nil, out)
}

// PostLocation sends body and returns the Location header of the response.
// Some brokers answer an order placement with 201 and no body.
func (c *Client) PostLocation(ctx context.Context, path string, body interface{}) (string, error) {
	header, err := c.do(ctx, http.MethodPost, path, nil, body, nil)
	if err != nil {
		return "", err
	}
	return header.Get("Location"), nil
}

// Do performs one request. The outcome is reported to the health recorder
// exactly once.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	_, err := c.do(ctx, method, path, query, body, out)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) (header http.Header, err error) {
	defer func() {
		if c.health != nil && ctx.Err() == nil {
			c.health.Observe(c.name, err)
		}
	}()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait cancelled: %w", err)
	}

	req, err := c.newRequest(ctx, method, path, query, body)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", c.name, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", c.name, err)
	}

	c.log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("Upstream call")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.Header, &StatusError{Upstream: c.name, StatusCode: resp.StatusCode, Body: truncate(string(raw))}
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return resp.Header, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return resp.Header, fmt.Errorf("failed to decode %s response: %w (body: %s)", c.name, err, truncate(string(raw)))
	}
	return resp.Header, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body interface{}) (*http.Request, error) {
	target := c.baseURL + path
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		target = path
	}
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var (
		reader      io.Reader
		contentType string
	)
	switch b := body.(type) {
	case nil:
	case url.Values:
		reader = strings.NewReader(b.Encode())
		contentType = "application/x-www-form-urlencoded"
	default:
		payload, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgentHeader)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	if c.authorize != nil {
		if err := c.authorize(ctx, req); err != nil {
			return nil, fmt.Errorf("failed to authorize %s request: %w", c.name, err)
		}
	}
	return req, nil
}

// StaticHeaders returns an Authorizer that sets fixed headers
func StaticHeaders(headers map[string]string) Authorizer {
	return func(_ context.Context, req *http.Request) error {
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		return nil
	}
}

// Bearer returns an Authorizer that sets a bearer token from source
func Bearer(source func(ctx context.Context) (string, error)) Authorizer {
	return func(ctx context.Context, req *http.Request) error {
		token, err := source(ctx)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		return nil
	}
}

func truncate(s string) string {
	if len(s) > maxErrorBody {
		return s[:maxErrorBody] + "..."
	}
	return s
}
