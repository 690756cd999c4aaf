// Package tradernet implements the broker port against the Tradernet
// (Freedom24) API: signed command calls over HTTP plus a websocket feed
// of exchange status.
package tradernet

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/aristath/arena/internal/clients/rest"
	"github.com/rs/zerolog"
)

// Tradernet throttles aggressively; one call every 1.5s stays clear of it
const requestsPerSecond = 1.0 / 1.5

// Client issues signed Tradernet commands
type Client struct {
	api *rest.Client
	log zerolog.Logger
}

// NewClient creates a command client for the given key pair
func NewClient(baseURL, publicKey, privateKey string, health rest.HealthRecorder, log zerolog.Logger) *Client {
	return newClient(baseURL, publicKey, privateKey, health, requestsPerSecond, log)
}

func newClient(baseURL, publicKey, privateKey string, health rest.HealthRecorder, rps float64, log zerolog.Logger) *Client {
	return &Client{
		api: rest.New(rest.Config{
			Name:              "tradernet",
			BaseURL:           baseURL,
			Health:            health,
			Authorize:         signer(publicKey, privateKey, time.Now),
			RequestsPerSecond: rps,
			Burst:             1,
		}, log),
		log: log.With().Str("client", "tradernet").Logger(),
	}
}

// sign returns the hex HMAC-SHA256 of message under key
func sign(key, message string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// signer authorizes a command: the signature covers the JSON payload
// followed by the unix timestamp in seconds.
func signer(publicKey, privateKey string, now func() time.Time) rest.Authorizer {
	return func(_ context.Context, req *http.Request) error {
		if publicKey == "" || privateKey == "" {
			return fmt.Errorf("keypair is not valid")
		}

		var payload []byte
		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return fmt.Errorf("failed to read payload for signing: %w", err)
			}
			payload, err = io.ReadAll(body)
			body.Close()
			if err != nil {
				return fmt.Errorf("failed to read payload for signing: %w", err)
			}
		}

		timestamp := strconv.FormatInt(now().Unix(), 10)
		req.Header.Set("X-NtApi-PublicKey", publicKey)
		req.Header.Set("X-NtApi-Timestamp", timestamp)
		req.Header.Set("X-NtApi-Sig", sign(privateKey, string(payload)+timestamp))
		return nil
	}
}

// apiError is the error shape Tradernet returns with HTTP 200
type apiError struct {
	ErrMsg    string      `json:"errMsg"`
	Error     string      `json:"error"`
	Code      interface{} `json:"code"`
	ErrorCode rest.Float  `json:"error_code"`
}

func (e apiError) message() string {
	switch {
	case e.ErrMsg != "":
		return e.ErrMsg
	case e.Error != "":
		return e.Error
	case e.ErrorCode.Value() != 0:
		return fmt.Sprintf("error code %d", int(e.ErrorCode.Value()))
	}
	return ""
}

// Call runs cmd with params and decodes the response into out
func (c *Client) Call(ctx context.Context, cmd string, params, out interface{}) error {
	if params == nil {
		params = struct{}{}
	}

	var raw json.RawMessage
	if err := c.api.Post(ctx, "/api/"+cmd, params, &raw); err != nil {
		return fmt.Errorf("%s failed: %w", cmd, err)
	}

	var apiErr apiError
	if err := json.Unmarshal(raw, &apiErr); err == nil {
		if msg := apiErr.message(); msg != "" {
			return fmt.Errorf("%s rejected: %s", cmd, msg)
		}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", cmd, err)
	}
	return nil
}
