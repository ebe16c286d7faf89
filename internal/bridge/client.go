// Package bridge wraps the external chat-bridge gateway API: instance
// lifecycle, QR pairing requests, status queries and message relay.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// ErrUnavailable wraps any network failure or non-success response from
// the gateway. Callers surface it immediately except for QR generation,
// which is retried with bounded backoff.
var ErrUnavailable = errors.New("bridge gateway unavailable")

const (
	defaultTimeout = 30 * time.Second

	// connectAttempts bounds the QR-generation retry loop.
	connectAttempts = 3
	connectBackoff  = time.Second
)

// Client is a thin request/response wrapper over one gateway endpoint.
// Construct one per resolved credential set; it carries no instance state.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter

	// backoff is the base delay between Connect retries. Overridable in tests.
	backoff time.Duration
}

// New creates a gateway client. Requests are rate limited to keep a
// misbehaving tenant from starving the shared gateway.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: defaultTimeout},
		limiter: rate.NewLimiter(rate.Limit(10), 20),
		backoff: connectBackoff,
	}
}

// ConnectionState is the gateway's view of an instance.
type ConnectionState struct {
	Instance string `json:"instanceName"`
	State    string `json:"state"` // "open", "connecting", "close", ...
}

// QRArtifact is a pairing QR issued by the gateway.
type QRArtifact struct {
	Base64 string `json:"base64"`
	Code   string `json:"code"`
}

// ConnectResult is the outcome of a connect/request-QR call: either a QR
// artifact to offer, or AlreadyOpen when the device is paired already.
type ConnectResult struct {
	QR          *QRArtifact
	AlreadyOpen bool
}

// CreateInstance registers an instance remotely. webhookURL is where the
// gateway pushes connection.update / qrcode.updated / messages.upsert.
func (c *Client) CreateInstance(ctx context.Context, name, webhookURL string) error {
	body := map[string]any{
		"instanceName": name,
		"qrcode":       true,
	}
	if webhookURL != "" {
		body["webhook"] = map[string]any{
			"url":    webhookURL,
			"events": []string{"CONNECTION_UPDATE", "QRCODE_UPDATED", "MESSAGES_UPSERT"},
		}
	}
	_, err := c.do(ctx, http.MethodPost, "/instance/create", body)
	return err
}

// Connect asks the gateway to begin pairing. Retried with bounded linear
// backoff because QR issuance is the one call worth re-trying.
func (c *Client) Connect(ctx context.Context, name string) (*ConnectResult, error) {
	var lastErr error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt-1) * c.backoff):
			}
		}

		raw, err := c.do(ctx, http.MethodGet, "/instance/connect/"+name, nil)
		if err != nil {
			lastErr = err
			slog.Warn("bridge connect attempt failed",
				"instance", name, "attempt", attempt, "error", err)
			continue
		}
		return parseConnectResult(raw)
	}
	return nil, lastErr
}

// State queries the gateway's status endpoint for one instance.
func (c *Client) State(ctx context.Context, name string) (*ConnectionState, error) {
	raw, err := c.do(ctx, http.MethodGet, "/instance/connectionState/"+name, nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Instance ConnectionState `json:"instance"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode connection state: %w", err)
	}
	return &resp.Instance, nil
}

// Logout disconnects the paired device without removing the instance.
func (c *Client) Logout(ctx context.Context, name string) error {
	_, err := c.do(ctx, http.MethodDelete, "/instance/logout/"+name, nil)
	return err
}

// Delete removes the remote instance registration.
func (c *Client) Delete(ctx context.Context, name string) error {
	_, err := c.do(ctx, http.MethodDelete, "/instance/delete/"+name, nil)
	return err
}

// SendText relays an outbound text message through the gateway.
func (c *Client) SendText(ctx context.Context, name, number, text string) error {
	_, err := c.do(ctx, http.MethodPost, "/message/sendText/"+name, map[string]any{
		"number": number,
		"text":   text,
	})
	return err
}

// Ping verifies the credentials by hitting the gateway root.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/", nil)
	return err
}

func parseConnectResult(raw []byte) (*ConnectResult, error) {
	// The connect endpoint answers with either a QR artifact or the
	// current instance state when the device is already paired.
	var probe struct {
		Base64   string `json:"base64"`
		Code     string `json:"code"`
		Instance *struct {
			State string `json:"state"`
		} `json:"instance"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("decode connect response: %w", err)
	}
	if probe.Base64 != "" {
		return &ConnectResult{QR: &QRArtifact{Base64: probe.Base64, Code: probe.Code}}, nil
	}
	if probe.Instance != nil && IsOpenState(probe.Instance.State) {
		return &ConnectResult{AlreadyOpen: true}, nil
	}
	return &ConnectResult{}, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build gateway request: %w", err)
	}
	req.Header.Set("apikey", c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read gateway response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s %s returned %d: %s",
			ErrUnavailable, method, path, resp.StatusCode, truncate(string(data), 200))
	}
	return data, nil
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
