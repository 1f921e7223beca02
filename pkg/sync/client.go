package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/veilnote/veilnote/pkg/profile"
)

const defaultHTTPTimeout = 30 * time.Second

// Client is the HTTP implementation of API.
type Client struct {
	baseURL string
	http    *http.Client
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithHTTPClient swaps the underlying HTTP client. Tests inject transports
// through this.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.http = h }
}

// NewClient builds a sync client against the service base URL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultHTTPTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register implements API.
func (c *Client) Register(ctx context.Context, token, deviceID string, p profile.Profile) error {
	body := map[string]string{"device_id": deviceID, "profile": string(p)}
	return c.do(ctx, http.MethodPost, "/sync/v1/devices/register", token, body, nil)
}

// Push implements API.
func (c *Client) Push(ctx context.Context, token string, req PushRequest) (*PushResponse, error) {
	var resp PushResponse
	if err := c.do(ctx, http.MethodPost, "/sync/v1/ops/push", token, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Pull implements API.
func (c *Client) Pull(ctx context.Context, token string, p profile.Profile, limit int, cursor *string) (*PullResponse, error) {
	q := url.Values{}
	q.Set("profile", string(p))
	q.Set("limit", strconv.Itoa(limit))
	if cursor != nil {
		q.Set("cursor", *cursor)
	}
	var resp PullResponse
	if err := c.do(ctx, http.MethodGet, "/sync/v1/ops/pull?"+q.Encode(), token, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, method, path, token string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("sync: failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("sync: failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("sync: server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("sync: failed to decode response: %w", err)
	}
	return nil
}
