// Package media implements the attachment transfer client. Attachment bytes
// are sealed under the session note key before they ever reach this package;
// the service stores and serves opaque blobs addressed by id.
package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrNetwork wraps transport failures.
var ErrNetwork = errors.New("media: network failure")

// ErrSlotExpired is returned when an upload slot's window has closed.
var ErrSlotExpired = errors.New("media: upload slot expired")

const (
	defaultHTTPTimeout = 2 * time.Minute

	// MaxAttachmentBytes bounds a single attachment upload.
	MaxAttachmentBytes = 25 << 20
)

// UploadSlot is a single-use, time-limited grant to upload one blob.
type UploadSlot struct {
	ID        string `json:"id"`
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

// Client talks to the media endpoints of the sync service.
type Client struct {
	baseURL string
	http    *http.Client
	clock   func() time.Time
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient swaps the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithClock overrides the time source. Tests only.
func WithClock(clock func() time.Time) Option {
	return func(c *Client) { c.clock = clock }
}

// NewClient builds a media client against the service base URL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultHTTPTimeout},
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RequestUpload asks the service for an upload slot sized for byteCount.
// The mime type is advisory metadata; the uploaded bytes are sealed and the
// service cannot check it.
func (c *Client) RequestUpload(ctx context.Context, authToken, mime string, byteCount int64) (*UploadSlot, error) {
	if byteCount <= 0 || byteCount > MaxAttachmentBytes {
		return nil, fmt.Errorf("media: invalid attachment size %d", byteCount)
	}
	if mime == "" {
		mime = "application/octet-stream"
	}

	body, err := json.Marshal(map[string]any{
		"type":       "attachment",
		"mime":       mime,
		"byte_count": byteCount,
	})
	if err != nil {
		return nil, fmt.Errorf("media: failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/media/request-upload", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("media: failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+authToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var slot UploadSlot
	if err := json.NewDecoder(resp.Body).Decode(&slot); err != nil {
		return nil, fmt.Errorf("media: failed to decode slot: %w", err)
	}
	return &slot, nil
}

// Upload sends sealed attachment bytes into a previously granted slot.
func (c *Client) Upload(ctx context.Context, slot *UploadSlot, sealed []byte) error {
	if slot.ExpiresAt != 0 && c.clock().UnixMilli() >= slot.ExpiresAt {
		return ErrSlotExpired
	}

	q := url.Values{}
	q.Set("token", slot.Token)
	q.Set("expires", strconv.FormatInt(slot.ExpiresAt, 10))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		c.baseURL+"/media/upload/"+url.PathEscape(slot.ID)+"?"+q.Encode(),
		bytes.NewReader(sealed))
	if err != nil {
		return fmt.Errorf("media: failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

// Download fetches sealed attachment bytes by id. The caller decrypts.
func (c *Client) Download(ctx context.Context, authToken, id string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/media/download/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, fmt.Errorf("media: failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+authToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	sealed, err := io.ReadAll(io.LimitReader(resp.Body, MaxAttachmentBytes+1))
	if err != nil {
		return nil, fmt.Errorf("media: failed to read blob: %w", err)
	}
	if len(sealed) > MaxAttachmentBytes {
		return nil, fmt.Errorf("media: blob exceeds %d bytes", MaxAttachmentBytes)
	}
	return sealed, nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return nil
	}
	if resp.StatusCode == http.StatusGone {
		return ErrSlotExpired
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return fmt.Errorf("media: server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
}
