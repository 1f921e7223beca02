// Package sync implements the outbox/cursor reconciliation engine against
// the remote operation log: at-least-once push with capped exponential
// backoff, cursor-paged pull with conflict detection, and remote panic-wipe
// propagation.
package sync

import (
	"context"
	"errors"

	"github.com/veilnote/veilnote/pkg/profile"
)

// ErrNetwork wraps transport failures. Always recoverable via retry; never
// surfaced as data loss.
var ErrNetwork = errors.New("sync: network failure")

// Operation is one outbox mutation in wire form.
type Operation struct {
	OpID          string  `json:"op_id"`
	Profile       string  `json:"profile"`
	EntityType    string  `json:"entity_type"`
	EntityID      string  `json:"entity_id"`
	OpType        string  `json:"op_type"`
	BaseRevision  *string `json:"base_revision,omitempty"`
	ClientTS      int64   `json:"client_ts"`
	CiphertextB64 string  `json:"ciphertext_b64"`
}

// PushRequest is the body of POST /sync/v1/ops/push.
type PushRequest struct {
	DeviceID   string      `json:"device_id"`
	Profile    string      `json:"profile"`
	Operations []Operation `json:"operations"`
}

// Ack is the server's verdict on one pushed operation.
type Ack struct {
	OpID     string `json:"op_id"`
	Accepted bool   `json:"accepted"`
}

// PushResponse is the body returned by the push endpoint.
type PushResponse struct {
	Acks []Ack `json:"acks"`
}

// RemoteOperation is one pulled operation from the remote log.
type RemoteOperation struct {
	OpID          string  `json:"op_id"`
	EntityID      string  `json:"entity_id"`
	Revision      *string `json:"revision,omitempty"`
	BaseRevision  *string `json:"base_revision,omitempty"`
	CiphertextB64 string  `json:"ciphertext_b64"`
}

// PullResponse is the body returned by the pull endpoint.
type PullResponse struct {
	Cursor     *string           `json:"cursor,omitempty"`
	Operations []RemoteOperation `json:"operations"`
}

// API is the capability interface over the remote sync service. The HTTP
// client implements it; tests swap in fakes.
type API interface {
	// Register announces this device for a profile.
	Register(ctx context.Context, token, deviceID string, p profile.Profile) error
	// Push submits one batch of outbox operations.
	Push(ctx context.Context, token string, req PushRequest) (*PushResponse, error)
	// Pull requests the next batch of remote operations after cursor
	// (nil for a first sync).
	Pull(ctx context.Context, token string, p profile.Profile, limit int, cursor *string) (*PullResponse, error)
}
