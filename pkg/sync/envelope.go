package sync

import (
	"encoding/base64"
	"encoding/json"
)

// Operation type discriminators carried inside the opaque wire payload.
const (
	OpNoop      = "noop"
	OpUpsert    = "upsert"
	OpDelete    = "delete"
	OpPanicWipe = "panic_wipe"
)

// opPayload is the structured data behind a wire operation's ciphertext_b64.
// For upserts the embedded ciphertext blob is the note's sealed bytes,
// opaque to both this codec and the server.
type opPayload struct {
	OpType        string `json:"op_type"`
	EntityID      string `json:"entity_id,omitempty"`
	ClientTS      int64  `json:"client_ts,omitempty"`
	CiphertextB64 string `json:"ciphertext_b64,omitempty"`
}

// encodeOpPayload wraps an outbox entry into the base64 wire payload.
func encodeOpPayload(e OutboxEntry) string {
	p := opPayload{
		OpType:   e.OpType,
		EntityID: e.EntityID,
		ClientTS: e.ClientTS,
	}
	if len(e.Envelope) > 0 {
		p.CiphertextB64 = base64.StdEncoding.EncodeToString(e.Envelope)
	}
	data, _ := json.Marshal(p)
	return base64.StdEncoding.EncodeToString(data)
}

// decodeOpPayload is total: remote payloads cross a trust boundary, so any
// malformed input decodes to a noop instead of an error.
func decodeOpPayload(raw string) opPayload {
	noop := opPayload{OpType: OpNoop}
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil || len(data) == 0 {
		return noop
	}
	var p opPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return noop
	}
	switch p.OpType {
	case OpUpsert, OpDelete, OpPanicWipe:
		return p
	default:
		return noop
	}
}
