package vault

import (
	"encoding/json"
	"errors"
	"strings"
)

// payloadVersion is the current note payload wire format version.
const payloadVersion = 1

// ErrInvalidPayload indicates decrypted bytes that do not decode as a
// structured note payload. Callers fall back to legacy plain-text handling.
var ErrInvalidPayload = errors.New("vault: invalid note payload")

// ChecklistItem is one entry of a note's checklist.
type ChecklistItem struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Checked bool   `json:"checked"`
}

// Attachment is the metadata of a media attachment; the bytes themselves
// live with the media service.
type Attachment struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	MimeType  string `json:"mimeType"`
	ByteCount int64  `json:"byteCount"`
}

// Payload is the plaintext content of a note. This is what gets encrypted
// with the session note key; none of it ever touches disk unencrypted.
type Payload struct {
	V           int             `json:"v"`
	Text        string          `json:"text"`
	Checklist   []ChecklistItem `json:"checklist,omitempty"`
	Labels      []string        `json:"labels,omitempty"`
	Attachments []Attachment    `json:"attachments,omitempty"`
	Pinned      bool            `json:"pinned,omitempty"`
}

// EncodePayload serializes a payload, stamping the current format version.
func EncodePayload(p *Payload) ([]byte, error) {
	out := *p
	out.V = payloadVersion
	out.Labels = cleanLabels(out.Labels)
	return json.Marshal(&out)
}

// DecodePayload parses a payload leniently: missing optional fields default
// to empty/false and blank labels are dropped. A payload without a "text"
// field at all is invalid — that is the signal that the bytes predate the
// structured format, and the caller falls back to treating them as plain
// text.
func DecodePayload(data []byte) (*Payload, error) {
	var raw struct {
		V           int             `json:"v"`
		Text        *string         `json:"text"`
		Checklist   []ChecklistItem `json:"checklist"`
		Labels      []string        `json:"labels"`
		Attachments []Attachment    `json:"attachments"`
		Pinned      bool            `json:"pinned"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, ErrInvalidPayload
	}
	if raw.Text == nil {
		return nil, ErrInvalidPayload
	}
	return &Payload{
		V:           raw.V,
		Text:        *raw.Text,
		Checklist:   raw.Checklist,
		Labels:      cleanLabels(raw.Labels),
		Attachments: raw.Attachments,
		Pinned:      raw.Pinned,
	}, nil
}

func cleanLabels(labels []string) []string {
	var out []string
	for _, l := range labels {
		if strings.TrimSpace(l) != "" {
			out = append(out, l)
		}
	}
	return out
}
