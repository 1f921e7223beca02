package backup

import (
	"encoding/json"
	"fmt"
)

// FormatVersion is the current export format version.
const FormatVersion = 1

// KindNotes marks an export carrying vault notes.
const KindNotes = "notes"

// Sealing modes for the export payload.
const (
	// ModePassword seals the payload with a password-derived key; the
	// payload is a self-describing passbox blob.
	ModePassword = "password"
	// ModeKey seals the payload directly under a 32-byte key file.
	ModeKey = "key"
)

// Wrapper is the outer, unencrypted envelope of an export file. Everything
// sensitive lives inside Payload.
type Wrapper struct {
	V         int    `json:"v"`
	Kind      string `json:"kind"`
	Mode      string `json:"mode"`
	Alg       string `json:"alg"`
	CreatedAt int64  `json:"created_at"`
	NoteCount int    `json:"note_count"`
	Payload   []byte `json:"payload"`
}

// Item is one exported note: its decrypted payload bytes plus the metadata
// needed to reconstruct the row on import.
type Item struct {
	ID             string `json:"id"`
	Payload        []byte `json:"payload"`
	CreatedAt      int64  `json:"created_at"`
	UpdatedAt      int64  `json:"updated_at"`
	ExpiresAt      *int64 `json:"expires_at,omitempty"`
	ReadOnce       bool   `json:"read_once,omitempty"`
	ArchivedAt     *int64 `json:"archived_at,omitempty"`
	TrashedAt      *int64 `json:"trashed_at,omitempty"`
	ReminderAt     *int64 `json:"reminder_at,omitempty"`
	ReminderRepeat string `json:"reminder_repeat,omitempty"`
}

// Document is the sealed export body.
type Document struct {
	V          int    `json:"v"`
	Profile    string `json:"profile"`
	ExportedAt int64  `json:"exported_at"`
	Notes      []Item `json:"notes"`
}

func encodeWrapper(w *Wrapper) ([]byte, error) {
	data, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("backup: failed to encode wrapper: %w", err)
	}
	return data, nil
}

func decodeWrapper(data []byte) (*Wrapper, error) {
	var w Wrapper
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, ErrInvalidExport
	}
	if w.V > FormatVersion {
		return nil, fmt.Errorf("%w: got %d, max supported %d", ErrUnsupportedVersion, w.V, FormatVersion)
	}
	if w.Kind != KindNotes {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedKind, w.Kind)
	}
	if w.Mode != ModePassword && w.Mode != ModeKey {
		return nil, ErrInvalidExport
	}
	return &w, nil
}

func encodeDocument(doc *Document) ([]byte, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("backup: failed to encode document: %w", err)
	}
	return data, nil
}

func decodeDocument(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("backup: failed to decode document: %w", err)
	}
	return &doc, nil
}
