package profile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/veilnote/veilnote/pkg/crypto"
)

const (
	// FileMode restricts preference files to the owning user.
	FileMode = 0600
	// DirMode restricts the vault directory to the owning user.
	DirMode = 0700

	// SaltLength is the length of persisted random salts in bytes.
	SaltLength = 16
)

// Prefs is one profile's preference namespace, persisted as a single JSON
// file. Only non-secret material lives here: the encoded PIN hash and the
// public salts. Byte slices marshal as base64.
type Prefs struct {
	// PINHash is the PHC-encoded Argon2id hash of the profile's PIN.
	PINHash string `json:"pin_hash,omitempty"`
	// KDFSalt feeds the Argon2id PIN stretch.
	KDFSalt []byte `json:"kdf_salt,omitempty"`
	// DBKeySalt feeds the database key derivation.
	DBKeySalt []byte `json:"db_key_salt,omitempty"`
	// DeviceID identifies this installation to the sync service.
	DeviceID string `json:"device_id,omitempty"`
	// SyncRegistered records whether the device registered with the sync
	// service for this profile.
	SyncRegistered bool `json:"sync_registered,omitempty"`
}

// Store reads and writes one profile's preference file.
type Store struct {
	path string
}

// NewStore returns a preference store backed by the given file path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads the preference file. A missing file yields empty Prefs, not an
// error, so first-run code paths need no special casing.
func (s *Store) Load() (*Prefs, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return &Prefs{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("profile: failed to read prefs: %w", err)
	}
	var p Prefs
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("profile: failed to parse prefs: %w", err)
	}
	return &p, nil
}

// Save writes the preference file with owner-only permissions.
func (s *Store) Save(p *Prefs) error {
	if err := os.MkdirAll(filepath.Dir(s.path), DirMode); err != nil {
		return fmt.Errorf("profile: failed to create vault directory: %w", err)
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("profile: failed to marshal prefs: %w", err)
	}
	if err := os.WriteFile(s.path, data, FileMode); err != nil {
		return fmt.Errorf("profile: failed to write prefs: %w", err)
	}
	return nil
}

// Delete removes the preference file. Removing a missing file is a no-op.
func (s *Store) Delete() error {
	err := os.Remove(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// EnsureKDFSalt returns the profile's KDF salt, generating and persisting a
// fresh random one on first use.
func (s *Store) EnsureKDFSalt() ([]byte, error) {
	p, err := s.Load()
	if err != nil {
		return nil, err
	}
	if len(p.KDFSalt) == SaltLength {
		return p.KDFSalt, nil
	}
	salt, err := crypto.RandomBytes(SaltLength)
	if err != nil {
		return nil, err
	}
	p.KDFSalt = salt
	if err := s.Save(p); err != nil {
		return nil, err
	}
	return salt, nil
}

// EnsureDBKeySalt returns the profile's database key salt, generating and
// persisting a fresh random one on first use.
func (s *Store) EnsureDBKeySalt() ([]byte, error) {
	p, err := s.Load()
	if err != nil {
		return nil, err
	}
	if len(p.DBKeySalt) == SaltLength {
		return p.DBKeySalt, nil
	}
	salt, err := crypto.RandomBytes(SaltLength)
	if err != nil {
		return nil, err
	}
	p.DBKeySalt = salt
	if err := s.Save(p); err != nil {
		return nil, err
	}
	return salt, nil
}
