// Package keystore abstracts the platform sealed-secret facility used to
// bind vault keys to the device. The only guarantee the core relies on is
// "one random secret exists per alias and can be destroyed"; everything else
// (enclave, TPM, OS keychain) is an implementation detail behind the
// SealedSecrets interface, so the core stays testable without hardware.
package keystore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/veilnote/veilnote/pkg/crypto"
)

// SecretLength is the sealed secret length in bytes.
const SecretLength = 32

// SealedSecrets is the capability interface over the platform keystore.
type SealedSecrets interface {
	// GetOrCreate returns the secret stored under alias, generating and
	// sealing a fresh random one on first use.
	GetOrCreate(alias string) ([]byte, error)
	// Delete destroys the secret stored under alias. Deleting a missing
	// secret is not an error.
	Delete(alias string) error
}

// FileStore keeps sealed secrets as owner-only files under a directory.
// It stands in for a hardware keystore on platforms without one; the files
// live outside the database so a copied database alone cannot rebuild keys.
type FileStore struct {
	dir string
}

// NewFileStore returns a FileStore rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (s *FileStore) path(alias string) string {
	return filepath.Join(s.dir, alias)
}

// GetOrCreate implements SealedSecrets.
func (s *FileStore) GetOrCreate(alias string) ([]byte, error) {
	data, err := os.ReadFile(s.path(alias))
	if err == nil {
		if len(data) != SecretLength {
			return nil, fmt.Errorf("keystore: sealed secret %q has length %d, want %d", alias, len(data), SecretLength)
		}
		return data, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("keystore: failed to read sealed secret: %w", err)
	}

	secret, err := crypto.RandomBytes(SecretLength)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return nil, fmt.Errorf("keystore: failed to create directory: %w", err)
	}
	if err := os.WriteFile(s.path(alias), secret, 0600); err != nil {
		return nil, fmt.Errorf("keystore: failed to seal secret: %w", err)
	}
	return secret, nil
}

// Delete implements SealedSecrets.
func (s *FileStore) Delete(alias string) error {
	err := os.Remove(s.path(alias))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("keystore: failed to delete sealed secret: %w", err)
	}
	return nil
}

// Memory is an in-memory SealedSecrets implementation for tests.
type Memory struct {
	mu      sync.Mutex
	secrets map[string][]byte
}

// NewMemory returns an empty in-memory keystore.
func NewMemory() *Memory {
	return &Memory{secrets: make(map[string][]byte)}
}

// GetOrCreate implements SealedSecrets.
func (m *Memory) GetOrCreate(alias string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.secrets[alias]; ok {
		return s, nil
	}
	secret, err := crypto.RandomBytes(SecretLength)
	if err != nil {
		return nil, err
	}
	m.secrets[alias] = secret
	return secret, nil
}

// Delete implements SealedSecrets.
func (m *Memory) Delete(alias string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.secrets, alias)
	return nil
}
