package backup

import (
	"fmt"
	"os"

	"github.com/veilnote/veilnote/pkg/crypto"
)

// ReadKeyFile reads a 32-byte export key from a file.
func ReadKeyFile(path string) ([]byte, error) {
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("backup: failed to read key file: %w", err)
	}
	if len(key) != crypto.KeyLength {
		crypto.SecureWipe(key)
		return nil, ErrInvalidKeyFile
	}
	return key, nil
}

// GenerateKeyFile writes a fresh random 32-byte export key with 0600
// permissions.
func GenerateKeyFile(path string) error {
	key, err := crypto.RandomBytes(crypto.KeyLength)
	if err != nil {
		return err
	}
	defer crypto.SecureWipe(key)

	if err := os.WriteFile(path, key, 0600); err != nil {
		return fmt.Errorf("backup: failed to write key file: %w", err)
	}
	return nil
}
