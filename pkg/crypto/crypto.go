// Package crypto provides the cryptographic primitives for veilnote.
//
// This package implements XChaCha20-Poly1305 authenticated encryption,
// Argon2id key derivation for PINs, an HKDF-SHA256 key tree for deriving
// per-purpose keys from the master key, and a PBKDF2-based password codec
// for export/import blobs.
//
// # Security Features
//
//   - XChaCha20-Poly1305 AEAD with a random 24-byte nonce per call
//   - Argon2id PIN derivation (64MB memory, 3 iterations)
//   - Master key bound to both the PIN and a sealed per-profile secret
//   - Secure memory wiping for sensitive data
//
// # Example Usage
//
//	// Encrypt data (nonce is generated and embedded in the output)
//	ciphertext, err := crypto.Encrypt(key, plaintext)
//
//	// Decrypt data
//	plaintext, err := crypto.Decrypt(key, ciphertext)
//
//	// Securely wipe sensitive data
//	crypto.SecureWipe(key)
package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// KeyLength is the length of encryption keys in bytes (256 bits).
	KeyLength = 32

	// NonceLength is the length of XChaCha20-Poly1305 nonces in bytes (192 bits).
	NonceLength = chacha20poly1305.NonceSizeX

	// TagLength is the length of the Poly1305 authentication tag in bytes.
	TagLength = chacha20poly1305.Overhead
)

// Sentinel errors returned by crypto functions.
var (
	// ErrInvalidKeyLength indicates the key is not 32 bytes.
	ErrInvalidKeyLength = errors.New("crypto: invalid key length, must be 32 bytes")

	// ErrAuthenticationFailed indicates decryption failed: the ciphertext was
	// tampered with, truncated, or encrypted under a different key. Callers
	// must not attempt partial recovery.
	ErrAuthenticationFailed = errors.New("crypto: authentication failed")

	// ErrKDFUnavailable indicates the key derivation backend cannot run with
	// the configured parameters.
	ErrKDFUnavailable = errors.New("crypto: kdf unavailable")
)

// Encrypt encrypts plaintext using XChaCha20-Poly1305 authenticated encryption.
//
// A cryptographically secure random 24-byte nonce is generated per call and
// prepended to the returned ciphertext, so the output is self-contained:
//
//	output = nonce || ciphertext || tag
//
// Associated data is empty. The key must be exactly 32 bytes.
func Encrypt(key, plaintext []byte) ([]byte, error) {
	if len(key) != KeyLength {
		return nil, ErrInvalidKeyLength
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create AEAD: %w", err)
	}

	nonce := make([]byte, NonceLength, NonceLength+len(plaintext)+TagLength)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: failed to generate nonce: %w", err)
	}

	// Seal appends to the nonce slice, producing nonce||ct||tag in one buffer.
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt decrypts a blob produced by Encrypt.
//
// The authentication tag is verified before any plaintext is returned. Any
// tamper, truncation, or key mismatch yields ErrAuthenticationFailed; the
// error deliberately does not distinguish between these causes.
func Decrypt(key, blob []byte) ([]byte, error) {
	if len(key) != KeyLength {
		return nil, ErrInvalidKeyLength
	}

	if len(blob) < NonceLength+TagLength {
		return nil, ErrAuthenticationFailed
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create AEAD: %w", err)
	}

	plaintext, err := aead.Open(nil, blob[:NonceLength], blob[NonceLength:], nil)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	return plaintext, nil
}

// SecureWipe overwrites a byte slice with zeros in a way that prevents
// compiler optimization from removing the operation.
// This is critical for securely destroying sensitive data like derived keys.
func SecureWipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
	// runtime.KeepAlive ensures the write operations are not optimized away
	// by the compiler since b is still "in use" after the loop.
	runtime.KeepAlive(b)
}

// WithSecret invokes fn with the given sensitive buffer and wipes the buffer
// on every exit path, including panics and early error returns inside fn.
func WithSecret(secret []byte, fn func([]byte) error) error {
	defer SecureWipe(secret)
	return fn(secret)
}

// RandomBytes returns n cryptographically secure random bytes.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("crypto: failed to read random bytes: %w", err)
	}
	return b, nil
}
