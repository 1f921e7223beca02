package crypto

import (
	"golang.org/x/crypto/argon2"
)

// Argon2Params holds the cost parameters for Argon2id PIN derivation.
// The defaults follow OWASP recommendations scaled for interactive unlock.
type Argon2Params struct {
	// Memory is the memory cost in KiB.
	Memory uint32
	// Time is the number of iterations.
	Time uint32
	// Parallelism is the degree of parallelism.
	Parallelism uint8
	// KeyLen is the output length in bytes.
	KeyLen uint32
}

// DefaultArgon2Params are the production cost parameters:
// 64 MB memory, 3 iterations, parallelism 2, 32-byte output.
var DefaultArgon2Params = Argon2Params{
	Memory:      64 * 1024,
	Time:        3,
	Parallelism: 2,
	KeyLen:      KeyLength,
}

// Valid reports whether the parameters can be executed by the backend.
func (p Argon2Params) Valid() bool {
	return p.Memory > 0 && p.Time > 0 && p.Parallelism > 0 && p.KeyLen > 0
}

// DeriveKey stretches a PIN into key material using Argon2id.
//
// The salt should be at least 16 bytes of cryptographically secure random
// data. Returns ErrKDFUnavailable if the parameters cannot be executed.
// The caller owns the pin buffer and is responsible for wiping it.
func DeriveKey(pin, salt []byte, p Argon2Params) ([]byte, error) {
	if !p.Valid() {
		return nil, ErrKDFUnavailable
	}
	return argon2.IDKey(pin, salt, p.Time, p.Memory, p.Parallelism, p.KeyLen), nil
}
