// Package credential stores salted PIN hashes for the REAL and DECOY
// profiles and resolves an entered PIN to a profile. Hashes are encoded as
// self-describing PHC strings, so cost parameters can change without
// invalidating existing records.
package credential

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/veilnote/veilnote/pkg/crypto"
	"github.com/veilnote/veilnote/pkg/profile"
)

// ErrInvalidHash indicates an encoded hash that cannot be parsed.
var ErrInvalidHash = errors.New("credential: invalid encoded hash")

// HashSaltLength is the random salt length for PIN hashes in bytes.
const HashSaltLength = 16

// NormalizePIN converts a typed PIN into the canonical byte form used for
// hashing and key derivation. NFKC normalization makes the same PIN typed
// through different input methods verify identically. The caller owns the
// returned buffer and should wipe it after use.
func NormalizePIN(pin string) []byte {
	return norm.NFKC.Bytes([]byte(pin))
}

// HashPIN hashes a PIN with Argon2id under a fresh random salt and returns
// the PHC-encoded string:
//
//	$argon2id$v=19$m=<M>,t=<T>,p=<P>$<b64(salt)>$<b64(hash)>
//
// Two calls with the same PIN produce different strings (fresh salt each
// time). The normalized PIN bytes are wiped before returning.
func HashPIN(pin string, p crypto.Argon2Params) (string, error) {
	salt, err := crypto.RandomBytes(HashSaltLength)
	if err != nil {
		return "", err
	}

	buf := NormalizePIN(pin)
	defer crypto.SecureWipe(buf)

	key, err := crypto.DeriveKey(buf, salt, p)
	if err != nil {
		return "", err
	}
	defer crypto.SecureWipe(key)

	return fmt.Sprintf("$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s",
		p.Memory, p.Time, p.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// VerifyPIN checks a PIN against a PHC-encoded hash in constant time with
// respect to the hash comparison. An empty or unparseable encoded string is
// treated as no-match rather than an error, so callers can probe records
// that may not exist.
func VerifyPIN(pin, encoded string) bool {
	p, salt, want, err := decodeHash(encoded)
	if err != nil {
		return false
	}

	buf := NormalizePIN(pin)
	defer crypto.SecureWipe(buf)

	got, err := crypto.DeriveKey(buf, salt, p)
	if err != nil {
		return false
	}
	defer crypto.SecureWipe(got)

	return subtle.ConstantTimeCompare(got, want) == 1
}

func decodeHash(encoded string) (crypto.Argon2Params, []byte, []byte, error) {
	var p crypto.Argon2Params

	parts := strings.Split(encoded, "$")
	// "", "argon2id", "v=19", "m=..,t=..,p=..", salt, hash
	if len(parts) != 6 || parts[1] != "argon2id" {
		return p, nil, nil, ErrInvalidHash
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return p, nil, nil, ErrInvalidHash
	}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Time, &p.Parallelism); err != nil {
		return p, nil, nil, ErrInvalidHash
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return p, nil, nil, ErrInvalidHash
	}
	hash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return p, nil, nil, ErrInvalidHash
	}
	p.KeyLen = uint32(len(hash))
	return p, salt, hash, nil
}

// Resolver maps an entered PIN to a profile using the two independent
// credential records stored in the profile preference namespaces.
type Resolver struct {
	real   *profile.Store
	decoy  *profile.Store
	params crypto.Argon2Params
}

// NewResolver builds a Resolver over the two preference stores.
func NewResolver(real, decoy *profile.Store, params crypto.Argon2Params) *Resolver {
	return &Resolver{real: real, decoy: decoy, params: params}
}

func (r *Resolver) store(p profile.Profile) *profile.Store {
	if p == profile.Decoy {
		return r.decoy
	}
	return r.real
}

// IsSetup reports whether the REAL credential record exists.
func (r *Resolver) IsSetup() (bool, error) {
	prefs, err := r.real.Load()
	if err != nil {
		return false, err
	}
	return prefs.PINHash != "", nil
}

// SetRealPIN hashes and stores the REAL PIN, replacing any prior record.
func (r *Resolver) SetRealPIN(pin string) error {
	return r.setPIN(profile.Real, pin)
}

// SetDecoyPIN hashes and stores the DECOY PIN, replacing any prior record.
func (r *Resolver) SetDecoyPIN(pin string) error {
	return r.setPIN(profile.Decoy, pin)
}

func (r *Resolver) setPIN(p profile.Profile, pin string) error {
	encoded, err := HashPIN(pin, r.params)
	if err != nil {
		return err
	}
	st := r.store(p)
	prefs, err := st.Load()
	if err != nil {
		return err
	}
	prefs.PINHash = encoded
	return st.Save(prefs)
}

// ClearDecoyPIN removes the DECOY credential record only; the rest of the
// decoy preference namespace and the REAL record are untouched.
func (r *Resolver) ClearDecoyPIN() error {
	prefs, err := r.decoy.Load()
	if err != nil {
		return err
	}
	if prefs.PINHash == "" {
		return nil
	}
	prefs.PINHash = ""
	return r.decoy.Save(prefs)
}

// Resolve verifies the PIN against the REAL record first, then DECOY.
// REAL wins if both records would match the same PIN. Missing records are
// treated as no-match, never as errors.
func (r *Resolver) Resolve(pin string) (profile.Profile, bool, error) {
	realPrefs, err := r.real.Load()
	if err != nil {
		return "", false, err
	}
	if VerifyPIN(pin, realPrefs.PINHash) {
		return profile.Real, true, nil
	}

	decoyPrefs, err := r.decoy.Load()
	if err != nil {
		return "", false, err
	}
	if VerifyPIN(pin, decoyPrefs.PINHash) {
		return profile.Decoy, true, nil
	}
	return "", false, nil
}

// VerifyRealPIN checks the PIN against the REAL record only. Used for
// re-authentication (e.g. enabling biometric unlock) without a full unlock.
func (r *Resolver) VerifyRealPIN(pin string) (bool, error) {
	prefs, err := r.real.Load()
	if err != nil {
		return false, err
	}
	return VerifyPIN(pin, prefs.PINHash), nil
}
