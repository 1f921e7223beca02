package crypto

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// HKDF salt/info strings for the veilnote key tree. The note-key salt is a
// fixed constant: the derivation input is the secret, per-session master key,
// so a per-profile random salt adds nothing here (the database key does use
// one, persisted next to the profile).
const (
	masterKeySalt = "veilnote.v1.master"
	masterKeyInfo = "master-key"
	dbKeyInfo     = "db-key"
	noteKeyInfo   = "note-key"
	noteKeySalt   = "veilnote.v1.note"
)

// ErrHKDFLength indicates a requested output length exceeding the RFC 5869
// bound of 255 hash-length blocks.
var ErrHKDFLength = errors.New("crypto: hkdf output length exceeds 255 blocks")

// HKDF runs the RFC 5869 extract-then-expand construction with SHA-256,
// producing length bytes of output keying material.
func HKDF(secret, salt, info []byte, length int) ([]byte, error) {
	if length > 255*sha256.Size {
		return nil, ErrHKDFLength
	}
	out := make([]byte, length)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, info), out); err != nil {
		return nil, fmt.Errorf("crypto: hkdf expand: %w", err)
	}
	return out, nil
}

// DeriveMasterKey derives the 32-byte profile master key from a PIN, the
// profile's persisted KDF salt, and the profile's sealed secret.
//
// The PIN is first stretched with Argon2id, then concatenated with the sealed
// secret as input keying material for HKDF. Both the correct PIN and access
// to the sealed secret are required to reproduce the key, so a copied
// database file alone is not enough to mount an offline attack.
//
// The pin buffer is wiped before returning, on success and failure alike.
// The intermediate stretched key is wiped as well.
func DeriveMasterKey(pin, kdfSalt, sealedSecret []byte, p Argon2Params) ([]byte, error) {
	defer SecureWipe(pin)

	stretched, err := DeriveKey(pin, kdfSalt, p)
	if err != nil {
		return nil, err
	}
	defer SecureWipe(stretched)

	ikm := make([]byte, 0, len(stretched)+len(sealedSecret))
	ikm = append(ikm, stretched...)
	ikm = append(ikm, sealedSecret...)
	defer SecureWipe(ikm)

	return HKDF(ikm, []byte(masterKeySalt), []byte(masterKeyInfo), KeyLength)
}

// DeriveDatabaseKey derives the database key from the master key and the
// profile's persisted random database salt.
func DeriveDatabaseKey(masterKey, dbSalt []byte) ([]byte, error) {
	if len(masterKey) != KeyLength {
		return nil, ErrInvalidKeyLength
	}
	return HKDF(masterKey, dbSalt, []byte(dbKeyInfo), KeyLength)
}

// DeriveNoteKey derives the note payload key from the master key.
// Compromise of the database key does not reveal the note key (and vice
// versa) without the master key itself.
func DeriveNoteKey(masterKey []byte) ([]byte, error) {
	if len(masterKey) != KeyLength {
		return nil, ErrInvalidKeyLength
	}
	return HKDF(masterKey, []byte(noteKeySalt), []byte(noteKeyInfo), KeyLength)
}
