package crypto

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"

	"golang.org/x/crypto/pbkdf2"
)

// Password codec parameters.
const (
	// PassboxAlg is the self-describing algorithm tag for password blobs.
	PassboxAlg = "xchacha20poly1305+pbkdf2"

	// PassboxIterations is the PBKDF2-SHA256 iteration count.
	PassboxIterations = 200_000

	// PassboxSaltLength is the random salt length in bytes.
	PassboxSaltLength = 16

	passboxVersion = 1
)

// passbox is the serialized form of a password-encrypted blob.
type passbox struct {
	V    int    `json:"v"`
	Alg  string `json:"alg"`
	Salt string `json:"salt"`
	Iter int    `json:"iter"`
	CT   string `json:"ct"`
}

// EncryptWithPassword wraps plaintext with a key derived from the password
// via PBKDF2-SHA256 and seals it with the AEAD primitive. The result is one
// self-describing JSON blob carrying the algorithm tag, salt, and iteration
// count alongside the ciphertext.
//
// The password buffer is wiped before returning.
func EncryptWithPassword(password, plaintext []byte) ([]byte, error) {
	defer SecureWipe(password)

	salt, err := RandomBytes(PassboxSaltLength)
	if err != nil {
		return nil, err
	}

	key := pbkdf2.Key(password, salt, PassboxIterations, KeyLength, sha256.New)
	defer SecureWipe(key)

	ct, err := Encrypt(key, plaintext)
	if err != nil {
		return nil, err
	}

	return json.Marshal(passbox{
		V:    passboxVersion,
		Alg:  PassboxAlg,
		Salt: base64.StdEncoding.EncodeToString(salt),
		Iter: PassboxIterations,
		CT:   base64.StdEncoding.EncodeToString(ct),
	})
}

// DecryptWithPassword opens a blob produced by EncryptWithPassword.
//
// A wrong password, a corrupted blob, and a malformed blob all fail with
// ErrAuthenticationFailed. The causes are deliberately indistinguishable so
// the codec cannot be used as a password oracle.
func DecryptWithPassword(password, blob []byte) ([]byte, error) {
	defer SecureWipe(password)

	var box passbox
	if err := json.Unmarshal(blob, &box); err != nil {
		return nil, ErrAuthenticationFailed
	}
	if box.Alg != PassboxAlg || box.Iter <= 0 {
		return nil, ErrAuthenticationFailed
	}
	salt, err := base64.StdEncoding.DecodeString(box.Salt)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	ct, err := base64.StdEncoding.DecodeString(box.CT)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}

	key := pbkdf2.Key(password, salt, box.Iter, KeyLength, sha256.New)
	defer SecureWipe(key)

	return Decrypt(key, ct)
}
