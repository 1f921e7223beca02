package crypto

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
)

func TestPassboxRoundTrip(t *testing.T) {
	plaintext := []byte(`{"notes":["exported"]}`)

	blob, err := EncryptWithPassword([]byte("correct horse"), plaintext)
	if err != nil {
		t.Fatalf("EncryptWithPassword() error = %v", err)
	}

	got, err := DecryptWithPassword([]byte("correct horse"), blob)
	if err != nil {
		t.Fatalf("DecryptWithPassword() error = %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("DecryptWithPassword() = %q, want %q", got, plaintext)
	}
}

// TestPassboxSelfDescribing verifies the blob carries algorithm, salt, and
// iteration count so it can be decoded without out-of-band parameters.
func TestPassboxSelfDescribing(t *testing.T) {
	blob, err := EncryptWithPassword([]byte("pw"), []byte("data"))
	if err != nil {
		t.Fatalf("EncryptWithPassword() error = %v", err)
	}

	var box struct {
		V    int    `json:"v"`
		Alg  string `json:"alg"`
		Salt string `json:"salt"`
		Iter int    `json:"iter"`
		CT   string `json:"ct"`
	}
	if err := json.Unmarshal(blob, &box); err != nil {
		t.Fatalf("blob is not valid JSON: %v", err)
	}
	if box.Alg != PassboxAlg {
		t.Errorf("alg = %q, want %q", box.Alg, PassboxAlg)
	}
	if box.Iter < 100_000 {
		t.Errorf("iter = %d, want >= 100000", box.Iter)
	}
	if box.Salt == "" || box.CT == "" {
		t.Error("salt and ct must be present")
	}
}

func TestPassboxFreshSalt(t *testing.T) {
	a, err := EncryptWithPassword([]byte("pw"), []byte("data"))
	if err != nil {
		t.Fatalf("EncryptWithPassword() error = %v", err)
	}
	b, err := EncryptWithPassword([]byte("pw"), []byte("data"))
	if err != nil {
		t.Fatalf("EncryptWithPassword() error = %v", err)
	}
	if bytes.Equal(a, b) {
		t.Error("two encryptions of the same input must not be identical")
	}
}

// TestPassboxNoOracle verifies wrong password and corrupted data are
// indistinguishable failure classes.
func TestPassboxNoOracle(t *testing.T) {
	blob, err := EncryptWithPassword([]byte("right"), []byte("data"))
	if err != nil {
		t.Fatalf("EncryptWithPassword() error = %v", err)
	}

	tests := []struct {
		name     string
		password string
		blob     []byte
	}{
		{"wrong password", "wrong", blob},
		{"not json", "right", []byte("garbage")},
		{"tampered ciphertext", "right", tamperPassbox(t, blob)},
		{"unknown algorithm", "right", []byte(`{"v":1,"alg":"rot13","salt":"AA==","iter":1,"ct":"AA=="}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecryptWithPassword([]byte(tt.password), bytes.Clone(tt.blob))
			if !errors.Is(err, ErrAuthenticationFailed) {
				t.Errorf("DecryptWithPassword() error = %v, want ErrAuthenticationFailed", err)
			}
		})
	}
}

func tamperPassbox(t *testing.T, blob []byte) []byte {
	t.Helper()
	var box passbox
	if err := json.Unmarshal(blob, &box); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	// Flip a character inside the base64 ciphertext.
	ct := []byte(box.CT)
	if ct[0] == 'A' {
		ct[0] = 'B'
	} else {
		ct[0] = 'A'
	}
	box.CT = string(ct)
	out, err := json.Marshal(box)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return out
}
