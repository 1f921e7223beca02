package profile

import (
	"bytes"
	"path/filepath"
	"testing"
)

func TestStoreLoadMissing(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "prefs-real.json"))
	p, err := s.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if p.PINHash != "" || p.KDFSalt != nil {
		t.Error("missing file must load as empty prefs")
	}
}

func TestStoreSaveLoad(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "prefs-real.json"))
	want := &Prefs{
		PINHash:   "$argon2id$v=19$m=65536,t=3,p=2$c2FsdA$aGFzaA",
		KDFSalt:   bytes.Repeat([]byte{0x01}, SaltLength),
		DBKeySalt: bytes.Repeat([]byte{0x02}, SaltLength),
		DeviceID:  "device-1",
	}
	if err := s.Save(want); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.PINHash != want.PINHash || !bytes.Equal(got.KDFSalt, want.KDFSalt) ||
		!bytes.Equal(got.DBKeySalt, want.DBKeySalt) || got.DeviceID != want.DeviceID {
		t.Errorf("Load() = %+v, want %+v", got, want)
	}
}

func TestEnsureSaltsStable(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "prefs-decoy.json"))

	kdf1, err := s.EnsureKDFSalt()
	if err != nil {
		t.Fatalf("EnsureKDFSalt() error = %v", err)
	}
	if len(kdf1) != SaltLength {
		t.Errorf("salt length = %d, want %d", len(kdf1), SaltLength)
	}
	kdf2, err := s.EnsureKDFSalt()
	if err != nil {
		t.Fatalf("EnsureKDFSalt() error = %v", err)
	}
	if !bytes.Equal(kdf1, kdf2) {
		t.Error("EnsureKDFSalt() must return the persisted salt on repeat calls")
	}

	db1, err := s.EnsureDBKeySalt()
	if err != nil {
		t.Fatalf("EnsureDBKeySalt() error = %v", err)
	}
	if bytes.Equal(kdf1, db1) {
		t.Error("KDF salt and DB key salt must be independent")
	}
}

func TestStoreDeleteIdempotent(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "prefs-real.json"))
	if err := s.Save(&Prefs{PINHash: "x"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := s.Delete(); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := s.Delete(); err != nil {
		t.Errorf("Delete() of missing file error = %v, want nil", err)
	}
}

func TestPaths(t *testing.T) {
	l := Paths{Root: "/home/u/.veilnote"}
	if got := l.DatabaseFile(Real); got != "/home/u/.veilnote/vault-real.db" {
		t.Errorf("DatabaseFile(Real) = %q", got)
	}
	if got := l.PrefsFile(Decoy); got != "/home/u/.veilnote/prefs-decoy.json" {
		t.Errorf("PrefsFile(Decoy) = %q", got)
	}
	side := l.DatabaseSidecars(Real)
	if len(side) != 2 || side[0] != "/home/u/.veilnote/vault-real.db-wal" {
		t.Errorf("DatabaseSidecars(Real) = %v", side)
	}
	if l.SecretAlias(Real) == l.SecretAlias(Decoy) {
		t.Error("profiles must not share a sealed-secret alias")
	}
}
