// Package profile defines the REAL/DECOY profile pair and resolves the
// isolated on-disk namespace each profile owns: its database file, its
// preference store, and its sealed-secret alias. Nothing in one profile's
// namespace is ever read while the other profile is active.
package profile

import (
	"fmt"
	"path/filepath"
)

// Profile identifies one of the two isolated vaults.
type Profile string

const (
	// Real is the primary profile.
	Real Profile = "real"
	// Decoy is the plausible-deniability profile unlocked by the decoy PIN.
	Decoy Profile = "decoy"
)

// All lists both profiles, Real first.
var All = []Profile{Real, Decoy}

// Valid reports whether p is a known profile.
func (p Profile) Valid() bool {
	return p == Real || p == Decoy
}

func (p Profile) String() string {
	return string(p)
}

// Parse converts a string into a Profile.
func Parse(s string) (Profile, error) {
	p := Profile(s)
	if !p.Valid() {
		return "", fmt.Errorf("profile: unknown profile %q", s)
	}
	return p, nil
}

// Paths resolves per-profile file locations within a vault directory.
type Paths struct {
	// Root is the vault directory (e.g. ~/.veilnote).
	Root string
}

// DatabaseFile returns the profile's SQLite database path.
func (l Paths) DatabaseFile(p Profile) string {
	return filepath.Join(l.Root, fmt.Sprintf("vault-%s.db", p))
}

// DatabaseSidecars returns the write-ahead-log and shared-memory files the
// database engine may leave next to the main file. Panic wipe removes these
// too; WAL pages can hold plaintext row images of metadata columns.
func (l Paths) DatabaseSidecars(p Profile) []string {
	db := l.DatabaseFile(p)
	return []string{db + "-wal", db + "-shm"}
}

// PrefsFile returns the profile's preference namespace path.
func (l Paths) PrefsFile(p Profile) string {
	return filepath.Join(l.Root, fmt.Sprintf("prefs-%s.json", p))
}

// SecretAlias returns the sealed-secret alias for the profile.
func (l Paths) SecretAlias(p Profile) string {
	return fmt.Sprintf("veilnote.sealed.%s", p)
}
