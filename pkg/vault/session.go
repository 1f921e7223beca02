// Package vault implements the dual-profile encrypted notes vault: the
// session state machine that owns the in-memory note key, and the note
// store operating through it.
package vault

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/veilnote/veilnote/pkg/credential"
	"github.com/veilnote/veilnote/pkg/crypto"
	"github.com/veilnote/veilnote/pkg/keystore"
	"github.com/veilnote/veilnote/pkg/profile"
)

// checkProbe is the known plaintext sealed under the database key at vault
// creation. Decrypting it at open authenticates the derived database key
// before any query runs; a wrong PIN with a stale sealed secret surfaces as
// crypto.ErrAuthenticationFailed here instead of as garbage rows later.
var checkProbe = []byte("veilnote.check.v1")

// Session is one open profile vault. It owns the database handle and the
// in-memory note key for its lifetime; both are torn down by Manager.Close.
type Session struct {
	profile profile.Profile
	db      *sql.DB
	noteKey []byte
}

// Profile returns the profile this session has open.
func (s *Session) Profile() profile.Profile {
	return s.profile
}

// DB returns the open database handle.
func (s *Session) DB() *sql.DB {
	return s.db
}

// NoteKey returns the session note key. The slice is owned by the session
// and is zeroed on close; callers must not retain it.
func (s *Session) NoteKey() []byte {
	return s.noteKey
}

// Manager is the vault session state machine. At most one session is open
// process-wide; all transitions are serialized behind one mutex so a
// concurrent open and close can never interleave into a half-open state.
type Manager struct {
	mu      sync.Mutex
	paths   profile.Paths
	secrets keystore.SealedSecrets
	params  crypto.Argon2Params
	clock   func() time.Time

	active *Session
}

// NewManager builds a session manager for the vault directory described by
// paths, sealing profile secrets in the given keystore.
func NewManager(paths profile.Paths, secrets keystore.SealedSecrets, params crypto.Argon2Params) *Manager {
	return &Manager{
		paths:   paths,
		secrets: secrets,
		params:  params,
		clock:   time.Now,
	}
}

// SetClock overrides the time source. Tests only.
func (m *Manager) SetClock(clock func() time.Time) {
	m.clock = clock
}

// Open derives the profile's keys from the PIN and opens its database.
// Any session already open (either profile) is torn down first, so Open is
// also the profile-switch path. The PIN buffer inside is wiped on every
// path. An expiry sweep runs before Open returns, so notes that expired
// while the vault was locked are never visible, even briefly.
func (m *Manager) Open(pin string, p profile.Profile) (*Session, error) {
	if !p.Valid() {
		return nil, ErrProfileInvalid
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	prefs := profile.NewStore(m.paths.PrefsFile(p))
	kdfSalt, err := prefs.EnsureKDFSalt()
	if err != nil {
		return nil, err
	}
	sealed, err := m.secrets.GetOrCreate(m.paths.SecretAlias(p))
	if err != nil {
		return nil, err
	}

	masterKey, err := crypto.DeriveMasterKey(credential.NormalizePIN(pin), kdfSalt, sealed, m.params)
	if err != nil {
		return nil, err
	}
	return m.openWithMasterLocked(masterKey, p)
}

// OpenWithMasterKey opens a session from an already-derived master key (the
// biometric-unlock path). Database and note key derivation and the post-open
// sweep still run. The master key is wiped before returning.
func (m *Manager) OpenWithMasterKey(masterKey []byte, p profile.Profile) (*Session, error) {
	if !p.Valid() {
		return nil, ErrProfileInvalid
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.openWithMasterLocked(masterKey, p)
}

// openWithMasterLocked consumes (and wipes) masterKey. Caller holds m.mu.
func (m *Manager) openWithMasterLocked(masterKey []byte, p profile.Profile) (*Session, error) {
	defer crypto.SecureWipe(masterKey)

	// Idempotent teardown of whatever is currently open.
	m.closeLocked()

	prefs := profile.NewStore(m.paths.PrefsFile(p))
	dbSalt, err := prefs.EnsureDBKeySalt()
	if err != nil {
		return nil, err
	}
	dbKey, err := crypto.DeriveDatabaseKey(masterKey, dbSalt)
	if err != nil {
		return nil, err
	}
	defer crypto.SecureWipe(dbKey)

	noteKey, err := crypto.DeriveNoteKey(masterKey)
	if err != nil {
		return nil, err
	}

	db, err := openDatabase(m.paths.DatabaseFile(p))
	if err != nil {
		crypto.SecureWipe(noteKey)
		return nil, err
	}
	if err := verifyDatabaseKey(db, dbKey); err != nil {
		db.Close()
		crypto.SecureWipe(noteKey)
		return nil, err
	}

	sess := &Session{profile: p, db: db, noteKey: noteKey}
	if err := sweepExpired(sess, m.clock()); err != nil {
		db.Close()
		crypto.SecureWipe(noteKey)
		return nil, fmt.Errorf("vault: post-open expiry sweep: %w", err)
	}

	m.active = sess
	return sess, nil
}

// verifyDatabaseKey authenticates the derived database key against the
// stored check probe, creating the probe on a fresh database.
func verifyDatabaseKey(db *sql.DB, dbKey []byte) error {
	var probe []byte
	err := db.QueryRow(`SELECT probe FROM vault_check WHERE id = 1`).Scan(&probe)
	if err == sql.ErrNoRows {
		sealed, err := crypto.Encrypt(dbKey, checkProbe)
		if err != nil {
			return err
		}
		if _, err := db.Exec(`INSERT INTO vault_check(id, probe) VALUES(1, ?)`, sealed); err != nil {
			return fmt.Errorf("vault: failed to store check probe: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("vault: failed to read check probe: %w", err)
	}
	if _, err := crypto.Decrypt(dbKey, probe); err != nil {
		return err
	}
	return nil
}

// Close zeroes the in-memory note key, closes the database handle, and
// transitions to Closed. Safe to call repeatedly and from Closed (no-op).
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeLocked()
}

func (m *Manager) closeLocked() {
	if m.active == nil {
		return
	}
	crypto.SecureWipe(m.active.noteKey)
	m.active.db.Close()
	m.active = nil
}

// Active returns the open session, or nil when the vault is locked.
func (m *Manager) Active() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// ActiveProfile returns the open profile, or false when the vault is locked.
func (m *Manager) ActiveProfile() (profile.Profile, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return "", false
	}
	return m.active.profile, true
}
