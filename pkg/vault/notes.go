package vault

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/veilnote/veilnote/pkg/crypto"
)

// View selects which slice of the vault List returns.
type View int

const (
	// ViewActive excludes archived, trashed, and soft-deleted notes.
	ViewActive View = iota
	// ViewArchived includes archived, not-deleted notes.
	ViewArchived
	// ViewTrashed includes trashed, not-deleted notes.
	ViewTrashed
)

// Note is a decrypted note together with its unencrypted query metadata.
type Note struct {
	ID      string
	Payload *Payload
	// Legacy is true when the stored plaintext predates the structured
	// payload format and was surfaced as plain text.
	Legacy bool

	CreatedAt      time.Time
	UpdatedAt      time.Time
	ExpiresAt      *time.Time
	ReadOnce       bool
	ArchivedAt     *time.Time
	TrashedAt      *time.Time
	ReminderAt     *time.Time
	ReminderDone   bool
	ReminderRepeat string
}

// SaveOptions carries the optional metadata for a new note.
type SaveOptions struct {
	ExpiresAt      *time.Time
	ReadOnce       bool
	ReminderAt     *time.Time
	ReminderRepeat string
}

// ReminderScheduler is the capability interface for reminder delivery.
// The store registers reminders on save and cancels them on delete/trash;
// what "firing" means (notification, alarm) is the caller's concern.
type ReminderScheduler interface {
	Schedule(noteID string, at time.Time, repeat string)
	Cancel(noteID string)
}

// NopScheduler ignores all reminder registrations.
type NopScheduler struct{}

func (NopScheduler) Schedule(string, time.Time, string) {}
func (NopScheduler) Cancel(string)                      {}

// Store is the encrypted note repository. Every operation requires an open
// session and fails with ErrVaultLocked otherwise.
type Store struct {
	m     *Manager
	clock func() time.Time
	sched ReminderScheduler

	// deviceID, when non-empty, enables sync: local mutations enqueue
	// outbox entries for the push phase.
	deviceID string
}

// NewStore builds a note store over the session manager.
func NewStore(m *Manager) *Store {
	return &Store{m: m, clock: time.Now, sched: NopScheduler{}}
}

// SetClock overrides the time source. Tests only.
func (s *Store) SetClock(clock func() time.Time) {
	s.clock = clock
}

// SetScheduler installs a reminder scheduler.
func (s *Store) SetScheduler(sched ReminderScheduler) {
	if sched == nil {
		sched = NopScheduler{}
	}
	s.sched = sched
}

// EnableSync turns on outbox recording for local mutations.
func (s *Store) EnableSync(deviceID string) {
	s.deviceID = deviceID
}

func (s *Store) session() (*Session, error) {
	sess := s.m.Active()
	if sess == nil {
		return nil, ErrVaultLocked
	}
	return sess, nil
}

// Save encrypts a new note with the session note key and persists it.
// Returns the generated note id.
func (s *Store) Save(p *Payload, opts SaveOptions) (string, error) {
	sess, err := s.session()
	if err != nil {
		return "", err
	}

	plaintext, err := EncodePayload(p)
	if err != nil {
		return "", fmt.Errorf("vault: failed to encode payload: %w", err)
	}
	ciphertext, err := crypto.Encrypt(sess.noteKey, plaintext)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	now := s.clock()
	_, err = sess.db.Exec(`
		INSERT INTO notes (id, ciphertext, created_at, updated_at, expires_at, read_once,
			reminder_at, reminder_done, reminder_repeat, deleted)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, 0)`,
		id, ciphertext, toMillis(now), toMillis(now), toNullMillis(opts.ExpiresAt),
		boolToInt(opts.ReadOnce), toNullMillis(opts.ReminderAt), nullString(opts.ReminderRepeat),
	)
	if err != nil {
		return "", fmt.Errorf("vault: failed to insert note: %w", err)
	}

	if opts.ReminderAt != nil {
		s.sched.Schedule(id, *opts.ReminderAt, opts.ReminderRepeat)
	}
	if err := s.enqueueOutbox(sess, id, "upsert", ciphertext, now); err != nil {
		return "", err
	}
	return id, nil
}

// Get decrypts and returns a note. Missing and soft-deleted notes yield
// ErrNotFound. If the decrypted bytes do not decode as a structured payload
// the raw bytes are surfaced as legacy plain text rather than an error.
// A read-once note is destroyed (zeroed and soft-deleted) after its first
// successful read.
func (s *Store) Get(id string) (*Note, error) {
	sess, err := s.session()
	if err != nil {
		return nil, err
	}

	row := sess.db.QueryRow(`
		SELECT id, ciphertext, created_at, updated_at, expires_at, read_once,
			archived_at, trashed_at, reminder_at, reminder_done, reminder_repeat
		FROM notes WHERE id = ? AND deleted = 0`, id)
	note, ciphertext, err := scanNote(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("vault: failed to read note: %w", err)
	}

	plaintext, err := crypto.Decrypt(sess.noteKey, ciphertext)
	if err != nil {
		return nil, err
	}
	payload, err := DecodePayload(plaintext)
	if err != nil {
		// Pre-structured-format note: surface the raw bytes as text.
		note.Payload = &Payload{Text: string(plaintext)}
		note.Legacy = true
	} else {
		note.Payload = payload
	}

	if note.ReadOnce {
		if err := s.destroyCiphertext(sess, id); err != nil {
			return nil, err
		}
	}
	return note, nil
}

// List returns the decrypted notes of one view, newest-updated first.
func (s *Store) List(view View) ([]*Note, error) {
	sess, err := s.session()
	if err != nil {
		return nil, err
	}

	var where string
	switch view {
	case ViewArchived:
		where = "archived_at IS NOT NULL AND deleted = 0"
	case ViewTrashed:
		where = "trashed_at IS NOT NULL AND deleted = 0"
	default:
		where = "archived_at IS NULL AND trashed_at IS NULL AND deleted = 0"
	}

	rows, err := sess.db.Query(`
		SELECT id, ciphertext, created_at, updated_at, expires_at, read_once,
			archived_at, trashed_at, reminder_at, reminder_done, reminder_repeat
		FROM notes WHERE ` + where + ` ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("vault: failed to list notes: %w", err)
	}
	defer rows.Close()

	var notes []*Note
	for rows.Next() {
		note, ciphertext, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("vault: failed to scan note: %w", err)
		}
		plaintext, err := crypto.Decrypt(sess.noteKey, ciphertext)
		if err != nil {
			return nil, err
		}
		payload, err := DecodePayload(plaintext)
		if err != nil {
			note.Payload = &Payload{Text: string(plaintext)}
			note.Legacy = true
		} else {
			note.Payload = payload
		}
		notes = append(notes, note)
	}
	return notes, rows.Err()
}

// Update re-encrypts the full payload and overwrites the ciphertext in
// place, snapshotting the previous ciphertext as a revision first. Fails
// with ErrNotFound if the note is missing or already soft-deleted.
func (s *Store) Update(id string, p *Payload) error {
	sess, err := s.session()
	if err != nil {
		return err
	}

	var prior []byte
	err = sess.db.QueryRow(`SELECT ciphertext FROM notes WHERE id = ? AND deleted = 0`, id).Scan(&prior)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("vault: failed to read note: %w", err)
	}

	plaintext, err := EncodePayload(p)
	if err != nil {
		return fmt.Errorf("vault: failed to encode payload: %w", err)
	}
	ciphertext, err := crypto.Encrypt(sess.noteKey, plaintext)
	if err != nil {
		return err
	}

	now := s.clock()
	if err := s.AddRevision(id, prior); err != nil {
		return err
	}
	res, err := sess.db.Exec(`UPDATE notes SET ciphertext = ?, updated_at = ? WHERE id = ? AND deleted = 0`,
		ciphertext, toMillis(now), id)
	if err != nil {
		return fmt.Errorf("vault: failed to update note: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return s.enqueueOutbox(sess, id, "upsert", ciphertext, now)
}

// Delete soft-deletes a note. The ciphertext bytes are overwritten with
// zeros of the same length before the tombstone flag is set — two sequential
// writes, so there is no window where deleted data still holds real bytes.
func (s *Store) Delete(id string) error {
	sess, err := s.session()
	if err != nil {
		return err
	}

	if err := s.destroyCiphertext(sess, id); err != nil {
		return err
	}
	s.sched.Cancel(id)
	return s.enqueueOutbox(sess, id, "delete", []byte{}, s.clock())
}

// destroyCiphertext zeroes a note's ciphertext, then flips the soft-delete
// flag. The zeroing write is never skipped: the tombstone alone would leave
// recoverable bytes in the page until purge.
func (s *Store) destroyCiphertext(sess *Session, id string) error {
	res, err := sess.db.Exec(`
		UPDATE notes SET ciphertext = zeroblob(length(ciphertext)) WHERE id = ? AND deleted = 0`, id)
	if err != nil {
		return fmt.Errorf("vault: failed to zero ciphertext: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if _, err := sess.db.Exec(`UPDATE notes SET deleted = 1 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("vault: failed to soft-delete note: %w", err)
	}
	return nil
}

// SetArchived sets or clears the archived marker. Metadata-only write.
func (s *Store) SetArchived(id string, archived bool) error {
	return s.setTimestampFlag(id, "archived_at", archived)
}

// SetTrashed sets or clears the trashed marker. Metadata-only write.
func (s *Store) SetTrashed(id string, trashed bool) error {
	if trashed {
		s.sched.Cancel(id)
	}
	return s.setTimestampFlag(id, "trashed_at", trashed)
}

func (s *Store) setTimestampFlag(id, column string, on bool) error {
	sess, err := s.session()
	if err != nil {
		return err
	}
	var value any
	if on {
		value = toMillis(s.clock())
	}
	res, err := sess.db.Exec(
		fmt.Sprintf(`UPDATE notes SET %s = ?, updated_at = ? WHERE id = ? AND deleted = 0`, column),
		value, toMillis(s.clock()), id)
	if err != nil {
		return fmt.Errorf("vault: failed to update note: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetReminder updates a note's reminder fields. Passing a nil time clears
// the reminder.
func (s *Store) SetReminder(id string, at *time.Time, done bool, repeat string) error {
	sess, err := s.session()
	if err != nil {
		return err
	}
	res, err := sess.db.Exec(`
		UPDATE notes SET reminder_at = ?, reminder_done = ?, reminder_repeat = ?, updated_at = ?
		WHERE id = ? AND deleted = 0`,
		toNullMillis(at), boolToInt(done), nullString(repeat), toMillis(s.clock()), id)
	if err != nil {
		return fmt.Errorf("vault: failed to set reminder: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if at != nil && !done {
		s.sched.Schedule(id, *at, repeat)
	} else {
		s.sched.Cancel(id)
	}
	return nil
}

// ExpirySweep destroys expired notes and purges tombstones. Idempotent and
// safe to run arbitrarily often; it also runs automatically after every
// session open.
func (s *Store) ExpirySweep() error {
	sess, err := s.session()
	if err != nil {
		return err
	}
	return sweepExpired(sess, s.clock())
}

// sweepExpired is the sweep body, shared with Manager's post-open sweep.
func sweepExpired(sess *Session, now time.Time) error {
	// Zero first, tombstone second, same discipline as Delete.
	if _, err := sess.db.Exec(`
		UPDATE notes SET ciphertext = zeroblob(length(ciphertext))
		WHERE deleted = 0 AND expires_at IS NOT NULL AND expires_at <= ?`, toMillis(now)); err != nil {
		return fmt.Errorf("vault: sweep zeroing: %w", err)
	}
	if _, err := sess.db.Exec(`
		UPDATE notes SET deleted = 1
		WHERE deleted = 0 AND expires_at IS NOT NULL AND expires_at <= ?`, toMillis(now)); err != nil {
		return fmt.Errorf("vault: sweep tombstoning: %w", err)
	}

	// Hard-purge all tombstones and their revision history.
	if _, err := sess.db.Exec(`
		DELETE FROM note_revisions WHERE note_id IN (SELECT id FROM notes WHERE deleted = 1)`); err != nil {
		return fmt.Errorf("vault: sweep revision purge: %w", err)
	}
	if _, err := sess.db.Exec(`DELETE FROM notes WHERE deleted = 1`); err != nil {
		return fmt.Errorf("vault: sweep purge: %w", err)
	}
	return nil
}

// Compact reclaims file space freed by purged rows.
func (s *Store) Compact() error {
	sess, err := s.session()
	if err != nil {
		return err
	}
	if _, err := sess.db.Exec(`VACUUM`); err != nil {
		return fmt.Errorf("vault: vacuum: %w", err)
	}
	return nil
}

// AddRevision appends a ciphertext snapshot for a note.
func (s *Store) AddRevision(noteID string, snapshot []byte) error {
	sess, err := s.session()
	if err != nil {
		return err
	}
	if _, err := sess.db.Exec(`
		INSERT INTO note_revisions (note_id, ciphertext, created_at) VALUES (?, ?, ?)`,
		noteID, snapshot, toMillis(s.clock())); err != nil {
		return fmt.Errorf("vault: failed to add revision: %w", err)
	}
	return nil
}

// PruneRevisions retains only the keep most-recent revisions of a note,
// ordered by creation time descending.
func (s *Store) PruneRevisions(noteID string, keep int) error {
	sess, err := s.session()
	if err != nil {
		return err
	}
	if _, err := sess.db.Exec(`
		DELETE FROM note_revisions WHERE note_id = ? AND id NOT IN (
			SELECT id FROM note_revisions WHERE note_id = ?
			ORDER BY created_at DESC, id DESC LIMIT ?
		)`, noteID, noteID, keep); err != nil {
		return fmt.Errorf("vault: failed to prune revisions: %w", err)
	}
	return nil
}

// Revisions returns a note's ciphertext snapshots, newest first.
func (s *Store) Revisions(noteID string) ([][]byte, error) {
	sess, err := s.session()
	if err != nil {
		return nil, err
	}
	rows, err := sess.db.Query(`
		SELECT ciphertext FROM note_revisions WHERE note_id = ?
		ORDER BY created_at DESC, id DESC`, noteID)
	if err != nil {
		return nil, fmt.Errorf("vault: failed to list revisions: %w", err)
	}
	defer rows.Close()

	var out [][]byte
	for rows.Next() {
		var ct []byte
		if err := rows.Scan(&ct); err != nil {
			return nil, err
		}
		out = append(out, ct)
	}
	return out, rows.Err()
}

// enqueueOutbox records a local mutation for the sync push phase. No-op
// unless sync is enabled. The base revision is the locally known server
// revision for the entity, if any, carried as the optimistic-concurrency
// token.
func (s *Store) enqueueOutbox(sess *Session, entityID, opType string, envelope []byte, now time.Time) error {
	if s.deviceID == "" {
		return nil
	}

	var baseRev sql.NullString
	err := sess.db.QueryRow(`SELECT revision FROM sync_revisions WHERE entity_id = ?`, entityID).Scan(&baseRev.String)
	if err == nil {
		baseRev.Valid = true
	} else if err != sql.ErrNoRows {
		return fmt.Errorf("vault: failed to read local revision: %w", err)
	}

	if _, err := sess.db.Exec(`
		INSERT INTO sync_outbox (op_id, device_id, profile, entity_type, entity_id, op_type,
			base_revision, envelope, client_ts, created_at, attempt_count, next_attempt_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0)`,
		uuid.NewString(), s.deviceID, string(sess.profile), "note", entityID, opType,
		baseRev, envelope, toMillis(now), toMillis(now)); err != nil {
		return fmt.Errorf("vault: failed to enqueue outbox entry: %w", err)
	}
	return nil
}

// scanner abstracts *sql.Row and *sql.Rows for scanNote.
type scanner interface {
	Scan(dest ...any) error
}

func scanNote(sc scanner) (*Note, []byte, error) {
	var (
		note           Note
		ciphertext     []byte
		createdAt      int64
		updatedAt      int64
		expiresAt      sql.NullInt64
		readOnce       int
		archivedAt     sql.NullInt64
		trashedAt      sql.NullInt64
		reminderAt     sql.NullInt64
		reminderDone   int
		reminderRepeat sql.NullString
	)
	err := sc.Scan(&note.ID, &ciphertext, &createdAt, &updatedAt, &expiresAt, &readOnce,
		&archivedAt, &trashedAt, &reminderAt, &reminderDone, &reminderRepeat)
	if err != nil {
		return nil, nil, err
	}
	note.CreatedAt = fromMillis(createdAt)
	note.UpdatedAt = fromMillis(updatedAt)
	note.ExpiresAt = fromNullMillis(expiresAt)
	note.ReadOnce = readOnce != 0
	note.ArchivedAt = fromNullMillis(archivedAt)
	note.TrashedAt = fromNullMillis(trashedAt)
	note.ReminderAt = fromNullMillis(reminderAt)
	note.ReminderDone = reminderDone != 0
	note.ReminderRepeat = reminderRepeat.String
	return &note, ciphertext, nil
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func toNullMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func fromNullMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
