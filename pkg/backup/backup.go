package backup

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/veilnote/veilnote/pkg/crypto"
	"github.com/veilnote/veilnote/pkg/vault"
)

const algAEAD = "xchacha20poly1305"

// ImportResult summarizes a merge import.
type ImportResult struct {
	// Imported counts notes that did not exist locally.
	Imported int
	// Updated counts notes where the export carried a newer version.
	Updated int
	// Skipped counts notes where the local version was as new or newer.
	Skipped int
}

// Service exports and imports the open profile's notes. Exports carry
// decrypted note payloads sealed under an export password or key file, so
// they remain readable after a device change or wipe.
type Service struct {
	m     *vault.Manager
	clock func() time.Time
}

// NewService builds a backup service over the session manager.
func NewService(m *vault.Manager) *Service {
	return &Service{m: m, clock: time.Now}
}

// SetClock overrides the time source. Tests only.
func (s *Service) SetClock(clock func() time.Time) {
	s.clock = clock
}

// ExportWithPassword writes a password-sealed export of every live note.
func (s *Service) ExportWithPassword(w io.Writer, password []byte) error {
	if len(password) == 0 {
		return ErrEmptyPassword
	}
	return s.export(w, ModePassword, crypto.PassboxAlg, func(plaintext []byte) ([]byte, error) {
		return crypto.EncryptWithPassword(password, plaintext)
	})
}

// ExportWithKeyFile writes an export sealed under the 32-byte key at keyPath.
func (s *Service) ExportWithKeyFile(w io.Writer, keyPath string) error {
	key, err := ReadKeyFile(keyPath)
	if err != nil {
		return err
	}
	defer crypto.SecureWipe(key)
	return s.export(w, ModeKey, algAEAD, func(plaintext []byte) ([]byte, error) {
		return crypto.Encrypt(key, plaintext)
	})
}

// ImportWithPassword merges a password-sealed export into the open vault.
func (s *Service) ImportWithPassword(r io.Reader, password []byte) (*ImportResult, error) {
	if len(password) == 0 {
		return nil, ErrEmptyPassword
	}
	return s.importSealed(r, ModePassword, func(sealed []byte) ([]byte, error) {
		return crypto.DecryptWithPassword(password, sealed)
	})
}

// ImportWithKeyFile merges a key-sealed export into the open vault.
func (s *Service) ImportWithKeyFile(r io.Reader, keyPath string) (*ImportResult, error) {
	key, err := ReadKeyFile(keyPath)
	if err != nil {
		return nil, err
	}
	defer crypto.SecureWipe(key)
	return s.importSealed(r, ModeKey, func(sealed []byte) ([]byte, error) {
		return crypto.Decrypt(key, sealed)
	})
}

func (s *Service) export(w io.Writer, mode, alg string, seal func([]byte) ([]byte, error)) error {
	sess := s.m.Active()
	if sess == nil {
		return vault.ErrVaultLocked
	}

	items, err := collectNotes(sess)
	if err != nil {
		return err
	}

	doc := &Document{
		V:          FormatVersion,
		Profile:    string(sess.Profile()),
		ExportedAt: s.clock().UnixMilli(),
		Notes:      items,
	}
	plaintext, err := encodeDocument(doc)
	if err != nil {
		return err
	}
	defer crypto.SecureWipe(plaintext)

	payload, err := seal(plaintext)
	if err != nil {
		return err
	}

	data, err := encodeWrapper(&Wrapper{
		V:         FormatVersion,
		Kind:      KindNotes,
		Mode:      mode,
		Alg:       alg,
		CreatedAt: s.clock().UnixMilli(),
		NoteCount: len(items),
		Payload:   payload,
	})
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("backup: failed to write export: %w", err)
	}
	return nil
}

func (s *Service) importSealed(r io.Reader, wantMode string, open func([]byte) ([]byte, error)) (*ImportResult, error) {
	sess := s.m.Active()
	if sess == nil {
		return nil, vault.ErrVaultLocked
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("backup: failed to read export: %w", err)
	}
	wrapper, err := decodeWrapper(data)
	if err != nil {
		return nil, err
	}
	if wrapper.Mode != wantMode {
		return nil, fmt.Errorf("backup: export is %s-sealed", wrapper.Mode)
	}

	plaintext, err := open(wrapper.Payload)
	if err != nil {
		if wantMode == ModePassword && errors.Is(err, crypto.ErrAuthenticationFailed) {
			return nil, fmt.Errorf("%w: %w", ErrWrongPassword, err)
		}
		return nil, err
	}
	defer crypto.SecureWipe(plaintext)

	doc, err := decodeDocument(plaintext)
	if err != nil {
		return nil, err
	}
	return mergeNotes(sess, doc.Notes)
}

// collectNotes reads and decrypts every live note, including archived and
// trashed ones. Soft-deleted rows never leave the database.
func collectNotes(sess *vault.Session) ([]Item, error) {
	rows, err := sess.DB().Query(`
		SELECT id, ciphertext, created_at, updated_at, expires_at, read_once,
			archived_at, trashed_at, reminder_at, reminder_repeat
		FROM notes WHERE deleted = 0 ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("backup: failed to list notes: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var (
			item           Item
			ciphertext     []byte
			expiresAt      sql.NullInt64
			readOnce       int
			archivedAt     sql.NullInt64
			trashedAt      sql.NullInt64
			reminderAt     sql.NullInt64
			reminderRepeat sql.NullString
		)
		if err := rows.Scan(&item.ID, &ciphertext, &item.CreatedAt, &item.UpdatedAt,
			&expiresAt, &readOnce, &archivedAt, &trashedAt, &reminderAt, &reminderRepeat); err != nil {
			return nil, fmt.Errorf("backup: failed to scan note: %w", err)
		}
		plaintext, err := crypto.Decrypt(sess.NoteKey(), ciphertext)
		if err != nil {
			return nil, err
		}
		item.Payload = plaintext
		item.ExpiresAt = nullInt(expiresAt)
		item.ReadOnce = readOnce != 0
		item.ArchivedAt = nullInt(archivedAt)
		item.TrashedAt = nullInt(trashedAt)
		item.ReminderAt = nullInt(reminderAt)
		item.ReminderRepeat = reminderRepeat.String
		items = append(items, item)
	}
	return items, rows.Err()
}

// mergeNotes applies exported items by id: missing notes are inserted,
// existing ones are overwritten only when the export carries a newer
// updated_at. Payloads are re-sealed under the local note key.
func mergeNotes(sess *vault.Session, items []Item) (*ImportResult, error) {
	result := &ImportResult{}
	for _, item := range items {
		var localUpdated int64
		err := sess.DB().QueryRow(`SELECT updated_at FROM notes WHERE id = ? AND deleted = 0`, item.ID).
			Scan(&localUpdated)
		switch {
		case err == sql.ErrNoRows:
			if err := insertItem(sess, item); err != nil {
				return nil, err
			}
			result.Imported++
		case err != nil:
			return nil, fmt.Errorf("backup: failed to read note: %w", err)
		case item.UpdatedAt > localUpdated:
			if err := overwriteItem(sess, item); err != nil {
				return nil, err
			}
			result.Updated++
		default:
			result.Skipped++
		}
	}
	return result, nil
}

func insertItem(sess *vault.Session, item Item) error {
	ciphertext, err := crypto.Encrypt(sess.NoteKey(), item.Payload)
	if err != nil {
		return err
	}
	if _, err := sess.DB().Exec(`
		INSERT INTO notes (id, ciphertext, created_at, updated_at, expires_at, read_once,
			archived_at, trashed_at, reminder_at, reminder_done, reminder_repeat, deleted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, 0)`,
		item.ID, ciphertext, item.CreatedAt, item.UpdatedAt, ptrInt(item.ExpiresAt),
		boolInt(item.ReadOnce), ptrInt(item.ArchivedAt), ptrInt(item.TrashedAt),
		ptrInt(item.ReminderAt), emptyNull(item.ReminderRepeat)); err != nil {
		return fmt.Errorf("backup: failed to insert note: %w", err)
	}
	return nil
}

func overwriteItem(sess *vault.Session, item Item) error {
	ciphertext, err := crypto.Encrypt(sess.NoteKey(), item.Payload)
	if err != nil {
		return err
	}
	if _, err := sess.DB().Exec(`
		UPDATE notes SET ciphertext = ?, updated_at = ?, expires_at = ?, read_once = ?,
			archived_at = ?, trashed_at = ?, reminder_at = ?, reminder_repeat = ?
		WHERE id = ? AND deleted = 0`,
		ciphertext, item.UpdatedAt, ptrInt(item.ExpiresAt), boolInt(item.ReadOnce),
		ptrInt(item.ArchivedAt), ptrInt(item.TrashedAt), ptrInt(item.ReminderAt),
		emptyNull(item.ReminderRepeat), item.ID); err != nil {
		return fmt.Errorf("backup: failed to overwrite note: %w", err)
	}
	return nil
}

func nullInt(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	return &v.Int64
}

func ptrInt(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func emptyNull(s string) any {
	if s == "" {
		return nil
	}
	return s
}
