package sync

import (
	"database/sql"
	"fmt"
	"time"
)

// Retry pacing for rejected or undeliverable operations.
const (
	baseRetryDelay = time.Second
	maxRetryDelay  = 60 * time.Second
	maxRetryShift  = 10
)

// OutboxEntry is one pending local mutation awaiting push.
type OutboxEntry struct {
	OpID         string
	DeviceID     string
	Profile      string
	EntityType   string
	EntityID     string
	OpType       string
	BaseRevision *string
	Envelope     []byte
	ClientTS     int64
	CreatedAt    int64

	AttemptCount  int
	NextAttemptAt int64
}

// Outbox reads and maintains the push queue inside a profile database. The
// vault layer enqueues entries; the engine drains them.
type Outbox struct {
	db *sql.DB
}

// NewOutbox wraps the open profile database.
func NewOutbox(db *sql.DB) *Outbox {
	return &Outbox{db: db}
}

// Due returns up to limit entries whose retry window has opened, oldest
// creation first. Ordering by created_at preserves causal order between
// operations on the same entity; rowid breaks same-millisecond ties.
func (o *Outbox) Due(p string, now time.Time, limit int) ([]OutboxEntry, error) {
	rows, err := o.db.Query(`
		SELECT op_id, device_id, profile, entity_type, entity_id, op_type,
			base_revision, envelope, client_ts, created_at, attempt_count, next_attempt_at
		FROM sync_outbox
		WHERE profile = ? AND next_attempt_at <= ?
		ORDER BY created_at ASC, rowid ASC LIMIT ?`, p, now.UnixMilli(), limit)
	if err != nil {
		return nil, fmt.Errorf("sync: failed to read outbox: %w", err)
	}
	defer rows.Close()

	var entries []OutboxEntry
	for rows.Next() {
		var (
			e       OutboxEntry
			baseRev sql.NullString
		)
		if err := rows.Scan(&e.OpID, &e.DeviceID, &e.Profile, &e.EntityType, &e.EntityID,
			&e.OpType, &baseRev, &e.Envelope, &e.ClientTS, &e.CreatedAt,
			&e.AttemptCount, &e.NextAttemptAt); err != nil {
			return nil, fmt.Errorf("sync: failed to scan outbox entry: %w", err)
		}
		if baseRev.Valid {
			e.BaseRevision = &baseRev.String
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Delete removes an acknowledged entry. Idempotent.
func (o *Outbox) Delete(opID string) error {
	if _, err := o.db.Exec(`DELETE FROM sync_outbox WHERE op_id = ?`, opID); err != nil {
		return fmt.Errorf("sync: failed to delete outbox entry: %w", err)
	}
	return nil
}

// ScheduleRetry bumps an entry's attempt count and pushes its next attempt
// out by the capped exponential delay. The delay is computed from the count
// before the bump: the first rejection waits one second, then doubles up to
// the sixty-second ceiling.
func (o *Outbox) ScheduleRetry(opID string, now time.Time) error {
	var attempts int
	err := o.db.QueryRow(`SELECT attempt_count FROM sync_outbox WHERE op_id = ?`, opID).Scan(&attempts)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("sync: failed to read outbox entry: %w", err)
	}

	next := now.Add(retryDelay(attempts)).UnixMilli()
	if _, err := o.db.Exec(`
		UPDATE sync_outbox SET attempt_count = attempt_count + 1, next_attempt_at = ?
		WHERE op_id = ?`, next, opID); err != nil {
		return fmt.Errorf("sync: failed to reschedule outbox entry: %w", err)
	}
	return nil
}

// Pending reports the number of queued operations for a profile.
func (o *Outbox) Pending(p string) (int, error) {
	var n int
	if err := o.db.QueryRow(`SELECT COUNT(*) FROM sync_outbox WHERE profile = ?`, p).Scan(&n); err != nil {
		return 0, fmt.Errorf("sync: failed to count outbox: %w", err)
	}
	return n, nil
}

func retryDelay(prevAttempts int) time.Duration {
	shift := prevAttempts
	if shift > maxRetryShift {
		shift = maxRetryShift
	}
	d := baseRetryDelay << shift
	if d > maxRetryDelay {
		d = maxRetryDelay
	}
	return d
}
