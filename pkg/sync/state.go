package sync

import (
	"database/sql"
	"fmt"
	"time"
)

// Conflict records a pulled operation that was based on a revision other
// than the one known locally. Conflicts are logged, never fatal; the policy
// column names the resolution applied.
type Conflict struct {
	ID             int64
	EntityID       string
	LocalRevision  string
	RemoteRevision *string
	RemoteOpID     string
	Policy         string
	CreatedAt      int64
	ResolvedAt     *int64
}

// PolicyLastWriteWins marks a conflict resolved by keeping the newest write.
const PolicyLastWriteWins = "lww"

// State persists the pull cursor, per-entity server revisions, and the
// conflict log inside a profile database.
type State struct {
	db *sql.DB
}

// NewState wraps the open profile database.
func NewState(db *sql.DB) *State {
	return &State{db: db}
}

// Cursor returns the stored pull cursor, or nil before the first sync.
func (s *State) Cursor(p string) (*string, error) {
	var cursor string
	err := s.db.QueryRow(`SELECT cursor FROM sync_cursor WHERE profile = ?`, p).Scan(&cursor)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sync: failed to read cursor: %w", err)
	}
	return &cursor, nil
}

// SetCursor advances the pull cursor. The cursor only ever moves after a
// fully applied batch, so a crash replays operations rather than losing them.
func (s *State) SetCursor(p, cursor string) error {
	if _, err := s.db.Exec(`
		INSERT INTO sync_cursor (profile, cursor) VALUES (?, ?)
		ON CONFLICT(profile) DO UPDATE SET cursor = excluded.cursor`, p, cursor); err != nil {
		return fmt.Errorf("sync: failed to store cursor: %w", err)
	}
	return nil
}

// LocalRevision returns the last server revision applied for an entity, or
// nil if none is recorded.
func (s *State) LocalRevision(entityID string) (*string, error) {
	var rev string
	err := s.db.QueryRow(`SELECT revision FROM sync_revisions WHERE entity_id = ?`, entityID).Scan(&rev)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sync: failed to read revision: %w", err)
	}
	return &rev, nil
}

// SetLocalRevision records the server revision now current for an entity.
func (s *State) SetLocalRevision(entityID, revision string) error {
	if _, err := s.db.Exec(`
		INSERT INTO sync_revisions (entity_id, revision) VALUES (?, ?)
		ON CONFLICT(entity_id) DO UPDATE SET revision = excluded.revision`, entityID, revision); err != nil {
		return fmt.Errorf("sync: failed to store revision: %w", err)
	}
	return nil
}

// RecordConflict appends to the conflict log.
func (s *State) RecordConflict(c Conflict, now time.Time) error {
	var remoteRev any
	if c.RemoteRevision != nil {
		remoteRev = *c.RemoteRevision
	}
	if _, err := s.db.Exec(`
		INSERT INTO sync_conflicts (entity_id, local_revision, remote_revision, remote_op_id, policy, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.EntityID, c.LocalRevision, remoteRev, c.RemoteOpID, c.Policy, now.UnixMilli()); err != nil {
		return fmt.Errorf("sync: failed to record conflict: %w", err)
	}
	return nil
}

// Conflicts returns the logged conflicts, oldest first.
func (s *State) Conflicts() ([]Conflict, error) {
	rows, err := s.db.Query(`
		SELECT id, entity_id, local_revision, remote_revision, remote_op_id, policy, created_at, resolved_at
		FROM sync_conflicts ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("sync: failed to list conflicts: %w", err)
	}
	defer rows.Close()

	var out []Conflict
	for rows.Next() {
		var (
			c          Conflict
			remoteRev  sql.NullString
			resolvedAt sql.NullInt64
		)
		if err := rows.Scan(&c.ID, &c.EntityID, &c.LocalRevision, &remoteRev,
			&c.RemoteOpID, &c.Policy, &c.CreatedAt, &resolvedAt); err != nil {
			return nil, fmt.Errorf("sync: failed to scan conflict: %w", err)
		}
		if remoteRev.Valid {
			c.RemoteRevision = &remoteRev.String
		}
		if resolvedAt.Valid {
			c.ResolvedAt = &resolvedAt.Int64
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
