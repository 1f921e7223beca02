package sync

import (
	"context"
	"database/sql"
	"encoding/base64"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/veilnote/veilnote/pkg/profile"
)

// DefaultBatchLimit bounds how many operations a cycle pushes and pulls.
const DefaultBatchLimit = 100

// Session is the slice of an unlocked vault session the engine needs. A nil
// Session means the vault is locked and the cycle is a no-op.
type Session interface {
	DB() *sql.DB
	Profile() profile.Profile
}

// WipeFunc destroys local vault state in response to a remote panic_wipe.
type WipeFunc func() error

// Report summarizes one sync cycle.
type Report struct {
	PushedAccepted  int
	PushedRejected  int
	PulledApplied   int
	PulledConflicts int
	Halted          bool
}

// Engine drives the push/pull reconciliation cycle. It owns no schedule of
// its own; Runner (or a CLI command) decides when cycles happen.
type Engine struct {
	api      API
	deviceID string
	limit    int
	clock    func() time.Time
	logger   *zap.Logger
	wipe     WipeFunc
}

// NewEngine builds an engine over the remote API for one device.
func NewEngine(api API, deviceID string, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		api:      api,
		deviceID: deviceID,
		limit:    DefaultBatchLimit,
		clock:    time.Now,
		logger:   logger,
	}
}

// SetClock overrides the time source. Tests only.
func (e *Engine) SetClock(clock func() time.Time) {
	e.clock = clock
}

// SetBatchLimit overrides the per-cycle operation cap.
func (e *Engine) SetBatchLimit(limit int) {
	if limit > 0 {
		e.limit = limit
	}
}

// SetWipeFunc installs the handler for remote panic_wipe operations.
func (e *Engine) SetWipeFunc(fn WipeFunc) {
	e.wipe = fn
}

// RunCycle performs one push phase followed by one pull phase. With a locked
// vault or an empty auth token the cycle is a silent no-op: sync never
// prompts and never blocks the local workflow.
func (e *Engine) RunCycle(ctx context.Context, sess Session, token string) (*Report, error) {
	report := &Report{}
	if sess == nil || token == "" {
		return report, nil
	}

	if err := e.push(ctx, sess, token, report); err != nil {
		return report, err
	}
	if err := e.pull(ctx, sess, token, report); err != nil {
		return report, err
	}
	return report, nil
}

// push drains due outbox entries. Operations stay queued until the server
// explicitly accepts them; a transport failure or a rejection reschedules
// with backoff, never discards.
func (e *Engine) push(ctx context.Context, sess Session, token string, report *Report) error {
	outbox := NewOutbox(sess.DB())
	now := e.clock()
	entries, err := outbox.Due(string(sess.Profile()), now, e.limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	req := PushRequest{DeviceID: e.deviceID, Profile: string(sess.Profile())}
	for _, entry := range entries {
		req.Operations = append(req.Operations, Operation{
			OpID:          entry.OpID,
			Profile:       entry.Profile,
			EntityType:    entry.EntityType,
			EntityID:      entry.EntityID,
			OpType:        entry.OpType,
			BaseRevision:  entry.BaseRevision,
			ClientTS:      entry.ClientTS,
			CiphertextB64: encodeOpPayload(entry),
		})
	}

	resp, err := e.api.Push(ctx, token, req)
	if err != nil {
		// The whole batch stays queued; back everything off so the next
		// cycle retries instead of hammering a down server.
		for _, entry := range entries {
			if rerr := outbox.ScheduleRetry(entry.OpID, now); rerr != nil {
				return rerr
			}
		}
		report.PushedRejected += len(entries)
		e.logger.Warn("push failed, batch rescheduled",
			zap.Int("operations", len(entries)), zap.Error(err))
		return fmt.Errorf("sync: push: %w", err)
	}

	accepted := make(map[string]bool, len(resp.Acks))
	for _, ack := range resp.Acks {
		accepted[ack.OpID] = ack.Accepted
	}
	for _, entry := range entries {
		if accepted[entry.OpID] {
			if err := outbox.Delete(entry.OpID); err != nil {
				return err
			}
			report.PushedAccepted++
			continue
		}
		// Rejected, or missing from the ack list: keep it for retry.
		if err := outbox.ScheduleRetry(entry.OpID, now); err != nil {
			return err
		}
		report.PushedRejected++
	}
	e.logger.Debug("push complete",
		zap.Int("accepted", report.PushedAccepted),
		zap.Int("rejected", report.PushedRejected))
	return nil
}

// pull fetches remote operations after the stored cursor and applies them in
// order. The cursor only advances after the whole batch has been processed,
// so interrupted batches replay; every applied operation is idempotent.
func (e *Engine) pull(ctx context.Context, sess Session, token string, report *Report) error {
	state := NewState(sess.DB())
	p := string(sess.Profile())
	cursor, err := state.Cursor(p)
	if err != nil {
		return err
	}

	resp, err := e.api.Pull(ctx, token, sess.Profile(), e.limit, cursor)
	if err != nil {
		return fmt.Errorf("sync: pull: %w", err)
	}

	for _, op := range resp.Operations {
		localRev, err := state.LocalRevision(op.EntityID)
		if err != nil {
			return err
		}
		if localRev != nil && conflictsWith(op.BaseRevision, *localRev) {
			// The remote write was based on a revision we have moved past.
			// Record it and keep the local state; the conflict log is the
			// audit trail, not a retry queue.
			if err := state.RecordConflict(Conflict{
				EntityID:       op.EntityID,
				LocalRevision:  *localRev,
				RemoteRevision: op.Revision,
				RemoteOpID:     op.OpID,
				Policy:         PolicyLastWriteWins,
			}, e.clock()); err != nil {
				return err
			}
			report.PulledConflicts++
			e.logger.Info("pull conflict recorded",
				zap.String("entity_id", op.EntityID), zap.String("op_id", op.OpID))
			continue
		}

		halt, err := e.apply(sess, state, op)
		if err != nil {
			return err
		}
		if halt {
			// Remote panic wipe: local state is gone, and the cursor must
			// not advance past the wipe marker.
			report.Halted = true
			e.logger.Warn("remote wipe applied, cycle halted", zap.String("op_id", op.OpID))
			return nil
		}
		report.PulledApplied++
	}

	if resp.Cursor != nil {
		if err := state.SetCursor(p, *resp.Cursor); err != nil {
			return err
		}
	}
	return nil
}

// apply executes one pulled operation. Returns halt for panic_wipe; every
// malformed payload degrades to a noop.
func (e *Engine) apply(sess Session, state *State, op RemoteOperation) (bool, error) {
	payload := decodeOpPayload(op.CiphertextB64)
	entityID := payload.EntityID
	if entityID == "" {
		entityID = op.EntityID
	}

	switch payload.OpType {
	case OpUpsert:
		ciphertext, err := base64.StdEncoding.DecodeString(payload.CiphertextB64)
		if err != nil || len(ciphertext) == 0 {
			return false, nil
		}
		if err := e.applyUpsert(sess, entityID, ciphertext, payload.ClientTS); err != nil {
			return false, err
		}
	case OpDelete:
		if err := e.applyDelete(sess, entityID); err != nil {
			return false, err
		}
	case OpPanicWipe:
		if e.wipe == nil {
			return true, nil
		}
		return true, e.wipe()
	default:
		return false, nil
	}

	if op.Revision != nil {
		if err := state.SetLocalRevision(entityID, *op.Revision); err != nil {
			return false, err
		}
	}
	return false, nil
}

func (e *Engine) applyUpsert(sess Session, entityID string, ciphertext []byte, clientTS int64) error {
	if clientTS == 0 {
		clientTS = e.clock().UnixMilli()
	}
	if _, err := sess.DB().Exec(`
		INSERT INTO notes (id, ciphertext, created_at, updated_at, deleted)
		VALUES (?, ?, ?, ?, 0)
		ON CONFLICT(id) DO UPDATE SET
			ciphertext = excluded.ciphertext,
			updated_at = excluded.updated_at,
			deleted = 0`,
		entityID, ciphertext, clientTS, clientTS); err != nil {
		return fmt.Errorf("sync: failed to apply upsert: %w", err)
	}
	return nil
}

// applyDelete mirrors the local delete discipline: zero the ciphertext
// first, tombstone second. A missing entity is a no-op.
func (e *Engine) applyDelete(sess Session, entityID string) error {
	db := sess.DB()
	if _, err := db.Exec(`
		UPDATE notes SET ciphertext = zeroblob(length(ciphertext))
		WHERE id = ? AND deleted = 0`, entityID); err != nil {
		return fmt.Errorf("sync: failed to zero ciphertext: %w", err)
	}
	if _, err := db.Exec(`UPDATE notes SET deleted = 1 WHERE id = ?`, entityID); err != nil {
		return fmt.Errorf("sync: failed to tombstone note: %w", err)
	}
	return nil
}

// conflictsWith reports whether a pulled op's base revision contradicts the
// locally known one. An op without a base revision carries no claim about
// local state and never conflicts.
func conflictsWith(base *string, local string) bool {
	return base != nil && *base != local
}
