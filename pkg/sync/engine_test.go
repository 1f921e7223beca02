package sync

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilnote/veilnote/pkg/crypto"
	"github.com/veilnote/veilnote/pkg/keystore"
	"github.com/veilnote/veilnote/pkg/profile"
	"github.com/veilnote/veilnote/pkg/vault"
)

var fastParams = crypto.Argon2Params{Memory: 8 * 1024, Time: 1, Parallelism: 1, KeyLen: 32}

type fakeAPI struct {
	pushResp *PushResponse
	pushErr  error
	pullResp *PullResponse
	pullErr  error

	pushed     []PushRequest
	registered int
}

func (f *fakeAPI) Register(context.Context, string, string, profile.Profile) error {
	f.registered++
	return nil
}

func (f *fakeAPI) Push(_ context.Context, _ string, req PushRequest) (*PushResponse, error) {
	f.pushed = append(f.pushed, req)
	if f.pushErr != nil {
		return nil, f.pushErr
	}
	if f.pushResp != nil {
		return f.pushResp, nil
	}
	// Default: accept everything.
	resp := &PushResponse{}
	for _, op := range req.Operations {
		resp.Acks = append(resp.Acks, Ack{OpID: op.OpID, Accepted: true})
	}
	return resp, nil
}

func (f *fakeAPI) Pull(context.Context, string, profile.Profile, int, *string) (*PullResponse, error) {
	if f.pullErr != nil {
		return nil, f.pullErr
	}
	if f.pullResp != nil {
		return f.pullResp, nil
	}
	return &PullResponse{}, nil
}

type harness struct {
	manager *vault.Manager
	session *vault.Session
	store   *vault.Store
	api     *fakeAPI
	engine  *Engine
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	manager := vault.NewManager(profile.Paths{Root: t.TempDir()}, keystore.NewMemory(), fastParams)
	t.Cleanup(manager.Close)
	sess, err := manager.Open("1234", profile.Real)
	require.NoError(t, err)

	store := vault.NewStore(manager)
	store.EnableSync("device-1")

	api := &fakeAPI{}
	return &harness{
		manager: manager,
		session: sess,
		store:   store,
		api:     api,
		engine:  NewEngine(api, "device-1", nil),
	}
}

// remoteOp builds a pulled wire operation around an encoded op payload.
func remoteOp(opID, entityID, opType string, revision, baseRevision *string, ciphertext []byte) RemoteOperation {
	p := opPayload{OpType: opType, EntityID: entityID, ClientTS: 1000}
	if ciphertext != nil {
		p.CiphertextB64 = base64.StdEncoding.EncodeToString(ciphertext)
	}
	data, _ := json.Marshal(p)
	return RemoteOperation{
		OpID:          opID,
		EntityID:      entityID,
		Revision:      revision,
		BaseRevision:  baseRevision,
		CiphertextB64: base64.StdEncoding.EncodeToString(data),
	}
}

func strptr(s string) *string { return &s }

func sealedNote(t *testing.T, h *harness, text string) []byte {
	t.Helper()
	plaintext, err := vault.EncodePayload(&vault.Payload{Text: text})
	require.NoError(t, err)
	ct, err := crypto.Encrypt(h.session.NoteKey(), plaintext)
	require.NoError(t, err)
	return ct
}

func TestRetryDelay(t *testing.T) {
	tests := []struct {
		prevAttempts int
		want         time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{5, 32 * time.Second},
		{6, 60 * time.Second},
		{10, 60 * time.Second},
		{50, 60 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, retryDelay(tt.prevAttempts), "prevAttempts=%d", tt.prevAttempts)
	}
}

func TestScheduleRetryBackoff(t *testing.T) {
	h := newHarness(t)
	_, err := h.store.Save(&vault.Payload{Text: "queued"}, vault.SaveOptions{})
	require.NoError(t, err)

	outbox := NewOutbox(h.session.DB())
	entries, err := outbox.Due(string(profile.Real), time.UnixMilli(0), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	opID := entries[0].OpID

	// Simulate a previous rejection, then reschedule at t=1000: one prior
	// attempt doubles the base delay, so the next window opens at t=3000.
	_, err = h.session.DB().Exec(`UPDATE sync_outbox SET attempt_count = 1 WHERE op_id = ?`, opID)
	require.NoError(t, err)
	require.NoError(t, outbox.ScheduleRetry(opID, time.UnixMilli(1000)))

	var attempts int
	var next int64
	require.NoError(t, h.session.DB().
		QueryRow(`SELECT attempt_count, next_attempt_at FROM sync_outbox WHERE op_id = ?`, opID).
		Scan(&attempts, &next))
	assert.Equal(t, 2, attempts)
	assert.Equal(t, int64(3000), next)

	// Not due before the window opens, due once it has.
	due, err := outbox.Due(string(profile.Real), time.UnixMilli(2999), 10)
	require.NoError(t, err)
	assert.Empty(t, due)
	due, err = outbox.Due(string(profile.Real), time.UnixMilli(3000), 10)
	require.NoError(t, err)
	assert.Len(t, due, 1)
}

// Due drains by creation time, not insertion order, so an entry recorded
// with an earlier created_at is pushed first even when it landed in the
// table later.
func TestDueOrdersByCreatedAt(t *testing.T) {
	h := newHarness(t)

	insert := func(opID string, createdAt int64) {
		_, err := h.session.DB().Exec(`
			INSERT INTO sync_outbox (op_id, device_id, profile, entity_type, entity_id,
				op_type, envelope, client_ts, created_at)
			VALUES (?, 'device-1', ?, 'note', ?, ?, ?, ?, ?)`,
			opID, string(profile.Real), "note-"+opID, OpUpsert, []byte("env"), createdAt, createdAt)
		require.NoError(t, err)
	}
	insert("op-late", 5000)
	insert("op-early", 1000)

	entries, err := NewOutbox(h.session.DB()).Due(string(profile.Real), time.UnixMilli(9000), 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "op-early", entries[0].OpID)
	assert.Equal(t, "op-late", entries[1].OpID)
}

func TestRunCycleNoopWhenLockedOrSignedOut(t *testing.T) {
	h := newHarness(t)

	report, err := h.engine.RunCycle(context.Background(), nil, "token")
	require.NoError(t, err)
	assert.Equal(t, &Report{}, report)

	report, err = h.engine.RunCycle(context.Background(), h.session, "")
	require.NoError(t, err)
	assert.Equal(t, &Report{}, report)
	assert.Empty(t, h.api.pushed)
}

func TestPushAcceptedAndRejected(t *testing.T) {
	h := newHarness(t)
	idA, err := h.store.Save(&vault.Payload{Text: "a"}, vault.SaveOptions{})
	require.NoError(t, err)
	_, err = h.store.Save(&vault.Payload{Text: "b"}, vault.SaveOptions{})
	require.NoError(t, err)

	outbox := NewOutbox(h.session.DB())
	entries, err := outbox.Due(string(profile.Real), time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, idA, entries[0].EntityID, "outbox must drain in insertion order")

	// Accept the first operation, reject the second.
	h.api.pushResp = &PushResponse{Acks: []Ack{
		{OpID: entries[0].OpID, Accepted: true},
		{OpID: entries[1].OpID, Accepted: false},
	}}

	report, err := h.engine.RunCycle(context.Background(), h.session, "token")
	require.NoError(t, err)
	assert.Equal(t, 1, report.PushedAccepted)
	assert.Equal(t, 1, report.PushedRejected)

	remaining, err := outbox.Due(string(profile.Real), time.Now().Add(2*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, entries[1].OpID, remaining[0].OpID)
	assert.Equal(t, 1, remaining[0].AttemptCount)
}

func TestPushNetworkFailureReschedulesAll(t *testing.T) {
	h := newHarness(t)
	for _, text := range []string{"a", "b", "c"} {
		_, err := h.store.Save(&vault.Payload{Text: text}, vault.SaveOptions{})
		require.NoError(t, err)
	}
	h.api.pushErr = ErrNetwork

	report, err := h.engine.RunCycle(context.Background(), h.session, "token")
	require.ErrorIs(t, err, ErrNetwork)
	assert.Equal(t, 3, report.PushedRejected)

	// Nothing lost: all three remain queued with one failed attempt each.
	entries, err := NewOutbox(h.session.DB()).Due(string(profile.Real), time.Now().Add(2*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for _, e := range entries {
		assert.Equal(t, 1, e.AttemptCount)
	}
}

func TestPullAppliesUpsert(t *testing.T) {
	h := newHarness(t)
	ct := sealedNote(t, h, "from another device")

	h.api.pullResp = &PullResponse{
		Cursor: strptr("c1"),
		Operations: []RemoteOperation{
			remoteOp("op-1", "note-remote", OpUpsert, strptr("r1"), nil, ct),
		},
	}

	report, err := h.engine.RunCycle(context.Background(), h.session, "token")
	require.NoError(t, err)
	assert.Equal(t, 1, report.PulledApplied)

	note, err := h.store.Get("note-remote")
	require.NoError(t, err)
	assert.Equal(t, "from another device", note.Payload.Text)

	state := NewState(h.session.DB())
	rev, err := state.LocalRevision("note-remote")
	require.NoError(t, err)
	require.NotNil(t, rev)
	assert.Equal(t, "r1", *rev)

	cursor, err := state.Cursor(string(profile.Real))
	require.NoError(t, err)
	require.NotNil(t, cursor)
	assert.Equal(t, "c1", *cursor)
}

func TestPullAppliesDelete(t *testing.T) {
	h := newHarness(t)
	id, err := h.store.Save(&vault.Payload{Text: "doomed"}, vault.SaveOptions{})
	require.NoError(t, err)
	// Drain the outbox so the pull phase is the only actor.
	_, err = h.session.DB().Exec(`DELETE FROM sync_outbox`)
	require.NoError(t, err)

	h.api.pullResp = &PullResponse{
		Cursor:     strptr("c1"),
		Operations: []RemoteOperation{remoteOp("op-1", id, OpDelete, strptr("r2"), nil, nil)},
	}

	report, err := h.engine.RunCycle(context.Background(), h.session, "token")
	require.NoError(t, err)
	assert.Equal(t, 1, report.PulledApplied)

	_, err = h.store.Get(id)
	assert.ErrorIs(t, err, vault.ErrNotFound)

	// The soft-deleted ciphertext holds only zeros.
	var ctBytes []byte
	require.NoError(t, h.session.DB().
		QueryRow(`SELECT ciphertext FROM notes WHERE id = ?`, id).Scan(&ctBytes))
	for _, b := range ctBytes {
		require.Zero(t, b, "deleted ciphertext must be zeroed")
	}
}

func TestPullConflictRecordedAndSkipped(t *testing.T) {
	h := newHarness(t)
	id, err := h.store.Save(&vault.Payload{Text: "local truth"}, vault.SaveOptions{})
	require.NoError(t, err)

	state := NewState(h.session.DB())
	require.NoError(t, state.SetLocalRevision(id, "r2"))

	// Remote write based on the superseded r1.
	ct := sealedNote(t, h, "stale remote")
	h.api.pullResp = &PullResponse{
		Cursor:     strptr("c1"),
		Operations: []RemoteOperation{remoteOp("op-9", id, OpUpsert, strptr("r3"), strptr("r1"), ct)},
	}

	report, err := h.engine.RunCycle(context.Background(), h.session, "token")
	require.NoError(t, err)
	assert.Equal(t, 0, report.PulledApplied)
	assert.Equal(t, 1, report.PulledConflicts)

	// Local content untouched, conflict logged, cursor still advanced.
	note, err := h.store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "local truth", note.Payload.Text)

	conflicts, err := state.Conflicts()
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, id, conflicts[0].EntityID)
	assert.Equal(t, "r2", conflicts[0].LocalRevision)
	assert.Equal(t, "op-9", conflicts[0].RemoteOpID)
	assert.Equal(t, PolicyLastWriteWins, conflicts[0].Policy)

	cursor, err := state.Cursor(string(profile.Real))
	require.NoError(t, err)
	require.NotNil(t, cursor)
	assert.Equal(t, "c1", *cursor)
}

// A pulled op without a base revision makes no claim about local state, so it
// applies even when a local revision is already recorded.
func TestPullAppliesWithoutBaseRevision(t *testing.T) {
	h := newHarness(t)
	id, err := h.store.Save(&vault.Payload{Text: "local draft"}, vault.SaveOptions{})
	require.NoError(t, err)
	// Drain the outbox so the pull phase is the only actor.
	_, err = h.session.DB().Exec(`DELETE FROM sync_outbox`)
	require.NoError(t, err)

	state := NewState(h.session.DB())
	require.NoError(t, state.SetLocalRevision(id, "r1"))

	ct := sealedNote(t, h, "remote rewrite")
	h.api.pullResp = &PullResponse{
		Cursor:     strptr("c1"),
		Operations: []RemoteOperation{remoteOp("op-5", id, OpUpsert, strptr("r2"), nil, ct)},
	}

	report, err := h.engine.RunCycle(context.Background(), h.session, "token")
	require.NoError(t, err)
	assert.Equal(t, 1, report.PulledApplied)
	assert.Equal(t, 0, report.PulledConflicts)

	note, err := h.store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "remote rewrite", note.Payload.Text)

	rev, err := state.LocalRevision(id)
	require.NoError(t, err)
	require.NotNil(t, rev)
	assert.Equal(t, "r2", *rev)

	conflicts, err := state.Conflicts()
	require.NoError(t, err)
	assert.Empty(t, conflicts)
}

// TestPullHaltsOnPanicWipe verifies a remote wipe stops the batch: operations
// before the marker apply, the wipe handler runs, operations after it are
// never touched, and the cursor stays frozen.
func TestPullHaltsOnPanicWipe(t *testing.T) {
	h := newHarness(t)
	ctA := sealedNote(t, h, "before wipe")
	ctB := sealedNote(t, h, "after wipe")

	wiped := false
	h.engine.SetWipeFunc(func() error {
		wiped = true
		return nil
	})
	h.api.pullResp = &PullResponse{
		Cursor: strptr("c9"),
		Operations: []RemoteOperation{
			remoteOp("op-1", "note-a", OpUpsert, strptr("r1"), nil, ctA),
			remoteOp("op-2", "", OpPanicWipe, nil, nil, nil),
			remoteOp("op-3", "note-b", OpUpsert, strptr("r1"), nil, ctB),
		},
	}

	report, err := h.engine.RunCycle(context.Background(), h.session, "token")
	require.NoError(t, err)
	assert.True(t, wiped, "wipe handler not invoked")
	assert.True(t, report.Halted)
	assert.Equal(t, 1, report.PulledApplied)

	var n int
	require.NoError(t, h.session.DB().
		QueryRow(`SELECT COUNT(*) FROM notes WHERE id = 'note-b'`).Scan(&n))
	assert.Zero(t, n, "operation after the wipe marker must not apply")

	cursor, err := NewState(h.session.DB()).Cursor(string(profile.Real))
	require.NoError(t, err)
	assert.Nil(t, cursor, "cursor must not advance past a wipe marker")
}

func TestPullMalformedOperationIsNoop(t *testing.T) {
	h := newHarness(t)
	h.api.pullResp = &PullResponse{
		Cursor: strptr("c1"),
		Operations: []RemoteOperation{
			{OpID: "op-1", EntityID: "e1", CiphertextB64: "%%% not base64 %%%"},
			{OpID: "op-2", EntityID: "e2", CiphertextB64: base64.StdEncoding.EncodeToString([]byte("not json"))},
			{OpID: "op-3", EntityID: "e3", CiphertextB64: ""},
		},
	}

	_, err := h.engine.RunCycle(context.Background(), h.session, "token")
	require.NoError(t, err)

	var n int
	require.NoError(t, h.session.DB().QueryRow(`SELECT COUNT(*) FROM notes`).Scan(&n))
	assert.Zero(t, n)

	// Malformed operations never block cursor progress.
	cursor, err := NewState(h.session.DB()).Cursor(string(profile.Real))
	require.NoError(t, err)
	require.NotNil(t, cursor)
	assert.Equal(t, "c1", *cursor)
}

func TestDecodeOpPayloadTotal(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"bad base64", "!!!"},
		{"not json", base64.StdEncoding.EncodeToString([]byte("plain text"))},
		{"unknown op", base64.StdEncoding.EncodeToString([]byte(`{"op_type":"explode"}`))},
		{"json array", base64.StdEncoding.EncodeToString([]byte(`[1,2]`))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, OpNoop, decodeOpPayload(tt.raw).OpType)
		})
	}
}

func TestPullFailureLeavesCursor(t *testing.T) {
	h := newHarness(t)
	h.api.pullErr = errors.New("boom")

	_, err := h.engine.RunCycle(context.Background(), h.session, "token")
	require.Error(t, err)

	cursor, err := NewState(h.session.DB()).Cursor(string(profile.Real))
	require.NoError(t, err)
	assert.Nil(t, cursor)
}
