package audit

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestLogger(t *testing.T) *Logger {
	t.Helper()
	l := NewLogger(filepath.Join(t.TempDir(), "audit"))
	if err := l.SetHMACKey([]byte("test-secret-0123456789abcdef0123")); err != nil {
		t.Fatalf("SetHMACKey() error = %v", err)
	}
	return l
}

func TestLogAndVerify(t *testing.T) {
	l := newTestLogger(t)

	if err := l.LogSuccess(OpUnlock, "real"); err != nil {
		t.Fatalf("LogSuccess() error = %v", err)
	}
	if err := l.LogError(OpUnlockFailed, "", "auth", "no credential matched"); err != nil {
		t.Fatalf("LogError() error = %v", err)
	}
	if err := l.Log(OpSyncCycle, "real", ResultSuccess, nil, map[string]any{"pushed": 3, "pulled": 1}); err != nil {
		t.Fatalf("Log() error = %v", err)
	}

	result, err := l.Verify()
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !result.Valid {
		t.Errorf("Verify() invalid: %v", result.Errors)
	}
	if result.RecordsVerified != 3 {
		t.Errorf("RecordsVerified = %d, want 3", result.RecordsVerified)
	}
}

func TestLogRequiresKey(t *testing.T) {
	l := NewLogger(filepath.Join(t.TempDir(), "audit"))
	if err := l.LogSuccess(OpUnlock, "real"); err == nil {
		t.Error("Log() without HMAC key succeeded")
	}
}

// TestVerifyDetectsTampering edits a recorded event on disk and checks the
// chain catches it.
func TestVerifyDetectsTampering(t *testing.T) {
	l := newTestLogger(t)
	if err := l.LogSuccess(OpUnlock, "real"); err != nil {
		t.Fatalf("LogSuccess() error = %v", err)
	}
	if err := l.LogSuccess(OpLock, "real"); err != nil {
		t.Fatalf("LogSuccess() error = %v", err)
	}

	files, err := filepath.Glob(filepath.Join(l.Path(), "*.jsonl"))
	if err != nil || len(files) != 1 {
		t.Fatalf("log files = %v, err = %v", files, err)
	}
	data, err := os.ReadFile(files[0])
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	tampered := strings.Replace(string(data), `"vault.unlock"`, `"vault.wipe"`, 1)
	if tampered == string(data) {
		t.Fatal("tamper replacement did not apply")
	}
	if err := os.WriteFile(files[0], []byte(tampered), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	result, err := l.Verify()
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if result.Valid {
		t.Error("Verify() accepted a tampered record")
	}
}

// TestChainSurvivesRestart verifies a fresh logger continues the chain
// rather than restarting from genesis.
func TestChainSurvivesRestart(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "audit")
	secret := []byte("test-secret-0123456789abcdef0123")

	first := NewLogger(dir)
	if err := first.SetHMACKey(secret); err != nil {
		t.Fatalf("SetHMACKey() error = %v", err)
	}
	if err := first.LogSuccess(OpSetup, "real"); err != nil {
		t.Fatalf("LogSuccess() error = %v", err)
	}

	second := NewLogger(dir)
	if err := second.SetHMACKey(secret); err != nil {
		t.Fatalf("SetHMACKey() error = %v", err)
	}
	if err := second.LogSuccess(OpUnlock, "real"); err != nil {
		t.Fatalf("LogSuccess() error = %v", err)
	}

	result, err := second.Verify()
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !result.Valid || result.RecordsVerified != 2 {
		t.Errorf("Verify() after restart = %+v", result)
	}

	events, err := second.ListEvents(0, time.Time{})
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	if len(events) != 2 || events[1].Chain.Sequence != 2 {
		t.Errorf("chain did not continue: %+v", events)
	}
}

func TestListEventsLimit(t *testing.T) {
	l := newTestLogger(t)
	for range [5]struct{}{} {
		if err := l.LogSuccess(OpUnlock, "real"); err != nil {
			t.Fatalf("LogSuccess() error = %v", err)
		}
	}

	events, err := l.ListEvents(2, time.Time{})
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2", len(events))
	}
	// Most recent events are kept.
	if events[1].Chain.Sequence != 5 {
		t.Errorf("last sequence = %d, want 5", events[1].Chain.Sequence)
	}
}

func TestPruneDeletesOldFiles(t *testing.T) {
	l := newTestLogger(t)

	// One month of old events, then recent ones.
	old := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	l.SetClock(func() time.Time { return old })
	if err := l.LogSuccess(OpUnlock, "real"); err != nil {
		t.Fatalf("LogSuccess() error = %v", err)
	}

	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	l.SetClock(func() time.Time { return now })
	if err := l.LogSuccess(OpUnlock, "real"); err != nil {
		t.Fatalf("LogSuccess() error = %v", err)
	}

	deleted, err := l.Prune(90 * 24 * time.Hour)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}

	events, err := l.ListEvents(0, time.Time{})
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	if len(events) != 1 || events[0].Operation != OpUnlock {
		t.Errorf("events after prune = %+v", events)
	}
}
