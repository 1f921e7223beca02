// Package audit provides a local security event log with an HMAC chain for
// tamper detection. Events carry no note content; key material never appears
// in a record.
package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/veilnote/veilnote/pkg/crypto"
)

// MinAuditDiskSpace is the floor below which event writes are refused.
const MinAuditDiskSpace = 1024 * 1024

// Operation types.
const (
	OpSetup        = "vault.setup"
	OpUnlock       = "vault.unlock"
	OpUnlockFailed = "vault.unlock_failed"
	OpLock         = "vault.lock"
	OpWipe         = "vault.wipe"
	OpSweep        = "vault.sweep"
	OpSyncCycle    = "sync.cycle"
	OpExport       = "backup.export"
	OpImport       = "backup.import"
)

// Results.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultDenied  = "denied"
)

// hkdf parameters for the log HMAC key.
const (
	hmacKeySalt = "veilnote.v1.audit"
	hmacKeyInfo = "audit-log-key"
)

// Event is one audit record.
type Event struct {
	Version   int    `json:"v"`
	ID        string `json:"id"`
	Timestamp string `json:"ts"` // RFC 3339, nanosecond precision

	Operation string `json:"op"`
	Profile   string `json:"profile,omitempty"`

	Result string         `json:"result"`
	Error  *ErrorInfo     `json:"error,omitempty"`
	Ctx    map[string]any `json:"ctx,omitempty"`

	Chain Chain `json:"chain"`
}

// ErrorInfo carries error details for failed operations.
type ErrorInfo struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Chain links a record to its predecessor.
type Chain struct {
	Sequence int64  `json:"seq"`
	PrevHash string `json:"prev"`
	HMAC     string `json:"hmac"`
}

// Logger appends events to monthly JSONL files under one directory,
// chaining each record to the previous via HMAC-SHA256.
type Logger struct {
	mu       sync.Mutex
	path     string
	hmacKey  []byte
	sequence int64
	prevHash string
	keySet   bool
	clock    func() time.Time
}

// NewLogger creates a logger writing under path. SetHMACKey must be called
// before the first Log.
func NewLogger(path string) *Logger {
	return &Logger{path: path, prevHash: "genesis", clock: time.Now}
}

// SetClock overrides the time source. Tests only.
func (l *Logger) SetClock(clock func() time.Time) {
	l.clock = clock
}

// SetHMACKey derives the log HMAC key from a secret (typically the sealed
// profile secret, never the PIN) and loads the persisted chain state.
func (l *Logger) SetHMACKey(secret []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key, err := crypto.HKDF(secret, []byte(hmacKeySalt), []byte(hmacKeyInfo), 32)
	if err != nil {
		return fmt.Errorf("audit: failed to derive HMAC key: %w", err)
	}
	l.hmacKey = key
	l.keySet = true

	if err := l.loadChainState(); err != nil {
		// First run: start a fresh chain.
		l.sequence = 0
		l.prevHash = "genesis"
	}
	return nil
}

// Log appends one event.
func (l *Logger) Log(op, profileName, result string, errInfo *ErrorInfo, ctx map[string]any) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.keySet {
		return fmt.Errorf("audit: HMAC key not set")
	}
	if err := os.MkdirAll(l.path, 0700); err != nil {
		return fmt.Errorf("audit: failed to create directory: %w", err)
	}
	if err := l.checkDiskSpace(); err != nil {
		return err
	}

	event := Event{
		Version:   1,
		ID:        uuid.NewString(),
		Timestamp: l.clock().UTC().Format(time.RFC3339Nano),
		Operation: op,
		Profile:   profileName,
		Result:    result,
		Error:     errInfo,
		Ctx:       ctx,
	}

	l.sequence++
	event.Chain.Sequence = l.sequence
	event.Chain.PrevHash = l.prevHash
	event.Chain.HMAC = l.recordHMAC(&event)
	l.prevHash = event.Chain.HMAC

	if err := l.writeEvent(&event); err != nil {
		return err
	}
	return l.saveChainState()
}

// LogSuccess records a successful operation.
func (l *Logger) LogSuccess(op, profileName string) error {
	return l.Log(op, profileName, ResultSuccess, nil, nil)
}

// LogError records a failed operation.
func (l *Logger) LogError(op, profileName, code, message string) error {
	return l.Log(op, profileName, ResultError, &ErrorInfo{Code: code, Message: message}, nil)
}

// recordHMAC computes the chain HMAC over every significant field.
func (l *Logger) recordHMAC(event *Event) string {
	errorData := ""
	if event.Error != nil {
		errorData = fmt.Sprintf("%s|%s", event.Error.Code, event.Error.Message)
	}

	ctxData := ""
	if event.Ctx != nil {
		keys := make([]string, 0, len(event.Ctx))
		for k := range event.Ctx {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			ctxData += fmt.Sprintf("%s=%v|", k, event.Ctx[k])
		}
	}

	data := fmt.Sprintf("%d|%s|%s|%s|%s|%s|%s|%s|%d|%s",
		event.Version, event.ID, event.Timestamp, event.Operation, event.Profile,
		event.Result, errorData, ctxData, event.Chain.Sequence, event.Chain.PrevHash)

	mac := hmac.New(sha256.New, l.hmacKey)
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

// writeEvent appends to the current month's file.
func (l *Logger) writeEvent(event *Event) error {
	name := l.clock().UTC().Format("2006-01") + ".jsonl"
	f, err := os.OpenFile(filepath.Join(l.path, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("audit: failed to open log file: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("audit: failed to marshal event: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("audit: failed to write event: %w", err)
	}
	return nil
}

type chainState struct {
	Sequence int64  `json:"seq"`
	PrevHash string `json:"prev"`
}

func (l *Logger) loadChainState() error {
	data, err := os.ReadFile(filepath.Join(l.path, "audit.meta"))
	if err != nil {
		return err
	}
	var state chainState
	if err := json.Unmarshal(data, &state); err != nil {
		return err
	}
	l.sequence = state.Sequence
	l.prevHash = state.PrevHash
	return nil
}

func (l *Logger) saveChainState() error {
	data, err := json.Marshal(chainState{Sequence: l.sequence, PrevHash: l.prevHash})
	if err != nil {
		return fmt.Errorf("audit: failed to marshal chain state: %w", err)
	}
	if err := os.WriteFile(filepath.Join(l.path, "audit.meta"), data, 0600); err != nil {
		return fmt.Errorf("audit: failed to save chain state: %w", err)
	}
	return nil
}

// VerifyResult reports the outcome of a chain verification.
type VerifyResult struct {
	Valid           bool     `json:"valid"`
	RecordsVerified int      `json:"records_verified"`
	Errors          []string `json:"errors,omitempty"`
}

// Verify walks every record in order, checking sequence continuity, chain
// linkage, and each record's HMAC.
func (l *Logger) Verify() (*VerifyResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.keySet {
		return nil, fmt.Errorf("audit: HMAC key not set")
	}

	result := &VerifyResult{Valid: true}
	events, err := l.readAll()
	if err != nil {
		return nil, err
	}

	expectedPrev := "genesis"
	var expectedSeq int64 = 1
	for _, event := range events {
		result.RecordsVerified++
		if event.Chain.Sequence != expectedSeq {
			result.Valid = false
			result.Errors = append(result.Errors, fmt.Sprintf(
				"sequence gap at record %s: expected %d, got %d",
				event.ID, expectedSeq, event.Chain.Sequence))
		}
		if event.Chain.PrevHash != expectedPrev {
			result.Valid = false
			result.Errors = append(result.Errors, fmt.Sprintf(
				"chain broken at record %s", event.ID))
		}
		if l.recordHMAC(&event) != event.Chain.HMAC {
			result.Valid = false
			result.Errors = append(result.Errors, fmt.Sprintf(
				"HMAC mismatch at record %s: possible tampering", event.ID))
		}
		expectedPrev = event.Chain.HMAC
		expectedSeq++
	}
	return result, nil
}

// ListEvents returns events in chronological order, optionally filtered to
// those after since and capped to the limit most recent.
func (l *Logger) ListEvents(limit int, since time.Time) ([]Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	events, err := l.readAll()
	if err != nil {
		return nil, err
	}

	if !since.IsZero() {
		filtered := events[:0]
		for _, event := range events {
			ts, err := time.Parse(time.RFC3339Nano, event.Timestamp)
			if err != nil {
				continue
			}
			if ts.After(since) {
				filtered = append(filtered, event)
			}
		}
		events = filtered
	}
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	return events, nil
}

// Prune deletes log files whose every event is older than the retention
// window. Pruning truncates the chain history; Verify only covers what
// remains, so the chain restarts from the oldest surviving file.
func (l *Logger) Prune(olderThan time.Duration) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.clock().Add(-olderThan)
	files, err := l.logFiles()
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, file := range files {
		events, err := l.readLogFile(file)
		if err != nil {
			return deleted, err
		}
		allOld := len(events) > 0
		for _, event := range events {
			ts, err := time.Parse(time.RFC3339Nano, event.Timestamp)
			if err != nil || ts.After(cutoff) {
				allOld = false
				break
			}
		}
		if allOld {
			if err := os.Remove(file); err != nil {
				return deleted, fmt.Errorf("audit: failed to delete %s: %w", file, err)
			}
			deleted += len(events)
		}
	}
	return deleted, nil
}

// Path returns the log directory.
func (l *Logger) Path() string {
	return l.path
}

func (l *Logger) logFiles() ([]string, error) {
	files, err := filepath.Glob(filepath.Join(l.path, "*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("audit: failed to list log files: %w", err)
	}
	// YYYY-MM names sort chronologically.
	sort.Strings(files)
	return files, nil
}

func (l *Logger) readAll() ([]Event, error) {
	files, err := l.logFiles()
	if err != nil {
		return nil, err
	}
	var events []Event
	for _, file := range files {
		fileEvents, err := l.readLogFile(file)
		if err != nil {
			return nil, err
		}
		events = append(events, fileEvents...)
	}
	return events, nil
}

func (l *Logger) readLogFile(path string) ([]Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to read %s: %w", path, err)
	}

	var events []Event
	start := 0
	for i := 0; i <= len(data); i++ {
		if i == len(data) || data[i] == '\n' {
			if i > start {
				var event Event
				if err := json.Unmarshal(data[start:i], &event); err != nil {
					return nil, fmt.Errorf("audit: failed to parse record in %s: %w", path, err)
				}
				events = append(events, event)
			}
			start = i + 1
		}
	}
	return events, nil
}
