package security

import (
	"testing"
	"time"
)

func TestLimiterAllowsEarlyAttempts(t *testing.T) {
	l := NewLimiter()
	now := time.UnixMilli(0)
	l.SetClock(func() time.Time { return now })

	for i := 0; i < FreeAttempts; i++ {
		if ok, _ := l.Allow(); !ok {
			t.Fatalf("attempt %d blocked inside free allowance", i+1)
		}
		l.RecordFailure()
	}
}

func TestLimiterDelaysAfterAllowance(t *testing.T) {
	l := NewLimiter()
	now := time.UnixMilli(0)
	l.SetClock(func() time.Time { return now })

	for i := 0; i < FreeAttempts+1; i++ {
		l.RecordFailure()
	}

	ok, wait := l.Allow()
	if ok {
		t.Fatal("attempt allowed immediately after exceeding allowance")
	}
	if wait != 2*time.Second {
		t.Errorf("wait = %v, want 2s", wait)
	}

	// The window opens once the delay has elapsed.
	now = now.Add(2 * time.Second)
	if ok, _ := l.Allow(); !ok {
		t.Error("attempt still blocked after delay elapsed")
	}
}

func TestLimiterDelayCaps(t *testing.T) {
	l := NewLimiter()
	now := time.UnixMilli(0)
	l.SetClock(func() time.Time { return now })

	for i := 0; i < 50; i++ {
		l.RecordFailure()
	}
	_, wait := l.Allow()
	if wait > MaxDelay {
		t.Errorf("wait = %v exceeds cap %v", wait, MaxDelay)
	}
}

func TestLimiterReset(t *testing.T) {
	l := NewLimiter()
	now := time.UnixMilli(0)
	l.SetClock(func() time.Time { return now })

	for i := 0; i < FreeAttempts+3; i++ {
		l.RecordFailure()
	}
	l.Reset()

	if ok, _ := l.Allow(); !ok {
		t.Error("attempt blocked after reset")
	}
	if l.Failures() != 0 {
		t.Errorf("Failures() = %d after reset", l.Failures())
	}
}
