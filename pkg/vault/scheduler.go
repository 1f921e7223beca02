package vault

import (
	"sync"
	"time"
)

// TimerScheduler fires reminder callbacks from in-process timers. It only
// lives as long as the process; persistent reminder state stays in the note
// rows, so a restart re-registers on the next save or explicit reschedule.
type TimerScheduler struct {
	mu     sync.Mutex
	fire   func(noteID, repeat string)
	timers map[string]*time.Timer
}

// NewTimerScheduler builds a scheduler invoking fire when a reminder is due.
// The callback runs on the timer goroutine.
func NewTimerScheduler(fire func(noteID, repeat string)) *TimerScheduler {
	return &TimerScheduler{fire: fire, timers: make(map[string]*time.Timer)}
}

// Schedule registers a reminder, replacing any pending timer for the note.
// Times already past fire immediately.
func (t *TimerScheduler) Schedule(noteID string, at time.Time, repeat string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if old, ok := t.timers[noteID]; ok {
		old.Stop()
	}
	delay := time.Until(at)
	if delay < 0 {
		delay = 0
	}
	t.timers[noteID] = time.AfterFunc(delay, func() {
		t.mu.Lock()
		delete(t.timers, noteID)
		t.mu.Unlock()
		t.fire(noteID, repeat)
	})
}

// Cancel drops a pending reminder. Unknown ids are a no-op.
func (t *TimerScheduler) Cancel(noteID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if timer, ok := t.timers[noteID]; ok {
		timer.Stop()
		delete(t.timers, noteID)
	}
}

// Stop cancels every pending reminder.
func (t *TimerScheduler) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, timer := range t.timers {
		timer.Stop()
		delete(t.timers, id)
	}
}

// Pending returns the number of registered reminders.
func (t *TimerScheduler) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.timers)
}
