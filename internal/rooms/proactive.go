package rooms

import (
	"sync"
	"time"
)

// ProactiveCheckFunc is invoked once, at most, when a debounce window expires
// for a channel, with the most recently scheduled message and reply sender.
type ProactiveCheckFunc func(msg RoomMessage, replySender func(text string) error)

type pendingCheck struct {
	timer *time.Timer
}

// ProactiveDebouncer coalesces passive messages per channel behind a
// cancelable timer: re-scheduling before expiry replaces the payload and
// restarts the window; an explicit command cancels any pending check.
//
// Cancellation is modeled by pointer identity rather than timer.Stop() alone,
// since Stop racing a timer that has already fired (and is blocked entering
// the callback) cannot by itself prevent that callback from running — the
// fired goroutine re-checks that it is still the current pending entry for
// its channel before invoking the caller's callback.
type ProactiveDebouncer struct {
	mu       sync.Mutex
	debounce time.Duration
	pending  map[string]*pendingCheck
}

// NewProactiveDebouncer constructs a debouncer with the given window.
func NewProactiveDebouncer(debounce time.Duration) *ProactiveDebouncer {
	return &ProactiveDebouncer{
		debounce: debounce,
		pending:  make(map[string]*pendingCheck),
	}
}

// ScheduleCheck sets or resets channelKey's timer, replacing any prior
// payload. On expiry callback fires exactly once with this call's msg and
// replySender, unless cancelled or superseded first.
func (d *ProactiveDebouncer) ScheduleCheck(msg RoomMessage, channelKey string, replySender func(text string) error, callback ProactiveCheckFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if prior, ok := d.pending[channelKey]; ok {
		prior.timer.Stop()
	}

	entry := &pendingCheck{}
	entry.timer = time.AfterFunc(d.debounce, func() {
		d.mu.Lock()
		current, ok := d.pending[channelKey]
		fire := ok && current == entry
		if fire {
			delete(d.pending, channelKey)
		}
		d.mu.Unlock()
		if fire {
			callback(msg, replySender)
		}
	})
	d.pending[channelKey] = entry
}

// CancelChannel cancels any pending timer for channelKey. A no-op if none
// is pending, or if the timer has already fired.
func (d *ProactiveDebouncer) CancelChannel(channelKey string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if entry, ok := d.pending[channelKey]; ok {
		entry.timer.Stop()
		delete(d.pending, channelKey)
	}
}
