package eventloop

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sevenc-nanashi/utaformatix-lib/internal/core"
)

// ErrAborted is returned by RunNext and Drain once Abort has been called.
var ErrAborted = errors.New("event loop aborted")

// minInterval is the shortest period a setInterval timer may repeat at.
const minInterval = 10 * time.Millisecond

// timerEntry represents a pending setTimeout, setInterval or sleep callback.
// The actual callback is stored in globalThis.__timerCallbacks[id] on the
// JS side. Go only tracks scheduling metadata.
type timerEntry struct {
	deadline time.Time
	interval time.Duration // 0 for one-shot timers
	id       int
}

// EventLoop manages Go-backed timers for setTimeout/setInterval/sleep.
// Timers fire in deadline order; timers sharing a deadline fire in the
// order they were registered. Everything that touches JS must run on the
// goroutine that owns the runtime.
type EventLoop struct {
	mu        sync.Mutex
	timers    map[int]*timerEntry
	nextID    int
	abort     chan struct{}
	abortOnce sync.Once
}

// New creates a new EventLoop.
func New() *EventLoop {
	return &EventLoop{
		timers: make(map[int]*timerEntry),
		abort:  make(chan struct{}),
	}
}

// RegisterTimer creates a timer entry and returns its ID. Negative delays
// are treated as zero.
func (el *EventLoop) RegisterTimer(delay time.Duration, isInterval bool) int {
	if delay < 0 {
		delay = 0
	}
	el.mu.Lock()
	defer el.mu.Unlock()
	el.nextID++
	id := el.nextID
	entry := &timerEntry{
		deadline: time.Now().Add(delay),
		id:       id,
	}
	if isInterval {
		entry.interval = max(delay, minInterval)
	}
	el.timers[id] = entry
	return id
}

// ClearTimer cancels a timer by ID.
func (el *EventLoop) ClearTimer(id int) {
	el.mu.Lock()
	defer el.mu.Unlock()
	delete(el.timers, id)
}

// HasPending reports whether any timer is still scheduled.
func (el *EventLoop) HasPending() bool {
	el.mu.Lock()
	defer el.mu.Unlock()
	return len(el.timers) > 0
}

// Abort wakes any goroutine blocked in RunNext or Drain and makes all
// further calls fail with ErrAborted. Safe to call from any goroutine.
func (el *EventLoop) Abort() {
	el.abortOnce.Do(func() { close(el.abort) })
}

// next returns the timer that must fire first, or nil.
func (el *EventLoop) next() *timerEntry {
	el.mu.Lock()
	defer el.mu.Unlock()
	var next *timerEntry
	for _, t := range el.timers {
		if next == nil || t.deadline.Before(next.deadline) ||
			(t.deadline.Equal(next.deadline) && t.id < next.id) {
			next = t
		}
	}
	return next
}

// RunNext waits for the earliest timer, fires its callback and pumps the
// microtask queue. It returns false when no timer is pending.
// Must be called on the runtime's goroutine.
func (el *EventLoop) RunNext(rt core.JSRuntime) (bool, error) {
	select {
	case <-el.abort:
		return false, ErrAborted
	default:
	}

	next := el.next()
	if next == nil {
		return false, nil
	}

	if wait := time.Until(next.deadline); wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-el.abort:
			timer.Stop()
			return false, ErrAborted
		}
	}

	el.mu.Lock()
	if _, ok := el.timers[next.id]; !ok {
		// cleared while we were waiting
		el.mu.Unlock()
		return true, nil
	}
	if next.interval > 0 {
		next.deadline = time.Now().Add(next.interval)
	} else {
		delete(el.timers, next.id)
	}
	el.mu.Unlock()

	if err := el.fireTimer(rt, next.id); err != nil {
		return true, err
	}
	rt.RunMicrotasks()
	return true, nil
}

// Drain fires timers until none remain.
// Must be called on the runtime's goroutine.
func (el *EventLoop) Drain(rt core.JSRuntime) error {
	for {
		ran, err := el.RunNext(rt)
		if err != nil {
			return err
		}
		if !ran {
			return nil
		}
	}
}

// fireTimer fires a timer callback by invoking the JS-side callback map.
// Exceptions thrown by the callback are reported, not propagated, the same
// way a browser reports an uncaught error in a timer.
func (el *EventLoop) fireTimer(rt core.JSRuntime, id int) error {
	js := fmt.Sprintf(`(function() {
		var entry = globalThis.__timerCallbacks[%d];
		if (!entry) return;
		if (!entry.interval) delete globalThis.__timerCallbacks[%d];
		try {
			entry.fn.apply(null, entry.args || []);
		} catch (e) {
			if (typeof console !== 'undefined') console.error('uncaught error in timer:', String(e) + (e && e.stack ? '\n' + e.stack : ''));
		}
	})()`, id, id)
	if err := rt.Eval(js); err != nil {
		return fmt.Errorf("firing timer %d: %w", id, err)
	}
	return nil
}

// Reset clears all timers. IDs keep counting up so a stale clearTimeout
// from an earlier call cannot cancel a newer timer.
func (el *EventLoop) Reset() {
	el.mu.Lock()
	defer el.mu.Unlock()
	el.timers = make(map[int]*timerEntry)
}
