package sctp

import (
	"sync"
	"time"
)

// timerEntry is one engine-requested timer: every timer the engine creates
// is tracked here so ForceClose/teardown can cancel every live one.
type timerEntry struct {
	name  string
	timer *time.Timer
}

// timerService owns the engine's create/start/stop/delete timeout requests.
// Expiry is delivered by submitting a closure onto the Association's event
// loop rather than calling Engine.HandleTimeout directly from the Go
// runtime's own timer goroutine, preserving the single-goroutine-owns-state
// invariant.
type timerService struct {
	mu      sync.Mutex
	timers  map[TimerID]*timerEntry
	nextID  TimerID
	onFired func(TimerID)
}

func newTimerService(onFired func(TimerID)) *timerService {
	return &timerService{timers: make(map[TimerID]*timerEntry), onFired: onFired}
}

// create registers a new, unstarted timer and returns its id.
func (t *timerService) create(name string) TimerID {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	id := t.nextID
	t.timers[id] = &timerEntry{name: name}
	return id
}

// start (re)schedules id to fire after delay, replacing any pending firing.
func (t *timerService) start(id TimerID, delay time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.timers[id]
	if !ok {
		return
	}
	if entry.timer != nil {
		entry.timer.Stop()
	}
	entry.timer = time.AfterFunc(delay, func() { t.onFired(id) })
}

// stop cancels id's pending firing without deleting the registration.
func (t *timerService) stop(id TimerID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.timers[id]
	if !ok || entry.timer == nil {
		return
	}
	entry.timer.Stop()
	entry.timer = nil
}

// delete cancels and forgets id entirely.
func (t *timerService) delete(id TimerID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if entry, ok := t.timers[id]; ok && entry.timer != nil {
		entry.timer.Stop()
	}
	delete(t.timers, id)
}

// cancelAll stops and forgets every live timer — called on association
// teardown, which walks the timer set, stops each one, and frees it.
func (t *timerService) cancelAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, entry := range t.timers {
		if entry.timer != nil {
			entry.timer.Stop()
		}
		delete(t.timers, id)
	}
}
