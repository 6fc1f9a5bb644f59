// ABOUTME: In-process registry of pending room deletions keyed by room id
// ABOUTME: Take-and-clear under one lock settles timer-versus-cancel races

package deletion

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	token  uint64
	fireAt time.Time
	timer  Timer
}

// Registry holds at most one pending deletion per room.
type Registry struct {
	mu      sync.Mutex
	clock   Clock
	entries map[string]*entry
	next    uint64
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Registry on the wall clock.
func New() *Registry {
	return NewWithClock(realClock{})
}

// NewWithClock creates a Registry driven by clock.
func NewWithClock(clock Clock) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		clock:   clock,
		entries: make(map[string]*entry),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Schedule arranges for fire to run after the delay, replacing any deletion
// already pending for roomID. fire receives a context cancelled by Close.
func (r *Registry) Schedule(roomID string, after time.Duration, fire func(context.Context)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	if prev, ok := r.entries[roomID]; ok {
		prev.timer.Stop()
	}

	r.next++
	token := r.next
	e := &entry{token: token, fireAt: r.clock.Now().Add(after)}
	e.timer = r.clock.AfterFunc(after, func() { r.fire(roomID, token, fire) })
	r.entries[roomID] = e
}

func (r *Registry) fire(roomID string, token uint64, fire func(context.Context)) {
	if !r.take(roomID, token) {
		return
	}
	defer r.wg.Done()
	fire(r.ctx)
}

// take removes the entry for roomID if it still carries token. On success the
// caller owns one wg slot.
func (r *Registry) take(roomID string, token uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[roomID]
	if r.closed || !ok || e.token != token {
		return false
	}
	delete(r.entries, roomID)
	r.wg.Add(1)
	return true
}

// Cancel removes the pending deletion for roomID. It reports whether there
// was one; cancelling twice, or after the deletion fired, returns false.
func (r *Registry) Cancel(roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[roomID]
	if !ok {
		return false
	}
	delete(r.entries, roomID)
	e.timer.Stop()
	return true
}

// Pending returns when the deletion for roomID is due.
func (r *Registry) Pending(roomID string) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[roomID]
	if !ok {
		return time.Time{}, false
	}
	return e.fireAt, true
}

// Len returns the number of pending deletions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Close drops all pending deletions and waits for running ones to return.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	for roomID, e := range r.entries {
		e.timer.Stop()
		delete(r.entries, roomID)
	}
	r.mu.Unlock()

	r.cancel()
	r.wg.Wait()
}
