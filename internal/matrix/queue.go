// ABOUTME: Per-room ordered work queues for inbound Matrix events
// ABOUTME: One worker per active room, retired after a quiet period

package matrix

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

const (
	queueDepth = 64
	queueIdle  = time.Minute
)

// roomQueues runs jobs for the same room one at a time, in submission order.
type roomQueues struct {
	mu     sync.Mutex
	queues map[string]chan func()
	idle   time.Duration
	wg     sync.WaitGroup
	logger *slog.Logger
}

func newRoomQueues(logger *slog.Logger) *roomQueues {
	return &roomQueues{queues: map[string]chan func(){}, idle: queueIdle, logger: logger}
}

// enqueue submits job for room. It blocks while the room's queue is full and
// drops the job once ctx is done.
func (q *roomQueues) enqueue(ctx context.Context, room string, job func()) {
	q.mu.Lock()
	defer q.mu.Unlock()

	ch, ok := q.queues[room]
	if !ok {
		ch = make(chan func(), queueDepth)
		q.queues[room] = ch
		q.wg.Add(1)
		go q.drain(ctx, room, ch)
	}
	select {
	case ch <- job:
	case <-ctx.Done():
	}
}

func (q *roomQueues) drain(ctx context.Context, room string, ch chan func()) {
	defer q.wg.Done()
	for {
		select {
		case job := <-ch:
			q.run(room, job)
		case <-time.After(q.idle):
			// Retire only if nothing slipped in; enqueue holds mu while sending.
			q.mu.Lock()
			if len(ch) == 0 {
				delete(q.queues, room)
				q.mu.Unlock()
				return
			}
			q.mu.Unlock()
		case <-ctx.Done():
			return
		}
	}
}

// run executes one job. A panicking job is logged and dropped so the room's
// worker, and the process, keep going.
func (q *roomQueues) run(room string, job func()) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("invariant violation in room job", "room", room, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	job()
}

// wait blocks until every worker has exited. Callers cancel ctx first.
func (q *roomQueues) wait() {
	q.wg.Wait()
}
