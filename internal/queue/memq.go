package queue

import (
	"context"
	"sync"
	"time"
)

var _ Queue = (*MemQ)(nil)

// MemQ is an unbounded in-process queue. Messages die with the process.
type MemQ struct {
	mu           sync.Mutex
	items        []int64
	notify       chan struct{}
	pollInterval time.Duration
}

// NewMemQ returns an empty queue whose consumers re-check at least every
// pollInterval.
func NewMemQ(pollInterval time.Duration) *MemQ {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &MemQ{
		notify:       make(chan struct{}, 1),
		pollInterval: pollInterval,
	}
}

// Publish never blocks and never fails.
func (q *MemQ) Publish(_ context.Context, jobID int64) error {
	q.mu.Lock()
	q.items = append(q.items, jobID)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

func (q *MemQ) Consume(ctx context.Context) (int64, bool) {
	timer := time.NewTimer(q.pollInterval)
	defer timer.Stop()

	for {
		if ctx.Err() != nil {
			return 0, false
		}
		if id, ok := q.pop(); ok {
			return id, true
		}
		select {
		case <-ctx.Done():
			return 0, false
		case <-q.notify:
		case <-timer.C:
			timer.Reset(q.pollInterval)
		}
	}
}

func (q *MemQ) pop() (int64, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return 0, false
	}
	id := q.items[0]
	q.items[0] = 0
	q.items = q.items[1:]
	if len(q.items) > 0 {
		// Wake another consumer for the remainder.
		select {
		case q.notify <- struct{}{}:
		default:
		}
	}
	return id, true
}

// Len reports the number of queued messages.
func (q *MemQ) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
