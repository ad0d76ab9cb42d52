package memory

import (
	"context"
	"strconv"
	"sync"
	"time"

	"eventbuddy/internal/core/contracts"
)

type entry struct {
	id          string
	data        []byte
	deliveredAt time.Time
}

// Queue is a process-local notification outbox with stream-like ids. Entries stay
// until deleted, so tests can inspect what was published. An entry handed out but
// not acknowledged is offered again once redeliverAfter has passed.
type Queue struct {
	mu             sync.Mutex
	seq            int
	entries        []*entry
	acked          map[string]bool
	redeliverAfter time.Duration
	wake           chan struct{}
}

func NewQueue(redeliverAfter time.Duration) *Queue {
	if redeliverAfter <= 0 {
		redeliverAfter = 30 * time.Second
	}
	return &Queue{
		acked:          make(map[string]bool),
		redeliverAfter: redeliverAfter,
		wake:           make(chan struct{}, 1),
	}
}

var _ contracts.NotificationQueue = (*Queue)(nil)

func (q *Queue) Publish(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	q.seq++
	q.entries = append(q.entries, &entry{
		id:   strconv.Itoa(q.seq) + "-0",
		data: append([]byte(nil), payload...),
	})
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// Subscribe delivers entries in publish order until ctx is done, re-offering any
// that stay unacknowledged. The consumer group is ignored: a single process has a
// single group.
func (q *Queue) Subscribe(ctx context.Context, _ string, handler func(ctx context.Context, entryID string, data []byte) error) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		if e := q.next(); e != nil {
			_ = handler(ctx, e.id, e.data)
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-q.wake:
		case <-time.After(q.redeliverAfter):
		}
	}
}

func (q *Queue) next() *entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := time.Now()
	for _, e := range q.entries {
		if q.acked[e.id] {
			continue
		}
		if e.deliveredAt.IsZero() || now.Sub(e.deliveredAt) >= q.redeliverAfter {
			e.deliveredAt = now
			return e
		}
	}
	return nil
}

func (q *Queue) Acknowledge(_ context.Context, _ string, entryID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.acked[entryID] = true
	return nil
}

func (q *Queue) Delete(_ context.Context, entryID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, e := range q.entries {
		if e.id == entryID {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			break
		}
	}
	delete(q.acked, entryID)
	return nil
}

// Pending returns the payloads still in the queue, oldest first.
func (q *Queue) Pending() [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([][]byte, 0, len(q.entries))
	for _, e := range q.entries {
		out = append(out, e.data)
	}
	return out
}
