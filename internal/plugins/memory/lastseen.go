package memory

import (
	"context"
	"sync"
	"time"

	"eventbuddy/internal/core/contracts"
)

// LastSeen is the process-local last-seen store used with STORE_BACKEND=memory.
type LastSeen struct {
	mu   sync.RWMutex
	seen map[string]time.Time
}

func NewLastSeen() *LastSeen {
	return &LastSeen{seen: make(map[string]time.Time)}
}

var _ contracts.LastSeenStore = (*LastSeen)(nil)

func (l *LastSeen) Touch(_ context.Context, principal string, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if prev, ok := l.seen[principal]; !ok || at.After(prev) {
		l.seen[principal] = at
	}
	return nil
}

func (l *LastSeen) LastSeen(_ context.Context, principal string) (time.Time, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	at, ok := l.seen[principal]
	return at, ok, nil
}
