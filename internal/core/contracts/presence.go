package contracts

import (
	"context"
	"time"
)

// LastSeenStore remembers when a principal was last connected.
type LastSeenStore interface {
	Touch(ctx context.Context, principal string, at time.Time) error
	LastSeen(ctx context.Context, principal string) (at time.Time, ok bool, err error)
}
