package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"eventbuddy/internal/core/domain"
)

// DefaultPersistTimeout bounds every storage call made by the services.
const DefaultPersistTimeout = 5 * time.Second

// persist runs fn with a bounded deadline. A deadline hit surfaces as a retryable
// ErrPersistenceTimeout; cancellation by the caller is passed through unchanged.
func persist(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		timeout = DefaultPersistTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err := fn(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrPersistenceTimeout, err)
	}
	return err
}
