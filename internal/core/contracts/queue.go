package contracts

import (
	"context"
)

// NotificationQueue is the outbox between the core and the push sink.
type NotificationQueue interface {
	// Producer side (unread counter)
	Publish(ctx context.Context, payload []byte) error
	// Consumer side (notification worker)
	Subscribe(ctx context.Context, conGroup string, handler func(ctx context.Context, entryID string, data []byte) error) error
	// Acknowledge removes the entry from the group's pending list.
	Acknowledge(ctx context.Context, conGroup, entryID string) error
	// Delete removes the entry from the stream.
	Delete(ctx context.Context, entryID string) error
}
