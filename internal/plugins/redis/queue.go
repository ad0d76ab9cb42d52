package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"eventbuddy/internal/core/contracts"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// NotificationQueue is the outbox stream between the unread counter and the
// notification worker.
type NotificationQueue struct {
	rdb       *redis.Client
	stream    string
	maxLen    int64
	consumer  string
	claimIdle time.Duration
	block     time.Duration
	log       *slog.Logger
}

// NewNotificationQueue reads as consumer within its group. The name should be
// stable across restarts so entries this process left pending are found again;
// claimIdle is how long an unacknowledged entry waits before it is reclaimed.
func NewNotificationQueue(log *slog.Logger, rdb *redis.Client, stream string, maxLen int64, consumer string, claimIdle time.Duration) *NotificationQueue {
	if stream == "" {
		stream = "stream:notifications"
	}
	if maxLen <= 0 {
		maxLen = 10000
	}
	if consumer == "" {
		consumer = uuid.NewString()
	}
	if claimIdle <= 0 {
		claimIdle = 30 * time.Second
	}
	return &NotificationQueue{
		rdb:       rdb,
		stream:    stream,
		maxLen:    maxLen,
		consumer:  consumer,
		claimIdle: claimIdle,
		block:     2 * time.Second,
		log:       log,
	}
}

var _ contracts.NotificationQueue = (*NotificationQueue)(nil)

func (q *NotificationQueue) Publish(ctx context.Context, payload []byte) error {
	return q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		ID:     "*",
		Values: map[string]interface{}{"data": payload},
	}).Err()
}

type entryHandler func(ctx context.Context, entryID string, data []byte) error

// Subscribe reads new entries as a member of conGroup and blocks until ctx is done.
// Handler errors leave the entry pending; once it has been idle for claimIdle it
// is claimed again by whichever consumer of the group gets to it first.
func (q *NotificationQueue) Subscribe(ctx context.Context, conGroup string, handler func(ctx context.Context, entryID string, data []byte) error) error {
	// Create group if not exists
	err := q.rdb.XGroupCreateMkStream(ctx, q.stream, conGroup, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	var lastClaim time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		if time.Since(lastClaim) >= q.claimIdle {
			q.reclaim(ctx, conGroup, handler)
			lastClaim = time.Now()
		}
		// Read new entries (">")
		res, err := q.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    conGroup,
			Consumer: q.consumer,
			Streams:  []string{q.stream, ">"},
			Count:    10,
			Block:    q.block,
		}).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
				q.log.ErrorContext(ctx, "redis queue - subscribe - stream read failed", "stream", q.stream, "err", err)
				time.Sleep(100 * time.Millisecond)
			}
			continue
		}
		for _, stream := range res {
			for _, msg := range stream.Messages {
				q.handle(ctx, conGroup, msg, handler)
			}
		}
	}
}

// reclaim walks the group's pending list and takes over entries idle for at
// least claimIdle, including ones left behind by a previous run.
func (q *NotificationQueue) reclaim(ctx context.Context, conGroup string, handler entryHandler) {
	start := "0-0"
	for ctx.Err() == nil {
		msgs, next, err := q.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   q.stream,
			Group:    conGroup,
			Consumer: q.consumer,
			MinIdle:  q.claimIdle,
			Start:    start,
			Count:    10,
		}).Result()
		if err != nil {
			if ctx.Err() == nil {
				q.log.ErrorContext(ctx, "redis queue - reclaim - autoclaim failed", "stream", q.stream, "err", err)
			}
			return
		}
		for _, msg := range msgs {
			q.handle(ctx, conGroup, msg, handler)
		}
		if len(msgs) > 0 {
			q.log.InfoContext(ctx, "redis queue - reclaim - entries redelivered", "stream", q.stream, "count", len(msgs))
		}
		if next == "" || next == "0-0" {
			return
		}
		start = next
	}
}

func (q *NotificationQueue) handle(ctx context.Context, conGroup string, msg redis.XMessage, handler entryHandler) {
	raw, ok := msg.Values["data"].(string)
	if !ok {
		// Trimmed or malformed; nothing to deliver, so stop tracking it.
		q.log.WarnContext(ctx, "redis queue - subscribe - entry without data", "entry_id", msg.ID)
		if err := q.rdb.XAck(ctx, q.stream, conGroup, msg.ID).Err(); err != nil {
			q.log.WarnContext(ctx, "redis queue - subscribe - ack failed", "entry_id", msg.ID, "err", err)
		}
		return
	}
	if err := handler(ctx, msg.ID, []byte(raw)); err != nil {
		q.log.ErrorContext(ctx, "redis queue - subscribe - handler failed", "entry_id", msg.ID, "err", err)
	}
}

func (q *NotificationQueue) Acknowledge(ctx context.Context, conGroup, entryID string) error {
	return q.rdb.XAck(ctx, q.stream, conGroup, entryID).Err()
}

func (q *NotificationQueue) Delete(ctx context.Context, entryID string) error {
	return q.rdb.XDel(ctx, q.stream, entryID).Err()
}

// Len reports the number of entries still in the stream.
func (q *NotificationQueue) Len(ctx context.Context) (int64, error) {
	return q.rdb.XLen(ctx, q.stream).Result()
}
