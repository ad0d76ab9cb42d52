package redis

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T) *redis.Client {
	t.Helper()
	srv := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestNotificationQueueRoundTrip(t *testing.T) {
	rdb := newClient(t)
	q := NewNotificationQueue(slog.New(slog.NewTextHandler(io.Discard, nil)), rdb, "stream:test", 100, "worker-1", 0)
	q.block = 50 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, q.Publish(ctx, []byte(`{"principal":"bob"}`)))
	require.NoError(t, q.Publish(ctx, []byte(`{"principal":"carol"}`)))

	got := make(chan string, 2)
	done := make(chan error, 1)
	go func() {
		done <- q.Subscribe(ctx, "notifier", func(ctx context.Context, id string, data []byte) error {
			got <- string(data)
			if err := q.Acknowledge(ctx, "notifier", id); err != nil {
				return err
			}
			return q.Delete(ctx, id)
		})
	}()

	assert.Equal(t, `{"principal":"bob"}`, <-got)
	assert.Equal(t, `{"principal":"carol"}`, <-got)
	assert.Eventually(t, func() bool {
		n, err := q.Len(context.Background())
		return err == nil && n == 0
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("subscribe did not stop")
	}
}

func TestSubscribeToleratesExistingGroup(t *testing.T) {
	rdb := newClient(t)
	q := NewNotificationQueue(slog.New(slog.NewTextHandler(io.Discard, nil)), rdb, "", 0, "", 0)
	q.block = 20 * time.Millisecond
	require.NoError(t, rdb.XGroupCreateMkStream(context.Background(), q.stream, "notifier", "0").Err())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := q.Subscribe(ctx, "notifier", func(context.Context, string, []byte) error { return nil })
	assert.NoError(t, err)
}

func TestFailedEntryIsClaimedAfterRestart(t *testing.T) {
	rdb := newClient(t)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	first := NewNotificationQueue(log, rdb, "stream:test", 100, "worker-1", time.Millisecond)
	first.block = 20 * time.Millisecond
	require.NoError(t, first.Publish(context.Background(), []byte(`{"principal":"bob"}`)))

	failCtx, stop := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer stop()
	require.NoError(t, first.Subscribe(failCtx, "notifier", func(context.Context, string, []byte) error {
		return assert.AnError
	}))
	pending, err := rdb.XPending(context.Background(), "stream:test", "notifier").Result()
	require.NoError(t, err)
	require.EqualValues(t, 1, pending.Count)

	// A replacement process under another name still finds the stranded entry.
	second := NewNotificationQueue(log, rdb, "stream:test", 100, "worker-2", time.Millisecond)
	second.block = 20 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := make(chan string, 1)
	done := make(chan error, 1)
	go func() {
		done <- second.Subscribe(ctx, "notifier", func(ctx context.Context, id string, data []byte) error {
			select {
			case got <- string(data):
			default:
			}
			if err := second.Acknowledge(ctx, "notifier", id); err != nil {
				return err
			}
			return second.Delete(ctx, id)
		})
	}()

	select {
	case data := <-got:
		assert.Equal(t, `{"principal":"bob"}`, data)
	case <-time.After(2 * time.Second):
		t.Fatal("pending entry was never redelivered")
	}
	assert.Eventually(t, func() bool {
		n, err := second.Len(context.Background())
		if err != nil || n != 0 {
			return false
		}
		p, err := rdb.XPending(context.Background(), "stream:test", "notifier").Result()
		return err == nil && p.Count == 0
	}, time.Second, 10*time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}

func TestLastSeenStore(t *testing.T) {
	store := NewLastSeenStore(newClient(t))
	ctx := context.Background()

	_, ok, err := store.LastSeen(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, ok)

	at := time.Unix(1_700_000_000, 0)
	require.NoError(t, store.Touch(ctx, "alice", at))
	seen, ok, err := store.LastSeen(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, at.Equal(seen))
}
