package worker

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"eventbuddy/internal/core/domain"
	"eventbuddy/internal/plugins/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func publish(t *testing.T, q *memory.Queue, n domain.Notification) {
	t.Helper()
	raw, err := json.Marshal(n)
	require.NoError(t, err)
	require.NoError(t, q.Publish(context.Background(), raw))
}

func TestRunDeliversAndDrainsOutbox(t *testing.T) {
	q := memory.NewQueue(0)
	sink := memory.NewPushSink(nil)
	w := NewNotificationWorker(slog.New(slog.NewTextHandler(io.Discard, nil)), q, sink, nil, "notifier")

	publish(t, q, domain.Notification{Principal: "bob", ConversationID: "c1", Preview: "hello"})
	publish(t, q, domain.Notification{Principal: "carol", ConversationID: "c1", Preview: "hi"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	assert.Eventually(t, func() bool { return len(q.Pending()) == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, []memory.Push{
		{Principal: "bob", ConversationID: "c1", Preview: "hello"},
		{Principal: "carol", ConversationID: "c1", Preview: "hi"},
	}, sink.Sent())
}

func TestProcessKeepsEntryWhenPushFails(t *testing.T) {
	q := memory.NewQueue(0)
	sink := memory.NewPushSink(nil)
	sink.Fail = assert.AnError
	w := NewNotificationWorker(slog.New(slog.NewTextHandler(io.Discard, nil)), q, sink, nil, "notifier")
	publish(t, q, domain.Notification{Principal: "bob", ConversationID: "c1", Preview: "hello"})

	err := w.Process(context.Background(), "1-0", q.Pending()[0])
	assert.ErrorIs(t, err, assert.AnError)
	assert.Len(t, q.Pending(), 1)
}

func TestFailedPushIsDeliveredAfterRestart(t *testing.T) {
	q := memory.NewQueue(10 * time.Millisecond)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	publish(t, q, domain.Notification{Principal: "bob", ConversationID: "c1", Preview: "hello"})

	broken := memory.NewPushSink(nil)
	broken.Fail = assert.AnError
	ctx, stop := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer stop()
	require.NoError(t, NewNotificationWorker(log, q, broken, nil, "notifier").Run(ctx))
	require.Len(t, q.Pending(), 1)

	healthy := memory.NewPushSink(nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewNotificationWorker(log, q, healthy, nil, "notifier").Run(ctx) }()

	assert.Eventually(t, func() bool { return len(q.Pending()) == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, []memory.Push{{Principal: "bob", ConversationID: "c1", Preview: "hello"}}, healthy.Sent())
}

func TestProcessDropsUndecodableEntry(t *testing.T) {
	q := memory.NewQueue(0)
	w := NewNotificationWorker(slog.New(slog.NewTextHandler(io.Discard, nil)), q, memory.NewPushSink(nil), nil, "notifier")
	require.NoError(t, q.Publish(context.Background(), []byte("{oops")))

	err := w.Process(context.Background(), "1-0", []byte("{oops"))
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Empty(t, q.Pending())
}
