package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("write without deadline")
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestNotifyKeysByPrincipal(t *testing.T) {
	w := &fakeWriter{}
	sink := NewPushSinkWithWriter(slog.New(slog.NewTextHandler(io.Discard, nil)), w, time.Second)

	require.NoError(t, sink.Notify(context.Background(), "bob", "c1", "hello"))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "bob", string(w.msgs[0].Key))

	var rec pushRecord
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &rec))
	assert.Equal(t, "c1", rec.ConversationID)
	assert.Equal(t, "hello", rec.Preview)

	require.NoError(t, sink.Close())
	assert.True(t, w.closed)
}

func TestNotifyWrapsWriterError(t *testing.T) {
	boom := errors.New("leader not available")
	sink := NewPushSinkWithWriter(slog.New(slog.NewTextHandler(io.Discard, nil)), &fakeWriter{err: boom}, time.Second)
	err := sink.Notify(context.Background(), "bob", "c1", "hello")
	assert.ErrorIs(t, err, boom)
}
