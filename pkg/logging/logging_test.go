package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextLogger(t *testing.T) {
	assert.Same(t, slog.Default(), FromContext(context.Background()))

	var buf bytes.Buffer
	ctx := WithContext(context.Background(), slog.New(slog.NewTextHandler(&buf, nil)))
	ctx = With(ctx, Principal("alice"), Conversation("c1"))
	FromContext(ctx).Info("ws handler - read loop - connection closed", Err(errors.New("eof")), Sequence(3))

	out := buf.String()
	assert.Contains(t, out, "principal=alice")
	assert.Contains(t, out, "conv_id=c1")
	assert.Contains(t, out, "error=eof")
	assert.Contains(t, out, "seq=3")
}
