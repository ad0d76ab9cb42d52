package memory

import (
	"context"
	"log/slog"
	"sync"

	"eventbuddy/internal/core/contracts"
)

type Push struct {
	Principal      string
	ConversationID string
	Preview        string
}

// PushSink records notifications instead of delivering them.
type PushSink struct {
	// Fail, when set, is returned by Notify and nothing is recorded.
	Fail error

	mu     sync.Mutex
	sent   []Push
	record bool
	log    *slog.Logger
}

func NewPushSink(log *slog.Logger) *PushSink {
	return &PushSink{log: log, record: true}
}

// NewLogPushSink only logs each notification at info level. It backs PUSH_SINK=log.
func NewLogPushSink(log *slog.Logger) *PushSink {
	return &PushSink{log: log}
}

var _ contracts.PushSink = (*PushSink)(nil)

func (p *PushSink) Notify(ctx context.Context, principal, conversationID, preview string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Fail != nil {
		return p.Fail
	}
	if p.record {
		p.sent = append(p.sent, Push{Principal: principal, ConversationID: conversationID, Preview: preview})
	}
	if p.log != nil {
		p.log.InfoContext(ctx, "push sink - notify - recorded", "principal", principal, "conv_id", conversationID)
	}
	return nil
}

func (p *PushSink) Sent() []Push {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Push(nil), p.sent...)
}
