package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"eventbuddy/internal/config"
	"eventbuddy/internal/core/contracts"

	"github.com/segmentio/kafka-go"
)

// Writer is the part of *kafka.Writer the sink needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type pushRecord struct {
	Principal      string    `json:"principal"`
	ConversationID string    `json:"conversation_id"`
	Preview        string    `json:"preview"`
	SentAt         time.Time `json:"sent_at"`
}

// PushSink hands notifications to the mobile push service through a topic. Records are
// keyed by principal so one user's notifications stay ordered within a partition.
type PushSink struct {
	writer  Writer
	timeout time.Duration
	log     *slog.Logger
}

func NewPushSink(log *slog.Logger, cfg config.KafkaConfig) *PushSink {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		WriteTimeout: cfg.WriteTimeout,
	}
	return NewPushSinkWithWriter(log, w, cfg.WriteTimeout)
}

func NewPushSinkWithWriter(log *slog.Logger, w Writer, timeout time.Duration) *PushSink {
	return &PushSink{writer: w, timeout: timeout, log: log}
}

var _ contracts.PushSink = (*PushSink)(nil)

func (p *PushSink) Notify(ctx context.Context, principal, conversationID, preview string) error {
	value, err := json.Marshal(pushRecord{
		Principal:      principal,
		ConversationID: conversationID,
		Preview:        preview,
		SentAt:         time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(principal),
		Value: value,
		Time:  time.Now(),
	})
	if err != nil {
		return fmt.Errorf("kafka push: %w", err)
	}
	p.log.DebugContext(ctx, "kafka push - notify - published", "principal", principal, "conv_id", conversationID)
	return nil
}

func (p *PushSink) Close() error {
	return p.writer.Close()
}
