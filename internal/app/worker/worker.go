package worker

import (
	"context"
	"encoding/json"
	"log/slog"

	"eventbuddy/internal/core/contracts"
	"eventbuddy/internal/core/domain"
	"eventbuddy/internal/platform/metrics"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("eventbuddy/worker")

// NotificationWorker drains the notification outbox into the push sink.
type NotificationWorker struct {
	log      *slog.Logger
	queue    contracts.NotificationQueue
	sink     contracts.PushSink
	metrics  *metrics.Metrics
	conGroup string
}

func NewNotificationWorker(
	log *slog.Logger,
	queue contracts.NotificationQueue,
	sink contracts.PushSink,
	m *metrics.Metrics,
	conGroup string,
) *NotificationWorker {
	return &NotificationWorker{
		log:      log,
		queue:    queue,
		sink:     sink,
		metrics:  m,
		conGroup: conGroup,
	}
}

var _ contracts.AsyncWorker = (*NotificationWorker)(nil)

func (w *NotificationWorker) Run(ctx context.Context) error {
	w.log.InfoContext(ctx, "worker - run - subscribed to outbox", "group", w.conGroup)
	return w.queue.Subscribe(ctx, w.conGroup, w.Process)
}

// Process delivers one entry. A failed delivery stays pending in the group and the
// queue offers it again once it has sat idle; an entry that cannot be decoded is
// dropped.
func (w *NotificationWorker) Process(ctx context.Context, entryID string, raw []byte) error {
	ctx, span := tracer.Start(ctx, "NotificationWorker.Process", trace.WithAttributes(
		attribute.String("entry_id", entryID),
	))
	defer span.End()
	var n domain.Notification
	if err := json.Unmarshal(raw, &n); err != nil || n.Principal == "" {
		span.SetStatus(codes.Error, "wrong payload")
		w.log.ErrorContext(ctx, "worker - process - wrong payload", "entry_id", entryID)
		w.finish(ctx, entryID)
		return domain.ErrMalformedFrame
	}
	span.SetAttributes(attribute.String("principal", n.Principal), attribute.String("conv_id", n.ConversationID))
	if err := w.sink.Notify(ctx, n.Principal, n.ConversationID, n.Preview); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "push failed")
		w.metrics.NotificationDelivered(false)
		w.log.ErrorContext(ctx, "worker - process - push failed", "entry_id", entryID, "principal", n.Principal, "err", err)
		return err
	}
	w.metrics.NotificationDelivered(true)
	w.finish(ctx, entryID)
	w.log.DebugContext(ctx, "worker - process - delivered", "entry_id", entryID, "principal", n.Principal)
	return nil
}

// finish removes the entry from the pending list, then from the stream.
func (w *NotificationWorker) finish(ctx context.Context, entryID string) {
	if err := w.queue.Acknowledge(ctx, w.conGroup, entryID); err != nil {
		w.log.ErrorContext(ctx, "worker - process - acknowledge failed", "entry_id", entryID, "err", err)
		return
	}
	if err := w.queue.Delete(ctx, entryID); err != nil {
		w.log.ErrorContext(ctx, "worker - process - delete failed", "entry_id", entryID, "err", err)
	}
}
