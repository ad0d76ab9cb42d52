package services

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"eventbuddy/internal/core/contracts"
	"eventbuddy/internal/core/domain"
	"eventbuddy/internal/platform/metrics"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type IUnreadService interface {
	// OnMessagePosted pushes fresh unread counts to online participants and queues
	// a push notification for participants who are not in the room. Best effort.
	OnMessagePosted(ctx context.Context, conv *domain.Conversation, msg *domain.Message)
	// MarkRead advances the caller's watermark (never backwards) and returns the unread count.
	MarkRead(ctx context.Context, principal string, convID uuid.UUID, uptoSeq int64) (int64, error)
	UnreadCount(ctx context.Context, principal string, convID uuid.UUID) (count, lastRead int64, err error)
}

type UnreadService struct {
	registry      contracts.Registry
	conversations IConversationService
	messages      domain.MessageRepository
	receipts      domain.ReadReceiptRepository
	queue         contracts.NotificationQueue
	metrics       *metrics.Metrics
	timeout       time.Duration
	log           *slog.Logger
}

func NewUnreadService(
	log *slog.Logger,
	registry contracts.Registry,
	conversations IConversationService,
	messages domain.MessageRepository,
	receipts domain.ReadReceiptRepository,
	queue contracts.NotificationQueue,
	m *metrics.Metrics,
	timeout time.Duration,
) *UnreadService {
	return &UnreadService{
		log:           log,
		registry:      registry,
		conversations: conversations,
		messages:      messages,
		receipts:      receipts,
		queue:         queue,
		metrics:       m,
		timeout:       timeout,
	}
}

var _ IUnreadService = (*UnreadService)(nil)

func (u *UnreadService) OnMessagePosted(ctx context.Context, conv *domain.Conversation, msg *domain.Message) {
	ctx, span := tracer.Start(ctx, "UnreadService.OnMessagePosted", trace.WithAttributes(
		attribute.String("conv_id", conv.ID.String()),
		attribute.Int64("seq", msg.Seq),
	))
	defer span.End()
	participants, err := u.conversations.Participants(ctx, conv)
	if err != nil {
		span.RecordError(err)
		u.log.ErrorContext(ctx, "unread - on message posted - participants lookup failed", "conv_id", conv.ID, "err", err)
		return
	}
	preview := domain.Preview(msg.Content)
	queued := 0
	for _, p := range participants {
		if p == msg.AuthorID {
			continue
		}
		if u.registry.IsOnline(p) {
			count, lastRead, err := u.count(ctx, conv.ID, p)
			if err != nil {
				u.log.WarnContext(ctx, "unread - on message posted - count failed", "conv_id", conv.ID, "principal", p, "err", err)
			} else {
				u.registry.SendTo(ctx, p, domain.UnreadEvent{
					Type:           domain.TypeUnreadCountChanged,
					ConversationID: conv.ID.String(),
					UnreadCount:    count,
					LastReadSeq:    lastRead,
					LastSeq:        msg.Seq,
				})
			}
		}
		if u.registry.InRoom(p, conv.ID.String()) {
			continue
		}
		if err := u.enqueue(ctx, domain.Notification{
			Principal:      p,
			ConversationID: conv.ID.String(),
			MessageID:      msg.ID.String(),
			Preview:        preview,
			CreatedAt:      msg.CreatedAt,
		}); err != nil {
			span.RecordError(err)
			u.log.ErrorContext(ctx, "unread - on message posted - enqueue notification failed", "conv_id", conv.ID, "principal", p, "err", err)
			continue
		}
		queued++
	}
	span.SetAttributes(attribute.Int("notifications", queued))
	u.log.DebugContext(ctx, "unread - on message posted - done", "conv_id", conv.ID, "seq", msg.Seq, "notifications", queued)
}

func (u *UnreadService) enqueue(ctx context.Context, n domain.Notification) error {
	raw, err := json.Marshal(n)
	if err != nil {
		return err
	}
	if err := u.queue.Publish(ctx, raw); err != nil {
		return err
	}
	u.metrics.NotificationQueued()
	return nil
}

func (u *UnreadService) MarkRead(ctx context.Context, principal string, convID uuid.UUID, uptoSeq int64) (int64, error) {
	ctx, span := tracer.Start(ctx, "UnreadService.MarkRead", trace.WithAttributes(
		attribute.String("conv_id", convID.String()),
		attribute.Int64("upto_seq", uptoSeq),
	))
	defer span.End()
	if uptoSeq < 0 {
		span.RecordError(domain.ErrInvalidWatermark)
		return 0, domain.ErrInvalidWatermark
	}
	conv, err := u.conversations.Get(ctx, convID)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	if err := u.conversations.Authorize(conv, principal); err != nil {
		span.RecordError(err)
		return 0, err
	}
	var watermark, count, last int64
	if err := persist(ctx, u.timeout, func(ctx context.Context) error {
		var err error
		if last, err = u.messages.LastSeq(ctx, convID); err != nil {
			return err
		}
		if uptoSeq > last {
			uptoSeq = last
		}
		if watermark, err = u.receipts.AdvanceWatermark(ctx, convID, principal, uptoSeq); err != nil {
			return err
		}
		count, err = u.messages.CountUnread(ctx, convID, principal, watermark)
		return err
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "mark read failed")
		u.log.ErrorContext(ctx, "unread - mark read - failed", "conv_id", convID, "principal", principal, "err", err)
		return 0, err
	}
	// Every device of the reader converges on the same count.
	u.registry.SendTo(ctx, principal, domain.UnreadEvent{
		Type:           domain.TypeUnreadCountChanged,
		ConversationID: convID.String(),
		UnreadCount:    count,
		LastReadSeq:    watermark,
		LastSeq:        last,
	})
	if conv.Kind == domain.KindDirect {
		u.registry.Broadcast(ctx, convID.String(), domain.ReadReceiptEvent{
			Type:           domain.TypeReadReceipt,
			ConversationID: convID.String(),
			Principal:      principal,
			LastReadSeq:    watermark,
		})
	}
	u.log.InfoContext(ctx, "unread - mark read - success", "conv_id", convID, "principal", principal, "watermark", watermark, "unread", count)
	return count, nil
}

func (u *UnreadService) UnreadCount(ctx context.Context, principal string, convID uuid.UUID) (int64, int64, error) {
	conv, err := u.conversations.Get(ctx, convID)
	if err != nil {
		return 0, 0, err
	}
	if err := u.conversations.Authorize(conv, principal); err != nil {
		return 0, 0, err
	}
	return u.count(ctx, convID, principal)
}

func (u *UnreadService) count(ctx context.Context, convID uuid.UUID, principal string) (int64, int64, error) {
	var count, lastRead int64
	err := persist(ctx, u.timeout, func(ctx context.Context) error {
		var err error
		if lastRead, err = u.receipts.GetWatermark(ctx, convID, principal); err != nil {
			return err
		}
		count, err = u.messages.CountUnread(ctx, convID, principal, lastRead)
		return err
	})
	return count, lastRead, err
}
