package services

import (
	"context"
	"errors"
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

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

type IMessageService interface {
	// PostMessage validates, assigns the next sequence, persists and then broadcasts
	// message_created. A repeated clientMsgID returns the stored message unchanged.
	PostMessage(ctx context.Context, author string, convID uuid.UUID, content, parentID, clientMsgID string) (*domain.Message, error)
	// EditMessage is author-only; identical content is a no-op.
	EditMessage(ctx context.Context, requester string, msgID uuid.UUID, content string) (*domain.Message, error)
	// DeleteMessage tombstones a message that has replies and removes it otherwise.
	DeleteMessage(ctx context.Context, requester string, msgID uuid.UUID) (tombstoned bool, err error)
	// TogglePin flips the pinned flag and returns the new value. Admin only.
	TogglePin(ctx context.Context, requester string, msgID uuid.UUID) (bool, error)
	// History returns messages with seq > afterSeq in sequence order.
	History(ctx context.Context, requester string, convID uuid.UUID, afterSeq int64, limit int) ([]domain.Message, error)
}

type MessageService struct {
	registry      contracts.Registry
	conversations IConversationService
	unread        IUnreadService
	Repo          domain.MessageRepository
	txManager     domain.Transactor
	metrics       *metrics.Metrics
	timeout       time.Duration
	log           *slog.Logger
}

func NewMessageService(
	log *slog.Logger,
	registry contracts.Registry,
	conversations IConversationService,
	unread IUnreadService,
	repo domain.MessageRepository,
	txManager domain.Transactor,
	m *metrics.Metrics,
	timeout time.Duration,
) *MessageService {
	return &MessageService{
		log:           log,
		registry:      registry,
		conversations: conversations,
		unread:        unread,
		Repo:          repo,
		txManager:     txManager,
		metrics:       m,
		timeout:       timeout,
	}
}

var _ IMessageService = (*MessageService)(nil)

func (w *MessageService) PostMessage(
	ctx context.Context,
	author string,
	convID uuid.UUID,
	content, parentID, clientMsgID string,
) (*domain.Message, error) {
	ctx, span := tracer.Start(ctx, "MessageService.PostMessage", trace.WithAttributes(
		attribute.String("conv_id", convID.String()),
		attribute.String("author", author),
	))
	defer span.End()
	if err := domain.ValidateContent(content); err != nil {
		span.RecordError(err)
		return nil, err
	}
	var parent *uuid.UUID
	if parentID != "" {
		id, err := domain.ParseID(parentID, domain.ErrInvalidParent)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		parent = &id
	}
	conv, err := w.conversations.Get(ctx, convID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if err := w.conversations.AuthorizeWrite(conv, author); err != nil {
		span.RecordError(err)
		return nil, err
	}

	var msg *domain.Message
	duplicate := false
	err = w.registry.Serialize(ctx, convID.String(), func(ctx context.Context) error {
		if clientMsgID != "" {
			existing, err := w.findByClientMsgID(ctx, convID, author, clientMsgID)
			if err != nil {
				return err
			}
			if existing != nil {
				msg, duplicate = existing, true
				return nil
			}
		}
		if parent != nil {
			if err := w.checkParent(ctx, convID, *parent); err != nil {
				return err
			}
		}
		now := time.Now()
		candidate := &domain.Message{
			ID:             uuid.New(),
			ConversationID: convID,
			AuthorID:       author,
			ClientMsgID:    clientMsgID,
			Content:        content,
			ParentID:       parent,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		var seq int64
		if err := persist(ctx, w.timeout, func(ctx context.Context) error {
			return w.txManager.WithTx(ctx, func(txCtx context.Context) error {
				var txErr error
				seq, txErr = w.Repo.SaveWithSequence(txCtx, candidate)
				return txErr
			})
		}); err != nil {
			return err
		}
		candidate.Seq = seq
		msg = candidate
		w.registry.Broadcast(ctx, convID.String(), domain.MessageEvent{
			Type:    domain.TypeMessageCreated,
			Message: domain.NewMessageView(msg),
		})
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "post message failed")
		w.log.ErrorContext(ctx, "messages - post message - failed", "conv_id", convID, "author", author, "err", err)
		return nil, err
	}
	span.SetAttributes(attribute.Int64("seq", msg.Seq), attribute.Bool("duplicate", duplicate))
	if duplicate {
		w.log.InfoContext(ctx, "messages - post message - duplicate client_msg_id", "conv_id", convID, "seq", msg.Seq, "client_msg_id", clientMsgID)
		return msg, nil
	}
	w.log.InfoContext(ctx, "messages - post message - success", "conv_id", convID, "seq", msg.Seq, "author", author)
	w.metrics.MessagePosted(string(conv.Kind))
	w.unread.OnMessagePosted(ctx, conv, msg)
	return msg, nil
}

func (w *MessageService) findByClientMsgID(ctx context.Context, convID uuid.UUID, author, clientMsgID string) (*domain.Message, error) {
	var existing *domain.Message
	err := persist(ctx, w.timeout, func(ctx context.Context) error {
		var err error
		existing, err = w.Repo.FindByClientMsgID(ctx, convID, author, clientMsgID)
		return err
	})
	if errors.Is(err, domain.ErrMessageNotFound) {
		return nil, nil
	}
	return existing, err
}

// checkParent enforces single-level replies inside one conversation.
func (w *MessageService) checkParent(ctx context.Context, convID, parentID uuid.UUID) error {
	parent, err := w.getMessage(ctx, parentID)
	if errors.Is(err, domain.ErrMessageNotFound) {
		return domain.ErrInvalidParent
	}
	if err != nil {
		return err
	}
	if parent.ConversationID != convID || parent.IsReply() {
		return domain.ErrInvalidParent
	}
	return nil
}

func (w *MessageService) getMessage(ctx context.Context, msgID uuid.UUID) (*domain.Message, error) {
	var msg *domain.Message
	err := persist(ctx, w.timeout, func(ctx context.Context) error {
		var err error
		msg, err = w.Repo.GetMessage(ctx, msgID)
		return err
	})
	return msg, err
}

// locate loads the message and its conversation and checks write access.
func (w *MessageService) locate(ctx context.Context, requester string, msgID uuid.UUID) (*domain.Message, *domain.Conversation, error) {
	msg, err := w.getMessage(ctx, msgID)
	if err != nil {
		return nil, nil, err
	}
	conv, err := w.conversations.Get(ctx, msg.ConversationID)
	if err != nil {
		return nil, nil, err
	}
	if err := w.conversations.AuthorizeWrite(conv, requester); err != nil {
		return nil, nil, err
	}
	return msg, conv, nil
}

func (w *MessageService) EditMessage(
	ctx context.Context,
	requester string,
	msgID uuid.UUID,
	content string,
) (*domain.Message, error) {
	ctx, span := tracer.Start(ctx, "MessageService.EditMessage", trace.WithAttributes(
		attribute.String("message_id", msgID.String()),
	))
	defer span.End()
	if err := domain.ValidateContent(content); err != nil {
		span.RecordError(err)
		return nil, err
	}
	msg, conv, err := w.locate(ctx, requester, msgID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if msg.AuthorID != requester {
		span.RecordError(domain.ErrNotAuthor)
		return nil, domain.ErrNotAuthor
	}
	var out *domain.Message
	err = w.registry.Serialize(ctx, conv.ID.String(), func(ctx context.Context) error {
		current, err := w.getMessage(ctx, msgID)
		if err != nil {
			return err
		}
		if current.IsDeleted {
			return domain.ErrMessageDeleted
		}
		if current.Content == content {
			out = current
			return nil
		}
		now := time.Now()
		prior := domain.Edit{Content: current.Content, EditedAt: now}
		if err := persist(ctx, w.timeout, func(ctx context.Context) error {
			return w.Repo.UpdateContent(ctx, msgID, content, prior)
		}); err != nil {
			return err
		}
		current.EditHistory = append(current.EditHistory, prior)
		current.Content = content
		current.IsEdited = true
		current.UpdatedAt = now
		out = current
		w.registry.Broadcast(ctx, conv.ID.String(), domain.MessageEvent{
			Type:    domain.TypeMessageUpdated,
			Message: domain.NewMessageView(current),
		})
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "edit message failed")
		w.log.ErrorContext(ctx, "messages - edit message - failed", "message_id", msgID, "err", err)
		return nil, err
	}
	w.log.InfoContext(ctx, "messages - edit message - success", "message_id", msgID, "edits", len(out.EditHistory))
	return out, nil
}

func (w *MessageService) DeleteMessage(ctx context.Context, requester string, msgID uuid.UUID) (bool, error) {
	ctx, span := tracer.Start(ctx, "MessageService.DeleteMessage", trace.WithAttributes(
		attribute.String("message_id", msgID.String()),
	))
	defer span.End()
	msg, conv, err := w.locate(ctx, requester, msgID)
	if err != nil {
		span.RecordError(err)
		return false, err
	}
	// Direct conversations have no moderator: only the author deletes. The author
	// never changes, so the organizer lookup stays outside the room slot.
	if msg.AuthorID != requester {
		if conv.Kind == domain.KindDirect {
			span.RecordError(domain.ErrNotAuthor)
			return false, domain.ErrNotAuthor
		}
		admin, err := w.conversations.IsAdmin(ctx, conv, requester)
		if err != nil {
			span.RecordError(err)
			return false, err
		}
		if !admin {
			span.RecordError(domain.ErrNotAuthor)
			return false, domain.ErrNotAuthor
		}
	}
	tombstoned := false
	err = w.registry.Serialize(ctx, conv.ID.String(), func(ctx context.Context) error {
		current, err := w.getMessage(ctx, msgID)
		if err != nil {
			return err
		}
		if current.IsDeleted {
			tombstoned = true
			return nil
		}
		var hasReplies bool
		if err := persist(ctx, w.timeout, func(ctx context.Context) error {
			return w.txManager.WithTx(ctx, func(txCtx context.Context) error {
				var txErr error
				if hasReplies, txErr = w.Repo.HasReplies(txCtx, msgID); txErr != nil {
					return txErr
				}
				if hasReplies {
					return w.Repo.SoftDelete(txCtx, msgID)
				}
				return w.Repo.DeleteMessage(txCtx, msgID)
			})
		}); err != nil {
			return err
		}
		tombstoned = hasReplies
		w.registry.Broadcast(ctx, conv.ID.String(), domain.MessageDeletedEvent{
			Type:           domain.TypeMessageDeleted,
			ConversationID: conv.ID.String(),
			MessageID:      msgID.String(),
			Seq:            current.Seq,
			Tombstoned:     hasReplies,
		})
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delete message failed")
		w.log.ErrorContext(ctx, "messages - delete message - failed", "message_id", msgID, "err", err)
		return false, err
	}
	w.log.InfoContext(ctx, "messages - delete message - success", "message_id", msgID, "tombstoned", tombstoned)
	return tombstoned, nil
}

func (w *MessageService) TogglePin(ctx context.Context, requester string, msgID uuid.UUID) (bool, error) {
	ctx, span := tracer.Start(ctx, "MessageService.TogglePin", trace.WithAttributes(
		attribute.String("message_id", msgID.String()),
	))
	defer span.End()
	_, conv, err := w.locate(ctx, requester, msgID)
	if err != nil {
		span.RecordError(err)
		return false, err
	}
	admin, err := w.conversations.IsAdmin(ctx, conv, requester)
	if err != nil {
		span.RecordError(err)
		return false, err
	}
	if !admin {
		span.RecordError(domain.ErrNotAdmin)
		return false, domain.ErrNotAdmin
	}
	var pinned bool
	err = w.registry.Serialize(ctx, conv.ID.String(), func(ctx context.Context) error {
		current, err := w.getMessage(ctx, msgID)
		if err != nil {
			return err
		}
		if current.IsDeleted {
			return domain.ErrMessageDeleted
		}
		pinned = !current.IsPinned
		if err := persist(ctx, w.timeout, func(ctx context.Context) error {
			return w.Repo.SetPinned(ctx, msgID, pinned)
		}); err != nil {
			return err
		}
		current.IsPinned = pinned
		w.registry.Broadcast(ctx, conv.ID.String(), domain.MessageEvent{
			Type:    domain.TypeMessageUpdated,
			Message: domain.NewMessageView(current),
		})
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "toggle pin failed")
		w.log.ErrorContext(ctx, "messages - toggle pin - failed", "message_id", msgID, "err", err)
		return false, err
	}
	w.log.InfoContext(ctx, "messages - toggle pin - success", "message_id", msgID, "pinned", pinned)
	return pinned, nil
}

func (m *MessageService) History(
	ctx context.Context,
	requester string,
	convID uuid.UUID,
	afterSeq int64,
	limit int,
) ([]domain.Message, error) {
	ctx, span := tracer.Start(ctx, "MessageService.History", trace.WithAttributes(
		attribute.String("conv_id", convID.String()),
		attribute.Int64("after_seq", afterSeq),
	))
	defer span.End()
	if afterSeq < 0 {
		afterSeq = 0
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	conv, err := m.conversations.Get(ctx, convID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if err := m.conversations.Authorize(conv, requester); err != nil {
		span.RecordError(err)
		return nil, err
	}
	var msgs []domain.Message
	if err := persist(ctx, m.timeout, func(ctx context.Context) error {
		var err error
		msgs, err = m.Repo.ListMessages(ctx, convID, afterSeq, limit)
		return err
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "db read failed")
		m.log.ErrorContext(ctx, "messages - history - list messages failed", "conv_id", convID, "err", err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("message_count", len(msgs)))
	m.log.InfoContext(ctx, "messages - history - list messages success", "conv_id", convID, "len_messages", len(msgs))
	return msgs, nil
}
