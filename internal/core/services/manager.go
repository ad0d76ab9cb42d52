package services

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"eventbuddy/internal/core/contracts"
	"eventbuddy/internal/core/domain"
	"eventbuddy/internal/platform/metrics"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type IManagerService interface {
	// HandleConnect binds an authenticated connection and sends the handshake.
	HandleConnect(ctx context.Context, c contracts.Client) error
	// HandleDisconnect is an implicit leave of every joined room.
	HandleDisconnect(ctx context.Context, connID string)
	// HandleHeartbeat records liveness of a connection (pong received).
	HandleHeartbeat(connID string)
	// HandleMessage decodes one inbound frame, runs it and answers with ack or error.
	HandleMessage(ctx context.Context, c contracts.Client, raw []byte)
	// Presence reports whether principal is connected and, if not, when it last was.
	Presence(ctx context.Context, principal string) (domain.PresenceResult, error)
	// Deactivate closes a conversation to writes. Only an admin may do it.
	Deactivate(ctx context.Context, principal string, convID uuid.UUID) (domain.DeactivateResult, error)
}

var tracer = otel.Tracer("eventbuddy/services")

type ManagerService struct {
	registry      contracts.Registry
	presence      contracts.PresenceTracker
	lastSeen      contracts.LastSeenStore
	conversations IConversationService
	message       IMessageService
	reactions     IReactionService
	unread        IUnreadService
	messages      domain.MessageRepository
	metrics       *metrics.Metrics
	timeout       time.Duration
	frameTimeout  time.Duration
	log           *slog.Logger
}

func NewManagerService(
	log *slog.Logger,
	registry contracts.Registry,
	presence contracts.PresenceTracker,
	lastSeen contracts.LastSeenStore,
	conversations IConversationService,
	message IMessageService,
	reactions IReactionService,
	unread IUnreadService,
	messages domain.MessageRepository,
	m *metrics.Metrics,
	timeout time.Duration,
) *ManagerService {
	return &ManagerService{
		log:           log,
		registry:      registry,
		presence:      presence,
		lastSeen:      lastSeen,
		conversations: conversations,
		message:       message,
		reactions:     reactions,
		unread:        unread,
		messages:      messages,
		metrics:       m,
		timeout:       timeout,
		// A frame may wait for the room slot and then hit storage.
		frameTimeout: 2 * timeout,
	}
}

var _ IManagerService = (*ManagerService)(nil)

func (c *ManagerService) HandleConnect(ctx context.Context, client contracts.Client) error {
	ctx, span := tracer.Start(ctx, "ManagerService.HandleConnect", trace.WithAttributes(
		attribute.String("connection_id", client.ConnectionID()),
		attribute.String("principal", client.Principal()),
	))
	defer span.End()
	if client.Principal() == "" {
		span.RecordError(domain.ErrMissingPrincipal)
		return domain.ErrMissingPrincipal
	}
	c.registry.Connect(client)
	c.reply(ctx, client, domain.HandshakeResponse{
		Type:         domain.TypeHandshake,
		ConnectionID: client.ConnectionID(),
		Principal:    client.Principal(),
	})
	span.SetStatus(codes.Ok, "connected")
	return nil
}

func (c *ManagerService) HandleDisconnect(ctx context.Context, connID string) {
	ctx, span := tracer.Start(ctx, "ManagerService.HandleDisconnect", trace.WithAttributes(
		attribute.String("connection_id", connID),
	))
	defer span.End()
	client, known := c.presence.Connection(connID)
	c.registry.Disconnect(ctx, connID)
	if !known || c.registry.IsOnline(client.Principal()) {
		return
	}
	principal := client.Principal()
	if err := persist(ctx, c.timeout, func(ctx context.Context) error {
		return c.lastSeen.Touch(ctx, principal, time.Now())
	}); err != nil {
		span.RecordError(err)
		c.log.WarnContext(ctx, "manager - handle disconnect - last seen update failed", "principal", principal, "err", err)
	}
}

func (c *ManagerService) Presence(ctx context.Context, principal string) (domain.PresenceResult, error) {
	ctx, span := tracer.Start(ctx, "ManagerService.Presence", trace.WithAttributes(
		attribute.String("principal", principal),
	))
	defer span.End()
	res := domain.PresenceResult{Principal: principal, Online: c.registry.IsOnline(principal)}
	if res.Online {
		return res, nil
	}
	var (
		at time.Time
		ok bool
	)
	err := persist(ctx, c.timeout, func(ctx context.Context) error {
		var err error
		at, ok, err = c.lastSeen.LastSeen(ctx, principal)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "last seen lookup failed")
		return domain.PresenceResult{}, err
	}
	if ok {
		res.LastSeen = &at
	}
	return res, nil
}

func (c *ManagerService) HandleHeartbeat(connID string) {
	c.presence.Touch(connID, time.Now())
}

func (c *ManagerService) HandleMessage(ctx context.Context, client contracts.Client, raw []byte) {
	ctx, span := tracer.Start(ctx, "ManagerService.HandleMessage", trace.WithAttributes(
		attribute.String("connection_id", client.ConnectionID()),
		attribute.Int("payload_size", len(raw)),
	))
	defer span.End()
	var in domain.InboundFrame
	if err := json.Unmarshal(raw, &in); err != nil || in.Type == "" {
		span.RecordError(domain.ErrMalformedFrame)
		c.log.WarnContext(ctx, "manager - handle message - wrong format", "connection_id", client.ConnectionID())
		c.reject(ctx, client, in.RequestID, domain.ErrMalformedFrame)
		return
	}
	span.SetAttributes(attribute.String("type", in.Type))
	c.metrics.Inbound(in.Type)
	c.presence.Touch(client.ConnectionID(), time.Now())

	result, err := c.run(ctx, client, in)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, in.Type+" failed")
		c.log.InfoContext(ctx, "manager - handle message - rejected", "type", in.Type, "connection_id", client.ConnectionID(), "code", domain.ErrorCode(err), "err", err)
		c.reject(ctx, client, in.RequestID, err)
		return
	}
	// Typing is fire-and-forget.
	if in.Type == domain.OpTyping {
		return
	}
	c.reply(ctx, client, domain.AckMessage{
		Type:      domain.TypeAck,
		RequestID: in.RequestID,
		Result:    result,
		Timestamp: time.Now(),
	})
}

// run bounds one frame. A wait for the room slot that outlives the frame budget
// comes back as ErrRoomBusy.
func (c *ManagerService) run(ctx context.Context, client contracts.Client, in domain.InboundFrame) (any, error) {
	if c.frameTimeout <= 0 {
		return c.dispatch(ctx, client, in)
	}
	ctx, cancel := context.WithTimeout(ctx, c.frameTimeout)
	defer cancel()
	return c.dispatch(ctx, client, in)
}

func (c *ManagerService) dispatch(ctx context.Context, client contracts.Client, in domain.InboundFrame) (any, error) {
	principal := client.Principal()
	if principal == "" {
		return nil, domain.ErrMissingPrincipal
	}
	switch in.Type {
	case domain.OpJoin:
		return c.join(ctx, client, in)
	case domain.OpLeave:
		convID, err := domain.ParseID(in.ConversationID, domain.ErrInvalidConversationID)
		if err != nil {
			return nil, err
		}
		return nil, c.registry.Leave(ctx, client.ConnectionID(), convID.String())
	case domain.OpPostMessage:
		convID, err := domain.ParseID(in.ConversationID, domain.ErrInvalidConversationID)
		if err != nil {
			return nil, err
		}
		msg, err := c.message.PostMessage(ctx, principal, convID, in.Content, in.ParentID, in.ClientMsgID)
		if err != nil {
			return nil, err
		}
		return domain.NewMessageView(msg), nil
	case domain.OpEditMessage:
		msgID, err := domain.ParseID(in.MessageID, domain.ErrInvalidMessageID)
		if err != nil {
			return nil, err
		}
		msg, err := c.message.EditMessage(ctx, principal, msgID, in.Content)
		if err != nil {
			return nil, err
		}
		return domain.NewMessageView(msg), nil
	case domain.OpDeleteMessage:
		msgID, err := domain.ParseID(in.MessageID, domain.ErrInvalidMessageID)
		if err != nil {
			return nil, err
		}
		tombstoned, err := c.message.DeleteMessage(ctx, principal, msgID)
		if err != nil {
			return nil, err
		}
		return domain.DeleteResult{MessageID: msgID.String(), Tombstoned: tombstoned}, nil
	case domain.OpToggleReaction:
		msgID, err := domain.ParseID(in.MessageID, domain.ErrInvalidMessageID)
		if err != nil {
			return nil, err
		}
		return c.reactions.ToggleReaction(ctx, principal, msgID, in.Emoji)
	case domain.OpTogglePin:
		msgID, err := domain.ParseID(in.MessageID, domain.ErrInvalidMessageID)
		if err != nil {
			return nil, err
		}
		pinned, err := c.message.TogglePin(ctx, principal, msgID)
		if err != nil {
			return nil, err
		}
		return domain.PinResult{MessageID: msgID.String(), IsPinned: pinned}, nil
	case domain.OpTyping:
		convID, err := domain.ParseID(in.ConversationID, domain.ErrInvalidConversationID)
		if err != nil {
			return nil, err
		}
		return nil, c.registry.SetTyping(ctx, client.ConnectionID(), convID.String(), in.IsTyping)
	case domain.OpMarkRead:
		convID, err := domain.ParseID(in.ConversationID, domain.ErrInvalidConversationID)
		if err != nil {
			return nil, err
		}
		count, err := c.unread.MarkRead(ctx, principal, convID, in.UptoSeq)
		if err != nil {
			return nil, err
		}
		return domain.UnreadResult{ConversationID: convID.String(), UnreadCount: count}, nil
	case domain.OpHistory:
		convID, err := domain.ParseID(in.ConversationID, domain.ErrInvalidConversationID)
		if err != nil {
			return nil, err
		}
		msgs, err := c.message.History(ctx, principal, convID, in.AfterSeq, in.Limit)
		if err != nil {
			return nil, err
		}
		return domain.NewHistoryResult(convID.String(), msgs), nil
	case domain.OpDeactivate:
		convID, err := domain.ParseID(in.ConversationID, domain.ErrInvalidConversationID)
		if err != nil {
			return nil, err
		}
		return c.Deactivate(ctx, principal, convID)
	default:
		return nil, domain.ErrUnknownEvent
	}
}

// Deactivate runs in the room slot so the state change is ordered with the
// room's message broadcasts.
func (c *ManagerService) Deactivate(ctx context.Context, principal string, convID uuid.UUID) (domain.DeactivateResult, error) {
	ctx, span := tracer.Start(ctx, "ManagerService.Deactivate", trace.WithAttributes(
		attribute.String("conv_id", convID.String()),
		attribute.String("principal", principal),
	))
	defer span.End()
	err := c.registry.Serialize(ctx, convID.String(), func(ctx context.Context) error {
		if err := c.conversations.Deactivate(ctx, convID, principal); err != nil {
			return err
		}
		c.registry.Broadcast(ctx, convID.String(), domain.ConversationStateEvent{
			Type:           domain.TypeConversationState,
			ConversationID: convID.String(),
			Active:         false,
			ChangedBy:      principal,
		})
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "deactivate failed")
		return domain.DeactivateResult{}, err
	}
	return domain.DeactivateResult{ConversationID: convID.String(), Active: false}, nil
}

// join resolves the reference (creating the conversation on first use), admits the
// connection to the room and returns the conversation with the caller's unread state.
func (c *ManagerService) join(ctx context.Context, client contracts.Client, in domain.InboundFrame) (domain.ConversationView, error) {
	conv, err := c.conversations.Resolve(ctx, client.Principal(), domain.ConversationRef{
		ConversationID: in.ConversationID,
		EventID:        in.EventID,
		PeerID:         in.PeerID,
	})
	if err != nil {
		return domain.ConversationView{}, err
	}
	if err := c.registry.Join(ctx, client.ConnectionID(), conv.ID.String()); err != nil {
		return domain.ConversationView{}, err
	}
	view := domain.NewConversationView(conv)
	if err := persist(ctx, c.timeout, func(ctx context.Context) error {
		var err error
		view.LastSeq, err = c.messages.LastSeq(ctx, conv.ID)
		return err
	}); err != nil {
		c.log.WarnContext(ctx, "manager - join - last seq failed", "conv_id", conv.ID, "err", err)
	}
	if count, _, err := c.unread.UnreadCount(ctx, client.Principal(), conv.ID); err == nil {
		view.UnreadCount = count
	}
	c.log.InfoContext(ctx, "manager - join - success", "conv_id", conv.ID, "connection_id", client.ConnectionID(), "kind", conv.Kind)
	return view, nil
}

func (c *ManagerService) reject(ctx context.Context, client contracts.Client, requestID string, err error) {
	code := domain.ErrorCode(err)
	c.metrics.Rejected(code)
	msg := err.Error()
	if code == domain.CodeInternal {
		msg = "internal error"
	}
	c.reply(ctx, client, domain.ErrorMessage{
		Type:      domain.TypeError,
		RequestID: requestID,
		Code:      code,
		Message:   msg,
		Retryable: domain.Retryable(err),
	})
}

func (c *ManagerService) reply(ctx context.Context, client contracts.Client, frame any) {
	data, err := json.Marshal(frame)
	if err != nil {
		c.log.ErrorContext(ctx, "manager - reply - marshal failed", "connection_id", client.ConnectionID(), "err", err)
		return
	}
	err = client.Send(ctx, data)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrSlowConsumer):
		c.metrics.SlowConsumer()
		c.log.WarnContext(ctx, "manager - reply - slow consumer dropped", "connection_id", client.ConnectionID())
		client.Close()
	default:
		c.log.DebugContext(ctx, "manager - reply - send failed", "connection_id", client.ConnectionID(), "err", err)
	}
}
