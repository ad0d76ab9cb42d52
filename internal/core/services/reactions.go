package services

import (
	"context"
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

type IReactionService interface {
	// ToggleReaction adds principal to the emoji's user set or removes it when present,
	// then broadcasts the recomputed state.
	ToggleReaction(ctx context.Context, principal string, msgID uuid.UUID, emoji string) (domain.ReactionState, error)
}

type ReactionService struct {
	registry      contracts.Registry
	conversations IConversationService
	messages      domain.MessageRepository
	Repo          domain.ReactionRepository
	txManager     domain.Transactor
	metrics       *metrics.Metrics
	timeout       time.Duration
	log           *slog.Logger
}

func NewReactionService(
	log *slog.Logger,
	registry contracts.Registry,
	conversations IConversationService,
	messages domain.MessageRepository,
	repo domain.ReactionRepository,
	txManager domain.Transactor,
	m *metrics.Metrics,
	timeout time.Duration,
) *ReactionService {
	return &ReactionService{
		log:           log,
		registry:      registry,
		conversations: conversations,
		messages:      messages,
		Repo:          repo,
		txManager:     txManager,
		metrics:       m,
		timeout:       timeout,
	}
}

var _ IReactionService = (*ReactionService)(nil)

func (r *ReactionService) ToggleReaction(
	ctx context.Context,
	principal string,
	msgID uuid.UUID,
	emoji string,
) (domain.ReactionState, error) {
	ctx, span := tracer.Start(ctx, "ReactionService.ToggleReaction", trace.WithAttributes(
		attribute.String("message_id", msgID.String()),
		attribute.String("emoji", emoji),
	))
	defer span.End()
	if err := domain.ValidateEmoji(emoji); err != nil {
		span.RecordError(err)
		return domain.ReactionState{}, err
	}
	msg, err := r.getMessage(ctx, msgID)
	if err != nil {
		span.RecordError(err)
		return domain.ReactionState{}, err
	}
	conv, err := r.conversations.Get(ctx, msg.ConversationID)
	if err != nil {
		span.RecordError(err)
		return domain.ReactionState{}, err
	}
	if err := r.conversations.AuthorizeWrite(conv, principal); err != nil {
		span.RecordError(err)
		return domain.ReactionState{}, err
	}

	state := domain.ReactionState{MessageID: msgID, ConversationID: conv.ID, Emoji: emoji}
	err = r.registry.Serialize(ctx, conv.ID.String(), func(ctx context.Context) error {
		current, err := r.getMessage(ctx, msgID)
		if err != nil {
			return err
		}
		if current.IsDeleted {
			return domain.ErrMessageDeleted
		}
		if err := persist(ctx, r.timeout, func(ctx context.Context) error {
			return r.txManager.WithTx(ctx, func(txCtx context.Context) error {
				present, err := r.Repo.HasReaction(txCtx, msgID, emoji, principal)
				if err != nil {
					return err
				}
				if present {
					err = r.Repo.RemoveReaction(txCtx, msgID, emoji, principal)
				} else {
					err = r.Repo.AddReaction(txCtx, msgID, emoji, principal)
				}
				if err != nil {
					return err
				}
				// The count is always derived from the stored set.
				state.Users, err = r.Repo.ListReactors(txCtx, msgID, emoji)
				return err
			})
		}); err != nil {
			return err
		}
		if state.Users == nil {
			state.Users = []string{}
		}
		state.Count = len(state.Users)
		r.registry.Broadcast(ctx, conv.ID.String(), domain.ReactionEvent{
			Type:          domain.TypeReactionUpdated,
			ReactionState: state,
		})
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "toggle reaction failed")
		r.log.ErrorContext(ctx, "reactions - toggle reaction - failed", "message_id", msgID, "emoji", emoji, "err", err)
		return domain.ReactionState{}, err
	}
	r.metrics.ReactionToggled()
	r.log.InfoContext(ctx, "reactions - toggle reaction - success", "message_id", msgID, "emoji", emoji, "count", state.Count)
	return state, nil
}

func (r *ReactionService) getMessage(ctx context.Context, msgID uuid.UUID) (*domain.Message, error) {
	var msg *domain.Message
	err := persist(ctx, r.timeout, func(ctx context.Context) error {
		var err error
		msg, err = r.messages.GetMessage(ctx, msgID)
		return err
	})
	return msg, err
}
