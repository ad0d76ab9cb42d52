package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"eventbuddy/internal/core/contracts"
	"eventbuddy/internal/core/domain"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

type IConversationService interface {
	// GetOrCreateDirect resolves the direct conversation of the unordered pair (a, b).
	// caller must be one of the two.
	GetOrCreateDirect(ctx context.Context, caller, a, b string) (*domain.Conversation, error)
	// GetOrCreateEvent resolves the discussion of an event known to the directory.
	GetOrCreateEvent(ctx context.Context, eventID string) (*domain.Conversation, error)
	Resolve(ctx context.Context, caller string, ref domain.ConversationRef) (*domain.Conversation, error)
	Get(ctx context.Context, convID uuid.UUID) (*domain.Conversation, error)
	Participants(ctx context.Context, conv *domain.Conversation) ([]string, error)
	IsAdmin(ctx context.Context, conv *domain.Conversation, principal string) (bool, error)
	Authorize(conv *domain.Conversation, principal string) error
	AuthorizeWrite(conv *domain.Conversation, principal string) error
	Deactivate(ctx context.Context, convID uuid.UUID, principal string) error
}

type ConversationService struct {
	repo      domain.ConversationRepository
	directory contracts.EventDirectory
	group     singleflight.Group
	timeout   time.Duration
	log       *slog.Logger
}

func NewConversationService(
	log *slog.Logger,
	repo domain.ConversationRepository,
	directory contracts.EventDirectory,
	timeout time.Duration,
) *ConversationService {
	return &ConversationService{
		log:       log,
		repo:      repo,
		directory: directory,
		timeout:   timeout,
	}
}

var _ IConversationService = (*ConversationService)(nil)

func (s *ConversationService) GetOrCreateDirect(ctx context.Context, caller, a, b string) (*domain.Conversation, error) {
	ctx, span := tracer.Start(ctx, "ConversationService.GetOrCreateDirect", trace.WithAttributes(
		attribute.String("caller", caller),
	))
	defer span.End()
	conv, err := domain.NewDirectConversation(a, b)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if !conv.HasParticipant(caller) {
		span.RecordError(domain.ErrNotParticipant)
		s.log.WarnContext(ctx, "conversation - get or create direct - caller not a participant", "caller", caller, "key", conv.Key)
		return nil, domain.ErrNotParticipant
	}
	return s.getOrCreate(ctx, span, conv)
}

func (s *ConversationService) GetOrCreateEvent(ctx context.Context, eventID string) (*domain.Conversation, error) {
	ctx, span := tracer.Start(ctx, "ConversationService.GetOrCreateEvent", trace.WithAttributes(
		attribute.String("event_id", eventID),
	))
	defer span.End()
	if eventID == "" {
		return nil, domain.ErrEventNotFound
	}
	exists, err := s.directory.EventExists(ctx, eventID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "directory lookup failed")
		s.log.ErrorContext(ctx, "conversation - get or create event - directory lookup failed", "event_id", eventID, "err", err)
		return nil, fmt.Errorf("%w: event directory: %v", domain.ErrUnavailable, err)
	}
	if !exists {
		return nil, domain.ErrEventNotFound
	}
	return s.getOrCreate(ctx, span, domain.NewEventConversation(eventID))
}

// getOrCreate collapses concurrent callers for one key into a single storage round
// trip; the storage layer's unique key covers other processes. The shared call is
// detached from whichever caller started it, so one caller giving up does not fail
// the others; each caller still stops waiting when its own ctx ends.
func (s *ConversationService) getOrCreate(ctx context.Context, span trace.Span, conv *domain.Conversation) (*domain.Conversation, error) {
	shared := context.WithoutCancel(ctx)
	ch := s.group.DoChan(conv.Key, func() (any, error) {
		var stored *domain.Conversation
		var created bool
		err := persist(shared, s.timeout, func(ctx context.Context) error {
			var err error
			stored, created, err = s.repo.GetOrCreateConversation(ctx, conv)
			return err
		})
		if err != nil {
			return nil, err
		}
		if created {
			s.log.InfoContext(shared, "conversation - get or create - conversation created", "conv_id", stored.ID, "key", stored.Key)
		}
		return stored, nil
	})
	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		res.Err = ctx.Err()
	}
	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, "get or create failed")
		s.log.ErrorContext(ctx, "conversation - get or create - failed", "key", conv.Key, "err", res.Err)
		return nil, res.Err
	}
	span.SetAttributes(attribute.Bool("shared", res.Shared))
	out := *res.Val.(*domain.Conversation)
	return &out, nil
}

// Resolve turns a join reference into a conversation the caller may enter.
func (s *ConversationService) Resolve(ctx context.Context, caller string, ref domain.ConversationRef) (*domain.Conversation, error) {
	switch {
	case ref.ConversationID != "":
		convID, err := domain.ParseID(ref.ConversationID, domain.ErrInvalidConversationID)
		if err != nil {
			return nil, err
		}
		conv, err := s.Get(ctx, convID)
		if err != nil {
			return nil, err
		}
		if err := s.Authorize(conv, caller); err != nil {
			return nil, err
		}
		return conv, nil
	case ref.EventID != "":
		return s.GetOrCreateEvent(ctx, ref.EventID)
	case ref.PeerID != "":
		return s.GetOrCreateDirect(ctx, caller, caller, ref.PeerID)
	default:
		return nil, domain.ErrInvalidConversationID
	}
}

func (s *ConversationService) Get(ctx context.Context, convID uuid.UUID) (*domain.Conversation, error) {
	var conv *domain.Conversation
	err := persist(ctx, s.timeout, func(ctx context.Context) error {
		var err error
		conv, err = s.repo.GetConversationByID(ctx, convID)
		return err
	})
	return conv, err
}

// Participants lists everyone an unread count applies to: both members of a direct
// conversation or the event's participant list.
func (s *ConversationService) Participants(ctx context.Context, conv *domain.Conversation) ([]string, error) {
	if conv.Kind == domain.KindDirect {
		return conv.Participants, nil
	}
	participants, err := s.directory.ParticipantsOf(ctx, conv.EventID)
	if err != nil {
		return nil, fmt.Errorf("%w: event directory: %v", domain.ErrUnavailable, err)
	}
	return participants, nil
}

// IsAdmin: both members administer a direct conversation; the organizer administers
// an event discussion.
func (s *ConversationService) IsAdmin(ctx context.Context, conv *domain.Conversation, principal string) (bool, error) {
	if conv.Kind == domain.KindDirect {
		return conv.HasParticipant(principal), nil
	}
	ok, err := s.directory.IsOrganizer(ctx, conv.EventID, principal)
	if err != nil {
		s.log.ErrorContext(ctx, "conversation - is admin - directory lookup failed", "event_id", conv.EventID, "principal", principal, "err", err)
		return false, fmt.Errorf("%w: event directory: %v", domain.ErrUnavailable, err)
	}
	return ok, nil
}

// Authorize checks read access. Event discussions have open membership.
func (s *ConversationService) Authorize(conv *domain.Conversation, principal string) error {
	if principal == "" {
		return domain.ErrMissingPrincipal
	}
	if conv.Kind == domain.KindDirect && !conv.HasParticipant(principal) {
		return domain.ErrNotMember
	}
	return nil
}

func (s *ConversationService) AuthorizeWrite(conv *domain.Conversation, principal string) error {
	if err := s.Authorize(conv, principal); err != nil {
		return err
	}
	if !conv.Active {
		return domain.ErrConversationInactive
	}
	return nil
}

func (s *ConversationService) Deactivate(ctx context.Context, convID uuid.UUID, principal string) error {
	ctx, span := tracer.Start(ctx, "ConversationService.Deactivate", trace.WithAttributes(
		attribute.String("conv_id", convID.String()),
	))
	defer span.End()
	conv, err := s.Get(ctx, convID)
	if err != nil {
		span.RecordError(err)
		return err
	}
	admin, err := s.IsAdmin(ctx, conv, principal)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if !admin {
		return domain.ErrNotAdmin
	}
	if err := persist(ctx, s.timeout, func(ctx context.Context) error {
		return s.repo.SetActive(ctx, convID, false)
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "deactivate failed")
		s.log.ErrorContext(ctx, "conversation - deactivate - set active failed", "conv_id", convID, "err", err)
		return err
	}
	s.log.InfoContext(ctx, "conversation - deactivate - success", "conv_id", convID, "principal", principal)
	return nil
}
