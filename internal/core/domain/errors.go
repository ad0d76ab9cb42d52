package domain

import (
	"context"
	"errors"
	"fmt"
)

// Error classes. Specific errors wrap exactly one of these.
var (
	ErrNotFound        = errors.New("not found")
	ErrForbidden       = errors.New("forbidden")
	ErrValidation      = errors.New("validation failed")
	ErrConflict        = errors.New("conflict")
	ErrUnavailable     = errors.New("unavailable")
	ErrUnauthenticated = errors.New("unauthenticated")
)

var (
	ErrInvalidConversationID  = fmt.Errorf("%w: invalid conversation id", ErrValidation)
	ErrInvalidMessageID       = fmt.Errorf("%w: invalid message id", ErrValidation)
	ErrInvalidParticipants    = fmt.Errorf("%w: direct conversation needs two distinct principals", ErrValidation)
	ErrEmptyContent           = fmt.Errorf("%w: content is empty", ErrValidation)
	ErrContentTooLong         = fmt.Errorf("%w: content exceeds %d characters", ErrValidation, MaxContentLength)
	ErrInvalidEmoji           = fmt.Errorf("%w: invalid emoji", ErrValidation)
	ErrInvalidParent          = fmt.Errorf("%w: parent message must be a top-level message of the same conversation", ErrValidation)
	ErrMessageDeleted         = fmt.Errorf("%w: message is deleted", ErrValidation)
	ErrInvalidWatermark       = fmt.Errorf("%w: watermark must not be negative", ErrValidation)
	ErrUnknownEvent           = fmt.Errorf("%w: unknown event type", ErrValidation)
	ErrMalformedFrame         = fmt.Errorf("%w: malformed frame", ErrValidation)
	ErrConversationNotFound   = fmt.Errorf("%w: conversation", ErrNotFound)
	ErrMessageNotFound        = fmt.Errorf("%w: message", ErrNotFound)
	ErrEventNotFound          = fmt.Errorf("%w: event", ErrNotFound)
	ErrSequenceNotInitialized = fmt.Errorf("%w: conversation sequence", ErrNotFound)
	ErrNotAuthor              = fmt.Errorf("%w: requester is not the author", ErrForbidden)
	ErrNotAdmin               = fmt.Errorf("%w: requester is not a conversation admin", ErrForbidden)
	ErrNotMember              = fmt.Errorf("%w: requester is not a member of the conversation", ErrForbidden)
	ErrConversationInactive   = fmt.Errorf("%w: conversation is deactivated", ErrForbidden)
	ErrNotParticipant         = fmt.Errorf("%w: caller is not one of the direct participants", ErrConflict)
	ErrPersistenceTimeout     = fmt.Errorf("%w: persistence timed out", ErrUnavailable)
	ErrRoomBusy               = fmt.Errorf("%w: conversation is busy", ErrUnavailable)
	ErrRateLimited            = fmt.Errorf("%w: too many events, slow down", ErrUnavailable)
	ErrConnectionClosed       = errors.New("connection closed")
	ErrSlowConsumer           = errors.New("outbound buffer full")
	ErrMissingPrincipal       = fmt.Errorf("%w: no principal bound to connection", ErrUnauthenticated)
)

// Code values sent to clients in error frames.
const (
	CodeNotFound        = "not_found"
	CodeForbidden       = "forbidden"
	CodeValidation      = "validation"
	CodeConflict        = "conflict"
	CodeUnavailable     = "unavailable"
	CodeUnauthenticated = "unauthenticated"
	CodeInternal        = "internal"
)

// ErrorCode classifies err into a wire code.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrForbidden):
		return CodeForbidden
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrConflict):
		return CodeConflict
	case errors.Is(err, ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		return CodeUnavailable
	case errors.Is(err, ErrUnauthenticated):
		return CodeUnauthenticated
	default:
		return CodeInternal
	}
}

// Retryable reports whether the caller may retry with backoff.
func Retryable(err error) bool {
	return ErrorCode(err) == CodeUnavailable
}
