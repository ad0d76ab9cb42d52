package contracts

import (
	"context"
)

// EventDirectory is the upstream event/user service.
type EventDirectory interface {
	EventExists(ctx context.Context, eventID string) (bool, error)
	IsOrganizer(ctx context.Context, eventID, principal string) (bool, error)
	ParticipantsOf(ctx context.Context, eventID string) ([]string, error)
}
