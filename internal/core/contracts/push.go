package contracts

import "context"

// PushSink delivers an out-of-band notification. Best effort.
type PushSink interface {
	Notify(ctx context.Context, principal, conversationID, preview string) error
}
