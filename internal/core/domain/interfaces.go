package domain

import (
	"context"

	"github.com/google/uuid"
)

// Transactor runs fn inside one storage transaction carried by ctx.
type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ConversationRepository handles conversation lifecycle.
type ConversationRepository interface {
	GetConversationByID(ctx context.Context, convID uuid.UUID) (*Conversation, error)
	// GetOrCreateConversation inserts conv unless a conversation with the same key exists,
	// in which case the stored one is returned. created reports which branch ran.
	GetOrCreateConversation(ctx context.Context, conv *Conversation) (stored *Conversation, created bool, err error)
	SetActive(ctx context.Context, convID uuid.UUID, active bool) error
}

// MessageRepository handles persistence and guaranteed ordering.
type MessageRepository interface {
	// Atomic persistence: increments the conversation sequence and inserts the message.
	SaveWithSequence(ctx context.Context, msg *Message) (seq int64, err error)
	FindByClientMsgID(ctx context.Context, convID uuid.UUID, authorID, clientMsgID string) (*Message, error)
	GetMessage(ctx context.Context, msgID uuid.UUID) (*Message, error)
	// UpdateContent appends prior to the edit history and stores the new content.
	UpdateContent(ctx context.Context, msgID uuid.UUID, content string, prior Edit) error
	SoftDelete(ctx context.Context, msgID uuid.UUID) error
	DeleteMessage(ctx context.Context, msgID uuid.UUID) error
	HasReplies(ctx context.Context, msgID uuid.UUID) (bool, error)
	SetPinned(ctx context.Context, msgID uuid.UUID, pinned bool) error
	ListMessages(ctx context.Context, convID uuid.UUID, afterSeq int64, limit int) ([]Message, error)
	LastSeq(ctx context.Context, convID uuid.UUID) (int64, error)
	// CountUnread counts live messages with seq > afterSeq not authored by principal.
	CountUnread(ctx context.Context, convID uuid.UUID, principal string, afterSeq int64) (int64, error)
}

// ReactionRepository stores one row per (message, emoji, principal).
type ReactionRepository interface {
	HasReaction(ctx context.Context, msgID uuid.UUID, emoji, principal string) (bool, error)
	AddReaction(ctx context.Context, msgID uuid.UUID, emoji, principal string) error
	RemoveReaction(ctx context.Context, msgID uuid.UUID, emoji, principal string) error
	ListReactors(ctx context.Context, msgID uuid.UUID, emoji string) ([]string, error)
	ListReactions(ctx context.Context, msgID uuid.UUID) ([]Reaction, error)
}

// ReadReceiptRepository stores read watermarks.
type ReadReceiptRepository interface {
	GetWatermark(ctx context.Context, convID uuid.UUID, principal string) (int64, error)
	// AdvanceWatermark never moves the watermark backwards and returns the stored value.
	AdvanceWatermark(ctx context.Context, convID uuid.UUID, principal string, seq int64) (int64, error)
}
