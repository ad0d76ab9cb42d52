package domain

import (
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	// MaxContentLength is counted in runes, not bytes.
	MaxContentLength = 2000
	MaxEmojiLength   = 32
	PreviewLength    = 100
	TombstoneContent = "[message deleted]"
)

type ConversationKind string

const (
	KindEvent  ConversationKind = "event"
	KindDirect ConversationKind = "direct"
)

// Conversation is either an event discussion (open membership, keyed by event id)
// or a direct conversation between exactly two principals.
type Conversation struct {
	ID           uuid.UUID
	Kind         ConversationKind
	Key          string
	EventID      string
	Participants []string // direct only, sorted
	Active       bool
	CreatedAt    time.Time
}

// EventKey is the canonical key of an event discussion.
func EventKey(eventID string) string {
	return "event:" + eventID
}

// DirectKey is the canonical key of a direct conversation. The pair is sorted so
// that (a, b) and (b, a) resolve to the same conversation.
func DirectKey(a, b string) (string, []string, error) {
	if a == "" || b == "" {
		return "", nil, ErrInvalidParticipants
	}
	if a == b {
		return "", nil, ErrInvalidParticipants
	}
	pair := []string{a, b}
	sort.Strings(pair)
	return "direct:" + pair[0] + ":" + pair[1], pair, nil
}

func NewEventConversation(eventID string) *Conversation {
	return &Conversation{
		ID:        uuid.New(),
		Kind:      KindEvent,
		Key:       EventKey(eventID),
		EventID:   eventID,
		Active:    true,
		CreatedAt: time.Now(),
	}
}

func NewDirectConversation(a, b string) (*Conversation, error) {
	key, pair, err := DirectKey(a, b)
	if err != nil {
		return nil, err
	}
	return &Conversation{
		ID:           uuid.New(),
		Kind:         KindDirect,
		Key:          key,
		Participants: pair,
		Active:       true,
		CreatedAt:    time.Now(),
	}, nil
}

// HasParticipant reports whether p is one of the two members of a direct conversation.
func (c *Conversation) HasParticipant(p string) bool {
	for _, member := range c.Participants {
		if member == p {
			return true
		}
	}
	return false
}

// Edit is one entry of a message's append-only edit history.
type Edit struct {
	Content  string    `json:"content"`
	EditedAt time.Time `json:"edited_at"`
}

// Reaction holds the set of principals that reacted with one emoji.
type Reaction struct {
	Emoji string   `json:"emoji"`
	Users []string `json:"users"`
}

func (r Reaction) Count() int { return len(r.Users) }

// Message is a chat entry ordered by its conversation-local sequence.
type Message struct {
	ID             uuid.UUID
	ConversationID uuid.UUID
	AuthorID       string
	ClientMsgID    string
	Seq            int64
	Content        string
	ParentID       *uuid.UUID
	IsEdited       bool
	IsDeleted      bool
	IsPinned       bool
	EditHistory    []Edit
	Reactions      []Reaction
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (m *Message) IsReply() bool { return m.ParentID != nil }

// ReactionState is the recomputed view of one emoji on one message.
type ReactionState struct {
	MessageID      uuid.UUID `json:"message_id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	Emoji          string    `json:"emoji"`
	Users          []string  `json:"users"`
	Count          int       `json:"count"`
}

// Watermark records "read up to LastReadSeq" for one principal in one conversation.
type Watermark struct {
	ConversationID uuid.UUID
	Principal      string
	LastReadSeq    int64
	UpdatedAt      time.Time
}

// Notification is handed to the push sink for principals not present in the room.
type Notification struct {
	Principal      string    `json:"principal"`
	ConversationID string    `json:"conversation_id"`
	MessageID      string    `json:"message_id"`
	Preview        string    `json:"preview"`
	CreatedAt      time.Time `json:"created_at"`
}

type RoomState string

const (
	RoomEmpty  RoomState = "empty"
	RoomActive RoomState = "active"
)

// ValidateContent checks message content length in runes.
func ValidateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyContent
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return ErrContentTooLong
	}
	return nil
}

func ValidateEmoji(emoji string) error {
	if strings.TrimSpace(emoji) == "" || len(emoji) > MaxEmojiLength {
		return ErrInvalidEmoji
	}
	return nil
}

// Preview truncates content to PreviewLength runes.
func Preview(content string) string {
	if utf8.RuneCountInString(content) <= PreviewLength {
		return content
	}
	runes := []rune(content)
	return string(runes[:PreviewLength-1]) + "…"
}
