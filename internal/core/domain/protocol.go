package domain

import (
	"time"

	"github.com/google/uuid"
)

// Outbound frame types.
const (
	TypeAck                = "ack"
	TypeError              = "error"
	TypeHandshake          = "handshake"
	TypeMessageCreated     = "message_created"
	TypeMessageUpdated     = "message_updated"
	TypeMessageDeleted     = "message_deleted"
	TypeReactionUpdated    = "reaction_updated"
	TypePresenceChanged    = "presence_changed"
	TypeTypingChanged      = "typing_changed"
	TypeUnreadCountChanged = "unread_count_changed"
	TypeReadReceipt        = "read_receipt"
	TypeConversationState  = "conversation_state_changed"
)

// Inbound frame types.
const (
	OpJoin           = "join"
	OpLeave          = "leave"
	OpPostMessage    = "post_message"
	OpEditMessage    = "edit_message"
	OpDeleteMessage  = "delete_message"
	OpToggleReaction = "toggle_reaction"
	OpTogglePin      = "toggle_pin"
	OpTyping         = "typing"
	OpMarkRead       = "mark_read"
	OpHistory        = "history"
	OpDeactivate     = "deactivate"
)

const (
	PresenceJoined = "joined"
	PresenceLeft   = "left"
)

// ConversationRef names a conversation to join: by id, by event, or by direct peer.
type ConversationRef struct {
	ConversationID string `json:"conversation_id,omitempty"`
	EventID        string `json:"event_id,omitempty"`
	PeerID         string `json:"peer_id,omitempty"`
}

// InboundFrame is every request a client may send. The principal never travels in
// the frame; it is bound to the connection at authentication.
type InboundFrame struct {
	Type           string `json:"type"`
	RequestID      string `json:"request_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	EventID        string `json:"event_id,omitempty"`
	PeerID         string `json:"peer_id,omitempty"`
	MessageID      string `json:"message_id,omitempty"`
	ParentID       string `json:"parent_id,omitempty"`
	ClientMsgID    string `json:"client_msg_id,omitempty"`
	Content        string `json:"content,omitempty"`
	Emoji          string `json:"emoji,omitempty"`
	IsTyping       bool   `json:"is_typing,omitempty"`
	UptoSeq        int64  `json:"upto_seq,omitempty"`
	AfterSeq       int64  `json:"after_seq,omitempty"`
	Limit          int    `json:"limit,omitempty"`
}

// HandshakeResponse is sent once on connect.
type HandshakeResponse struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connection_id"`
	Principal    string `json:"principal"`
}

// AckMessage answers a request; Result carries the operation's return value.
type AckMessage struct {
	Type      string    `json:"type"`
	RequestID string    `json:"request_id,omitempty"`
	Result    any       `json:"result,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorMessage is a WS-safe error.
type ErrorMessage struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// MessageView is the wire shape of a message.
type MessageView struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	AuthorID       string     `json:"author_id"`
	ClientMsgID    string     `json:"client_msg_id,omitempty"`
	Seq            int64      `json:"seq"`
	Content        string     `json:"content"`
	ParentID       string     `json:"parent_id,omitempty"`
	IsEdited       bool       `json:"is_edited"`
	IsDeleted      bool       `json:"is_deleted"`
	IsPinned       bool       `json:"is_pinned"`
	EditHistory    []Edit     `json:"edit_history,omitempty"`
	Reactions      []Reaction `json:"reactions,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func NewMessageView(m *Message) MessageView {
	v := MessageView{
		ID:             m.ID.String(),
		ConversationID: m.ConversationID.String(),
		AuthorID:       m.AuthorID,
		ClientMsgID:    m.ClientMsgID,
		Seq:            m.Seq,
		Content:        m.Content,
		IsEdited:       m.IsEdited,
		IsDeleted:      m.IsDeleted,
		IsPinned:       m.IsPinned,
		EditHistory:    m.EditHistory,
		Reactions:      m.Reactions,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
	if m.ParentID != nil {
		v.ParentID = m.ParentID.String()
	}
	return v
}

// ConversationView is the wire shape of a conversation.
type ConversationView struct {
	ID           string           `json:"id"`
	Kind         ConversationKind `json:"kind"`
	EventID      string           `json:"event_id,omitempty"`
	Participants []string         `json:"participants,omitempty"`
	Active       bool             `json:"active"`
	LastSeq      int64            `json:"last_seq"`
	UnreadCount  int64            `json:"unread_count"`
	CreatedAt    time.Time        `json:"created_at"`
}

func NewConversationView(c *Conversation) ConversationView {
	return ConversationView{
		ID:           c.ID.String(),
		Kind:         c.Kind,
		EventID:      c.EventID,
		Participants: c.Participants,
		Active:       c.Active,
		CreatedAt:    c.CreatedAt,
	}
}

// MessageEvent is broadcast for message_created and message_updated.
type MessageEvent struct {
	Type    string      `json:"type"`
	Message MessageView `json:"message"`
}

type MessageDeletedEvent struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	Seq            int64  `json:"seq"`
	Tombstoned     bool   `json:"tombstoned"`
}

type ReactionEvent struct {
	Type string `json:"type"`
	ReactionState
}

// PresenceEvent is pushed to the remaining members of a room.
type PresenceEvent struct {
	Type           string   `json:"type"`
	ConversationID string   `json:"conversation_id"`
	Principal      string   `json:"principal"`
	ConnectionID   string   `json:"connection_id"`
	Status         string   `json:"status"`
	Online         []string `json:"online"`
}

type TypingEvent struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	Principal      string `json:"principal"`
	IsTyping       bool   `json:"is_typing"`
}

// UnreadEvent frames for one conversation may arrive out of order. LastSeq is the
// newest sequence the count covers; a client keeps the frame with the highest
// (LastSeq, LastReadSeq) pair and drops the rest.
type UnreadEvent struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	UnreadCount    int64  `json:"unread_count"`
	LastReadSeq    int64  `json:"last_read_seq"`
	LastSeq        int64  `json:"last_seq"`
}

type ConversationStateEvent struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	Active         bool   `json:"active"`
	ChangedBy      string `json:"changed_by"`
}

type ReadReceiptEvent struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	Principal      string `json:"principal"`
	LastReadSeq    int64  `json:"last_read_seq"`
}

// ParseID validates an id coming from a client frame.
func ParseID(raw string, invalid error) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, invalid
	}
	return id, nil
}

// Ack results of the operations that do not return a message or conversation.
type DeleteResult struct {
	MessageID  string `json:"message_id"`
	Tombstoned bool   `json:"tombstoned"`
}

type DeactivateResult struct {
	ConversationID string `json:"conversation_id"`
	Active         bool   `json:"active"`
}

type PinResult struct {
	MessageID string `json:"message_id"`
	IsPinned  bool   `json:"is_pinned"`
}

type UnreadResult struct {
	ConversationID string `json:"conversation_id"`
	UnreadCount    int64  `json:"unread_count"`
	LastReadSeq    int64  `json:"last_read_seq,omitempty"`
}

type HistoryResult struct {
	ConversationID string        `json:"conversation_id"`
	Messages       []MessageView `json:"messages"`
}

func NewHistoryResult(convID string, msgs []Message) HistoryResult {
	views := make([]MessageView, 0, len(msgs))
	for i := range msgs {
		views = append(views, NewMessageView(&msgs[i]))
	}
	return HistoryResult{ConversationID: convID, Messages: views}
}

// PresenceResult answers GET /presence/{principal}.
type PresenceResult struct {
	Principal string     `json:"principal"`
	Online    bool       `json:"online"`
	LastSeen  *time.Time `json:"last_seen,omitempty"`
}
