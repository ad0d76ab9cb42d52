package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"eventbuddy/internal/core/domain"
	"eventbuddy/internal/core/services"
	"eventbuddy/pkg/logging"
	"eventbuddy/pkg/middleware"
)

// ConversationHandler is the REST surface for clients that are not connected:
// history, unread state, read watermark, presence and deactivation.
type ConversationHandler struct {
	messages services.IMessageService
	unread   services.IUnreadService
	manager  services.IManagerService
}

func NewConversationHandler(messages services.IMessageService, unread services.IUnreadService, manager services.IManagerService) *ConversationHandler {
	return &ConversationHandler{messages: messages, unread: unread, manager: manager}
}

// History answers GET /conversations/{id}/messages?after=&limit=.
func (h *ConversationHandler) History(w http.ResponseWriter, r *http.Request) {
	principal, _ := middleware.Principal(r.Context())
	convID, err := domain.ParseID(r.PathValue("id"), domain.ErrInvalidConversationID)
	if err != nil {
		writeError(w, err)
		return
	}
	q := r.URL.Query()
	after, err := queryInt(q.Get("after"))
	if err != nil {
		writeError(w, domain.ErrMalformedFrame)
		return
	}
	limit, err := queryInt(q.Get("limit"))
	if err != nil {
		writeError(w, domain.ErrMalformedFrame)
		return
	}
	msgs, err := h.messages.History(r.Context(), principal, convID, after, int(limit))
	if err != nil {
		logging.FromContext(r.Context()).InfoContext(r.Context(), "conversation handler - history - failed", logging.Conversation(convID.String()), logging.Err(err))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.NewHistoryResult(convID.String(), msgs))
}

// Unread answers GET /conversations/{id}/unread.
func (h *ConversationHandler) Unread(w http.ResponseWriter, r *http.Request) {
	principal, _ := middleware.Principal(r.Context())
	convID, err := domain.ParseID(r.PathValue("id"), domain.ErrInvalidConversationID)
	if err != nil {
		writeError(w, err)
		return
	}
	count, lastRead, err := h.unread.UnreadCount(r.Context(), principal, convID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.UnreadResult{
		ConversationID: convID.String(),
		UnreadCount:    count,
		LastReadSeq:    lastRead,
	})
}

// MarkRead answers POST /conversations/{id}/read with body {"upto_seq": n}.
func (h *ConversationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	principal, _ := middleware.Principal(r.Context())
	convID, err := domain.ParseID(r.PathValue("id"), domain.ErrInvalidConversationID)
	if err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		UptoSeq int64 `json:"upto_seq"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		writeError(w, domain.ErrMalformedFrame)
		return
	}
	count, err := h.unread.MarkRead(r.Context(), principal, convID, req.UptoSeq)
	if err != nil {
		writeError(w, err)
		return
	}
	logging.FromContext(r.Context()).DebugContext(r.Context(), "conversation handler - mark read - success", logging.Conversation(convID.String()), logging.Sequence(req.UptoSeq))
	writeJSON(w, http.StatusOK, domain.UnreadResult{ConversationID: convID.String(), UnreadCount: count})
}

// Deactivate answers POST /conversations/{id}/deactivate.
func (h *ConversationHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	principal, _ := middleware.Principal(r.Context())
	convID, err := domain.ParseID(r.PathValue("id"), domain.ErrInvalidConversationID)
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := h.manager.Deactivate(r.Context(), principal, convID)
	if err != nil {
		logging.FromContext(r.Context()).InfoContext(r.Context(), "conversation handler - deactivate - failed", logging.Conversation(convID.String()), logging.Err(err))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Presence answers GET /presence/{principal}.
func (h *ConversationHandler) Presence(w http.ResponseWriter, r *http.Request) {
	res, err := h.manager.Presence(r.Context(), r.PathValue("principal"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func queryInt(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}
