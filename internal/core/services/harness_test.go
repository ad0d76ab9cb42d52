package services

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"eventbuddy/internal/app/presence"
	"eventbuddy/internal/app/registry"
	"eventbuddy/internal/core/domain"
	"eventbuddy/internal/plugins/memory"
	"eventbuddy/internal/testutil"

	"github.com/stretchr/testify/require"
)

type harness struct {
	store         *memory.Store
	queue         *memory.Queue
	lastSeen      *memory.LastSeen
	directory     *testutil.Directory
	tracker       *presence.Tracker
	registry      *registry.Registry
	conversations *ConversationService
	messages      *MessageService
	reactions     *ReactionService
	unread        *UnreadService
	manager       *ManagerService
}

func newHarness(t *testing.T) *harness {
	return newHarnessWithTimeout(t, time.Second)
}

func newHarnessWithTimeout(t *testing.T, timeout time.Duration) *harness {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &harness{
		store:     memory.New(),
		queue:     memory.NewQueue(0),
		lastSeen:  memory.NewLastSeen(),
		directory: testutil.NewDirectory(),
		tracker:   presence.NewTracker(),
	}
	h.registry = registry.NewRegistry(log, h.tracker, nil)
	h.conversations = NewConversationService(log, h.store, h.directory, timeout)
	h.unread = NewUnreadService(log, h.registry, h.conversations, h.store, h.store, h.queue, nil, timeout)
	h.messages = NewMessageService(log, h.registry, h.conversations, h.unread, h.store, h.store, nil, timeout)
	h.reactions = NewReactionService(log, h.registry, h.conversations, h.store, h.store, h.store, nil, timeout)
	h.manager = NewManagerService(log, h.registry, h.tracker, h.lastSeen, h.conversations, h.messages, h.reactions, h.unread, h.store, nil, timeout)
	return h
}

// connect registers a recording client for principal.
func (h *harness) connect(connID, principal string) *testutil.Client {
	c := testutil.NewClient(connID, principal)
	h.registry.Connect(c)
	return c
}

func (h *harness) join(t *testing.T, c *testutil.Client, conv *domain.Conversation) {
	t.Helper()
	require.NoError(t, h.registry.Join(context.Background(), c.ConnectionID(), conv.ID.String()))
}

func (h *harness) direct(t *testing.T, a, b string) *domain.Conversation {
	t.Helper()
	conv, err := h.conversations.GetOrCreateDirect(context.Background(), a, a, b)
	require.NoError(t, err)
	return conv
}

func (h *harness) event(t *testing.T, eventID, organizer string, participants ...string) *domain.Conversation {
	t.Helper()
	h.directory.AddEvent(eventID, organizer, participants...)
	conv, err := h.conversations.GetOrCreateEvent(context.Background(), eventID)
	require.NoError(t, err)
	return conv
}

func (h *harness) post(t *testing.T, author string, conv *domain.Conversation, content string) *domain.Message {
	t.Helper()
	msg, err := h.messages.PostMessage(context.Background(), author, conv.ID, content, "", "")
	require.NoError(t, err)
	return msg
}
