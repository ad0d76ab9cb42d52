package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"eventbuddy/internal/core/domain"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrCreateDirectIsUniqueUnderConcurrency(t *testing.T) {
	h := newHarness(t)
	ids := make([]uuid.UUID, 50)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := "alice", "bob"
			if i%2 == 1 {
				a, b = b, a
			}
			conv, err := h.conversations.GetOrCreateDirect(context.Background(), a, a, b)
			if assert.NoError(t, err) {
				ids[i] = conv.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Equal(t, 1, h.store.ConversationCount())
}

func TestGetOrCreateSurvivesCancelledLeader(t *testing.T) {
	h := newHarness(t)
	h.store.Delay = 100 * time.Millisecond

	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := h.conversations.GetOrCreateDirect(leaderCtx, "alice", "alice", "bob")
		leaderErr <- err
	}()
	time.Sleep(10 * time.Millisecond)
	follower := make(chan error, 1)
	var got *domain.Conversation
	go func() {
		var err error
		got, err = h.conversations.GetOrCreateDirect(context.Background(), "bob", "bob", "alice")
		follower <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	assert.ErrorIs(t, <-leaderErr, context.Canceled)
	require.NoError(t, <-follower)
	key, _, err := domain.DirectKey("alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, key, got.Key)

	h.store.Delay = 0
	again, err := h.conversations.GetOrCreateDirect(context.Background(), "alice", "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, got.ID, again.ID)
}

func TestGetOrCreateDirectCanonicalizesPair(t *testing.T) {
	h := newHarness(t)
	ab := h.direct(t, "alice", "bob")
	ba := h.direct(t, "bob", "alice")

	assert.Equal(t, ab.ID, ba.ID)
	assert.Equal(t, "direct:alice:bob", ab.Key)
	assert.Equal(t, []string{"alice", "bob"}, ab.Participants)
}

func TestGetOrCreateDirectRejectsOutsider(t *testing.T) {
	h := newHarness(t)
	_, err := h.conversations.GetOrCreateDirect(context.Background(), "carol", "alice", "bob")
	assert.ErrorIs(t, err, domain.ErrNotParticipant)
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Zero(t, h.store.ConversationCount())

	_, err = h.conversations.GetOrCreateDirect(context.Background(), "alice", "alice", "alice")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestGetOrCreateEventChecksDirectory(t *testing.T) {
	h := newHarness(t)

	_, err := h.conversations.GetOrCreateEvent(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	conv := h.event(t, "ev1", "org", "alice")
	assert.Equal(t, domain.KindEvent, conv.Kind)
	assert.Equal(t, "event:ev1", conv.Key)
	again, err := h.conversations.GetOrCreateEvent(context.Background(), "ev1")
	require.NoError(t, err)
	assert.Equal(t, conv.ID, again.ID)

	h.directory.Err = errors.New("connection refused")
	_, err = h.conversations.GetOrCreateEvent(context.Background(), "ev2")
	assert.ErrorIs(t, err, domain.ErrUnavailable)
}

func TestResolveByReference(t *testing.T) {
	h := newHarness(t)
	dm := h.direct(t, "alice", "bob")
	ctx := context.Background()

	byPeer, err := h.conversations.Resolve(ctx, "bob", domain.ConversationRef{PeerID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, dm.ID, byPeer.ID)

	byID, err := h.conversations.Resolve(ctx, "alice", domain.ConversationRef{ConversationID: dm.ID.String()})
	require.NoError(t, err)
	assert.Equal(t, dm.ID, byID.ID)

	_, err = h.conversations.Resolve(ctx, "carol", domain.ConversationRef{ConversationID: dm.ID.String()})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = h.conversations.Resolve(ctx, "alice", domain.ConversationRef{ConversationID: "nope"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = h.conversations.Resolve(ctx, "alice", domain.ConversationRef{})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestAdminRoles(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ev := h.event(t, "ev1", "org", "alice")
	dm := h.direct(t, "alice", "bob")

	ok, err := h.conversations.IsAdmin(ctx, ev, "org")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = h.conversations.IsAdmin(ctx, ev, "alice")
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = h.conversations.IsAdmin(ctx, dm, "bob")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDeactivateBlocksWrites(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ev := h.event(t, "ev1", "org", "alice")
	msg := h.post(t, "alice", ev, "before")

	assert.ErrorIs(t, h.conversations.Deactivate(ctx, ev.ID, "alice"), domain.ErrNotAdmin)
	require.NoError(t, h.conversations.Deactivate(ctx, ev.ID, "org"))

	_, err := h.messages.PostMessage(ctx, "alice", ev.ID, "after", "", "")
	assert.ErrorIs(t, err, domain.ErrConversationInactive)
	_, err = h.reactions.ToggleReaction(ctx, "alice", msg.ID, "👍")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	history, err := h.messages.History(ctx, "alice", ev.ID, 0, 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}
