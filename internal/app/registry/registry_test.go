package registry

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"eventbuddy/internal/app/presence"
	"eventbuddy/internal/core/domain"
	"eventbuddy/internal/platform/metrics"
	"eventbuddy/internal/testutil"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRegistry() *Registry {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRegistry(log, presence.NewTracker(), nil)
}

func TestDisconnectEmitsOnePresenceLeftPerRoom(t *testing.T) {
	h := newRegistry()
	ctx := context.Background()
	alice := testutil.NewClient("a1", "alice")
	bob := testutil.NewClient("b1", "bob")
	h.Connect(alice)
	h.Connect(bob)

	for _, room := range []string{"r1", "r2"} {
		require.NoError(t, h.Join(ctx, "a1", room))
		require.NoError(t, h.Join(ctx, "b1", room))
	}
	require.NoError(t, h.SetTyping(ctx, "a1", "r1", true))
	bob.Reset()

	h.Disconnect(ctx, "a1")
	h.Disconnect(ctx, "a1")

	left := bob.Frames(domain.TypePresenceChanged)
	require.Len(t, left, 2)
	rooms := map[string]bool{}
	for _, ev := range left {
		assert.Equal(t, domain.PresenceLeft, ev["status"])
		assert.Equal(t, "alice", ev["principal"])
		rooms[ev["conversation_id"].(string)] = true
	}
	assert.Equal(t, map[string]bool{"r1": true, "r2": true}, rooms)
	assert.Zero(t, bob.Count(domain.TypeTypingChanged), "typing stop is folded into presence left")
	assert.False(t, h.IsOnline("alice"))
	assert.Equal(t, domain.RoomActive, h.RoomState("r1"))
}

func TestJoinAnnouncesToOthersOnly(t *testing.T) {
	h := newRegistry()
	ctx := context.Background()
	alice := testutil.NewClient("a1", "alice")
	bob := testutil.NewClient("b1", "bob")
	h.Connect(alice)
	h.Connect(bob)

	assert.Equal(t, domain.RoomEmpty, h.RoomState("r1"))
	require.NoError(t, h.Join(ctx, "a1", "r1"))
	require.NoError(t, h.Join(ctx, "b1", "r1"))
	require.NoError(t, h.Join(ctx, "b1", "r1"))

	joined := alice.Frames(domain.TypePresenceChanged)
	require.Len(t, joined, 1)
	assert.Equal(t, domain.PresenceJoined, joined[0]["status"])
	assert.ElementsMatch(t, []any{"alice", "bob"}, joined[0]["online"])
	assert.Zero(t, bob.Count(domain.TypePresenceChanged))
}

func TestLeaveNeverJoinedIsNoop(t *testing.T) {
	h := newRegistry()
	h.Connect(testutil.NewClient("a1", "alice"))
	assert.NoError(t, h.Leave(context.Background(), "a1", "r1"))
	assert.NoError(t, h.Leave(context.Background(), "ghost", "r1"))
}

func TestTypingBroadcastOnlyOnChange(t *testing.T) {
	h := newRegistry()
	ctx := context.Background()
	alice := testutil.NewClient("a1", "alice")
	bob := testutil.NewClient("b1", "bob")
	h.Connect(alice)
	h.Connect(bob)
	require.NoError(t, h.Join(ctx, "a1", "r1"))
	require.NoError(t, h.Join(ctx, "b1", "r1"))

	require.NoError(t, h.SetTyping(ctx, "a1", "r1", true))
	require.NoError(t, h.SetTyping(ctx, "a1", "r1", true))
	require.NoError(t, h.SetTyping(ctx, "a1", "r1", false))

	assert.Equal(t, 2, bob.Count(domain.TypeTypingChanged))
	assert.Zero(t, alice.Count(domain.TypeTypingChanged))
}

func TestSerializeNeverInterleavesPerConversation(t *testing.T) {
	h := newRegistry()
	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = h.Serialize(context.Background(), "r1", func(context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside)
	h.mu.Lock()
	assert.Empty(t, h.rooms, "idle rooms are released")
	h.mu.Unlock()
}

func TestSerializeRunsDifferentConversationsInParallel(t *testing.T) {
	h := newRegistry()
	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = h.Serialize(context.Background(), "r1", func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ran := false
	require.NoError(t, h.Serialize(ctx, "r2", func(context.Context) error {
		ran = true
		return nil
	}))
	assert.True(t, ran)
	close(release)
}

func TestSerializeHonoursDeadline(t *testing.T) {
	h := newRegistry()
	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = h.Serialize(context.Background(), "r1", func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := h.Serialize(ctx, "r1", func(context.Context) error { return nil })
	assert.ErrorIs(t, err, domain.ErrUnavailable)
}

type slowClient struct {
	*testutil.Client
}

func (s slowClient) Send(context.Context, []byte) error { return domain.ErrSlowConsumer }

func TestSlowConsumerIsClosed(t *testing.T) {
	h := newRegistry()
	ctx := context.Background()
	slow := slowClient{testutil.NewClient("s1", "sam")}
	h.Connect(slow)
	require.NoError(t, h.Join(ctx, "s1", "r1"))

	h.Broadcast(ctx, "r1", domain.TypingEvent{Type: domain.TypeTypingChanged})
	assert.True(t, slow.Closed())
}

func TestSendToReachesEveryDevice(t *testing.T) {
	h := newRegistry()
	phone := testutil.NewClient("a1", "alice")
	laptop := testutil.NewClient("a2", "alice")
	h.Connect(phone)
	h.Connect(laptop)

	h.SendTo(context.Background(), "alice", domain.UnreadEvent{Type: domain.TypeUnreadCountChanged, UnreadCount: 3})
	assert.Equal(t, 1, phone.Count(domain.TypeUnreadCountChanged))
	assert.Equal(t, 1, laptop.Count(domain.TypeUnreadCountChanged))
}

func TestRoomStateDrivesActiveRoomsGauge(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	h := NewRegistry(slog.New(slog.NewTextHandler(io.Discard, nil)), presence.NewTracker(), m)
	ctx := context.Background()
	h.Connect(testutil.NewClient("a1", "alice"))
	h.Connect(testutil.NewClient("b1", "bob"))

	require.NoError(t, h.Join(ctx, "a1", "r1"))
	require.NoError(t, h.Join(ctx, "b1", "r1"))
	assert.Equal(t, domain.RoomActive, h.RoomState("r1"))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.ActiveRooms))

	require.NoError(t, h.Leave(ctx, "a1", "r1"))
	assert.Equal(t, domain.RoomActive, h.RoomState("r1"))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.ActiveRooms))

	require.NoError(t, h.Leave(ctx, "b1", "r1"))
	assert.Equal(t, domain.RoomEmpty, h.RoomState("r1"))
	assert.Zero(t, promtest.ToFloat64(m.ActiveRooms))
}
