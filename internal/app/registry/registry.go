package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"eventbuddy/internal/core/contracts"
	"eventbuddy/internal/core/domain"
	"eventbuddy/internal/platform/metrics"
)

// room is the serialization point of one conversation. slot holds at most one
// token: whoever holds it is the conversation's single writer.
type room struct {
	slot chan struct{}
	refs int
}

// Registry is the room broadcaster. Operations on one conversation never interleave;
// operations on different conversations run in parallel. Lock order is always
// room slot → presence tracker.
type Registry struct {
	mu       sync.Mutex
	rooms    map[string]*room
	presence contracts.PresenceTracker
	metrics  *metrics.Metrics
	log      *slog.Logger
	// leaveTimeout bounds the wait for a room slot while disconnecting.
	leaveTimeout time.Duration
}

func NewRegistry(log *slog.Logger, presence contracts.PresenceTracker, m *metrics.Metrics) *Registry {
	return &Registry{
		rooms:        make(map[string]*room),
		presence:     presence,
		metrics:      m,
		log:          log,
		leaveTimeout: 5 * time.Second,
	}
}

var _ contracts.Registry = (*Registry)(nil)

func (h *Registry) acquire(ctx context.Context, convID string) (func(), error) {
	h.mu.Lock()
	r := h.rooms[convID]
	if r == nil {
		r = &room{slot: make(chan struct{}, 1)}
		h.rooms[convID] = r
	}
	r.refs++
	h.mu.Unlock()
	select {
	case r.slot <- struct{}{}:
		return func() {
			<-r.slot
			h.unref(convID, r)
		}, nil
	case <-ctx.Done():
		h.unref(convID, r)
		return nil, fmt.Errorf("%w: %v", domain.ErrRoomBusy, ctx.Err())
	}
}

func (h *Registry) unref(convID string, r *room) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r.refs--
	if r.refs == 0 {
		delete(h.rooms, convID)
	}
}

func (h *Registry) Connect(c contracts.Client) {
	h.presence.Register(c)
	h.metrics.ConnectionOpened()
	h.log.Info("registry - connect - connection registered", "connection_id", c.ConnectionID(), "principal", c.Principal())
}

func (h *Registry) Serialize(ctx context.Context, convID string, fn func(ctx context.Context) error) error {
	release, err := h.acquire(ctx, convID)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx)
}

func (h *Registry) Join(ctx context.Context, connID, convID string) error {
	return h.Serialize(ctx, convID, func(ctx context.Context) error {
		joined, err := h.presence.JoinRoom(connID, convID)
		if err != nil {
			return err
		}
		if !joined {
			return nil
		}
		c, _ := h.presence.Connection(connID)
		if len(h.presence.RoomConnections(convID)) == 1 {
			h.metrics.RoomOpened()
			h.log.DebugContext(ctx, "registry - join - room opened", "conv_id", convID, "state", h.RoomState(convID))
		}
		h.broadcastExcept(ctx, convID, connID, h.presenceEvent(convID, c, domain.PresenceJoined))
		return nil
	})
}

// Leave is a no-op for a room the connection never joined.
func (h *Registry) Leave(ctx context.Context, connID, convID string) error {
	return h.Serialize(ctx, convID, func(ctx context.Context) error {
		h.leaveLocked(ctx, connID, convID)
		return nil
	})
}

func (h *Registry) leaveLocked(ctx context.Context, connID, convID string) {
	c, ok := h.presence.Connection(connID)
	if !ok || !h.presence.LeaveRoom(connID, convID) {
		return
	}
	if h.RoomState(convID) == domain.RoomEmpty {
		h.metrics.RoomClosed()
		h.log.DebugContext(ctx, "registry - leave - room empty", "conv_id", convID)
		return
	}
	h.broadcastExcept(ctx, convID, connID, h.presenceEvent(convID, c, domain.PresenceLeft))
}

// Disconnect is an implicit leave of every joined room, processed through the same
// serialized path as an explicit leave. Typing state dies with the connection and is
// covered by the presence-left event.
func (h *Registry) Disconnect(ctx context.Context, connID string) {
	rooms, ok := h.presence.Unregister(connID)
	if !ok {
		return
	}
	for _, convID := range rooms {
		leaveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.leaveTimeout)
		if err := h.Leave(leaveCtx, connID, convID); err != nil {
			// The tracker lock still keeps the indices consistent.
			h.log.WarnContext(ctx, "registry - disconnect - leave without room slot", "conv_id", convID, "connection_id", connID, "err", err)
			h.leaveLocked(ctx, connID, convID)
		}
		cancel()
	}
	h.presence.Forget(connID)
	h.metrics.ConnectionClosed()
	h.log.InfoContext(ctx, "registry - disconnect - connection removed", "connection_id", connID, "rooms", len(rooms))
}

func (h *Registry) SetTyping(ctx context.Context, connID, convID string, typing bool) error {
	return h.Serialize(ctx, convID, func(ctx context.Context) error {
		if !h.presence.SetTyping(connID, convID, typing) {
			return nil
		}
		c, ok := h.presence.Connection(connID)
		if !ok {
			return nil
		}
		h.broadcastExcept(ctx, convID, connID, domain.TypingEvent{
			Type:           domain.TypeTypingChanged,
			ConversationID: convID,
			Principal:      c.Principal(),
			IsTyping:       typing,
		})
		return nil
	})
}

func (h *Registry) Broadcast(ctx context.Context, convID string, event any) {
	h.broadcastExcept(ctx, convID, "", event)
}

func (h *Registry) SendTo(ctx context.Context, principal string, event any) {
	data, err := json.Marshal(event)
	if err != nil {
		h.log.ErrorContext(ctx, "registry - send to - marshal failed", "principal", principal, "err", err)
		return
	}
	for _, c := range h.presence.PrincipalConnections(principal) {
		h.deliver(ctx, c, data)
	}
}

func (h *Registry) IsOnline(principal string) bool {
	return h.presence.IsOnline(principal)
}

func (h *Registry) InRoom(principal, convID string) bool {
	return h.presence.InRoom(principal, convID)
}

// RoomState is bookkeeping only; messages are accepted in either state.
func (h *Registry) RoomState(convID string) domain.RoomState {
	if len(h.presence.RoomConnections(convID)) == 0 {
		return domain.RoomEmpty
	}
	return domain.RoomActive
}

func (h *Registry) broadcastExcept(ctx context.Context, convID, exceptConnID string, event any) {
	data, err := json.Marshal(event)
	if err != nil {
		h.log.ErrorContext(ctx, "registry - broadcast - marshal failed", "conv_id", convID, "err", err)
		return
	}
	for _, c := range h.presence.RoomConnections(convID) {
		if c.ConnectionID() == exceptConnID {
			continue
		}
		h.deliver(ctx, c, data)
	}
}

// deliver never blocks the room. A connection that cannot keep up is closed; its
// transport then runs the regular disconnect path.
func (h *Registry) deliver(ctx context.Context, c contracts.Client, data []byte) {
	err := c.Send(ctx, data)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrSlowConsumer):
		h.metrics.SlowConsumer()
		h.log.WarnContext(ctx, "registry - deliver - slow consumer dropped", "connection_id", c.ConnectionID())
		c.Close()
	default:
		h.log.DebugContext(ctx, "registry - deliver - send failed", "connection_id", c.ConnectionID(), "err", err)
	}
}

func (h *Registry) presenceEvent(convID string, c contracts.Client, status string) domain.PresenceEvent {
	ev := domain.PresenceEvent{
		Type:           domain.TypePresenceChanged,
		ConversationID: convID,
		Status:         status,
		Online:         h.presence.RoomPrincipals(convID),
	}
	if c != nil {
		ev.Principal = c.Principal()
		ev.ConnectionID = c.ConnectionID()
	}
	return ev
}
