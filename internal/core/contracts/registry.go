package contracts

import (
	"context"
	"time"
)

// Registry is the room broadcaster: the single serialization point per conversation
// and the fan-out to every connection subscribed to it.
type Registry interface {
	// Connect binds a new authenticated connection.
	Connect(c Client)
	// Disconnect leaves every room the connection joined (one presence-left event per room)
	// and forgets the connection. Unknown connections are a no-op.
	Disconnect(ctx context.Context, connID string)
	// Serialize runs fn while holding the conversation's write slot.
	Serialize(ctx context.Context, convID string, fn func(ctx context.Context) error) error
	Join(ctx context.Context, connID, convID string) error
	Leave(ctx context.Context, connID, convID string) error
	SetTyping(ctx context.Context, connID, convID string, typing bool) error
	// Broadcast sends event to every connection in the room. Call it inside Serialize
	// to keep delivery order equal to write order.
	Broadcast(ctx context.Context, convID string, event any)
	// SendTo sends event to every connection of a principal.
	SendTo(ctx context.Context, principal string, event any)
	IsOnline(principal string) bool
	InRoom(principal, convID string) bool
}

// Client is the minimal interface a transport adapter exposes for one connection.
type Client interface {
	ConnectionID() string
	Principal() string
	Send(ctx context.Context, data []byte) error
	Close()
}

// PresenceTracker keeps the ephemeral principal/connection/room indices.
type PresenceTracker interface {
	Register(c Client)
	// Unregister marks the connection closing and returns the rooms it had joined.
	Unregister(connID string) (rooms []string, ok bool)
	Forget(connID string)
	JoinRoom(connID, convID string) (joined bool, err error)
	LeaveRoom(connID, convID string) (left bool)
	SetTyping(connID, convID string, typing bool) (changed bool)
	Touch(connID string, at time.Time)
	IsOnline(principal string) bool
	InRoom(principal, convID string) bool
	RoomConnections(convID string) []Client
	RoomPrincipals(convID string) []string
	PrincipalConnections(principal string) []Client
	Connection(connID string) (Client, bool)
}
