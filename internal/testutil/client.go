package testutil

import (
	"context"
	"encoding/json"
	"sync"

	"eventbuddy/internal/core/domain"
)

// Client is an in-memory connection that records every frame it receives.
type Client struct {
	ID   string
	User string

	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func NewClient(connID, principal string) *Client {
	return &Client{ID: connID, User: principal}
}

func (c *Client) ConnectionID() string { return c.ID }
func (c *Client) Principal() string    { return c.User }

func (c *Client) Send(_ context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return domain.ErrConnectionClosed
	}
	c.frames = append(c.frames, append([]byte(nil), data...))
	return nil
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *Client) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Frames returns the decoded frames of the given type, oldest first.
func (c *Client) Frames(typ string) []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []map[string]any
	for _, raw := range c.frames {
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil {
			continue
		}
		if m["type"] == typ {
			out = append(out, m)
		}
	}
	return out
}

func (c *Client) Count(typ string) int { return len(c.Frames(typ)) }

func (c *Client) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = nil
}
