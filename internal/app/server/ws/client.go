package ws

import (
	"context"
	"sync"
	"time"

	"eventbuddy/internal/core/contracts"
	"eventbuddy/internal/core/domain"

	"golang.org/x/time/rate"
)

// Client is one authenticated socket as seen by the registry. Send never blocks:
// a full outbound buffer reports ErrSlowConsumer and the caller closes the client.
type Client struct {
	connID    string
	principal string
	ws        *WebSocket
	out       chan []byte
	done      chan struct{}
	once      sync.Once
	limiter   *rate.Limiter
}

func NewClient(ws *WebSocket, connID, principal string, buffer int, limiter *rate.Limiter) *Client {
	c := newClient(ws, connID, principal, buffer, limiter)
	go c.writeLoop()
	return c
}

func newClient(ws *WebSocket, connID, principal string, buffer int, limiter *rate.Limiter) *Client {
	if buffer <= 0 {
		buffer = 256
	}
	return &Client{
		connID:    connID,
		principal: principal,
		ws:        ws,
		out:       make(chan []byte, buffer),
		done:      make(chan struct{}),
		limiter:   limiter,
	}
}

var _ contracts.Client = (*Client)(nil)

func (c *Client) ConnectionID() string { return c.connID }
func (c *Client) Principal() string    { return c.principal }

func (c *Client) Send(_ context.Context, data []byte) error {
	select {
	case <-c.done:
		return domain.ErrConnectionClosed
	default:
	}
	select {
	case c.out <- data:
		return nil
	case <-c.done:
		return domain.ErrConnectionClosed
	default:
		return domain.ErrSlowConsumer
	}
}

// Allow reports whether another inbound event fits the connection's rate.
func (c *Client) Allow() bool {
	return c.limiter == nil || c.limiter.Allow()
}

func (c *Client) Close() {
	c.once.Do(func() {
		close(c.done)
	})
}

// Done is closed once the client is closed.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) writeLoop() {
	ticker := time.NewTicker(c.ws.opts.pingPeriod())
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()
	for {
		select {
		case <-c.done:
			return
		case data := <-c.out:
			if err := c.ws.WriteMessage(data); err != nil {
				c.Close()
				return
			}
		case <-ticker.C:
			if err := c.ws.Ping(); err != nil {
				c.Close()
				return
			}
		}
	}
}
