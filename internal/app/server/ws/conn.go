package ws

import (
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

// Options bound one connection's frames and liveness.
type Options struct {
	MaxFrameBytes int64
	WriteWait     time.Duration
	PongWait      time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxFrameBytes <= 0 {
		o.MaxFrameBytes = 64 * 1024
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	return o
}

// pingPeriod must stay below PongWait so a healthy peer never times out.
func (o Options) pingPeriod() time.Duration {
	return o.PongWait * 9 / 10
}

// WebSocket owns the reads of one gorilla connection. Writes go through Client.
type WebSocket struct {
	*websocket.Conn
	opts Options
	log  *slog.Logger
}

func NewWebSocket(conn *websocket.Conn, opts Options, log *slog.Logger) *WebSocket {
	return &WebSocket{Conn: conn, opts: opts.withDefaults(), log: log}
}

func (w *WebSocket) WriteMessage(data []byte) error {
	_ = w.Conn.SetWriteDeadline(time.Now().Add(w.opts.WriteWait))
	return w.Conn.WriteMessage(websocket.TextMessage, data)
}

func (w *WebSocket) Ping() error {
	return w.Conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(w.opts.WriteWait))
}

// ReadLoop blocks until the peer goes away, the pong deadline passes or a frame
// exceeds MaxFrameBytes. onPong runs for every pong received.
func (w *WebSocket) ReadLoop(onMsg func([]byte), onPong func()) {
	defer w.Close()
	w.Conn.SetReadLimit(w.opts.MaxFrameBytes)
	_ = w.Conn.SetReadDeadline(time.Now().Add(w.opts.PongWait))
	w.Conn.SetPongHandler(func(string) error {
		if onPong != nil {
			onPong()
		}
		return w.Conn.SetReadDeadline(time.Now().Add(w.opts.PongWait))
	})
	for {
		_, data, err := w.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				w.log.Warn("ws - read loop - unexpected close", "err", err)
			}
			return
		}
		if len(data) > 0 {
			onMsg(data)
		}
	}
}

func (w *WebSocket) Close() {
	_ = w.Conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	_ = w.Conn.Close()
}
