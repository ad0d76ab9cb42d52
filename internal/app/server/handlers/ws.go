package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"eventbuddy/internal/app/server/ws"
	"eventbuddy/internal/config"
	"eventbuddy/internal/core/domain"
	"eventbuddy/internal/core/services"
	"eventbuddy/pkg/logging"
	"eventbuddy/pkg/middleware"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

type WSHandler struct {
	manager  services.IManagerService
	cfg      config.GatewayConfig
	upgrader websocket.Upgrader
}

func NewWSHandler(manager services.IManagerService, cfg config.GatewayConfig) *WSHandler {
	allowed := make(map[string]struct{}, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		allowed[o] = struct{}{}
	}
	return &WSHandler{
		manager: manager,
		cfg:     cfg,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(allowed) == 0 {
					return true
				}
				_, ok := allowed[r.Header.Get("Origin")]
				return ok
			},
		},
	}
}

func (s *WSHandler) Handler(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	span := trace.SpanFromContext(r.Context())
	principal, ok := middleware.Principal(r.Context())
	if !ok {
		log.ErrorContext(r.Context(), "ws handler - unauthorised missing principal")
		http.Error(w, "Unauthorized: principal missing", http.StatusUnauthorized)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.ErrorContext(r.Context(), "ws handler - upgrade - ws upgrade failed", logging.Err(err))
		return
	}
	connID := uuid.NewString()
	span.SetAttributes(attribute.String("principal", principal), attribute.String("connection_id", connID))
	log = log.With(logging.Connection(connID))
	// The socket outlives the upgrade request.
	ctx := logging.WithContext(context.WithoutCancel(r.Context()), log)

	socket := ws.NewWebSocket(conn, ws.Options{
		MaxFrameBytes: s.cfg.MaxFrameBytes,
		WriteWait:     s.cfg.WriteWait,
		PongWait:      s.cfg.PongWait,
	}, log)
	var limiter *rate.Limiter
	if s.cfg.EventsPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.cfg.EventsPerSec), max(s.cfg.EventBurst, 1))
	}
	client := ws.NewClient(socket, connID, principal, s.cfg.SendBuffer, limiter)
	if err := s.manager.HandleConnect(ctx, client); err != nil {
		log.ErrorContext(ctx, "ws handler - handle connect - rejected", logging.Err(err))
		client.Close()
		return
	}
	defer s.manager.HandleDisconnect(ctx, connID)
	defer client.Close()
	log.InfoContext(ctx, "ws handler - ws connection established", logging.Principal(principal))

	// Frames of one connection are handled in arrival order.
	socket.ReadLoop(func(data []byte) {
		if !client.Allow() {
			s.throttle(ctx, log, client)
			return
		}
		s.manager.HandleMessage(ctx, client, data)
	}, func() {
		s.manager.HandleHeartbeat(connID)
	})
	log.InfoContext(ctx, "ws handler - read loop - connection closed")
}

func (s *WSHandler) throttle(ctx context.Context, log *slog.Logger, client *ws.Client) {
	frame, _ := json.Marshal(domain.ErrorMessage{
		Type:      domain.TypeError,
		Code:      domain.ErrorCode(domain.ErrRateLimited),
		Message:   domain.ErrRateLimited.Error(),
		Retryable: true,
	})
	if err := client.Send(ctx, frame); err != nil {
		log.WarnContext(ctx, "ws handler - throttle - dropping client", logging.Err(err))
		client.Close()
	}
}
