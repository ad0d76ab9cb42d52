package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"eventbuddy/internal/app/server/handlers"
	"eventbuddy/internal/config"
	"eventbuddy/internal/core/services"
	"eventbuddy/internal/platform/metrics"
	"eventbuddy/pkg/middleware"
)

type Server struct {
	mux          *http.ServeMux
	addr         string
	app          string
	log          *slog.Logger
	wsHandler    *handlers.WSHandler
	convHandler  *handlers.ConversationHandler
	health       *handlers.HealthHandler
	metrics      *metrics.Metrics
	tokenSvc     middleware.TokenValidator
	shutdownWait time.Duration
}

func NewServer(
	log *slog.Logger,
	cfg config.Config,
	tokenSvc middleware.TokenValidator,
	managerSvc services.IManagerService,
	messageSvc services.IMessageService,
	unreadSvc services.IUnreadService,
	m *metrics.Metrics,
	checks map[string]handlers.Check,
) *Server {
	s := &Server{
		mux:          http.NewServeMux(),
		addr:         cfg.Service.Add,
		app:          cfg.Service.Name,
		log:          log,
		wsHandler:    handlers.NewWSHandler(managerSvc, *cfg.Gateway),
		convHandler:  handlers.NewConversationHandler(messageSvc, unreadSvc, managerSvc),
		health:       handlers.NewHealthHandler(checks),
		metrics:      m,
		tokenSvc:     tokenSvc,
		shutdownWait: 10 * time.Second,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	auth := middleware.AuthMiddleware(s.tokenSvc)

	s.mux.HandleFunc("GET /healthz", s.health.Healthz)
	s.mux.Handle("GET /metrics", s.metrics.Handler())

	s.mux.Handle("/ws", auth(http.HandlerFunc(s.wsHandler.Handler)))
	s.mux.Handle("GET /conversations/{id}/messages", auth(http.HandlerFunc(s.convHandler.History)))
	s.mux.Handle("GET /conversations/{id}/unread", auth(http.HandlerFunc(s.convHandler.Unread)))
	s.mux.Handle("POST /conversations/{id}/read", auth(http.HandlerFunc(s.convHandler.MarkRead)))
	s.mux.Handle("POST /conversations/{id}/deactivate", auth(http.HandlerFunc(s.convHandler.Deactivate)))
	s.mux.Handle("GET /presence/{principal}", auth(http.HandlerFunc(s.convHandler.Presence)))
}

// Handler is the full middleware chain: tracing, then request logging, then routes.
func (s *Server) Handler() http.Handler {
	return middleware.TracerMiddleware(s.app)(middleware.RequestLogger(s.log)(s.mux))
}

// Start serves until ctx is done, then drains in-flight requests.
// WebSocket sessions are hijacked and are closed by their own read loops.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server - start - listening", "addr", s.addr)
		errCh <- server.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownWait)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.log.Info("server - shutdown - done")
	return nil
}
