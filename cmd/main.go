package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"eventbuddy/internal/app/presence"
	"eventbuddy/internal/app/registry"
	"eventbuddy/internal/app/server"
	"eventbuddy/internal/app/server/handlers"
	"eventbuddy/internal/app/worker"
	"eventbuddy/internal/config"
	"eventbuddy/internal/core/contracts"
	"eventbuddy/internal/core/domain"
	"eventbuddy/internal/core/services"
	"eventbuddy/internal/platform/logger"
	"eventbuddy/internal/platform/metrics"
	"eventbuddy/internal/platform/telemetry"
	"eventbuddy/internal/plugins/directory"
	"eventbuddy/internal/plugins/kafka"
	"eventbuddy/internal/plugins/memory"
	"eventbuddy/internal/plugins/postgres"
	redisPlugin "eventbuddy/internal/plugins/redis"
	"eventbuddy/internal/plugins/twilio"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// stores is the persistence side picked by STORE_BACKEND.
type stores struct {
	conversations domain.ConversationRepository
	messages      domain.MessageRepository
	reactions     domain.ReactionRepository
	receipts      domain.ReadReceiptRepository
	tx            domain.Transactor
	queue         contracts.NotificationQueue
	lastSeen      contracts.LastSeenStore
	checks        map[string]handlers.Check
	close         func()
}

func main() {
	if err := run(); err != nil {
		slog.Error("application stopped", "err", err)
		os.Exit(1)
	}
}

func run() error {
	// Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Config
	cfg := config.Load()

	// Logger
	log := logger.NewLogger(*cfg)
	log.Info("starting application", "store", cfg.Store.Backend, "push_sink", cfg.Push.Sink)
	if cfg.Auth.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	otelShutdown, err := telemetry.InitTelemetry(ctx, *cfg)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("flushing telemetry...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			log.Error("telemetry shutdown failed", "err", err)
		}
	}()

	// Infra
	st, err := openStores(ctx, log, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	sink, closeSink, err := openPushSink(log, cfg)
	if err != nil {
		return err
	}
	defer closeSink()
	events := directory.NewClient(*cfg.Directory)

	// Core Services
	tracker := presence.NewTracker()
	hub := registry.NewRegistry(log, tracker, m)
	timeout := cfg.PersistTimeout
	convSvc := services.NewConversationService(log, st.conversations, events, timeout)
	unreadSvc := services.NewUnreadService(log, hub, convSvc, st.messages, st.receipts, st.queue, m, timeout)
	msgSvc := services.NewMessageService(log, hub, convSvc, unreadSvc, st.messages, st.tx, m, timeout)
	reactionSvc := services.NewReactionService(log, hub, convSvc, st.messages, st.reactions, st.tx, m, timeout)
	managerSvc := services.NewManagerService(log, hub, tracker, st.lastSeen, convSvc, msgSvc, reactionSvc, unreadSvc, st.messages, m, timeout)
	tokenSvc := services.NewTokenService(cfg.Auth.Secret, cfg.Auth.Issuer, cfg.Auth.Validity)

	wrkr := worker.NewNotificationWorker(log, st.queue, sink, m, cfg.Worker.NotificationGroup)
	srv := server.NewServer(log, *cfg, tokenSvc, managerSvc, msgSvc, unreadSvc, m, st.checks)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Start(gctx) })
	g.Go(func() error { return wrkr.Run(gctx) })
	return g.Wait()
}

func openStores(ctx context.Context, log *slog.Logger, cfg *config.Config) (*stores, error) {
	if cfg.Store.Backend == "memory" {
		store := memory.New()
		log.Warn("using in-memory store, data is lost on restart")
		return &stores{
			conversations: store,
			messages:      store,
			reactions:     store,
			receipts:      store,
			tx:            store,
			queue:         memory.NewQueue(cfg.Worker.ClaimIdle),
			lastSeen:      memory.NewLastSeen(),
			checks:        map[string]handlers.Check{},
			close:         func() {},
		}, nil
	}
	pdb, err := postgres.New(ctx, *cfg.Postgres)
	if err != nil {
		log.Error("postgres connection failed", "err", err)
		return nil, err
	}
	log.Info("postgres connected")
	var rdb *redis.Client
	if rdb, err = redisPlugin.Connect(ctx, *cfg.Redis); err != nil {
		pdb.Close()
		log.Error("redis connection failed", "url", cfg.Redis.URL, "err", err)
		return nil, err
	}
	log.Info("redis connected")
	return &stores{
		conversations: postgres.NewConversationRepo(pdb),
		messages:      postgres.NewMessageRepo(pdb),
		reactions:     postgres.NewReactionRepo(pdb),
		receipts:      postgres.NewReadReceiptRepo(pdb),
		tx:            postgres.NewTxManager(pdb),
		queue:         redisPlugin.NewNotificationQueue(log, rdb, cfg.Redis.Stream, cfg.Redis.StreamMaxLen, cfg.Worker.Consumer, cfg.Worker.ClaimIdle),
		lastSeen:      redisPlugin.NewLastSeenStore(rdb),
		checks: map[string]handlers.Check{
			"postgres": pdb.PingContext,
			"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		},
		close: func() {
			_ = rdb.Close()
			_ = pdb.Close()
		},
	}, nil
}

func openPushSink(log *slog.Logger, cfg *config.Config) (contracts.PushSink, func(), error) {
	switch cfg.Push.Sink {
	case "kafka":
		sink := kafka.NewPushSink(log, *cfg.Kafka)
		return sink, func() { _ = sink.Close() }, nil
	case "twilio":
		return twilio.NewSMSSink(log, *cfg.Twilio), func() {}, nil
	case "log", "":
		return memory.NewLogPushSink(log), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown PUSH_SINK %q", cfg.Push.Sink)
	}
}
