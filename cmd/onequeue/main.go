package main

import (
	"context"
	"expvar"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/igm/sockjs-go/sockjs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/mystziel/OneQueue-PH/internal/announce"
	"github.com/mystziel/OneQueue-PH/internal/auth"
	"github.com/mystziel/OneQueue-PH/internal/config"
	"github.com/mystziel/OneQueue-PH/internal/httpapi"
	"github.com/mystziel/OneQueue-PH/internal/observability"
	"github.com/mystziel/OneQueue-PH/internal/queue"
	"github.com/mystziel/OneQueue-PH/internal/realtime"
	"github.com/mystziel/OneQueue-PH/internal/session"
	"github.com/mystziel/OneQueue-PH/internal/store/postgres"
	"github.com/mystziel/OneQueue-PH/internal/store/redisstore"
	"github.com/mystziel/OneQueue-PH/internal/telemetry"
)

func main() {
	cfg := config.Load()

	logger, err := observability.NewLogger(cfg.Logger.Level, cfg.Logger.Encoding)
	if err != nil {
		log.Fatalf("logger setup: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	shutdownTelemetry := telemetry.Setup("onequeue", logger)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	if cfg.Postgres.URL == "" {
		logger.Fatal("DB_DSN is required")
	}
	pool, err := pgxpool.New(context.Background(), cfg.Postgres.URL)
	if err != nil {
		logger.Fatal("db connect failed", zap.Error(err))
	}
	defer pool.Close()

	if err := postgres.RunMigrations(context.Background(), pool, cfg.Postgres.MigrationsDir, logger); err != nil {
		logger.Fatal("migrations failed", zap.Error(err))
	}

	st := postgres.NewStore(pool, postgres.Options{TicketPrefix: cfg.Queue.TicketPrefix})

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() { _ = redisClient.Close() }()
	sessionStore := redisstore.NewSessionStore(redisClient)
	if err := sessionStore.Ping(context.Background()); err != nil {
		logger.Warn("redis unreachable at startup", zap.Error(err))
	}

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	resolver := auth.New(st, sessionStore, tokens, cfg.Auth.TokenTTL, logger)

	hub := realtime.NewHub(logger)
	broadcaster := realtime.NewBroadcaster(st, hub, logger, realtime.Options{
		PollInterval: cfg.Queue.PollInterval,
		BatchSize:    cfg.Queue.BatchSize,
	})

	svc := queue.New(st, broadcaster)
	defer svc.Close()

	registry := session.NewRegistry(func() session.Queue {
		return queue.New(st, broadcaster)
	})
	defer registry.CloseAll()

	provider := announce.NewProvider(cfg.Queue.AnnounceProvider, cfg.Queue.AnnounceToken, logger)
	announcer := announce.New(st, provider, logger, announce.Config{
		Interval:  cfg.Queue.AnnounceInterval,
		BatchSize: cfg.Queue.BatchSize,
	})

	handler := httpapi.NewHandler(svc, resolver, registry, logger)
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute:    cfg.RateLimit.IPPerMinute,
		IPBurst:        cfg.RateLimit.IPBurst,
		TokenPerMinute: cfg.RateLimit.TokenPerMinute,
		TokenBurst:     cfg.RateLimit.TokenBurst,
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", expvar.Handler())
	mux.Handle("/realtime/", newRealtimeHandler(hub))
	mux.Handle("/", handler.Routes())

	server := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      otelhttp.NewHandler(httpapi.LoggingMiddleware(logger, limiter.Middleware(mux)), "onequeue"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go broadcaster.Run(ctx)
	go announcer.Start(ctx)

	go func() {
		logger.Info("listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}
}

// newRealtimeHandler exposes the hub over SockJS. The waiting-room display
// is public, so connections are anonymous; inbound messages are ignored.
func newRealtimeHandler(hub *realtime.Hub) http.Handler {
	return sockjs.NewHandler("/realtime", sockjs.DefaultOptions, func(conn sockjs.Session) {
		client := &realtime.Client{ID: uuid.NewString(), Send: make(chan []byte, 16)}
		hub.Register(client)
		defer hub.Unregister(client)

		go func() {
			for msg := range client.Send {
				_ = conn.Send(string(msg))
			}
		}()

		for {
			if _, err := conn.Recv(); err != nil {
				return
			}
		}
	})
}
