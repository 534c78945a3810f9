package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"dualauth/internal/auth"
	"dualauth/internal/config"
	"dualauth/internal/events"
	"dualauth/internal/handler"
	"dualauth/internal/service"
	"dualauth/internal/storage"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func main() {
	//PARSE ARGS
	var (
		configPath string
		inMemory   bool
	)
	flag.StringVar(&configPath, "config", os.Getenv("CONFIG_PATH"), "path to the yaml config")
	flag.BoolVar(&inMemory, "memory", false, "keep all data in process instead of postgres")

	flag.Parse()
	if configPath == "" {
		log.Fatal("failed get config path from flags")
	}

	// .env is optional
	_ = godotenv.Load()

	cfg := config.MustLoadConfig(configPath)

	//INIT LOGGER
	lgr := setupLogger(cfg.Env)
	lgr.Info("started auth service", slog.String("env", cfg.Env))

	if cfg.Env == envProd {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	issuer, err := auth.NewIssuer(cfg.JWT)
	if err != nil {
		lgr.Error("invalid signing configuration", slog.Any("error", err))
		os.Exit(1)
	}

	//INIT DB
	st, err := setupStorage(ctx, cfg.DB, inMemory, lgr)
	if err != nil {
		lgr.Error("failed to init storage", slog.Any("error", err))
		os.Exit(1)
	}
	defer st.Close()

	publisher := setupPublisher(cfg.AMQP, lgr)
	defer func() {
		if err := publisher.Close(); err != nil {
			lgr.Warn("failed to close event publisher", slog.Any("error", err))
		}
	}()

	rdb := setupRedis(ctx, cfg.Redis, lgr)
	if rdb != nil {
		defer rdb.Close()
	}

	sentryEnabled := setupSentry(cfg.Env, cfg.Sentry, lgr)
	if sentryEnabled {
		defer sentry.Flush(2 * time.Second)
	}

	srvc := service.NewService(cfg, st, issuer, publisher, lgr)
	h := handler.NewHandler(srvc, lgr, handler.Options{
		Redis:          rdb,
		RateLimit:      cfg.RateLimit,
		Sentry:         sentryEnabled,
		TrustedProxies: cfg.HTTPServer.TrustedProxies,
	})

	//INIT SERVER
	srv := &http.Server{
		Addr:         cfg.HTTPServer.Address,
		Handler:      h.InitRoutes(),
		ReadTimeout:  cfg.HTTPServer.ReadTimeout,
		WriteTimeout: cfg.HTTPServer.WriteTimeout,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}

	go func() {
		lgr.Info("server starting", slog.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lgr.Error("server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	lgr.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		lgr.Error("server shutdown error", slog.Any("error", err))
	}

	lgr.Info("server stopped")
}

func setupStorage(ctx context.Context, cfg config.DB, inMemory bool, lgr *slog.Logger) (storage.Storage, error) {
	if inMemory {
		lgr.Warn("using in-memory storage, data is lost on exit")
		return storage.NewMemoryStorage(), nil
	}

	pg, err := storage.NewPostgresStorage(ctx, cfg.DbURL)
	if err != nil {
		return nil, err
	}

	if cfg.Migrate {
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		lgr.Info("database schema applied")
	}

	return pg, nil
}

func setupPublisher(cfg config.AMQP, lgr *slog.Logger) events.Publisher {
	if cfg.URL == "" {
		lgr.Info("amqp url not set, events are dropped")
		return events.NopPublisher{}
	}

	pub, err := events.NewAMQPPublisher(cfg.URL, cfg.Exchange)
	if err != nil {
		lgr.Warn("failed to connect to broker, events are dropped", slog.Any("error", err))
		return events.NopPublisher{}
	}

	lgr.Info("publishing events", slog.String("exchange", cfg.Exchange))
	return pub
}

func setupRedis(ctx context.Context, cfg config.Redis, lgr *slog.Logger) *redis.Client {
	if cfg.Addr == "" {
		lgr.Info("redis addr not set, rate limiting disabled")
		return nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	// The limiter fails open, so an unreachable redis is not fatal.
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		lgr.Warn("redis ping failed", slog.String("addr", cfg.Addr), slog.Any("error", err))
	}

	return rdb
}

func setupSentry(env string, cfg config.Sentry, lgr *slog.Logger) bool {
	if cfg.DSN == "" {
		return false
	}

	if err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		EnableTracing:    cfg.TracesSampleRate > 0,
		TracesSampleRate: cfg.TracesSampleRate,
		Environment:      env,
	}); err != nil {
		lgr.Error("sentry init failed", slog.Any("error", err))
		return false
	}

	return true
}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	}
	return log
}
