package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/lborres/kasal"
	fiberadapter "github.com/lborres/kasal/adapters/fiber"
	googleadapter "github.com/lborres/kasal/adapters/google"
	"github.com/lborres/kasal/adapters/memory"
	pgxadapter "github.com/lborres/kasal/adapters/pgx"
	redisadapter "github.com/lborres/kasal/adapters/redis"
	"github.com/lborres/kasal/core"
	"github.com/lborres/kasal/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("failed to load configuration", zap.Error(err))
	}

	log, err := newLogger(cfg)
	if err != nil {
		zap.NewExample().Fatal("failed to build logger", zap.Error(err))
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited", zap.Error(err))
		stop()
		os.Exit(1)
	}
	log.Info("server stopped gracefully")
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	zcfg := zap.NewDevelopmentConfig()
	if cfg.IsProduction() {
		zcfg = zap.NewProductionConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}

func logFormat() string {
	format := []string{
		"${time}|${requestid}",
		"${status}|${latency}",
		"${ip}:${port}",
		"${bytesReceived}|${bytesSent}",
		"${method}|${path}",
		"${errors}",
	}
	return strings.Join(format, "|") + "\n"
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	kcfg := kasal.Config{
		SessionConfig: &kasal.SessionConfig{MaxAge: cfg.SessionMaxAge},
		Cache:         kasal.CacheConfig{TTL: cfg.CacheTTL, MaxSize: cfg.CacheMaxSize},
		ResetTokenTTL: cfg.ResetTokenTTL,
		BasePath:      cfg.BasePath,
		Logger:        log,
	}

	switch cfg.Storage {
	case config.StoragePostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := pgxadapter.Migrate(ctx, pool); err != nil {
			return err
		}
		docs := pgxadapter.NewDocuments(pool, log)
		defer docs.Close()
		go func() {
			if err := docs.Listen(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("document change listener stopped", zap.Error(err))
			}
		}()
		storage := pgxadapter.New(pool, log)
		go func() {
			if err := storage.Listen(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("session revocation listener stopped", zap.Error(err))
			}
		}()
		kcfg.Storage = storage
		kcfg.Documents = docs
	default:
		log.Warn("using in-memory storage, data is lost on restart")
		docs := memory.NewDocuments()
		defer docs.Close()
		kcfg.Storage = memory.NewStorage()
		kcfg.Documents = docs
	}

	if cfg.RedisURL != "" {
		rdb, err := redisadapter.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer rdb.Close()
		cacheConfig := core.CacheConfig{TTL: cfg.CacheTTL, MaxSize: cfg.CacheMaxSize}
		kcfg.SessionCache = redisadapter.New[*core.Session](rdb, "kasal:sessions", cacheConfig)
		kcfg.ProfileCache = redisadapter.New[*core.Profile](rdb, "kasal:profiles", cacheConfig)
	}

	if cfg.GoogleClientID != "" {
		kcfg.Verifiers = map[string]core.TokenVerifier{
			core.ProviderGoogle: googleadapter.NewVerifier(cfg.GoogleClientID),
		}
	}

	app := fiber.New()
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format:     logFormat(),
		TimeFormat: "2006/01/02 15:04:05",
		TimeZone:   "Local",
	}))
	kcfg.HTTP = fiberadapter.New(app)

	k, err := kasal.New(kcfg)
	if err != nil {
		return err
	}
	if err := k.Start(ctx, cfg.SweepInterval); err != nil {
		return err
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("starting kasal server", zap.String("addr", cfg.Addr()), zap.String("storage", cfg.Storage))
		serverErr <- app.Listen(cfg.Addr(), fiber.ListenConfig{DisableStartupMessage: true})
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down server")
	case err := <-serverErr:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return app.ShutdownWithContext(shutdownCtx)
}
