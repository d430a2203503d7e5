// cmd/server — HTTP enqueue API, listens on the configured port.
package main

import (
	"context"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/yourorg/conveyor/internal/config"
	"github.com/yourorg/conveyor/internal/db"
	"github.com/yourorg/conveyor/internal/httpapi"
	"github.com/yourorg/conveyor/internal/inflight"
	"github.com/yourorg/conveyor/internal/migrate"
	"github.com/yourorg/conveyor/internal/notify"
	"github.com/yourorg/conveyor/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		logger.Error("load config failed", "err", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	logger.Info("connecting to database", "url", cfg.Database.URL)
	pool, err := db.Connect(ctx, cfg.Database.URL)
	if err != nil {
		logger.Error("connect to database failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

	if err := migrate.Run(ctx, pool, logger); err != nil {
		logger.Error("run migrations failed", "err", err)
		os.Exit(1)
	}

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		logger.Error("parse redis URL failed", "err", err, "url", cfg.Redis.URL)
		os.Exit(1)
	}
	rc := redis.NewClient(redisOpts)
	defer rc.Close()

	logger.Info("connecting to redis", "url", cfg.Redis.URL)
	if err := rc.Ping(ctx).Err(); err != nil {
		logger.Error("redis ping failed", "err", err)
		os.Exit(1)
	}
	logger.Info("redis connected")

	st := store.NewPostgres(pool)
	notifier := notify.NewRedis(rc, logger)
	tracker := inflight.NewRedis(rc)

	app := httpapi.NewServer(st, notifier, tracker, logger).App()
	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))

	logger.Info("http server listening", "addr", addr)
	go func() {
		if err := app.Listen(addr); err != nil {
			logger.Error("http serve error", "err", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received, stopping http server")
	if err := app.Shutdown(); err != nil {
		logger.Warn("http shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
