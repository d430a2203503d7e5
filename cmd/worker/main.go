// cmd/worker — the dispatch pipeline: producer, dispatcher, consumer pool,
// sweeper, and the redis new-work listener.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yourorg/conveyor/internal/claim"
	"github.com/yourorg/conveyor/internal/config"
	"github.com/yourorg/conveyor/internal/consume"
	"github.com/yourorg/conveyor/internal/db"
	"github.com/yourorg/conveyor/internal/dispatch"
	"github.com/yourorg/conveyor/internal/inflight"
	"github.com/yourorg/conveyor/internal/migrate"
	"github.com/yourorg/conveyor/internal/notify"
	"github.com/yourorg/conveyor/internal/produce"
	"github.com/yourorg/conveyor/internal/store"
	"github.com/yourorg/conveyor/internal/sweeper"
	"github.com/yourorg/conveyor/internal/task"
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
	coord := claim.NewCoordinator(st, logger)

	var dispatcher dispatch.Dispatcher
	switch cfg.Pipeline.DispatchMode {
	case "broadcast":
		dispatcher = dispatch.NewBroadcast(logger)
	default:
		dispatcher = dispatch.NewPartitioned(logger)
	}

	producer := produce.New(coord, dispatcher, logger)
	dispatcher.Bind(producer)

	registry := task.NewRegistry()
	registerHandlers(registry)

	tracker := inflight.NewRedis(rc)
	consumers := cfg.ConsumerCount()

	logger.Info("pipeline starting",
		"consumers", consumers,
		"batch_size", cfg.Pipeline.BatchSize,
		"exec_timeout", cfg.ExecTimeout(),
		"dispatch_mode", cfg.Pipeline.DispatchMode,
		"handlers", registry.Names())

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		producer.Run(ctx)
	}()

	for i := 0; i < consumers; i++ {
		c := consume.New(dispatcher, coord, registry, tracker, logger,
			cfg.ExecTimeout(), cfg.Pipeline.BatchSize)
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Run(ctx)
		}()
	}

	// Cross-process enqueue signals.
	wg.Add(1)
	go func() {
		defer wg.Done()
		notify.Listen(ctx, rc, producer, logger)
	}()

	// Stale-running reconciliation; one winner per database.
	sw := sweeper.New(st, notify.NewLocal(producer), logger,
		cfg.SweepInterval(), cfg.SweepMaxAge())
	wg.Add(1)
	go func() {
		defer wg.Done()
		sw.RunElected(ctx, pool)
	}()

	// Kick off a first claim round in case a backlog accumulated while no
	// worker was running.
	producer.NotifyNewWork()

	<-ctx.Done()
	logger.Info("shutdown signal received, draining")

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(25 * time.Second):
		logger.Warn("drain timeout; stranded jobs will be swept")
	}

	logger.Info("shutdown complete", "demand_served", producer.DemandServed())
}

// registerHandlers wires the deployment's task handlers. The noop and
// sleep handlers stay in for smoke tests and load drills.
func registerHandlers(reg *task.Registry) {
	reg.Register("noop", func(ctx context.Context, args json.RawMessage) error {
		return nil
	})

	// sleep takes {"ms": 1500} and exercises the timeout budget.
	reg.Register("sleep", func(ctx context.Context, args json.RawMessage) error {
		var a struct {
			Ms int `json:"ms"`
		}
		if err := json.Unmarshal(args, &a); err != nil {
			return fmt.Errorf("sleep args: %w", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(a.Ms) * time.Millisecond):
			return nil
		}
	})

	// fail: always errors. Smoke-tests the error outcome path.
	reg.Register("fail", func(ctx context.Context, args json.RawMessage) error {
		return fmt.Errorf("simulated failure")
	})
}
