// cmd/enqueue is a minimal submitter for smoke testing: it inserts one
// job (or a --count batch) and fires the new-work signal over redis.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/yourorg/conveyor/internal/config"
	"github.com/yourorg/conveyor/internal/db"
	"github.com/yourorg/conveyor/internal/migrate"
	"github.com/yourorg/conveyor/internal/notify"
	"github.com/yourorg/conveyor/internal/queue"
	"github.com/yourorg/conveyor/internal/store"
	"github.com/yourorg/conveyor/internal/task"
)

func main() {
	handler := flag.String("handler", "noop", "handler name")
	args := flag.String("args", "", "handler arguments as JSON")
	count := flag.Int("count", 1, "number of copies to enqueue")
	flag.Parse()

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	pool, err := db.Connect(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatalf("connect to database: %v", err)
	}
	defer pool.Close()

	if err := migrate.Run(ctx, pool, slogDiscard()); err != nil {
		log.Fatalf("run migrations: %v", err)
	}

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		log.Fatalf("parse redis URL: %v", err)
	}
	rc := redis.NewClient(redisOpts)
	defer rc.Close()

	var rawArgs json.RawMessage
	if *args != "" {
		rawArgs = json.RawMessage(*args)
	}
	payload, err := task.EncodePayload(*handler, rawArgs)
	if err != nil {
		log.Fatalf("encode payload: %v", err)
	}

	st := store.NewPostgres(pool)
	notifier := notify.NewRedis(rc, slogDiscard())

	if *count <= 1 {
		ack, err := queue.Enqueue(ctx, st, notifier, payload)
		if err != nil {
			log.Fatalf("enqueue: %v", err)
		}
		log.Printf("enqueued job_id=%d status=%s", ack.JobID, ack.Status)
		return
	}

	payloads := make([][]byte, *count)
	for i := range payloads {
		payloads[i] = payload
	}
	acks, err := queue.EnqueueMany(ctx, st, notifier, payloads)
	if err != nil {
		log.Fatalf("enqueue batch: %v", err)
	}
	log.Printf("enqueued %d jobs, first=%d last=%d",
		len(acks), acks[0].JobID, acks[len(acks)-1].JobID)
}

func slogDiscard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
