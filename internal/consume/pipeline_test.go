package consume

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/yourorg/conveyor/internal/claim"
	"github.com/yourorg/conveyor/internal/dispatch"
	"github.com/yourorg/conveyor/internal/domain"
	"github.com/yourorg/conveyor/internal/produce"
	"github.com/yourorg/conveyor/internal/store"
	"github.com/yourorg/conveyor/internal/task"
)

// TestPipelineDrainsBacklog wires the full pipeline against the in-memory
// store: every enqueued job must reach a terminal status, and under
// partitioned dispatch no job may be executed twice.
func TestPipelineDrainsBacklog(t *testing.T) {
	const (
		jobCount  = 200
		consumers = 16
		batchSize = 4
		budget    = 50 * time.Millisecond
	)

	logger := slog.New(slog.DiscardHandler)
	s := store.NewMemory()
	coord := claim.NewCoordinator(s, logger)

	var mu sync.Mutex
	executions := make(map[int64]int)
	record := func(args json.RawMessage) error {
		var a struct {
			ID int64 `json:"id"`
		}
		if err := json.Unmarshal(args, &a); err != nil {
			return err
		}
		mu.Lock()
		executions[a.ID]++
		mu.Unlock()
		return nil
	}

	reg := task.NewRegistry()
	reg.Register("ok", func(_ context.Context, args json.RawMessage) error {
		return record(args)
	})
	reg.Register("boom", func(_ context.Context, args json.RawMessage) error {
		if err := record(args); err != nil {
			return err
		}
		return errors.New("boom")
	})
	reg.Register("slow", func(ctx context.Context, args json.RawMessage) error {
		if err := record(args); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}
	})

	handlers := []string{"ok", "boom", "slow"}
	wantOutcome := map[string]domain.Status{
		"ok":   domain.StatusSuccess,
		"boom": domain.StatusError,
		"slow": domain.StatusTimeout,
	}

	handlerByID := make(map[int64]string)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for i := 0; i < jobCount; i++ {
		handler := handlers[i%len(handlers)]
		// Job ids are assigned sequentially starting at 1.
		id := int64(i + 1)
		handlerByID[id] = handler
		payload, err := task.EncodePayload(handler,
			json.RawMessage(fmt.Sprintf(`{"id":%d}`, id)))
		if err != nil {
			t.Fatalf("encode payload: %v", err)
		}
		if _, err := s.Insert(ctx, payload); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	d := dispatch.NewPartitioned(logger)
	p := produce.New(coord, d, logger)
	d.Bind(p)

	go p.Run(ctx)
	for i := 0; i < consumers; i++ {
		c := New(d, coord, reg, nil, logger, budget, batchSize)
		go c.Run(ctx)
	}

	p.NotifyNewWork()

	deadline := time.After(15 * time.Second)
	for {
		done := true
		for id := int64(1); id <= jobCount; id++ {
			job, err := s.Get(ctx, id)
			if err != nil {
				t.Fatalf("get %d: %v", id, err)
			}
			if !job.Status.Terminal() {
				done = false
				break
			}
		}
		if done {
			break
		}
		select {
		case <-deadline:
			t.Fatal("backlog not drained in time")
		default:
			time.Sleep(20 * time.Millisecond)
		}
	}

	for id := int64(1); id <= jobCount; id++ {
		job, _ := s.Get(ctx, id)
		if want := wantOutcome[handlerByID[id]]; job.Status != want {
			t.Errorf("job %d (%s) ended %q, want %q",
				id, handlerByID[id], job.Status, want)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	for id, n := range executions {
		if n != 1 {
			t.Errorf("job %d executed %d times under partitioned dispatch", id, n)
		}
	}
	if len(executions) != jobCount {
		t.Errorf("executed %d distinct jobs, want %d", len(executions), jobCount)
	}

	if served := p.DemandServed(); served != jobCount {
		t.Errorf("demand served = %d, want %d", served, jobCount)
	}
}
