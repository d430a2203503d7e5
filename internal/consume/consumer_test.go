package consume

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/yourorg/conveyor/internal/claim"
	"github.com/yourorg/conveyor/internal/domain"
	"github.com/yourorg/conveyor/internal/store"
	"github.com/yourorg/conveyor/internal/task"
)

func testConsumer(t *testing.T, timeout time.Duration, reg *task.Registry) (*Consumer, store.Store) {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	s := store.NewMemory()
	coord := claim.NewCoordinator(s, logger)
	return New(nil, coord, reg, nil, logger, timeout, 2), s
}

// claimOne inserts a payload and claims it so the job is in running state,
// the way a consumer would receive it.
func claimOne(t *testing.T, s store.Store, payload []byte) domain.Job {
	t.Helper()
	if _, err := s.Insert(context.Background(), payload); err != nil {
		t.Fatalf("insert: %v", err)
	}
	jobs, err := s.Claim(context.Background(), 1)
	if err != nil || len(jobs) != 1 {
		t.Fatalf("claim: jobs=%d err=%v", len(jobs), err)
	}
	return jobs[0]
}

func mustPayload(t *testing.T, handler string, args string) []byte {
	t.Helper()
	var raw json.RawMessage
	if args != "" {
		raw = json.RawMessage(args)
	}
	p, err := task.EncodePayload(handler, raw)
	if err != nil {
		t.Fatalf("encode payload: %v", err)
	}
	return p
}

func TestExecuteOutcomes(t *testing.T) {
	reg := task.NewRegistry()
	reg.Register("ok", func(context.Context, json.RawMessage) error { return nil })
	reg.Register("boom", func(context.Context, json.RawMessage) error {
		return errors.New("boom")
	})
	reg.Register("panics", func(context.Context, json.RawMessage) error {
		panic("unexpected state")
	})
	reg.Register("hangs", func(ctx context.Context, _ json.RawMessage) error {
		<-ctx.Done()
		return ctx.Err()
	})

	cases := []struct {
		name    string
		payload []byte
		want    domain.Status
	}{
		{"success", mustPayload(t, "ok", ""), domain.StatusSuccess},
		{"handler error", mustPayload(t, "boom", ""), domain.StatusError},
		{"handler panic", mustPayload(t, "panics", ""), domain.StatusError},
		{"budget exceeded", mustPayload(t, "hangs", ""), domain.StatusTimeout},
		{"undecodable payload", []byte(`garbage`), domain.StatusError},
		{"unknown handler", mustPayload(t, "nonexistent", ""), domain.StatusError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, s := testConsumer(t, 50*time.Millisecond, reg)
			job := claimOne(t, s, tc.payload)
			got := c.execute(context.Background(), c.logger, job)
			if got != tc.want {
				t.Fatalf("outcome = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestExecuteTimeoutIsBounded(t *testing.T) {
	reg := task.NewRegistry()
	// Never returns, even when canceled.
	reg.Register("stuck", func(context.Context, json.RawMessage) error {
		select {}
	})

	const budget = 100 * time.Millisecond
	c, s := testConsumer(t, budget, reg)
	job := claimOne(t, s, mustPayload(t, "stuck", ""))

	start := time.Now()
	got := c.execute(context.Background(), c.logger, job)
	elapsed := time.Since(start)

	if got != domain.StatusTimeout {
		t.Fatalf("outcome = %q, want timeout", got)
	}
	if elapsed < budget {
		t.Fatalf("returned after %v, before the %v budget", elapsed, budget)
	}
	if elapsed > budget+200*time.Millisecond {
		t.Fatalf("returned after %v, budget %v plus overhead exceeded", elapsed, budget)
	}
}

func TestExecuteSlowJobEndsAsTimeout(t *testing.T) {
	reg := task.NewRegistry()
	reg.Register("sleep", func(ctx context.Context, _ json.RawMessage) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
			return nil
		}
	})

	c, s := testConsumer(t, 100*time.Millisecond, reg)
	job := claimOne(t, s, mustPayload(t, "sleep", ""))

	if got := c.execute(context.Background(), c.logger, job); got != domain.StatusTimeout {
		t.Fatalf("outcome = %q, want timeout", got)
	}
}

func TestShutdownDoesNotCancelRunningJob(t *testing.T) {
	reg := task.NewRegistry()
	// Honors cancellation, succeeds otherwise. A job that would finish
	// inside its budget must not be failed just because the worker is
	// shutting down.
	reg.Register("brief", func(ctx context.Context, _ json.RawMessage) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(20 * time.Millisecond):
			return nil
		}
	})

	c, s := testConsumer(t, 500*time.Millisecond, reg)
	job := claimOne(t, s, mustPayload(t, "brief", ""))

	runCtx, cancel := context.WithCancel(context.Background())
	cancel()

	c.process(runCtx, c.logger, job)

	got, err := s.Get(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.StatusSuccess {
		t.Fatalf("persisted status = %q, want success", got.Status)
	}
}

func TestProcessReportsOutcome(t *testing.T) {
	reg := task.NewRegistry()
	reg.Register("ok", func(context.Context, json.RawMessage) error { return nil })

	c, s := testConsumer(t, 50*time.Millisecond, reg)
	job := claimOne(t, s, mustPayload(t, "ok", ""))

	c.process(context.Background(), c.logger, job)

	got, err := s.Get(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.StatusSuccess {
		t.Fatalf("persisted status = %q, want success", got.Status)
	}
}
