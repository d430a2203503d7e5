package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/yourorg/conveyor/internal/domain"
)

func insertN(t *testing.T, s Store, n int) []domain.Job {
	t.Helper()
	payloads := make([][]byte, n)
	for i := range payloads {
		payloads[i] = []byte(`{"handler":"noop"}`)
	}
	jobs, err := s.InsertMany(context.Background(), payloads)
	if err != nil {
		t.Fatalf("insert error: %v", err)
	}
	return jobs
}

func TestMemoryClaimPartitionsWaitingSet(t *testing.T) {
	s := NewMemory()
	insertN(t, s, 3)

	first, err := s.Claim(context.Background(), 2)
	if err != nil {
		t.Fatalf("claim error: %v", err)
	}
	if len(first) != 2 {
		t.Fatalf("claim(2) returned %d jobs, want 2", len(first))
	}
	for _, j := range first {
		if j.Status != domain.StatusRunning {
			t.Errorf("claimed job %d has status %q, want running", j.ID, j.Status)
		}
	}

	// Only one waiting job remains; an oversized claim gets exactly it.
	second, err := s.Claim(context.Background(), 5)
	if err != nil {
		t.Fatalf("claim error: %v", err)
	}
	if len(second) != 1 {
		t.Fatalf("claim(5) returned %d jobs, want 1", len(second))
	}
	for _, f := range first {
		if f.ID == second[0].ID {
			t.Fatalf("job %d claimed twice", f.ID)
		}
	}
}

func TestMemoryClaimEmptyAndZero(t *testing.T) {
	s := NewMemory()

	jobs, err := s.Claim(context.Background(), 4)
	if err != nil {
		t.Fatalf("claim error: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("claim on empty store returned %d jobs", len(jobs))
	}

	insertN(t, s, 2)
	jobs, err = s.Claim(context.Background(), 0)
	if err != nil {
		t.Fatalf("claim error: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("claim(0) returned %d jobs", len(jobs))
	}

	got, _ := s.Get(context.Background(), 1)
	if got.Status != domain.StatusWaiting {
		t.Fatalf("claim(0) had side effects: job 1 is %q", got.Status)
	}
}

func TestMemoryClaimConcurrentDisjoint(t *testing.T) {
	s := NewMemory()
	insertN(t, s, 100)

	const claimers = 10
	results := make([][]domain.Job, claimers)
	var wg sync.WaitGroup
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			jobs, err := s.Claim(context.Background(), 10)
			if err != nil {
				t.Errorf("claim error: %v", err)
				return
			}
			results[i] = jobs
		}(i)
	}
	wg.Wait()

	seen := make(map[int64]int)
	total := 0
	for _, jobs := range results {
		total += len(jobs)
		for _, j := range jobs {
			seen[j.ID]++
		}
	}
	if total != 100 {
		t.Fatalf("claimed %d jobs total, want 100", total)
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("job %d claimed %d times", id, n)
		}
	}
}

func TestMemoryUpdateStatusFenced(t *testing.T) {
	s := NewMemory()
	insertN(t, s, 1)

	// Terminal update on a waiting row must be refused.
	applied, err := s.UpdateStatus(context.Background(), 1, domain.StatusSuccess)
	if err != nil {
		t.Fatalf("update error: %v", err)
	}
	if applied {
		t.Fatal("terminal update applied to waiting job")
	}

	if _, err := s.Claim(context.Background(), 1); err != nil {
		t.Fatalf("claim error: %v", err)
	}

	applied, err = s.UpdateStatus(context.Background(), 1, domain.StatusSuccess)
	if err != nil || !applied {
		t.Fatalf("running→success not applied: applied=%v err=%v", applied, err)
	}

	// Terminal statuses are never revisited.
	applied, err = s.UpdateStatus(context.Background(), 1, domain.StatusError)
	if err != nil {
		t.Fatalf("update error: %v", err)
	}
	if applied {
		t.Fatal("terminal status overwritten")
	}
	got, _ := s.Get(context.Background(), 1)
	if got.Status != domain.StatusSuccess {
		t.Fatalf("status = %q, want success", got.Status)
	}
}

func TestMemoryUpdateStatusRejectsNonTerminal(t *testing.T) {
	s := NewMemory()
	insertN(t, s, 1)
	if _, err := s.UpdateStatus(context.Background(), 1, domain.StatusRunning); err == nil {
		t.Fatal("expected error for non-terminal status")
	}
}

func TestMemoryReapStale(t *testing.T) {
	s := NewMemory()
	insertN(t, s, 2)
	if _, err := s.Claim(context.Background(), 2); err != nil {
		t.Fatalf("claim error: %v", err)
	}

	// Nothing is stale yet.
	moved, err := s.ReapStale(context.Background(), time.Minute)
	if err != nil {
		t.Fatalf("reap error: %v", err)
	}
	if moved != 0 {
		t.Fatalf("reaped %d fresh jobs", moved)
	}

	time.Sleep(20 * time.Millisecond)
	moved, err = s.ReapStale(context.Background(), 10*time.Millisecond)
	if err != nil {
		t.Fatalf("reap error: %v", err)
	}
	if moved != 2 {
		t.Fatalf("reaped %d jobs, want 2", moved)
	}

	jobs, err := s.Claim(context.Background(), 5)
	if err != nil {
		t.Fatalf("claim error: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("reaped jobs not claimable again: got %d", len(jobs))
	}
}

func TestMemoryGetNotFound(t *testing.T) {
	s := NewMemory()
	if _, err := s.Get(context.Background(), 42); err != ErrJobNotFound {
		t.Fatalf("err = %v, want ErrJobNotFound", err)
	}
}

func TestMemoryInsertAssignsSequentialIDs(t *testing.T) {
	s := NewMemory()
	jobs := insertN(t, s, 3)
	for i, j := range jobs {
		if j.ID != int64(i+1) {
			t.Errorf("job %d has id %d, want %d", i, j.ID, i+1)
		}
		if j.Status != domain.StatusWaiting {
			t.Errorf("job %d inserted with status %q", j.ID, j.Status)
		}
	}
}
