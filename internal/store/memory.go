package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/yourorg/conveyor/internal/domain"
)

// Memory is an in-process Store with the same claim semantics as Postgres:
// claims partition the waiting set under the mutex, terminal updates are
// fenced on running state. It backs the unit tests and single-process
// deployments that do not need durability.
type Memory struct {
	mu     sync.Mutex
	nextID int64
	jobs   map[int64]domain.Job
}

func NewMemory() *Memory {
	return &Memory{jobs: make(map[int64]domain.Job)}
}

func (s *Memory) Insert(_ context.Context, payload []byte) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(payload), nil
}

func (s *Memory) InsertMany(_ context.Context, payloads [][]byte) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make([]domain.Job, 0, len(payloads))
	for _, p := range payloads {
		jobs = append(jobs, s.insertLocked(p))
	}
	return jobs, nil
}

func (s *Memory) insertLocked(payload []byte) domain.Job {
	s.nextID++
	now := time.Now().UTC()
	job := domain.Job{
		ID:        s.nextID,
		Payload:   append([]byte(nil), payload...),
		Status:    domain.StatusWaiting,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.jobs[job.ID] = job
	return job
}

func (s *Memory) Claim(_ context.Context, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	waiting := make([]int64, 0)
	for id, job := range s.jobs {
		if job.Status == domain.StatusWaiting {
			waiting = append(waiting, id)
		}
	}
	// Insertion order, same as the Postgres ORDER BY id.
	sort.Slice(waiting, func(i, j int) bool { return waiting[i] < waiting[j] })
	if len(waiting) > limit {
		waiting = waiting[:limit]
	}

	claimed := make([]domain.Job, 0, len(waiting))
	for _, id := range waiting {
		job := s.jobs[id]
		job.Status = domain.StatusRunning
		job.UpdatedAt = time.Now().UTC()
		s.jobs[id] = job
		claimed = append(claimed, job)
	}
	return claimed, nil
}

func (s *Memory) UpdateStatus(_ context.Context, id int64, status domain.Status) (bool, error) {
	if !status.Terminal() {
		return false, fmt.Errorf("update status: %q is not terminal", status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok || job.Status != domain.StatusRunning {
		return false, nil
	}
	job.Status = status
	job.UpdatedAt = time.Now().UTC()
	s.jobs[id] = job
	return true, nil
}

func (s *Memory) Get(_ context.Context, id int64) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, ErrJobNotFound
	}
	return job, nil
}

func (s *Memory) ReapStale(_ context.Context, maxAge time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().Add(-maxAge)
	var moved int64
	for id, job := range s.jobs {
		if job.Status == domain.StatusRunning && job.UpdatedAt.Before(cutoff) {
			job.Status = domain.StatusWaiting
			job.UpdatedAt = time.Now().UTC()
			s.jobs[id] = job
			moved++
		}
	}
	return moved, nil
}
