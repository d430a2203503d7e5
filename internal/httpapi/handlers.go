package httpapi

import (
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/yourorg/conveyor/internal/queue"
	"github.com/yourorg/conveyor/internal/store"
	"github.com/yourorg/conveyor/internal/task"
)

type SubmitRequest struct {
	Handler string          `json:"handler"`
	Args    json.RawMessage `json:"args,omitempty"`
}

type SubmitResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	JobID   int64  `json:"jobId,omitempty"`
	Status  string `json:"status,omitempty"`
}

type SubmitBatchRequest struct {
	Jobs []SubmitRequest `json:"jobs"`
}

type SubmitBatchItem struct {
	JobID  int64  `json:"jobId"`
	Status string `json:"status"`
}

type SubmitBatchResponse struct {
	Success bool              `json:"success"`
	Error   string            `json:"error,omitempty"`
	Jobs    []SubmitBatchItem `json:"jobs,omitempty"`
}

type JobDetail struct {
	ID        int64     `json:"id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type JobDetailResponse struct {
	Success bool       `json:"success"`
	Error   string     `json:"error,omitempty"`
	Job     *JobDetail `json:"job,omitempty"`
}

type HealthResponse struct {
	OK       bool  `json:"ok"`
	Inflight int64 `json:"inflight"`
}

func (s *Server) healthHandler(c *fiber.Ctx) error {
	n, err := s.tracker.Count(c.Context())
	if err != nil {
		// The gauge is informational; a redis hiccup does not make the
		// process unhealthy.
		s.logger.Warn("inflight count failed", "err", err)
		n = 0
	}
	return c.JSON(HealthResponse{OK: true, Inflight: n})
}

func (s *Server) submitHandler(c *fiber.Ctx) error {
	var req SubmitRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(SubmitResponse{
			Success: false, Error: "invalid request body",
		})
	}

	payload, err := task.EncodePayload(req.Handler, req.Args)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(SubmitResponse{
			Success: false, Error: err.Error(),
		})
	}

	ack, err := queue.Enqueue(c.Context(), s.store, s.notifier, payload)
	if err != nil {
		s.logger.Error("enqueue failed", "err", err)
		return c.Status(fiber.StatusInternalServerError).JSON(SubmitResponse{
			Success: false, Error: "enqueue failed",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(SubmitResponse{
		Success: true,
		JobID:   ack.JobID,
		Status:  string(ack.Status),
	})
}

func (s *Server) submitBatchHandler(c *fiber.Ctx) error {
	var req SubmitBatchRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(SubmitBatchResponse{
			Success: false, Error: "invalid request body",
		})
	}
	if len(req.Jobs) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(SubmitBatchResponse{
			Success: false, Error: "at least one job is required",
		})
	}

	payloads := make([][]byte, 0, len(req.Jobs))
	for i, j := range req.Jobs {
		payload, err := task.EncodePayload(j.Handler, j.Args)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(SubmitBatchResponse{
				Success: false,
				Error:   "job " + strconv.Itoa(i) + ": " + err.Error(),
			})
		}
		payloads = append(payloads, payload)
	}

	acks, err := queue.EnqueueMany(c.Context(), s.store, s.notifier, payloads)
	if err != nil {
		s.logger.Error("batch enqueue failed", "err", err)
		return c.Status(fiber.StatusInternalServerError).JSON(SubmitBatchResponse{
			Success: false, Error: "enqueue failed",
		})
	}

	items := make([]SubmitBatchItem, 0, len(acks))
	for _, ack := range acks {
		items = append(items, SubmitBatchItem{
			JobID:  ack.JobID,
			Status: string(ack.Status),
		})
	}
	return c.Status(fiber.StatusCreated).JSON(SubmitBatchResponse{
		Success: true, Jobs: items,
	})
}

func (s *Server) jobDetailHandler(c *fiber.Ctx) error {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(JobDetailResponse{
			Success: false, Error: "invalid job id",
		})
	}

	job, err := s.store.Get(c.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(JobDetailResponse{
				Success: false, Error: "job not found",
			})
		}
		s.logger.Error("job lookup failed", "job_id", id, "err", err)
		return c.Status(fiber.StatusInternalServerError).JSON(JobDetailResponse{
			Success: false, Error: "lookup failed",
		})
	}

	return c.JSON(JobDetailResponse{
		Success: true,
		Job: &JobDetail{
			ID:        job.ID,
			Status:    string(job.Status),
			CreatedAt: job.CreatedAt,
			UpdatedAt: job.UpdatedAt,
		},
	})
}
