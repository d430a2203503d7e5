package domain

import "time"

// Status is the lifecycle state of a job. The only legal transitions are
// waiting → running → {success, error, timeout}; terminal statuses are
// never revisited.
type Status string

const (
	StatusWaiting Status = "waiting"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusTimeout Status = "timeout"
)

// Terminal reports whether s is one of the three end states.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusError, StatusTimeout:
		return true
	}
	return false
}

// Job is the durable unit of work. ID is assigned by the store on insert;
// Payload is opaque to everything except the consumer that decodes it.
type Job struct {
	ID        int64
	Payload   []byte
	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
}
