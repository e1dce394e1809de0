package storage

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Job statuses.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// JobRecord is one rebalance run as persisted in rebalance_jobs.
type JobRecord struct {
	ID         uuid.UUID
	UserID     string
	Params     json.RawMessage
	Status     string
	Increase   json.RawMessage
	Decrease   json.RawMessage
	Result     json.RawMessage
	Error      *string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// JobOutcome is what FinishJob writes back.
type JobOutcome struct {
	Status   string
	Increase json.RawMessage
	Decrease json.RawMessage
	Result   json.RawMessage
	Error    *string
}
