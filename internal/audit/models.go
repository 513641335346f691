package audit

import (
	"time"

	"github.com/google/uuid"
)

// Status is the outcome of one source file's ingestion.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Event records the observable outcome of ingesting one source file:
// inserted-vs-updated fact counts plus the rejection tallies operators triage
// from.
type Event struct {
	ID              uuid.UUID
	BatchID         uuid.UUID
	Timestamp       time.Time
	SourceFile      string
	Status          Status
	Inserted        int
	Updated         int
	Rejected        int
	MappingFailures int
	Detail          string
}
