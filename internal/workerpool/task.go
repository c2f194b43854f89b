package workerpool

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/GabrielNunesIT/logpipe/internal/model"
)

// TaskType identifies which registered handler executes a task.
type TaskType string

// Built-in task types used by the pipeline's offloaded stages.
const (
	TaskFilter    TaskType = "filter"
	TaskTransform TaskType = "transform"
	TaskHash      TaskType = "hash"
)

// Task is a unit of work dispatched to a single worker. A batch task carries
// multiple records but is still one dispatch unit: it never splits across
// workers.
type Task struct {
	ID      string
	Type    TaskType
	Records []model.Record
	IsBatch bool
}

// NewTask creates a single-record task with a unique id.
func NewTask(taskType TaskType, rec model.Record) *Task {
	return &Task{
		ID:      uuid.NewString(),
		Type:    taskType,
		Records: []model.Record{rec},
	}
}

// NewBatchTask creates a batch task with a unique id.
func NewBatchTask(taskType TaskType, records []model.Record) *Task {
	return &Task{
		ID:      uuid.NewString(),
		Type:    taskType,
		Records: records,
		IsBatch: true,
	}
}

// Result is the outcome of one task. Callers correlate by TaskID, not by
// completion order: concurrently in-flight tasks may finish out of order.
type Result struct {
	TaskID   string
	Records  []model.Record
	Err      error
	Duration time.Duration
	WorkerID int
}

// Handler executes a task's payload on a worker.
//
// For transform and hash tasks the returned slice must have the same length
// and order as the input; the pool rejects mismatched results. Filter
// handlers return the kept subset in input order.
type Handler func(ctx context.Context, records []model.Record) ([]model.Record, error)
