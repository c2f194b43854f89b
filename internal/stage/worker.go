package stage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/GabrielNunesIT/logpipe/internal/model"
	"github.com/GabrielNunesIT/logpipe/internal/workerpool"
)

// WorkerStage offloads batches of records to the worker pool. Records are
// buffered until the batch size is reached, dispatched as one task, and the
// stage blocks on the task's future before emitting the results. Blocking
// here is deliberate: the pipeline loop cannot outrun the workers, which
// keeps ordering intact and makes the pool a backpressure point.
type WorkerStage struct {
	pool      *workerpool.Pool
	taskType  workerpool.TaskType
	batchSize int
	buf       []model.Record
}

// NewWorker creates a stage dispatching taskType batches to the pool.
func NewWorker(pool *workerpool.Pool, taskType workerpool.TaskType, batchSize int) *WorkerStage {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &WorkerStage{
		pool:      pool,
		taskType:  taskType,
		batchSize: batchSize,
		buf:       make([]model.Record, 0, batchSize),
	}
}

func (s *WorkerStage) Name() string {
	return fmt.Sprintf("worker(%s)", s.taskType)
}

// Process buffers one record, dispatching a batch once full.
func (s *WorkerStage) Process(ctx context.Context, rec model.Record, emit EmitFunc) error {
	s.buf = append(s.buf, rec)
	if len(s.buf) >= s.batchSize {
		return s.dispatch(ctx, emit)
	}
	return nil
}

// Flush dispatches any partial batch at end of stream.
func (s *WorkerStage) Flush(ctx context.Context, emit EmitFunc) error {
	if len(s.buf) == 0 {
		return nil
	}
	return s.dispatch(ctx, emit)
}

func (s *WorkerStage) dispatch(ctx context.Context, emit EmitFunc) error {
	batch := s.buf
	s.buf = make([]model.Record, 0, s.batchSize)

	future, err := s.pool.Submit(workerpool.NewBatchTask(s.taskType, batch))
	if err != nil {
		return fmt.Errorf("submitting %s batch: %w", s.taskType, err)
	}

	var res workerpool.Result
	select {
	case res = <-future:
	case <-ctx.Done():
		return ctx.Err()
	}
	if res.Err != nil {
		return fmt.Errorf("%s batch failed: %w", s.taskType, res.Err)
	}

	for _, out := range res.Records {
		if err := emit(out); err != nil {
			return err
		}
	}
	return nil
}

// HashHandler returns a pool handler that annotates each record with the
// hex SHA-256 of its canonical JSON encoding, under the "hash" key.
func HashHandler() workerpool.Handler {
	return func(ctx context.Context, records []model.Record) ([]model.Record, error) {
		for _, rec := range records {
			data, err := json.Marshal(rec)
			if err != nil {
				return nil, fmt.Errorf("encoding record for hashing: %w", err)
			}
			sum := sha256.Sum256(data)
			rec.Set("hash", hex.EncodeToString(sum[:]))
		}
		return records, nil
	}
}
