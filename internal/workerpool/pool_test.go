package workerpool

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GabrielNunesIT/logpipe/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func upperHandler(ctx context.Context, records []model.Record) ([]model.Record, error) {
	out := make([]model.Record, len(records))
	for i, rec := range records {
		clone := rec.Clone()
		if msg, ok := clone.GetString("message"); ok {
			clone.Set("message", strings.ToUpper(msg))
		}
		out[i] = clone
	}
	return out, nil
}

func newTestPool(t *testing.T, workers int, handlers map[TaskType]Handler) *Pool {
	t.Helper()
	if handlers == nil {
		handlers = map[TaskType]Handler{TaskTransform: upperHandler}
	}
	p, err := New(workers, handlers, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = p.Shutdown(ctx, true)
	})
	return p
}

func awaitResult(t *testing.T, future <-chan Result) Result {
	t.Helper()
	select {
	case res := <-future:
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for task result")
		return Result{}
	}
}

func TestPool_New_RequiresHandlers(t *testing.T) {
	_, err := New(2, nil, testLogger())
	assert.Error(t, err)
}

func TestPool_SingleTask(t *testing.T) {
	p := newTestPool(t, 2, nil)

	future, err := p.Submit(NewTask(TaskTransform, model.Record{"message": "hello"}))
	require.NoError(t, err)

	res := awaitResult(t, future)
	require.NoError(t, res.Err)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "HELLO", res.Records[0]["message"])
	assert.NotZero(t, res.TaskID)
}

func TestPool_AllFuturesResolveExactlyOnce(t *testing.T) {
	const tasks = 50
	p := newTestPool(t, 4, nil)

	futures := make([]<-chan Result, 0, tasks)
	for i := 0; i < tasks; i++ {
		f, err := p.Submit(NewTask(TaskTransform, model.Record{"message": "x"}))
		require.NoError(t, err)
		futures = append(futures, f)
	}

	for _, f := range futures {
		res := awaitResult(t, f)
		assert.NoError(t, res.Err)
	}

	stats := p.Stats()
	assert.Equal(t, uint64(tasks), stats.Submitted)
	assert.Equal(t, uint64(tasks), stats.Completed+stats.Errored)
	assert.Equal(t, uint64(tasks), stats.Completed)
	assert.Zero(t, stats.QueueDepth)
	assert.Positive(t, stats.AvgProcessingTime)
}

func TestPool_BatchTask_PreservesOrder(t *testing.T) {
	p := newTestPool(t, 2, nil)

	batch := []model.Record{
		{"message": "a"},
		{"message": "b"},
		{"message": "c"},
	}
	future, err := p.Submit(NewBatchTask(TaskTransform, batch))
	require.NoError(t, err)

	res := awaitResult(t, future)
	require.NoError(t, res.Err)
	require.Len(t, res.Records, 3)
	assert.Equal(t, "A", res.Records[0]["message"])
	assert.Equal(t, "B", res.Records[1]["message"])
	assert.Equal(t, "C", res.Records[2]["message"])
}

func TestPool_HandlerError(t *testing.T) {
	boom := errors.New("boom")
	handlers := map[TaskType]Handler{
		TaskTransform: func(ctx context.Context, records []model.Record) ([]model.Record, error) {
			return nil, boom
		},
	}
	p := newTestPool(t, 1, handlers)

	future, err := p.Submit(NewTask(TaskTransform, model.Record{}))
	require.NoError(t, err)

	res := awaitResult(t, future)
	assert.ErrorIs(t, res.Err, boom)

	stats := p.Stats()
	assert.Equal(t, uint64(1), stats.Errored)
	assert.Zero(t, stats.Completed)
}

func TestPool_UnknownTaskType(t *testing.T) {
	p := newTestPool(t, 1, nil)

	future, err := p.Submit(NewTask(TaskHash, model.Record{}))
	require.NoError(t, err)

	res := awaitResult(t, future)
	assert.ErrorIs(t, res.Err, ErrUnknownTaskType)
}

func TestPool_BatchLengthMismatch(t *testing.T) {
	handlers := map[TaskType]Handler{
		TaskTransform: func(ctx context.Context, records []model.Record) ([]model.Record, error) {
			return records[:1], nil
		},
	}
	p := newTestPool(t, 1, handlers)

	future, err := p.Submit(NewBatchTask(TaskTransform, []model.Record{{}, {}}))
	require.NoError(t, err)

	res := awaitResult(t, future)
	assert.ErrorIs(t, res.Err, ErrBatchLength)
}

func TestPool_FilterMayShrinkBatch(t *testing.T) {
	handlers := map[TaskType]Handler{
		TaskFilter: func(ctx context.Context, records []model.Record) ([]model.Record, error) {
			var kept []model.Record
			for _, rec := range records {
				if rec["level"] == "ERROR" {
					kept = append(kept, rec)
				}
			}
			return kept, nil
		},
	}
	p := newTestPool(t, 1, handlers)

	batch := []model.Record{
		{"level": "INFO"},
		{"level": "ERROR"},
		{"level": "WARN"},
	}
	future, err := p.Submit(NewBatchTask(TaskFilter, batch))
	require.NoError(t, err)

	res := awaitResult(t, future)
	require.NoError(t, res.Err)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "ERROR", res.Records[0]["level"])
}

func TestPool_WorkerCrashFailsFutureAndReplacesWorker(t *testing.T) {
	handlers := map[TaskType]Handler{
		TaskTransform: func(ctx context.Context, records []model.Record) ([]model.Record, error) {
			if _, ok := records[0]["explode"]; ok {
				panic("deliberate crash")
			}
			return records, nil
		},
	}
	p := newTestPool(t, 1, handlers)

	crashed, err := p.Submit(NewTask(TaskTransform, model.Record{"explode": true}))
	require.NoError(t, err)

	res := awaitResult(t, crashed)
	assert.ErrorIs(t, res.Err, ErrWorkerCrashed)

	// The replacement worker in the same slot keeps serving tasks.
	healthy, err := p.Submit(NewTask(TaskTransform, model.Record{"message": "ok"}))
	require.NoError(t, err)

	res = awaitResult(t, healthy)
	require.NoError(t, res.Err)
	assert.Equal(t, "ok", res.Records[0]["message"])

	stats := p.Stats()
	assert.Equal(t, uint64(2), stats.Submitted)
	assert.Equal(t, uint64(1), stats.Completed)
	assert.Equal(t, uint64(1), stats.Errored)
}

func TestPool_GracefulShutdownDrainsQueue(t *testing.T) {
	handlers := map[TaskType]Handler{
		TaskTransform: func(ctx context.Context, records []model.Record) ([]model.Record, error) {
			time.Sleep(10 * time.Millisecond)
			return records, nil
		},
	}
	p, err := New(2, handlers, testLogger())
	require.NoError(t, err)

	const tasks = 10
	futures := make([]<-chan Result, 0, tasks)
	for i := 0; i < tasks; i++ {
		f, err := p.Submit(NewTask(TaskTransform, model.Record{}))
		require.NoError(t, err)
		futures = append(futures, f)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Shutdown(ctx, false))

	for _, f := range futures {
		res := awaitResult(t, f)
		assert.NoError(t, res.Err)
	}
}

func TestPool_SubmitAfterShutdownFails(t *testing.T) {
	p, err := New(1, map[TaskType]Handler{TaskTransform: upperHandler}, testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Shutdown(ctx, false))

	_, err = p.Submit(NewTask(TaskTransform, model.Record{}))
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestPool_ForcedShutdownAbandonsQueue(t *testing.T) {
	block := make(chan struct{})
	handlers := map[TaskType]Handler{
		TaskTransform: func(ctx context.Context, records []model.Record) ([]model.Record, error) {
			select {
			case <-block:
			case <-ctx.Done():
			}
			return records, nil
		},
	}
	p, err := New(1, handlers, testLogger())
	require.NoError(t, err)
	defer close(block)

	// First task occupies the only worker; the rest sit in the queue.
	first, err := p.Submit(NewTask(TaskTransform, model.Record{}))
	require.NoError(t, err)
	queued, err := p.Submit(NewTask(TaskTransform, model.Record{}))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Shutdown(ctx, true))

	res := awaitResult(t, queued)
	assert.ErrorIs(t, res.Err, ErrPoolClosed)
	res = awaitResult(t, first)
	assert.ErrorIs(t, res.Err, ErrPoolClosed)
}

func TestPool_DefaultSizeUsesHostCPUs(t *testing.T) {
	p := newTestPool(t, 0, nil)
	assert.Positive(t, p.Size())
}
