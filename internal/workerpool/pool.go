// Package workerpool executes CPU-bound tasks across a fixed set of workers
// with FIFO dispatch, crash recovery, and condition-signaled shutdown.
//
// All pool state (queue, busy set, counters) is owned by a single dispatcher
// goroutine; workers communicate with it exclusively through tagged messages,
// so no state is shared across goroutines.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/GabrielNunesIT/logpipe/internal/model"
)

var (
	// ErrPoolClosed is returned when submitting to a pool that is shutting
	// down, or as the outcome of tasks abandoned by a forced shutdown.
	ErrPoolClosed = errors.New("worker pool closed")

	// ErrWorkerCrashed is the outcome of a task whose worker panicked
	// mid-execution. The task is not retried; the worker is replaced.
	ErrWorkerCrashed = errors.New("worker crashed while executing task")

	// ErrUnknownTaskType is the outcome of a task with no registered handler.
	ErrUnknownTaskType = errors.New("no handler registered for task type")

	// ErrBatchLength is the outcome of a transform or hash batch whose
	// handler returned a different number of records than it was given.
	ErrBatchLength = errors.New("handler returned mismatched batch length")
)

// initTimeout bounds how long New waits for every worker's ready signal.
const initTimeout = 10 * time.Second

// Stats is a point-in-time snapshot of pool counters.
type Stats struct {
	Submitted         uint64
	Completed         uint64
	Errored           uint64
	AvgProcessingTime time.Duration
	QueueDepth        int
	Busy              int
	Idle              int
}

type messageKind int

const (
	msgReady messageKind = iota
	msgResult
	msgError
	msgCrash
)

// message is the tagged variant workers send to the dispatcher.
type message struct {
	kind     messageKind
	workerID int
	taskID   string
	records  []model.Record
	err      error
	duration time.Duration
}

type pending struct {
	task   *Task
	future chan Result
}

type shutdownReq struct {
	force bool
	done  chan struct{}
}

// workerHandle is the dispatcher's view of one execution slot. A crashed
// worker is replaced by a fresh goroutine under the same slot id.
type workerHandle struct {
	id      int
	tasks   chan *Task
	busy    bool
	current *pending
}

// Pool executes tasks across a fixed number of workers.
type Pool struct {
	handlers map[TaskType]Handler
	size     int

	submitCh   chan *pending
	msgCh      chan message
	statsCh    chan chan Stats
	shutdownCh chan shutdownReq
	closing    chan struct{}
	done       chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	logger *slog.Logger
}

// New creates a pool with numWorkers workers (0 means one per host CPU),
// spawns them in parallel, and waits for every worker to signal readiness.
// Any worker failing to start is a fatal initialization error.
func New(numWorkers int, handlers map[TaskType]Handler, log *slog.Logger) (*Pool, error) {
	if len(handlers) == 0 {
		return nil, errors.New("worker pool needs at least one task handler")
	}
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}

	ctx, cancel := context.WithCancel(context.Background())

	p := &Pool{
		handlers:   handlers,
		size:       numWorkers,
		submitCh:   make(chan *pending),
		msgCh:      make(chan message, numWorkers),
		statsCh:    make(chan chan Stats),
		shutdownCh: make(chan shutdownReq),
		closing:    make(chan struct{}),
		done:       make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
		logger:     log.With("component", "workerpool"),
	}

	workers := make([]*workerHandle, numWorkers)

	g := new(errgroup.Group)
	for i := 0; i < numWorkers; i++ {
		w := &workerHandle{
			id:    i,
			tasks: make(chan *Task, 1),
		}
		workers[i] = w

		g.Go(func() error {
			ready := make(chan struct{})
			go p.runWorker(w.id, w.tasks, ready)
			select {
			case <-ready:
				return nil
			case <-time.After(initTimeout):
				return fmt.Errorf("worker %d did not become ready", w.id)
			}
		})
	}

	if err := g.Wait(); err != nil {
		cancel()
		return nil, fmt.Errorf("starting workers: %w", err)
	}

	go p.dispatch(workers)

	p.logger.Debug("worker pool started", "workers", numWorkers)
	return p, nil
}

// Size returns the number of worker slots.
func (p *Pool) Size() int {
	return p.size
}

// Submit enqueues a task and returns a future that resolves exactly once
// with the task's Result. The queue is FIFO; completion order across
// concurrently in-flight tasks is unspecified.
func (p *Pool) Submit(task *Task) (<-chan Result, error) {
	if task == nil {
		return nil, errors.New("task cannot be nil")
	}

	pd := &pending{task: task, future: make(chan Result, 1)}
	select {
	case p.submitCh <- pd:
		return pd.future, nil
	case <-p.closing:
		return nil, ErrPoolClosed
	}
}

// Stats returns a snapshot of the pool's counters. Read-only, no side
// effects.
func (p *Pool) Stats() Stats {
	reply := make(chan Stats, 1)
	select {
	case p.statsCh <- reply:
		return <-reply
	case <-p.done:
		return Stats{}
	}
}

// Shutdown stops accepting new tasks. If force is false it waits until the
// queue drains and every worker is idle before stopping the workers; if
// force is true it abandons queued tasks (their futures resolve with
// ErrPoolClosed) and cancels in-flight handlers. The context bounds the
// wait.
func (p *Pool) Shutdown(ctx context.Context, force bool) error {
	req := shutdownReq{force: force, done: make(chan struct{})}
	select {
	case p.shutdownCh <- req:
	case <-p.done:
		return nil
	}

	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// dispatch is the pool's single-writer event loop: an explicit state machine
// over {idle, busy} per worker, fed by submissions and worker messages.
func (p *Pool) dispatch(workers []*workerHandle) {
	defer close(p.done)

	var (
		queue           []*pending
		submitted       uint64
		completed       uint64
		errored         uint64
		totalProcessing time.Duration
		draining        *shutdownReq
	)

	busyCount := func() int {
		n := 0
		for _, w := range workers {
			if w.busy {
				n++
			}
		}
		return n
	}

	// assign pops queued tasks onto idle workers, oldest task first.
	// Worker selection order is arbitrary.
	assign := func() {
		for len(queue) > 0 {
			var target *workerHandle
			for _, w := range workers {
				if !w.busy {
					target = w
					break
				}
			}
			if target == nil {
				return
			}
			pd := queue[0]
			queue = queue[1:]
			target.busy = true
			target.current = pd
			target.tasks <- pd.task
		}
	}

	stop := func() {
		for _, w := range workers {
			close(w.tasks)
		}
	}

	// finished reports whether a graceful drain is complete.
	finished := func() bool {
		return draining != nil && !draining.force && len(queue) == 0 && busyCount() == 0
	}

	for {
		select {
		case pd := <-p.submitCh:
			submitted++
			queue = append(queue, pd)
			assign()

		case msg := <-p.msgCh:
			w := workers[msg.workerID]
			switch msg.kind {
			case msgReady:
				// Replacement worker came up; the slot is usable again.
				w.busy = false
				w.current = nil
				assign()

			case msgResult, msgError:
				if w.current != nil && w.current.task.ID == msg.taskID {
					res := Result{
						TaskID:   msg.taskID,
						Err:      msg.err,
						Duration: msg.duration,
						WorkerID: msg.workerID,
					}
					if msg.kind == msgResult {
						res.Records = msg.records
						completed++
					} else {
						errored++
					}
					totalProcessing += msg.duration
					w.current.future <- res
					w.current = nil
					w.busy = false
					assign()
				}

			case msgCrash:
				p.logger.Error("worker crashed, replacing",
					"worker", msg.workerID, "error", msg.err)
				if w.current != nil {
					errored++
					w.current.future <- Result{
						TaskID:   w.current.task.ID,
						Err:      fmt.Errorf("%w: %v", ErrWorkerCrashed, msg.err),
						WorkerID: msg.workerID,
					}
					w.current = nil
				}
				// Fresh goroutine, same slot id. The slot stays busy until
				// the replacement signals ready.
				w.busy = true
				w.tasks = make(chan *Task, 1)
				go p.runWorker(w.id, w.tasks, nil)
			}

			if finished() {
				stop()
				close(draining.done)
				return
			}

		case reply := <-p.statsCh:
			busy := busyCount()
			s := Stats{
				Submitted:  submitted,
				Completed:  completed,
				Errored:    errored,
				QueueDepth: len(queue),
				Busy:       busy,
				Idle:       p.size - busy,
			}
			if completed > 0 {
				s.AvgProcessingTime = totalProcessing / time.Duration(completed)
			}
			reply <- s

		case req := <-p.shutdownCh:
			if draining != nil {
				// Second shutdown call piggybacks on the first.
				go func(first, second *shutdownReq) {
					<-first.done
					close(second.done)
				}(draining, &req)
				continue
			}
			draining = &req
			close(p.closing)

			if req.force {
				p.cancel()
				for _, pd := range queue {
					errored++
					pd.future <- Result{TaskID: pd.task.ID, Err: ErrPoolClosed}
				}
				queue = nil
				for _, w := range workers {
					if w.current != nil {
						errored++
						w.current.future <- Result{TaskID: w.current.task.ID, Err: ErrPoolClosed}
						w.current = nil
					}
				}
				stop()
				close(req.done)
				return
			}

			if finished() {
				stop()
				close(req.done)
				return
			}
		}
	}
}

// runWorker is the body of one worker goroutine. A panic escapes the task
// handler, is reported as a crash message, and ends this goroutine; the
// dispatcher spawns a replacement for the slot.
func (p *Pool) runWorker(id int, tasks <-chan *Task, ready chan<- struct{}) {
	defer func() {
		if r := recover(); r != nil {
			p.msgCh <- message{
				kind:     msgCrash,
				workerID: id,
				err:      fmt.Errorf("panic: %v\n%s", r, debug.Stack()),
			}
		}
	}()

	if ready != nil {
		close(ready)
	} else {
		p.msgCh <- message{kind: msgReady, workerID: id}
	}

	for task := range tasks {
		start := time.Now()
		out, err := p.execute(task)
		msg := message{
			workerID: id,
			taskID:   task.ID,
			duration: time.Since(start),
		}
		if err != nil {
			msg.kind = msgError
			msg.err = err
		} else {
			msg.kind = msgResult
			msg.records = out
		}
		p.msgCh <- msg
	}
}

func (p *Pool) execute(task *Task) ([]model.Record, error) {
	handler, ok := p.handlers[task.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTaskType, task.Type)
	}

	out, err := handler(p.ctx, task.Records)
	if err != nil {
		return nil, err
	}

	// Transform and hash batches must map 1:1 onto their input; only
	// filters may shrink the batch.
	if task.Type != TaskFilter && len(out) != len(task.Records) {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrBatchLength, len(out), len(task.Records))
	}

	return out, nil
}
