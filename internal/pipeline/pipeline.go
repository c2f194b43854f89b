// Package pipeline drives the flow from source to sink: read a line, parse
// it, push the record through the stage chain, deliver it, checkpoint.
//
// The whole flow is one cooperative loop. Nothing reads ahead of the
// slowest component, so a stalled sink stops the source without any
// explicit flow control.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/GabrielNunesIT/logpipe/internal/checkpoint"
	"github.com/GabrielNunesIT/logpipe/internal/model"
	"github.com/GabrielNunesIT/logpipe/internal/parser"
	"github.com/GabrielNunesIT/logpipe/internal/sink"
	"github.com/GabrielNunesIT/logpipe/internal/source"
	"github.com/GabrielNunesIT/logpipe/internal/stage"
)

// parseErrLogCap bounds how many malformed lines are individually logged;
// past it only the counter advances.
const parseErrLogCap = 10

// Stats holds the engine's cumulative counters. Updated from the pipeline
// loop, read concurrently by the signal handler and the periodic
// checkpointer.
type Stats struct {
	Processed   atomic.Uint64
	Filtered    atomic.Uint64
	Sent        atomic.Uint64
	ParseErrors atomic.Uint64
}

// Snapshot is a plain-value copy of Stats.
type Snapshot struct {
	Processed   uint64
	Filtered    uint64
	Sent        uint64
	ParseErrors uint64
}

// dropCounter is implemented by stages that discard records.
type dropCounter interface {
	Dropped() uint64
}

// Engine wires a source, a parser, a stage chain, and a sink into one run.
type Engine struct {
	source *source.Reader
	parser parser.Parser
	stages []stage.Stage
	sink   sink.Sink
	ckpt   *checkpoint.Manager
	logger *slog.Logger

	stats Stats
}

// New assembles an engine. The stage chain may be empty, in which case
// parsed records go straight to the sink.
func New(src *source.Reader, p parser.Parser, stages []stage.Stage, snk sink.Sink, ckpt *checkpoint.Manager, log *slog.Logger) *Engine {
	return &Engine{
		source: src,
		parser: p,
		stages: stages,
		sink:   snk,
		ckpt:   ckpt,
		logger: log.With("component", "pipeline"),
	}
}

// Stats returns a copy of the engine's counters.
func (e *Engine) Stats() Snapshot {
	return Snapshot{
		Processed:   e.stats.Processed.Load(),
		Filtered:    e.stats.Filtered.Load(),
		Sent:        e.stats.Sent.Load(),
		ParseErrors: e.stats.ParseErrors.Load(),
	}
}

// Run processes the source to exhaustion (or until the context is
// cancelled), then flushes the stage chain and closes the sink. A sink or
// stage error aborts the run; the sink is left unclosed on that path so a
// permanently failing batch is not retried a second time during cleanup.
func (e *Engine) Run(ctx context.Context) error {
	emits := e.buildChain(ctx)
	head := emits[0]

	for {
		// The source only blocks on the context in follow mode; cancellation
		// must interrupt a plain file read between records too.
		if err := ctx.Err(); err != nil {
			return err
		}

		line, err := e.source.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("reading source: %w", err)
		}

		rec, perr := e.parser.Parse(line)
		if perr != nil {
			n := e.stats.ParseErrors.Add(1)
			if n <= parseErrLogCap {
				e.logger.Warn("skipping malformed line",
					"line", e.source.LineNumber(), "error", perr)
				if n == parseErrLogCap {
					e.logger.Warn("further malformed lines will not be logged")
				}
			}
			e.updateCheckpoint()
			continue
		}
		if rec == nil {
			// Non-data line, e.g. a CSV header.
			e.updateCheckpoint()
			continue
		}

		e.stats.Processed.Add(1)
		if err := head(rec); err != nil {
			return err
		}
		e.updateCheckpoint()
	}

	// End of stream: flush in chain order so buffered records still pass
	// through every downstream stage.
	for i, st := range e.stages {
		if err := st.Flush(ctx, emits[i+1]); err != nil {
			return fmt.Errorf("flushing %s: %w", st.Name(), err)
		}
	}

	if err := e.sink.Close(ctx); err != nil {
		return fmt.Errorf("closing %s sink: %w", e.sink.Name(), err)
	}

	e.updateCheckpoint()
	snap := e.Stats()
	e.logger.Info("pipeline finished",
		"processed", snap.Processed,
		"filtered", snap.Filtered,
		"sent", snap.Sent,
		"parse_errors", snap.ParseErrors)
	return nil
}

// buildChain composes the per-record path. emits[i] enters stage i;
// emits[len(stages)] is the sink.
func (e *Engine) buildChain(ctx context.Context) []stage.EmitFunc {
	emits := make([]stage.EmitFunc, len(e.stages)+1)
	emits[len(e.stages)] = func(rec model.Record) error {
		if err := e.sink.Write(ctx, rec); err != nil {
			return fmt.Errorf("writing to %s sink: %w", e.sink.Name(), err)
		}
		e.stats.Sent.Add(1)
		return nil
	}
	for i := len(e.stages) - 1; i >= 0; i-- {
		st := e.stages[i]
		next := emits[i+1]
		emits[i] = func(rec model.Record) error {
			return st.Process(ctx, rec, next)
		}
	}
	return emits
}

func (e *Engine) updateCheckpoint() {
	var dropped uint64
	for _, st := range e.stages {
		if dc, ok := st.(dropCounter); ok {
			dropped += dc.Dropped()
		}
	}
	e.stats.Filtered.Store(dropped)

	e.ckpt.Update(
		e.source.Offset(),
		e.source.LineNumber(),
		e.stats.Processed.Load(),
		dropped,
		e.stats.Sent.Load(),
	)
}
