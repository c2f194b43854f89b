// Package stage implements the record transformations composed into a
// pipeline: filtering, projection, mapping, aggregation, and offloading
// work to the worker pool.
//
// Stages are synchronous and push-based. A stage receives one record at a
// time and forwards zero or more records downstream through the emit
// callback, so a single cooperative flow runs the whole chain and
// backpressure propagates naturally from the sink back to the source.
package stage

import (
	"context"

	"github.com/GabrielNunesIT/logpipe/internal/model"
)

// EmitFunc forwards a record to the next stage. An error from downstream
// must be returned unchanged so it propagates back to the pipeline loop.
type EmitFunc func(model.Record) error

// Stage transforms a stream of records.
type Stage interface {
	// Name identifies the stage in logs.
	Name() string

	// Process handles one record, emitting zero or more records downstream.
	Process(ctx context.Context, rec model.Record, emit EmitFunc) error

	// Flush is called once at end of stream, in chain order, so stages
	// holding buffered state (aggregations, partial batches) can drain it.
	Flush(ctx context.Context, emit EmitFunc) error
}
