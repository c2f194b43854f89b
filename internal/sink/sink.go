// Package sink defines the interface and implementations for pipeline
// output destinations.
package sink

import (
	"context"
	"net/http"

	"github.com/GabrielNunesIT/logpipe/internal/model"
)

// Sink is the terminal consumer of the pipeline. Write may buffer; a full
// buffer must be flushed synchronously before Write returns, which is the
// pipeline's backpressure point for batching sinks.
type Sink interface {
	// Write accepts one record. Ownership of the record transfers to the
	// sink.
	Write(ctx context.Context, rec model.Record) error

	// Close flushes any buffered records and releases resources.
	// Called exactly once, after the last Write.
	Close(ctx context.Context) error

	// Name returns a unique identifier for this sink.
	Name() string
}

// HTTPDoer abstracts HTTP client operations for testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Ensure http.Client implements HTTPDoer.
var _ HTTPDoer = (*http.Client)(nil)
