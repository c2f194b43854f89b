package stage

import (
	"context"
	"log/slog"

	"github.com/GabrielNunesIT/logpipe/internal/model"
)

// MapFunc rewrites one record. Returning nil with a nil error drops the
// record.
type MapFunc func(model.Record) (model.Record, error)

// MapStage applies a function to each record. When preserveOnError is set a
// failing map forwards the original record untouched instead of aborting
// the pipeline; the failure is logged and counted.
type MapStage struct {
	name            string
	fn              MapFunc
	preserveOnError bool
	logger          *slog.Logger

	errors uint64
}

// NewMap creates a mapping stage.
func NewMap(name string, fn MapFunc, preserveOnError bool, log *slog.Logger) *MapStage {
	return &MapStage{
		name:            name,
		fn:              fn,
		preserveOnError: preserveOnError,
		logger:          log.With("component", "stage", "stage", name),
	}
}

func (s *MapStage) Name() string { return s.name }

// Process applies the map function and emits its result.
func (s *MapStage) Process(ctx context.Context, rec model.Record, emit EmitFunc) error {
	out, err := s.fn(rec)
	if err != nil {
		s.errors++
		if !s.preserveOnError {
			return err
		}
		s.logger.Warn("map failed, forwarding original record", "error", err)
		return emit(rec)
	}
	if out == nil {
		return nil
	}
	return emit(out)
}

// Flush is a no-op; maps hold no state.
func (s *MapStage) Flush(ctx context.Context, emit EmitFunc) error {
	return nil
}

// Errors returns the number of failed map applications.
func (s *MapStage) Errors() uint64 {
	return s.errors
}
