package stage

import (
	"context"
	"sync/atomic"

	"github.com/GabrielNunesIT/logpipe/internal/model"
)

// FilterStage keeps records whose field matches a value and drops the rest.
// With invert set, the match is negated. A record missing the field does not
// match.
type FilterStage struct {
	field   string
	value   string
	invert  bool
	dropped atomic.Uint64
}

// NewFilter creates a filter on field == value, negated when invert is set.
func NewFilter(field, value string, invert bool) *FilterStage {
	return &FilterStage{field: field, value: value, invert: invert}
}

func (s *FilterStage) Name() string { return "filter" }

// Process emits the record if it passes the filter.
func (s *FilterStage) Process(ctx context.Context, rec model.Record, emit EmitFunc) error {
	got, ok := rec.GetString(s.field)
	match := ok && got == s.value
	if match != s.invert {
		return emit(rec)
	}
	s.dropped.Add(1)
	return nil
}

// Flush is a no-op; filters hold no state.
func (s *FilterStage) Flush(ctx context.Context, emit EmitFunc) error {
	return nil
}

// Dropped returns the number of records removed so far.
func (s *FilterStage) Dropped() uint64 {
	return s.dropped.Load()
}
