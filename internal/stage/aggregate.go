package stage

import (
	"context"
	"sort"
	"time"

	"github.com/GabrielNunesIT/logpipe/internal/model"
)

// AggregateOptions bound the buffered state of an aggregation.
type AggregateOptions struct {
	// Interval forces a flush of the group table when this much time has
	// passed since the last one. Zero disables timed flushes.
	Interval time.Duration
	// MaxGroups forces a flush once the group table reaches this size.
	// Zero disables the bound.
	MaxGroups int
}

// accumulator holds the running state for one group. Count covers every
// absorbed record; the numeric fields cover only records whose value field
// coerced to a number.
type accumulator struct {
	count   uint64
	samples uint64
	sum     float64
	min     float64
	max     float64
}

func (a *accumulator) absorb(v float64) {
	if a.samples == 0 || v < a.min {
		a.min = v
	}
	if a.samples == 0 || v > a.max {
		a.max = v
	}
	a.sum += v
	a.samples++
}

// AggregateStage groups records by a key field and emits one summary record
// per group on flush. Input records are absorbed, not forwarded; a record
// missing the key field passes through unaggregated.
//
// In count-by mode the summary carries the group key and a count. In stats
// mode it additionally carries sum, min, max, and avg of a numeric value
// field. Flushes happen on the configured interval, when the group table
// hits its size bound, and at end of stream; each flush clears the table,
// so aggregation windows are disjoint.
type AggregateStage struct {
	keyField   string
	valueField string
	opts       AggregateOptions

	groups    map[string]*accumulator
	lastFlush time.Time
}

// NewCountBy creates an aggregation counting records per distinct value of
// keyField.
func NewCountBy(keyField string, opts AggregateOptions) *AggregateStage {
	return &AggregateStage{
		keyField:  keyField,
		opts:      opts,
		groups:    make(map[string]*accumulator),
		lastFlush: time.Now(),
	}
}

// NewStats creates an aggregation computing count, sum, min, max, and avg
// of valueField. With a non-empty keyField the stats are computed per
// group; otherwise a single global group absorbs every record.
func NewStats(valueField, keyField string, opts AggregateOptions) *AggregateStage {
	return &AggregateStage{
		keyField:   keyField,
		valueField: valueField,
		opts:       opts,
		groups:     make(map[string]*accumulator),
		lastFlush:  time.Now(),
	}
}

func (s *AggregateStage) Name() string {
	if s.valueField != "" {
		return "stats"
	}
	return "countby"
}

// Process absorbs one record into its group's accumulator.
func (s *AggregateStage) Process(ctx context.Context, rec model.Record, emit EmitFunc) error {
	key := ""
	if s.keyField != "" {
		k, ok := rec.GetString(s.keyField)
		if !ok {
			return emit(rec)
		}
		key = k
	}

	acc := s.groups[key]
	if acc == nil {
		acc = &accumulator{}
		s.groups[key] = acc
	}
	acc.count++

	if s.valueField != "" {
		if raw, ok := rec.Get(s.valueField); ok {
			if v, ok := model.Number(raw); ok {
				acc.absorb(v)
			}
		}
	}

	if s.due() {
		return s.flushGroups(emit)
	}
	return nil
}

// Flush drains the remaining groups at end of stream.
func (s *AggregateStage) Flush(ctx context.Context, emit EmitFunc) error {
	return s.flushGroups(emit)
}

func (s *AggregateStage) due() bool {
	if s.opts.MaxGroups > 0 && len(s.groups) >= s.opts.MaxGroups {
		return true
	}
	return s.opts.Interval > 0 && time.Since(s.lastFlush) >= s.opts.Interval
}

// flushGroups emits one summary per group in sorted key order and clears
// the table.
func (s *AggregateStage) flushGroups(emit EmitFunc) error {
	s.lastFlush = time.Now()
	if len(s.groups) == 0 {
		return nil
	}

	keys := make([]string, 0, len(s.groups))
	for k := range s.groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		acc := s.groups[key]
		out := model.New()
		if s.keyField != "" {
			out.Set(s.keyField, key)
		}
		out.Set("count", acc.count)
		if s.valueField != "" {
			out.Set("field", s.valueField)
			if acc.samples > 0 {
				out.Set("sum", acc.sum)
				out.Set("min", acc.min)
				out.Set("max", acc.max)
				out.Set("avg", acc.sum/float64(acc.samples))
			}
		}
		if err := emit(out); err != nil {
			return err
		}
	}

	s.groups = make(map[string]*accumulator)
	return nil
}
