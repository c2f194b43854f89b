package stage

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/GabrielNunesIT/logpipe/internal/model"
)

// timeLayouts are tried in order when normalizing a timestamp field.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC1123,
	"02/Jan/2006:15:04:05 -0700", // common log format
	time.UnixDate,
}

// NewTimeNormalizer returns a map stage rewriting the named field to
// RFC 3339 UTC. Numeric values are read as Unix seconds (or milliseconds
// when large enough); strings are tried against common layouts. A value
// that parses under no layout is a map error, so the preserve-on-error
// policy decides whether the record passes unchanged or aborts the run.
func NewTimeNormalizer(field string, preserveOnError bool, log *slog.Logger) *MapStage {
	return NewMap("normalize_time", func(rec model.Record) (model.Record, error) {
		raw, ok := rec.Get(field)
		if !ok {
			return rec, nil
		}

		ts, err := parseTime(raw)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", field, err)
		}
		rec.Set(field, ts.UTC().Format(time.RFC3339))
		return rec, nil
	}, preserveOnError, log)
}

// msEpochCutoff separates second and millisecond Unix timestamps. Values
// above it would be year 5138 as seconds, so they are read as milliseconds.
const msEpochCutoff = 1e11

func parseTime(v any) (time.Time, error) {
	if n, ok := model.Number(v); ok {
		// Numeric strings fall through here too, so check them first.
		if n > msEpochCutoff {
			return time.UnixMilli(int64(n)), nil
		}
		return time.Unix(int64(n), 0), nil
	}

	s, ok := v.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("cannot parse %T as time", v)
	}
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("no known time layout matches %q", s)
}
