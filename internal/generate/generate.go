// Package generate produces synthetic log data for exercising the pipeline
// and the demo receiver without real inputs.
package generate

import (
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"time"

	"github.com/GabrielNunesIT/logpipe/internal/model"
)

var (
	levels   = []string{"DEBUG", "INFO", "INFO", "INFO", "WARN", "ERROR"}
	services = []string{"api", "auth", "billing", "search", "worker"}
	messages = []string{
		"request completed",
		"cache miss",
		"connection reset by peer",
		"retrying upstream call",
		"slow query detected",
		"payload validation failed",
	}
)

// Options controls the generated stream.
type Options struct {
	// Count is the number of records to emit.
	Count int
	// Format is "ndjson" or "csv".
	Format string
	// Seed makes the stream reproducible; 0 seeds from the clock.
	Seed int64
}

// Write emits Count synthetic records to w.
func Write(w io.Writer, opts Options) error {
	if opts.Count <= 0 {
		opts.Count = 1000
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	switch opts.Format {
	case "", "ndjson":
		return writeNDJSON(w, opts.Count, rng)
	case "csv":
		return writeCSV(w, opts.Count, rng)
	default:
		return fmt.Errorf("unknown generate format %q", opts.Format)
	}
}

func record(rng *rand.Rand, i int) model.Record {
	return model.Record{
		"timestamp":  time.Now().Add(-time.Duration(rng.Intn(3600)) * time.Second).UTC().Format(time.RFC3339),
		"level":      levels[rng.Intn(len(levels))],
		"service":    services[rng.Intn(len(services))],
		"msg":        messages[rng.Intn(len(messages))],
		"latency_ms": rng.Intn(500) + 1,
		"seq":        i,
	}
}

func writeNDJSON(w io.Writer, count int, rng *rand.Rand) error {
	enc := json.NewEncoder(w)
	for i := 0; i < count; i++ {
		if err := enc.Encode(record(rng, i)); err != nil {
			return fmt.Errorf("writing record %d: %w", i, err)
		}
	}
	return nil
}

func writeCSV(w io.Writer, count int, rng *rand.Rand) error {
	if _, err := fmt.Fprintln(w, "timestamp,level,service,msg,latency_ms,seq"); err != nil {
		return err
	}
	for i := 0; i < count; i++ {
		rec := record(rng, i)
		_, err := fmt.Fprintf(w, "%s,%s,%s,%q,%d,%d\n",
			rec["timestamp"], rec["level"], rec["service"], rec["msg"],
			rec["latency_ms"], rec["seq"])
		if err != nil {
			return fmt.Errorf("writing record %d: %w", i, err)
		}
	}
	return nil
}
