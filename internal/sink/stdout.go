package sink

import (
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/GabrielNunesIT/logpipe/internal/model"
)

// StdoutSink writes records to standard output, one JSON document per line,
// or indented when pretty-printing is enabled.
type StdoutSink struct {
	writer io.Writer
	pretty bool
}

// NewStdoutSink creates a new stdout sink.
func NewStdoutSink(pretty bool) *StdoutSink {
	return &StdoutSink{
		writer: os.Stdout,
		pretty: pretty,
	}
}

// NewStdoutSinkWithWriter creates a stdout sink with a custom writer (for testing).
func NewStdoutSinkWithWriter(w io.Writer, pretty bool) *StdoutSink {
	return &StdoutSink{
		writer: w,
		pretty: pretty,
	}
}

// Name returns the sink identifier.
func (s *StdoutSink) Name() string {
	return "stdout"
}

// Write prints one record.
func (s *StdoutSink) Write(ctx context.Context, rec model.Record) error {
	var (
		data []byte
		err  error
	)
	if s.pretty {
		data, err = json.MarshalIndent(rec, "", "  ")
	} else {
		data, err = json.Marshal(rec)
	}
	if err != nil {
		return err
	}

	_, err = s.writer.Write(append(data, '\n'))
	return err
}

// Close is a no-op for stdout.
func (s *StdoutSink) Close(ctx context.Context) error {
	return nil
}
