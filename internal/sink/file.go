package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/natefinch/lumberjack"

	"github.com/GabrielNunesIT/logpipe/internal/config"
	"github.com/GabrielNunesIT/logpipe/internal/model"
)

// WriterFactory creates the underlying WriteCloser for a FileSink.
type WriterFactory func(cfg config.FileSinkConfig) (io.WriteCloser, error)

// FileOption configures the FileSink.
type FileOption func(*FileSink)

// WithWriterFactory sets a custom factory for creating the writer.
func WithWriterFactory(f WriterFactory) FileOption {
	return func(s *FileSink) {
		s.factory = f
	}
}

// FileSink writes records as NDJSON to a file, optionally size-rotated.
type FileSink struct {
	cfg     config.FileSinkConfig
	factory WriterFactory
	writer  io.WriteCloser
}

// NewFileSink creates a new file sink.
func NewFileSink(cfg config.FileSinkConfig, opts ...FileOption) *FileSink {
	s := &FileSink{cfg: cfg}

	s.factory = func(cfg config.FileSinkConfig) (io.WriteCloser, error) {
		if cfg.Rotate {
			return &lumberjack.Logger{
				Filename:   cfg.Path,
				MaxSize:    cfg.MaxSizeMB,
				MaxBackups: cfg.MaxBackups,
				Compress:   cfg.Compress,
			}, nil
		}
		return os.OpenFile(cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	}

	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the sink identifier.
func (s *FileSink) Name() string {
	return "file"
}

// Write appends one record as a JSON line. The writer is opened lazily on
// the first write.
func (s *FileSink) Write(ctx context.Context, rec model.Record) error {
	if s.writer == nil {
		w, err := s.factory(s.cfg)
		if err != nil {
			return fmt.Errorf("opening output file %q: %w", s.cfg.Path, err)
		}
		s.writer = w
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	_, err = s.writer.Write(append(data, '\n'))
	return err
}

// Close closes the underlying writer.
func (s *FileSink) Close(ctx context.Context) error {
	if s.writer == nil {
		return nil
	}
	return s.writer.Close()
}
