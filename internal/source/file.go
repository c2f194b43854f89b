// Package source reads raw input lines from local files, tracking byte
// offsets and line numbers so the checkpoint manager can resume a run.
package source

import (
	"bufio"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/GabrielNunesIT/logpipe/internal/config"
)

// ErrFollowCompressed is returned when follow mode is requested for a
// gzip-compressed input, which cannot be tailed.
var ErrFollowCompressed = errors.New("cannot follow a gzip-compressed file")

// Reader streams lines from a local file, optionally gzip-compressed
// (detected by the .gz suffix) and optionally tailed for appended data.
//
// Offset and LineNumber refer to the decompressed byte stream, so resume
// positions work identically for plain and compressed inputs.
type Reader struct {
	cfg    config.InputConfig
	file   *os.File
	br     *bufio.Reader
	gz     *gzip.Reader
	offset uint64
	line   uint64
	eof    bool
	logger *slog.Logger
}

// Open opens the configured input file and positions it at resumeOffset.
// For plain files the underlying file is seeked; for gzip inputs the
// decompressed stream is skipped forward, since gzip does not support
// random access.
func Open(cfg config.InputConfig, resumeOffset, resumeLine uint64, log *slog.Logger) (*Reader, error) {
	compressed := strings.HasSuffix(cfg.Path, ".gz")
	if compressed && cfg.Follow {
		return nil, ErrFollowCompressed
	}

	f, err := os.Open(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("opening input %q: %w", cfg.Path, err)
	}

	r := &Reader{
		cfg:    cfg,
		file:   f,
		offset: resumeOffset,
		line:   resumeLine,
		logger: log.With("component", "source"),
	}

	if compressed {
		gz, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("opening gzip stream: %w", err)
		}
		r.gz = gz
		r.br = bufio.NewReader(gz)
		if resumeOffset > 0 {
			if _, err := io.CopyN(io.Discard, r.br, int64(resumeOffset)); err != nil {
				f.Close()
				return nil, fmt.Errorf("skipping to resume offset %d: %w", resumeOffset, err)
			}
			r.logger.Info("resumed compressed input", "offset", resumeOffset, "line", resumeLine)
		}
	} else {
		if resumeOffset > 0 {
			if _, err := f.Seek(int64(resumeOffset), io.SeekStart); err != nil {
				f.Close()
				return nil, fmt.Errorf("seeking to resume offset %d: %w", resumeOffset, err)
			}
			r.logger.Info("resumed input", "offset", resumeOffset, "line", resumeLine)
		}
		r.br = bufio.NewReader(f)
	}

	return r, nil
}

// Next returns the next line without its trailing newline. It returns io.EOF
// once the source is exhausted; in follow mode it instead blocks until more
// data is appended or the context is cancelled.
func (r *Reader) Next(ctx context.Context) ([]byte, error) {
	for {
		line, err := r.br.ReadBytes('\n')
		if len(line) > 0 {
			r.offset += uint64(len(line))
			r.line++
			return trimNewline(line), nil
		}
		if err == nil {
			continue
		}
		if !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("reading input: %w", err)
		}
		if !r.cfg.Follow {
			r.eof = true
			return nil, io.EOF
		}
		if waitErr := r.waitForWrite(ctx); waitErr != nil {
			return nil, waitErr
		}
	}
}

// waitForWrite blocks until the input file grows or the context is cancelled.
func (r *Reader) waitForWrite(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(r.cfg.Path); err != nil {
		return fmt.Errorf("watching %q: %w", r.cfg.Path, err)
	}

	// Data may have arrived between hitting EOF and the watch starting.
	if grown, err := r.hasGrown(); err != nil {
		return err
	} else if grown {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return io.EOF
			}
			if ev.Op.Has(fsnotify.Write) {
				return nil
			}
			if ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename) {
				r.logger.Warn("input file removed while following", "path", r.cfg.Path)
				return io.EOF
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return io.EOF
			}
			return fmt.Errorf("file watcher: %w", err)
		}
	}
}

func (r *Reader) hasGrown() (bool, error) {
	info, err := r.file.Stat()
	if err != nil {
		return false, fmt.Errorf("stat input: %w", err)
	}
	return uint64(info.Size()) > r.offset, nil
}

// Offset returns the number of bytes consumed so far, counting trailing
// newlines, relative to the decompressed stream.
func (r *Reader) Offset() uint64 {
	return r.offset
}

// LineNumber returns the number of lines consumed so far.
func (r *Reader) LineNumber() uint64 {
	return r.line
}

// Close releases the underlying file handles.
func (r *Reader) Close() error {
	if r.gz != nil {
		if err := r.gz.Close(); err != nil {
			r.file.Close()
			return err
		}
	}
	return r.file.Close()
}

func trimNewline(line []byte) []byte {
	n := len(line)
	if n > 0 && line[n-1] == '\n' {
		line = line[:n-1]
		n--
	}
	if n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	return line
}
