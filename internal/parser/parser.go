// Package parser turns raw input lines into records.
package parser

import (
	"bufio"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/GabrielNunesIT/logpipe/internal/config"
	"github.com/GabrielNunesIT/logpipe/internal/model"
)

// Parser converts one input line into a Record.
// Parsers may keep internal state (the CSV parser consumes its header row).
type Parser interface {
	// Parse converts a raw line. A nil record with a nil error means the
	// line carried no data (e.g. a header row) and should be skipped.
	Parse(line []byte) (model.Record, error)

	// Name returns a unique identifier for this parser.
	Name() string
}

// Detect guesses the input format from the file extension.
// A .gz suffix is stripped before inspection. Unknown extensions
// default to ndjson.
func Detect(path string) string {
	name := strings.TrimSuffix(path, ".gz")
	switch filepath.Ext(name) {
	case ".csv", ".tsv":
		return "csv"
	default:
		return "ndjson"
	}
}

// New creates a parser for the given format ("auto", "ndjson", or "csv").
func New(format string, cfg config.InputConfig) (Parser, error) {
	if format == "" || format == "auto" {
		format = Detect(cfg.Path)
	}

	switch format {
	case "ndjson", "json", "jsonl":
		return NewNDJSONParser(), nil
	case "csv":
		return NewCSVParser(cfg.CSV), nil
	default:
		return nil, fmt.Errorf("unknown input format %q", format)
	}
}

// PrimeResume prepares a parser to continue mid-file. A CSV parser with a
// header row re-reads the header from the start of the input, since the
// resumed source seeks past it; resumed data rows would otherwise be keyed
// by the first row's values. Stateless parsers need nothing.
func PrimeResume(p Parser, cfg config.InputConfig) error {
	cp, ok := p.(*CSVParser)
	if !ok || cp.cfg.NoHeader {
		return nil
	}

	f, err := os.Open(cfg.Path)
	if err != nil {
		return fmt.Errorf("re-reading header from %q: %w", cfg.Path, err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(cfg.Path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("re-reading header from %q: %w", cfg.Path, err)
		}
		defer gz.Close()
		r = gz
	}

	header, err := bufio.NewReader(r).ReadBytes('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("re-reading header from %q: %w", cfg.Path, err)
	}
	if _, err := cp.Parse(header); err != nil {
		return fmt.Errorf("parsing header row: %w", err)
	}
	return nil
}
