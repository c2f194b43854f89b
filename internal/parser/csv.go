package parser

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"

	"github.com/GabrielNunesIT/logpipe/internal/config"
	"github.com/GabrielNunesIT/logpipe/internal/model"
)

// CSVParser parses one CSV row per line. With a header row, the first
// non-empty line names the columns; without one, columns are col0, col1, ...
//
// Each line is parsed independently, so quoted fields may not span lines.
type CSVParser struct {
	cfg    config.CSVConfig
	comma  rune
	header []string
}

// NewCSVParser creates a new CSV parser.
func NewCSVParser(cfg config.CSVConfig) *CSVParser {
	comma := ','
	if cfg.Separator != "" {
		comma = []rune(cfg.Separator)[0]
	}
	return &CSVParser{cfg: cfg, comma: comma}
}

// Name returns the parser identifier.
func (p *CSVParser) Name() string {
	return "csv"
}

// Parse decodes one CSV row. The header row (when configured) yields a nil
// record and nil error.
func (p *CSVParser) Parse(line []byte) (model.Record, error) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return nil, nil
	}

	fields, err := p.splitRow(trimmed)
	if err != nil {
		return nil, fmt.Errorf("decoding CSV row: %w", err)
	}

	if p.header == nil && !p.cfg.NoHeader {
		p.header = fields
		return nil, nil
	}

	rec := make(model.Record, len(fields))
	for i, v := range fields {
		rec[p.columnName(i)] = v
	}
	return rec, nil
}

func (p *CSVParser) splitRow(line []byte) ([]string, error) {
	r := csv.NewReader(bytes.NewReader(line))
	r.Comma = p.comma
	r.FieldsPerRecord = -1
	return r.Read()
}

func (p *CSVParser) columnName(i int) string {
	if i < len(p.header) {
		return p.header[i]
	}
	return "col" + strconv.Itoa(i)
}
