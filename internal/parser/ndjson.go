package parser

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/GabrielNunesIT/logpipe/internal/model"
)

// NDJSONParser parses newline-delimited JSON objects.
type NDJSONParser struct{}

// NewNDJSONParser creates a new NDJSON parser.
func NewNDJSONParser() *NDJSONParser {
	return &NDJSONParser{}
}

// Name returns the parser identifier.
func (p *NDJSONParser) Name() string {
	return "ndjson"
}

// Parse decodes one JSON object. Blank lines are skipped.
func (p *NDJSONParser) Parse(line []byte) (model.Record, error) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return nil, nil
	}

	if trimmed[0] != '{' {
		return nil, fmt.Errorf("line is not a JSON object")
	}

	var rec model.Record
	if err := json.Unmarshal(trimmed, &rec); err != nil {
		return nil, fmt.Errorf("decoding JSON: %w", err)
	}
	return rec, nil
}
