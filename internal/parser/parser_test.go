package parser

import (
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"

	"github.com/GabrielNunesIT/logpipe/internal/config"
)

func TestDetect(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"app.ndjson", "ndjson"},
		{"app.jsonl", "ndjson"},
		{"data.csv", "csv"},
		{"data.tsv", "csv"},
		{"data.csv.gz", "csv"},
		{"app.ndjson.gz", "ndjson"},
		{"no-extension", "ndjson"},
	}

	for _, tt := range tests {
		if got := Detect(tt.path); got != tt.want {
			t.Errorf("Detect(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestNDJSONParser_Parse(t *testing.T) {
	p := NewNDJSONParser()

	rec, err := p.Parse([]byte(`{"level":"ERROR","status":500}`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if rec["level"] != "ERROR" {
		t.Errorf("expected level=ERROR, got %v", rec["level"])
	}
	if rec["status"] != float64(500) {
		t.Errorf("expected status=500, got %v", rec["status"])
	}
}

func TestNDJSONParser_BlankLineSkipped(t *testing.T) {
	p := NewNDJSONParser()

	rec, err := p.Parse([]byte("   \n"))
	if err != nil {
		t.Fatalf("expected blank line to be skipped, got error: %v", err)
	}
	if rec != nil {
		t.Errorf("expected nil record for blank line, got %v", rec)
	}
}

func TestNDJSONParser_MalformedLine(t *testing.T) {
	p := NewNDJSONParser()

	if _, err := p.Parse([]byte(`{"broken":`)); err == nil {
		t.Error("expected error for truncated JSON")
	}
	if _, err := p.Parse([]byte(`not json at all`)); err == nil {
		t.Error("expected error for non-JSON line")
	}
}

func TestCSVParser_HeaderRow(t *testing.T) {
	p := NewCSVParser(config.CSVConfig{Separator: ","})

	rec, err := p.Parse([]byte("level,message,status"))
	if err != nil {
		t.Fatalf("header parse failed: %v", err)
	}
	if rec != nil {
		t.Fatalf("header row should yield nil record, got %v", rec)
	}

	rec, err = p.Parse([]byte(`ERROR,"disk full, aborting",500`))
	if err != nil {
		t.Fatalf("data parse failed: %v", err)
	}
	if rec["level"] != "ERROR" {
		t.Errorf("expected level=ERROR, got %v", rec["level"])
	}
	if rec["message"] != "disk full, aborting" {
		t.Errorf("quoted field mangled: %v", rec["message"])
	}
	if rec["status"] != "500" {
		t.Errorf("expected status string 500, got %v", rec["status"])
	}
}

func TestCSVParser_NoHeader(t *testing.T) {
	p := NewCSVParser(config.CSVConfig{Separator: ";", NoHeader: true})

	rec, err := p.Parse([]byte("INFO;started;200"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if rec["col0"] != "INFO" || rec["col1"] != "started" || rec["col2"] != "200" {
		t.Errorf("unexpected record: %v", rec)
	}
}

func TestCSVParser_ExtraColumns(t *testing.T) {
	p := NewCSVParser(config.CSVConfig{Separator: ","})

	if _, err := p.Parse([]byte("a,b")); err != nil {
		t.Fatal(err)
	}
	rec, err := p.Parse([]byte("1,2,3"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if rec["a"] != "1" || rec["b"] != "2" || rec["col2"] != "3" {
		t.Errorf("unexpected record: %v", rec)
	}
}

func TestNew_UnknownFormat(t *testing.T) {
	if _, err := New("parquet", config.InputConfig{}); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestPrimeResume_CSVHeaderReRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.csv")
	content := "level,msg\nINFO,first\nWARN,second\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := config.InputConfig{Path: path, CSV: config.CSVConfig{Separator: ","}}
	p, err := New("csv", cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := PrimeResume(p, cfg); err != nil {
		t.Fatalf("PrimeResume failed: %v", err)
	}

	// The parser already holds the header; the next line it sees is a data
	// row and must be keyed by the header fields.
	rec, err := p.Parse([]byte("WARN,second"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if rec == nil {
		t.Fatal("data row after PrimeResume was swallowed as a header")
	}
	if rec["level"] != "WARN" || rec["msg"] != "second" {
		t.Errorf("unexpected record: %v", rec)
	}
}

func TestPrimeResume_GzippedCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.csv.gz")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	gz := gzip.NewWriter(f)
	if _, err := gz.Write([]byte("level,msg\nINFO,first\n")); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	cfg := config.InputConfig{Path: path, CSV: config.CSVConfig{Separator: ","}}
	p, err := New("auto", cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := PrimeResume(p, cfg); err != nil {
		t.Fatalf("PrimeResume failed: %v", err)
	}

	rec, err := p.Parse([]byte("ERROR,third"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if rec["level"] != "ERROR" || rec["msg"] != "third" {
		t.Errorf("unexpected record: %v", rec)
	}
}

func TestPrimeResume_NoOpForStatelessParsers(t *testing.T) {
	// NDJSON has no header state; the input file does not even need to exist.
	p := NewNDJSONParser()
	if err := PrimeResume(p, config.InputConfig{Path: "missing.ndjson"}); err != nil {
		t.Fatalf("PrimeResume should be a no-op for ndjson: %v", err)
	}

	// Headerless CSV likewise keys rows positionally.
	cp := NewCSVParser(config.CSVConfig{Separator: ",", NoHeader: true})
	if err := PrimeResume(cp, config.InputConfig{Path: "missing.csv"}); err != nil {
		t.Fatalf("PrimeResume should be a no-op for headerless csv: %v", err)
	}
	rec, err := cp.Parse([]byte("INFO,hello"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if rec["col0"] != "INFO" {
		t.Errorf("unexpected record: %v", rec)
	}
}

func TestNew_AutoUsesPath(t *testing.T) {
	p, err := New("auto", config.InputConfig{Path: "data.csv.gz"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if p.Name() != "csv" {
		t.Errorf("expected csv parser, got %q", p.Name())
	}
}
