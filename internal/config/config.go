// Package config provides configuration loading with layered overrides.
// Load order: defaults -> YAML file -> environment variables. CLI flags are
// applied on top by the cli package.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// Config is the root configuration structure for logpipe.
type Config struct {
	LogLevel   string           `koanf:"loglevel" yaml:"log_level" json:"log_level"`
	Input      InputConfig      `koanf:"input"`
	Transform  TransformConfig  `koanf:"transform"`
	Workers    WorkerConfig     `koanf:"workers"`
	Output     OutputConfig     `koanf:"output"`
	Checkpoint CheckpointConfig `koanf:"checkpoint"`
	Server     ServerConfig     `koanf:"server"`
}

// InputConfig describes the byte source feeding the pipeline.
type InputConfig struct {
	Path string `koanf:"path"`
	// Format is "auto", "ndjson", or "csv". Auto-detection goes by file
	// extension; a .gz suffix is stripped first.
	Format string `koanf:"format"`
	// Follow keeps the source open and tails new data appended to the file.
	Follow bool      `koanf:"follow"`
	CSV    CSVConfig `koanf:"csv"`
}

// CSVConfig holds CSV parsing options.
type CSVConfig struct {
	Separator string `koanf:"separator"`
	// NoHeader treats the first row as data; columns are named col0, col1, ...
	NoHeader bool `koanf:"noheader" yaml:"no_header" json:"no_header"`
}

// TransformConfig describes the stage chain applied between parse and sink.
type TransformConfig struct {
	// Filter is a "field:value" expression; a leading '!' inverts the match.
	Filter string `koanf:"filter"`
	// Select is a comma-separated list of dotted paths to project.
	Select string `koanf:"select"`
	// CountBy groups records by a field and emits per-group counts.
	CountBy string `koanf:"countby" yaml:"count_by" json:"count_by"`
	// Stats computes count/sum/min/max/avg for a numeric field, optionally
	// grouped: "field" or "field:groupField".
	Stats string `koanf:"stats"`
	// Hash offloads content hashing of every record to the worker pool.
	Hash bool `koanf:"hash"`
	// ParseTime normalizes the named timestamp field to RFC 3339 UTC.
	ParseTime string `koanf:"parsetime" yaml:"parse_time" json:"parse_time"`
	// AggregateInterval is the timed-flush window for count-by and stats.
	AggregateInterval time.Duration `koanf:"aggregateinterval" yaml:"aggregate_interval" json:"aggregate_interval"`
	// MaxGroups forces a flush once the group table reaches this size.
	MaxGroups int `koanf:"maxgroups" yaml:"max_groups" json:"max_groups"`
	// PreserveOnError forwards the original record when a mapper fails
	// instead of aborting the pipeline.
	PreserveOnError bool `koanf:"preserveonerror" yaml:"preserve_on_error" json:"preserve_on_error"`
}

// WorkerConfig controls the worker pool used by offloaded stages.
type WorkerConfig struct {
	// Count is the number of workers; 0 means one per host CPU.
	Count int `koanf:"count"`
	// BatchSize is the number of records per offloaded task.
	BatchSize int `koanf:"batchsize" yaml:"batch_size" json:"batch_size"`
}

// OutputConfig holds configuration for all sinks. Exactly one sink is active
// per run, chosen by priority: HTTP > Elasticsearch > file > stdout.
type OutputConfig struct {
	File          FileSinkConfig          `koanf:"file"`
	Pretty        bool                    `koanf:"pretty"`
	HTTP          HTTPSinkConfig          `koanf:"http"`
	Elasticsearch ElasticsearchSinkConfig `koanf:"elasticsearch"`
}

// FileSinkConfig configures the NDJSON file sink.
type FileSinkConfig struct {
	Path string `koanf:"path"`
	// Rotate enables size-based rotation of the output file.
	Rotate     bool `koanf:"rotate"`
	MaxSizeMB  int  `koanf:"maxsizemb" yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int  `koanf:"maxbackups" yaml:"max_backups" json:"max_backups"`
	Compress   bool `koanf:"compress"`
}

// HTTPSinkConfig configures the batched HTTP sender.
type HTTPSinkConfig struct {
	Endpoint   string            `koanf:"endpoint"`
	Method     string            `koanf:"method"`
	BatchSize  int               `koanf:"batchsize" yaml:"batch_size" json:"batch_size"`
	Retries    int               `koanf:"retries"`
	RetryDelay time.Duration     `koanf:"retrydelay" yaml:"retry_delay" json:"retry_delay"`
	Timeout    time.Duration     `koanf:"timeout"`
	Headers    map[string]string `koanf:"headers"`
	// StatsInterval controls how often cumulative send statistics are logged.
	StatsInterval time.Duration `koanf:"statsinterval" yaml:"stats_interval" json:"stats_interval"`
}

// ElasticsearchSinkConfig configures the Elasticsearch bulk sink.
type ElasticsearchSinkConfig struct {
	Addresses     []string      `koanf:"addresses"`
	Index         string        `koanf:"index"`
	Username      string        `koanf:"username"`
	Password      string        `koanf:"password"`
	FlushInterval time.Duration `koanf:"flushinterval" yaml:"flush_interval" json:"flush_interval"`
}

// CheckpointConfig controls durable progress tracking.
type CheckpointConfig struct {
	Path     string        `koanf:"path"`
	Interval time.Duration `koanf:"interval"`
	// Resume seeks the source to the last checkpointed offset on startup.
	Resume bool `koanf:"resume"`
}

// ServerConfig configures the demo receiver started by `logpipe serve`.
type ServerConfig struct {
	Address string `koanf:"address"`
	// DataDir is where received batches are persisted, one file per request.
	DataDir string `koanf:"datadir" yaml:"data_dir" json:"data_dir"`
}

// defaults returns the default configuration values.
func defaults() Config {
	return Config{
		LogLevel: "info",
		Input: InputConfig{
			Format: "auto",
			CSV: CSVConfig{
				Separator: ",",
			},
		},
		Transform: TransformConfig{
			AggregateInterval: 10 * time.Second,
			MaxGroups:         10000,
			PreserveOnError:   true,
		},
		Workers: WorkerConfig{
			Count:     0, // one per CPU
			BatchSize: 100,
		},
		Output: OutputConfig{
			File: FileSinkConfig{
				MaxSizeMB:  100,
				MaxBackups: 3,
				Compress:   true,
			},
			HTTP: HTTPSinkConfig{
				Method:        "POST",
				BatchSize:     100,
				Retries:       3,
				RetryDelay:    time.Second,
				Timeout:       30 * time.Second,
				StatsInterval: 10 * time.Second,
			},
			Elasticsearch: ElasticsearchSinkConfig{
				FlushInterval: 5 * time.Second,
			},
		},
		Checkpoint: CheckpointConfig{
			Interval: 30 * time.Second,
			Resume:   true,
		},
		Server: ServerConfig{
			Address: ":8080",
			DataDir: "./received",
		},
	}
}

// Load reads configuration from all sources with proper override order.
// Order: defaults -> config file -> environment variables.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaults(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if configPath == "" {
		// Try default config locations
		for _, path := range []string{"./logpipe.yaml", "/etc/logpipe/config.yaml"} {
			if _, err := os.Stat(path); err == nil {
				configPath = path
				break
			}
		}
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %q: %w", configPath, err)
		}
	}

	// LOGPIPE_OUTPUT_HTTP_ENDPOINT -> output.http.endpoint
	err := k.Load(env.Provider("LOGPIPE_", ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, "LOGPIPE_")), "_", ".")
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}
