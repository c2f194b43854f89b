package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/GabrielNunesIT/logpipe/internal/checkpoint"
	"github.com/GabrielNunesIT/logpipe/internal/config"
	"github.com/GabrielNunesIT/logpipe/internal/parser"
	"github.com/GabrielNunesIT/logpipe/internal/pipeline"
	"github.com/GabrielNunesIT/logpipe/internal/sink"
	"github.com/GabrielNunesIT/logpipe/internal/source"
	"github.com/GabrielNunesIT/logpipe/internal/stage"
	"github.com/GabrielNunesIT/logpipe/internal/workerpool"
)

// poolShutdownTimeout bounds the graceful drain of in-flight worker tasks.
const poolShutdownTimeout = 30 * time.Second

// NewRunCmd creates the run command.
func NewRunCmd(cfgFile, logLevel *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process a log file through the pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd, cfgFile, logLevel)
		},
	}

	// Input flags
	cmd.Flags().StringP("input", "i", "", "input file (.ndjson, .csv, optionally .gz)")
	cmd.Flags().String("format", "", "input format (auto, ndjson, csv)")
	cmd.Flags().BoolP("follow", "f", false, "keep reading as the file grows")
	cmd.Flags().String("csv-separator", "", "CSV field separator")
	cmd.Flags().Bool("csv-no-header", false, "treat the first CSV row as data")

	// Transform flags
	cmd.Flags().String("filter", "", "keep records matching field:value (prefix ! to invert)")
	cmd.Flags().String("select", "", "comma-separated fields to keep")
	cmd.Flags().String("count-by", "", "count records per value of a field")
	cmd.Flags().String("stats", "", "numeric stats for a field (field or field:groupField)")
	cmd.Flags().Bool("hash", false, "annotate records with a content hash (uses the worker pool)")
	cmd.Flags().String("parse-time", "", "normalize a timestamp field to RFC 3339 UTC")
	cmd.Flags().Duration("aggregate-interval", 0, "flush interval for count-by and stats")
	cmd.Flags().Int("max-groups", 0, "flush aggregations once this many groups exist")
	cmd.Flags().Bool("preserve-on-error", true, "forward the original record when a transform fails")

	// Worker flags
	cmd.Flags().IntP("workers", "w", 0, "worker pool size (0 = one per CPU)")
	cmd.Flags().Int("worker-batch-size", 0, "records per offloaded task")

	// Output flags
	cmd.Flags().StringP("output", "o", "", "output file (default: stdout)")
	cmd.Flags().Bool("rotate", false, "size-rotate the output file")
	cmd.Flags().Bool("pretty", false, "pretty-print stdout output")
	cmd.Flags().String("http-endpoint", "", "deliver batches to this HTTP endpoint")
	cmd.Flags().String("http-method", "", "HTTP method for batch delivery")
	cmd.Flags().Int("http-batch-size", 0, "records per HTTP batch")
	cmd.Flags().Int("http-retries", 0, "delivery attempts per batch")
	cmd.Flags().Duration("http-retry-delay", 0, "base delay between delivery attempts")
	cmd.Flags().Duration("http-timeout", 0, "per-request timeout")
	cmd.Flags().StringToString("http-header", nil, "extra request headers (key=value)")
	cmd.Flags().StringSlice("es-address", nil, "Elasticsearch addresses (enables the ES sink)")
	cmd.Flags().String("es-index", "", "Elasticsearch index")

	// Checkpoint flags
	cmd.Flags().String("checkpoint", "", "checkpoint file (enables resumable runs)")
	cmd.Flags().Duration("checkpoint-interval", 0, "periodic checkpoint save interval")
	cmd.Flags().Bool("no-resume", false, "ignore an existing checkpoint and start from the beginning")

	return cmd
}

func runPipeline(cmd *cobra.Command, cfgFile, logLevel *string) error {
	log := SetupLogging(*logLevel)

	cfg, err := config.Load(*cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	applyCLIOverrides(cmd, cfg)

	if cfg.Input.Path == "" {
		return errors.New("no input file: use --input or set input.path in the config")
	}

	ckpt := checkpoint.New(cfg.Checkpoint, log)
	var resumeOffset, resumeLine uint64
	if ckpt.ShouldResume() {
		resumeOffset, resumeLine = ckpt.ResumePosition()
	}

	src, err := source.Open(cfg.Input, resumeOffset, resumeLine, log)
	if err != nil {
		return err
	}
	defer src.Close()

	p, err := parser.New(cfg.Input.Format, cfg.Input)
	if err != nil {
		return err
	}
	if resumeOffset > 0 {
		if err := parser.PrimeResume(p, cfg.Input); err != nil {
			return err
		}
	}

	stages, pool, err := buildStages(cfg, log)
	if err != nil {
		return err
	}
	if pool != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), poolShutdownTimeout)
			defer cancel()
			if err := pool.Shutdown(shutdownCtx, false); err != nil {
				log.Warn("worker pool shutdown", "error", err)
			}
		}()
	}

	snk := buildSink(cfg, log)
	engine := pipeline.New(src, p, stages, snk, ckpt, log)

	stopSaver := ckpt.Start()
	defer stopSaver()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case sig := <-sigChan:
			log.Info("received shutdown signal", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	log.Info("starting pipeline",
		"input", cfg.Input.Path,
		"sink", snk.Name(),
		"stages", len(stages))

	runErr := engine.Run(ctx)
	switch {
	case runErr == nil:
		if err := ckpt.Finalize(); err != nil {
			log.Warn("final checkpoint save failed", "error", err)
		}
		return nil

	case errors.Is(runErr, context.Canceled):
		// Interrupted: persist the position so the next run resumes here.
		ckpt.MarkInterrupted()
		if err := ckpt.Save(); err != nil {
			log.Warn("interrupt checkpoint save failed", "error", err)
		}
		state := ckpt.Snapshot()
		log.Info("pipeline interrupted",
			"offset", state.LastProcessedOffset,
			"line", state.LastProcessedLine)
		return nil

	default:
		ckpt.MarkInterrupted()
		if err := ckpt.Save(); err != nil {
			log.Warn("interrupt checkpoint save failed", "error", err)
		}
		return fmt.Errorf("pipeline error: %w", runErr)
	}
}

// buildStages assembles the transformation chain: filter, timestamp
// normalization, hashing, projection, then aggregation. The worker pool is
// created only when a stage offloads to it.
func buildStages(cfg *config.Config, log *slog.Logger) ([]stage.Stage, *workerpool.Pool, error) {
	var stages []stage.Stage

	if cfg.Transform.Filter != "" {
		f, err := stage.ParseFilter(cfg.Transform.Filter)
		if err != nil {
			return nil, nil, err
		}
		stages = append(stages, f)
	}

	if cfg.Transform.ParseTime != "" {
		stages = append(stages, stage.NewTimeNormalizer(
			cfg.Transform.ParseTime, cfg.Transform.PreserveOnError, log))
	}

	var pool *workerpool.Pool
	if cfg.Transform.Hash {
		var err error
		pool, err = workerpool.New(cfg.Workers.Count, map[workerpool.TaskType]workerpool.Handler{
			workerpool.TaskHash: stage.HashHandler(),
		}, log)
		if err != nil {
			return nil, nil, fmt.Errorf("starting worker pool: %w", err)
		}
		stages = append(stages, stage.NewWorker(pool, workerpool.TaskHash, cfg.Workers.BatchSize))
	}

	if cfg.Transform.Select != "" {
		pr, err := stage.ParseProject(cfg.Transform.Select)
		if err != nil {
			return nil, pool, err
		}
		stages = append(stages, pr)
	}

	if cfg.Transform.CountBy != "" && cfg.Transform.Stats != "" {
		return nil, pool, errors.New("count-by and stats are mutually exclusive")
	}
	aggOpts := stage.AggregateOptions{
		Interval:  cfg.Transform.AggregateInterval,
		MaxGroups: cfg.Transform.MaxGroups,
	}
	if cfg.Transform.CountBy != "" {
		stages = append(stages, stage.NewCountBy(cfg.Transform.CountBy, aggOpts))
	} else if cfg.Transform.Stats != "" {
		st, err := stage.ParseStats(cfg.Transform.Stats, aggOpts)
		if err != nil {
			return nil, pool, err
		}
		stages = append(stages, st)
	}

	return stages, pool, nil
}

// buildSink picks the active sink by priority: HTTP, Elasticsearch, file,
// stdout.
func buildSink(cfg *config.Config, log *slog.Logger) sink.Sink {
	switch {
	case cfg.Output.HTTP.Endpoint != "":
		return sink.NewHTTPSink(cfg.Output.HTTP, log)
	case len(cfg.Output.Elasticsearch.Addresses) > 0:
		return sink.NewElasticsearchSink(cfg.Output.Elasticsearch, log)
	case cfg.Output.File.Path != "":
		return sink.NewFileSink(cfg.Output.File)
	default:
		return sink.NewStdoutSink(cfg.Output.Pretty)
	}
}

// applyCLIOverrides layers explicitly set flags over the loaded config.
func applyCLIOverrides(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()

	if v, _ := flags.GetString("input"); flags.Changed("input") {
		cfg.Input.Path = v
	}
	if v, _ := flags.GetString("format"); flags.Changed("format") {
		cfg.Input.Format = v
	}
	if v, _ := flags.GetBool("follow"); flags.Changed("follow") {
		cfg.Input.Follow = v
	}
	if v, _ := flags.GetString("csv-separator"); flags.Changed("csv-separator") {
		cfg.Input.CSV.Separator = v
	}
	if v, _ := flags.GetBool("csv-no-header"); flags.Changed("csv-no-header") {
		cfg.Input.CSV.NoHeader = v
	}

	if v, _ := flags.GetString("filter"); flags.Changed("filter") {
		cfg.Transform.Filter = v
	}
	if v, _ := flags.GetString("select"); flags.Changed("select") {
		cfg.Transform.Select = v
	}
	if v, _ := flags.GetString("count-by"); flags.Changed("count-by") {
		cfg.Transform.CountBy = v
	}
	if v, _ := flags.GetString("stats"); flags.Changed("stats") {
		cfg.Transform.Stats = v
	}
	if v, _ := flags.GetBool("hash"); flags.Changed("hash") {
		cfg.Transform.Hash = v
	}
	if v, _ := flags.GetString("parse-time"); flags.Changed("parse-time") {
		cfg.Transform.ParseTime = v
	}
	if v, _ := flags.GetDuration("aggregate-interval"); flags.Changed("aggregate-interval") {
		cfg.Transform.AggregateInterval = v
	}
	if v, _ := flags.GetInt("max-groups"); flags.Changed("max-groups") {
		cfg.Transform.MaxGroups = v
	}
	if v, _ := flags.GetBool("preserve-on-error"); flags.Changed("preserve-on-error") {
		cfg.Transform.PreserveOnError = v
	}

	if v, _ := flags.GetInt("workers"); flags.Changed("workers") {
		cfg.Workers.Count = v
	}
	if v, _ := flags.GetInt("worker-batch-size"); flags.Changed("worker-batch-size") {
		cfg.Workers.BatchSize = v
	}

	if v, _ := flags.GetString("output"); flags.Changed("output") {
		cfg.Output.File.Path = v
	}
	if v, _ := flags.GetBool("rotate"); flags.Changed("rotate") {
		cfg.Output.File.Rotate = v
	}
	if v, _ := flags.GetBool("pretty"); flags.Changed("pretty") {
		cfg.Output.Pretty = v
	}
	if v, _ := flags.GetString("http-endpoint"); flags.Changed("http-endpoint") {
		cfg.Output.HTTP.Endpoint = v
	}
	if v, _ := flags.GetString("http-method"); flags.Changed("http-method") {
		cfg.Output.HTTP.Method = v
	}
	if v, _ := flags.GetInt("http-batch-size"); flags.Changed("http-batch-size") {
		cfg.Output.HTTP.BatchSize = v
	}
	if v, _ := flags.GetInt("http-retries"); flags.Changed("http-retries") {
		cfg.Output.HTTP.Retries = v
	}
	if v, _ := flags.GetDuration("http-retry-delay"); flags.Changed("http-retry-delay") {
		cfg.Output.HTTP.RetryDelay = v
	}
	if v, _ := flags.GetDuration("http-timeout"); flags.Changed("http-timeout") {
		cfg.Output.HTTP.Timeout = v
	}
	if v, _ := flags.GetStringToString("http-header"); flags.Changed("http-header") {
		cfg.Output.HTTP.Headers = v
	}
	if v, _ := flags.GetStringSlice("es-address"); flags.Changed("es-address") {
		cfg.Output.Elasticsearch.Addresses = v
	}
	if v, _ := flags.GetString("es-index"); flags.Changed("es-index") {
		cfg.Output.Elasticsearch.Index = v
	}

	if v, _ := flags.GetString("checkpoint"); flags.Changed("checkpoint") {
		cfg.Checkpoint.Path = v
	}
	if v, _ := flags.GetDuration("checkpoint-interval"); flags.Changed("checkpoint-interval") {
		cfg.Checkpoint.Interval = v
	}
	if v, _ := flags.GetBool("no-resume"); flags.Changed("no-resume") {
		cfg.Checkpoint.Resume = !v
	}
}
