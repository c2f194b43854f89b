// Package cli wires the command-line surface to the pipeline, receiver, and
// generator.
package cli

import (
	"github.com/spf13/cobra"
)

// Execute builds and runs the CLI.
func Execute() error {
	var (
		cfgFile  string
		logLevel string
	)

	rootCmd := &cobra.Command{
		Use:   "logpipe",
		Short: "A parallel, resumable log processing pipeline",
		Long: `logpipe streams structured logs (NDJSON or CSV, optionally gzipped)
through a chain of transformations and delivers the results to stdout, a
file, a batched HTTP endpoint, or Elasticsearch.

Processing is checkpointed: an interrupted run resumes from the last
recorded byte offset. CPU-heavy work can be offloaded to a worker pool,
and a demo receiver (logpipe serve) accepts the HTTP sink's batches.`,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default: ./logpipe.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(
		NewRunCmd(&cfgFile, &logLevel),
		NewServeCmd(&cfgFile, &logLevel),
		NewGenerateCmd(),
		NewValidateCmd(&cfgFile),
		NewVersionCmd(),
	)

	return rootCmd.Execute()
}
