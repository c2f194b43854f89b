package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/GabrielNunesIT/logpipe/internal/config"
)

// NewValidateCmd creates the validate command.
func NewValidateCmd(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgFile)
			if err != nil {
				return fmt.Errorf("configuration error: %w", err)
			}

			// Building the stage chain checks the transform expressions
			// without touching any input or output.
			log := slog.New(slog.NewTextHandler(io.Discard, nil))
			cfg.Transform.Hash = false // validation must not spin up the pool
			stages, _, err := buildStages(cfg, log)
			if err != nil {
				return fmt.Errorf("transform configuration error: %w", err)
			}

			fmt.Printf("Configuration valid:\n")
			fmt.Printf("  Input:  %s\n", orUnset(cfg.Input.Path))
			fmt.Printf("  Stages: %d configured\n", len(stages))
			fmt.Printf("  Sink:   %s\n", buildSink(cfg, log).Name())
			return nil
		},
	}
}

func orUnset(s string) string {
	if s == "" {
		return "(unset)"
	}
	return s
}
