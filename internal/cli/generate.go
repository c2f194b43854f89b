package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/GabrielNunesIT/logpipe/internal/generate"
)

// NewGenerateCmd creates the generate command, which writes synthetic log
// data for testing the pipeline.
func NewGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate synthetic log data",
		RunE: func(cmd *cobra.Command, args []string) error {
			count, _ := cmd.Flags().GetInt("count")
			format, _ := cmd.Flags().GetString("format")
			seed, _ := cmd.Flags().GetInt64("seed")
			output, _ := cmd.Flags().GetString("output")

			w := os.Stdout
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("creating output file: %w", err)
				}
				defer f.Close()
				w = f
			}

			return generate.Write(w, generate.Options{
				Count:  count,
				Format: format,
				Seed:   seed,
			})
		},
	}

	cmd.Flags().IntP("count", "n", 1000, "number of records")
	cmd.Flags().String("format", "ndjson", "output format (ndjson, csv)")
	cmd.Flags().Int64("seed", 0, "random seed (0 = from the clock)")
	cmd.Flags().StringP("output", "o", "", "output file (default: stdout)")
	return cmd
}
