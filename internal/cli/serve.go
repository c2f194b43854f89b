package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/GabrielNunesIT/logpipe/internal/config"
	"github.com/GabrielNunesIT/logpipe/internal/server"
)

// NewServeCmd creates the serve command, which runs the demo batch
// receiver.
func NewServeCmd(cfgFile, logLevel *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the demo HTTP batch receiver",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := SetupLogging(*logLevel)

			cfg, err := config.Load(*cfgFile)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if v, _ := cmd.Flags().GetString("address"); cmd.Flags().Changed("address") {
				cfg.Server.Address = v
			}
			if v, _ := cmd.Flags().GetString("data-dir"); cmd.Flags().Changed("data-dir") {
				cfg.Server.DataDir = v
			}

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

			return server.New(cfg.Server, log).Run(ctx)
		},
	}

	cmd.Flags().String("address", "", "listen address")
	cmd.Flags().String("data-dir", "", "directory for received batches")
	return cmd
}
