package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/INLOpen/worldsync/server"
)

// NewServeCommand creates the serve command, which runs the websocket bridge
// and, when enabled, the debug server.
func NewServeCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve sync sessions to websocket consumers",
		Long: `Serve accepts websocket consumers on bridge.listen_address. Each consumer
sends a config message and then acknowledges every batch it receives.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}
}

func runServe(cmd *cobra.Command, opts *RootOptions) error {
	cfg := opts.Config
	logger, closer, err := createLogger(cfg.Logging, cmd.OutOrStdout())
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	if closer != nil {
		defer closer.Close()
	}

	tp, shutdownTracer, err := initTracerProvider(cfg.Tracing, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}
	defer shutdownTracer()

	app, err := server.NewAppServer(cfg, logger, tp)
	if err != nil {
		return fmt.Errorf("failed to create app server: %w", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)
	go func() {
		sig := <-quit
		logger.Info("Shutdown signal received", "signal", sig.String())
		app.Stop()
	}()

	if err := app.Start(); err != nil {
		return err
	}
	logger.Info("Server shut down gracefully.")
	return nil
}
