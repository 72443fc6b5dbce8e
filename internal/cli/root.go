// Package cli implements the worldsync command line.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/INLOpen/worldsync/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	LogLevel   string

	// Config is loaded before any subcommand runs.
	Config *config.Config
}

// NewRootCommand creates the root command for the worldsync CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "worldsync",
		Short: "worldsync - mirror an on-chain ECS world",
		Long: `worldsync keeps a local mirror of an on-chain entity-component world up to date.
It combines a local cache, a snapshot service, historical logs and a live stream,
and hands ordered update batches to a consumer one acknowledged batch at a time.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(opts.ConfigPath)
			if err != nil {
				return err
			}
			if opts.LogLevel != "" {
				cfg.Logging.Level = opts.LogLevel
			}
			if _, _, err := levelFor(cfg.Logging.Level); err != nil {
				return err
			}
			opts.Config = cfg
			return nil
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "worldsync.yaml", "path to the configuration file")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "override logging.level (debug|info|warn|error)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewInspectCommand(opts))
	cmd.AddCommand(NewResetCommand(opts))
	return cmd
}

func requireWorld(cfg *config.Config) error {
	if cfg.Chain.WorldAddress == "" {
		return fmt.Errorf("chain.world_address is not configured")
	}
	return nil
}
