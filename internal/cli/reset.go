package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
)

// NewResetCommand creates the reset command, which deletes the stored state
// cache so the next session syncs from scratch.
func NewResetCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "reset",
		Short:         "Delete the stored state cache of the configured world",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			adapter, closeStore, err := openAdapter(opts.Config, slog.New(slog.NewTextHandler(io.Discard, nil)))
			if err != nil {
				return err
			}
			defer closeStore()
			if err := adapter.Reset(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reset %s\n", adapter.Identity())
			return nil
		},
	}
}
