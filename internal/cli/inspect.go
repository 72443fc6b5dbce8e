package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/sugawarayuuta/sonnet"

	"github.com/INLOpen/worldsync/config"
	"github.com/INLOpen/worldsync/localstore"
	"github.com/INLOpen/worldsync/server"
)

// InspectOptions holds flags for the inspect command.
type InspectOptions struct {
	*RootOptions
	Format    string
	Component string
}

// NewInspectCommand creates the inspect command, which reports on the state
// cache stored for the configured world.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InspectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "inspect",
		Short:         "Report on the stored state cache of the configured world",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Format, "format", "f", "text", "output format (text|json)")
	cmd.Flags().StringVar(&opts.Component, "component", "", "also list the entities holding a value for this component")
	return cmd
}

func runInspect(ctx context.Context, out io.Writer, opts *InspectOptions) error {
	if opts.Format != "text" && opts.Format != "json" {
		return fmt.Errorf("unknown format %q", opts.Format)
	}
	adapter, closeStore, err := openAdapter(opts.Config, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		return err
	}
	defer closeStore()

	c := adapter.Load(ctx)
	report := c.Report()
	var entities []string
	if opts.Component != "" {
		entities = c.EntitiesWith(opts.Component)
	}
	if opts.Format == "json" {
		data, err := sonnet.Marshal(struct {
			Identity string   `json:"identity"`
			Key      string   `json:"key"`
			Report   any      `json:"report"`
			Entities []string `json:"entities,omitempty"`
		}{adapter.Identity().String(), adapter.Identity().Key(), report, entities})
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, string(data))
		return err
	}
	fmt.Fprintf(out, "identity: %s\n", adapter.Identity())
	fmt.Fprintf(out, "key:      %s\n", adapter.Identity().Key())
	fmt.Fprintf(out, "cache:    %s\n", report)
	if opts.Component != "" {
		fmt.Fprintf(out, "%s: %d entities\n", opts.Component, len(entities))
		for _, e := range entities {
			fmt.Fprintf(out, "  %s\n", e)
		}
	}
	return nil
}

// openAdapter opens the configured backend and an adapter keyed by the
// configured world.
func openAdapter(cfg *config.Config, logger *slog.Logger) (*localstore.Adapter[server.Value], func(), error) {
	if err := requireWorld(cfg); err != nil {
		return nil, nil, err
	}
	backend, err := server.OpenBackend(cfg.Store, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open local store: %w", err)
	}
	if backend == nil {
		return nil, nil, fmt.Errorf("store.backend is %q, nothing to inspect", cfg.Store.Backend)
	}
	adapter := localstore.NewAdapter[server.Value](backend, localstore.Options[server.Value]{
		Identity: localstore.Identity{
			ChainID:       cfg.Chain.ChainID,
			World:         cfg.Chain.WorldAddress,
			SchemaVersion: cfg.Store.SchemaVersion,
		},
		Codec:  localstore.JSONCodec[server.Value]{},
		Logger: logger,
	})
	return adapter, func() { backend.Close() }, nil
}
