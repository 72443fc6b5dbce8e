package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/sugawarayuuta/sonnet"
	"golang.org/x/term"

	"github.com/INLOpen/worldsync/compressors"
	"github.com/INLOpen/worldsync/config"
	"github.com/INLOpen/worldsync/core"
	"github.com/INLOpen/worldsync/hooks"
	"github.com/INLOpen/worldsync/hooks/listeners"
	"github.com/INLOpen/worldsync/replication"
	"github.com/INLOpen/worldsync/server"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	JSON      bool
	UntilLive bool
}

// NewRunCommand creates the run command, which syncs the configured world
// in-process and acknowledges every batch itself.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Sync the configured world in the foreground",
		Long: `Run starts a single sync session from the configuration file. Batches are
acknowledged as soon as they are received. With --json every batch is written
to stdout as one JSON line.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runSync(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr(), opts)
		},
	}

	cmd.Flags().BoolVar(&opts.JSON, "json", false, "write every batch to stdout as a JSON line")
	cmd.Flags().BoolVar(&opts.UntilLive, "until-live", false, "exit once the session reaches LIVE")
	return cmd
}

func runSync(ctx context.Context, stdout, stderr io.Writer, opts *RunOptions) error {
	cfg := opts.Config
	if err := requireWorld(cfg); err != nil {
		return err
	}
	msg := server.ConfigFromFile(cfg)
	if err := msg.Validate(); err != nil {
		return err
	}

	logger, closer, err := createLogger(cfg.Logging, stderr)
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

	backend, err := server.OpenBackend(cfg.Store, logger)
	if err != nil {
		return fmt.Errorf("failed to open local store: %w", err)
	}
	if backend != nil {
		defer backend.Close()
	}
	comp, err := compressors.ForName(cfg.Store.Compression)
	if err != nil {
		return err
	}

	hm := hooks.NewHookManager(logger)
	defer hm.Stop()
	listeners.NewPhaseLoggerListener(logger).Register(hm)

	gaps := make(chan replication.LargeGap, 4)
	factory := server.NewSessionFactory(server.SessionOptions{
		Config:         cfg,
		Backend:        backend,
		Compressor:     comp,
		LargeGaps:      gaps,
		Hooks:          hm,
		Logger:         logger,
		TracerProvider: tp,
	})
	worker := replication.NewWorker(factory, replication.WorkerOptions{
		Outbox: replication.OutboxOptions{
			Window:       config.ParseDuration(cfg.Sync.BatchWindow, replication.DefaultBatchWindow, logger),
			StallWarning: config.ParseDuration(cfg.Sync.AckStallWarning, replication.DefaultStallWarning, logger),
			MaxBatchSize: cfg.Sync.MaxBatchSize,
		},
		RestartMax: config.ParseDuration(cfg.Sync.RestartBackoffMax, time.Minute, logger),
		Hooks:      hm,
		Logger:     logger,
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	control := make(chan replication.ControlMessage, 4)
	out := make(chan []core.UpdateEvent[server.Value])
	done := make(chan error, 1)
	control <- msg
	go func() { done <- worker.Run(ctx, control, out) }()

	progress := newProgressLine(stderr, opts.JSON)
	defer progress.finish()
	for {
		select {
		case batch := <-out:
			if opts.JSON {
				if err := writeBatch(stdout, batch); err != nil {
					cancel()
					<-done
					return err
				}
			}
			status := lastStatus(batch)
			control <- replication.AckMessage{}
			if status == nil {
				continue
			}
			progress.update(status)
			if status.Phase == core.PhaseFailed {
				cancel()
				<-done
				return fmt.Errorf("sync failed: %s", status.Message)
			}
			if status.Phase == core.PhaseLive && opts.UntilLive {
				cancel()
				<-done
				return nil
			}
		case gap := <-gaps:
			logger.Warn("Large gap in live stream, a restart from the local store would be faster",
				"from", gap.From, "to", gap.To)
		case err := <-done:
			var failed *replication.FailedError
			if errors.As(err, &failed) {
				return fmt.Errorf("sync failed: %s", failed.Reason)
			}
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		}
	}
}

func lastStatus(batch []core.UpdateEvent[server.Value]) *core.SyncStatus {
	var st *core.SyncStatus
	for _, ev := range batch {
		if ev.Component == core.StatusComponent && ev.Value.Status != nil {
			st = ev.Value.Status
		}
	}
	return st
}

func writeBatch(w io.Writer, batch []core.UpdateEvent[server.Value]) error {
	data, err := sonnet.Marshal(batch)
	if err != nil {
		return err
	}
	_, err = w.Write(append(data, '\n'))
	return err
}

// progressLine redraws the current phase on a terminal. It stays silent
// when the output is not a terminal.
type progressLine struct {
	w       io.Writer
	enabled bool
	drawn   bool
}

func newProgressLine(w io.Writer, quiet bool) *progressLine {
	p := &progressLine{w: w}
	if f, ok := w.(*os.File); ok && !quiet {
		p.enabled = term.IsTerminal(int(f.Fd()))
	}
	return p
}

func (p *progressLine) update(st *core.SyncStatus) {
	if !p.enabled {
		return
	}
	fmt.Fprintf(p.w, "\r\033[K[%s] %5.1f%% %s", st.Phase, st.Percentage, st.Message)
	p.drawn = true
}

func (p *progressLine) finish() {
	if p.drawn {
		fmt.Fprintln(p.w)
	}
}
