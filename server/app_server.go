package server

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/INLOpen/worldsync/compressors"
	"github.com/INLOpen/worldsync/config"
	"github.com/INLOpen/worldsync/hooks"
	"github.com/INLOpen/worldsync/hooks/listeners"
	"github.com/INLOpen/worldsync/localstore"
	"github.com/INLOpen/worldsync/replication"
)

// MetricsName is the expvar map the server publishes its counters under.
const MetricsName = "worldsync"

// AppServer manages the websocket bridge, the debug server and the shared
// local store.
type AppServer struct {
	bridgeLis  net.Listener
	bridgeHTTP *http.Server
	bridge     *Bridge
	debugLis   net.Listener
	debug      *DebugServer
	collector  *SystemCollector
	backend    localstore.Backend
	hooks      hooks.HookManager
	cfg        *config.Config
	logger     *slog.Logger
	cancel     context.CancelFunc
}

// NewAppServer opens the local store and the listeners named in cfg.
func NewAppServer(cfg *config.Config, logger *slog.Logger, tp trace.TracerProvider) (*AppServer, error) {
	backend, err := OpenBackend(cfg.Store, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}
	comp, err := compressors.ForName(cfg.Store.Compression)
	if err != nil {
		closeBackend(backend)
		return nil, err
	}

	hm := hooks.NewHookManager(logger)
	metrics, err := listeners.NewMetricsListener()
	if err != nil {
		closeBackend(backend)
		return nil, fmt.Errorf("failed to create metrics listener: %w", err)
	}
	metrics.Register(hm)
	metrics.Publish(MetricsName)
	listeners.NewPhaseLoggerListener(logger).Register(hm)

	bridge := NewBridge(BridgeOptions{
		Session: SessionOptions{
			Config:         cfg,
			Backend:        backend,
			Compressor:     comp,
			Hooks:          hm,
			Logger:         logger,
			TracerProvider: tp,
		},
		Worker: replication.WorkerOptions{
			Outbox: replication.OutboxOptions{
				Window:       config.ParseDuration(cfg.Sync.BatchWindow, replication.DefaultBatchWindow, logger),
				StallWarning: config.ParseDuration(cfg.Sync.AckStallWarning, replication.DefaultStallWarning, logger),
				MaxBatchSize: cfg.Sync.MaxBatchSize,
			},
			RestartMax: config.ParseDuration(cfg.Sync.RestartBackoffMax, time.Minute, logger),
			Hooks:      hm,
		},
		Logger: logger,
	})
	metrics.Vars().Set("bridge_sessions", expvar.Func(func() any { return bridge.Sessions() }))

	s := &AppServer{
		bridge:  bridge,
		backend: backend,
		hooks:   hm,
		cfg:     cfg,
		logger:  logger.With("component", "AppServer"),
	}

	path := cfg.Bridge.Path
	if path == "" {
		path = "/sync"
	}
	mux := http.NewServeMux()
	mux.Handle(path, bridge)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	s.bridgeHTTP = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	s.bridgeLis, err = net.Listen("tcp", cfg.Bridge.ListenAddress)
	if err != nil {
		closeBackend(backend)
		return nil, fmt.Errorf("failed to listen on bridge address %s: %w", cfg.Bridge.ListenAddress, err)
	}
	logger.Info("Bridge will listen on", "address", s.bridgeLis.Addr().String(), "path", path)

	if cfg.Debug.Enabled {
		s.debug = NewDebugServer(&cfg.Debug, logger)
		s.debugLis, err = net.Listen("tcp", cfg.Debug.ListenAddress)
		if err != nil {
			s.bridgeLis.Close()
			closeBackend(backend)
			return nil, fmt.Errorf("failed to listen on debug address %s: %w", cfg.Debug.ListenAddress, err)
		}
		diskPath := ""
		if cfg.Store.Path != "" {
			diskPath = filepath.Dir(cfg.Store.Path)
		}
		s.collector = NewSystemCollector(metrics.Vars(), diskPath,
			config.ParseDuration(cfg.Debug.SystemInterval, 15*time.Second, logger), logger)
	}
	return s, nil
}

func closeBackend(b localstore.Backend) {
	if b != nil {
		b.Close()
	}
}

// BridgeAddr returns the address the bridge listens on.
func (s *AppServer) BridgeAddr() net.Addr { return s.bridgeLis.Addr() }

// DebugAddr returns the debug server address, or nil when disabled.
func (s *AppServer) DebugAddr() net.Addr {
	if s.debugLis == nil {
		return nil
	}
	return s.debugLis.Addr()
}

// Start runs all configured servers in parallel. It blocks until all servers stop.
func (s *AppServer) Start() error {
	g, ctx := errgroup.WithContext(context.Background())
	var appCtx context.Context
	appCtx, s.cancel = context.WithCancel(ctx)

	g.Go(func() error {
		go func() {
			<-appCtx.Done()
			s.logger.Info("Context cancelled, stopping bridge...")
			s.bridge.Close()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			s.bridgeHTTP.Shutdown(shutdownCtx)
		}()
		s.logger.Info("Starting bridge server...")
		return s.bridgeHTTP.Serve(s.bridgeLis)
	})

	if s.debug != nil {
		s.collector.Start()
		g.Go(func() error {
			go func() {
				<-appCtx.Done()
				s.debug.Stop()
			}()
			return s.debug.Serve(s.debugLis)
		})
	}

	s.logger.Info("Application server started. Waiting for servers to exit.")
	err := g.Wait()

	if s.collector != nil {
		s.collector.Stop()
	}
	if s.backend != nil {
		if cerr := s.backend.Close(); cerr != nil {
			s.logger.Warn("Failed to close local store", "error", cerr)
		}
	}
	s.hooks.Stop()

	if err != nil && !errors.Is(err, net.ErrClosed) && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("A server has failed, initiating shutdown.", "error", err)
		return fmt.Errorf("server group failed: %w", err)
	}
	s.logger.Info("All servers have stopped gracefully.")
	return nil
}

// Stop gracefully shuts down all servers.
func (s *AppServer) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}
