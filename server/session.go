package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"

	"github.com/INLOpen/worldsync/chain"
	"github.com/INLOpen/worldsync/config"
	"github.com/INLOpen/worldsync/core"
	"github.com/INLOpen/worldsync/hooks"
	"github.com/INLOpen/worldsync/live"
	"github.com/INLOpen/worldsync/localstore"
	"github.com/INLOpen/worldsync/replication"
	"github.com/INLOpen/worldsync/snapshot"
)

// SessionOptions holds what every session built by a factory shares.
type SessionOptions struct {
	Config *config.Config
	// Backend stores state caches between sessions. Nil disables the local store.
	Backend    localstore.Backend
	Compressor core.Compressor

	// GRPCDialOptions are appended when dialing the snapshot and stream services.
	GRPCDialOptions []grpc.DialOption
	HTTPClient      *http.Client
	WSDialer        *websocket.Dialer

	// LargeGaps receives restart requests from sessions of this factory.
	LargeGaps chan<- replication.LargeGap

	Hooks          hooks.HookManager
	Logger         *slog.Logger
	TracerProvider trace.TracerProvider
}

// NewSessionFactory assembles the synchronizer of a session from the
// consumer's Config message, filling what it leaves out from the
// configuration file.
func NewSessionFactory(opts SessionOptions) replication.SessionFactory[Value] {
	if opts.Config == nil {
		opts.Config = config.Default()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Hooks == nil {
		opts.Hooks = hooks.NewHookManager(opts.Logger)
	}
	return func(ctx context.Context, msg replication.ConfigMessage, outbox *replication.Outbox[Value]) (*replication.Session[Value], error) {
		return buildSession(opts, msg, outbox)
	}
}

func buildSession(opts SessionOptions, msg replication.ConfigMessage, outbox *replication.Outbox[Value]) (*replication.Session[Value], error) {
	cfg := opts.Config
	logger := opts.Logger.With("world", msg.WorldAddress, "chain_id", msg.ChainID)
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	client := chain.NewClient(msg.RemoteProvider, opts.HTTPClient, logger)
	fetcher := chain.NewRangeFetcher(client, chain.FetcherOptions{
		World:          msg.WorldAddress,
		ChunkBlocks:    cfg.Sync.GapChunkBlocks,
		Logger:         logger,
		TracerProvider: opts.TracerProvider,
	})

	var store replication.Store[Value]
	if opts.Backend != nil {
		store = localstore.NewAdapter[Value](opts.Backend, localstore.Options[Value]{
			Identity: localstore.Identity{
				ChainID:       msg.ChainID,
				World:         msg.WorldAddress,
				SchemaVersion: cfg.Store.SchemaVersion,
			},
			Codec:      localstore.JSONCodec[Value]{},
			Compressor: opts.Compressor,
			Hooks:      opts.Hooks,
			Logger:     logger,
		})
	}

	var loader replication.SnapshotLoader[Value]
	if msg.SnapshotServiceURL != "" {
		sc, err := snapshot.Dial(msg.SnapshotServiceURL, logger, opts.GRPCDialOptions...)
		if err != nil {
			return nil, err
		}
		cleanups = append(cleanups, func() { sc.Close() })
		chunks := msg.SnapshotChunkCount
		if chunks == 0 {
			chunks = cfg.Snapshot.ChunkCount
		}
		loader = snapshot.NewLoader[Value](sc.API(), snapshot.Options[Value]{
			World:          msg.WorldAddress,
			ChunkCount:     chunks,
			FetchExtras:    msg.FetchExtras || cfg.Snapshot.FetchExtras,
			Decoder:        DecodeValue,
			Hooks:          opts.Hooks,
			Logger:         logger,
			TracerProvider: opts.TracerProvider,
		})
	}

	var dial live.DialFunc
	switch {
	case msg.StreamServiceURL != "":
		dial = live.DialStream(msg.StreamServiceURL, msg.WorldAddress, opts.GRPCDialOptions...)
	case msg.WSProvider != "":
		dial = live.DialPoll(live.NewPollSubscriber(chain.NewWSHeads(msg.WSProvider, opts.WSDialer, logger), fetcher))
	default:
		interval := config.ParseDuration(cfg.Sync.PollInterval, time.Second, logger)
		dial = live.DialPoll(live.NewPollSubscriber(chain.NewPollHeads(client, interval), fetcher))
	}

	var syncer *replication.Synchronizer[Value]
	runner := live.NewRunner(dial, live.Options{
		IdleTimeout:  config.ParseDuration(cfg.Sync.IdleTimeout, live.DefaultIdleTimeout, logger),
		RetryDelay:   config.ParseDuration(cfg.Sync.RetryDelay, live.DefaultRetryDelay, logger),
		InnerRetries: cfg.Sync.InnerRetries,
		OnResume:     func(last, first uint64) { syncer.OnResume(last, first) },
		Hooks:        opts.Hooks,
		Logger:       logger,
	})

	maxTries := cfg.Chain.ConnectMaxTries
	syncer = replication.New(replication.Options[Value]{
		Connect: func(ctx context.Context) error {
			return client.Connect(ctx, msg.ChainID, maxTries)
		},
		Store:           store,
		Snapshot:        loader,
		Fetcher:         fetcher,
		Live:            runner,
		Decoder:         DecodeValue,
		Outbox:          outbox,
		StatusValue:     StatusValue,
		ReplayChunkSize: cfg.Sync.ReplayChunkSize,
		LargeGapBlocks:  cfg.Sync.LargeGapBlocks,
		LargeGaps:       opts.LargeGaps,
		Hooks:           opts.Hooks,
		Logger:          logger,
		TracerProvider:  opts.TracerProvider,
	})
	return &replication.Session[Value]{Sync: syncer, Cleanup: cleanup}, nil
}

// ConfigFromFile builds the Config message a standalone run uses.
func ConfigFromFile(cfg *config.Config) replication.ConfigMessage {
	return replication.ConfigMessage{
		RemoteProvider:     cfg.Chain.RPCURL,
		WSProvider:         cfg.Chain.WSURL,
		ChainID:            cfg.Chain.ChainID,
		WorldAddress:       cfg.Chain.WorldAddress,
		SnapshotServiceURL: cfg.Snapshot.URL,
		StreamServiceURL:   cfg.Stream.URL,
		FetchExtras:        cfg.Snapshot.FetchExtras,
		SnapshotChunkCount: cfg.Snapshot.ChunkCount,
	}
}

// OpenBackend opens the local store backend named in cfg. It returns nil
// for the "none" backend.
func OpenBackend(cfg config.StoreConfig, logger *slog.Logger) (localstore.Backend, error) {
	switch cfg.Backend {
	case "", "none":
		return nil, nil
	case "memory":
		return localstore.NewMemoryBackend(), nil
	case "sqlite":
		b, err := localstore.OpenSQLite(cfg.Path)
		if err != nil {
			return nil, err
		}
		return b, nil
	case "file":
		b, err := localstore.OpenFile(cfg.Path, config.ParseDuration(cfg.LockTimeout, 5*time.Second, logger))
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
}
