package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ChainConfig describes the chain node and the world contract to mirror.
type ChainConfig struct {
	RPCURL          string `yaml:"rpc_url"`
	WSURL           string `yaml:"ws_url"`
	ChainID         uint64 `yaml:"chain_id"`
	WorldAddress    string `yaml:"world_address"`
	ConnectMaxTries uint   `yaml:"connect_max_tries"`
}

// SnapshotConfig holds snapshot service settings.
type SnapshotConfig struct {
	URL         string `yaml:"url"`
	ChunkCount  uint32 `yaml:"chunk_count"`
	FetchExtras bool   `yaml:"fetch_extras"`
}

// StreamConfig holds push stream settings. An empty URL means live blocks
// are polled from the chain node instead.
type StreamConfig struct {
	URL string `yaml:"url"`
}

// StoreConfig holds local store settings.
type StoreConfig struct {
	Backend       string `yaml:"backend"` // "sqlite", "file" or "none"
	Path          string `yaml:"path"`
	Compression   string `yaml:"compression"`
	SchemaVersion string `yaml:"schema_version"`
	LockTimeout   string `yaml:"lock_timeout"`
}

// SyncConfig holds synchronizer tuning.
type SyncConfig struct {
	GapChunkBlocks    uint64 `yaml:"gap_chunk_blocks"`
	ReplayChunkSize   int    `yaml:"replay_chunk_size"`
	BatchWindow       string `yaml:"batch_window"`
	MaxBatchSize      int    `yaml:"max_batch_size"`
	AckStallWarning   string `yaml:"ack_stall_warning"`
	IdleTimeout       string `yaml:"idle_timeout"`
	RetryDelay        string `yaml:"retry_delay"`
	InnerRetries      int    `yaml:"inner_retries"`
	PollInterval      string `yaml:"poll_interval"`
	LargeGapBlocks    uint64 `yaml:"large_gap_blocks"`
	RestartBackoffMax string `yaml:"restart_backoff_max"`
}

// BridgeConfig holds the websocket consumer bridge settings.
type BridgeConfig struct {
	ListenAddress string `yaml:"listen_address"`
	Path          string `yaml:"path"`
}

// LoggingConfig holds logging-specific configurations.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // e.g., "debug", "info", "warn", "error"
	Output string `yaml:"output"` // e.g., "stdout", "file", "none"
	File   string `yaml:"file"`   // Path to the log file, used if output is "file"
}

// TracingConfig holds configuration for distributed tracing.
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"` // e.g., "localhost:4317" for gRPC OTLP collector
	Protocol string `yaml:"protocol"` // "grpc" or "http"
}

// DebugConfig holds debugging-related configurations.
type DebugConfig struct {
	Enabled          bool   `yaml:"enabled"`
	ListenAddress    string `yaml:"listen_address"`
	PProfEnabled     bool   `yaml:"pprof_enabled"`
	MetricsEnabled   bool   `yaml:"metrics_enabled"`
	MonitorUIEnabled bool   `yaml:"monitor_ui_enabled"`
	SystemInterval   string `yaml:"system_interval"`
}

// Config is the top-level configuration struct.
type Config struct {
	Chain    ChainConfig    `yaml:"chain"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
	Stream   StreamConfig   `yaml:"stream"`
	Store    StoreConfig    `yaml:"store"`
	Sync     SyncConfig     `yaml:"sync"`
	Bridge   BridgeConfig   `yaml:"bridge"`
	Logging  LoggingConfig  `yaml:"logging"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Debug    DebugConfig    `yaml:"debug"`
}

// ParseDuration parses a duration string. Returns the default duration if the string is empty or invalid.
// Logs a warning if the string is invalid but not empty.
func ParseDuration(durationStr string, defaultDuration time.Duration, logger *slog.Logger) time.Duration {
	if durationStr == "" || durationStr == "0" {
		return defaultDuration
	}
	d, err := time.ParseDuration(durationStr)
	if err != nil {
		if logger != nil {
			logger.Warn("Invalid duration format, using default", "input", durationStr, "default", defaultDuration.String(), "error", err)
		}
		return defaultDuration
	}
	return d
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Chain: ChainConfig{
			RPCURL:          "http://localhost:8545",
			ChainID:         31337,
			ConnectMaxTries: 5,
		},
		Snapshot: SnapshotConfig{
			ChunkCount: 10,
		},
		Store: StoreConfig{
			Backend:       "sqlite",
			Path:          "./data/worldsync.db",
			Compression:   "zstd",
			SchemaVersion: "1",
			LockTimeout:   "5s",
		},
		Sync: SyncConfig{
			GapChunkBlocks:    10000,
			ReplayChunkSize:   1000,
			BatchWindow:       "33ms",
			MaxBatchSize:      0,
			AckStallWarning:   "33s",
			IdleTimeout:       "60s",
			RetryDelay:        "3s",
			InnerRetries:      3,
			PollInterval:      "1s",
			LargeGapBlocks:    100,
			RestartBackoffMax: "1m",
		},
		Bridge: BridgeConfig{
			ListenAddress: ":8090",
			Path:          "/sync",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: "stdout",
			File:   "worldsync.log",
		},
		Tracing: TracingConfig{
			Enabled:  false,
			Endpoint: "localhost:4317",
			Protocol: "grpc",
		},
		Debug: DebugConfig{
			Enabled:          false,
			ListenAddress:    "127.0.0.1:6060",
			PProfEnabled:     true,
			MetricsEnabled:   true,
			MonitorUIEnabled: true,
			SystemInterval:   "15s",
		},
	}
}

// Load reads configuration from an io.Reader.
// This is the core logic, separated for testability.
func Load(r io.Reader) (*Config, error) {
	cfg := Default()

	// If the reader is nil, it's like an empty file, return defaults.
	if r == nil {
		return cfg, nil
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config data: %w", err)
	}
	if len(data) == 0 {
		return cfg, nil
	}

	// Unmarshal YAML into the config struct, overwriting defaults
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}
	return cfg, nil
}

// LoadConfig reads configuration from a YAML file by path.
func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			// If file doesn't exist, return default config by calling Load with a nil reader.
			return Load(nil)
		}
		return nil, fmt.Errorf("failed to open config file %s: %w", path, err)
	}
	defer file.Close()

	return Load(file)
}
