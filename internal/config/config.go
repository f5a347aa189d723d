// Package config loads and validates the node's TOML configuration file
// across every wired component.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/BurntSushi/toml"

	"github.com/cis-project/cis-core/internal/domain"
)

// Config holds the full node configuration.
type Config struct {
	Node      NodeConfig      `toml:"node"`
	Storage   StorageConfig   `toml:"storage"`
	Security  SecurityConfig  `toml:"security"`
	Wasm      WasmConfig      `toml:"wasm"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	P2P       P2PConfig       `toml:"p2p"`
	Federation FederationConfig `toml:"federation"`
	Vector    VectorConfig    `toml:"vector"`
	Logging   LoggingConfig   `toml:"logging"`
	Telemetry TelemetryConfig `toml:"telemetry"`
}

// NodeConfig identifies this node.
type NodeConfig struct {
	ID     string `toml:"id"`
	Region string `toml:"region"`
}

// StorageConfig controls the multi-file SQL storage substrate (C1).
type StorageConfig struct {
	Dir          string `toml:"dir"`
	PrimaryFile  string `toml:"primary_file"`
	MaxAttached  int    `toml:"max_attached"`
	BusyTimeoutMS int   `toml:"busy_timeout_ms"`
}

// Validate checks StorageConfig invariants.
func (c StorageConfig) Validate() error {
	if c.Dir == "" {
		return domain.NewError(domain.ErrConfiguration, "storage.dir_empty", "storage.dir must not be empty")
	}
	if c.MaxAttached < 1 || c.MaxAttached > 10 {
		return domain.NewError(domain.ErrConfiguration, "storage.max_attached_range", "storage.max_attached must be in [1,10]")
	}
	return nil
}

// SecurityConfig controls private-domain encryption and node identity (C2, C5).
type SecurityConfig struct {
	KeyFile         string `toml:"key_file"`
	Argon2TimeCost  uint32 `toml:"argon2_time_cost"`
	Argon2MemoryKB  uint32 `toml:"argon2_memory_kb"`
	Argon2Threads   uint8  `toml:"argon2_threads"`
	RequireSigning  bool   `toml:"require_signing"`
}

// Validate checks SecurityConfig invariants.
func (c SecurityConfig) Validate() error {
	if c.Argon2TimeCost == 0 {
		return domain.NewError(domain.ErrConfiguration, "security.argon2_time_cost_zero", "security.argon2_time_cost must be > 0")
	}
	if c.Argon2MemoryKB < 8*1024 {
		return domain.NewError(domain.ErrConfiguration, "security.argon2_memory_low", "security.argon2_memory_kb must be >= 8192 (8 MiB)")
	}
	if c.Argon2Threads == 0 {
		return domain.NewError(domain.ErrConfiguration, "security.argon2_threads_zero", "security.argon2_threads must be > 0")
	}
	return nil
}

// WasmConfig controls the sandboxed skill executor's wasm runtime (C3).
type WasmConfig struct {
	MaxInstances    int   `toml:"max_instances"`
	DefaultMemoryMB int64 `toml:"default_memory_mb"`
	DefaultWallSeconds int64 `toml:"default_wall_seconds"`
	PoolWorkers     int   `toml:"pool_workers"`
}

// Validate checks WasmConfig invariants.
func (c WasmConfig) Validate() error {
	if c.MaxInstances < 1 {
		return domain.NewError(domain.ErrConfiguration, "wasm.max_instances_zero", "wasm.max_instances must be > 0")
	}
	if c.DefaultMemoryMB < 1 {
		return domain.NewError(domain.ErrConfiguration, "wasm.default_memory_mb_zero", "wasm.default_memory_mb must be > 0")
	}
	if c.PoolWorkers < 1 {
		return domain.NewError(domain.ErrConfiguration, "wasm.pool_workers_zero", "wasm.pool_workers must be > 0")
	}
	return nil
}

// SchedulerConfig controls the DAG scheduler (C4).
type SchedulerConfig struct {
	MaxConcurrentRuns int `toml:"max_concurrent_runs"`
	DefaultMaxRetries int `toml:"default_max_retries"`
}

// P2PConfig controls the Kademlia DHT and tunnel layer (C5).
type P2PConfig struct {
	ListenAddr     string   `toml:"listen_addr"`
	BootstrapPeers []string `toml:"bootstrap_peers"`
	KBucketSize    int      `toml:"k_bucket_size"`
	Alpha          int      `toml:"alpha"`
	STUNServers    []string `toml:"stun_servers"`
	TURNServers    []string `toml:"turn_servers"`
}

// FederationConfig controls the HTTP federation server and sync queue (C6).
type FederationConfig struct {
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	TunnelPort    int    `toml:"tunnel_port"`
	SyncWorkers   int    `toml:"sync_workers"`
	QueueCapacity int    `toml:"queue_capacity"`
}

// VectorConfig controls the embedding index and its adaptive thresholds (C7).
type VectorConfig struct {
	Dimensions      int `toml:"dimensions"`
	InitialEfSearch int `toml:"initial_ef_search"`
	InitialPreload  int `toml:"initial_preload"`
}

// Validate checks VectorConfig invariants.
func (c VectorConfig) Validate() error {
	if c.Dimensions < 1 {
		return domain.NewError(domain.ErrConfiguration, "vector.dimensions_zero", "vector.dimensions must be > 0")
	}
	return nil
}

// LoggingConfig controls zerolog output.
type LoggingConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

// TelemetryConfig controls Prometheus metrics exposure.
type TelemetryConfig struct {
	Enabled        bool `toml:"enabled"`
	PrometheusPort int  `toml:"prometheus_port"`
}

// DefaultConfig returns a sensible default configuration rooted at
// cisHome().
func DefaultConfig() Config {
	home := cisHome()
	return Config{
		Node: NodeConfig{Region: "auto"},
		Storage: StorageConfig{
			Dir:           filepath.Join(home, "data"),
			PrimaryFile:   "primary.db",
			MaxAttached:   4,
			BusyTimeoutMS: 5000,
		},
		Security: SecurityConfig{
			KeyFile:        filepath.Join(home, "keys", "memory.key"),
			Argon2TimeCost: 3,
			Argon2MemoryKB: 64 * 1024,
			Argon2Threads:  4,
			RequireSigning: true,
		},
		Wasm: WasmConfig{
			MaxInstances:       8,
			DefaultMemoryMB:    64,
			DefaultWallSeconds: 10,
			PoolWorkers:        max(1, runtime.NumCPU()-1),
		},
		Scheduler: SchedulerConfig{
			MaxConcurrentRuns: 16,
			DefaultMaxRetries: 3,
		},
		P2P: P2PConfig{
			ListenAddr:  "0.0.0.0:4001",
			KBucketSize: 20,
			Alpha:       3,
		},
		Federation: FederationConfig{
			Host:          "127.0.0.1",
			Port:          8448,
			TunnelPort:    8449,
			SyncWorkers:   4,
			QueueCapacity: 1024,
		},
		Vector: VectorConfig{
			Dimensions:      384,
			InitialEfSearch: 50,
			InitialPreload:  100,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  filepath.Join(home, "cis-noded.log"),
		},
		Telemetry: TelemetryConfig{
			Enabled:        true,
			PrometheusPort: 9090,
		},
	}
}

// Validate runs every section's Validate method.
func (c Config) Validate() error {
	if err := c.Storage.Validate(); err != nil {
		return err
	}
	if err := c.Security.Validate(); err != nil {
		return err
	}
	if err := c.Wasm.Validate(); err != nil {
		return err
	}
	if err := c.Vector.Validate(); err != nil {
		return err
	}
	return nil
}

// Load reads config from cisHome()/config.toml, falling back to defaults
// when absent.
func Load() (Config, error) {
	cfg := DefaultConfig()
	path := filepath.Join(cisHome(), "config.toml")

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, domain.Wrap(domain.ErrConfiguration, "config.parse_failed", fmt.Errorf("parse %s: %w", path, err))
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Save writes the config to cisHome()/config.toml.
func Save(cfg Config) error {
	path := filepath.Join(cisHome(), "config.toml")
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}

func cisHome() string {
	if env := os.Getenv("CIS_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".cis")
}

// Home is exported for use by other packages (key files, socket paths).
func Home() string {
	return cisHome()
}
