// Package config loads the server's TOML configuration file: the
// single place every subsystem's tunables (ports, thread counts,
// cluster seeds) are defined, sourced from a static deployment file
// rather than command-line flags.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the top-level fdir.conf-equivalent document.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Binlog  BinlogConfig  `toml:"binlog"`
	Cluster ClusterConfig `toml:"cluster"`
}

// ServerConfig holds listener and worker-pool sizing.
type ServerConfig struct {
	ServiceAddr     string  `toml:"service_addr"`
	ClusterAddr     string  `toml:"cluster_addr"`
	DataThreadCount int     `toml:"data_thread_count"`
	ClusterID       uint32  `toml:"cluster_id"`
	ServerID        uint32  `toml:"server_id"`
	MaxBodyBytes    uint32  `toml:"max_body_bytes"`
	// ConnRateLimit caps sustained requests-per-second accepted from a
	// single client connection; ConnRateBurst allows a short burst
	// above that before throttling kicks in.
	ConnRateLimit float64 `toml:"conn_rate_limit"`
	ConnRateBurst int     `toml:"conn_rate_burst"`
}

// BinlogConfig holds the on-disk binlog directory and rotation size.
type BinlogConfig struct {
	Dir              string `toml:"dir"`
	RotateSizeBytes  int64  `toml:"rotate_size_bytes"`
	TaskBufferBytes  int    `toml:"task_buffer_bytes"`
}

// ClusterConfig holds the seed list of other cluster members reached
// by the replication engine; membership *election* is out of scope
// and treated as an oracle, but the seed addresses to dial are not.
type ClusterConfig struct {
	Seeds []SeedConfig `toml:"seed"`
}

// SeedConfig names one other cluster member.
type SeedConfig struct {
	ServerID uint32 `toml:"server_id"`
	Addr     string `toml:"addr"`
}

// Default returns a Config with reasonable defaults filled in, to be
// overridden by a loaded file.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ServiceAddr:     ":21511",
			ClusterAddr:     ":21512",
			DataThreadCount: 4,
			MaxBodyBytes:    4 << 20,
			ConnRateLimit:   2000,
			ConnRateBurst:   200,
		},
		Binlog: BinlogConfig{
			Dir:             "binlog",
			RotateSizeBytes: 256 << 20,
			TaskBufferBytes: 256 << 10,
		},
	}
}

// Load reads and parses path into a Config seeded with Default.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: decoding %q: %w", path, err)
	}
	if cfg.Server.DataThreadCount <= 0 {
		return nil, fmt.Errorf("config: server.data_thread_count must be positive")
	}
	return cfg, nil
}

// ConnectBackoff is the capped exponential back-off schedule for
// connecting to a cluster peer.
var ConnectBackoff = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	4 * time.Second,
	8 * time.Second,
	16 * time.Second,
	32 * time.Second,
}

// ConnectTimeout bounds one connect attempt.
const ConnectTimeout = 10 * time.Second

// NetworkTimeout bounds waiting for a join response.
const NetworkTimeout = 30 * time.Second

// CursorExpiry is how long an idle list_dentry_next cursor is kept
// before the service layer discards it.
const CursorExpiry = 60 * time.Second
