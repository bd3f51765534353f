// Package config provides the layered runtime configuration for a single
// rank of a distributed graph run.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/fpmas-go/fpmas/pkg/errors"
)

// SyncModeKind selects which of the three synchronization modes a
// DistributedGraph runs under.
type SyncModeKind string

const (
	SyncModeNone  SyncModeKind = "none"
	SyncModeGhost SyncModeKind = "ghost"
	SyncModeHard  SyncModeKind = "hard"
)

// TransportConfig configures the communication substrate.
type TransportConfig struct {
	// SendBufferSize is the per-rank limit on outstanding non-blocking
	// sends. Nothing outside this package reads it.
	SendBufferSize int `yaml:"send_buffer_size"`

	// CollectiveFanout is the limit on concurrent peer RPCs in a collective
	// (all_to_all, all_gather). Nothing outside this package reads it.
	CollectiveFanout int `yaml:"collective_fanout"`
}

// GhostConfig configures ghost-mode synchronization.
type GhostConfig struct {
	// RefreshBatchSize is the number of distant nodes to refresh per batch.
	// Nothing outside this package reads it.
	RefreshBatchSize int `yaml:"refresh_batch_size"`
}

// HardSyncConfig configures hard-sync mode.
type HardSyncConfig struct {
	// MutexQueueDepth is the limit on pending requests per HardSyncMutex.
	// Nothing outside this package reads it.
	MutexQueueDepth int `yaml:"mutex_queue_depth"`
}

// SyncConfig selects and configures the active synchronization mode.
type SyncConfig struct {
	Mode SyncModeKind   `yaml:"mode"`
	Ghost GhostConfig   `yaml:"ghost"`
	Hard  HardSyncConfig `yaml:"hard"`
}

// TerminationConfig configures the four-color termination algorithm used by
// hard-sync mode.
type TerminationConfig struct {
	// PollInterval is how often an idle rank checks whether it may send a
	// termination token. Nothing outside this package reads it.
	PollInterval time.Duration `yaml:"poll_interval"`
}

// MetricsConfig configures the Prometheus metrics collector.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// RuntimeConfig is the full configuration of one rank's process.
type RuntimeConfig struct {
	Rank int `yaml:"rank"`
	Size int `yaml:"size"`

	Transport   TransportConfig    `yaml:"transport"`
	Sync        SyncConfig         `yaml:"sync"`
	Termination TerminationConfig  `yaml:"termination"`
	Metrics     MetricsConfig      `yaml:"metrics"`
}

// DefaultConfig returns a RuntimeConfig with sensible defaults for the given
// rank and world size.
func DefaultConfig(rank, size int) *RuntimeConfig {
	return &RuntimeConfig{
		Rank: rank,
		Size: size,
		Transport: TransportConfig{
			SendBufferSize:   256,
			CollectiveFanout: 8,
		},
		Sync: SyncConfig{
			Mode: SyncModeGhost,
			Ghost: GhostConfig{
				RefreshBatchSize: 128,
			},
			Hard: HardSyncConfig{
				MutexQueueDepth: 64,
			},
		},
		Termination: TerminationConfig{
			PollInterval: 10 * time.Millisecond,
		},
		Metrics: MetricsConfig{
			Enabled:   false,
			Port:      8080,
			Path:      "/metrics",
			Namespace: "fpmas",
		},
	}
}

// Load reads a RuntimeConfig from a YAML file and applies defaults for any
// zero-valued fields before validating it.
func Load(path string) (*RuntimeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewError(errors.ErrCodeMissingConfig, "could not read config file").
			WithComponent("config").WithOperation("Load").WithCause(err)
	}

	cfg := DefaultConfig(0, 1)
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "could not parse config file").
			WithComponent("config").WithOperation("Load").WithCause(err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults fills in zero-valued fields left unset by a partial YAML
// document, the way the teacher's Configuration layering does for the
// storage-tier config.
func (c *RuntimeConfig) applyDefaults() {
	defaults := DefaultConfig(c.Rank, c.Size)

	if c.Transport.SendBufferSize == 0 {
		c.Transport.SendBufferSize = defaults.Transport.SendBufferSize
	}
	if c.Transport.CollectiveFanout == 0 {
		c.Transport.CollectiveFanout = defaults.Transport.CollectiveFanout
	}
	if c.Sync.Mode == "" {
		c.Sync.Mode = defaults.Sync.Mode
	}
	if c.Sync.Ghost.RefreshBatchSize == 0 {
		c.Sync.Ghost.RefreshBatchSize = defaults.Sync.Ghost.RefreshBatchSize
	}
	if c.Sync.Hard.MutexQueueDepth == 0 {
		c.Sync.Hard.MutexQueueDepth = defaults.Sync.Hard.MutexQueueDepth
	}
	if c.Termination.PollInterval == 0 {
		c.Termination.PollInterval = defaults.Termination.PollInterval
	}
	if c.Metrics.Port == 0 {
		c.Metrics.Port = defaults.Metrics.Port
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = defaults.Metrics.Path
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = defaults.Metrics.Namespace
	}
}

// Validate checks that the configuration describes a runnable process.
func (c *RuntimeConfig) Validate() error {
	if c.Size <= 0 {
		return errors.NewError(errors.ErrCodeInvalidConfig, "size must be positive").
			WithComponent("config").WithOperation("Validate").
			WithDetail("size", c.Size)
	}
	if c.Rank < 0 || c.Rank >= c.Size {
		return errors.NewError(errors.ErrCodeInvalidConfig, "rank out of range").
			WithComponent("config").WithOperation("Validate").
			WithDetail("rank", c.Rank).WithDetail("size", c.Size)
	}
	switch c.Sync.Mode {
	case SyncModeNone, SyncModeGhost, SyncModeHard:
	default:
		return errors.NewError(errors.ErrCodeInvalidConfig, "unknown sync mode").
			WithComponent("config").WithOperation("Validate").
			WithDetail("mode", string(c.Sync.Mode))
	}
	if c.Transport.SendBufferSize <= 0 {
		return errors.NewError(errors.ErrCodeInvalidConfig, "transport.send_buffer_size must be positive").
			WithComponent("config").WithOperation("Validate")
	}
	if c.Transport.CollectiveFanout <= 0 {
		return errors.NewError(errors.ErrCodeInvalidConfig, "transport.collective_fanout must be positive").
			WithComponent("config").WithOperation("Validate")
	}
	return nil
}

// String renders the configuration for logging.
func (c *RuntimeConfig) String() string {
	return fmt.Sprintf("RuntimeConfig{Rank=%d, Size=%d, SyncMode=%s}", c.Rank, c.Size, c.Sync.Mode)
}
