// Package config handles loading and accessing application configuration.
package config

import (
	"fmt"
	"sort"
	"sync"

	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// Global Koanf instance, initialized once at startup.
var (
	k    *koanf.Koanf
	once sync.Once
)

// InitGlobalConfig initializes the global Koanf instance.
// This should be called early in the application lifecycle, before Load.
func InitGlobalConfig() {
	once.Do(func() {
		k = koanf.New(".")
	})
}

// Config is the full application configuration tree.
type Config struct {
	Log       LogConfig       `koanf:"log"`
	Server    ServerConfig    `koanf:"server"`
	Workspace WorkspaceConfig `koanf:"workspace"`
	Scheduler SchedulerConfig `koanf:"scheduler"`
	Archive   ArchiveConfig   `koanf:"archive"`
	Machine   MachineConfig   `koanf:"machine"`
}

// LogConfig controls logging behavior.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	File   string `koanf:"file"`
}

// ServerConfig controls the HTTP API server.
type ServerConfig struct {
	Host            string `koanf:"host"`
	Port            int    `koanf:"port"`
	ShutdownSeconds int    `koanf:"shutdown_seconds"`
}

// WorkspaceConfig controls the storage workspace.
type WorkspaceConfig struct {
	// Root overrides the workspace root directory (default ~/.millrun).
	Root string `koanf:"root"`
}

// SchedulerConfig controls the job scheduler.
type SchedulerConfig struct {
	// CheckpointSeconds is the interval between periodic queue snapshots.
	// Zero disables periodic checkpointing (save points are then explicit
	// saves and shutdown only).
	CheckpointSeconds int `koanf:"checkpoint_seconds"`
}

// ArchiveConfig controls the run-history archive.
type ArchiveConfig struct {
	Enabled bool `koanf:"enabled"`
}

// MachineConfig controls the machine streamer adapter.
type MachineConfig struct {
	// SimLineDelayMS is the per-line confirmation delay of the simulated
	// streamer, used by dry runs. Milliseconds.
	SimLineDelayMS int `koanf:"sim_line_delay_ms"`
}

// DefaultConfig returns a new Config struct populated with hardcoded default
// values. These serve as the baseline if no other sources override them.
func DefaultConfig() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8173,
			ShutdownSeconds: 10,
		},
		Scheduler: SchedulerConfig{
			CheckpointSeconds: 30,
		},
		Archive: ArchiveConfig{
			Enabled: true,
		},
		Machine: MachineConfig{
			SimLineDelayMS: 10,
		},
	}
}

// Manager handles loading and accessing application configuration.
type Manager struct {
	koanfInstance *koanf.Koanf
	currentConfig Config
	mu            sync.RWMutex
}

// NewManager creates a new config Manager over the global Koanf instance.
func NewManager() *Manager {
	InitGlobalConfig()
	return &Manager{
		koanfInstance: k,
	}
}

// Load loads configuration from the default source chain.
//
// Configuration precedence (highest to lowest):
//  1. Command-line flags (--log.level=debug)
//  2. Environment variables (MILLRUN_LOG_LEVEL=debug)
//  3. Config file (YAML)
//  4. Default values
//
// Environment variables use the MILLRUN_ prefix with underscore-to-dot
// mapping: MILLRUN_SERVER_PORT -> server.port.
func (m *Manager) Load(flags *pflag.FlagSet, customConfigFilePath string) error {
	return m.LoadWithSources(DefaultSources(customConfigFilePath, flags))
}

// LoadWithSources loads configuration from the provided sources in priority
// order. Sources with lower priority values load first; later sources
// override earlier values. Allows custom chains in tests.
func (m *Manager) LoadWithSources(sources []Source) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sort.Slice(sources, func(i, j int) bool {
		return sources[i].Priority() < sources[j].Priority()
	})

	for _, src := range sources {
		if err := src.Load(m.koanfInstance); err != nil {
			return fmt.Errorf("error loading config from %s: %w", src.Name(), err)
		}
	}

	var newCfg Config
	if err := m.koanfInstance.UnmarshalWithConf("", &newCfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return fmt.Errorf("error unmarshaling final config: %w", err)
	}
	m.currentConfig = newCfg
	return nil
}

// Get returns a copy of the current configuration.
func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfgCopy := m.currentConfig
	return cfgCopy
}

// GetValue retrieves a configuration value by key path, e.g.
// GetValue("scheduler.checkpoint_seconds"). Returns nil if the key does not
// exist.
func (m *Manager) GetValue(key string) any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.koanfInstance.Get(key)
}
