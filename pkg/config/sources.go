package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// Source is one layer in the configuration chain.
type Source interface {
	// Name identifies the source in error messages.
	Name() string

	// Priority orders loading; higher priority sources override lower.
	Priority() int

	// Load merges the source into the koanf instance.
	Load(k *koanf.Koanf) error
}

// Source priorities, lowest loads first.
const (
	priorityDefaults = 0
	priorityFile     = 10
	priorityEnv      = 20
	priorityFlags    = 30
)

// DefaultSources builds the standard chain: defaults, optional YAML file,
// MILLRUN_ environment variables, then command-line flags.
func DefaultSources(customConfigFilePath string, flags *pflag.FlagSet) []Source {
	sources := []Source{
		defaultsSource{},
		fileSource{path: customConfigFilePath},
		envSource{},
	}
	if flags != nil {
		sources = append(sources, flagSource{flags: flags})
	}
	return sources
}

// defaultsSource loads the hardcoded defaults.
type defaultsSource struct{}

func (defaultsSource) Name() string  { return "defaults" }
func (defaultsSource) Priority() int { return priorityDefaults }

func (defaultsSource) Load(k *koanf.Koanf) error {
	cfg := DefaultConfig()
	return k.Load(confmap.Provider(map[string]any{
		"log.level":                    cfg.Log.Level,
		"log.format":                   cfg.Log.Format,
		"log.file":                     cfg.Log.File,
		"server.host":                  cfg.Server.Host,
		"server.port":                  cfg.Server.Port,
		"server.shutdown_seconds":      cfg.Server.ShutdownSeconds,
		"workspace.root":               cfg.Workspace.Root,
		"scheduler.checkpoint_seconds": cfg.Scheduler.CheckpointSeconds,
		"archive.enabled":              cfg.Archive.Enabled,
		"machine.sim_line_delay_ms":    cfg.Machine.SimLineDelayMS,
	}, "."), nil)
}

// fileSource loads a YAML config file. A missing file is only an error when
// the path was explicitly requested.
type fileSource struct {
	path string
}

func (fileSource) Name() string  { return "file" }
func (fileSource) Priority() int { return priorityFile }

func (s fileSource) Load(k *koanf.Koanf) error {
	path := s.path
	explicit := path != ""
	if !explicit {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil
		}
		path = home + "/.millrun/config.yaml"
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if explicit {
			return fmt.Errorf("config file %s does not exist", path)
		}
		return nil
	}
	return k.Load(file.Provider(path), yaml.Parser())
}

// envSource loads MILLRUN_-prefixed environment variables, mapping
// MILLRUN_SERVER_PORT to server.port.
type envSource struct{}

func (envSource) Name() string  { return "env" }
func (envSource) Priority() int { return priorityEnv }

// envKeyFixes restores config keys whose names contain underscores, which
// the generic underscore-to-dot mapping would otherwise split.
var envKeyFixes = map[string]string{
	"server.shutdown.seconds":      "server.shutdown_seconds",
	"scheduler.checkpoint.seconds": "scheduler.checkpoint_seconds",
	"machine.sim.line.delay.ms":    "machine.sim_line_delay_ms",
}

func (envSource) Load(k *koanf.Koanf) error {
	return k.Load(env.Provider("MILLRUN_", ".", func(s string) string {
		key := strings.ReplaceAll(
			strings.ToLower(strings.TrimPrefix(s, "MILLRUN_")), "_", ".")
		if fixed, ok := envKeyFixes[key]; ok {
			return fixed
		}
		return key
	}), nil)
}

// flagSource loads explicitly set command-line flags. Only changed flags
// override, so unset flags do not clobber file or env values.
type flagSource struct {
	flags *pflag.FlagSet
}

func (flagSource) Name() string  { return "flags" }
func (flagSource) Priority() int { return priorityFlags }

func (s flagSource) Load(k *koanf.Koanf) error {
	return k.Load(posflag.ProviderWithFlag(s.flags, ".", k, func(f *pflag.Flag) (string, any) {
		if !f.Changed {
			return "", nil
		}
		return f.Name, posflag.FlagVal(s.flags, f)
	}), nil)
}

// BindFlags registers config-overriding flags on the given flag set, using
// dotted names that map directly onto config keys.
func BindFlags(fs *pflag.FlagSet) {
	fs.String("log.level", "", "Log level (trace, debug, info, warn, error)")
	fs.String("log.format", "", "Log format (text, json)")
	fs.String("workspace.root", "", "Workspace root directory")
	fs.Int("server.port", 0, "API server port")
	fs.String("server.host", "", "API server bind address")
	fs.Int("scheduler.checkpoint_seconds", 0, "Seconds between periodic queue checkpoints (0 disables)")
}
