// Package config handles static configuration loading for the hub runtime
// using viper: file + env overrides + defaults + a post-load
// validate-and-apply-defaults pass.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the top-level static configuration. Maps to the `vanilla:`
// root key in YAML.
type Config struct {
	Hub       HubConfig       `mapstructure:"hub"`
	Log       LogConfig       `mapstructure:"log"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Transport TransportConfig `mapstructure:"transport"`
}

// HubConfig controls the scheduler itself.
type HubConfig struct {
	// MaxRegisteredFDs is loaded from max_registered_fds (default 0). The
	// hub does not read it: registrations with the readiness multiplexer
	// are not bounded by this setting.
	MaxRegisteredFDs int `mapstructure:"max_registered_fds"`
	// Signals lists the OS signals the run command subscribes to and stops
	// the hub on.
	Signals []string `mapstructure:"signals"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string           `mapstructure:"level"`  // debug / info / warn / error
	Format  string           `mapstructure:"format"` // json / text / pattern
	Pattern string           `mapstructure:"pattern"`
	Outputs LogOutputsConfig `mapstructure:"outputs"`
}

// LogOutputsConfig contains structured log output destinations.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file"`
}

// FileOutputConfig configures file log output via lumberjack.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Path     string         `mapstructure:"path"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups"`
	Compress   bool `mapstructure:"compress"`
}

// MetricsConfig contains Prometheus metrics server settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// TransportConfig controls the demo TCP push/request/reply listener.
type TransportConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
	MaxConns   int    `mapstructure:"max_conns"`
}

// configRoot is the top-level wrapper matching the YAML structure
// `vanilla: ...`.
type configRoot struct {
	Vanilla Config `mapstructure:"vanilla"`
}

// Load reads configuration from path, with environment overrides under
// the VANILLA_ prefix (e.g. VANILLA_LOG_LEVEL) and built-in defaults for
// anything left unset.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Vanilla

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("vanilla.hub.max_registered_fds", 0)
	v.SetDefault("vanilla.hub.signals", []string{"SIGINT", "SIGTERM"})

	v.SetDefault("vanilla.log.level", "info")
	v.SetDefault("vanilla.log.format", "text")
	v.SetDefault("vanilla.log.pattern", "%time [%level] %field %msg")
	v.SetDefault("vanilla.log.outputs.file.enabled", false)
	v.SetDefault("vanilla.log.outputs.file.path", "vanilla.log")
	v.SetDefault("vanilla.log.outputs.file.rotation.max_size_mb", 100)
	v.SetDefault("vanilla.log.outputs.file.rotation.max_age_days", 30)
	v.SetDefault("vanilla.log.outputs.file.rotation.max_backups", 5)
	v.SetDefault("vanilla.log.outputs.file.rotation.compress", true)

	v.SetDefault("vanilla.metrics.enabled", true)
	v.SetDefault("vanilla.metrics.listen", ":9091")
	v.SetDefault("vanilla.metrics.path", "/metrics")

	v.SetDefault("vanilla.transport.enabled", false)
	v.SetDefault("vanilla.transport.listen_addr", "127.0.0.1:9411")
	v.SetDefault("vanilla.transport.max_conns", 256)
}

// ValidateAndApplyDefaults validates configuration and fills in anything
// defaults alone can't express.
func (cfg *Config) ValidateAndApplyDefaults() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug/info/warn/error)", cfg.Log.Level)
	}
	switch cfg.Log.Format {
	case "json", "text", "pattern":
	default:
		return fmt.Errorf("invalid log format: %s (must be json/text/pattern)", cfg.Log.Format)
	}
	if len(cfg.Hub.Signals) == 0 {
		cfg.Hub.Signals = []string{"SIGINT", "SIGTERM"}
	}
	if cfg.Transport.Enabled && cfg.Transport.ListenAddr == "" {
		return fmt.Errorf("transport.listen_addr is required when transport.enabled=true")
	}
	return nil
}
