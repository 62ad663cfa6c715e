package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
)

// Config represents the main Grimalkin configuration
type Config struct {
	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	// Plugins
	Plugins PluginsConfig `json:"plugins" mapstructure:"plugins"`

	// Settings store
	Store StoreConfig `json:"store" mapstructure:"store"`

	// Sync bus
	Sync SyncConfig `json:"sync" mapstructure:"sync"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
}

// PluginsConfig holds plugin host configuration
type PluginsConfig struct {
	// Root is the folder plugin packages are installed into
	Root string `json:"root" mapstructure:"root"`

	// BasePluginID is the mandatory plugin every agent runs
	BasePluginID string `json:"base_plugin_id" mapstructure:"base_plugin_id"`

	// DefaultActive is the plugin set a brand-new agent starts with
	DefaultActive []string `json:"default_active" mapstructure:"default_active"`

	// ReconcileSpec is the cron schedule of the periodic rediscovery
	ReconcileSpec string `json:"reconcile_spec" mapstructure:"reconcile_spec"`

	// Watch enables the filesystem watcher on the plugins root
	Watch bool `json:"watch" mapstructure:"watch"`
}

// StoreConfig holds settings store configuration
type StoreConfig struct {
	// Path of the SQLite database file
	Path string `json:"path" mapstructure:"path"`
}

// SyncConfig holds replica sync configuration
type SyncConfig struct {
	Enabled bool `json:"enabled" mapstructure:"enabled"`

	// URL of the NATS server
	URL string `json:"url" mapstructure:"url"`

	// Subject the plugin events fan out on
	Subject string `json:"subject" mapstructure:"subject"`

	// ReplicaID identifies this process; generated when empty
	ReplicaID string `json:"replica_id" mapstructure:"replica_id"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Plugins: PluginsConfig{
			BasePluginID:  "core",
			DefaultActive: []string{"core"},
			ReconcileSpec: "@every 5m",
			Watch:         true,
		},
		Sync: SyncConfig{
			Enabled: false,
			URL:     "nats://127.0.0.1:4222",
			Subject: "grimalkin.plugin.events",
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
	}
}

// ApplyDefaults fills path fields derived from the data directory.
func (c *Config) ApplyDefaults() {
	if c.Plugins.Root == "" {
		c.Plugins.Root = filepath.Join(c.DataDir, "plugins")
	}
	if c.Store.Path == "" {
		c.Store.Path = filepath.Join(c.DataDir, "grimalkin.db")
	}
	if c.Logging.File == "" {
		c.Logging.File = filepath.Join(c.DataDir, "grimalkin.log")
	}
}

// String returns the config as pretty-printed JSON
func (c *Config) String() string {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
