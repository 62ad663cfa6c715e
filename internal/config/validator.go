package config

import (
	"fmt"
	"net/url"
	"regexp"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

var pluginIDPattern = regexp.MustCompile(`^[a-z0-9_]+$`)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks a complete configuration
func (v *Validator) Validate(cfg *Config) error {
	if err := v.ValidatePluginID(cfg.Plugins.BasePluginID); err != nil {
		return err
	}
	for _, id := range cfg.Plugins.DefaultActive {
		if err := v.ValidatePluginID(id); err != nil {
			return err
		}
	}
	if err := v.ValidateCronSpec(cfg.Plugins.ReconcileSpec); err != nil {
		return err
	}
	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		return err
	}
	if cfg.Sync.Enabled {
		if err := v.ValidateNATSURL(cfg.Sync.URL); err != nil {
			return err
		}
	}
	return nil
}

// ValidatePluginID validates a plugin id slug
func (v *Validator) ValidatePluginID(id string) error {
	if id == "" {
		return fmt.Errorf("plugin id cannot be empty")
	}
	if !pluginIDPattern.MatchString(id) {
		return fmt.Errorf("invalid plugin id %q (lowercase letters, digits, underscores)", id)
	}
	return nil
}

// ValidateCronSpec validates a reconciliation schedule
func (v *Validator) ValidateCronSpec(spec string) error {
	if spec == "" {
		return fmt.Errorf("reconcile schedule cannot be empty")
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid reconcile schedule %q: %w", spec, err)
	}
	return nil
}

// ValidateLogLevel validates a zerolog level name
func (v *Validator) ValidateLogLevel(level string) error {
	if level == "" {
		return fmt.Errorf("log level cannot be empty")
	}
	if _, err := zerolog.ParseLevel(level); err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return nil
}

// ValidateNATSURL validates a NATS server URL
func (v *Validator) ValidateNATSURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("sync server URL cannot be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid sync server URL: %w", err)
	}
	if u.Scheme != "nats" && u.Scheme != "tls" {
		return fmt.Errorf("invalid sync server URL scheme %q (expected nats:// or tls://)", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("sync server URL is missing a host")
	}
	return nil
}
