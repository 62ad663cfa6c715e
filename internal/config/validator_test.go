package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidatePluginID(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidatePluginID("core"))
	assert.NoError(t, v.ValidatePluginID("my_plugin_2"))

	assert.Error(t, v.ValidatePluginID(""))
	assert.Error(t, v.ValidatePluginID("My Plugin"))
	assert.Error(t, v.ValidatePluginID("has-dashes"))
}

func TestValidateCronSpec(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateCronSpec("@every 5m"))
	assert.NoError(t, v.ValidateCronSpec("0 */2 * * *"))

	assert.Error(t, v.ValidateCronSpec(""))
	assert.Error(t, v.ValidateCronSpec("whenever"))
}

func TestValidateLogLevel(t *testing.T) {
	v := NewValidator()

	for _, level := range []string{"debug", "info", "warn", "error"} {
		assert.NoError(t, v.ValidateLogLevel(level), level)
	}

	assert.Error(t, v.ValidateLogLevel(""))
	assert.Error(t, v.ValidateLogLevel("shouty"))
}

func TestValidateNATSURL(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateNATSURL("nats://127.0.0.1:4222"))
	assert.NoError(t, v.ValidateNATSURL("tls://broker.internal:4222"))

	assert.Error(t, v.ValidateNATSURL(""))
	assert.Error(t, v.ValidateNATSURL("http://broker:4222"))
	assert.Error(t, v.ValidateNATSURL("nats://"))
}

func TestValidateConfig(t *testing.T) {
	v := NewValidator()

	t.Run("defaults pass", func(t *testing.T) {
		assert.NoError(t, v.Validate(DefaultConfig()))
	})

	t.Run("bad default active id", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Plugins.DefaultActive = []string{"core", "Bad Id"}
		assert.Error(t, v.Validate(cfg))
	})

	t.Run("sync url only checked when enabled", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Sync.URL = "not-a-url"
		assert.NoError(t, v.Validate(cfg))

		cfg.Sync.Enabled = true
		assert.Error(t, v.Validate(cfg))
	})
}
