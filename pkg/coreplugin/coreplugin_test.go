package coreplugin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aveline/grimalkin/pkg/plugin"
)

func TestFactory(t *testing.T) {
	caps, err := Factory()
	require.NoError(t, err)

	t.Run("covers every standard pipeline", func(t *testing.T) {
		declared := make(map[string]bool)
		for _, h := range caps.Hooks {
			declared[h.Name] = true
			assert.Zero(t, h.Priority)
		}
		for _, name := range PipelineNames() {
			assert.True(t, declared[name], name)
		}
	})

	t.Run("identity hooks pass values through", func(t *testing.T) {
		for _, h := range caps.Hooks {
			out, err := h.Fn("unchanged", nil)
			require.NoError(t, err)
			assert.Equal(t, "unchanged", out)
		}
	})

	t.Run("built-in tools", func(t *testing.T) {
		names := make(map[string]bool)
		for _, p := range caps.Procedures {
			names[p.Name()] = true
		}
		assert.True(t, names["get_the_time"])
		assert.True(t, names["ping"])
	})
}

func TestPingTool(t *testing.T) {
	caps, err := Factory()
	require.NoError(t, err)

	var ping interface {
		Invoke(ctx context.Context, args map[string]any) (any, error)
	}
	for _, p := range caps.Procedures {
		if p.Name() == "ping" {
			ping = p
		}
	}
	require.NotNil(t, ping)

	out, err := ping.Invoke(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "pong", out)

	out, err = ping.Invoke(context.Background(), map[string]any{"message": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "pong: hi", out)
}

func TestRegister(t *testing.T) {
	factories := plugin.NewFactoryRegistry()

	Register(factories)

	assert.True(t, factories.Registered(PluginID))
	caps, err := factories.Resolve(PluginID)
	require.NoError(t, err)
	assert.NotEmpty(t, caps.Hooks)
}
