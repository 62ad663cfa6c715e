package manager

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aveline/grimalkin/pkg/hook"
	"github.com/aveline/grimalkin/pkg/plugin"
	"github.com/aveline/grimalkin/pkg/procedure"
)

func newTenantFixture(t *testing.T, f *systemFixture, agentID string, defaults ...string) *TenantManager {
	t.Helper()
	m, err := NewTenant(TenantConfig{
		AgentID:       agentID,
		System:        f.manager,
		Store:         f.store,
		Logger:        zerolog.Nop(),
		DefaultActive: defaults,
	})
	require.NoError(t, err)
	return m
}

func TestTenantDiscover(t *testing.T) {
	t.Run("first run gets the default set, base first", func(t *testing.T) {
		f := newSystemFixture(t, "pod-1")
		installPlugin(t, f.root, "weather", "")
		installPlugin(t, f.root, "extra", "")
		require.NoError(t, f.manager.Discover())

		tenant := newTenantFixture(t, f, "agent-1", "weather")
		require.NoError(t, tenant.Discover())

		assert.Equal(t, []string{"core", "weather"}, tenant.ActivePluginIDs())

		stored, found, err := f.store.GetActivePlugins("agent-1")
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, []string{"core", "weather"}, stored)
	})

	t.Run("persisted list wins over defaults", func(t *testing.T) {
		f := newSystemFixture(t, "pod-1")
		installPlugin(t, f.root, "weather", "")
		require.NoError(t, f.manager.Discover())
		require.NoError(t, f.store.SetActivePlugins("agent-1", []string{"core", "weather"}))

		tenant := newTenantFixture(t, f, "agent-1")
		require.NoError(t, tenant.Discover())

		assert.Equal(t, []string{"core", "weather"}, tenant.ActivePluginIDs())
	})

	t.Run("uninstalled ids on the list are dropped", func(t *testing.T) {
		f := newSystemFixture(t, "pod-1")
		require.NoError(t, f.manager.Discover())
		require.NoError(t, f.store.SetActivePlugins("agent-1", []string{"core", "vanished"}))

		tenant := newTenantFixture(t, f, "agent-1")
		require.NoError(t, tenant.Discover())

		assert.Equal(t, []string{"core"}, tenant.ActivePluginIDs())

		stored, _, err := f.store.GetActivePlugins("agent-1")
		require.NoError(t, err)
		assert.NotContains(t, stored, "vanished")
	})
}

func TestTenantActivateDeactivate(t *testing.T) {
	t.Run("activation is scoped to one agent", func(t *testing.T) {
		f := newSystemFixture(t, "pod-1")
		installPlugin(t, f.root, "weather", "")
		require.NoError(t, f.manager.Discover())

		alice := newTenantFixture(t, f, "alice")
		bob := newTenantFixture(t, f, "bob")
		require.NoError(t, alice.Discover())
		require.NoError(t, bob.Discover())

		require.NoError(t, alice.ActivatePlugin("weather"))

		assert.Contains(t, alice.ActivePluginIDs(), "weather")
		assert.NotContains(t, bob.ActivePluginIDs(), "weather")
	})

	t.Run("deactivation leaves other agents untouched", func(t *testing.T) {
		f := newSystemFixture(t, "pod-1")
		installPlugin(t, f.root, "weather", "")
		require.NoError(t, f.manager.Discover())

		alice := newTenantFixture(t, f, "alice", "weather")
		bob := newTenantFixture(t, f, "bob", "weather")
		require.NoError(t, alice.Discover())
		require.NoError(t, bob.Discover())

		require.NoError(t, alice.DeactivatePlugin("weather"))

		assert.NotContains(t, alice.ActivePluginIDs(), "weather")
		assert.Contains(t, bob.ActivePluginIDs(), "weather")

		p, ok := f.manager.Plugin("weather")
		require.True(t, ok)
		assert.True(t, p.ActiveFor("bob"))
		assert.False(t, p.ActiveFor("alice"))
	})

	t.Run("base plugin deactivation always refused", func(t *testing.T) {
		f := newSystemFixture(t, "pod-1")
		require.NoError(t, f.manager.Discover())
		tenant := newTenantFixture(t, f, "agent-1")
		require.NoError(t, tenant.Discover())

		err := tenant.DeactivatePlugin("core")

		assert.ErrorIs(t, err, ErrBasePluginProtected)
		assert.Contains(t, tenant.ActivePluginIDs(), "core")
	})

	t.Run("activating an uninstalled plugin fails", func(t *testing.T) {
		f := newSystemFixture(t, "pod-1")
		require.NoError(t, f.manager.Discover())
		tenant := newTenantFixture(t, f, "agent-1")
		require.NoError(t, tenant.Discover())

		err := tenant.ActivatePlugin("ghost")

		var nerr *NotInstalledError
		assert.ErrorAs(t, err, &nerr)
	})
}

func TestTenantToggle(t *testing.T) {
	f := newSystemFixture(t, "pod-1")
	installPlugin(t, f.root, "weather", "")
	require.NoError(t, f.manager.Discover())
	tenant := newTenantFixture(t, f, "agent-1")
	require.NoError(t, tenant.Discover())

	require.NoError(t, tenant.TogglePlugin("weather"))
	assert.Contains(t, tenant.ActivePluginIDs(), "weather")

	require.NoError(t, tenant.TogglePlugin("weather"))
	assert.NotContains(t, tenant.ActivePluginIDs(), "weather")

	stored, _, err := f.store.GetActivePlugins("agent-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"core"}, stored)
}

func TestTenantSeesUninstall(t *testing.T) {
	f := newSystemFixture(t, "pod-1")
	installPlugin(t, f.root, "shout", "")
	f.factories.Register("shout", func() (*plugin.Capabilities, error) {
		return &plugin.Capabilities{
			Hooks: []hook.Hook{{
				Name: "before_reply",
				Fn: func(value any, caller any) (any, error) {
					return value.(string) + "!", nil
				},
			}},
		}, nil
	})
	require.NoError(t, f.manager.Discover())

	tenant := newTenantFixture(t, f, "agent-1", "shout")
	require.NoError(t, tenant.Discover())
	require.True(t, tenant.HasHook("before_reply"))

	require.NoError(t, f.manager.Uninstall(context.Background(), "shout"))

	// The agent's cache drops the plugin with the uninstall, without
	// waiting for its own Discover.
	assert.False(t, tenant.HasHook("before_reply"))
	assert.NotContains(t, tenant.ActivePluginIDs(), "shout")
	assert.NotContains(t, tenant.PluginIDs(), "shout")

	stored, _, err := f.store.GetActivePlugins("agent-1")
	require.NoError(t, err)
	assert.NotContains(t, stored, "shout")

	// A sync replay from a sibling replica propagates the same way.
	installPlugin(t, f.root, "shout", "")
	require.NoError(t, f.manager.Discover())
	require.NoError(t, tenant.ActivatePlugin("shout"))
	require.True(t, tenant.HasHook("before_reply"))

	require.NoError(t, f.manager.UninstallLocal("shout"))
	assert.False(t, tenant.HasHook("before_reply"))
}

func TestTenantConcurrentToggle(t *testing.T) {
	f := newSystemFixture(t, "pod-1")
	installPlugin(t, f.root, "weather", "")
	require.NoError(t, f.manager.Discover())

	tenants := []*TenantManager{
		newTenantFixture(t, f, "alice"),
		newTenantFixture(t, f, "bob"),
		newTenantFixture(t, f, "carol"),
	}
	for _, tenant := range tenants {
		require.NoError(t, tenant.Discover())
	}

	// Agents flipping the same shared plugin must never corrupt its
	// state, whatever the interleaving.
	var wg sync.WaitGroup
	for _, tenant := range tenants {
		wg.Add(1)
		go func(tenant *TenantManager) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				assert.NoError(t, tenant.TogglePlugin("weather"))
			}
		}(tenant)
	}
	wg.Wait()

	p, ok := f.manager.Plugin("weather")
	require.True(t, ok)
	for _, tenant := range tenants {
		// 25 toggles from inactive leave the plugin active.
		assert.True(t, p.ActiveFor(tenant.AgentID()))
		assert.Contains(t, tenant.ActivePluginIDs(), "weather")
	}
}

func TestTenantSnapshot(t *testing.T) {
	t.Run("hook chain follows the agent's active set", func(t *testing.T) {
		f := newSystemFixture(t, "pod-1")
		installPlugin(t, f.root, "shout", "")
		f.factories.Register("shout", func() (*plugin.Capabilities, error) {
			return &plugin.Capabilities{
				Hooks: []hook.Hook{{
					Name: "before_reply",
					Fn: func(value any, caller any) (any, error) {
						return value.(string) + "!!!", nil
					},
				}},
			}, nil
		})
		require.NoError(t, f.manager.Discover())
		tenant := newTenantFixture(t, f, "agent-1")
		require.NoError(t, tenant.Discover())

		assert.False(t, tenant.HasHook("before_reply"))

		require.NoError(t, tenant.ActivatePlugin("shout"))
		out, err := tenant.ExecuteHook("before_reply", "hi", nil)
		require.NoError(t, err)
		assert.Equal(t, "hi!!!", out)

		require.NoError(t, tenant.DeactivatePlugin("shout"))
		assert.False(t, tenant.HasHook("before_reply"))
	})

	t.Run("in-flight executions keep their snapshot", func(t *testing.T) {
		f := newSystemFixture(t, "pod-1")
		installPlugin(t, f.root, "shout", "")
		f.factories.Register("shout", func() (*plugin.Capabilities, error) {
			return &plugin.Capabilities{
				Hooks: []hook.Hook{{
					Name: "before_reply",
					Fn: func(value any, caller any) (any, error) {
						return value.(string) + "!", nil
					},
				}},
			}, nil
		})
		require.NoError(t, f.manager.Discover())
		tenant := newTenantFixture(t, f, "agent-1", "shout")
		require.NoError(t, tenant.Discover())

		snapshot := tenant.Current()
		require.NoError(t, tenant.DeactivatePlugin("shout"))

		// The retained snapshot still resolves the hook.
		out, err := snapshot.Execute("before_reply", "hi", nil)
		require.NoError(t, err)
		assert.Equal(t, "hi!", out)
		assert.False(t, tenant.HasHook("before_reply"))
	})

	t.Run("procedures follow the active set", func(t *testing.T) {
		f := newSystemFixture(t, "pod-1")
		installPlugin(t, f.root, "tools", "")
		f.factories.Register("tools", func() (*plugin.Capabilities, error) {
			return &plugin.Capabilities{
				Procedures: []procedure.Procedure{
					procedure.NewTool("get_time", "Current time.", nil),
				},
			}, nil
		})
		require.NoError(t, f.manager.Discover())
		tenant := newTenantFixture(t, f, "agent-1")
		require.NoError(t, tenant.Discover())

		_, found := tenant.Procedures().Get("get_time")
		assert.False(t, found)

		require.NoError(t, tenant.ActivatePlugin("tools"))
		proc, found := tenant.Procedures().Get("get_time")
		require.True(t, found)
		assert.Equal(t, "tools", proc.PluginID())
	})
}
