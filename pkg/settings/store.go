// Package settings persists per-(agent, plugin) configuration
// documents and each agent's ordered active-plugin list. The store is
// the single source of truth: every in-memory registry in the plugin
// host is a rebuildable cache over it.
package settings

import "errors"

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("settings store is closed")

// Store is the external settings/key-value collaborator. A nil
// settings map from GetSettings means no record exists, which is
// distinct from an empty document.
type Store interface {
	// GetSettings returns the stored document for (agentID, pluginID),
	// or nil when none exists.
	GetSettings(agentID, pluginID string) (map[string]any, error)

	// SetSettings replaces the stored document for (agentID, pluginID).
	SetSettings(agentID, pluginID string, values map[string]any) error

	// DeleteSettings removes one agent's document for a plugin.
	DeleteSettings(agentID, pluginID string) error

	// DeletePluginSettings removes the plugin's documents for every
	// agent. Used on uninstall.
	DeletePluginSettings(pluginID string) error

	// GetActivePlugins returns the agent's ordered active-plugin list
	// and whether one has ever been stored.
	GetActivePlugins(agentID string) ([]string, bool, error)

	// SetActivePlugins replaces the agent's ordered active-plugin list.
	SetActivePlugins(agentID string, pluginIDs []string) error

	Close() error
}
