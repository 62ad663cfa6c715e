package manager

import (
	"fmt"
	"slices"

	"github.com/rs/zerolog"

	"github.com/aveline/grimalkin/pkg/settings"
)

// TenantConfig wires a tenant manager for one agent.
type TenantConfig struct {
	// AgentID is the tenant identity plugins activate under.
	AgentID string

	// System is the deployment's system manager; the tenant manager
	// reads its already-loaded plugin objects and never touches disk.
	System *SystemManager

	Store  settings.Store
	Logger zerolog.Logger

	// DefaultActive is the plugin set a brand-new agent starts with.
	// The base plugin is always added and kept first.
	DefaultActive []string
}

// TenantManager scopes plugin activation to one agent. Many tenant
// managers share the system manager's plugin objects; each keeps its
// own active list and its own snapshot of contributed artifacts.
type TenantManager struct {
	base

	system        *SystemManager
	store         settings.Store
	defaultActive []string
	unsubscribe   func()
}

// NewTenant builds a tenant manager. Call Discover to load the
// agent's active plugins.
func NewTenant(cfg TenantConfig) (*TenantManager, error) {
	if cfg.AgentID == "" {
		return nil, fmt.Errorf("agent id is required")
	}
	if cfg.System == nil {
		return nil, fmt.Errorf("system manager is required")
	}

	logger := cfg.Logger.With().
		Str("component", "tenant-manager").
		Str("agent", cfg.AgentID).
		Logger()

	m := &TenantManager{
		system:        cfg.System,
		store:         cfg.Store,
		defaultActive: cfg.DefaultActive,
	}
	m.init(cfg.AgentID, logger)
	m.unsubscribe = cfg.System.OnChange(m.pruneUninstalled)
	return m, nil
}

// AgentID returns the tenant identity this manager activates under.
func (m *TenantManager) AgentID() string { return m.agentKey }

// Stop unregisters the manager from the system manager's change
// notifications.
func (m *TenantManager) Stop() {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
}

// pruneUninstalled drops plugins the system manager no longer carries
// and republishes the snapshot. Runs on every installed-set change, so
// an uninstalled plugin's hooks never outlive it in this agent's
// cache.
func (m *TenantManager) pruneUninstalled() {
	m.mu.Lock()
	defer m.mu.Unlock()

	changed := false
	for id := range m.plugins {
		if _, installed := m.system.Plugin(id); installed {
			continue
		}
		delete(m.plugins, id)
		changed = true
		m.logger.Info().Str("plugin", id).Msg("Plugin uninstalled, dropped from agent")
	}
	if !changed {
		return
	}

	if err := m.persistActive(); err != nil {
		m.logger.Error().Err(err).Msg("Failed to persist active list")
	}
	m.refreshSnapshot()
}

// Discover intersects the system manager's installed plugin set with
// this agent's persisted active list and activates the result. A
// brand-new agent gets the configured default set, base plugin first.
// Ids on the list whose plugin is no longer installed are dropped.
func (m *TenantManager) Discover() error {
	wanted, found, err := m.store.GetActivePlugins(m.agentKey)
	if err != nil {
		return fmt.Errorf("failed to load active list for agent %s: %w", m.agentKey, err)
	}
	if !found {
		wanted = slices.Clone(m.defaultActive)
	}
	wanted = m.normalize(wanted)

	m.mu.Lock()
	defer m.mu.Unlock()

	for id := range m.plugins {
		delete(m.plugins, id)
	}

	var active []string
	for _, id := range wanted {
		p, installed := m.system.Plugin(id)
		if !installed {
			m.logger.Warn().Str("plugin", id).Msg("Active plugin is no longer installed, dropping")
			continue
		}
		if err := p.Activate(m.agentKey); err != nil {
			m.logger.Error().Err(err).Str("plugin", id).Msg("Failed to activate plugin")
			continue
		}
		m.plugins[id] = p
		active = append(active, id)
	}

	if err := m.store.SetActivePlugins(m.agentKey, active); err != nil {
		return fmt.Errorf("failed to persist active list for agent %s: %w", m.agentKey, err)
	}

	m.refreshSnapshot()
	m.logger.Info().Int("active", len(active)).Msg("Tenant plugins loaded")
	return nil
}

// normalize dedupes an active list and keeps the base plugin present
// and first.
func (m *TenantManager) normalize(ids []string) []string {
	baseID := m.system.BasePluginID()
	out := []string{baseID}
	seen := map[string]struct{}{baseID: {}}

	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// ActivatePlugin activates an installed plugin for this agent and
// persists the updated active list.
func (m *TenantManager) ActivatePlugin(id string) error {
	p, installed := m.system.Plugin(id)
	if !installed {
		return &NotInstalledError{PluginID: id}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := p.Activate(m.agentKey); err != nil {
		return err
	}
	m.plugins[id] = p

	if err := m.persistActive(); err != nil {
		return err
	}
	m.refreshSnapshot()
	m.logger.Info().Str("plugin", id).Msg("Plugin activated for agent")
	return nil
}

// DeactivatePlugin deactivates a plugin for this agent. The base
// plugin is always refused; other agents holding the plugin keep it.
func (m *TenantManager) DeactivatePlugin(id string) error {
	if id == m.system.BasePluginID() {
		return ErrBasePluginProtected
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	p, held := m.plugins[id]
	if !held {
		return nil
	}

	p.Deactivate(m.agentKey)
	delete(m.plugins, id)

	if err := m.persistActive(); err != nil {
		return err
	}
	m.refreshSnapshot()
	m.logger.Info().Str("plugin", id).Msg("Plugin deactivated for agent")
	return nil
}

// TogglePlugin flips a plugin's active state for this agent.
func (m *TenantManager) TogglePlugin(id string) error {
	m.mu.Lock()
	p, held := m.plugins[id]
	active := held && p.ActiveFor(m.agentKey)
	m.mu.Unlock()

	if active {
		return m.DeactivatePlugin(id)
	}
	return m.ActivatePlugin(id)
}

// persistActive writes this agent's active list, base plugin first,
// then the rest in activation order. Callers must hold m.mu.
func (m *TenantManager) persistActive() error {
	stored, _, err := m.store.GetActivePlugins(m.agentKey)
	if err != nil {
		return err
	}

	// Keep stored order for plugins still active, then append newly
	// activated ones.
	var ids []string
	for _, id := range stored {
		if p, held := m.plugins[id]; held && p.ActiveFor(m.agentKey) {
			ids = append(ids, id)
		}
	}
	var added []string
	for id, p := range m.plugins {
		if p.ActiveFor(m.agentKey) && !slices.Contains(ids, id) {
			added = append(added, id)
		}
	}
	slices.Sort(added)
	ids = append(ids, added...)

	return m.store.SetActivePlugins(m.agentKey, m.normalize(ids))
}
