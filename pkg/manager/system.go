package manager

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/fsnotify/fsnotify"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/aveline/grimalkin/pkg/bus"
	"github.com/aveline/grimalkin/pkg/endpoint"
	"github.com/aveline/grimalkin/pkg/plugin"
	"github.com/aveline/grimalkin/pkg/settings"
)

// SystemAgentKey is the reserved agent identity the system manager
// activates plugins under.
const SystemAgentKey = "system"

// SystemConfig wires a system manager's collaborators.
type SystemConfig struct {
	// PluginsRoot is the folder plugin packages are installed into.
	PluginsRoot string

	// ReplicaID identifies this process on the sync channel. Generated
	// when empty.
	ReplicaID string

	// BasePluginID is the plugin every agent always runs. Defaults to
	// DefaultBasePluginID.
	BasePluginID string

	HostVersion string

	Store     settings.Store
	Bus       bus.Bus
	Factories *plugin.FactoryRegistry
	Transport endpoint.Transport
	Logger    zerolog.Logger

	// ReconcileSpec is the cron schedule of the periodic rediscovery
	// pass that catches sync events missed during broker outages.
	// Defaults to every five minutes.
	ReconcileSpec string
}

// SystemManager is the one manager per deployment allowed to mutate
// the plugin filesystem: install, uninstall, and the discovery scan
// all happen here. Tenant managers read its plugin set.
type SystemManager struct {
	base

	root      string
	replicaID string
	baseID    string

	store     settings.Store
	events    bus.Bus
	factories *plugin.FactoryRegistry
	transport endpoint.Transport
	hostVer   string

	watcher   *fsnotify.Watcher
	scheduler *cron.Cron
	reconcile string

	listenersMu  sync.Mutex
	listeners    map[int]func()
	nextListener int
}

// NewSystem builds a system manager and ensures the plugins root
// exists. Call Discover to load the installed plugins.
func NewSystem(cfg SystemConfig) (*SystemManager, error) {
	if cfg.PluginsRoot == "" {
		return nil, fmt.Errorf("plugins root is required")
	}
	if err := os.MkdirAll(cfg.PluginsRoot, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create plugins root: %w", err)
	}

	if cfg.ReplicaID == "" {
		id, err := gonanoid.New()
		if err != nil {
			return nil, fmt.Errorf("failed to generate replica id: %w", err)
		}
		cfg.ReplicaID = id
	}
	if cfg.BasePluginID == "" {
		cfg.BasePluginID = DefaultBasePluginID
	}
	if cfg.ReconcileSpec == "" {
		cfg.ReconcileSpec = "@every 5m"
	}

	logger := cfg.Logger.With().Str("component", "system-manager").Logger()

	m := &SystemManager{
		root:      cfg.PluginsRoot,
		replicaID: cfg.ReplicaID,
		baseID:    cfg.BasePluginID,
		store:     cfg.Store,
		events:    cfg.Bus,
		factories: cfg.Factories,
		transport: cfg.Transport,
		hostVer:   cfg.HostVersion,
		reconcile: cfg.ReconcileSpec,
		listeners: make(map[int]func()),
	}
	m.init(SystemAgentKey, logger)
	return m, nil
}

// OnChange registers a callback invoked after the installed plugin set
// changes: install, uninstall, or a rediscovery pass. Tenant managers
// use it to drop plugins that disappeared without waiting for their
// own Discover. The returned func unregisters the callback.
func (m *SystemManager) OnChange(fn func()) func() {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()

	id := m.nextListener
	m.nextListener++
	m.listeners[id] = fn

	return func() {
		m.listenersMu.Lock()
		defer m.listenersMu.Unlock()
		delete(m.listeners, id)
	}
}

// notifyChange runs the registered callbacks. Callers must not hold
// m.mu; callbacks read the manager's plugin set.
func (m *SystemManager) notifyChange() {
	m.listenersMu.Lock()
	fns := make([]func(), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.listenersMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// ReplicaID returns this replica's identity on the sync channel.
func (m *SystemManager) ReplicaID() string { return m.replicaID }

// BasePluginID returns the mandatory plugin id.
func (m *SystemManager) BasePluginID() string { return m.baseID }

func (m *SystemManager) pluginDeps() plugin.Deps {
	return plugin.Deps{
		Store:       m.store,
		Factories:   m.factories,
		Transport:   m.transport,
		Logger:      m.logger,
		HostVersion: m.hostVer,
	}
}

// Discover scans the plugins root and reconciles the loaded plugin set
// with what is on disk: new folders are loaded, folders that vanished
// are torn down for every agent holding them, and folders that fail to
// load are logged and skipped. Plugins on the stored system active
// list are activated; the first run defaults to everything installed,
// base plugin first.
func (m *SystemManager) Discover() error {
	if err := m.discover(); err != nil {
		return err
	}
	m.notifyChange()
	return nil
}

func (m *SystemManager) discover() error {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return fmt.Errorf("failed to read plugins root: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	onDisk := make(map[string]struct{})
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id := entry.Name()
		onDisk[id] = struct{}{}

		if _, loaded := m.plugins[id]; loaded {
			continue
		}
		p, err := plugin.New(filepath.Join(m.root, id), m.pluginDeps())
		if err != nil {
			m.logger.Warn().Err(err).Str("folder", id).Msg("Skipping plugin folder")
			continue
		}
		m.plugins[id] = p
	}

	for id, p := range m.plugins {
		if _, ok := onDisk[id]; ok {
			continue
		}
		for _, agent := range p.ActiveAgents() {
			p.Deactivate(agent)
		}
		delete(m.plugins, id)
		m.logger.Info().Str("plugin", id).Msg("Plugin folder removed, plugin unloaded")
	}

	wanted, found, err := m.store.GetActivePlugins(m.agentKey)
	if err != nil {
		return fmt.Errorf("failed to load system active list: %w", err)
	}
	if !found {
		for id := range m.plugins {
			wanted = append(wanted, id)
		}
		slices.Sort(wanted)
	}
	wanted = m.normalizeActiveList(wanted)

	var active []string
	for _, id := range wanted {
		p, ok := m.plugins[id]
		if !ok {
			continue
		}
		if err := p.Activate(m.agentKey); err != nil {
			m.logger.Error().Err(err).Str("plugin", id).Msg("Failed to activate plugin")
			continue
		}
		active = append(active, id)
	}

	if err := m.store.SetActivePlugins(m.agentKey, active); err != nil {
		return fmt.Errorf("failed to persist system active list: %w", err)
	}

	m.refreshSnapshot()
	m.logger.Info().
		Int("installed", len(m.plugins)).
		Int("active", len(active)).
		Msg("Plugin discovery complete")
	return nil
}

// normalizeActiveList dedupes the list and keeps the base plugin
// present and first whenever it is installed.
func (m *SystemManager) normalizeActiveList(ids []string) []string {
	out := make([]string, 0, len(ids)+1)
	seen := make(map[string]struct{}, len(ids)+1)

	if _, installed := m.plugins[m.baseID]; installed {
		out = append(out, m.baseID)
		seen[m.baseID] = struct{}{}
	}
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Install extracts a plugin package into the plugins root, loads and
// activates it, and announces it to sibling replicas. A missing
// declared dependency or a failed activation removes the extracted
// folder again, so a refused install leaves no trace on disk.
func (m *SystemManager) Install(ctx context.Context, archivePath string) (string, error) {
	extractor, err := plugin.NewExtractor(archivePath, m.logger)
	if err != nil {
		return "", err
	}

	dest, err := extractor.Extract(m.root)
	if err != nil {
		return "", err
	}

	id := extractor.ID()
	if err := m.installExtracted(id, dest); err != nil {
		return "", err
	}
	m.notifyChange()

	m.publish(ctx, bus.Event{
		Type:    bus.EventPluginInstalled,
		Payload: bus.Payload{PluginID: id, PluginPath: dest},
		Source:  m.replicaID,
	})
	return id, nil
}

// InstallExtracted loads and activates a plugin already present on the
// shared filesystem. It is the replay half of a sync event and never
// re-publishes.
func (m *SystemManager) InstallExtracted(id, path string) error {
	if err := m.installExtracted(id, path); err != nil {
		return err
	}
	m.notifyChange()
	return nil
}

func (m *SystemManager) installExtracted(id, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if old, loaded := m.plugins[id]; loaded {
		for _, agent := range old.ActiveAgents() {
			old.Deactivate(agent)
		}
		delete(m.plugins, id)
	}

	rollback := func() {
		if err := os.RemoveAll(path); err != nil {
			m.logger.Error().Err(err).Str("plugin", id).Msg("Failed to clean up refused install")
		}
	}

	p, err := plugin.New(path, m.pluginDeps())
	if err != nil {
		rollback()
		return err
	}

	installed := make([]string, 0, len(m.plugins))
	for existing := range m.plugins {
		installed = append(installed, existing)
	}
	if missing := p.MissingDependencies(installed); len(missing) > 0 {
		rollback()
		return &plugin.DependencyError{PluginID: id, Missing: missing}
	}

	if err := p.Activate(m.agentKey); err != nil {
		rollback()
		return err
	}

	m.plugins[id] = p
	if err := m.appendActive(id); err != nil {
		m.logger.Error().Err(err).Str("plugin", id).Msg("Failed to persist active list")
	}

	m.refreshSnapshot()
	m.logger.Info().Str("plugin", id).Msg("Plugin installed")
	return nil
}

// Uninstall removes a plugin: every agent holding it is deactivated,
// the folder and all settings records are deleted, and the removal is
// announced to sibling replicas. Refused while other installed plugins
// depend on it.
func (m *SystemManager) Uninstall(ctx context.Context, id string) error {
	if err := m.uninstallLocal(id); err != nil {
		return err
	}
	m.notifyChange()

	m.publish(ctx, bus.Event{
		Type:    bus.EventPluginUninstalled,
		Payload: bus.Payload{PluginID: id},
		Source:  m.replicaID,
	})
	return nil
}

// UninstallLocal removes a plugin without announcing it. It is the
// replay half of a sync event.
func (m *SystemManager) UninstallLocal(id string) error {
	if err := m.uninstallLocal(id); err != nil {
		return err
	}
	m.notifyChange()
	return nil
}

func (m *SystemManager) uninstallLocal(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.plugins[id]
	if !ok {
		return &NotInstalledError{PluginID: id}
	}

	var dependents []string
	for otherID, other := range m.plugins {
		if otherID == id {
			continue
		}
		if slices.Contains(other.Manifest().Dependencies, id) {
			dependents = append(dependents, otherID)
		}
	}
	if len(dependents) > 0 {
		slices.Sort(dependents)
		return &plugin.DependencyError{PluginID: id, Dependents: dependents}
	}

	for _, agent := range p.ActiveAgents() {
		p.Deactivate(agent)
	}

	if err := os.RemoveAll(p.Path()); err != nil {
		return fmt.Errorf("failed to delete plugin folder: %w", err)
	}
	if err := m.store.DeletePluginSettings(id); err != nil {
		m.logger.Error().Err(err).Str("plugin", id).Msg("Failed to delete plugin settings")
	}

	delete(m.plugins, id)
	if err := m.removeActive(id); err != nil {
		m.logger.Error().Err(err).Str("plugin", id).Msg("Failed to persist active list")
	}

	m.refreshSnapshot()
	m.logger.Info().Str("plugin", id).Msg("Plugin uninstalled")
	return nil
}

// ActivatePlugin activates an installed plugin at the system level.
func (m *SystemManager) ActivatePlugin(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.plugins[id]
	if !ok {
		return &NotInstalledError{PluginID: id}
	}
	if err := p.Activate(m.agentKey); err != nil {
		return err
	}
	if err := m.appendActive(id); err != nil {
		return err
	}

	m.refreshSnapshot()
	return nil
}

// DeactivatePlugin deactivates a plugin at the system level. The base
// plugin is always refused.
func (m *SystemManager) DeactivatePlugin(id string) error {
	if id == m.baseID {
		return ErrBasePluginProtected
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.plugins[id]
	if !ok {
		return &NotInstalledError{PluginID: id}
	}

	p.Deactivate(m.agentKey)
	if err := m.removeActive(id); err != nil {
		return err
	}

	m.refreshSnapshot()
	return nil
}

// TogglePlugin flips a plugin's system-level active state.
func (m *SystemManager) TogglePlugin(id string) error {
	m.mu.Lock()
	p, ok := m.plugins[id]
	active := ok && p.ActiveFor(m.agentKey)
	m.mu.Unlock()

	if !ok {
		return &NotInstalledError{PluginID: id}
	}
	if active {
		return m.DeactivatePlugin(id)
	}
	return m.ActivatePlugin(id)
}

// appendActive persists the stored active list with id appended.
// Callers must hold m.mu.
func (m *SystemManager) appendActive(id string) error {
	ids, _, err := m.store.GetActivePlugins(m.agentKey)
	if err != nil {
		return err
	}
	if !slices.Contains(ids, id) {
		ids = append(ids, id)
	}
	return m.store.SetActivePlugins(m.agentKey, m.normalizeActiveList(ids))
}

// removeActive persists the stored active list with id removed.
// Callers must hold m.mu.
func (m *SystemManager) removeActive(id string) error {
	ids, _, err := m.store.GetActivePlugins(m.agentKey)
	if err != nil {
		return err
	}
	ids = slices.DeleteFunc(ids, func(existing string) bool { return existing == id })
	return m.store.SetActivePlugins(m.agentKey, ids)
}

// publish announces a mutation on the sync channel. Best effort: a
// broker error is logged and the local mutation stands.
func (m *SystemManager) publish(ctx context.Context, evt bus.Event) {
	if m.events == nil {
		return
	}
	if err := m.events.Publish(ctx, evt); err != nil {
		m.logger.Error().Err(err).
			Str("event", evt.Type).
			Str("plugin", evt.Payload.PluginID).
			Msg("Failed to publish sync event")
	}
}

// StartSync runs the long-lived sync consumer: install/uninstall
// events from sibling replicas are replayed locally, events carrying
// this replica's own id are dropped. The consumer stops when ctx is
// cancelled.
func (m *SystemManager) StartSync(ctx context.Context) error {
	if m.events == nil {
		return nil
	}

	_, err := m.events.Subscribe(ctx, func(evt bus.Event) {
		if evt.Source == m.replicaID {
			return
		}

		m.logger.Debug().
			Str("event", evt.Type).
			Str("plugin", evt.Payload.PluginID).
			Str("source", evt.Source).
			Msg("Replaying sync event")

		var err error
		switch evt.Type {
		case bus.EventPluginInstalled:
			err = m.InstallExtracted(evt.Payload.PluginID, evt.Payload.PluginPath)
		case bus.EventPluginUninstalled:
			err = m.UninstallLocal(evt.Payload.PluginID)
		default:
			m.logger.Warn().Str("event", evt.Type).Msg("Unknown sync event type")
			return
		}
		if err != nil {
			m.logger.Error().Err(err).
				Str("event", evt.Type).
				Str("plugin", evt.Payload.PluginID).
				Msg("Failed to replay sync event")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to start sync consumer: %w", err)
	}
	return nil
}

// StartWatcher watches the plugins root and triggers a rediscovery on
// folder creation or removal, so plugins dropped into the folder by
// hand show up without a restart.
func (m *SystemManager) StartWatcher(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create plugins watcher: %w", err)
	}
	if err := watcher.Add(m.root); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch plugins root: %w", err)
	}
	m.watcher = watcher

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				m.logger.Debug().Str("path", event.Name).Msg("Plugins folder changed")
				if err := m.Discover(); err != nil {
					m.logger.Error().Err(err).Msg("Rediscovery after folder change failed")
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				m.logger.Warn().Err(err).Msg("Plugins watcher error")
			}
		}
	}()
	return nil
}

// StartReconciliation schedules the periodic rediscovery pass. Sync
// delivery is at most once, so a replica that was offline during an
// event catches up here instead of waiting for a restart.
func (m *SystemManager) StartReconciliation() error {
	scheduler := cron.New()
	_, err := scheduler.AddFunc(m.reconcile, func() {
		if err := m.Discover(); err != nil {
			m.logger.Error().Err(err).Msg("Reconciliation discovery failed")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid reconciliation schedule %q: %w", m.reconcile, err)
	}
	scheduler.Start()
	m.scheduler = scheduler
	return nil
}

// Stop halts the watcher and the reconciliation scheduler.
func (m *SystemManager) Stop() {
	if m.scheduler != nil {
		m.scheduler.Stop()
	}
	if m.watcher != nil {
		m.watcher.Close()
	}
}
