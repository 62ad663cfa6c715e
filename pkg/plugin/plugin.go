// Package plugin implements the extension unit of the host: discovery
// from a folder on disk, manifest parsing, the activation/deactivation
// lifecycle, per-agent settings with schema migration, and the archive
// install path.
package plugin

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/aveline/grimalkin/pkg/endpoint"
	"github.com/aveline/grimalkin/pkg/hook"
	"github.com/aveline/grimalkin/pkg/procedure"
	"github.com/aveline/grimalkin/pkg/settings"
)

// Deps are the collaborators a plugin needs through its lifecycle.
// Transport may be nil when no external HTTP layer is attached.
type Deps struct {
	Store       settings.Store
	Factories   *FactoryRegistry
	Transport   endpoint.Transport
	Logger      zerolog.Logger
	HostVersion string
}

// artifacts is everything one factory resolution contributed. It is
// published as a whole and never mutated afterwards.
type artifacts struct {
	hooks      []hook.Hook
	procedures []procedure.Procedure
	endpoints  []endpoint.Endpoint
	overrides  Overrides
}

// Plugin is one discovered extension. It is created inactive at
// discovery time; Activate populates its artifacts for an agent and
// Deactivate tears them down again. The same Plugin object is shared
// by the system manager and every tenant manager, so it tracks which
// agents currently hold it active. mu serializes lifecycle changes
// across managers; reads go through stateMu and the artifacts pointer
// and stay safe from any goroutine, including the activated and
// deactivated overrides.
type Plugin struct {
	id       string
	path     string
	manifest Manifest
	deps     Deps
	logger   zerolog.Logger

	mu        sync.Mutex
	artifacts atomic.Pointer[artifacts]

	stateMu      sync.RWMutex
	activeAgents map[string]struct{}
}

// New loads a plugin from a folder. The folder name becomes the
// immutable plugin id. It fails with a DiscoveryError when the folder
// is missing or contains no extension source files.
func New(path string, deps Deps) (*Plugin, error) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return nil, &DiscoveryError{Path: path, Reason: "does not exist or is not a folder"}
	}

	if !hasSourceFiles(path) {
		return nil, &DiscoveryError{Path: path, Reason: "contains no extension source files"}
	}

	id := filepath.Base(filepath.Clean(path))
	p := &Plugin{
		id:           id,
		path:         path,
		manifest:     loadManifest(path, id),
		deps:         deps,
		logger:       deps.Logger.With().Str("component", "plugin").Str("plugin", id).Logger(),
		activeAgents: make(map[string]struct{}),
	}
	p.artifacts.Store(&artifacts{})
	return p, nil
}

// hasSourceFiles reports whether the folder holds at least one .go
// extension source file, anywhere in its tree.
func hasSourceFiles(path string) bool {
	found := false
	_ = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".go") {
			found = true
			return filepath.SkipAll
		}
		return nil
	})
	return found
}

func (p *Plugin) ID() string         { return p.id }
func (p *Plugin) Path() string       { return p.path }
func (p *Plugin) Manifest() Manifest { return p.manifest }

// Active reports whether any agent currently holds the plugin active.
func (p *Plugin) Active() bool {
	p.stateMu.RLock()
	defer p.stateMu.RUnlock()
	return len(p.activeAgents) > 0
}

// ActiveFor reports whether the given agent holds the plugin active.
func (p *Plugin) ActiveFor(agentID string) bool {
	p.stateMu.RLock()
	defer p.stateMu.RUnlock()
	_, ok := p.activeAgents[agentID]
	return ok
}

// ActiveAgents lists the agents currently holding the plugin active,
// in sorted order.
func (p *Plugin) ActiveAgents() []string {
	p.stateMu.RLock()
	defer p.stateMu.RUnlock()

	agents := make([]string, 0, len(p.activeAgents))
	for agent := range p.activeAgents {
		agents = append(agents, agent)
	}
	sort.Strings(agents)
	return agents
}

// Hooks returns a copy of the plugin's contributed hooks. Empty while
// the plugin is inactive.
func (p *Plugin) Hooks() []hook.Hook {
	return slices.Clone(p.artifacts.Load().hooks)
}

// Procedures returns a copy of the plugin's contributed procedures.
func (p *Plugin) Procedures() []procedure.Procedure {
	return slices.Clone(p.artifacts.Load().procedures)
}

// Endpoints returns a copy of the plugin's contributed endpoints.
func (p *Plugin) Endpoints() []endpoint.Endpoint {
	return slices.Clone(p.artifacts.Load().endpoints)
}

func (p *Plugin) Overrides() Overrides {
	return p.artifacts.Load().overrides
}

// MissingDependencies returns the manifest dependency ids not present
// in the currently available plugin set.
func (p *Plugin) MissingDependencies(available []string) []string {
	have := make(map[string]struct{}, len(available))
	for _, id := range available {
		have[id] = struct{}{}
	}

	var missing []string
	for _, dep := range p.manifest.Dependencies {
		if _, ok := have[dep]; !ok {
			missing = append(missing, dep)
		}
	}
	return missing
}

// Activate brings the plugin up for one agent: host compatibility and
// declared requirements are checked, artifacts are resolved from the
// capability factory, settings are migrated to the current schema, and
// the plugin's activated override runs. Any failure rolls the plugin
// fully back for that agent; no partial registration stays visible.
func (p *Plugin) Activate(agentID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ActiveFor(agentID) {
		return nil
	}

	if err := p.manifest.CompatibleWith(p.deps.HostVersion); err != nil {
		return &ActivationError{PluginID: p.id, Err: err}
	}

	if err := p.ensureRequirements(); err != nil {
		return &ActivationError{PluginID: p.id, Err: err}
	}

	firstAgent := !p.Active()
	if firstAgent {
		if err := p.resolveArtifacts(); err != nil {
			p.clearArtifacts()
			return &ActivationError{PluginID: p.id, Err: err}
		}
	}

	// Remember whether a settings record existed so rollback can tell
	// a created record from a migrated one.
	hadSettings := true
	if stored, err := p.deps.Store.GetSettings(agentID, p.id); err == nil {
		hadSettings = stored != nil
	}

	rollback := func() {
		if !hadSettings {
			_ = p.deps.Store.DeleteSettings(agentID, p.id)
		}
		if firstAgent {
			p.detachEndpoints()
			p.clearArtifacts()
		}
	}

	if err := p.migrateSettings(agentID); err != nil {
		rollback()
		return &ActivationError{PluginID: p.id, Err: err}
	}

	if firstAgent {
		if err := p.attachEndpoints(); err != nil {
			rollback()
			return &ActivationError{PluginID: p.id, Err: err}
		}
	}

	if activated := p.Overrides().Activated; activated != nil {
		if err := activated(p); err != nil {
			rollback()
			return &ActivationError{PluginID: p.id, Err: err}
		}
	}

	p.stateMu.Lock()
	p.activeAgents[agentID] = struct{}{}
	p.stateMu.Unlock()

	p.logger.Debug().Str("agent", agentID).Msg("Plugin activated")
	return nil
}

// Deactivate tears the plugin down for one agent: the deactivated
// override runs, the agent's settings record is deleted, and once no
// agent holds the plugin active its artifacts are discarded. Safe to
// call when already inactive.
func (p *Plugin) Deactivate(agentID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.ActiveFor(agentID) {
		return
	}

	if deactivated := p.Overrides().Deactivated; deactivated != nil {
		if err := deactivated(p); err != nil {
			p.logger.Error().Err(err).Msg("Deactivated override failed")
		}
	}

	if err := p.deps.Store.DeleteSettings(agentID, p.id); err != nil {
		p.logger.Error().Err(err).Str("agent", agentID).Msg("Failed to delete plugin settings")
	}

	p.stateMu.Lock()
	delete(p.activeAgents, agentID)
	lastAgent := len(p.activeAgents) == 0
	p.stateMu.Unlock()

	if lastAgent {
		p.detachEndpoints()
		p.clearArtifacts()
	}

	p.logger.Debug().Str("agent", agentID).Msg("Plugin deactivated")
}

// resolveArtifacts invokes the capability factory, stamps ownership
// onto everything it returned, and publishes the result as one
// immutable value.
func (p *Plugin) resolveArtifacts() error {
	caps, err := p.deps.Factories.Resolve(p.id)
	if err != nil {
		return err
	}

	if !p.deps.Factories.Registered(p.id) {
		p.logger.Debug().Msg("No capability factory registered, plugin contributes settings only")
	}

	arts := &artifacts{
		hooks:      make([]hook.Hook, len(caps.Hooks)),
		procedures: make([]procedure.Procedure, len(caps.Procedures)),
		endpoints:  make([]endpoint.Endpoint, len(caps.Endpoints)),
		overrides:  caps.Overrides,
	}

	copy(arts.hooks, caps.Hooks)
	for i := range arts.hooks {
		arts.hooks[i].PluginID = p.id
	}

	copy(arts.procedures, caps.Procedures)
	for _, proc := range arts.procedures {
		stampProcedure(proc, p.id)
	}

	copy(arts.endpoints, caps.Endpoints)
	for i := range arts.endpoints {
		arts.endpoints[i].PluginID = p.id
	}

	p.artifacts.Store(arts)
	return nil
}

func (p *Plugin) clearArtifacts() {
	p.artifacts.Store(&artifacts{})
}

// attachEndpoints activates the plugin's routes on the external
// transport. On failure, routes activated so far are removed again.
func (p *Plugin) attachEndpoints() error {
	if p.deps.Transport == nil {
		return nil
	}

	endpoints := p.artifacts.Load().endpoints
	for i, e := range endpoints {
		if err := p.deps.Transport.ActivateEndpoint(e); err != nil {
			for j := 0; j < i; j++ {
				_ = p.deps.Transport.DeactivateEndpoint(endpoints[j])
			}
			return fmt.Errorf("activating endpoint %s: %w", e.FullPath(), err)
		}
	}
	return nil
}

func (p *Plugin) detachEndpoints() {
	if p.deps.Transport == nil {
		return
	}
	for _, e := range p.artifacts.Load().endpoints {
		if err := p.deps.Transport.DeactivateEndpoint(e); err != nil {
			p.logger.Warn().Err(err).Str("path", e.FullPath()).Msg("Failed to deactivate endpoint")
		}
	}
}
