package plugin

import (
	"fmt"
	"sync"

	"github.com/aveline/grimalkin/pkg/endpoint"
	"github.com/aveline/grimalkin/pkg/hook"
	"github.com/aveline/grimalkin/pkg/procedure"
)

// Capabilities is everything a plugin contributes while active.
type Capabilities struct {
	Hooks      []hook.Hook
	Procedures []procedure.Procedure
	Endpoints  []endpoint.Endpoint
	Overrides  Overrides
}

// Overrides are plugin-supplied behavior replacements. All fields are
// optional.
type Overrides struct {
	// SettingsSchema replaces the resolved settings JSON schema. Takes
	// precedence over SettingsModel.
	SettingsSchema func() map[string]any

	// SettingsModel supplies schema plus defaults for the plugin's
	// settings.
	SettingsModel func() SettingsModel

	// LoadSettings and SaveSettings replace the settings-store
	// read/write paths entirely.
	LoadSettings func(agentID string) (map[string]any, error)
	SaveSettings func(agentID string, values map[string]any) (map[string]any, error)

	// Activated and Deactivated run after resolution on activation and
	// before teardown on deactivation.
	Activated   func(p *Plugin) error
	Deactivated func(p *Plugin) error
}

// SettingsModel pairs a settings JSON schema with the defaults a fresh
// settings document starts from.
type SettingsModel struct {
	Schema   map[string]any
	Defaults map[string]any
}

// Factory returns a fresh Capabilities instance for a plugin. It is
// invoked on every activation, which is what makes re-activation pick
// up new artifacts without any module-cache tricks.
type Factory func() (*Capabilities, error)

// FactoryRegistry maps plugin ids to their capability factories.
// Plugin code compiled into the host registers here, typically from an
// init function in the plugin's package.
type FactoryRegistry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewFactoryRegistry creates an empty registry.
func NewFactoryRegistry() *FactoryRegistry {
	return &FactoryRegistry{factories: make(map[string]Factory)}
}

// Register binds a factory to a plugin id, replacing any previous one.
func (r *FactoryRegistry) Register(pluginID string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[pluginID] = f
}

// Registered reports whether a factory exists for the plugin id.
func (r *FactoryRegistry) Registered(pluginID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[pluginID]
	return ok
}

// Resolve invokes the plugin's factory. A plugin without a registered
// factory resolves to empty capabilities: it still carries a manifest
// and settings but contributes no artifacts.
func (r *FactoryRegistry) Resolve(pluginID string) (*Capabilities, error) {
	r.mu.RLock()
	f, ok := r.factories[pluginID]
	r.mu.RUnlock()

	if !ok {
		return &Capabilities{}, nil
	}

	caps, err := f()
	if err != nil {
		return nil, fmt.Errorf("capability factory for %s failed: %w", pluginID, err)
	}
	if caps == nil {
		caps = &Capabilities{}
	}
	return caps, nil
}

// ProceduresFor makes the registry a procedure.Rehydrator: documents
// produced by a plugin's procedures can be turned back into live
// instances through the same factory that produced them.
func (r *FactoryRegistry) ProceduresFor(pluginID string) ([]procedure.Procedure, error) {
	caps, err := r.Resolve(pluginID)
	if err != nil {
		return nil, err
	}

	procs := caps.Procedures
	for _, p := range procs {
		stampProcedure(p, pluginID)
	}
	return procs, nil
}

// stampProcedure records the owning plugin on a procedure built by a
// factory that did not set it.
func stampProcedure(p procedure.Procedure, pluginID string) {
	switch t := p.(type) {
	case *procedure.Tool:
		if t.Plugin == "" {
			t.Plugin = pluginID
		}
	case *procedure.Form:
		if t.Plugin == "" {
			t.Plugin = pluginID
		}
	case *procedure.RemoteClient:
		if t.Plugin == "" {
			t.Plugin = pluginID
		}
	}
}
