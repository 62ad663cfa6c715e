// Package manager hosts the two plugin-manager variants: the system
// manager, sole owner of the plugins folder, and one tenant manager
// per agent. Both expose the same read path, a lock-free snapshot of
// {hooks, procedures, endpoints} rebuilt off to the side and swapped
// atomically, so in-flight hook executions always see one consistent
// view while activations and sync replays mutate the active set.
package manager

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/aveline/grimalkin/pkg/endpoint"
	"github.com/aveline/grimalkin/pkg/hook"
	"github.com/aveline/grimalkin/pkg/plugin"
	"github.com/aveline/grimalkin/pkg/procedure"
)

// DefaultBasePluginID is the mandatory plugin every agent always runs.
const DefaultBasePluginID = "core"

// ErrBasePluginProtected refuses deactivation of the base plugin.
var ErrBasePluginProtected = errors.New("the base plugin cannot be deactivated")

// NotInstalledError names a plugin id absent from the installed set.
type NotInstalledError struct {
	PluginID string
}

func (e *NotInstalledError) Error() string {
	return fmt.Sprintf("plugin %s is not installed", e.PluginID)
}

// Snapshot is one immutable view of everything the active plugins
// contribute for a manager's agent key.
type Snapshot struct {
	Pipeline   *hook.Pipeline
	Procedures *procedure.Registry
	Endpoints  []endpoint.Endpoint
}

// base carries the state and read path shared by both manager
// variants. agentKey is the agent identity the manager activates
// plugins under; the system manager uses a reserved key.
type base struct {
	agentKey string
	logger   zerolog.Logger

	mu      sync.Mutex
	plugins map[string]*plugin.Plugin

	snapshot atomic.Pointer[Snapshot]
}

func (b *base) init(agentKey string, logger zerolog.Logger) {
	b.agentKey = agentKey
	b.logger = logger
	b.plugins = make(map[string]*plugin.Plugin)
	b.snapshot.Store(emptySnapshot(logger))
}

func emptySnapshot(logger zerolog.Logger) *Snapshot {
	return &Snapshot{
		Pipeline:   hook.NewPipeline(logger, map[string][]hook.Hook{}),
		Procedures: procedure.NewRegistry(nil),
	}
}

// Plugin returns one plugin from the manager's set.
func (b *base) Plugin(id string) (*plugin.Plugin, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.plugins[id]
	return p, ok
}

// PluginIDs lists the manager's plugin set in sorted order.
func (b *base) PluginIDs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	ids := make([]string, 0, len(b.plugins))
	for id := range b.plugins {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ActivePluginIDs lists the plugins active under this manager's agent
// key, in sorted order.
func (b *base) ActivePluginIDs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	var ids []string
	for id, p := range b.plugins {
		if p.ActiveFor(b.agentKey) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Current returns the manager's live snapshot.
func (b *base) Current() *Snapshot {
	return b.snapshot.Load()
}

// ExecuteHook folds seed through the named hook chain of the current
// snapshot. Concurrent toggles and sync replays never affect an
// execution already in flight.
func (b *base) ExecuteHook(name string, seed any, caller any) (any, error) {
	return b.snapshot.Load().Execute(name, seed, caller)
}

// HasHook reports whether any active plugin declares the named hook.
func (b *base) HasHook(name string) bool {
	return b.snapshot.Load().Pipeline.Has(name)
}

// Procedures returns the procedure registry of the current snapshot.
func (b *base) Procedures() *procedure.Registry {
	return b.snapshot.Load().Procedures
}

// Endpoints returns the endpoints of the current snapshot.
func (b *base) Endpoints() []endpoint.Endpoint {
	return b.snapshot.Load().Endpoints
}

// Execute runs the named chain from a Snapshot.
func (s *Snapshot) Execute(name string, seed any, caller any) (any, error) {
	return s.Pipeline.Execute(name, seed, caller)
}

// refreshSnapshot rebuilds the snapshot from the plugins active for
// this manager's agent key and publishes it with one pointer swap.
// Callers must hold b.mu.
func (b *base) refreshSnapshot() {
	chains := make(map[string][]hook.Hook)
	var procs []procedure.Procedure
	var endpoints []endpoint.Endpoint

	ids := make([]string, 0, len(b.plugins))
	for id := range b.plugins {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		p := b.plugins[id]
		if !p.ActiveFor(b.agentKey) {
			continue
		}
		for _, h := range p.Hooks() {
			chains[h.Name] = append(chains[h.Name], h)
		}
		procs = append(procs, p.Procedures()...)
		endpoints = append(endpoints, p.Endpoints()...)
	}

	for name := range chains {
		hook.Sort(chains[name])
	}

	b.snapshot.Store(&Snapshot{
		Pipeline:   hook.NewPipeline(b.logger, chains),
		Procedures: procedure.NewRegistry(procs),
		Endpoints:  endpoints,
	})
}
