package procedure

import "sort"

// Registry is a flat, name-keyed view of the procedures exposed by a
// tenant's active plugins. It is rebuilt from scratch whenever the
// active-plugin set changes and exposed read-only to the reasoning
// layer, so no locking is needed on the read path.
type Registry struct {
	byName map[string]Procedure
}

// NewRegistry indexes procedures by name. On a name collision the
// procedure of the lexically smaller plugin id wins, mirroring the
// hook tie-break.
func NewRegistry(procs []Procedure) *Registry {
	sorted := make([]Procedure, len(procs))
	copy(sorted, procs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].PluginID() < sorted[j].PluginID()
	})

	byName := make(map[string]Procedure, len(sorted))
	for _, p := range sorted {
		if _, exists := byName[p.Name()]; !exists {
			byName[p.Name()] = p
		}
	}
	return &Registry{byName: byName}
}

// Get returns the procedure registered under name.
func (r *Registry) Get(name string) (Procedure, bool) {
	p, ok := r.byName[name]
	return p, ok
}

// Names returns all registered names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns the registered procedures in name order.
func (r *Registry) All() []Procedure {
	procs := make([]Procedure, 0, len(r.byName))
	for _, name := range r.Names() {
		procs = append(procs, r.byName[name])
	}
	return procs
}

// Documents renders every registered procedure as retrievable records,
// ready for the external memory engine to index.
func (r *Registry) Documents() []Document {
	var docs []Document
	for _, p := range r.All() {
		docs = append(docs, p.Documents()...)
	}
	return docs
}

// Len returns the number of registered procedures.
func (r *Registry) Len() int {
	return len(r.byName)
}
