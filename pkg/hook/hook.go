package hook

import "sort"

// Func is a pipeline callback contributed by a plugin. It receives a
// private clone of the accumulated value plus the caller object, and
// returns the value for the next hook. Returning nil passes the
// previous value through unchanged.
type Func func(value any, caller any) (any, error)

// Hook is a named, prioritized callback owned by exactly one plugin.
// It exists only while its owning plugin is active.
type Hook struct {
	Name     string
	Priority float64
	PluginID string
	Fn       Func
}

// Sort orders a chain for execution: descending priority, ties broken
// by ascending owning plugin id. The sort is stable, so hooks declared
// by the same plugin under the same priority keep declaration order.
func Sort(hooks []Hook) {
	sort.SliceStable(hooks, func(i, j int) bool {
		if hooks[i].Priority != hooks[j].Priority {
			return hooks[i].Priority > hooks[j].Priority
		}
		return hooks[i].PluginID < hooks[j].PluginID
	})
}
