package plugin

import (
	"fmt"
	"strings"
)

// DiscoveryError marks a folder that could not be loaded as a plugin.
type DiscoveryError struct {
	Path   string
	Reason string
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("cannot create plugin from %s: %s", e.Path, e.Reason)
}

// DependencyError refuses an install or uninstall over the declared
// dependency graph: Missing names dependencies absent at install
// time, Dependents names installed plugins still depending on the one
// being removed.
type DependencyError struct {
	PluginID   string
	Missing    []string
	Dependents []string
}

func (e *DependencyError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("plugin %s requires missing plugins: %s",
			e.PluginID, strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("plugin %s is required by installed plugins: %s",
		e.PluginID, strings.Join(e.Dependents, ", "))
}

// ActivationError wraps any failure while bringing a plugin up for an
// agent.
type ActivationError struct {
	PluginID string
	Err      error
}

func (e *ActivationError) Error() string {
	return fmt.Sprintf("failed to activate plugin %s: %v", e.PluginID, e.Err)
}

func (e *ActivationError) Unwrap() error { return e.Err }
