// Package bus propagates plugin install/uninstall events between
// process replicas that share one plugin filesystem and one settings
// store. Delivery is best-effort, at most once: a replica that misses
// an event catches up on its next full discovery.
package bus

import "context"

// Event types published on the plugin events channel.
const (
	EventPluginInstalled   = "plugin_installed"
	EventPluginUninstalled = "plugin_uninstalled"
)

// Payload carries what a sibling replica needs to replay the mutation.
type Payload struct {
	PluginID   string `json:"plugin_id"`
	PluginPath string `json:"plugin_path,omitempty"`
}

// Event is one install/uninstall mutation fanned out to all replicas.
// Source is the identity of the replica that performed the mutation;
// consumers drop events carrying their own id.
type Event struct {
	Type    string  `json:"event_type"`
	Payload Payload `json:"payload"`
	Source  string  `json:"source"`
}

// Handler consumes one event. Errors are the handler's to log; the
// bus never retries.
type Handler func(evt Event)

// Bus is the fan-out message channel between replicas. Publish is
// fire-and-forget from the caller's point of view: a broker error
// must never roll back the local mutation that triggered it.
type Bus interface {
	Publish(ctx context.Context, evt Event) error

	// Subscribe registers a long-lived consumer. The returned cancel
	// function stops delivery.
	Subscribe(ctx context.Context, handler Handler) (func(), error)

	Close() error
}
