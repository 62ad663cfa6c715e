// Package endpoint describes the HTTP routes a plugin contributes and
// the attach points used to hand them to the external transport layer.
// The plugin host never serves HTTP itself.
package endpoint

import "net/http"

// Endpoint is a route declared by a plugin. It is activated against
// the external transport when the owning plugin activates, and removed
// when it deactivates; the hook pipeline never executes it directly.
type Endpoint struct {
	Prefix   string
	Path     string
	Methods  []string
	Handler  http.Handler
	PluginID string
}

// FullPath joins prefix and path the way the transport mounts them.
func (e Endpoint) FullPath() string {
	return e.Prefix + e.Path
}

// Transport is the external HTTP/WebSocket layer the host attaches
// plugin routes to. Implementations live outside this module; tests
// use a recording fake.
type Transport interface {
	ActivateEndpoint(e Endpoint) error
	DeactivateEndpoint(e Endpoint) error
}
