package hook

import (
	"fmt"

	"github.com/rs/zerolog"
)

// NotRegisteredError reports a pipeline name no active plugin declares.
// Executing an unknown pipeline is a configuration error, distinct from
// a pipeline whose hooks all pass the seed through unchanged.
type NotRegisteredError struct {
	Name string
}

func (e *NotRegisteredError) Error() string {
	return fmt.Sprintf("hook %s not declared by any active plugin", e.Name)
}

// Pipeline executes named hook chains against a fixed snapshot of the
// active hooks. It is a read-only view: rebuilding chains on plugin
// toggles is the owning manager's job.
type Pipeline struct {
	logger zerolog.Logger
	chains map[string][]Hook
}

// NewPipeline wraps pre-sorted chains for execution.
func NewPipeline(logger zerolog.Logger, chains map[string][]Hook) *Pipeline {
	return &Pipeline{
		logger: logger.With().Str("component", "hook-pipeline").Logger(),
		chains: chains,
	}
}

// Has reports whether any active plugin declares the named hook.
func (p *Pipeline) Has(name string) bool {
	_, ok := p.chains[name]
	return ok
}

// Execute folds seed through the named chain, strictly sequentially and
// in priority order. Each hook receives its own clone of the current
// value; a nil return keeps the previous value. A hook that fails or
// panics is logged with its owning plugin id and skipped, and the fold
// continues with the last good value, so one misbehaving plugin cannot
// corrupt the pipeline for the caller or for hooks that already ran.
func (p *Pipeline) Execute(name string, seed any, caller any) (any, error) {
	chain, ok := p.chains[name]
	if !ok {
		return nil, &NotRegisteredError{Name: name}
	}

	acc := Clone(seed)
	for _, h := range chain {
		p.logger.Debug().
			Str("hook", name).
			Str("plugin", h.PluginID).
			Float64("priority", h.Priority).
			Msg("Executing hook")

		out, err := p.runOne(h, Clone(acc), caller)
		if err != nil {
			p.logger.Error().
				Err(err).
				Str("hook", name).
				Str("plugin", h.PluginID).
				Msg("Hook failed, continuing with last good value")
			continue
		}
		if out != nil {
			acc = out
		}
	}

	return acc, nil
}

// runOne invokes a single hook, converting panics into errors so the
// fold can keep going.
func (p *Pipeline) runOne(h Hook, value any, caller any) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("hook %s panicked: %v", h.Name, r)
		}
	}()
	return h.Fn(value, caller)
}
