// Package coreplugin is the mandatory base plugin every agent runs.
// It declares an identity hook for each standard pipeline, so every
// documented pipeline name always resolves even when no other plugin
// touches it, plus a couple of built-in tools.
package coreplugin

import (
	"context"
	"fmt"
	"time"

	"github.com/aveline/grimalkin/pkg/hook"
	"github.com/aveline/grimalkin/pkg/plugin"
	"github.com/aveline/grimalkin/pkg/procedure"
)

// PluginID is the base plugin's id. Deactivating it is always refused.
const PluginID = "core"

// Standard pipeline names. Plugins hook into these to shape the
// request/response flow around the external reasoning layer.
const (
	HookBeforeBootstrap = "before_bootstrap"
	HookAfterBootstrap  = "after_bootstrap"
	HookBeforeRead      = "before_read_message"
	HookBeforeRecall    = "before_recall_memories"
	HookAfterRecall     = "after_recall_memories"
	HookRecallQuery     = "recall_query"
	HookFastReply       = "fast_reply"
	HookPromptPrefix    = "prompt_prefix"
	HookPromptSuffix    = "prompt_suffix"
	HookBeforeSend      = "before_send_message"
)

// PipelineNames lists every standard pipeline the base plugin serves.
func PipelineNames() []string {
	return []string{
		HookBeforeBootstrap,
		HookAfterBootstrap,
		HookBeforeRead,
		HookBeforeRecall,
		HookAfterRecall,
		HookRecallQuery,
		HookFastReply,
		HookPromptPrefix,
		HookPromptSuffix,
		HookBeforeSend,
	}
}

// Register binds the base plugin's capability factory.
func Register(factories *plugin.FactoryRegistry) {
	factories.Register(PluginID, Factory)
}

// Factory builds the base plugin's capabilities: one identity hook at
// priority 0 per standard pipeline, and the built-in tools.
func Factory() (*plugin.Capabilities, error) {
	hooks := make([]hook.Hook, 0, len(PipelineNames()))
	for _, name := range PipelineNames() {
		hooks = append(hooks, hook.Hook{
			Name:     name,
			Priority: 0,
			Fn:       identity,
		})
	}

	return &plugin.Capabilities{
		Hooks: hooks,
		Procedures: []procedure.Procedure{
			timeTool(),
			pingTool(),
		},
	}, nil
}

// identity passes the pipeline value through unchanged.
func identity(value any, caller any) (any, error) {
	return value, nil
}

func timeTool() procedure.Procedure {
	return procedure.NewTool(
		"get_the_time",
		"Useful to get the current time when asked. Input is always null.",
		func(ctx context.Context, args map[string]any) (any, error) {
			return time.Now().Format(time.RFC3339), nil
		},
	).WithExamples(
		"what time is it",
		"get the time",
	)
}

func pingTool() procedure.Procedure {
	return procedure.NewTool(
		"ping",
		"Replies with pong, useful to check the plugin host is alive.",
		func(ctx context.Context, args map[string]any) (any, error) {
			if msg, ok := args["message"].(string); ok && msg != "" {
				return fmt.Sprintf("pong: %s", msg), nil
			}
			return "pong", nil
		},
	).WithSchemas(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"message": map[string]any{"type": "string"},
		},
	}, nil)
}
