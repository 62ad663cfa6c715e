package procedure

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

var toolNameSanitizer = regexp.MustCompile(`[^a-z0-9_]+`)

// NormalizeName lowercases a procedure name and replaces anything that
// is not alphanumeric with underscores, matching the slug format used
// for plugin ids.
func NormalizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = toolNameSanitizer.ReplaceAllString(name, "_")
	return strings.Trim(name, "_")
}

// ToolFunc is the callable behind a Tool.
type ToolFunc func(ctx context.Context, args map[string]any) (any, error)

// Tool is a directly invocable function exposed to the reasoning
// layer.
type Tool struct {
	Meta
	Fn ToolFunc
}

// NewTool builds a tool with a normalized name.
func NewTool(name, description string, fn ToolFunc) *Tool {
	return &Tool{
		Meta: Meta{
			ProcName: NormalizeName(name),
			ProcDesc: description,
		},
		Fn: fn,
	}
}

// WithExamples attaches retrieval examples.
func (t *Tool) WithExamples(examples ...string) *Tool {
	t.ProcExamples = examples
	return t
}

// WithSchemas attaches input/output JSON schemas.
func (t *Tool) WithSchemas(input, output map[string]any) *Tool {
	t.Input = input
	t.Output = output
	return t
}

func (t *Tool) Kind() Kind { return KindTool }

func (t *Tool) Invoke(ctx context.Context, args map[string]any) (any, error) {
	if t.Fn == nil {
		return nil, fmt.Errorf("tool %s has no function bound", t.ProcName)
	}
	return t.Fn(ctx, args)
}

func (t *Tool) Documents() []Document {
	return t.documents(KindTool, nil)
}
