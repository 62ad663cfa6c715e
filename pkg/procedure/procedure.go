// Package procedure defines the invocable capabilities plugins expose
// to the external reasoning layer: tools, forms, and remote-protocol
// clients. Every procedure can be serialized to retrievable documents
// and rebuilt from one later, so the reasoning layer can find it via
// similarity search without holding a live reference.
package procedure

import (
	"context"
	"fmt"
)

// Kind discriminates the closed set of procedure variants.
type Kind string

const (
	KindTool         Kind = "tool"
	KindForm         Kind = "form"
	KindRemoteClient Kind = "remote_client"
)

// Procedure is the common contract implemented by Tool, Form and
// RemoteClient. A procedure is owned by exactly one plugin and exists
// in a tenant's registry only while that plugin is active.
type Procedure interface {
	Name() string
	Description() string
	Examples() []string
	InputSchema() map[string]any
	OutputSchema() map[string]any
	PluginID() string
	Kind() Kind

	// Invoke runs the procedure. Long-running work belongs here, never
	// in a hook.
	Invoke(ctx context.Context, args map[string]any) (any, error)

	// Documents renders the procedure as retrievable records, one per
	// description and example, tagged with enough metadata to rebuild
	// the procedure via Reconstruct.
	Documents() []Document
}

// Meta carries the fields shared by all variants.
type Meta struct {
	ProcName     string
	ProcDesc     string
	ProcExamples []string
	Input        map[string]any
	Output       map[string]any
	Plugin       string
}

func (m Meta) Name() string                 { return m.ProcName }
func (m Meta) Description() string          { return m.ProcDesc }
func (m Meta) Examples() []string           { return m.ProcExamples }
func (m Meta) InputSchema() map[string]any  { return m.Input }
func (m Meta) OutputSchema() map[string]any { return m.Output }
func (m Meta) PluginID() string             { return m.Plugin }

// documents builds the shared document set for a variant.
func (m Meta) documents(kind Kind, params map[string]any) []Document {
	meta := DocumentMetadata{
		PluginID: m.Plugin,
		Kind:     kind,
		Source:   m.ProcName,
		Params:   params,
	}

	docs := []Document{{
		PageContent: fmt.Sprintf("%s: %s", m.ProcName, m.ProcDesc),
		Trigger:     TriggerDescription,
		Metadata:    meta,
	}}
	for _, example := range m.ProcExamples {
		docs = append(docs, Document{
			PageContent: example,
			Trigger:     TriggerExample,
			Metadata:    meta,
		})
	}
	return docs
}
