package procedure

import "fmt"

// Document triggers: what part of the procedure the record was
// rendered from.
const (
	TriggerDescription = "description"
	TriggerExample     = "example"
)

// DocumentMetadata tags a record with its owner and the constructor
// metadata needed to rebuild the procedure.
type DocumentMetadata struct {
	PluginID string         `json:"plugin_id"`
	Kind     Kind           `json:"kind"`
	Source   string         `json:"source"`
	Params   map[string]any `json:"params,omitempty"`
}

// Document is one retrievable record describing a procedure. The
// external memory engine indexes PageContent; Metadata rides along so
// the procedure can be rehydrated after a similarity hit.
type Document struct {
	PageContent string           `json:"page_content"`
	Trigger     string           `json:"trigger"`
	Metadata    DocumentMetadata `json:"metadata"`
}

// Rehydrator produces fresh procedure instances for a plugin. The
// plugin capability factories implement it, which is what lets a
// document be turned back into a live procedure without the registry
// keeping a reference.
type Rehydrator interface {
	ProceduresFor(pluginID string) ([]Procedure, error)
}

// Reconstruct rebuilds the procedure a document was rendered from.
func Reconstruct(doc Document, src Rehydrator) (Procedure, error) {
	procs, err := src.ProceduresFor(doc.Metadata.PluginID)
	if err != nil {
		return nil, fmt.Errorf("rehydrating plugin %s: %w", doc.Metadata.PluginID, err)
	}

	for _, proc := range procs {
		if proc.Name() == doc.Metadata.Source && proc.Kind() == doc.Metadata.Kind {
			return proc, nil
		}
	}

	return nil, fmt.Errorf("procedure %s (%s) no longer provided by plugin %s",
		doc.Metadata.Source, doc.Metadata.Kind, doc.Metadata.PluginID)
}
