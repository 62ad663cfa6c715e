package procedure

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "get_the_time", NormalizeName("Get The Time"))
	assert.Equal(t, "weather", NormalizeName("  Weather  "))
	assert.Equal(t, "a_b_c", NormalizeName("a-b/c"))
}

func TestTool_Invoke(t *testing.T) {
	t.Run("runs the bound function", func(t *testing.T) {
		tool := NewTool("echo", "echoes input", func(ctx context.Context, args map[string]any) (any, error) {
			return args["msg"], nil
		})
		tool.Plugin = "demo"

		out, err := tool.Invoke(context.Background(), map[string]any{"msg": "hi"})
		require.NoError(t, err)
		assert.Equal(t, "hi", out)
	})

	t.Run("fails without a bound function", func(t *testing.T) {
		tool := &Tool{Meta: Meta{ProcName: "orphan"}}
		_, err := tool.Invoke(context.Background(), nil)
		assert.Error(t, err)
	})
}

func TestForm_Invoke(t *testing.T) {
	schema := map[string]any{
		"type":     "object",
		"required": []any{"city"},
		"properties": map[string]any{
			"city": map[string]any{"type": "string"},
		},
	}

	form := NewForm("book_hotel", "books a hotel", schema, func(ctx context.Context, values map[string]any) (any, error) {
		return "booked in " + values["city"].(string), nil
	})
	form.Plugin = "travel"

	t.Run("valid values are submitted", func(t *testing.T) {
		out, err := form.Invoke(context.Background(), map[string]any{"city": "Lisbon"})
		require.NoError(t, err)
		assert.Equal(t, "booked in Lisbon", out)
	})

	t.Run("invalid values are rejected before submit", func(t *testing.T) {
		_, err := form.Invoke(context.Background(), map[string]any{"nights": 3})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid")
	})
}

func TestDocuments(t *testing.T) {
	tool := NewTool("clock", "tells the current time", func(ctx context.Context, args map[string]any) (any, error) {
		return nil, nil
	}).WithExamples("what time is it", "current time please")
	tool.Plugin = "core"

	docs := tool.Documents()
	require.Len(t, docs, 3)

	assert.Equal(t, "clock: tells the current time", docs[0].PageContent)
	assert.Equal(t, TriggerDescription, docs[0].Trigger)
	assert.Equal(t, TriggerExample, docs[1].Trigger)
	for _, doc := range docs {
		assert.Equal(t, "core", doc.Metadata.PluginID)
		assert.Equal(t, KindTool, doc.Metadata.Kind)
		assert.Equal(t, "clock", doc.Metadata.Source)
	}
}

func TestRemoteClient_Documents(t *testing.T) {
	rc := &RemoteClient{
		Meta: Meta{
			ProcName: "search_docs",
			ProcDesc: "searches documentation",
			Plugin:   "docs",
		},
		Server:     ServerSpec{Command: "docs-server", Args: []string{"--stdio"}},
		RemoteTool: "search",
	}

	docs := rc.Documents()
	require.Len(t, docs, 1)
	assert.Equal(t, KindRemoteClient, docs[0].Metadata.Kind)
	assert.Equal(t, "docs-server", docs[0].Metadata.Params["command"])
	assert.Equal(t, "search", docs[0].Metadata.Params["remote_tool"])
}

type staticRehydrator struct {
	procs map[string][]Procedure
	err   error
}

func (s *staticRehydrator) ProceduresFor(pluginID string) ([]Procedure, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.procs[pluginID], nil
}

func TestReconstruct(t *testing.T) {
	tool := NewTool("clock", "tells the time", func(ctx context.Context, args map[string]any) (any, error) {
		return "12:00", nil
	})
	tool.Plugin = "core"

	src := &staticRehydrator{procs: map[string][]Procedure{"core": {tool}}}

	t.Run("rebuilds a live procedure from a document", func(t *testing.T) {
		doc := tool.Documents()[0]
		rebuilt, err := Reconstruct(doc, src)
		require.NoError(t, err)

		out, err := rebuilt.Invoke(context.Background(), nil)
		require.NoError(t, err)
		assert.Equal(t, "12:00", out)
	})

	t.Run("fails when the procedure is gone", func(t *testing.T) {
		doc := Document{Metadata: DocumentMetadata{PluginID: "core", Kind: KindTool, Source: "vanished"}}
		_, err := Reconstruct(doc, src)
		assert.Error(t, err)
	})

	t.Run("propagates rehydrator failures", func(t *testing.T) {
		bad := &staticRehydrator{err: errors.New("factory gone")}
		doc := tool.Documents()[0]
		_, err := Reconstruct(doc, bad)
		assert.Error(t, err)
	})
}

func TestRegistry(t *testing.T) {
	mkTool := func(name, plugin string) *Tool {
		tool := NewTool(name, "desc "+name, nil)
		tool.Plugin = plugin
		return tool
	}

	t.Run("indexes by name", func(t *testing.T) {
		reg := NewRegistry([]Procedure{mkTool("a", "p1"), mkTool("b", "p2")})
		assert.Equal(t, 2, reg.Len())
		assert.Equal(t, []string{"a", "b"}, reg.Names())

		got, ok := reg.Get("a")
		require.True(t, ok)
		assert.Equal(t, "p1", got.PluginID())
	})

	t.Run("name collisions resolve to the lexically smaller plugin", func(t *testing.T) {
		reg := NewRegistry([]Procedure{mkTool("dup", "zeta"), mkTool("dup", "alpha")})
		got, ok := reg.Get("dup")
		require.True(t, ok)
		assert.Equal(t, "alpha", got.PluginID())
	})

	t.Run("documents cover every procedure", func(t *testing.T) {
		reg := NewRegistry([]Procedure{
			mkTool("a", "p1").WithExamples("use a"),
			mkTool("b", "p2"),
		})
		docs := reg.Documents()
		assert.Len(t, docs, 3)
	})
}
