package procedure

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// hostImpl identifies this host to MCP servers.
var hostImpl = &mcp.Implementation{Name: "grimalkin", Version: "0.1.0"}

// ServerSpec describes how to reach an MCP server over stdio.
type ServerSpec struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
}

// RemoteClient is a procedure backed by a single tool of an MCP
// server. Each invocation spawns the server, calls the remote tool and
// tears the session down again; session pooling belongs to the
// reasoning layer if it ever needs it.
type RemoteClient struct {
	Meta
	Server     ServerSpec
	RemoteTool string
}

func (r *RemoteClient) Kind() Kind { return KindRemoteClient }

func (r *RemoteClient) Invoke(ctx context.Context, args map[string]any) (any, error) {
	session, err := connect(ctx, r.Server)
	if err != nil {
		return nil, fmt.Errorf("connecting to MCP server for %s: %w", r.ProcName, err)
	}
	defer session.Close()

	result, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      r.RemoteTool,
		Arguments: args,
	})
	if err != nil {
		return nil, fmt.Errorf("calling remote tool %s: %w", r.RemoteTool, err)
	}

	text := flattenContent(result.Content)
	if result.IsError {
		return nil, fmt.Errorf("remote tool %s failed: %s", r.RemoteTool, text)
	}
	return text, nil
}

func (r *RemoteClient) Documents() []Document {
	return r.documents(KindRemoteClient, map[string]any{
		"command":     r.Server.Command,
		"args":        r.Server.Args,
		"remote_tool": r.RemoteTool,
	})
}

// DiscoverRemote lists the tools of an MCP server and wraps each one
// as a RemoteClient procedure owned by the given plugin.
func DiscoverRemote(ctx context.Context, pluginID string, spec ServerSpec) ([]Procedure, error) {
	session, err := connect(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("connecting to MCP server %s: %w", spec.Command, err)
	}
	defer session.Close()

	listed, err := session.ListTools(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("listing tools of MCP server %s: %w", spec.Command, err)
	}

	procs := make([]Procedure, 0, len(listed.Tools))
	for _, tool := range listed.Tools {
		procs = append(procs, &RemoteClient{
			Meta: Meta{
				ProcName: NormalizeName(tool.Name),
				ProcDesc: tool.Description,
				Input:    schemaToMap(tool.InputSchema),
				Output:   schemaToMap(tool.OutputSchema),
				Plugin:   pluginID,
			},
			Server:     spec,
			RemoteTool: tool.Name,
		})
	}
	return procs, nil
}

func connect(ctx context.Context, spec ServerSpec) (*mcp.ClientSession, error) {
	client := mcp.NewClient(hostImpl, nil)
	cmd := exec.CommandContext(ctx, spec.Command, spec.Args...)
	return client.Connect(ctx, &mcp.CommandTransport{Command: cmd}, nil)
}

func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return nil
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

func flattenContent(content []mcp.Content) string {
	var parts []string
	for _, c := range content {
		if tc, ok := c.(*mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}
