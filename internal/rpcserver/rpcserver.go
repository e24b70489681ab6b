// Package rpcserver exposes the Gateway's eight tools over stdio JSON-RPC
// using the Model Context Protocol, so any MCP-speaking client can drive the
// conversation state core as a subprocess.
package rpcserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/convstate/core/internal/gateway"

	. "github.com/convstate/core/internal/logging"
)

// toolSpec pairs one tool's MCP registration metadata with its name, so the
// eight registrations below are a flat, readable table rather than eight
// near-identical AddTool calls.
type toolSpec struct {
	name        string
	description string
}

var toolSpecs = []toolSpec{
	{"detect_storage", "Enumerate candidate storage roots and report which contain task data."},
	{"get_storage_stats", "Report aggregate conversation counts and on-disk size across confirmed storage roots."},
	{"list_conversations", "List cached conversation skeletons, optionally filtered by workspace."},
	{"get_task_tree", "Return one task's reconstructed sub-task tree."},
	{"view_task_details", "Return the full cached skeleton for one task."},
	{"rebuild_skeleton_cache", "Rebuild the skeleton cache in the background: differential by default, full with force, optionally scoped to a workspace."},
	{"search_tasks_semantic", "Run a k-NN semantic search over indexed task content."},
	{"index_task_semantic", "Schedule one task for chunk/embed/upsert indexing in the background."},
}

// Serve registers every tool against gw and blocks serving stdio JSON-RPC
// until the transport closes or ctx is canceled.
func Serve(ctx context.Context, gw *gateway.Gateway, name, version string) error {
	server := mcp.NewServer(&mcp.Implementation{Name: name, Version: version}, nil)

	for _, spec := range toolSpecs {
		spec := spec
		mcp.AddTool(server, &mcp.Tool{Name: spec.name, Description: spec.description}, toolHandler(gw, spec.name))
	}

	L_info("serving MCP tools over stdio", "tools", len(toolSpecs))
	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("mcp stdio transport: %w", err)
	}
	return nil
}

// toolHandler adapts one gateway.Dispatch call into the shape mcp.AddTool
// expects: raw, untyped params in, a CallToolResult plus typed payload out.
// Every tool's input shape differs, so the params are passed through as a
// generic map rather than eight hand-written input structs duplicating the
// ones gateway.go already declares.
func toolHandler(gw *gateway.Gateway, tool string) mcp.ToolHandlerFor[map[string]any, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input map[string]any) (*mcp.CallToolResult, any, error) {
		raw, err := json.Marshal(input)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal tool params: %w", err)
		}

		result := gw.Dispatch(ctx, tool, raw)

		payload, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return nil, nil, fmt.Errorf("marshal tool result: %w", err)
		}

		callResult := &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(payload)}},
			IsError: !result.OK,
		}
		return callResult, result, nil
	}
}
