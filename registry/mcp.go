package registry

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/moisson/kit"
)

// RegisterMCP registers run-history tools on an MCP server. The tools
// are read-only: runs are started from the CLI, agents inspect them.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	mw := kit.Chain(s.logCalls())
	s.registerListRunsTool(srv, mw)
	s.registerRunEntriesTool(srv, mw)
	s.registerRunEventsTool(srv, mw)
	s.registerRunSnapshotsTool(srv, mw)
}

// logCalls surfaces tool failures in the service log; the MCP client
// only sees the error string.
func (s *Service) logCalls() kit.Middleware {
	return func(next kit.Endpoint) kit.Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			resp, err := next(ctx, req)
			if err != nil {
				s.log.Warn("registry: mcp tool failed",
					"transport", kit.GetTransport(ctx), "error", err)
			}
			return resp, err
		}
	}
}

func enrichMCP(ctx context.Context) context.Context {
	return kit.WithTransport(ctx, "mcp_stdio")
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	sch := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		sch["required"] = required
	}
	return sch
}

// --- list runs ---

type listRunsReq struct {
	Limit int `json:"limit"`
}

func (s *Service) registerListRunsTool(srv *mcp.Server, mw kit.Middleware) {
	tool := &mcp.Tool{
		Name:        "moisson_list_runs",
		Description: "List retrieval runs, newest first, with status and counters.",
		InputSchema: inputSchema(map[string]any{
			"limit": map[string]any{"type": "integer", "description": "Max runs to return (default 50)"},
		}, nil),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*listRunsReq)
		return s.store.ListRuns(ctx, r.Limit)
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r listRunsReq
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
				return nil, err
			}
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, mw(endpoint), decode)
}

// --- run entries ---

type runReq struct {
	RunID string `json:"run_id"`
}

func decodeRunReq(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
	var r runReq
	if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
		return nil, err
	}
	return &kit.MCPDecodeResult{Request: &r, EnrichCtx: enrichMCP}, nil
}

func (s *Service) registerRunEntriesTool(srv *mcp.Server, mw kit.Middleware) {
	tool := &mcp.Tool{
		Name:        "moisson_run_entries",
		Description: "List the manifest entries (saved files) of one run.",
		InputSchema: inputSchema(map[string]any{
			"run_id": map[string]any{"type": "string", "description": "Run id"},
		}, []string{"run_id"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*runReq)
		return s.store.RunEntries(ctx, r.RunID)
	}

	kit.RegisterMCPTool(srv, tool, mw(endpoint), decodeRunReq)
}

// --- run events ---

func (s *Service) registerRunEventsTool(srv *mcp.Server, mw kit.Middleware) {
	tool := &mcp.Tool{
		Name:        "moisson_run_events",
		Description: "List the per-record outcomes and incidents of one run.",
		InputSchema: inputSchema(map[string]any{
			"run_id": map[string]any{"type": "string", "description": "Run id"},
		}, []string{"run_id"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*runReq)
		return s.store.RunEvents(ctx, r.RunID)
	}

	kit.RegisterMCPTool(srv, tool, mw(endpoint), decodeRunReq)
}

// --- run snapshots ---

func (s *Service) registerRunSnapshotsTool(srv *mcp.Server, mw kit.Middleware) {
	tool := &mcp.Tool{
		Name:        "moisson_run_snapshots",
		Description: "List the evidence snapshots (detail pages as markdown) of one run.",
		InputSchema: inputSchema(map[string]any{
			"run_id": map[string]any{"type": "string", "description": "Run id"},
		}, []string{"run_id"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*runReq)
		return s.store.RunSnapshots(ctx, r.RunID)
	}

	kit.RegisterMCPTool(srv, tool, mw(endpoint), decodeRunReq)
}
