package registry

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

var testMCPImpl = &mcp.Implementation{Name: "moisson-test", Version: "0.1.0"}

func mcpSession(t *testing.T, svc *Service) *mcp.ClientSession {
	t.Helper()
	srv := mcp.NewServer(testMCPImpl, nil)
	svc.RegisterMCP(srv)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.Run(ctx, serverT) }()

	client := mcp.NewClient(testMCPImpl, nil)
	session, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func mcpCallTool(t *testing.T, session *mcp.ClientSession, name string, args any) string {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	if err := result.GetError(); err != nil {
		t.Fatalf("CallTool(%s) tool error: %v", name, err)
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("CallTool(%s): unexpected content type %T", name, result.Content[0])
	}
	return tc.Text
}

func TestMCP_RunHistory(t *testing.T) {
	// WHAT: A finished run is inspectable over MCP: runs, entries, events,
	// snapshots.
	// WHY: Agents read retrieval history without touching the filesystem.
	fake := newFakeSession(t)
	fake.attachments["PRSM-100"] = 1
	fake.noResults["PRSM-300"] = true

	svc, _ := newTestService(t, fake)
	report, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	session := mcpSession(t, svc)

	out := mcpCallTool(t, session, "moisson_list_runs", map[string]any{"limit": 10})
	var runs []struct {
		ID     string `json:"ID"`
		Status string `json:"Status"`
	}
	if err := json.Unmarshal([]byte(out), &runs); err != nil {
		t.Fatalf("unmarshal runs: %v\n%s", err, out)
	}
	if len(runs) != 1 || runs[0].ID != report.RunID || runs[0].Status != RunCompleted {
		t.Errorf("runs = %+v", runs)
	}

	out = mcpCallTool(t, session, "moisson_run_entries", map[string]any{"run_id": report.RunID})
	if !strings.Contains(out, "PRSM-100_2024-03-15_audit_1.pdf") {
		t.Errorf("entries = %s", out)
	}

	out = mcpCallTool(t, session, "moisson_run_events", map[string]any{"run_id": report.RunID})
	if !strings.Contains(out, StatusNoResults) {
		t.Errorf("events = %s", out)
	}

	out = mcpCallTool(t, session, "moisson_run_snapshots", map[string]any{"run_id": report.RunID})
	if !strings.Contains(out, "PRSM-100") {
		t.Errorf("snapshots = %s", out)
	}
}
