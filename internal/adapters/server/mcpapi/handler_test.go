package mcpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/MostafaZeid/my-supabase-app-sub002/internal/adapters/storage/sqlite"
	"github.com/MostafaZeid/my-supabase-app-sub002/internal/app"
	"github.com/MostafaZeid/my-supabase-app-sub002/internal/domain"
	"github.com/mark3labs/mcp-go/mcp"
)

// jsonRPCResponse models minimal JSON-RPC response fields used in MCP adapter tests.
type jsonRPCResponse struct {
	ID     float64        `json:"id"`
	Result map[string]any `json:"result"`
}

// newTestServer starts one MCP server over a real service and in-memory store.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	repo, err := sqlite.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory() error = %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	seq := 0
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc := app.NewService(repo, func() string {
		seq++
		return fmt.Sprintf("id-%03d", seq)
	}, func() time.Time {
		return base.Add(time.Duration(seq) * time.Second)
	}, app.ServiceConfig{})

	handler, err := NewHandler(Config{}, svc)
	if err != nil {
		t.Fatalf("NewHandler() error = %v", err)
	}
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	_, _ = postJSONRPC(t, server.Client(), server.URL, initializeRequest())
	return server
}

// callToolRequest constructs one deterministic tools/call JSON-RPC request payload.
func callToolRequest(id int, toolName string, arguments map[string]any) map[string]any {
	return map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  "tools/call",
		"params": map[string]any{
			"name":      toolName,
			"arguments": arguments,
		},
	}
}

// callTool invokes one tool and returns its result payload.
func callTool(t *testing.T, server *httptest.Server, toolName string, arguments map[string]any) map[string]any {
	t.Helper()
	_, resp := postJSONRPC(t, server.Client(), server.URL, callToolRequest(2, toolName, arguments))
	if resp.Result == nil {
		t.Fatalf("%s returned no result", toolName)
	}
	return resp.Result
}

// decodeStructured re-decodes structuredContent into one typed value.
func decodeStructured[T any](t *testing.T, result map[string]any) T {
	t.Helper()
	if isErr, _ := result["isError"].(bool); isErr {
		t.Fatalf("unexpected tool error: %s", toolResultText(t, result))
	}
	structured, ok := result["structuredContent"]
	if !ok {
		t.Fatalf("structuredContent missing in tool result: %#v", result)
	}
	raw, err := json.Marshal(structured)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	return out
}

// toolResultText decodes the first text entry from one tool-call result payload.
func toolResultText(t *testing.T, result map[string]any) string {
	t.Helper()

	contentRaw, ok := result["content"].([]any)
	if !ok || len(contentRaw) == 0 {
		t.Fatalf("content missing in tool result: %#v", result)
	}
	first, ok := contentRaw[0].(map[string]any)
	if !ok {
		t.Fatalf("first content entry has unexpected type: %#v", contentRaw[0])
	}
	text, ok := first["text"].(string)
	if !ok {
		t.Fatalf("content text missing in tool result: %#v", first)
	}
	return text
}

// postJSONRPC sends one JSON-RPC payload and decodes the response body.
func postJSONRPC(t *testing.T, client *http.Client, url string, payload any) (*http.Response, jsonRPCResponse) {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	var decoded jsonRPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if err := resp.Body.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	return resp, decoded
}

// initializeRequest builds a deterministic MCP initialize request payload.
func initializeRequest() map[string]any {
	return map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "initialize",
		"params": map[string]any{
			"protocolVersion": mcp.LATEST_PROTOCOL_VERSION,
			"clientInfo": map[string]any{
				"name":    "weightmap-test",
				"version": "1.0.0",
			},
		},
	}
}

// callToolResultText decodes the first textual content block from a CallToolResult.
func callToolResultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if result == nil {
		t.Fatalf("result = nil, want non-nil")
	}
	if len(result.Content) == 0 {
		t.Fatalf("result content is empty")
	}
	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content[0] has unexpected type %T", result.Content[0])
	}
	return text.Text
}

// TestHandlerUsesStatelessTransport verifies MCP transport does not issue session ids.
func TestHandlerUsesStatelessTransport(t *testing.T) {
	server := newTestServer(t)

	resp, decoded := postJSONRPC(t, server.Client(), server.URL, initializeRequest())
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if decoded.ID != 1 {
		t.Fatalf("id = %v, want 1", decoded.ID)
	}
	if got := resp.Header.Get("Mcp-Session-Id"); got != "" {
		t.Fatalf("Mcp-Session-Id header = %q, want empty (stateless transport)", got)
	}
}

// TestHandlerRegistersTools verifies tool discovery lists the progress surface.
func TestHandlerRegistersTools(t *testing.T) {
	server := newTestServer(t)
	_, toolsResp := postJSONRPC(t, server.Client(), server.URL, map[string]any{
		"jsonrpc": "2.0",
		"id":      2,
		"method":  "tools/list",
	})

	toolsRaw, ok := toolsResp.Result["tools"].([]any)
	if !ok {
		t.Fatalf("tools list payload missing tools: %#v", toolsResp.Result)
	}
	toolNames := make([]string, 0, len(toolsRaw))
	for _, toolRaw := range toolsRaw {
		toolMap, ok := toolRaw.(map[string]any)
		if !ok {
			continue
		}
		name, _ := toolMap["name"].(string)
		toolNames = append(toolNames, name)
	}
	for _, required := range []string{
		"weightmap.list_projects",
		"weightmap.create_project",
		"weightmap.update_project",
		"weightmap.project_progress",
		"weightmap.dependency_rollup",
		"weightmap.list_change_events",
		"weightmap.apply_plan",
		"weightmap.list_work_items",
		"weightmap.create_work_item",
		"weightmap.update_work_item",
		"weightmap.update_progress",
		"weightmap.update_weight",
		"weightmap.reparent_work_item",
		"weightmap.set_override",
		"weightmap.delete_work_item",
		"weightmap.add_dependency",
		"weightmap.remove_dependency",
		"weightmap.dependency_chain",
		"weightmap.dependency_order",
	} {
		if !slices.Contains(toolNames, required) {
			t.Fatalf("tool list missing %s: %#v", required, toolNames)
		}
	}
}

// TestHandlerProgressToolCalls verifies weighted roll-up through MCP tool calls.
func TestHandlerProgressToolCalls(t *testing.T) {
	server := newTestServer(t)

	project := decodeStructured[domain.Project](t, callTool(t, server, "weightmap.create_project", map[string]any{
		"name": "House",
	}))
	build := decodeStructured[domain.WorkItem](t, callTool(t, server, "weightmap.create_work_item", map[string]any{
		"project_id": project.ID,
		"title":      "Build",
		"kind":       "phase",
	}))
	walls := decodeStructured[domain.WorkItem](t, callTool(t, server, "weightmap.create_work_item", map[string]any{
		"project_id": project.ID,
		"parent_id":  build.ID,
		"title":      "Walls",
		"weight":     3,
	}))
	roof := decodeStructured[domain.WorkItem](t, callTool(t, server, "weightmap.create_work_item", map[string]any{
		"project_id":   project.ID,
		"parent_id":    build.ID,
		"title":        "Roof",
		"dependencies": []string{walls.ID},
	}))
	if len(roof.Dependencies) != 1 || roof.Dependencies[0] != walls.ID {
		t.Fatalf("roof dependencies = %v, want [%s]", roof.Dependencies, walls.ID)
	}

	updated := decodeStructured[struct {
		Updated []domain.WorkItem `json:"updated"`
	}](t, callTool(t, server, "weightmap.update_progress", map[string]any{
		"work_item_id": walls.ID,
		"progress":     100,
	}))
	if len(updated.Updated) != 2 || updated.Updated[1].Progress != 75 {
		t.Fatalf("unexpected propagation %#v", updated.Updated)
	}

	progress := decodeStructured[app.ProjectProgress](t, callTool(t, server, "weightmap.project_progress", map[string]any{
		"project_id": project.ID,
	}))
	if progress.Overall != 75 {
		t.Fatalf("overall = %v, want 75", progress.Overall)
	}

	chain := decodeStructured[struct {
		Chain []domain.WorkItem `json:"chain"`
	}](t, callTool(t, server, "weightmap.dependency_chain", map[string]any{
		"work_item_id": roof.ID,
	}))
	if len(chain.Chain) != 1 || chain.Chain[0].ID != walls.ID {
		t.Fatalf("unexpected chain %#v", chain.Chain)
	}
}

// TestHandlerToolErrors verifies service failures surface as coded tool errors.
func TestHandlerToolErrors(t *testing.T) {
	server := newTestServer(t)
	project := decodeStructured[domain.Project](t, callTool(t, server, "weightmap.create_project", map[string]any{
		"name": "Launch",
	}))
	a := decodeStructured[domain.WorkItem](t, callTool(t, server, "weightmap.create_work_item", map[string]any{
		"project_id": project.ID,
		"title":      "A",
	}))
	b := decodeStructured[domain.WorkItem](t, callTool(t, server, "weightmap.create_work_item", map[string]any{
		"project_id": project.ID,
		"title":      "B",
	}))
	_ = decodeStructured[domain.WorkItem](t, callTool(t, server, "weightmap.add_dependency", map[string]any{
		"work_item_id":  b.ID,
		"depends_on_id": a.ID,
	}))

	cases := []struct {
		name       string
		tool       string
		args       map[string]any
		wantPrefix string
	}{
		{name: "cycle", tool: "weightmap.add_dependency", args: map[string]any{"work_item_id": a.ID, "depends_on_id": b.ID}, wantPrefix: "circular_dependency:"},
		{name: "progress range", tool: "weightmap.update_progress", args: map[string]any{"work_item_id": a.ID, "progress": 101}, wantPrefix: "invalid_request:"},
		{name: "unknown item", tool: "weightmap.update_weight", args: map[string]any{"work_item_id": "missing", "weight": 2}, wantPrefix: "not_found:"},
		{name: "incomplete prerequisites", tool: "weightmap.set_override", args: map[string]any{"work_item_id": b.ID, "override": "completed"}, wantPrefix: "dependencies_incomplete:"},
		{name: "bad plan", tool: "weightmap.apply_plan", args: map[string]any{"plan_yaml": "items:\n  - key: x\n"}, wantPrefix: "invalid_request:"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result := callTool(t, server, tc.tool, tc.args)
			if isErr, _ := result["isError"].(bool); !isErr {
				t.Fatalf("isError = false, want true: %#v", result)
			}
			if got := toolResultText(t, result); !strings.HasPrefix(got, tc.wantPrefix) {
				t.Fatalf("text = %q, want prefix %q", got, tc.wantPrefix)
			}
		})
	}

	result := callTool(t, server, "weightmap.update_progress", map[string]any{"work_item_id": a.ID})
	if isErr, _ := result["isError"].(bool); !isErr {
		t.Fatal("expected missing progress argument to fail")
	}
}

// TestHandlerApplyPlanCreatesProject verifies plan tools create a project when none is given.
func TestHandlerApplyPlanCreatesProject(t *testing.T) {
	server := newTestServer(t)
	result := decodeStructured[app.PlanResult](t, callTool(t, server, "weightmap.apply_plan", map[string]any{
		"plan_yaml": "project: Garden\nitems:\n  - key: beds\n    title: Beds\n  - key: plant\n    title: Plant\n    depends_on: [beds]\n",
	}))
	if result.Project.Name != "Garden" || len(result.WorkItems) != 2 {
		t.Fatalf("unexpected plan result %#v", result)
	}
	order := decodeStructured[struct {
		Items []domain.WorkItem `json:"items"`
	}](t, callTool(t, server, "weightmap.dependency_order", map[string]any{
		"project_id": result.Project.ID,
	}))
	if len(order.Items) != 2 || order.Items[0].ID != result.IDsByKey["beds"] {
		t.Fatalf("unexpected order %#v", order.Items)
	}
}

// TestNewHandlerRequiresService verifies nil services are rejected.
func TestNewHandlerRequiresService(t *testing.T) {
	if _, err := NewHandler(Config{}, nil); err == nil {
		t.Fatal("NewHandler() error = nil, want error")
	}
}

// TestNormalizeConfig verifies defaults and endpoint cleanup.
func TestNormalizeConfig(t *testing.T) {
	cases := []struct {
		name string
		in   Config
		want Config
	}{
		{
			name: "defaults",
			in:   Config{},
			want: Config{ServerName: "weightmap", ServerVersion: "dev", EndpointPath: "/mcp"},
		},
		{
			name: "trimmed values and slash prefix",
			in:   Config{ServerName: " weightmap-server ", ServerVersion: " v1.2.3 ", EndpointPath: "custom/path"},
			want: Config{ServerName: "weightmap-server", ServerVersion: "v1.2.3", EndpointPath: "/custom/path"},
		},
		{
			name: "endpoint trim of repeated slashes",
			in:   Config{EndpointPath: "///mcp///"},
			want: Config{ServerName: "weightmap", ServerVersion: "dev", EndpointPath: "/mcp"},
		},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			if got := normalizeConfig(tt.in); got != tt.want {
				t.Fatalf("normalizeConfig() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

// TestHandlerServeHTTPUnavailable verifies nil handler paths fail closed with 503.
func TestHandlerServeHTTPUnavailable(t *testing.T) {
	for name, handler := range map[string]*Handler{"nil receiver": nil, "missing inner handler": {}} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewBufferString(`{}`))
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != http.StatusServiceUnavailable {
				t.Fatalf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
			}
		})
	}
}

// TestToolResultFromErrorMapping verifies deterministic error-to-tool-result mapping.
func TestToolResultFromErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantPrefix string
	}{
		{name: "nil error", err: nil, wantPrefix: "unknown error"},
		{name: "cycle", err: &domain.CycleError{From: "a", To: "b"}, wantPrefix: "circular_dependency:"},
		{name: "validation", err: &domain.ValidationError{Field: "weight", Reason: "must be finite"}, wantPrefix: "invalid_request:"},
		{name: "not found", err: errors.Join(app.ErrNotFound, errors.New("missing")), wantPrefix: "not_found:"},
		{name: "internal", err: errors.New("boom"), wantPrefix: "internal_error:"},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			result := toolResultFromError(tt.err)
			if !result.IsError {
				t.Fatalf("IsError = false, want true")
			}
			if got := callToolResultText(t, result); !strings.HasPrefix(got, tt.wantPrefix) {
				t.Fatalf("text = %q, want prefix %q", got, tt.wantPrefix)
			}
		})
	}
}
