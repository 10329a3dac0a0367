package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/inkdrift/inkdrift/internal/config"
	"github.com/inkdrift/inkdrift/internal/mcp"
)

// stubInvoker scripts CallTool results without a real subprocess.
type stubInvoker struct {
	result *mcp.CallResult
	err    error
	got    struct {
		toolName string
		args     map[string]any
	}
}

func (s *stubInvoker) CallTool(_ context.Context, toolName string, args map[string]any) (*mcp.CallResult, error) {
	s.got.toolName = toolName
	s.got.args = args
	return s.result, s.err
}

func addTool(r *Registry, providerID, toolName string) *Entry {
	return r.register(providerID, mcp.ToolInfo{Name: toolName}, &stubInvoker{}, time.Second)
}

func TestBuildRegistryBestEffort(t *testing.T) {
	// Every provider here is broken in a different way: none may fail the
	// aggregation as a whole, and none may reach the spawn stage.
	providers := map[string]config.ToolProviderConfig{
		"bad":  {Command: "rm", Args: "-rf /tmp/x", Enabled: true},
		"off":  {Command: "node", Enabled: false},
		"none": {Enabled: true},
	}

	r := BuildRegistry(context.Background(), providers)
	defer r.Close()

	if r.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", r.Len())
	}
	if len(r.Entries()) != 0 {
		t.Errorf("Entries() = %+v, want none", r.Entries())
	}
	out := r.Execute(context.Background(), "mcp_bad__anything", "{}")
	if !strings.Contains(out, "not found") {
		t.Errorf("Execute against an empty registry = %q", out)
	}
}

func TestRegisterSanitizesNames(t *testing.T) {
	r := newRegistry()
	cases := []struct {
		provider, tool, want string
	}{
		{"github", "search_issues", "mcp_github__search_issues"},
		{"My Notes", "Read.File", "mcp_my_notes__read_file"},
		{"files", "get/item", "mcp_files__get_item"},
	}
	for _, tc := range cases {
		e := addTool(r, tc.provider, tc.tool)
		if e.CallName != tc.want {
			t.Errorf("register(%q, %q) = %q, want %q", tc.provider, tc.tool, e.CallName, tc.want)
		}
	}
}

func TestRegisterDeduplicatesCollisions(t *testing.T) {
	r := newRegistry()
	// "srv.a"/"b" and "srv_a"/"b" sanitize to the same call name even though
	// they belong to different providers.
	first := addTool(r, "srv.a", "b")
	second := addTool(r, "srv_a", "b")
	third := addTool(r, "srv_a", "B")

	if first.CallName != "mcp_srv_a__b" {
		t.Errorf("first = %q", first.CallName)
	}
	if second.CallName != "mcp_srv_a__b_2" {
		t.Errorf("second = %q, want _2 suffix", second.CallName)
	}
	if third.CallName != "mcp_srv_a__b_3" {
		t.Errorf("third = %q, want _3 suffix", third.CallName)
	}
	if r.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", r.Len())
	}

	// Each call name must still resolve back to its own provider/tool pair.
	if e := r.Get(first.CallName); e.ProviderID != "srv.a" || e.ToolName != "b" {
		t.Errorf("first resolves to %s/%s", e.ProviderID, e.ToolName)
	}
	if e := r.Get(second.CallName); e.ProviderID != "srv_a" || e.ToolName != "b" {
		t.Errorf("second resolves to %s/%s", e.ProviderID, e.ToolName)
	}
	if e := r.Get(third.CallName); e.ProviderID != "srv_a" || e.ToolName != "B" {
		t.Errorf("third resolves to %s/%s", e.ProviderID, e.ToolName)
	}
}

func TestRegisterTruncatesLongNames(t *testing.T) {
	r := newRegistry()
	long := strings.Repeat("x", 100)
	first := addTool(r, "srv", long)
	if len(first.CallName) != maxCallNameLen {
		t.Fatalf("len = %d, want %d", len(first.CallName), maxCallNameLen)
	}
	// Same long name again: the dedupe suffix must fit inside the cap.
	second := addTool(r, "srv", long)
	if len(second.CallName) > maxCallNameLen {
		t.Fatalf("deduped len = %d, exceeds %d", len(second.CallName), maxCallNameLen)
	}
	if !strings.HasSuffix(second.CallName, "_2") {
		t.Errorf("deduped = %q, want _2 suffix", second.CallName)
	}
	if first.CallName == second.CallName {
		t.Error("collision not resolved after truncation")
	}
}

func TestDefinitionsShapeAndFilter(t *testing.T) {
	r := newRegistry()
	r.register("srv", mcp.ToolInfo{
		Name:        "search",
		Description: "Full-text search",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"q":{"type":"string"}}}`),
	}, &stubInvoker{}, time.Second)
	r.register("srv", mcp.ToolInfo{Name: "delete"}, &stubInvoker{}, time.Second)

	defs := r.Definitions(Filter{Deny: []string{"*delete*"}})
	if len(defs) != 1 {
		t.Fatalf("got %d definitions, want 1", len(defs))
	}
	if defs[0]["type"] != "function" {
		t.Errorf("type = %v", defs[0]["type"])
	}
	fn, ok := defs[0]["function"].(map[string]any)
	if !ok {
		t.Fatalf("function member missing: %+v", defs[0])
	}
	if fn["name"] != "mcp_srv__search" || fn["description"] != "Full-text search" {
		t.Errorf("unexpected function block: %+v", fn)
	}
	params, ok := fn["parameters"].(map[string]any)
	if !ok || params["type"] != "object" {
		t.Errorf("parameters not decoded: %+v", fn["parameters"])
	}
}

func TestDefinitionsDefaultSchema(t *testing.T) {
	r := newRegistry()
	e := r.register("srv", mcp.ToolInfo{Name: "bare"}, &stubInvoker{}, time.Second)
	if string(e.Parameters) != `{"type":"object","properties":{}}` {
		t.Errorf("missing schema not defaulted: %s", e.Parameters)
	}
}
