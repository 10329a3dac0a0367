package providers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/inkdrift/inkdrift/internal/schema"
)

func TestChatForwardsToolsAndToolChoice(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &gotBody)
		w.Write([]byte(`{"choices":[{"message":{"content":"hi"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider("key", srv.URL, "test-model", nil)
	msgs := schema.NewMessages()
	msgs.AddUser("hello")
	tools := []map[string]any{{"type": "function", "function": map[string]any{"name": "t"}}}

	opts := schema.NewChatOptions("", 100, 0.5)
	opts.ToolChoice = "required"
	resp, err := p.Chat(context.Background(), msgs, tools, opts)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content == nil || *resp.Content != "hi" {
		t.Errorf("content = %v", resp.Content)
	}
	if gotBody["tool_choice"] != "required" {
		t.Errorf("tool_choice = %v", gotBody["tool_choice"])
	}
	if gotBody["model"] != "test-model" {
		t.Errorf("model = %v, want the default model", gotBody["model"])
	}
}

func TestChatSurfacesHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"No endpoints found that support tool use"}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider("key", srv.URL, "test-model", nil)
	_, err := p.Chat(context.Background(), schema.NewMessages(), nil, schema.ChatOptions{})
	if err == nil || !strings.Contains(err.Error(), "HTTP 404") {
		t.Fatalf("expected HTTP error, got: %v", err)
	}
	if !strings.Contains(err.Error(), "support tool use") {
		t.Errorf("error must carry the body snippet: %v", err)
	}
}

func TestParseOpenAIResponseToolCalls(t *testing.T) {
	raw := []byte(`{
		"choices": [{
			"message": {
				"content": null,
				"tool_calls": [{"id": "c1", "function": {"name": "search", "arguments": "{\"q\":\"go\"}"}}]
			},
			"finish_reason": "tool_calls"
		}],
		"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
	}`)
	resp, err := parseOpenAIResponse(raw)
	if err != nil {
		t.Fatalf("parseOpenAIResponse: %v", err)
	}
	if resp.Content != nil {
		t.Errorf("content = %v, want nil", resp.Content)
	}
	if !resp.HasToolCalls() || resp.ToolCalls[0].Name != "search" {
		t.Fatalf("tool calls = %+v", resp.ToolCalls)
	}
	if resp.ToolCalls[0].Arguments["q"] != "go" {
		t.Errorf("arguments = %+v", resp.ToolCalls[0].Arguments)
	}
	if resp.Usage["total_tokens"] != 15 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestRepairJSON(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{`{"a":1}`, "1", true},
		{``, "", true},
		{`{"a":1}garbage`, "1", true},
		{`not json at all`, "", false},
	}
	for _, tc := range cases {
		out, err := repairJSON(tc.in)
		if tc.ok && err != nil {
			t.Errorf("repairJSON(%q): %v", tc.in, err)
			continue
		}
		if !tc.ok {
			if err == nil {
				t.Errorf("repairJSON(%q): expected error", tc.in)
			}
			continue
		}
		if tc.want != "" {
			if v, _ := out["a"].(float64); v != 1 {
				t.Errorf("repairJSON(%q) = %v", tc.in, out)
			}
		}
	}
}
