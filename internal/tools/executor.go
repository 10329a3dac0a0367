package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/inkdrift/inkdrift/internal/mcp"
	"github.com/inkdrift/inkdrift/internal/shared/llmutils"
)

// maxResultLen caps the text handed back to the model for one tool call.
const maxResultLen = 32768

// Execute resolves a model-issued call against the registry and runs it.
// Every failure mode returns descriptive text rather than an error: the
// result is always fed back into the conversation so the model can react,
// and a broken call must not abort the turn.
func (r *Registry) Execute(ctx context.Context, callName, rawArgs string) string {
	entry := r.Get(callName)
	if entry == nil {
		return fmt.Sprintf("Tool %q not found", callName)
	}

	args := map[string]any{}
	if trimmed := strings.TrimSpace(rawArgs); trimmed != "" {
		if err := json.Unmarshal([]byte(trimmed), &args); err != nil {
			return fmt.Sprintf("Invalid arguments for %s: %v", callName, err)
		}
	}

	start := time.Now()
	result, err := entry.client.CallTool(ctx, entry.ToolName, args)
	if err != nil {
		slog.Warn("tool call failed", "tool", callName, "server", entry.ProviderID, "err", err)
		return fmt.Sprintf("Error executing %s: %v", callName, err)
	}
	slog.Debug("tool call completed", "tool", callName, "elapsed", time.Since(start).Round(time.Millisecond))

	return llmutils.Truncate(flattenResult(result), maxResultLen)
}

// flattenResult renders a structured call result as plain text for the
// model. Text parts are joined with newlines; a result with no text parts
// falls back to its compact JSON body so nothing is silently lost.
func flattenResult(result *mcp.CallResult) string {
	parts := make([]string, 0, len(result.Content))
	for _, p := range result.Content {
		if p.Type == "text" && p.Text != "" {
			parts = append(parts, p.Text)
		}
	}

	var text string
	if len(parts) > 0 {
		text = strings.Join(parts, "\n")
	} else if len(result.Raw) > 0 {
		text = string(result.Raw)
	} else {
		text = "(empty result)"
	}

	if result.IsError {
		return "Error: " + text
	}
	return text
}
