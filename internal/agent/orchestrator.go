// Package agent runs conversation turns against an LLM provider, optionally
// letting the model call external tools in a bounded loop before producing
// its final answer.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/inkdrift/inkdrift/internal/schema"
	"github.com/inkdrift/inkdrift/internal/shared/llmutils"
)

// Tool-use policies. They only change how eagerly the model is nudged toward
// tools; the execution loop itself is identical.
const (
	PolicyConservative = "conservative"
	PolicyBalanced     = "balanced"
	PolicyAggressive   = "aggressive"
)

// conservativeCallCap overrides the configured budget under the
// conservative policy.
const conservativeCallCap = 3

// Settings carries the per-turn orchestration knobs, resolved from config
// before the turn starts.
type Settings struct {
	AutoAttach   bool
	Policy       string
	MaxToolCalls int
	Model        string
	MaxTokens    int
	Temperature  float64
}

// Outcome classifies how an orchestrated turn ended.
type Outcome int

const (
	// OutcomeNone: the model never called a tool, or the provider does not
	// support tool calling. The caller should run a plain completion as if
	// orchestration had never been attempted.
	OutcomeNone Outcome = iota
	// OutcomeFinal: the loop converged on a textual answer.
	OutcomeFinal
	// OutcomeNeedsFinalPass: the call budget ran out with the model still
	// asking for tools. The caller should request one last completion over
	// the accumulated conversation, without tools.
	OutcomeNeedsFinalPass
)

// Result is what Orchestrate hands back to the turn runner.
type Result struct {
	Outcome      Outcome
	FinalText    string
	Conversation schema.Messages // includes assistant tool calls and tool results
	Trace        []schema.ToolTrace
	ToolCalls    int
}

// Executor resolves and runs one model-issued tool call, always returning
// text. Satisfied by *tools.Registry.
type Executor interface {
	Execute(ctx context.Context, callName, rawArgs string) string
}

func policyInstruction(policy string) string {
	switch policy {
	case PolicyConservative:
		return "Tools are available, but prefer answering from your own knowledge. Only call a tool when the request cannot be answered without it."
	case PolicyAggressive:
		return "Tools are available. Prefer using them to ground your answer in real data rather than relying on memory."
	default:
		return "Tools are available. Use them when they would improve the answer."
	}
}

// errIndicatesNoToolSupport recognises backend rejections that mean "this
// model cannot do tool calling" as opposed to a genuine failure. These are
// not surfaced; the turn silently degrades to a plain completion.
func errIndicatesNoToolSupport(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"tool_choice unsupported",
		"does not support tool",
		"tools are not supported",
		"no endpoints found that support tool",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// Orchestrate runs the bounded tool-calling loop over a copy of history.
//
// The first completion decides everything: if the model answers without
// calling a tool, the completion is discarded and the outcome is OutcomeNone,
// so the caller's plain-completion path (with its own prompt, without the
// tool nudge) produces the user-visible text. Once the model has called at
// least one tool the loop runs until it stops asking or the budget is spent.
func Orchestrate(ctx context.Context, provider schema.LLMProvider, executor Executor, definitions []map[string]any, history schema.Messages, settings Settings) (Result, error) {
	budget := settings.MaxToolCalls
	if budget <= 0 {
		budget = 1
	}
	if settings.Policy == PolicyConservative && budget > conservativeCallCap {
		budget = conservativeCallCap
	}

	conv := history.Clone()
	conv.AddSystem(policyInstruction(settings.Policy))

	opts := schema.NewChatOptions(
		llmutils.StringOrDefault(settings.Model, provider.DefaultModel()),
		settings.MaxTokens,
		settings.Temperature,
	)
	if settings.Policy == PolicyAggressive {
		// Only the first request forces a call; later rounds must be free
		// to stop, or the loop can never converge before the budget does.
		opts.ToolChoice = "required"
	}

	res := Result{Conversation: conv}
	executed := 0

	for round := 0; ; round++ {
		resp, err := provider.Chat(ctx, res.Conversation, definitions, opts)
		if err != nil {
			if errIndicatesNoToolSupport(err) {
				slog.Info("provider lacks tool support, falling back to plain completion", "err", err)
				return Result{Outcome: OutcomeNone, Conversation: history}, nil
			}
			return Result{}, fmt.Errorf("tool orchestration round %d: %w", round+1, err)
		}
		opts.ToolChoice = ""

		if !resp.HasToolCalls() {
			if round == 0 {
				// The nudged completion is intentionally discarded.
				return Result{Outcome: OutcomeNone, Conversation: history}, nil
			}
			res.Outcome = OutcomeFinal
			res.FinalText = llmutils.StripThink(derefOr(resp.Content, ""))
			res.Conversation.AddAssistant(resp.Content, nil, resp.ReasoningContent)
			return res, nil
		}

		res.Conversation.AddAssistant(resp.Content, toolCallsOf(resp), resp.ReasoningContent)
		slog.Debug("model requested tools", "round", round+1, "calls", llmutils.ToolHint(resp.ToolCalls))

		for _, call := range resp.ToolCalls {
			callID := call.Id
			if callID == "" {
				callID = "call_" + uuid.NewString()
			}
			rawArgs := marshalArgs(call.Arguments)

			var output string
			if executed >= budget {
				output = fmt.Sprintf("(skipped: the tool call limit of %d for this turn was reached)", budget)
			} else {
				output = executor.Execute(ctx, call.Name, rawArgs)
				executed++
			}

			res.Conversation.AddToolResult(callID, call.Name, output)
			res.Trace = append(res.Trace, schema.ToolTrace{
				CallID: callID,
				Name:   call.Name,
				Args:   rawArgs,
				Result: output,
			})
		}
		res.ToolCalls = executed

		if executed >= budget {
			res.Outcome = OutcomeNeedsFinalPass
			return res, nil
		}
	}
}

func toolCallsOf(resp schema.LLMResponse) []schema.ToolCall {
	out := make([]schema.ToolCall, 0, len(resp.ToolCalls))
	for _, tc := range resp.ToolCalls {
		out = append(out, schema.ToolCall{ID: tc.Id, Name: tc.Name, Arguments: tc.Arguments})
	}
	return out
}

func marshalArgs(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	data, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func derefOr(s *string, def string) string {
	if s == nil {
		return def
	}
	return *s
}
