package agent

import (
	"context"
	"log/slog"

	"github.com/inkdrift/inkdrift/internal/config"
	"github.com/inkdrift/inkdrift/internal/schema"
	"github.com/inkdrift/inkdrift/internal/shared/llmutils"
	"github.com/inkdrift/inkdrift/internal/tools"
)

// TurnResult is the user-visible product of one conversation turn.
type TurnResult struct {
	Text      string
	Trace     []schema.ToolTrace
	ToolCalls int
}

// TurnRunner executes conversation turns. Tool providers are attached fresh
// for each turn and torn down when it ends.
type TurnRunner struct {
	provider schema.LLMProvider
	cfg      *config.Config
}

func NewTurnRunner(provider schema.LLMProvider, cfg *config.Config) *TurnRunner {
	return &TurnRunner{provider: provider, cfg: cfg}
}

// RunTurn produces the assistant's reply to history. When tool providers are
// configured and the model takes the bait, the reply comes out of the
// orchestration loop; otherwise it is a plain completion.
func (t *TurnRunner) RunTurn(ctx context.Context, history schema.Messages) (TurnResult, error) {
	settings := Settings{
		AutoAttach:   t.cfg.Tools.AutoAttach,
		Policy:       t.cfg.Tools.Policy,
		MaxToolCalls: t.cfg.Tools.MaxToolCalls,
		Model:        t.cfg.Completion.Model,
		MaxTokens:    t.cfg.Completion.MaxTokens,
		Temperature:  t.cfg.Completion.Temperature,
	}

	if !settings.AutoAttach || len(t.cfg.Tools.Providers) == 0 {
		return t.plainCompletion(ctx, history, settings)
	}

	registry := tools.BuildRegistry(ctx, t.cfg.Tools.Providers)
	defer registry.Close()

	definitions := registry.Definitions(tools.Filter{
		Allow:   t.cfg.Tools.Allow,
		Deny:    t.cfg.Tools.Deny,
		Enabled: t.cfg.Tools.ToolsEnabled,
	})
	if len(definitions) == 0 {
		slog.Debug("no tools survived discovery and filtering; running plain completion")
		return t.plainCompletion(ctx, history, settings)
	}

	return t.runWithTools(ctx, history, settings, registry, definitions)
}

// runWithTools drives the orchestration loop and maps its three-way outcome
// onto the reply paths. The final pass after budget exhaustion and the
// fallback after no-orchestration are both plain completions with no tool
// definitions attached.
func (t *TurnRunner) runWithTools(ctx context.Context, history schema.Messages, settings Settings, executor Executor, definitions []map[string]any) (TurnResult, error) {
	res, err := Orchestrate(ctx, t.provider, executor, definitions, history, settings)
	if err != nil {
		return TurnResult{}, err
	}

	switch res.Outcome {
	case OutcomeFinal:
		return TurnResult{Text: res.FinalText, Trace: res.Trace, ToolCalls: res.ToolCalls}, nil
	case OutcomeNeedsFinalPass:
		final, err := t.plainCompletion(ctx, res.Conversation, settings)
		if err != nil {
			return TurnResult{}, err
		}
		final.Trace = res.Trace
		final.ToolCalls = res.ToolCalls
		return final, nil
	default:
		return t.plainCompletion(ctx, history, settings)
	}
}

func (t *TurnRunner) plainCompletion(ctx context.Context, history schema.Messages, settings Settings) (TurnResult, error) {
	opts := schema.NewChatOptions(
		llmutils.StringOrDefault(settings.Model, t.provider.DefaultModel()),
		settings.MaxTokens,
		settings.Temperature,
	)
	resp, err := t.provider.Chat(ctx, history, nil, opts)
	if err != nil {
		return TurnResult{}, err
	}
	return TurnResult{Text: llmutils.StripThink(derefOr(resp.Content, ""))}, nil
}
