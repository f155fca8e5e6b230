// Package hooks holds agent middleware shared by every transport.
package hooks

import (
	"context"

	"pharmachat/agent"
	"pharmachat/tokens"
)

// OutputBudget caps every tool result at a token budget, on top of the
// per-tool budgets, so no single result can crowd out the context window.
type OutputBudget struct {
	agent.BaseHook
	max     int
	counter *tokens.Counter
}

// NewOutputBudget creates the hook. maxTokens <= 0 disables truncation.
// counter may be nil to use the shared counter.
func NewOutputBudget(maxTokens int, counter *tokens.Counter) *OutputBudget {
	if counter == nil {
		counter = tokens.Default()
	}
	return &OutputBudget{max: maxTokens, counter: counter}
}

func (h *OutputBudget) Name() string { return "output_budget" }

func (h *OutputBudget) WrapToolCall(ctx context.Context, call agent.ToolCall, next agent.ToolCallFunc) (*agent.ToolResult, error) {
	result, err := next(ctx, call)
	if err != nil || result == nil {
		return result, err
	}
	result.Output = h.counter.Truncate(result.Output, h.max)
	return result, nil
}
