package hooks

import (
	"context"
	"log/slog"
	"time"

	"pharmachat/agent"
	"pharmachat/llm"
)

// Logging logs every model call and tool call of a turn.
type Logging struct {
	agent.BaseHook
	logger *slog.Logger
}

// NewLogging creates a logging hook.
func NewLogging(logger *slog.Logger) *Logging {
	return &Logging{logger: logger}
}

func (h *Logging) Name() string { return "logging" }

func (h *Logging) WrapModelCall(ctx context.Context, msgs []agent.Message, next agent.ModelCallFunc) (*llm.Response, error) {
	start := time.Now()
	resp, err := next(ctx, msgs)

	attrs := []any{
		"session", agent.SessionIDFromContext(ctx),
		"messages", len(msgs),
		"duration", time.Since(start),
	}
	if err != nil {
		h.logger.Error("model call failed", append(attrs, "error", err)...)
		return resp, err
	}

	calls := make([]string, len(resp.ToolCalls))
	for i, tc := range resp.ToolCalls {
		calls[i] = tc.Name
	}
	h.logger.Info("model call", append(attrs, "content_len", len(resp.Content), "tool_calls", calls)...)
	return resp, nil
}

func (h *Logging) WrapToolCall(ctx context.Context, call agent.ToolCall, next agent.ToolCallFunc) (*agent.ToolResult, error) {
	start := time.Now()
	result, err := next(ctx, call)

	attrs := []any{
		"session", agent.SessionIDFromContext(ctx),
		"tool", call.Name,
		"call_id", call.ID,
		"duration", time.Since(start),
	}
	switch {
	case err != nil:
		h.logger.Error("tool call failed", append(attrs, "error", err)...)
	case result == nil:
		h.logger.Warn("tool call returned no result", attrs...)
	case result.Stack != "":
		h.logger.Error("tool panicked", append(attrs, "error", result.Error, "stack", result.Stack)...)
	case result.Error != "":
		h.logger.Warn("tool call failed", append(attrs, "error", result.Error)...)
	default:
		h.logger.Info("tool call", append(attrs, "output_len", len(result.Output))...)
	}
	return result, err
}
