package agent

import (
	"context"

	"pharmachat/llm"
)

// ModelCallFunc is the signature for the "next" function in the model call chain.
type ModelCallFunc func(ctx context.Context, msgs []Message) (*llm.Response, error)

// ToolCallFunc is the signature for the "next" function in the tool call chain.
type ToolCallFunc func(ctx context.Context, call ToolCall) (*ToolResult, error)

// Hook is agent middleware (onion ring pattern). The first hook in a list is
// the outermost layer.
type Hook interface {
	// Name returns the hook identifier.
	Name() string

	// ModifyRequest is called before each model call with a copy of the
	// history about to be sent. The conversation itself is never touched.
	ModifyRequest(ctx context.Context, msgs []Message) ([]Message, error)

	// WrapModelCall wraps each completion call.
	WrapModelCall(ctx context.Context, msgs []Message, next ModelCallFunc) (*llm.Response, error)

	// WrapToolCall wraps each tool execution.
	WrapToolCall(ctx context.Context, call ToolCall, next ToolCallFunc) (*ToolResult, error)
}

// BaseHook provides no-op defaults for all hook methods.
// Embed this to only override the methods you need.
type BaseHook struct{}

func (BaseHook) Name() string { return "base" }

func (BaseHook) ModifyRequest(ctx context.Context, msgs []Message) ([]Message, error) {
	return msgs, nil
}

func (BaseHook) WrapModelCall(ctx context.Context, msgs []Message, next ModelCallFunc) (*llm.Response, error) {
	return next(ctx, msgs)
}

func (BaseHook) WrapToolCall(ctx context.Context, call ToolCall, next ToolCallFunc) (*ToolResult, error) {
	return next(ctx, call)
}
