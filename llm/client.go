// Package llm talks to completion services. Every provider speaks the same
// provider-neutral Request/Response shapes so the agent never sees wire formats.
package llm

import (
	"context"
	"fmt"
)

// Client is the interface for completion services.
type Client interface {
	// Call makes a synchronous completion call and returns the full response.
	Call(ctx context.Context, req Request) (*Response, error)

	// Stream makes a completion call and sends chunks to the channel.
	// The channel is closed when streaming is complete, also on error.
	Stream(ctx context.Context, req Request, ch chan<- StreamChunk) error
}

// Role values accepted in Message.Role.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is a chat message in provider-neutral form.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"arguments"`
}

// ToolSchema describes a tool for the model.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Request is the input to a completion call.
type Request struct {
	// Model overrides the client's configured model when set.
	Model        string       `json:"model,omitempty"`
	Messages     []Message    `json:"messages"`
	Tools        []ToolSchema `json:"tools,omitempty"`
	SystemPrompt string       `json:"system_prompt,omitempty"`
	MaxTokens    int          `json:"max_tokens,omitempty"`
	Temperature  *float64     `json:"temperature,omitempty"`
}

// Response is the full result of a completion call.
type Response struct {
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// StreamChunk is a single chunk from a streaming call.
type StreamChunk struct {
	Delta    string    `json:"delta,omitempty"`
	ToolCall *ToolCall `json:"tool_call,omitempty"`
	Done     bool      `json:"done,omitempty"`
	Error    error     `json:"-"`
}

// APIError is a non-success HTTP status returned by a provider.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error %d: %s", e.Provider, e.StatusCode, e.Body)
}

// Float64 returns a pointer to v, for Request.Temperature.
func Float64(v float64) *float64 { return &v }
