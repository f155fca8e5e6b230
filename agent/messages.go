package agent

import (
	"fmt"
	"strings"
)

// Message is one entry of a conversation.
type Message struct {
	Role       string     `json:"role"` // "user", "assistant", "tool"
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // set when Role == "tool"
	Name       string     `json:"name,omitempty"`         // tool name when Role == "tool"
}

// ToolCall is a model's request to invoke a tool.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// ToolResult holds the output of a tool execution.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name"`
	Output     string `json:"output"`
	Error      string `json:"error,omitempty"`
	Stack      string `json:"-"` // set when the tool panicked
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Human creates a user message.
func Human(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AI creates an assistant message with optional tool calls.
//
//	AI("Tramadol is made by ...")  → final answer
//	AI("", tc1, tc2)               → tool-calling response
func AI(content string, toolCalls ...ToolCall) Message {
	return Message{Role: RoleAssistant, Content: content, ToolCalls: toolCalls}
}

// ToolMsg creates a tool result message.
func ToolMsg(toolCallID, name, output string) Message {
	return Message{Role: RoleTool, Content: output, ToolCallID: toolCallID, Name: name}
}

// Messages is an ordered list of messages.
type Messages []Message

// Last returns the last message, or a zero Message if empty.
func (m Messages) Last() Message {
	if len(m) == 0 {
		return Message{}
	}
	return m[len(m)-1]
}

// ByRole returns messages with the given role.
func (m Messages) ByRole(role string) Messages {
	var out Messages
	for _, msg := range m {
		if msg.Role == role {
			out = append(out, msg)
		}
	}
	return out
}

// ToolCallCount returns the number of tool calls across assistant messages.
func (m Messages) ToolCallCount() int {
	n := 0
	for _, msg := range m {
		n += len(msg.ToolCalls)
	}
	return n
}

// Validate checks that the chain is well-formed:
//   - roles are known and user messages carry text
//   - tool calls have ids unique within their message and a name
//   - every tool message answers a call of the closest preceding assistant
//     message, and each such call is answered exactly once before the next
//     assistant or user message
func (m Messages) Validate() error {
	var pending map[string]bool // open calls of the last assistant message

	closeOpen := func(i int) error {
		for id, answered := range pending {
			if !answered {
				return fmt.Errorf("message[%d]: tool call %q has no result", i, id)
			}
		}
		pending = nil
		return nil
	}

	for i, msg := range m {
		switch msg.Role {
		case RoleUser:
			if err := closeOpen(i); err != nil {
				return err
			}
			if msg.Content == "" {
				return fmt.Errorf("message[%d]: user message has empty content", i)
			}

		case RoleAssistant:
			if err := closeOpen(i); err != nil {
				return err
			}
			if len(msg.ToolCalls) == 0 {
				continue
			}
			pending = make(map[string]bool, len(msg.ToolCalls))
			for j, tc := range msg.ToolCalls {
				if tc.ID == "" {
					return fmt.Errorf("message[%d].tool_calls[%d]: missing ID", i, j)
				}
				if tc.Name == "" {
					return fmt.Errorf("message[%d].tool_calls[%d]: missing name", i, j)
				}
				if _, dup := pending[tc.ID]; dup {
					return fmt.Errorf("message[%d].tool_calls[%d]: duplicate ID %q", i, j, tc.ID)
				}
				pending[tc.ID] = false
			}

		case RoleTool:
			answered, ok := pending[msg.ToolCallID]
			if !ok {
				return fmt.Errorf("message[%d]: tool result %q does not answer a pending call", i, msg.ToolCallID)
			}
			if answered {
				return fmt.Errorf("message[%d]: tool call %q answered twice", i, msg.ToolCallID)
			}
			pending[msg.ToolCallID] = true

		default:
			return fmt.Errorf("message[%d]: unknown role %q", i, msg.Role)
		}
	}
	return closeOpen(len(m))
}

// PrettyPrint returns a human-readable rendering of the chain.
func (m Messages) PrettyPrint() string {
	var sb strings.Builder
	for _, msg := range m {
		if msg.Role == RoleTool {
			fmt.Fprintf(&sb, "[Tool: %s (call_id=%s)]\n", msg.Name, msg.ToolCallID)
		} else {
			fmt.Fprintf(&sb, "[%s]\n", roleLabel(msg.Role))
		}
		if msg.Content != "" {
			sb.WriteString(msg.Content)
			sb.WriteString("\n")
		}
		for _, tc := range msg.ToolCalls {
			fmt.Fprintf(&sb, "  → tool_call: %s(id=%s, args=%v)\n", tc.Name, tc.ID, tc.Args)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// String implements fmt.Stringer.
func (m Messages) String() string {
	return m.PrettyPrint()
}

func roleLabel(role string) string {
	switch role {
	case RoleUser:
		return "Human"
	case RoleAssistant:
		return "AI"
	default:
		return role
	}
}
