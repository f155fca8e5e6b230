package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// AnthropicClient implements Client for the Anthropic Messages API.
type AnthropicClient struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// DefaultAnthropicBaseURL is the public Messages API endpoint root.
const DefaultAnthropicBaseURL = "https://api.anthropic.com/v1"

// NewAnthropicClient creates a new Anthropic client. An empty baseURL selects
// the public API.
func NewAnthropicClient(baseURL, apiKey, model string) *AnthropicClient {
	if baseURL == "" {
		baseURL = DefaultAnthropicBaseURL
	}
	return &AnthropicClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: 5 * time.Minute},
	}
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Stream      bool               `json:"stream"`
	Temperature *float64           `json:"temperature,omitempty"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string or []anthropicContentBlock
}

type anthropicContentBlock struct {
	Type      string         `json:"type"`
	Text      string         `json:"text,omitempty"`
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
	Content   string         `json:"content,omitempty"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicResponse struct {
	Content    []anthropicContentBlock `json:"content"`
	StopReason string                  `json:"stop_reason"`
}

type anthropicStreamEvent struct {
	Type         string                 `json:"type"`
	Delta        json.RawMessage        `json:"delta,omitempty"`
	Index        int                    `json:"index,omitempty"`
	ContentBlock *anthropicContentBlock `json:"content_block,omitempty"`
}

type anthropicDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	StopReason  string `json:"stop_reason,omitempty"`
}

// Call makes a synchronous Messages API call.
func (c *AnthropicClient) Call(ctx context.Context, req Request) (*Response, error) {
	body, err := c.buildRequest(req, false)
	if err != nil {
		return nil, err
	}
	data, err := c.doRequest(ctx, body)
	if err != nil {
		return nil, err
	}

	var resp anthropicResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	result := &Response{}
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			result.Content += block.Text
		case "tool_use":
			args := block.Input
			if args == nil {
				args = map[string]any{}
			}
			result.ToolCalls = append(result.ToolCalls, ToolCall{
				ID:   block.ID,
				Name: block.Name,
				Args: args,
			})
		}
	}
	return result, nil
}

// Stream makes a streaming Messages API call.
func (c *AnthropicClient) Stream(ctx context.Context, req Request, ch chan<- StreamChunk) error {
	defer close(ch)

	body, err := c.buildRequest(req, true)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return err
	}
	c.setHeaders(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return &APIError{Provider: "anthropic", StatusCode: resp.StatusCode, Body: string(data)}
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	var current *ToolCall
	var argsBuilder strings.Builder

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		var event anthropicStreamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			continue
		}

		switch event.Type {
		case "content_block_start":
			if event.ContentBlock != nil && event.ContentBlock.Type == "tool_use" {
				current = &ToolCall{ID: event.ContentBlock.ID, Name: event.ContentBlock.Name}
				argsBuilder.Reset()
			}

		case "content_block_delta":
			var delta anthropicDelta
			if err := json.Unmarshal(event.Delta, &delta); err != nil {
				continue
			}
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					ch <- StreamChunk{Delta: delta.Text}
				}
			case "input_json_delta":
				argsBuilder.WriteString(delta.PartialJSON)
			}

		case "content_block_stop":
			if current != nil {
				args, err := decodeArgs(argsBuilder.String())
				if err != nil {
					return fmt.Errorf("tool call %q: %w", current.Name, err)
				}
				current.Args = args
				ch <- StreamChunk{ToolCall: current}
				current = nil
				argsBuilder.Reset()
			}

		case "message_stop":
			ch <- StreamChunk{Done: true}
			return nil
		}
	}
	return scanner.Err()
}

func (c *AnthropicClient) buildRequest(req Request, stream bool) ([]byte, error) {
	msgs := make([]anthropicMessage, 0, len(req.Messages))

	for _, m := range req.Messages {
		switch m.Role {
		case RoleAssistant:
			if len(m.ToolCalls) == 0 {
				msgs = append(msgs, anthropicMessage{Role: "assistant", Content: m.Content})
				continue
			}
			blocks := []anthropicContentBlock{}
			if m.Content != "" {
				blocks = append(blocks, anthropicContentBlock{Type: "text", Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				input := tc.Args
				if input == nil {
					input = map[string]any{}
				}
				blocks = append(blocks, anthropicContentBlock{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Name,
					Input: input,
				})
			}
			msgs = append(msgs, anthropicMessage{Role: "assistant", Content: blocks})

		case RoleTool:
			block := anthropicContentBlock{
				Type:      "tool_result",
				ToolUseID: m.ToolCallID,
				Content:   m.Content,
			}
			// Results for one assistant message must share a single user turn.
			if n := len(msgs); n > 0 && msgs[n-1].Role == "user" {
				if blocks, ok := msgs[n-1].Content.([]anthropicContentBlock); ok {
					msgs[n-1].Content = append(blocks, block)
					continue
				}
			}
			msgs = append(msgs, anthropicMessage{Role: "user", Content: []anthropicContentBlock{block}})

		default:
			msgs = append(msgs, anthropicMessage{Role: m.Role, Content: m.Content})
		}
	}

	model := c.model
	if req.Model != "" {
		model = req.Model
	}
	aReq := anthropicRequest{
		Model:       model,
		Messages:    msgs,
		System:      req.SystemPrompt,
		MaxTokens:   req.MaxTokens,
		Stream:      stream,
		Temperature: req.Temperature,
	}
	if aReq.MaxTokens == 0 {
		aReq.MaxTokens = 4096
	}

	for _, t := range req.Tools {
		aReq.Tools = append(aReq.Tools, anthropicTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schemaOrEmpty(t.Parameters),
		})
	}

	return json.Marshal(aReq)
}

func (c *AnthropicClient) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")
}

func (c *AnthropicClient) doRequest(ctx context.Context, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Provider: "anthropic", StatusCode: resp.StatusCode, Body: string(data)}
	}
	return data, nil
}
