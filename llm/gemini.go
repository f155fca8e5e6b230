package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// syntheticIDPrefix marks tool call ids assigned locally because the Gemini
// API returned none. They are stripped again before going back on the wire.
const syntheticIDPrefix = "gemini_call_"

// GeminiClient implements Client on top of the Gemini API.
type GeminiClient struct {
	client *genai.Client
	model  string
}

// NewGeminiClient creates a Gemini client. baseURL is optional and only used
// to point at a proxy or a test server.
func NewGeminiClient(ctx context.Context, apiKey, model, baseURL string) (*GeminiClient, error) {
	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiClient{client: client, model: model}, nil
}

// Call makes a synchronous generateContent call.
func (c *GeminiClient) Call(ctx context.Context, req Request) (*Response, error) {
	model, contents, cfg := c.buildRequest(req)
	resp, err := c.client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}
	return fromGeminiResponse(resp, 0), nil
}

// Stream makes a streaming generateContent call.
func (c *GeminiClient) Stream(ctx context.Context, req Request, ch chan<- StreamChunk) error {
	defer close(ch)

	model, contents, cfg := c.buildRequest(req)
	seen := 0
	for resp, err := range c.client.Models.GenerateContentStream(ctx, model, contents, cfg) {
		if err != nil {
			return fmt.Errorf("gemini stream: %w", err)
		}
		part := fromGeminiResponse(resp, seen)
		if part.Content != "" {
			ch <- StreamChunk{Delta: part.Content}
		}
		for i := range part.ToolCalls {
			tc := part.ToolCalls[i]
			ch <- StreamChunk{ToolCall: &tc}
		}
		seen += len(part.ToolCalls)
	}
	ch <- StreamChunk{Done: true}
	return nil
}

func (c *GeminiClient) buildRequest(req Request) (string, []*genai.Content, *genai.GenerateContentConfig) {
	model := c.model
	if req.Model != "" {
		model = req.Model
	}

	cfg := &genai.GenerateContentConfig{}
	if req.SystemPrompt != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.SystemPrompt}}}
	}
	if req.Temperature != nil {
		cfg.Temperature = genai.Ptr(float32(*req.Temperature))
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:                 t.Name,
				Description:          t.Description,
				ParametersJsonSchema: schemaOrEmpty(t.Parameters),
			})
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	return model, toGeminiContents(req.Messages), cfg
}

// toGeminiContents maps the neutral history onto Gemini contents. Consecutive
// tool results collapse into one user content, one function response each.
func toGeminiContents(msgs []Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case RoleAssistant:
			content := &genai.Content{Role: "model"}
			if m.Content != "" {
				content.Parts = append(content.Parts, &genai.Part{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				content.Parts = append(content.Parts, &genai.Part{FunctionCall: &genai.FunctionCall{
					ID:   wireID(tc.ID),
					Name: tc.Name,
					Args: tc.Args,
				}})
			}
			if len(content.Parts) == 0 {
				content.Parts = []*genai.Part{{Text: ""}}
			}
			contents = append(contents, content)

		case RoleTool:
			part := &genai.Part{FunctionResponse: &genai.FunctionResponse{
				ID:       wireID(m.ToolCallID),
				Name:     m.Name,
				Response: map[string]any{"output": m.Content},
			}}
			if n := len(contents); n > 0 && isFunctionResponses(contents[n-1]) {
				contents[n-1].Parts = append(contents[n-1].Parts, part)
				continue
			}
			contents = append(contents, &genai.Content{Role: "user", Parts: []*genai.Part{part}})

		default:
			contents = append(contents, &genai.Content{Role: "user", Parts: []*genai.Part{{Text: m.Content}}})
		}
	}
	return contents
}

func isFunctionResponses(c *genai.Content) bool {
	if c.Role != "user" || len(c.Parts) == 0 {
		return false
	}
	for _, p := range c.Parts {
		if p.FunctionResponse == nil {
			return false
		}
	}
	return true
}

// fromGeminiResponse extracts text and function calls from the first
// candidate. offset numbers synthetic ids across streamed chunks.
func fromGeminiResponse(resp *genai.GenerateContentResponse, offset int) *Response {
	out := &Response{}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return out
	}

	var text strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if p == nil {
			continue
		}
		if p.FunctionCall != nil {
			id := p.FunctionCall.ID
			if id == "" {
				id = fmt.Sprintf("%s%d", syntheticIDPrefix, offset+len(out.ToolCalls))
			}
			args := p.FunctionCall.Args
			if args == nil {
				args = map[string]any{}
			}
			out.ToolCalls = append(out.ToolCalls, ToolCall{ID: id, Name: p.FunctionCall.Name, Args: args})
			continue
		}
		if p.Text != "" && !p.Thought {
			text.WriteString(p.Text)
		}
	}
	out.Content = text.String()
	return out
}

func wireID(id string) string {
	if strings.HasPrefix(id, syntheticIDPrefix) {
		return ""
	}
	return id
}
