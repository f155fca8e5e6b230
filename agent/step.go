package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"pharmachat/llm"
)

// DefaultSystemPrompt is sent with every completion call unless overridden.
const DefaultSystemPrompt = "You are a helpful assistant. You have access to a set of tools. " +
	"Use them to answer the user's questions accurately."

// StepConfig configures completion requests.
type StepConfig struct {
	SystemPrompt string
	Model        string // display name and per-request override
	Temperature  *float64
	MaxTokens    int
}

// Step performs one completion call over a conversation and turns the reply
// into an assistant message. It only reads the history it is given.
type Step struct {
	llm      llm.Client
	registry *ToolRegistry
	cfg      StepConfig
	hooks    []Hook
}

// NewStep creates a Step. An empty system prompt selects DefaultSystemPrompt.
func NewStep(client llm.Client, registry *ToolRegistry, cfg StepConfig, hooks ...Hook) *Step {
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	return &Step{llm: client, registry: registry, cfg: cfg, hooks: hooks}
}

// Next asks the model for the next assistant message. When events is nil the
// call is synchronous, otherwise text deltas stream out as token events.
// Every failure is a *CompletionServiceError.
func (s *Step) Next(ctx context.Context, history []Message, events chan<- StreamEvent) (Message, error) {
	msgs := make([]Message, len(history))
	copy(msgs, history)

	for _, hook := range s.hooks {
		var err error
		msgs, err = hook.ModifyRequest(ctx, msgs)
		if err != nil {
			return Message{}, &CompletionServiceError{Err: fmt.Errorf("hook %s ModifyRequest: %w", hook.Name(), err)}
		}
	}

	emit(ctx, events, StreamEvent{Event: EventModelStart, Name: s.cfg.Model})

	resp, err := s.buildModelChain(events)(ctx, msgs)
	if err != nil {
		var cse *CompletionServiceError
		if errors.As(err, &cse) {
			return Message{}, err
		}
		return Message{}, &CompletionServiceError{Err: err}
	}

	emit(ctx, events, StreamEvent{Event: EventModelEnd, Name: s.cfg.Model})

	msg, err := toAssistant(resp)
	if err != nil {
		return Message{}, &CompletionServiceError{Err: err}
	}
	return msg, nil
}

// toAssistant validates a reply: tool calls need a name and an id unique
// within the message, and a reply must carry text or calls.
func toAssistant(resp *llm.Response) (Message, error) {
	if resp == nil {
		return Message{}, fmt.Errorf("empty completion")
	}
	if resp.Content == "" && len(resp.ToolCalls) == 0 {
		return Message{}, fmt.Errorf("completion has neither text nor tool calls")
	}

	seen := make(map[string]bool, len(resp.ToolCalls))
	calls := make([]ToolCall, 0, len(resp.ToolCalls))
	for i, tc := range resp.ToolCalls {
		if tc.Name == "" {
			return Message{}, fmt.Errorf("tool call %d has no name", i)
		}
		if tc.ID == "" {
			return Message{}, fmt.Errorf("tool call %d (%s) has no id", i, tc.Name)
		}
		if seen[tc.ID] {
			return Message{}, fmt.Errorf("duplicate tool call id %q", tc.ID)
		}
		seen[tc.ID] = true
		args := tc.Args
		if args == nil {
			args = map[string]any{}
		}
		calls = append(calls, ToolCall{ID: tc.ID, Name: tc.Name, Args: args})
	}
	if len(calls) == 0 {
		calls = nil
	}
	return AI(resp.Content, calls...), nil
}

func (s *Step) request(msgs []Message) llm.Request {
	return llm.Request{
		Model:        s.cfg.Model,
		Messages:     convertMessages(msgs),
		Tools:        s.registry.Schemas(),
		SystemPrompt: s.cfg.SystemPrompt,
		MaxTokens:    s.cfg.MaxTokens,
		Temperature:  s.cfg.Temperature,
	}
}

// buildModelChain wraps the completion call with all WrapModelCall hooks.
func (s *Step) buildModelChain(events chan<- StreamEvent) ModelCallFunc {
	base := func(ctx context.Context, msgs []Message) (*llm.Response, error) {
		req := s.request(msgs)
		if events == nil {
			return s.llm.Call(ctx, req)
		}
		return s.stream(ctx, req, events)
	}

	fn := ModelCallFunc(base)
	for i := len(s.hooks) - 1; i >= 0; i-- {
		hook := s.hooks[i]
		prev := fn
		fn = func(ctx context.Context, msgs []Message) (*llm.Response, error) {
			return hook.WrapModelCall(ctx, msgs, prev)
		}
	}
	return fn
}

func (s *Step) stream(ctx context.Context, req llm.Request, events chan<- StreamEvent) (*llm.Response, error) {
	chunkCh := make(chan llm.StreamChunk, 64)
	var llmErr error
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		llmErr = s.llm.Stream(ctx, req, chunkCh)
	}()

	resp := &llm.Response{}
	var chunkErr error
	for chunk := range chunkCh {
		if chunk.Error != nil && chunkErr == nil {
			chunkErr = chunk.Error
		}
		if chunk.Delta != "" {
			resp.Content += chunk.Delta
			emit(ctx, events, StreamEvent{
				Event: EventToken,
				Name:  s.cfg.Model,
				Data:  map[string]any{"content": chunk.Delta},
			})
		}
		if chunk.ToolCall != nil {
			resp.ToolCalls = append(resp.ToolCalls, *chunk.ToolCall)
		}
	}

	wg.Wait()
	if llmErr != nil {
		return nil, llmErr
	}
	if chunkErr != nil {
		return nil, chunkErr
	}
	return resp, nil
}

func convertMessages(msgs []Message) []llm.Message {
	out := make([]llm.Message, len(msgs))
	for i, m := range msgs {
		out[i] = llm.Message{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
			Name:       m.Name,
		}
		for _, tc := range m.ToolCalls {
			out[i].ToolCalls = append(out[i].ToolCalls, llm.ToolCall{
				ID:   tc.ID,
				Name: tc.Name,
				Args: tc.Args,
			})
		}
	}
	return out
}
