// Package llmtest provides a deterministic llm.Client for tests.
package llmtest

import (
	"context"
	"errors"
	"sync"

	"pharmachat/llm"
)

// ErrExhausted is returned once every scripted reply has been consumed.
var ErrExhausted = errors.New("llmtest: no scripted reply left")

// Reply is one scripted completion: a response or an error.
type Reply struct {
	Response *llm.Response
	Err      error
}

// Text scripts a plain answer.
func Text(content string) Reply {
	return Reply{Response: &llm.Response{Content: content}}
}

// Calls scripts an assistant message that requests tools.
func Calls(calls ...llm.ToolCall) Reply {
	return Reply{Response: &llm.Response{ToolCalls: calls}}
}

// Fail scripts a service failure.
func Fail(err error) Reply {
	return Reply{Err: err}
}

// Scripted replays replies in order and records every request it receives.
type Scripted struct {
	mu       sync.Mutex
	replies  []Reply
	requests []llm.Request
	// Repeat keeps returning the last reply once the script runs out.
	Repeat bool
}

// New returns a Scripted client for replies.
func New(replies ...Reply) *Scripted {
	return &Scripted{replies: replies}
}

// Call implements llm.Client.
func (s *Scripted) Call(_ context.Context, req llm.Request) (*llm.Response, error) {
	reply, err := s.next(req)
	if err != nil {
		return nil, err
	}
	if reply.Err != nil {
		return nil, reply.Err
	}
	resp := *reply.Response
	resp.ToolCalls = append([]llm.ToolCall(nil), reply.Response.ToolCalls...)
	return &resp, nil
}

// Stream implements llm.Client, emitting the content as a single delta.
func (s *Scripted) Stream(ctx context.Context, req llm.Request, ch chan<- llm.StreamChunk) error {
	defer close(ch)
	resp, err := s.Call(ctx, req)
	if err != nil {
		return err
	}
	if resp.Content != "" {
		ch <- llm.StreamChunk{Delta: resp.Content}
	}
	for i := range resp.ToolCalls {
		tc := resp.ToolCalls[i]
		ch <- llm.StreamChunk{ToolCall: &tc}
	}
	ch <- llm.StreamChunk{Done: true}
	return nil
}

// Requests returns a copy of every request received so far.
func (s *Scripted) Requests() []llm.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]llm.Request(nil), s.requests...)
}

func (s *Scripted) next(req llm.Request) (Reply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req.Messages = append([]llm.Message(nil), req.Messages...)
	s.requests = append(s.requests, req)

	if len(s.replies) == 0 {
		return Reply{}, ErrExhausted
	}
	reply := s.replies[0]
	if len(s.replies) > 1 || !s.Repeat {
		s.replies = s.replies[1:]
	}
	return reply, nil
}
