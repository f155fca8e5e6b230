package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestOpenAIClient_Call(t *testing.T) {
	var got openaiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk-test" {
			t.Errorf("unexpected auth header %q", auth)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"","tool_calls":[
			{"id":"call_1","type":"function","function":{"name":"get_adverse_events","arguments":"{\"drug_name\":\"aspirin\",\"limit\":3}"}}
		]},"finish_reason":"tool_calls"}]}`)
	}))
	defer srv.Close()

	c := NewOpenAIClient(srv.URL+"/", "sk-test", "gpt-4o-mini")
	resp, err := c.Call(context.Background(), Request{
		SystemPrompt: "sys",
		Messages: []Message{
			{Role: RoleUser, Content: "aspirin events?"},
		},
		Tools: []ToolSchema{{Name: "get_adverse_events", Description: "d"}},
	})
	if err != nil {
		t.Fatal(err)
	}

	want := []ToolCall{{ID: "call_1", Name: "get_adverse_events", Args: map[string]any{"drug_name": "aspirin", "limit": float64(3)}}}
	if diff := cmp.Diff(want, resp.ToolCalls); diff != "" {
		t.Fatalf("tool calls mismatch (-want +got):\n%s", diff)
	}

	if got.Model != "gpt-4o-mini" {
		t.Fatalf("expected model gpt-4o-mini, got %q", got.Model)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[0].Content != "sys" {
		t.Fatalf("expected system prompt first, got %+v", got.Messages)
	}
	if len(got.Tools) != 1 || got.Tools[0].Function.Parameters["type"] != "object" {
		t.Fatalf("expected default object schema, got %+v", got.Tools)
	}
}

func TestOpenAIClient_CallAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewOpenAIClient(srv.URL, "", "m")
	_, err := c.Call(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", apiErr.StatusCode)
	}
}

func TestOpenAIClient_StreamAccumulatesByIndex(t *testing.T) {
	chunks := []string{
		`{"choices":[{"delta":{"content":"Look"}}]}`,
		`{"choices":[{"delta":{"content":"ing up"}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"a","type":"function","function":{"name":"query_graph_database","arguments":""}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":1,"id":"b","type":"function","function":{"name":"get_adverse_events","arguments":"{\"drug_"}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"query_description\":\"x\"}"}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":1,"function":{"arguments":"name\":\"tramadol\"}"}}]}}]}`,
		`{"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, c := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", c)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := NewOpenAIClient(srv.URL, "", "m")
	ch := make(chan StreamChunk, 32)
	if err := c.Stream(context.Background(), Request{}, ch); err != nil {
		t.Fatal(err)
	}

	var text strings.Builder
	var calls []ToolCall
	done := false
	for chunk := range ch {
		text.WriteString(chunk.Delta)
		if chunk.ToolCall != nil {
			calls = append(calls, *chunk.ToolCall)
		}
		if chunk.Done {
			done = true
		}
	}

	if text.String() != "Looking up" {
		t.Fatalf("expected streamed text, got %q", text.String())
	}
	if !done {
		t.Fatal("expected a Done chunk")
	}
	want := []ToolCall{
		{ID: "a", Name: "query_graph_database", Args: map[string]any{"query_description": "x"}},
		{ID: "b", Name: "get_adverse_events", Args: map[string]any{"drug_name": "tramadol"}},
	}
	if diff := cmp.Diff(want, calls); diff != "" {
		t.Fatalf("tool calls mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeArgs(t *testing.T) {
	args, err := decodeArgs("  ")
	if err != nil || len(args) != 0 {
		t.Fatalf("expected empty args, got %v, %v", args, err)
	}
	if _, err := decodeArgs("{not json"); err == nil {
		t.Fatal("expected error for malformed arguments")
	}
}
