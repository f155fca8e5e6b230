package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"pharmachat/agent"
	"pharmachat/llm"
	"pharmachat/llm/llmtest"
)

func newTestAgent(t *testing.T, client llm.Client) *agent.Agent {
	t.Helper()
	reg, err := agent.NewToolRegistry(&agent.FuncTool{
		ToolName:   "get_adverse_events",
		ToolDesc:   "Look up adverse events.",
		ToolParams: map[string]any{"type": "object"},
		Fn: func(ctx context.Context, args map[string]any) (string, error) {
			return "Event #1: Nausea", nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	store := agent.NewConversationStore()
	t.Cleanup(store.Close)
	return agent.NewAgent(agent.Config{}, client, reg, store, nil)
}

func TestChatREPL(t *testing.T) {
	client := llmtest.New(
		llmtest.Calls(llm.ToolCall{ID: "c1", Name: "get_adverse_events", Args: map[string]any{"drug_name": "aspirin"}}),
		llmtest.Text("Nausea was reported."),
		llmtest.Fail(errors.New("quota exceeded")),
		llmtest.Text("Fresh start."),
	)
	a := newTestAgent(t, client)
	var out bytes.Buffer
	repl := &chatREPL{
		agent: a,
		in:    strings.NewReader("aspirin events?\n\nfollow up\n/clear\nhello\n/exit\nignored\n"),
		out:   &out,
	}

	if err := repl.run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	text := out.String()
	for _, want := range []string{
		"using get_adverse_events...",
		"Nausea was reported.",
		"error: ",
		"Conversation cleared.",
		"Fresh start.",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("output missing %q:\n%s", want, text)
		}
	}

	conv, ok := a.Store().Get(repl.sessionID)
	if !ok {
		t.Fatal("expected the current session to exist")
	}
	// Only the turn after /clear lives in the new session.
	if conv.Len() != 2 {
		t.Fatalf("expected 2 messages after clear, got %d", conv.Len())
	}
	if len(client.Requests()) != 4 {
		t.Fatalf("expected 4 completion calls, got %d", len(client.Requests()))
	}
}

func TestChatREPL_EndOfInput(t *testing.T) {
	a := newTestAgent(t, llmtest.New())
	repl := &chatREPL{agent: a, in: strings.NewReader(""), out: &bytes.Buffer{}}
	if err := repl.run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestChatREPL_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a := newTestAgent(t, llmtest.New(llmtest.Text("never")))
	repl := &chatREPL{agent: a, in: strings.NewReader("hello\n"), out: &bytes.Buffer{}}
	if err := repl.run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestChatREPL_RendersAnswers(t *testing.T) {
	render := markdownRenderer(&bytes.Buffer{})
	if render == nil {
		t.Fatal("expected a markdown renderer")
	}
	a := newTestAgent(t, llmtest.New(llmtest.Text("**Nausea** was reported.")))
	var out bytes.Buffer
	repl := &chatREPL{agent: a, in: strings.NewReader("aspirin?\n"), out: &out, render: render}
	if err := repl.run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(out.String(), "**Nausea**") || !strings.Contains(out.String(), "Nausea") {
		t.Fatalf("expected rendered markdown, got %q", out.String())
	}
}
