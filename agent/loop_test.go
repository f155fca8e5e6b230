package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"pharmachat/llm"
	"pharmachat/llm/llmtest"
)

func graphTool() Tool {
	return &FuncTool{
		ToolName: "query_graph_database",
		ToolDesc: "Query the adverse event graph.",
		ToolParams: map[string]any{
			"type":       "object",
			"properties": map[string]any{"query_description": map[string]any{"type": "string"}},
		},
		Fn: func(ctx context.Context, args map[string]any) (string, error) {
			return "Results for: '" + args["query_description"].(string) + "'\n\n1. manufacturer: Acme", nil
		},
	}
}

func newTestAgent(t *testing.T, client llm.Client, cfg Config, tools ...Tool) *Agent {
	t.Helper()
	store := NewConversationStore()
	t.Cleanup(store.Close)
	return NewAgent(cfg, client, mustRegistry(t, tools...), store, nil)
}

func TestAgent_PlainTurnsGrowByTwo(t *testing.T) {
	client := llmtest.New(llmtest.Text("one"), llmtest.Text("two"), llmtest.Text("three"))
	a := newTestAgent(t, client, Config{}, graphTool())

	sessionID := ""
	for i, q := range []string{"a", "b", "c"} {
		res, err := a.Run(context.Background(), sessionID, q)
		if err != nil {
			t.Fatal(err)
		}
		sessionID = res.SessionID
		conv, _ := a.Store().Get(sessionID)
		if conv.Len() != 2*(i+1) {
			t.Fatalf("after %d turns expected %d messages, got %d", i+1, 2*(i+1), conv.Len())
		}
	}

	// Every request carries the full history.
	reqs := client.Requests()
	if n := len(reqs[2].Messages); n != 5 {
		t.Fatalf("expected third request to carry 5 messages, got %d", n)
	}
}

func TestAgent_ToolCallThenAnswer(t *testing.T) {
	client := llmtest.New(
		llmtest.Calls(llm.ToolCall{ID: "t1", Name: "query_graph_database", Args: map[string]any{"query_description": "who manufactures aspirin"}}),
		llmtest.Text("Acme manufactures aspirin."),
	)
	a := newTestAgent(t, client, Config{}, graphTool())

	res, err := a.Run(context.Background(), "s1", "Who manufactures aspirin?")
	if err != nil {
		t.Fatal(err)
	}
	if res.Answer != "Acme manufactures aspirin." || res.Iterations != 2 {
		t.Fatalf("unexpected result %+v", res)
	}

	conv, _ := a.Store().Get("s1")
	got := conv.Messages()
	want := Messages{
		Human("Who manufactures aspirin?"),
		AI("", ToolCall{ID: "t1", Name: "query_graph_database", Args: map[string]any{"query_description": "who manufactures aspirin"}}),
		ToolMsg("t1", "query_graph_database", "Results for: 'who manufactures aspirin'\n\n1. manufacturer: Acme"),
		AI("Acme manufactures aspirin."),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("conversation mismatch (-want +got):\n%s", diff)
	}
	if err := got.Validate(); err != nil {
		t.Fatalf("conversation invalid: %v", err)
	}

	// The second request ends with the tool result.
	second := client.Requests()[1]
	last := second.Messages[len(second.Messages)-1]
	if last.Role != llm.RoleTool || last.ToolCallID != "t1" {
		t.Fatalf("expected tool result last in second request, got %+v", last)
	}
	if len(second.Tools) != 1 || second.SystemPrompt != DefaultSystemPrompt {
		t.Fatalf("expected tools and system prompt on every request")
	}
}

func TestAgent_UnknownToolContinues(t *testing.T) {
	client := llmtest.New(
		llmtest.Calls(llm.ToolCall{ID: "x", Name: "summon_dragon", Args: map[string]any{}}),
		llmtest.Text("I could not do that."),
	)
	a := newTestAgent(t, client, Config{}, graphTool())

	res, err := a.Run(context.Background(), "s", "do it")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Messages) != 4 {
		t.Fatalf("expected 4 turn messages, got %d", len(res.Messages))
	}
	if !strings.Contains(res.Messages[2].Content, `tool "summon_dragon" not found`) {
		t.Fatalf("expected unknown tool text, got %q", res.Messages[2].Content)
	}
}

func TestAgent_MultipleCallsOrdered(t *testing.T) {
	client := llmtest.New(
		llmtest.Calls(
			llm.ToolCall{ID: "c1", Name: "query_graph_database", Args: map[string]any{"query_description": "one"}},
			llm.ToolCall{ID: "c2", Name: "query_graph_database", Args: map[string]any{"query_description": "two"}},
		),
		llmtest.Text("done"),
	)
	a := newTestAgent(t, client, Config{Parallelism: 4}, graphTool())

	res, err := a.Run(context.Background(), "", "compare")
	if err != nil {
		t.Fatal(err)
	}
	// user + assistant + 2 results + answer
	if len(res.Messages) != 5 {
		t.Fatalf("expected 5 turn messages, got %d", len(res.Messages))
	}
	if res.Messages[2].ToolCallID != "c1" || res.Messages[3].ToolCallID != "c2" {
		t.Fatalf("results out of order: %q, %q", res.Messages[2].ToolCallID, res.Messages[3].ToolCallID)
	}
}

func TestAgent_LoopExceeded(t *testing.T) {
	client := llmtest.New(llmtest.Calls(llm.ToolCall{ID: "t", Name: "query_graph_database", Args: map[string]any{"query_description": "again"}}))
	client.Repeat = true
	a := newTestAgent(t, client, Config{MaxIterations: 3}, graphTool())

	_, err := a.Run(context.Background(), "loop", "never ends")
	var lee *LoopExceededError
	if !errors.As(err, &lee) || lee.Limit != 3 {
		t.Fatalf("expected LoopExceededError(3), got %v", err)
	}
	if n := len(client.Requests()); n != 3 {
		t.Fatalf("expected 3 model calls, got %d", n)
	}
	conv, _ := a.Store().Get("loop")
	if conv.Len() != 0 {
		t.Fatalf("failed turn must not be committed, got %d messages", conv.Len())
	}
}

func TestAgent_CompletionFailureCommitsNothing(t *testing.T) {
	client := llmtest.New(
		llmtest.Text("first answer"),
		llmtest.Calls(llm.ToolCall{ID: "t", Name: "query_graph_database", Args: map[string]any{"query_description": "q"}}),
		llmtest.Fail(errors.New("503 service unavailable")),
	)
	a := newTestAgent(t, client, Config{}, graphTool())

	if _, err := a.Run(context.Background(), "s", "hello"); err != nil {
		t.Fatal(err)
	}
	_, err := a.Run(context.Background(), "s", "now with tools")
	var cse *CompletionServiceError
	if !errors.As(err, &cse) {
		t.Fatalf("expected CompletionServiceError, got %v", err)
	}

	conv, _ := a.Store().Get("s")
	if conv.Len() != 2 {
		t.Fatalf("expected only the first turn committed, got %d messages", conv.Len())
	}
	if err := conv.Messages().Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestAgent_MalformedCompletion(t *testing.T) {
	tests := []struct {
		name  string
		reply llmtest.Reply
	}{
		{"duplicate ids", llmtest.Calls(
			llm.ToolCall{ID: "d", Name: "query_graph_database"},
			llm.ToolCall{ID: "d", Name: "query_graph_database"},
		)},
		{"missing name", llmtest.Calls(llm.ToolCall{ID: "a"})},
		{"empty", llmtest.Text("")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAgent(t, llmtest.New(tt.reply), Config{}, graphTool())
			_, err := a.Run(context.Background(), "m", "q")
			var cse *CompletionServiceError
			if !errors.As(err, &cse) {
				t.Fatalf("expected CompletionServiceError, got %v", err)
			}
		})
	}
}

func TestAgent_EmptyMessage(t *testing.T) {
	a := newTestAgent(t, llmtest.New(), Config{}, graphTool())
	if _, err := a.Run(context.Background(), "", "   "); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
	if a.Store().Len() != 0 {
		t.Fatal("empty message must not create a session")
	}
}

func TestStep_DoesNotMutateHistory(t *testing.T) {
	client := llmtest.New(llmtest.Calls(llm.ToolCall{ID: "t", Name: "query_graph_database", Args: map[string]any{"query_description": "q"}}))
	step := NewStep(client, mustRegistry(t, graphTool()), StepConfig{})

	history := []Message{Human("hi"), AI("hello"), Human("who makes revlimid?")}
	before := append([]Message(nil), history...)

	msg, err := step.Next(context.Background(), history, nil)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(before, history); diff != "" {
		t.Fatalf("history mutated (-before +after):\n%s", diff)
	}
	if msg.Role != RoleAssistant || len(msg.ToolCalls) != 1 || msg.ToolCalls[0].ID != "t" {
		t.Fatalf("unexpected assistant message %+v", msg)
	}
}

func TestAgent_RunStream(t *testing.T) {
	client := llmtest.New(
		llmtest.Calls(llm.ToolCall{ID: "t1", Name: "query_graph_database", Args: map[string]any{"query_description": "q"}}),
		llmtest.Text("streamed answer"),
	)
	a := newTestAgent(t, client, Config{Step: StepConfig{Model: "test-model"}}, graphTool())

	events := make(chan StreamEvent)
	go a.RunStream(context.Background(), "stream", "q", events)

	var kinds []string
	var last StreamEvent
	for ev := range events {
		kinds = append(kinds, ev.Event)
		last = ev
	}

	want := []string{
		EventModelStart, EventModelEnd,
		EventToolStart, EventToolEnd,
		EventModelStart, EventToken, EventModelEnd,
		EventDone,
	}
	if diff := cmp.Diff(want, kinds); diff != "" {
		t.Fatalf("event sequence mismatch (-want +got):\n%s", diff)
	}
	data := last.Data.(map[string]any)
	if data["answer"] != "streamed answer" || data["session_id"] != "stream" {
		t.Fatalf("unexpected done data %+v", data)
	}
}

func TestAgent_RunStreamError(t *testing.T) {
	a := newTestAgent(t, llmtest.New(llmtest.Fail(errors.New("down"))), Config{}, graphTool())

	events := make(chan StreamEvent)
	go a.RunStream(context.Background(), "s", "q", events)

	var last StreamEvent
	for ev := range events {
		last = ev
	}
	if last.Event != EventError {
		t.Fatalf("expected error event last, got %q", last.Event)
	}
}

type recordingObserver struct{ reports []TurnReport }

func (r *recordingObserver) ObserveTurn(rep TurnReport) { r.reports = append(r.reports, rep) }

func TestAgent_Observer(t *testing.T) {
	obs := &recordingObserver{}
	client := llmtest.New(
		llmtest.Calls(llm.ToolCall{ID: "t1", Name: "query_graph_database", Args: map[string]any{"query_description": "q"}}),
		llmtest.Text("ok"),
	)
	store := NewConversationStore()
	defer store.Close()
	a := NewAgent(Config{}, client, mustRegistry(t, graphTool()), store, nil, WithObserver(obs))

	if _, err := a.Run(context.Background(), "o", "q"); err != nil {
		t.Fatal(err)
	}
	if len(obs.reports) != 1 {
		t.Fatalf("expected 1 report, got %d", len(obs.reports))
	}
	rep := obs.reports[0]
	if rep.Outcome != "ok" || rep.Iterations != 2 || rep.ToolCalls != 1 || rep.SessionID != "o" {
		t.Fatalf("unexpected report %+v", rep)
	}
}

func TestLoopState_String(t *testing.T) {
	if AwaitingModel.String() != "awaiting_model" || DispatchingTools.String() != "dispatching_tools" || Done.String() != "done" {
		t.Fatal("unexpected state names")
	}
}
