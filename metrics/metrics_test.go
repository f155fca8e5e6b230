package metrics

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"pharmachat/agent"
	"pharmachat/llm"
	"pharmachat/llm/llmtest"
)

func TestCollector_ObservesAgentTurns(t *testing.T) {
	c := New()

	reg, err := agent.NewToolRegistry(
		&agent.FuncTool{ToolName: "ok", Fn: func(context.Context, map[string]any) (string, error) { return "fine", nil }},
		&agent.FuncTool{ToolName: "bad", Fn: func(context.Context, map[string]any) (string, error) { return "", errors.New("down") }},
	)
	if err != nil {
		t.Fatal(err)
	}
	client := llmtest.New(
		llmtest.Calls(llm.ToolCall{ID: "1", Name: "ok"}, llm.ToolCall{ID: "2", Name: "bad"}),
		llmtest.Text("done"),
		llmtest.Fail(errors.New("quota")),
	)
	store := agent.NewConversationStore()
	defer store.Close()
	a := agent.NewAgent(agent.Config{}, client, reg, store, []agent.Hook{c.Hook()}, agent.WithObserver(c))
	c.TrackSessions(store.Len)

	if _, err := a.Run(context.Background(), "s1", "first"); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Run(context.Background(), "s1", "second"); err == nil {
		t.Fatal("expected completion failure")
	}

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"turns ok", testutil.ToFloat64(c.turns.WithLabelValues("ok")), 1},
		{"turns completion_error", testutil.ToFloat64(c.turns.WithLabelValues("completion_error")), 1},
		{"model ok", testutil.ToFloat64(c.modelCalls.WithLabelValues("ok")), 2},
		{"model error", testutil.ToFloat64(c.modelCalls.WithLabelValues("error")), 1},
		{"tool ok", testutil.ToFloat64(c.toolCalls.WithLabelValues("ok", "ok")), 1},
		{"tool error", testutil.ToFloat64(c.toolCalls.WithLabelValues("bad", "error")), 1},
	}
	for _, tt := range checks {
		if tt.got != tt.want {
			t.Fatalf("%s: expected %v, got %v", tt.name, tt.want, tt.got)
		}
	}
}

func TestCollector_Handler(t *testing.T) {
	c := New()
	c.TrackSessions(func() int { return 3 })
	c.ObserveTurn(agent.TurnReport{Outcome: "ok", Iterations: 2, Duration: 1500 * time.Millisecond})

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	for _, want := range []string{
		`pharmachat_turns_total{outcome="ok"} 1`,
		`pharmachat_sessions_active 3`,
		`pharmachat_loop_iterations_count 1`,
		`pharmachat_turn_duration_seconds_sum 1.5`,
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("exposition missing %q", want)
		}
	}
}
