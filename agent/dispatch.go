package agent

import (
	"context"
	"fmt"
	"runtime/debug"

	"golang.org/x/sync/errgroup"
)

// Dispatcher executes the tool calls of one assistant message. It never
// fails: every call yields exactly one result message, in call order.
type Dispatcher struct {
	registry    *ToolRegistry
	hooks       []Hook
	parallelism int
}

// NewDispatcher creates a Dispatcher. parallelism <= 1 runs calls one after
// another; larger values run up to that many calls at once.
func NewDispatcher(registry *ToolRegistry, parallelism int, hooks ...Hook) *Dispatcher {
	return &Dispatcher{registry: registry, hooks: hooks, parallelism: parallelism}
}

// Dispatch runs calls and returns one tool message per call, result i
// answering call i.
func (d *Dispatcher) Dispatch(ctx context.Context, calls []ToolCall) []Message {
	return d.DispatchStream(ctx, calls, nil)
}

// DispatchStream is Dispatch that also reports tool_start and tool_end
// events on events (which may be nil).
func (d *Dispatcher) DispatchStream(ctx context.Context, calls []ToolCall, events chan<- StreamEvent) []Message {
	results := make([]Message, len(calls))
	chain := d.buildToolCallChain()

	run := func(idx int, tc ToolCall) {
		emit(ctx, events, StreamEvent{
			Event: EventToolStart,
			Name:  tc.Name,
			RunID: tc.ID,
			Data:  map[string]any{"input": tc.Args},
		})

		result := d.call(ctx, chain, tc)
		results[idx] = ToolMsg(tc.ID, tc.Name, result.Output)

		data := map[string]any{"output": result.Output}
		if result.Error != "" {
			data["error"] = result.Error
		}
		emit(ctx, events, StreamEvent{Event: EventToolEnd, Name: tc.Name, RunID: tc.ID, Data: data})
	}

	if d.parallelism <= 1 || len(calls) < 2 {
		for i, tc := range calls {
			run(i, tc)
		}
		return results
	}

	var g errgroup.Group
	g.SetLimit(d.parallelism)
	for i, tc := range calls {
		g.Go(func() error {
			run(i, tc)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// call runs one call through the hook chain and folds any failure into the
// result text.
func (d *Dispatcher) call(ctx context.Context, chain ToolCallFunc, tc ToolCall) ToolResult {
	wrapped, err := chain(ctx, tc)
	switch {
	case err != nil:
		return failedResult(tc, err)
	case wrapped == nil:
		return failedResult(tc, fmt.Errorf("tool %s returned no result", tc.Name))
	}
	result := *wrapped
	result.ToolCallID = tc.ID
	result.Name = tc.Name
	return result
}

func (d *Dispatcher) execute(ctx context.Context, tc ToolCall) (result *ToolResult, err error) {
	tool, ok := d.registry.Get(tc.Name)
	if !ok {
		r := failedResult(tc, &UnknownToolError{Name: tc.Name})
		return &r, nil
	}

	defer func() {
		if p := recover(); p != nil {
			r := failedResult(tc, fmt.Errorf("tool %s panicked: %v", tc.Name, p))
			r.Stack = string(debug.Stack())
			result, err = &r, nil
		}
	}()

	args := tc.Args
	if args == nil {
		args = map[string]any{}
	}
	output, execErr := tool.Execute(ctx, args)
	if execErr != nil {
		r := failedResult(tc, execErr)
		return &r, nil
	}
	return &ToolResult{ToolCallID: tc.ID, Name: tc.Name, Output: output}, nil
}

// buildToolCallChain wraps execute with all WrapToolCall hooks
// (reverse order so index 0 is outermost).
func (d *Dispatcher) buildToolCallChain() ToolCallFunc {
	fn := ToolCallFunc(d.execute)
	for i := len(d.hooks) - 1; i >= 0; i-- {
		hook := d.hooks[i]
		prev := fn
		fn = func(ctx context.Context, tc ToolCall) (*ToolResult, error) {
			return hook.WrapToolCall(ctx, tc, prev)
		}
	}
	return fn
}

func failedResult(tc ToolCall, err error) ToolResult {
	return ToolResult{
		ToolCallID: tc.ID,
		Name:       tc.Name,
		Error:      err.Error(),
		Output:     "Error: " + err.Error(),
	}
}
