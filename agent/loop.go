package agent

import (
	"context"
	"errors"
	"strings"
	"time"

	"pharmachat/llm"
)

// DefaultMaxIterations bounds the model calls of one turn.
const DefaultMaxIterations = 10

// LoopState is the control loop's position within a turn.
type LoopState int

const (
	AwaitingModel LoopState = iota
	DispatchingTools
	Done
)

func (s LoopState) String() string {
	switch s {
	case AwaitingModel:
		return "awaiting_model"
	case DispatchingTools:
		return "dispatching_tools"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}

// Config configures an Agent.
type Config struct {
	Step          StepConfig
	MaxIterations int
	// Parallelism > 1 runs the tool calls of one message concurrently.
	Parallelism int
}

// TurnResult is the outcome of a completed turn.
type TurnResult struct {
	SessionID  string
	Answer     string
	Messages   []Message // messages the turn appended
	Iterations int
	Duration   time.Duration
}

// TurnReport is passed to observers after every turn, failed or not.
type TurnReport struct {
	SessionID  string
	Outcome    string // "ok", "completion_error", "loop_exceeded", "canceled", "error"
	Iterations int
	ToolCalls  int
	Duration   time.Duration
	Err        error
}

// TurnObserver receives a report after every turn.
type TurnObserver interface {
	ObserveTurn(TurnReport)
}

// Agent runs turns: it alternates completion calls and tool dispatch until
// the model answers without requesting tools.
type Agent struct {
	step          *Step
	dispatcher    *Dispatcher
	store         *ConversationStore
	registry      *ToolRegistry
	maxIterations int
	observers     []TurnObserver
}

// Option configures an Agent.
type Option func(*Agent)

// WithObserver adds a turn observer.
func WithObserver(o TurnObserver) Option {
	return func(a *Agent) { a.observers = append(a.observers, o) }
}

// NewAgent creates an Agent. Hooks apply to both model and tool calls; the
// first hook is the outermost layer.
func NewAgent(cfg Config, client llm.Client, registry *ToolRegistry, store *ConversationStore, hooks []Hook, opts ...Option) *Agent {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	a := &Agent{
		step:          NewStep(client, registry, cfg.Step, hooks...),
		dispatcher:    NewDispatcher(registry, cfg.Parallelism, hooks...),
		store:         store,
		registry:      registry,
		maxIterations: cfg.MaxIterations,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Store returns the conversation store the agent commits to.
func (a *Agent) Store() *ConversationStore { return a.store }

// Registry returns the agent's tools.
func (a *Agent) Registry() *ToolRegistry { return a.registry }

// Run executes one turn and returns the final answer. An empty sessionID
// starts a new session; an unknown one is created.
func (a *Agent) Run(ctx context.Context, sessionID, text string) (*TurnResult, error) {
	return a.runTurn(ctx, sessionID, text, nil)
}

// RunStream executes one turn, streaming events to eventCh, and closes it.
// The last event is "done" or "error".
func (a *Agent) RunStream(ctx context.Context, sessionID, text string, eventCh chan<- StreamEvent) {
	defer close(eventCh)

	res, err := a.runTurn(ctx, sessionID, text, eventCh)
	if err != nil {
		ev := StreamEvent{Event: EventError, SessionID: sessionID, Data: map[string]string{"error": err.Error()}}
		if ctx.Err() == nil {
			eventCh <- ev
			return
		}
		// Best effort once the consumer may have gone away.
		select {
		case eventCh <- ev:
		default:
		}
		return
	}

	emit(ctx, eventCh, StreamEvent{
		Event:     EventDone,
		SessionID: res.SessionID,
		Data: map[string]any{
			"session_id":  res.SessionID,
			"answer":      res.Answer,
			"iterations":  res.Iterations,
			"duration_ms": res.Duration.Milliseconds(),
		},
	})
}

func (a *Agent) runTurn(ctx context.Context, sessionID, text string, events chan<- StreamEvent) (*TurnResult, error) {
	start := time.Now()
	report := TurnReport{SessionID: sessionID}
	defer func() {
		report.Duration = time.Since(start)
		for _, o := range a.observers {
			o.ObserveTurn(report)
		}
	}()

	if strings.TrimSpace(text) == "" {
		report.Outcome, report.Err = "error", ErrEmptyMessage
		return nil, ErrEmptyMessage
	}

	conv := a.store.GetOrCreate(sessionID)
	report.SessionID = conv.ID()
	ctx = WithSessionID(ctx, conv.ID())

	conv.turn.Lock()
	defer conv.turn.Unlock()

	history := conv.Messages()
	staged, answer, iterations, err := a.loop(ctx, history, Human(text), events)
	report.Iterations = iterations
	report.ToolCalls = Messages(staged).ToolCallCount()
	if err != nil {
		report.Outcome, report.Err = outcomeOf(err), err
		return nil, err
	}

	conv.append(staged...)
	report.Outcome = "ok"
	return &TurnResult{
		SessionID:  conv.ID(),
		Answer:     answer,
		Messages:   staged,
		Iterations: iterations,
		Duration:   time.Since(start),
	}, nil
}

// loop drives the state machine over history plus the staged turn. It
// returns the staged messages, which the caller commits only on success.
func (a *Agent) loop(ctx context.Context, history []Message, user Message, events chan<- StreamEvent) ([]Message, string, int, error) {
	tr := TraceFromContext(ctx)
	staged := []Message{user}
	state := AwaitingModel
	iterations := 0

	transition := func(to LoopState) {
		if tr != nil {
			tr.RecordEvent("loop.transition", map[string]any{
				"from":      state.String(),
				"to":        to.String(),
				"iteration": iterations,
			})
		}
		state = to
	}

	var pending []ToolCall
	for {
		if err := ctx.Err(); err != nil {
			return staged, "", iterations, err
		}

		switch state {
		case AwaitingModel:
			if iterations >= a.maxIterations {
				return staged, "", iterations, &LoopExceededError{Limit: a.maxIterations}
			}
			iterations++

			msgs := make([]Message, 0, len(history)+len(staged))
			msgs = append(msgs, history...)
			msgs = append(msgs, staged...)

			reply, err := a.step.Next(ctx, msgs, events)
			if err != nil {
				return staged, "", iterations, err
			}
			staged = append(staged, reply)

			if len(reply.ToolCalls) == 0 {
				transition(Done)
				continue
			}
			pending = reply.ToolCalls
			transition(DispatchingTools)

		case DispatchingTools:
			staged = append(staged, a.dispatcher.DispatchStream(ctx, pending, events)...)
			pending = nil
			transition(AwaitingModel)

		case Done:
			return staged, staged[len(staged)-1].Content, iterations, nil
		}
	}
}

func outcomeOf(err error) string {
	var cse *CompletionServiceError
	var lee *LoopExceededError
	switch {
	case errors.As(err, &cse):
		return "completion_error"
	case errors.As(err, &lee):
		return "loop_exceeded"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}
