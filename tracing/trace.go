// Package tracing records per-turn spans for model calls, tool calls and
// loop transitions, and keeps recent traces in memory.
package tracing

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"pharmachat/agent"
)

// Span represents a single timed operation within a trace.
type Span struct {
	Name       string         `json:"name"`
	StartTime  time.Time      `json:"start_time"`
	EndTime    time.Time      `json:"end_time"`
	DurationMs float64        `json:"duration_ms"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Trace collects all spans for a single turn.
type Trace struct {
	mu         sync.Mutex     `json:"-"`
	TraceID    string         `json:"trace_id"`
	SessionID  string         `json:"session_id"`
	Model      string         `json:"model"`
	Transport  string         `json:"transport"` // "http", "sse", "ws" or "cli"
	StartTime  time.Time      `json:"start_time"`
	EndTime    time.Time      `json:"end_time"`
	DurationMs float64        `json:"duration_ms"`
	Spans      []Span         `json:"spans"`
	Input      map[string]any `json:"input,omitempty"`
	Output     map[string]any `json:"output,omitempty"`
	Error      string         `json:"error,omitempty"`
}

var _ agent.TraceRecorder = (*Trace)(nil)

// NewTrace starts a trace for one turn.
func NewTrace(sessionID, model, transport, message string) *Trace {
	return &Trace{
		TraceID:   uuid.NewString(),
		SessionID: sessionID,
		Model:     model,
		Transport: transport,
		StartTime: time.Now(),
		Spans:     []Span{},
		Input:     map[string]any{"message": message},
	}
}

// SpanRecorder is the handle returned by StartSpan.
type SpanRecorder struct {
	trace *Trace
	span  Span
}

var _ agent.SpanHandle = (*SpanRecorder)(nil)

// StartSpan begins recording a timed span.
func (t *Trace) StartSpan(name string) agent.SpanHandle {
	return &SpanRecorder{
		trace: t,
		span:  Span{Name: name, StartTime: time.Now(), Metadata: map[string]any{}},
	}
}

// RecordEvent records an instantaneous event.
func (t *Trace) RecordEvent(name string, metadata map[string]any) {
	now := time.Now()
	t.addSpan(Span{Name: name, StartTime: now, EndTime: now, Metadata: metadata})
}

func (sr *SpanRecorder) Set(key string, value any) agent.SpanHandle {
	sr.span.Metadata[key] = value
	return sr
}

func (sr *SpanRecorder) End() {
	sr.span.EndTime = time.Now()
	sr.span.DurationMs = float64(sr.span.EndTime.Sub(sr.span.StartTime)) / float64(time.Millisecond)
	sr.trace.addSpan(sr.span)
}

func (t *Trace) addSpan(s Span) {
	t.mu.Lock()
	t.Spans = append(t.Spans, s)
	t.mu.Unlock()
}

// Finish closes the trace with the turn's result.
func (t *Trace) Finish(res *agent.TurnResult, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.EndTime = time.Now()
	t.DurationMs = float64(t.EndTime.Sub(t.StartTime)) / float64(time.Millisecond)
	if res != nil {
		t.SessionID = res.SessionID
		t.Output = map[string]any{
			"answer":     res.Answer,
			"iterations": res.Iterations,
			"messages":   len(res.Messages),
		}
	}
	if err != nil {
		t.Error = err.Error()
	}
}

// SpanNames returns the names of the recorded spans in order.
func (t *Trace) SpanNames() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	names := make([]string, len(t.Spans))
	for i, s := range t.Spans {
		names[i] = s.Name
	}
	return names
}

// DefaultStoreSize is the number of traces kept by default.
const DefaultStoreSize = 500

// Store holds recent traces in memory with bounded capacity.
type Store struct {
	mu     sync.RWMutex
	traces map[string]*Trace
	order  []string // FIFO order for eviction
	max    int
}

// NewStore creates a store that retains up to maxSize traces.
func NewStore(maxSize int) *Store {
	if maxSize <= 0 {
		maxSize = DefaultStoreSize
	}
	return &Store{
		traces: make(map[string]*Trace),
		order:  make([]string, 0, maxSize),
		max:    maxSize,
	}
}

// Put stores a trace, evicting the oldest if at capacity.
func (s *Store) Put(t *Trace) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.order) >= s.max {
		oldest := s.order[0]
		delete(s.traces, oldest)
		s.order = s.order[1:]
	}
	s.traces[t.TraceID] = t
	s.order = append(s.order, t.TraceID)
}

// Get returns a trace by ID, or nil if not found.
func (s *Store) Get(traceID string) *Trace {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.traces[traceID]
}

// List returns the most recent traces first, up to limit, optionally
// restricted to one session.
func (s *Store) List(limit int, sessionID string) []*Trace {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = len(s.order)
	}
	result := make([]*Trace, 0, min(limit, len(s.order)))
	for i := len(s.order) - 1; i >= 0 && len(result) < limit; i-- {
		t := s.traces[s.order[i]]
		if sessionID != "" && t.SessionID != sessionID {
			continue
		}
		result = append(result, t)
	}
	return result
}

// WithTrace stores the trace in context via agent.WithTraceRecorder.
func WithTrace(ctx context.Context, t *Trace) context.Context {
	return agent.WithTraceRecorder(ctx, t)
}

// FromContext extracts the concrete *Trace from context.
func FromContext(ctx context.Context) *Trace {
	t, _ := agent.TraceFromContext(ctx).(*Trace)
	return t
}
