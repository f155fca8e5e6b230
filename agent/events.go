package agent

import "context"

// Stream event names.
const (
	EventModelStart = "model_start"
	EventToken      = "token"
	EventModelEnd   = "model_end"
	EventToolStart  = "tool_start"
	EventToolEnd    = "tool_end"
	EventDone       = "done"
	EventError      = "error"
)

// StreamEvent is sent from the agent loop to streaming transports.
type StreamEvent struct {
	Event     string `json:"event"`
	Name      string `json:"name,omitempty"` // tool name or model name
	RunID     string `json:"run_id,omitempty"`
	Data      any    `json:"data,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// emit sends ev unless ch is nil. It gives up when ctx is done so a consumer
// that stopped reading cannot wedge the turn.
func emit(ctx context.Context, ch chan<- StreamEvent, ev StreamEvent) {
	if ch == nil {
		return
	}
	select {
	case ch <- ev:
	case <-ctx.Done():
	}
}
