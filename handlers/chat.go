package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"pharmachat/agent"
	"pharmachat/sse"
	"pharmachat/tracing"
)

type chatRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
}

func decodeChat(w http.ResponseWriter, r *http.Request) (chatRequest, bool) {
	var req chatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return req, false
	}
	if strings.TrimSpace(req.Message) == "" {
		writeJSONError(w, http.StatusBadRequest, agent.ErrEmptyMessage.Error())
		return req, false
	}
	return req, true
}

// startTrace attaches a new trace to ctx. The caller finishes it with
// finishTrace.
func (h *chatHandler) startTrace(ctx context.Context, transport string, req chatRequest) (context.Context, *tracing.Trace) {
	tr := tracing.NewTrace(req.SessionID, h.deps.Model, transport, req.Message)
	return tracing.WithTrace(ctx, tr), tr
}

func (h *chatHandler) finishTrace(tr *tracing.Trace, res *agent.TurnResult, err error) {
	tr.Finish(res, err)
	h.deps.Traces.Put(tr)
}

// --- Chat (JSON) ---

func (h *chatHandler) chat(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeChat(w, r)
	if !ok {
		return
	}

	ctx, tr := h.startTrace(r.Context(), "http", req)
	res, err := h.deps.Agent.Run(ctx, req.SessionID, req.Message)
	h.finishTrace(tr, res, err)
	if err != nil {
		h.deps.Logger.Error("chat turn failed", "session", req.SessionID, "trace", tr.TraceID, "error", err)
		writeJSONError(w, statusFor(err), err.Error())
		return
	}

	conv, _ := h.store().Get(res.SessionID)
	count := 0
	if conv != nil {
		count = conv.Len()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":    res.SessionID,
		"answer":        res.Answer,
		"message_count": count,
		"trace_id":      tr.TraceID,
	})
}

// --- Stream (SSE) ---

func (h *chatHandler) stream(w http.ResponseWriter, r *http.Request) {
	// Validate before SSE headers are sent (NewWriter commits 200).
	req, ok := decodeChat(w, r)
	if !ok {
		return
	}

	sseWriter := sse.NewWriter(w)
	if sseWriter == nil {
		writeJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	ctx, tr := h.startTrace(ctx, "sse", req)

	eventCh := make(chan agent.StreamEvent, 64)
	go h.deps.Agent.RunStream(ctx, req.SessionID, req.Message, eventCh)

	res, err := forward(eventCh, func(ev agent.StreamEvent) error {
		return sseWriter.SendEvent(ev.Event, ev)
	}, cancel)
	h.finishTrace(tr, res, err)
}

// forward relays events to send until the agent closes the channel. A send
// failure cancels the turn; the channel is still drained. It returns the
// turn's outcome as read from the final event.
func forward(eventCh <-chan agent.StreamEvent, send func(agent.StreamEvent) error, cancel context.CancelFunc) (*agent.TurnResult, error) {
	var res *agent.TurnResult
	var turnErr error
	broken := false

	for ev := range eventCh {
		switch ev.Event {
		case agent.EventDone:
			res = resultFromDone(ev)
		case agent.EventError:
			turnErr = errorFromEvent(ev)
		}
		if broken {
			continue
		}
		if err := send(ev); err != nil {
			broken = true
			cancel()
		}
	}
	return res, turnErr
}

func resultFromDone(ev agent.StreamEvent) *agent.TurnResult {
	res := &agent.TurnResult{SessionID: ev.SessionID}
	if data, ok := ev.Data.(map[string]any); ok {
		res.Answer, _ = data["answer"].(string)
		res.Iterations, _ = data["iterations"].(int)
	}
	return res
}

func errorFromEvent(ev agent.StreamEvent) error {
	if data, ok := ev.Data.(map[string]string); ok {
		return errors.New(data["error"])
	}
	return errors.New("turn failed")
}
