// Package handlers exposes the agent over HTTP: JSON chat, SSE streaming,
// websocket chat, session management, tool listing and traces.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"pharmachat/agent"
	"pharmachat/sse"
	"pharmachat/tracing"
)

const maxBodyBytes = 1 << 20

// Deps holds shared dependencies injected into handlers.
type Deps struct {
	Agent *agent.Agent
	// Model is reported in traces.
	Model string

	Traces *tracing.Store
	// Events relays store lifecycle events; wire its Publish method as the
	// store listener.
	Events *EventBus

	// Metrics and UI are optional.
	Metrics http.Handler
	UI      http.Handler

	Logger *slog.Logger
}

// RegisterRoutes registers all routes on mux.
func RegisterRoutes(mux *http.ServeMux, deps *Deps) {
	if deps.Events == nil {
		deps.Events = NewEventBus()
	}
	if deps.Traces == nil {
		deps.Traces = tracing.NewStore(tracing.DefaultStoreSize)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	h := &chatHandler{deps: deps}

	mux.HandleFunc("GET /health", h.health)
	if deps.Metrics != nil {
		mux.Handle("GET /metrics", deps.Metrics)
	}

	mux.HandleFunc("POST /api/sessions", h.createSession)
	mux.HandleFunc("GET /api/sessions/{id}", h.getSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", h.deleteSession)
	mux.HandleFunc("POST /api/sessions/{id}/reset", h.resetSession)

	mux.HandleFunc("POST /api/chat", h.chat)
	mux.HandleFunc("POST /api/chat/stream", h.stream)
	mux.HandleFunc("GET /api/chat/ws", h.chatSocket)

	mux.HandleFunc("GET /api/tools", h.listTools)
	mux.HandleFunc("GET /api/traces", h.listTraces)
	mux.HandleFunc("GET /api/traces/{id}", h.getTrace)
	mux.HandleFunc("GET /api/events", h.sessionEvents)

	if deps.UI != nil {
		mux.Handle("GET /", deps.UI)
	}
}

type chatHandler struct {
	deps *Deps
}

func (h *chatHandler) store() *agent.ConversationStore { return h.deps.Agent.Store() }

func (h *chatHandler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"tools":    h.deps.Agent.Registry().Len(),
		"sessions": h.store().Len(),
	})
}

// --- Sessions ---

func (h *chatHandler) createSession(w http.ResponseWriter, r *http.Request) {
	conv := h.store().New()
	writeJSON(w, http.StatusCreated, map[string]string{"session_id": conv.ID()})
}

func (h *chatHandler) getSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	conv, ok := h.store().Get(id)
	if !ok {
		writeJSONError(w, http.StatusNotFound, agent.ErrSessionNotFound.Error())
		return
	}
	msgs := conv.Messages()
	if msgs == nil {
		msgs = agent.Messages{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":    conv.ID(),
		"message_count": len(msgs),
		"messages":      msgs,
		"updated_at":    conv.UpdatedAt(),
	})
}

func (h *chatHandler) deleteSession(w http.ResponseWriter, r *http.Request) {
	if !h.store().Delete(r.PathValue("id")) {
		writeJSONError(w, http.StatusNotFound, agent.ErrSessionNotFound.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *chatHandler) resetSession(w http.ResponseWriter, r *http.Request) {
	conv := h.store().Reset(r.PathValue("id"))
	writeJSON(w, http.StatusOK, map[string]string{"session_id": conv.ID()})
}

// --- Tools / Traces ---

func (h *chatHandler) listTools(w http.ResponseWriter, r *http.Request) {
	schemas := h.deps.Agent.Registry().Schemas()
	tools := make([]map[string]any, 0, len(schemas))
	for _, s := range schemas {
		tools = append(tools, map[string]any{
			"name":        s.Name,
			"description": s.Description,
			"parameters":  s.Parameters,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": tools})
}

func (h *chatHandler) listTraces(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	traces := h.deps.Traces.List(limit, r.URL.Query().Get("session_id"))
	writeJSON(w, http.StatusOK, map[string]any{"traces": traces})
}

func (h *chatHandler) getTrace(w http.ResponseWriter, r *http.Request) {
	t := h.deps.Traces.Get(r.PathValue("id"))
	if t == nil {
		writeJSONError(w, http.StatusNotFound, "trace not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// --- Events (SSE relay) ---

func (h *chatHandler) sessionEvents(w http.ResponseWriter, r *http.Request) {
	sseWriter := sse.NewWriter(w)
	if sseWriter == nil {
		writeJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ch := h.deps.Events.Subscribe()
	defer h.deps.Events.Unsubscribe(ch)

	ctx := r.Context()
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-ch:
			if err := sseWriter.SendEvent(ev.Kind, ev); err != nil {
				return
			}
		case <-ticker.C:
			if err := sseWriter.SendComment("keep-alive"); err != nil {
				return
			}
		}
	}
}

// --- Helpers ---

// statusFor maps a turn error to an HTTP status.
func statusFor(err error) int {
	var cse *agent.CompletionServiceError
	switch {
	case errors.Is(err, agent.ErrEmptyMessage):
		return http.StatusBadRequest
	case errors.As(err, &cse):
		return http.StatusBadGateway
	default: // loop overrun, cancellation
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
