package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"pharmachat/agent"
)

const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Origin checks are left to the CORS and auth middleware.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsFrame is a client frame: a chat message or {"type": "reset"}.
type wsFrame struct {
	Type      string `json:"type,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message,omitempty"`
}

// chatSocket runs turns for one connection. The connection remembers its
// session so clients may omit session_id after the first turn.
func (h *chatHandler) chatSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.deps.Logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sessionID := ""
	for {
		var frame wsFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.deps.Logger.Debug("websocket closed", "error", err)
			}
			return
		}
		if frame.SessionID != "" {
			sessionID = frame.SessionID
		}

		switch {
		case frame.Type == "reset":
			conv := h.store().Reset(sessionID)
			sessionID = conv.ID()
			if err := writeFrame(conn, agent.StreamEvent{Event: "reset", SessionID: sessionID}); err != nil {
				return
			}

		case strings.TrimSpace(frame.Message) == "":
			ev := agent.StreamEvent{Event: agent.EventError, SessionID: sessionID, Data: map[string]string{"error": agent.ErrEmptyMessage.Error()}}
			if err := writeFrame(conn, ev); err != nil {
				return
			}

		default:
			res, ok := h.wsTurn(conn, sessionID, frame.Message)
			if res != nil {
				sessionID = res.SessionID
			}
			if !ok {
				return
			}
		}
	}
}

// wsTurn streams one turn to conn. It reports false once the connection
// can no longer be written.
func (h *chatHandler) wsTurn(conn *websocket.Conn, sessionID, message string) (*agent.TurnResult, bool) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx, tr := h.startTrace(ctx, "ws", chatRequest{SessionID: sessionID, Message: message})

	eventCh := make(chan agent.StreamEvent, 64)
	go h.deps.Agent.RunStream(ctx, sessionID, message, eventCh)

	ok := true
	res, err := forward(eventCh, func(ev agent.StreamEvent) error {
		if err := writeFrame(conn, ev); err != nil {
			ok = false
			return err
		}
		return nil
	}, cancel)
	h.finishTrace(tr, res, err)
	return res, ok
}

func writeFrame(conn *websocket.Conn, ev agent.StreamEvent) error {
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(ev)
}
