package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/MikeSquared-Agency/diagnostician/internal/conversation"
	"github.com/MikeSquared-Agency/diagnostician/internal/session"
	"github.com/MikeSquared-Agency/diagnostician/internal/store"
)

// wsMessage is the frame exchanged on a session stream. Clients send
// {"type":"message","content":...}; the server answers with "reply" or
// "error" frames.
type wsMessage struct {
	Type     string              `json:"type"`
	Content  string              `json:"content,omitempty"`
	Action   conversation.Action `json:"action,omitempty"`
	Phase    conversation.Phase  `json:"phase,omitempty"`
	Complete bool                `json:"complete,omitempty"`
	Error    string              `json:"error,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// stream holds a websocket open for one session so a chat front end can
// exchange turns without a request per message.
func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	if _, err := s.svc.GetSession(r.Context(), id); err != nil {
		s.sessionError(w, id, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "session_id", id, "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxBodyBytes)

	for {
		var in wsMessage
		if err := conn.ReadJSON(&in); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("websocket read ended", "session_id", id, "error", err)
			}
			return
		}
		if in.Type != "message" {
			_ = conn.WriteJSON(wsMessage{Type: "error", Error: "unsupported frame type " + in.Type})
			continue
		}

		res, err := s.svc.HandleTurn(r.Context(), id, in.Content)
		if err != nil {
			out := wsMessage{Type: "error", Error: "internal error"}
			switch {
			case errors.Is(err, session.ErrEmptyMessage):
				out.Error = "message is required"
			case errors.Is(err, store.ErrSessionNotFound):
				out.Error = "session not found"
			default:
				slog.Error("stream turn failed", "session_id", id, "error", err)
			}
			if err := conn.WriteJSON(out); err != nil {
				return
			}
			continue
		}

		out := wsMessage{
			Type:     "reply",
			Content:  res.Reply,
			Action:   res.Decision.Action,
			Phase:    res.State.Phase,
			Complete: res.Complete,
		}
		if err := conn.WriteJSON(out); err != nil {
			slog.Debug("websocket write failed", "session_id", id, "error", err)
			return
		}
		if res.Complete {
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session complete"))
			return
		}
	}
}
