package api

import (
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/vinayprograms/crew/internal/session"
)

// Frame is one websocket message sent to a chat client.
type Frame struct {
	Type      string      `json:"type"`
	Agent     string      `json:"agent,omitempty"`
	Content   string      `json:"content,omitempty"`
	Artifacts interface{} `json:"artifacts,omitempty"`
	Complete  bool        `json:"complete"`
}

// FrameDone closes the frames of one message.
const FrameDone = "done"

// wsOutput writes conversation events as frames.
type wsOutput struct {
	mu   sync.Mutex
	conn *websocket.Conn
	err  error
}

func (o *wsOutput) Emit(e session.Event) {
	f := Frame{Type: e.Kind, Agent: e.Agent, Content: e.Content, Artifacts: e.Artifacts}
	if e.Payload != nil {
		f.Content = e.Payload.Message
	}
	o.write(f)
}

func (o *wsOutput) write(f Frame) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return
	}
	o.err = o.conn.WriteJSON(f)
}

// handleChat upgrades to a websocket. Each inbound text frame is one
// message to the agent; events stream back as frames and a done frame
// carries the final result. The session query parameter selects a session,
// otherwise the agent's default session is used.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	a, err := s.loader.Find(ctx, chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	var sess *session.Session
	if id := r.URL.Query().Get("session"); id != "" {
		sess, err = s.conv.Sessions().Load(ctx, id)
		if err == nil && sess.AgentID == "" {
			sess.AgentID = a.ID()
		}
	} else {
		sess, err = s.conv.Sessions().ForAgent(ctx, a.ID())
	}
	if err != nil {
		s.writeError(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}
	defer conn.Close()
	s.logger.Info("chat connected", map[string]interface{}{"agent": a.Name(), "session": sess.ID})

	out := &wsOutput{conn: conn}
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("chat closed", map[string]interface{}{"error": err.Error()})
			}
			return
		}
		if kind != websocket.TextMessage || len(data) == 0 {
			continue
		}

		res := s.conv.Run(ctx, sess, a, string(data), session.Options{Stream: true, Output: out})
		out.write(Frame{Type: FrameDone, Agent: a.Name(), Content: res.Result, Complete: true})
		if out.err != nil {
			return
		}
	}
}
