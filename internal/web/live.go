package web

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"AIChatbot/internal/chat"
	"AIChatbot/internal/session"
)

const (
	writeWait      = 10 * time.Second
	maxFrameBytes  = 64 << 10
	actionMode     = "mode"
	actionInput    = "input"
	actionSubmit   = "submit"
	frameTypeState = "state"
	frameTypeError = "error"
)

// clientFrame is a message from the chat page
type clientFrame struct {
	Action string `json:"action"`
	Mode   string `json:"mode,omitempty"`
	Text   string `json:"text,omitempty"`
}

// serverFrame is a message to the chat page
type serverFrame struct {
	Type  string         `json:"type"`
	State *session.State `json:"state,omitempty"`
	Error string         `json:"error,omitempty"`
}

// liveConn serialises writes to one WebSocket
type liveConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *liveConn) send(frame serverFrame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteJSON(frame)
}

// handleLive binds one WebSocket connection to a fresh chat session. The
// session lives exactly as long as the connection.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxFrameBytes)

	sess := chat.NewSession(s.opts.Generator, chat.Options{
		Greeting:       s.opts.Greeting,
		CredentialHint: s.opts.CredentialHint,
		Tracer:         s.opts.Tracer,
		Meter:          s.opts.Meter,
		Logger:         s.logger,
	})
	sessionID := sess.ID()
	s.sessions.Store(sessionID, sess)
	s.addActive(r.Context(), 1)
	s.logger.Info("chat session opened", "session_id", sessionID, "remote", r.RemoteAddr)

	live := &liveConn{conn: conn}
	unsubscribe := sess.Subscribe(func(st session.State) {
		if err := live.send(serverFrame{Type: frameTypeState, State: &st}); err != nil {
			s.logger.Debug("dropped state frame", "session_id", sessionID, "error", err)
		}
	})

	defer func() {
		unsubscribe()
		s.sessions.Delete(sessionID)
		s.addActive(context.Background(), -1)
		s.logger.Info("chat session closed", "session_id", sessionID)
	}()

	initial := sess.Snapshot()
	if err := live.send(serverFrame{Type: frameTypeState, State: &initial}); err != nil {
		s.logger.Warn("failed to send initial state", "session_id", sessionID, "error", err)
		return
	}

	// Requests outlive the connection: a reply that arrives after the page
	// is gone lands in the dropped session.
	submitCtx := context.WithoutCancel(r.Context())

	for {
		var frame clientFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read failed", "session_id", sessionID, "error", err)
			}
			return
		}
		s.dispatch(submitCtx, sess, live, frame)
	}
}

func (s *Server) dispatch(ctx context.Context, sess *chat.Session, live *liveConn, frame clientFrame) {
	switch frame.Action {
	case actionMode:
		if err := sess.SetMode(session.MessageType(frame.Mode)); err != nil {
			s.sendError(live, err)
		}
	case actionInput:
		sess.SetInput(frame.Text)
	case actionSubmit:
		mode := session.MessageType(frame.Mode)
		if mode == "" {
			mode = sess.Snapshot().Mode
		}
		go func() {
			err := sess.Submit(ctx, frame.Text, mode)
			if errors.Is(err, chat.ErrBusy) || errors.Is(err, chat.ErrInvalidMode) {
				s.sendError(live, err)
			} else if err != nil {
				s.logger.Error("submit failed", "session_id", sess.ID(), "error", err)
			}
		}()
	default:
		s.sendError(live, errors.New("unknown action: "+frame.Action))
	}
}

func (s *Server) sendError(live *liveConn, err error) {
	if sendErr := live.send(serverFrame{Type: frameTypeError, Error: err.Error()}); sendErr != nil {
		s.logger.Debug("dropped error frame", "error", sendErr)
	}
}

func (s *Server) addActive(ctx context.Context, delta int64) {
	if s.active != nil {
		s.active.Add(ctx, delta)
	}
}
