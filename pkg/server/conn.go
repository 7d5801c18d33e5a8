package server

import (
	"encoding/json"
	"net"

	"github.com/sessionbridge/daemon/pkg/connection"
	"github.com/sessionbridge/daemon/pkg/envelope"
)

func marshalJSON(v any) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}

// sendToConnection is the single outbound write path: it delegates to the
// connection's bounded write queue and, when diagnosticSessionID is
// non-empty, charges the session's fan-out/back-pressure counters for the
// attempt.
func (s *Server) sendToConnection(c *connection.Conn, env envelope.Envelope, diagnosticSessionID string) bool {
	ok, blocked, size := c.Send(env)
	if diagnosticSessionID == "" {
		return ok
	}
	if !ok {
		s.runtime.RecordFanoutBackpressure(diagnosticSessionID, true)
		return ok
	}
	if blocked {
		s.runtime.RecordFanoutBackpressure(diagnosticSessionID, false)
	}
	s.runtime.RecordFanoutEnqueue(diagnosticSessionID, size)
	return ok
}

// handleConn drives one accepted socket end to end: register, read loop,
// unwind on close.
func (s *Server) handleConn(sock net.Conn) {
	c := connection.NewConn(sock, s.cfg.Connection.MaxConnectionBufferedBytes)
	if s.cfg.AuthToken == "" {
		c.Authenticate()
	}
	s.conns.Register(c)

	defer func() {
		s.runtime.DetachConnection(c.ID)
		s.journal.RemoveConnection(c.ID)
		s.conns.Unregister(c.ID)
		c.Destroy()
	}()

	c.ReadLoop(func(env envelope.Envelope) {
		s.handleEnvelope(c, env)
	})
}

func (s *Server) handleEnvelope(c *connection.Conn, env envelope.Envelope) {
	if c.IsClosing() {
		return
	}
	if !c.IsAuthenticated() {
		if env.Kind == envelope.KindAuth {
			s.handleAuth(c, env)
			return
		}
		s.sendToConnection(c, envelope.Envelope{Kind: envelope.KindAuthError, Error: "authentication required"}, "")
		c.Destroy()
		return
	}
	switch env.Kind {
	case envelope.KindAuth:
		s.handleAuth(c, env)
	case envelope.KindCommand:
		s.handleCommand(c, env)
	case envelope.KindPTYInput:
		s.handlePTYInput(c, env)
	case envelope.KindPTYResize:
		s.handlePTYResize(c, env)
	case envelope.KindPTYSignal:
		s.handlePTYSignal(c, env)
	}
}

func (s *Server) handleAuth(c *connection.Conn, env envelope.Envelope) {
	if s.cfg.AuthToken != "" && env.Token != s.cfg.AuthToken {
		s.sendToConnection(c, envelope.Envelope{Kind: envelope.KindAuthError, Error: "invalid auth token"}, "")
		c.Destroy()
		return
	}
	c.Authenticate()
	s.sendToConnection(c, envelope.Envelope{Kind: envelope.KindAuthOK}, "")
}

func (s *Server) handlePTYInput(c *connection.Conn, env envelope.Envelope) {
	data, err := base64Decode(env.DataB64)
	if err != nil {
		return
	}
	s.runtime.Input(env.SessionID, c.ID, data)
}

func (s *Server) handlePTYResize(c *connection.Conn, env envelope.Envelope) {
	s.runtime.Resize(env.SessionID, c.ID, env.Cols, env.Rows)
}

func (s *Server) handlePTYSignal(c *connection.Conn, env envelope.Envelope) {
	s.runtime.Signal(env.SessionID, c.ID, env.Signal)
}
