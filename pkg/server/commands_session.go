package server

import (
	"encoding/json"

	"github.com/sessionbridge/daemon/pkg/connection"
	"github.com/sessionbridge/daemon/pkg/session"
)

type sessionListParams struct {
	TenantID    string `json:"tenantId"`
	UserID      string `json:"userId"`
	WorkspaceID string `json:"workspaceId"`
	Status      string `json:"status"`
	LiveOnly    bool   `json:"liveOnly"`
	Sort        string `json:"sort"`
}

func (s *Server) cmdSessionList(params json.RawMessage, attentionOnly bool) (any, error) {
	var p sessionListParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	filter := session.ListFilter{
		TenantID:    p.TenantID,
		UserID:      p.UserID,
		WorkspaceID: p.WorkspaceID,
		Status:      statusFilterValue(p.Status),
		LiveOnly:    p.LiveOnly,
	}
	if attentionOnly {
		filter.Status = session.StatusNeedsInput
	}
	summaries := s.runtime.List(filter, sortOrderValue(p.Sort))
	out := make([]map[string]any, len(summaries))
	for i, sum := range summaries {
		out[i] = sessionSummaryDTO(sum)
	}
	return map[string]any{"sessions": out}, nil
}

type sessionIDParams struct {
	SessionID string `json:"sessionId"`
}

func (s *Server) cmdSessionStatus(params json.RawMessage) (any, error) {
	var p sessionIDParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	sess, err := s.runtime.Get(p.SessionID)
	if err != nil {
		return nil, err
	}
	return sessionSummaryDTO(sess.Summary()), nil
}

func (s *Server) cmdSessionSnapshot(params json.RawMessage) (any, error) {
	var p sessionIDParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	snap, stale, err := s.runtime.Snapshot(p.SessionID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"sessionId": p.SessionID,
		"snapshot": map[string]any{
			"rows":  snap.Rows,
			"cols":  snap.Cols,
			"lines": snap.Lines,
			"hash":  snap.Hash,
		},
		"stale": stale,
	}, nil
}

type sessionRespondParams struct {
	SessionID string `json:"sessionId"`
	Text      string `json:"text"`
}

func (s *Server) cmdSessionRespond(c *connection.Conn, params json.RawMessage) (any, error) {
	var p sessionRespondParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	sentBytes, err := s.runtime.Respond(p.SessionID, c.ID, p.Text)
	if err != nil {
		return nil, err
	}
	return map[string]any{"responded": true, "sentBytes": sentBytes}, nil
}

func (s *Server) cmdSessionInterrupt(c *connection.Conn, params json.RawMessage) (any, error) {
	var p sessionIDParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	if err := s.runtime.Interrupt(p.SessionID, c.ID); err != nil {
		return nil, err
	}
	return map[string]any{"interrupted": true}, nil
}

type sessionClaimParams struct {
	SessionID       string `json:"sessionId"`
	ControllerID    string `json:"controllerId"`
	ControllerType  string `json:"controllerType"`
	ControllerLabel string `json:"controllerLabel"`
	Takeover        bool   `json:"takeover"`
}

func (s *Server) cmdSessionClaim(c *connection.Conn, params json.RawMessage) (any, error) {
	var p sessionClaimParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	label := p.ControllerLabel
	if label == "" {
		label = p.ControllerType + ":" + p.ControllerID
	}
	ctl, err := s.runtime.Claim(p.SessionID, c.ID, p.ControllerID, p.ControllerType, label, p.Takeover)
	if err != nil {
		return nil, err
	}
	return map[string]any{"controller": controllerDTO(*ctl)}, nil
}

type sessionReleaseParams struct {
	SessionID string `json:"sessionId"`
	Reason    string `json:"reason"`
}

func (s *Server) cmdSessionRelease(c *connection.Conn, params json.RawMessage) (any, error) {
	var p sessionReleaseParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	released, err := s.runtime.Release(p.SessionID, c.ID, p.Reason)
	if err != nil {
		return nil, err
	}
	return map[string]any{"released": released}, nil
}

func (s *Server) cmdSessionRemove(params json.RawMessage) (any, error) {
	var p sessionIDParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	if err := s.runtime.Remove(p.SessionID); err != nil {
		return nil, err
	}
	s.stopHistoryTailer(p.SessionID)
	s.tokens.RevokeSession(p.SessionID)
	return map[string]any{"removed": true}, nil
}
