package server

import (
	"encoding/base64"

	"github.com/sessionbridge/daemon/pkg/connection"
	"github.com/sessionbridge/daemon/pkg/envelope"
	"github.com/sessionbridge/daemon/pkg/journal"
	"github.com/sessionbridge/daemon/pkg/session"
	"github.com/sessionbridge/daemon/pkg/store"
)

// sessionSummaryDTO is the wire shape of session.list/status entries.
func sessionSummaryDTO(sum session.Summary) map[string]any {
	out := map[string]any{
		"id":          sum.ID,
		"tenantId":    sum.TenantID,
		"userId":      sum.UserID,
		"workspaceId": sum.WorkspaceID,
		"agentType":   sum.AgentType,
		"status":      string(sum.Status),
		"startedAt":   sum.StartedAt,
		"live":        sum.Live,
		"statusModel": statusModelDTO(sum.StatusModel),
	}
	if sum.DirectoryID != nil {
		out["directoryId"] = *sum.DirectoryID
	}
	if sum.AttentionReason != "" {
		out["attentionReason"] = sum.AttentionReason
	}
	if sum.LastEventAt != nil {
		out["lastEventAt"] = *sum.LastEventAt
	}
	if sum.LastExit != nil {
		out["lastExit"] = exitDTO(*sum.LastExit)
	}
	if sum.Controller != nil {
		out["controller"] = controllerDTO(*sum.Controller)
	}
	return out
}

func statusModelDTO(m session.StatusModel) map[string]any {
	out := map[string]any{
		"agentType":       m.AgentType,
		"status":          string(m.Status),
		"attentionReason": m.AttentionReason,
	}
	if m.LatestTelemetry != nil {
		out["latestTelemetry"] = m.LatestTelemetry
	}
	return out
}

func exitDTO(e session.Exit) map[string]any {
	out := map[string]any{}
	if e.Code != nil {
		out["code"] = *e.Code
	}
	if e.Signal != nil {
		out["signal"] = *e.Signal
	}
	return out
}

func controllerDTO(c session.Controller) map[string]any {
	return map[string]any{
		"controllerId":    c.ControllerID,
		"controllerType":  c.ControllerType,
		"controllerLabel": c.ControllerLabel,
		"claimedAt":       c.ClaimedAt,
	}
}

func directoryDTO(d *store.Directory) map[string]any {
	out := map[string]any{
		"directoryId": d.DirectoryID,
		"tenantId":    d.TenantID,
		"workspaceId": d.WorkspaceID,
		"path":        d.Path,
	}
	if d.ArchivedAt != nil {
		out["archivedAt"] = *d.ArchivedAt
	}
	return out
}

func conversationDTO(c *store.Conversation) map[string]any {
	out := map[string]any{
		"conversationId": c.ConversationID,
		"tenantId":       c.TenantID,
		"userId":         c.UserID,
		"workspaceId":    c.WorkspaceID,
		"agentType":      c.AgentType,
		"title":          c.Title,
		"runtimeStatus":  string(c.RuntimeStatus),
		"createdAt":      c.CreatedAt,
	}
	if c.DirectoryID != nil {
		out["directoryId"] = *c.DirectoryID
	}
	if c.RuntimeLastEventAt != nil {
		out["runtimeLastEventAt"] = *c.RuntimeLastEventAt
	}
	if c.RuntimeAttentionReason != nil {
		out["runtimeAttentionReason"] = *c.RuntimeAttentionReason
	}
	if c.ArchivedAt != nil {
		out["archivedAt"] = *c.ArchivedAt
	}
	return out
}

func taskDTO(t *store.Task) map[string]any {
	return map[string]any{
		"taskId":      t.TaskID,
		"workspaceId": t.WorkspaceID,
		"title":       t.Title,
		"status":      t.Status,
		"position":    t.Position,
	}
}

func repositoryDTO(r *store.Repository) map[string]any {
	return map[string]any{
		"repositoryId": r.RepositoryID,
		"remoteUrl":    r.RemoteURL,
		"directoryId":  r.DirectoryID,
	}
}

// journalEventDTO renders a journal.Entry's event for pty.event/stream.event
// delivery: only the fields relevant to Kind are populated.
func journalEventDTO(ev journal.Event) map[string]any {
	out := map[string]any{"kind": string(ev.Kind)}
	if ev.Status != "" {
		out["status"] = ev.Status
	}
	if ev.AttentionReason != "" {
		out["attentionReason"] = ev.AttentionReason
	}
	if ev.Exit != nil {
		exit := map[string]any{}
		if ev.Exit.Code != nil {
			exit["code"] = *ev.Exit.Code
		}
		if ev.Exit.Signal != nil {
			exit["signal"] = *ev.Exit.Signal
		}
		out["exit"] = exit
	}
	if ev.ControlAction != "" {
		out["action"] = ev.ControlAction
	}
	if ev.PreviousController != "" {
		out["previousController"] = ev.PreviousController
	}
	if ev.ControlReason != "" {
		out["reason"] = ev.ControlReason
	}
	if ev.KeyEventName != "" {
		out["eventName"] = ev.KeyEventName
	}
	if ev.Summary != "" {
		out["summary"] = ev.Summary
	}
	if ev.TaskID != "" {
		out["taskId"] = ev.TaskID
	}
	if ev.Payload != nil {
		out["payload"] = ev.Payload
	}
	return out
}

func journalEntryDTO(e journal.Entry) map[string]any {
	return map[string]any{
		"cursor": e.Cursor,
		"scope": map[string]any{
			"tenantId":       e.Scope.TenantID,
			"userId":         e.Scope.UserID,
			"workspaceId":    e.Scope.WorkspaceID,
			"directoryId":    e.Scope.DirectoryID,
			"conversationId": e.Scope.ConversationID,
			"repositoryId":   e.Scope.RepositoryID,
		},
		"event": journalEventDTO(e.Event),
		"at":    e.At,
	}
}

// deliverStreamEvent sends one stream.event envelope for a journal
// subscription match. The entry's conversation id, when present, is
// charged as the fan-out diagnostic session id.
func (s *Server) deliverStreamEvent(c *connection.Conn, subscriptionID string, entry journal.Entry) {
	body, err := marshalJSON(map[string]any{
		"subscriptionId": subscriptionID,
		"cursor":         entry.Cursor,
		"event":          journalEntryDTO(entry),
	})
	if err != nil {
		return
	}
	s.sendToConnection(c, envelope.Envelope{Kind: envelope.KindStreamEvent, StreamEvent: body}, entry.Scope.ConversationID)
}

func (s *Server) deliverPTYEvent(c *connection.Conn, sessionID string, ev journal.Event) {
	body, err := marshalJSON(journalEventDTO(ev))
	if err != nil {
		return
	}
	s.sendToConnection(c, envelope.Envelope{Kind: envelope.KindPTYEvent, SessionID: sessionID, PTYEvent: body}, sessionID)
}

func base64Decode(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

func base64Encode(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}
