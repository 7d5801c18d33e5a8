package server

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/sessionbridge/daemon/pkg/connection"
	"github.com/sessionbridge/daemon/pkg/journal"
)

type streamSubscribeParams struct {
	TenantID       string `json:"tenantId"`
	UserID         string `json:"userId"`
	WorkspaceID    string `json:"workspaceId"`
	DirectoryID    string `json:"directoryId"`
	ConversationID string `json:"conversationId"`
	RepositoryID   string `json:"repositoryId"`
	TaskID         string `json:"taskId"`
	IncludeOutput  bool   `json:"includeOutput"`
	AfterCursor    int64  `json:"afterCursor"`
}

func (s *Server) cmdStreamSubscribe(c *connection.Conn, params json.RawMessage) (any, error) {
	var p streamSubscribeParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}

	filter := journal.Filter{
		TenantID:       p.TenantID,
		UserID:         p.UserID,
		WorkspaceID:    p.WorkspaceID,
		DirectoryID:    p.DirectoryID,
		ConversationID: p.ConversationID,
		RepositoryID:   p.RepositoryID,
		TaskID:         p.TaskID,
		IncludeOutput:  p.IncludeOutput,
	}

	subID := uuid.New().String()
	backlog, stale := s.journal.Subscribe(subID, c.ID, filter, p.AfterCursor)

	entries := make([]map[string]any, len(backlog))
	for i, e := range backlog {
		entries[i] = journalEntryDTO(e)
	}

	if stale {
		// The subscription is unwound rather than tracked: the client
		// must resubscribe with a fresh cursor derived from this backlog.
		s.journal.Unsubscribe(subID)
		return map[string]any{"subscriptionId": subID, "backlog": entries, "stale": true}, nil
	}

	c.TrackStreamSubscription(subID)
	return map[string]any{"subscriptionId": subID, "backlog": entries}, nil
}

type streamUnsubscribeParams struct {
	SubscriptionID string `json:"subscriptionId"`
}

func (s *Server) cmdStreamUnsubscribe(c *connection.Conn, params json.RawMessage) (any, error) {
	var p streamUnsubscribeParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	s.journal.Unsubscribe(p.SubscriptionID)
	c.UntrackStreamSubscription(p.SubscriptionID)
	return map[string]any{"unsubscribed": true}, nil
}
