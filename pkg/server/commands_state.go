package server

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/sessionbridge/daemon/pkg/journal"
	"github.com/sessionbridge/daemon/pkg/store"
)

type directoryUpsertParams struct {
	DirectoryID string `json:"directoryId"`
	TenantID    string `json:"tenantId"`
	WorkspaceID string `json:"workspaceId"`
	Path        string `json:"path"`
}

func (s *Server) cmdDirectoryUpsert(ctx context.Context, params json.RawMessage) (any, error) {
	var p directoryUpsertParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	if p.DirectoryID == "" {
		p.DirectoryID = uuid.New().String()
	}
	d := &store.Directory{DirectoryID: p.DirectoryID, TenantID: p.TenantID, WorkspaceID: p.WorkspaceID, Path: p.Path}
	if err := s.st.UpsertDirectory(ctx, d); err != nil {
		return nil, err
	}
	s.publishEvent(journal.Scope{TenantID: p.TenantID, WorkspaceID: p.WorkspaceID, DirectoryID: p.DirectoryID}, journal.Event{Kind: journal.KindDirectoryUpserted, Payload: directoryDTO(d)})
	return directoryDTO(d), nil
}

type directoryIDParams struct {
	DirectoryID string `json:"directoryId"`
}

func (s *Server) cmdDirectoryArchive(ctx context.Context, params json.RawMessage) (any, error) {
	var p directoryIDParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	if err := s.st.ArchiveDirectory(ctx, p.DirectoryID); err != nil {
		return nil, err
	}
	d, err := s.st.GetDirectory(ctx, p.DirectoryID)
	if err != nil {
		return nil, err
	}
	s.publishEvent(journal.Scope{TenantID: d.TenantID, WorkspaceID: d.WorkspaceID, DirectoryID: d.DirectoryID}, journal.Event{Kind: journal.KindDirectoryArchived})
	return directoryDTO(d), nil
}

type directoryListParams struct {
	IncludeArchived bool `json:"includeArchived"`
}

func (s *Server) cmdDirectoryList(ctx context.Context, params json.RawMessage) (any, error) {
	var p directoryListParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	dirs, err := s.st.ListDirectories(ctx, p.IncludeArchived)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, len(dirs))
	for i, d := range dirs {
		out[i] = directoryDTO(d)
	}
	return map[string]any{"directories": out}, nil
}

type conversationUpsertParams struct {
	ConversationID string  `json:"conversationId"`
	DirectoryID    *string `json:"directoryId"`
	TenantID       string  `json:"tenantId"`
	UserID         string  `json:"userId"`
	WorkspaceID    string  `json:"workspaceId"`
	AgentType      string  `json:"agentType"`
	Title          string  `json:"title"`
}

func (s *Server) cmdConversationUpsert(ctx context.Context, params json.RawMessage) (any, error) {
	var p conversationUpsertParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	created := p.ConversationID == ""
	if created {
		p.ConversationID = uuid.New().String()
	}

	c := &store.Conversation{
		ConversationID: p.ConversationID,
		DirectoryID:    p.DirectoryID,
		TenantID:       p.TenantID,
		UserID:         p.UserID,
		WorkspaceID:    p.WorkspaceID,
		AgentType:      p.AgentType,
		Title:          p.Title,
		RuntimeStatus:  store.RuntimeStatusRunning,
	}
	if existing, err := s.st.GetConversation(ctx, p.ConversationID); err == nil {
		c.RuntimeStatus = existing.RuntimeStatus
		c.RuntimeLastEventAt = existing.RuntimeLastEventAt
		c.RuntimeAttentionReason = existing.RuntimeAttentionReason
		c.RuntimeLastExit = existing.RuntimeLastExit
		c.AdapterState = existing.AdapterState
		c.CreatedAt = existing.CreatedAt
	}
	if err := s.st.UpsertConversation(ctx, c); err != nil {
		return nil, err
	}

	kind := journal.KindConversationUpdated
	if created {
		kind = journal.KindConversationCreated
	}
	scope := journal.Scope{TenantID: p.TenantID, UserID: p.UserID, WorkspaceID: p.WorkspaceID, ConversationID: p.ConversationID}
	if p.DirectoryID != nil {
		scope.DirectoryID = *p.DirectoryID
	}
	s.publishEvent(scope, journal.Event{Kind: kind, Payload: conversationDTO(c)})
	return conversationDTO(c), nil
}

type conversationIDParams struct {
	ConversationID string `json:"conversationId"`
}

func (s *Server) cmdConversationArchive(ctx context.Context, params json.RawMessage) (any, error) {
	var p conversationIDParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	if err := s.st.ArchiveConversation(ctx, p.ConversationID); err != nil {
		return nil, err
	}
	c, err := s.st.GetConversation(ctx, p.ConversationID)
	if err != nil {
		return nil, err
	}
	s.publishEvent(conversationScope(c), journal.Event{Kind: journal.KindConversationArchived})
	return conversationDTO(c), nil
}

func (s *Server) cmdConversationDelete(ctx context.Context, params json.RawMessage) (any, error) {
	var p conversationIDParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	c, err := s.st.GetConversation(ctx, p.ConversationID)
	if err != nil {
		return nil, err
	}
	if err := s.st.DeleteConversation(ctx, p.ConversationID); err != nil {
		return nil, err
	}
	s.publishEvent(conversationScope(c), journal.Event{Kind: journal.KindConversationDeleted})
	return map[string]any{"deleted": true}, nil
}

func conversationScope(c *store.Conversation) journal.Scope {
	scope := journal.Scope{TenantID: c.TenantID, UserID: c.UserID, WorkspaceID: c.WorkspaceID, ConversationID: c.ConversationID}
	if c.DirectoryID != nil {
		scope.DirectoryID = *c.DirectoryID
	}
	return scope
}

type conversationListParams struct {
	IncludeArchived bool `json:"includeArchived"`
}

func (s *Server) cmdConversationList(ctx context.Context, params json.RawMessage) (any, error) {
	var p conversationListParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	convs, err := s.st.ListConversations(ctx, p.IncludeArchived)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, len(convs))
	for i, c := range convs {
		out[i] = conversationDTO(c)
	}
	return map[string]any{"conversations": out}, nil
}

type taskUpsertParams struct {
	TaskID      string `json:"taskId"`
	WorkspaceID string `json:"workspaceId"`
	Title       string `json:"title"`
	Status      string `json:"status"`
	Position    int    `json:"position"`
}

func (s *Server) cmdTaskUpsert(ctx context.Context, params json.RawMessage) (any, error) {
	var p taskUpsertParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	created := p.TaskID == ""
	if created {
		p.TaskID = uuid.New().String()
	}
	t := &store.Task{TaskID: p.TaskID, WorkspaceID: p.WorkspaceID, Title: p.Title, Status: p.Status, Position: p.Position}
	if err := s.st.UpsertTask(ctx, t); err != nil {
		return nil, err
	}
	kind := journal.KindTaskUpdated
	if created {
		kind = journal.KindTaskCreated
	}
	s.publishEvent(journal.Scope{WorkspaceID: p.WorkspaceID, TaskIDs: []string{p.TaskID}}, journal.Event{Kind: kind, TaskID: p.TaskID, Payload: taskDTO(t)})
	return taskDTO(t), nil
}

type taskReorderParams struct {
	WorkspaceID    string   `json:"workspaceId"`
	OrderedTaskIDs []string `json:"orderedTaskIds"`
}

func (s *Server) cmdTaskReorder(ctx context.Context, params json.RawMessage) (any, error) {
	var p taskReorderParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	if err := s.st.ReorderTasks(ctx, p.WorkspaceID, p.OrderedTaskIDs); err != nil {
		return nil, err
	}
	s.publishEvent(journal.Scope{WorkspaceID: p.WorkspaceID, TaskIDs: p.OrderedTaskIDs}, journal.Event{Kind: journal.KindTaskReordered, Payload: map[string]any{"orderedTaskIds": p.OrderedTaskIDs}})
	return map[string]any{"reordered": true}, nil
}

type taskListParams struct {
	WorkspaceID string `json:"workspaceId"`
}

func (s *Server) cmdTaskList(ctx context.Context, params json.RawMessage) (any, error) {
	var p taskListParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	tasks, err := s.st.ListTasks(ctx, p.WorkspaceID)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, len(tasks))
	for i, t := range tasks {
		out[i] = taskDTO(t)
	}
	return map[string]any{"tasks": out}, nil
}

type repositoryUpsertParams struct {
	RepositoryID string `json:"repositoryId"`
	RemoteURL    string `json:"remoteUrl"`
	DirectoryID  string `json:"directoryId"`
}

func (s *Server) cmdRepositoryUpsert(ctx context.Context, params json.RawMessage) (any, error) {
	var p repositoryUpsertParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	if p.RepositoryID == "" {
		p.RepositoryID = uuid.New().String()
	}
	r := &store.Repository{RepositoryID: p.RepositoryID, RemoteURL: p.RemoteURL, DirectoryID: p.DirectoryID}
	if err := s.st.UpsertRepository(ctx, r); err != nil {
		return nil, err
	}
	s.publishEvent(journal.Scope{DirectoryID: p.DirectoryID, RepositoryID: p.RepositoryID}, journal.Event{Kind: journal.KindRepositoryUpserted, Payload: repositoryDTO(r)})
	return repositoryDTO(r), nil
}
