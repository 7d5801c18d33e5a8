package server

import (
	"context"
	"encoding/json"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sessionbridge/daemon/pkg/config"
	"github.com/sessionbridge/daemon/pkg/connection"
	"github.com/sessionbridge/daemon/pkg/pty"
	"github.com/sessionbridge/daemon/pkg/store"
)

func newTestServer(t *testing.T) (*Server, *pty.FakeStarter) {
	t.Helper()
	starter := &pty.FakeStarter{}
	cfg := config.DefaultServerConfig()
	srv := New(cfg, store.NewMemory(), starter, nil)
	return srv, starter
}

// newTestConn returns a Conn backed by a net.Pipe whose far end is drained
// in the background, so Conn.Send never blocks during a test.
func newTestConn(t *testing.T) *connection.Conn {
	t.Helper()
	client, remote := net.Pipe()
	go func() {
		buf := make([]byte, 4096)
		for {
			if _, err := remote.Read(buf); err != nil {
				return
			}
		}
	}()
	t.Cleanup(func() { _ = client.Close(); _ = remote.Close() })
	return connection.NewConn(client, 1<<20)
}

func params(t *testing.T, v any) json.RawMessage {
	t.Helper()
	body, err := json.Marshal(v)
	require.NoError(t, err)
	return body
}

func TestDirectoryConversationTaskRepositoryLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	dirAny, err := srv.dispatch(ctx, nil, "directory.create", params(t, map[string]any{
		"tenantId": "t1", "workspaceId": "w1", "path": "/work/repo",
	}))
	require.NoError(t, err)
	dir := dirAny.(map[string]any)
	dirID := dir["directoryId"].(string)
	assert.Equal(t, "/work/repo", dir["path"])

	convAny, err := srv.dispatch(ctx, nil, "conversation.create", params(t, map[string]any{
		"tenantId": "t1", "userId": "u1", "workspaceId": "w1", "directoryId": dirID, "agentType": "codex", "title": "fix the bug",
	}))
	require.NoError(t, err)
	conv := convAny.(map[string]any)
	convID := conv["conversationId"].(string)
	assert.Equal(t, "running", conv["runtimeStatus"])

	listAny, err := srv.dispatch(ctx, nil, "conversation.list", params(t, map[string]any{}))
	require.NoError(t, err)
	convs := listAny.(map[string]any)["conversations"].([]map[string]any)
	require.Len(t, convs, 1)
	assert.Equal(t, convID, convs[0]["conversationId"])

	taskAny, err := srv.dispatch(ctx, nil, "task.create", params(t, map[string]any{
		"workspaceId": "w1", "title": "write tests", "status": "open",
	}))
	require.NoError(t, err)
	task := taskAny.(map[string]any)
	assert.Equal(t, "write tests", task["title"])

	repoAny, err := srv.dispatch(ctx, nil, "repository.upsert", params(t, map[string]any{
		"remoteUrl": "git@github.com:example/repo.git", "directoryId": dirID,
	}))
	require.NoError(t, err)
	repo := repoAny.(map[string]any)
	assert.Equal(t, "git@github.com:example/repo.git", repo["remoteUrl"])

	_, err = srv.dispatch(ctx, nil, "conversation.archive", params(t, map[string]any{"conversationId": convID}))
	require.NoError(t, err)

	archivedList, err := srv.dispatch(ctx, nil, "conversation.list", params(t, map[string]any{}))
	require.NoError(t, err)
	assert.Len(t, archivedList.(map[string]any)["conversations"].([]map[string]any), 0)
}

func TestPTYStartThenSessionList(t *testing.T) {
	srv, starter := newTestServer(t)
	ctx := context.Background()

	startAny, err := srv.dispatch(ctx, nil, "pty.start", params(t, map[string]any{
		"sessionId": "s1", "tenantId": "t1", "userId": "u1", "workspaceId": "w1", "agentType": "terminal", "workingDir": "/tmp",
	}))
	require.NoError(t, err)
	assert.Equal(t, "s1", startAny.(map[string]any)["sessionId"])
	assert.Equal(t, "/bin/sh", starter.LastInput.Command)

	listAny, err := srv.dispatch(ctx, nil, "session.list", params(t, map[string]any{}))
	require.NoError(t, err)
	sessions := listAny.(map[string]any)["sessions"].([]map[string]any)
	require.Len(t, sessions, 1)
	assert.Equal(t, "s1", sessions[0]["id"])
	assert.Equal(t, true, sessions[0]["live"])

	_, err = srv.dispatch(ctx, nil, "session.remove", params(t, map[string]any{"sessionId": "s1"}))
	require.NoError(t, err)

	listAny2, err := srv.dispatch(ctx, nil, "session.list", params(t, map[string]any{}))
	require.NoError(t, err)
	assert.Len(t, listAny2.(map[string]any)["sessions"].([]map[string]any), 0)
}

func TestStreamSubscribeStaleCursorReturnsBacklogAndMarker(t *testing.T) {
	cfg := config.DefaultServerConfig()
	cfg.Poll.MaxStreamJournalEntries = 2
	srv := New(cfg, store.NewMemory(), &pty.FakeStarter{}, nil)
	ctx := context.Background()
	c := newTestConn(t)

	for i := 0; i < 5; i++ {
		_, err := srv.dispatch(ctx, nil, "directory.create", params(t, map[string]any{
			"tenantId": "t1", "workspaceId": "w1", "path": "/repo",
		}))
		require.NoError(t, err)
	}

	resultAny, err := srv.dispatch(ctx, c, "stream.subscribe", params(t, map[string]any{"afterCursor": 0}))
	require.NoError(t, err)
	result := resultAny.(map[string]any)
	assert.Equal(t, true, result["stale"])
	backlog := result["backlog"].([]map[string]any)
	assert.Len(t, backlog, cfg.Poll.MaxStreamJournalEntries)
}

func TestAgentToolsStatusReportsEveryKind(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	resultAny, err := srv.dispatch(ctx, nil, "agent.tools.status", params(t, map[string]any{}))
	require.NoError(t, err)
	tools := resultAny.(map[string]any)["tools"].([]map[string]any)
	require.Len(t, tools, 5)

	kinds := make(map[string]bool)
	for _, tool := range tools {
		kinds[tool["kind"].(string)] = true
		if tool["available"].(bool) {
			assert.NotEmpty(t, tool["path"])
		} else {
			assert.NotEmpty(t, tool["installHint"])
		}
	}
	for _, want := range []string{"codex", "claude", "cursor", "critique", "terminal"} {
		assert.True(t, kinds[want], "missing tool kind %s", want)
	}
}
