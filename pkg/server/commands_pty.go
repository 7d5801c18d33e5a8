package server

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/sessionbridge/daemon/pkg/agentlaunch"
	"github.com/sessionbridge/daemon/pkg/connection"
	"github.com/sessionbridge/daemon/pkg/envelope"
	"github.com/sessionbridge/daemon/pkg/poller"
	"github.com/sessionbridge/daemon/pkg/session"
)

type ptyStartParams struct {
	SessionID   string   `json:"sessionId"`
	TenantID    string   `json:"tenantId"`
	UserID      string   `json:"userId"`
	WorkspaceID string   `json:"workspaceId"`
	DirectoryID *string  `json:"directoryId"`
	WorktreeID  string   `json:"worktreeId"`
	AgentType   string   `json:"agentType"`
	Args        []string `json:"args"`
	Env         []string `json:"env"`
	WorkingDir  string   `json:"workingDir"`
}

// cmdPTYStart implements pty.start: resolve the agent-specific launch
// command, mint a single-use telemetry token, wire claude/cursor hook-relay
// settings to disk, start the subprocess, and (for codex) tail its history
// file into the telemetry pipeline.
func (s *Server) cmdPTYStart(ctx context.Context, params json.RawMessage) (any, error) {
	var p ptyStartParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	if p.SessionID == "" {
		p.SessionID = uuid.New().String()
	}

	profile := s.launch.Resolve(p.SessionID, agentlaunch.Kind(p.AgentType), p.Args)

	if profile.HookSettingsPath != "" {
		if err := writeHookRelaySettings(profile.HookSettingsPath, agentlaunch.HookRelayPayload{
			SessionID:  p.SessionID,
			RelayURL:   fmt.Sprintf("%s/v1/logs/%s", s.telemetryBaseURL, profile.TelemetryToken),
			RelayToken: profile.TelemetryToken,
		}); err != nil {
			return nil, fmt.Errorf("write hook relay settings: %w", err)
		}
	}

	_, err := s.runtime.Start(ctx, session.StartInput{
		SessionID:   p.SessionID,
		TenantID:    p.TenantID,
		UserID:      p.UserID,
		WorkspaceID: p.WorkspaceID,
		DirectoryID: p.DirectoryID,
		WorktreeID:  p.WorktreeID,
		AgentType:   p.AgentType,
		Command:     profile.Command,
		Args:        profile.Args,
		Env:         append(profile.Env, p.Env...),
		WorkingDir:  p.WorkingDir,
	})
	if err != nil {
		return nil, err
	}

	s.tokens.Register(profile.TelemetryToken, p.SessionID)
	if p.AgentType == string(agentlaunch.KindCodex) {
		s.startHistoryTailer(p.SessionID, p.WorkingDir)
	}

	return map[string]any{"sessionId": p.SessionID}, nil
}

func writeHookRelaySettings(path string, payload agentlaunch.HookRelayPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, body, 0o600)
}

// startHistoryTailer begins tailing a codex session's on-disk history file
// for telemetry events the codex CLI's OTLP exporter doesn't cover.
func (s *Server) startHistoryTailer(sessionID, workingDir string) {
	path := filepath.Join(workingDir, ".codex", "history.jsonl")
	interval := s.cfg.Poll.HistoryPollInterval
	if interval <= 0 {
		interval = time.Second
	}
	tailer := poller.NewHistoryTailer(path, sessionID, interval, s.telemetrySvc)
	s.historyMu.Lock()
	s.historyTailers[sessionID] = tailer
	s.historyMu.Unlock()
	tailer.Start(context.Background())
}

func (s *Server) stopHistoryTailer(sessionID string) {
	s.historyMu.Lock()
	tailer, ok := s.historyTailers[sessionID]
	delete(s.historyTailers, sessionID)
	s.historyMu.Unlock()
	if ok {
		tailer.Stop()
	}
}

type ptyAttachParams struct {
	SessionID   string `json:"sessionId"`
	SinceCursor uint64 `json:"sinceCursor"`
}

func (s *Server) cmdPTYAttach(c *connection.Conn, params json.RawMessage) (any, error) {
	var p ptyAttachParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}

	onData := func(cursor uint64, chunk []byte) {
		s.sendToConnection(c, envelope.Envelope{
			Kind:      envelope.KindPTYOutput,
			SessionID: p.SessionID,
			Cursor:    cursor,
			ChunkB64:  base64Encode(chunk),
		}, p.SessionID)
	}
	onExit := func(exit session.Exit) {
		s.sendToConnection(c, envelope.Envelope{
			Kind:      envelope.KindPTYExit,
			SessionID: p.SessionID,
			Exit:      &envelope.ExitRecord{Code: exit.Code, Signal: exit.Signal},
		}, p.SessionID)
	}

	if _, err := s.runtime.Attach(p.SessionID, c.ID, p.SinceCursor, onData, onExit); err != nil {
		return nil, err
	}
	c.TrackAttachment(p.SessionID)

	latest, err := s.runtime.LatestCursor(p.SessionID)
	if err != nil {
		latest = 0
	}
	return map[string]any{"latestCursor": latest}, nil
}

func (s *Server) cmdPTYDetach(c *connection.Conn, params json.RawMessage) (any, error) {
	var p sessionIDParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	detached := s.runtime.Detach(p.SessionID, c.ID)
	if detached {
		c.UntrackAttachment(p.SessionID)
	}
	return map[string]any{"detached": detached}, nil
}

func (s *Server) cmdPTYSubscribeEvents(c *connection.Conn, params json.RawMessage) (any, error) {
	var p sessionIDParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	if err := s.runtime.SubscribeEvents(p.SessionID, c.ID); err != nil {
		return nil, err
	}
	c.TrackEventSubscription(p.SessionID)
	return map[string]any{"subscribed": true}, nil
}

func (s *Server) cmdPTYUnsubscribeEvents(c *connection.Conn, params json.RawMessage) (any, error) {
	var p sessionIDParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	ok := s.runtime.UnsubscribeEvents(p.SessionID, c.ID)
	if ok {
		c.UntrackEventSubscription(p.SessionID)
	}
	return map[string]any{"subscribed": false}, nil
}
