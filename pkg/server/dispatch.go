package server

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sessionbridge/daemon/pkg/connection"
	"github.com/sessionbridge/daemon/pkg/envelope"
	"github.com/sessionbridge/daemon/pkg/session"
)

// handleCommand implements the command/command.accepted/command.completed
// (or .failed) correlation contract: an envelope with kind "command"
// carries commandId+command+params and gets at most one accepted followed
// by exactly one terminal reply.
func (s *Server) handleCommand(c *connection.Conn, env envelope.Envelope) {
	s.sendToConnection(c, envelope.Envelope{Kind: envelope.KindCommandAccepted, CommandID: env.CommandID}, "")

	ctx := context.Background()
	result, err := s.dispatch(ctx, c, env.Command, env.Params)
	if err != nil {
		s.fail(c, env.CommandID, err.Error())
		return
	}
	s.complete(c, env.CommandID, result)
}

func (s *Server) fail(c *connection.Conn, commandID, message string) {
	s.sendToConnection(c, envelope.Envelope{Kind: envelope.KindCommandFailed, CommandID: commandID, Error: message}, "")
}

func (s *Server) complete(c *connection.Conn, commandID string, result any) {
	body, err := marshalJSON(result)
	if err != nil {
		s.fail(c, commandID, err.Error())
		return
	}
	s.sendToConnection(c, envelope.Envelope{Kind: envelope.KindCommandCompleted, CommandID: commandID, Result: body}, "")
}

func unmarshalParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

// dispatch routes one command to its handler. Every handler either returns
// a result that marshals to the documented reply shape, or an error whose
// message becomes command.failed's error text verbatim.
func (s *Server) dispatch(ctx context.Context, c *connection.Conn, command string, params json.RawMessage) (any, error) {
	switch command {
	case "session.list":
		return s.cmdSessionList(params, false)
	case "attention.list":
		return s.cmdSessionList(params, true)
	case "session.status":
		return s.cmdSessionStatus(params)
	case "session.snapshot":
		return s.cmdSessionSnapshot(params)
	case "session.respond":
		return s.cmdSessionRespond(c, params)
	case "session.interrupt":
		return s.cmdSessionInterrupt(c, params)
	case "session.claim":
		return s.cmdSessionClaim(c, params)
	case "session.release":
		return s.cmdSessionRelease(c, params)
	case "session.remove":
		return s.cmdSessionRemove(params)
	case "pty.start":
		return s.cmdPTYStart(ctx, params)
	case "pty.attach":
		return s.cmdPTYAttach(c, params)
	case "pty.detach":
		return s.cmdPTYDetach(c, params)
	case "pty.subscribe-events":
		return s.cmdPTYSubscribeEvents(c, params)
	case "pty.unsubscribe-events":
		return s.cmdPTYUnsubscribeEvents(c, params)
	case "stream.subscribe":
		return s.cmdStreamSubscribe(c, params)
	case "stream.unsubscribe":
		return s.cmdStreamUnsubscribe(c, params)
	case "directory.create", "directory.update":
		return s.cmdDirectoryUpsert(ctx, params)
	case "directory.archive":
		return s.cmdDirectoryArchive(ctx, params)
	case "directory.list":
		return s.cmdDirectoryList(ctx, params)
	case "conversation.create", "conversation.update":
		return s.cmdConversationUpsert(ctx, params)
	case "conversation.archive":
		return s.cmdConversationArchive(ctx, params)
	case "conversation.delete":
		return s.cmdConversationDelete(ctx, params)
	case "conversation.list":
		return s.cmdConversationList(ctx, params)
	case "task.create", "task.update":
		return s.cmdTaskUpsert(ctx, params)
	case "task.reorder":
		return s.cmdTaskReorder(ctx, params)
	case "task.list":
		return s.cmdTaskList(ctx, params)
	case "repository.upsert":
		return s.cmdRepositoryUpsert(ctx, params)
	case "agent.tools.status":
		return s.cmdAgentToolsStatus(ctx)
	default:
		return nil, fmt.Errorf("unknown command: %s", command)
	}
}

func statusFilterValue(raw string) session.Status {
	switch raw {
	case string(session.StatusRunning), string(session.StatusNeedsInput), string(session.StatusCompleted), string(session.StatusExited):
		return session.Status(raw)
	default:
		return ""
	}
}

func sortOrderValue(raw string) session.SortOrder {
	switch raw {
	case string(session.SortStartedAsc):
		return session.SortStartedAsc
	case string(session.SortStartedDesc):
		return session.SortStartedDesc
	default:
		return session.SortAttentionFirst
	}
}
