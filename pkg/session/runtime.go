package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/sessionbridge/daemon/pkg/journal"
	"github.com/sessionbridge/daemon/pkg/pty"
	"github.com/sessionbridge/daemon/pkg/store"
)

// StartInput is the caller-supplied shape for pty.start.
type StartInput struct {
	SessionID   string
	TenantID    string
	UserID      string
	WorkspaceID string
	DirectoryID *string
	WorktreeID  string
	AgentType   string
	Command     string
	Args        []string
	Env         []string
	WorkingDir  string
}

// ListFilter narrows session.list/attention.list results.
type ListFilter struct {
	TenantID    string
	UserID      string
	WorkspaceID string
	Status      Status
	LiveOnly    bool
}

// SortOrder is the closed set of session.list sort orders.
type SortOrder string

const (
	SortAttentionFirst SortOrder = "attention-first"
	SortStartedAsc     SortOrder = "started-asc"
	SortStartedDesc    SortOrder = "started-desc"
)

// Runtime owns every live session plus the status engine, claim mutex, and
// tombstone timers: a long-lived PTY-backed entity with a full lifecycle
// instead of a one-shot chat exchange.
type Runtime struct {
	mu       sync.Mutex
	sessions map[string]*Session

	store   store.StateStore
	journal *journal.Journal
	starter pty.Starter
	dispatch journal.Dispatch

	tombstoneTTL time.Duration

	eventHook func(sessionID string, connectionIDs []string, event journal.Event)

	log *slog.Logger
}

// SetEventHook wires the pty.subscribe-events delivery callback, invoked
// with the current subscriber connection ids every time an observed event
// is published for a session that has at least one.
func (r *Runtime) SetEventHook(hook func(sessionID string, connectionIDs []string, event journal.Event)) {
	r.eventHook = hook
}

// SubscribeEvents implements pty.subscribe-events: registers connectionID to
// receive pty.event envelopes for sessionID's lifecycle events.
func (r *Runtime) SubscribeEvents(sessionID, connectionID string) error {
	s, err := r.Get(sessionID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.EventSubscriberConnections[connectionID] = true
	s.mu.Unlock()
	return nil
}

// UnsubscribeEvents implements pty.unsubscribe-events, reporting whether
// connectionID was subscribed.
func (r *Runtime) UnsubscribeEvents(sessionID, connectionID string) bool {
	s, err := r.Get(sessionID)
	if err != nil {
		return false
	}
	s.mu.Lock()
	_, ok := s.EventSubscriberConnections[connectionID]
	delete(s.EventSubscriberConnections, connectionID)
	s.mu.Unlock()
	return ok
}

// NewRuntime constructs a Runtime. dispatch is supplied by the connection
// layer to fan observed events out over sockets; it may be nil in tests.
func NewRuntime(st store.StateStore, j *journal.Journal, starter pty.Starter, tombstoneTTL time.Duration, dispatch journal.Dispatch) *Runtime {
	return &Runtime{
		sessions:     make(map[string]*Session),
		store:        st,
		journal:      j,
		starter:      starter,
		dispatch:     dispatch,
		tombstoneTTL: tombstoneTTL,
		log:          slog.Default(),
	}
}

func scopeOf(s *Session) journal.Scope {
	dir := ""
	if s.DirectoryID != nil {
		dir = *s.DirectoryID
	}
	return journal.Scope{
		TenantID:       s.TenantID,
		UserID:         s.UserID,
		WorkspaceID:    s.WorkspaceID,
		DirectoryID:    dir,
		ConversationID: s.ID,
	}
}

func (r *Runtime) publish(s *Session, event journal.Event) {
	if r.journal != nil {
		r.journal.Publish(scopeOf(s), event, r.dispatch)
	}
	if r.eventHook == nil {
		return
	}
	s.mu.Lock()
	ids := make([]string, 0, len(s.EventSubscriberConnections))
	for id := range s.EventSubscriberConnections {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	if len(ids) > 0 {
		r.eventHook(s.ID, ids, event)
	}
}

// Start implements pty.start.
func (r *Runtime) Start(ctx context.Context, in StartInput) (*Session, error) {
	r.mu.Lock()
	existing, ok := r.sessions[in.SessionID]
	if ok {
		if existing.IsLive() {
			r.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, in.SessionID)
		}
		// tombstone: destroy before recreating.
		existing.mu.Lock()
		if existing.tombstoneTimer != nil {
			existing.tombstoneTimer.Stop()
		}
		existing.mu.Unlock()
		delete(r.sessions, in.SessionID)
	}
	r.mu.Unlock()

	var adapterState map[string]any
	if r.store != nil {
		if conv, err := r.store.GetConversation(ctx, in.SessionID); err == nil {
			adapterState = conv.AdapterState
			if in.AgentType == "" {
				in.AgentType = conv.AgentType
			}
		}
	}

	s := NewSession(in.SessionID)
	s.TenantID = in.TenantID
	s.UserID = in.UserID
	s.WorkspaceID = in.WorkspaceID
	s.DirectoryID = in.DirectoryID
	s.WorktreeID = in.WorktreeID
	s.AgentType = in.AgentType
	if adapterState != nil {
		s.AdapterState = adapterState
	}

	live, err := r.starter.Start(pty.LaunchInput{
		SessionID:  in.SessionID,
		Command:    in.Command,
		Args:       in.Args,
		Env:        in.Env,
		WorkingDir: in.WorkingDir,
	})
	if err != nil {
		return nil, fmt.Errorf("start session %s: %w", in.SessionID, err)
	}
	s.Live = live
	s.unsubscribe = live.OnEvent(func(ev pty.Event) { r.handlePTYEvent(in.SessionID, ev) })

	s.mu.Lock()
	s.projectStatusModel()
	s.mu.Unlock()

	r.mu.Lock()
	r.sessions[in.SessionID] = s
	r.mu.Unlock()

	r.persist(ctx, s)
	r.publish(s, journal.Event{Kind: journal.KindSessionStatus, Status: string(s.Status)})

	return s, nil
}

func (r *Runtime) persist(ctx context.Context, s *Session) {
	if r.store == nil {
		return
	}
	s.mu.Lock()
	conv := &store.Conversation{
		ConversationID:         s.ID,
		DirectoryID:            s.DirectoryID,
		TenantID:               s.TenantID,
		UserID:                 s.UserID,
		WorkspaceID:            s.WorkspaceID,
		AgentType:              s.AgentType,
		RuntimeStatus:          store.RuntimeStatus(s.Status),
		RuntimeLastEventAt:     s.LastEventAt,
		AdapterState:           s.AdapterState,
	}
	if s.AttentionReason != "" {
		reason := s.AttentionReason
		conv.RuntimeAttentionReason = &reason
	}
	if s.LastExit != nil {
		conv.RuntimeLastExit = &store.ExitRecord{Code: s.LastExit.Code, Signal: s.LastExit.Signal}
	}
	s.mu.Unlock()

	if err := r.store.UpsertConversation(ctx, conv); err != nil {
		r.log.Warn("persist conversation failed", "session_id", s.ID, "error", err)
	}
}

// handlePTYEvent is the single listener registered per session at Start; it
// drives the status engine and publishes the corresponding observed event.
func (r *Runtime) handlePTYEvent(sessionID string, ev pty.Event) {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	r.mu.Unlock()
	if !ok {
		return
	}

	switch ev.Kind {
	case pty.EventAttentionRequired:
		s.mu.Lock()
		s.applyPTYEvent("attention-required", ev.Reason, nil)
		s.mu.Unlock()
		r.persist(context.Background(), s)
		r.publish(s, journal.Event{Kind: journal.KindSessionStatus, Status: string(StatusNeedsInput), AttentionReason: ev.Reason})
	case pty.EventTurnCompleted:
		s.mu.Lock()
		s.applyPTYEvent("turn-completed", "", nil)
		s.mu.Unlock()
		r.persist(context.Background(), s)
		r.publish(s, journal.Event{Kind: journal.KindSessionStatus, Status: string(StatusCompleted)})
	case pty.EventSessionExit:
		var exit *Exit
		if ev.Exit != nil {
			exit = &Exit{Code: ev.Exit.Code, Signal: ev.Exit.Signal}
		}
		r.handleExit(s, exit)
	case pty.EventNotify:
		r.publish(s, journal.Event{Kind: journal.KindSessionEvent})
	}
}

func (r *Runtime) handleExit(s *Session, exit *Exit) {
	s.mu.Lock()
	s.applyPTYEvent("session-exit", "", exit)
	snap := s.Live.Snapshot()
	s.LastSnapshot = &snap
	live := s.Live
	for connID, attID := range s.AttachmentsByConnection {
		live.Detach(attID)
		delete(s.AttachmentsByConnection, connID)
	}
	s.EventSubscriberConnections = make(map[string]bool)
	s.Live = nil
	ttl := r.tombstoneTTL
	s.mu.Unlock()

	if live != nil {
		_ = live.Close()
	}

	r.persist(context.Background(), s)

	var jExit *journal.EventExit
	if exit != nil {
		jExit = &journal.EventExit{Code: exit.Code, Signal: exit.Signal}
	}
	r.publish(s, journal.Event{Kind: journal.KindSessionStatus, Status: string(StatusExited), Exit: jExit})

	if ttl <= 0 {
		r.mu.Lock()
		delete(r.sessions, s.ID)
		r.mu.Unlock()
		return
	}

	s.mu.Lock()
	s.tombstoneTimer = time.AfterFunc(ttl, func() {
		r.mu.Lock()
		delete(r.sessions, s.ID)
		r.mu.Unlock()
	})
	s.mu.Unlock()
}

// Get returns the session by id, or ErrNotFound.
func (r *Runtime) Get(sessionID string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	return s, nil
}

// checkController returns a *ClaimedError if connectionID is not permitted
// to mutate the session.
func checkController(s *Session, connectionID string) error {
	if s.Controller != nil && s.Controller.ConnectionID != connectionID {
		return &ClaimedError{Label: s.Controller.ControllerLabel}
	}
	return nil
}

// Attach implements pty.attach.
func (r *Runtime) Attach(sessionID, connectionID string, sinceCursor uint64, onData func(cursor uint64, chunk []byte), onExit func(exit Exit)) (string, error) {
	s, err := r.Get(sessionID)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	live := s.Live
	if prevID, ok := s.AttachmentsByConnection[connectionID]; ok && live != nil {
		live.Detach(prevID)
		delete(s.AttachmentsByConnection, connectionID)
	}
	s.mu.Unlock()

	if live == nil {
		return "", fmt.Errorf("%w: %s", ErrNotLive, sessionID)
	}

	attID, err := live.Attach(pty.Handlers{
		OnData: onData,
		OnExit: func(exit pty.Exit) {
			if onExit != nil {
				onExit(Exit{Code: exit.Code, Signal: exit.Signal})
			}
		},
	}, sinceCursor)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.AttachmentsByConnection[connectionID] = attID
	s.mu.Unlock()
	return attID, nil
}

// LatestCursor returns the session's live capability's current output
// cursor, for pty.attach's {latestCursor} reply field.
func (r *Runtime) LatestCursor(sessionID string) (uint64, error) {
	s, err := r.Get(sessionID)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	live := s.Live
	s.mu.Unlock()
	if live == nil {
		return 0, fmt.Errorf("%w: %s", ErrNotLive, sessionID)
	}
	return live.LatestCursor(), nil
}

// Snapshot implements session.snapshot: a live session's current terminal
// frame, or the last frame captured before exit with stale=true.
func (r *Runtime) Snapshot(sessionID string) (pty.Snapshot, bool, error) {
	s, err := r.Get(sessionID)
	if err != nil {
		return pty.Snapshot{}, false, err
	}
	s.mu.Lock()
	live := s.Live
	last := s.LastSnapshot
	s.mu.Unlock()
	if live != nil {
		return live.Snapshot(), false, nil
	}
	if last != nil {
		return *last, true, nil
	}
	return pty.Snapshot{}, true, nil
}

// pider is the optional LiveSession capability exposing an OS process id,
// implemented by pty.Process but not by test doubles.
type pider interface {
	Pid() int
}

// SessionPid returns the OS process id backing a live session's PTY
// capability, for agent.tools.status's resource-usage probe. ok is false
// when the session isn't live or its LiveSession doesn't expose a pid.
func (r *Runtime) SessionPid(sessionID string) (pid int, ok bool) {
	s, err := r.Get(sessionID)
	if err != nil {
		return 0, false
	}
	s.mu.Lock()
	live := s.Live
	s.mu.Unlock()
	if live == nil {
		return 0, false
	}
	p, isPider := live.(pider)
	if !isPider {
		return 0, false
	}
	return p.Pid(), true
}

// Detach implements pty.detach.
func (r *Runtime) Detach(sessionID, connectionID string) bool {
	s, err := r.Get(sessionID)
	if err != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	attID, ok := s.AttachmentsByConnection[connectionID]
	if !ok {
		return false
	}
	if s.Live != nil {
		s.Live.Detach(attID)
	}
	delete(s.AttachmentsByConnection, connectionID)
	return true
}

// Input implements pty.input: silently dropped on claim conflict or when
// the session is not live.
func (r *Runtime) Input(sessionID, connectionID string, data []byte) {
	s, err := r.Get(sessionID)
	if err != nil {
		return
	}
	s.mu.Lock()
	live := s.Live
	blocked := checkController(s, connectionID) != nil
	s.mu.Unlock()
	if live == nil || blocked {
		return
	}
	_ = live.Write(data)
}

// Resize implements pty.resize: same silent-drop semantics as Input.
func (r *Runtime) Resize(sessionID, connectionID string, cols, rows int) {
	s, err := r.Get(sessionID)
	if err != nil {
		return
	}
	s.mu.Lock()
	live := s.Live
	blocked := checkController(s, connectionID) != nil
	s.mu.Unlock()
	if live == nil || blocked {
		return
	}
	_ = live.Resize(cols, rows)
}

// Signal implements pty.signal: interrupt→0x03, eof→0x04,
// terminate→destroySession(closeSession=true). Same silent-drop semantics.
func (r *Runtime) Signal(sessionID, connectionID, signal string) {
	s, err := r.Get(sessionID)
	if err != nil {
		return
	}
	s.mu.Lock()
	live := s.Live
	blocked := checkController(s, connectionID) != nil
	s.mu.Unlock()
	if live == nil || blocked {
		return
	}
	switch signal {
	case "interrupt":
		_ = live.Write([]byte{0x03})
	case "eof":
		_ = live.Write([]byte{0x04})
	case "terminate":
		r.handleExit(s, nil)
	}
}

// Respond implements session.respond: a command, so claim conflicts fail
// rather than silently drop.
func (r *Runtime) Respond(sessionID, connectionID, text string) (sentBytes int, err error) {
	s, err := r.Get(sessionID)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	if err := checkController(s, connectionID); err != nil {
		s.mu.Unlock()
		return 0, err
	}
	live := s.Live
	s.mu.Unlock()
	if live == nil {
		return 0, fmt.Errorf("%w: %s", ErrNotLive, sessionID)
	}
	if err := live.Write([]byte(text)); err != nil {
		return 0, err
	}
	s.mu.Lock()
	s.applyCommandForceRunning()
	s.mu.Unlock()
	r.persist(context.Background(), s)
	r.publish(s, journal.Event{Kind: journal.KindSessionStatus, Status: string(StatusRunning)})
	return len(text), nil
}

// Interrupt implements session.interrupt.
func (r *Runtime) Interrupt(sessionID, connectionID string) error {
	s, err := r.Get(sessionID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if err := checkController(s, connectionID); err != nil {
		s.mu.Unlock()
		return err
	}
	live := s.Live
	s.mu.Unlock()
	if live == nil {
		return fmt.Errorf("%w: %s", ErrNotLive, sessionID)
	}
	_ = live.Write([]byte{0x03})
	s.mu.Lock()
	s.applyCommandForceRunning()
	s.mu.Unlock()
	r.persist(context.Background(), s)
	r.publish(s, journal.Event{Kind: journal.KindSessionStatus, Status: string(StatusRunning)})
	return nil
}

// Claim implements session.claim.
func (r *Runtime) Claim(sessionID, connectionID, controllerID, controllerType, controllerLabel string, takeover bool) (*Controller, error) {
	s, err := r.Get(sessionID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	var ctl Controller
	var publishEvent *journal.Event
	var claimErr error

	switch {
	case s.Controller == nil:
		s.Controller = &Controller{ControllerID: controllerID, ControllerType: controllerType, ControllerLabel: controllerLabel, ConnectionID: connectionID, ClaimedAt: time.Now()}
		ctl = *s.Controller
		publishEvent = &journal.Event{Kind: journal.KindSessionControl, ControlAction: "claimed"}
	case s.Controller.ControllerID == controllerID:
		ctl = *s.Controller // idempotent
	case !takeover:
		claimErr = &ClaimedError{Label: s.Controller.ControllerLabel}
	default:
		prev := s.Controller.ControllerLabel
		s.Controller = &Controller{ControllerID: controllerID, ControllerType: controllerType, ControllerLabel: controllerLabel, ConnectionID: connectionID, ClaimedAt: time.Now()}
		ctl = *s.Controller
		publishEvent = &journal.Event{Kind: journal.KindSessionControl, ControlAction: "taken-over", PreviousController: prev}
	}
	s.mu.Unlock()

	if claimErr != nil {
		return nil, claimErr
	}
	if publishEvent != nil {
		r.publish(s, *publishEvent)
	}
	return &ctl, nil
}

// Release implements session.release.
func (r *Runtime) Release(sessionID, connectionID, reason string) (released bool, err error) {
	s, err := r.Get(sessionID)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	if s.Controller == nil || s.Controller.ConnectionID != connectionID {
		s.mu.Unlock()
		return false, nil
	}
	s.Controller = nil
	s.mu.Unlock()
	r.publish(s, journal.Event{Kind: journal.KindSessionControl, ControlAction: "released", ControlReason: reason})
	return true, nil
}

// releaseForDisconnect is called by the connection layer on socket close
// for every session this connection controlled.
func (r *Runtime) releaseForDisconnect(connectionID string) {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		s.mu.Lock()
		held := s.Controller != nil && s.Controller.ConnectionID == connectionID
		if held {
			s.Controller = nil
		}
		s.mu.Unlock()
		if held {
			r.publish(s, journal.Event{Kind: journal.KindSessionControl, ControlAction: "released", ControlReason: "controller-disconnected"})
		}
	}
}

// DetachConnection implements the connection-manager shutdown side
// effects: detach every attachment, clear every event subscription, and
// release any controller this connection held.
func (r *Runtime) DetachConnection(connectionID string) {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		r.Detach(s.ID, connectionID)
		s.mu.Lock()
		delete(s.EventSubscriberConnections, connectionID)
		s.mu.Unlock()
	}
	r.releaseForDisconnect(connectionID)
}

// Remove implements session.remove: destroy at any point.
func (r *Runtime) Remove(sessionID string) error {
	s, err := r.Get(sessionID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	live := s.Live
	if s.tombstoneTimer != nil {
		s.tombstoneTimer.Stop()
	}
	s.mu.Unlock()
	if live != nil {
		_ = live.Close()
	}
	r.mu.Lock()
	delete(r.sessions, sessionID)
	r.mu.Unlock()
	return nil
}

// List implements session.list/attention.list.
func (r *Runtime) List(filter ListFilter, order SortOrder) []Summary {
	r.mu.Lock()
	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.mu.Unlock()

	out := make([]Summary, 0, len(all))
	for _, s := range all {
		sum := s.Summary()
		if filter.TenantID != "" && filter.TenantID != sum.TenantID {
			continue
		}
		if filter.UserID != "" && filter.UserID != sum.UserID {
			continue
		}
		if filter.WorkspaceID != "" && filter.WorkspaceID != sum.WorkspaceID {
			continue
		}
		if filter.Status != "" && filter.Status != sum.Status {
			continue
		}
		if filter.LiveOnly && !sum.Live {
			continue
		}
		out = append(out, sum)
	}

	switch order {
	case SortStartedAsc:
		sort.Slice(out, func(i, j int) bool {
			if out[i].StartedAt.Equal(out[j].StartedAt) {
				return out[i].ID < out[j].ID
			}
			return out[i].StartedAt.Before(out[j].StartedAt)
		})
	case SortStartedDesc:
		sort.Slice(out, func(i, j int) bool {
			if out[i].StartedAt.Equal(out[j].StartedAt) {
				return out[i].ID < out[j].ID
			}
			return out[i].StartedAt.After(out[j].StartedAt)
		})
	default: // attention-first
		sort.Slice(out, func(i, j int) bool {
			pi, pj := statusPriority(out[i].Status), statusPriority(out[j].Status)
			if pi != pj {
				return pi < pj
			}
			li, lj := out[i].LastEventAt, out[j].LastEventAt
			switch {
			case li == nil && lj != nil:
				return false
			case li != nil && lj == nil:
				return true
			case li != nil && lj != nil && !li.Equal(*lj):
				return li.After(*lj)
			}
			if !out[i].StartedAt.Equal(out[j].StartedAt) {
				return out[i].StartedAt.After(out[j].StartedAt)
			}
			return out[i].ID < out[j].ID
		})
	}
	return out
}

func statusPriority(s Status) int {
	switch s {
	case StatusNeedsInput:
		return 0
	case StatusRunning:
		return 1
	case StatusCompleted:
		return 2
	case StatusExited:
		return 3
	}
	return 4
}

// RecoverOnStartup reconstructs session records (without relaunching a
// subprocess) for every non-archived persisted conversation. Failures are
// counted but non-fatal; a recovered session is queryable but not live
// until the client issues a fresh pty.start for its id.
func (r *Runtime) RecoverOnStartup(ctx context.Context) (recovered int, failed int) {
	if r.store == nil {
		return 0, 0
	}
	convs, err := r.store.ListConversations(ctx, false)
	if err != nil {
		r.log.Warn("recover: list conversations failed", "error", err)
		return 0, 0
	}
	for _, c := range convs {
		status := StatusRunning
		if (c.RuntimeStatus == store.RuntimeStatusNeedsInput || c.RuntimeStatus == store.RuntimeStatusCompleted) && c.RuntimeLastEventAt != nil {
			status = Status(c.RuntimeStatus)
		}
		s := NewSession(c.ConversationID)
		s.TenantID = c.TenantID
		s.UserID = c.UserID
		s.WorkspaceID = c.WorkspaceID
		s.DirectoryID = c.DirectoryID
		s.AgentType = c.AgentType
		s.Status = status
		s.AdapterState = c.AdapterState
		s.projectStatusModel()

		r.mu.Lock()
		r.sessions[c.ConversationID] = s
		r.mu.Unlock()
		recovered++
	}
	return recovered, failed
}

// ApplyTelemetryKeyEvent feeds a retained telemetry event into the status
// engine for sessionID. Reports false if the session is unknown (the
// ingest path treats that as nothing to do, not an error).
func (r *Runtime) ApplyTelemetryKeyEvent(ctx context.Context, sessionID, statusHint, eventName string, payload map[string]any) bool {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	r.mu.Unlock()
	if !ok {
		return false
	}

	s.mu.Lock()
	s.applyTelemetryKeyEvent(statusHint, payload)
	status := s.Status
	reason := s.AttentionReason
	s.mu.Unlock()

	r.persist(ctx, s)
	r.publish(s, journal.Event{
		Kind:            journal.KindSessionKeyEvent,
		Status:          string(status),
		AttentionReason: reason,
		KeyEventName:    eventName,
		Payload:         payload,
	})
	return true
}

// PublishPromptEvent publishes a session-prompt-event for a telemetry event
// a prompt extractor recognized. Dedupe is the ingest path's
// responsibility (pkg/telemetry), not the runtime's.
func (r *Runtime) PublishPromptEvent(sessionID, summary string) bool {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	r.publish(s, journal.Event{Kind: journal.KindSessionPromptEvent, Summary: summary})
	return true
}

// ReconcileCodexResumeSessionID sets adapterState.codex.resumeSessionId for
// sessionID if providerThreadID differs from the currently stored value,
// persisting only on change.
func (r *Runtime) ReconcileCodexResumeSessionID(ctx context.Context, sessionID, providerThreadID string) bool {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	r.mu.Unlock()
	if !ok {
		return false
	}

	s.mu.Lock()
	if s.AdapterState == nil {
		s.AdapterState = make(map[string]any)
	}
	codexState, _ := s.AdapterState["codex"].(map[string]any)
	if codexState == nil {
		codexState = make(map[string]any)
	}
	changed := codexState["resumeSessionId"] != providerThreadID
	if changed {
		codexState["resumeSessionId"] = providerThreadID
		s.AdapterState["codex"] = codexState
	}
	s.mu.Unlock()

	if changed {
		r.persist(ctx, s)
	}
	return true
}

// RecordTelemetryDiagnostics bumps the per-session telemetry counters the
// daemon exposes for observability.
func (r *Runtime) RecordTelemetryDiagnostics(sessionID string, ingested, retained, dropped uint64) {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	r.mu.Unlock()
	if !ok {
		return
	}
	s.mu.Lock()
	s.Diagnostics.TelemetryIngestedTotal += ingested
	s.Diagnostics.TelemetryRetainedTotal += retained
	s.Diagnostics.TelemetryDroppedTotal += dropped
	s.mu.Unlock()
}

// RecordFanoutEnqueue bumps a session's fan-out byte/event counters after a
// successful envelope enqueue onto a connection's write queue.
func (r *Runtime) RecordFanoutEnqueue(sessionID string, bytes int) {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	r.mu.Unlock()
	if !ok {
		return
	}
	s.mu.Lock()
	s.Diagnostics.FanoutBytesEnqueuedTotal += uint64(bytes)
	s.Diagnostics.FanoutEventsEnqueuedTotal++
	s.mu.Unlock()
}

// RecordFanoutBackpressure bumps a session's back-pressure-signal counter,
// and its disconnect counter when the overflow tore the connection down.
func (r *Runtime) RecordFanoutBackpressure(sessionID string, disconnected bool) {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	r.mu.Unlock()
	if !ok {
		return
	}
	s.mu.Lock()
	s.Diagnostics.BackpressureSignalsTotal++
	if disconnected {
		s.Diagnostics.FanoutBackpressureDisconnectsTotal++
	}
	s.mu.Unlock()
}

// HasSession reports whether sessionID currently has a runtime record
// (live or recovered), used by the telemetry ingest path to resolve a
// token without exposing the full Session to an unrelated package.
func (r *Runtime) HasSession(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[sessionID]
	return ok
}
