// Package server wires every daemon component into the two listening
// surfaces clients see: the newline-delimited-JSON TCP control plane and
// the OTLP telemetry HTTP ingest, with one wiring struct owning both
// listeners and the shared runtime underneath them.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/sessionbridge/daemon/pkg/agentlaunch"
	"github.com/sessionbridge/daemon/pkg/config"
	"github.com/sessionbridge/daemon/pkg/connection"
	"github.com/sessionbridge/daemon/pkg/hooks"
	"github.com/sessionbridge/daemon/pkg/journal"
	"github.com/sessionbridge/daemon/pkg/poller"
	"github.com/sessionbridge/daemon/pkg/pty"
	"github.com/sessionbridge/daemon/pkg/session"
	"github.com/sessionbridge/daemon/pkg/store"
	"github.com/sessionbridge/daemon/pkg/telemetry"
)

// Server owns the control-plane TCP listener, the telemetry HTTP listener,
// and every component both lean on.
type Server struct {
	cfg config.ServerConfig

	st      store.StateStore
	journal *journal.Journal
	conns   *connection.Manager
	runtime *session.Runtime
	launch  *agentlaunch.Resolver
	hooksRT *hooks.Runtime

	telemetrySvc *telemetry.Service
	tokens       *telemetry.TokenRegistry
	telemetryE   *echo.Echo
	telemetryH   *http.Server

	gitStatus      *poller.GitStatusRefresher
	gitStatusStop  chan struct{}
	historyMu      sync.Mutex
	historyTailers map[string]*poller.HistoryTailer

	telemetryBaseURL string

	ln net.Listener

	connWG sync.WaitGroup

	log *slog.Logger
}

const shutdownGrace = 5 * time.Second

// New constructs a Server from its resolved configuration and the backing
// StateStore. Pass pty.ProcessStarter{} for a real deployment, or a
// pty.FakeStarter in tests.
func New(cfg config.ServerConfig, st store.StateStore, starter pty.Starter, gitReader poller.SnapshotReader) *Server {
	log := slog.Default()

	j := journal.New(cfg.Poll.MaxStreamJournalEntries)
	conns := connection.NewManager()

	hooksRT := hooks.New(cfg.Hooks.WebhookURLs, cfg.Hooks.PendingQueueLimit, cfg.Hooks.DedupeWindow, cfg.Hooks.DispatchTimeout)

	tokens := telemetry.NewTokenRegistry()

	telemetryE := echo.New()
	telemetryE.Use(middleware.Recover())

	telemetryBaseURL := fmt.Sprintf("http://%s:%d", cfg.TelemetryHost, cfg.TelemetryPort)

	srv := &Server{
		cfg:              cfg,
		st:               st,
		journal:          j,
		conns:            conns,
		launch:           agentlaunch.NewResolver(telemetryBaseURL, os.TempDir()),
		hooksRT:          hooksRT,
		tokens:           tokens,
		telemetryE:       telemetryE,
		historyTailers:   make(map[string]*poller.HistoryTailer),
		telemetryBaseURL: telemetryBaseURL,
		log:              log,
	}

	dispatch := func(sub journal.Subscription, entry journal.Entry) {
		c := srv.conns.Get(sub.ConnectionID)
		if c == nil {
			return
		}
		srv.deliverStreamEvent(c, sub.ID, entry)
	}

	runtime := session.NewRuntime(st, j, starter, cfg.Tombstone.SessionExitTombstoneTTL, dispatch)
	runtime.SetEventHook(func(sessionID string, connectionIDs []string, event journal.Event) {
		for _, connID := range connectionIDs {
			if c := srv.conns.Get(connID); c != nil {
				srv.deliverPTYEvent(c, sessionID, event)
			}
		}
	})
	hooksRT.SetProviderLookup(func(sessionID string) hooks.Provider {
		s, err := runtime.Get(sessionID)
		if err != nil {
			return hooks.ProviderUnknown
		}
		return providerForAgentType(s.Summary().AgentType)
	})
	srv.runtime = runtime

	publishToJournal := func(scope journal.Scope, event journal.Event) {
		j.Publish(scope, event, dispatch)
	}

	if gitReader != nil {
		srv.gitStatus = poller.NewGitStatusRefresher(st, gitReader, cfg.Poll.GitStatusMinDirectoryRefresh, cfg.Poll.GitStatusMaxConcurrency, publishToJournal)
	}

	telemetrySvc := telemetry.NewService(st, runtime, telemetry.ParserModeLifecycleFast)
	srv.telemetrySvc = telemetrySvc
	telemetry.NewHandler(telemetrySvc, tokens).Register(telemetryE)

	j.SetHooksSink(func(e journal.Entry) {
		hooksRT.Handle(e)
		if e.Event.Kind == journal.KindSessionStatus && e.Event.Status == string(session.StatusExited) {
			srv.stopHistoryTailer(e.Scope.ConversationID)
			tokens.RevokeSession(e.Scope.ConversationID)
		}
	})

	return srv
}

func providerForAgentType(agentType string) hooks.Provider {
	switch agentType {
	case "codex":
		return hooks.ProviderCodex
	case "claude":
		return hooks.ProviderClaude
	case "cursor":
		return hooks.ProviderCursor
	default:
		return hooks.ProviderUnknown
	}
}

// Serve starts the control-plane TCP listener, the telemetry HTTP listener,
// the lifecycle-hooks drain loop, and (if configured) the git-status
// poller. It blocks until ctx is canceled, then runs the graceful shutdown
// ordering: stop the git-status timer and await its in-flight sweep,
// destroy every session, close connections, close listeners, close the
// hooks runtime, close the store. History tailers are told to stop as
// their sessions are destroyed; an in-flight tail tick is not awaited.
func (s *Server) Serve(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.ln = ln

	telemetryAddr := fmt.Sprintf("%s:%d", s.cfg.TelemetryHost, s.cfg.TelemetryPort)
	telemetryLn, err := net.Listen("tcp", telemetryAddr)
	if err != nil {
		_ = ln.Close()
		return fmt.Errorf("listen %s: %w", telemetryAddr, err)
	}
	s.telemetryH = &http.Server{Handler: s.telemetryE}

	hooksCtx, cancelHooks := context.WithCancel(context.Background())
	go s.hooksRT.Run(hooksCtx)

	recovered, failed := s.runtime.RecoverOnStartup(ctx)
	s.log.Info("recovered sessions on startup", "recovered", recovered, "failed", failed)

	gitDone := make(chan struct{})
	if s.gitStatus != nil {
		s.gitStatusStop = make(chan struct{})
		go func() {
			defer close(gitDone)
			s.runGitStatusLoop()
		}()
	} else {
		close(gitDone)
	}

	go func() {
		if err := s.telemetryH.Serve(telemetryLn); err != nil && err != http.ErrServerClosed {
			s.log.Error("telemetry listener stopped", "error", err)
		}
	}()

	acceptDone := make(chan struct{})
	go func() {
		defer close(acceptDone)
		s.acceptLoop(ln)
	}()

	<-ctx.Done()
	s.log.Info("server shutting down")

	if s.gitStatusStop != nil {
		close(s.gitStatusStop)
	}
	<-gitDone

	for _, id := range s.runtimeSessionIDs() {
		s.stopHistoryTailer(id)
		_ = s.runtime.Remove(id)
	}

	s.conns.CloseAll()
	_ = ln.Close()
	<-acceptDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shutdownCancel()
	_ = s.telemetryH.Shutdown(shutdownCtx)

	s.connWG.Wait()

	cancelHooks()
	s.hooksRT.Stop()

	return s.st.Close(context.Background())
}

func (s *Server) runtimeSessionIDs() []string {
	summaries := s.runtime.List(session.ListFilter{}, session.SortStartedAsc)
	ids := make([]string, 0, len(summaries))
	for _, sum := range summaries {
		ids = append(ids, sum.ID)
	}
	return ids
}

func (s *Server) runGitStatusLoop() {
	interval := s.cfg.Poll.GitStatusMinDirectoryRefresh
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.gitStatusStop:
			return
		case <-ticker.C:
			if err := s.gitStatus.Run(context.Background()); err != nil {
				s.log.Warn("git status sweep failed", "error", err)
			}
		}
	}
}

// publishEvent records an observed event and fans it out to matching
// stream.subscribe subscriptions, used by the directory/conversation/task/
// repository command handlers after a state-store mutation.
func (s *Server) publishEvent(scope journal.Scope, event journal.Event) journal.Entry {
	return s.journal.Publish(scope, event, func(sub journal.Subscription, entry journal.Entry) {
		if c := s.conns.Get(sub.ConnectionID); c != nil {
			s.deliverStreamEvent(c, sub.ID, entry)
		}
	})
}

func (s *Server) acceptLoop(ln net.Listener) {
	for {
		sock, err := ln.Accept()
		if err != nil {
			return
		}
		s.connWG.Add(1)
		go func() {
			defer s.connWG.Done()
			s.handleConn(sock)
		}()
	}
}
