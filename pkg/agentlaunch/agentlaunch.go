// Package agentlaunch resolves an agent kind to a concrete launch command
// and builds the telemetry/hook arguments the session runtime injects before
// starting a subprocess: pick a launch profile by agent kind, falling back
// to a plain terminal when the kind is unrecognized.
package agentlaunch

import (
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
)

// Kind is the closed set of agent kinds the runtime supports.
type Kind string

const (
	KindCodex    Kind = "codex"
	KindClaude   Kind = "claude"
	KindCursor   Kind = "cursor"
	KindCritique Kind = "critique"
	KindTerminal Kind = "terminal"
)

// Profile is a fully resolved launch command plus any hook wiring the
// subprocess needs written to disk before it starts.
type Profile struct {
	Command          string
	Args             []string
	Env              []string
	TelemetryToken   string
	HookSettingsPath string // non-empty for claude/cursor
}

// Resolver resolves launch profiles. Its only state is the telemetry base
// URL and the hook-relay directory, both fixed at server start.
type Resolver struct {
	TelemetryBaseURL string
	HookRelayDir     string
}

// NewResolver builds a Resolver bound to the given telemetry ingest address.
func NewResolver(telemetryBaseURL, hookRelayDir string) *Resolver {
	return &Resolver{TelemetryBaseURL: telemetryBaseURL, HookRelayDir: hookRelayDir}
}

// Resolve computes the launch command for a session, minting a fresh
// single-use telemetry token and, for claude/cursor, a hook-relay settings
// path pointing at a per-session file.
func (r *Resolver) Resolve(sessionID string, kind Kind, extraArgs []string) Profile {
	if !isKnownKind(kind) {
		kind = KindTerminal
	}

	token := uuid.New().String()
	profile := Profile{
		TelemetryToken: token,
	}

	base := fmt.Sprintf("%s/v1", r.TelemetryBaseURL)
	switch kind {
	case KindCodex:
		profile.Command = "codex"
		profile.Args = append([]string{"--otlp-endpoint", base + "/logs/" + token}, extraArgs...)
	case KindClaude:
		profile.Command = "claude"
		profile.HookSettingsPath = filepath.Join(r.HookRelayDir, sessionID+"-claude-hooks.json")
		profile.Args = append([]string{"--settings", profile.HookSettingsPath}, extraArgs...)
	case KindCursor:
		profile.Command = "cursor-agent"
		profile.HookSettingsPath = filepath.Join(r.HookRelayDir, sessionID+"-cursor-hooks.json")
		profile.Args = append([]string{"--hooks", profile.HookSettingsPath}, extraArgs...)
	case KindCritique:
		profile.Command = "critique"
		profile.Args = extraArgs
	default:
		profile.Command = defaultShell()
		profile.Args = extraArgs
	}

	return profile
}

func isKnownKind(k Kind) bool {
	switch k {
	case KindCodex, KindClaude, KindCursor, KindCritique, KindTerminal:
		return true
	}
	return false
}

func defaultShell() string {
	return "/bin/sh"
}

// HookRelayPayload is the settings blob written for claude/cursor hook
// wiring, pointing the subprocess's lifecycle hooks back at the daemon's
// telemetry ingest endpoint.
type HookRelayPayload struct {
	SessionID    string `json:"sessionId"`
	RelayURL     string `json:"relayUrl"`
	RelayToken   string `json:"relayToken"`
}
