package server

import (
	"context"
	"os"
	"os/exec"
	"runtime"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/sessionbridge/daemon/pkg/session"
)

// toolProbe describes one agent binary agent.tools.status checks for on PATH.
type toolProbe struct {
	kind        string
	binary      string
	installHint string
}

func toolProbes() []toolProbe {
	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "/bin/sh"
	}
	return []toolProbe{
		{kind: "codex", binary: "codex", installHint: "npm install -g @openai/codex"},
		{kind: "claude", binary: "claude", installHint: "npm install -g @anthropic-ai/claude-code"},
		{kind: "cursor", binary: "cursor-agent", installHint: "install the Cursor CLI from cursor.com"},
		{kind: "critique", binary: "critique", installHint: "install critique from your internal tooling distribution"},
		{kind: "terminal", binary: shell, installHint: "set $SHELL to a valid shell on this host"},
	}
}

// cmdAgentToolsStatus implements agent.tools.status: probes PATH for every
// supported agent binary and attaches a best-effort resource snapshot for
// whichever live sessions are currently driving one of them.
func (s *Server) cmdAgentToolsStatus(ctx context.Context) (any, error) {
	tools := make([]map[string]any, 0, len(toolProbes()))
	for _, probe := range toolProbes() {
		entry := map[string]any{
			"kind":   probe.kind,
			"binary": probe.binary,
		}
		if path, err := exec.LookPath(probe.binary); err == nil {
			entry["available"] = true
			entry["path"] = path
		} else {
			entry["available"] = false
			entry["installHint"] = probe.installHint
		}
		tools = append(tools, entry)
	}

	summaries := s.runtime.List(session.ListFilter{LiveOnly: true}, session.SortStartedAsc)
	sessions := make([]map[string]any, 0, len(summaries))
	for _, sum := range summaries {
		entry := map[string]any{
			"sessionId": sum.ID,
			"agentType": sum.AgentType,
		}
		if pid, ok := s.runtime.SessionPid(sum.ID); ok {
			if usage := resourceUsage(pid); usage != nil {
				entry["resourceUsage"] = usage
			}
		}
		sessions = append(sessions, entry)
	}

	return map[string]any{"tools": tools, "sessions": sessions}, nil
}

// resourceUsage reports a live session subprocess's CPU/RSS via gopsutil,
// nil when the process can no longer be inspected (exited, permission
// denied, or unsupported GOOS).
func resourceUsage(pid int) map[string]any {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return nil
	}

	out := map[string]any{"pid": pid, "platform": runtime.GOOS}
	if cpuPct, err := proc.CPUPercent(); err == nil {
		out["cpuPercent"] = cpuPct
	}
	if memInfo, err := proc.MemoryInfo(); err == nil && memInfo != nil {
		out["memRSS"] = memInfo.RSS
	}
	return out
}
