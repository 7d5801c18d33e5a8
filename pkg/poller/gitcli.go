package poller

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// GitCLIReader is the production SnapshotReader: it shells out to the git
// binary rather than linking a git-plumbing library, since none of the
// retrieved dependency stacks vendor one (see the design ledger).
type GitCLIReader struct{}

// ReadSnapshot implements SnapshotReader by combining `git status
// --porcelain=v1 --branch` with the origin remote URL.
func (GitCLIReader) ReadSnapshot(ctx context.Context, dirPath string) (GitStatusSnapshot, error) {
	status, err := runGit(ctx, dirPath, "status", "--porcelain=v1", "--branch")
	if err != nil {
		return GitStatusSnapshot{}, fmt.Errorf("git status: %w", err)
	}

	remote, err := runGit(ctx, dirPath, "remote", "get-url", "origin")
	if err != nil {
		remote = ""
	}

	return GitStatusSnapshot{
		Summary:   summarizeStatus(status),
		RemoteURL: strings.TrimSpace(remote),
	}, nil
}

func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s: %w", out.String(), err)
	}
	return out.String(), nil
}

// summarizeStatus condenses `git status --porcelain=v1 --branch` output into
// a one-line "branch ahead/behind, N changed" summary.
func summarizeStatus(porcelain string) string {
	lines := strings.Split(strings.TrimRight(porcelain, "\n"), "\n")
	if len(lines) == 0 {
		return ""
	}

	branch := strings.TrimPrefix(lines[0], "## ")
	changed := 0
	for _, l := range lines[1:] {
		if strings.TrimSpace(l) != "" {
			changed++
		}
	}

	if changed == 0 {
		return fmt.Sprintf("%s, clean", branch)
	}
	return fmt.Sprintf("%s, %d changed", branch, changed)
}

var _ SnapshotReader = GitCLIReader{}
