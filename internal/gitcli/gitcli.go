// Package gitcli shells out to the git binary. The module depends on git's
// exit codes and stdout formats rather than a library binding, since
// downstream tooling (rhpkg, rebase scripts) already requires a working git
// installation and clone semantics must match it exactly.
package gitcli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/MartinPl0/art-tools/internal/ctxlog"
)

// noPromptEnv stops git from blocking an unattended run on credential
// prompts. Failed auth should surface as a command failure instead.
var noPromptEnv = []string{
	"GIT_TERMINAL_PROMPT=0",
	"GIT_SSH_COMMAND=ssh -oBatchMode=yes",
}

// Output runs git with the given args in dir (empty dir = inherited cwd) and
// returns trimmed stdout. Stderr is folded into the returned error.
func Output(ctx context.Context, dir string, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Env = append(os.Environ(), noPromptEnv...)
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s failed: %s: %w", strings.Join(args, " "), strings.TrimSpace(stderr.String()), err)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// Run is Output for callers that only care about success.
func Run(ctx context.Context, dir string, args ...string) error {
	_, err := Output(ctx, dir, args...)
	return err
}

// RunRetry reruns a failing git command up to retries total attempts. Network
// operations against remotes flake; everything else fails fast on attempt one
// anyway.
func RunRetry(ctx context.Context, dir string, retries int, args ...string) error {
	var err error
	for attempt := 0; attempt < retries; attempt++ {
		if err = Run(ctx, dir, args...); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		ctxlog.FromContext(ctx).Warn("git command failed, retrying", "args", strings.Join(args, " "), "attempt", attempt+1, "error", err)
	}
	return err
}

// FireAndForget starts a git command in dir and does not wait for it. Used
// for best-effort cache refreshes where failure is acceptable.
func FireAndForget(dir string, args ...string) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), noPromptEnv...)
	_ = cmd.Start()
	go func() { _ = cmd.Wait() }()
}

// LsRemoteHead queries the remote for a single branch head. It returns the
// commit hash if the branch exists and an empty string if it does not; only
// command-level failures return an error.
func LsRemoteHead(ctx context.Context, url, branch string) (string, error) {
	out, err := Output(ctx, "", "ls-remote", "--heads", url, branch)
	if err != nil {
		return "", err
	}
	if out == "" {
		return "", nil
	}
	// "7e66b10f...	refs/heads/some_branch"
	return strings.Fields(out)[0], nil
}

// OriginURL returns the configured remote.origin.url for a checkout.
func OriginURL(ctx context.Context, dir string) (string, error) {
	return Output(ctx, dir, "config", "--get", "remote.origin.url")
}

// CurrentBranch returns the abbreviated ref of HEAD ("HEAD" when detached).
func CurrentBranch(ctx context.Context, dir string) (string, error) {
	return Output(ctx, dir, "rev-parse", "--abbrev-ref", "HEAD")
}

// BranchContains verifies commitish is reachable from some branch in dir.
func BranchContains(ctx context.Context, dir, commitish string) error {
	return Run(ctx, dir, "branch", "--contains", commitish)
}

// Checkout checks out a branch or commit in dir.
func Checkout(ctx context.Context, dir, ref string) error {
	return Run(ctx, dir, "checkout", ref)
}
