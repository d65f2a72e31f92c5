package source

import (
	"context"
	"strconv"

	"github.com/MartinPl0/art-tools/internal/ctxlog"
	"github.com/MartinPl0/art-tools/internal/fatal"
	"github.com/MartinPl0/art-tools/internal/gitcli"
	"github.com/MartinPl0/art-tools/internal/meta"
)

// IsCommitHash reports whether a "branch" value from metadata is actually a
// pinned commit hash: at least 7 characters, all valid hex. Custom
// assemblies pin sources this way; such values are never sent through remote
// branch lookups.
func IsCommitHash(branch string) bool {
	if len(branch) < 7 {
		return false
	}
	_, err := strconv.ParseUint(branch, 16, 64)
	if err != nil {
		// Hashes longer than 16 hex digits overflow ParseUint; check
		// digit-by-digit instead of rejecting.
		for _, c := range branch {
			if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
				return false
			}
		}
	}
	return true
}

// DetectBranch finds a configured source branch that exists on the remote,
// honoring the stage override and the fallback policy. Returns the branch
// name and, when a remote lookup happened, its current commit hash.
func (r *Resolver) DetectBranch(ctx context.Context, details *meta.SourceGit) (string, string, error) {
	logger := ctxlog.FromContext(ctx)
	url := details.URL
	branch := details.Branch.Target
	fallback := details.Branch.Fallback

	switch r.Fallback {
	case FallbackAlways:
		if fallback != "" {
			branch, fallback = fallback, ""
		}
	case FallbackNever:
		fallback = ""
	}

	if r.Stage && details.Branch.Stage != "" {
		stage := details.Branch.Stage
		logger.Info("normal branch overridden by stage mode", "branch", stage)
		hash := remoteBranchRef(ctx, url, stage)
		if hash == "" {
			return "", "", fatal.Resolutionf("stage mode specified and no stage branch named %q exists for %s", stage, url)
		}
		return stage, hash, nil
	}

	if IsCommitHash(branch) {
		return branch, branch, nil
	}

	if hash := remoteBranchRef(ctx, url, branch); hash != "" {
		return branch, hash, nil
	}
	if fallback == "" {
		return "", "", fatal.Resolutionf("requested target branch %s does not exist in %s and no fallback provided", branch, url)
	}

	logger.Info("target branch does not exist, checking fallback", "url", url, "fallback", fallback)
	if hash := remoteBranchRef(ctx, url, fallback); hash != "" {
		return fallback, hash, nil
	}
	return "", "", fatal.Resolutionf("neither target branch %s nor fallback branch %s exists in %s", branch, fallback, url)
}

// remoteBranchRef probes the remote for a branch head. Network errors are
// treated as "not found": the caller's fallback protocol decides whether
// that is fatal.
func remoteBranchRef(ctx context.Context, url, branch string) string {
	logger := ctxlog.FromContext(ctx)
	logger.Info("checking if branch exists on remote", "branch", branch, "url", url)

	var hash string
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		hash, err = gitcli.LsRemoteHead(ctx, url, branch)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			break
		}
	}
	if err != nil {
		logger.Error("error attempting to find branch head", "branch", branch, "error", err)
		return ""
	}
	if hash == "" && IsCommitHash(branch) {
		return branch
	}
	return hash
}
