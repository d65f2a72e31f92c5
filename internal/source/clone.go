package source

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/MartinPl0/art-tools/internal/ctxlog"
	"github.com/MartinPl0/art-tools/internal/gitcli"
)

// cloneRetries is how many times a clone is attempted before declaring a
// fatal failure. The target directory is removed between attempts.
const cloneRetries = 3

// Clone performs a git clone of remoteURL into targetDir. When the resolver
// has a cache directory, the clone references a shared bare mirror of the
// remote to save bandwidth and disk across runs and processes on the same
// machine.
func (r *Resolver) Clone(ctx context.Context, remoteURL, targetDir string, extraArgs ...string) error {
	logger := ctxlog.FromContext(ctx)
	args := append([]string{}, extraArgs...)

	if r.CacheDir != "" {
		mirror, err := r.ensureCacheMirror(ctx, remoteURL)
		if err != nil {
			return err
		}
		// Keep the cache as fresh as possible without blocking the clone.
		gitcli.FireAndForget(mirror, "fetch", "--all")
		args = append(args, "--dissociate", "--reference-if-able", mirror)
	}

	args = append(args, "--recurse-submodules")
	logger.Info("cloning", "url", remoteURL, "dir", targetDir)

	cloneArgs := append([]string{"clone", remoteURL}, append(args, targetDir)...)
	var err error
	for attempt := 0; attempt < cloneRetries; attempt++ {
		if err = gitcli.Run(ctx, "", cloneArgs...); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		logger.Warn("clone failed, retrying", "url", remoteURL, "attempt", attempt+1, "error", err)
		_ = os.RemoveAll(targetDir)
	}
	return err
}

// ensureCacheMirror returns the path of the bare mirror repo for remoteURL,
// creating it exactly once. Creation builds the mirror in a temp directory
// and atomically renames it into place so concurrent processes on the same
// machine never observe a partially initialized cache.
func (r *Resolver) ensureCacheMirror(ctx context.Context, remoteURL string) (string, error) {
	logger := ctxlog.FromContext(ctx)

	user := r.User
	if user == "" {
		user = "default"
	}
	cacheRoot := filepath.Join(r.CacheDir, user, "git")
	if err := os.MkdirAll(cacheRoot, 0o755); err != nil {
		return "", err
	}

	// A human-friendly but unique directory name derived from the url.
	normalized := ConvertRemoteGitToHTTPS(remoteURL)
	friendly := normalized
	if idx := strings.Index(friendly, "//"); idx >= 0 {
		friendly = friendly[idx+2:]
	}
	friendly = strings.ReplaceAll(friendly, "/", "_")
	mirror := filepath.Join(cacheRoot, friendly)

	if _, err := os.Stat(mirror); err == nil {
		return mirror, nil
	}

	// Cooperate with other threads in this process via the named lock, and
	// with other processes via the atomic rename below.
	sem := r.Locker.NamedDir(mirror)
	if err := sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer sem.Release(1)

	if _, err := os.Stat(mirror); err == nil {
		return mirror, nil
	}

	logger.Info("initializing clone cache for remote", "url", remoteURL, "mirror", mirror)
	tmp, err := os.MkdirTemp(cacheRoot, "mirror-")
	if err != nil {
		return "", err
	}
	if err := gitcli.Run(ctx, "", "init", "--bare", tmp); err != nil {
		_ = os.RemoveAll(tmp)
		return "", err
	}
	if err := gitcli.Run(ctx, tmp, "remote", "add", "origin", remoteURL); err != nil {
		_ = os.RemoveAll(tmp)
		return "", err
	}

	if err := os.Rename(tmp, mirror); err != nil {
		// Another process may have won the rename race; that is success.
		_ = os.RemoveAll(tmp)
		if _, statErr := os.Stat(mirror); statErr != nil {
			return "", err
		}
	}
	return mirror, nil
}
