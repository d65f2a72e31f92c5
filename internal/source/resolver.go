// Package source resolves a component's declared upstream source to a local
// checkout: it derives a resolution alias, detects the branch to use with
// target/fallback rules, clones (optionally through a shared bare-mirror
// cache), applies public/private upstream remapping, and memoizes the result
// so each alias is cloned at most once per runtime.
package source

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/MartinPl0/art-tools/internal/ctxlog"
	"github.com/MartinPl0/art-tools/internal/fatal"
	"github.com/MartinPl0/art-tools/internal/gitcli"
	"github.com/MartinPl0/art-tools/internal/locker"
	"github.com/MartinPl0/art-tools/internal/meta"
)

// Resolution is the cached outcome of resolving one alias. Entries are
// written exactly once per alias per runtime and never mutated afterwards.
type Resolution struct {
	SourcePath           string
	URL                  string
	Branch               string
	PublicUpstreamURL    string
	PublicUpstreamBranch string
}

// FallbackPolicy controls how the fallback branch participates in branch
// detection, from the group's use_source_fallback_branch setting.
type FallbackPolicy string

const (
	FallbackDefault FallbackPolicy = ""
	// FallbackAlways uses only the fallback branch (when one is given).
	FallbackAlways FallbackPolicy = "always"
	// FallbackNever ignores the fallback branch.
	FallbackNever FallbackPolicy = "never"
)

// Resolver owns source resolution for one runtime.
type Resolver struct {
	// SourcesDir is where clones land (working_dir/sources).
	SourcesDir string
	// CacheDir enables the shared bare-mirror clone cache when non-empty.
	CacheDir string
	// User namespaces the clone cache between operators on a shared machine.
	User string

	Locker *locker.Registry
	// Rules is the group's public_upstreams mapping; empty disables
	// public-upstream handling entirely.
	Rules []UpstreamRule
	// GroupSources is the group-level source alias table.
	GroupSources map[string]*meta.SourceGit

	Fallback FallbackPolicy
	// Stage activates the stage-branch override in branch detection.
	Stage bool
	// Upcycle refreshes on-disk clones surviving from a prior run.
	Upcycle bool
	// PreventCloning turns any attempted clone into an error; used by
	// operations that must never touch the network.
	PreventCloning bool

	// OnRegister, when set, is invoked once per newly registered alias (for
	// record.log / state bookkeeping).
	OnRegister func(alias string, res Resolution)

	// mu guards the resolution table only. Clone serialization is per-alias
	// via the named directory locks.
	mu          sync.Mutex
	resolutions map[string]Resolution
}

// NewResolver creates a resolver with an empty resolution table.
func NewResolver() *Resolver {
	return &Resolver{
		Locker:      locker.New(),
		resolutions: map[string]Resolution{},
	}
}

// Lookup returns the cached resolution for an alias.
func (r *Resolver) Lookup(alias string) (Resolution, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.resolutions[alias]
	return res, ok
}

// Resolutions returns a copy of the resolution table.
func (r *Resolver) Resolutions() map[string]Resolution {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Resolution, len(r.resolutions))
	for k, v := range r.resolutions {
		out[k] = v
	}
	return out
}

func (r *Resolver) store(alias string, res Resolution) {
	r.mu.Lock()
	r.resolutions[alias] = res
	r.mu.Unlock()
	if r.OnRegister != nil {
		r.OnRegister(alias, res)
	}
}

// aliasFor derives the resolution key for a component's source declaration.
func aliasFor(m *meta.Metadata) (alias string, details *meta.SourceGit) {
	src := m.Config.Content.Source
	switch {
	case src.Git != nil:
		base := path.Base(src.Git.URL)
		base = strings.TrimSuffix(base, path.Ext(base))
		return fmt.Sprintf("%s_%s_%s", m.Namespace, m.Name, base), src.Git
	case src.Alias != "":
		return src.Alias, nil
	default:
		return "", nil
	}
}

// Resolve returns a local directory containing the component's upstream
// source, cloning it if necessary. A component with no declared source
// returns ("", nil). Resolution for one alias is strictly serialized;
// different aliases resolve fully in parallel.
func (r *Resolver) Resolve(ctx context.Context, m *meta.Metadata) (string, error) {
	logger := ctxlog.FromContext(ctx)

	alias, details := aliasFor(m)
	if alias == "" {
		return "", nil
	}

	// Fast path, no lock beyond the table's own.
	if res, ok := r.Lookup(alias); ok {
		m.PublicUpstreamURL = res.PublicUpstreamURL
		m.PublicUpstreamBranch = res.PublicUpstreamBranch
		logger.Debug("returning previously resolved path for alias", "alias", alias, "path", res.SourcePath)
		return res.SourcePath, nil
	}

	subPath := alias
	if details == nil {
		// Old-style group alias; resolve the declaration from group config.
		subPath = "global_" + alias
		groupDetails, ok := r.GroupSources[alias]
		if !ok {
			return "", fatal.Resolutionf("source alias not found in specified sources or in the current group: %s", alias)
		}
		details = groupDetails
	}
	sourceDir := filepath.Join(r.SourcesDir, subPath)

	sem := r.Locker.NamedDir(sourceDir)
	if err := sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer sem.Release(1)

	// Another caller may have completed resolution while we waited.
	if res, ok := r.Lookup(alias); ok {
		m.PublicUpstreamURL = res.PublicUpstreamURL
		m.PublicUpstreamBranch = res.PublicUpstreamBranch
		return res.SourcePath, nil
	}

	// A clone surviving from a prior run in the same working directory is
	// treated as resolved.
	if info, err := os.Stat(sourceDir); err == nil && info.IsDir() {
		logger.Info("source already exists, skipping clone", "alias", alias, "dir", sourceDir)
		if err := r.registerLocalDir(ctx, alias, sourceDir); err != nil {
			return "", err
		}
		if res, ok := r.Lookup(alias); ok {
			m.PublicUpstreamURL = res.PublicUpstreamURL
			m.PublicUpstreamBranch = res.PublicUpstreamBranch
		}
		if r.Upcycle {
			logger.Info("refreshing source due to upcycle", "alias", alias)
			if err := gitcli.RunRetry(ctx, sourceDir, 3, "fetch", "--all"); err != nil {
				return "", err
			}
			if err := gitcli.RunRetry(ctx, sourceDir, 3, "reset", "--hard", "@{upstream}"); err != nil {
				return "", err
			}
		}
		return sourceDir, nil
	}

	if r.PreventCloning {
		return "", fmt.Errorf("attempt to clone upstream %s after cloning disabled; a regression has been introduced", m.DistgitKey)
	}

	cloneBranch, _, err := r.DetectBranch(ctx, details)
	if err != nil {
		return "", err
	}

	var publicURL, publicBranch string
	if len(r.Rules) > 0 {
		publicURL, publicBranch = TranslatePublicUpstream(r.Rules, details.URL)
		if publicBranch == "" {
			publicBranch = cloneBranch
		}
		m.PublicUpstreamURL = publicURL
		m.PublicUpstreamBranch = publicBranch
	}

	logger.Info("checking out source", "url", details.URL, "branch", cloneBranch, "dir", sourceDir)
	if err := r.cloneSource(ctx, details.URL, cloneBranch, sourceDir, publicURL, publicBranch); err != nil {
		// Leave no partial clone behind.
		_ = os.RemoveAll(sourceDir)
		return "", fatal.Resolutionf("error checking out target branch of source %q in %s: %v", alias, sourceDir, err)
	}

	r.store(alias, Resolution{
		SourcePath:           sourceDir,
		URL:                  details.URL,
		Branch:               cloneBranch,
		PublicUpstreamURL:    publicURL,
		PublicUpstreamBranch: publicBranch,
	})

	if m.Commitish != "" {
		logger.Info("checking out pinned commit", "commitish", m.Commitish)
		if err := gitcli.BranchContains(ctx, sourceDir, m.Commitish); err != nil {
			return "", fatal.Resolutionf("commitish %s for %s is not reachable from any branch: %v", m.Commitish, m.DistgitKey, err)
		}
		if err := gitcli.Checkout(ctx, sourceDir, m.Commitish); err != nil {
			return "", fatal.Resolutionf("unable to checkout commitish %s for %s: %v", m.Commitish, m.DistgitKey, err)
		}
	}

	return sourceDir, nil
}

func (r *Resolver) cloneSource(ctx context.Context, url, cloneBranch, sourceDir, publicURL, publicBranch string) error {
	var gitArgs []string
	if !IsCommitHash(cloneBranch) {
		// Full branch history: downstream tooling reads tags and OWNERS from
		// branches other than the one being built.
		gitArgs = []string{"--no-single-branch", "--branch", cloneBranch}
	}
	if err := r.Clone(ctx, url, sourceDir, gitArgs...); err != nil {
		return err
	}
	if IsCommitHash(cloneBranch) {
		if err := gitcli.Checkout(ctx, sourceDir, cloneBranch); err != nil {
			return err
		}
	}
	if publicBranch != "" && publicURL != "" {
		// Fetch the public upstream branch into the working tree so rebase
		// tooling can label provenance.
		if err := gitcli.Run(ctx, sourceDir, "remote", "add", "public_upstream", publicURL); err != nil {
			return err
		}
		if err := gitcli.RunRetry(ctx, sourceDir, 3, "fetch", "public_upstream", publicBranch); err != nil {
			return err
		}
	}
	return nil
}

// registerLocalDir registers an alias for an existing checkout, deriving its
// origin URL and branch from the repo itself.
func (r *Resolver) registerLocalDir(ctx context.Context, alias, dir string) error {
	return r.RegisterAlias(ctx, alias, dir)
}

// RegisterAlias records an alias -> local path resolution, reading the
// checkout's origin URL and current branch. Used for CLI-supplied source
// overrides and for on-disk clones from prior runs.
func (r *Resolver) RegisterAlias(ctx context.Context, alias, dir string) error {
	logger := ctxlog.FromContext(ctx)
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	if info, err := os.Stat(abs); err != nil || !info.IsDir() {
		return fatal.Resolutionf("error registering source alias %s: %s is not a directory", alias, abs)
	}
	logger.Info("registering source alias", "alias", alias, "path", abs)

	url, err := gitcli.OriginURL(ctx, abs)
	if err != nil {
		logger.Error("failed acquiring origin url for source alias", "alias", alias, "error", err)
	}
	branch, err := gitcli.CurrentBranch(ctx, abs)
	if err != nil {
		logger.Error("failed acquiring origin branch for source alias", "alias", alias, "error", err)
	}

	res := Resolution{SourcePath: abs, URL: url, Branch: branch}
	if len(r.Rules) > 0 {
		if url == "" || branch == "" {
			return fatal.Resolutionf("couldn't detect source URL or branch for local source %s; is it a valid git repo?", abs)
		}
		if branch == "HEAD" {
			// Detached HEAD; no public upstream provenance is derivable.
		} else {
			publicURL, publicBranch := TranslatePublicUpstream(r.Rules, url)
			if publicBranch == "" {
				publicBranch = branch
			}
			res.PublicUpstreamURL = publicURL
			res.PublicUpstreamBranch = publicBranch
		}
	}
	r.store(alias, res)
	return nil
}
