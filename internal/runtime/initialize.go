package runtime

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MartinPl0/art-tools/internal/assembly"
	"github.com/MartinPl0/art-tools/internal/brew"
	"github.com/MartinPl0/art-tools/internal/ctxlog"
	"github.com/MartinPl0/art-tools/internal/fatal"
	"github.com/MartinPl0/art-tools/internal/gitdata"
	"github.com/MartinPl0/art-tools/internal/group"
	"github.com/MartinPl0/art-tools/internal/meta"
	"github.com/MartinPl0/art-tools/internal/record"
	"github.com/MartinPl0/art-tools/internal/source"
)

// Initialize resolves configuration and loads the component graph. It is
// idempotent; a second call returns immediately.
func (rt *Runtime) Initialize(ctx context.Context, mode meta.LoadMode) error {
	if rt.initialized {
		return nil
	}
	logger := ctxlog.FromContext(ctx)

	if rt.opts.Group == "" {
		return fatal.Configf("group must be specified")
	}
	rt.Group = rt.opts.Group
	rt.GroupCommitish = rt.opts.Group
	if idx := strings.Index(rt.opts.Group, "@"); idx >= 0 {
		rt.Group = rt.opts.Group[:idx]
		rt.GroupCommitish = rt.opts.Group[idx+1:]
	}

	rt.UUID = time.Now().Format("20060102.150405")

	if err := rt.setupWorkingDir(); err != nil {
		return err
	}

	// Mirror the full debug-level stream into the working directory so a run
	// can be diagnosed after the fact regardless of the operator's log level.
	debugFile, err := os.OpenFile(rt.Dirs.DebugLogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	rt.debugFile = debugFile
	logger = slog.New(ctxlog.Tee(
		logger.Handler(),
		slog.NewTextHandler(debugFile, &slog.HandlerOptions{Level: slog.LevelDebug}),
	))
	ctx = ctxlog.WithLogger(ctx, logger)

	state, err := record.LoadState(rt.Dirs.StateFile)
	if err != nil {
		return err
	}
	rt.State = state

	for name, image := range rt.opts.StreamOverrides {
		logger.Info("registering image stream name override", "stream", name, "image", image)
		rt.streamOv[name] = image
	}
	for key, commitish := range rt.opts.UpstreamCommitishOverrides {
		logger.Warn("upstream source override", "distgit", key, "commitish", commitish)
	}
	for key, commitish := range rt.opts.DownstreamCommitishOverrides {
		logger.Warn("downstream distgit override", "distgit", key, "commitish", commitish)
	}

	store, err := gitdata.Resolve(ctx, gitdata.ResolveOptions{
		DataPath:  rt.opts.DataPath,
		Commitish: rt.GroupCommitish,
		CloneDir:  filepath.Join(rt.Dirs.Working, "build-data"),
	})
	if err != nil {
		return err
	}
	rt.store = store

	rec, err := record.Open(rt.Dirs.RecordLogPath)
	if err != nil {
		return err
	}
	rt.Record = rec

	if err := rt.resolveGroupConfig(ctx); err != nil {
		return err
	}
	if err := rt.pinBrewEvent(ctx); err != nil {
		return err
	}
	if err := rt.setupSourceResolver(ctx); err != nil {
		return err
	}

	graph, err := meta.Load(rt.store, meta.LoadOptions{
		Mode:                       mode,
		Images:                     rt.opts.Images,
		RPMs:                       rt.opts.RPMs,
		Exclude:                    rt.opts.Exclude,
		LoadWIP:                    rt.opts.LoadWIP,
		LoadDisabled:               rt.opts.LoadDisabled,
		Vars:                       rt.Vars,
		DefaultBranch:              rt.Branch,
		UpstreamCommitishOverrides: rt.opts.UpstreamCommitishOverrides,
	})
	if err != nil {
		return err
	}
	rt.Graph = graph
	if len(graph.ImageMetas()) == 0 && (mode == meta.LoadImages || mode == meta.LoadBoth) {
		logger.Warn("no image metadata found for given options", "data", rt.store.Dir())
	}

	if rt.opts.CloneSources {
		if err := rt.CloneSources(ctx); err != nil {
			return err
		}
	}

	rt.initialized = true
	return nil
}

func (rt *Runtime) setupWorkingDir() error {
	if rt.opts.WorkingDir == "" {
		dir, err := os.MkdirTemp("", "art-*.tmp")
		if err != nil {
			return err
		}
		rt.Dirs.Working = dir
		rt.cleanupMu.Lock()
		rt.removeWorkingDir = true
		rt.cleanupMu.Unlock()
	} else {
		abs, err := filepath.Abs(expandHome(rt.opts.WorkingDir))
		if err != nil {
			return err
		}
		if err := os.MkdirAll(abs, 0o755); err != nil {
			return err
		}
		rt.Dirs.Working = abs
	}

	w := rt.Dirs.Working
	rt.Dirs.Distgits = filepath.Join(w, "distgits")
	rt.Dirs.DistgitsDiff = filepath.Join(w, "distgits-diffs")
	rt.Dirs.Sources = filepath.Join(w, "sources")
	rt.Dirs.BrewLogs = filepath.Join(w, "brew-logs")
	rt.Dirs.Flags = filepath.Join(w, "flags")
	rt.Dirs.RecordLogPath = filepath.Join(w, "record.log")
	rt.Dirs.StateFile = filepath.Join(w, "state.yaml")
	rt.Dirs.DebugLogPath = filepath.Join(w, "debug.log")

	if rt.opts.Upcycle {
		// A working directory may be upcycled numerous times; don't let
		// anything grow unbounded.
		_ = os.RemoveAll(rt.Dirs.BrewLogs)
		_ = os.RemoveAll(rt.Dirs.Flags)
		for _, path := range []string{rt.Dirs.RecordLogPath, rt.Dirs.StateFile, rt.Dirs.DebugLogPath} {
			_ = os.Remove(path)
		}
	}

	for _, dir := range []string{rt.Dirs.Distgits, rt.Dirs.DistgitsDiff, rt.Dirs.Sources, rt.Dirs.BrewLogs, rt.Dirs.Flags} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

func (rt *Runtime) resolveGroupConfig(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)

	rt.Assembly = rt.opts.Assembly

	resolver := &group.Resolver{
		Store:                rt.store,
		Group:                rt.Group,
		Assembly:             rt.Assembly,
		ReleasesOverridePath: rt.opts.ReleasesOverridePath,
	}
	releases, err := resolver.ReleasesConfig()
	if err != nil {
		return err
	}
	rt.Releases = releases
	rt.AssemblyType = assembly.TypeOf(releases, rt.Assembly)

	cfg, vars, err := resolver.ResolveGroupConfig()
	if err != nil {
		return err
	}

	if cfg.Assemblies.Enabled || rt.opts.EnableAssemblies {
		if rt.Assembly != "" {
			if err := assembly.ValidateName(rt.Assembly); err != nil {
				return err
			}
		}
	} else if rt.Assembly != "" {
		// Assemblies are not enabled for this group; discard the identifier
		// throughout and resolve again without any overlay.
		logger.Debug("assembly mode not enabled for group, ignoring assembly", "assembly", rt.Assembly)
		rt.Assembly = ""
		rt.AssemblyType = assembly.TypeStream
		resolver.Assembly = ""
		cfg, vars, err = resolver.ResolveGroupConfig()
		if err != nil {
			return err
		}
	}
	rt.GroupConfig = cfg
	rt.Vars = vars

	if cfg.Name != rt.Group {
		return fatal.Configf("name in group config (%s) does not match group name (%s); someone may have copied this group without updating it", cfg.Name, rt.Group)
	}

	rt.Branch = rt.opts.Branch
	if rt.Branch == "" {
		if cfg.Branch != "" {
			rt.Branch = cfg.Branch
			logger.Info("using branch from group config", "branch", rt.Branch)
		} else {
			logger.Info("no branch specified in group config or on the command line; included images must specify their own")
		}
	} else {
		logger.Info("using branch from command line", "branch", rt.Branch)
	}

	switch {
	case len(rt.opts.Arches) > 0:
		rt.Arches = rt.opts.Arches
	case len(cfg.ArchesOverride) > 0:
		rt.Arches = cfg.ArchesOverride
	case len(cfg.Arches) > 0:
		rt.Arches = cfg.Arches
	default:
		rt.Arches = []string{"x86_64"}
	}

	rt.freeze = cfg.FreezeAutomation
	rt.hub = rt.opts.BrewHub
	if rt.hub == "" {
		rt.hub = cfg.URLs.BrewHub
	}

	streams, err := resolver.ResolveStreams(vars)
	if err != nil {
		return err
	}
	rt.Streams = streams
	return nil
}

// pinBrewEvent locks every build-system query to a consistent point in time:
// the assembly's basis event, the CLI event, or (when neither is set) the
// hub's latest event.
func (rt *Runtime) pinBrewEvent(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)

	basis, err := assembly.BasisEvent(rt.Releases, rt.Assembly)
	if err != nil {
		return err
	}
	rt.BasisEvent = basis
	rt.BrewEvent = rt.opts.BrewEvent

	if basis != 0 {
		if rt.BrewEvent != 0 {
			return fatal.Configf("cannot run with assembly basis event %d and an explicit brew event at the same time", basis)
		}
		rt.BrewEvent = basis
		logger.Info("constraining brew event to assembly basis", "assembly", rt.Assembly, "event", rt.BrewEvent)
	}

	if rt.BrewEvent == 0 {
		if rt.hub == "" {
			logger.Warn("no brew hub configured; queries will not be pinned to an event")
			return nil
		}
		logger.Info("basis brew event is not set, locking in the latest event")
		return rt.Shared.With(ctx, func(s brew.Session) error {
			event, err := s.GetLastEvent(ctx)
			if err != nil {
				return err
			}
			rt.BrewEvent = event.ID
			return nil
		})
	}
	return nil
}

func (rt *Runtime) setupSourceResolver(ctx context.Context) error {
	res := source.NewResolver()
	res.SourcesDir = rt.Dirs.Sources
	res.CacheDir = rt.opts.CacheDir
	res.User = rt.opts.User
	res.Locker = rt.Locker
	res.Rules = rt.GroupConfig.PublicUpstreams
	res.GroupSources = rt.GroupConfig.Sources
	res.Fallback = source.FallbackPolicy(rt.GroupConfig.UseFallback)
	res.Stage = rt.opts.Stage
	res.Upcycle = rt.opts.Upcycle
	res.PreventCloning = rt.opts.PreventCloning
	res.OnRegister = func(alias string, r source.Resolution) {
		originURL := source.ConvertRemoteGitToHTTPS(r.URL)
		branch := r.Branch
		if branch == "" {
			branch = "?"
		}
		rt.State.SetNested("source_alias", alias, map[string]any{
			"url":    originURL,
			"branch": branch,
			"path":   r.SourcePath,
		})
		rt.AddRecord("source_alias",
			record.Field{Key: "alias", Value: alias},
			record.Field{Key: "origin_url", Value: originURL},
			record.Field{Key: "branch", Value: branch},
			record.Field{Key: "path", Value: r.SourcePath},
		)
	}
	rt.Resolver = res

	for alias, path := range rt.opts.SourceAliases {
		if err := res.RegisterAlias(ctx, alias, path); err != nil {
			return err
		}
	}
	if rt.opts.SourcesFile != "" {
		raw, err := os.ReadFile(rt.opts.SourcesFile)
		if err != nil {
			return err
		}
		aliases := map[string]string{}
		if err := yaml.Unmarshal(raw, &aliases); err != nil {
			return fatal.Configf("sources file must be a yaml file containing a single mapping of alias to path: %v", err)
		}
		for alias, path := range aliases {
			if err := res.RegisterAlias(ctx, alias, path); err != nil {
				return err
			}
		}
	}
	return nil
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
