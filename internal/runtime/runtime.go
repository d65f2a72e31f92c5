// Package runtime is the top-level object owning a single invocation: it
// resolves group and assembly configuration, loads the component metadata
// graph, and exposes the shared services (session pool, named locks, source
// resolver, record log) the rest of the tooling consumes.
package runtime

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/MartinPl0/art-tools/internal/assembly"
	"github.com/MartinPl0/art-tools/internal/brew"
	"github.com/MartinPl0/art-tools/internal/fatal"
	"github.com/MartinPl0/art-tools/internal/gitdata"
	"github.com/MartinPl0/art-tools/internal/group"
	"github.com/MartinPl0/art-tools/internal/locker"
	"github.com/MartinPl0/art-tools/internal/meta"
	"github.com/MartinPl0/art-tools/internal/record"
	"github.com/MartinPl0/art-tools/internal/source"
)

// Options fully enumerates the knobs a caller can set. Anything zero-valued
// falls back to group config or a documented default.
type Options struct {
	// Group selects the release line, optionally pinned: "openshift-4.14" or
	// "openshift-4.14@<commitish>".
	Group string
	// Assembly names the configuration variant; empty or "stream" means the
	// default continuous release.
	Assembly string
	// EnableAssemblies honors the assembly even when the group config does
	// not enable assembly mode.
	EnableAssemblies bool

	// WorkingDir is the invocation workspace; empty means a temp directory
	// removed at Close unless preserved.
	WorkingDir string
	// DataPath is the build-data store: a local directory or git URL.
	DataPath string
	// ReleasesOverridePath replaces the store's releases document.
	ReleasesOverridePath string
	// CacheDir enables the shared git clone cache.
	CacheDir string
	// User namespaces the clone cache on shared machines.
	User string

	// BrewHub overrides the hub URL from group config.
	BrewHub string
	// BrewEvent pins build-system queries to an explicit event. Mutually
	// exclusive with an assembly basis event.
	BrewEvent int64

	// Branch overrides the group's default dist-git branch.
	Branch string
	// Arches overrides the group's architecture list.
	Arches []string

	Images  []string
	RPMs    []string
	Exclude []string

	LoadWIP      bool
	LoadDisabled bool

	// SourceAliases maps alias -> local path overrides from the CLI.
	SourceAliases map[string]string
	// SourcesFile is a YAML file of alias -> path overrides.
	SourcesFile string
	// StreamOverrides maps stream name -> image, from the CLI.
	StreamOverrides map[string]string
	// UpstreamCommitishOverrides pins components' upstream checkouts.
	UpstreamCommitishOverrides map[string]string
	// DownstreamCommitishOverrides pins components' dist-git checkouts.
	DownstreamCommitishOverrides map[string]string

	Stage          bool
	Upcycle        bool
	PreventCloning bool
	// CloneSources resolves every component's source during Initialize.
	CloneSources bool
	// WorkerCount bounds parallel source cloning.
	WorkerCount int
}

// Dirs is the persisted working-directory layout of one invocation.
type Dirs struct {
	Working       string
	Distgits      string
	DistgitsDiff  string
	Sources       string
	BrewLogs      string
	Flags         string
	RecordLogPath string
	StateFile     string
	DebugLogPath  string
}

// Runtime owns all shared state for one invocation. All registries are
// explicit fields with their own guards; nothing here is process-global.
type Runtime struct {
	opts Options

	// Group is the group name with any @commitish stripped.
	Group string
	// GroupCommitish pins the build-data checkout.
	GroupCommitish string
	// Assembly is the active assembly after gating ("" = stream behavior).
	Assembly     string
	AssemblyType assembly.Type
	// BasisEvent is the assembly's pinned event (0 when floating).
	BasisEvent int64
	// BrewEvent is the event all build-system queries are pinned to.
	BrewEvent int64

	UUID string
	Dirs Dirs

	GroupConfig *group.Config
	Releases    map[string]any
	// Streams is the components config after overlay; nil when the group
	// has none.
	Streams map[string]any
	// Vars are the template variables used during config load.
	Vars map[string]string

	Graph    *meta.Graph
	Resolver *source.Resolver

	Locker   *locker.Registry
	Pool     *brew.Pool
	Shared   *brew.Shared
	hubCache *brew.Cache
	Record   *record.Log
	State    *record.State
	Branch   string
	Arches   []string
	store     *gitdata.Store
	freeze    string
	hub       string
	streamOv  map[string]string
	debugFile *os.File

	// cleanupMu guards the working-directory disposition flag, which any
	// component may flip to preserve state for debugging.
	cleanupMu        sync.Mutex
	removeWorkingDir bool

	initialized bool
}

// New constructs an uninitialized runtime.
func New(opts Options) *Runtime {
	rt := &Runtime{
		opts:     opts,
		Locker:   locker.New(),
		hubCache: brew.NewCache(),
		streamOv: map[string]string{},
	}
	rt.Pool = brew.NewPool(rt.newKojiSession)
	rt.Shared = brew.NewShared(rt.newKojiSession)
	return rt
}

// newKojiSession builds a hub client honoring the runtime's pinned event. All
// sessions share one response cache.
func (rt *Runtime) newKojiSession() brew.Session {
	return brew.NewClient(rt.hub, rt.BrewEvent, rt.hubCache)
}

// AssertMutationIsPermitted refuses to proceed when the group has frozen
// automation. Call before any operation that mutates dist-gits or builds.
func (rt *Runtime) AssertMutationIsPermitted() error {
	if rt.freeze == group.FreezeAutomationYes {
		return fatal.ErrAutomationFrozen
	}
	return nil
}

// PreserveWorkingDir keeps the temp working directory on disk after Close,
// for debugging. Only the last caller's decision matters.
func (rt *Runtime) PreserveWorkingDir() {
	rt.cleanupMu.Lock()
	defer rt.cleanupMu.Unlock()
	rt.removeWorkingDir = false
}

func (rt *Runtime) shouldRemoveWorkingDir() bool {
	rt.cleanupMu.Lock()
	defer rt.cleanupMu.Unlock()
	return rt.removeWorkingDir
}

// Close releases run resources: persists state, closes the record log, and
// removes a temp working directory unless preserved. Safe to call on a
// partially initialized runtime, so it can back a defer from the moment the
// runtime is created.
func (rt *Runtime) Close() error {
	var firstErr error
	if rt.State != nil {
		if err := rt.State.Save(); err != nil {
			firstErr = err
		}
	}
	if rt.Record != nil {
		if err := rt.Record.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if rt.debugFile != nil {
		if err := rt.debugFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if rt.shouldRemoveWorkingDir() {
		if err := os.RemoveAll(rt.Dirs.Working); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// AddRecord appends a record to record.log.
func (rt *Runtime) AddRecord(recordType string, fields ...record.Field) {
	if rt.Record == nil {
		return
	}
	// Record failures must not break the build path; they surface on Close.
	_ = rt.Record.Add(recordType, fields...)
}

// AddDistgitsDiff persists the diff of changes applied to a dist-git repo.
func (rt *Runtime) AddDistgitsDiff(distgit, diff string) error {
	path := filepath.Join(rt.Dirs.DistgitsDiff, distgit+".patch")
	return os.WriteFile(path, []byte(diff), 0o644)
}

// StreamOverride returns the CLI image override for a stream name.
func (rt *Runtime) StreamOverride(name string) (string, bool) {
	img, ok := rt.streamOv[name]
	return img, ok
}

// Timestamp returns the UTC timestamp format used in records.
func (rt *Runtime) Timestamp() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000000")
}

// ResolveImage returns image metadata by distgit key, failing when required.
func (rt *Runtime) ResolveImage(distgitKey string, required bool) (*meta.Metadata, error) {
	m, ok := rt.Graph.Image(distgitKey)
	if !ok {
		if !required {
			return nil, nil
		}
		return nil, fatal.Configf("unable to find image metadata in group / included images: %s", distgitKey)
	}
	return m, nil
}

func (rt *Runtime) String() string {
	return fmt.Sprintf("Runtime(group=%s assembly=%s event=%d)", rt.Group, rt.Assembly, rt.BrewEvent)
}
