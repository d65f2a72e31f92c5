package cli

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/MartinPl0/art-tools/internal/runtime"
	"github.com/MartinPl0/art-tools/internal/settings"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// Config is the fully parsed invocation: the command to run plus the runtime
// options and logging setup.
type Config struct {
	Command   string
	Options   runtime.Options
	LogLevel  string
	LogFormat string
	// PreserveWorkingDir keeps a temp working directory after the run.
	PreserveWorkingDir bool
}

// Commands supported by the tool.
const (
	CommandImagesList   = "images:list"
	CommandSourcesClone = "sources:clone"
	CommandConfigPrint  = "config:print"
)

// stringList is a repeatable string flag.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// kvMap is a repeatable KEY=VALUE flag.
type kvMap map[string]string

func (m kvMap) String() string {
	parts := make([]string, 0, len(m))
	for k, v := range m {
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, ",")
}

func (m kvMap) Set(v string) error {
	idx := strings.Index(v, "=")
	if idx <= 0 {
		return fmt.Errorf("expected KEY=VALUE, got %q", v)
	}
	m[v[:idx]] = v[idx+1:]
	return nil
}

// Parse processes command-line arguments. It returns a populated Config,
// a boolean indicating if the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*Config, bool, error) {
	slog.Debug("CLI parser started.")
	flagSet := flag.NewFlagSet("artbuild", flag.ContinueOnError)
	flagSet.SetOutput(output)

	flagSet.Usage = func() {
		fmt.Fprint(output, `
artbuild - metadata-driven release build coordination.

Usage:
  artbuild [options] COMMAND

Commands:
  images:list     Print the image build order, level by level.
  sources:clone   Resolve and clone every component's upstream source.
  config:print    Print the resolved group configuration.

Options:
`)
		flagSet.PrintDefaults()
	}

	groupFlag := flagSet.String("group", "", "Group to operate on, optionally pinned: NAME[@COMMITISH].")
	assemblyFlag := flagSet.String("assembly", "", "Assembly to operate on. Empty means the stream assembly.")
	enableAssembliesFlag := flagSet.Bool("enable-assemblies", false, "Honor the assembly even when the group does not enable assembly mode.")
	workingDirFlag := flagSet.String("working-dir", "", "Existing directory in which operations should be performed. A temp directory is used when unset.")
	dataPathFlag := flagSet.String("data-path", "", "Build-data store: a local directory or git URL.")
	releasesFlag := flagSet.String("releases", "", "Path to a file that overrides the store's releases document.")
	cacheDirFlag := flagSet.String("cache-dir", "", "Directory for the shared git clone cache.")
	userFlag := flagSet.String("user", "", "Username namespacing the clone cache on shared machines.")
	brewHubFlag := flagSet.String("brew-hub", "", "Brew hub URL, overriding group config.")
	brewEventFlag := flagSet.Int64("brew-event", 0, "Pin all build-system queries to this event.")
	branchFlag := flagSet.String("branch", "", "Dist-git branch, overriding group config.")
	settingsFlag := flagSet.String("settings", "", "Path to an HCL settings file supplying machine-local defaults.")

	var arches, images, rpms, exclude stringList
	flagSet.Var(&arches, "arches", "Architecture to build for. Repeatable; overrides group config.")
	flagSet.Var(&images, "images", "Image distgit key to include. Repeatable.")
	flagSet.Var(&images, "i", "Image distgit key to include (shorthand).")
	flagSet.Var(&rpms, "rpms", "RPM distgit key to include. Repeatable.")
	flagSet.Var(&rpms, "r", "RPM distgit key to include (shorthand).")
	flagSet.Var(&exclude, "exclude", "Distgit key to exclude. Repeatable.")
	flagSet.Var(&exclude, "x", "Distgit key to exclude (shorthand).")

	loadWIPFlag := flagSet.Bool("load-wip", false, "Also load work-in-progress components.")
	loadDisabledFlag := flagSet.Bool("load-disabled", false, "Also load disabled components.")

	sourceAliases := kvMap{}
	streamOverrides := kvMap{}
	upstreamOverrides := kvMap{}
	downstreamOverrides := kvMap{}
	flagSet.Var(sourceAliases, "source", "Use an existing local checkout for a source alias: ALIAS=PATH. Repeatable.")
	flagSet.Var(streamOverrides, "stream", "Override an image stream: NAME=IMAGE. Repeatable.")
	flagSet.Var(upstreamOverrides, "upstream-commitish", "Pin a component's upstream checkout: DISTGIT=COMMITISH. Repeatable.")
	flagSet.Var(downstreamOverrides, "downstream-commitish", "Pin a component's dist-git checkout: DISTGIT=COMMITISH. Repeatable.")
	sourcesFileFlag := flagSet.String("sources", "", "YAML file mapping source alias to local path.")

	stageFlag := flagSet.Bool("stage", false, "Use the stage branch for every source.")
	upcycleFlag := flagSet.Bool("upcycle", false, "Refresh an existing working directory in place.")
	preventCloningFlag := flagSet.Bool("prevent-cloning", false, "Fail instead of cloning a source that is not already on disk.")
	cloneSourcesFlag := flagSet.Bool("clone-sources", false, "Resolve every component's source during initialization.")
	workersFlag := flagSet.Int("workers", 10, "Number of concurrent workers for source cloning.")
	preserveFlag := flagSet.Bool("preserve-working-dir", false, "Keep a temp working directory on disk after the run.")

	logFormatFlag := flagSet.String("log-format", "json", "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")

	if err := flagSet.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	slog.Debug("Arguments parsed successfully.")

	if flagSet.NArg() == 0 {
		slog.Debug("No command provided, printing usage and exiting.")
		flagSet.Usage()
		return nil, true, nil
	}
	command := flagSet.Arg(0)
	switch command {
	case CommandImagesList, CommandSourcesClone, CommandConfigPrint:
		// valid
	default:
		return nil, false, &ExitError{Code: 2, Message: fmt.Sprintf("unknown command: %s", command)}
	}

	logFormat := strings.ToLower(*logFormatFlag)
	if logFormat != "text" && logFormat != "json" {
		return nil, false, &ExitError{Code: 2, Message: "invalid log-format: must be 'text' or 'json'"}
	}

	logLevel := strings.ToLower(*logLevelFlag)
	switch logLevel {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return nil, false, &ExitError{Code: 2, Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
	}
	slog.Debug("CLI parameter validation complete.")

	defaults, err := settings.Load(*settingsFlag)
	if err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	opts := runtime.Options{
		Group:                        *groupFlag,
		Assembly:                     *assemblyFlag,
		EnableAssemblies:             *enableAssembliesFlag,
		WorkingDir:                   firstOf(*workingDirFlag, defaults.WorkingDir),
		DataPath:                     firstOf(*dataPathFlag, defaults.DataPath),
		ReleasesOverridePath:         *releasesFlag,
		CacheDir:                     firstOf(*cacheDirFlag, defaults.CacheDir),
		User:                         firstOf(*userFlag, defaults.User),
		BrewHub:                      firstOf(*brewHubFlag, defaults.BrewHub),
		BrewEvent:                    *brewEventFlag,
		Branch:                       *branchFlag,
		Arches:                       arches,
		Images:                       images,
		RPMs:                         rpms,
		Exclude:                      exclude,
		LoadWIP:                      *loadWIPFlag,
		LoadDisabled:                 *loadDisabledFlag,
		SourceAliases:                sourceAliases,
		SourcesFile:                  *sourcesFileFlag,
		StreamOverrides:              streamOverrides,
		UpstreamCommitishOverrides:   upstreamOverrides,
		DownstreamCommitishOverrides: downstreamOverrides,
		Stage:                        *stageFlag,
		Upcycle:                      *upcycleFlag,
		PreventCloning:               *preventCloningFlag,
		CloneSources:                 *cloneSourcesFlag,
		WorkerCount:                  *workersFlag,
	}

	if opts.Group == "" {
		return nil, false, &ExitError{Code: 2, Message: "--group is required"}
	}
	if opts.DataPath == "" {
		return nil, false, &ExitError{Code: 2, Message: "--data-path is required (flag or settings file)"}
	}

	config := &Config{
		Command:            command,
		Options:            opts,
		LogLevel:           logLevel,
		LogFormat:          logFormat,
		PreserveWorkingDir: *preserveFlag,
	}
	slog.Debug("CLI parser finished successfully.", "command", command)
	return config, false, nil
}

func firstOf(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// NewLogger creates and configures a new slog.Logger instance. It does not
// set the global logger, allowing for isolated logger instances.
func NewLogger(levelStr, formatStr string, outW io.Writer) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler

	if formatStr == "json" {
		handler = slog.NewJSONHandler(outW, handlerOpts)
	} else {
		handler = slog.NewTextHandler(outW, handlerOpts)
	}

	return slog.New(handler)
}
