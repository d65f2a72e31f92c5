package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"gopkg.in/yaml.v3"

	"github.com/MartinPl0/art-tools/internal/cli"
	"github.com/MartinPl0/art-tools/internal/ctxlog"
	"github.com/MartinPl0/art-tools/internal/meta"
	"github.com/MartinPl0/art-tools/internal/runtime"
)

// main is the entrypoint for the artbuild tool.
func main() {
	// Use a minimal logger until the full one is configured.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	// The real main function handles errors and exit codes.
	if err := run(os.Stdout, os.Args[1:]); err != nil {
		if exitErr, ok := err.(*cli.ExitError); ok {
			fmt.Fprintln(os.Stderr, exitErr.Message)
			os.Exit(exitErr.Code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run encapsulates the main application logic for easier testing and error handling.
func run(outW io.Writer, args []string) error {
	config, shouldExit, err := cli.Parse(args, outW)
	if err != nil {
		return err
	}
	if shouldExit {
		return nil
	}

	logger := cli.NewLogger(config.LogLevel, config.LogFormat, os.Stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = ctxlog.WithLogger(ctx, logger)

	rt := runtime.New(config.Options)
	defer func() {
		if closeErr := rt.Close(); closeErr != nil {
			logger.Error("closing runtime", "error", closeErr)
		}
	}()
	if config.PreserveWorkingDir {
		rt.PreserveWorkingDir()
	}

	if err := rt.Initialize(ctx, loadModeFor(config.Command)); err != nil {
		return err
	}

	switch config.Command {
	case cli.CommandImagesList:
		return runImagesList(outW, rt)
	case cli.CommandSourcesClone:
		return rt.CloneSources(ctx)
	case cli.CommandConfigPrint:
		return runConfigPrint(outW, rt)
	}
	return fmt.Errorf("unhandled command: %s", config.Command)
}

func loadModeFor(command string) meta.LoadMode {
	if command == cli.CommandSourcesClone {
		return meta.LoadBoth
	}
	return meta.LoadImages
}

// runImagesList prints the image forest, one level of the parent/child
// hierarchy per indentation step.
func runImagesList(outW io.Writer, rt *runtime.Runtime) error {
	var walk func(branch meta.Tree, depth int)
	walk = func(branch meta.Tree, depth int) {
		keys := make([]string, 0, len(branch))
		for key := range branch {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			fmt.Fprintf(outW, "%s%s\n", strings.Repeat("  ", depth), key)
			walk(branch[key], depth+1)
		}
	}
	walk(rt.Graph.Tree, 0)
	return nil
}

func runConfigPrint(outW io.Writer, rt *runtime.Runtime) error {
	raw, err := yaml.Marshal(rt.GroupConfig)
	if err != nil {
		return err
	}
	_, err = outW.Write(raw)
	return err
}
