// Package gitdata reads the versioned build-data store: a git repository (or
// plain directory) of YAML documents, one per group-level key or per
// component. Documents are addressed by key and loaded with optional
// include/exclude filtering and template variable substitution.
package gitdata

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MartinPl0/art-tools/internal/ctxlog"
	"github.com/MartinPl0/art-tools/internal/fatal"
	"github.com/MartinPl0/art-tools/internal/gitcli"
)

// Document is one YAML file from the store.
type Document struct {
	// Key is the filename with the .yml suffix stripped. Components may carry
	// a differentiator suffix (for example "foo.apb"), which stays part of
	// the key.
	Key  string
	Path string
	Data map[string]any
}

// Store is a resolved checkout of the build-data repository.
type Store struct {
	dir string
}

// ResolveOptions locates the build-data to use for a run.
type ResolveOptions struct {
	// DataPath is a local directory or a git URL.
	DataPath string
	// Commitish pins a git DataPath to a specific point in history. Ignored
	// for local directories.
	Commitish string
	// CloneDir is where a git DataPath is checked out.
	CloneDir string
}

// Resolve prepares the build-data checkout. A local directory is used
// in place; a git URL is cloned into CloneDir and checked out at Commitish.
// An existing CloneDir from a prior invocation is reused as-is.
func Resolve(ctx context.Context, opts ResolveOptions) (*Store, error) {
	logger := ctxlog.FromContext(ctx)
	if opts.DataPath == "" {
		return nil, fatal.Configf("no build-data path specified")
	}
	if info, err := os.Stat(opts.DataPath); err == nil && info.IsDir() {
		logger.Info("using local build-data directory", "path", opts.DataPath)
		return &Store{dir: opts.DataPath}, nil
	}

	if _, err := os.Stat(filepath.Join(opts.CloneDir, ".git")); err != nil {
		logger.Info("cloning build-data", "url", opts.DataPath, "dir", opts.CloneDir)
		if err := gitcli.RunRetry(ctx, "", 3, "clone", opts.DataPath, opts.CloneDir); err != nil {
			return nil, fatal.Configf("unable to clone build-data %s: %v", opts.DataPath, err)
		}
	}
	if opts.Commitish != "" {
		if err := gitcli.Checkout(ctx, opts.CloneDir, opts.Commitish); err != nil {
			return nil, fatal.Configf("unable to checkout build-data commitish %s: %v", opts.Commitish, err)
		}
	}
	return &Store{dir: opts.CloneDir}, nil
}

// Dir returns the checkout directory backing the store.
func (s *Store) Dir() string { return s.dir }

// Load reads the top-level document <key>.yml. A missing file returns
// (nil, nil) so callers can distinguish absent optional config from errors.
func (s *Store) Load(key string, vars map[string]string) (*Document, error) {
	path := filepath.Join(s.dir, key+".yml")
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return parseDocument(key, path, raw, vars)
}

// LoadFile reads a standalone YAML document from an arbitrary path, outside
// the store. Used for CLI-supplied override files.
func LoadFile(path string) (*Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	key := strings.TrimSuffix(filepath.Base(path), ".yml")
	return parseDocument(key, path, raw, nil)
}

// LoadOptions controls LoadDir filtering.
type LoadOptions struct {
	// Keys is an explicit include list. When non-empty it is the only
	// selection applied besides Exclude; Filter is ignored.
	Keys []string
	// Exclude removes keys unconditionally.
	Exclude []string
	// Filter selects documents by content when Keys is empty. A nil filter
	// selects everything.
	Filter func(key string, data map[string]any) bool
	// Vars is substituted into document text before parsing.
	Vars map[string]string
}

// LoadDir reads every *.yml document under the named subdirectory of the
// store, applying the options' selection rules. The result map preserves no
// order; callers needing determinism sort keys.
func (s *Store) LoadDir(path string, opts LoadOptions) (map[string]*Document, error) {
	dir := filepath.Join(s.dir, path)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &PathError{Path: path}
		}
		return nil, fmt.Errorf("reading build-data dir %s: %w", dir, err)
	}

	include := toSet(opts.Keys)
	exclude := toSet(opts.Exclude)

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".yml") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	docs := map[string]*Document{}
	for _, name := range names {
		key := strings.TrimSuffix(name, ".yml")
		if _, skip := exclude[key]; skip {
			continue
		}
		if len(include) > 0 {
			if _, ok := include[key]; !ok {
				continue
			}
		}
		doc, err := parseFile(key, filepath.Join(dir, name), opts.Vars)
		if err != nil {
			return nil, err
		}
		if len(include) == 0 && opts.Filter != nil && !opts.Filter(key, doc.Data) {
			continue
		}
		docs[key] = doc
	}
	return docs, nil
}

func toSet(keys []string) map[string]struct{} {
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return set
}

// PathError indicates a requested store subdirectory does not exist. Some
// older groups carry no rpms/ directory, which callers treat as empty.
type PathError struct {
	Path string
}

func (e *PathError) Error() string {
	return fmt.Sprintf("build-data path does not exist: %s", e.Path)
}

func parseFile(key, path string, vars map[string]string) (*Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return parseDocument(key, path, raw, vars)
}

func parseDocument(key, path string, raw []byte, vars map[string]string) (*Document, error) {
	text, err := SubstituteVars(string(raw), vars)
	if err != nil {
		return nil, fatal.Configf("%s: %v", path, err)
	}
	data := map[string]any{}
	if err := yaml.Unmarshal([]byte(text), &data); err != nil {
		return nil, fatal.Configf("invalid YAML in %s: %v", path, err)
	}
	return &Document{Key: key, Path: path, Data: data}, nil
}

// varPattern matches single-identifier template references like {branch}.
// Flow-style YAML ("{}", "{a: b}") never matches.
var varPattern = regexp.MustCompile(`\{([A-Za-z_]\w*)\}`)

// SubstituteVars replaces {name} references in text with values from vars.
// A reference with no corresponding value is a configuration error naming the
// missing key. A nil vars map performs no substitution at all.
func SubstituteVars(text string, vars map[string]string) (string, error) {
	if vars == nil {
		return text, nil
	}
	var missing string
	out := varPattern.ReplaceAllStringFunc(text, func(m string) string {
		name := m[1 : len(m)-1]
		if v, ok := vars[name]; ok {
			return v
		}
		if missing == "" {
			missing = name
		}
		return m
	})
	if missing != "" {
		return "", fmt.Errorf("config contains template key `%s` but no value was provided", missing)
	}
	return out, nil
}
