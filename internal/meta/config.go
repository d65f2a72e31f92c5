package meta

import (
	"gopkg.in/yaml.v3"

	"github.com/MartinPl0/art-tools/internal/fatal"
	"github.com/MartinPl0/art-tools/internal/gitdata"
)

// BuildMode gates whether a component participates in a run.
type BuildMode string

const (
	ModeEnabled  BuildMode = "enabled"
	ModeDisabled BuildMode = "disabled"
	ModeWIP      BuildMode = "wip"
)

// Config is the declarative per-component record from the build-data store.
// Fields are enumerated explicitly; anything the runtime does not consume
// stays in the store.
type Config struct {
	Name         string       `yaml:"name"`
	NameInBundle string       `yaml:"name_in_bundle"`
	Mode         BuildMode    `yaml:"mode"`
	Distgit      Distgit      `yaml:"distgit"`
	Content      Content      `yaml:"content"`
	From         From         `yaml:"from"`
	Owners       []string     `yaml:"owners"`
	Dependencies Dependencies `yaml:"dependencies"`
}

// Distgit locates the downstream dist-git repository.
type Distgit struct {
	Namespace string `yaml:"namespace"`
	Branch    string `yaml:"branch"`
	Component string `yaml:"component"`
}

// Content declares where the component's source comes from.
type Content struct {
	Source Source `yaml:"source"`
}

// Source is either an explicit git remote with branch rules or a named alias
// into the group's source table. Both empty means no upstream source.
type Source struct {
	Git   *SourceGit `yaml:"git"`
	Alias string     `yaml:"alias"`
}

// SourceGit is an explicit upstream remote.
type SourceGit struct {
	URL    string      `yaml:"url"`
	Branch BranchRules `yaml:"branch"`
}

// BranchRules drive the branch-detection protocol: Target is tried first
// (and may be a commit hash), Fallback second, Stage only in stage mode.
type BranchRules struct {
	Target   string `yaml:"target"`
	Fallback string `yaml:"fallback"`
	Stage    string `yaml:"stage"`
}

// From declares the parent image for member images.
type From struct {
	Member string `yaml:"member"`
}

// Dependencies lists group members this component needs at build time.
type Dependencies struct {
	RPMs []map[string]string `yaml:"rpms"`
}

// parseConfig re-marshals a loaded YAML document into the typed config.
func parseConfig(doc *gitdata.Document) (*Config, error) {
	raw, err := yaml.Marshal(doc.Data)
	if err != nil {
		return nil, fatal.Configf("%s: %v", doc.Path, err)
	}
	cfg := &Config{Mode: ModeEnabled}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fatal.Configf("invalid component config %s: %v", doc.Path, err)
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeEnabled
	}
	return cfg, nil
}

// modeOf reads the mode field from a raw document, defaulting to enabled.
// Used by load filters before the full typed parse happens.
func modeOf(data map[string]any) BuildMode {
	if m, ok := data["mode"].(string); ok && m != "" {
		return BuildMode(m)
	}
	return ModeEnabled
}
