// Package group loads and resolves the group-level configuration for one
// release line: the raw group document from the build-data store, template
// variable substitution, and the assembly overlay producing the effective
// config.
package group

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/MartinPl0/art-tools/internal/assembly"
	"github.com/MartinPl0/art-tools/internal/fatal"
	"github.com/MartinPl0/art-tools/internal/gitdata"
	"github.com/MartinPl0/art-tools/internal/meta"
	"github.com/MartinPl0/art-tools/internal/source"
)

// Freeze automation values from group.yml. "yes" makes the runtime itself
// refuse mutating operations; other values are enforced by pipelines.
const (
	FreezeAutomationYes       = "yes"
	FreezeAutomationScheduled = "scheduled"
	FreezeAutomationNo        = "no"
)

// Config is the effective group configuration after substitution and
// overlay. Immutable once the runtime is initialized.
type Config struct {
	Name             string                     `yaml:"name"`
	Branch           string                     `yaml:"branch"`
	Arches           []string                   `yaml:"arches"`
	ArchesOverride   []string                   `yaml:"arches_override"`
	FreezeAutomation string                     `yaml:"freeze_automation"`
	Assemblies       Assemblies                 `yaml:"assemblies"`
	PublicUpstreams  []source.UpstreamRule      `yaml:"public_upstreams"`
	Sources          map[string]*meta.SourceGit `yaml:"sources"`
	UseFallback      string                     `yaml:"use_source_fallback_branch"`
	URLs             URLs                       `yaml:"urls"`
	Repos            map[string]any             `yaml:"repos"`
	Vars             map[string]any             `yaml:"vars"`
}

// Assemblies gates whether the assembly overlay machinery applies to this
// group at all.
type Assemblies struct {
	Enabled bool `yaml:"enabled"`
}

// URLs collects the remote endpoints the group builds against.
type URLs struct {
	BrewHub string `yaml:"brewhub"`
	CgitURL string `yaml:"cgit_url"`
}

// Resolver resolves group, releases, and streams configuration for a run.
type Resolver struct {
	Store *gitdata.Store
	// Group is the group name (e.g. "openshift-4.14").
	Group string
	// Assembly is the active assembly; empty means stream behavior. The
	// runtime decides whether assembly mode is honored before calling in.
	Assembly string
	// ReleasesOverridePath, when set, replaces the store's releases document
	// with a local file.
	ReleasesOverridePath string

	releases map[string]any
}

// ReleasesConfig loads (and caches) the release-assembly definitions.
func (r *Resolver) ReleasesConfig() (map[string]any, error) {
	if r.releases != nil {
		return r.releases, nil
	}
	if r.ReleasesOverridePath != "" {
		doc, err := gitdata.LoadFile(r.ReleasesOverridePath)
		if err != nil {
			return nil, err
		}
		r.releases = doc.Data
		return r.releases, nil
	}
	doc, err := r.Store.Load("releases", nil)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		r.releases = map[string]any{}
	} else {
		r.releases = doc.Data
	}
	return r.releases, nil
}

// ReplaceVars computes the template variables substituted into group and
// component documents: the group's own vars section plus runtime_assembly
// (empty unless an assembly is active) and release_name (empty unless the
// assembly is a named release).
func (r *Resolver) ReplaceVars(groupVars map[string]any) (map[string]string, error) {
	vars := map[string]string{}
	for k, v := range groupVars {
		vars[k] = fmt.Sprintf("%v", v)
	}
	vars["runtime_assembly"] = ""
	vars["release_name"] = ""
	if r.Assembly != "" {
		vars["runtime_assembly"] = r.Assembly
		releases, err := r.ReleasesConfig()
		if err != nil {
			return nil, err
		}
		if assembly.TypeOf(releases, r.Assembly) != assembly.TypeStream {
			name, err := assembly.ReleaseName(r.Group, releases, r.Assembly)
			if err != nil {
				return nil, err
			}
			vars["release_name"] = name
		}
	}
	return vars, nil
}

// RawGroup loads the group document, applies template variable substitution,
// and returns the substituted tree plus the computed vars. No assembly
// overlay is applied here.
func (r *Resolver) RawGroup() (map[string]any, map[string]string, error) {
	doc, err := r.Store.Load("group", nil)
	if err != nil {
		return nil, nil, err
	}
	if doc == nil {
		return nil, nil, fatal.Configf("group config not found in build-data for %s", r.Group)
	}

	groupVars, _ := doc.Data["vars"].(map[string]any)
	vars, err := r.ReplaceVars(groupVars)
	if err != nil {
		return nil, nil, err
	}

	// Serialize the raw tree and substitute into the text, so templated
	// values work anywhere in the document.
	raw, err := yaml.Marshal(doc.Data)
	if err != nil {
		return nil, nil, err
	}
	substituted, err := gitdata.SubstituteVars(string(raw), vars)
	if err != nil {
		return nil, nil, fatal.Configf("group config: %v", err)
	}
	tree := map[string]any{}
	if err := yaml.Unmarshal([]byte(substituted), &tree); err != nil {
		return nil, nil, fatal.Configf("group config after substitution is invalid: %v", err)
	}
	return tree, vars, nil
}

// ResolveGroupConfig produces the effective group config: substitution, then
// the assembly overlay, then decoding into the typed structure.
func (r *Resolver) ResolveGroupConfig() (*Config, map[string]string, error) {
	tree, vars, err := r.RawGroup()
	if err != nil {
		return nil, nil, err
	}
	if r.Assembly != "" {
		releases, err := r.ReleasesConfig()
		if err != nil {
			return nil, nil, err
		}
		tree, err = assembly.GroupConfig(releases, r.Assembly, tree)
		if err != nil {
			return nil, nil, err
		}
	}
	cfg, err := decode(tree)
	if err != nil {
		return nil, nil, err
	}
	return cfg, vars, nil
}

// ResolveStreams produces the streams (components) config through the same
// substitution and overlay mechanism. A group without a streams document
// returns nil.
func (r *Resolver) ResolveStreams(vars map[string]string) (map[string]any, error) {
	doc, err := r.Store.Load("streams", vars)
	if err != nil || doc == nil {
		return nil, err
	}
	tree := doc.Data
	if r.Assembly != "" {
		releases, err := r.ReleasesConfig()
		if err != nil {
			return nil, err
		}
		tree, err = assembly.StreamsConfig(releases, r.Assembly, tree)
		if err != nil {
			return nil, err
		}
	}
	return tree, nil
}

func decode(tree map[string]any) (*Config, error) {
	raw, err := yaml.Marshal(tree)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fatal.Configf("invalid group config: %v", err)
	}
	if cfg.FreezeAutomation == "" {
		cfg.FreezeAutomation = FreezeAutomationNo
	}
	return cfg, nil
}
