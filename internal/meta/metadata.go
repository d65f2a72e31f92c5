// Package meta loads per-component declarative metadata (images and rpms),
// links parent/child dependency edges among images, and computes the
// deterministic build order the rest of the tooling iterates in.
package meta

import (
	"fmt"
	"strings"
)

// Kind distinguishes the two metadata variants.
type Kind string

const (
	KindImage Kind = "image"
	KindRPM   Kind = "rpm"
)

// Metadata is one loaded component. Images and rpms share the same shape;
// parent/child fields are only populated for images.
type Metadata struct {
	Kind   Kind
	Config *Config

	// DistgitKey is the store filename minus .yml, e.g.
	// "openshift-enterprise-mediawiki.apb".
	DistgitKey string
	// Name is DistgitKey minus any differentiator suffix; combined with
	// Namespace it locates the dist-git repo.
	Name      string
	Namespace string

	// ConfigPath is where the record was loaded from, for error messages.
	ConfigPath string

	// defaultBranch is the group-level branch used when the record does not
	// declare its own.
	defaultBranch string

	// Image tree linkage (images only).
	Parent   *Metadata
	Children []*Metadata

	// PublicUpstreamURL and PublicUpstreamBranch are filled in by source
	// resolution when a public/private mapping applies.
	PublicUpstreamURL    string
	PublicUpstreamBranch string

	// Commitish optionally pins the upstream checkout to a specific commit.
	Commitish string
}

// Branch returns the dist-git branch for this component: the record's own
// distgit.branch if declared, else the group default.
func (m *Metadata) Branch() string {
	if m.Config.Distgit.Branch != "" {
		return m.Config.Distgit.Branch
	}
	return m.defaultBranch
}

// ComponentName returns the build-system component name. Images follow the
// brew convention of a -container suffix unless the record overrides it.
func (m *Metadata) ComponentName() string {
	if m.Config.Distgit.Component != "" {
		return m.Config.Distgit.Component
	}
	if m.Kind == KindImage {
		return m.Name + "-container"
	}
	return m.Name
}

// QualifiedKey identifies the dist-git repo and branch this metadata will
// check out. Two components sharing it is always a config defect.
func (m *Metadata) QualifiedKey() string {
	return fmt.Sprintf("%s/%s/#%s", m.Namespace, m.Name, m.Branch())
}

// ImageNameShort is the last path segment of the image name (images only).
func (m *Metadata) ImageNameShort() string {
	name := m.Config.Name
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		return name[idx+1:]
	}
	return name
}

// IsAncestor reports whether the named distgit key appears anywhere in this
// image's parent chain. The walk tracks visited keys so a cyclic chain (which
// load-time validation reports as fatal) terminates instead of looping.
func (m *Metadata) IsAncestor(distgitKey string) bool {
	seen := map[string]bool{}
	for parent := m.Parent; parent != nil; parent = parent.Parent {
		if parent.DistgitKey == distgitKey {
			return true
		}
		if seen[parent.DistgitKey] {
			return false
		}
		seen[parent.DistgitKey] = true
	}
	return false
}

// Descendants returns every transitive child of this image.
func (m *Metadata) Descendants() []*Metadata {
	var out []*Metadata
	for _, child := range m.Children {
		out = append(out, child)
		out = append(out, child.Descendants()...)
	}
	return out
}

func newMetadata(kind Kind, key, path string, cfg *Config, defaultBranch string) *Metadata {
	namespace := cfg.Distgit.Namespace
	if namespace == "" {
		if kind == KindImage {
			namespace = "containers"
		} else {
			namespace = "rpms"
		}
	}
	return &Metadata{
		Kind:          kind,
		Config:        cfg,
		DistgitKey:    key,
		Name:          strings.SplitN(key, ".", 2)[0],
		Namespace:     namespace,
		ConfigPath:    path,
		defaultBranch: defaultBranch,
	}
}
