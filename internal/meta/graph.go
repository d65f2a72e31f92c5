package meta

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/MartinPl0/art-tools/internal/fatal"
	"github.com/MartinPl0/art-tools/internal/gitdata"
)

// LoadMode selects which component families a run operates on.
type LoadMode string

const (
	LoadImages LoadMode = "images"
	LoadRPMs   LoadMode = "rpms"
	LoadBoth   LoadMode = "both"
)

// LoadOptions filter which components are loaded. An explicit include list
// bypasses the mode filter entirely; excludes always apply.
type LoadOptions struct {
	Mode         LoadMode
	Images       []string
	RPMs         []string
	Exclude      []string
	LoadWIP      bool
	LoadDisabled bool

	// Vars is substituted into component documents during load.
	Vars map[string]string
	// DefaultBranch is the group dist-git branch for records that do not
	// declare their own.
	DefaultBranch string
	// UpstreamCommitishOverrides pins specific components to upstream
	// commits, keyed by distgit key.
	UpstreamCommitishOverrides map[string]string
}

// Graph holds the loaded component set: insertion-ordered maps for images
// and rpms, a component-name index, the image name-alias index, and the
// computed build order.
type Graph struct {
	images    map[string]*Metadata
	imageKeys []string
	rpms      map[string]*Metadata
	rpmKeys   []string

	// components indexes by build-system component name.
	components map[string]*Metadata
	// nameIndex maps image full names, short names, and bundle aliases to
	// distgit keys.
	nameIndex map[string]string

	// Order is the breadth-first build order over image distgit keys:
	// every image's parent appears before it.
	Order []string
	// Tree is the parent/child forest keyed by distgit key.
	Tree map[string]Tree
}

// Tree is a nested image forest node.
type Tree map[string]Tree

// Load reads image and rpm metadata from the store per the options and links
// the image dependency forest.
func Load(store *gitdata.Store, opts LoadOptions) (*Graph, error) {
	if opts.Mode == "" {
		opts.Mode = LoadImages
	}

	g := &Graph{
		images:     map[string]*Metadata{},
		rpms:       map[string]*Metadata{},
		components: map[string]*Metadata{},
		nameIndex:  map[string]string{},
	}

	// The alias index covers every image in the group, not just the filtered
	// set, so lookups by name work regardless of include/exclude flags.
	allImages, err := store.LoadDir("images", gitdata.LoadOptions{})
	if err != nil {
		return nil, err
	}
	if err := g.buildNameIndex(allImages); err != nil {
		return nil, err
	}

	filter := modeFilter(opts)

	var imageDocs, rpmDocs map[string]*gitdata.Document
	if opts.Mode == LoadImages || opts.Mode == LoadBoth {
		imageDocs, err = store.LoadDir("images", gitdata.LoadOptions{
			Keys:    opts.Images,
			Exclude: opts.Exclude,
			Filter:  filter,
			Vars:    opts.Vars,
		})
		if err != nil {
			return nil, err
		}
	}
	if opts.Mode == LoadRPMs || opts.Mode == LoadBoth {
		rpmDocs, err = store.LoadDir("rpms", gitdata.LoadOptions{
			Keys:    opts.RPMs,
			Exclude: opts.Exclude,
			Filter:  filter,
			Vars:    opts.Vars,
		})
		var pathErr *gitdata.PathError
		if errors.As(err, &pathErr) {
			// Older groups carry no rpms directory.
			rpmDocs = map[string]*gitdata.Document{}
		} else if err != nil {
			return nil, err
		}
	}

	if err := checkMissingIncludes(opts, imageDocs, rpmDocs); err != nil {
		return nil, err
	}

	for _, key := range sortedKeys(imageDocs) {
		if _, dup := g.images[key]; dup {
			continue
		}
		m, err := buildMeta(KindImage, imageDocs[key], opts)
		if err != nil {
			return nil, err
		}
		g.images[key] = m
		g.imageKeys = append(g.imageKeys, key)
		g.components[m.ComponentName()] = m
	}
	for _, key := range sortedKeys(rpmDocs) {
		m, err := buildMeta(KindRPM, rpmDocs[key], opts)
		if err != nil {
			return nil, err
		}
		g.rpms[key] = m
		g.rpmKeys = append(g.rpmKeys, key)
		g.components[m.ComponentName()] = m
	}

	g.resolveParents()
	if err := g.checkCycles(); err != nil {
		return nil, err
	}
	if err := g.checkDuplicateDistgits(); err != nil {
		return nil, err
	}
	g.rebuildTree()
	return g, nil
}

func buildMeta(kind Kind, doc *gitdata.Document, opts LoadOptions) (*Metadata, error) {
	cfg, err := parseConfig(doc)
	if err != nil {
		return nil, err
	}
	m := newMetadata(kind, doc.Key, doc.Path, cfg, opts.DefaultBranch)
	m.Commitish = opts.UpstreamCommitishOverrides[doc.Key]
	return m, nil
}

func modeFilter(opts LoadOptions) func(string, map[string]any) bool {
	switch {
	case opts.LoadWIP && opts.LoadDisabled:
		return nil
	case opts.LoadWIP:
		return func(_ string, d map[string]any) bool {
			m := modeOf(d)
			return m == ModeWIP || m == ModeEnabled
		}
	case opts.LoadDisabled:
		return func(_ string, d map[string]any) bool {
			m := modeOf(d)
			return m == ModeEnabled || m == ModeDisabled
		}
	default:
		return func(_ string, d map[string]any) bool {
			return modeOf(d) == ModeEnabled
		}
	}
}

// checkMissingIncludes fails naming every explicitly included component that
// did not survive loading, all at once.
func checkMissingIncludes(opts LoadOptions, imageDocs, rpmDocs map[string]*gitdata.Document) error {
	var missing []string
	for _, key := range append(append([]string{}, opts.Images...), opts.RPMs...) {
		if _, ok := imageDocs[key]; ok {
			continue
		}
		if _, ok := rpmDocs[key]; ok {
			continue
		}
		missing = append(missing, key)
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fatal.Configf("the following images or rpms were either missing or filtered out: %s", strings.Join(missing, ", "))
	}
	return nil
}

// buildNameIndex registers the lookup aliases for every image: full name,
// short name, and the bundle-name aliases. Any collision between two
// components is fatal; precedence never resolves it silently.
func (g *Graph) buildNameIndex(docs map[string]*gitdata.Document) error {
	var conflicts []string
	register := func(alias, key string) {
		if alias == "" {
			return
		}
		if existing, ok := g.nameIndex[alias]; ok && existing != key {
			conflicts = append(conflicts, fmt.Sprintf("alias %q claimed by both %s and %s", alias, existing, key))
			return
		}
		g.nameIndex[alias] = key
	}

	for _, key := range sortedKeys(docs) {
		data := docs[key].Data
		name, _ := data["name"].(string)
		if name == "" {
			continue
		}
		short := name
		if idx := strings.LastIndex(name, "/"); idx >= 0 {
			short = name[idx+1:]
		}
		register(name, key)
		register(short, key)

		if nameInBundle, _ := data["name_in_bundle"].(string); nameInBundle != "" {
			register(nameInBundle, key)
			continue
		}
		withoutOse := strings.TrimPrefix(short, "ose-")
		register(withoutOse, key)
		register("ose-"+withoutOse, key)
	}

	if len(conflicts) > 0 {
		return fatal.Configf("image name conflicts in group metadata: %s", strings.Join(conflicts, "; "))
	}
	return nil
}

func (g *Graph) resolveParents() {
	for _, key := range g.imageKeys {
		m := g.images[key]
		member := m.Config.From.Member
		if member == "" {
			continue
		}
		parent, ok := g.images[member]
		if !ok {
			// The parent may be excluded from this run; the image builds
			// against whatever the store says without local linkage.
			continue
		}
		m.Parent = parent
		parent.Children = append(parent.Children, m)
	}
}

// checkCycles walks each image's ancestry and reports every image that is
// simultaneously a parent and a dependent, all at once.
func (g *Graph) checkCycles() error {
	var offenders []string
	for _, key := range g.imageKeys {
		image := g.images[key]
		for _, child := range image.Children {
			if image.IsAncestor(child.DistgitKey) {
				offenders = append(offenders, fmt.Sprintf("%s cannot be both a parent and dependent of %s", child.DistgitKey, image.DistgitKey))
			}
		}
	}
	if len(offenders) > 0 {
		return fatal.Configf("dependency cycles in image metadata: %s", strings.Join(offenders, "; "))
	}
	return nil
}

// checkDuplicateDistgits ensures no two loaded components check out the same
// dist-git repo and branch, reporting every duplicate pair.
func (g *Graph) checkDuplicateDistgits() error {
	seen := map[string]*Metadata{}
	var dups []string
	for _, m := range g.AllMetas() {
		key := m.QualifiedKey()
		if prior, ok := seen[key]; ok {
			dups = append(dups, fmt.Sprintf("%s from %s and %s", key, m.ConfigPath, prior.ConfigPath))
			continue
		}
		seen[key] = m
	}
	if len(dups) > 0 {
		return fatal.Configf("complete duplicate distgit & branch; something wrong with metadata: %s", strings.Join(dups, "; "))
	}
	return nil
}

// rebuildTree recomputes the image forest and the breadth-first build order.
// Roots are level 0, their children level 1, and so on; within a level the
// order follows each parent's child-declaration order, and an image placed
// at an earlier level is never repeated.
func (g *Graph) rebuildTree() {
	g.Tree = Tree{}
	levels := map[int][]string{0: {}}

	var addChildren func(m *Metadata, branch Tree, level int)
	addChildren = func(m *Metadata, branch Tree, level int) {
		for _, child := range m.Children {
			if _, ok := g.images[child.DistgitKey]; !ok {
				continue // filtered out
			}
			sub := Tree{}
			branch[child.DistgitKey] = sub
			levels[level] = append(levels[level], child.DistgitKey)
			addChildren(child, sub, level+1)
		}
	}

	for _, key := range g.imageKeys {
		image := g.images[key]
		if image.Parent != nil {
			continue
		}
		sub := Tree{}
		g.Tree[key] = sub
		levels[0] = append(levels[0], key)
		addChildren(image, sub, 1)
	}

	levelNums := make([]int, 0, len(levels))
	for level := range levels {
		levelNums = append(levelNums, level)
	}
	sort.Ints(levelNums)

	g.Order = nil
	placed := map[string]bool{}
	for _, level := range levelNums {
		for _, key := range levels[level] {
			if !placed[key] {
				placed[key] = true
				g.Order = append(g.Order, key)
			}
		}
	}
}

// FilterFailedTrees propagates build failure down the forest: every
// descendant of a failed image is marked failed and removed, and the tree
// and order are recomputed. Returns the expanded failed list.
func (g *Graph) FilterFailedTrees(failed []string) []string {
	failedSet := toSet(failed)
	for _, key := range g.Order {
		m, ok := g.images[key]
		if !ok {
			continue
		}
		if m.Parent != nil && failedSet[m.Parent.DistgitKey] {
			if !failedSet[key] {
				failed = append(failed, key)
				failedSet[key] = true
			}
		}
	}

	for _, key := range failed {
		if _, ok := g.images[key]; ok {
			delete(g.images, key)
			for i, k := range g.imageKeys {
				if k == key {
					g.imageKeys = append(g.imageKeys[:i], g.imageKeys[i+1:]...)
					break
				}
			}
		}
	}

	g.rebuildTree()
	return failed
}

// Image returns the image metadata for a distgit key.
func (g *Graph) Image(distgitKey string) (*Metadata, bool) {
	m, ok := g.images[distgitKey]
	return m, ok
}

// ImageByName resolves an image by full name, short name, or bundle alias.
func (g *Graph) ImageByName(name string) (*Metadata, bool) {
	key, ok := g.nameIndex[name]
	if !ok {
		return nil, false
	}
	m, ok := g.images[key]
	return m, ok
}

// RPM returns the rpm metadata for a distgit key.
func (g *Graph) RPM(distgitKey string) (*Metadata, bool) {
	m, ok := g.rpms[distgitKey]
	return m, ok
}

// Component resolves metadata by build-system component name.
func (g *Graph) Component(name string) (*Metadata, bool) {
	m, ok := g.components[name]
	return m, ok
}

// ImageMetas returns the loaded images in insertion order.
func (g *Graph) ImageMetas() []*Metadata {
	out := make([]*Metadata, 0, len(g.imageKeys))
	for _, key := range g.imageKeys {
		out = append(out, g.images[key])
	}
	return out
}

// OrderedImageMetas returns the loaded images in build order.
func (g *Graph) OrderedImageMetas() []*Metadata {
	out := make([]*Metadata, 0, len(g.Order))
	for _, key := range g.Order {
		if m, ok := g.images[key]; ok {
			out = append(out, m)
		}
	}
	return out
}

// RPMMetas returns the loaded rpms in insertion order.
func (g *Graph) RPMMetas() []*Metadata {
	out := make([]*Metadata, 0, len(g.rpmKeys))
	for _, key := range g.rpmKeys {
		out = append(out, g.rpms[key])
	}
	return out
}

// AllMetas returns rpms then images, each in insertion order.
func (g *Graph) AllMetas() []*Metadata {
	return append(g.RPMMetas(), g.ImageMetas()...)
}

func sortedKeys(docs map[string]*gitdata.Document) []string {
	keys := make([]string, 0, len(docs))
	for k := range docs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func toSet(keys []string) map[string]bool {
	set := make(map[string]bool, len(keys))
	for _, k := range keys {
		set[k] = true
	}
	return set
}
