package meta

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MartinPl0/art-tools/internal/gitdata"
)

func writeStore(t *testing.T, files map[string]string) *gitdata.Store {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	store, err := gitdata.Resolve(context.Background(), gitdata.ResolveOptions{DataPath: dir})
	require.NoError(t, err)
	return store
}

func imageYAML(name, member string) string {
	doc := fmt.Sprintf("name: %s\n", name)
	if member != "" {
		doc += fmt.Sprintf("from:\n  member: %s\n", member)
	}
	return doc
}

func familyStore(t *testing.T) *gitdata.Store {
	t.Helper()
	return writeStore(t, map[string]string{
		"images/base.yml":  imageYAML("openshift/base", ""),
		"images/alpha.yml": imageYAML("openshift/ose-alpha", "base"),
		"images/beta.yml":  imageYAML("openshift/ose-beta", "base"),
		"images/gamma.yml": imageYAML("openshift/ose-gamma", "alpha"),
	})
}

func TestLoad_BuildOrderParentsFirst(t *testing.T) {
	t.Parallel()
	g, err := Load(familyStore(t), LoadOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{"base", "alpha", "beta", "gamma"}, g.Order)

	// Every image's parent must appear earlier in the order.
	position := map[string]int{}
	for i, key := range g.Order {
		position[key] = i
	}
	for _, m := range g.ImageMetas() {
		if m.Parent != nil {
			assert.Less(t, position[m.Parent.DistgitKey], position[m.DistgitKey],
				"%s must build after its parent %s", m.DistgitKey, m.Parent.DistgitKey)
		}
	}
}

func TestLoad_TreeShape(t *testing.T) {
	t.Parallel()
	g, err := Load(familyStore(t), LoadOptions{})
	require.NoError(t, err)

	require.Contains(t, g.Tree, "base")
	require.Contains(t, g.Tree["base"], "alpha")
	require.Contains(t, g.Tree["base"], "beta")
	assert.Contains(t, g.Tree["base"]["alpha"], "gamma")
}

func TestLoad_NameIndexAliases(t *testing.T) {
	t.Parallel()
	g, err := Load(familyStore(t), LoadOptions{})
	require.NoError(t, err)

	testCases := []struct {
		name        string
		lookup      string
		expectedKey string
	}{
		{name: "full name", lookup: "openshift/ose-alpha", expectedKey: "alpha"},
		{name: "short name", lookup: "ose-alpha", expectedKey: "alpha"},
		{name: "short name without ose prefix", lookup: "alpha", expectedKey: "alpha"},
		{name: "non-ose image by short name", lookup: "base", expectedKey: "base"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			m, ok := g.ImageByName(tc.lookup)
			require.True(t, ok, "lookup %q", tc.lookup)
			assert.Equal(t, tc.expectedKey, m.DistgitKey)
		})
	}

	_, ok := g.ImageByName("unknown")
	assert.False(t, ok)
}

func TestLoad_NameConflictIsFatal(t *testing.T) {
	t.Parallel()
	store := writeStore(t, map[string]string{
		"images/one.yml": "name: openshift/shared\n",
		"images/two.yml": "name: openshift/shared\n",
	})

	_, err := Load(store, LoadOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "image name conflicts")
	assert.Contains(t, err.Error(), "one")
	assert.Contains(t, err.Error(), "two")
}

func TestLoad_CycleIsFatal(t *testing.T) {
	t.Parallel()
	store := writeStore(t, map[string]string{
		"images/ping.yml": imageYAML("openshift/ping", "pong"),
		"images/pong.yml": imageYAML("openshift/pong", "ping"),
	})

	_, err := Load(store, LoadOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be both a parent and dependent")
}

// A cyclic parent chain must surface as a fatal error even when the cycle has
// additional dependents hanging off it, and must do so in bounded time.
func TestLoad_CycleWithExtraChildTerminates(t *testing.T) {
	t.Parallel()
	store := writeStore(t, map[string]string{
		"images/alpha.yml": imageYAML("openshift/alpha", "zeta"),
		"images/zeta.yml":  imageYAML("openshift/zeta", "alpha"),
		"images/extra.yml": imageYAML("openshift/extra", "alpha"),
	})

	done := make(chan error, 1)
	go func() {
		_, err := Load(store, LoadOptions{})
		done <- err
	}()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cannot be both a parent and dependent")
	case <-time.After(5 * time.Second):
		t.Fatal("Load did not terminate on a cyclic parent chain")
	}
}

func TestMetadata_IsAncestor_TerminatesOnCyclicChain(t *testing.T) {
	t.Parallel()
	a := &Metadata{DistgitKey: "alpha"}
	b := &Metadata{DistgitKey: "zeta"}
	a.Parent = b
	b.Parent = a

	assert.True(t, a.IsAncestor("zeta"))
	assert.True(t, a.IsAncestor("alpha"))
	assert.False(t, a.IsAncestor("unrelated"), "a key outside the cycle must return, not loop")
}

func TestLoad_DuplicateDistgitBranchIsFatal(t *testing.T) {
	t.Parallel()
	// Both keys reduce to dist-git repo "shared" on the same branch.
	store := writeStore(t, map[string]string{
		"images/shared.apb.yml": "name: openshift/shared-one\n",
		"images/shared.ose.yml": "name: openshift/shared-two\n",
	})

	_, err := Load(store, LoadOptions{DefaultBranch: "rhaos-4.14-rhel-9"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate distgit")
}

func TestLoad_MissingIncludesReportedTogether(t *testing.T) {
	t.Parallel()
	_, err := Load(familyStore(t), LoadOptions{
		Images: []string{"alpha", "nonexistent", "alsomissing"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "alsomissing")
	assert.Contains(t, err.Error(), "nonexistent")
	assert.NotContains(t, err.Error(), "alpha,")
}

func TestLoad_ModeFiltering(t *testing.T) {
	t.Parallel()
	store := writeStore(t, map[string]string{
		"images/ready.yml":   "name: openshift/ready\n",
		"images/cooking.yml": "name: openshift/cooking\nmode: wip\n",
		"images/retired.yml": "name: openshift/retired\nmode: disabled\n",
	})

	t.Run("default loads enabled only", func(t *testing.T) {
		g, err := Load(store, LoadOptions{})
		require.NoError(t, err)
		assert.Equal(t, []string{"ready"}, g.Order)
	})

	t.Run("load-wip adds wip components", func(t *testing.T) {
		g, err := Load(store, LoadOptions{LoadWIP: true})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"ready", "cooking"}, g.Order)
	})

	t.Run("explicit include bypasses the mode filter", func(t *testing.T) {
		g, err := Load(store, LoadOptions{Images: []string{"retired"}})
		require.NoError(t, err)
		assert.Equal(t, []string{"retired"}, g.Order)
	})
}

func TestLoad_RPMs(t *testing.T) {
	t.Parallel()
	store := writeStore(t, map[string]string{
		"images/base.yml":       imageYAML("openshift/base", ""),
		"rpms/openshift-cli.yml": "name: openshift-cli\n",
	})

	g, err := Load(store, LoadOptions{Mode: LoadBoth})
	require.NoError(t, err)

	rpm, ok := g.RPM("openshift-cli")
	require.True(t, ok)
	assert.Equal(t, KindRPM, rpm.Kind)
	assert.Equal(t, "openshift-cli", rpm.ComponentName())

	img, ok := g.Component("base-container")
	require.True(t, ok)
	assert.Equal(t, "base", img.DistgitKey)

	assert.Len(t, g.AllMetas(), 2)
}

func TestLoad_MissingRPMDirIsTolerated(t *testing.T) {
	t.Parallel()
	store := writeStore(t, map[string]string{
		"images/base.yml": imageYAML("openshift/base", ""),
	})

	g, err := Load(store, LoadOptions{Mode: LoadBoth})
	require.NoError(t, err)
	assert.Empty(t, g.RPMMetas())
}

func TestFilterFailedTrees(t *testing.T) {
	t.Parallel()
	g, err := Load(familyStore(t), LoadOptions{})
	require.NoError(t, err)

	failed := g.FilterFailedTrees([]string{"alpha"})

	assert.ElementsMatch(t, []string{"alpha", "gamma"}, failed,
		"failure must propagate to every descendant")
	assert.Equal(t, []string{"base", "beta"}, g.Order)
	_, ok := g.Image("alpha")
	assert.False(t, ok)
	_, ok = g.Image("gamma")
	assert.False(t, ok)
}

func TestMetadata_BranchAndQualifiedKey(t *testing.T) {
	t.Parallel()
	store := writeStore(t, map[string]string{
		"images/pinned.yml":   "name: openshift/pinned\ndistgit:\n  branch: rhaos-4.12-rhel-8\n",
		"images/floating.yml": "name: openshift/floating\n",
	})

	g, err := Load(store, LoadOptions{DefaultBranch: "rhaos-4.14-rhel-9"})
	require.NoError(t, err)

	pinned, _ := g.Image("pinned")
	assert.Equal(t, "rhaos-4.12-rhel-8", pinned.Branch())
	assert.Equal(t, "containers/pinned/#rhaos-4.12-rhel-8", pinned.QualifiedKey())

	floating, _ := g.Image("floating")
	assert.Equal(t, "rhaos-4.14-rhel-9", floating.Branch())
}
