package source

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MartinPl0/art-tools/internal/meta"
)

func TestIsCommitHash(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name     string
		branch   string
		expected bool
	}{
		{name: "short abbreviated hash", branch: "7e66b10", expected: true},
		{name: "uppercase hex", branch: "7E66B10F", expected: true},
		{name: "full 40 char hash", branch: "7e66b10fbcd5b1b0b8c73a8b9e9f8a7d6c5b4a39", expected: true},
		{name: "all digits", branch: "1234567", expected: true},
		{name: "too short", branch: "7e66b1", expected: false},
		{name: "release branch", branch: "release-4.14", expected: false},
		{name: "hex with separator", branch: "7e66b10-dirty", expected: false},
		{name: "empty", branch: "", expected: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, IsCommitHash(tc.branch))
		})
	}
}

func TestDetectBranch_CommitHashBypassesRemoteLookup(t *testing.T) {
	t.Parallel()
	r := NewResolver()
	details := &meta.SourceGit{
		// An unresolvable URL proves no remote probe happens for pinned hashes.
		URL:    "https://invalid.example.test/org/repo",
		Branch: meta.BranchRules{Target: "7e66b10fbcd5"},
	}

	branch, hash, err := r.DetectBranch(context.Background(), details)
	require.NoError(t, err)
	assert.Equal(t, "7e66b10fbcd5", branch)
	assert.Equal(t, "7e66b10fbcd5", hash)
}

func TestDetectBranch_FallbackNeverIgnoresFallback(t *testing.T) {
	t.Parallel()
	r := NewResolver()
	r.Fallback = FallbackNever
	details := &meta.SourceGit{
		URL: "https://invalid.example.test/org/repo",
		Branch: meta.BranchRules{
			// The fallback is itself a hash; with policy "never" it must not
			// rescue the failed target probe.
			Target:   "release-4.99",
			Fallback: "7e66b10fbcd5",
		},
	}

	_, _, err := r.DetectBranch(context.Background(), details)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no fallback provided")
}

func TestDetectBranch_FallbackAlwaysPromotesFallbackHash(t *testing.T) {
	t.Parallel()
	r := NewResolver()
	r.Fallback = FallbackAlways
	details := &meta.SourceGit{
		URL: "https://invalid.example.test/org/repo",
		Branch: meta.BranchRules{
			Target:   "release-4.99",
			Fallback: "7e66b10fbcd5",
		},
	}

	branch, hash, err := r.DetectBranch(context.Background(), details)
	require.NoError(t, err)
	assert.Equal(t, "7e66b10fbcd5", branch)
	assert.Equal(t, "7e66b10fbcd5", hash)
}
