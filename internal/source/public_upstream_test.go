package source

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConvertRemoteGitToHTTPS(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name     string
		remote   string
		expected string
	}{
		{
			name:     "ssh style",
			remote:   "git@github.com:openshift/origin.git",
			expected: "https://github.com/openshift/origin",
		},
		{
			name:     "git protocol",
			remote:   "git://github.com/openshift/origin.git",
			expected: "https://github.com/openshift/origin",
		},
		{
			name:     "plain http",
			remote:   "http://github.com/openshift/origin",
			expected: "https://github.com/openshift/origin",
		},
		{
			name:     "already https",
			remote:   "https://github.com/openshift/origin",
			expected: "https://github.com/openshift/origin",
		},
		{
			name:     "whitespace and suffix trimmed",
			remote:   "  https://github.com/openshift/origin.git  ",
			expected: "https://github.com/openshift/origin",
		},
		{
			name:     "unknown scheme passes through",
			remote:   "file:///tmp/repo",
			expected: "file:///tmp/repo",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, ConvertRemoteGitToHTTPS(tc.remote))
		})
	}
}

func TestTranslatePublicUpstream(t *testing.T) {
	t.Parallel()
	rules := []UpstreamRule{
		{Private: "https://github.com/org", Public: "https://example.com/pub"},
		{Private: "https://github.com/org/special", Public: "https://example.com/special-pub", PublicBranch: "main"},
	}

	testCases := []struct {
		name           string
		remote         string
		expectedURL    string
		expectedBranch string
	}{
		{
			name:        "org rule rewrites repo under it",
			remote:      "git@github.com:org/priv.git",
			expectedURL: "https://example.com/pub/priv",
		},
		{
			name:           "longest private prefix wins",
			remote:         "https://github.com/org/special",
			expectedURL:    "https://example.com/special-pub",
			expectedBranch: "main",
		},
		{
			name:           "exact repo match carries branch override",
			remote:         "git@github.com:org/special.git",
			expectedURL:    "https://example.com/special-pub",
			expectedBranch: "main",
		},
		{
			name:        "prefix only matches whole path segments",
			remote:      "https://github.com/organization/repo",
			expectedURL: "https://github.com/organization/repo",
		},
		{
			name:        "no rule matches",
			remote:      "git@gitlab.example.com:team/repo.git",
			expectedURL: "https://gitlab.example.com/team/repo",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			url, branch := TranslatePublicUpstream(rules, tc.remote)
			assert.Equal(t, tc.expectedURL, url)
			assert.Equal(t, tc.expectedBranch, branch)
		})
	}
}

func TestTranslatePublicUpstream_NoRules(t *testing.T) {
	t.Parallel()
	url, branch := TranslatePublicUpstream(nil, "git@github.com:org/repo.git")
	assert.Equal(t, "https://github.com/org/repo", url)
	assert.Empty(t, branch)
}
