package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_NoArgsPrintsUsage(t *testing.T) {
	t.Parallel()
	var out bytes.Buffer

	config, shouldExit, err := Parse(nil, &out)
	require.NoError(t, err)
	assert.True(t, shouldExit)
	assert.Nil(t, config)
	assert.Contains(t, out.String(), "Usage:")
}

func TestParse_HelpFlag(t *testing.T) {
	t.Parallel()
	var out bytes.Buffer

	_, shouldExit, err := Parse([]string{"-h"}, &out)
	require.NoError(t, err)
	assert.True(t, shouldExit)
}

func TestParse_ValidInvocation(t *testing.T) {
	t.Parallel()
	var out bytes.Buffer

	config, shouldExit, err := Parse([]string{
		"--group", "openshift-4.14@abcdef1",
		"--data-path", "/srv/ocp-build-data",
		"--assembly", "4.14.7",
		"-i", "etcd",
		"-i", "ose-installer",
		"-x", "base",
		"--source", "etcd=/tmp/etcd",
		"--upstream-commitish", "etcd=7e66b10",
		"--arches", "x86_64",
		"--arches", "aarch64",
		"--clone-sources",
		"--workers", "4",
		"images:list",
	}, &out)
	require.NoError(t, err)
	require.False(t, shouldExit)

	assert.Equal(t, CommandImagesList, config.Command)
	opts := config.Options
	assert.Equal(t, "openshift-4.14@abcdef1", opts.Group)
	assert.Equal(t, "/srv/ocp-build-data", opts.DataPath)
	assert.Equal(t, "4.14.7", opts.Assembly)
	assert.Equal(t, []string{"etcd", "ose-installer"}, []string(opts.Images))
	assert.Equal(t, []string{"base"}, []string(opts.Exclude))
	assert.Equal(t, map[string]string{"etcd": "/tmp/etcd"}, opts.SourceAliases)
	assert.Equal(t, map[string]string{"etcd": "7e66b10"}, opts.UpstreamCommitishOverrides)
	assert.Equal(t, []string{"x86_64", "aarch64"}, []string(opts.Arches))
	assert.True(t, opts.CloneSources)
	assert.Equal(t, 4, opts.WorkerCount)
	assert.Equal(t, "info", config.LogLevel)
	assert.Equal(t, "json", config.LogFormat)
}

func TestParse_Validation(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name        string
		args        []string
		expectedMsg string
	}{
		{
			name:        "unknown command",
			args:        []string{"--group", "g", "--data-path", "d", "frobnicate"},
			expectedMsg: "unknown command",
		},
		{
			name:        "missing group",
			args:        []string{"--data-path", "d", "images:list"},
			expectedMsg: "--group is required",
		},
		{
			name:        "missing data path",
			args:        []string{"--group", "g", "images:list"},
			expectedMsg: "--data-path is required",
		},
		{
			name:        "bad log level",
			args:        []string{"--group", "g", "--data-path", "d", "--log-level", "loud", "images:list"},
			expectedMsg: "invalid log-level",
		},
		{
			name:        "bad log format",
			args:        []string{"--group", "g", "--data-path", "d", "--log-format", "xml", "images:list"},
			expectedMsg: "invalid log-format",
		},
		{
			name:        "malformed source mapping",
			args:        []string{"--group", "g", "--data-path", "d", "--source", "no-equals", "images:list"},
			expectedMsg: "KEY=VALUE",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var out bytes.Buffer
			_, _, err := Parse(tc.args, &out)
			require.Error(t, err)
			exitErr, ok := err.(*ExitError)
			require.True(t, ok, "expected an ExitError, got %T", err)
			assert.Equal(t, 2, exitErr.Code)
			assert.Contains(t, exitErr.Message, tc.expectedMsg)
		})
	}
}

func TestParse_SettingsFileSuppliesDefaults(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "art.hcl")
	require.NoError(t, os.WriteFile(path, []byte(`
data_path = "/srv/ocp-build-data"
cache_dir = "/var/cache/art"
brew_hub  = "https://brewhub.example.com/brewhub"
`), 0o644))

	var out bytes.Buffer
	config, shouldExit, err := Parse([]string{
		"--group", "openshift-4.14",
		"--settings", path,
		"--cache-dir", "/home/me/cache",
		"images:list",
	}, &out)
	require.NoError(t, err)
	require.False(t, shouldExit)

	assert.Equal(t, "/srv/ocp-build-data", config.Options.DataPath, "settings fill unset options")
	assert.Equal(t, "/home/me/cache", config.Options.CacheDir, "flags beat settings")
	assert.Equal(t, "https://brewhub.example.com/brewhub", config.Options.BrewHub)
}
