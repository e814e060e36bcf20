package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadParsesKnownFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "taskweave.toml")
	content := `
paths = ["src", "tasks"]
force = true
stop_after_first_failure = true
max_failures = 3
filterwarnings = ["ignore::DeprecationWarning"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, []string{"src", "tasks"}, cfg.Paths)
	require.True(t, cfg.Force)
	require.True(t, cfg.StopAfterFirstFailure)
	require.Equal(t, 3, cfg.MaxFailures)
	require.Equal(t, []string{"ignore::DeprecationWarning"}, cfg.Filterwarnings)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "taskweave.toml")
	require.NoError(t, os.WriteFile(path, []byte("bogus_key = 1\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsNegativeMaxFailures(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "taskweave.toml")
	require.NoError(t, os.WriteFile(path, []byte("max_failures = -1\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}
