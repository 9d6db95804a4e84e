package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	for _, key := range []string{"XP_ROOT", "XP_BACKEND", "XP_LOG_LEVEL", "XP_LOG_FORMAT", "XP_VERBOSE"} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}

	s, err := Load()
	require.NoError(t, err)

	assert.Equal(t, &Settings{
		Root:      "experiments",
		Backend:   "json",
		LogLevel:  "info",
		LogFormat: "json",
	}, s)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "xp.yaml"), []byte("root: /data/xp\nbackend: yaml\nverbose: true\n"), 0o644))

	t.Setenv("XP_BACKEND", "json")
	t.Setenv("XP_LOG_LEVEL", "debug")

	s, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/data/xp", s.Root)
	assert.Equal(t, "json", s.Backend)
	assert.Equal(t, "debug", s.LogLevel)
	assert.True(t, s.Verbose)
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("XP_LOG_FORMAT", "xml")

	_, err := Load()
	assert.ErrorContains(t, err, "LogFormat")
}
