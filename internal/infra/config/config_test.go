package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadPredefinedDefaults(t *testing.T) {
	path := writeConfig(t, `
mirror_selection_method: predefined
mirrors_predefined:
  - https://mirror-a.example/repo
  - https://mirror-b.example/repo
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "./cache", cfg.CacheDirectory)
	assert.Equal(t, Predefined, cfg.MirrorSelectionMethod)
	assert.Equal(t, []string{".db", ".db.sig", ".files"}, cfg.UncacheableSuffixes)
	assert.Equal(t, int64(0), cfg.LowSpeedLimit)
	assert.Equal(t, 10*time.Second, cfg.LowSpeedWindow)
}

func TestLoadPredefinedRequiresMirrors(t *testing.T) {
	path := writeConfig(t, `
mirror_selection_method: predefined
`)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadAutoRequiresStatusURL(t *testing.T) {
	path := writeConfig(t, `
mirror_selection_method: auto
`)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadAutoWithStatusURL(t *testing.T) {
	path := writeConfig(t, `
mirror_selection_method: auto
mirror_status_url: https://example.com/mirrorstatus.json
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Auto, cfg.MirrorSelectionMethod)
	assert.Equal(t, "https://example.com/mirrorstatus.json", cfg.MirrorStatusURL)
}

func TestLoadRejectsUnknownSelectionMethod(t *testing.T) {
	path := writeConfig(t, `
mirror_selection_method: whatever
`)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsNegativeLowSpeedLimit(t *testing.T) {
	path := writeConfig(t, `
mirror_selection_method: predefined
mirrors_predefined: [https://mirror.example/repo]
low_speed_limit: -1
`)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	assert.Error(t, err)
}
