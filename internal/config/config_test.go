package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolateHome(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Setenv("CLAWBRAIN_HOME", "")
	t.Setenv("CLAWBRAIN_WORKSPACE", "")
	t.Setenv("CLAWBRAIN_SESSIONS_DIR", "")
	t.Setenv("CLAWBRAIN_ARCHIVE_DIR", "")
	t.Setenv("CLAWBRAIN_TIMEZONE", "")
	t.Setenv("CLAWBRAIN_ARCHIVE_DAYS", "")
	return tmpDir
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)
	assert.NotEmpty(t, cfg.Workspace)
	assert.NotEmpty(t, cfg.SessionsDir)
	assert.Equal(t, DefaultSessionsGlob, cfg.SessionsGlob)
	assert.Equal(t, DefaultMaxMessageChars, cfg.Digest.MaxMessageChars)
	assert.Equal(t, DefaultSummaryMaxEntries, cfg.Forgetting.SummaryMaxEntries)
	assert.True(t, cfg.Forgetting.IncludeDailyMemory)
	assert.False(t, cfg.Consolidation.AnnotateSignals)
}

func TestConfigDir_EnvOverride(t *testing.T) {
	isolateHome(t)
	t.Setenv("CLAWBRAIN_HOME", "/srv/brain")
	assert.Equal(t, "/srv/brain", ConfigDir())
	assert.Equal(t, filepath.Join("/srv/brain", "categories.json"), CategoriesPath())
	assert.Equal(t, filepath.Join("/srv/brain", "schedule.json"), SchedulePath())
}

func TestLoadConfig_NoFile(t *testing.T) {
	home := isolateHome(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".openclaw", "workspace"), cfg.Workspace)
	assert.Equal(t, DefaultSessionsGlob, cfg.SessionsGlob)
}

func TestLoadConfig_FromFile(t *testing.T) {
	home := isolateHome(t)
	cfgDir := filepath.Join(home, ".clawbrain")
	require.NoError(t, os.MkdirAll(cfgDir, 0755))
	doc := `{
  "workspace": "~/brain",
  "sessionsGlob": "session-*.jsonl",
  "digest": {"maxMessageChars": 80},
  "forgetting": {"keepLatestInMonth": true}
}`
	require.NoError(t, os.WriteFile(filepath.Join(cfgDir, "config.json"), []byte(doc), 0644))

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "brain"), cfg.Workspace)
	assert.Equal(t, "session-*.jsonl", cfg.SessionsGlob)
	assert.Equal(t, 80, cfg.Digest.MaxMessageChars)
	assert.True(t, cfg.Forgetting.KeepLatestInMonth)
	// untouched keys keep their defaults
	assert.True(t, cfg.Forgetting.IncludeDailyMemory)
	assert.Equal(t, DefaultSummaryMaxEntries, cfg.Forgetting.SummaryMaxEntries)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	isolateHome(t)
	t.Setenv("CLAWBRAIN_WORKSPACE", "/data/ws")
	t.Setenv("CLAWBRAIN_SESSIONS_DIR", "/data/sessions")
	t.Setenv("CLAWBRAIN_ARCHIVE_DIR", "/data/archive")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "/data/ws", cfg.Workspace)
	assert.Equal(t, "/data/sessions", cfg.SessionsDir)
	assert.Equal(t, "/data/archive", cfg.ArchiveDir)
}

func TestLoadConfig_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	_, err := LoadConfigFrom(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfig))
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	isolateHome(t)
	cfg := DefaultConfig()
	cfg.Workspace = "/tmp/ws"
	require.NoError(t, SaveConfig(cfg))

	loaded, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/ws", loaded.Workspace)
}
