package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

const (
	DefaultSessionsGlob      = "*.jsonl"
	DefaultMaxMessageChars   = 500
	DefaultSummaryMaxEntries = 100
	DefaultArchiveDays       = 90
	DefaultTimezone          = "UTC"
	DefaultCategory          = "misc"
	DefaultDigestTime        = "02:30"
	DefaultConsolidateTime   = "03:00"
	DefaultForgetTime        = "04:00"
	DefaultForgetDay         = 1
)

// ErrConfig marks a missing or invalid configuration document. Commands
// abort with a non-zero exit code when they see it.
var ErrConfig = errors.New("configuration error")

type Config struct {
	Workspace     string              `json:"workspace"`
	SessionsDir   string              `json:"sessionsDir"`
	SessionsGlob  string              `json:"sessionsGlob,omitempty"`
	ArchiveDir    string              `json:"archiveDir,omitempty"`
	Digest        DigestConfig        `json:"digest"`
	Consolidation ConsolidationConfig `json:"consolidation"`
	Forgetting    ForgettingConfig    `json:"forgetting"`
}

type DigestConfig struct {
	MaxMessageChars int `json:"maxMessageChars,omitempty"`
}

type ConsolidationConfig struct {
	AnnotateSignals bool `json:"annotateSignals"`
}

type ForgettingConfig struct {
	SummaryMaxEntries  int  `json:"summaryMaxEntries,omitempty"`
	KeepLatestInMonth  bool `json:"keepLatestInMonth"`
	IncludeDailyMemory bool `json:"includeDailyMemory"`
}

func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Workspace:    filepath.Join(home, ".openclaw", "workspace"),
		SessionsDir:  filepath.Join(home, ".openclaw", "agents", "main", "sessions"),
		SessionsGlob: DefaultSessionsGlob,
		Digest: DigestConfig{
			MaxMessageChars: DefaultMaxMessageChars,
		},
		Forgetting: ForgettingConfig{
			SummaryMaxEntries:  DefaultSummaryMaxEntries,
			IncludeDailyMemory: true,
		},
	}
}

func ConfigDir() string {
	if dir := os.Getenv("CLAWBRAIN_HOME"); dir != "" {
		return dir
	}
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".clawbrain")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

func CategoriesPath() string {
	return filepath.Join(ConfigDir(), "categories.json")
}

func SchedulePath() string {
	return filepath.Join(ConfigDir(), "schedule.json")
}

func StatePath() string {
	return filepath.Join(ConfigDir(), "state", "schedule-state.json")
}

// LoadConfig reads config.json from ConfigDir. The document is optional;
// defaults apply for anything it leaves out.
func LoadConfig() (*Config, error) {
	return LoadConfigFrom(ConfigPath())
}

func LoadConfigFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: read config: %v", ErrConfig, err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: parse config %s: %v", ErrConfig, path, err)
		}
	}

	// Environment variable overrides
	if ws := os.Getenv("CLAWBRAIN_WORKSPACE"); ws != "" {
		cfg.Workspace = ws
	}
	if dir := os.Getenv("CLAWBRAIN_SESSIONS_DIR"); dir != "" {
		cfg.SessionsDir = dir
	}
	if dir := os.Getenv("CLAWBRAIN_ARCHIVE_DIR"); dir != "" {
		cfg.ArchiveDir = dir
	}

	if strings.TrimSpace(cfg.Workspace) == "" {
		cfg.Workspace = DefaultConfig().Workspace
	}
	if strings.TrimSpace(cfg.SessionsDir) == "" {
		cfg.SessionsDir = DefaultConfig().SessionsDir
	}
	if strings.TrimSpace(cfg.SessionsGlob) == "" {
		cfg.SessionsGlob = DefaultSessionsGlob
	}
	if cfg.Digest.MaxMessageChars <= 0 {
		cfg.Digest.MaxMessageChars = DefaultMaxMessageChars
	}
	if cfg.Forgetting.SummaryMaxEntries < 0 {
		cfg.Forgetting.SummaryMaxEntries = 0
	}
	cfg.Workspace = expandHome(cfg.Workspace)
	cfg.SessionsDir = expandHome(cfg.SessionsDir)
	cfg.ArchiveDir = expandHome(cfg.ArchiveDir)

	return cfg, nil
}

func SaveConfig(cfg *Config) error {
	return saveJSON(ConfigPath(), cfg)
}

func saveJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	return os.WriteFile(path, append(data, '\n'), 0644)
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}

func envInt(key string) (int, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
