package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// LocalConfigName is the per-project config file discovered by walking up
// from the working directory
const LocalConfigName = ".selfheal.toml"

// Config holds all application configuration
type Config struct {
	General      GeneralConfig      `toml:"general"`
	Classifier   ClassifierConfig   `toml:"classifier"`
	Approval     ApprovalConfig     `toml:"approval"`
	Verification VerificationConfig `toml:"verification"`
	Denylist     DenylistConfig     `toml:"denylist"`
	Web          WebConfig          `toml:"web"`
	Events       EventsConfig       `toml:"events"`
	Watch        WatchConfig        `toml:"watch"`
	Notify       NotifyConfig       `toml:"notifications"`
}

// GeneralConfig holds general settings
type GeneralConfig struct {
	ProjectRoot         string `toml:"project_root"`
	SnapshotDir         string `toml:"snapshot_dir"`
	DatabasePath        string `toml:"database_path"`
	PatternCatalogPath  string `toml:"pattern_catalog_path"`
	SessionTTLHours     int    `toml:"session_ttl_hours"`
	MaxParallelSessions int    `toml:"max_parallel_sessions"`
}

// ClassifierConfig holds model adapter settings
type ClassifierConfig struct {
	Enabled        bool    `toml:"enabled"`
	BaseURL        string  `toml:"base_url"`
	APIKeyEnv      string  `toml:"api_key_env"`
	Model          string  `toml:"model"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
	RequestsPerSec float64 `toml:"requests_per_sec"`
}

// Timeout returns the per-call classifier timeout
func (c ClassifierConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// APIKey resolves the classifier API key from the configured environment
// variable
func (c ClassifierConfig) APIKey() string {
	return os.Getenv(c.APIKeyEnv)
}

// ApprovalConfig controls when patches may skip manual review
type ApprovalConfig struct {
	AutoApprove   bool    `toml:"auto_approve"`
	MinConfidence float64 `toml:"min_confidence"`
}

// VerificationConfig controls the post-patch verification pass
type VerificationConfig struct {
	Command           string `toml:"command"`
	TimeoutSeconds    int    `toml:"timeout_seconds"`
	RollbackOnRegress bool   `toml:"rollback_on_regress"`
	FailOnNewCritical bool   `toml:"fail_on_new_critical"`
}

// DenylistConfig adds project-specific protected paths on top of the
// builtin set
type DenylistConfig struct {
	Paths []string `toml:"paths"`
}

// WebConfig holds HTTP API settings
type WebConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

// EventsConfig sizes the broadcast buffers
type EventsConfig struct {
	RingSize  int `toml:"ring_size"`
	QueueSize int `toml:"queue_size"`
}

// WatchConfig holds the log drop-directory watcher settings
type WatchConfig struct {
	Enabled bool   `toml:"enabled"`
	Dir     string `toml:"dir"`
	Pattern string `toml:"pattern"`
}

// NotifyConfig holds session-outcome notification settings
type NotifyConfig struct {
	Desktop      bool   `toml:"desktop"`
	SlackWebhook string `toml:"slack_webhook"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		General: GeneralConfig{
			ProjectRoot:         "",
			SnapshotDir:         filepath.Join(home, ".selfheal", "snapshots"),
			DatabasePath:        filepath.Join(home, ".selfheal", "selfheal.db"),
			SessionTTLHours:     24,
			MaxParallelSessions: 8,
		},
		Classifier: ClassifierConfig{
			Enabled:        true,
			APIKeyEnv:      "OPENAI_API_KEY",
			Model:          "gpt-4o-mini",
			TimeoutSeconds: 30,
			RequestsPerSec: 2,
		},
		Approval: ApprovalConfig{
			AutoApprove:   false,
			MinConfidence: 0.9,
		},
		Verification: VerificationConfig{
			TimeoutSeconds:    300,
			RollbackOnRegress: true,
			FailOnNewCritical: true,
		},
		Web: WebConfig{
			Port: 8080,
			Host: "127.0.0.1",
		},
		Events: EventsConfig{
			RingSize:  64,
			QueueSize: 256,
		},
		Watch: WatchConfig{
			Pattern: "*.log",
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	// Expand paths
	cfg.General.ProjectRoot = ExpandPath(cfg.General.ProjectRoot)
	cfg.General.SnapshotDir = ExpandPath(cfg.General.SnapshotDir)
	cfg.General.DatabasePath = ExpandPath(cfg.General.DatabasePath)
	cfg.General.PatternCatalogPath = ExpandPath(cfg.General.PatternCatalogPath)
	cfg.Watch.Dir = ExpandPath(cfg.Watch.Dir)

	return cfg, nil
}

// LoadWithLocalFallback loads an explicit path if given, otherwise looks
// for a project-local config, otherwise the user-level default path.
func LoadWithLocalFallback(path string) (*Config, error) {
	if path != "" {
		return Load(path)
	}
	if local := FindLocalConfig(); local != "" {
		return Load(local)
	}
	return Load(DefaultConfigPath())
}

// FindLocalConfig walks up from the working directory looking for a
// project-local config file. Returns "" when none is found.
func FindLocalConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, LocalConfigName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "selfheal", "config.toml")
}
