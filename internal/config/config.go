// Package config loads the bridge's configuration from config.yaml under the
// bridge home directory, with environment variable overrides layered on top.
package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	otelpkg "github.com/basket/pai-slack-bridge/internal/otel"
)

// SlackConfig holds the Slack connection settings. Tokens normally come from
// the environment, not the file.
type SlackConfig struct {
	BotToken      string `yaml:"bot_token"`
	AppToken      string `yaml:"app_token"`
	SigningSecret string `yaml:"signing_secret"`
	Debug         bool   `yaml:"debug"`

	// AllowedUsers and AllowedChannels restrict intake when non-empty.
	// Empty lists allow everyone.
	AllowedUsers    []string `yaml:"allowed_users"`
	AllowedChannels []string `yaml:"allowed_channels"`
}

// AgentConfig holds the external agent CLI settings.
type AgentConfig struct {
	// CLIPath is the Claude CLI binary to invoke.
	CLIPath string `yaml:"cli_path"`
	// WorkingDir is the directory the CLI runs in; its session state lives
	// there.
	WorkingDir string `yaml:"working_dir"`
	// MaxOutputChars bounds the reply posted back to Slack.
	MaxOutputChars int `yaml:"max_output_chars"`
}

// QueueConfig holds the on-disk queue settings.
type QueueConfig struct {
	// Dir is the queue base directory; the thread store lives under
	// <dir>/threads.
	Dir string `yaml:"dir"`
	// PollIntervalMS is the processor's sleep between pending scans.
	PollIntervalMS int `yaml:"poll_interval_ms"`
}

// RetentionConfig controls pruning of archived (completed/failed) jobs.
type RetentionConfig struct {
	// Days is the age after which archived jobs are deleted. 0 keeps forever.
	Days int `yaml:"days"`
}

type Config struct {
	HomeDir string `yaml:"-"`

	LogLevel string `yaml:"log_level"`
	Quiet    bool   `yaml:"quiet"`

	Slack     SlackConfig     `yaml:"slack"`
	Agent     AgentConfig     `yaml:"agent"`
	Queue     QueueConfig     `yaml:"queue"`
	Retention RetentionConfig `yaml:"retention"`
	Otel      otelpkg.Config  `yaml:"otel"`
}

// ThreadsDir returns the thread store directory, colocated with the queue.
func (c Config) ThreadsDir() string {
	return filepath.Join(c.Queue.Dir, "threads")
}

// PollInterval returns the processor poll interval as a duration.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Queue.PollIntervalMS) * time.Millisecond
}

// Fingerprint returns a stable hash of the reloadable parts of the config,
// used to detect whether a file change actually altered anything.
func (c Config) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "log=%s|queue=%s|poll=%d|cli=%s|max=%d|users=%v|channels=%v|retention=%d",
		c.LogLevel, c.Queue.Dir, c.Queue.PollIntervalMS, c.Agent.CLIPath,
		c.Agent.MaxOutputChars, c.Slack.AllowedUsers, c.Slack.AllowedChannels,
		c.Retention.Days)
	return fmt.Sprintf("cfg-%x", h.Sum64())
}

// ConfigPath returns the path to config.yaml within the given home directory.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

func defaultConfig() Config {
	return Config{
		LogLevel: "info",
		Agent: AgentConfig{
			CLIPath:        "claude",
			MaxOutputChars: 4000,
		},
		Queue: QueueConfig{
			Dir:            "/tmp/pai-slack-queue",
			PollIntervalMS: 2000,
		},
		Retention: RetentionConfig{
			Days: 14,
		},
	}
}

// HomeDir returns the bridge home directory, honoring the PAIBRIDGE_HOME
// override.
func HomeDir() string {
	if override := os.Getenv("PAIBRIDGE_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".pai-slack-bridge")
}

// Load reads config.yaml from the bridge home, applies env overrides and
// defaults. A missing file is not an error; env-only deployments are normal.
func Load() (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = HomeDir()

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create bridge home: %w", err)
	}

	data, err := os.ReadFile(ConfigPath(cfg.HomeDir))
	if err != nil && !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read config.yaml: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SLACK_BOT_TOKEN"); v != "" {
		cfg.Slack.BotToken = v
	}
	if v := os.Getenv("SLACK_APP_TOKEN"); v != "" {
		cfg.Slack.AppToken = v
	}
	if v := os.Getenv("SLACK_SIGNING_SECRET"); v != "" {
		cfg.Slack.SigningSecret = v
	}
	if v := os.Getenv("CLAUDE_CLI_PATH"); v != "" {
		cfg.Agent.CLIPath = v
	}
	if v := os.Getenv("PAIBRIDGE_WORKING_DIR"); v != "" {
		cfg.Agent.WorkingDir = v
	}
	if v := os.Getenv("PAIBRIDGE_QUEUE_DIR"); v != "" {
		cfg.Queue.Dir = v
	}
	if v := os.Getenv("PAIBRIDGE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if raw := os.Getenv("PAIBRIDGE_POLL_INTERVAL_MS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.Queue.PollIntervalMS = v
		}
	}
	if raw := os.Getenv("PAIBRIDGE_MAX_OUTPUT_CHARS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.Agent.MaxOutputChars = v
		}
	}
	if raw := os.Getenv("PAIBRIDGE_RETENTION_DAYS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.Retention.Days = v
		}
	}
}

func normalize(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if strings.TrimSpace(cfg.Queue.Dir) == "" {
		cfg.Queue.Dir = "/tmp/pai-slack-queue"
	}
	if cfg.Queue.PollIntervalMS <= 0 {
		cfg.Queue.PollIntervalMS = 2000
	}
	if strings.TrimSpace(cfg.Agent.CLIPath) == "" {
		cfg.Agent.CLIPath = "claude"
	}
	if cfg.Agent.MaxOutputChars <= 0 {
		cfg.Agent.MaxOutputChars = 4000
	}
	if cfg.Retention.Days < 0 {
		cfg.Retention.Days = 0
	}
}

// Validate checks the settings the bridge cannot start without.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Slack.BotToken) == "" {
		return fmt.Errorf("slack bot token is required (SLACK_BOT_TOKEN or slack.bot_token)")
	}
	if strings.TrimSpace(c.Slack.AppToken) == "" {
		return fmt.Errorf("slack app token is required (SLACK_APP_TOKEN or slack.app_token)")
	}
	if !strings.HasPrefix(c.Slack.BotToken, "xoxb-") {
		return fmt.Errorf("slack bot token must start with xoxb-")
	}
	if !strings.HasPrefix(c.Slack.AppToken, "xapp-") {
		return fmt.Errorf("slack app token must start with xapp-")
	}
	return nil
}
