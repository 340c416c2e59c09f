package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// setHome points PAIBRIDGE_HOME at a fresh temp dir and clears the env
// overrides Load consults.
func setHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("PAIBRIDGE_HOME", home)
	for _, key := range []string{
		"SLACK_BOT_TOKEN", "SLACK_APP_TOKEN", "SLACK_SIGNING_SECRET",
		"CLAUDE_CLI_PATH", "PAIBRIDGE_WORKING_DIR", "PAIBRIDGE_QUEUE_DIR",
		"PAIBRIDGE_LOG_LEVEL", "PAIBRIDGE_POLL_INTERVAL_MS",
		"PAIBRIDGE_MAX_OUTPUT_CHARS", "PAIBRIDGE_RETENTION_DAYS",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
	return home
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	setHome(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Queue.Dir != "/tmp/pai-slack-queue" {
		t.Fatalf("queue dir = %q", cfg.Queue.Dir)
	}
	if cfg.Queue.PollIntervalMS != 2000 {
		t.Fatalf("poll = %d", cfg.Queue.PollIntervalMS)
	}
	if cfg.Agent.CLIPath != "claude" {
		t.Fatalf("cli = %q", cfg.Agent.CLIPath)
	}
	if cfg.Agent.MaxOutputChars != 4000 {
		t.Fatalf("max output = %d", cfg.Agent.MaxOutputChars)
	}
	if cfg.Retention.Days != 14 {
		t.Fatalf("retention = %d", cfg.Retention.Days)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("log level = %q", cfg.LogLevel)
	}
	if cfg.ThreadsDir() != filepath.Join(cfg.Queue.Dir, "threads") {
		t.Fatalf("threads dir = %q", cfg.ThreadsDir())
	}
	if cfg.PollInterval() != 2*time.Second {
		t.Fatalf("poll interval = %v", cfg.PollInterval())
	}
}

func TestLoad_ReadsYAML(t *testing.T) {
	home := setHome(t)
	yaml := `
log_level: debug
slack:
  bot_token: xoxb-file
  app_token: xapp-file
  allowed_users: [U1, U2]
agent:
  cli_path: /usr/local/bin/claude
  max_output_chars: 2500
queue:
  dir: /var/lib/bridge-queue
  poll_interval_ms: 500
retention:
  days: 7
`
	if err := os.WriteFile(ConfigPath(home), []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("log level = %q", cfg.LogLevel)
	}
	if cfg.Slack.BotToken != "xoxb-file" || cfg.Slack.AppToken != "xapp-file" {
		t.Fatalf("tokens = %q / %q", cfg.Slack.BotToken, cfg.Slack.AppToken)
	}
	if len(cfg.Slack.AllowedUsers) != 2 {
		t.Fatalf("allowed users = %v", cfg.Slack.AllowedUsers)
	}
	if cfg.Agent.CLIPath != "/usr/local/bin/claude" || cfg.Agent.MaxOutputChars != 2500 {
		t.Fatalf("agent = %+v", cfg.Agent)
	}
	if cfg.Queue.Dir != "/var/lib/bridge-queue" || cfg.Queue.PollIntervalMS != 500 {
		t.Fatalf("queue = %+v", cfg.Queue)
	}
	if cfg.Retention.Days != 7 {
		t.Fatalf("retention = %d", cfg.Retention.Days)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	home := setHome(t)
	yaml := `
slack:
  bot_token: xoxb-file
queue:
  dir: /from/file
`
	if err := os.WriteFile(ConfigPath(home), []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("SLACK_BOT_TOKEN", "xoxb-env")
	t.Setenv("PAIBRIDGE_QUEUE_DIR", "/from/env")
	t.Setenv("PAIBRIDGE_POLL_INTERVAL_MS", "750")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Slack.BotToken != "xoxb-env" {
		t.Fatalf("bot token = %q, want env value", cfg.Slack.BotToken)
	}
	if cfg.Queue.Dir != "/from/env" {
		t.Fatalf("queue dir = %q, want env value", cfg.Queue.Dir)
	}
	if cfg.Queue.PollIntervalMS != 750 {
		t.Fatalf("poll = %d, want 750", cfg.Queue.PollIntervalMS)
	}
}

func TestLoad_NormalizesBadValues(t *testing.T) {
	home := setHome(t)
	yaml := `
queue:
  poll_interval_ms: -5
agent:
  max_output_chars: 0
`
	if err := os.WriteFile(ConfigPath(home), []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Queue.PollIntervalMS != 2000 {
		t.Fatalf("poll = %d, want default restored", cfg.Queue.PollIntervalMS)
	}
	if cfg.Agent.MaxOutputChars != 4000 {
		t.Fatalf("max output = %d, want default restored", cfg.Agent.MaxOutputChars)
	}
}

func TestValidate(t *testing.T) {
	valid := Config{Slack: SlackConfig{BotToken: "xoxb-1", AppToken: "xapp-1"}}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := []Config{
		{Slack: SlackConfig{AppToken: "xapp-1"}},
		{Slack: SlackConfig{BotToken: "xoxb-1"}},
		{Slack: SlackConfig{BotToken: "wrong-1", AppToken: "xapp-1"}},
		{Slack: SlackConfig{BotToken: "xoxb-1", AppToken: "wrong-1"}},
	}
	for i, c := range cases {
		if err := c.Validate(); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
}

func TestFingerprint_TracksReloadableFields(t *testing.T) {
	a := defaultConfig()
	b := defaultConfig()
	if a.Fingerprint() != b.Fingerprint() {
		t.Fatal("identical configs must fingerprint equal")
	}
	b.Slack.AllowedUsers = []string{"U1"}
	if a.Fingerprint() == b.Fingerprint() {
		t.Fatal("allowlist change must alter fingerprint")
	}
	c := defaultConfig()
	c.Slack.BotToken = "xoxb-different"
	if a.Fingerprint() != c.Fingerprint() {
		t.Fatal("token change is not reloadable and must not alter fingerprint")
	}
}
