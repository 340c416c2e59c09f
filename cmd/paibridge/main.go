package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/basket/pai-slack-bridge/internal/bus"
	"github.com/basket/pai-slack-bridge/internal/config"
	otelPkg "github.com/basket/pai-slack-bridge/internal/otel"
	"github.com/basket/pai-slack-bridge/internal/processor"
	"github.com/basket/pai-slack-bridge/internal/queue"
	"github.com/basket/pai-slack-bridge/internal/retention"
	"github.com/basket/pai-slack-bridge/internal/slackbridge"
	"github.com/basket/pai-slack-bridge/internal/telemetry"
	"github.com/basket/pai-slack-bridge/internal/threadstore"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.1-dev"

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage of %s:

  %s                          Run the bridge (Slack intake + job processor)
  %s status                   Show queue directory counts
  %s notify <channel> <text>  Enqueue a simple notification post

FLAGS:
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0])
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
ENVIRONMENT VARIABLES:
  PAIBRIDGE_HOME          Data directory (default: ~/.pai-slack-bridge)
  SLACK_BOT_TOKEN         Bot token (xoxb-...), required
  SLACK_APP_TOKEN         App-level token (xapp-...), required
  CLAUDE_CLI_PATH         Agent CLI binary (default: claude)
  PAIBRIDGE_QUEUE_DIR     Queue base directory (default: /tmp/pai-slack-queue)
`)
}

func main() {
	loadDotEnv(".env")

	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Usage = printUsage
	flag.Parse()

	if *showVersion {
		fmt.Println(Version)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if args := flag.Args(); len(args) > 0 {
		switch strings.ToLower(strings.TrimSpace(args[0])) {
		case "help", "-h", "--help":
			printUsage()
			os.Exit(0)
		case "status":
			os.Exit(runStatusCommand())
		case "notify":
			os.Exit(runNotifyCommand(args[1:]))
		default:
			fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
			printUsage()
			os.Exit(2)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fatalStartup(nil, "E_CONFIG_LOAD", err)
	}
	if err := cfg.Validate(); err != nil {
		fatalStartup(nil, "E_CONFIG_INVALID", err)
	}

	logger, logCloser, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, cfg.Quiet)
	if err != nil {
		fatalStartup(nil, "E_LOGGER", err)
	}
	defer logCloser.Close()

	if isatty.IsTerminal(os.Stdout.Fd()) {
		fmt.Printf("pai-slack-bridge %s (home: %s)\n", Version, cfg.HomeDir)
	}

	otelProvider, err := otelPkg.Init(ctx, cfg.Otel)
	if err != nil {
		fatalStartup(logger, "E_OTEL", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelProvider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("otel shutdown failed", "error", err)
		}
	}()

	metrics, err := otelPkg.NewMetrics(otelProvider.Meter)
	if err != nil {
		fatalStartup(logger, "E_METRICS", err)
	}

	eventBus := bus.New()
	startBusLogger(ctx, eventBus, logger)

	q, err := queue.Open(cfg.Queue.Dir, logger)
	if err != nil {
		fatalStartup(logger, "E_QUEUE", err)
	}

	threads, err := threadstore.New(cfg.ThreadsDir(), logger)
	if err != nil {
		fatalStartup(logger, "E_THREAD_STORE", err)
	}

	client, err := slackbridge.NewClient(cfg.Slack.BotToken, cfg.Slack.AppToken, cfg.Slack.Debug, logger)
	if err != nil {
		fatalStartup(logger, "E_SLACK_AUTH", err)
	}

	proc := processor.New(processor.Config{
		Queue:          q,
		Threads:        threads,
		Chat:           client,
		Logger:         logger,
		Bus:            eventBus,
		Metrics:        metrics,
		Tracer:         otelProvider.Tracer,
		CLIPath:        cfg.Agent.CLIPath,
		WorkingDir:     cfg.Agent.WorkingDir,
		MaxOutputChars: cfg.Agent.MaxOutputChars,
		PollInterval:   cfg.PollInterval(),
	})
	if err := proc.Start(ctx); err != nil {
		fatalStartup(logger, "E_PROCESSOR", err)
	}

	bridge := slackbridge.New(slackbridge.Config{
		Chat:            client,
		Queue:           q,
		Threads:         threads,
		Logger:          logger,
		Metrics:         metrics,
		AllowedUsers:    cfg.Slack.AllowedUsers,
		AllowedChannels: cfg.Slack.AllowedChannels,
	})

	sweeper, err := retention.NewSweeper(retention.Config{
		Queue:  q,
		Logger: logger,
		Days:   cfg.Retention.Days,
	})
	if err != nil {
		fatalStartup(logger, "E_RETENTION", err)
	}
	sweeper.Start(ctx)

	startConfigReload(ctx, cfg, bridge, logger)

	logger.Info("bridge started",
		"version", Version,
		"queue_dir", cfg.Queue.Dir,
		"cli", cfg.Agent.CLIPath,
		"poll_interval", cfg.PollInterval(),
	)

	if err := bridge.Run(ctx, client.Socket()); err != nil && ctx.Err() == nil {
		logger.Error("slack intake terminated", "error", err)
	}

	// Shutdown: the processor waits for any in-flight agent run to finish;
	// the child is never killed.
	logger.Info("shutting down")
	sweeper.Stop()
	proc.Stop()
	logger.Info("bridge stopped")
}

// startBusLogger subscribes to job lifecycle events and logs them. It is the
// default bus consumer; operators can watch the log instead of the queue dirs.
func startBusLogger(ctx context.Context, b *bus.Bus, logger *slog.Logger) {
	sub := b.Subscribe("job.")
	go func() {
		defer b.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub.Ch():
				if !ok {
					return
				}
				je, _ := ev.Payload.(bus.JobEvent)
				logger.Debug("job event",
					"topic", ev.Topic,
					"job_id", je.JobID,
					"channel", je.Channel,
					"duration_ms", je.DurationMS,
					"error", je.Error,
				)
			}
		}
	}()
}

// startConfigReload watches config.yaml and applies allowlist changes live.
// Settings that require a restart (tokens, queue dir) are logged and ignored.
func startConfigReload(ctx context.Context, current config.Config, bridge *slackbridge.Bridge, logger *slog.Logger) {
	watcher := config.NewWatcher(current.HomeDir, logger)
	if err := watcher.Start(ctx); err != nil {
		logger.Warn("config watcher unavailable", "error", err)
		return
	}

	fingerprint := current.Fingerprint()
	go func() {
		for range watcher.Events() {
			cfg, err := config.Load()
			if err != nil {
				logger.Warn("config reload failed", "error", err)
				continue
			}
			if cfg.Fingerprint() == fingerprint {
				continue
			}
			fingerprint = cfg.Fingerprint()
			bridge.UpdateAllowlists(cfg.Slack.AllowedUsers, cfg.Slack.AllowedChannels)
			logger.Info("config reloaded", "fingerprint", fingerprint)
		}
	}()
}

func fatalStartup(logger *slog.Logger, reasonCode string, err error) {
	message := ""
	if err != nil {
		message = err.Error()
	}
	if logger != nil {
		logger.Error("startup failure", "reason_code", reasonCode, "error", message)
	} else {
		fmt.Fprintf(
			os.Stderr,
			`{"timestamp":"%s","level":"ERROR","component":"bridge","msg":"startup failure","reason_code":%q,"error":%q}`+"\n",
			time.Now().UTC().Format(time.RFC3339Nano),
			reasonCode,
			message,
		)
	}
	os.Exit(1)
}

func loadDotEnv(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		eq := strings.Index(line, "=")
		if eq <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:eq])
		val := strings.TrimSpace(line[eq+1:])
		if key == "" || os.Getenv(key) != "" {
			continue
		}
		_ = os.Setenv(key, val)
	}
}
