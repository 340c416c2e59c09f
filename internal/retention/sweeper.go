// Package retention prunes archived job files from the queue's terminal
// directories on a cron schedule.
package retention

import (
	"context"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/basket/pai-slack-bridge/internal/queue"
)

// defaultSchedule runs the sweep daily at 03:30 local time.
const defaultSchedule = "30 3 * * *"

// cronParser parses standard 5-field cron expressions.
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// Config holds the sweeper's dependencies.
type Config struct {
	Queue  *queue.Queue
	Logger *slog.Logger
	// Days is the retention window for completed and failed jobs.
	// Zero disables pruning.
	Days int
	// Schedule is a 5-field cron expression; defaults to a daily sweep.
	Schedule string
}

// Sweeper deletes completed and failed job files older than the retention
// window. The pending and processing directories are never touched.
type Sweeper struct {
	queue    *queue.Queue
	logger   *slog.Logger
	days     int
	schedule cronlib.Schedule

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSweeper creates a Sweeper with the given config.
func NewSweeper(cfg Config) (*Sweeper, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	expr := cfg.Schedule
	if expr == "" {
		expr = defaultSchedule
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, err
	}
	return &Sweeper{
		queue:    cfg.Queue,
		logger:   logger,
		days:     cfg.Days,
		schedule: sched,
	}, nil
}

// Start begins the sweep loop in a background goroutine. Disabled retention
// (Days <= 0) starts nothing.
func (s *Sweeper) Start(ctx context.Context) {
	if s.days <= 0 {
		s.logger.Info("retention disabled")
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("retention sweeper started", "days", s.days)
}

// Stop cancels the sweep loop and waits for it to exit.
func (s *Sweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Sweeper) loop(ctx context.Context) {
	defer s.wg.Done()

	// Sweep once on startup, then on schedule.
	s.sweep()

	for {
		next := s.schedule.Next(time.Now())
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Until(next)):
			s.sweep()
		}
	}
}

func (s *Sweeper) sweep() {
	maxAge := time.Duration(s.days) * 24 * time.Hour
	removed, err := s.queue.PruneTerminal(maxAge)
	if err != nil {
		s.logger.Error("retention sweep failed", "error", err)
		return
	}
	if removed > 0 {
		s.logger.Info("retention sweep complete", "removed", removed, "max_age", maxAge)
	}
}
