// Package processor owns the background job loop: claim a pending job, run
// the external agent CLI, post the result back to Slack, record the
// assistant turn, and archive the job. Exactly one processor runs per
// deployment and it executes jobs strictly serially — the agent CLI mutates
// the local filesystem and its --continue flag assumes a single active
// invocation.
package processor

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/basket/pai-slack-bridge/internal/agent"
	"github.com/basket/pai-slack-bridge/internal/bus"
	otelpkg "github.com/basket/pai-slack-bridge/internal/otel"
	"github.com/basket/pai-slack-bridge/internal/queue"
	"github.com/basket/pai-slack-bridge/internal/threadstore"
)

const (
	// defaultPollInterval is the sleep between pending-directory scans.
	defaultPollInterval = 2 * time.Second

	// threadGCEvery is the number of poll cycles between thread store sweeps.
	threadGCEvery = 100

	// threadMaxAge is the transcript retention window for those sweeps.
	threadMaxAge = 72 * time.Hour

	// assistantExcerptChars bounds the assistant turn stored in the
	// transcript; the full output still goes to Slack.
	assistantExcerptChars = 500
)

// failureApology is the fixed in-thread message on job failure.
const failureApology = "Sorry, I encountered an error processing your request: %s"

// Poster is the slice of the chat platform the processor consumes.
type Poster interface {
	PostMessage(ctx context.Context, channel, threadTs, text string) error
}

// Config holds the processor's dependencies.
type Config struct {
	Queue   *queue.Queue
	Threads *threadstore.Store
	Chat    Poster
	Logger  *slog.Logger
	Bus     *bus.Bus         // optional
	Metrics *otelpkg.Metrics // optional
	Tracer  trace.Tracer     // optional

	CLIPath        string
	WorkingDir     string
	MaxOutputChars int
	PollInterval   time.Duration
}

// Processor is the long-lived serial job loop.
type Processor struct {
	cfg    Config
	logger *slog.Logger

	cycles int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Processor. Queue, Threads and Chat are required.
func New(cfg Config) *Processor {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	return &Processor{cfg: cfg, logger: cfg.Logger}
}

// Start runs crash recovery synchronously, then launches the poll loop in a
// background goroutine. Jobs found in processing/ are moved back to pending/
// before the first scan, so an interrupted job is retried at least once.
func (p *Processor) Start(ctx context.Context) error {
	requeued, err := p.cfg.Queue.Recover()
	if err != nil {
		return fmt.Errorf("crash recovery: %w", err)
	}
	p.logger.Info("processor started", "requeued", requeued, "poll_interval", p.cfg.PollInterval)

	ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(1)
	go p.loop(ctx)
	return nil
}

// Stop cancels the poll loop and waits for the in-flight cycle to finish.
// A running agent child is never killed; Stop blocks until it exits.
func (p *Processor) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.logger.Info("processor stopped")
}

func (p *Processor) loop(ctx context.Context) {
	defer p.wg.Done()
	for {
		p.runCycle(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(p.cfg.PollInterval):
		}
	}
}

// runCycle drains the pending directory once. Listing failures are logged
// and skipped — the loop self-heals on the next cycle.
func (p *Processor) runCycle(ctx context.Context) {
	names, err := p.cfg.Queue.Pending()
	if err != nil {
		p.logger.Warn("pending scan failed", "error", err)
	} else {
		for _, name := range names {
			if ctx.Err() != nil {
				return
			}
			p.processOne(ctx, name)
		}
	}

	p.cycles++
	if p.cycles%threadGCEvery == 0 {
		p.cfg.Threads.Cleanup(threadMaxAge)
	}
}

// processOne claims and executes a single job file. Every failure path
// dead-letters the job; only a lost claim race returns silently.
func (p *Processor) processOne(ctx context.Context, name string) {
	if err := p.cfg.Queue.Claim(name); err != nil {
		p.logger.Debug("claim lost", "job_file", name, "error", err)
		return
	}

	var span trace.Span
	if p.cfg.Tracer != nil {
		ctx, span = otelpkg.StartSpan(ctx, p.cfg.Tracer, "job.process")
		defer span.End()
	}

	job, raw, err := p.cfg.Queue.ReadProcessing(name)
	if err != nil {
		p.failJob(ctx, name, job, err.Error())
		return
	}
	if span != nil {
		span.SetAttributes(
			otelpkg.AttrJobID.String(job.ID),
			otelpkg.AttrChannel.String(job.Channel),
			otelpkg.AttrThreadTs.String(job.ThreadTs),
		)
	}

	if job.IsNotification() {
		p.processNotification(ctx, name, job)
		return
	}

	if err := queue.ValidateAgentJob(raw); err != nil {
		p.failJob(ctx, name, job, err.Error())
		return
	}

	p.publish(bus.TopicJobClaimed, bus.JobEvent{JobID: job.ID, Channel: job.Channel, ThreadTs: job.ThreadTs})
	now := time.Now().UnixMilli()
	job.StartedAt = &now
	p.logger.Info("processing job", "job_id", job.ID, "channel", job.Channel, "thread_ts", job.ThreadTs)

	// Progress posts are best-effort: a Slack hiccup must not abort the job.
	lastReported := ""
	onProgress := func(phase string) {
		if phase == lastReported {
			return
		}
		lastReported = phase
		if err := p.cfg.Chat.PostMessage(ctx, job.Channel, job.ThreadTs, "["+phase+"]"); err != nil {
			p.logger.Warn("progress post failed", "job_id", job.ID, "phase", phase, "error", err)
		}
	}

	result, err := agent.Run(agent.Invocation{
		Prompt:         job.Prompt,
		ThreadContext:  job.ThreadContext,
		CLIPath:        p.cfg.CLIPath,
		WorkingDir:     p.cfg.WorkingDir,
		MaxOutputChars: p.cfg.MaxOutputChars,
		OnProgress:     onProgress,
	}, p.logger)
	if err != nil {
		p.failJob(ctx, name, job, err.Error())
		return
	}
	if !result.Success {
		p.failJob(ctx, name, job, result.Error)
		return
	}

	if err := p.cfg.Chat.PostMessage(ctx, job.Channel, job.ThreadTs, result.Output); err != nil {
		p.failJob(ctx, name, job, fmt.Sprintf("post result: %v", err))
		return
	}

	p.recordAssistantTurn(job, result.Output)

	done := time.Now().UnixMilli()
	job.CompletedAt = &done
	if err := p.cfg.Queue.Complete(name, job); err != nil {
		p.logger.Error("archive failed", "job_id", job.ID, "error", err)
		return
	}

	p.publish(bus.TopicJobCompleted, bus.JobEvent{
		JobID:      job.ID,
		Channel:    job.Channel,
		ThreadTs:   job.ThreadTs,
		DurationMS: result.Duration.Milliseconds(),
	})
	p.observe(ctx, "completed", result.Duration)
	p.logger.Info("job completed", "job_id", job.ID, "duration", result.Duration)
}

// processNotification handles the channel+text job shape: post and archive.
func (p *Processor) processNotification(ctx context.Context, name string, job queue.Job) {
	if err := p.cfg.Chat.PostMessage(ctx, job.Channel, job.ThreadTs, job.Text); err != nil {
		p.failJob(ctx, name, job, fmt.Sprintf("post notification: %v", err))
		return
	}
	done := time.Now().UnixMilli()
	job.CompletedAt = &done
	if err := p.cfg.Queue.Complete(name, job); err != nil {
		p.logger.Error("archive notification failed", "job_id", job.ID, "error", err)
		return
	}
	p.logger.Info("notification posted", "job_id", job.ID, "channel", job.Channel)
}

// recordAssistantTurn stores a bounded excerpt of the reply in the thread
// transcript. Failures are logged and swallowed — the user already has the
// full reply in Slack.
func (p *Processor) recordAssistantTurn(job queue.Job, output string) {
	if job.ThreadTs == "" {
		return
	}
	excerpt := threadstore.TruncateAtNaturalBoundary(output, assistantExcerptChars)
	_, err := p.cfg.Threads.Append(job.ThreadTs, job.Channel, threadstore.ThreadMessage{
		Role: "assistant",
		Name: threadstore.AssistantName,
		Text: excerpt,
		Ts:   strconv.FormatInt(time.Now().Unix(), 10),
	})
	if err != nil {
		p.logger.Warn("assistant transcript append failed", "job_id", job.ID, "error", err)
	}
}

// failJob dead-letters the job and tells the user, when the thread is known.
func (p *Processor) failJob(ctx context.Context, name string, job queue.Job, errMsg string) {
	if err := p.cfg.Queue.Fail(name, job, errMsg); err != nil {
		p.logger.Error("dead-letter write failed", "job_file", name, "error", err)
	}
	p.logger.Warn("job failed", "job_id", job.ID, "error", errMsg)

	if job.Channel != "" && job.ThreadTs != "" {
		apology := fmt.Sprintf(failureApology, errMsg)
		if err := p.cfg.Chat.PostMessage(ctx, job.Channel, job.ThreadTs, apology); err != nil {
			p.logger.Warn("failure notification post failed", "job_id", job.ID, "error", err)
		}
	}

	p.publish(bus.TopicJobFailed, bus.JobEvent{JobID: job.ID, Channel: job.Channel, ThreadTs: job.ThreadTs, Error: errMsg})
	p.observe(ctx, "failed", 0)
}

func (p *Processor) publish(topic string, ev bus.JobEvent) {
	if p.cfg.Bus != nil {
		p.cfg.Bus.Publish(topic, ev)
	}
}

func (p *Processor) observe(ctx context.Context, status string, d time.Duration) {
	if p.cfg.Metrics != nil {
		p.cfg.Metrics.RecordJob(ctx, status, d)
	}
}
