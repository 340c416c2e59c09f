package slackbridge

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	otelpkg "github.com/basket/pai-slack-bridge/internal/otel"
	"github.com/basket/pai-slack-bridge/internal/queue"
	"github.com/basket/pai-slack-bridge/internal/threadstore"
)

// ackTemplate is the fixed acknowledgement posted after a job is queued.
const ackTemplate = "Got it! Processing in background (job: %s...)"

// queueApology is the fixed reply when intake fails after the event was
// accepted.
const queueApology = "Sorry, something went wrong while queuing your request. Please try again."

// emptyMentionReply is posted when the bot is mentioned with no prompt.
const emptyMentionReply = "Hi! Mention me with a question or request and I'll get to work."

// mentionRe strips `<@USERID>` tokens from message text.
var mentionRe = regexp.MustCompile(`<@[A-Z0-9]+>`)

// Bridge is the Slack intake path. It filters inbound events, assembles
// thread context, and enqueues jobs for the processor. It never invokes the
// agent itself; acknowledgement is immediate and the heavy work happens in
// the background.
type Bridge struct {
	chat    ChatClient
	queue   *queue.Queue
	threads *threadstore.Store
	logger  *slog.Logger
	metrics *otelpkg.Metrics

	mu              sync.RWMutex
	allowedUsers    map[string]struct{}
	allowedChannels map[string]struct{}
}

// Config holds the bridge's dependencies.
type Config struct {
	Chat    ChatClient
	Queue   *queue.Queue
	Threads *threadstore.Store
	Logger  *slog.Logger
	Metrics *otelpkg.Metrics // optional

	// AllowedUsers and AllowedChannels restrict intake when non-empty.
	AllowedUsers    []string
	AllowedChannels []string
}

// New creates a Bridge.
func New(cfg Config) *Bridge {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	b := &Bridge{
		chat:    cfg.Chat,
		queue:   cfg.Queue,
		threads: cfg.Threads,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}
	b.UpdateAllowlists(cfg.AllowedUsers, cfg.AllowedChannels)
	return b
}

// UpdateAllowlists replaces both allowlists. An empty list allows everyone.
// Safe to call while the bridge is running; the config watcher calls this on
// reload.
func (b *Bridge) UpdateAllowlists(users, channels []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allowedUsers = toSet(users)
	b.allowedChannels = toSet(channels)
}

func toSet(items []string) map[string]struct{} {
	if len(items) == 0 {
		return nil
	}
	s := make(map[string]struct{}, len(items))
	for _, it := range items {
		s[it] = struct{}{}
	}
	return s
}

func (b *Bridge) allowed(user, channel string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.allowedUsers != nil {
		if _, ok := b.allowedUsers[user]; !ok {
			return false
		}
	}
	if b.allowedChannels != nil {
		if _, ok := b.allowedChannels[channel]; !ok {
			return false
		}
	}
	return true
}

// Run drives the socket-mode event loop until ctx is cancelled. Events are
// acknowledged before handling so Slack never retries a slow event.
func (b *Bridge) Run(ctx context.Context, socket *socketmode.Client) error {
	go func() {
		if err := socket.RunContext(ctx); err != nil && ctx.Err() == nil {
			b.logger.Error("socket mode terminated", "error", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-socket.Events:
			if !ok {
				return nil
			}
			switch evt.Type {
			case socketmode.EventTypeConnecting:
				b.logger.Info("slack connecting")
			case socketmode.EventTypeConnected:
				b.logger.Info("slack connected")
			case socketmode.EventTypeConnectionError:
				b.logger.Warn("slack connection error", "data", fmt.Sprintf("%v", evt.Data))
			case socketmode.EventTypeEventsAPI:
				payload, ok := evt.Data.(slackevents.EventsAPIEvent)
				if !ok {
					continue
				}
				socket.Ack(*evt.Request)
				go b.dispatch(ctx, payload)
			}
		}
	}
}

func (b *Bridge) dispatch(ctx context.Context, payload slackevents.EventsAPIEvent) {
	switch ev := payload.InnerEvent.Data.(type) {
	case *slackevents.AppMentionEvent:
		b.observeEvent(ctx, "app_mention")
		b.HandleAppMention(ctx, ev)
	case *slackevents.MessageEvent:
		b.observeEvent(ctx, "message")
		b.HandleMessage(ctx, ev)
	}
}

// HandleAppMention processes an @-mention of the bot in a channel.
func (b *Bridge) HandleAppMention(ctx context.Context, ev *slackevents.AppMentionEvent) {
	if ev.User == "" || ev.Text == "" {
		b.drop(ctx, "empty mention", ev.Channel)
		return
	}
	if !b.allowed(ev.User, ev.Channel) {
		b.drop(ctx, "mention not allowlisted", ev.Channel)
		return
	}

	prompt := stripMentions(ev.Text)
	if prompt == "" {
		if err := b.chat.PostMessage(ctx, ev.Channel, replyTs(ev.ThreadTimeStamp, ev.TimeStamp), emptyMentionReply); err != nil {
			b.logger.Warn("empty-mention reply failed", "channel", ev.Channel, "error", err)
		}
		return
	}

	b.handleInbound(ctx, inbound{
		channel:   ev.Channel,
		user:      ev.User,
		text:      prompt,
		messageTs: ev.TimeStamp,
		threadTs:  ev.ThreadTimeStamp,
	})
}

// HandleMessage processes a direct message to the bot. Channel messages
// arrive here too when the bot is in the channel; only DMs pass the filters.
func (b *Bridge) HandleMessage(ctx context.Context, ev *slackevents.MessageEvent) {
	// Edits, joins, bot posts and our own echoes all drop silently.
	if ev.SubType != "" || ev.BotID != "" || ev.Text == "" || ev.User == "" {
		return
	}
	if ev.User == b.chat.BotUserID() {
		return
	}
	if ev.ChannelType != "" && ev.ChannelType != "im" {
		return
	}
	isDM, err := b.chat.IsDirectMessage(ctx, ev.Channel)
	if err != nil {
		b.logger.Warn("dm check failed", "channel", ev.Channel, "error", err)
		return
	}
	if !isDM {
		return
	}
	if !b.allowed(ev.User, ev.Channel) {
		b.drop(ctx, "dm not allowlisted", ev.Channel)
		return
	}

	prompt := stripMentions(ev.Text)
	if prompt == "" {
		return
	}

	b.handleInbound(ctx, inbound{
		channel:   ev.Channel,
		user:      ev.User,
		text:      prompt,
		messageTs: ev.TimeStamp,
		threadTs:  ev.ThreadTimeStamp,
	})
}

type inbound struct {
	channel   string
	user      string
	text      string
	messageTs string
	threadTs  string
}

// handleInbound is the shared intake path: record the turn in the thread
// transcript, assemble context when the message is threaded, enqueue the job
// and acknowledge. Any failure past this point gets the fixed apology so the
// user is never left waiting on a job that was never queued.
func (b *Bridge) handleInbound(ctx context.Context, in inbound) {
	reply := replyTs(in.threadTs, in.messageTs)

	threadContext, err := b.assembleContext(ctx, in)
	if err != nil {
		b.logger.Error("context assembly failed", "channel", in.channel, "thread_ts", in.threadTs, "error", err)
		b.apologize(ctx, in.channel, reply)
		return
	}

	job := queue.NewJob(in.channel, reply, in.user, in.text, threadContext)
	if err := b.queue.Submit(job); err != nil {
		b.logger.Error("job submit failed", "channel", in.channel, "error", err)
		b.apologize(ctx, in.channel, reply)
		return
	}
	if b.metrics != nil {
		b.metrics.QueueSubmitted.Add(ctx, 1)
	}

	ack := fmt.Sprintf(ackTemplate, job.ID[:8])
	if err := b.chat.PostMessage(ctx, in.channel, reply, ack); err != nil {
		b.logger.Warn("ack post failed", "job_id", job.ID, "channel", in.channel, "error", err)
	}
	b.logger.Info("job queued", "job_id", job.ID, "channel", in.channel, "thread_ts", reply, "user", in.user)
}

// assembleContext records the user turn and renders prior thread context.
// Unthreaded messages get no context: the agent CLI's own --continue state
// carries the conversation there.
func (b *Bridge) assembleContext(ctx context.Context, in inbound) (string, error) {
	if in.threadTs == "" {
		return "", nil
	}

	name, err := b.chat.DescribeUser(ctx, in.user)
	if err != nil || name == "" {
		name = in.user
	}

	if _, ok := b.threads.Load(in.threadTs); !ok {
		if _, err := b.threads.SeedFromSlack(ctx, in.threadTs, in.channel, b.chat.BotUserID(), b.chat); err != nil {
			return "", fmt.Errorf("seed thread %s: %w", in.threadTs, err)
		}
	}

	file, err := b.threads.Append(in.threadTs, in.channel, threadstore.ThreadMessage{
		Role: "user",
		Name: name,
		Text: in.text,
		Ts:   in.messageTs,
	})
	if err != nil {
		return "", fmt.Errorf("append user turn: %w", err)
	}

	// A single message means no prior conversation worth injecting.
	if len(file.Messages) <= 1 {
		return "", nil
	}
	return threadstore.FormatContext(file, threadstore.DefaultContextBudget), nil
}

func (b *Bridge) apologize(ctx context.Context, channel, threadTs string) {
	if err := b.chat.PostMessage(ctx, channel, threadTs, queueApology); err != nil {
		b.logger.Warn("apology post failed", "channel", channel, "error", err)
	}
}

func (b *Bridge) drop(ctx context.Context, reason, channel string) {
	b.observeEvent(ctx, "dropped")
	b.logger.Debug("event dropped", "reason", reason, "channel", channel)
}

func (b *Bridge) observeEvent(ctx context.Context, kind string) {
	if b.metrics != nil {
		b.metrics.RecordSlackEvent(ctx, kind)
	}
}

// replyTs picks the thread to reply in: the existing thread when present,
// otherwise the message itself becomes the thread root.
func replyTs(threadTs, messageTs string) string {
	if threadTs != "" {
		return threadTs
	}
	return messageTs
}

func stripMentions(text string) string {
	return strings.TrimSpace(mentionRe.ReplaceAllString(text, ""))
}
