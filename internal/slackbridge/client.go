// Package slackbridge connects the bridge to Slack: a thin client wrapper
// over the Slack Web API plus the socket-mode intake path that turns inbound
// events into queued jobs.
package slackbridge

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"

	"github.com/basket/pai-slack-bridge/internal/threadstore"
)

// ChatClient is the capability set the intake path and processor consume.
// *Client implements it against the real Slack API; tests substitute fakes.
type ChatClient interface {
	// BotUserID returns the bridge's own bot user id.
	BotUserID() string
	// PostMessage posts text to a channel, threaded under threadTs when
	// non-empty.
	PostMessage(ctx context.Context, channel, threadTs, text string) error
	// ListReplies returns up to limit messages of the thread rooted at ts,
	// inclusive of the root.
	ListReplies(ctx context.Context, channel, ts string, limit int) ([]threadstore.Reply, error)
	// DescribeUser resolves a user id to a display name.
	DescribeUser(ctx context.Context, userID string) (string, error)
	// IsDirectMessage reports whether the conversation is a DM.
	IsDirectMessage(ctx context.Context, channel string) (bool, error)
}

// Client wraps the Slack Web API client and the socket-mode transport.
type Client struct {
	api       *slack.Client
	socket    *socketmode.Client
	botUserID string
	logger    *slog.Logger
}

// NewClient authenticates against Slack and prepares the socket-mode
// transport. The bot user id is captured at connect time; it classifies the
// bridge's own past messages during thread seeding.
func NewClient(botToken, appToken string, debug bool, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	api := slack.New(botToken,
		slack.OptionAppLevelToken(appToken),
		slack.OptionDebug(debug),
	)
	auth, err := api.AuthTest()
	if err != nil {
		return nil, fmt.Errorf("slack auth test: %w", err)
	}
	socket := socketmode.New(api, socketmode.OptionDebug(debug))
	logger.Info("slack authenticated", "bot_user_id", auth.UserID, "team", auth.Team)
	return &Client{
		api:       api,
		socket:    socket,
		botUserID: auth.UserID,
		logger:    logger,
	}, nil
}

// BotUserID returns the bridge's own bot user id.
func (c *Client) BotUserID() string {
	return c.botUserID
}

// Socket returns the socket-mode transport for the intake loop.
func (c *Client) Socket() *socketmode.Client {
	return c.socket
}

// PostMessage posts text to a channel, threaded when threadTs is non-empty.
func (c *Client) PostMessage(ctx context.Context, channel, threadTs, text string) error {
	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if threadTs != "" {
		opts = append(opts, slack.MsgOptionTS(threadTs))
	}
	if _, _, err := c.api.PostMessageContext(ctx, channel, opts...); err != nil {
		return fmt.Errorf("post message to %s: %w", channel, err)
	}
	return nil
}

// ListReplies fetches thread history for seeding.
func (c *Client) ListReplies(ctx context.Context, channel, ts string, limit int) ([]threadstore.Reply, error) {
	msgs, _, _, err := c.api.GetConversationRepliesContext(ctx, &slack.GetConversationRepliesParameters{
		ChannelID: channel,
		Timestamp: ts,
		Inclusive: true,
		Limit:     limit,
	})
	if err != nil {
		return nil, fmt.Errorf("get thread replies: %w", err)
	}
	replies := make([]threadstore.Reply, 0, len(msgs))
	for _, m := range msgs {
		replies = append(replies, threadstore.Reply{
			Ts:    m.Timestamp,
			User:  m.User,
			BotID: m.BotID,
			Text:  m.Text,
		})
	}
	return replies, nil
}

// DescribeUser resolves a user id to a display name, preferring the
// profile's display name, then the real name, then the account name.
func (c *Client) DescribeUser(ctx context.Context, userID string) (string, error) {
	u, err := c.api.GetUserInfoContext(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("get user info %s: %w", userID, err)
	}
	switch {
	case u.Profile.DisplayName != "":
		return u.Profile.DisplayName, nil
	case u.RealName != "":
		return u.RealName, nil
	default:
		return u.Name, nil
	}
}

// IsDirectMessage confirms the conversation is a DM before a message event
// is treated as one.
func (c *Client) IsDirectMessage(ctx context.Context, channel string) (bool, error) {
	ch, err := c.api.GetConversationInfoContext(ctx, &slack.GetConversationInfoInput{
		ChannelID: channel,
	})
	if err != nil {
		return false, fmt.Errorf("get conversation info %s: %w", channel, err)
	}
	return ch.IsIM, nil
}
