package threadstore

import (
	"context"
	"fmt"
)

// seedLimit caps how many thread replies are fetched when seeding.
const seedLimit = 20

// Reply is one message returned by the platform's thread-history API.
type Reply struct {
	Ts    string
	User  string
	BotID string
	Text  string
}

// HistoryClient is the slice of the chat platform the seeder consumes.
type HistoryClient interface {
	// ListReplies returns up to limit messages in the thread rooted at ts,
	// inclusive of the root, in thread order.
	ListReplies(ctx context.Context, channel, ts string, limit int) ([]Reply, error)
	// DescribeUser resolves a user id to a display name.
	DescribeUser(ctx context.Context, userID string) (string, error)
}

// SeedFromSlack fetches the thread's history from the platform, classifies
// each reply, and persists the resulting ThreadFile (overwriting prior
// on-disk state). Classification:
//   - no text: dropped
//   - authored by the bridge's own bot user: assistant turn
//   - authored by any other bot: dropped
//   - otherwise: user turn, display name resolved best-effort (falling back
//     to the raw user id)
func (s *Store) SeedFromSlack(ctx context.Context, threadTs, channel, bridgeBotID string, client HistoryClient) (*ThreadFile, error) {
	l := s.threadLock(threadTs)
	l.Lock()
	defer l.Unlock()

	replies, err := client.ListReplies(ctx, channel, threadTs, seedLimit)
	if err != nil {
		return nil, fmt.Errorf("list thread replies: %w", err)
	}

	// Names are resolved at most once per user per seed.
	nameCache := make(map[string]string)
	resolve := func(userID string) string {
		if name, ok := nameCache[userID]; ok {
			return name
		}
		name, err := client.DescribeUser(ctx, userID)
		if err != nil || name == "" {
			s.logger.Debug("seed: user lookup failed, recording id", "user", userID, "error", err)
			name = userID
		}
		nameCache[userID] = name
		return name
	}

	f := &ThreadFile{ThreadTs: threadTs, Channel: channel}
	for _, r := range replies {
		if r.Text == "" {
			continue
		}
		switch {
		case r.User == bridgeBotID:
			f.Messages = append(f.Messages, ThreadMessage{
				Role: "assistant",
				Name: AssistantName,
				Text: r.Text,
				Ts:   r.Ts,
			})
		case r.BotID != "":
			// Some other bot's message: not part of the conversation.
		case r.User != "":
			f.Messages = append(f.Messages, ThreadMessage{
				Role: "user",
				Name: resolve(r.User),
				Text: r.Text,
				Ts:   r.Ts,
			})
		}
	}

	if err := s.Save(f); err != nil {
		return nil, err
	}
	s.logger.Info("seeded thread from slack history", "thread_ts", threadTs, "messages", len(f.Messages))
	return f, nil
}
