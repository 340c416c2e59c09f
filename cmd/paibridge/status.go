package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/basket/pai-slack-bridge/internal/config"
	"github.com/basket/pai-slack-bridge/internal/queue"
)

// runStatusCommand prints per-directory job counts for the configured queue.
func runStatusCommand() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "status: %v\n", err)
		return 1
	}

	q, err := queue.Open(cfg.Queue.Dir, discardLogger())
	if err != nil {
		fmt.Fprintf(os.Stderr, "status: %v\n", err)
		return 1
	}

	st, err := q.GetStatus()
	if err != nil {
		fmt.Fprintf(os.Stderr, "status: %v\n", err)
		return 1
	}

	fmt.Printf("queue: %s\n", cfg.Queue.Dir)
	fmt.Printf("  pending:    %d\n", st.Pending)
	fmt.Printf("  processing: %d\n", st.Processing)
	fmt.Printf("  completed:  %d\n", st.Completed)
	fmt.Printf("  failed:     %d\n", st.Failed)
	return 0
}

// runNotifyCommand enqueues a channel+text notification job. The running
// bridge picks it up on its next poll.
func runNotifyCommand(args []string) int {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: paibridge notify <channel> <text...>")
		return 2
	}
	channel := args[0]
	text := strings.Join(args[1:], " ")

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "notify: %v\n", err)
		return 1
	}

	q, err := queue.Open(cfg.Queue.Dir, discardLogger())
	if err != nil {
		fmt.Fprintf(os.Stderr, "notify: %v\n", err)
		return 1
	}

	if err := q.SubmitNotification(channel, text); err != nil {
		fmt.Fprintf(os.Stderr, "notify: %v\n", err)
		return 1
	}
	fmt.Println("notification queued")
	return 0
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
