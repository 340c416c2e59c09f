package retention

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/basket/pai-slack-bridge/internal/queue"
)

func TestNewSweeper_RejectsBadSchedule(t *testing.T) {
	q, err := queue.Open(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("open queue: %v", err)
	}
	if _, err := NewSweeper(Config{Queue: q, Days: 7, Schedule: "not a cron expr"}); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestSweeper_PrunesOldArchivesOnStart(t *testing.T) {
	q, err := queue.Open(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("open queue: %v", err)
	}

	job := queue.NewJob("C1", "1700.1", "U1", "p", "")
	if err := q.Submit(job); err != nil {
		t.Fatalf("submit: %v", err)
	}
	name := job.ID + ".json"
	if err := q.Claim(name); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := q.Fail(name, job, "boom"); err != nil {
		t.Fatalf("fail: %v", err)
	}
	deadPath := filepath.Join(q.Base(), queue.DirFailed, name)
	past := time.Now().Add(-30 * 24 * time.Hour)
	if err := os.Chtimes(deadPath, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	s, err := NewSweeper(Config{Queue: q, Days: 14})
	if err != nil {
		t.Fatalf("new sweeper: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(deadPath); os.IsNotExist(err) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("startup sweep did not prune old archive")
}

func TestSweeper_DisabledDoesNothing(t *testing.T) {
	q, err := queue.Open(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("open queue: %v", err)
	}
	s, err := NewSweeper(Config{Queue: q, Days: 0})
	if err != nil {
		t.Fatalf("new sweeper: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	// Stop must not hang when nothing was started.
	s.Stop()
}
