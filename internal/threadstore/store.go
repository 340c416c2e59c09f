// Package threadstore persists per-thread Slack conversation transcripts as
// JSON files. Writes are atomic (temp file + rename) and serialized per
// thread; reads are best-effort. The store is the bridge's only memory of a
// conversation between events.
package threadstore

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// AssistantName is the display name recorded for the bridge's own replies.
const AssistantName = "pai-slack-bridge"

// dedupWindow is how many trailing messages are checked for a duplicate ts
// before an append is accepted.
const dedupWindow = 5

// ThreadMessage is one utterance in a transcript.
type ThreadMessage struct {
	Role string `json:"role"` // "user" or "assistant"
	Name string `json:"name"` // speaker display name
	Text string `json:"text"`
	Ts   string `json:"ts"` // Slack message timestamp; dedup key
}

// ThreadFile is the durable transcript for one Slack thread.
type ThreadFile struct {
	ThreadTs     string          `json:"thread_ts"`
	Channel      string          `json:"channel"`
	MessageCount int             `json:"message_count"`
	Messages     []ThreadMessage `json:"messages"`
	Summary      string          `json:"summary,omitempty"`
	Reseeded     bool            `json:"reseeded,omitempty"`
}

// Store reads and writes ThreadFiles under a single directory.
// All write operations on a given thread_ts are funnelled through an
// in-process per-thread lock; writes to different threads run in parallel.
// The lock protects against torn read-modify-write within one process only.
type Store struct {
	dir    string
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a Store rooted at dir, creating the directory if needed.
// The __THREAD_STORE_DIR environment variable overrides dir (tests only).
func New(dir string, logger *slog.Logger) (*Store, error) {
	if override := os.Getenv("__THREAD_STORE_DIR"); override != "" {
		dir = override
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create thread store dir: %w", err)
	}
	return &Store{
		dir:    dir,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}, nil
}

// Dir returns the store's root directory.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) path(threadTs string) string {
	return filepath.Join(s.dir, threadTs+".json")
}

func (s *Store) tmpPath(threadTs string) string {
	return filepath.Join(s.dir, threadTs+".tmp.json")
}

// threadLock returns the lock for a thread, creating it on first use.
func (s *Store) threadLock(threadTs string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.locks[threadTs]; ok {
		return l
	}
	l := &sync.Mutex{}
	s.locks[threadTs] = l
	return l
}

// Load returns the parsed ThreadFile for threadTs, or (nil, false) if the
// file is absent or unreadable. Read and parse errors are deliberately
// swallowed: a corrupt or missing transcript is treated as "no history".
func (s *Store) Load(threadTs string) (*ThreadFile, bool) {
	data, err := os.ReadFile(s.path(threadTs))
	if err != nil {
		return nil, false
	}
	var f ThreadFile
	if err := json.Unmarshal(data, &f); err != nil {
		s.logger.Warn("thread file unparseable, treating as absent", "thread_ts", threadTs, "error", err)
		return nil, false
	}
	return &f, true
}

// Save writes f to disk atomically: serialize to <thread_ts>.tmp.json, then
// rename over <thread_ts>.json. Readers see either the prior snapshot or the
// new one, never a partial write. MessageCount is forced to len(Messages)
// before serialization.
func (s *Store) Save(f *ThreadFile) error {
	f.MessageCount = len(f.Messages)
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal thread %s: %w", f.ThreadTs, err)
	}
	tmp := s.tmpPath(f.ThreadTs)
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write thread temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path(f.ThreadTs)); err != nil {
		return fmt.Errorf("rename thread file: %w", err)
	}
	return nil
}

// Append adds msg to the thread's transcript, creating the file if absent.
// The append is a no-op when msg.Ts already appears within the last five
// stored messages. Returns the post-append ThreadFile.
func (s *Store) Append(threadTs, channel string, msg ThreadMessage) (*ThreadFile, error) {
	l := s.threadLock(threadTs)
	l.Lock()
	defer l.Unlock()

	f, ok := s.Load(threadTs)
	if !ok {
		f = &ThreadFile{ThreadTs: threadTs, Channel: channel}
	}

	start := len(f.Messages) - dedupWindow
	if start < 0 {
		start = 0
	}
	for _, existing := range f.Messages[start:] {
		if existing.Ts == msg.Ts {
			return f, nil
		}
	}

	f.Messages = append(f.Messages, msg)
	if err := s.Save(f); err != nil {
		return nil, err
	}
	return f, nil
}

// Cleanup deletes transcript files whose mtime is older than maxAge and
// drops their in-memory locks. Per-file errors are ignored (the file may be
// racing with a concurrent writer). Returns the number of files deleted.
func (s *Store) Cleanup(maxAge time.Duration) int {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.logger.Warn("thread store cleanup: read dir failed", "error", err)
		return 0
	}
	cutoff := time.Now().Add(-maxAge)
	deleted := 0
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, ".json") || strings.HasSuffix(name, ".tmp.json") {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil {
			continue
		}
		deleted++

		threadTs := strings.TrimSuffix(name, ".json")
		s.mu.Lock()
		delete(s.locks, threadTs)
		s.mu.Unlock()
	}
	if deleted > 0 {
		s.logger.Info("thread store cleanup", "deleted", deleted, "max_age", maxAge)
	}
	return deleted
}
