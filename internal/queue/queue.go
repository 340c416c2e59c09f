// Package queue implements a durable on-disk work queue. A job's residence
// directory is its state: pending/, processing/, completed/ and failed/ under
// a single base path. Submission and claiming both ride on POSIX rename
// atomicity within one filesystem; no locks are taken.
package queue

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Directory names under the queue base path.
const (
	DirPending    = "pending"
	DirProcessing = "processing"
	DirCompleted  = "completed"
	DirFailed     = "failed"
)

// Job is one unit of work. Agent jobs carry Prompt; a job carrying Text but
// no Prompt is a simple notification (post Text to Channel, no agent run).
type Job struct {
	ID            string `json:"id"`
	Channel       string `json:"channel"`
	ThreadTs      string `json:"thread_ts,omitempty"`
	User          string `json:"user,omitempty"`
	Prompt        string `json:"prompt,omitempty"`
	Text          string `json:"text,omitempty"`
	ThreadContext string `json:"thread_context,omitempty"`

	CreatedAt   int64  `json:"created_at"`
	StartedAt   *int64 `json:"started_at"`
	CompletedAt *int64 `json:"completed_at"`

	Error    string `json:"error,omitempty"`
	FailedAt *int64 `json:"failed_at,omitempty"`
}

// IsNotification reports whether the job is a plain post request rather than
// an agent invocation. The discriminator is the presence of text without a
// prompt; schema evolution must preserve it.
func (j Job) IsNotification() bool {
	return j.Text != "" && j.Prompt == ""
}

// Status is a point-in-time snapshot of per-directory job counts.
type Status struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// Queue owns the four lifecycle directories under base.
type Queue struct {
	base   string
	logger *slog.Logger
}

// Open creates the queue directories if needed and returns the Queue.
func Open(base string, logger *slog.Logger) (*Queue, error) {
	if logger == nil {
		logger = slog.Default()
	}
	for _, dir := range []string{DirPending, DirProcessing, DirCompleted, DirFailed} {
		if err := os.MkdirAll(filepath.Join(base, dir), 0o755); err != nil {
			return nil, fmt.Errorf("create queue dir %s: %w", dir, err)
		}
	}
	return &Queue{base: base, logger: logger}, nil
}

// Base returns the queue's base path.
func (q *Queue) Base() string {
	return q.base
}

// Dir returns the absolute path of one lifecycle directory.
func (q *Queue) Dir(name string) string {
	return filepath.Join(q.base, name)
}

// NewJob builds an agent job with a fresh id and creation timestamp.
func NewJob(channel, threadTs, user, prompt, threadContext string) Job {
	return Job{
		ID:            uuid.New().String(),
		Channel:       channel,
		ThreadTs:      threadTs,
		User:          user,
		Prompt:        prompt,
		ThreadContext: threadContext,
		CreatedAt:     time.Now().UnixMilli(),
	}
}

// Submit serializes the job to <base>/<id>.tmp.json and renames it into
// pending/. The job never appears in pending/ partially written.
func (q *Queue) Submit(job Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.CreatedAt == 0 {
		job.CreatedAt = time.Now().UnixMilli()
	}
	data, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.ID, err)
	}
	tmp := filepath.Join(q.base, job.ID+".tmp.json")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write job temp file: %w", err)
	}
	dst := filepath.Join(q.base, DirPending, job.ID+".json")
	if err := os.Rename(tmp, dst); err != nil {
		return fmt.Errorf("submit job %s: %w", job.ID, err)
	}
	q.logger.Info("job submitted", "job_id", job.ID, "channel", job.Channel, "thread_ts", job.ThreadTs)
	return nil
}

// SubmitNotification enqueues a simple channel+text post request.
func (q *Queue) SubmitNotification(channel, text string) error {
	return q.Submit(Job{
		ID:        uuid.New().String(),
		Channel:   channel,
		Text:      text,
		CreatedAt: time.Now().UnixMilli(),
	})
}

// Pending lists the job filenames currently in pending/. Order is whatever
// the OS directory listing returns; the queue promises eventual drain, not
// FIFO.
func (q *Queue) Pending() ([]string, error) {
	return q.list(DirPending)
}

func (q *Queue) list(dir string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(q.base, dir))
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// Claim atomically moves a pending job file into processing/. A failed
// rename means another worker got there first; callers log and skip.
func (q *Queue) Claim(name string) error {
	src := filepath.Join(q.base, DirPending, name)
	dst := filepath.Join(q.base, DirProcessing, name)
	return os.Rename(src, dst)
}

// ReadProcessing reads and parses a claimed job file.
func (q *Queue) ReadProcessing(name string) (Job, []byte, error) {
	data, err := os.ReadFile(filepath.Join(q.base, DirProcessing, name))
	if err != nil {
		return Job{}, nil, fmt.Errorf("read claimed job: %w", err)
	}
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return Job{}, data, fmt.Errorf("parse claimed job: %w", err)
	}
	return job, data, nil
}

// Complete writes the final job JSON over the processing file, then renames
// it into completed/.
func (q *Queue) Complete(name string, job Job) error {
	data, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal completed job: %w", err)
	}
	src := filepath.Join(q.base, DirProcessing, name)
	if err := os.WriteFile(src, data, 0o644); err != nil {
		return fmt.Errorf("write completed job: %w", err)
	}
	if err := os.Rename(src, filepath.Join(q.base, DirCompleted, name)); err != nil {
		return fmt.Errorf("archive completed job: %w", err)
	}
	return nil
}

// Fail dead-letters a claimed job: the job plus error and failure timestamp
// is written into failed/ and the processing file is unlinked. failed/ is
// terminal; nothing consumes it.
func (q *Queue) Fail(name string, job Job, errMsg string) error {
	now := time.Now().UnixMilli()
	job.Error = errMsg
	job.FailedAt = &now
	data, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal failed job: %w", err)
	}
	if err := os.WriteFile(filepath.Join(q.base, DirFailed, name), data, 0o644); err != nil {
		return fmt.Errorf("write failed job: %w", err)
	}
	if err := os.Remove(filepath.Join(q.base, DirProcessing, name)); err != nil {
		return fmt.Errorf("remove processing file: %w", err)
	}
	return nil
}

// Recover moves every job found in processing/ back to pending/. Run once at
// processor startup: a job interrupted mid-execution is retried at least
// once. Repeated calls with an empty processing/ are no-ops.
func (q *Queue) Recover() (int, error) {
	names, err := q.list(DirProcessing)
	if err != nil {
		return 0, fmt.Errorf("list processing dir: %w", err)
	}
	moved := 0
	for _, name := range names {
		src := filepath.Join(q.base, DirProcessing, name)
		dst := filepath.Join(q.base, DirPending, name)
		if err := os.Rename(src, dst); err != nil {
			q.logger.Warn("recovery: requeue failed", "job_file", name, "error", err)
			continue
		}
		moved++
	}
	if moved > 0 {
		q.logger.Info("recovered interrupted jobs", "requeued", moved)
	}
	return moved, nil
}

// PruneTerminal deletes job files in completed/ and failed/ whose mtime is
// older than maxAge. Returns the number of files removed.
func (q *Queue) PruneTerminal(maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, dir := range []string{DirCompleted, DirFailed} {
		entries, err := os.ReadDir(filepath.Join(q.base, dir))
		if err != nil {
			return removed, fmt.Errorf("list %s: %w", dir, err)
		}
		for _, e := range entries {
			if !strings.HasSuffix(e.Name(), ".json") {
				continue
			}
			info, err := e.Info()
			if err != nil {
				continue
			}
			if info.ModTime().After(cutoff) {
				continue
			}
			path := filepath.Join(q.base, dir, e.Name())
			if err := os.Remove(path); err != nil {
				q.logger.Warn("prune: remove failed", "path", path, "error", err)
				continue
			}
			removed++
		}
	}
	return removed, nil
}

// GetStatus counts job files in each lifecycle directory.
func (q *Queue) GetStatus() (Status, error) {
	var st Status
	for dir, dst := range map[string]*int{
		DirPending:    &st.Pending,
		DirProcessing: &st.Processing,
		DirCompleted:  &st.Completed,
		DirFailed:     &st.Failed,
	} {
		names, err := q.list(dir)
		if err != nil {
			return st, fmt.Errorf("count %s: %w", dir, err)
		}
		*dst = len(names)
	}
	return st, nil
}
