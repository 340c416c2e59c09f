// Package agent invokes the external Claude CLI as a child process. The
// child is deliberately never given a timeout: the queue exists precisely to
// host long-running tasks, and premature termination defeats the design. If
// a kill is ever needed it must be host-initiated.
package agent

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// cliArgs are the fixed flags passed ahead of the prompt. --continue resumes
// the CLI's own session state, which is why the processor runs one job at a
// time.
var cliArgs = []string{"--print", "--continue", "--dangerously-skip-permissions"}

// Invocation describes one agent run.
type Invocation struct {
	Prompt         string
	ThreadContext  string
	CLIPath        string
	WorkingDir     string
	MaxOutputChars int
	// OnProgress is called with a phase name each time a new phase is
	// detected in the streamed stdout. May be nil.
	OnProgress func(phase string)
}

// Result is the outcome of one agent run.
type Result struct {
	Success  bool
	Output   string
	Error    string
	Duration time.Duration
}

// Run executes the CLI and streams its stdout, reporting detected phases as
// they first appear. It returns an error only when the child cannot be
// started; an unsuccessful run is reported through Result.
func Run(inv Invocation, logger *slog.Logger) (Result, error) {
	if logger == nil {
		logger = slog.Default()
	}
	start := time.Now()

	fullPrompt := composePrompt(inv.Prompt, inv.ThreadContext)
	cmd := exec.Command(inv.CLIPath, append(append([]string{}, cliArgs...), fullPrompt)...)
	cmd.Dir = inv.WorkingDir

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("start %s: %w", inv.CLIPath, err)
	}
	logger.Info("agent started", "cli", inv.CLIPath, "working_dir", inv.WorkingDir)

	var acc strings.Builder
	lastPhase := ""
	buf := make([]byte, 4096)
	for {
		n, readErr := stdout.Read(buf)
		if n > 0 {
			chunk := string(buf[:n])
			acc.WriteString(chunk)
			if phase := detectPhase(chunk); phase != "" && phase != lastPhase {
				lastPhase = phase
				logger.Debug("agent phase", "phase", phase)
				if inv.OnProgress != nil {
					inv.OnProgress(phase)
				}
			}
		}
		if readErr != nil {
			if readErr != io.EOF {
				logger.Warn("agent stdout read error", "error", readErr)
			}
			break
		}
	}

	waitErr := cmd.Wait()
	duration := time.Since(start)

	if waitErr != nil {
		errMsg := strings.TrimSpace(stderr.String())
		if errMsg == "" {
			code := -1
			if exitErr, ok := waitErr.(*exec.ExitError); ok {
				code = exitErr.ExitCode()
			}
			errMsg = fmt.Sprintf("Claude CLI exited with code %d", code)
		}
		logger.Warn("agent failed", "error", errMsg, "duration", duration)
		return Result{Success: false, Error: errMsg, Duration: duration}, nil
	}

	output := StripANSI(acc.String())
	output = truncateOutput(output, inv.MaxOutputChars)
	logger.Info("agent completed", "output_chars", len(output), "duration", duration)
	return Result{Success: true, Output: output, Duration: duration}, nil
}

// composePrompt wraps the latest message with the fenced thread transcript
// when one exists.
func composePrompt(prompt, threadContext string) string {
	if threadContext == "" {
		return prompt
	}
	return fmt.Sprintf("Here is the conversation thread for context:\n\n%s\n\n---\n\nLatest message (respond to this):\n%s", threadContext, prompt)
}

// truncatedSuffix replaces the tail of over-long agent output.
const truncatedSuffix = "\n\n... (output truncated)"

func truncateOutput(output string, maxChars int) string {
	if maxChars <= 0 || len(output) <= maxChars {
		return output
	}
	keep := maxChars - len(truncatedSuffix)
	if keep < 0 {
		keep = 0
	}
	return output[:keep] + truncatedSuffix
}
