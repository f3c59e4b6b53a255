package target

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/termdeck/termdeck/internal/config"
	"github.com/termdeck/termdeck/internal/model"
	"github.com/termdeck/termdeck/internal/tmuxfmt"
)

type RunResult struct {
	Output   string
	Duration time.Duration
}

type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type OSRunner struct{}

func (OSRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = filteredExecEnv()
	return cmd.CombinedOutput()
}

// filteredExecEnv drops TMUX and TMUX_PANE so commands reach the tmux
// server directly instead of the pane the daemon happens to run in.
func filteredExecEnv() []string {
	env := os.Environ()
	out := env[:0]
	for _, kv := range env {
		if strings.HasPrefix(kv, "TMUX=") || strings.HasPrefix(kv, "TMUX_PANE=") {
			continue
		}
		out = append(out, kv)
	}
	return out
}

// Executor runs one-shot tmux commands against the local server,
// outside any control-mode connection. Read-only commands are retried
// with backoff; mutating commands run exactly once.
type Executor struct {
	cfg    config.Config
	runner Runner
}

func NewExecutor(cfg config.Config) *Executor {
	return &Executor{
		cfg:    cfg,
		runner: OSRunner{},
	}
}

func NewExecutorWithRunner(cfg config.Config, runner Runner) *Executor {
	e := NewExecutor(cfg)
	e.runner = runner
	return e
}

// Run executes `tmux args...` and returns its combined output.
func (e *Executor) Run(ctx context.Context, args ...string) (RunResult, error) {
	if len(args) == 0 {
		return RunResult{}, fmt.Errorf("empty command")
	}

	maxAttempts := 1
	if isRetryableCommand(args[0]) {
		maxAttempts += len(e.cfg.RetryBackoff)
	}
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		start := time.Now()
		runCtx, cancel := context.WithTimeout(ctx, e.cfg.CommandTimeout)
		out, err := e.runner.Run(runCtx, e.cfg.TmuxBinary, args...)
		cancel()
		if err == nil {
			return RunResult{Output: string(out), Duration: time.Since(start)}, nil
		}
		lastErr = fmt.Errorf("%s: %w", strings.TrimSpace(string(out)), err)
		if len(out) == 0 {
			lastErr = err
		}

		if attempt < maxAttempts {
			backoff := e.cfg.RetryBackoff[attempt-1]
			jitter := time.Duration(0)
			maxJitter := int64(backoff / 4)
			if maxJitter > 0 {
				jitter = time.Duration(time.Now().UTC().UnixNano() % maxJitter)
			}
			select {
			case <-ctx.Done():
				return RunResult{}, ctx.Err()
			case <-time.After(backoff + jitter):
			}
		}
	}

	if errors.Is(lastErr, context.DeadlineExceeded) || errors.Is(lastErr, context.Canceled) {
		return RunResult{}, fmt.Errorf("%s: tmux command timed out: %w", model.ErrTmuxUnavailable, lastErr)
	}
	return RunResult{}, fmt.Errorf("%s: %w", model.ErrTmuxUnavailable, lastErr)
}

var sessionListFormat = tmuxfmt.Join(
	"#{session_name}",
	"#{session_windows}",
	"#{session_attached}",
	"#{session_created}",
)

// ListSessions returns the sessions known to the local tmux server. A
// missing server is not an error: tmux exits nonzero with "no server
// running" and that maps to an empty list.
func (e *Executor) ListSessions(ctx context.Context) ([]model.SessionInfo, error) {
	res, err := e.Run(ctx, "list-sessions", "-F", sessionListFormat)
	if err != nil {
		if strings.Contains(err.Error(), "no server running") {
			return nil, nil
		}
		return nil, err
	}
	return parseSessionList(res.Output), nil
}

// HasSession reports whether the named session exists.
func (e *Executor) HasSession(ctx context.Context, name string) (bool, error) {
	sessions, err := e.ListSessions(ctx)
	if err != nil {
		return false, err
	}
	for _, s := range sessions {
		if s.Name == name {
			return true, nil
		}
	}
	return false, nil
}

func parseSessionList(output string) []model.SessionInfo {
	var sessions []model.SessionInfo
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		fields := tmuxfmt.SplitLine(line)
		if len(fields) != 4 {
			continue
		}
		windows, err := strconv.Atoi(fields[1])
		if err != nil {
			continue
		}
		created := time.Time{}
		if epoch, err := strconv.ParseInt(fields[3], 10, 64); err == nil {
			created = time.Unix(epoch, 0)
		}
		sessions = append(sessions, model.SessionInfo{
			Name:     fields[0],
			Windows:  windows,
			Attached: fields[2] != "0",
			Created:  created,
		})
	}
	return sessions
}

func isRetryableCommand(name string) bool {
	switch strings.ToLower(name) {
	case "list-panes", "list-windows", "list-sessions", "display-message", "capture-pane", "show-options", "show-environment", "has-session":
		return true
	default:
		return false
	}
}
