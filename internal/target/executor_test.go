package target

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/termdeck/termdeck/internal/config"
)

type fakeRunner struct {
	calls   []runnerCall
	results []runnerResult
}

type runnerCall struct {
	name string
	args []string
}

type runnerResult struct {
	out []byte
	err error
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, runnerCall{name: name, args: append([]string(nil), args...)})
	if len(f.results) == 0 {
		return []byte("ok"), nil
	}
	r := f.results[0]
	f.results = f.results[1:]
	return r.out, r.err
}

func TestExecutorRunsTmuxBinaryFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.TmuxBinary = "/opt/tmux/bin/tmux"
	cfg.RetryBackoff = nil
	r := &fakeRunner{}
	ex := NewExecutorWithRunner(cfg, r)

	result, err := ex.Run(context.Background(), "list-panes", "-a")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if strings.TrimSpace(result.Output) != "ok" {
		t.Fatalf("unexpected output: %q", result.Output)
	}
	if len(r.calls) != 1 {
		t.Fatalf("expected one runner call, got %d", len(r.calls))
	}
	if r.calls[0].name != "/opt/tmux/bin/tmux" {
		t.Fatalf("expected configured binary, got %s", r.calls[0].name)
	}
	if len(r.calls[0].args) != 2 || r.calls[0].args[0] != "list-panes" {
		t.Fatalf("unexpected args: %#v", r.calls[0].args)
	}
}

func TestExecutorRetriesReadOnlyCommands(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RetryBackoff = []time.Duration{1 * time.Millisecond, 1 * time.Millisecond}
	r := &fakeRunner{results: []runnerResult{
		{err: errors.New("temporary")},
		{err: errors.New("temporary")},
		{out: []byte("ok"), err: nil},
	}}
	ex := NewExecutorWithRunner(cfg, r)
	if _, err := ex.Run(context.Background(), "list-panes", "-a"); err != nil {
		t.Fatalf("expected retry success: %v", err)
	}
	if len(r.calls) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(r.calls))
	}
}

func TestExecutorRetryWithZeroBackoffDoesNotPanic(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RetryBackoff = []time.Duration{0}
	r := &fakeRunner{results: []runnerResult{
		{err: errors.New("temporary")},
		{out: []byte("ok"), err: nil},
	}}
	ex := NewExecutorWithRunner(cfg, r)
	if _, err := ex.Run(context.Background(), "list-panes"); err != nil {
		t.Fatalf("expected retry success: %v", err)
	}
}

func TestExecutorWriteCommandDoesNotRetry(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RetryBackoff = []time.Duration{1 * time.Millisecond, 1 * time.Millisecond}
	r := &fakeRunner{results: []runnerResult{
		{err: errors.New("write failed")},
		{out: []byte("unexpected"), err: nil},
	}}
	ex := NewExecutorWithRunner(cfg, r)

	_, err := ex.Run(context.Background(), "send-keys", "hello")
	if err == nil {
		t.Fatalf("expected write command error")
	}
	if len(r.calls) != 1 {
		t.Fatalf("write command should not retry, got %d calls", len(r.calls))
	}
}

func TestListSessionsParsesRows(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RetryBackoff = nil
	output := "main\x1f3\x1f1\x1f1756000000\n" +
		"scratch\x1f1\x1f0\x1f1756003600\n"
	r := &fakeRunner{results: []runnerResult{{out: []byte(output)}}}
	ex := NewExecutorWithRunner(cfg, r)

	sessions, err := ex.ListSessions(context.Background())
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("session count = %d (%+v)", len(sessions), sessions)
	}
	if sessions[0].Name != "main" || sessions[0].Windows != 3 || !sessions[0].Attached {
		t.Fatalf("unexpected first session: %+v", sessions[0])
	}
	if sessions[1].Name != "scratch" || sessions[1].Attached {
		t.Fatalf("unexpected second session: %+v", sessions[1])
	}
	if sessions[0].Created.Unix() != 1756000000 {
		t.Fatalf("created = %v", sessions[0].Created)
	}
}

func TestListSessionsNoServerIsEmpty(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RetryBackoff = nil
	r := &fakeRunner{results: []runnerResult{
		{out: []byte("no server running on /tmp/tmux-1000/default"), err: errors.New("exit status 1")},
	}}
	ex := NewExecutorWithRunner(cfg, r)

	sessions, err := ex.ListSessions(context.Background())
	if err != nil {
		t.Fatalf("missing server must not be an error: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("expected empty list, got %+v", sessions)
	}
}

func TestHasSession(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RetryBackoff = nil
	output := "main\x1f3\x1f1\x1f1756000000\n"
	r := &fakeRunner{results: []runnerResult{
		{out: []byte(output)},
		{out: []byte(output)},
	}}
	ex := NewExecutorWithRunner(cfg, r)

	ok, err := ex.HasSession(context.Background(), "main")
	if err != nil || !ok {
		t.Fatalf("HasSession(main) = %v, %v", ok, err)
	}
	ok, err = ex.HasSession(context.Background(), "absent")
	if err != nil || ok {
		t.Fatalf("HasSession(absent) = %v, %v", ok, err)
	}
}
