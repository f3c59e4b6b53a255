package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/termdeck/termdeck/internal/config"
	"github.com/termdeck/termdeck/internal/controlmode"
	"github.com/termdeck/termdeck/internal/journal"
	"github.com/termdeck/termdeck/internal/model"
	"github.com/termdeck/termdeck/internal/target"
)

// Manager owns one control-mode connection per tmux session. Attach is
// attach-or-spawn: an existing session is attached, a missing one is
// created through tmux's own -A path. Every notification crossing a
// managed connection lands in the journal.
type Manager struct {
	cfg      config.Config
	logger   *slog.Logger
	executor *target.Executor
	recorder *journal.Recorder

	mu    sync.Mutex
	conns map[string]*controlmode.Client

	healthMu sync.Mutex
	health   target.HealthState
	healthTh target.HealthThresholds
}

func NewManager(cfg config.Config, logger *slog.Logger, executor *target.Executor, recorder *journal.Recorder) *Manager {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if executor == nil {
		executor = target.NewExecutor(cfg)
	}
	return &Manager{
		cfg:      cfg,
		logger:   logger,
		executor: executor,
		recorder: recorder,
		conns:    map[string]*controlmode.Client{},
		healthTh: target.DefaultHealthThresholds(),
	}
}

// AttachOptions shape one Attach call.
type AttachOptions struct {
	Dir     string
	Command string
}

// Attach returns the managed connection for the session, dialing a new
// one when none exists or the previous one has closed.
func (m *Manager) Attach(ctx context.Context, session string, opts AttachOptions) (*controlmode.Client, error) {
	if session == "" {
		return nil, fmt.Errorf("%s: session name is required", model.ErrBadRequest)
	}

	m.mu.Lock()
	if c, ok := m.conns[session]; ok {
		select {
		case <-c.Done():
			delete(m.conns, session)
		default:
			m.mu.Unlock()
			return c, nil
		}
	}
	m.mu.Unlock()

	exists, err := m.executor.HasSession(ctx, session)
	m.recordProbe(err == nil)
	if err != nil {
		return nil, err
	}

	c, err := controlmode.Connect(ctx, controlmode.Target{
		Session: session,
		Dir:     opts.Dir,
		Command: opts.Command,
		Attach:  exists,
	}, controlmode.Options{
		TmuxBinary:      m.cfg.TmuxBinary,
		Logger:          m.logger.With("session", session),
		ConnectTimeout:  m.cfg.ConnectTimeout,
		OutputQueueSize: m.cfg.OutputQueueSize,
		OnNotification:  m.journalHook(session),
	})
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if existing, ok := m.conns[session]; ok {
		// Lost the dial race; keep the first connection.
		m.mu.Unlock()
		c.Close()
		return existing, nil
	}
	m.conns[session] = c
	m.mu.Unlock()

	go m.reap(session, c)
	m.logger.Info("session attached", "session", session, "existing", exists)
	return c, nil
}

// Get returns the live connection for a session, if any.
func (m *Manager) Get(session string) (*controlmode.Client, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[session]
	if !ok {
		return nil, false
	}
	select {
	case <-c.Done():
		return nil, false
	default:
		return c, true
	}
}

// Attached lists the sessions with a live managed connection.
func (m *Manager) Attached() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.conns))
	for session, c := range m.conns {
		select {
		case <-c.Done():
		default:
			out = append(out, session)
		}
	}
	sort.Strings(out)
	return out
}

// ListSessions asks the tmux server for all sessions, managed or not.
func (m *Manager) ListSessions(ctx context.Context) ([]model.SessionInfo, error) {
	sessions, err := m.executor.ListSessions(ctx)
	m.recordProbe(err == nil)
	return sessions, err
}

// Health reports tmux server reachability from recent probes.
func (m *Manager) Health() model.ServerHealth {
	m.healthMu.Lock()
	defer m.healthMu.Unlock()
	if m.health.Current == "" {
		return model.HealthOK
	}
	return m.health.Current
}

// CloseAll tears down every managed connection.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	conns := make([]*controlmode.Client, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.conns = map[string]*controlmode.Client{}
	m.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}

func (m *Manager) recordProbe(success bool) {
	m.healthMu.Lock()
	prev := m.health.Current
	m.health = target.NextHealth(m.healthTh, m.health, success, time.Now().UTC())
	next := m.health.Current
	m.healthMu.Unlock()
	if prev != next && prev != "" {
		m.logger.Warn("tmux server health changed", "from", prev, "to", next)
	}
}

func (m *Manager) reap(session string, c *controlmode.Client) {
	<-c.Done()
	m.mu.Lock()
	if m.conns[session] == c {
		delete(m.conns, session)
	}
	m.mu.Unlock()
	m.logger.Info("session connection closed", "session", session, "error", c.Err())
}

func (m *Manager) journalHook(session string) func(controlmode.Notification) {
	if m.recorder == nil {
		return nil
	}
	return func(n controlmode.Notification) {
		if n.Kind == controlmode.NoteOutput {
			// Output volume would swamp the journal; lifecycle only.
			return
		}
		ev := journal.NewEvent(session, string(n.Kind))
		ev.WindowID = n.WindowID
		ev.PaneID = n.PaneID
		switch n.Kind {
		case controlmode.NoteLayoutChange:
			ev.Detail = n.LayoutRaw
		case controlmode.NoteWindowRenamed:
			ev.Detail = n.WindowName
		case controlmode.NoteSessionChanged:
			ev.Detail = n.SessionName
		case controlmode.NoteError:
			ev.Detail = n.Reason
		}
		m.recorder.Record(ev)
	}
}
