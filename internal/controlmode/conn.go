package controlmode

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/termdeck/termdeck/internal/model"
)

const (
	defaultConnectTimeout  = 5 * time.Second
	defaultOutputQueueSize = 128
)

// Target names the tmux session a connection drives. With Attach unset
// the connection runs new-session -A, creating the session if it does not
// exist; Dir and Command apply only to a newly created session.
type Target struct {
	Session string
	Dir     string
	Command string
	Attach  bool
}

// Options tune a connection. The zero value is usable.
type Options struct {
	TmuxBinary      string
	Logger          *slog.Logger
	ConnectTimeout  time.Duration
	OutputQueueSize int

	// OnNotification observes every classified notification on the
	// read-loop goroutine. It must not block; the journal recorder
	// buffers internally.
	OnNotification func(Notification)
}

func (o Options) withDefaults() Options {
	if o.TmuxBinary == "" {
		o.TmuxBinary = "tmux"
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = defaultConnectTimeout
	}
	if o.OutputQueueSize <= 0 {
		o.OutputQueueSize = defaultOutputQueueSize
	}
	return o
}

// Client is one live control-mode connection to a tmux server. A single
// goroutine reads the transport and feeds every line through the
// classifier in arrival order; that ordering carries both command
// correlation and layout reconciliation, so nothing else ever reads the
// stream.
type Client struct {
	id     string
	target Target
	opts   Options
	logger *slog.Logger

	cancel context.CancelFunc
	cmd    *exec.Cmd
	disp   *dispatcher

	stateMu sync.RWMutex
	state   *sessionState

	subMu      sync.Mutex
	subs       map[string]map[int]*Subscription
	subsClosed bool
	nextSub    int

	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

// Connect spawns tmux in control mode against the target and waits for
// the greeting block that signals the connection is ready for commands.
func Connect(ctx context.Context, target Target, opts Options) (*Client, error) {
	opts = opts.withDefaults()
	if strings.TrimSpace(target.Session) == "" {
		return nil, fmt.Errorf("target session is required")
	}

	runCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(runCtx, opts.TmuxBinary, connectArgv(target)...)
	cmd.Env = filteredExecEnv(os.Environ(), "TMUX", "TMUX_PANE")
	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start %s: %w", opts.TmuxBinary, err)
	}

	c, ready := newClient(target, opts, stdin, stdout)
	c.cancel = cancel
	c.cmd = cmd

	go c.logStderr(stderr)
	go func() {
		waitErr := cmd.Wait()
		if waitErr != nil {
			c.closeWithError(fmt.Errorf("%w: tmux process exited: %v", ErrClosed, waitErr))
			return
		}
		c.closeWithError(ErrClosed)
	}()

	select {
	case resp := <-ready:
		if resp.Err != nil {
			c.closeWithError(resp.Err)
			return nil, fmt.Errorf("control-mode greeting: %w", resp.Err)
		}
	case <-time.After(opts.ConnectTimeout):
		c.closeWithError(fmt.Errorf("%w: greeting timeout", ErrClosed))
		return nil, fmt.Errorf("control-mode greeting timeout after %s", opts.ConnectTimeout)
	case <-ctx.Done():
		c.closeWithError(fmt.Errorf("%w: %v", ErrClosed, ctx.Err()))
		return nil, ctx.Err()
	}
	c.logger.Info("control-mode connection ready", "session", target.Session)
	return c, nil
}

// newClient wires a client over an already-open transport and starts the
// read loop. The returned channel resolves with tmux's greeting block.
func newClient(target Target, opts Options, stdin io.Writer, stdout io.Reader) (*Client, <-chan Response) {
	opts = opts.withDefaults()
	c := &Client{
		id:     uuid.NewString(),
		target: target,
		opts:   opts,
		logger: opts.Logger.With("conn", target.Session),
		disp:   newDispatcher(stdin),
		subs:   make(map[string]map[int]*Subscription),
		done:   make(chan struct{}),
	}
	c.state = newSessionState(c, c.logger)
	ready := c.disp.bootstrap()
	go c.readLoop(stdout)
	return c, ready
}

func connectArgv(t Target) []string {
	if t.Attach {
		return []string{"-C", "attach-session", "-t", t.Session}
	}
	argv := []string{"-C", "new-session", "-A", "-s", t.Session}
	if t.Dir != "" {
		argv = append(argv, "-c", t.Dir)
	}
	if t.Command != "" {
		argv = append(argv, t.Command)
	}
	return argv
}

// filteredExecEnv drops the given variables from the environment so a
// termdeck process running inside tmux does not confuse the spawned
// client.
func filteredExecEnv(base []string, removeKeys ...string) []string {
	removeSet := make(map[string]struct{}, len(removeKeys))
	for _, key := range removeKeys {
		removeSet[key] = struct{}{}
	}
	out := make([]string, 0, len(base))
	for _, entry := range base {
		key := entry
		if idx := strings.IndexByte(entry, '='); idx >= 0 {
			key = entry[:idx]
		}
		if _, drop := removeSet[key]; drop {
			continue
		}
		out = append(out, entry)
	}
	return out
}

// ID is the unique identifier of this connection, used in journal rows.
func (c *Client) ID() string { return c.id }

// Session is the tmux session name this connection drives.
func (c *Client) Session() string { return c.target.Session }

// Done closes when the connection has shut down.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err reports why the connection closed. Valid after Done.
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.closeErr
	default:
		return nil
	}
}

// Close tears the connection down: the read loop stops, every in-flight
// command fails with a connection-closed error, subscriptions end, and
// the state tree is frozen read-only.
func (c *Client) Close() error {
	c.closeWithError(ErrClosed)
	return nil
}

func (c *Client) closeWithError(err error) {
	c.closeOnce.Do(func() {
		c.closeErr = err
		if c.cancel != nil {
			c.cancel()
		}
		c.disp.failAll(err)
		c.stateMu.Lock()
		c.state.markClosed()
		c.stateMu.Unlock()
		c.closeAllSubs()
		close(c.done)
		c.logger.Info("control-mode connection closed", "reason", err)
	})
}

func (c *Client) readLoop(r io.Reader) {
	reader := bufio.NewReaderSize(r, 64*1024)
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			c.handleLine(strings.TrimRight(line, "\r\n"))
		}
		if err != nil {
			c.closeWithError(fmt.Errorf("%w: control stream ended", ErrClosed))
			return
		}
	}
}

func (c *Client) handleLine(line string) {
	if !strings.HasPrefix(line, "%") {
		if !c.disp.handleBlockLine(line) {
			c.logger.Debug("stray control-mode line", "line", line)
		}
		return
	}
	n, ok := ParseNotification(line)
	if !ok {
		// A %-line inside an open block is command output; outside one it
		// is a notification type this client does not act on.
		if !c.disp.handleBlockLine(line) {
			c.logger.Debug("ignoring unrecognized notification", "line", line)
		}
		return
	}
	if c.opts.OnNotification != nil {
		c.opts.OnNotification(n)
	}
	switch n.Kind {
	case NoteBegin:
		if err := c.disp.handleBegin(n); err != nil {
			c.desync(err)
		}
	case NoteEnd:
		if err := c.disp.handleEnd(n); err != nil {
			c.desync(err)
		}
	case NoteError:
		handled, err := c.disp.handleError(n)
		if err != nil {
			c.desync(err)
			return
		}
		if !handled {
			c.logger.Warn("unsolicited tmux error", "reason", n.Reason)
		}
	case NoteExit:
		c.stateMu.Lock()
		c.state.apply(n)
		c.stateMu.Unlock()
		if reason := strings.TrimSpace(n.Reason); reason != "" {
			c.closeWithError(fmt.Errorf("%w: tmux exited: %s", ErrClosed, reason))
		} else {
			c.closeWithError(ErrClosed)
		}
	default:
		c.stateMu.Lock()
		c.state.apply(n)
		c.stateMu.Unlock()
	}
}

func (c *Client) desync(err error) {
	c.logger.Error("protocol desynchronization, tearing down connection", "error", err)
	c.closeWithError(err)
}

func (c *Client) logStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			c.logger.Warn("tmux stderr", "line", line)
		}
	}
}

// Issue sends one raw command line and waits for its response block. The
// command stays queued if ctx expires first; its eventual response is
// discarded.
func (c *Client) Issue(ctx context.Context, command string) (string, error) {
	ch, err := c.disp.issue(command)
	if err != nil {
		return "", err
	}
	select {
	case resp := <-ch:
		return resp.Output, resp.Err
	case <-ctx.Done():
		return "", ctx.Err()
	case <-c.done:
		return "", c.closeErr
	}
}

// SplitPane splits the pane on the axis implied by dir: up/down create a
// vertical split, left/right a horizontal one.
func (c *Client) SplitPane(ctx context.Context, paneID string, dir model.PaneDirection) error {
	if !dir.Valid() {
		return fmt.Errorf("invalid pane direction %q", dir)
	}
	_, err := c.Issue(ctx, splitWindowCommand(paneID, dir))
	return err
}

// SelectPane focuses a pane, either directly by id (dir empty) or
// directionally from it.
func (c *Client) SelectPane(ctx context.Context, paneID string, dir model.PaneDirection) error {
	if dir != "" && !dir.Valid() {
		return fmt.Errorf("invalid pane direction %q", dir)
	}
	_, err := c.Issue(ctx, selectPaneCommand(paneID, dir))
	return err
}

// ResizePane grows the pane by cells in the given direction.
func (c *Client) ResizePane(ctx context.Context, paneID string, dir model.PaneDirection, cells int) error {
	if !dir.Valid() {
		return fmt.Errorf("invalid pane direction %q", dir)
	}
	_, err := c.Issue(ctx, resizePaneCommand(paneID, dir, cells))
	return err
}

// KillPane destroys a pane. The tree updates when the resulting
// layout-change (or window-close) notification arrives.
func (c *Client) KillPane(ctx context.Context, paneID string) error {
	_, err := c.Issue(ctx, killPaneCommand(paneID))
	return err
}

// KillWindow destroys a window and all its panes.
func (c *Client) KillWindow(ctx context.Context, windowID string) error {
	_, err := c.Issue(ctx, killWindowCommand(windowID))
	return err
}

// SendText types literal text into a pane.
func (c *Client) SendText(ctx context.Context, paneID, text string) error {
	_, err := c.Issue(ctx, sendKeysCommand(paneID, text))
	return err
}

// RefreshPaneMetadata queries pane titles, working directories, and
// active flags, and folds the result into the tree. The layout string
// cannot carry these, so the GUI calls this after attach and on focus
// changes.
func (c *Client) RefreshPaneMetadata(ctx context.Context) error {
	output, err := c.Issue(ctx, listPanesCommand())
	if err != nil {
		return err
	}
	rows := ParsePaneMetadata(output)
	c.stateMu.Lock()
	c.state.applyPaneMetadata(rows)
	c.stateMu.Unlock()
	return nil
}

// Snapshot deep-copies the current window/pane tree.
func (c *Client) Snapshot() model.SessionSnapshot {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state.snapshot()
}

// Subscription delivers decoded output bytes for one pane. The channel
// closes when the pane disappears or the connection shuts down. The queue
// is bounded; under backpressure the oldest chunk is dropped so a stalled
// consumer never blocks the protocol reader.
type Subscription struct {
	id     int
	paneID string
	client *Client
	ch     chan []byte
	once   sync.Once
}

// Output is the stream of decoded pane output.
func (s *Subscription) Output() <-chan []byte { return s.ch }

// PaneID is the sigil-less id of the subscribed pane.
func (s *Subscription) PaneID() string { return s.paneID }

// Cancel ends the subscription and closes its channel.
func (s *Subscription) Cancel() {
	s.client.unsubscribe(s)
}

// Subscribe registers for a pane's decoded output. Subscribing to a pane
// that does not exist yet is allowed; output starts flowing once the pane
// appears in a layout.
func (c *Client) Subscribe(paneID string) *Subscription {
	paneID = strings.TrimPrefix(paneID, "%")
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.nextSub++
	sub := &Subscription{
		id:     c.nextSub,
		paneID: paneID,
		client: c,
		ch:     make(chan []byte, c.opts.OutputQueueSize),
	}
	if c.subsClosed {
		// Connection already closed; hand back a closed subscription.
		sub.once.Do(func() { close(sub.ch) })
		return sub
	}
	if c.subs[paneID] == nil {
		c.subs[paneID] = make(map[int]*Subscription)
	}
	c.subs[paneID][sub.id] = sub
	return sub
}

func (c *Client) unsubscribe(s *Subscription) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if m, ok := c.subs[s.paneID]; ok {
		if _, ok := m[s.id]; ok {
			delete(m, s.id)
			if len(m) == 0 {
				delete(c.subs, s.paneID)
			}
		}
	}
	s.once.Do(func() { close(s.ch) })
}

// paneOutput fans decoded bytes out to the pane's subscribers. Called on
// the read-loop goroutine; sends never block — when a queue is full the
// oldest chunk is dropped to make room.
func (c *Client) paneOutput(paneID string, data []byte) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, sub := range c.subs[paneID] {
		select {
		case sub.ch <- data:
		default:
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- data:
			default:
			}
		}
	}
}

// paneClosed ends every subscription bound to a pane that no longer
// exists.
func (c *Client) paneClosed(paneID string) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, sub := range c.subs[paneID] {
		sub.once.Do(func() { close(sub.ch) })
	}
	delete(c.subs, paneID)
}

func (c *Client) closeAllSubs() {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.subsClosed = true
	for _, m := range c.subs {
		for _, sub := range m {
			sub.once.Do(func() { close(sub.ch) })
		}
	}
	c.subs = make(map[string]map[int]*Subscription)
}
