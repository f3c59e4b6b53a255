package controlmode

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

var (
	// ErrClosed is returned for commands issued on, or pending when, a
	// connection that has been closed.
	ErrClosed = errors.New("control-mode connection closed")

	// ErrDesync means the command id embedded in a %begin/%end guard did
	// not match the oldest in-flight command. Correlation state is
	// unrecoverable once this happens; the connection must be torn down.
	ErrDesync = errors.New("control-mode protocol desynchronized")
)

// CommandError is the failure reported by tmux for one command via
// %error. It affects only that command's caller.
type CommandError struct {
	Reason string
}

func (e *CommandError) Error() string {
	if e.Reason == "" {
		return "tmux command failed"
	}
	return "tmux command failed: " + e.Reason
}

// Response is the completed result of one issued command.
type Response struct {
	ID     int
	Output string
	Err    error
}

type pendingCommand struct {
	id    int
	text  string
	lines []string
	open  bool // %begin seen
	ch    chan Response
}

// dispatcher serializes command writes to the control socket and
// correlates %begin/%end/%error blocks with in-flight commands. tmux
// processes commands strictly in order and emits their blocks in the same
// order, so matching is FIFO: the next %begin always belongs to the head
// of the queue, and the embedded id is verified rather than used for
// lookup.
type dispatcher struct {
	mu       sync.Mutex
	w        io.Writer
	nextID   int
	queue    []*pendingCommand
	closed   bool
	closeErr error
}

func newDispatcher(w io.Writer) *dispatcher {
	return &dispatcher{w: w}
}

// bootstrap enqueues the implicit command id 0 that tmux answers with its
// greeting block on connect, without writing anything. The returned
// channel resolves when the greeting %end arrives, signalling that the
// connection is ready for commands.
func (d *dispatcher) bootstrap() <-chan Response {
	d.mu.Lock()
	defer d.mu.Unlock()
	pc := &pendingCommand{id: d.nextID, ch: make(chan Response, 1)}
	d.nextID++
	d.queue = append(d.queue, pc)
	return pc.ch
}

// issue writes one command line and enqueues its pending entry as a
// single atomic step, preserving wire order against concurrent callers.
func (d *dispatcher) issue(text string) (<-chan Response, error) {
	line := strings.TrimSpace(text)
	if line == "" {
		return nil, errors.New("empty command")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, d.closeErr
	}
	if _, err := io.WriteString(d.w, line+"\n"); err != nil {
		return nil, fmt.Errorf("write command: %w", err)
	}
	pc := &pendingCommand{id: d.nextID, text: line, ch: make(chan Response, 1)}
	d.nextID++
	d.queue = append(d.queue, pc)
	return pc.ch, nil
}

// handleBegin validates a %begin guard against the FIFO head. A mismatch
// is a protocol desynchronization and fatal for the connection.
func (d *dispatcher) handleBegin(n Notification) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queue) == 0 {
		return fmt.Errorf("%w: unsolicited %%begin for command %d", ErrDesync, n.CommandID)
	}
	head := d.queue[0]
	if head.open {
		return fmt.Errorf("%w: %%begin %d while command %d still open", ErrDesync, n.CommandID, head.id)
	}
	if n.CommandID != head.id {
		return fmt.Errorf("%w: %%begin id %d, expected %d", ErrDesync, n.CommandID, head.id)
	}
	head.open = true
	return nil
}

// handleBlockLine appends one literal output line to the open command
// block. It reports false when no block is open, in which case the line
// is stray noise for the caller to log.
func (d *dispatcher) handleBlockLine(line string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queue) == 0 || !d.queue[0].open {
		return false
	}
	d.queue[0].lines = append(d.queue[0].lines, line)
	return true
}

// handleEnd completes the open head command successfully.
func (d *dispatcher) handleEnd(n Notification) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	head, err := d.popOpenHeadLocked(n.CommandID, "%end")
	if err != nil {
		return err
	}
	head.ch <- Response{ID: head.id, Output: strings.Join(head.lines, "\n")}
	return nil
}

// handleError resolves a %error notification. The guard form closes the
// open head command as failed. The free-text form fails the open command
// if there is one; otherwise it reports handled=false and the caller
// surfaces it as a connection-level warning.
func (d *dispatcher) handleError(n Notification) (handled bool, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n.Guard {
		head, err := d.popOpenHeadLocked(n.CommandID, "%error")
		if err != nil {
			return true, err
		}
		head.ch <- Response{ID: head.id, Err: &CommandError{Reason: strings.Join(head.lines, "\n")}}
		return true, nil
	}
	if len(d.queue) > 0 && d.queue[0].open {
		head := d.queue[0]
		d.queue = d.queue[1:]
		head.ch <- Response{ID: head.id, Err: &CommandError{Reason: n.Reason}}
		return true, nil
	}
	return false, nil
}

func (d *dispatcher) popOpenHeadLocked(cmdID int, guard string) (*pendingCommand, error) {
	if len(d.queue) == 0 {
		return nil, fmt.Errorf("%w: unsolicited %s for command %d", ErrDesync, guard, cmdID)
	}
	head := d.queue[0]
	if !head.open {
		return nil, fmt.Errorf("%w: %s %d without %%begin", ErrDesync, guard, cmdID)
	}
	if cmdID != head.id {
		return nil, fmt.Errorf("%w: %s id %d, expected %d", ErrDesync, guard, cmdID, head.id)
	}
	d.queue = d.queue[1:]
	return head, nil
}

// failAll fails every in-flight command and refuses future issues. Safe
// to call more than once; only the first error sticks.
func (d *dispatcher) failAll(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.closed {
		d.closed = true
		d.closeErr = err
	}
	for _, pc := range d.queue {
		pc.ch <- Response{ID: pc.id, Err: d.closeErr}
	}
	d.queue = nil
}
