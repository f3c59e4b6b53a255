package controlmode

import (
	"bytes"
	"errors"
	"testing"
)

func mustNote(t *testing.T, line string) Notification {
	t.Helper()
	n, ok := ParseNotification(line)
	if !ok {
		t.Fatalf("parse notification %q", line)
	}
	return n
}

func TestDispatcherAssignsSequentialIDsAndWritesLines(t *testing.T) {
	var buf bytes.Buffer
	d := newDispatcher(&buf)
	d.bootstrap()
	if _, err := d.issue("list-panes"); err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := d.issue("  split-window -v -t %0  "); err != nil {
		t.Fatalf("issue: %v", err)
	}
	want := "list-panes\nsplit-window -v -t %0\n"
	if buf.String() != want {
		t.Fatalf("wire payload = %q, want %q", buf.String(), want)
	}
	if d.queue[1].id != 1 || d.queue[2].id != 2 {
		t.Fatalf("unexpected command ids: %d, %d", d.queue[1].id, d.queue[2].id)
	}
}

func TestDispatcherCorrelatesBlocksInOrder(t *testing.T) {
	var buf bytes.Buffer
	d := newDispatcher(&buf)
	chA, err := d.issue("command-a")
	if err != nil {
		t.Fatalf("issue a: %v", err)
	}
	chB, err := d.issue("command-b")
	if err != nil {
		t.Fatalf("issue b: %v", err)
	}

	if err := d.handleBegin(mustNote(t, "%begin 100 0 1")); err != nil {
		t.Fatalf("begin a: %v", err)
	}
	if !d.handleBlockLine("output of a") {
		t.Fatalf("expected block line to be consumed")
	}
	if err := d.handleEnd(mustNote(t, "%end 100 0 1")); err != nil {
		t.Fatalf("end a: %v", err)
	}
	if err := d.handleBegin(mustNote(t, "%begin 101 1 1")); err != nil {
		t.Fatalf("begin b: %v", err)
	}
	if err := d.handleEnd(mustNote(t, "%end 101 1 1")); err != nil {
		t.Fatalf("end b: %v", err)
	}

	respA := <-chA
	if respA.Err != nil || respA.Output != "output of a" {
		t.Fatalf("unexpected response a: %+v", respA)
	}
	respB := <-chB
	if respB.Err != nil || respB.Output != "" {
		t.Fatalf("unexpected response b: %+v", respB)
	}
}

func TestDispatcherRejectsOutOfOrderBegin(t *testing.T) {
	var buf bytes.Buffer
	d := newDispatcher(&buf)
	if _, err := d.issue("command-a"); err != nil {
		t.Fatalf("issue a: %v", err)
	}
	if _, err := d.issue("command-b"); err != nil {
		t.Fatalf("issue b: %v", err)
	}
	// B's block arriving first must be a desynchronization, never a
	// silent re-match.
	err := d.handleBegin(mustNote(t, "%begin 100 1 1"))
	if !errors.Is(err, ErrDesync) {
		t.Fatalf("expected ErrDesync, got %v", err)
	}
}

func TestDispatcherRejectsUnsolicitedGuards(t *testing.T) {
	var buf bytes.Buffer
	d := newDispatcher(&buf)
	if err := d.handleBegin(mustNote(t, "%begin 100 0 1")); !errors.Is(err, ErrDesync) {
		t.Fatalf("expected ErrDesync for unsolicited begin, got %v", err)
	}
	if err := d.handleEnd(mustNote(t, "%end 100 0 1")); !errors.Is(err, ErrDesync) {
		t.Fatalf("expected ErrDesync for unsolicited end, got %v", err)
	}
}

func TestDispatcherGuardErrorFailsOnlyThatCommand(t *testing.T) {
	var buf bytes.Buffer
	d := newDispatcher(&buf)
	chA, _ := d.issue("bad-command")
	chB, _ := d.issue("good-command")

	if err := d.handleBegin(mustNote(t, "%begin 100 0 1")); err != nil {
		t.Fatalf("begin a: %v", err)
	}
	d.handleBlockLine("unknown command: bad-command")
	handled, err := d.handleError(mustNote(t, "%error 100 0 1"))
	if !handled || err != nil {
		t.Fatalf("handleError = %v, %v", handled, err)
	}

	respA := <-chA
	var cmdErr *CommandError
	if !errors.As(respA.Err, &cmdErr) {
		t.Fatalf("expected CommandError, got %v", respA.Err)
	}
	if cmdErr.Reason != "unknown command: bad-command" {
		t.Fatalf("unexpected reason: %q", cmdErr.Reason)
	}

	// The second command still completes normally.
	if err := d.handleBegin(mustNote(t, "%begin 101 1 1")); err != nil {
		t.Fatalf("begin b: %v", err)
	}
	if err := d.handleEnd(mustNote(t, "%end 101 1 1")); err != nil {
		t.Fatalf("end b: %v", err)
	}
	if resp := <-chB; resp.Err != nil {
		t.Fatalf("unexpected error for b: %v", resp.Err)
	}
}

func TestDispatcherFreeTextErrorWithoutOpenCommandIsUnhandled(t *testing.T) {
	var buf bytes.Buffer
	d := newDispatcher(&buf)
	handled, err := d.handleError(mustNote(t, "%error lost server connection"))
	if err != nil {
		t.Fatalf("handleError: %v", err)
	}
	if handled {
		t.Fatalf("expected standalone error to be unhandled")
	}
}

func TestDispatcherFailAllFailsPendingAndFutureCommands(t *testing.T) {
	var buf bytes.Buffer
	d := newDispatcher(&buf)
	chA, _ := d.issue("command-a")
	chB, _ := d.issue("command-b")

	d.failAll(ErrClosed)

	for _, ch := range []<-chan Response{chA, chB} {
		resp := <-ch
		if !errors.Is(resp.Err, ErrClosed) {
			t.Fatalf("expected ErrClosed, got %v", resp.Err)
		}
	}
	if _, err := d.issue("command-c"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed for post-close issue, got %v", err)
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestDispatcherIssueSurfacesWriteErrors(t *testing.T) {
	d := newDispatcher(failingWriter{})
	if _, err := d.issue("anything"); err == nil {
		t.Fatalf("expected write error")
	}
	if len(d.queue) != 0 {
		t.Fatalf("failed write must not enqueue, queue=%d", len(d.queue))
	}
}
