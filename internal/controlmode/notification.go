package controlmode

import (
	"strconv"
	"strings"
)

// NotificationKind discriminates classified control-mode lines.
type NotificationKind string

const (
	NoteSessionChanged  NotificationKind = "session-changed"
	NoteWindowAdd       NotificationKind = "window-add"
	NoteWindowClose     NotificationKind = "window-close"
	NoteWindowRenamed   NotificationKind = "window-renamed"
	NoteLayoutChange    NotificationKind = "layout-change"
	NoteOutput          NotificationKind = "output"
	NotePaneModeChanged NotificationKind = "pane-mode-changed"
	NoteBegin           NotificationKind = "begin"
	NoteEnd             NotificationKind = "end"
	NoteError           NotificationKind = "error"
	NoteExit            NotificationKind = "exit"
)

// Notification is the classified form of one %-prefixed control line.
// Kind selects which fields are meaningful. Window and pane ids are
// stored without their @/% sigils so they unify with the ids embedded in
// layout strings; session ids keep their $ sigil.
type Notification struct {
	Kind NotificationKind

	SessionID   string
	SessionName string

	WindowID   string
	WindowName string
	LayoutRaw  string

	PaneID  string
	Payload string

	// Guard fields for begin/end and the guard form of error.
	Timestamp int64
	CommandID int
	Flags     int
	Guard     bool

	Reason string
	Raw    string
}

// ParseNotification classifies one control-mode line. The line must start
// with '%'; anything else is literal command output and not a
// notification. Unrecognized notification names return ok=false and are
// ignored by the caller — tmux emits more notification types than this
// client acts on.
func ParseNotification(raw string) (Notification, bool) {
	line := strings.TrimRight(raw, "\r\n")
	if !strings.HasPrefix(line, "%") {
		return Notification{}, false
	}
	name, rest, _ := cutToken(line[1:])
	n := Notification{Raw: line}
	switch name {
	case "session-changed":
		id, tail, ok := cutToken(rest)
		if !ok {
			return Notification{}, false
		}
		n.Kind = NoteSessionChanged
		n.SessionID = id
		n.SessionName = tail
	case "window-add":
		id, _, ok := cutToken(rest)
		if !ok {
			return Notification{}, false
		}
		n.Kind = NoteWindowAdd
		n.WindowID = strings.TrimPrefix(id, "@")
	case "window-close":
		id, _, ok := cutToken(rest)
		if !ok {
			return Notification{}, false
		}
		n.Kind = NoteWindowClose
		n.WindowID = strings.TrimPrefix(id, "@")
	case "window-renamed":
		id, tail, ok := cutToken(rest)
		if !ok {
			return Notification{}, false
		}
		n.Kind = NoteWindowRenamed
		n.WindowID = strings.TrimPrefix(id, "@")
		n.WindowName = tail
	case "layout-change":
		id, tail, ok := cutToken(rest)
		if !ok {
			return Notification{}, false
		}
		// tmux may append the visible layout and window flags after the
		// layout string; only the first token is the layout itself.
		layout, _, ok := cutToken(tail)
		if !ok {
			return Notification{}, false
		}
		n.Kind = NoteLayoutChange
		n.WindowID = strings.TrimPrefix(id, "@")
		n.LayoutRaw = layout
	case "output":
		// The payload is everything after the single space following the
		// pane id, preserved verbatim: leading spaces are data.
		pane, payload, _ := strings.Cut(rest, " ")
		if pane == "" {
			return Notification{}, false
		}
		n.Kind = NoteOutput
		n.PaneID = strings.TrimPrefix(pane, "%")
		n.Payload = payload
	case "pane-mode-changed":
		id, _, ok := cutToken(rest)
		if !ok {
			return Notification{}, false
		}
		n.Kind = NotePaneModeChanged
		n.PaneID = strings.TrimPrefix(id, "%")
	case "begin", "end":
		ts, cmdID, flags, ok := parseGuardArgs(rest)
		if !ok {
			return Notification{}, false
		}
		if name == "begin" {
			n.Kind = NoteBegin
		} else {
			n.Kind = NoteEnd
		}
		n.Timestamp, n.CommandID, n.Flags, n.Guard = ts, cmdID, flags, true
	case "error":
		// Two forms: the guard form "%error <ts> <id> <flags>" closing a
		// command block, and a free-text asynchronous error.
		if ts, cmdID, flags, ok := parseGuardArgs(rest); ok {
			n.Kind = NoteError
			n.Timestamp, n.CommandID, n.Flags, n.Guard = ts, cmdID, flags, true
		} else {
			n.Kind = NoteError
			n.Reason = rest
		}
	case "exit":
		n.Kind = NoteExit
		n.Reason = rest
	default:
		return Notification{}, false
	}
	return n, true
}

func parseGuardArgs(rest string) (ts int64, cmdID int, flags int, ok bool) {
	f := strings.Fields(rest)
	if len(f) != 3 {
		return 0, 0, 0, false
	}
	t, err := strconv.ParseInt(f[0], 10, 64)
	if err != nil {
		return 0, 0, 0, false
	}
	id, err := strconv.Atoi(f[1])
	if err != nil {
		return 0, 0, 0, false
	}
	fl, err := strconv.Atoi(f[2])
	if err != nil {
		return 0, 0, 0, false
	}
	return t, id, fl, true
}

// cutToken splits off the first whitespace-delimited token and returns it
// with the remainder (leading whitespace trimmed).
func cutToken(raw string) (token string, tail string, ok bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", "", false
	}
	idx := strings.IndexAny(trimmed, " \t")
	if idx < 0 {
		return trimmed, "", true
	}
	return trimmed[:idx], strings.TrimLeft(trimmed[idx:], " \t"), true
}
