package model

import "time"

// PaneDirection selects the side or axis for split, select, and resize
// commands.
type PaneDirection string

const (
	DirectionUp    PaneDirection = "up"
	DirectionDown  PaneDirection = "down"
	DirectionLeft  PaneDirection = "left"
	DirectionRight PaneDirection = "right"
)

// Flag returns the tmux directional flag (-U/-D/-L/-R) for select-pane
// and resize-pane.
func (d PaneDirection) Flag() string {
	switch d {
	case DirectionUp:
		return "-U"
	case DirectionDown:
		return "-D"
	case DirectionLeft:
		return "-L"
	case DirectionRight:
		return "-R"
	default:
		return ""
	}
}

// SplitFlag returns the split-window axis flag: -v for up/down, -h for
// left/right.
func (d PaneDirection) SplitFlag() string {
	switch d {
	case DirectionUp, DirectionDown:
		return "-v"
	case DirectionLeft, DirectionRight:
		return "-h"
	default:
		return ""
	}
}

// Valid reports whether the direction is one of the four known values.
func (d PaneDirection) Valid() bool {
	switch d {
	case DirectionUp, DirectionDown, DirectionLeft, DirectionRight:
		return true
	default:
		return false
	}
}

// PaneGeometry is a pane's cell rectangle within its window, as parsed
// from the window layout string.
type PaneGeometry struct {
	Width  int
	Height int
	X      int
	Y      int
}

// PaneSnapshot is an immutable copy of one pane's state.
type PaneSnapshot struct {
	ID         string
	WindowID   string
	Geometry   PaneGeometry
	Title      string
	Path       string
	InCopyMode bool
	Active     bool
}

// WindowSnapshot is an immutable copy of one window's state. Panes are
// ordered by pane id.
type WindowSnapshot struct {
	ID     string
	Name   string
	Layout string
	Active bool
	Panes  []PaneSnapshot
}

// SessionSnapshot is an immutable copy of the attached session's tree.
// Windows are ordered by window id.
type SessionSnapshot struct {
	ID      string
	Name    string
	Closed  bool
	Windows []WindowSnapshot
}

// SessionInfo is one row from the tmux session listing used by the
// attach picker.
type SessionInfo struct {
	Name     string
	Windows  int
	Attached bool
	Created  time.Time
}

// ServerHealth classifies tmux server reachability from recent probe
// results.
type ServerHealth string

const (
	HealthOK       ServerHealth = "ok"
	HealthDegraded ServerHealth = "degraded"
	HealthDown     ServerHealth = "down"
)

// Error codes defined by the stream API contract.
const (
	ErrSessionNotFound  = "E_SESSION_NOT_FOUND"
	ErrPaneNotFound     = "E_PANE_NOT_FOUND"
	ErrConnectionClosed = "E_CONNECTION_CLOSED"
	ErrProtocolDesync   = "E_PROTOCOL_DESYNC"
	ErrCommandFailed    = "E_COMMAND_FAILED"
	ErrBadRequest       = "E_BAD_REQUEST"
	ErrTmuxUnavailable  = "E_TMUX_UNAVAILABLE"
)
