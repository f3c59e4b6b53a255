// Package controlmode is a client for tmux control mode (tmux -C): it
// spawns or attaches a control-mode tmux process, classifies the
// newline-delimited notification stream, correlates issued commands with
// their %begin/%end response blocks in strict FIFO order, keeps a live
// session → windows → panes tree reconciled from layout strings, and fans
// decoded pane output out to per-pane subscribers.
package controlmode
