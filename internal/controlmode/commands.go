package controlmode

import (
	"fmt"
	"strings"

	"github.com/termdeck/termdeck/internal/model"
	"github.com/termdeck/termdeck/internal/tmuxfmt"
)

// Command text builders. Internal ids are sigil-less; the builders re-add
// the % sigil tmux expects in -t targets.

func paneTarget(paneID string) string {
	if strings.HasPrefix(paneID, "%") {
		return paneID
	}
	return "%" + paneID
}

func windowTarget(windowID string) string {
	if strings.HasPrefix(windowID, "@") {
		return windowID
	}
	return "@" + windowID
}

func splitWindowCommand(paneID string, dir model.PaneDirection) string {
	return fmt.Sprintf("split-window %s -t %s", dir.SplitFlag(), paneTarget(paneID))
}

func selectPaneCommand(paneID string, dir model.PaneDirection) string {
	if dir == "" {
		return fmt.Sprintf("select-pane -t %s", paneTarget(paneID))
	}
	return fmt.Sprintf("select-pane %s -t %s", dir.Flag(), paneTarget(paneID))
}

func resizePaneCommand(paneID string, dir model.PaneDirection, cells int) string {
	if cells < 1 {
		cells = 1
	}
	return fmt.Sprintf("resize-pane %s -t %s %d", dir.Flag(), paneTarget(paneID), cells)
}

func killPaneCommand(paneID string) string {
	return fmt.Sprintf("kill-pane -t %s", paneTarget(paneID))
}

func killWindowCommand(windowID string) string {
	return fmt.Sprintf("kill-window -t %s", windowTarget(windowID))
}

func sendKeysCommand(paneID, text string) string {
	return fmt.Sprintf("send-keys -t %s -l -- %s", paneTarget(paneID), shellSingleQuote(text))
}

// paneMetadataFormat drives the list-panes query whose response updates
// pane titles, working directories, and active flags.
var paneMetadataFormat = tmuxfmt.Join(
	"#{pane_id}",
	"#{window_id}",
	"#{window_name}",
	"#{pane_title}",
	"#{pane_current_path}",
	"#{pane_active}",
	"#{window_active}",
)

func listPanesCommand() string {
	return fmt.Sprintf("list-panes -s -F %s", shellSingleQuote(paneMetadataFormat))
}

// ParsePaneMetadata parses the output block of the list-panes metadata
// query. Lines that do not match the expected field count are skipped.
func ParsePaneMetadata(output string) []PaneMetadata {
	var rows []PaneMetadata
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := tmuxfmt.SplitLine(line)
		if len(fields) != 7 {
			continue
		}
		rows = append(rows, PaneMetadata{
			PaneID:       strings.TrimPrefix(fields[0], "%"),
			WindowID:     strings.TrimPrefix(fields[1], "@"),
			WindowName:   fields[2],
			Title:        fields[3],
			Path:         fields[4],
			Active:       fields[5] == "1",
			WindowActive: fields[6] == "1",
		})
	}
	return rows
}

// shellSingleQuote wraps raw in single quotes for tmux's command parser,
// escaping embedded single quotes.
func shellSingleQuote(raw string) string {
	if raw == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(raw, "'", `'\''`) + "'"
}
