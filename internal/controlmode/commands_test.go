package controlmode

import (
	"testing"

	"github.com/termdeck/termdeck/internal/model"
)

func TestCommandBuilders(t *testing.T) {
	cases := []struct {
		name string
		got  string
		want string
	}{
		{"split down", splitWindowCommand("3", model.DirectionDown), "split-window -v -t %3"},
		{"split right", splitWindowCommand("3", model.DirectionRight), "split-window -h -t %3"},
		{"select by id", selectPaneCommand("10", ""), "select-pane -t %10"},
		{"select up", selectPaneCommand("10", model.DirectionUp), "select-pane -U -t %10"},
		{"resize left", resizePaneCommand("2", model.DirectionLeft, 5), "resize-pane -L -t %2 5"},
		{"resize clamps cells", resizePaneCommand("2", model.DirectionUp, 0), "resize-pane -U -t %2 1"},
		{"kill pane", killPaneCommand("7"), "kill-pane -t %7"},
		{"kill pane keeps sigil", killPaneCommand("%7"), "kill-pane -t %7"},
		{"kill window", killWindowCommand("4"), "kill-window -t @4"},
		{"send keys quotes text", sendKeysCommand("1", "echo 'hi'"), `send-keys -t %1 -l -- 'echo '\''hi'\'''`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.got != tc.want {
				t.Fatalf("got %q, want %q", tc.got, tc.want)
			}
		})
	}
}

func TestParsePaneMetadata(t *testing.T) {
	output := "%0\x1f@0\x1fmain\x1fzsh\x1f/home/dev\x1f1\x1f1\n" +
		"%3\x1f@0\x1fmain\x1fvim\x1f/home/dev/project\x1f0\x1f1\n" +
		"\n" +
		"not a metadata line"
	rows := ParsePaneMetadata(output)
	if len(rows) != 2 {
		t.Fatalf("row count = %d, want 2 (%v)", len(rows), rows)
	}
	first := PaneMetadata{
		PaneID: "0", WindowID: "0", WindowName: "main",
		Title: "zsh", Path: "/home/dev", Active: true, WindowActive: true,
	}
	if rows[0] != first {
		t.Fatalf("rows[0] = %+v, want %+v", rows[0], first)
	}
	if rows[1].PaneID != "3" || rows[1].Active {
		t.Fatalf("rows[1] = %+v", rows[1])
	}
}
