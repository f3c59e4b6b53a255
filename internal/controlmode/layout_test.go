package controlmode

import (
	"testing"

	"github.com/termdeck/termdeck/internal/model"
)

func TestParseLayoutSinglePane(t *testing.T) {
	panes, err := ParseLayout("80x24,0,0,0")
	if err != nil {
		t.Fatalf("parse layout: %v", err)
	}
	want := map[string]model.PaneGeometry{
		"0": {Width: 80, Height: 24, X: 0, Y: 0},
	}
	assertLayout(t, panes, want)
}

func TestParseLayoutHorizontalSplit(t *testing.T) {
	panes, err := ParseLayout("177x42,0,0{88x42,0,0,0,88x42,89,0,1}")
	if err != nil {
		t.Fatalf("parse layout: %v", err)
	}
	want := map[string]model.PaneGeometry{
		"0": {Width: 88, Height: 42, X: 0, Y: 0},
		"1": {Width: 88, Height: 42, X: 89, Y: 0},
	}
	assertLayout(t, panes, want)
}

func TestParseLayoutVerticalSplit(t *testing.T) {
	panes, err := ParseLayout("80x24,0,0[40x12,0,0,0,39x11,0,13,1]")
	if err != nil {
		t.Fatalf("parse layout: %v", err)
	}
	want := map[string]model.PaneGeometry{
		"0": {Width: 40, Height: 12, X: 0, Y: 0},
		"1": {Width: 39, Height: 11, X: 0, Y: 13},
	}
	assertLayout(t, panes, want)
}

func TestParseLayoutNestedGroups(t *testing.T) {
	// Horizontal split whose right side is itself a vertical split.
	raw := "160x48,0,0{80x48,0,0,3,79x48,81,0[79x24,81,0,5,79x23,81,25,8]}"
	panes, err := ParseLayout(raw)
	if err != nil {
		t.Fatalf("parse layout: %v", err)
	}
	want := map[string]model.PaneGeometry{
		"3": {Width: 80, Height: 48, X: 0, Y: 0},
		"5": {Width: 79, Height: 24, X: 81, Y: 0},
		"8": {Width: 79, Height: 23, X: 81, Y: 25},
	}
	assertLayout(t, panes, want)
}

func TestParseLayoutSkipsChecksumPrefix(t *testing.T) {
	panes, err := ParseLayout("8cee,302x85,0,0,42")
	if err != nil {
		t.Fatalf("parse layout: %v", err)
	}
	want := map[string]model.PaneGeometry{
		"42": {Width: 302, Height: 85, X: 0, Y: 0},
	}
	assertLayout(t, panes, want)
}

func TestParseLayoutRejectsMalformedInput(t *testing.T) {
	cases := []string{
		"",
		"garbage",
		"80x24",
		"80x24,0,0",
		"80x24,0,0{40x24,0,0,0",
		"80x24,0,0{40x24,0,0,0]",
		"80x24,0,0,0trailing",
		"80x24,0,0{}",
	}
	for _, tc := range cases {
		if panes, err := ParseLayout(tc); err == nil {
			t.Fatalf("expected parse failure for %q, got %v", tc, panes)
		}
	}
}

func assertLayout(t *testing.T, got, want map[string]model.PaneGeometry) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("pane count = %d, want %d (got %v)", len(got), len(want), got)
	}
	for id, geo := range want {
		if got[id] != geo {
			t.Fatalf("pane %s geometry = %+v, want %+v", id, got[id], geo)
		}
	}
}
