package tmuxfmt

import "testing"

func TestJoinUsesUnitSeparator(t *testing.T) {
	got := Join("#{pane_id}", "#{window_id}", "#{pane_title}")
	want := "#{pane_id}\x1f#{window_id}\x1f#{pane_title}"
	if got != want {
		t.Fatalf("Join = %q, want %q", got, want)
	}
}

func TestSplitLine(t *testing.T) {
	cases := []struct {
		name string
		line string
		want []string
	}{
		{"unit separator", "a\x1fb\x1fc", []string{"a", "b", "c"}},
		{"tab fallback", "a\tb\tc", []string{"a", "b", "c"}},
		{"unit separator wins over tabs", "a\x1fb\tc", []string{"a", "b\tc"}},
		{"single field", "plain", []string{"plain"}},
		{"empty fields preserved", "a\x1f\x1fc", []string{"a", "", "c"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := SplitLine(tc.line)
			if len(got) != len(tc.want) {
				t.Fatalf("SplitLine(%q) = %v, want %v", tc.line, got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("field %d = %q, want %q", i, got[i], tc.want[i])
				}
			}
		})
	}
}
