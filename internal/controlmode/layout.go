package controlmode

import (
	"errors"
	"fmt"

	"github.com/termdeck/termdeck/internal/model"
)

// ParseLayout parses one window's layout string into a flat pane-id →
// geometry map. The grammar is a tree of cells: every cell starts with
// WxH,X,Y and is either a pane terminal (,ID), a horizontal split group
// ({cell,cell,...}), or a vertical split group ([cell,cell,...]). tmux
// prefixes the whole string with a four-hex-digit checksum and a comma,
// which is accepted and skipped.
//
// Only the flat id → geometry mapping is returned; the nesting structure
// itself is not needed by the synchronizer. A string that fails the
// grammar yields a nil map and an error so the caller can keep the
// previous known geometry.
func ParseLayout(raw string) (map[string]model.PaneGeometry, error) {
	s := stripLayoutChecksum(raw)
	if s == "" {
		return nil, errors.New("empty layout string")
	}
	sc := &layoutScanner{input: s}
	panes := make(map[string]model.PaneGeometry)
	if err := sc.parseCell(panes); err != nil {
		return nil, err
	}
	if sc.pos != len(sc.input) {
		return nil, fmt.Errorf("trailing layout input at offset %d", sc.pos)
	}
	if len(panes) == 0 {
		return nil, errors.New("layout contains no panes")
	}
	return panes, nil
}

// stripLayoutChecksum removes the leading "hhhh," checksum tmux puts in
// front of the layout body, when present.
func stripLayoutChecksum(raw string) string {
	if len(raw) >= 5 && raw[4] == ',' && isHex4(raw[:4]) {
		return raw[5:]
	}
	return raw
}

func isHex4(s string) bool {
	for i := 0; i < len(s); i++ {
		b := s[i]
		if (b < '0' || b > '9') && (b < 'a' || b > 'f') {
			return false
		}
	}
	return len(s) == 4
}

type layoutScanner struct {
	input string
	pos   int
}

func (s *layoutScanner) peek() byte {
	if s.pos >= len(s.input) {
		return 0
	}
	return s.input[s.pos]
}

func (s *layoutScanner) parseCell(panes map[string]model.PaneGeometry) error {
	geo, err := s.parseGeometry()
	if err != nil {
		return err
	}
	switch s.peek() {
	case '{':
		return s.parseGroup('}', panes)
	case '[':
		return s.parseGroup(']', panes)
	case ',':
		s.pos++
		id, err := s.parseDigits()
		if err != nil {
			return fmt.Errorf("pane id: %w", err)
		}
		panes[id] = geo
		return nil
	default:
		return fmt.Errorf("expected pane id or split group at offset %d", s.pos)
	}
}

func (s *layoutScanner) parseGroup(closing byte, panes map[string]model.PaneGeometry) error {
	s.pos++ // opening bracket
	for {
		if err := s.parseCell(panes); err != nil {
			return err
		}
		switch s.peek() {
		case ',':
			s.pos++
		case closing:
			s.pos++
			return nil
		default:
			return fmt.Errorf("expected ',' or %q at offset %d", string(closing), s.pos)
		}
	}
}

func (s *layoutScanner) parseGeometry() (model.PaneGeometry, error) {
	var geo model.PaneGeometry
	w, err := s.parseNumber()
	if err != nil {
		return geo, fmt.Errorf("width: %w", err)
	}
	if err := s.expect('x'); err != nil {
		return geo, err
	}
	h, err := s.parseNumber()
	if err != nil {
		return geo, fmt.Errorf("height: %w", err)
	}
	if err := s.expect(','); err != nil {
		return geo, err
	}
	x, err := s.parseNumber()
	if err != nil {
		return geo, fmt.Errorf("x: %w", err)
	}
	if err := s.expect(','); err != nil {
		return geo, err
	}
	y, err := s.parseNumber()
	if err != nil {
		return geo, fmt.Errorf("y: %w", err)
	}
	geo.Width, geo.Height, geo.X, geo.Y = w, h, x, y
	return geo, nil
}

func (s *layoutScanner) expect(b byte) error {
	if s.peek() != b {
		return fmt.Errorf("expected %q at offset %d", string(b), s.pos)
	}
	s.pos++
	return nil
}

func (s *layoutScanner) parseDigits() (string, error) {
	start := s.pos
	for s.pos < len(s.input) && s.input[s.pos] >= '0' && s.input[s.pos] <= '9' {
		s.pos++
	}
	if s.pos == start {
		return "", fmt.Errorf("expected digits at offset %d", start)
	}
	return s.input[start:s.pos], nil
}

func (s *layoutScanner) parseNumber() (int, error) {
	digits, err := s.parseDigits()
	if err != nil {
		return 0, err
	}
	v := 0
	for i := 0; i < len(digits); i++ {
		v = v*10 + int(digits[i]-'0')
	}
	return v, nil
}
