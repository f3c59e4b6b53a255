package controlmode

// DecodePercent turns a percent-escaped control-mode payload back into raw
// bytes. Escapes are exactly three characters: '%' followed by two hex
// digits encoding one byte. A '%' that is not followed by two hex digits
// passes through literally; the function never fails on malformed input.
// Multi-byte UTF-8 sequences round-trip because each byte is escaped
// independently, and ESC/CSI bytes are ordinary payload content here.
func DecodePercent(raw string) []byte {
	out := make([]byte, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		ch := raw[i]
		if ch != '%' || i+2 >= len(raw) {
			out = append(out, ch)
			continue
		}
		hi, okHi := hexNibble(raw[i+1])
		lo, okLo := hexNibble(raw[i+2])
		if !okHi || !okLo {
			out = append(out, ch)
			continue
		}
		out = append(out, hi<<4|lo)
		i += 2
	}
	return out
}

func hexNibble(b byte) (byte, bool) {
	switch {
	case b >= '0' && b <= '9':
		return b - '0', true
	case b >= 'a' && b <= 'f':
		return b - 'a' + 10, true
	case b >= 'A' && b <= 'F':
		return b - 'A' + 10, true
	default:
		return 0, false
	}
}
