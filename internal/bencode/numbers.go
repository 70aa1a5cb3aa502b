package bencode

import "fmt"

// parseNonNegativeInt parses a string-length prefix: plain decimal
// digits, no sign, no leading zeros except the single digit "0".
func parseNonNegativeInt(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, fmt.Errorf("empty length")
	}
	if len(b) > 1 && b[0] == '0' {
		return 0, fmt.Errorf("leading zero in length")
	}
	n := 0
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("non-digit in length")
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}

// parseSignedInt parses a bencode integer body (between 'i' and 'e'):
// an optional '-' followed by decimal digits. Rejects "-0" and leading
// zeros on multi-digit magnitudes, per the canonical grammar.
func parseSignedInt(b []byte) (int64, error) {
	if len(b) == 0 {
		return 0, fmt.Errorf("empty integer")
	}
	neg := false
	digits := b
	if b[0] == '-' {
		neg = true
		digits = b[1:]
	}
	if len(digits) == 0 {
		return 0, fmt.Errorf("missing digits")
	}
	if digits[0] == '0' && len(digits) > 1 {
		return 0, fmt.Errorf("leading zero")
	}
	if neg && digits[0] == '0' {
		return 0, fmt.Errorf("negative zero")
	}
	var n int64
	for _, c := range digits {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("non-digit in integer")
		}
		n = n*10 + int64(c-'0')
	}
	if neg {
		n = -n
	}
	return n, nil
}
