package scale

import (
	"strconv"
	"strings"
)

// FormatWeight renders w with a fixed number of decimals and left-pads it
// with spaces to width-1 characters. A number that is already at least that
// wide is returned as is. Width <= 0 disables padding.
func FormatWeight(w float64, width, decimals int) string {
	if decimals < 0 {
		decimals = 0
	}

	s := strconv.FormatFloat(w, 'f', decimals, 64)
	if isNegativeZero(s) {
		s = s[1:]
	}

	if width <= 0 {
		return s
	}

	pad := (width - 1) - len(s)
	if pad <= 0 {
		return s
	}

	return strings.Repeat(" ", pad) + s
}

// isNegativeZero reports whether s is "-0", "-0.0", "-0.00" and so on.
func isNegativeZero(s string) bool {
	if !strings.HasPrefix(s, "-") {
		return false
	}
	return strings.Trim(s[1:], "0.") == ""
}
