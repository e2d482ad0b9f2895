package cardnum

import (
	"strings"
)

// Length is the card number length accepted at the ATM.
const Length = 16

func IsDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Normalize strips spaces, tabs and dashes.
func Normalize(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '-':
			return -1
		default:
			return r
		}
	}, s)
}

// Valid reports whether s is a normalized 16-digit card number.
func Valid(s string) bool {
	return len(s) == Length && IsDigits(s)
}

func LastN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// Mask keeps the first and last four digits, e.g. 1234********3456.
// Anything shorter than nine characters is fully masked except the last four.
func Mask(number string) string {
	cleaned := Normalize(number)
	n := len(cleaned)
	switch {
	case n == 0:
		return ""
	case n <= 4:
		return strings.Repeat("*", n)
	case n < 9:
		return strings.Repeat("*", n-4) + LastN(cleaned, 4)
	}
	return cleaned[:4] + strings.Repeat("*", n-8) + LastN(cleaned, 4)
}
