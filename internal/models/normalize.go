package models

import (
	"fmt"
	"strings"
	"unicode"
)

// NormalizePhone keeps only digits and rewrites the 84 country prefix to a leading 0
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if strings.HasPrefix(digits, "84") && len(digits) == 11 {
		digits = "0" + digits[2:]
	}
	return digits
}

// ValidPhone reports whether p, after normalization, is a 10-digit Vietnamese number
func ValidPhone(p string) bool {
	p = NormalizePhone(p)
	if len(p) != 10 || p[0] != '0' {
		return false
	}
	return true
}

// NormalizeOrderCode trims and upper-cases an order code
func NormalizeOrderCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// NormalizeColor turns "#abc", "abc" or "#AABBCC" into "#AABBCC".
// Empty input stays empty.
func NormalizeColor(color string) (string, error) {
	c := strings.TrimPrefix(strings.TrimSpace(color), "#")
	if c == "" {
		return "", nil
	}
	if len(c) == 3 {
		c = string([]byte{c[0], c[0], c[1], c[1], c[2], c[2]})
	}
	if len(c) != 6 {
		return "", fmt.Errorf("invalid color %q", color)
	}
	for _, r := range c {
		if !strings.ContainsRune("0123456789abcdefABCDEF", r) {
			return "", fmt.Errorf("invalid color %q", color)
		}
	}
	return "#" + strings.ToUpper(c), nil
}
