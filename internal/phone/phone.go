// Package phone normalizes phone numbers recovered from listings.
package phone

import "strings"

// Format strips everything except digits and a leading plus, then rewrites a
// leading national trunk digit (8 or 7) to the +7 international prefix.
func Format(raw string) string {
	cleaned := clean(raw)
	switch {
	case cleaned == "":
		return ""
	case strings.HasPrefix(cleaned, "8"), strings.HasPrefix(cleaned, "7"):
		return "+7" + cleaned[1:]
	}
	return cleaned
}

// Digits returns only the digits of raw.
func Digits(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// clean keeps digits and a plus sign in the first position only.
func clean(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && b.Len() == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}
