// Package transform holds the pure value transforms applied to mapped values
// before validation. Every function is side-effect free: same input, same
// output.
package transform

import (
	"fmt"
	"strings"
	"time"

	"github.com/crm-migration-api/internal/models"
)

// dateLayouts are the accepted source date shapes, tried in order
var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"01-02-2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
	time.RFC3339,
}

// Apply runs the named transformation on a value. An unknown transformation
// name is an error; the validation engine captures it as a per-row system
// error without touching other rows.
func Apply(name models.Transformation, value string) (string, error) {
	switch name {
	case "", models.TransformTrim:
		return strings.TrimSpace(value), nil
	case models.TransformUppercase:
		return strings.ToUpper(strings.TrimSpace(value)), nil
	case models.TransformLowercase:
		return strings.ToLower(strings.TrimSpace(value)), nil
	case models.TransformCapitalize:
		return capitalize(strings.TrimSpace(value)), nil
	case models.TransformPhoneFormat:
		return formatPhone(value), nil
	case models.TransformDateFormat:
		return formatDate(value), nil
	default:
		return value, fmt.Errorf("unknown transformation %q", name)
	}
}

// capitalize upper-cases the first letter of each word and lower-cases the
// rest
func capitalize(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		r := []rune(w)
		r[0] = []rune(strings.ToUpper(string(r[0])))[0]
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

// formatPhone normalizes NANP numbers to (XXX) XXX-XXXX. Anything that is not
// 10 digits (or 11 with a leading 1) keeps its digits unformatted so the
// phone format rule can judge it.
func formatPhone(s string) string {
	digits := keepDigits(s)
	switch {
	case len(digits) == 10:
		return fmt.Sprintf("(%s) %s-%s", digits[:3], digits[3:6], digits[6:])
	case len(digits) == 11 && digits[0] == '1':
		return fmt.Sprintf("+1 (%s) %s-%s", digits[1:4], digits[4:7], digits[7:])
	default:
		return digits
	}
}

// formatDate normalizes parseable dates to YYYY-MM-DD. Unparseable input is
// passed through unchanged so the date format rule reports it as a format
// error instead of a transform failure.
func formatDate(s string) string {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return ""
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, trimmed); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return trimmed
}

// ParseDate parses a value against the accepted layouts. Out-of-range
// components (month 13, day 45) fail rather than being clamped.
func ParseDate(s string) (time.Time, error) {
	trimmed := strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, trimmed); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", s)
}

// Digits strips everything but digits from a value
func Digits(s string) string {
	return keepDigits(s)
}

func keepDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
