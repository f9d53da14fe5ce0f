package engine

import (
	"strconv"
	"strings"
)

// ParseAmount turns bookmaker-rendered numbers into a float, tolerating
// both European and US separator conventions. Rules:
//
//   - everything except digits, comma and dot is stripped
//   - with both separators present, the one appearing later in the
//     string is the decimal point; the other is thousands and removed
//   - with only commas present, the comma is the decimal point
//   - anything unparsable yields 0.0, which callers treat as "absent"
func ParseAmount(raw string) float64 {
	var b strings.Builder
	for _, r := range raw {
		if (r >= '0' && r <= '9') || r == ',' || r == '.' {
			b.WriteRune(r)
		}
	}
	s := b.String()
	if s == "" {
		return 0.0
	}

	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")

	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			// "1.234,56" -> dot is thousands, comma is decimal
			s = strings.ReplaceAll(s, ".", "")
			s = strings.ReplaceAll(s, ",", ".")
		} else {
			// "1,234.56" -> comma is thousands
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		s = strings.ReplaceAll(s, ",", ".")
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0.0
	}
	return v
}
