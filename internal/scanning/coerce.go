package scanning

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/width"
)

// CoerceAmount turns a backend-supplied amount into a number. Numbers pass
// through unless negative. Strings are folded to half-width and stripped of
// everything but digits and the decimal point ("₩12,500원" is 12500); a minus
// sign ahead of the first digit makes them negative, so they yield false too.
// Anything else, or a string with no usable residue, yields false.
func CoerceAmount(v any) (float64, bool) {
	switch t := v.(type) {
	case nil:
		return 0, false
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return CoerceAmount(t.String())
		}
		return nonNegative(f)
	case float64:
		return nonNegative(t)
	case float32:
		return nonNegative(float64(t))
	case int:
		return nonNegative(float64(t))
	case int64:
		return nonNegative(float64(t))
	case string:
		return parseAmountString(t)
	}
	return 0, false
}

func nonNegative(f float64) (float64, bool) {
	if f < 0 {
		return 0, false
	}
	return f, true
}

func parseAmountString(s string) (float64, bool) {
	s = width.Fold.String(s)
	var b strings.Builder
	allDigits := true
	for _, r := range s {
		switch {
		case r == '-' || r == '−':
			if b.Len() == 0 {
				return 0, false
			}
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.':
			b.WriteRune(r)
			allDigits = false
		}
	}
	residue := b.String()
	if residue == "" {
		return 0, false
	}
	if allDigits {
		if n, err := strconv.ParseInt(residue, 10, 64); err == nil {
			return float64(n), true
		}
	}
	f, err := strconv.ParseFloat(residue, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// coerceQuantity returns a quantity of at least 1.
func coerceQuantity(v any) int {
	f, ok := CoerceAmount(v)
	if !ok || f < 1 {
		return 1
	}
	return int(f)
}

var datePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(\d{4})[.\-/](\d{1,2})[.\-/](\d{1,2})`),
	regexp.MustCompile(`(\d{2})[.\-/](\d{1,2})[.\-/](\d{1,2})`),
	regexp.MustCompile(`(\d{4})년\s*(\d{1,2})월\s*(\d{1,2})일`),
}

// findDate returns the first date in text whose month is 1-12 and day is
// 1-31, as YYYY-MM-DD. Two digit years are taken as 20xx.
func findDate(text string) (string, bool) {
	for _, p := range datePatterns {
		for _, m := range p.FindAllStringSubmatch(text, -1) {
			year, _ := strconv.Atoi(m[1])
			month, _ := strconv.Atoi(m[2])
			day, _ := strconv.Atoi(m[3])
			if year < 100 {
				year += 2000
			}
			if month >= 1 && month <= 12 && day >= 1 && day <= 31 {
				return fmt.Sprintf("%04d-%02d-%02d", year, month, day), true
			}
		}
	}
	return "", false
}

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"20060102",
	"01/02/2006",
}

// NormalizeDate converts a backend-supplied date to YYYY-MM-DD. Dates that
// cannot be read are reported as missing, never replaced with today.
func NormalizeDate(s string) (string, bool) {
	s = strings.TrimSpace(width.Fold.String(s))
	if s == "" {
		return "", false
	}
	for _, layout := range dateLayouts {
		if d, err := time.Parse(layout, s); err == nil {
			return d.Format("2006-01-02"), true
		}
	}
	return findDate(s)
}
