// Package render formats deals, runs, gate decisions and comparisons for the
// terminal.
package render

import (
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Dash is printed for absent values.
const Dash = "-"

var printer = message.NewPrinter(language.AmericanEnglish)

// Money formats whole dollars with grouping, e.g. "$10,400,000" or
// "-$675,000".
func Money(v float64) string {
	if v < 0 {
		return "-" + printer.Sprintf("$%.0f", -v)
	}
	return printer.Sprintf("$%.0f", v)
}

// MoneyPtr is Money for optional values.
func MoneyPtr(v *float64) string {
	if v == nil {
		return Dash
	}
	return Money(*v)
}

// Percent formats a fraction as a percentage with two decimals.
func Percent(v float64) string {
	return printer.Sprintf("%.2f%%", v*100)
}

// Ratio formats a coverage ratio or multiple with two decimals.
func Ratio(v float64) string {
	return printer.Sprintf("%.2f", v)
}

// Number formats a plain number with grouping and up to two decimals.
func Number(v float64) string {
	if v == float64(int64(v)) {
		return printer.Sprintf("%d", int64(v))
	}
	return printer.Sprintf("%.2f", v)
}

// Timestamp formats a time for tables. The zero time renders as Dash.
func Timestamp(t time.Time) string {
	if t.IsZero() {
		return Dash
	}
	return t.Local().Format("2006-01-02 15:04")
}

// Str dereferences an optional string.
func Str(s *string) string {
	if s == nil || *s == "" {
		return Dash
	}
	return *s
}

// Input formats a run input by its key: rates and percentages as percents,
// amounts as money.
func Input(key string, v float64) string {
	switch {
	case isRateKey(key), strings.HasSuffix(key, "_pct"):
		return Percent(v)
	default:
		return Money(v)
	}
}

// Output formats a run output by its key. Non-numeric values are printed as
// they are.
func Output(key string, v any) string {
	f, ok := v.(float64)
	if !ok {
		if v == nil {
			return Dash
		}
		if s, ok := v.(string); ok {
			return s
		}
		return printer.Sprint(v)
	}
	switch {
	case strings.HasSuffix(key, "_dscr"), strings.HasSuffix(key, "_multiple"):
		return Ratio(f)
	case isRateKey(key), strings.HasSuffix(key, "_ratio"), strings.Contains(key, "yield"):
		return Percent(f)
	default:
		return Money(f)
	}
}

func isRateKey(key string) bool {
	return key == "ltc" || strings.HasSuffix(key, "_rate")
}
