// Package core provides amount and timestamp coercion for expense records.
//
// Backend payloads are not trusted to be well formed: amounts may arrive as
// numbers, numeric strings or garbage, timestamps in several layouts or not
// at all. Coercion here never fails; bad input becomes zero or absent.
package core

import (
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// groupedAmount matches amounts with comma thousands separators, the way
// FormatAmount writes them and the mobile-money SMS reports them.
var groupedAmount = regexp.MustCompile(`^\d{1,3}(,\d{3})+(\.\d+)?$`)

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// ParseAmount converts a decimal string to a non-negative amount.
//
// The decimal separator is a dot. Commas are accepted only as thousands
// grouping. Empty, malformed and negative values coerce to zero.
//
// Examples:
//
//	ParseAmount("12.34")    -> 12.34
//	ParseAmount("1,500")    -> 1500
//	ParseAmount("12,34")    -> 0
//	ParseAmount("-5")       -> 0
//	ParseAmount("abc")      -> 0
func ParseAmount(s string) decimal.Decimal {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero
	}
	if strings.Contains(s, ",") {
		if !groupedAmount.MatchString(s) {
			return decimal.Zero
		}
		s = strings.ReplaceAll(s, ",", "")
	}
	d, err := decimal.NewFromString(s)
	if err != nil || d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// ParseTimestamp parses the timestamp layouts the backend is known to emit.
// Values without a zone are read in loc (time.Local when nil). The second
// result is false when s is empty or unparseable.
func ParseTimestamp(s string, loc *time.Location) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.Local
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// FormatAmount renders an amount for display, grouped by thousands and
// rounded to two decimals, followed by the currency label when given.
func FormatAmount(d decimal.Decimal, currency string) string {
	s := d.Round(2).String()
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	intPart, frac, hasFrac := strings.Cut(s, ".")

	var b strings.Builder
	b.WriteString(sign)
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if hasFrac {
		b.WriteByte('.')
		b.WriteString(frac)
	}
	if currency != "" {
		b.WriteByte(' ')
		b.WriteString(currency)
	}
	return b.String()
}
