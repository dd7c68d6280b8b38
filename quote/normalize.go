package quote

import (
	"math"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// leadingNumber mirrors a lenient float parse: the longest numeric prefix wins
// and anything after it is ignored.
var leadingNumber = regexp.MustCompile(`^-?(?:\d+(?:\.\d*)?|\.\d+)`)

// MaxMagnitude 以上的数值视为页面噪声；float64 在这个量级已保不住两位小数。
const MaxMagnitude = 1e15

// Normalize converts a locale formatted number ("6.480,50", "1.175") into
// a float rounded to two decimals. Input that does not parse, is not finite
// or exceeds MaxMagnitude yields 0, the unknown-value sentinel.
func Normalize(raw string) float64 {
	if raw == "" {
		return 0
	}
	cleaned := stripNonNumeric(raw)
	cleaned = dropThousandsDots(cleaned)
	cleaned = strings.Replace(cleaned, ",", ".", 1)

	prefix := leadingNumber.FindString(cleaned)
	if prefix == "" {
		return 0
	}
	d, err := decimal.NewFromString(canonicalNumber(prefix))
	if err != nil {
		return 0
	}
	v := roundTo(d, 2)
	if math.Abs(v) > MaxMagnitude {
		return 0
	}
	return v
}

func stripNonNumeric(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == ',' || r == '.' || r == '-' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// dropThousandsDots removes every '.' whose next three bytes are digits.
// The lookahead is evaluated against the input, so "1.234.567" loses both dots.
func dropThousandsDots(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '.' && isDigit(s, i+1) && isDigit(s, i+2) && isDigit(s, i+3) {
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func isDigit(s string, i int) bool {
	return i < len(s) && s[i] >= '0' && s[i] <= '9'
}

// canonicalNumber pads forms like ".5", "-.5" and "12." so decimal accepts them.
func canonicalNumber(s string) string {
	s = strings.TrimSuffix(s, ".")
	switch {
	case strings.HasPrefix(s, "-."):
		return "-0" + s[1:]
	case strings.HasPrefix(s, "."):
		return "0" + s
	}
	return s
}

// roundTo rounds half away from zero and converts back to float64.
// A value that overflows float64 comes back as 0.
func roundTo(d decimal.Decimal, places int32) float64 {
	f, ok := toFinite(d.Round(places))
	if !ok {
		return 0
	}
	return f
}

func toFinite(d decimal.Decimal) (float64, bool) {
	f, _ := d.Float64()
	return f, isFinite(f)
}

func isFinite(f float64) bool {
	return !math.IsInf(f, 0) && !math.IsNaN(f)
}

// Round rounds v to the given decimal places, half away from zero.
// NaN and Inf round to 0.
func Round(v float64, places int32) float64 {
	if !isFinite(v) {
		return 0
	}
	return roundTo(decimal.NewFromFloat(v), places)
}
