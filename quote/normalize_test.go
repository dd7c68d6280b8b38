package quote

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	testCases := []struct {
		name string
		raw  string
		want float64
	}{
		{name: "thousands dot and decimal comma", raw: "6.480,50", want: 6480.50},
		{name: "empty", raw: "", want: 0},
		{name: "letters only", raw: "abc", want: 0},
		{name: "plain integer", raw: "6480", want: 6480},
		{name: "decimal comma", raw: "5,42", want: 5.42},
		{name: "decimal dot kept", raw: "6.5", want: 6.5},
		{name: "several thousands groups", raw: "1.234.567,891", want: 1234567.89},
		{name: "currency noise stripped", raw: "R$ 1.175", want: 1175},
		{name: "negative rounds away from zero", raw: "-12,345", want: -12.35},
		{name: "half rounds up", raw: "0,125", want: 0.13},
		{name: "only first comma is decimal", raw: "1,2,3", want: 1.2},
		{name: "double minus", raw: "--5", want: 0},
		{name: "trailing dot", raw: "12.", want: 12},
		{name: "leading dot", raw: ".5", want: 0.5},
		{name: "lone minus", raw: "-", want: 0},
		{name: "overflowing digit run", raw: "1" + strings.Repeat("0", 400), want: 0},
		{name: "above max magnitude", raw: "1.000.000.000.000.000.000", want: 0},
		{name: "at max magnitude", raw: "1.000.000.000.000.000", want: 1e15},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Normalize(tc.raw))
		})
	}
}

func TestRound(t *testing.T) {
	assert.Equal(t, 5.5149, Round(6480.0/1175.0, 4))
	assert.Equal(t, 2.5, Round(2.45, 1))
	assert.Equal(t, -2.5, Round(-2.45, 1))
	assert.Equal(t, 0.0, Round(math.Inf(1), 2))
	assert.Equal(t, 0.0, Round(math.NaN(), 2))
}
