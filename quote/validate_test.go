package quote

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate(t *testing.T) {
	testCases := []struct {
		name   string
		in     Quote
		spread float64
		want   Quote
	}{
		{name: "inverted", in: Quote{Buy: 100, Sell: 90}, spread: 20, want: Quote{Buy: 100, Sell: 120}},
		{name: "flat", in: Quote{Buy: 1175, Sell: 1175}, spread: 10, want: Quote{Buy: 1175, Sell: 1185}},
		{name: "already ordered", in: Quote{Buy: 6480, Sell: 6680}, spread: 20, want: Quote{Buy: 6480, Sell: 6680}},
		{name: "unknown quote", in: Quote{}, spread: 10, want: Quote{Buy: 0, Sell: 10}},
		{name: "spread below precision", in: Quote{Buy: 1e18, Sell: 1}, spread: 20, want: Quote{Buy: 1e18, Sell: math.Nextafter(1e18, math.Inf(1))}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := Validate(tc.in, tc.spread)
			assert.Equal(t, tc.want, got)
			assert.Less(t, got.Buy, got.Sell)
		})
	}
}

func TestValidateCrossSpread(t *testing.T) {
	got := Validate(Quote{Buy: 5.5149, Sell: 5.4309}, DefaultRealDollarSpread)
	assert.Equal(t, 5.5149, got.Buy)
	assert.InDelta(t, 5.5649, got.Sell, 1e-9)
}
