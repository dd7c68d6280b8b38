package quote

import "math"

// Default spreads enforced when a quote arrives with buy >= sell.
const (
	DefaultDollarSpread     = 20.0
	DefaultRealSpread       = 10.0
	DefaultRealDollarSpread = 0.05
)

// Validate forces sell above buy. Page data is noisy, so an inverted or flat
// quote is repaired rather than rejected.
func Validate(q Quote, minSpread float64) Quote {
	if q.Buy >= q.Sell {
		q.Sell = q.Buy + minSpread
	}
	// spread 小于 buy 的精度时加法不生效，取下一个可表示值
	if q.Sell <= q.Buy {
		q.Sell = math.Nextafter(q.Buy, math.Inf(1))
	}
	return q
}
