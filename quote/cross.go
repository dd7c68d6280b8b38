package quote

import "github.com/shopspring/decimal"

// crossPlaces is finer than the primaries since the ratio sits around 5.x.
const crossPlaces = 4

// ComputeCross derives the real/dollar rate from the dollar quote a and the
// real quote b. When a divisor is unknown, or either ratio does not fit a
// finite positive float, the previous cross is kept.
func ComputeCross(a, b, previous Quote) Quote {
	if a.Buy <= 0 || b.Buy <= 0 || b.Sell <= 0 {
		return previous
	}
	for _, v := range []float64{a.Buy, a.Sell, b.Buy, b.Sell} {
		if !isFinite(v) {
			return previous
		}
	}
	buy, ok := divide(a.Buy, b.Buy)
	if !ok {
		return previous
	}
	sell, ok := divide(a.Sell, b.Sell)
	if !ok {
		return previous
	}
	return Quote{Buy: buy, Sell: sell}
}

func divide(x, y float64) (float64, bool) {
	f, ok := toFinite(decimal.NewFromFloat(x).Div(decimal.NewFromFloat(y)).Round(crossPlaces))
	return f, ok && f > 0
}
