// Package quote turns scraped exchange-house page text into validated
// buy/sell quotes and decides whether they changed since the last render.
//
// Everything in this package is pure: no I/O, no clocks, no shared state.
// Callers own the previously rendered Snapshot and pass it in on every run.
package quote

// Key identifies one instrument on the board.
type Key string

const (
	KeyDollar     Key = "dollar"
	KeyReal       Key = "real"
	KeyRealDollar Key = "real_dollar"
)

// Keys returns the board instruments in display order.
func Keys() []Key {
	return []Key{KeyDollar, KeyReal, KeyRealDollar}
}

// Quote is the buy and sell price of one instrument. Zero means unknown.
type Quote struct {
	Buy  float64 `json:"buy" yaml:"buy"`
	Sell float64 `json:"sell" yaml:"sell"`
}

// Equal compares both sides by exact value.
func (q Quote) Equal(o Quote) bool {
	return q.Buy == o.Buy && q.Sell == o.Sell
}

// Known reports whether both sides carry a value.
func (q Quote) Known() bool {
	return q.Buy != 0 && q.Sell != 0
}

// Snapshot is the full board at one evaluation. It is a value type: every
// pipeline run returns a fresh one and never touches the caller's copy.
type Snapshot struct {
	Dollar     Quote `json:"dollar" yaml:"dollar"`
	Real       Quote `json:"real" yaml:"real"`
	RealDollar Quote `json:"real_dollar" yaml:"real_dollar"`
}

// Get returns the quote stored under key; unknown keys yield a zero Quote.
func (s Snapshot) Get(key Key) Quote {
	switch key {
	case KeyDollar:
		return s.Dollar
	case KeyReal:
		return s.Real
	case KeyRealDollar:
		return s.RealDollar
	}
	return Quote{}
}

// With returns a copy of s with key replaced by q.
func (s Snapshot) With(key Key, q Quote) Snapshot {
	switch key {
	case KeyDollar:
		s.Dollar = q
	case KeyReal:
		s.Real = q
	case KeyRealDollar:
		s.RealDollar = q
	}
	return s
}
