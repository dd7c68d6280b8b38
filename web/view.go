package web

import (
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"quote-board-go/market"
	"quote-board-go/quote"
)

// Direction compares a displayed value with the previously displayed one.
type Direction string

const (
	DirUp   Direction = "up"
	DirDown Direction = "down"
	DirSame Direction = "same"
)

type FieldView struct {
	Value     float64   `json:"value"`
	Text      string    `json:"text"`
	Direction Direction `json:"direction"`
}

type InstrumentView struct {
	Key   quote.Key `json:"key"`
	Label string    `json:"label"`
	Buy   FieldView `json:"buy"`
	Sell  FieldView `json:"sell"`
}

type BoardView struct {
	Instruments []InstrumentView `json:"instruments"`
	UpdatedAt   *time.Time       `json:"updatedAt,omitempty"`
	CheckedAt   *time.Time       `json:"checkedAt,omitempty"`
	Trigger     string           `json:"trigger,omitempty"`
}

var labels = map[quote.Key]string{
	quote.KeyDollar:     "Dólar",
	quote.KeyReal:       "Real",
	quote.KeyRealDollar: "Real/Dólar",
}

// NewBoardView renders the board state for the page, the API and websocket clients.
func NewBoardView(st market.State) BoardView {
	v := BoardView{Trigger: st.Trigger}
	if !st.UpdatedAt.IsZero() {
		t := st.UpdatedAt
		v.UpdatedAt = &t
	}
	if !st.CheckedAt.IsZero() {
		t := st.CheckedAt
		v.CheckedAt = &t
	}
	for _, k := range quote.Keys() {
		cur, prev := st.Current.Get(k), st.Previous.Get(k)
		format := FormatPrimary
		if k == quote.KeyRealDollar {
			format = FormatCross
		}
		v.Instruments = append(v.Instruments, InstrumentView{
			Key:   k,
			Label: labels[k],
			Buy:   FieldView{Value: cur.Buy, Text: format(cur.Buy), Direction: direction(prev.Buy, cur.Buy)},
			Sell:  FieldView{Value: cur.Sell, Text: format(cur.Sell), Direction: direction(prev.Sell, cur.Sell)},
		})
	}
	return v
}

func direction(prev, cur float64) Direction {
	switch {
	case cur > prev:
		return DirUp
	case cur < prev:
		return DirDown
	default:
		return DirSame
	}
}

// FormatPrimary 整数显示，千位用点：6480 -> "6.480"
func FormatPrimary(v float64) string {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return "-"
	}
	s := decimal.NewFromFloat(v).Round(0).String()
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	var b strings.Builder
	for i := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteByte(s[i])
	}
	return sign + b.String()
}

// FormatCross 四位小数，逗号作小数点：5.5149 -> "5,5149"
func FormatCross(v float64) string {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return "-"
	}
	return strings.Replace(decimal.NewFromFloat(v).StringFixed(4), ".", ",", 1)
}
