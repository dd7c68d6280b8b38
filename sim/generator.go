package sim

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/shopspring/decimal"

	"quote-board-go/quote"
)

// Config 模拟行情参数：每次刷新在 [-step, step] 内随机游走。
type Config struct {
	Seed       int64
	DollarStep int
	RealStep   int
}

// Generator 生成与真实页面格式相同的文本，供 sim 模式和离线演示使用。
type Generator struct {
	mu     sync.Mutex
	rng    *rand.Rand
	cfg    Config
	dollar quote.Quote
	real   quote.Quote
}

// NewGenerator starts the walk from the primaries of initial.
func NewGenerator(cfg Config, initial quote.Snapshot) *Generator {
	if cfg.DollarStep <= 0 {
		cfg.DollarStep = 10
	}
	if cfg.RealStep <= 0 {
		cfg.RealStep = 5
	}
	return &Generator{
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		cfg:    cfg,
		dollar: initial.Dollar,
		real:   initial.Real,
	}
}

// Next 推进一步并返回新的主报价（不含交叉汇率）。
func (g *Generator) Next() (dollar, real quote.Quote) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dollar = g.walk(g.dollar, g.cfg.DollarStep)
	g.real = g.walk(g.real, g.cfg.RealStep)
	return g.dollar, g.real
}

// walk 买卖两侧各自独立游走，价差会变化，偶尔倒挂，由 quote.Validate 修正。
func (g *Generator) walk(q quote.Quote, step int) quote.Quote {
	q.Buy = g.step(q.Buy, step)
	q.Sell = g.step(q.Sell, step)
	return q
}

func (g *Generator) step(v float64, step int) float64 {
	delta := float64(g.rng.Intn(2*step+1) - step)
	if v+delta <= 0 {
		return v
	}
	return v + delta
}

// FetchPageText 实现与 gateway.PageClient 相同的抓取接口。
func (g *Generator) FetchPageText(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	dollar, real := g.Next()
	return Render(dollar, real), nil
}

// Render 按换汇网站的样式输出两行文本，千位用点分隔。
func Render(dollar, real quote.Quote) string {
	return fmt.Sprintf("Dólar Compra %s Venta %s\nReal Compra %s Venta %s",
		thousands(dollar.Buy), thousands(dollar.Sell),
		thousands(real.Buy), thousands(real.Sell))
}

func thousands(v float64) string {
	s := decimal.NewFromFloat(v).Round(0).String()
	neg := false
	if len(s) > 0 && s[0] == '-' {
		neg, s = true, s[1:]
	}
	out := make([]byte, 0, len(s)+len(s)/3)
	for i := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, '.')
		}
		out = append(out, s[i])
	}
	if neg {
		return "-" + string(out)
	}
	return string(out)
}
