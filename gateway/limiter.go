package gateway

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter 控制抓取速率，避免被目标站点或代理限流。
type RateLimiter interface {
	Wait(ctx context.Context) error
}

// NewRateLimiter 返回令牌桶限流器；非正参数按每秒 1 次、突发 1 处理。
func NewRateLimiter(perSec float64, burst int) *rate.Limiter {
	if perSec <= 0 {
		perSec = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSec), burst)
}
