// Package metrics provides Prometheus metrics for the quote board
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"quote-board-go/quote"
)

var (
	FetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quoteboard_fetch_total",
		Help: "页面抓取次数，按结果区分",
	}, []string{"result"})

	FetchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "quoteboard_fetch_latency_seconds",
		Help:    "页面抓取耗时",
		Buckets: prometheus.DefBuckets,
	})

	PipelineRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quoteboard_pipeline_runs_total",
		Help: "报价管线运行次数",
	}, []string{"changed"})

	InstrumentMiss = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quoteboard_instrument_miss_total",
		Help: "未匹配到的品种次数",
	}, []string{"instrument"})

	QuoteValue = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "quoteboard_quote",
		Help: "当前展示的报价",
	}, []string{"instrument", "side"})

	LastSuccess = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quoteboard_last_success_timestamp_seconds",
		Help: "最近一次成功刷新的时间戳",
	})

	WSClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quoteboard_ws_clients",
		Help: "当前 websocket 连接数",
	})
)

// ObserveFetch 记录一次抓取的结果与耗时
func ObserveFetch(err error, elapsed time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	FetchTotal.WithLabelValues(result).Inc()
	FetchLatency.Observe(elapsed.Seconds())
}

// ObservePipeline 记录管线结果；变化时同步报价 gauge
func ObservePipeline(res quote.Result, at time.Time) {
	PipelineRuns.WithLabelValues(strconv.FormatBool(res.Changed)).Inc()
	for _, k := range res.Misses() {
		InstrumentMiss.WithLabelValues(string(k)).Inc()
	}
	SetBoard(res.Snapshot)
	LastSuccess.Set(float64(at.Unix()))
}

// SetBoard 更新各品种买卖价
func SetBoard(s quote.Snapshot) {
	for _, k := range quote.Keys() {
		q := s.Get(k)
		QuoteValue.WithLabelValues(string(k), "buy").Set(q.Buy)
		QuoteValue.WithLabelValues(string(k), "sell").Set(q.Sell)
	}
}

// Handler 返回 /metrics 处理器
func Handler() http.Handler {
	return promhttp.Handler()
}
