package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"quote-board-go/infrastructure/alert"
	"quote-board-go/infrastructure/logger"
	"quote-board-go/market"
	"quote-board-go/metrics"
	"quote-board-go/quote"
)

var (
	// ErrRefreshInProgress 已有刷新在进行中（手动刷新被拒绝）。
	ErrRefreshInProgress = errors.New("refresh already in progress")
	// ErrNotRunning 引擎未启动或已暂停。
	ErrNotRunning = errors.New("engine not running")
	// ErrCooldown 距上次手动刷新不足冷却时间。
	ErrCooldown = errors.New("manual refresh cooling down")
)

// Trigger 标记刷新来源，写入日志与广播。
const (
	TriggerStartup  = "startup"
	TriggerPeriodic = "periodic"
	TriggerManual   = "manual"
)

// alert keys
const (
	alertFetchFailures = "fetch_failures"
	alertSourceStale   = "source_stale"
)

// EngineState 引擎状态
type EngineState int

const (
	StateIdle EngineState = iota
	StateRunning
	StatePaused
	StateStopped
)

// String 返回状态名称
func (s EngineState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StatePaused:
		return "PAUSED"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Fetcher 返回页面的可见文本（gateway.PageClient 或 sim.Generator）。
type Fetcher interface {
	FetchPageText(ctx context.Context) (string, error)
}

// Config 引擎配置
type Config struct {
	Interval         time.Duration // 定时刷新间隔
	ManualCooldown   time.Duration // 两次手动刷新的最小间隔
	FetchTimeout     time.Duration // 单次抓取（含重试）超时
	StaleAfter       time.Duration // 多久没有成功刷新视为过期，0 关闭
	FailureThreshold int           // 连续失败多少次告警，0 关闭
	RefreshOnStart   bool
}

// Components 引擎依赖组件
type Components struct {
	Fetcher      Fetcher
	Pipeline     *quote.Pipeline
	Board        *market.Board
	AlertManager *alert.Manager
	Logger       *logger.Logger
}

// Statistics 引擎统计信息
type Statistics struct {
	StartTime           time.Time
	TotalRefreshes      int64
	TotalChanges        int64
	TotalErrors         int64
	ConsecutiveFailures int
	LastRefreshTime     time.Time
	LastSuccessTime     time.Time
	LastError           string
}

// RefreshEngine 按间隔或手动触发抓取页面、运行报价管线并提交到看板。
// 同一时刻最多一个刷新在执行。
type RefreshEngine struct {
	config Config

	fetcher  Fetcher
	pipeline atomic.Pointer[quote.Pipeline]
	board    *market.Board
	alertMgr *alert.Manager
	logger   *logger.Logger
	now      func() time.Time

	// refreshing 充当 try-lock
	refreshing atomic.Bool

	state      EngineState
	lastManual time.Time
	mu         sync.RWMutex

	stopChan chan struct{}
	doneChan chan struct{}

	stats   Statistics
	statsMu sync.RWMutex
}

// New 创建刷新引擎
func New(cfg Config, c Components) (*RefreshEngine, error) {
	if c.Fetcher == nil {
		return nil, errors.New("invalid components: fetcher is nil")
	}
	if c.Pipeline == nil {
		return nil, errors.New("invalid components: pipeline is nil")
	}
	if c.Board == nil {
		return nil, errors.New("invalid components: board is nil")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = cfg.Interval
	}
	if c.Logger == nil {
		c.Logger = logger.NewNop()
	}
	e := &RefreshEngine{
		config:   cfg,
		fetcher:  c.Fetcher,
		board:    c.Board,
		alertMgr: c.AlertManager,
		logger:   c.Logger,
		now:      time.Now,
		state:    StateIdle,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
	e.pipeline.Store(c.Pipeline)
	return e, nil
}

// Start 启动定时刷新循环
func (e *RefreshEngine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.state != StateIdle && e.state != StateStopped {
		e.mu.Unlock()
		return fmt.Errorf("engine already started (state: %s)", e.state)
	}
	if e.state == StateStopped {
		e.stopChan = make(chan struct{})
		e.doneChan = make(chan struct{})
	}
	e.state = StateRunning
	e.mu.Unlock()

	e.statsMu.Lock()
	e.stats.StartTime = e.now()
	e.statsMu.Unlock()

	e.logger.Info("Refresh engine starting",
		zap.Duration("interval", e.config.Interval),
		zap.Duration("manual_cooldown", e.config.ManualCooldown))

	go e.run(ctx)
	return nil
}

// Stop 停止循环并等待其退出；等待中的刷新不会被打断。
func (e *RefreshEngine) Stop() error {
	e.mu.Lock()
	if e.state != StateRunning && e.state != StatePaused {
		e.mu.Unlock()
		return fmt.Errorf("engine not running (state: %s)", e.state)
	}
	// 并发 Stop 只关闭一次
	select {
	case <-e.stopChan:
	default:
		close(e.stopChan)
	}
	done := e.doneChan
	e.mu.Unlock()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		e.logger.Warn("Timeout waiting for refresh engine to stop")
	}

	e.mu.Lock()
	e.state = StateStopped
	e.mu.Unlock()
	e.logger.Info("Refresh engine stopped")
	return nil
}

// Pause 暂停定时刷新；手动刷新同样被拒绝。
func (e *RefreshEngine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateRunning {
		return fmt.Errorf("engine not running (state: %s)", e.state)
	}
	e.state = StatePaused
	e.logger.Info("Refresh engine paused")
	return nil
}

// Resume 恢复引擎
func (e *RefreshEngine) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StatePaused {
		return fmt.Errorf("engine not paused (state: %s)", e.state)
	}
	e.state = StateRunning
	e.logger.Info("Refresh engine resumed")
	return nil
}

// SwapPipeline 原子替换管线（配置热更新）。
func (e *RefreshEngine) SwapPipeline(p *quote.Pipeline) {
	if p == nil {
		return
	}
	e.pipeline.Store(p)
	e.logger.Info("Quote pipeline replaced")
}

// Refresh 手动刷新：拒绝未运行、冷却中、或正在刷新的请求。
func (e *RefreshEngine) Refresh(ctx context.Context) (quote.Result, error) {
	e.mu.Lock()
	if e.state != StateRunning {
		e.mu.Unlock()
		return quote.Result{}, ErrNotRunning
	}
	now := e.now()
	if e.config.ManualCooldown > 0 && !e.lastManual.IsZero() && now.Sub(e.lastManual) < e.config.ManualCooldown {
		e.mu.Unlock()
		return quote.Result{}, ErrCooldown
	}
	if !e.refreshing.CompareAndSwap(false, true) {
		e.mu.Unlock()
		return quote.Result{}, ErrRefreshInProgress
	}
	e.lastManual = now
	e.mu.Unlock()

	defer e.refreshing.Store(false)
	return e.refresh(ctx, TriggerManual)
}

// Updating 是否有刷新正在执行
func (e *RefreshEngine) Updating() bool {
	return e.refreshing.Load()
}

func (e *RefreshEngine) run(ctx context.Context) {
	defer close(e.doneChan)

	if e.config.RefreshOnStart {
		e.onTick(ctx, TriggerStartup)
	}

	ticker := time.NewTicker(e.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Context done, stopping refresh engine")
			return
		case <-e.stopChan:
			return
		case <-ticker.C:
			e.onTick(ctx, TriggerPeriodic)
		}
	}
}

// onTick 定时刷新；上一次还没结束时直接跳过本轮。
func (e *RefreshEngine) onTick(ctx context.Context, trigger string) {
	e.mu.RLock()
	state := e.state
	e.mu.RUnlock()
	if state != StateRunning {
		return
	}
	if !e.refreshing.CompareAndSwap(false, true) {
		e.logger.Debug("Refresh skipped, previous one still running", zap.String("trigger", trigger))
		return
	}
	_, _ = e.refresh(ctx, trigger)
	e.refreshing.Store(false)
	e.checkStale()
}

// refresh 执行一次完整刷新；调用方持有 refreshing。
func (e *RefreshEngine) refresh(ctx context.Context, trigger string) (quote.Result, error) {
	start := e.now()

	fctx, cancel := context.WithTimeout(ctx, e.config.FetchTimeout)
	text, err := e.fetcher.FetchPageText(fctx)
	cancel()
	elapsed := e.now().Sub(start)
	metrics.ObserveFetch(err, elapsed)
	if err != nil {
		e.onFailure(trigger, err)
		return quote.Result{}, fmt.Errorf("refresh: %w", err)
	}

	res := e.pipeline.Load().Run(text, e.board.Snapshot())
	at := e.now()
	metrics.ObservePipeline(res, at)
	for _, k := range res.Misses() {
		e.logger.LogMiss(trigger, k)
	}
	e.logger.LogRefresh(trigger, res, at.Sub(start))
	e.board.Commit(res, trigger, at)
	e.onSuccess(res, at)
	return res, nil
}

func (e *RefreshEngine) onSuccess(res quote.Result, at time.Time) {
	e.statsMu.Lock()
	recovered := e.stats.ConsecutiveFailures > 0
	e.stats.TotalRefreshes++
	if res.Changed {
		e.stats.TotalChanges++
	}
	e.stats.ConsecutiveFailures = 0
	e.stats.LastRefreshTime = at
	e.stats.LastSuccessTime = at
	e.stats.LastError = ""
	e.statsMu.Unlock()

	if recovered && e.alertMgr != nil {
		e.alertMgr.Clear(alertFetchFailures)
		e.alertMgr.Clear(alertSourceStale)
	}
}

func (e *RefreshEngine) onFailure(trigger string, err error) {
	e.statsMu.Lock()
	e.stats.TotalRefreshes++
	e.stats.TotalErrors++
	e.stats.ConsecutiveFailures++
	e.stats.LastRefreshTime = e.now()
	e.stats.LastError = err.Error()
	failures := e.stats.ConsecutiveFailures
	e.statsMu.Unlock()

	e.logger.LogFetchError(trigger, err, failures)

	if e.alertMgr != nil && e.config.FailureThreshold > 0 && failures >= e.config.FailureThreshold {
		if aerr := e.alertMgr.SendError(alertFetchFailures,
			fmt.Sprintf("报价源连续 %d 次抓取失败: %v", failures, err),
			map[string]interface{}{"failures": failures}); aerr != nil {
			e.logger.Warn("Failed to send alert", zap.Error(aerr))
		}
	}
}

// checkStale 超过 StaleAfter 没有成功刷新时发出 WARNING。
func (e *RefreshEngine) checkStale() {
	if e.alertMgr == nil || e.config.StaleAfter <= 0 {
		return
	}
	e.statsMu.RLock()
	since := e.stats.StartTime
	e.statsMu.RUnlock()

	stale := e.board.Staleness(e.now(), since)
	if stale < e.config.StaleAfter {
		return
	}
	if err := e.alertMgr.SendWarning(alertSourceStale,
		fmt.Sprintf("报价已 %s 未成功刷新", stale.Truncate(time.Second)),
		map[string]interface{}{"staleSec": int64(stale.Seconds())}); err != nil {
		e.logger.Warn("Failed to send alert", zap.Error(err))
	}
}

// GetState 获取引擎状态
func (e *RefreshEngine) GetState() EngineState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// GetStatistics 获取统计信息
func (e *RefreshEngine) GetStatistics() Statistics {
	e.statsMu.RLock()
	defer e.statsMu.RUnlock()
	return e.stats
}

// CooldownRemaining 距离下一次允许手动刷新的时间。
func (e *RefreshEngine) CooldownRemaining() time.Duration {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.lastManual.IsZero() || e.config.ManualCooldown <= 0 {
		return 0
	}
	left := e.config.ManualCooldown - e.now().Sub(e.lastManual)
	if left < 0 {
		return 0
	}
	return left
}
