package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quote-board-go/infrastructure/alert"
	"quote-board-go/market"
	"quote-board-go/quote"
)

var initial = quote.Snapshot{
	Dollar:     quote.Quote{Buy: 6480, Sell: 6680},
	Real:       quote.Quote{Buy: 1175, Sell: 1230},
	RealDollar: quote.Quote{Buy: 5.42, Sell: 5.50},
}

const page = "Dólar Compra 6.490 Venta 6.690\nReal Compra 1.175 Venta 1.230"

// fakeFetcher 返回固定文本或错误；block 非空时等待放行。
type fakeFetcher struct {
	mu    sync.Mutex
	text  string
	err   error
	block chan struct{}
	calls int
}

func (f *fakeFetcher) FetchPageText(ctx context.Context) (string, error) {
	f.mu.Lock()
	f.calls++
	block := f.block
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.text, f.err
}

func (f *fakeFetcher) set(text string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.text, f.err = text, err
}

func (f *fakeFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fixture struct {
	engine  *RefreshEngine
	fetcher *fakeFetcher
	board   *market.Board
	alerts  *alert.MockChannel
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	p, err := quote.NewPipeline(quote.DefaultSpec())
	require.NoError(t, err)
	if cfg.Interval == 0 {
		cfg.Interval = time.Hour
	}
	f := &fixture{
		fetcher: &fakeFetcher{text: page},
		board:   market.NewBoard(initial, nil),
		alerts:  alert.NewMockChannel("mock"),
	}
	f.engine, err = New(cfg, Components{
		Fetcher:      f.fetcher,
		Pipeline:     p,
		Board:        f.board,
		AlertManager: alert.NewManager([]alert.Channel{f.alerts}, time.Hour),
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	require.NoError(t, f.engine.Start(context.Background()))
	t.Cleanup(func() { _ = f.engine.Stop() })
}

func TestNewValidatesComponents(t *testing.T) {
	_, err := New(Config{}, Components{})
	assert.Error(t, err)
}

func TestRefreshNotRunning(t *testing.T) {
	f := newFixture(t, Config{})
	_, err := f.engine.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrNotRunning)
	assert.Equal(t, 0, f.fetcher.Calls())
}

func TestManualRefreshCommitsChange(t *testing.T) {
	f := newFixture(t, Config{})
	f.start(t)

	res, err := f.engine.Refresh(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, quote.Quote{Buy: 6490, Sell: 6690}, res.Snapshot.Dollar)

	st := f.board.State()
	assert.Equal(t, res.Snapshot, st.Current)
	assert.Equal(t, initial, st.Previous)
	assert.Equal(t, TriggerManual, st.Trigger)

	stats := f.engine.GetStatistics()
	assert.Equal(t, int64(1), stats.TotalRefreshes)
	assert.Equal(t, int64(1), stats.TotalChanges)
	assert.False(t, stats.LastSuccessTime.IsZero())
}

func TestSecondRefreshSameTextUnchanged(t *testing.T) {
	f := newFixture(t, Config{})
	f.start(t)

	_, err := f.engine.Refresh(context.Background())
	require.NoError(t, err)
	res, err := f.engine.Refresh(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Equal(t, int64(1), f.engine.GetStatistics().TotalChanges)
}

func TestManualRefreshCooldown(t *testing.T) {
	f := newFixture(t, Config{ManualCooldown: 1500 * time.Millisecond})
	now := time.Unix(1700000000, 0)
	f.engine.now = func() time.Time { return now }
	f.start(t)

	_, err := f.engine.Refresh(context.Background())
	require.NoError(t, err)

	now = now.Add(time.Second)
	_, err = f.engine.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrCooldown)
	assert.Equal(t, 500*time.Millisecond, f.engine.CooldownRemaining())

	now = now.Add(600 * time.Millisecond)
	_, err = f.engine.Refresh(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 2, f.fetcher.Calls())
}

func TestManualRefreshRejectedWhileInFlight(t *testing.T) {
	f := newFixture(t, Config{})
	f.fetcher.block = make(chan struct{})
	f.start(t)

	done := make(chan error, 1)
	go func() {
		_, err := f.engine.Refresh(context.Background())
		done <- err
	}()
	require.Eventually(t, f.engine.Updating, time.Second, time.Millisecond)

	_, err := f.engine.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrRefreshInProgress)

	close(f.fetcher.block)
	require.NoError(t, <-done)
	assert.False(t, f.engine.Updating())
	assert.Equal(t, 1, f.fetcher.Calls())
}

func TestFetchFailuresRaiseAlert(t *testing.T) {
	f := newFixture(t, Config{FailureThreshold: 2})
	f.fetcher.set("", errors.New("connection refused"))
	f.start(t)

	_, err := f.engine.Refresh(context.Background())
	require.Error(t, err)
	assert.Equal(t, 0, f.alerts.Count())

	_, err = f.engine.Refresh(context.Background())
	require.Error(t, err)
	require.Equal(t, 1, f.alerts.Count())
	got := f.alerts.GetAlerts()[0]
	assert.Equal(t, alert.LevelError, got.Level)
	assert.Equal(t, alertFetchFailures, got.Key)

	stats := f.engine.GetStatistics()
	assert.Equal(t, 2, stats.ConsecutiveFailures)
	assert.Equal(t, int64(2), stats.TotalErrors)
	assert.Contains(t, stats.LastError, "connection refused")
	assert.Equal(t, initial, f.board.Snapshot())

	// 恢复后计数清零
	f.fetcher.set(page, nil)
	_, err = f.engine.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, f.engine.GetStatistics().ConsecutiveFailures)
}

func TestPeriodicRefresh(t *testing.T) {
	f := newFixture(t, Config{Interval: 10 * time.Millisecond, RefreshOnStart: true})
	f.start(t)

	require.Eventually(t, func() bool {
		return f.board.Snapshot().Dollar.Buy == 6490
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return f.fetcher.Calls() >= 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1), f.engine.GetStatistics().TotalChanges)
}

func TestPausedEngineSkipsRefresh(t *testing.T) {
	f := newFixture(t, Config{})
	f.start(t)
	require.NoError(t, f.engine.Pause())

	_, err := f.engine.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrNotRunning)
	f.engine.onTick(context.Background(), TriggerPeriodic)
	assert.Equal(t, 0, f.fetcher.Calls())

	require.NoError(t, f.engine.Resume())
	assert.Equal(t, StateRunning, f.engine.GetState())
}

func TestStaleAlert(t *testing.T) {
	f := newFixture(t, Config{StaleAfter: time.Minute})
	now := time.Unix(1700000000, 0)
	f.engine.now = func() time.Time { return now }
	f.fetcher.set("", errors.New("timeout"))
	f.start(t)

	now = now.Add(30 * time.Second)
	f.engine.onTick(context.Background(), TriggerPeriodic)
	assert.Equal(t, 0, f.alerts.Count())

	now = now.Add(31 * time.Second)
	f.engine.onTick(context.Background(), TriggerPeriodic)
	require.Equal(t, 1, f.alerts.Count())
	assert.Equal(t, alert.LevelWarning, f.alerts.GetAlerts()[0].Level)
	assert.Equal(t, alertSourceStale, f.alerts.GetAlerts()[0].Key)
}

func TestSwapPipeline(t *testing.T) {
	f := newFixture(t, Config{})
	f.start(t)

	spec := quote.DefaultSpec()
	spec.Dollar.Aliases = []string{"euro"}
	p, err := quote.NewPipeline(spec)
	require.NoError(t, err)
	f.engine.SwapPipeline(p)

	res, err := f.engine.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []quote.Key{quote.KeyDollar}, res.Misses())
	assert.Equal(t, initial.Dollar, res.Snapshot.Dollar)
}

func TestStartStopRestart(t *testing.T) {
	f := newFixture(t, Config{})
	require.NoError(t, f.engine.Start(context.Background()))
	assert.Error(t, f.engine.Start(context.Background()))
	require.NoError(t, f.engine.Stop())
	assert.Equal(t, StateStopped, f.engine.GetState())
	require.NoError(t, f.engine.Start(context.Background()))
	require.NoError(t, f.engine.Stop())
	assert.Error(t, f.engine.Stop())
}

func TestConcurrentStop(t *testing.T) {
	f := newFixture(t, Config{})
	require.NoError(t, f.engine.Start(context.Background()))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = f.engine.Stop()
		}()
	}
	wg.Wait()
	assert.Equal(t, StateStopped, f.engine.GetState())
}
