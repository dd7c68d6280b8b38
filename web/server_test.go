package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quote-board-go/internal/engine"
	"quote-board-go/market"
	"quote-board-go/quote"
)

var initial = quote.Snapshot{
	Dollar:     quote.Quote{Buy: 6480, Sell: 6680},
	Real:       quote.Quote{Buy: 1175, Sell: 1230},
	RealDollar: quote.Quote{Buy: 5.42, Sell: 5.50},
}

// stubRefresher commits next to the board on Refresh, or returns err.
type stubRefresher struct {
	board *market.Board
	next  quote.Snapshot
	err   error
	stats engine.Statistics
}

func (s *stubRefresher) Refresh(ctx context.Context) (quote.Result, error) {
	if s.err != nil {
		return quote.Result{}, s.err
	}
	res := quote.Result{
		Snapshot: s.next,
		Changed:  quote.Changed(s.board.Snapshot(), s.next),
		Matched:  map[quote.Key]bool{quote.KeyDollar: true, quote.KeyReal: true},
	}
	s.board.Commit(res, "manual", time.Now())
	return res, nil
}

func (s *stubRefresher) Updating() bool                   { return false }
func (s *stubRefresher) GetState() engine.EngineState     { return engine.StateRunning }
func (s *stubRefresher) GetStatistics() engine.Statistics { return s.stats }
func (s *stubRefresher) CooldownRemaining() time.Duration { return 1200 * time.Millisecond }

func newTestServer(t *testing.T) (*httptest.Server, *stubRefresher) {
	t.Helper()
	board := market.NewBoard(initial, nil)
	ref := &stubRefresher{board: board, next: initial.With(quote.KeyDollar, quote.Quote{Buy: 6490, Sell: 6690})}
	srv, err := NewServer(board, ref, nil)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, ref
}

func TestIndexRendersBoard(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	assert.Contains(t, string(body), "6.480")
	assert.Contains(t, string(body), "1.230")
	assert.Contains(t, string(body), "5,5000")
}

func TestQuotesEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/api/quotes")
	require.NoError(t, err)
	defer resp.Body.Close()

	var v BoardView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	require.Len(t, v.Instruments, 3)
	assert.Equal(t, 6480.0, v.Instruments[0].Buy.Value)
	assert.Nil(t, v.UpdatedAt)
}

func TestRefreshEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Post(ts.URL+"/api/refresh", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got refreshResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.True(t, got.Changed)
	assert.Empty(t, got.Misses)
	assert.Equal(t, "6.490", got.Board.Instruments[0].Buy.Text)
	assert.Equal(t, DirUp, got.Board.Instruments[0].Buy.Direction)
}

func TestRefreshEndpointErrors(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{engine.ErrRefreshInProgress, http.StatusConflict},
		{engine.ErrCooldown, http.StatusTooManyRequests},
		{engine.ErrNotRunning, http.StatusServiceUnavailable},
		{errors.New("refresh: fetch: 502"), http.StatusBadGateway},
	}
	for _, c := range cases {
		ts, ref := newTestServer(t)
		ref.err = c.err
		resp, err := http.Post(ts.URL+"/api/refresh", "application/json", nil)
		require.NoError(t, err)
		var body apiError
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		resp.Body.Close()
		assert.Equal(t, c.code, resp.StatusCode, c.err.Error())
		assert.Equal(t, c.err.Error(), body.Error)
		if c.code == http.StatusTooManyRequests {
			assert.Equal(t, "2", resp.Header.Get("Retry-After"))
		}
	}
}

func TestRefreshRequiresPost(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/api/refresh")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestStatusEndpoint(t *testing.T) {
	ts, ref := newTestServer(t)
	ref.stats = engine.Statistics{
		TotalRefreshes:      4,
		ConsecutiveFailures: 1,
		LastError:           "timeout",
		LastSuccessTime:     time.Unix(1700000000, 0).UTC(),
	}
	resp, err := http.Get(ts.URL + "/api/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	var st statusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	assert.Equal(t, "RUNNING", st.State)
	assert.Equal(t, int64(4), st.TotalRefreshes)
	assert.Equal(t, 1, st.ConsecutiveFailures)
	assert.Equal(t, "timeout", st.LastError)
	assert.Equal(t, int64(1200), st.CooldownMs)
	require.NotNil(t, st.LastSuccess)
}

func TestHealthz(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "ok", string(body))
}

func TestWebSocketPushesBoard(t *testing.T) {
	ts, _ := newTestServer(t)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var first BoardView
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "6.480", first.Instruments[0].Buy.Text)

	resp, err := http.Post(ts.URL+"/api/refresh", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()

	var second BoardView
	require.NoError(t, conn.ReadJSON(&second))
	assert.Equal(t, "6.490", second.Instruments[0].Buy.Text)
	assert.Equal(t, "manual", second.Trigger)
}

func TestRateLimit(t *testing.T) {
	board := market.NewBoard(initial, nil)
	srv, err := NewServer(board, &stubRefresher{board: board, next: initial}, nil)
	require.NoError(t, err)
	srv.SetRateLimit(0.001, 1)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/quotes")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/api/quotes")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	// 页面本身不受限
	resp, err = http.Get(ts.URL + "/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
