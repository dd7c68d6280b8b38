package web

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"quote-board-go/infrastructure/logger"
	"quote-board-go/internal/engine"
	"quote-board-go/market"
	"quote-board-go/metrics"
	"quote-board-go/quote"
)

//go:embed templates/index.html
var templates embed.FS

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Refresher is the part of the refresh engine the HTTP surface drives.
type Refresher interface {
	Refresh(ctx context.Context) (quote.Result, error)
	Updating() bool
	GetState() engine.EngineState
	GetStatistics() engine.Statistics
	CooldownRemaining() time.Duration
}

type Server struct {
	board    *market.Board
	engine   Refresher
	log      *logger.Logger
	page     *template.Template
	upgrader websocket.Upgrader
	limiter  *rate.Limiter
}

func NewServer(board *market.Board, eng Refresher, log *logger.Logger) (*Server, error) {
	if log == nil {
		log = logger.NewNop()
	}
	page, err := template.ParseFS(templates, "templates/index.html")
	if err != nil {
		return nil, err
	}
	return &Server{
		board:  board,
		engine: eng,
		log:    log,
		page:   page,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}, nil
}

// SetRateLimit caps requests to /api and /ws across all clients. perSec <= 0 disables it.
func (s *Server) SetRateLimit(perSec float64, burst int) {
	if perSec <= 0 {
		s.limiter = nil
		return
	}
	if burst <= 0 {
		burst = 1
	}
	s.limiter = rate.NewLimiter(rate.Limit(perSec), burst)
}

// Handler returns the router with every route mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLog)

	r.Get("/", s.handleIndex)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.With(s.rateLimit).Get("/ws", s.handleWebSocket)
	r.Route("/api", func(r chi.Router) {
		r.Use(s.rateLimit)
		r.Get("/quotes", s.handleQuotes)
		r.Post("/refresh", s.handleRefresh)
		r.Get("/status", s.handleStatus)
	})
	return r
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := s.page.Execute(&buf, NewBoardView(s.board.State())); err != nil {
		s.log.LogError(err, map[string]interface{}{"handler": "index"})
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}

func (s *Server) handleQuotes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, NewBoardView(s.board.State()))
}

type refreshResponse struct {
	Changed bool        `json:"changed"`
	Misses  []quote.Key `json:"misses,omitempty"`
	Board   BoardView   `json:"board"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.Refresh(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, refreshResponse{
			Changed: res.Changed,
			Misses:  res.Misses(),
			Board:   NewBoardView(s.board.State()),
		})
	case errors.Is(err, engine.ErrRefreshInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, engine.ErrCooldown):
		secs := int(s.engine.CooldownRemaining().Seconds()) + 1
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, engine.ErrNotRunning):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

type statusResponse struct {
	State               string     `json:"state"`
	Updating            bool       `json:"updating"`
	LastSuccess         *time.Time `json:"lastSuccess,omitempty"`
	LastError           string     `json:"lastError,omitempty"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	TotalRefreshes      int64      `json:"totalRefreshes"`
	TotalChanges        int64      `json:"totalChanges"`
	CooldownMs          int64      `json:"cooldownMs"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats := s.engine.GetStatistics()
	resp := statusResponse{
		State:               s.engine.GetState().String(),
		Updating:            s.engine.Updating(),
		LastError:           stats.LastError,
		ConsecutiveFailures: stats.ConsecutiveFailures,
		TotalRefreshes:      stats.TotalRefreshes,
		TotalChanges:        stats.TotalChanges,
		CooldownMs:          s.engine.CooldownRemaining().Milliseconds(),
	}
	if !stats.LastSuccessTime.IsZero() {
		t := stats.LastSuccessTime
		resp.LastSuccess = &t
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleWebSocket 推送看板：连接时先发一次当前状态，之后每次变化推送。
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	metrics.WSClients.Inc()
	updates, cancel := s.board.Publisher().Subscribe()
	defer func() {
		cancel()
		metrics.WSClients.Dec()
		conn.Close()
	}()

	// 读循环只处理 pong 和关闭
	closed := make(chan struct{})
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.log.Debug("websocket read", zap.Error(err))
				}
				return
			}
		}
	}()

	if err := s.push(conn, NewBoardView(s.board.State())); err != nil {
		return
	}
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case _, ok := <-updates:
			if !ok {
				return
			}
			if err := s.push(conn, NewBoardView(s.board.State())); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) push(conn *websocket.Conn, v BoardView) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(v); err != nil {
		s.log.Debug("websocket write", zap.Error(err))
		return err
	}
	return nil
}

type apiError struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, apiError{Error: message})
}
