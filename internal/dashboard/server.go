// Package dashboard serves a read-only HTTP view over the state store:
// open and closed positions, the shadow book next to the executed book,
// recent orders and runs, the kill switch, and Prometheus metrics.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/jspahr/gapdrift/internal/metrics"
	"github.com/jspahr/gapdrift/internal/signal"
	"github.com/jspahr/gapdrift/internal/state"
)

// Config holds the dashboard server settings.
type Config struct {
	Addr      string
	AuthToken string
}

// Server is the dashboard HTTP server.
type Server struct {
	router    *chi.Mux
	server    *http.Server
	store     *state.Store
	logger    *logrus.Logger
	authToken string
}

// NewServer builds a dashboard over the given store.
func NewServer(cfg Config, store *state.Store, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	addr := cfg.Addr
	if addr == "" {
		addr = ":8090"
	}
	s := &Server{
		router:    chi.NewRouter(),
		store:     store,
		logger:    logger,
		authToken: cfg.AuthToken,
	}
	s.setupRoutes()
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/metrics", s.handleMetrics)

	s.router.Group(func(r chi.Router) {
		if s.authToken != "" {
			r.Use(s.authMiddleware)
		}
		r.Get("/api/positions", s.handlePositions)
		r.Get("/api/shadow", s.handleShadow)
		r.Get("/api/orders", s.handleOrders)
		r.Get("/api/runs", s.handleRuns)
		r.Get("/api/stats", s.handleStats)
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("Authorization")
		if token != "Bearer "+s.authToken {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.server.Addr).Info("dashboard listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("dashboard server: %w", err)
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.logger.WithError(err).Error("dashboard query failed")
	s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ks, err := s.store.KillSwitch()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"kill_switch": ks.Engaged,
		"time":        time.Now().UTC().Format(time.RFC3339),
	})
}

// handleMetrics refreshes the store-derived gauges, then delegates to the
// regular Prometheus handler. Counters are updated by the executor as it
// works; the gauges are snapshots and belong to the scrape.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if open, err := s.store.CountOpenPositions(); err == nil {
		metrics.PositionsOpen.Set(float64(open))
	}
	if ks, err := s.store.KillSwitch(); err == nil {
		if ks.Engaged {
			metrics.KillSwitchEngaged.Set(1)
		} else {
			metrics.KillSwitchEngaged.Set(0)
		}
	}
	if _, _, pnl, err := s.store.ClosedStats(); err == nil {
		metrics.RealizedPnL.Set(pnl)
	}
	promhttp.Handler().ServeHTTP(w, r)
}

// PositionView is the JSON shape of one persisted position.
type PositionView struct {
	ID         int64   `json:"id"`
	Ticker     string  `json:"ticker"`
	EntryDate  string  `json:"entry_date"`
	EntryPrice float64 `json:"entry_price"`
	Shares     int     `json:"shares"`
	Invested   float64 `json:"invested"`
	StopPrice  float64 `json:"stop_price,omitempty"`
	Grade      string  `json:"grade,omitempty"`
	Score      float64 `json:"score,omitempty"`
	Status     string  `json:"status"`
	ExitDate   string  `json:"exit_date,omitempty"`
	ExitPrice  float64 `json:"exit_price,omitempty"`
	ExitReason string  `json:"exit_reason,omitempty"`
	PnL        float64 `json:"pnl"`
}

func positionView(p state.Position) PositionView {
	qty := p.Quantity()
	return PositionView{
		ID:         p.ID,
		Ticker:     p.Ticker,
		EntryDate:  p.EntryDate,
		EntryPrice: p.EntryPrice,
		Shares:     qty,
		Invested:   p.EntryPrice * float64(qty),
		StopPrice:  p.StopPrice,
		Grade:      p.Grade,
		Score:      p.Score,
		Status:     p.Status,
		ExitDate:   p.ExitDate,
		ExitPrice:  p.ExitPrice,
		ExitReason: p.ExitReason,
		PnL:        p.PnL,
	}
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	open, err := s.store.OpenPositions()
	if err != nil {
		s.writeError(w, err)
		return
	}
	closed, err := s.store.ClosedPositions(queryLimit(r, 50))
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := struct {
		Open   []PositionView `json:"open"`
		Closed []PositionView `json:"closed"`
	}{Open: []PositionView{}, Closed: []PositionView{}}
	for _, p := range open {
		resp.Open = append(resp.Open, positionView(p))
	}
	for _, p := range closed {
		resp.Closed = append(resp.Closed, positionView(p))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// ShadowView is one shadow-book position.
type ShadowView struct {
	ID         int64   `json:"id"`
	Strategy   string  `json:"strategy"`
	Ticker     string  `json:"ticker"`
	EntryDate  string  `json:"entry_date"`
	EntryPrice float64 `json:"entry_price"`
	Shares     int     `json:"shares"`
	Score      float64 `json:"score,omitempty"`
	Status     string  `json:"status"`
	ExitDate   string  `json:"exit_date,omitempty"`
	ExitPrice  float64 `json:"exit_price,omitempty"`
	ExitReason string  `json:"exit_reason,omitempty"`
	PnL        float64 `json:"pnl"`
}

func shadowView(p state.ShadowPosition) ShadowView {
	return ShadowView{
		ID:         p.ID,
		Strategy:   p.Strategy,
		Ticker:     p.Ticker,
		EntryDate:  p.EntryDate,
		EntryPrice: p.EntryPrice,
		Shares:     p.Shares,
		Score:      p.Score,
		Status:     p.Status,
		ExitDate:   p.ExitDate,
		ExitPrice:  p.ExitPrice,
		ExitReason: p.ExitReason,
		PnL:        p.PnL,
	}
}

// handleShadow returns the shadow book for A/B comparison against the
// executed book. ?strategy= defaults to the shadow strategy.
func (s *Server) handleShadow(w http.ResponseWriter, r *http.Request) {
	strategy := r.URL.Query().Get("strategy")
	if strategy == "" {
		strategy = signal.ShadowStrategy.Name
	}

	open, err := s.store.OpenShadowPositions(strategy)
	if err != nil {
		s.writeError(w, err)
		return
	}
	closed, err := s.store.ClosedShadowPositions(strategy, queryLimit(r, 50))
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := struct {
		Strategy string       `json:"strategy"`
		Open     []ShadowView `json:"open"`
		Closed   []ShadowView `json:"closed"`
	}{Strategy: strategy, Open: []ShadowView{}, Closed: []ShadowView{}}
	for _, p := range open {
		resp.Open = append(resp.Open, shadowView(p))
	}
	for _, p := range closed {
		resp.Closed = append(resp.Closed, shadowView(p))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// OrderView is the JSON shape of one persisted order.
type OrderView struct {
	ClientOrderID    string   `json:"client_order_id"`
	BrokerOrderID    string   `json:"broker_order_id,omitempty"`
	Ticker           string   `json:"ticker"`
	Side             string   `json:"side"`
	Intent           string   `json:"intent"`
	Qty              int      `json:"qty"`
	FilledQty        int      `json:"filled_qty"`
	AvgFillPrice     float64  `json:"avg_fill_price,omitempty"`
	Status           string   `json:"status"`
	TradeDate        string   `json:"trade_date"`
	PlannedStopPrice *float64 `json:"planned_stop_price,omitempty"`
	RejectReason     string   `json:"reject_reason,omitempty"`
	RunID            string   `json:"run_id,omitempty"`
	UpdatedAt        string   `json:"updated_at"`
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.store.RecentOrders(queryLimit(r, 50))
	if err != nil {
		s.writeError(w, err)
		return
	}
	views := []OrderView{}
	for _, o := range orders {
		views = append(views, OrderView{
			ClientOrderID:    o.ClientOrderID,
			BrokerOrderID:    o.BrokerOrderID,
			Ticker:           o.Ticker,
			Side:             o.Side,
			Intent:           o.Intent,
			Qty:              o.Qty,
			FilledQty:        o.FilledQty,
			AvgFillPrice:     o.AvgFillPrice,
			Status:           string(o.Status),
			TradeDate:        o.TradeDate,
			PlannedStopPrice: o.PlannedStopPrice,
			RejectReason:     o.RejectReason,
			RunID:            o.RunID,
			UpdatedAt:        o.UpdatedAt,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"orders": views})
}

// RunView is the JSON shape of one trade run.
type RunView struct {
	RunID     string `json:"run_id"`
	TradeDate string `json:"trade_date"`
	Kind      string `json:"kind"`
	Status    string `json:"status"`
	Exits     int    `json:"exits"`
	Entries   int    `json:"entries"`
	Errors    int    `json:"errors"`
	StartedAt string `json:"started_at"`
	EndedAt   string `json:"ended_at,omitempty"`
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.RecentRuns(queryLimit(r, 20))
	if err != nil {
		s.writeError(w, err)
		return
	}
	views := []RunView{}
	for _, run := range runs {
		views = append(views, RunView{
			RunID:     run.RunID,
			TradeDate: run.TradeDate,
			Kind:      run.Kind,
			Status:    run.Status,
			Exits:     run.Exits,
			Entries:   run.Entries,
			Errors:    run.Errors,
			StartedAt: run.StartedAt,
			EndedAt:   run.EndedAt,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"runs": views})
}

// Statistics summarizes the executed book's closed trades.
type Statistics struct {
	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	WinRate       float64 `json:"win_rate"`
	TotalPnL      float64 `json:"total_pnl"`
	AveragePnL    float64 `json:"average_pnl"`
	CurrentOpen   int     `json:"current_open"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	total, winners, pnl, err := s.store.ClosedStats()
	if err != nil {
		s.writeError(w, err)
		return
	}
	openCount, err := s.store.CountOpenPositions()
	if err != nil {
		s.writeError(w, err)
		return
	}

	stats := Statistics{
		TotalTrades:   total,
		WinningTrades: winners,
		LosingTrades:  total - winners,
		TotalPnL:      pnl,
		CurrentOpen:   openCount,
	}
	if stats.TotalTrades > 0 {
		stats.WinRate = float64(stats.WinningTrades) / float64(stats.TotalTrades) * 100
		stats.AveragePnL = stats.TotalPnL / float64(stats.TotalTrades)
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func queryLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
