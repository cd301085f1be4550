package dashboard

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"nse-signal-engine/market"
	"nse-signal-engine/regime"
	"nse-signal-engine/risk"
	"nse-signal-engine/storage"
)

// Read-only HTTP surface: health and state for ops, /metrics for scraping.
// All mutation goes through the chat bot, never through HTTP.

// EngineStatus is the scan engine view the API reports.
type EngineStatus interface {
	Running() bool
	Halted() bool
	Accepting() bool
	Stats() map[string]any
}

// FeedStatus is the broker feed view.
type FeedStatus interface {
	Connected() bool
	Stats() map[string]any
}

type Deps struct {
	DB         *storage.Database
	Engine     EngineStatus
	Feed       FeedStatus
	Circuit    *risk.CircuitBreaker
	Adaptive   *risk.AdaptiveManager
	Exits      *risk.ExitMonitor
	Classifier *regime.Classifier
}

type Server struct {
	deps Deps
	srv  *http.Server
}

func New(host string, port int, deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{deps: deps}

	router.GET("/health", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	{
		api.GET("/status", s.handleStatus)
		api.GET("/signals", s.handleSignals)
		api.GET("/trades", s.handleTrades)
		api.GET("/regime", s.handleRegime)
		api.GET("/performance", s.handlePerformance)
	}

	s.srv = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", host, port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Start serves in the background; ErrServerClosed on shutdown is normal.
func (s *Server) Start() {
	go func() {
		log.Info().Str("addr", s.srv.Addr).Msg("🖥 Dashboard listening")
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Dashboard server failed")
		}
	}()
}

func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	status := "ok"
	if s.deps.Engine.Halted() {
		status = "halted"
	}
	c.JSON(http.StatusOK, gin.H{
		"status": status,
		"time":   time.Now().In(market.IST).Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	now := time.Now().In(market.IST)
	open, _ := s.deps.DB.GetActiveTradeCount()
	c.JSON(http.StatusOK, gin.H{
		"phase":            string(market.PhaseAt(now)),
		"engine":           s.deps.Engine.Stats(),
		"feed":             s.deps.Feed.Stats(),
		"circuit_breaker":  s.deps.Circuit.Stats(),
		"adaptive":         s.deps.Adaptive.Stats(),
		"open_trades":      open,
		"monitored_trades": s.deps.Exits.MonitoredCount(),
	})
}

func (s *Server) handleSignals(c *gin.Context) {
	day := c.DefaultQuery("date", market.Day(time.Now().In(market.IST)))
	signals, err := s.deps.DB.GetSignalsForDay(day)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"date": day, "signals": signals})
}

func (s *Server) handleTrades(c *gin.Context) {
	day := c.DefaultQuery("date", market.Day(time.Now().In(market.IST)))
	trades, err := s.deps.DB.GetTradesForDay(day)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"date": day, "trades": trades})
}

func (s *Server) handleRegime(c *gin.Context) {
	resp := gin.H{"enabled": s.deps.Classifier.Enabled()}
	if cls, ok := s.deps.Classifier.Current(); ok {
		resp["current"] = cls
	}
	if history, err := s.deps.DB.GetRegimeHistory(10); err == nil {
		resp["history"] = history
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handlePerformance(c *gin.Context) {
	day := c.DefaultQuery("date", market.Day(time.Now().In(market.IST)))
	perf, err := s.deps.DB.GetStrategyPerformance(day)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	summary, err := s.deps.DB.GetDaySummary(day)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"date": day, "strategies": perf, "summary": summary})
}
