// Package api serves the read-only HTTP surface: signal history, aggregate
// stats, the active universe, health and Prometheus metrics.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"futures-signal-bot/config"
	"futures-signal-bot/internal/cache"
	"futures-signal-bot/internal/database"
	"futures-signal-bot/internal/logging"
	"futures-signal-bot/internal/stats"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	defaultSignalLimit = 50
	maxSignalLimit     = 200
)

// Store is the read surface the API exposes.
type Store interface {
	GetSignalsByStatus(ctx context.Context, status string, limit int) ([]*database.Signal, error)
	GetRecentSignals(ctx context.Context, limit int) ([]*database.Signal, error)
	GetAllTrades(ctx context.Context) ([]*database.Trade, error)
	GetUniverse(ctx context.Context) ([]*database.Symbol, error)
}

// Pinger reports database liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the read-only HTTP API.
type Server struct {
	cfg        config.ServerConfig
	router     *gin.Engine
	httpServer *http.Server
	store      Store
	db         Pinger
	cache      *cache.Service
	logger     *logging.Logger
}

// NewServer builds the router. gatherer feeds /metrics.
func NewServer(cfg config.ServerConfig, store Store, db Pinger, cacheService *cache.Service, gatherer prometheus.Gatherer) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		cfg:    cfg,
		store:  store,
		db:     db,
		cache:  cacheService,
		logger: logging.WithComponent("api"),
	}

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if cfg.AllowedOrigins == "" || cfg.AllowedOrigins == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = strings.Split(cfg.AllowedOrigins, ",")
	}
	corsConfig.AllowMethods = []string{"GET", "OPTIONS"}
	router.Use(cors.New(corsConfig))

	router.GET("/health", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/signals", s.handleSignals)
		v1.GET("/stats", s.handleStats)
		v1.GET("/universe", s.handleUniverse)
	}

	s.router = router
	return s
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.cfg.WriteTimeout) * time.Second,
	}

	s.logger.Info("API server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	overall := "ok"
	dbStatus := "up"
	status := http.StatusOK
	if err := s.db.Ping(ctx); err != nil {
		overall = "degraded"
		dbStatus = "down"
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{
		"status":   overall,
		"database": dbStatus,
		"cache":    s.cache.GetStats(),
	})
}

func (s *Server) handleSignals(c *gin.Context) {
	limit := defaultSignalLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}
	if limit > maxSignalLimit {
		limit = maxSignalLimit
	}

	status := strings.ToUpper(c.Query("status"))
	var (
		signals []*database.Signal
		err     error
	)
	if status == "" {
		signals, err = s.store.GetRecentSignals(c.Request.Context(), limit)
	} else if status == database.SignalStatusOpen || status == database.SignalStatusClosed {
		signals, err = s.store.GetSignalsByStatus(c.Request.Context(), status, limit)
	} else {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status must be OPEN or CLOSED"})
		return
	}
	if err != nil {
		s.logger.WithError(err).Error("Signal query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load signals"})
		return
	}
	if signals == nil {
		signals = []*database.Signal{}
	}

	c.JSON(http.StatusOK, gin.H{"signals": signals, "count": len(signals)})
}

func (s *Server) handleStats(c *gin.Context) {
	trades, err := s.store.GetAllTrades(c.Request.Context())
	if err != nil {
		s.logger.WithError(err).Error("Trade query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load trades"})
		return
	}

	c.JSON(http.StatusOK, stats.Summarize(trades))
}

func (s *Server) handleUniverse(c *gin.Context) {
	symbols, err := s.store.GetUniverse(c.Request.Context())
	if err != nil {
		s.logger.WithError(err).Error("Universe query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load universe"})
		return
	}
	if symbols == nil {
		symbols = []*database.Symbol{}
	}

	c.JSON(http.StatusOK, gin.H{"symbols": symbols, "count": len(symbols)})
}
