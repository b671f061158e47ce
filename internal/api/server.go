// Package api exposes the operator control plane: liveness and readiness
// probes, the kill switch, and per-strategy toggles. It is a thin layer
// over the risk and strategy packages and never touches order flow
// directly.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"tradepipe/pkg/circuit"
	"tradepipe/pkg/types"
)

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// KillSwitch is the subset of the risk kill switch the API drives.
type KillSwitch interface {
	Active() bool
	Activate(ctx context.Context, reason string, drawdownPercent float64)
	Deactivate(ctx context.Context, reason string)
}

// StrategyControl toggles registered strategies.
type StrategyControl interface {
	Toggle(name string, enabled bool) error
	Strategies() map[string]bool
}

// ModeReader reports the current trading mode.
type ModeReader interface {
	Mode() types.TradingMode
}

// Deps wires the server to the rest of the process. Breakers are
// optional; any registered breaker that is not closed fails readiness.
type Deps struct {
	Cache      Pinger
	Store      Pinger
	Breakers   []*circuit.Breaker
	KillSwitch KillSwitch
	Strategies StrategyControl
	Mode       ModeReader
	JWTSecret  string
}

// Server is the HTTP control plane.
type Server struct {
	Router *gin.Engine
	deps   Deps
	log    zerolog.Logger
}

func NewServer(deps Deps, log zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	s := &Server{Router: router, deps: deps, log: log}

	// Middleware stack (order matters!).
	router.Use(gin.Recovery())
	router.Use(requestID())
	router.Use(requestLogger(log))
	router.Use(rateLimit(newClientLimiter(rate.Limit(20), 50)))

	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health/live", s.handleLive)
	s.Router.GET("/health/ready", s.handleReady)

	ops := s.Router.Group("/api", authMiddleware(s.deps.JWTSecret))
	ops.GET("/status", s.handleStatus)
	ops.POST("/killswitch/activate", s.handleKillSwitchActivate)
	ops.POST("/killswitch/deactivate", s.handleKillSwitchDeactivate)
	ops.POST("/strategies/:name/toggle", s.handleStrategyToggle)
}

// Run serves until the context is canceled, then drains in-flight
// requests for up to five seconds.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Router}

	errc := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) handleLive(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleReady(c *gin.Context) {
	ctx := c.Request.Context()
	checks := gin.H{}
	ready := true

	if s.deps.Cache != nil {
		if err := s.deps.Cache.Ping(ctx); err != nil {
			checks["cache"] = err.Error()
			ready = false
		} else {
			checks["cache"] = "ok"
		}
	}
	if s.deps.Store != nil {
		if err := s.deps.Store.Ping(ctx); err != nil {
			checks["store"] = err.Error()
			ready = false
		} else {
			checks["store"] = "ok"
		}
	}
	for _, b := range s.deps.Breakers {
		if b.Healthy() {
			checks["breaker."+b.Name()] = "closed"
		} else {
			checks["breaker."+b.Name()] = b.State().String()
			ready = false
		}
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"ready": ready, "checks": checks})
}

func (s *Server) handleStatus(c *gin.Context) {
	resp := gin.H{
		"killSwitchActive": s.deps.KillSwitch.Active(),
		"strategies":       s.deps.Strategies.Strategies(),
	}
	if s.deps.Mode != nil {
		resp["tradingMode"] = s.deps.Mode.Mode()
	}
	c.JSON(http.StatusOK, resp)
}

type killSwitchRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleKillSwitchActivate(c *gin.Context) {
	var req killSwitchRequest
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "manual activation via API"
	}

	s.deps.KillSwitch.Activate(c.Request.Context(), req.Reason, 0)
	s.log.Warn().
		Str("operator", c.GetString("operator")).
		Str("reason", req.Reason).
		Msg("kill switch activated by operator")
	c.JSON(http.StatusOK, gin.H{"active": true})
}

func (s *Server) handleKillSwitchDeactivate(c *gin.Context) {
	var req killSwitchRequest
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "manual deactivation via API"
	}

	s.deps.KillSwitch.Deactivate(c.Request.Context(), req.Reason)
	s.log.Warn().
		Str("operator", c.GetString("operator")).
		Str("reason", req.Reason).
		Msg("kill switch deactivated by operator")
	c.JSON(http.StatusOK, gin.H{"active": false})
}

type toggleRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

func (s *Server) handleStrategyToggle(c *gin.Context) {
	var req toggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must include enabled"})
		return
	}

	name := c.Param("name")
	if err := s.deps.Strategies.Toggle(name, *req.Enabled); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"strategy": name, "enabled": *req.Enabled})
}
