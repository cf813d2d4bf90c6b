// Package api exposes the simulator over HTTP: trader and team management, order
// entry, read models, admin controls, the notification websocket and metrics.
package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/amirphl/trading-simulator/internal/broadcast"
	"github.com/amirphl/trading-simulator/internal/clock"
	"github.com/amirphl/trading-simulator/internal/db"
	"github.com/amirphl/trading-simulator/internal/engine"
	"github.com/amirphl/trading-simulator/internal/journal"
	"github.com/amirphl/trading-simulator/internal/trader"
	"github.com/amirphl/trading-simulator/internal/utils"
)

const (
	HeaderAuth  = "Authorization"
	HeaderAdmin = "X-Admin-Token"

	bearerPrefix = "Bearer "

	ctxTrader    = "trader"
	ctxLedgerKey = "ledgerKey"
)

// LedgerLoader attaches a stored ledger to the engine before it is used.
type LedgerLoader interface {
	Ensure(ctx context.Context, key string) error
}

// Streamer serves the notification websocket for one ledger.
type Streamer interface {
	Serve(w http.ResponseWriter, r *http.Request, ledgerKey string)
}

type Options struct {
	Engine     *engine.MarketEngine
	Loader     LedgerLoader
	Registry   *trader.Registry
	Settings   db.SettingsStore
	Journal    journal.Journaler
	Bus        broadcast.Bus
	Streamer   Streamer
	Clock      clock.Clock
	AdminToken string
	Logger     *zap.SugaredLogger
}

type Server struct {
	engine     *engine.MarketEngine
	loader     LedgerLoader
	registry   *trader.Registry
	settings   db.SettingsStore
	journal    journal.Journaler
	bus        broadcast.Bus
	streamer   Streamer
	clock      clock.Clock
	adminToken string
	log        *zap.SugaredLogger
}

func NewServer(opts Options) (*Server, error) {
	if opts.Engine == nil || opts.Loader == nil || opts.Registry == nil || opts.Bus == nil {
		return nil, errors.New("api server requires an engine, loader, registry and bus")
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Logger == nil {
		opts.Logger = utils.GetLogger()
	}
	return &Server{
		engine:     opts.Engine,
		loader:     opts.Loader,
		registry:   opts.Registry,
		settings:   opts.Settings,
		journal:    opts.Journal,
		bus:        opts.Bus,
		streamer:   opts.Streamer,
		clock:      opts.Clock,
		adminToken: opts.AdminToken,
		log:        opts.Logger,
	}, nil
}

// Router builds the gin engine with every route mounted.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	v1 := r.Group("/api/v1")
	{
		v1.POST("/traders/signup", s.Signup)
		v1.POST("/traders/login", s.Login)
		v1.GET("/market", s.GetMarket)
		v1.GET("/leaderboard", s.GetLeaderboard)
		v1.GET("/teams", s.ListTeams)
	}

	traders := r.Group("/api/v1")
	traders.Use(s.requireTrader())
	{
		traders.GET("/portfolio", s.GetPortfolio)
		traders.POST("/orders", s.PlaceOrder)
		traders.DELETE("/orders/:id", s.CancelOrder)
		traders.POST("/teams", s.CreateTeam)
		traders.POST("/teams/join", s.JoinTeam)
	}

	admin := r.Group("/api/v1/admin")
	admin.Use(s.requireAdmin())
	{
		admin.POST("/session/open", s.OpenSession)
		admin.POST("/session/close", s.CloseSession)
		admin.GET("/session/history", s.SessionHistory)
		admin.GET("/events", s.ListEvents)
		admin.POST("/events", s.TriggerEvent)
		admin.POST("/messages", s.BroadcastMessage)
		admin.GET("/settings", s.GetSettings)
		admin.PUT("/settings", s.UpdateSettings)
		admin.GET("/traders", s.ListTraders)
		admin.GET("/leaderboard", s.AdminLeaderboard)
		admin.POST("/ledgers/:key/reset", s.ResetLedger)
		admin.POST("/ledgers/:key/cash", s.AdjustCash)
		admin.GET("/journal", s.GetJournal)
	}

	r.GET("/ws", s.requireTrader(), func(c *gin.Context) {
		if s.streamer == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "websocket not configured"})
			return
		}
		s.streamer.Serve(c.Writer, c.Request, c.GetString(ctxLedgerKey))
	})

	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		s.log.Debugw("request | handled",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
		)
	}
}

// requireTrader resolves the calling trader from the session token issued at
// signup or login, sent as "Authorization: Bearer <token>" (or the token query
// parameter for websocket clients), and attaches its ledger.
func (s *Server) requireTrader() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimPrefix(c.GetHeader(HeaderAuth), bearerPrefix)
		if token == "" {
			token = c.Query("token")
		}
		ctx := c.Request.Context()
		p, err := s.registry.Authenticate(ctx, token)
		if err != nil {
			if errors.Is(err, trader.ErrInvalidToken) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
				return
			}
			s.internalError(c, "requireTrader", err)
			return
		}
		key, err := s.registry.LedgerKey(ctx, p.ID)
		if err != nil {
			s.internalError(c, "requireTrader", err)
			return
		}
		if err := s.loader.Ensure(ctx, key); err != nil {
			s.internalError(c, "requireTrader", err)
			return
		}
		c.Set(ctxTrader, p)
		c.Set(ctxLedgerKey, key)
		c.Next()
	}
}

// requireAdmin checks X-Admin-Token. An empty configured token leaves the admin
// routes open, which is only meant for local runs.
func (s *Server) requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.adminToken == "" {
			c.Next()
			return
		}
		got := c.GetHeader(HeaderAdmin)
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.adminToken)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin token required"})
			return
		}
		c.Next()
	}
}

func (s *Server) internalError(c *gin.Context, where string, err error) {
	s.log.Errorw(where+" | request failed", "path", c.FullPath(), "error", err)
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func currentTrader(c *gin.Context) trader.Profile {
	v, _ := c.Get(ctxTrader)
	p, _ := v.(trader.Profile)
	return p
}
