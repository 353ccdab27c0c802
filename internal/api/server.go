// Package api serves the qaza stats over HTTP for the companion dashboard.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"qazabot/internal/storage"
	logx "qazabot/pkg/logx"
)

// StatsStore is the read-only slice of the storage layer the API serves.
type StatsStore interface {
	GetUser(ctx context.Context, id int64) (storage.User, error)
	TotalQazas(ctx context.Context, userID int64) (int, error)
	Breakdown(ctx context.Context, userID int64) (map[string]int, error)
	UserStats(ctx context.Context, userID int64, now time.Time) (storage.Stats, error)
	WeeklyActivity(ctx context.Context, userID int64, now time.Time) ([]storage.DayActivity, error)
}

type Config struct {
	Addr         string
	AllowOrigins []string
}

type Server struct {
	cfg   Config
	store StatsStore
	log   logx.Logger
	srv   *http.Server
}

func NewServer(cfg Config, store StatsStore, log logx.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8080"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{cfg: cfg, store: store, log: log}
}

// Routes builds the gin engine. Split out so tests can hit it directly.
func (s *Server) Routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	corsCfg := cors.DefaultConfig()
	if len(s.cfg.AllowOrigins) > 0 {
		corsCfg.AllowOrigins = s.cfg.AllowOrigins
	} else {
		corsCfg.AllowAllOrigins = true
	}
	corsCfg.AllowMethods = []string{"GET", "OPTIONS"}
	r.Use(cors.New(corsCfg))

	r.GET("/qaza/total/:user_id", s.handleTotal)
	r.GET("/qaza/breakdown/:user_id", s.handleBreakdown)
	r.GET("/qaza/stats/:user_id", s.handleStats)
	r.GET("/qaza/week/:user_id", s.handleWeek)
	return r
}

func (s *Server) Start() error {
	s.srv = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("stats api stopped", logx.Err(err))
		}
	}()
	s.log.Info("stats api listening", logx.String("addr", s.cfg.Addr))
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// userID parses the path parameter and 404s for unknown users so the
// dashboard can distinguish "no data" from "no such user".
func (s *Server) userID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return 0, false
	}
	if _, err := s.store.GetUser(c.Request.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return 0, false
		}
		s.log.Warn("user lookup failed", logx.Int64("user", id), logx.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return 0, false
	}
	return id, true
}

func (s *Server) handleTotal(c *gin.Context) {
	id, ok := s.userID(c)
	if !ok {
		return
	}
	n, err := s.store.TotalQazas(c.Request.Context(), id)
	if err != nil {
		s.fail(c, id, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": id, "total_qazas": n})
}

func (s *Server) handleBreakdown(c *gin.Context) {
	id, ok := s.userID(c)
	if !ok {
		return
	}
	bd, err := s.store.Breakdown(c.Request.Context(), id)
	if err != nil {
		s.fail(c, id, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": id, "breakdown": bd})
}

func (s *Server) handleStats(c *gin.Context) {
	id, ok := s.userID(c)
	if !ok {
		return
	}
	st, err := s.store.UserStats(c.Request.Context(), id, time.Now())
	if err != nil {
		s.fail(c, id, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) handleWeek(c *gin.Context) {
	id, ok := s.userID(c)
	if !ok {
		return
	}
	week, err := s.store.WeeklyActivity(c.Request.Context(), id, time.Now())
	if err != nil {
		s.fail(c, id, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": id, "week": week})
}

func (s *Server) fail(c *gin.Context, id int64, err error) {
	s.log.Warn("stats query failed", logx.Int64("user", id), logx.Err(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
