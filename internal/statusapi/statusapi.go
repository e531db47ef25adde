// Package statusapi serves a small read-only JSON view of the daemon:
// health, watermark age, cycle counters, and recent notifications.
package statusapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/zulandar/waybill/internal/models"
)

const defaultPort = 8719

// StatusFunc produces the document served at /api/status. The daemon injects
// a closure here so this package stays a plain JSON view with no knowledge
// of the scheduler.
type StatusFunc func() (interface{}, error)

// Opts holds configuration for the status server.
type Opts struct {
	DB     *gorm.DB
	Port   int
	Status StatusFunc
	Out    io.Writer
}

// Server is the status API server.
type Server struct {
	db       *gorm.DB
	port     int
	statusFn StatusFunc
	out      io.Writer
	router   *gin.Engine
}

// New builds the server and its routes.
func New(opts Opts) *Server {
	port := opts.Port
	if port <= 0 {
		port = defaultPort
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		db:       opts.DB,
		port:     port,
		statusFn: opts.Status,
		out:      opts.Out,
		router:   router,
	}
	router.GET("/healthz", s.healthz)
	router.GET("/api/status", s.status)
	router.GET("/api/notifications", s.notifications)
	return s
}

// Handler exposes the route tree for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start launches the HTTP server. It blocks until ctx is cancelled, then
// shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.router,
	}
	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	if s.out != nil {
		fmt.Fprintf(s.out, "Status API on http://localhost:%d\n", s.port)
	}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("statusapi: %w", err)
	}
	return nil
}

func (s *Server) healthz(c *gin.Context) {
	if s.db != nil {
		if sqlDB, err := s.db.DB(); err != nil || sqlDB.Ping() != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) status(c *gin.Context) {
	if s.statusFn == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "status source not configured"})
		return
	}
	doc, err := s.statusFn()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (s *Server) notifications(c *gin.Context) {
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 200 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be 1-200"})
			return
		}
		limit = n
	}

	var recs []models.Notification
	err := s.db.Preload("Message").Order("dispatched_at DESC").Limit(limit).Find(&recs).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": recs, "count": len(recs)})
}
