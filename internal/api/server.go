// Package api serves the operational HTTP surface: health, poller
// status, manual poll and recent entries.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nhle/secondbrain/internal/model"
	"github.com/nhle/secondbrain/internal/store"
	"github.com/nhle/secondbrain/internal/sync"
)

const (
	defaultEntryLimit = 20
	maxEntryLimit     = 200
	shutdownTimeout   = 10 * time.Second
)

// Poller is the poll control the server exposes.
type Poller interface {
	Status() sync.Status
	PollNow(ctx context.Context) model.PollResult
}

// Entries lists a tenant's recent entries.
type Entries interface {
	TenantByID(ctx context.Context, id string) (*model.Tenant, error)
	GetEntries(ctx context.Context, tenantID string, limit int) ([]model.Entry, error)
}

// Server is the HTTP API.
type Server struct {
	engine  *gin.Engine
	poller  Poller
	entries Entries
	logger  *slog.Logger
}

// New builds the router.
func New(p Poller, e Entries, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		engine:  gin.New(),
		poller:  p,
		entries: e,
		logger:  logger.With("component", "api"),
	}

	s.engine.Use(gin.Recovery(), s.requestLogger())

	s.engine.GET("/healthz", s.handleHealth)
	s.engine.GET("/status", s.handleStatus)
	s.engine.POST("/poll", s.handlePoll)

	tenants := s.engine.Group("/tenants")
	{
		tenants.GET("/:id/entries", s.handleEntries)
	}

	return s
}

// Handler returns the router as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving api on %s: %w", addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down api: %w", err)
	}
	return nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.poller.Status())
}

func (s *Server) handlePoll(c *gin.Context) {
	if !s.poller.Status().Configured {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "mailbox not configured"})
		return
	}
	c.JSON(http.StatusOK, s.poller.PollNow(c.Request.Context()))
}

func (s *Server) handleEntries(c *gin.Context) {
	tenantID := c.Param("id")

	limit := defaultEntryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = min(n, maxEntryLimit)
	}

	ctx := c.Request.Context()
	if _, err := s.entries.TenantByID(ctx, tenantID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "tenant not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	entries, err := s.entries.GetEntries(ctx, tenantID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}
