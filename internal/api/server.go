// Package api serves the dispatcher over HTTP/JSON.
//
// Signers are taken from the request body as asserted by the fronting
// gateway; this package performs no authentication of its own.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/roach88/preauth/internal/engine"
)

const shutdownTimeout = 30 * time.Second

// Server routes HTTP requests to a Dispatcher.
type Server struct {
	d      *engine.Dispatcher
	log    *zap.Logger
	router *gin.Engine
}

// New builds a Server and registers its routes.
func New(d *engine.Dispatcher, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{d: d, log: log}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(CorrelationIDMiddleware())
	r.Use(LoggingMiddleware(log))

	r.GET("/health", s.health)

	v1 := r.Group("/v1")
	{
		delegates := v1.Group("/delegates")
		{
			delegates.POST("", s.initDelegate)
			delegates.GET("/:token_account", s.getDelegate)
			delegates.DELETE("/:token_account", s.closeDelegate)
		}

		pas := v1.Group("/pre-authorizations")
		{
			pas.POST("", s.initPreAuthorization)
			pas.GET("", s.listPreAuthorizations)
			pas.GET("/:address", s.getPreAuthorization)
			pas.DELETE("/:address", s.closePreAuthorization)
			pas.POST("/:address/debit", s.debit)
			pas.POST("/:address/check-debit", s.checkDebit)
			pas.GET("/:address/max-debit", s.maxDebit)
			pas.PUT("/:address/pause", s.setPause)
		}

		v1.GET("/events", s.listEvents)
	}

	s.router = r
	return s
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("api listening", zap.String("addr", addr), zap.Stringer("program_id", s.d.ProgramID()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen %s: %w", addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	s.log.Info("shutting down api")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "unix_timestamp": s.d.Now()})
}
