// Package server exposes a loaded helper over a JSON HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dexhelper/internal/hunt"
	"github.com/dexhelper/internal/repository"
	"github.com/dexhelper/pkg/config"
	"github.com/dexhelper/pkg/dexhelper"
	"github.com/dexhelper/pkg/pprof"
	"github.com/dexhelper/pkg/utils"
)

// Config holds what the server serves.
type Config struct {
	Server *config.ServerConfig
	Helper *dexhelper.Helper
	// Repos and Runner are optional; without them the hunt routes answer
	// 503.
	Repos  *repository.Repositories
	Runner *hunt.Runner
	Source string
	Debug  bool
	// Profiling mounts the runtime pprof endpoints under /debug/pprof/.
	Profiling bool
	Logger    utils.Logger
}

// Server is the HTTP front end.
type Server struct {
	conf   *Config
	router *gin.Engine
	http   *http.Server
	logger utils.Logger
}

// NewServer builds the router.
func NewServer(conf *Config) *Server {
	if conf.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	s := &Server{
		conf:   conf,
		router: gin.New(),
		logger: utils.OrNull(conf.Logger),
	}
	s.router.Use(gin.Recovery(), s.requestLogger())
	s.addRoutes(s.router.Group("/api/v1"))
	if conf.Profiling {
		s.router.Any("/debug/pprof/*path", gin.WrapH(pprof.Handler()))
	}
	return s
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := ":8080"
	var readTimeout, writeTimeout time.Duration
	if sc := s.conf.Server; sc != nil {
		if sc.Addr != "" {
			addr = sc.Addr
		}
		readTimeout, writeTimeout = sc.ReadTimeout, sc.WriteTimeout
	}
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Listening on %s", addr)
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("%s %s %d %s", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}
