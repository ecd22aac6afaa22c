// Package server wires the HTTP surface: routing, middleware and the
// listener lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"

	"github.com/nightjar-media/nightjar/internal/config"
	"github.com/nightjar-media/nightjar/internal/modules/mediamodule"
	"github.com/nightjar-media/nightjar/internal/modules/streamingmodule"
	"github.com/nightjar-media/nightjar/internal/server/handlers"
)

// Dependencies are the collaborators the HTTP layer serves.
type Dependencies struct {
	Streaming          *streamingmodule.HlsStreamingService
	Playlists          *streamingmodule.HlsPlaylistService
	Segments           streamingmodule.SegmentStore
	Executor           streamingmodule.ProcessExecutor
	Resolver           *mediamodule.Resolver
	SegmentWaitTimeout time.Duration
}

// Server owns the gin engine and the underlying http.Server.
type Server struct {
	logger hclog.Logger
	cfg    config.ServerConfig
	http   *http.Server
}

// New builds the router and the listener.
func New(cfg config.ServerConfig, deps Dependencies, logger hclog.Logger) *Server {
	engine := SetupRouter(cfg, deps, logger)
	return &Server{
		logger: logger.Named("http"),
		cfg:    cfg,
		http: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:      engine,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
	}
}

// SetupRouter configures the gin engine and all routes.
func SetupRouter(cfg config.ServerConfig, deps Dependencies, logger hclog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	if cfg.EnableCORS {
		r.Use(corsMiddleware())
	}

	streaming := handlers.NewStreamingHandler(deps.Streaming, deps.Playlists, deps.Segments, deps.SegmentWaitTimeout, logger)
	media := handlers.NewMediaHandler(deps.Resolver, logger)
	health := handlers.NewHealthHandler(deps.Streaming, deps.Executor)

	r.GET("/health", health.Health)

	api := r.Group("/api/v1")
	{
		api.GET("/media", media.ListMedia)
		api.GET("/media/:id", media.GetMedia)

		api.POST("/streams", streaming.CreateStream)
		api.GET("/streams", streaming.ListStreams)
		api.GET("/streams/:id", streaming.GetStream)
		api.DELETE("/streams/:id", streaming.DestroyStream)
		api.POST("/streams/:id/seek", streaming.SeekStream)

		// :name is either a playlist/segment name (single-variant) or a
		// variant label (adaptive); segment URIs inside the playlists are
		// relative, so both shapes have to resolve under the session root.
		api.GET("/streams/:id/:name", streaming.ServeSessionFile)
		api.GET("/streams/:id/:name/:file", streaming.ServeVariantFile)
	}

	return r
}

// corsMiddleware allows browser playback clients on other origins.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.Info("shutting down")
	return s.http.Shutdown(shutdownCtx)
}
