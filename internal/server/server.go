// Package server exposes terrain loading over HTTP: loads run as
// background tasks whose progress streams over a WebSocket, and loaded
// terrains answer geo lookups and exports.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Faultbox/geoterrain/internal/config"
	"github.com/Faultbox/geoterrain/internal/geo"
	"github.com/Faultbox/geoterrain/internal/loader"
	"github.com/Faultbox/geoterrain/internal/logger"
)

// Options configures a Server.
type Options struct {
	Server config.ServerConfig
	// Loader holds the defaults each request starts from.
	Loader    loader.Options
	Fetcher   loader.Fetcher
	Converter geo.UTMConverter
}

// Server is the HTTP front end.
type Server struct {
	opts     Options
	tasks    *TaskManager
	engine   *gin.Engine
	upgrader websocket.Upgrader
}

// New creates a server and registers its routes.
func New(opts Options) *Server {
	if opts.Fetcher == nil {
		opts.Fetcher = loader.NewFetcher(0)
	}
	if opts.Converter == nil {
		opts.Converter = geo.DefaultConverter
	}

	s := &Server{
		opts:  opts,
		tasks: NewTaskManager(opts.Server.MaxLoads, opts.Server.TaskTTL, opts.Loader, opts.Fetcher, opts.Converter),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	r := gin.New()
	r.Use(gin.Recovery(), accessLog())
	s.routes(r)
	s.engine = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.engine }

// Tasks returns the task manager.
func (s *Server) Tasks() *TaskManager { return s.tasks }

func (s *Server) routes(r *gin.Engine) {
	g := r.Group("/terrains")
	{
		g.POST("", s.startLoad)
		g.GET("", s.listTasks)
		g.GET("/:id", s.taskStatus)
		g.DELETE("/:id", s.removeTask)
		g.GET("/:id/ws", s.progressSocket)
		g.GET("/:id/geocoords", s.geoCoords)
		g.GET("/:id/footprint", s.footprint)
		g.GET("/:id/glb", s.glb)
	}
}

// Run serves on the configured address until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Server.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go s.sweep(ctx)

	errc := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.tasks.CancelAll()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	logger.Info("server shutting down")
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) sweep(ctx context.Context) {
	interval := s.opts.Server.TaskTTL / 2
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := s.tasks.Sweep(now); n > 0 {
				logger.Debug("expired terrain tasks", zap.Int("count", n))
			}
		}
	}
}

func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)))
	}
}
