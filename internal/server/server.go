// Package server exposes a running filter session over HTTP: style
// control, captures, a websocket preview and Prometheus metrics.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dudu/lipfilter/internal/capture"
	"github.com/dudu/lipfilter/internal/compositor"
	"github.com/dudu/lipfilter/internal/landmark"
	"github.com/dudu/lipfilter/internal/scheduler"
)

// Session is the part of scheduler.Session the API drives
type Session interface {
	Start(ctx context.Context) error
	Stop() error
	State() scheduler.State
	Refresh(ctx context.Context) error
	Result() *landmark.Result
	Target() scheduler.Target
	Styles() *compositor.StyleStore
	LastTiming() scheduler.Timing
}

// Config holds server settings
type Config struct {
	Addr string
	// CaptureRate is the sustained number of captures per second; zero
	// means unlimited
	CaptureRate  float64
	CaptureBurst int
	PreviewFPS   int
	Capture      capture.Options
}

// DefaultConfig returns the default server configuration
func DefaultConfig() Config {
	return Config{
		Addr:         "127.0.0.1:8765",
		CaptureRate:  2,
		CaptureBurst: 4,
		PreviewFPS:   15,
		Capture:      capture.DefaultOptions(),
	}
}

// Deps are the collaborators the handlers use
type Deps struct {
	Session Session
	Palette compositor.Palette
	// Metrics is mounted at /metrics when set
	Metrics http.Handler
	Logger  *zap.SugaredLogger
}

// Server is the HTTP API
type Server struct {
	cfg     Config
	session Session
	palette compositor.Palette
	limiter *rate.Limiter
	engine  *gin.Engine
	log     *zap.SugaredLogger

	// base is the context sessions started over the API run under
	base context.Context

	upgrader websocket.Upgrader
}

// New builds the router
func New(cfg Config, deps Deps) (*Server, error) {
	if deps.Session == nil {
		return nil, errors.New("server: session is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop().Sugar()
	}
	if len(deps.Palette) == 0 {
		deps.Palette = compositor.DefaultPalette
	}
	def := DefaultConfig()
	if cfg.PreviewFPS <= 0 {
		cfg.PreviewFPS = def.PreviewFPS
	}
	if cfg.CaptureBurst <= 0 {
		cfg.CaptureBurst = 1
	}
	if cfg.Capture.Format == "" {
		cfg.Capture.Format = capture.FormatPNG
	}
	limit := rate.Inf
	if cfg.CaptureRate > 0 {
		limit = rate.Limit(cfg.CaptureRate)
	}

	s := &Server{
		cfg:     cfg,
		session: deps.Session,
		palette: deps.Palette,
		limiter: rate.NewLimiter(limit, cfg.CaptureBurst),
		log:     deps.Logger.Named("server"),
		base:    context.Background(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	s.engine = s.routes(deps.Metrics)
	return s, nil
}

func (s *Server) routes(metrics http.Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLog())

	r.GET("/api/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	r.GET("/api/status", s.status)
	r.GET("/api/palette", s.listPalette)
	r.GET("/api/style", s.getStyle)
	r.PUT("/api/style", s.putStyle)
	r.POST("/api/session/start", s.start)
	r.POST("/api/session/stop", s.stop)
	r.POST("/api/capture", s.capture)
	r.GET("/ws/preview", s.preview)
	if metrics != nil {
		r.GET("/metrics", gin.WrapH(metrics))
	}
	return r
}

// requestLog logs each request at debug level
func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debugw("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"latency", time.Since(start))
	}
}

// Handler returns the router
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on the configured address until ctx is done. Sessions
// started through the API run under ctx.
func (s *Server) Run(ctx context.Context) error {
	s.base = ctx
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.log.Infow("http server listening", "addr", s.cfg.Addr)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrapf(err, "failed to serve on %s", s.cfg.Addr)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "http server shutdown")
	}
	return nil
}
