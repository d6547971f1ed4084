// Package api exposes operator commands and plant queries over HTTP.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/anoop6543/PharmaVax-sub001/pkg/control/component/export"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/config"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/controller"
	sqlrepo "github.com/anoop6543/PharmaVax-sub001/pkg/control/infrastructure/repository/sql"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/support/util/logger"
)

// Server is the operator HTTP surface.
type Server struct {
	ctrl           *controller.Controller
	cfg            config.APIConfig
	repo           *sqlrepo.Repository
	exporter       *export.HistorianExporter
	metrics        http.Handler
	tracerProvider trace.TracerProvider
	serviceName    string
	now            func() time.Time

	engine *gin.Engine
	srv    *http.Server
	addr   net.Addr
}

// Option configures a Server.
type Option func(*Server)

// WithRepository enables the persisted audit, alarm and batch record queries.
func WithRepository(repo *sqlrepo.Repository) Option {
	return func(s *Server) { s.repo = repo }
}

// WithHistorianExporter enables POST /historian/export.
func WithHistorianExporter(e *export.HistorianExporter) Option {
	return func(s *Server) { s.exporter = e }
}

// WithMetricsHandler serves h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithTracing creates a server span for every request.
func WithTracing(serviceName string, tp trace.TracerProvider) Option {
	return func(s *Server) {
		s.serviceName = serviceName
		s.tracerProvider = tp
	}
}

// WithClock replaces the wall clock used for default query ranges.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// NewServer builds the router. Call Start to listen.
func NewServer(ctrl *controller.Controller, cfg config.APIConfig, opts ...Option) *Server {
	s := &Server{ctrl: ctrl, cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	if s.tracerProvider != nil {
		engine.Use(otelgin.Middleware(s.serviceName, otelgin.WithTracerProvider(s.tracerProvider)))
	}
	engine.Use(requestLogger(), operatorMiddleware(cfg.DefaultUser))

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	s.engine = engine
	s.routes(rateLimitMiddleware(limiter))
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.addr = ln.Addr()
	s.srv = &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("API server stopped: %v", err)
		}
	}()
	logger.Infof("Operator API listening on %s.", s.addr)
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() net.Addr {
	return s.addr
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
