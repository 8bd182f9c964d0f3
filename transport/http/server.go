package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kochabx/vidchat/log"
	"github.com/kochabx/vidchat/transport"
)

var _ transport.Server = (*Server)(nil)

const (
	defaultName = "http"
	defaultAddr = ":8080"
)

// Meta is the metadata of the server.
type Meta struct {
	Name string
}

type Server struct {
	meta    Meta
	options Options
	logger  *log.Logger
	server  *http.Server
}

func NewServer(addr string, handler http.Handler, opts ...Option) *Server {
	s := &Server{
		logger: log.G,
		server: &http.Server{
			Addr:    addr,
			Handler: handler,
		},
	}

	for _, opt := range opts {
		opt(s)
	}

	additionalHandlers(s)

	return s
}

// Run 阻塞直到服务关闭，正常 Shutdown 时返回 nil
func (s *Server) Run() error {
	if s.meta.Name == "" {
		s.meta.Name = defaultName
	}

	if err := transport.ValidateAddress(s.server.Addr); err != nil {
		s.logger.Warn().Err(err).Msgf("invalid address %s, using default address: %s", s.server.Addr, defaultAddr)
		s.server.Addr = defaultAddr
	}
	s.logger.Info().Msgf("%s server listening on %s", s.meta.Name, s.server.Addr)

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler 返回根 handler
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func additionalHandlers(s *Server) {
	if r, ok := s.server.Handler.(*gin.Engine); ok {
		handleMetrics(s, r)
		handleHealth(s, r)
	}
}

func handleMetrics(s *Server, r *gin.Engine) {
	if s.options.Metrics.Enabled {
		r.GET(s.options.Metrics.Path, gin.WrapH(promhttp.HandlerFor(s.options.Metrics.Gatherer, promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		})))
	}
}

func handleHealth(s *Server, r *gin.Engine) {
	h := s.options.Health
	if !h.Enabled {
		return
	}
	r.GET(h.Path, func(c *gin.Context) {
		if h.Check == nil {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), h.Timeout)
		defer cancel()
		report := h.Check(ctx)
		c.JSON(healthStatus(report), report)
	})
}
