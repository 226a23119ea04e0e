package status

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dalnet/ircbot/internal/irc"
	"github.com/dalnet/ircbot/internal/logger"
)

// Source is the read-only view of the client the endpoint reports.
type Source interface {
	Snapshot() irc.Snapshot
	Caps() irc.CapState
}

type capsResponse struct {
	Negotiating bool     `json:"negotiating"`
	Enabled     []string `json:"enabled"`
}

type stateResponse struct {
	irc.Snapshot
	Caps capsResponse `json:"caps"`
}

// Server serves /healthz, /state and /metrics.
type Server struct {
	router *gin.Engine
	src    Source
	log    logger.Logger
}

func NewServer(src Source, log logger.Logger) *Server {
	s := &Server{
		router: gin.New(),
		src:    src,
		log:    log.Named("status"),
	}
	s.router.Use(gin.Recovery(), s.logRequests)

	s.router.GET("/healthz", s.healthz)
	s.router.GET("/state", s.state)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve listens on addr until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       30 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info("listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) logRequests(c *gin.Context) {
	start := time.Now()
	c.Next()
	s.log.Debug("request", "method", c.Request.Method, "path", c.Request.URL.Path,
		"status", c.Writer.Status(), "took", time.Since(start))
}

func (s *Server) healthz(c *gin.Context) {
	snap := s.src.Snapshot()
	status := http.StatusOK
	if !snap.Registered {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"registered": snap.Registered, "nick": snap.Nick})
}

func (s *Server) state(c *gin.Context) {
	caps := s.src.Caps()
	enabled := caps.Enabled
	if enabled == nil {
		enabled = []string{}
	}
	c.JSON(http.StatusOK, stateResponse{
		Snapshot: s.src.Snapshot(),
		Caps:     capsResponse{Negotiating: caps.Init, Enabled: enabled},
	})
}
