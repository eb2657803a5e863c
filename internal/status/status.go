// Package status serves liveness, readiness and metrics endpoints while the
// provider runs continuously.
package status

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aspect-build/contract-provider/internal/logx"
)

const (
	DefaultAddress  = ":8081"
	shutdownTimeout = 5 * time.Second
)

// Source reports the provider state.
type Source interface {
	// Ready reports whether a contract set has been persisted since start.
	Ready() bool
	StateName() string
}

// NewRouter creates the gin engine serving /healthz, /readyz and /metrics.
func NewRouter(src Source, gatherer prometheus.Gatherer) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	r.GET("/readyz", func(c *gin.Context) {
		code := http.StatusOK
		if !src.Ready() {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{"ready": src.Ready(), "state": src.StateName()})
	})
	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
	return r
}

// Server is the HTTP status server.
type Server struct {
	srv *http.Server
}

func New(addr string, src Source, gatherer prometheus.Gatherer) *Server {
	return &Server{srv: &http.Server{
		Addr:              addr,
		Handler:           NewRouter(src, gatherer),
		ReadHeaderTimeout: 5 * time.Second,
	}}
}

// Run listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("listen status %s: %w", s.srv.Addr, err)
	}
	return s.Serve(ctx, lis)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	logx.Infof("status server listening on %s", lis.Addr())
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.srv.Serve(lis)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("status server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown status server: %w", err)
	}
	return nil
}
