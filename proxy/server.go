// Package proxy is the HTTP intake: a reverse proxy that evaluates every
// request against the rate limiter before forwarding it to the upstream.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/makselll/rate-limiter/limiter"
	"github.com/makselll/rate-limiter/settings"
)

const shutdownTimeout = 10 * time.Second

// Server proxies requests to the configured upstream, rejecting
// rate-limited ones with 429 before they leave the gateway.
type Server struct {
	addr        string
	metricsAddr string
	engine      *gin.Engine
	logger      *zap.Logger
}

// New builds the proxy server from validated settings.
func New(cfg *settings.Settings, lim *limiter.Limiter, logger *zap.Logger) (*Server, error) {
	target, err := parseTarget(cfg.APIGateway.TargetURL)
	if err != nil {
		return nil, err
	}

	upstream := httputil.NewSingleHostReverseProxy(target)
	upstream.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		upstreamErrorsTotal.Inc()
		logger.Error("upstream request failed",
			zap.String("target", target.Host),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		w.WriteHeader(http.StatusBadGateway)
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	// Forwarded-for headers are honored only from peers listed in
	// trusted_proxies; with none configured the client IP is always the
	// socket peer address.
	if err := engine.SetTrustedProxies(cfg.APIGateway.TrustedProxies); err != nil {
		return nil, fmt.Errorf("invalid trusted_proxies: %w", err)
	}

	engine.Use(gin.Recovery())
	engine.Use(RateLimit(lim, cfg.RateLimiter.BodyLimitBytes))

	// Every path is proxied transparently, so the upstream handler hangs
	// off NoRoute rather than any registered route.
	engine.NoRoute(func(c *gin.Context) {
		upstream.ServeHTTP(c.Writer, c.Request)
	})

	return &Server{
		addr:        cfg.APIGateway.ProxyServerAddr,
		metricsAddr: cfg.APIGateway.MetricsAddr,
		engine:      engine,
		logger:      logger,
	}, nil
}

// parseTarget accepts either "host:port" or a full URL for the upstream.
func parseTarget(raw string) (*url.URL, error) {
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	target, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid target_url %q: %w", raw, err)
	}
	if target.Host == "" {
		return nil, fmt.Errorf("invalid target_url %q: missing host", raw)
	}
	return target, nil
}

// Handler exposes the composed handler, used by tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then shuts down gracefully. A bind
// failure is returned immediately.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", s.addr, err)
	}

	srv := &http.Server{Handler: s.engine}
	errCh := make(chan error, 2)

	go func() {
		s.logger.Info("proxy server listening", zap.String("addr", s.addr))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var metricsSrv *http.Server
	if s.metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{Addr: s.metricsAddr, Handler: mux}
		go func() {
			s.logger.Info("metrics server listening", zap.String("addr", s.metricsAddr))
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	return srv.Shutdown(shutdownCtx)
}
