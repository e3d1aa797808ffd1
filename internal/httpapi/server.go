// Package httpapi implements the HTTP surface: the aggregator's
// own /sse, /messages/, /mcp endpoints, per-backend /servers/<name>/...
// direct-access endpoints, the /status document, and the /metrics
// and /status/stream additions.
//
// Grounded on services/gateway/internal/httpapi's mux-plus-middleware
// layout, narrowed to this module's net/http.ServeMux-only dependency set
// (no gorilla/mux in go.mod: enhanced ServeMux patterns cover the
// {name}-segment routes instead).
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/halcyon-labs/mcpbridge/internal/bridge"
	"github.com/halcyon-labs/mcpbridge/internal/config"
	"github.com/halcyon-labs/mcpbridge/internal/proxy"
	"github.com/halcyon-labs/mcpbridge/pkg/metrics"
	"github.com/halcyon-labs/mcpbridge/pkg/tracing"
)

// Server wires the aggregating bridge (and, for direct-proxy mode, a single
// DirectRouter) onto an http.Handler.
type Server struct {
	logger *zap.Logger
	cfg config.HTTPConfig

	handler http.Handler
	hub *StatusStreamHub
}

// New builds the aggregator HTTP surface: bridge traffic flows through
// engine (already wired to br via proxy.New(..., br.HandleRequest-backed
// router, br.Attach)); per-backend direct access is synthesized on the fly
// from br.Backend.
func New(logger *zap.Logger, cfg config.HTTPConfig, promReg *prometheus.Registry, metricsReg *metrics.Registry, tracer *tracing.Provider, br *bridge.Bridge, engine *proxy.Engine) *Server {
	mux := http.NewServeMux()

	activity := &ActivityTracker{}
	hub := NewStatusStreamHub(logger)
	br.AddStatusObserver(hub.Broadcast)

	sseReg := newSSERegistry()
	streamReg := newStreamRegistry()

	touch := func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				activity.Touch()
				h.ServeHTTP(w, r)
		})
	}

	mux.Handle("GET /sse", touch(sseGetHandler(logger, engine, sseReg, "/messages/")))
	mux.Handle("POST /messages/", touch(sseMessagesHandler(logger, sseReg)))
	mux.Handle("POST /mcp", touch(streamHTTPHandler(logger, engine, streamReg, cfg.Stateless)))

	mux.Handle("GET /status", StatusHandler(br, activity))
	mux.Handle("GET /status/stream", hub.Handler())
	mux.Handle("GET /metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))

	registerDirectRoutes(mux, logger, metricsReg, tracer, br, touch)

	return &Server{logger: logger, cfg: cfg, handler: withCORS(cfg.AllowOrigin, mux), hub: hub}
}

// Hub exposes the status-stream broadcaster so the caller can register it
// alongside (or instead of) the bridge's own status-changed plumbing.
func (s *Server) Hub() *StatusStreamHub { return s.hub }

func (s *Server) Handler() http.Handler { return s.handler }

// registerDirectRoutes adds /servers/{name}/sse, /servers/{name}/messages/,
// and /servers/{name}/mcp, each bypassing aggregation to talk to exactly one
// managed backend.
func registerDirectRoutes(mux *http.ServeMux, logger *zap.Logger, metricsReg *metrics.Registry, tracer *tracing.Provider, br *bridge.Bridge, touch func(http.Handler) http.Handler) {
	resolve := func(name string) (*proxy.Engine, bool) {
		mb, ok := br.Backend(name)
		if !ok {
			return nil, false
		}

		router := proxy.NewDirectRouter(mb)

		return proxy.New(logger, metricsReg, router, nil).WithTracer(tracer), true
	}

	mux.Handle("GET /servers/{name}/sse", touch(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					engine, ok := resolve(r.PathValue("name"))
					if !ok {
						http.Error(w, "unknown server", http.StatusNotFound)
						return
					}

					sseGetHandler(logger, engine, newSSERegistry(), fmt.Sprintf("/servers/%s/messages/", r.PathValue("name"))).ServeHTTP(w, r)
	})))

	mux.Handle("POST /servers/{name}/messages/", touch(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					http.Error(w, "direct-access sse sessions are not multiplexed across requests; use /servers/{name}/mcp for request/response access", http.StatusNotImplemented)
	})))

	mux.Handle("POST /servers/{name}/mcp", touch(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					engine, ok := resolve(r.PathValue("name"))
					if !ok {
						http.Error(w, "unknown server", http.StatusNotFound)
						return
					}

					streamHTTPHandler(logger, engine, newStreamRegistry(), true).ServeHTTP(w, r)
	})))
}

// withCORS applies the bridge's CORS policy: echo allowOrigin (or "*" if
// unset) on every response and answer OPTIONS preflights with 204.
func withCORS(allowOrigin string, next http.Handler) http.Handler {
	if allowOrigin == "" {
		allowOrigin = "*"
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Mcp-Session-Id, Authorization")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
	})
}

// ListenAndServe starts the HTTP server, trying up to 20 successive ports
// starting at cfg.Port while the server fails within 200ms of starting (for
// any reason, not only "address in use"). Once a listener stays up it serves
// until ctx is cancelled and returns the server's final error; if every port
// fails it returns the last bind error.
func ListenAndServe(ctx context.Context, logger *zap.Logger, cfg config.HTTPConfig, handler http.Handler) error {
	const maxPortAttempts = 20

	host := cfg.Host
	if host == "" {
		host = "127.0.0.1"
	}

	port := cfg.Port
	if port == 0 {
		port = 8080
	}

	var lastErr error

	for attempt := 0; attempt < maxPortAttempts; attempt++ {
		addr := fmt.Sprintf("%s:%d", host, port+attempt)

		srv := &http.Server{
			Addr: addr,
			Handler: handler,
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)

		go func() {
			errCh <- srv.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			lastErr = err
			logger.Warn("bind failed, trying next port", zap.String("addr", addr), zap.Error(err))
			continue
		case <-time.After(200 * time.Millisecond):
			logger.Info("http surface listening", zap.String("addr", addr))
		}

		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		return <-errCh
	}

	return fmt.Errorf("could not bind after %d attempts: %w", maxPortAttempts, lastErr)
}
