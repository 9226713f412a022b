// Package gateway is the streaming front door of the service.
//
// DESIGN: Every chat request walks the same sequence:
//   - authorize:  identity + entitlement (auth.Guard), then per-identity rate limit
//   - decode:     payload validation and the input size limit
//   - evaluate:   guardrail pipeline (screen -> optional redact -> classify)
//   - relay:      breaker-gated downstream call, chunks relayed as they arrive
//
// Three transports share that sequence and differ only in their sink:
// SSE (/v1/stream), buffered JSON (/v1/chat) and WebSocket (/v1/ws).
//
// FILES:
//   - gateway.go:      construction, routes, middleware, lifecycle
//   - handler.go:      handlers and the shared admission sequence
//   - stream.go:       breaker-gated relay
//   - sinks.go:        SSE, WebSocket and buffered sinks
//   - errors.go:       error taxonomy and status mapping
//   - ratelimit.go:    per-identity token buckets
//   - stats.go:        /stats
//   - init_logging.go: startup telemetry snapshot
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"

	"github.com/compresr/guard-gateway/internal/auth"
	"github.com/compresr/guard-gateway/internal/breaker"
	"github.com/compresr/guard-gateway/internal/config"
	"github.com/compresr/guard-gateway/internal/downstream"
	"github.com/compresr/guard-gateway/internal/guardrail"
	"github.com/compresr/guard-gateway/internal/monitoring"
	"github.com/compresr/guard-gateway/internal/store"
	"github.com/compresr/guard-gateway/internal/utils"
)

// HeaderRequestID carries the request id in both directions.
const HeaderRequestID = "X-Request-ID"

var tracer = otel.Tracer("guard-gateway/gateway")

// Deps are the collaborators a Gateway is assembled from.
type Deps struct {
	Guard      *auth.Guard
	Pipeline   *guardrail.Pipeline
	Pool       *guardrail.Pool // optional
	Breaker    *breaker.Breaker
	Downstream *downstream.Client
	Store      *store.Store // optional
	Metrics    *monitoring.MetricsCollector
	Tracker    *monitoring.Tracker
	Version    string
}

// Gateway serves the chat endpoints.
type Gateway struct {
	config     *config.Config
	version    string
	guard      *auth.Guard
	pipeline   *guardrail.Pipeline
	pool       *guardrail.Pool
	breaker    *breaker.Breaker
	downstream *downstream.Client
	store      *store.Store
	metrics    *monitoring.MetricsCollector
	tracker    *monitoring.Tracker
	limiter    *rateLimiter
	tokens     *downstream.TokenCounter
	validate   *validator.Validate

	activeStreams atomic.Int64

	server    *http.Server
	closers   []func() error
	closeOnce sync.Once
}

// New builds every collaborator from cfg and assembles a Gateway.
func New(ctx context.Context, cfg *config.Config, version string) (*Gateway, error) {
	var prom *monitoring.PromMetrics
	if cfg.Monitoring.MetricsEnabled {
		prom = monitoring.NewPromMetrics()
	}
	metrics := monitoring.NewMetricsCollector(prom)

	tracker, err := monitoring.NewTracker(monitoring.TelemetryConfig{
		Enabled: cfg.Monitoring.SecurityLogPath != "",
		LogPath: cfg.Monitoring.SecurityLogPath,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	var closers []func() error
	fail := func(err error) (*Gateway, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
		return nil, err
	}

	var st *store.Store
	if cfg.Auth.Entitlement.Mode == config.ModeSQLite || cfg.Store.HistoryEnabled {
		st, err = store.Open(ctx, cfg.Store.Path)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, st.Close)
	}

	var entitlements auth.EntitlementChecker
	if st != nil {
		entitlements = st
	}
	guard, stopGuard, err := auth.SetupGuard(cfg.Auth, entitlements)
	if err != nil {
		return fail(fmt.Errorf("auth: %w", err))
	}
	closers = append(closers, func() error { stopGuard(); return nil })

	pipeline, pool, err := guardrail.Setup(cfg.Guardrails, guardrail.WithObserver(metrics))
	if err != nil {
		return fail(fmt.Errorf("guardrails: %w", err))
	}
	closers = append(closers, pool.Close)

	client, err := newDownstreamClient(ctx, cfg.Downstream)
	if err != nil {
		return fail(fmt.Errorf("downstream: %w", err))
	}

	br := breaker.New(cfg.Breaker, breaker.WithStateChangeHook(func(from, to breaker.State) {
		log.Warn().
			Str("from", from.String()).
			Str("state", to.String()).
			Msg("circuit breaker transition")
		metrics.RecordBreakerTransition(from.String(), to.String())
	}))

	g := Assemble(cfg, Deps{
		Guard:      guard,
		Pipeline:   pipeline,
		Pool:       pool,
		Breaker:    br,
		Downstream: client,
		Store:      st,
		Metrics:    metrics,
		Tracker:    tracker,
		Version:    version,
	})
	g.closers = append(g.closers, closers...)
	return g, nil
}

func newDownstreamClient(ctx context.Context, cfg config.DownstreamConfig) (*downstream.Client, error) {
	opts := []downstream.ClientOption{downstream.WithTimeout(cfg.Timeout)}
	if cfg.SigV4.Enabled {
		signer, err := downstream.NewSigner(ctx, cfg.SigV4.Region, cfg.SigV4.Service)
		if err != nil {
			return nil, err
		}
		opts = append(opts, downstream.WithSigner(signer))
	}
	log.Info().
		Str("url", cfg.URL).
		Str("api_key", utils.MaskKey(cfg.APIKey)).
		Bool("sigv4", cfg.SigV4.Enabled).
		Msg("downstream configured")
	return downstream.NewClient(cfg.URL, cfg.APIKey, opts...), nil
}

// Assemble wires a Gateway from ready-made collaborators. Tests use it to
// inject fakes and fresh breakers.
func Assemble(cfg *config.Config, deps Deps) *Gateway {
	metrics := deps.Metrics
	if metrics == nil {
		metrics = monitoring.NewMetricsCollector(nil)
	}

	g := &Gateway{
		config:     cfg,
		version:    deps.Version,
		guard:      deps.Guard,
		pipeline:   deps.Pipeline,
		pool:       deps.Pool,
		breaker:    deps.Breaker,
		downstream: deps.Downstream,
		store:      deps.Store,
		metrics:    metrics,
		tracker:    deps.Tracker,
		tokens:     downstream.NewTokenCounter(config.DefaultTokenEncoding),
		validate:   newValidator(),
	}
	if g.version == "" {
		g.version = "dev"
	}
	if cfg.RateLimit.Enabled {
		g.limiter = newRateLimiter(cfg.RateLimit.PerMinute, cfg.RateLimit.Burst, config.DefaultLimiterTTL)
		g.closers = append(g.closers, func() error { g.limiter.Stop(); return nil })
	}
	if deps.Tracker != nil {
		g.closers = append(g.closers, deps.Tracker.Close)
	}

	if prom := metrics.Prometheus(); prom != nil {
		metrics.RecordBreakerTransition("", g.breaker.State().String())
		prom.RegisterGaugeFunc("active_streams", "Downstream streams currently relayed.", func() float64 {
			return float64(g.activeStreams.Load())
		})
		if g.pool != nil {
			prom.RegisterGaugeFunc("redactor_queue_depth", "Queued redaction jobs.", func() float64 {
				return float64(g.pool.Stats().Queued)
			})
		}
	}
	return g
}

// =============================================================================
// ROUTES AND MIDDLEWARE
// =============================================================================

// Handler returns the HTTP handler with all routes and middleware.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/stream", g.handleStream)
	mux.HandleFunc("POST /v1/chat", g.handleChat)
	mux.HandleFunc("GET /v1/ws", g.handleWebSocket)
	mux.HandleFunc("GET /v1/history", g.handleHistory)
	mux.HandleFunc("DELETE /v1/history", g.handleForget)
	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /stats", g.handleStats)
	if prom := g.metrics.Prometheus(); prom != nil {
		mux.Handle("GET /metrics", prom.Handler())
	}
	return g.cors(g.recoverPanic(mux))
}

// cors allows only configured browser origins.
func (g *Gateway) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			next.ServeHTTP(w, r)
			return
		}
		if !g.originAllowed(origin) {
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		h := w.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Add("Vary", "Origin")
		h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Identity-Token, X-Request-ID")
		h.Set("Access-Control-Expose-Headers", HeaderRequestID)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (g *Gateway) originAllowed(origin string) bool {
	for _, allowed := range g.config.CORS.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// originPatterns converts allowed origins to WebSocket host patterns.
func (g *Gateway) originPatterns() []string {
	patterns := make([]string, 0, len(g.config.CORS.AllowedOrigins))
	for _, allowed := range g.config.CORS.AllowedOrigins {
		if allowed == "*" {
			return []string{"*"}
		}
		if u, err := url.Parse(allowed); err == nil && u.Host != "" {
			patterns = append(patterns, u.Host)
		}
	}
	return slices.Compact(patterns)
}

func (g *Gateway) recoverPanic(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				log.Error().
					Interface("panic", rec).
					Str("path", r.URL.Path).
					Msg("handler panic")
				g.writeError(w, apiError{Status: http.StatusInternalServerError, Code: "internal_error", Message: "internal error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Start listens on the configured port and blocks until the server stops.
func (g *Gateway) Start() error {
	g.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", g.config.Server.Port),
		Handler:           g.Handler(),
		ReadTimeout:       g.config.Server.ReadTimeout,
		ReadHeaderTimeout: g.config.Server.ReadTimeout,
		WriteTimeout:      g.config.Server.WriteTimeout,
	}

	g.tracker.RecordInit(buildInitEvent(g.config, g.version, g.pipeline.RuleCount()))
	log.Info().
		Int("port", g.config.Server.Port).
		Str("downstream", g.downstream.URL()).
		Str("version", g.version).
		Msg("gateway listening")

	if err := g.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests, then releases every collaborator.
func (g *Gateway) Shutdown(ctx context.Context) error {
	var err error
	if g.server != nil {
		err = g.server.Shutdown(ctx)
	}
	if cerr := g.Close(); err == nil {
		err = cerr
	}
	return err
}

// Close releases collaborators without touching the HTTP server.
func (g *Gateway) Close() error {
	var errs []error
	g.closeOnce.Do(func() {
		for i := len(g.closers) - 1; i >= 0; i-- {
			if err := g.closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}

// =============================================================================
// HELPERS
// =============================================================================

// clientIP is the peer address; forwarding headers are not trusted.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// msSince returns elapsed milliseconds, or 0 for a zero start.
func msSince(start time.Time) int64 {
	if start.IsZero() {
		return 0
	}
	return time.Since(start).Milliseconds()
}
