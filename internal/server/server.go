// Package server exposes the gate's HTTP boundary: the secure-prompt
// endpoint, the audit listing, health, and metrics. Authentication here is
// only API-key resolution against the configured identity table; credential
// issuance is an external concern.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/promptgate/promptgate/internal/governance"
	"github.com/promptgate/promptgate/pkg/audit"
	"github.com/promptgate/promptgate/pkg/config"
	"github.com/promptgate/promptgate/pkg/domain"
	"github.com/promptgate/promptgate/pkg/pipeline"
	"github.com/promptgate/promptgate/pkg/policy"
	"github.com/promptgate/promptgate/pkg/risk"
	"github.com/promptgate/promptgate/pkg/sanitize"
)

// APIKeyHeader is the HTTP header carrying the caller's API key.
const APIKeyHeader = "X-API-Key"

// Server hosts the HTTP boundary around the decision pipeline.
type Server struct {
	logger  *slog.Logger
	metrics *Metrics

	limiter *governance.RateLimiter
	sink    *audit.Sink
	store   audit.Store

	// forwarder is fixed at construction; the breaker wrapping it keeps its
	// state across configuration reloads.
	forwarder pipeline.Forwarder

	// mu guards the parts rebuilt on configuration reload. The rate limiter
	// and audit sink deliberately survive reloads so buckets and queued
	// records are not lost.
	mu         sync.RWMutex
	gate       *pipeline.Gate
	identities map[string]config.IdentityConfig
	rlWindow   time.Duration

	httpServer *http.Server
}

// Options gathers the server's injected collaborators.
type Options struct {
	Config    *config.Config
	Store     audit.Store
	Forwarder pipeline.Forwarder
	Logger    *slog.Logger
}

// New builds a fully wired server from configuration.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	store := opts.Store
	if store == nil {
		store = audit.NewMemoryStore()
	}

	cfg := opts.Config
	rlCfg := cfg.Security.RateLimit

	limiter := governance.NewRateLimiter(governance.RateLimiterConfig{
		DefaultLimit: rlCfg.DefaultLimit,
		Window:       rlCfg.Window(),
		PlanLimits:   rlCfg.PlanLimits,
		IdleTTL:      rlCfg.IdleTTL(),
	})

	sink := audit.NewSink(store, audit.SinkConfig{
		QueueSize:    cfg.Audit.QueueSize,
		WriteTimeout: cfg.Audit.WriteTimeout(),
	}, logger)

	metrics := NewMetrics()
	metrics.ObserveAuditSink(sink)

	forwarder := opts.Forwarder
	if forwarder == nil {
		forwarder = pipeline.MockForwarder()
	}
	forwarder = pipeline.NewBreakerForwarder(forwarder, governance.NewBreaker(governance.BreakerConfig{}))

	s := &Server{
		logger:    logger,
		metrics:   metrics,
		limiter:   limiter,
		sink:      sink,
		store:     store,
		forwarder: forwarder,
	}
	s.rebuild(cfg)

	return s
}

// Reload rebuilds the pipeline from a fresh configuration while keeping the
// rate limiter's buckets and the audit sink's queue intact. It is the only
// path that recompiles detection patterns or replaces the policy table.
func (s *Server) Reload(path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	s.rebuild(cfg)
	s.logger.Info("pipeline rebuilt from configuration",
		"policies", len(cfg.Security.Policy.Policies))
	return nil
}

func (s *Server) rebuild(cfg *config.Config) {
	detector := sanitize.NewDetector(sanitize.BuiltinRegistry(), s.logger)
	scorer := risk.NewScorer(detector, risk.Thresholds{
		Low:    cfg.Security.Risk.Thresholds.Low,
		Medium: cfg.Security.Risk.Thresholds.Medium,
		High:   cfg.Security.Risk.Thresholds.High,
	})
	evaluator := policy.NewEvaluator(
		cfg.Security.Policy.DefaultPolicy,
		cfg.Security.Policy.Policies,
	)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.gate = pipeline.NewGate(s.limiter, evaluator, detector, scorer, s.sink, s.forwarder, s.logger)
	s.identities = cfg.Server.APIKeys
	s.rlWindow = cfg.Security.RateLimit.Window()
}

func (s *Server) rateLimitWindow() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rlWindow
}

func (s *Server) currentGate() *pipeline.Gate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gate
}

func (s *Server) resolveIdentity(apiKey string) (domain.Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.identities[apiKey]
	if !ok {
		return domain.Identity{}, false
	}
	return domain.Identity{Key: id.Subject, Plan: id.Plan}, true
}

// Handler assembles the route table wrapped with telemetry.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("POST /v1/secure-prompt", s.instrument("/v1/secure-prompt",
		s.authenticated(s.handleSecurePrompt)))
	mux.Handle("GET /v1/audit/logs", s.instrument("/v1/audit/logs",
		s.authenticated(s.handleAuditLogs)))
	mux.Handle("GET /v1/audit/stats", s.instrument("/v1/audit/stats",
		s.authenticated(s.handleAuditStats)))
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", s.metrics.Handler())

	return otelhttp.NewHandler(mux, "promptgate")
}

// Start runs the HTTP server until the context is cancelled, then shuts it
// down gracefully and closes the pipeline's background workers.
func (s *Server) Start(ctx context.Context, address string) error {
	s.httpServer = &http.Server{
		Addr:              address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "address", address)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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

	err := s.httpServer.Shutdown(shutdownCtx)

	s.limiter.Close()
	s.sink.Close()

	return err
}

// authenticated resolves the caller identity from the API key header and
// rejects unknown keys before the handler runs.
func (s *Server) authenticated(next func(http.ResponseWriter, *http.Request, domain.Identity)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey := r.Header.Get(APIKeyHeader)
		if apiKey == "" {
			// Accept "Authorization: Bearer <key>" as an alias.
			auth := r.Header.Get("Authorization")
			if strings.HasPrefix(auth, "Bearer ") {
				apiKey = strings.TrimPrefix(auth, "Bearer ")
			}
		}

		identity, ok := s.resolveIdentity(apiKey)
		if !ok {
			s.writeError(w, http.StatusUnauthorized, "AUTHN_FAILED", "invalid or missing API key", "")
			return
		}

		next(w, r, identity)
	})
}

// instrument records request count and latency per endpoint.
func (s *Server) instrument(endpoint string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.metrics.RecordHTTPRequest(r.Method, endpoint, strconv.Itoa(rec.status), time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
