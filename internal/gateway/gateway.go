// Package gateway is the HTTP surface of the training backend.
//
// DESIGN: One chi router, one middleware chain, fixed order:
//
//	requestLogger -> recoverer -> preflight -> originGuard -> rateLimit -> route
//
// Preflight answers OPTIONS before the guard so it never costs a rate
// limit slot. The guard and limiter run before routing, so unknown paths
// and wrong methods are still origin-checked and counted. Operational
// endpoints (/health, /metrics, /stats) bypass the browser guard; the last
// two only answer loopback callers.
//
// All mutable state (rate buckets, sessions) lives in service objects owned
// by the caller of New and injected here.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/compresr/pitch-gateway/internal/auth"
	"github.com/compresr/pitch-gateway/internal/config"
	"github.com/compresr/pitch-gateway/internal/growth"
	"github.com/compresr/pitch-gateway/internal/memory"
	"github.com/compresr/pitch-gateway/internal/monitoring"
	"github.com/compresr/pitch-gateway/internal/ratelimit"
	"github.com/compresr/pitch-gateway/internal/store"
	"github.com/compresr/pitch-gateway/internal/upstream"
)

// HTTP headers
const (
	HeaderRequestID     = "X-Request-ID"
	HeaderAuthorization = "Authorization"
	HeaderOrigin        = "Origin"
)

// ChatClient is the upstream completion service.
type ChatClient interface {
	Configured() bool
	DefaultModel() string
	Complete(ctx context.Context, req upstream.ChatRequest) (json.RawMessage, error)
	Stream(ctx context.Context, req upstream.ChatRequest) (*upstream.Stream, error)
}

// Authenticator handles accounts and bearer tokens.
type Authenticator interface {
	Register(ctx context.Context, username, password string) (*auth.Grant, error)
	Login(ctx context.Context, username, password string) (*auth.Grant, error)
	ResolveToken(token string) (string, error)
	Logout(token string)
}

// MemoryRecorder appends memory entries.
type MemoryRecorder interface {
	AppendMemory(ctx context.Context, username string, in memory.Input) (*store.MemoryEntry, memory.Outcome, error)
}

// GrowthRecorder stores and loads growth history.
type GrowthRecorder interface {
	SaveGrowthRecord(ctx context.Context, kind store.RecordKind, username string, in growth.RecordInput) (int64, error)
	SaveDrillScore(ctx context.Context, username string, in growth.DrillInput) (int64, error)
	LoadGrowthSnapshot(ctx context.Context, username string) (*growth.Snapshot, error)
}

// Pinger reports database reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators a Gateway serves.
type Deps struct {
	Upstream ChatClient
	Auth     Authenticator
	Memory   MemoryRecorder
	Growth   GrowthRecorder
	DB       Pinger
	Limiter  *ratelimit.Limiter
	Metrics  *monitoring.MetricsCollector
}

// Gateway routes browser requests to the services.
type Gateway struct {
	config         *config.Config
	allowedOrigins map[string]struct{}

	upstream ChatClient
	auth     Authenticator
	memory   MemoryRecorder
	growth   GrowthRecorder
	db       Pinger
	limiter  *ratelimit.Limiter
	metrics  *monitoring.MetricsCollector

	now func() time.Time
}

// New creates a gateway.
func New(cfg *config.Config, deps Deps) *Gateway {
	origins := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
	for _, o := range cfg.CORS.AllowedOrigins {
		origins[o] = struct{}{}
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = monitoring.NewMetricsCollector()
	}
	return &Gateway{
		config:         cfg,
		allowedOrigins: origins,
		upstream:       deps.Upstream,
		auth:           deps.Auth,
		memory:         deps.Memory,
		growth:         deps.Growth,
		db:             deps.DB,
		limiter:        deps.Limiter,
		metrics:        metrics,
		now:            time.Now,
	}
}

// Handler builds the router.
func (g *Gateway) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(g.requestLogger)
	r.Use(g.recoverer)
	r.Use(g.preflight)
	r.Use(g.originGuard)
	r.Use(g.rateLimit)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		g.writeError(w, r, "Not Found", http.StatusNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		g.writeError(w, r, "Method Not Allowed", http.StatusMethodNotAllowed)
	})

	r.Get("/health", g.handleHealth)
	r.Get("/metrics", g.handleMetrics)
	r.Get("/stats", g.handleStats)

	r.Post("/api/chat", g.handleChat)

	r.Post("/api/auth/register", g.handleRegister)
	r.Post("/api/auth/login", g.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(g.requireAuth)
		r.Post("/api/auth/logout", g.handleLogout)
		r.Post("/api/memory", g.handleMemory)
		r.Post("/api/growth/snapshot", g.handleGrowthSnapshot)
		r.Post("/api/growth/script-generation", g.handleGrowthRecord(store.RecordGeneration))
		r.Post("/api/growth/saved-script", g.handleGrowthRecord(store.RecordSaved))
		r.Post("/api/growth/drill-score", g.handleDrillScore)
	})

	return r
}
