package gateway

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/compresr/pitch-gateway/internal/apierr"
	"github.com/compresr/pitch-gateway/internal/auth"
	"github.com/compresr/pitch-gateway/internal/monitoring"
	"github.com/compresr/pitch-gateway/internal/ratelimit"
)

type ctxKey int

const usernameKey ctxKey = iota

// opsPaths skip the browser origin guard and rate limiter.
var opsPaths = map[string]bool{
	"/health":  true,
	"/metrics": true,
	"/stats":   true,
}

// requestLogger assigns a request ID, wraps the writer and logs completion.
func (g *Gateway) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := g.now()
		requestID := r.Header.Get(HeaderRequestID)
		if requestID == "" || len(requestID) > 64 {
			requestID = uuid.New().String()
		}
		w.Header().Set(HeaderRequestID, requestID)
		r = r.WithContext(monitoring.WithRequestID(r.Context(), requestID))

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		duration := g.now().Sub(start)
		g.metrics.RecordRequest(route, status, duration)

		event := log.Info()
		if status >= 500 {
			event = log.Warn()
		}
		event.
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", duration).
			Str("client", ratelimit.ClientKey(r, g.config.RateLimit.TrustForwardedFor)).
			Msg("request")
	})
}

// recoverer turns a panic into an opaque 500.
func (g *Gateway) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			log.Error().
				Str("request_id", monitoring.RequestIDFromContext(r.Context())).
				Str("panic", fmt.Sprint(rec)).
				Bytes("stack", debug.Stack()).
				Msg("handler panic")

			if ww, ok := w.(middleware.WrapResponseWriter); ok && ww.Status() != 0 {
				// headers already sent; nothing more can be said
				return
			}
			g.writeError(w, r, "Server Error", http.StatusInternalServerError)
		}()
		next.ServeHTTP(w, r)
	})
}

// preflight answers CORS pre-flight requests without touching the limiter.
func (g *Gateway) preflight(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		h := w.Header()
		if origin := r.Header.Get(HeaderOrigin); g.isAllowedOrigin(origin) {
			h.Set("Access-Control-Allow-Origin", origin)
		}
		h.Add("Vary", HeaderOrigin)
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		h.Set("Access-Control-Max-Age", "86400")
		w.WriteHeader(http.StatusNoContent)
	})
}

// originGuard rejects requests whose Origin is absent or not allowlisted.
func (g *Gateway) originGuard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if opsPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}
		origin := r.Header.Get(HeaderOrigin)
		if !g.isAllowedOrigin(origin) {
			g.metrics.RecordForbidden()
			g.writeError(w, r, "Forbidden", http.StatusForbidden)
			return
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Add("Vary", HeaderOrigin)
		next.ServeHTTP(w, r)
	})
}

// rateLimit applies the per-client fixed window.
func (g *Gateway) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.limiter == nil || opsPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}
		key := ratelimit.ClientKey(r, g.config.RateLimit.TrustForwardedFor)
		res := g.limiter.Allow(key)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(g.config.RateLimit.Max))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		if !res.Allowed {
			retry := res.RetryAfter(g.now())
			w.Header().Set("Retry-After", strconv.Itoa(int((retry+time.Second-1)/time.Second)))
			g.metrics.RecordRateLimited()
			log.Debug().Str("client", key).Msg("rate limited")
			g.writeError(w, r, "Too Many Requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireAuth resolves the bearer token and stores the username.
func (g *Gateway) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := auth.BearerToken(r.Header.Get(HeaderAuthorization))
		username, err := g.auth.ResolveToken(token)
		if err != nil {
			g.writeAPIError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), usernameKey, username)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func usernameFrom(ctx context.Context) string {
	name, _ := ctx.Value(usernameKey).(string)
	return name
}

func (g *Gateway) isAllowedOrigin(origin string) bool {
	if origin == "" {
		return false
	}
	_, ok := g.allowedOrigins[origin]
	return ok
}

// isLoopback reports whether remoteAddr is a local caller.
func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// apierrKind is a shorthand used by handlers that only need the kind.
func apierrKind(err error) apierr.Kind {
	return apierr.As(err).Kind
}
