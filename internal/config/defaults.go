// Package config - defaults.go centralizes magic numbers and default values.
//
// DESIGN: All default values that appear in multiple places should be defined here.
// This makes configuration more maintainable and auditable.
package config

import "time"

// =============================================================================
// SERVER
// =============================================================================

// DefaultPort is the listen port when PORT is unset.
const DefaultPort = 8787

// DefaultShutdownGrace is how long in-flight requests get on shutdown.
const DefaultShutdownGrace = 10 * time.Second

// DefaultReadHeaderTimeout bounds slow-loris style header reads.
const DefaultReadHeaderTimeout = 10 * time.Second

// DefaultServerWriteTimeout for HTTP server (safe for streaming).
const DefaultServerWriteTimeout = 10 * time.Minute

// MaxRequestBodySize is the maximum allowed request body.
const MaxRequestBodySize = 1_000_000

// DefaultAllowedOrigin is used when no allowlist is configured.
const DefaultAllowedOrigin = "http://localhost:5173"

// =============================================================================
// UPSTREAM COMPLETION SERVICE
// =============================================================================

// DefaultUpstreamURL is the chat-completions endpoint requests are proxied to.
const DefaultUpstreamURL = "https://api.longcat.chat/openai/v1/chat/completions"

// DefaultModel is used when the client omits a model.
const DefaultModel = "LongCat-Flash-Chat"

// DefaultUpstreamTimeout caps the total duration of one upstream call,
// including the time spent relaying a stream.
const DefaultUpstreamTimeout = 2 * time.Minute

// DefaultDialTimeout is the TCP dial timeout.
const DefaultDialTimeout = 30 * time.Second

// DefaultBufferSize is the standard I/O buffer size.
const DefaultBufferSize = 4096

// DefaultStreamQueue is the number of chunks buffered between the upstream
// reader and the client writer.
const DefaultStreamQueue = 16

// MaxResponseSize is the maximum allowed buffered upstream response body.
const MaxResponseSize = 10 * 1024 * 1024

// MaxErrorBodyLogLen limits error response body in logs to prevent bloat.
const MaxErrorBodyLogLen = 500

// =============================================================================
// RATE LIMITING
// =============================================================================

// DefaultRateWindow is the fixed window length.
const DefaultRateWindow = 60 * time.Second

// DefaultRateMax is the number of requests allowed per client per window.
const DefaultRateMax = 30

// MaxRateLimitBuckets prevents memory exhaustion from too many client buckets.
const MaxRateLimitBuckets = 10000

// DefaultCleanupInterval is the frequency for background cleanup goroutines.
const DefaultCleanupInterval = time.Minute

// =============================================================================
// SESSIONS
// =============================================================================

// DefaultSessionTTL is the lifetime of a bearer token.
const DefaultSessionTTL = 7 * 24 * time.Hour

// DefaultSessionSweep is how often expired tokens are purged eagerly.
const DefaultSessionSweep = 10 * time.Minute

// =============================================================================
// MEMORY SUMMARIZATION
// =============================================================================

// DefaultSummaryTimeout bounds a single summarization call.
const DefaultSummaryTimeout = 20 * time.Second

// DefaultSummaryExcerptRunes is the length of the fallback excerpt.
const DefaultSummaryExcerptRunes = 160

// =============================================================================
// DATABASE
// =============================================================================

// DefaultDBDriver is the embedded database used when nothing is configured.
const DefaultDBDriver = "sqlite"

// DefaultDatabaseURL is the sqlite file used by default.
const DefaultDatabaseURL = "data/pitchperfect.db"

// DefaultMaxOpenConns sizes the shared connection pool.
const DefaultMaxOpenConns = 25

// DefaultMaxIdleConns keeps warm connections for snapshot fan-out.
const DefaultMaxIdleConns = 10

// DefaultConnMaxLifetime recycles pooled connections.
const DefaultConnMaxLifetime = 5 * time.Minute

// DefaultHistoryLimit is how many recent script generations a snapshot returns.
const DefaultHistoryLimit = 5

// DefaultSavedScriptLimit is how many recent saved scripts a snapshot returns.
const DefaultSavedScriptLimit = 8
