// Command pitch-gateway serves the PitchPerfect training backend.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/compresr/pitch-gateway/internal/auth"
	"github.com/compresr/pitch-gateway/internal/config"
	"github.com/compresr/pitch-gateway/internal/gateway"
	"github.com/compresr/pitch-gateway/internal/growth"
	"github.com/compresr/pitch-gateway/internal/memory"
	"github.com/compresr/pitch-gateway/internal/monitoring"
	"github.com/compresr/pitch-gateway/internal/ratelimit"
	"github.com/compresr/pitch-gateway/internal/store"
	"github.com/compresr/pitch-gateway/internal/upstream"
	"github.com/compresr/pitch-gateway/internal/utils"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (optional)")
	envFile := flag.String("env", "", "extra .env file loaded before .env.local and .env")
	debugFlag := flag.Bool("debug", false, "force debug logging")
	flag.Parse()

	loadEnvFiles(*envFile)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if *debugFlag {
		cfg.Log.Level = "debug"
	}
	setupLogging(cfg.Log, os.Stdout)

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("gateway stopped")
	}
}

// loadEnvFiles loads dotenv files without overriding the real environment.
// Missing files are skipped.
func loadEnvFiles(extra string) {
	files := []string{".env.local", ".env"}
	if extra != "" {
		files = append([]string{extra}, files...)
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to load %s: %v\n", f, err)
		}
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	metrics := monitoring.NewMetricsCollector()

	sessions := auth.NewSessionStore(cfg.Session.TTL, cfg.Session.SweepInterval, nil)
	authSvc := auth.NewService(st, auth.NewHasher(auth.DefaultHashParams), sessions)

	client := upstream.New(cfg.Upstream)
	if !client.Configured() {
		log.Warn().Msg("no upstream API key configured; /api/chat will answer 500 and summaries fall back to excerpts")
	}
	summarizer := memory.NewSummarizer(client, cfg.SummaryModelOrDefault(), cfg.Upstream.SummaryTimeout)

	limiter := ratelimit.New(cfg.RateLimit.Window, cfg.RateLimit.Max, config.DefaultCleanupInterval)
	defer limiter.Stop()

	metrics.RegisterGauge("active_sessions", "Bearer sessions currently held in memory.", func() float64 {
		return float64(sessions.Len())
	})
	metrics.RegisterGauge("users_total", "Registered accounts.", func() float64 {
		countCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		n, err := st.CountUsers(countCtx)
		if err != nil {
			log.Debug().Err(err).Msg("users_total gauge: count failed")
			return 0
		}
		return float64(n)
	})
	metrics.RegisterGauge("rate_limit_buckets", "Client keys tracked by the rate limiter.", func() float64 {
		return float64(limiter.Len())
	})

	gw := gateway.New(cfg, gateway.Deps{
		Upstream: client,
		Auth:     authSvc,
		Memory:   memory.NewService(st, summarizer),
		Growth:   growth.NewService(st, cfg.Database.HistoryLimit, cfg.Database.SavedScriptLimit),
		DB:       st,
		Limiter:  limiter,
		Metrics:  metrics,
	})

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Server.Port),
		Handler:           gw.Handler(),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Int("port", cfg.Server.Port).
			Str("db_driver", st.Driver()).
			Str("upstream", cfg.Upstream.URL).
			Str("api_key", utils.MaskKey(cfg.Upstream.APIKey)).
			Strs("allowed_origins", cfg.CORS.AllowedOrigins).
			Msg("gateway listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Dur("grace", cfg.Server.ShutdownGrace).Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info().Msg("gateway stopped cleanly")
	return nil
}
