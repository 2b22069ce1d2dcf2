package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/ephemera/internal/api"
	"github.com/eldtechnologies/ephemera/internal/config"
	"github.com/eldtechnologies/ephemera/internal/relay"
	"github.com/eldtechnologies/ephemera/internal/safety"
	"github.com/eldtechnologies/ephemera/internal/store"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	for _, key := range cfg.Invalid {
		logger.Warn().Str("key", key).Msg("invalid config value, using default")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize Redis store
	var redisStore *store.RedisStore
	var cache store.VerdictCache = store.NewMemoryCache(4096)
	if cfg.RedisURL != "" {
		var err error
		redisStore, err = store.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisStore.Close()
		cache = redisStore
		logger.Info().Msg("connected to Redis")
	}

	// Remote scanner
	var scanner safety.Scanner = safety.NopScanner{}
	if cfg.RemoteScanEnabled() {
		scanner = safety.NewVirusTotal(safety.VirusTotalConfig{
			APIKey:       cfg.VirusTotalAPIKey,
			BaseURL:      cfg.VirusTotalURL,
			PollInterval: cfg.ScanPollInterval,
		}, logger)
		logger.Info().Str("scanner", scanner.Name()).Msg("remote scanning enabled")
	} else {
		logger.Warn().Msg("VIRUSTOTAL_API_KEY not set, using pattern scan only")
	}

	pipeline := safety.NewPipeline(safety.Options{
		Scanner:         scanner,
		Denylist:        safety.NewDenylist(cfg.ExtraThreatTokens...),
		Cache:           cache,
		CacheTTL:        cfg.VerdictCacheTTL,
		FileScanTimeout: cfg.FileScanTimeout,
		URLScanTimeout:  cfg.URLScanTimeout,
		Logger:          logger,
	})

	engine := relay.NewEngine(relay.Options{
		TTL:           cfg.MessageTTL,
		SweepInterval: cfg.SweepInterval,
		Pipeline:      pipeline,
		Logger:        logger,
	})
	defer engine.Close()
	go engine.Run(ctx)

	// Create router
	router := api.NewRouter(logger, cfg, engine, redisStore)

	// Create server. Websocket connections are hijacked and outlive
	// Shutdown, so their context derives from ctx.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	// Start server in goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Dur("message_ttl", cfg.MessageTTL).
			Dur("sweep_interval", cfg.SweepInterval).
			Msg("starting Ephemera server")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down server...")

	// Graceful shutdown with 30 second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Int("pending_messages", engine.StoredCount()).Msg("server stopped")
}
