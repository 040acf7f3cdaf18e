package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/PratikDhanave/factory-events-service/internal/cache"
	"github.com/PratikDhanave/factory-events-service/internal/config"
	"github.com/PratikDhanave/factory-events-service/internal/httpserver"
	"github.com/PratikDhanave/factory-events-service/internal/ingest"
	"github.com/PratikDhanave/factory-events-service/internal/logging"
	"github.com/PratikDhanave/factory-events-service/internal/metrics"
	"github.com/PratikDhanave/factory-events-service/internal/stats"
	"github.com/PratikDhanave/factory-events-service/internal/store"
	"github.com/PratikDhanave/factory-events-service/internal/validate"
)

// main boots the service: config → logging → store → engines → HTTP server.
func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := logging.New(logging.Options{})
		boot.Fatal().Err(err).Msg("invalid configuration")
	}

	log := logging.Init(logging.Options{
		Level:    cfg.LogLevel,
		Human:    cfg.LogFormat == "console",
		Service:  "factory-events",
		Instance: cfg.InstanceID,
	})

	ctx := context.Background()

	st, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.StoreDriver).Msg("store init failed")
	}
	defer st.Close()

	m := metrics.New()

	eng := ingest.New(st,
		ingest.WithLimits(validate.Limits{
			MaxDuration: cfg.MaxDuration,
			FutureSkew:  cfg.FutureSkewTolerance,
		}),
		ingest.WithMetrics(m),
	)

	statsOpts := []stats.Option{
		stats.WithWarningThreshold(cfg.WarningThreshold),
		stats.WithMetrics(m),
	}
	if cfg.RedisAddr != "" {
		rc, err := cache.NewRedis(ctx, cache.RedisOpts{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err != nil {
			// Stats still work without the cache, only slower.
			log.Warn().Err(err).Msg("stats cache disabled")
		} else {
			defer rc.Close()
			statsOpts = append(statsOpts, stats.WithCache(rc, cfg.StatsCacheTTL))
		}
	}
	svc := stats.New(st, statsOpts...)

	router := httpserver.NewRouter(httpserver.Deps{
		Store:         st,
		Ingest:        eng,
		Stats:         svc,
		Metrics:       m,
		APIKeys:       cfg.APIKeys,
		MaxBatchSize:  cfg.MaxBatchSize,
		MaxBodyBytes:  cfg.MaxBodyBytes,
		TopLinesLimit: cfg.TopLinesLimit,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go shutdownOnSignal(log, srv)

	log.Info().Str("addr", cfg.HTTPAddr).Str("driver", cfg.StoreDriver).Msg("server started")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("http server terminated")
	}
	log.Info().Msg("shutdown complete")
}

// openStore builds the configured backend; Postgres gets its schema applied on boot.
func openStore(ctx context.Context, cfg config.Config) (store.EventStore, error) {
	switch cfg.StoreDriver {
	case config.DriverMemory:
		return store.NewMemoryStore(), nil
	case config.DriverSQLite:
		return store.NewSQLiteStore(ctx, cfg.SQLitePath)
	default:
		pg, err := store.NewPostgresStore(cfg.DBURL)
		if err != nil {
			return nil, err
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		return pg, nil
	}
}

// shutdownOnSignal drains in-flight batches on SIGTERM/SIGINT before the store is closed.
func shutdownOnSignal(log zerolog.Logger, srv *http.Server) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
}
