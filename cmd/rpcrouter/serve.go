package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/chainmux/rpcrouter"
	"github.com/chainmux/rpcrouter/gateway"
	"github.com/chainmux/rpcrouter/meter"
	"github.com/chainmux/rpcrouter/quota"
	pgquota "github.com/chainmux/rpcrouter/quota/postgres"
	redisquota "github.com/chainmux/rpcrouter/quota/redis"
	"github.com/chainmux/rpcrouter/scoring"
)

func newServeCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML config file")
	return cmd
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := rpcrouter.LoadConfig(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.LogLevel)

	providers := cfg.BuildProviders(rpcrouter.ParsePaidProviders(os.Getenv("PAID_PROVIDERS")))

	qm, closeQuota, err := newQuotaManager(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeQuota()

	metrics := rpcrouter.NewMetricsStore()

	var cache *scoring.Cache
	engineOpts := []scoring.Option{}
	if cfg.Cache.Enabled {
		cache = scoring.NewCache(time.Duration(cfg.Cache.TTLSeconds * float64(time.Second)))
		engineOpts = append(engineOpts, scoring.WithCache(cache))
	}
	engine := scoring.NewEngine(metrics, engineOpts...)

	registry := prometheus.NewRegistry()
	meters := meter.NewMultiMeter(
		meter.NewLogMeter(logger),
		meter.NewPromMeter(registry),
	)

	router, err := rpcrouter.New(cfg, providers,
		rpcrouter.WithQuotaManager(qm),
		rpcrouter.WithMetricsStore(metrics),
		rpcrouter.WithScorer(engine),
		rpcrouter.WithMeter(meters),
	)
	if err != nil {
		return err
	}
	defer router.Close()

	gwOpts := []gateway.Option{
		gateway.WithLogger(logger),
		gateway.WithInboundLimit(cfg.Server.InboundRPS, cfg.Server.InboundBurst),
		gateway.WithMetricsHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})),
	}
	if cache != nil {
		gwOpts = append(gwOpts, gateway.WithScoreCache(cache))
	}
	gw := gateway.New(router, gwOpts...)

	host := cfg.Server.Host
	port := cfg.Server.Port
	if port == 0 {
		port = 8080
	}
	addr := fmt.Sprintf("%s:%d", host, port)

	srv := &http.Server{
		Addr:         addr,
		Handler:      gw.Routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info().
			Str("addr", addr).
			Int("providers", len(providers)).
			Str("mode", cfg.Router.Mode).
			Msg("gateway listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("forced shutdown")
	}
	return nil
}

// newQuotaManager builds the configured quota backend. The returned
// func releases backend connections.
func newQuotaManager(ctx context.Context, cfg rpcrouter.Config, logger zerolog.Logger) (rpcrouter.QuotaManager, func(), error) {
	switch strings.ToLower(cfg.Quota.Backend) {
	case "redis":
		opts, err := goredis.ParseURL(cfg.Quota.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse quota redis_url: %w", err)
		}
		client := goredis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("connect to redis: %w", err)
		}
		store := redisquota.New(client, redisquota.WithLogger(logger))
		return store, func() { _ = client.Close() }, nil

	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Quota.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		store := pgquota.New(pool, pgquota.WithLogger(logger))
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store, pool.Close, nil

	default:
		store := quota.NewFileStore(cfg.Quota.Path, quota.WithLogger(logger))
		return store, func() {}, nil
	}
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stdout).Level(lvl).With().Timestamp().Logger()
}
