package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	validator "github.com/go-playground/validator/v10"
	migrate "github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	redis "github.com/redis/go-redis/v9"

	"github.com/noah-isme/promotion-engine/internal/basket"
	"github.com/noah-isme/promotion-engine/internal/config"
	"github.com/noah-isme/promotion-engine/internal/health"
	"github.com/noah-isme/promotion-engine/internal/lock"
	"github.com/noah-isme/promotion-engine/internal/obs"
	"github.com/noah-isme/promotion-engine/internal/ratelimit"
	"github.com/noah-isme/promotion-engine/internal/promotion"
	"github.com/noah-isme/promotion-engine/internal/session"
	"github.com/noah-isme/promotion-engine/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("env", cfg.AppEnv).Logger()

	metricsNamespace := envOrDefault("OBS_METRICS_NAMESPACE", "promo")
	obs.MustRegisterDomainMetrics(metricsNamespace, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "promotion-engine"

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}

	if err := runMigrations(cfg.DatabaseURL); err != nil {
		logger.Fatal().Err(err).Msg("run migrations")
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}

	db := store.New(pool)
	sessions := &session.Store{R: redisClient, TTL: cfg.SessionTTL}
	engine := &promotion.Engine{
		Store:      db,
		Sessions:   sessions,
		Selector:   promotion.PassthroughSelector{},
		Products:   db,
		Shop:       promotion.StaticShop{ID: 1, GroupID: 1, CurrencyFactor: 1},
		Currency:   promotion.StaticShop{CurrencyFactor: 1},
		Messages:   promotion.StaticMessages{},
		Surcharges: cfg.SurchargeNumbers(),
		Logger:     logger,
	}
	voucherGuard := ratelimit.Handler{
		Limiter: ratelimit.Limiter{Client: redisClient, Prefix: "promo:ratelimit:"},
		Policy: ratelimit.Policy{
			Key:    func(r *http.Request) string { return r.RemoteAddr },
			Window: time.Minute,
			Max:    20,
		},
		OnError: func(err error) { logger.Error().Err(err).Msg("voucher rate limiter") },
	}
	basketHandler := &basket.Handler{
		Store:        db,
		Engine:       engine,
		Sessions:     sessions,
		Validate:     validator.New(),
		Locker:       lock.Locker{R: redisClient},
		VoucherGuard: voucherGuard.Middleware,
		TaxBps:       cfg.TaxBps,
		Logger:       logger,
	}

	httpMetrics := obs.NewHTTPMetrics(metricsNamespace, nil)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(httpMetrics.Middleware)
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)

	r.Handle("/metrics", promhttp.Handler())

	checker := &health.Checker{Pool: pool, Redis: redisClient}
	r.Get("/health/live", checker.Live)
	r.Get("/health/ready", checker.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		basketHandler.Routes(v)
	})

	srv := &http.Server{
		Addr:    cfg.HTTPAddr(),
		Handler: r,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server exited unexpectedly")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown server")
	}
	logger.Info().Msg("server stopped")
}

func runMigrations(databaseURL string) error {
	dir := envOrDefault("MIGRATIONS_DIR", "migrations")
	m, err := migrate.New("file://"+dir, databaseURL)
	if err != nil {
		return err
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
