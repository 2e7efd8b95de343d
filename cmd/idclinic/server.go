package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/idclinic/idclinic/internal/config"
	"github.com/idclinic/idclinic/internal/domain/listing"
	"github.com/idclinic/idclinic/internal/domain/patient"
	"github.com/idclinic/idclinic/internal/platform/address"
	"github.com/idclinic/idclinic/internal/platform/auth"
	"github.com/idclinic/idclinic/internal/platform/db"
	"github.com/idclinic/idclinic/internal/platform/middleware"
	"github.com/idclinic/idclinic/internal/platform/reporting"
	"github.com/idclinic/idclinic/internal/platform/spreadsheet"
)

const (
	version         = "0.1.0"
	requestTimeout  = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

// deps are the collaborators the HTTP server is built from.
type deps struct {
	svc       *patient.Service
	db        db.Pinger
	addresses *address.Directory
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return err
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to database")
		return err
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Address dataset, shared through Redis when configured
	addrOpts := []address.Option{
		address.WithTTL(cfg.AddressCacheTTL),
		address.WithLogger(logger.With().Str("component", "address").Logger()),
	}
	if cfg.RedisURL != "" {
		rdb, err := address.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, address dataset cached in memory only")
		} else {
			defer closeRedis(rdb, logger)
			addrOpts = append(addrOpts, address.WithStore(address.NewRedisStore(rdb, cfg.AddressCacheTTL)))
		}
	}

	svc := patient.NewService(patient.NewRepoPG(pool), cfg.PhoneRegion).WithLogger(logger)
	e := newServer(cfg, logger, deps{
		svc:       svc,
		db:        pool,
		addresses: address.NewDirectory(address.NewHTTPLoader(cfg.AddressDatasetURL), addrOpts...),
	})

	// Start server
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

func closeRedis(rdb *redis.Client, logger zerolog.Logger) {
	if err := rdb.Close(); err != nil {
		logger.Warn().Err(err).Msg("closing redis client")
	}
}

func newServer(cfg *config.Config, logger zerolog.Logger, d deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.Metrics())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders:  []string{"Authorization", "Content-Type", "X-Request-ID"},
		ExposeHeaders: []string{"X-Request-ID", "Content-Disposition"},
	}))
	e.Use(middleware.BodyLimit("1M", "20M", "/api/v1/import/"))
	e.Use(middleware.RequestTimeout(requestTimeout, "/api/v1/import/", "/api/v1/export/"))

	// Auth middleware
	if cfg.DevAuth() {
		logger.Warn().Msg("development auth enabled: every request runs as admin")
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(jwtConfig(cfg)))
	}

	// Audit middleware
	e.Use(middleware.Audit(logger))

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(d.db))
	e.GET("/metrics", middleware.MetricsHandler())

	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}))

	patient.NewHandler(d.svc).RegisterRoutes(apiV1)
	listing.NewHandler(d.svc).RegisterRoutes(apiV1)
	reporting.NewHandler(d.svc).RegisterRoutes(apiV1)
	spreadsheet.NewHandler(d.svc, cfg.ImportBatchSize).RegisterRoutes(apiV1)
	address.NewHandler(d.addresses).RegisterRoutes(apiV1)

	return e
}
