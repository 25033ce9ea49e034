package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/careflow/careflow/internal/config"
	"github.com/careflow/careflow/internal/domain/appointment"
	"github.com/careflow/careflow/internal/domain/availability"
	"github.com/careflow/careflow/internal/platform/auth"
	"github.com/careflow/careflow/internal/platform/db"
	"github.com/careflow/careflow/internal/platform/events"
	"github.com/careflow/careflow/internal/platform/lock"
	"github.com/careflow/careflow/internal/platform/middleware"
	"github.com/careflow/careflow/internal/platform/telemetry"
)

const version = "0.1.0"

// app holds the wired dependencies shared by serve and sweep.
type app struct {
	cfg          *config.Config
	logger       zerolog.Logger
	pool         *pgxpool.Pool
	metrics      *telemetry.Metrics
	publisher    events.Publisher
	redis        *redis.Client
	ledger       *availability.Ledger
	appointments *appointment.Service
	sweeper      *appointment.Sweeper
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, metrics: telemetry.NewMetrics()}

	pool, err := db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	a.pool = pool
	logger.Info().Msg("connected to database")

	if a.publisher, err = newPublisher(cfg, logger); err != nil {
		a.Close()
		return nil, err
	}

	var locker lock.Locker = lock.NopLocker{}
	if cfg.RedisURL != "" {
		if a.redis, err = lock.NewRedisClient(ctx, cfg.RedisURL); err != nil {
			a.Close()
			return nil, err
		}
		locker = lock.NewRedisLocker(a.redis)
		logger.Info().Msg("deadline sweep coordinated through redis")
	}

	if err := a.wire(locker); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// wire builds the domain services on top of the infrastructure in a.
func (a *app) wire(locker lock.Locker) error {
	loc, err := a.cfg.Location()
	if err != nil {
		return err
	}
	tx := db.NewTxManager(a.pool)

	days := availability.NewCachedRepository(availability.NewRepoPG(a.pool), a.cfg.AvailabilityCacheSize, a.cfg.AvailabilityCacheTTL)
	a.ledger = availability.NewLedger(days, tx, a.publisher, a.metrics, a.logger)
	a.appointments = appointment.NewService(appointment.NewRepoPG(a.pool), a.ledger, tx, a.publisher, a.metrics, a.logger,
		appointment.WithLocation(loc))

	a.sweeper = appointment.NewSweeper(a.appointments, locker, a.metrics, a.logger)
	a.sweeper.Interval = a.cfg.SweepInterval
	a.sweeper.Batch = a.cfg.SweepBatch
	return nil
}

func newPublisher(cfg *config.Config, logger zerolog.Logger) (events.Publisher, error) {
	switch cfg.EventsDriver {
	case config.EventsNone, "":
		return events.NewLogPublisher(logger), nil
	case config.EventsNATS:
		p, err := events.NewNATSPublisher(cfg.NATSURL, logger)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("url", cfg.NATSURL).Msg("publishing events to nats")
		return p, nil
	case config.EventsRabbitMQ:
		p, err := events.NewRabbitPublisher(cfg.RabbitMQURL, cfg.RabbitMQExchange)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("exchange", cfg.RabbitMQExchange).Msg("publishing events to rabbitmq")
		return p, nil
	default:
		return nil, fmt.Errorf("unknown events driver %q", cfg.EventsDriver)
	}
}

func (a *app) Close() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("failed to close event publisher")
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

func newRouter(a *app) *echo.Echo {
	cfg := a.cfg

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(a.logger))
	e.Use(middleware.RequestID())
	e.Use(a.metrics.Middleware())
	e.Use(middleware.Logger(a.logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigningKey),
			Skipper:    auth.AuthSkipper,
		}))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(a.pool))
	e.GET("/metrics", a.metrics.Handler())

	apiV1 := e.Group("/api/v1")
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	appointment.NewHandler(a.appointments).RegisterRoutes(apiV1)
	availability.NewHandler(a.ledger).RegisterRoutes(apiV1)

	return e
}
