package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/config"
	"github.com/clinic/clinic/internal/domain/scheduling"
	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/internal/platform/db"
	"github.com/clinic/clinic/internal/platform/middleware"
)

const version = "0.1.0"

func newSchedulingService(pool *pgxpool.Pool, logger zerolog.Logger) *scheduling.Service {
	return scheduling.NewService(db.NewTxManager(pool), scheduling.Repositories{
		TimeSlots:    scheduling.NewTimeSlotRepoPG(pool),
		Doctors:      scheduling.NewDoctorRepoPG(pool),
		WorkShifts:   scheduling.NewWorkShiftRepoPG(pool),
		Schedules:    scheduling.NewDoctorScheduleRepoPG(pool),
		Slots:        scheduling.NewSlotRepoPG(pool),
		Appointments: scheduling.NewAppointmentRepoPG(pool),
	}, logger)
}

// serverDeps is everything newServer wires onto the router.
type serverDeps struct {
	cfg      *config.Config
	logger   zerolog.Logger
	handler  *scheduling.Handler
	dbHealth echo.HandlerFunc
	// redis is nil when REDIS_URL is not configured.
	redis *redis.Client
}

func newServer(d serverDeps) *echo.Echo {
	cfg := d.cfg
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(d.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(d.logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	if d.dbHealth != nil {
		e.GET("/health/db", d.dbHealth)
	}

	apiV1 := e.Group("/api/v1")
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	if cfg.IsDev() {
		apiV1.Use(auth.DevAuthMiddleware(jwtConfig(cfg)))
	} else {
		apiV1.Use(auth.JWTMiddleware(jwtConfig(cfg)))
	}
	apiV1.Use(middleware.Audit(d.logger))

	var bookingMW []echo.MiddlewareFunc
	if d.redis != nil {
		bookingMW = append(bookingMW, middleware.RedisRateLimit(d.redis, middleware.RedisRateLimitConfig{
			Prefix: "ratelimit:book",
			Limit:  cfg.BookingRateLimit,
			Window: time.Minute,
		}, d.logger))
	}
	d.handler.RegisterRoutes(apiV1, bookingMW...)

	return e
}

func openRedis(ctx context.Context, url string, logger zerolog.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		// The limiter fails open, so an unreachable Redis is not fatal.
		logger.Warn().Err(err).Msg("redis ping failed; booking rate limit will fail open until it recovers")
	}
	return client, nil
}

func runServer(migrate bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Env)
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return err
	}
	if cfg.IsDev() {
		logger.Warn().Msg("ENV=development: unauthenticated requests are treated as admin. Do not use in production.")
	}

	ctx := context.Background()
	pool, err := openPool(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to database")
		return err
	}
	defer pool.Close()
	logger.Info().Str("schema", cfg.DBSchema).Msg("connected to database")

	if migrate {
		n, err := applyMigrations(ctx, pool, cfg.DBSchema, cfg.MigrationsDir)
		if err != nil {
			logger.Error().Err(err).Msg("migrations failed")
			return err
		}
		logger.Info().Int("applied", n).Msg("migrations up to date")
	}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		if rdb, err = openRedis(ctx, cfg.RedisURL, logger); err != nil {
			logger.Error().Err(err).Msg("invalid REDIS_URL")
			return err
		}
		defer rdb.Close()
	}

	svc := newSchedulingService(pool, logger)
	e := newServer(serverDeps{
		cfg:      cfg,
		logger:   logger,
		handler:  scheduling.NewHandler(svc),
		dbHealth: db.HealthHandler(pool),
		redis:    rdb,
	})

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
		return err
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
