package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/arklim/session-security/internal/core/port"
	"github.com/arklim/session-security/internal/infra/config"
	"github.com/arklim/session-security/internal/infra/database"
	kafkainfra "github.com/arklim/session-security/internal/infra/kafka"
	"github.com/arklim/session-security/internal/infra/logger"
	redisinfra "github.com/arklim/session-security/internal/infra/redis"
	"github.com/arklim/session-security/internal/infra/security"
	"github.com/arklim/session-security/internal/infra/telemetry"
	postgresrepo "github.com/arklim/session-security/internal/repository/postgres"
	redisrepo "github.com/arklim/session-security/internal/repository/redis"
	"github.com/arklim/session-security/internal/transport/http/middleware"
	"github.com/arklim/session-security/internal/transport/http/routes"
	"github.com/arklim/session-security/internal/usecase"
)

type Application struct {
	cfg      *config.AppConfig
	engine   *gin.Engine
	logger   *zap.Logger
	pool     *pgxpool.Pool
	redis    *redisinfra.Client
	producer *kafkainfra.Producer
	tracer   *telemetry.TracerProvider
	monitor  *usecase.AdminSecurityMonitor
}

func New(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	tracer, err := telemetry.NewTracerProvider(ctx, cfg.Telemetry, log)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres, log)
	if err != nil {
		return nil, fmt.Errorf("init postgres: %w", err)
	}

	redisClient, err := redisinfra.NewClient(cfg.Redis, log)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("init redis: %w", err)
	}

	repos := postgresrepo.NewRepositories(pool)

	metrics, err := telemetry.NewMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		pool.Close()
		_ = redisClient.Close()
		return nil, fmt.Errorf("init metrics: %w", err)
	}
	httpMetrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{})
	if err != nil {
		pool.Close()
		_ = redisClient.Close()
		return nil, fmt.Errorf("init http metrics: %w", err)
	}

	// Kafka is optional; without brokers events are logged and the monitor does not consume.
	var (
		eventPublisher port.EventPublisher
		producer       *kafkainfra.Producer
	)
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err = kafkainfra.NewProducer(cfg.Kafka, log)
		if err != nil {
			log.Warn("failed to init kafka producer, using stub publisher", zap.Error(err))
			eventPublisher = kafkainfra.NewStubPublisher(log)
		} else {
			eventPublisher = kafkainfra.NewEventPublisher(producer, cfg.App, log)
			log.Info("kafka event publisher initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
		}
	} else {
		log.Info("kafka brokers not configured, using stub publisher")
		eventPublisher = kafkainfra.NewStubPublisher(log)
	}

	sessionService := usecase.NewSessionSecurityService(repos.Sessions, repos.Audit, usecase.SessionSecurityConfig{
		TTL:                   cfg.Session.TTL,
		MaxConcurrentSessions: cfg.Session.MaxConcurrentSessions,
		LockTTL:               cfg.Session.LockTTL,
	}, log).WithMetrics(metrics)
	if cfg.Session.LockEnabled {
		sessionService.WithUserLock(redisrepo.NewUserLockRepository(redisClient.Client(), cfg.Redis.UserLockPrefix))
	}

	lockdownService := usecase.NewLockdownService(
		redisrepo.NewLockdownRepository(redisClient.Client(), cfg.Redis.LockdownPrefix),
		eventPublisher,
		cfg.Monitor.LockdownTTL,
		log,
	)

	var feed port.ChangeFeed
	if cfg.Monitor.Enabled && len(cfg.Kafka.Brokers) > 0 {
		changeFeed, err := kafkainfra.NewChangeFeed(cfg.Kafka, log)
		if err != nil {
			log.Warn("failed to join change feed, admin monitor will not consume", zap.Error(err))
		} else {
			feed = changeFeed
		}
	}

	monitor := usecase.NewAdminSecurityMonitor(feed, repos.Audit, repos.Audit, cfg.Monitor.PrivilegedRoles, log).
		WithEmergencyLockdown(lockdownService).
		WithMetrics(metrics)
	monitor.OnAlert(usecase.NewAlertPublishingListener(eventPublisher, metrics))

	validationService := usecase.NewValidationService(repos.Audit, usecase.ValidationConfig{
		MaxFileSize:      cfg.Validation.MaxFileSize,
		AllowedFileTypes: cfg.Validation.AllowedFileTypes,
	}, log)

	rateLimitWindow := cfg.RateLimit.WindowDuration
	if rateLimitWindow <= 0 {
		rateLimitWindow = time.Minute
	}
	rateLimitStore := redisrepo.NewRateLimitRepository(redisClient.Client(), redisrepo.SlidingWindowConfig{
		KeyPrefix: cfg.Redis.RateLimitPrefix,
		TTL:       rateLimitWindow * 2,
	})

	if cfg.Auth.JWTSecret == "" {
		log.Warn("auth.jwt_secret not set, admin endpoints will reject every request")
	}

	engine := routes.Register(routes.Dependencies{
		Config:        cfg,
		Logger:        log,
		RateLimiter:   middleware.NewRateLimiter(rateLimitStore, log),
		TokenVerifier: security.NewTokenVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer),
		HTTPMetrics:   httpMetrics,
		Gatherer:      prometheus.DefaultGatherer,
		Database:      pool,
		Cache:         redisClient,
		Services: routes.ServiceSet{
			Sessions:   sessionService,
			Alerts:     monitor,
			Lockdowns:  lockdownService,
			Validation: validationService,
		},
	})

	return &Application{
		cfg:      cfg,
		engine:   engine,
		logger:   log,
		pool:     pool,
		redis:    redisClient,
		producer: producer,
		tracer:   tracer,
		monitor:  monitor,
	}, nil
}

func (a *Application) Run(ctx context.Context) error {
	defer func() {
		_ = a.logger.Sync()
	}()
	defer func() {
		if a.pool != nil {
			a.pool.Close()
		}
	}()
	defer func() {
		if a.redis != nil {
			_ = a.redis.Close()
		}
	}()
	defer func() {
		if a.producer != nil {
			if err := a.producer.Close(); err != nil {
				a.logger.Warn("failed to close kafka producer", zap.Error(err))
			}
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := a.tracer.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("failed to flush traces", zap.Error(err))
		}
	}()

	if a.cfg.Monitor.Enabled {
		if err := a.monitor.Start(ctx); err != nil {
			a.logger.Warn("admin security monitor not started", zap.Error(err))
		}
	}
	defer func() {
		if err := a.monitor.Stop(); err != nil {
			a.logger.Warn("failed to stop admin security monitor", zap.Error(err))
		}
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, a.cfg.App.Port),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.logger.Info("starting session security API",
		zap.String("env", a.cfg.App.Env),
		zap.String("address", srv.Addr),
	)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- fmt.Errorf("run server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	case err := <-serverErrCh:
		return err
	}
}
