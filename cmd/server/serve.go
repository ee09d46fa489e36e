package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/stwalsh4118/verrify/internal/authz"
	"github.com/stwalsh4118/verrify/internal/config"
	"github.com/stwalsh4118/verrify/internal/database"
	"github.com/stwalsh4118/verrify/internal/geometry"
	"github.com/stwalsh4118/verrify/internal/handlers"
	"github.com/stwalsh4118/verrify/internal/logger"
	"github.com/stwalsh4118/verrify/internal/metrics"
	"github.com/stwalsh4118/verrify/internal/middleware"
	"github.com/stwalsh4118/verrify/internal/notify"
	"github.com/stwalsh4118/verrify/internal/paystack"
	"github.com/stwalsh4118/verrify/internal/pin"
	"github.com/stwalsh4118/verrify/internal/repository"
	"github.com/stwalsh4118/verrify/internal/services"
	"github.com/stwalsh4118/verrify/internal/stages"
)

const (
	shutdownTimeout   = 30 * time.Second
	readHeaderTimeout = 10 * time.Second
)

var serveCommand = &cli.Command{
	Name:  "serve",
	Usage: "Start the HTTP server",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:    "migrate",
			Usage:   "Apply pending migrations before serving",
			EnvVars: []string{"MIGRATE_ON_START"},
		},
	},
	Action: serve,
}

func serve(cCtx *cli.Context) error {
	ctx, stop := signal.NotifyContext(cCtx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.New(cfg.Server.Env, cfg.Server.LogLevel)
	if err != nil {
		return err
	}
	log.Info("Starting Verrify API", map[string]interface{}{
		"version":     version,
		"environment": cfg.Server.Env,
		"port":        cfg.Server.Port,
	})

	db, err := database.NewPostgresPool(ctx, cfg.Database)
	if err != nil {
		log.Error("Failed to connect to database", err, map[string]interface{}{
			"host": cfg.Database.Host,
			"port": cfg.Database.Port,
			"name": cfg.Database.Name,
		})
		return err
	}
	defer db.Close()

	log.Info("Database connection established", map[string]interface{}{
		"host":     cfg.Database.Host,
		"database": cfg.Database.Name,
		"pool_min": cfg.Database.PoolMin,
		"pool_max": cfg.Database.PoolMax,
	})

	if cCtx.Bool("migrate") {
		if err := runMigrations(ctx, db, log); err != nil {
			return err
		}
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	if err := metrics.RegisterPool(prometheus.DefaultRegisterer, db.PoolStats); err != nil {
		return fmt.Errorf("failed to register pool metrics: %w", err)
	}

	notifier, redisPinger, closeRedis, err := newNotifier(ctx, cfg.Redis, log)
	if err != nil {
		return err
	}
	defer closeRedis()
	dispatcher := notify.NewDispatcher(notifier, log, m, notify.DefaultTimeout)

	store := repository.NewStore(db)
	policy := authz.DefaultPolicy()
	machine := stages.NewMachine(policy)
	validator := geometry.NewValidator(cfg.Verification.OverlapThresholdPercent)
	provider := paystack.NewClient(cfg.Paystack.SecretKey, cfg.Paystack.BaseURL, cfg.Paystack.Timeout)

	orderService := services.NewOrderService(store, machine, services.Fee{
		Amount:   cfg.Verification.Fee,
		Currency: cfg.Verification.Currency,
	}, dispatcher, m, log)
	paymentService := services.NewPaymentService(store, orderService, machine, provider, services.PaymentConfig{
		SecretKey:   cfg.Paystack.SecretKey,
		CallbackURL: cfg.Paystack.CallbackURL,
	}, dispatcher, m, log)
	parcelService := services.NewParcelService(store, validator, policy, m, log)
	verificationService := services.NewVerificationService(store, machine, validator, pin.NewGenerator(), dispatcher, m, log)

	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}

	health := handlers.NewHealthHandler(version, cfg.Server.Env,
		handlers.Dependency{Name: "database", Pinger: db, Required: true},
		handlers.Dependency{Name: "redis", Pinger: redisPinger},
	)
	deps := handlers.RouterDeps{
		Log:           log,
		Metrics:       m,
		CORSOrigins:   cfg.CORS.Origins,
		Verifier:      middleware.NewTokenVerifier(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer),
		Policy:        policy,
		Health:        health,
		Parcels:       handlers.NewParcelHandler(parcelService),
		Verifications: handlers.NewVerificationHandler(verificationService),
		Payments:      handlers.NewPaymentHandler(paymentService, orderService),
	}
	if cfg.Metrics.Enabled {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           handlers.NewRouter(deps),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("Server listening", map[string]interface{}{
			"addr": srv.Addr,
		})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		log.Info("Shutting down server...", nil)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("Server forced to shutdown", err, map[string]interface{}{
				"timeout": shutdownTimeout.String(),
			})
			return err
		}
		return nil
	})

	err = g.Wait()
	dispatcher.Wait()
	log.Info("Server exited", nil)
	return err
}

// newNotifier publishes to Redis when REDIS_URL is set and otherwise logs
// each event. The returned pinger is nil without Redis.
func newNotifier(ctx context.Context, cfg config.RedisConfig, log *logger.Logger) (notify.Notifier, handlers.Pinger, func(), error) {
	if cfg.URL == "" {
		log.Warn("REDIS_URL not set, notifications will only be logged", nil)
		return notify.NewLogNotifier(log), nil, func() {}, nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("failed to reach redis: %w", err)
	}
	log.Info("Redis connection established", map[string]interface{}{
		"addr":   opts.Addr,
		"stream": cfg.NotifyStream,
	})

	pinger := handlers.PingFunc(func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
	return notify.NewRedisNotifier(client, cfg.NotifyStream), pinger, func() { _ = client.Close() }, nil
}
