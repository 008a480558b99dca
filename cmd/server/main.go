package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aditya/ridedispatch/internal/cache"
	"github.com/aditya/ridedispatch/internal/config"
	"github.com/aditya/ridedispatch/internal/database"
	"github.com/aditya/ridedispatch/internal/events"
	"github.com/aditya/ridedispatch/internal/handler"
	"github.com/aditya/ridedispatch/internal/logging"
	"github.com/aditya/ridedispatch/internal/middleware"
	"github.com/aditya/ridedispatch/internal/payments"
	"github.com/aditya/ridedispatch/internal/repository"
	"github.com/aditya/ridedispatch/internal/routing"
	"github.com/aditya/ridedispatch/internal/service"
	"github.com/aditya/ridedispatch/internal/tracking"
	"github.com/aditya/ridedispatch/internal/weather"
	"github.com/aditya/ridedispatch/pkg/utils"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var nrApp *newrelic.Application
	if cfg.NewRelicEnabled && cfg.NewRelicLicenseKey != "" {
		nrApp, err = newrelic.NewApplication(
			newrelic.ConfigAppName(cfg.NewRelicAppName),
			newrelic.ConfigLicense(cfg.NewRelicLicenseKey),
			newrelic.ConfigDistributedTracerEnabled(true),
			newrelic.ConfigAppLogForwardingEnabled(true),
		)
		if err != nil {
			logger.Warn("new relic disabled", "err", err)
		} else if err := nrApp.WaitForConnection(10 * time.Second); err != nil {
			logger.Warn("new relic connection timeout", "err", err)
		}
	}

	// Storage
	var (
		store    *repository.Store
		db       *database.PostgresDB
		redisDB  *database.RedisDB
		rdb      *redis.Client
		checkers = map[string]func(context.Context) error{}
	)
	switch cfg.Storage {
	case config.StoragePostgres:
		db, err = database.NewPostgres(cfg.DatabaseURL, cfg.DBMaxConnections, cfg.DBMaxIdleConnections)
		if err != nil {
			logger.Error("postgres unavailable", "err", err)
			os.Exit(1)
		}
		defer db.Close()
		if cfg.RunMigrations {
			if err := db.Migrate(ctx, logger); err != nil {
				logger.Error("migration failed", "err", err)
				os.Exit(1)
			}
		}
		store = repository.NewPostgresStore(db.DB)
		checkers["database"] = db.Health
	default:
		store = repository.NewMemoryStore()
		logger.Warn("using in-memory storage; data is lost on restart")
	}

	redisDB, err = database.NewRedis(cfg.RedisURL, cfg.RedisPassword)
	if err != nil {
		if cfg.Storage == config.StoragePostgres {
			logger.Error("redis unavailable", "err", err)
			os.Exit(1)
		}
		logger.Warn("running without redis", "err", err)
	} else {
		defer redisDB.Close()
		rdb = redisDB.Client
		checkers["redis"] = redisDB.Health
	}

	// Collaborators
	var driverCache cache.DriverLocationCache
	var snapshots service.SnapshotStore
	if rdb != nil {
		driverCache = cache.NewDriverLocationCache(rdb)
		snapshots = service.NewRedisSnapshotStore(rdb)
	}

	var weatherProvider weather.Provider = &weather.StaticProvider{Err: errors.New("no weather provider configured")}
	if cfg.WeatherAPIKey != "" {
		weatherProvider = weather.NewOpenWeatherClient(cfg.WeatherAPIKey, &http.Client{Timeout: cfg.WeatherTimeout})
		if rdb != nil {
			weatherProvider = weather.NewCachedProvider(weatherProvider, rdb, cfg.WeatherCacheTTL, logger)
		}
	}
	gate := weather.NewGate(weatherProvider, cfg.WeatherTimeout, logger)

	var routeProvider routing.Provider = routing.StraightLineProvider{}
	if cfg.GoogleMapsAPIKey != "" {
		google, err := routing.NewGoogleProvider(cfg.GoogleMapsAPIKey)
		if err != nil {
			logger.Warn("google maps disabled, using straight-line routes", "err", err)
		} else {
			routeProvider = google
		}
	}
	router := routing.NewRouter(routeProvider, cfg.RouteTimeout, logger)

	var stripeClient *payments.StripeClient
	if cfg.StripeAPIKey != "" {
		stripeClient = payments.NewStripeClient(cfg.StripeAPIKey)
	}

	var kafka *events.KafkaPublisher
	if len(cfg.KafkaBrokers) > 0 {
		kafka = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kafka.Close()
	}

	// Services. The hub publishes ride events to rooms and reads rides back
	// through the ride service, so it is attached after both exist.
	rooms := tracking.NewRooms(rdb, logger)
	hub := tracking.NewHub(rooms, nil, cfg.TrackingSpeedKmh, logger)
	var publisher events.Publisher = events.NewFanout(hub)
	if kafka != nil {
		publisher = events.NewFanout(hub, kafka)
	}

	paymentService := service.NewPaymentService(store.Payments, stripeClient, cfg.Currency)
	driverService := service.NewDriverService(store.Drivers, store.Rides, driverCache, logger)
	matchingService := service.NewMatchingService(store, driverCache, snapshots, publisher, service.MatchingConfig{
		RadiusKm:    cfg.MatchingRadiusKM,
		TopN:        cfg.MatchingTopN,
		MinTraining: cfg.MatchingMinTraining,
	}, logger)
	rideService := service.NewRideService(
		store,
		router,
		service.NewPricingService(service.FareConfig{
			BaseFare:   cfg.FareBase,
			PerKmRate:  cfg.FarePerKm,
			PerMinRate: cfg.FarePerMin,
			Surge:      cfg.FareSurge,
		}),
		gate,
		paymentService,
		publisher,
		matchingService,
		service.RideConfig{RejectPolicy: cfg.RejectPolicy, Currency: cfg.Currency},
		logger,
	)
	hub.Attach(rideService)

	if err := matchingService.LoadSnapshot(ctx); err != nil {
		logger.Warn("estimator snapshot not loaded", "err", err)
	}

	// Background workers
	workers, workerCtx := errgroup.WithContext(ctx)
	workers.Go(func() error {
		matchingService.Run(workerCtx)
		return nil
	})
	workers.Go(func() error {
		rooms.RunRelay(workerCtx)
		return nil
	})

	// Router
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Metrics)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", middleware.IdempotencyHeader, middleware.UserIDHeader, middleware.UserRoleHeader},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(middleware.NewRelic(nrApp))
	r.Use(middleware.Principal)
	if rdb != nil {
		r.Use(middleware.NewRateLimiter(rdb, cfg.RateLimitPerMinute, time.Minute, logger).Handler)
		r.Use(middleware.NewIdempotency(rdb, logger).Handler)
	} else {
		r.Use(middleware.NewLocalRateLimiter(cfg.RateLimitPerMinute, time.Minute).Handler)
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		services := map[string]string{}
		healthy := true
		for name, check := range checkers {
			if err := check(r.Context()); err != nil {
				services[name] = "down"
				healthy = false
				continue
			}
			services[name] = "up"
		}
		status := http.StatusOK
		if !healthy {
			status = http.StatusServiceUnavailable
		}
		utils.JSON(w, status, map[string]interface{}{"healthy": healthy, "services": services})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		handler.NewRideHandler(rideService, matchingService, paymentService, logger).RegisterRoutes(r)
		handler.NewDriverHandler(driverService, logger).RegisterRoutes(r)
		handler.NewMatchingHandler(matchingService, gate, logger).RegisterRoutes(r)
		handler.NewTrackingHandler(hub, rideService, logger).RegisterRoutes(r)
		handler.NewWSHandler(hub, rideService, logger).RegisterRoutes(r)
	})

	// Streams (SSE, WebSocket) outlive any write timeout, so none is set.
	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
		BaseContext: func(_ net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "err", err)
		}
	}()

	logger.Info("server starting", "port", cfg.Port, "storage", cfg.Storage, "reject_policy", cfg.RejectPolicy)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "err", err)
		stop()
	}

	workers.Wait()
	logger.Info("server stopped gracefully")
}
