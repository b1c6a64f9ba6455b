package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/example/ride-matching/internal/acceptance"
	"github.com/example/ride-matching/internal/collab"
	"github.com/example/ride-matching/internal/config"
	"github.com/example/ride-matching/internal/dispatch"
	"github.com/example/ride-matching/internal/geo"
	httpapi "github.com/example/ride-matching/internal/http"
	"github.com/example/ride-matching/internal/ingest"
	"github.com/example/ride-matching/internal/logging"
	"github.com/example/ride-matching/internal/matcher"
	"github.com/example/ride-matching/internal/payments"
	"github.com/example/ride-matching/internal/pricing"
	"github.com/example/ride-matching/internal/requests"
	"github.com/example/ride-matching/internal/resilience"
	"github.com/example/ride-matching/internal/routing"
	"github.com/example/ride-matching/internal/storage"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.NewLogger(cfg.LogLevel, cfg.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("startup failed", zap.Error(err))
	}
	defer app.close()

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      app.handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("ride-matching listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("http server failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

type app struct {
	handler http.Handler
	closers []func() error
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
}

// routes is the subset of a routing backend the matching and acceptance
// flows need.
type routes interface {
	collab.RouteProvider
	collab.RouteDistanceProvider
	collab.ETAProvider
}

func build(ctx context.Context, cfg config.ServerConfig, logger *zap.Logger) (*app, error) {
	a := &app{}
	guard := func(name string, healthy func(error) bool) *resilience.Guard {
		s := resilience.BuildSettings(name, cfg.CollabTimeout, cfg.BreakerInterval, cfg.BreakerOpenTimeout, cfg.BreakerFailures)
		s.Healthy = healthy
		return resilience.NewGuard(s, logger)
	}

	store, err := openStore(ctx, cfg, logger, a)
	if err != nil {
		return nil, err
	}

	var locator geo.Locator = geo.NewIndex(cfg.SearchRadiusKm, cfg.MatcherTopN)
	if cfg.RedisAddr != "" {
		rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err := rc.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
		}
		a.closers = append(a.closers, rc.Close)
		locator = geo.NewRedisGeo(rc, cfg.RedisGeoKey, cfg.SearchRadiusKm, cfg.MatcherTopN)
		logger.Info("driver locator: redis", zap.String("addr", cfg.RedisAddr))
	}

	backend, err := routingBackend(cfg)
	if err != nil {
		return nil, err
	}
	distances := collab.GuardedDistanceProvider{
		Next:  routing.CachedDistance{Next: backend, Cache: routing.NewCache(cfg.DistanceCacheTTL)},
		Guard: guard("route_distance", collab.NoRouteIsHealthy),
	}

	wsReg := dispatch.NewWSRegistry()
	notifier := dispatch.NewPushDispatcher(wsReg, collab.GuardedNotifier{Next: pushNotifier(cfg, logger), Guard: guard("notifier", nil)}, logger)

	var events collab.EventPublisher = collab.NopPublisher{}
	var locations httpapi.LocationPublisher
	if len(cfg.KafkaBrokers) > 0 {
		producer := ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaEventTopic)
		a.closers = append(a.closers, producer.Close)
		events = collab.GuardedEventPublisher{Next: producer, Guard: guard("events", nil)}
		locations = producer
	}

	coordinator := &acceptance.Coordinator{
		Store: store,
		ETA:   collab.GuardedETAProvider{Next: backend, Guard: guard("eta", collab.NoRouteIsHealthy)},
		Fares: collab.GuardedFareProvider{
			Next: pricing.DistanceFare{
				BaseMinor:    cfg.FareBaseMinor,
				PerKmMinor:   cfg.FarePerKmMinor,
				MinimumMinor: cfg.FareMinimumMinor,
				Currency:     cfg.FareCurrency,
			},
			Guard: guard("fare", nil),
		},
		Notifier: notifier,
		Events:   events,
		Logger:   logger,
	}
	if sc := payments.NewStripeClient(cfg.StripeAPIKey); sc.Enabled() {
		coordinator.Payments = sc
	} else {
		logger.Info("stripe key not set, acceptance skips the fare hold")
	}

	a.handler = httpapi.NewServer(httpapi.Deps{
		Matcher: &matcher.Service{
			Store:             store,
			Routes:            collab.GuardedRouteProvider{Next: backend, Guard: guard("routing", collab.NoRouteIsHealthy)},
			Drivers:           collab.GuardedDriverLocator{Next: locator, Guard: guard("driver_locator", nil)},
			Notifier:          notifier,
			Events:            events,
			Pooling:           geo.NewAnalyzer(distances, cfg.PoolMaxDetourKm, cfg.PoolMaxAngleDeg),
			Logger:            logger,
			TopN:              cfg.MatcherTopN,
			FanoutParallelism: cfg.FanoutParallelism,
		},
		Acceptance: coordinator,
		Requests:   &requests.Service{Store: store, Events: events, Logger: logger},
		Store:      store,
		Locator:    locator,
		Locations:  locations,
		WSReg:      wsReg,
		Logger:     logger,
	})
	return a, nil
}

func openStore(ctx context.Context, cfg config.ServerConfig, logger *zap.Logger, a *app) (storage.Store, error) {
	if cfg.PGDSN == "" {
		logger.Warn("PG_DSN not set; using in-memory store")
		return storage.NewMemoryStore(), nil
	}
	pg, err := storage.NewPostgresStore(cfg.PGDSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	a.closers = append(a.closers, pg.Close)
	if cfg.RunMigrations {
		script, err := os.ReadFile(filepath.Join("migrations", "001_create_ride_tables.sql"))
		if err != nil {
			return nil, fmt.Errorf("read migration: %w", err)
		}
		if err := pg.Migrate(ctx, string(script)); err != nil {
			return nil, err
		}
		logger.Info("migration applied", zap.String("file", "001_create_ride_tables.sql"))
	}
	return pg, nil
}

func routingBackend(cfg config.ServerConfig) (routes, error) {
	switch cfg.RoutingProvider {
	case "osrm":
		return routing.NewOSRMClient(cfg.OSRMURL), nil
	case "google":
		return routing.NewGoogleClient(cfg.GoogleMapsAPIKey)
	default:
		return routing.StraightLine{SpeedMps: cfg.DefaultSpeedMps}, nil
	}
}

func pushNotifier(cfg config.ServerConfig, logger *zap.Logger) collab.Notifier {
	switch cfg.PushProvider {
	case "webhook":
		return dispatch.NewHTTPDispatcher(cfg.PushEndpoint)
	case "fcm":
		return dispatch.NewFCMDispatcher(cfg.PushEndpoint, cfg.PushKey)
	default:
		return dispatch.LogNotifier{Logger: logger}
	}
}
