package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/example/ride-matching/internal/config"
	"github.com/example/ride-matching/internal/geo"
	"github.com/example/ride-matching/internal/logging"
	"github.com/example/ride-matching/internal/models"
	"github.com/example/ride-matching/internal/observability"
)

var (
	msgsConsumed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_consumed_total",
		Help: "Total driver location messages consumed",
	})
	msgsInvalid = promauto.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_invalid_total",
		Help: "Total invalid messages received",
	})
)

var errInvalidMessage = errors.New("invalid location message")

func main() {
	cfg := config.LoadConsumerConfig()
	logger, err := logging.NewLogger(cfg.LogLevel, cfg.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	// radius and limit only matter for lookups, which this process never does
	sink := geo.NewRedisGeo(rc, cfg.RedisGeoKey, 0, 0)

	go serveHealth(cfg.MetricsAddr, rc, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic, GroupID: cfg.KafkaGroup, MinBytes: 10e3, MaxBytes: 10e6})
	defer func() {
		_ = r.Close()
		_ = rc.Close()
	}()

	logger.Info("consumer listening",
		zap.String("topic", cfg.KafkaTopic),
		zap.Strings("brokers", cfg.KafkaBrokers),
		zap.String("group", cfg.KafkaGroup),
	)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("shutting down consumer")
				return
			}
			logger.Warn("kafka read error", zap.Error(err), zap.Duration("backoff", backoff))
			if !sleepCtx(ctx, backoff) {
				return
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = time.Second

		if err := handleMessage(ctx, sink, m.Value); err != nil {
			logger.Warn("location update dropped", zap.ByteString("key", m.Key), zap.Error(err))
		}
	}
}

func serveHealth(addr string, rc *redis.Client, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := rc.Ping(r.Context()).Err(); err != nil {
			http.Error(w, "redis not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(200)
		w.Write([]byte("ready"))
	})
	logger.Info("metrics/health listening", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server stopped", zap.Error(err))
	}
}

// LocationSink stores a driver's latest position.
type LocationSink interface {
	Upsert(ctx context.Context, d models.Driver) error
}

// handleMessage decodes one location message and writes it to sink.
func handleMessage(ctx context.Context, sink LocationSink, value []byte) error {
	msgsConsumed.Inc()
	var d models.Driver
	if err := json.Unmarshal(value, &d); err != nil {
		msgsInvalid.Inc()
		return fmt.Errorf("%w: %v", errInvalidMessage, err)
	}
	if d.ID == "" {
		msgsInvalid.Inc()
		return fmt.Errorf("%w: missing driver id", errInvalidMessage)
	}
	err := upsertWithRetry(ctx, sink, d, 3, 200*time.Millisecond)
	observability.DriverLocationUpdates.WithLabelValues("kafka", observability.Outcome(err)).Inc()
	return err
}

// upsertWithRetry retries with doubling delay and gives up early when ctx
// is done.
func upsertWithRetry(ctx context.Context, sink LocationSink, d models.Driver, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = sink.Upsert(ctx, d); err == nil {
			return nil
		}
		if i == attempts-1 || !sleepCtx(ctx, delay) {
			break
		}
		delay *= 2
	}
	return fmt.Errorf("upsert driver %s: %w", d.ID, err)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
