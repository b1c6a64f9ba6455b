package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ServerConfig captures all tunable parameters for the HTTP API process.
// Values are primarily loaded from environment variables with sane defaults
// so the binary can run locally without excessive setup.
type ServerConfig struct {
	Env             string
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string

	KafkaBrokers    []string
	KafkaTopic      string
	KafkaEventTopic string

	PGDSN string

	// Matching
	DefaultSpeedMps   float64
	MatcherTopN       int
	SearchRadiusKm    float64
	FanoutParallelism int
	PoolMaxDetourKm   float64
	PoolMaxAngleDeg   float64

	// Collaborators
	RoutingProvider    string // straight | osrm | google
	OSRMURL            string
	GoogleMapsAPIKey   string
	DistanceCacheTTL   time.Duration
	CollabTimeout      time.Duration
	BreakerInterval    time.Duration
	BreakerOpenTimeout time.Duration
	BreakerFailures    int

	// Notifications
	PushProvider string // log | webhook | fcm
	PushEndpoint string
	PushKey      string

	// Fares
	FareBaseMinor    int64
	FarePerKmMinor   int64
	FareMinimumMinor int64
	FareCurrency     string
	StripeAPIKey     string

	LogLevel      string
	RunMigrations bool
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		Env:                "development",
		HTTPAddr:           ":8080",
		ReadTimeout:        5 * time.Second,
		WriteTimeout:       10 * time.Second,
		IdleTimeout:        120 * time.Second,
		ShutdownTimeout:    15 * time.Second,
		RedisGeoKey:        "drivers_geo",
		KafkaTopic:         "driver-locations",
		KafkaEventTopic:    "ride-request-events",
		DefaultSpeedMps:    10,
		MatcherTopN:        8,
		SearchRadiusKm:     5,
		FanoutParallelism:  16,
		PoolMaxDetourKm:    -1, // unset; must be configured
		PoolMaxAngleDeg:    45,
		RoutingProvider:    "straight",
		DistanceCacheTTL:   10 * time.Minute,
		CollabTimeout:      3 * time.Second,
		BreakerInterval:    time.Minute,
		BreakerOpenTimeout: 30 * time.Second,
		BreakerFailures:    5,
		PushProvider:       "log",
		FareBaseMinor:      250,
		FarePerKmMinor:     120,
		FareMinimumMinor:   500,
		FareCurrency:       "usd",
		LogLevel:           "info",
	}
}

// LoadServerConfig reads .env (if present) and the environment. All parse
// errors are reported together.
func LoadServerConfig() (ServerConfig, error) {
	_ = godotenv.Load()

	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.Env, "APP_ENV")
	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")
	setStringFromEnv(&cfg.KafkaEventTopic, "KAFKA_EVENT_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")

	setFloatFromEnv(&cfg.DefaultSpeedMps, "MATCHER_DEFAULT_SPEED_MPS", &errs)
	setIntFromEnv(&cfg.MatcherTopN, "MATCHER_TOP_N", &errs)
	setFloatFromEnv(&cfg.SearchRadiusKm, "MATCHER_SEARCH_RADIUS_KM", &errs)
	setIntFromEnv(&cfg.FanoutParallelism, "MATCHER_FANOUT_PARALLELISM", &errs)
	setFloatFromEnv(&cfg.PoolMaxDetourKm, "POOL_MAX_DETOUR_KM", &errs)
	setFloatFromEnv(&cfg.PoolMaxAngleDeg, "POOL_MAX_ANGLE_DEG", &errs)

	setStringFromEnv(&cfg.RoutingProvider, "ROUTING_PROVIDER")
	cfg.RoutingProvider = strings.ToLower(cfg.RoutingProvider)
	setStringFromEnv(&cfg.OSRMURL, "OSRM_URL")
	cfg.GoogleMapsAPIKey = os.Getenv("GOOGLE_MAPS_API_KEY")
	setDurationFromEnv(&cfg.DistanceCacheTTL, "DISTANCE_CACHE_TTL", &errs)
	setDurationFromEnv(&cfg.CollabTimeout, "COLLAB_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.BreakerInterval, "BREAKER_INTERVAL", &errs)
	setDurationFromEnv(&cfg.BreakerOpenTimeout, "BREAKER_OPEN_TIMEOUT", &errs)
	setIntFromEnv(&cfg.BreakerFailures, "BREAKER_FAILURE_THRESHOLD", &errs)

	setStringFromEnv(&cfg.PushProvider, "PUSH_PROVIDER")
	cfg.PushProvider = strings.ToLower(cfg.PushProvider)
	setStringFromEnv(&cfg.PushEndpoint, "PUSH_ENDPOINT")
	cfg.PushKey = os.Getenv("PUSH_KEY")

	setInt64FromEnv(&cfg.FareBaseMinor, "FARE_BASE_MINOR", &errs)
	setInt64FromEnv(&cfg.FarePerKmMinor, "FARE_PER_KM_MINOR", &errs)
	setInt64FromEnv(&cfg.FareMinimumMinor, "FARE_MINIMUM_MINOR", &errs)
	setStringFromEnv(&cfg.FareCurrency, "FARE_CURRENCY")
	cfg.StripeAPIKey = os.Getenv("STRIPE_API_KEY")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	errs = append(errs, cfg.validate()...)
	return cfg, errors.Join(errs...)
}

func (c ServerConfig) validate() []error {
	var errs []error
	if c.MatcherTopN <= 0 {
		errs = append(errs, fmt.Errorf("MATCHER_TOP_N must be > 0"))
	}
	if c.PoolMaxDetourKm < 0 {
		errs = append(errs, fmt.Errorf("POOL_MAX_DETOUR_KM is required and must be >= 0"))
	}
	if c.PoolMaxAngleDeg <= 0 || c.PoolMaxAngleDeg > 180 {
		errs = append(errs, fmt.Errorf("POOL_MAX_ANGLE_DEG must be in (0, 180]"))
	}
	switch c.RoutingProvider {
	case "straight":
	case "osrm":
		if c.OSRMURL == "" {
			errs = append(errs, fmt.Errorf("OSRM_URL is required when ROUTING_PROVIDER=osrm"))
		}
	case "google":
		if c.GoogleMapsAPIKey == "" {
			errs = append(errs, fmt.Errorf("GOOGLE_MAPS_API_KEY is required when ROUTING_PROVIDER=google"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown ROUTING_PROVIDER %q", c.RoutingProvider))
	}
	switch c.PushProvider {
	case "log":
	case "webhook", "fcm":
		if c.PushEndpoint == "" {
			errs = append(errs, fmt.Errorf("PUSH_ENDPOINT is required when PUSH_PROVIDER=%s", c.PushProvider))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown PUSH_PROVIDER %q", c.PushProvider))
	}
	return errs
}

// ConsumerConfig is the location consumer's subset.
type ConsumerConfig struct {
	Env          string
	MetricsAddr  string
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroup   string
	RedisAddr    string
	RedisGeoKey  string
	LogLevel     string
}

func LoadConsumerConfig() ConsumerConfig {
	_ = godotenv.Load()

	cfg := ConsumerConfig{
		Env:          "development",
		MetricsAddr:  ":2112",
		KafkaBrokers: []string{"localhost:9092"},
		KafkaTopic:   "driver-locations",
		KafkaGroup:   "ride-matching-consumer",
		RedisAddr:    "localhost:6379",
		RedisGeoKey:  "drivers_geo",
		LogLevel:     "info",
	}
	setStringFromEnv(&cfg.Env, "APP_ENV")
	brokers := os.Getenv("KAFKA_BROKERS")
	if brokers == "" {
		brokers = os.Getenv("KAFKA_BROKER")
	}
	if b := splitAndTrim(brokers); len(b) > 0 {
		cfg.KafkaBrokers = b
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")
	setStringFromEnv(&cfg.RedisAddr, "REDIS_ADDR")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	return cfg
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setInt64FromEnv(target *int64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
