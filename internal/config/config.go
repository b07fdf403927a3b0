package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

type Config struct {
	Server   ServerConfig
	Storage  string
	Postgres PostgresConfig
	Redis    RedisConfig
	Booking  BookingConfig
	Catalog  CatalogConfig
	RabbitMQ RabbitMQConfig
	Auth     AuthConfig
}

type ServerConfig struct {
	Host string
	Port int
	// SSEKeepAlive is the interval of comment pings on event streams.
	SSEKeepAlive time.Duration
}

// RedisConfig is optional: with an empty Addr the service runs without cache,
// rate limiting, idempotency keys and cross-instance events.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type PostgresConfig struct {
	User     string
	Password string
	Name     string
	Host     string
	Port     int
	SSLMode  string
	MaxConns int
}

type BookingConfig struct {
	HoldTTL            time.Duration
	SweepInterval      time.Duration
	MaxSeats           int
	TxMaxRetries       int
	RateLimitPerMinute int
	IdempotencyTTL     time.Duration
	ScreenCacheTTL     time.Duration
}

type CatalogConfig struct {
	BaseURL  string
	APIKey   string
	Timeout  time.Duration
	CacheTTL time.Duration
}

// RabbitMQConfig is optional: with an empty URL confirmations are only logged.
type RabbitMQConfig struct {
	URL string
}

type AuthConfig struct {
	// JWTSecret enables bearer token checks when set.
	JWTSecret string
}

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.Name,
		c.SSLMode,
	)
}

func New() (*Config, error) {
	const op = "config.New"

	_ = godotenv.Load()

	serverPort, err := envInt("SERVER_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	serverCfg := ServerConfig{
		Host:         envStr("SERVER_HOST", "localhost"),
		Port:         serverPort,
		SSEKeepAlive: envDur("SSE_KEEPALIVE", 15*time.Second),
	}

	storage := strings.ToLower(envStr("STORAGE", StoragePostgres))
	if storage != StoragePostgres && storage != StorageMemory {
		return nil, fmt.Errorf("%s: invalid STORAGE %q", op, storage)
	}

	var postgresCfg PostgresConfig
	if storage == StoragePostgres {
		postgresCfg, err = loadPostgres()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	redisDB, err := envInt("REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	redisCfg := RedisConfig{
		Addr:     os.Getenv("REDIS_ADDR"),
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       redisDB,
	}

	bookingCfg, err := loadBooking()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	catalogCfg := CatalogConfig{
		BaseURL:  envStr("CATALOG_BASE_URL", "https://api.themoviedb.org/3"),
		APIKey:   os.Getenv("CATALOG_API_KEY"),
		Timeout:  envDur("CATALOG_TIMEOUT", 5*time.Second),
		CacheTTL: envDur("CATALOG_CACHE_TTL", time.Hour),
	}

	return &Config{
		Server:   serverCfg,
		Storage:  storage,
		Postgres: postgresCfg,
		Redis:    redisCfg,
		Booking:  bookingCfg,
		Catalog:  catalogCfg,
		RabbitMQ: RabbitMQConfig{URL: os.Getenv("RABBITMQ_URL")},
		Auth:     AuthConfig{JWTSecret: os.Getenv("JWT_SECRET")},
	}, nil
}

func loadPostgres() (PostgresConfig, error) {
	port, err := envInt("POSTGRES_PORT", 5432)
	if err != nil {
		return PostgresConfig{}, err
	}
	maxConns, err := envInt("POSTGRES_MAX_CONNS", 0)
	if err != nil {
		return PostgresConfig{}, err
	}

	cfg := PostgresConfig{
		User:     os.Getenv("POSTGRES_USER"),
		Password: os.Getenv("POSTGRES_PASSWORD"),
		Name:     os.Getenv("POSTGRES_DB"),
		Host:     envStr("POSTGRES_HOST", "localhost"),
		Port:     port,
		SSLMode:  envStr("POSTGRES_SSLMODE", "disable"),
		MaxConns: maxConns,
	}

	switch {
	case cfg.User == "":
		return cfg, fmt.Errorf("missing POSTGRES_USER")
	case cfg.Password == "":
		return cfg, fmt.Errorf("missing POSTGRES_PASSWORD")
	case cfg.Name == "":
		return cfg, fmt.Errorf("missing POSTGRES_DB")
	}

	return cfg, nil
}

// TxAttempts is how many times a unit of work runs in total: the first try
// plus TX_MAX_RETRIES retries.
func (b BookingConfig) TxAttempts() int { return b.TxMaxRetries + 1 }

func loadBooking() (BookingConfig, error) {
	maxSeats, err := envInt("BOOKING_MAX_SEATS", 10)
	if err != nil {
		return BookingConfig{}, err
	}
	retries, err := envInt("TX_MAX_RETRIES", 3)
	if err != nil {
		return BookingConfig{}, err
	}
	perMinute, err := envInt("RATE_LIMIT_PER_MINUTE", 10)
	if err != nil {
		return BookingConfig{}, err
	}

	cfg := BookingConfig{
		HoldTTL:            envDur("BOOKING_HOLD_TTL", 15*time.Minute),
		SweepInterval:      envDur("EXPIRY_SWEEP_INTERVAL", 30*time.Second),
		MaxSeats:           maxSeats,
		TxMaxRetries:       retries,
		RateLimitPerMinute: perMinute,
		IdempotencyTTL:     envDur("IDEMPOTENCY_TTL", 2*time.Hour),
		ScreenCacheTTL:     envDur("SCREEN_CACHE_TTL", 10*time.Minute),
	}

	if cfg.HoldTTL <= 0 {
		return cfg, fmt.Errorf("BOOKING_HOLD_TTL must be positive")
	}
	if cfg.TxMaxRetries < 0 {
		return cfg, fmt.Errorf("TX_MAX_RETRIES must not be negative")
	}
	if cfg.SweepInterval <= 0 {
		return cfg, fmt.Errorf("EXPIRY_SWEEP_INTERVAL must be positive")
	}

	return cfg, nil
}

func envStr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envInt(k string, d int) (int, error) {
	v := os.Getenv(k)
	if v == "" {
		return d, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", k, err)
	}
	return n, nil
}

// envDur falls back to d on unparsable values.
func envDur(k string, d time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if dur, err := time.ParseDuration(v); err == nil {
		return dur
	}
	return d
}
