package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	DedupBackendRedis  = "redis"
	DedupBackendMemory = "memory"
)

type Config struct {
	Env     string
	ApiPort string

	DBUser  string
	DBPass  string
	DBHost  string
	DBPort  string
	DBName  string
	SSLMode string

	RedisHost  string
	RedisPort  string
	RedisAddrs string
	RedisPass  string
	RedisDB    int

	NatsURL string

	StripeSecretKey      string
	StripeWebhookSecret  string
	OnboardingRefreshURL string
	OnboardingReturnURL  string

	ReplayTolerance  time.Duration
	DedupRetention   time.Duration
	ProcessorTimeout time.Duration
	DedupBackend     string

	NotifyWorkers   int
	NotifyQueueSize int
}

// New loads configuration from the environment, after merging a .env file if
// one exists. A missing webhook secret is not an error: the webhook endpoint
// then rejects every delivery.
func New() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Env:     getEnv("PAYOUT_ENV", "production"),
		ApiPort: getEnv("PAYOUT_API_PORT", "8080"),

		DBUser:  os.Getenv("PAYOUT_POSTGRES_USER"),
		DBPass:  os.Getenv("PAYOUT_POSTGRES_PASSWORD"),
		DBHost:  os.Getenv("PAYOUT_POSTGRES_HOST"),
		DBPort:  getEnv("PAYOUT_POSTGRES_PORT", "5432"),
		DBName:  os.Getenv("PAYOUT_POSTGRES_DB"),
		SSLMode: getEnv("PAYOUT_POSTGRES_SSLMODE", "disable"),

		RedisHost:  os.Getenv("PAYOUT_REDIS_HOST"),
		RedisPort:  getEnv("PAYOUT_REDIS_PORT", "6379"),
		RedisAddrs: os.Getenv("PAYOUT_REDIS_ADDRS"),
		RedisPass:  os.Getenv("PAYOUT_REDIS_PASSWORD"),

		NatsURL: getEnv("PAYOUT_NATS_URL", "nats://127.0.0.1:4222"),

		StripeSecretKey:      os.Getenv("PAYOUT_STRIPE_SECRET_KEY"),
		StripeWebhookSecret:  os.Getenv("PAYOUT_STRIPE_WEBHOOK_SECRET"),
		OnboardingRefreshURL: os.Getenv("PAYOUT_ONBOARDING_REFRESH_URL"),
		OnboardingReturnURL:  os.Getenv("PAYOUT_ONBOARDING_RETURN_URL"),

		DedupBackend: getEnv("PAYOUT_DEDUP_BACKEND", DedupBackendRedis),
	}

	var err error
	if cfg.RedisDB, err = getEnvInt("PAYOUT_REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.NotifyWorkers, err = getEnvInt("PAYOUT_NOTIFY_WORKERS", 4); err != nil {
		return nil, err
	}
	if cfg.NotifyQueueSize, err = getEnvInt("PAYOUT_NOTIFY_QUEUE_SIZE", 1000); err != nil {
		return nil, err
	}
	if cfg.ReplayTolerance, err = getEnvDuration("PAYOUT_REPLAY_TOLERANCE", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.DedupRetention, err = getEnvDuration("PAYOUT_DEDUP_RETENTION", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.ProcessorTimeout, err = getEnvDuration("PAYOUT_PROCESSOR_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}

	// Required: database
	if cfg.DBUser == "" || cfg.DBHost == "" || cfg.DBName == "" {
		return nil, fmt.Errorf("missing required env for database: PAYOUT_POSTGRES_USER/HOST/DB")
	}

	// Required: dedup backend
	switch cfg.DedupBackend {
	case DedupBackendRedis:
		if cfg.RedisHost == "" && cfg.RedisAddrs == "" {
			return nil, fmt.Errorf("missing required env for redis: PAYOUT_REDIS_HOST or PAYOUT_REDIS_ADDRS")
		}
	case DedupBackendMemory:
	default:
		return nil, fmt.Errorf("invalid dedup backend %q, must be 'redis' or 'memory'", cfg.DedupBackend)
	}

	// Required: Stripe
	if cfg.StripeSecretKey == "" {
		return nil, fmt.Errorf("missing required env: PAYOUT_STRIPE_SECRET_KEY")
	}
	if cfg.OnboardingRefreshURL == "" || cfg.OnboardingReturnURL == "" {
		return nil, fmt.Errorf("missing required env: PAYOUT_ONBOARDING_REFRESH_URL/RETURN_URL")
	}

	return cfg, nil
}

// DSN escapes credentials, so passwords may contain URL delimiters.
func (c *Config) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DBUser, c.DBPass),
		Host:     net.JoinHostPort(c.DBHost, c.DBPort),
		Path:     c.DBName,
		RawQuery: url.Values{"sslmode": {c.SSLMode}}.Encode(),
	}
	return u.String()
}

// RedisAddr prefers PAYOUT_REDIS_ADDRS, a comma-separated cluster seed list.
func (c *Config) RedisAddr() string {
	if c.RedisAddrs != "" {
		return c.RedisAddrs
	}
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

func (c *Config) ApiAddr() string {
	return ":" + c.ApiPort
}

func (c *Config) Development() bool {
	return c.Env == "development"
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, val, err)
	}
	return n, nil
}

func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, val, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be positive", key, val)
	}
	return d, nil
}
