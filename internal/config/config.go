package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

const maxGatewayTimeout = 60 * time.Second

type Config struct {
	ServiceName string
	HTTPAddr    string
	GRPCAddr    string

	MySQLDSN  string
	RedisAddr string
	DedupeTTL time.Duration

	KafkaBrokers []string
	KafkaTopic   string

	KeyID            string
	KeySecret        string
	WebhookSecret    string
	GatewayBaseURL   string
	GatewayTimeout   time.Duration
	BreakerFailures  int
	BreakerReset     time.Duration
	AmountTolerance  decimal.Decimal
	DefaultCountry   string
	WorkerCount      int
	QueueSize        int
	JaegerEndpoint   string
	ShutdownTimeout  time.Duration
	ReadWriteTimeout time.Duration
}

// Load reads .env when present and then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv builds the configuration from environment variables only.
func FromEnv() (*Config, error) {
	cfg := &Config{
		ServiceName:    getEnv("SERVICE_NAME", "order-reconciler"),
		HTTPAddr:       getEnv("HTTP_ADDR", ":8080"),
		GRPCAddr:       getEnv("GRPC_ADDR", ":50051"),
		MySQLDSN:       getEnv("MYSQL_DSN", "root:root@tcp(localhost:3306)/orders?parseTime=true"),
		RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),
		KafkaTopic:     getEnv("KAFKA_TOPIC", "order-events"),
		KeyID:          os.Getenv("RAZORPAY_KEY_ID"),
		KeySecret:      os.Getenv("RAZORPAY_KEY_SECRET"),
		WebhookSecret:  os.Getenv("RAZORPAY_WEBHOOK_SECRET"),
		GatewayBaseURL: getEnv("RAZORPAY_BASE_URL", "https://api.razorpay.com"),
		DefaultCountry: getEnv("DEFAULT_COUNTRY", "India"),
		JaegerEndpoint: os.Getenv("JAEGER_ENDPOINT"),
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}

	var err error
	if cfg.GatewayTimeout, err = getDuration("GATEWAY_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.GatewayTimeout <= 0 || cfg.GatewayTimeout > maxGatewayTimeout {
		return nil, fmt.Errorf("GATEWAY_TIMEOUT must be between 0 and %s, got %s", maxGatewayTimeout, cfg.GatewayTimeout)
	}
	if cfg.BreakerReset, err = getDuration("BREAKER_RESET_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.DedupeTTL, err = getDuration("WEBHOOK_DEDUPE_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.ShutdownTimeout, err = getDuration("SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.ReadWriteTimeout, err = getDuration("HTTP_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.BreakerFailures, err = getInt("BREAKER_MAX_FAILURES", 5); err != nil {
		return nil, err
	}
	if cfg.WorkerCount, err = getInt("WORKER_COUNT", 4); err != nil {
		return nil, err
	}
	if cfg.QueueSize, err = getInt("QUEUE_SIZE", 1000); err != nil {
		return nil, err
	}

	tolerance := getEnv("AMOUNT_TOLERANCE", "1.00")
	cfg.AmountTolerance, err = decimal.NewFromString(tolerance)
	if err != nil || cfg.AmountTolerance.IsNegative() {
		return nil, fmt.Errorf("AMOUNT_TOLERANCE must be a non-negative number, got %q", tolerance)
	}

	return cfg, nil
}

// MissingSecrets names the gateway credentials that are not set. Requests
// that need them fail with a configuration error.
func (c *Config) MissingSecrets() []string {
	var missing []string
	if c.KeyID == "" {
		missing = append(missing, "RAZORPAY_KEY_ID")
	}
	if c.KeySecret == "" {
		missing = append(missing, "RAZORPAY_KEY_SECRET")
	}
	if c.WebhookSecret == "" {
		missing = append(missing, "RAZORPAY_WEBHOOK_SECRET")
	}
	return missing
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, value)
	}
	return n, nil
}
