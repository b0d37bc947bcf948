package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"event-ticketing-checkout/internal/models"
	"event-ticketing-checkout/internal/pricing"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	Server    ServerConfig
	Session   SessionConfig
	Backend   BackendConfig
	Paystack  PaystackConfig
	Checkout  CheckoutConfig
	Log       LogConfig
	CORS      CORSConfig
	RateLimit RateLimitConfig
	Events    EventsConfig
}

type ServerConfig struct {
	Port string
	Host string
	Env  string
}

type SessionConfig struct {
	Secret string
	TTL    time.Duration
}

type BackendConfig struct {
	URL     string
	Timeout time.Duration
}

type PaystackConfig struct {
	SecretKey   string
	PublicKey   string
	Environment string
	BaseURL     string
	CallbackURL string
}

// Enabled reports whether real Paystack credentials are configured
func (p PaystackConfig) Enabled() bool {
	return p.SecretKey != "" && p.PublicKey != ""
}

type CheckoutConfig struct {
	PerOrderCap    int
	ServiceFeeRate decimal.Decimal
}

type LogConfig struct {
	Level  string
	Format string // "json" or "text"
}

type CORSConfig struct {
	AllowedOrigins []string
}

type RateLimitConfig struct {
	PerMinute int
}

// EventsConfig configures confirmation publishing. No brokers means off.
type EventsConfig struct {
	KafkaBrokers      []string
	ConfirmationTopic string
}

// Enabled reports whether any Kafka broker is configured
func (e EventsConfig) Enabled() bool {
	return len(e.KafkaBrokers) > 0
}

func Load() (*Config, error) {
	// Load .env files if they exist (try .env.local first, then .env)
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env")

	feeRate, err := getEnvAsDecimal("SERVICE_FEE_RATE", pricing.DefaultFeeRate)
	if err != nil {
		return nil, err
	}

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
			Host: getEnv("HOST", "localhost"),
			Env:  getEnv("ENV", "development"),
		},
		Session: SessionConfig{
			Secret: getEnv("SESSION_SECRET", "your-secret-key-change-in-production"),
			TTL:    getEnvAsDuration("SESSION_TTL", 15*time.Minute),
		},
		Backend: BackendConfig{
			URL:     getEnv("BACKEND_URL", "http://localhost:8000/api"),
			Timeout: getEnvAsDuration("BACKEND_TIMEOUT", 30*time.Second),
		},
		Paystack: PaystackConfig{
			SecretKey:   getEnv("PAYSTACK_SECRET_KEY", ""),
			PublicKey:   getEnv("PAYSTACK_PUBLIC_KEY", ""),
			Environment: getEnv("PAYSTACK_ENVIRONMENT", "test"),
			BaseURL:     getEnv("PAYSTACK_BASE_URL", "https://api.paystack.co"),
			CallbackURL: getEnv("PAYSTACK_CALLBACK_URL", "http://localhost:8080/payment/paystack/callback"),
		},
		Checkout: CheckoutConfig{
			PerOrderCap:    getEnvAsInt("PER_ORDER_CAP", models.DefaultPerOrderCap),
			ServiceFeeRate: feeRate,
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		},
		RateLimit: RateLimitConfig{
			PerMinute: getEnvAsInt("RATE_LIMIT_PER_MINUTE", 30),
		},
		Events: EventsConfig{
			KafkaBrokers:      getEnvAsList("KAFKA_BROKERS", nil),
			ConfirmationTopic: getEnv("KAFKA_CONFIRMATION_TOPIC", "checkout.payment-confirmed"),
		},
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) validate() error {
	u, err := url.Parse(c.Backend.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid BACKEND_URL %q", c.Backend.URL)
	}
	if c.Checkout.PerOrderCap <= 0 {
		return fmt.Errorf("PER_ORDER_CAP must be positive, got %d", c.Checkout.PerOrderCap)
	}
	if c.Checkout.ServiceFeeRate.IsNegative() || c.Checkout.ServiceFeeRate.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("SERVICE_FEE_RATE must be between 0 and 1, got %s", c.Checkout.ServiceFeeRate)
	}
	if c.Server.Env == "production" && c.Session.Secret == "your-secret-key-change-in-production" {
		return fmt.Errorf("SESSION_SECRET must be set in production")
	}
	return nil
}

// IsProduction reports whether the server runs in production
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsDecimal(key string, defaultValue decimal.Decimal) (decimal.Decimal, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return d, nil
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
