package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StoreDynamoDB = "dynamodb"
)

type Config struct {
	Server   ServerConfig
	DynamoDB DynamoDBConfig
	Redis    RedisConfig
	JWT      JWTConfig
	OTP      OTPConfig
	SMS      SMSConfig
}

type ServerConfig struct {
	Port           string
	LogLevel       string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	RateLimitRPS   int
	RateLimitBurst int

	// TrustProxyHeaders keys the IP limiter on X-Forwarded-For; enable only
	// behind a proxy that sets it.
	TrustProxyHeaders bool
}

type DynamoDBConfig struct {
	Endpoint  string
	Region    string
	TableName string
}

type RedisConfig struct {
	Endpoint string
	Password string
	DB       int
}

type JWTConfig struct {
	SecretKey    string
	AccessExpiry time.Duration
}

// OTPConfig drives both the rate limiter and the code gateway.
// Expiry is only enforced by the gateway's code store.
type OTPConfig struct {
	Length              int
	Expiry              time.Duration
	MaxAttempts         int
	ResendCooldown      time.Duration
	AttemptWindow       time.Duration
	SweepInterval       time.Duration
	CountryCode         string
	Store               string
	CodeStore           string
	ResetAttemptsOnSend bool
}

type SMSConfig struct {
	WebhookURL   string
	WebhookToken string
	Timeout      time.Duration
}

func Load() (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   15 * time.Second,
			RateLimitRPS:   getEnvAsInt("RATE_LIMIT_RPS", 5),
			RateLimitBurst: getEnvAsInt("RATE_LIMIT_BURST", 10),

			TrustProxyHeaders: getEnvAsBool("TRUST_PROXY_HEADERS", false),
		},
		DynamoDB: DynamoDBConfig{
			Endpoint:  getEnv("DYNAMODB_ENDPOINT", ""),
			Region:    getEnv("DYNAMODB_REGION", "us-east-1"),
			TableName: getEnv("DYNAMODB_TABLE_NAME", "AttendanceTable"),
		},
		Redis: RedisConfig{
			Endpoint: getEnv("REDIS_ENDPOINT", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			SecretKey:    getEnv("JWT_SECRET_KEY", ""),
			AccessExpiry: getEnvAsDuration("JWT_ACCESS_EXPIRY", 24*time.Hour),
		},
		OTP: OTPConfig{
			Length:              getEnvAsInt("OTP_LENGTH", 6),
			Expiry:              time.Duration(getEnvAsInt("OTP_EXPIRY_MINUTES", 10)) * time.Minute,
			MaxAttempts:         getEnvAsInt("OTP_MAX_ATTEMPTS", 3),
			ResendCooldown:      time.Duration(getEnvAsInt("OTP_RESEND_COOLDOWN_SECONDS", 60)) * time.Second,
			AttemptWindow:       getEnvAsDuration("OTP_ATTEMPT_WINDOW", time.Hour),
			SweepInterval:       getEnvAsDuration("OTP_SWEEP_INTERVAL", 5*time.Minute),
			CountryCode:         strings.TrimPrefix(getEnv("OTP_COUNTRY_CODE", "91"), "+"),
			Store:               strings.ToLower(getEnv("OTP_STORE", StoreMemory)),
			CodeStore:           strings.ToLower(getEnv("OTP_CODE_STORE", StoreRedis)),
			ResetAttemptsOnSend: getEnvAsBool("OTP_RESET_ATTEMPTS_ON_SEND", false),
		},
		SMS: SMSConfig{
			WebhookURL:   getEnv("SMS_WEBHOOK_URL", ""),
			WebhookToken: getEnv("SMS_WEBHOOK_TOKEN", ""),
			Timeout:      getEnvAsDuration("SMS_TIMEOUT", 10*time.Second),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.JWT.SecretKey == "" {
		return fmt.Errorf("JWT_SECRET_KEY environment variable is required")
	}

	if len(c.JWT.SecretKey) < 32 {
		return fmt.Errorf("JWT_SECRET_KEY must be at least 32 bytes (256 bits)")
	}

	if c.OTP.MaxAttempts <= 0 {
		return fmt.Errorf("OTP_MAX_ATTEMPTS must be positive, got %d", c.OTP.MaxAttempts)
	}

	if c.OTP.ResendCooldown <= 0 {
		return fmt.Errorf("OTP_RESEND_COOLDOWN_SECONDS must be positive")
	}

	if c.OTP.Length < 4 || c.OTP.Length > 8 {
		return fmt.Errorf("OTP_LENGTH must be between 4 and 8, got %d", c.OTP.Length)
	}

	if c.OTP.CountryCode == "" {
		return fmt.Errorf("OTP_COUNTRY_CODE must not be empty")
	}
	if _, err := strconv.Atoi(c.OTP.CountryCode); err != nil {
		return fmt.Errorf("OTP_COUNTRY_CODE must be numeric: %q", c.OTP.CountryCode)
	}

	switch c.OTP.Store {
	case StoreMemory, StoreRedis:
	default:
		return fmt.Errorf("OTP_STORE must be %q or %q, got %q", StoreMemory, StoreRedis, c.OTP.Store)
	}

	switch c.OTP.CodeStore {
	case StoreRedis, StoreDynamoDB:
	default:
		return fmt.Errorf("OTP_CODE_STORE must be %q or %q, got %q", StoreRedis, StoreDynamoDB, c.OTP.CodeStore)
	}

	if c.SMS.WebhookURL != "" {
		u, err := url.Parse(c.SMS.WebhookURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("SMS_WEBHOOK_URL is not a valid URL: %q", c.SMS.WebhookURL)
		}
	}

	return nil
}

// UsesRedis reports whether any configured backend needs a redis connection.
func (c *Config) UsesRedis() bool {
	return c.OTP.Store == StoreRedis || c.OTP.CodeStore == StoreRedis
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

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
