package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	Encryption EncryptionConfig
	RateLimit  RateLimitConfig
	Public     PublicConfig
	Notify     NotifyConfig
	Storage    StorageConfig
	Cache      CacheConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	Env            string
	LogLevel       string
	AllowedOrigins []string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
}

type JWTConfig struct {
	Secret      string
	ExpiryHours int
}

type EncryptionConfig struct {
	Key string
}

type RateLimitConfig struct {
	Requests      int
	WindowSeconds int
	// Public endpoints get their own, tighter budget.
	PublicRequests      int
	PublicWindowSeconds int
	// Access-code attempts per magic link token, across all clients.
	CodeAttempts      int
	CodeWindowSeconds int
}

// PublicConfig controls how shareable URLs are built and how access codes are keyed.
type PublicConfig struct {
	BaseURL          string
	AccessCodeSecret string
	AccessCodeDigits int
}

type NotifyConfig struct {
	// Transport is "asynq", "kafka" or "log".
	Transport      string
	KafkaBrokers   []string
	KafkaTopic     string
	WebhookTimeout int
}

type StorageConfig struct {
	Bucket            string
	Region            string
	Endpoint          string
	AccessKeyID       string
	SecretAccessKey   string
	PresignTTLMinutes int
}

type CacheConfig struct {
	FreshSeconds int
	StaleSeconds int
}

func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

func (j *JWTConfig) Expiry() time.Duration {
	return time.Duration(j.ExpiryHours) * time.Hour
}

func (s *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func (s *ServerConfig) IsDevelopment() bool {
	return s.Env == "development"
}

func (n *NotifyConfig) Timeout() time.Duration {
	return time.Duration(n.WebhookTimeout) * time.Second
}

func (s *StorageConfig) PresignTTL() time.Duration {
	return time.Duration(s.PresignTTLMinutes) * time.Minute
}

func (c *CacheConfig) Fresh() time.Duration {
	return time.Duration(c.FreshSeconds) * time.Second
}

func (c *CacheConfig) Stale() time.Duration {
	return time.Duration(c.StaleSeconds) * time.Second
}

func Load() (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_PORT", 8080)
	v.SetDefault("SERVER_ENV", "development")
	v.SetDefault("LOG_LEVEL", "")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "")
	v.SetDefault("DATABASE_HOST", "localhost")
	v.SetDefault("DATABASE_PORT", 5432)
	v.SetDefault("DATABASE_USER", "referrals")
	v.SetDefault("DATABASE_PASSWORD", "referrals_secret")
	v.SetDefault("DATABASE_NAME", "referrals")
	v.SetDefault("DATABASE_SSLMODE", "disable")
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("JWT_SECRET", "change-me-in-production")
	v.SetDefault("JWT_EXPIRY_HOURS", 24)
	v.SetDefault("RATE_LIMIT_REQUESTS", 100)
	v.SetDefault("RATE_LIMIT_WINDOW_SECONDS", 60)
	v.SetDefault("PUBLIC_RATE_LIMIT_REQUESTS", 20)
	v.SetDefault("PUBLIC_RATE_LIMIT_WINDOW_SECONDS", 60)
	v.SetDefault("CODE_ATTEMPT_LIMIT", 10)
	v.SetDefault("CODE_ATTEMPT_WINDOW_SECONDS", 900)
	v.SetDefault("PUBLIC_BASE_URL", "http://localhost:3000")
	v.SetDefault("ACCESS_CODE_SECRET", "")
	v.SetDefault("ACCESS_CODE_DIGITS", 6)
	v.SetDefault("NOTIFY_TRANSPORT", "asynq")
	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("KAFKA_TOPIC", "referral-events")
	v.SetDefault("WEBHOOK_TIMEOUT_SECONDS", 10)
	v.SetDefault("S3_BUCKET", "")
	v.SetDefault("S3_REGION", "us-east-1")
	v.SetDefault("S3_ENDPOINT", "")
	v.SetDefault("S3_PRESIGN_TTL_MINUTES", 15)
	v.SetDefault("CACHE_FRESH_SECONDS", 60)
	v.SetDefault("CACHE_STALE_SECONDS", 600)

	// Load from .env file if present
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	// Override with environment variables
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	cfg := &Config{
		Server: ServerConfig{
			Host:           v.GetString("SERVER_HOST"),
			Port:           v.GetInt("SERVER_PORT"),
			Env:            v.GetString("SERVER_ENV"),
			LogLevel:       v.GetString("LOG_LEVEL"),
			AllowedOrigins: splitList(v.GetString("CORS_ALLOWED_ORIGINS")),
		},
		Database: DatabaseConfig{
			Host:     v.GetString("DATABASE_HOST"),
			Port:     v.GetInt("DATABASE_PORT"),
			User:     v.GetString("DATABASE_USER"),
			Password: v.GetString("DATABASE_PASSWORD"),
			Name:     v.GetString("DATABASE_NAME"),
			SSLMode:  v.GetString("DATABASE_SSLMODE"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("REDIS_HOST"),
			Port:     v.GetInt("REDIS_PORT"),
			Password: v.GetString("REDIS_PASSWORD"),
		},
		JWT: JWTConfig{
			Secret:      v.GetString("JWT_SECRET"),
			ExpiryHours: v.GetInt("JWT_EXPIRY_HOURS"),
		},
		Encryption: EncryptionConfig{
			Key: v.GetString("ENCRYPTION_KEY"),
		},
		RateLimit: RateLimitConfig{
			Requests:            v.GetInt("RATE_LIMIT_REQUESTS"),
			WindowSeconds:       v.GetInt("RATE_LIMIT_WINDOW_SECONDS"),
			PublicRequests:      v.GetInt("PUBLIC_RATE_LIMIT_REQUESTS"),
			PublicWindowSeconds: v.GetInt("PUBLIC_RATE_LIMIT_WINDOW_SECONDS"),
			CodeAttempts:        v.GetInt("CODE_ATTEMPT_LIMIT"),
			CodeWindowSeconds:   v.GetInt("CODE_ATTEMPT_WINDOW_SECONDS"),
		},
		Public: PublicConfig{
			BaseURL:          strings.TrimRight(v.GetString("PUBLIC_BASE_URL"), "/"),
			AccessCodeSecret: v.GetString("ACCESS_CODE_SECRET"),
			AccessCodeDigits: v.GetInt("ACCESS_CODE_DIGITS"),
		},
		Notify: NotifyConfig{
			Transport:      v.GetString("NOTIFY_TRANSPORT"),
			KafkaBrokers:   splitList(v.GetString("KAFKA_BROKERS")),
			KafkaTopic:     v.GetString("KAFKA_TOPIC"),
			WebhookTimeout: v.GetInt("WEBHOOK_TIMEOUT_SECONDS"),
		},
		Storage: StorageConfig{
			Bucket:            v.GetString("S3_BUCKET"),
			Region:            v.GetString("S3_REGION"),
			Endpoint:          v.GetString("S3_ENDPOINT"),
			AccessKeyID:       v.GetString("S3_ACCESS_KEY_ID"),
			SecretAccessKey:   v.GetString("S3_SECRET_ACCESS_KEY"),
			PresignTTLMinutes: v.GetInt("S3_PRESIGN_TTL_MINUTES"),
		},
		Cache: CacheConfig{
			FreshSeconds: v.GetInt("CACHE_FRESH_SECONDS"),
			StaleSeconds: v.GetInt("CACHE_STALE_SECONDS"),
		},
	}

	// Access codes fall back to the JWT secret so a dev setup works out of the box.
	if cfg.Public.AccessCodeSecret == "" {
		cfg.Public.AccessCodeSecret = cfg.JWT.Secret
	}

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
