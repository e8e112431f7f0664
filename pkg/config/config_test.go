package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "jwt-secret")
	t.Setenv("ACCESS_CODE_SECRET", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	assert.Equal(t, 6, cfg.Public.AccessCodeDigits)
	assert.Equal(t, "jwt-secret", cfg.Public.AccessCodeSecret, "falls back to the JWT secret")
	assert.Equal(t, "asynq", cfg.Notify.Transport)
	assert.Equal(t, 10*time.Second, cfg.Notify.Timeout())
	assert.Equal(t, 15*time.Minute, cfg.Storage.PresignTTL())
	assert.Equal(t, time.Minute, cfg.Cache.Fresh())
	assert.Equal(t, 10*time.Minute, cfg.Cache.Stale())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PUBLIC_BASE_URL", "https://referrals.example.com/")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com,")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("ACCESS_CODE_SECRET", "codes")
	t.Setenv("NOTIFY_TRANSPORT", "kafka")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://referrals.example.com", cfg.Public.BaseURL)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Notify.KafkaBrokers)
	assert.Equal(t, "codes", cfg.Public.AccessCodeSecret)
	assert.Equal(t, "kafka", cfg.Notify.Transport)
}

func TestDatabaseConfig_DSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", Name: "referrals", SSLMode: "require"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=referrals sslmode=require", d.DSN())
}
