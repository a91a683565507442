package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, DefaultSessionTTL, cfg.Session.TTL)
	assert.Equal(t, DefaultSweepInterval, cfg.Session.SweepInterval)
	assert.Equal(t, DefaultContextWindow, cfg.Session.ContextWindow)
	assert.Equal(t, DefaultJoinHistory, cfg.Session.JoinHistory)
	assert.Equal(t, DefaultGenerationTimeout, cfg.AI.GenerationTimeout)
	assert.Equal(t, DefaultDedupeWindow, cfg.Session.DedupeWindow)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("SESSION_TTL", "2h")
	t.Setenv("SESSION_CONTEXT_WINDOW", "8")
	t.Setenv("STORE_BACKEND", "Redis")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example.com,https://b.example.com")
	t.Setenv("APP_ENV", "production")
	t.Setenv("WS_EVENT_RATE", "2.5")
	t.Setenv("SESSION_JOIN_HISTORY", "not-a-number")

	cfg := Load()

	assert.Equal(t, 2*time.Hour, cfg.Session.TTL)
	assert.Equal(t, 8, cfg.Session.ContextWindow)
	assert.Equal(t, "redis", cfg.Store.Backend)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.Security.AllowedOrigins)
	assert.True(t, cfg.IsProduction())
	assert.False(t, cfg.Features.EnableDevTokens)
	assert.Equal(t, 2.5, cfg.Security.EventRate)
	assert.Equal(t, DefaultJoinHistory, cfg.Session.JoinHistory)
}

func TestDSN(t *testing.T) {
	cfg := &Config{}
	cfg.Database.Host = "db"
	cfg.Database.Port = "5432"
	cfg.Database.User = "practice"
	cfg.Database.Password = "secret"
	cfg.Database.Name = "sessions"
	cfg.Database.SSLMode = "disable"

	assert.Equal(t, "host=db port=5432 user=practice password=secret dbname=sessions sslmode=disable", cfg.DSN())
}
