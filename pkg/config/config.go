package config

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// Session policy defaults. These encode product policy rather than algorithmic
// necessity, so every one of them can be overridden from the environment.
const (
	DefaultSessionTTL        = 24 * time.Hour
	DefaultSweepInterval     = 5 * time.Minute
	DefaultSnapshotInterval  = 30 * time.Second
	DefaultIdleTimeout       = 30 * time.Minute
	DefaultContextWindow     = 5
	DefaultJoinHistory       = 10
	DefaultGenerationTimeout = 20 * time.Second
	DefaultTranscribeTimeout = 15 * time.Second
	DefaultDedupeWindow      = 10 * time.Minute
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server struct {
		Port     string
		GRPCPort string
		Env      string
		Timeout  time.Duration
		BaseURL  string
	}

	// Database configuration
	Database struct {
		Host     string
		Port     string
		User     string
		Password string
		Name     string
		SSLMode  string
		MaxConns int
		Timeout  time.Duration
	}

	// Redis configuration
	Redis struct {
		Addr      string
		Password  string
		DB        int
		KeyPrefix string
	}

	// Store selects the durable record backend: memory, redis or postgres
	Store struct {
		Backend string
	}

	// JWT configuration
	JWT struct {
		Secret      string
		ExpiryHours time.Duration
		Issuer      string
	}

	// Security configuration
	Security struct {
		RateLimit       float64
		RateLimitBurst  int
		EventRate       float64
		EventBurst      int
		AllowedOrigins  []string
		MaxBodySize     int64
		MaxMessageBytes int64
	}

	// Logging configuration
	Logging struct {
		Level  string
		Format string
	}

	// Session lifecycle policy
	Session struct {
		TTL                   time.Duration
		SweepInterval         time.Duration
		SnapshotInterval      time.Duration
		IdleTimeout           time.Duration
		ContextWindow         int
		JoinHistory           int
		MaxMessagesPerSession int
		MaxTextLength         int
		MaxAudioBytes         int
		DedupeWindow          time.Duration
		TombstoneCapacity     int
	}

	// AI collaborator endpoints and deadlines
	AI struct {
		ServiceURL        string
		APIKey            string
		Language          string
		GenerationTimeout time.Duration
		TranscribeTimeout time.Duration
		FallbackSeed      uint64
	}

	// Observability settings
	Observability struct {
		ServiceName    string
		TracingEnabled bool
		MetricsEnabled bool
		HealthInterval time.Duration
	}

	// Vault settings
	Vault struct {
		Enabled     bool
		Address     string
		Token       string
		Namespace   string
		SecretsPath string
	}

	// Features toggles optional surfaces
	Features struct {
		EnableRESTAPI    bool
		EnableDevTokens  bool
		EnableOpenAPI    bool
		EnableVoiceTurns bool
	}
}

var (
	instance *Config
	once     sync.Once
)

// New returns the process-wide Config, loading it from the environment on first use
func New() *Config {
	once.Do(func() {
		// Load .env file if exists
		godotenv.Load()
		instance = Load()
	})

	return instance
}

// Get returns the singleton Config instance
func Get() *Config {
	if instance == nil {
		return New()
	}
	return instance
}

// Load builds a fresh Config from environment variables without touching the singleton
func Load() *Config {
	cfg := &Config{}

	// Server config
	cfg.Server.Port = getEnvString("PORT", "8081")
	cfg.Server.GRPCPort = getEnvString("GRPC_PORT", "")
	cfg.Server.Env = getEnvString("APP_ENV", "development")
	cfg.Server.Timeout = getEnvDuration("SERVER_TIMEOUT", 30*time.Second)
	cfg.Server.BaseURL = getEnvString("BASE_URL", "http://localhost:"+cfg.Server.Port)

	// Database config
	cfg.Database.Host = getEnvString("DB_HOST", "localhost")
	cfg.Database.Port = getEnvString("DB_PORT", "5432")
	cfg.Database.User = getEnvString("DB_USER", "postgres")
	cfg.Database.Password = getEnvString("DB_PASSWORD", "postgres")
	cfg.Database.Name = getEnvString("DB_NAME", "speaking_practice")
	cfg.Database.SSLMode = getEnvString("DB_SSL_MODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 20)
	cfg.Database.Timeout = getEnvDuration("DB_TIMEOUT", 5*time.Second)

	// Redis config
	cfg.Redis.Addr = getEnvString("REDIS_URL", "localhost:6379")
	cfg.Redis.Password = getEnvString("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)
	cfg.Redis.KeyPrefix = getEnvString("REDIS_KEY_PREFIX", "practice")

	cfg.Store.Backend = strings.ToLower(getEnvString("STORE_BACKEND", "memory"))

	// JWT config
	cfg.JWT.Secret = getEnvString("JWT_SECRET", "default-jwt-secret-do-not-use-in-production")
	cfg.JWT.ExpiryHours = getEnvDuration("JWT_EXPIRY", 24*time.Hour)
	cfg.JWT.Issuer = getEnvString("JWT_ISSUER", "speaking-practice")

	// Security config
	cfg.Security.RateLimit = getEnvFloat("RATE_LIMIT", 5)
	cfg.Security.RateLimitBurst = getEnvInt("RATE_LIMIT_BURST", 10)
	cfg.Security.EventRate = getEnvFloat("WS_EVENT_RATE", 10)
	cfg.Security.EventBurst = getEnvInt("WS_EVENT_BURST", 20)
	cfg.Security.AllowedOrigins = getEnvStringSlice("ALLOWED_ORIGINS", []string{"*"})
	cfg.Security.MaxBodySize = getEnvInt64("MAX_BODY_SIZE", 10<<20) // 10MB
	cfg.Security.MaxMessageBytes = getEnvInt64("WS_MAX_MESSAGE_BYTES", 4<<20)

	// Logging config
	cfg.Logging.Level = getEnvString("LOG_LEVEL", "info")
	cfg.Logging.Format = getEnvString("LOG_FORMAT", "json")

	// Session policy
	cfg.Session.TTL = getEnvDuration("SESSION_TTL", DefaultSessionTTL)
	cfg.Session.SweepInterval = getEnvDuration("SESSION_SWEEP_INTERVAL", DefaultSweepInterval)
	cfg.Session.SnapshotInterval = getEnvDuration("SESSION_SNAPSHOT_INTERVAL", DefaultSnapshotInterval)
	cfg.Session.IdleTimeout = getEnvDuration("SESSION_IDLE_TIMEOUT", DefaultIdleTimeout)
	cfg.Session.ContextWindow = getEnvInt("SESSION_CONTEXT_WINDOW", DefaultContextWindow)
	cfg.Session.JoinHistory = getEnvInt("SESSION_JOIN_HISTORY", DefaultJoinHistory)
	cfg.Session.MaxMessagesPerSession = getEnvInt("MAX_MESSAGES_PER_SESSION", 1000)
	cfg.Session.MaxTextLength = getEnvInt("MAX_TEXT_LENGTH", 2000)
	cfg.Session.MaxAudioBytes = getEnvInt("MAX_AUDIO_BYTES", 2<<20)
	cfg.Session.DedupeWindow = getEnvDuration("SESSION_DEDUPE_WINDOW", DefaultDedupeWindow)
	cfg.Session.TombstoneCapacity = getEnvInt("SESSION_TOMBSTONE_CAPACITY", 10000)

	// AI collaborators
	cfg.AI.ServiceURL = getEnvString("AI_SERVICE_URL", "http://localhost:5000")
	cfg.AI.APIKey = getEnvString("AI_SERVICE_API_KEY", "")
	cfg.AI.Language = getEnvString("AI_LANGUAGE", "en-US")
	cfg.AI.GenerationTimeout = getEnvDuration("GENERATION_TIMEOUT", DefaultGenerationTimeout)
	cfg.AI.TranscribeTimeout = getEnvDuration("TRANSCRIPTION_TIMEOUT", DefaultTranscribeTimeout)
	cfg.AI.FallbackSeed = uint64(getEnvInt64("FALLBACK_SEED", 0))

	// Observability
	cfg.Observability.ServiceName = getEnvString("SERVICE_NAME", "speaking-practice")
	cfg.Observability.TracingEnabled = getEnvBool("TRACING_ENABLED", false)
	cfg.Observability.MetricsEnabled = getEnvBool("METRICS_ENABLED", true)
	cfg.Observability.HealthInterval = getEnvDuration("HEALTH_CHECK_INTERVAL", 30*time.Second)

	// Vault
	cfg.Vault.Enabled = getEnvBool("VAULT_ENABLED", false)
	cfg.Vault.Address = getEnvString("VAULT_ADDR", "")
	cfg.Vault.Token = getEnvString("VAULT_TOKEN", "")
	cfg.Vault.Namespace = getEnvString("VAULT_NAMESPACE", "")
	cfg.Vault.SecretsPath = getEnvString("VAULT_SECRETS_PATH", "speaking-practice")

	// Feature flags
	cfg.Features.EnableRESTAPI = getEnvBool("ENABLE_REST_API", true)
	cfg.Features.EnableDevTokens = getEnvBool("ENABLE_DEV_TOKENS", cfg.Server.Env != "production")
	cfg.Features.EnableOpenAPI = getEnvBool("ENABLE_OPENAPI_VALIDATION", true)
	cfg.Features.EnableVoiceTurns = getEnvBool("ENABLE_VOICE_TURNS", true)

	return cfg
}

// IsProduction reports whether the service runs with production settings
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// Helper functions to read environment variables with default values

func getEnvString(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}
