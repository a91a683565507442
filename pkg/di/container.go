package di

import (
	"context"
	"fmt"
	"strings"

	"speaking-practice/backend/ai"
	"speaking-practice/backend/internal/conversation"
	"speaking-practice/backend/internal/session"
	"speaking-practice/backend/internal/store"
	"speaking-practice/backend/internal/ws"
	"speaking-practice/backend/pkg/config"
	"speaking-practice/backend/pkg/health"
	"speaking-practice/backend/pkg/jwt"
	"speaking-practice/backend/pkg/logger"
	"speaking-practice/backend/pkg/resilience"
	sharedredis "speaking-practice/backend/shared/redis"
	"speaking-practice/backend/shared/observability"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Container holds all the dependencies for the application
type Container struct {
	Config       *config.Config
	Logger       *logger.Logger
	DB           *gorm.DB
	Redis        *redis.Client
	Metrics      *observability.Metrics
	MetricsSetup *observability.MetricsSetup
	JWTService   *jwt.Service
	AIClient     *ai.Client
	Store        *store.Store
	Registry     *session.Registry
	Orchestrator *conversation.Orchestrator
	Hub          *ws.Hub
	Gateway      *ws.Gateway
	Health       *health.Checker
}

// New builds the container from configuration. Backends that need a network
// connection are dialled here so startup fails fast.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Container, error) {
	c := &Container{Config: cfg, Logger: log}

	c.Metrics = observability.NopMetrics()
	if cfg.Observability.MetricsEnabled {
		setup, err := observability.SetupPrometheusMetrics(cfg.Observability.ServiceName)
		if err != nil {
			return nil, err
		}
		metrics, err := observability.NewMetrics(setup.Provider)
		if err != nil {
			return nil, fmt.Errorf("failed to create metrics: %w", err)
		}
		c.MetricsSetup = setup
		c.Metrics = metrics
	}

	backend, err := c.newBackend(ctx)
	if err != nil {
		c.Close(ctx)
		return nil, err
	}
	log.Info("session store backend selected", "backend", backend.Name())

	c.Store = store.New(backend, store.Options{
		TTL:               cfg.Session.TTL,
		SweepInterval:     cfg.Session.SweepInterval,
		TombstoneCapacity: cfg.Session.TombstoneCapacity,
	}, log, c.Metrics)

	c.Registry = session.NewRegistry(c.Store, session.Options{
		SnapshotInterval: cfg.Session.SnapshotInterval,
		IdleTimeout:      cfg.Session.IdleTimeout,
		MaxMessages:      cfg.Session.MaxMessagesPerSession,
	}, log, c.Metrics)

	c.AIClient = ai.NewClient(ai.Config{
		BaseURL:  cfg.AI.ServiceURL,
		APIKey:   cfg.AI.APIKey,
		Language: cfg.AI.Language,
	}, log)

	c.Hub = ws.NewHub(log, c.Metrics)

	c.Orchestrator = conversation.New(c.Registry, conversation.Collaborators{
		Generator:   c.AIClient,
		Transcriber: c.AIClient,
		Analyzer:    c.AIClient,
		Evaluator:   c.AIClient,
	}, c.Hub, conversation.Options{
		ContextWindow:     cfg.Session.ContextWindow,
		GenerationTimeout: cfg.AI.GenerationTimeout,
		TranscribeTimeout: cfg.AI.TranscribeTimeout,
		DedupeWindow:      cfg.Session.DedupeWindow,
		MaxTextLength:     cfg.Session.MaxTextLength,
		MaxAudioBytes:     cfg.Session.MaxAudioBytes,
		FallbackSeed:      cfg.AI.FallbackSeed,
	}, log, c.Metrics)

	c.JWTService = jwt.NewService(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.ExpiryHours)

	c.Gateway = ws.New(c.Hub, c.Registry, c.Orchestrator, c.JWTService,
		ws.OptionsFromConfig(cfg), log, c.Metrics)

	c.Health = health.NewChecker(cfg.Observability.ServiceName, cfg.Observability.HealthInterval, log)
	c.registerHealthChecks()

	return c, nil
}

func (c *Container) newBackend(ctx context.Context) (store.Backend, error) {
	cfg := c.Config
	switch strings.ToLower(cfg.Store.Backend) {
	case "", "memory":
		return store.NewMemoryBackend(), nil
	case "redis":
		client, err := sharedredis.NewRedisClient(ctx, sharedredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, err
		}
		c.Redis = client
		// the sweep owns expiry; the key TTL only catches records it never reaches
		return store.NewRedisBackend(client, cfg.Redis.KeyPrefix, 2*cfg.Session.TTL), nil
	case "postgres":
		db, err := config.NewDB(ctx, cfg)
		if err != nil {
			return nil, err
		}
		c.DB = db
		backend, err := store.NewGormBackend(db)
		if err != nil {
			return nil, err
		}
		return backend, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

func (c *Container) registerHealthChecks() {
	c.Health.RegisterPing("store", true, c.Store.Ping)

	c.Health.RegisterCheck("collaborators", false, func(ctx context.Context) (health.Status, string, error) {
		var open []string
		for _, m := range c.Orchestrator.Breakers() {
			if m.State != resilience.StateClosed {
				open = append(open, m.Name+"="+string(m.State))
			}
		}
		if len(open) > 0 {
			return health.StatusDegraded, strings.Join(open, ", "), nil
		}
		return health.StatusUp, "all circuits closed", nil
	})

	c.Health.RegisterCheck("sessions", false, func(ctx context.Context) (health.Status, string, error) {
		st := c.Registry.Stats()
		return health.StatusUp, fmt.Sprintf("%d live, %d unattended", st.Active, st.Unattended), nil
	})
}

// Close releases resources in reverse construction order. Callers stop the
// background loops first.
func (c *Container) Close(ctx context.Context) {
	if c.Orchestrator != nil {
		c.Orchestrator.Close()
	}
	if c.Store != nil {
		c.Store.Close()
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			c.Logger.LogError(err, "failed to close redis client")
		}
	}
	if c.DB != nil {
		if sqlDB, err := c.DB.DB(); err == nil {
			sqlDB.Close()
		}
	}
	if c.MetricsSetup != nil {
		if err := c.MetricsSetup.Shutdown(ctx); err != nil {
			c.Logger.LogError(err, "failed to flush metrics")
		}
	}
}
