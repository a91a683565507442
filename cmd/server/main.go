package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"speaking-practice/backend/pkg/config"
	"speaking-practice/backend/pkg/di"
	"speaking-practice/backend/pkg/logger"
	"speaking-practice/backend/pkg/router"
	"speaking-practice/backend/pkg/secrets"
	"speaking-practice/backend/shared/observability"

	"google.golang.org/grpc"
)

func main() {
	// Load environment variables (.env is read by config.New)
	cfg := config.New()

	log := logger.New(logger.ConfigFromEnv(cfg.Logging.Level, cfg.Logging.Format))
	logger.SetGlobal(log)

	log.Info("Starting application",
		"version", os.Getenv("APP_VERSION"),
		"env", cfg.Server.Env,
		"store", cfg.Store.Backend,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := resolveSecrets(ctx, cfg, log); err != nil {
		log.LogError(err, "Failed to resolve secrets")
		os.Exit(1)
	}

	var shutdownTracing func(context.Context) error
	if cfg.Observability.TracingEnabled {
		shutdown, err := observability.SetupTracing(cfg.Observability.ServiceName, os.Stdout)
		if err != nil {
			log.LogError(err, "Failed to initialize tracing")
			os.Exit(1)
		}
		shutdownTracing = shutdown
	}

	container, err := di.New(ctx, cfg, log)
	if err != nil {
		log.LogError(err, "Failed to initialize dependency container")
		os.Exit(1)
	}

	r := router.New(container)
	if err := r.SetupRoutes(); err != nil {
		log.LogError(err, "Failed to set up routes")
		os.Exit(1)
	}

	// Background loops stop when ctx is cancelled
	loops, cancelLoops := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for name, run := range map[string]func(context.Context){
		"gateway":      container.Gateway.Run,
		"store":        container.Store.Run,
		"registry":     container.Registry.Run,
		"health":       container.Health.Run,
		"rate_limiter": r.RateLimiter.Run,
	} {
		wg.Add(1)
		go func(name string, run func(context.Context)) {
			defer wg.Done()
			run(loops)
			log.Debug("background loop stopped", "loop", name)
		}(name, run)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("Server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.LogError(err, "Server failed to start")
			stop()
		}
	}()

	var grpcServer *grpc.Server
	if cfg.Server.GRPCPort != "" {
		grpcServer = grpc.NewServer()
		container.Health.RegisterGRPC(grpcServer)

		lis, err := net.Listen("tcp", ":"+cfg.Server.GRPCPort)
		if err != nil {
			log.LogError(err, "Failed to listen for gRPC", "port", cfg.Server.GRPCPort)
			os.Exit(1)
		}
		go func() {
			log.Info("gRPC health server starting", "port", cfg.Server.GRPCPort)
			if err := grpcServer.Serve(lis); err != nil {
				log.LogError(err, "gRPC server stopped")
			}
		}()
	}

	<-ctx.Done()
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.Timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.LogError(err, "Server forced to shutdown")
	}
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}

	// srv.Shutdown does not track hijacked websockets; stop their intake so
	// no turn is queued after the orchestrator drains
	container.Gateway.Shutdown()

	// Let queued turns finish before the registry flushes its final snapshots
	container.Orchestrator.Wait()
	cancelLoops()
	wg.Wait()

	container.Close(shutdownCtx)
	if shutdownTracing != nil {
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.LogError(err, "Failed to flush traces")
		}
	}

	log.Info("Server exited gracefully")
}

// resolveSecrets replaces credentials in cfg with Vault values when Vault is
// enabled. Environment values remain the fallback.
func resolveSecrets(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	manager, err := secrets.NewVaultManager(secrets.ConfigFromApp(cfg), log)
	if err != nil {
		return err
	}
	defer manager.Close()

	secrets.Resolve(ctx, manager, map[string]*string{
		"jwt_secret":         &cfg.JWT.Secret,
		"redis_password":     &cfg.Redis.Password,
		"db_password":        &cfg.Database.Password,
		"ai_service_api_key": &cfg.AI.APIKey,
	})

	if cfg.IsProduction() && cfg.JWT.Secret == "default-jwt-secret-do-not-use-in-production" {
		log.Warn("JWT secret is the built-in default")
	}
	return nil
}
