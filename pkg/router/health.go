package router

import (
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
)

// setupHealthRoutes registers health, runtime info and metrics endpoints
func (r *Router) setupHealthRoutes() {
	healthHandler := r.Container.Health.Handler()

	// Register both health endpoint paths for compatibility
	r.Engine.GET("/health", healthHandler)
	r.Engine.GET("/api/health", healthHandler)

	r.Engine.GET("/health/runtime", func(c *gin.Context) {
		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)

		c.JSON(http.StatusOK, gin.H{
			"version":   os.Getenv("APP_VERSION"),
			"timestamp": time.Now().Format(time.RFC3339),
			"uptime":    time.Since(startTime).Round(time.Second).String(),
			"sessions":  r.Container.Registry.Stats(),
			"breakers":  r.Container.Orchestrator.Breakers(),
			"memory": gin.H{
				"alloc_mb":   memStats.Alloc / 1024 / 1024,
				"sys_mb":     memStats.Sys / 1024 / 1024,
				"gc_cycles":  memStats.NumGC,
				"goroutines": runtime.NumGoroutine(),
			},
		})
	})

	if r.Container.MetricsSetup != nil {
		r.Engine.GET("/metrics", gin.WrapH(r.Container.MetricsSetup.Handler()))
	}
}
