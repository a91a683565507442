package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"speaking-practice/backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Status represents the health status of a component
type Status string

const (
	// StatusUp indicates a component is working correctly
	StatusUp Status = "up"
	// StatusDown indicates a component is not working
	StatusDown Status = "down"
	// StatusDegraded indicates a component is working but with reduced functionality
	StatusDegraded Status = "degraded"
)

// Component represents a system component that can be health-checked
type Component struct {
	Name        string    `json:"name"`
	Status      Status    `json:"status"`
	Critical    bool      `json:"critical"`
	Description string    `json:"description,omitempty"`
	Error       string    `json:"error,omitempty"`
	LastChecked time.Time `json:"last_checked"`
}

// Check represents a health check function
type Check func(ctx context.Context) (Status, string, error)

type registration struct {
	check    Check
	critical bool
}

// Checker runs registered checks and mirrors the overall result into a
// gRPC health server
type Checker struct {
	service     string
	checks      map[string]registration
	components  map[string]*Component
	checkPeriod time.Duration
	timeout     time.Duration
	mutex       sync.RWMutex
	grpc        *grpchealth.Server
	log         *logger.Logger
}

// NewChecker creates a checker reporting under service for gRPC clients
func NewChecker(service string, checkPeriod time.Duration, log *logger.Logger) *Checker {
	if log == nil {
		log = logger.GetGlobal()
	}
	if checkPeriod <= 0 {
		checkPeriod = 30 * time.Second
	}
	checker := &Checker{
		service:     service,
		checks:      make(map[string]registration),
		components:  make(map[string]*Component),
		checkPeriod: checkPeriod,
		timeout:     5 * time.Second,
		grpc:        grpchealth.NewServer(),
		log:         log.WithComponent("health"),
	}

	checker.RegisterCheck("self", false, func(context.Context) (Status, string, error) {
		return StatusUp, "Health checker is running", nil
	})
	return checker
}

// RegisterCheck registers a check. A critical component that is down marks
// the whole service unhealthy.
func (c *Checker) RegisterCheck(name string, critical bool, check Check) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.checks[name] = registration{check: check, critical: critical}
	c.components[name] = &Component{
		Name:        name,
		Status:      StatusDown,
		Critical:    critical,
		Description: "Not checked yet",
	}
}

// RegisterPing registers a check around a ping function such as a store or
// cache connection test
func (c *Checker) RegisterPing(name string, critical bool, ping func(context.Context) error) {
	c.RegisterCheck(name, critical, func(ctx context.Context) (Status, string, error) {
		if err := ping(ctx); err != nil {
			return StatusDown, name + " is unreachable", err
		}
		return StatusUp, name + " is reachable", nil
	})
}

// RunChecks executes every check, each under its own timeout, and updates
// the gRPC serving status
func (c *Checker) RunChecks(ctx context.Context) {
	c.mutex.RLock()
	checks := make(map[string]registration, len(c.checks))
	for name, r := range c.checks {
		checks[name] = r
	}
	c.mutex.RUnlock()

	type result struct {
		status Status
		desc   string
		err    error
	}
	results := make(map[string]result, len(checks))
	for name, r := range checks {
		cctx, cancel := context.WithTimeout(ctx, c.timeout)
		status, desc, err := r.check(cctx)
		cancel()
		results[name] = result{status, desc, err}
	}

	now := time.Now()
	c.mutex.Lock()
	for name, res := range results {
		component, ok := c.components[name]
		if !ok {
			continue
		}
		component.Status = res.status
		component.Description = res.desc
		component.LastChecked = now
		component.Error = ""
		if res.err != nil {
			component.Error = res.err.Error()
			c.log.Warn("health check failed", "check", name, "status", string(res.status), "error", res.err.Error())
		}
	}
	c.mutex.Unlock()

	serving := healthpb.HealthCheckResponse_SERVING
	if !c.IsSystemHealthy() {
		serving = healthpb.HealthCheckResponse_NOT_SERVING
	}
	c.grpc.SetServingStatus("", serving)
	if c.service != "" {
		c.grpc.SetServingStatus(c.service, serving)
	}
}

// Run checks immediately and then periodically until ctx is cancelled
func (c *Checker) Run(ctx context.Context) {
	c.RunChecks(ctx)

	ticker := time.NewTicker(c.checkPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.grpc.Shutdown()
			return
		case <-ticker.C:
			c.RunChecks(ctx)
		}
	}
}

// GetStatus returns a copy of every component, ordered by name
func (c *Checker) GetStatus() []Component {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	result := make([]Component, 0, len(c.components))
	for _, v := range c.components {
		result = append(result, *v)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// IsSystemHealthy returns true if all critical components are up
func (c *Checker) IsSystemHealthy() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	for _, component := range c.components {
		if component.Critical && component.Status == StatusDown {
			return false
		}
	}
	return true
}

// Handler renders the component table; 503 when a critical component is down
func (c *Checker) Handler() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		status := http.StatusOK
		overall := "ok"
		if !c.IsSystemHealthy() {
			status = http.StatusServiceUnavailable
			overall = "unavailable"
		}
		ctx.JSON(status, gin.H{
			"status":     overall,
			"timestamp":  time.Now(),
			"components": c.GetStatus(),
		})
	}
}

// RegisterGRPC exposes the standard gRPC health service on s
func (c *Checker) RegisterGRPC(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, c.grpc)
}
