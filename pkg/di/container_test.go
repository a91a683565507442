package di

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"speaking-practice/backend/pkg/config"
	"speaking-practice/backend/pkg/health"
	"speaking-practice/backend/pkg/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(backend string) *config.Config {
	cfg := config.Load()
	cfg.Store.Backend = backend
	cfg.Observability.MetricsEnabled = false
	return cfg
}

func TestNewWithMemoryBackend(t *testing.T) {
	c, err := New(context.Background(), testConfig("memory"), logger.Nop())
	require.NoError(t, err)
	defer c.Close(context.Background())

	assert.Equal(t, "memory", c.Store.Backend().Name())
	assert.NotNil(t, c.Gateway)
	assert.NotNil(t, c.Orchestrator)
	assert.Nil(t, c.MetricsSetup)

	c.Health.RunChecks(context.Background())
	assert.True(t, c.Health.IsSystemHealthy())
	statuses := map[string]health.Status{}
	for _, comp := range c.Health.GetStatus() {
		statuses[comp.Name] = comp.Status
	}
	assert.Equal(t, health.StatusUp, statuses["store"])
	assert.Equal(t, health.StatusUp, statuses["collaborators"])
	assert.Equal(t, health.StatusUp, statuses["sessions"])
}

func TestNewWithRedisBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig("redis")
	cfg.Redis.Addr = mr.Addr()

	c, err := New(context.Background(), cfg, logger.Nop())
	require.NoError(t, err)
	defer c.Close(context.Background())

	assert.Equal(t, "redis", c.Store.Backend().Name())
	require.NotNil(t, c.Redis)
	assert.NoError(t, c.Store.Ping(context.Background()))
}

func TestNewWithMetrics(t *testing.T) {
	cfg := testConfig("memory")
	cfg.Observability.MetricsEnabled = true

	c, err := New(context.Background(), cfg, logger.Nop())
	require.NoError(t, err)
	defer c.Close(context.Background())

	require.NotNil(t, c.MetricsSetup)
	assert.NotNil(t, c.MetricsSetup.Handler())
}

func TestNewRejectsUnknownBackend(t *testing.T) {
	_, err := New(context.Background(), testConfig("cassandra"), logger.Nop())
	assert.ErrorContains(t, err, "unknown store backend")
}

func TestComponentsAreTaggedOnce(t *testing.T) {
	var buf bytes.Buffer
	log := logger.New(logger.Config{Level: "debug", JSON: true, Output: &buf})
	c, err := New(context.Background(), testConfig("memory"), log)
	require.NoError(t, err)
	defer c.Close(context.Background())

	ctx := context.Background()
	_, _, err = c.Registry.GetOrCreate(ctx, "s1", "alice", "travel")
	require.NoError(t, err)
	_, _, err = c.Registry.End(ctx, "s1")
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `"component":"registry"`)
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		assert.LessOrEqual(t, strings.Count(line, `"component":`), 1, line)
	}
}
