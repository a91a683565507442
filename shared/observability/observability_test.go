package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsExposedOnPrometheusHandler(t *testing.T) {
	setup, err := SetupPrometheusMetrics("test")
	require.NoError(t, err)
	defer setup.Shutdown(context.Background())

	m, err := NewMetrics(setup.Provider)
	require.NoError(t, err)

	ctx := context.Background()
	m.TurnCompleted(ctx, "text", 0.2)
	m.Fallback(ctx, "generate")
	m.StoreOp(ctx, "save", nil)

	w := httptest.NewRecorder()
	setup.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "practice_turns_total")
	assert.Contains(t, body, "practice_fallbacks_total")
	assert.Contains(t, body, `stage="generate"`)
}

func TestNopMetricsDoesNotPanic(t *testing.T) {
	m := NopMetrics()
	ctx := context.Background()
	m.ConnectionOpened(ctx)
	m.ConnectionClosed(ctx)
	m.Swept(ctx, 3)
	m.Event(ctx, "join", "ok")
}
