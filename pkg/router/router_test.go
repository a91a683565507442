package router

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"speaking-practice/backend/pkg/config"
	"speaking-practice/backend/pkg/di"
	"speaking-practice/backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T, mutate func(*config.Config)) *Router {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Load()
	cfg.Server.Env = "test"
	cfg.Store.Backend = "memory"
	cfg.Observability.MetricsEnabled = false
	cfg.Features.EnableRESTAPI = true
	cfg.Features.EnableDevTokens = true
	cfg.Features.EnableOpenAPI = true
	cfg.Security.RateLimit = 1000
	cfg.Security.RateLimitBurst = 1000
	cfg.Security.AllowedOrigins = []string{"https://app.example.com"}
	if mutate != nil {
		mutate(cfg)
	}

	container, err := di.New(context.Background(), cfg, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { container.Close(context.Background()) })

	r := New(container)
	require.NoError(t, r.SetupRoutes())
	return r
}

func serve(r *Router, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.Engine.ServeHTTP(w, req)
	return w
}

func TestHealthRoutes(t *testing.T) {
	r := newTestRouter(t, nil)
	r.Container.Health.RunChecks(context.Background())

	for _, path := range []string{"/health", "/api/health", "/health/runtime"} {
		w := serve(r, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, w.Code, path)
	}

	w := serve(r, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Contains(t, w.Body.String(), `"store"`)
}

func TestWebSocketRouteRejectsBadToken(t *testing.T) {
	r := newTestRouter(t, nil)

	w := serve(r, httptest.NewRequest(http.MethodGet, "/ws?token=garbage", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestDevTokenUnlocksSessionAPI(t *testing.T) {
	r := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/token", bytes.NewBufferString(`{"userId":"u1"}`))
	req.Header.Set("Content-Type", "application/json")
	w := serve(r, req)
	require.Equal(t, http.StatusOK, w.Code)

	var tok struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tok))
	require.NotEmpty(t, tok.Token)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
	w = serve(r, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
	req.Header.Set("Authorization", "Bearer "+tok.Token)
	w = serve(r, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"sessions":[],"count":0}`, w.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/api/v1/sessions?limit=0", nil)
	req.Header.Set("Authorization", "Bearer "+tok.Token)
	w = serve(r, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDevTokensDisabled(t *testing.T) {
	r := newTestRouter(t, func(cfg *config.Config) { cfg.Features.EnableDevTokens = false })

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/token", bytes.NewBufferString(`{"userId":"u1"}`))
	req.Header.Set("Content-Type", "application/json")
	w := serve(r, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestOpenAPIDocumentServed(t *testing.T) {
	r := newTestRouter(t, nil)

	w := serve(r, httptest.NewRequest(http.MethodGet, "/api/docs/openapi.yaml", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "openapi: 3.0.3")
}

func TestCORS(t *testing.T) {
	r := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/sessions", nil)
	req.Header.Set("Origin", "https://app.example.com")
	w := serve(r, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/api/v1/sessions", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w = serve(r, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
