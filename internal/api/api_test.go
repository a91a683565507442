package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"speaking-practice/backend/internal/models"
	"speaking-practice/backend/internal/session"
	"speaking-practice/backend/internal/store"
	"speaking-practice/backend/pkg/errors"
	"speaking-practice/backend/pkg/jwt"
	"speaking-practice/backend/pkg/logger"
	"speaking-practice/backend/pkg/middleware"
	"speaking-practice/backend/pkg/validator"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLive struct {
	mu         sync.Mutex
	live       map[string]session.Info
	reassigned map[string]string
}

func (f *fakeLive) Get(id string) (session.Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.live[id]
	if !ok {
		return session.Info{}, errors.SessionNotFound(id)
	}
	return info, nil
}

func (f *fakeLive) Reassign(id, user string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.live[id]; !ok {
		return false
	}
	f.reassigned[id] = user
	return true
}

func (f *fakeLive) Stats() session.Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return session.Stats{Active: len(f.live), ByTopic: map[string]int{}}
}

type apiHarness struct {
	engine *gin.Engine
	store  *store.Store
	live   *fakeLive
	tokens *jwt.Service
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st := store.New(store.NewMemoryBackend(), store.DefaultOptions(), logger.Nop(), nil)
	t.Cleanup(st.Close)
	live := &fakeLive{live: map[string]session.Info{}, reassigned: map[string]string{}}
	tokens := jwt.NewService("test-secret", "speaking-practice", time.Hour)

	v, err := validator.NewOpenAPIValidator(OpenAPISpec)
	require.NoError(t, err)

	engine := gin.New()
	engine.Use(errors.ErrorHandler())
	v1 := engine.Group("/api/v1")
	public := v1.Group("", v.Middleware())
	NewAuthHandler(tokens, logger.Nop()).RegisterRoutes(public)
	protected := v1.Group("", middleware.JWTAuthMiddleware(tokens, logger.Nop()), v.Middleware())
	NewSessionHandler(st, live, 0, logger.Nop()).RegisterRoutes(protected)

	return &apiHarness{engine: engine, store: st, live: live, tokens: tokens}
}

func (h *apiHarness) seed(t *testing.T, id, user, topic string, active bool) {
	t.Helper()
	snap := store.Snapshot{ID: id, UserID: user, TopicID: topic, Active: active}
	snap.Messages = []models.Message{{ID: "m1", Role: models.RoleUser, Content: "hello", Modality: models.ModalityText}}
	if !active {
		end := time.Now()
		snap.EndTime = &end
	}
	_, err := h.store.Save(context.Background(), snap)
	require.NoError(t, err)
}

func (h *apiHarness) do(t *testing.T, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case []byte:
			buf.Write(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		token, err := h.tokens.GenerateToken(user, user+"@example.com")
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.engine.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Error.Code
}

func TestIssueTokenRoundTrips(t *testing.T) {
	h := newAPIHarness(t)

	w := h.do(t, http.MethodPost, "/api/v1/auth/token", "", gin.H{"userId": "u1"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	claims, err := h.tokens.ValidateToken(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)

	w = h.do(t, http.MethodPost, "/api/v1/auth/token", "", gin.H{"email": "x@example.com"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSessionsRequireToken(t *testing.T) {
	h := newAPIHarness(t)

	w := h.do(t, http.MethodGet, "/api/v1/sessions", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, errors.CodeAuthentication, errorCode(t, w))
}

func TestListSessions(t *testing.T) {
	h := newAPIHarness(t)
	h.seed(t, "s1", "u1", "restaurant", true)
	h.seed(t, "s2", "u1", "travel", false)
	h.seed(t, "s3", "u2", "travel", true)

	w := h.do(t, http.MethodGet, "/api/v1/sessions", "u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Sessions []store.Summary `json:"sessions"`
		Count    int             `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "s1", resp.Sessions[0].ID)

	w = h.do(t, http.MethodGet, "/api/v1/sessions?includeEnded=true&sortBy=startTime&limit=5", "u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)

	w = h.do(t, http.MethodGet, "/api/v1/sessions?sortBy=topic", "u1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRestoreChecksOwnership(t *testing.T) {
	h := newAPIHarness(t)
	h.seed(t, "s1", "u1", "restaurant", true)

	w := h.do(t, http.MethodPost, "/api/v1/sessions/s1/restore", "u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var rec models.SessionRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.Equal(t, "restaurant", rec.TopicID)
	assert.Len(t, rec.Messages, 1)

	w = h.do(t, http.MethodPost, "/api/v1/sessions/s1/restore", "u2", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, errors.CodeUnauthorized, errorCode(t, w))

	w = h.do(t, http.MethodPost, "/api/v1/sessions/nope/restore", "u1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTransferReassignsLiveSession(t *testing.T) {
	h := newAPIHarness(t)
	h.seed(t, "s1", "u1", "restaurant", true)
	h.live.live["s1"] = session.Info{ID: "s1", UserID: "u1", Active: true}

	w := h.do(t, http.MethodPost, "/api/v1/sessions/s1/transfer", "u2", gin.H{"toUserId": "u2"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = h.do(t, http.MethodPost, "/api/v1/sessions/s1/transfer", "u1", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(t, http.MethodPost, "/api/v1/sessions/s1/transfer", "u1", gin.H{"toUserId": "u2"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "u2", h.live.reassigned["s1"])

	rec, err := h.store.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "u2", rec.UserID)
	assert.Equal(t, "u1", rec.TransferredFrom)
}

func TestBackupAndRecover(t *testing.T) {
	h := newAPIHarness(t)
	h.seed(t, "s1", "u1", "restaurant", false)

	w := h.do(t, http.MethodGet, "/api/v1/sessions/s1/backup", "u2", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = h.do(t, http.MethodGet, "/api/v1/sessions/s1/backup", "u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	payload := w.Body.Bytes()

	w = h.do(t, http.MethodPost, "/api/v1/sessions/recover", "u2", payload)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = h.do(t, http.MethodPost, "/api/v1/sessions/recover", "u1", payload)
	require.Equal(t, http.StatusCreated, w.Code)
	var rec models.SessionRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.NotEqual(t, "s1", rec.ID)
	assert.Equal(t, "s1", rec.RecoveredFrom)

	w = h.do(t, http.MethodPost, "/api/v1/sessions/recover", "u1", gin.H{"version": 1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeleteSession(t *testing.T) {
	h := newAPIHarness(t)
	h.seed(t, "s1", "u1", "restaurant", true)
	h.live.live["s1"] = session.Info{ID: "s1", UserID: "u1", Active: true}

	w := h.do(t, http.MethodDelete, "/api/v1/sessions/s1", "u2", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = h.do(t, http.MethodDelete, "/api/v1/sessions/s1", "u1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	delete(h.live.live, "s1")
	w = h.do(t, http.MethodDelete, "/api/v1/sessions/s1", "u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"deleted":true}`, w.Body.String())

	w = h.do(t, http.MethodDelete, "/api/v1/sessions/s1", "u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"deleted":false}`, w.Body.String())
}

func TestStats(t *testing.T) {
	h := newAPIHarness(t)
	h.seed(t, "s1", "u1", "restaurant", true)
	h.seed(t, "s2", "u1", "travel", false)

	w := h.do(t, http.MethodGet, "/api/v1/sessions/stats", "u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Persisted store.Stats   `json:"persisted"`
		Live      session.Stats `json:"live"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Persisted.Total)
	assert.Equal(t, 1, resp.Persisted.Ended)
}
