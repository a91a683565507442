package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsMatchesByCode(t *testing.T) {
	err := SessionNotFound("abc")
	assert.True(t, Is(err, ErrSessionNotFound))
	assert.False(t, Is(err, ErrSessionExpired))

	wrapped := fmt.Errorf("restore: %w", err)
	assert.True(t, stderrors.Is(wrapped, ErrSessionNotFound))
	assert.Equal(t, http.StatusNotFound, GetStatusCode(wrapped))
	assert.Equal(t, CodeSessionNotFound, GetErrorCode(wrapped))
}

func TestPersistenceFailureUnwraps(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := PersistenceFailure("save", cause)

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrPersistenceFailure)
	assert.Contains(t, err.Error(), "connection refused")
	assert.NotEmpty(t, err.Stack)
}

func TestFromErrorWrapsPlainErrors(t *testing.T) {
	appErr := FromError(stderrors.New("boom"))
	require.NotNil(t, appErr)
	assert.Equal(t, CodeInternal, appErr.Code)
	assert.Equal(t, http.StatusInternalServerError, appErr.StatusCode)
	assert.Nil(t, FromError(nil))
}

func TestErrorHandlerRendersAppError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(ErrorHandler())
	r.GET("/x", func(c *gin.Context) {
		_ = c.Error(SessionExpired("s1"))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

	assert.Equal(t, http.StatusGone, w.Code)
	assert.Contains(t, w.Body.String(), CodeSessionExpired)
}

func TestRecoveryWithLogger(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RecoveryWithLogger())
	r.GET("/panic", func(c *gin.Context) { panic("kaboom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "SERVER_ERROR")
}
