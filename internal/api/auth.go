package api

import (
	"net/http"

	"speaking-practice/backend/pkg/errors"
	"speaking-practice/backend/pkg/jwt"
	"speaking-practice/backend/pkg/logger"

	"github.com/gin-gonic/gin"
)

// AuthHandler issues development tokens. It is never mounted in production.
type AuthHandler struct {
	tokens *jwt.Service
	logger *logger.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(tokens *jwt.Service, log *logger.Logger) *AuthHandler {
	return &AuthHandler{tokens: tokens, logger: log}
}

type tokenRequest struct {
	UserID string `json:"userId" binding:"required"`
	Email  string `json:"email"`
}

// RegisterRoutes mounts the token endpoint on a public group
func (h *AuthHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/auth/token", h.IssueToken)
}

// IssueToken signs a token for the requested user id
func (h *AuthHandler) IssueToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.Validation("userId is required"))
		return
	}

	token, err := h.tokens.GenerateToken(req.UserID, req.Email)
	if err != nil {
		h.logger.LogError(err, "failed to sign development token", "user_id", req.UserID)
		c.Error(errors.NewInternalServerError("TOKEN_ERROR", "could not issue token"))
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token, "userId": req.UserID})
}
