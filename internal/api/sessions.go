package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"speaking-practice/backend/internal/models"
	"speaking-practice/backend/internal/session"
	"speaking-practice/backend/internal/store"
	"speaking-practice/backend/pkg/errors"
	"speaking-practice/backend/pkg/logger"
	"speaking-practice/backend/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// SessionStore is the persisted-record surface behind the REST API
type SessionStore interface {
	Get(ctx context.Context, sessionID string) (*models.SessionRecord, error)
	Restore(ctx context.Context, sessionID, userID string) (*models.SessionRecord, error)
	ListForUser(ctx context.Context, userID string, opts store.ListOptions) ([]store.Summary, error)
	Delete(ctx context.Context, sessionID string) (bool, error)
	Backup(ctx context.Context, sessionID string) ([]byte, error)
	Recover(ctx context.Context, payload []byte) (*models.SessionRecord, error)
	Transfer(ctx context.Context, sessionID, fromUserID, toUserID string) (*models.SessionRecord, error)
	Stats(ctx context.Context) (store.Stats, error)
}

// LiveSessions is the registry surface the REST API consults
type LiveSessions interface {
	Get(sessionID string) (session.Info, error)
	Reassign(sessionID, userID string) bool
	Stats() session.Stats
}

// SessionHandler serves persisted-session management
type SessionHandler struct {
	store   SessionStore
	live    LiveSessions
	maxBody int64
	logger  *logger.Logger
}

// NewSessionHandler creates a session handler
func NewSessionHandler(st SessionStore, live LiveSessions, maxBody int64, log *logger.Logger) *SessionHandler {
	if maxBody <= 0 {
		maxBody = 10 << 20
	}
	return &SessionHandler{store: st, live: live, maxBody: maxBody, logger: log}
}

// RegisterRoutes mounts the handler on an authenticated group
func (h *SessionHandler) RegisterRoutes(rg *gin.RouterGroup) {
	sessions := rg.Group("/sessions")
	{
		sessions.GET("", h.List)
		sessions.GET("/stats", h.Stats)
		sessions.POST("/recover", h.Recover)
		sessions.DELETE("/:id", h.Delete)
		sessions.POST("/:id/restore", h.Restore)
		sessions.POST("/:id/transfer", h.Transfer)
		sessions.GET("/:id/backup", h.Backup)
	}
}

// List returns the caller's sessions
func (h *SessionHandler) List(c *gin.Context) {
	opts := store.ListOptions{SortBy: store.SortByLastActivity}
	if v := c.Query("includeEnded"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			c.Error(errors.Validation("includeEnded must be a boolean"))
			return
		}
		opts.IncludeEnded = b
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			c.Error(errors.Validation("limit must be a positive integer"))
			return
		}
		opts.Limit = n
	}
	switch sortBy := store.SortField(c.Query("sortBy")); sortBy {
	case "", store.SortByLastActivity:
	case store.SortByStartTime:
		opts.SortBy = sortBy
	default:
		c.Error(errors.Validation("sortBy must be lastActivity or startTime"))
		return
	}

	summaries, err := h.store.ListForUser(c.Request.Context(), middleware.UserID(c), opts)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": summaries, "count": len(summaries)})
}

// Stats reports store aggregates alongside the live registry
func (h *SessionHandler) Stats(c *gin.Context) {
	persisted, err := h.store.Stats(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"persisted": persisted, "live": h.live.Stats()})
}

// Restore loads a persisted session for its owner
func (h *SessionHandler) Restore(c *gin.Context) {
	rec, err := h.store.Restore(c.Request.Context(), c.Param("id"), middleware.UserID(c))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

type transferRequest struct {
	ToUserID string `json:"toUserId" binding:"required"`
}

// Transfer hands a session to another user. Only the owner may transfer.
func (h *SessionHandler) Transfer(c *gin.Context) {
	var req transferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.Validation("toUserId is required"))
		return
	}

	id := c.Param("id")
	rec, err := h.store.Transfer(c.Request.Context(), id, middleware.UserID(c), req.ToUserID)
	if err != nil {
		c.Error(err)
		return
	}
	if h.live.Reassign(id, req.ToUserID) {
		h.logger.Info("live session reassigned", "session_id", id, "to", req.ToUserID)
	}
	c.JSON(http.StatusOK, rec)
}

// Backup exports a session the caller owns
func (h *SessionHandler) Backup(c *gin.Context) {
	id := c.Param("id")
	if err := h.authorize(c.Request.Context(), id, middleware.UserID(c)); err != nil {
		c.Error(err)
		return
	}

	data, err := h.store.Backup(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}
	c.Header("Content-Disposition", "attachment; filename=\"session-"+id+".json\"")
	c.Data(http.StatusOK, "application/json", data)
}

type backupOwner struct {
	Record struct {
		UserID string `json:"userId"`
	} `json:"record"`
}

// Recover imports a backup of the caller's own session under a new id
func (h *SessionHandler) Recover(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, h.maxBody))
	if err != nil {
		c.Error(errors.Validation("could not read backup payload"))
		return
	}

	var owner backupOwner
	if err := json.Unmarshal(payload, &owner); err != nil {
		c.Error(errors.Validation("malformed backup payload"))
		return
	}
	if owner.Record.UserID != "" && owner.Record.UserID != middleware.UserID(c) {
		c.Error(errors.Unauthorized("backup"))
		return
	}

	rec, err := h.store.Recover(c.Request.Context(), payload)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

// Delete removes a persisted session. A session that is live in the
// registry must be ended first.
func (h *SessionHandler) Delete(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()

	if err := h.authorize(ctx, id, middleware.UserID(c)); err != nil {
		if errors.Is(err, errors.ErrSessionNotFound) {
			c.JSON(http.StatusOK, gin.H{"deleted": false})
			return
		}
		c.Error(err)
		return
	}
	if info, err := h.live.Get(id); err == nil && info.Active {
		c.Error(errors.Validation("session %s is live; end it before deleting", id))
		return
	}

	deleted, err := h.store.Delete(ctx, id)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

func (h *SessionHandler) authorize(ctx context.Context, sessionID, userID string) error {
	rec, err := h.store.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if rec.UserID != userID {
		return errors.Unauthorized(sessionID)
	}
	return nil
}
