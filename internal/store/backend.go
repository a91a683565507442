package store

import (
	"context"
	"errors"

	"speaking-practice/backend/internal/models"
)

// ErrNotFound is returned by a Backend when no record exists for an id
var ErrNotFound = errors.New("record not found")

// Backend is the durable key/value or relational engine behind the Store.
// Put replaces the record for rec.ID and keeps the per-user index in step,
// moving the id between owners when rec.UserID changed. Implementations
// never return the caller's pointer or retain it.
type Backend interface {
	Name() string
	Put(ctx context.Context, rec *models.SessionRecord) error
	Get(ctx context.Context, id string) (*models.SessionRecord, error)
	Delete(ctx context.Context, id string) (bool, error)
	ListByUser(ctx context.Context, userID string) ([]*models.SessionRecord, error)
	ListIDs(ctx context.Context) ([]string, error)
	Ping(ctx context.Context) error
}
