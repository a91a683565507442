package store

import (
	"context"
	"errors"
	"fmt"

	"speaking-practice/backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormBackend keeps records in a relational table. The owner is an
// indexed column, so a single upsert moves a record between users.
type GormBackend struct {
	db *gorm.DB
}

// NewGormBackend migrates the session table and returns the backend
func NewGormBackend(db *gorm.DB) (*GormBackend, error) {
	if err := db.AutoMigrate(&models.SessionRecord{}); err != nil {
		return nil, fmt.Errorf("migrate session records: %w", err)
	}
	return &GormBackend{db: db}, nil
}

func (b *GormBackend) Name() string { return "postgres" }

func (b *GormBackend) Put(ctx context.Context, rec *models.SessionRecord) error {
	row := rec.Clone()
	err := b.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(row).Error
	if err != nil {
		return fmt.Errorf("upsert record %s: %w", rec.ID, err)
	}
	return nil
}

func (b *GormBackend) Get(ctx context.Context, id string) (*models.SessionRecord, error) {
	var rec models.SessionRecord
	err := b.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load record %s: %w", id, err)
	}
	return &rec, nil
}

func (b *GormBackend) Delete(ctx context.Context, id string) (bool, error) {
	res := b.db.WithContext(ctx).Where("id = ?", id).Delete(&models.SessionRecord{})
	if res.Error != nil {
		return false, fmt.Errorf("delete record %s: %w", id, res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (b *GormBackend) ListByUser(ctx context.Context, userID string) ([]*models.SessionRecord, error) {
	var recs []*models.SessionRecord
	if err := b.db.WithContext(ctx).Where("user_id = ?", userID).Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list records for %s: %w", userID, err)
	}
	return recs, nil
}

func (b *GormBackend) ListIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := b.db.WithContext(ctx).Model(&models.SessionRecord{}).Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("list record ids: %w", err)
	}
	return ids, nil
}

func (b *GormBackend) Ping(ctx context.Context) error {
	sqlDB, err := b.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
