package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"obituaries/internal/errs"
	"obituaries/internal/infrastructure/persistence/sqlite/model"
	"obituaries/internal/ports"
)

type IdempotencyRepository struct {
	db *gorm.DB
}

var _ ports.IdempotencyStore = (*IdempotencyRepository)(nil)

func NewIdempotencyRepository(db *gorm.DB) *IdempotencyRepository {
	return &IdempotencyRepository{db: db}
}

func (r *IdempotencyRepository) LookupIdempotency(ctx context.Context, key string) (ports.IdempotencyRecord, bool, error) {
	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return ports.IdempotencyRecord{}, false, err
	}

	var rows []model.IdempotencyKey
	if err := db.Where("key = ?", key).Limit(1).Find(&rows).Error; err != nil {
		return ports.IdempotencyRecord{}, false, errs.Wrap(err, "query idempotency key")
	}
	if len(rows) == 0 {
		return ports.IdempotencyRecord{}, false, nil
	}

	createdAt, err := parseTime(rows[0].CreatedAt)
	if err != nil {
		return ports.IdempotencyRecord{}, false, err
	}
	return ports.IdempotencyRecord{
		Key:        rows[0].Key,
		Operation:  rows[0].Operation,
		ResultJSON: rows[0].ResultJSON,
		CreatedAt:  createdAt,
	}, true, nil
}

func (r *IdempotencyRepository) SaveIdempotency(ctx context.Context, record ports.IdempotencyRecord) (bool, error) {
	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return false, err
	}

	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	row := model.IdempotencyKey{
		Key:        record.Key,
		Operation:  record.Operation,
		ResultJSON: record.ResultJSON,
		CreatedAt:  formatTime(createdAt),
	}

	result := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoNothing: true,
	}).Create(&row)
	if result.Error != nil {
		return false, errs.Wrap(result.Error, "insert idempotency key")
	}
	return result.RowsAffected > 0, nil
}
