package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"obituaries/internal/errs"
	"obituaries/internal/infrastructure/persistence/sqlite/model"
	"obituaries/internal/ports"
)

type StatsRepository struct {
	db *gorm.DB
}

var _ ports.StatsCounterStore = (*StatsRepository)(nil)

func NewStatsRepository(db *gorm.DB) *StatsRepository {
	return &StatsRepository{db: db}
}

// IncrementCounters adds each delta to its counter, creating missing rows.
// Zero deltas are skipped.
func (r *StatsRepository) IncrementCounters(ctx context.Context, deltas []ports.StatsCounter) error {
	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return err
	}

	for _, delta := range deltas {
		if delta.Count == 0 {
			continue
		}
		row := model.StatsCounter{
			Dimension: delta.Dimension,
			Key:       delta.Key,
			Count:     delta.Count,
		}
		if err := db.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "dimension"}, {Name: "key"}},
			DoUpdates: clause.Assignments(map[string]any{
				"count": gorm.Expr("stats_counters.count + excluded.count"),
			}),
		}).Create(&row).Error; err != nil {
			return errs.Wrapf(err, "increment counter %s/%s", delta.Dimension, delta.Key)
		}
	}
	return nil
}

func (r *StatsRepository) LoadCounters(ctx context.Context) ([]ports.StatsCounter, error) {
	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return nil, err
	}

	var rows []model.StatsCounter
	if err := db.Order("dimension asc").Order("key asc").Find(&rows).Error; err != nil {
		return nil, errs.Wrap(err, "query stats counters")
	}

	out := make([]ports.StatsCounter, 0, len(rows))
	for _, row := range rows {
		out = append(out, ports.StatsCounter{Dimension: row.Dimension, Key: row.Key, Count: row.Count})
	}
	return out, nil
}

// ReplaceCounters swaps the whole counter table for counters. It opens its own
// transaction unless ctx already carries one.
func (r *StatsRepository) ReplaceCounters(ctx context.Context, counters []ports.StatsCounter) error {
	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return err
	}

	replace := func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&model.StatsCounter{}).Error; err != nil {
			return errs.Wrap(err, "clear stats counters")
		}
		rows := make([]model.StatsCounter, 0, len(counters))
		for _, c := range counters {
			if c.Count == 0 {
				continue
			}
			rows = append(rows, model.StatsCounter{Dimension: c.Dimension, Key: c.Key, Count: c.Count})
		}
		if len(rows) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(rows, 200).Error; err != nil {
			return errs.Wrap(err, "insert stats counters")
		}
		return nil
	}

	if ports.InTx(ctx) {
		return replace(db)
	}
	return db.Transaction(replace)
}
