package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	domainobituary "obituaries/internal/domain/obituary"
	"obituaries/internal/errs"
	"obituaries/internal/infrastructure/persistence/sqlite/model"
	"obituaries/internal/ports"
)

type ObituaryRepository struct {
	db *gorm.DB
}

var _ ports.ObituaryRepository = (*ObituaryRepository)(nil)

func NewObituaryRepository(db *gorm.DB) *ObituaryRepository {
	return &ObituaryRepository{db: db}
}

func (r *ObituaryRepository) dbFromContext(ctx context.Context) (*gorm.DB, error) {
	return dbFromContext(ctx, r.db)
}

// dbFromContext returns the tx carried by ctx, or db when there is none.
func dbFromContext(ctx context.Context, db *gorm.DB) (*gorm.DB, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}

	tx := ports.TxFromContext(ctx)
	if tx == nil {
		return db.WithContext(ctx), nil
	}

	gormTx, ok := tx.(*gorm.DB)
	if !ok || gormTx == nil {
		return nil, fmt.Errorf("invalid tx in context: %T", tx)
	}
	return gormTx.WithContext(ctx), nil
}

func (r *ObituaryRepository) GetObituary(ctx context.Context, id string) (domainobituary.Obituary, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return domainobituary.Obituary{}, err
	}

	var row model.Obituary
	if err := db.Where("obituary_id = ?", id).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domainobituary.Obituary{}, errs.Wrapf(domainobituary.ErrNotFound, "obituary %s", id)
		}
		return domainobituary.Obituary{}, errs.Wrap(err, "query obituary")
	}
	return mapObituary(row)
}

func (r *ObituaryRepository) ListByAddress(ctx context.Context, address string, chainID int64) ([]domainobituary.Obituary, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return nil, err
	}

	query := db.Model(&model.Obituary{}).Where("contract_address = ?", address)
	if chainID > 0 {
		query = query.Where("chain_id = ?", chainID)
	}

	var rows []model.Obituary
	if err := query.Order("reported_at desc").Order("obituary_id asc").Find(&rows).Error; err != nil {
		return nil, errs.Wrap(err, "query obituaries by address")
	}
	return mapObituaries(rows)
}

func (r *ObituaryRepository) FindLive(ctx context.Context, address string, chainID int64) (domainobituary.Obituary, bool, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return domainobituary.Obituary{}, false, err
	}

	var rows []model.Obituary
	if err := db.
		Where("contract_address = ? AND chain_id = ?", address, chainID).
		Where("verification_status <> ?", string(domainobituary.StatusRejected)).
		Where("superseded_by IS NULL").
		Order("reported_at desc").
		Limit(1).
		Find(&rows).Error; err != nil {
		return domainobituary.Obituary{}, false, errs.Wrap(err, "query live obituary")
	}
	if len(rows) == 0 {
		return domainobituary.Obituary{}, false, nil
	}

	live, err := mapObituary(rows[0])
	if err != nil {
		return domainobituary.Obituary{}, false, err
	}
	return live, true, nil
}

func (r *ObituaryRepository) ScanObituaries(ctx context.Context, batchSize int, fn func([]domainobituary.Obituary) error) error {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}
	if batchSize <= 0 {
		batchSize = 500
	}

	var rows []model.Obituary
	result := db.Model(&model.Obituary{}).FindInBatches(&rows, batchSize, func(_ *gorm.DB, _ int) error {
		items, mapErr := mapObituaries(rows)
		if mapErr != nil {
			return mapErr
		}
		return fn(items)
	})
	if result.Error != nil {
		return errs.Wrap(result.Error, "scan obituaries")
	}
	return nil
}

func (r *ObituaryRepository) CountObituaries(ctx context.Context) (int64, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return 0, err
	}

	var count int64
	if err := db.Model(&model.Obituary{}).Count(&count).Error; err != nil {
		return 0, errs.Wrap(err, "count obituaries")
	}
	return count, nil
}

func (r *ObituaryRepository) CreateObituary(ctx context.Context, o domainobituary.Obituary) error {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}

	row, err := toObituaryRow(o)
	if err != nil {
		return err
	}

	result := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "obituary_id"}},
		DoNothing: true,
	}).Create(&row)
	if result.Error != nil {
		if isUniqueViolation(result.Error) {
			return errs.Wrapf(domainobituary.ErrDuplicateKey, "live obituary for %s", o.NaturalKey())
		}
		return errs.Wrap(result.Error, "insert obituary")
	}
	if result.RowsAffected == 0 {
		return errs.Wrapf(domainobituary.ErrDuplicateKey, "obituary id %s", o.ID)
	}

	if err := db.Model(&model.Obituary{}).
		Where("obituary_id = ?", o.ID).
		Update("revision", nextRevision()).Error; err != nil {
		return errs.Wrap(err, "stamp obituary revision")
	}
	return nil
}

func (r *ObituaryRepository) UpdateObituary(ctx context.Context, o domainobituary.Obituary) error {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}

	row, err := toObituaryRow(o)
	if err != nil {
		return err
	}

	result := db.Model(&model.Obituary{}).
		Where("obituary_id = ?", o.ID).
		Updates(map[string]any{
			"risk_level":             row.RiskLevel,
			"verification_status":    row.VerificationStatus,
			"verification_count":     row.VerificationCount,
			"alternatives_json":      row.AlternativesJSON,
			"proof_attachments_json": row.ProofAttachmentsJSON,
			"superseded_by":          row.SupersededBy,
			"updated_at":             row.UpdatedAt,
			"revision":               nextRevision(),
		})
	if result.Error != nil {
		return errs.Wrap(result.Error, "update obituary")
	}
	if result.RowsAffected == 0 {
		return errs.Wrapf(domainobituary.ErrNotFound, "obituary %s", o.ID)
	}
	return nil
}

func (r *ObituaryRepository) LatestRevision(ctx context.Context) (int64, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return 0, err
	}

	var latest int64
	if err := db.Model(&model.Obituary{}).
		Select("COALESCE(MAX(revision), 0)").
		Scan(&latest).Error; err != nil {
		return 0, errs.Wrap(err, "query latest revision")
	}
	return latest, nil
}

func (r *ObituaryRepository) ListChangedSince(ctx context.Context, revision int64, limit int) ([]ports.ObituaryChange, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 500
	}

	var rows []model.Obituary
	if err := db.
		Where("revision > ?", revision).
		Order("revision asc").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, errs.Wrap(err, "query changed obituaries")
	}

	changes := make([]ports.ObituaryChange, 0, len(rows))
	for _, row := range rows {
		item, err := mapObituary(row)
		if err != nil {
			return nil, err
		}
		changes = append(changes, ports.ObituaryChange{Revision: row.Revision, Obituary: item})
	}
	return changes, nil
}

func (r *ObituaryRepository) GetVerification(ctx context.Context, obituaryID string, verifier string) (domainobituary.Verification, bool, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return domainobituary.Verification{}, false, err
	}

	var rows []model.Verification
	if err := db.
		Where("obituary_id = ? AND verifier_address = ?", obituaryID, verifier).
		Limit(1).
		Find(&rows).Error; err != nil {
		return domainobituary.Verification{}, false, errs.Wrap(err, "query verification")
	}
	if len(rows) == 0 {
		return domainobituary.Verification{}, false, nil
	}

	v, err := mapVerification(rows[0])
	if err != nil {
		return domainobituary.Verification{}, false, err
	}
	return v, true, nil
}

func (r *ObituaryRepository) ListVerifications(ctx context.Context, obituaryID string) ([]domainobituary.Verification, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var rows []model.Verification
	if err := db.
		Where("obituary_id = ?", obituaryID).
		Order("verification_id asc").
		Find(&rows).Error; err != nil {
		return nil, errs.Wrap(err, "query verifications")
	}

	items := make([]domainobituary.Verification, 0, len(rows))
	for _, row := range rows {
		v, err := mapVerification(row)
		if err != nil {
			return nil, err
		}
		items = append(items, v)
	}
	return items, nil
}

func (r *ObituaryRepository) CountVerifications(ctx context.Context) (int64, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return 0, err
	}

	var count int64
	if err := db.Model(&model.Verification{}).Count(&count).Error; err != nil {
		return 0, errs.Wrap(err, "count verifications")
	}
	return count, nil
}

func (r *ObituaryRepository) CreateVerification(ctx context.Context, v domainobituary.Verification) error {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}

	row := toVerificationRow(v)
	result := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "obituary_id"}, {Name: "verifier_address"}},
		DoNothing: true,
	}).Create(&row)
	if result.Error != nil {
		return errs.Wrap(result.Error, "insert verification")
	}
	if result.RowsAffected == 0 {
		return errs.Wrapf(domainobituary.ErrDuplicateVote, "verifier %s on %s", v.VerifierAddress, v.ObituaryID)
	}
	return nil
}

func (r *ObituaryRepository) ReplaceVerification(ctx context.Context, v domainobituary.Verification) error {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}

	row := toVerificationRow(v)
	result := db.Model(&model.Verification{}).
		Where("obituary_id = ? AND verifier_address = ?", v.ObituaryID, v.VerifierAddress).
		Updates(map[string]any{
			"action":     row.Action,
			"comment":    row.Comment,
			"risk_level": row.RiskLevel,
			"created_at": row.CreatedAt,
		})
	if result.Error != nil {
		return errs.Wrap(result.Error, "update verification")
	}
	if result.RowsAffected == 0 {
		return errs.Wrapf(domainobituary.ErrNotFound, "verification by %s on %s", v.VerifierAddress, v.ObituaryID)
	}
	return nil
}

// nextRevision is evaluated inside the writing statement. SQLite holds the
// write lock from that statement until commit, so revisions follow commit
// order across processes.
func nextRevision() clause.Expr {
	return gorm.Expr("(SELECT COALESCE(MAX(revision), 0) + 1 FROM obituaries)")
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func mapObituaries(rows []model.Obituary) ([]domainobituary.Obituary, error) {
	items := make([]domainobituary.Obituary, 0, len(rows))
	for _, row := range rows {
		item, err := mapObituary(row)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}
