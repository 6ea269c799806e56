package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/MrChampion2020/etokserver/internal/domain"
	"github.com/MrChampion2020/etokserver/pkg/log"
)

// GormCallRecordRepository implements CallRecordRepository using GORM.
type GormCallRecordRepository struct {
	db *gorm.DB
}

// NewGormCallRecordRepository creates a new GORM-based call record repository.
func NewGormCallRecordRepository(db *gorm.DB) *GormCallRecordRepository {
	return &GormCallRecordRepository{db: db}
}

// Create inserts rec unless a record for the call already exists.
func (r *GormCallRecordRepository) Create(ctx context.Context, rec *domain.CallRecord) error {
	l := log.Ctx(ctx)

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(domain.CallRecordToModel(rec))
	if result.Error != nil {
		l.Error().Err(result.Error).Str(log.FieldCallID, rec.CallID).Msg("failed to create call record")
		return result.Error
	}
	return nil
}

// ListByUser retrieves the user's call history, newest first.
func (r *GormCallRecordRepository) ListByUser(ctx context.Context, userID string, page, pageSize int) ([]domain.CallRecord, int, error) {
	l := log.Ctx(ctx)

	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	offset := (page - 1) * pageSize

	query := r.db.WithContext(ctx).Model(&domain.CallRecordModel{}).
		Where("caller_id = ? OR receiver_id = ?", userID, userID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		l.Error().Err(err).Str(log.FieldUserID, userID).Msg("failed to count call records")
		return nil, 0, err
	}

	var models []domain.CallRecordModel
	if err := query.Order("start_time DESC").Offset(offset).Limit(pageSize).Find(&models).Error; err != nil {
		l.Error().Err(err).Str(log.FieldUserID, userID).Msg("failed to list call records")
		return nil, 0, err
	}

	records := make([]domain.CallRecord, len(models))
	for i := range models {
		records[i] = models[i].ToDomain()
	}
	return records, int(total), nil
}
