package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/MrChampion2020/etokserver/internal/domain"
	"github.com/MrChampion2020/etokserver/pkg/log"
)

// GormCallRepository implements CallRepository using GORM.
type GormCallRepository struct {
	db *gorm.DB
}

// NewGormCallRepository creates a new GORM-based call repository.
func NewGormCallRepository(db *gorm.DB) *GormCallRepository {
	return &GormCallRepository{db: db}
}

func activeStatuses() []string {
	out := make([]string, len(domain.ActiveCallStatuses))
	for i, s := range domain.ActiveCallStatuses {
		out[i] = string(s)
	}
	return out
}

// Create inserts a new call.
func (r *GormCallRepository) Create(ctx context.Context, call *domain.Call) error {
	l := log.Ctx(ctx)

	if err := r.db.WithContext(ctx).Create(domain.CallToModel(call)).Error; err != nil {
		l.Error().Err(err).Str(log.FieldCallID, call.ID).Msg("failed to create call in db")
		return err
	}
	l.Debug().Str(log.FieldCallID, call.ID).Msg("call created in db")
	return nil
}

// GetByID retrieves a call by ID.
func (r *GormCallRepository) GetByID(ctx context.Context, id string) (*domain.Call, error) {
	l := log.Ctx(ctx)

	var model domain.CallModel
	result := r.db.WithContext(ctx).First(&model, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrCallNotFound
		}
		l.Error().Err(result.Error).Str(log.FieldCallID, id).Msg("failed to get call by id")
		return nil, result.Error
	}
	return model.ToDomain(), nil
}

// FindActiveByUser lists the user's calls that have not finished.
func (r *GormCallRepository) FindActiveByUser(ctx context.Context, userID string) ([]*domain.Call, error) {
	l := log.Ctx(ctx)

	var models []domain.CallModel
	result := r.db.WithContext(ctx).
		Where("status IN ?", activeStatuses()).
		Where("(caller_id = ? OR receiver_id = ?)", userID, userID).
		Order("start_time ASC").
		Find(&models)
	if result.Error != nil {
		l.Error().Err(result.Error).Str(log.FieldUserID, userID).Msg("failed to find active calls")
		return nil, result.Error
	}

	calls := make([]*domain.Call, len(models))
	for i := range models {
		calls[i] = models[i].ToDomain()
	}
	return calls, nil
}

// FindActiveBetween returns the live call between a and b in either direction.
func (r *GormCallRepository) FindActiveBetween(ctx context.Context, a, b string) (*domain.Call, error) {
	var model domain.CallModel
	result := r.db.WithContext(ctx).
		Where("pair_key = ? AND status IN ?", domain.ConversationKey(a, b), activeStatuses()).
		Order("start_time DESC").
		First(&model)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrCallNotFound
		}
		return nil, result.Error
	}
	return model.ToDomain(), nil
}

// CompareAndUpdate is a single conditional UPDATE keyed on id and the
// expected status. A miss is resolved into not-found or conflict.
func (r *GormCallRepository) CompareAndUpdate(ctx context.Context, from domain.CallStatus, updated *domain.Call) error {
	l := log.Ctx(ctx)

	result := r.db.WithContext(ctx).Model(&domain.CallModel{}).
		Where("id = ? AND status = ?", updated.ID, string(from)).
		Updates(map[string]interface{}{
			"status":      string(updated.Status),
			"accepted_at": updated.AcceptedAt,
			"end_time":    updated.EndTime,
			"end_reason":  updated.EndReason,
		})
	if result.Error != nil {
		l.Error().Err(result.Error).Str(log.FieldCallID, updated.ID).Msg("failed to update call in db")
		return result.Error
	}
	if result.RowsAffected > 0 {
		l.Debug().Str(log.FieldCallID, updated.ID).Str("status", string(updated.Status)).Msg("call updated in db")
		return nil
	}

	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.CallModel{}).Where("id = ?", updated.ID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrCallNotFound
	}
	return ErrStatusConflict
}
