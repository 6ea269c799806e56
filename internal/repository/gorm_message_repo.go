package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/MrChampion2020/etokserver/internal/domain"
	"github.com/MrChampion2020/etokserver/pkg/log"
)

// GormMessageRepository implements MessageRepository using GORM.
type GormMessageRepository struct {
	db *gorm.DB
}

// NewGormMessageRepository creates a new GORM-based message repository.
func NewGormMessageRepository(db *gorm.DB) *GormMessageRepository {
	return &GormMessageRepository{db: db}
}

// Save inserts a message.
func (r *GormMessageRepository) Save(ctx context.Context, msg *domain.ChatMessage) error {
	l := log.Ctx(ctx)

	if err := r.db.WithContext(ctx).Create(domain.MessageToModel(msg)).Error; err != nil {
		l.Error().Err(err).Str(log.FieldMessageID, msg.ID).Msg("failed to save message")
		return err
	}
	return nil
}

// Query reads one page of a conversation. Message IDs are ULIDs, so
// ordering by ID is ordering by creation time.
func (r *GormMessageRepository) Query(
	ctx context.Context,
	conversationKey string,
	q domain.HistoryQuery,
) ([]domain.ChatMessage, string, bool, error) {
	l := log.Ctx(ctx)

	// Query limit + 1 to determine if there are more results
	query := r.db.WithContext(ctx).
		Where("conversation_key = ?", conversationKey).
		Limit(q.Limit + 1)

	if q.Direction == domain.DirectionBackward {
		if q.Cursor != "" {
			query = query.Where("id < ?", q.Cursor)
		}
		query = query.Order("id DESC")
	} else {
		if q.Cursor != "" {
			query = query.Where("id > ?", q.Cursor)
		}
		query = query.Order("id ASC")
	}

	var models []domain.MessageModel
	if err := query.Find(&models).Error; err != nil {
		l.Error().Err(err).Str("conversation", conversationKey).Msg("failed to query messages")
		return nil, "", false, err
	}

	hasMore := len(models) > q.Limit
	if hasMore {
		models = models[:q.Limit]
	}

	messages := make([]domain.ChatMessage, len(models))
	for i := range models {
		messages[i] = models[i].ToDomain()
	}

	var nextCursor string
	if hasMore && len(messages) > 0 {
		nextCursor = messages[len(messages)-1].ID
	}
	return messages, nextCursor, hasMore, nil
}

// DeleteByIDs deletes the participant's messages among ids.
func (r *GormMessageRepository) DeleteByIDs(ctx context.Context, participantID string, ids []string) (int64, error) {
	l := log.Ctx(ctx)

	result := r.db.WithContext(ctx).
		Where("id IN ?", ids).
		Where("(sender_id = ? OR receiver_id = ?)", participantID, participantID).
		Delete(&domain.MessageModel{})
	if result.Error != nil {
		l.Error().Err(result.Error).Int("count", len(ids)).Msg("failed to delete messages")
		return 0, result.Error
	}
	l.Debug().Int64("deleted", result.RowsAffected).Int("requested", len(ids)).Msg("messages deleted")
	return result.RowsAffected, nil
}

// Close is a no-op; the *gorm.DB is shared and closed by its owner.
func (r *GormMessageRepository) Close() error {
	return nil
}
