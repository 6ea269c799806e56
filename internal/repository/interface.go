package repository

import (
	"context"
	"errors"

	"github.com/MrChampion2020/etokserver/internal/domain"
)

var (
	ErrCallNotFound   = errors.New("call not found")
	ErrStatusConflict = errors.New("call status changed concurrently")
)

// MessageRepository persists direct messages.
type MessageRepository interface {
	Save(ctx context.Context, msg *domain.ChatMessage) error

	// Query pages through one conversation. The cursor is the ID of the
	// last message of the previous page and is exclusive.
	Query(
		ctx context.Context,
		conversationKey string,
		q domain.HistoryQuery,
	) (messages []domain.ChatMessage, nextCursor string, hasMore bool, err error)

	// DeleteByIDs removes the listed messages that participantID sent or
	// received and returns how many rows went away. Unknown IDs are skipped.
	DeleteByIDs(ctx context.Context, participantID string, ids []string) (int64, error)

	Close() error
}

// CallRepository persists call sessions.
type CallRepository interface {
	Create(ctx context.Context, call *domain.Call) error
	GetByID(ctx context.Context, id string) (*domain.Call, error)
	FindActiveByUser(ctx context.Context, userID string) ([]*domain.Call, error)

	// FindActiveBetween returns the live call of the unordered pair, or
	// ErrCallNotFound.
	FindActiveBetween(ctx context.Context, a, b string) (*domain.Call, error)

	// CompareAndUpdate writes updated only while the stored status still
	// equals from. It returns ErrCallNotFound for an unknown ID and
	// ErrStatusConflict when the status moved on.
	CompareAndUpdate(ctx context.Context, from domain.CallStatus, updated *domain.Call) error
}

// CallRecordRepository persists finished call history.
type CallRecordRepository interface {
	// Create stores rec once; a second write for the same call is ignored.
	Create(ctx context.Context, rec *domain.CallRecord) error
	ListByUser(ctx context.Context, userID string, page, pageSize int) ([]domain.CallRecord, int, error)
}
