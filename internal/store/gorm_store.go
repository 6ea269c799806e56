package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/MrChampion2020/etokserver/internal/domain"
)

type gormPresenceStore struct {
	db *gorm.DB
}

// NewGormPresenceStore creates a PresenceStore on the user_presence table.
func NewGormPresenceStore(db *gorm.DB) PresenceStore {
	return &gormPresenceStore{db: db}
}

func (s *gormPresenceStore) SetOnline(ctx context.Context, userID string, at time.Time) error {
	row := &domain.PresenceModel{UserID: userID, Online: true, UpdatedAt: at}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"online", "updated_at"}),
	}).Create(row).Error
}

func (s *gormPresenceStore) SetOffline(ctx context.Context, userID string, at time.Time) error {
	seen := at.UTC()
	// Select forces the zero-valued online column into the insert.
	row := &domain.PresenceModel{UserID: userID, Online: false, LastSeen: &seen, UpdatedAt: at}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"online", "last_seen", "updated_at"}),
	}).Select("user_id", "online", "last_seen", "updated_at").Create(row).Error
}

func (s *gormPresenceStore) Get(ctx context.Context, userID string) (*domain.PresenceStatus, error) {
	var row domain.PresenceModel
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &domain.PresenceStatus{UserID: userID}, nil
	}
	if err != nil {
		return nil, err
	}
	return row.ToDomain(), nil
}

func (s *gormPresenceStore) Join(ctx context.Context, userID, nodeID string) error {
	row := &domain.PresenceNodeModel{UserID: userID, NodeID: nodeID, UpdatedAt: time.Now().UTC()}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "node_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"updated_at"}),
	}).Create(row).Error
}

func (s *gormPresenceStore) Leave(ctx context.Context, userID, nodeID string) (int, error) {
	var remaining int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ? AND node_id = ?", userID, nodeID).
			Delete(&domain.PresenceNodeModel{}).Error; err != nil {
			return err
		}
		return tx.Model(&domain.PresenceNodeModel{}).Where("user_id = ?", userID).Count(&remaining).Error
	})
	if err != nil {
		return 0, err
	}
	return int(remaining), nil
}

func (s *gormPresenceStore) Nodes(ctx context.Context, userID string) ([]string, error) {
	var nodes []string
	err := s.db.WithContext(ctx).Model(&domain.PresenceNodeModel{}).
		Where("user_id = ?", userID).
		Order("node_id").
		Pluck("node_id", &nodes).Error
	return nodes, err
}

func (s *gormPresenceStore) ClearNode(ctx context.Context, nodeID string) error {
	return s.db.WithContext(ctx).Where("node_id = ?", nodeID).Delete(&domain.PresenceNodeModel{}).Error
}

// Close is a no-op; the *gorm.DB is shared and closed by its owner.
func (s *gormPresenceStore) Close() error {
	return nil
}
