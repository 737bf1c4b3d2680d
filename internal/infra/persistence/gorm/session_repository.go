package gormpersistence

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/drewww/unhangout/internal/domain"
	"github.com/drewww/unhangout/internal/repository"
)

// GormSessionRepository 是 SessionRepository 接口的 GORM 实现
type GormSessionRepository struct {
	db *gorm.DB
}

// NewGormSessionRepository 创建 GormSessionRepository 实例
func NewGormSessionRepository(db *gorm.DB) *GormSessionRepository {
	if db == nil {
		panic("database connection cannot be nil for GormSessionRepository")
	}
	return &GormSessionRepository{db: db}
}

// FindByID 实现根据会话 ID 查找会话
func (r *GormSessionRepository) FindByID(ctx context.Context, id uint) (*domain.Session, error) {
	var session domain.Session
	err := r.db.WithContext(ctx).First(&session, id).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrSessionNotFound
		}
		return nil, fmt.Errorf("gorm: find session by id %d: %w", id, err)
	}
	return &session, nil
}

// Save 实现保存会话信息（创建或更新）
func (r *GormSessionRepository) Save(ctx context.Context, session *domain.Session) error {
	result := r.db.WithContext(ctx).Save(session)
	if err := result.Error; err != nil {
		if isDuplicateEntryError(err) {
			return repository.ErrDuplicateEntry
		}
		return fmt.Errorf("gorm: save session (id: %d): %w", session.ID, err)
	}
	return nil
}

// FindByEventID 实现查询某个活动下的全部会话
func (r *GormSessionRepository) FindByEventID(ctx context.Context, eventID uint) ([]*domain.Session, error) {
	var sessions []*domain.Session
	err := r.db.WithContext(ctx).
		Where("event_id = ?", eventID).
		Order("number ASC").
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: find sessions by event %d: %w", eventID, err)
	}
	return sessions, nil
}

// FindAll 实现加载全部会话
func (r *GormSessionRepository) FindAll(ctx context.Context) ([]*domain.Session, error) {
	var sessions []*domain.Session
	if err := r.db.WithContext(ctx).Order("event_id ASC, number ASC").Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("gorm: find all sessions: %w", err)
	}
	return sessions, nil
}
