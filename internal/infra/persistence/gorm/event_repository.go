package gormpersistence

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/drewww/unhangout/internal/domain"
	"github.com/drewww/unhangout/internal/repository"
)

// GormEventRepository 是 EventRepository 接口的 GORM 实现
type GormEventRepository struct {
	db *gorm.DB
}

// NewGormEventRepository 创建 GormEventRepository 实例
func NewGormEventRepository(db *gorm.DB) *GormEventRepository {
	if db == nil {
		panic("database connection cannot be nil for GormEventRepository")
	}
	return &GormEventRepository{db: db}
}

// FindByID 实现根据活动 ID 查找活动
func (r *GormEventRepository) FindByID(ctx context.Context, id uint) (*domain.Event, error) {
	var event domain.Event
	err := r.db.WithContext(ctx).First(&event, id).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrEventNotFound
		}
		return nil, fmt.Errorf("gorm: find event by id %d: %w", id, err)
	}
	return &event, nil
}

// Save 实现保存活动信息（创建或更新）
func (r *GormEventRepository) Save(ctx context.Context, event *domain.Event) error {
	result := r.db.WithContext(ctx).Save(event)
	if err := result.Error; err != nil {
		if isDuplicateEntryError(err) {
			// 唯一索引只有 short_name 一个
			return repository.ErrShortNameTaken
		}
		return fmt.Errorf("gorm: save event (id: %d): %w", event.ID, err)
	}
	return nil
}

// FindAll 实现加载全部活动
func (r *GormEventRepository) FindAll(ctx context.Context) ([]*domain.Event, error) {
	var events []*domain.Event
	if err := r.db.WithContext(ctx).Find(&events).Error; err != nil {
		return nil, fmt.Errorf("gorm: find all events: %w", err)
	}
	return events, nil
}
