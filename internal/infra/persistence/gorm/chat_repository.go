package gormpersistence

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/drewww/unhangout/internal/domain"
)

// GormChatRepository 是 ChatRepository 接口的 GORM 实现
type GormChatRepository struct {
	db *gorm.DB
}

// NewGormChatRepository 创建 GormChatRepository 实例
func NewGormChatRepository(db *gorm.DB) *GormChatRepository {
	if db == nil {
		panic("database connection cannot be nil for GormChatRepository")
	}
	return &GormChatRepository{db: db}
}

// Save 实现保存一条聊天消息
func (r *GormChatRepository) Save(ctx context.Context, msg *domain.ChatMessage) error {
	if err := r.db.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("gorm: save chat message (event: %d): %w", msg.EventID, err)
	}
	return nil
}

// FindRecentByEventID 实现查询某个活动最近的聊天消息
func (r *GormChatRepository) FindRecentByEventID(ctx context.Context, eventID uint, limit int) ([]*domain.ChatMessage, error) {
	var msgs []*domain.ChatMessage
	err := r.db.WithContext(ctx).
		Where("event_id = ?", eventID).
		Order("time DESC").
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: find recent chat for event %d: %w", eventID, err)
	}
	return msgs, nil
}
