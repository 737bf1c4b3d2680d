package repository

import (
	"context"

	"github.com/drewww/unhangout/internal/domain"
)

// ChatRepository 定义了聊天消息的持久化操作。
// 聊天写入走异步任务，广播不等落库。
type ChatRepository interface {
	// Save 保存一条聊天消息。
	Save(ctx context.Context, msg *domain.ChatMessage) error

	// FindRecentByEventID 查询某个活动最近的 limit 条消息，时间倒序。
	FindRecentByEventID(ctx context.Context, eventID uint, limit int) ([]*domain.ChatMessage, error)
}
