package repository

import (
	"context"

	"github.com/drewww/unhangout/internal/domain"
)

// EventRepository 定义了活动数据的存储和检索操作。
type EventRepository interface {
	// FindByID 根据活动 ID 查找活动（不含 sessions）。
	// 如果活动不存在，返回 ErrEventNotFound。
	FindByID(ctx context.Context, id uint) (*domain.Event, error)

	// Save 保存活动信息。
	// 如果活动已存在 (基于 ID)，则更新；否则创建新活动。
	// shortName 唯一约束冲突时返回 ErrShortNameTaken。
	Save(ctx context.Context, event *domain.Event) error

	// FindAll 加载全部活动，用于启动时填充 Registry。
	FindAll(ctx context.Context) ([]*domain.Event, error)
}

// SessionRepository 定义了分组会话数据的存储和检索操作。
type SessionRepository interface {
	// FindByID 根据会话 ID 查找会话。
	// 如果会话不存在，返回 ErrSessionNotFound。
	FindByID(ctx context.Context, id uint) (*domain.Session, error)

	// Save 保存会话信息。
	Save(ctx context.Context, session *domain.Session) error

	// FindByEventID 查询某个活动下的全部会话，按编号排序。
	FindByEventID(ctx context.Context, eventID uint) ([]*domain.Session, error)

	// FindAll 加载全部会话，用于启动时填充 Registry。
	FindAll(ctx context.Context) ([]*domain.Session, error)
}
