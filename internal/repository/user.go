package repository

import (
	"context"

	"github.com/drewww/unhangout/internal/domain"
)

// UserRepository 定义了用户档案的存储和检索操作。
// 内存中的 Registry 是运行时权威，持久层只负责重启后恢复。
type UserRepository interface {
	// FindByID 根据用户 ID 查找用户。
	// 如果用户不存在，返回 ErrUserNotFound。
	FindByID(ctx context.Context, id string) (*domain.User, error)

	// Save 保存用户信息。
	// 如果用户已存在 (基于 ID)，则更新；否则创建新用户。
	Save(ctx context.Context, user *domain.User) error

	// FindAll 加载全部用户，用于启动时填充 Registry。
	FindAll(ctx context.Context) ([]*domain.User, error)
}
