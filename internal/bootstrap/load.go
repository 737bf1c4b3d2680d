package bootstrap

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/drewww/unhangout/internal/domain"
	"github.com/drewww/unhangout/internal/repository"
)

// loadRegistry 在启动时把持久化状态装进内存状态容器。
// 装载顺序：用户、活动、会话；会话按 event_id 挂回各自的活动。
// 孤儿会话（活动已不存在）跳过并告警，不阻断启动。
func loadRegistry(ctx context.Context, reg *domain.Registry,
	userRepo repository.UserRepository, eventRepo repository.EventRepository,
	sessionRepo repository.SessionRepository) error {

	users, err := userRepo.FindAll(ctx)
	if err != nil {
		return fmt.Errorf("load users: %w", err)
	}
	events, err := eventRepo.FindAll(ctx)
	if err != nil {
		return fmt.Errorf("load events: %w", err)
	}
	sessions, err := sessionRepo.FindAll(ctx)
	if err != nil {
		return fmt.Errorf("load sessions: %w", err)
	}

	reg.Lock()
	defer reg.Unlock()

	for _, u := range users {
		reg.PutUser(u)
	}
	for _, e := range events {
		if err := reg.AddEvent(e); err != nil {
			// 唯一索引保证了落库数据不冲突，冲突说明数据被手工改坏了
			return fmt.Errorf("load event %d: %w", e.ID, err)
		}
	}
	orphans := 0
	for _, s := range sessions {
		event := reg.EventByID(s.EventID)
		if event == nil {
			orphans++
			logrus.WithFields(logrus.Fields{"session_id": s.ID, "event_id": s.EventID}).
				Warn("Skipping orphan session during registry load")
			continue
		}
		reg.RestoreSession(event, s)
	}

	logrus.WithFields(logrus.Fields{
		"users":    len(users),
		"events":   len(events),
		"sessions": len(sessions) - orphans,
	}).Info("Registry loaded from database")
	return nil
}
