package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/drewww/unhangout/internal/repository"
	"github.com/drewww/unhangout/internal/service"
	"github.com/drewww/unhangout/internal/tasks"
)

// ChatPersistHandler 处理聊天消息持久化任务
type ChatPersistHandler struct {
	chatRepo repository.ChatRepository
}

// NewChatPersistHandler 创建 Handler 实例
func NewChatPersistHandler(chatRepo repository.ChatRepository) *ChatPersistHandler {
	if chatRepo == nil {
		panic("ChatRepository cannot be nil for ChatPersistHandler")
	}
	return &ChatPersistHandler{chatRepo: chatRepo}
}

// ProcessTask 实现 asynq.Handler 接口
func (h *ChatPersistHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	logCtx := logrus.WithField("task_type", t.Type())

	var payload tasks.ChatPersistPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		logCtx.WithError(err).Error("Failed to unmarshal task payload")
		return fmt.Errorf("failed to unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}

	if err := h.chatRepo.Save(ctx, payload.Message()); err != nil {
		logCtx.WithError(err).WithField("event_id", payload.EventID).Error("Failed to save chat message")
		return fmt.Errorf("failed to save chat message for event %d: %w", payload.EventID, err)
	}

	logCtx.WithField("event_id", payload.EventID).Debug("Chat persistence task processed successfully")
	return nil
}

// HangoutSweepHandler 处理周期性的失联 hangout 回收任务
type HangoutSweepHandler struct {
	hangoutService *service.HangoutService
}

// NewHangoutSweepHandler 创建 Handler 实例
func NewHangoutSweepHandler(hangoutService *service.HangoutService) *HangoutSweepHandler {
	if hangoutService == nil {
		panic("HangoutService cannot be nil for HangoutSweepHandler")
	}
	return &HangoutSweepHandler{hangoutService: hangoutService}
}

// ProcessTask 实现 asynq.Handler 接口
func (h *HangoutSweepHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	swept := h.hangoutService.SweepStale(ctx)
	if swept > 0 {
		logrus.WithField("swept", swept).Info("Hangout sweep task reclaimed stale urls")
	}
	return nil
}
