package tasks

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"github.com/drewww/unhangout/internal/domain"
)

// 定义任务类型常量
const (
	TypeChatPersist  = "chat:persist"  // 聊天消息持久化任务
	TypeHangoutSweep = "hangout:sweep" // 周期性回收失联 hangout 的任务
)

// ChatPersistPayload 定义聊天消息持久化任务的数据结构。
// 字段显式列出：ChatMessage 对外的 json 标签隐藏了 UserID，
// 直接嵌入会在序列化时丢掉归属信息。
type ChatPersistPayload struct {
	EventID       uint      `json:"eventId"`
	UserID        *string   `json:"userId,omitempty"`
	Text          string    `json:"text"`
	Time          time.Time `json:"time"`
	PostedAsAdmin bool      `json:"postedAsAdmin"`
}

// Message 重建要落库的聊天消息。
func (p ChatPersistPayload) Message() *domain.ChatMessage {
	return &domain.ChatMessage{
		EventID:       p.EventID,
		UserID:        p.UserID,
		Text:          p.Text,
		Time:          p.Time,
		PostedAsAdmin: p.PostedAsAdmin,
	}
}

// NewChatPersistTask 创建一个聊天消息持久化任务
func NewChatPersistTask(msg *domain.ChatMessage) (*asynq.Task, error) {
	payload := ChatPersistPayload{
		EventID:       msg.EventID,
		UserID:        msg.UserID,
		Text:          msg.Text,
		Time:          msg.Time,
		PostedAsAdmin: msg.PostedAsAdmin,
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeChatPersist, payloadBytes), nil
}

// NewHangoutSweepTask 创建一个 hangout 回收任务（无 payload，由 scheduler 周期触发）
func NewHangoutSweepTask() (*asynq.Task, error) {
	return asynq.NewTask(TypeHangoutSweep, nil), nil
}
