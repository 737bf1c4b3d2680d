package domain

import (
	"html"
	"time"
)

// ChatMessage 是事件房间里的一条聊天消息。
// Text 在构造时即做转义，任何后续序列化都不会重新引入可执行标记。
// UserID 为空表示系统消息。
type ChatMessage struct {
	ID            uint      `gorm:"primaryKey" json:"-"`
	EventID       uint      `gorm:"index" json:"eventId"`
	UserID        *string   `gorm:"size:64;index" json:"-"`
	Text          string    `json:"text"`
	Time          time.Time `json:"time"`
	PostedAsAdmin bool      `json:"postedAsAdmin"`
}

// NewChatMessage 构造一条用户聊天消息，转义文本中的 HTML 标记。
func NewChatMessage(event *Event, user *User, text string) *ChatMessage {
	msg := &ChatMessage{
		EventID: event.ID,
		Text:    html.EscapeString(text),
		Time:    time.Now(),
	}
	if user != nil {
		id := user.ID
		msg.UserID = &id
		msg.PostedAsAdmin = user.IsAdminOf(event)
	}
	return msg
}

// BroadcastArgs 返回 chat 广播消息的参数。
func (m *ChatMessage) BroadcastArgs(user *User) map[string]interface{} {
	args := map[string]interface{}{
		"text":          m.Text,
		"time":          m.Time.UnixMilli(),
		"postedAsAdmin": m.PostedAsAdmin,
	}
	if user != nil {
		args["user"] = user.AsParticipant()
	}
	return args
}
