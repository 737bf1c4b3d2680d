package domain

import (
	"fmt"
	"time"
)

// Admin 标识一个 Event 管理员。为了支持尚未登录过的管理员预注册，
// 允许用 id 或 email 两种方式指向用户（原则上二选一）。
type Admin struct {
	ID    string `json:"id,omitempty"`
	Email string `json:"email,omitempty"`
}

// Event 是顶层对象：一个包含若干 Session 的线上活动。
// Sessions 与 connected 是瞬态关联，分别由 Registry 装配和 socket 层维护。
type Event struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	Title          string     `gorm:"size:191" json:"title"`
	Organizer      string     `gorm:"size:191" json:"organizer"`
	Description    string     `json:"description"`
	WelcomeMessage string     `json:"welcomeMessage,omitempty"`
	ShortName      *string    `gorm:"uniqueIndex;size:191" json:"shortName,omitempty"`
	StartedAt      *time.Time `json:"start,omitempty"`
	EndedAt        *time.Time `json:"end,omitempty"`
	YouTubeEmbed   string     `gorm:"size:64" json:"youtubeEmbed,omitempty"`
	PreviousEmbeds []string   `gorm:"serializer:json" json:"previousVideoEmbeds"`
	SessionsOpen   bool       `json:"sessionsOpen"`
	Admins         []Admin    `gorm:"serializer:json" json:"admins"`
	CreatedAt      time.Time  `json:"-"`
	UpdatedAt      time.Time  `json:"-"`

	// Sessions 是该 Event 拥有的 Session 列表（有序，独占所有权）。
	Sessions []*Session `gorm:"-" json:"-"`

	// connected 是当前通过 socket 连到本 Event 房间的用户集合（瞬态）。
	connected map[string]*User `gorm:"-"`
}

// RoomID 返回该 Event 的广播房间 id。
func (e *Event) RoomID() string { return fmt.Sprintf("event/%d", e.ID) }

// IsLive 判断 Event 是否处于直播状态：已开始且尚未结束。
// EndedAt 为空表示"永不结束"，EndedAt 的存在本身即"已结束"。
func (e *Event) IsLive() bool {
	return e.StartedAt != nil && !e.StartedAt.After(time.Now()) && e.EndedAt == nil
}

// Start 将 Event 置为直播状态。重复启动返回 ErrEventAlreadyLive。
func (e *Event) Start() error {
	if e.IsLive() {
		return ErrEventAlreadyLive
	}
	now := time.Now()
	e.StartedAt = &now
	e.EndedAt = nil
	return nil
}

// Stop 结束直播。对非直播状态的 Event 调用返回 ErrEventNotLive。
func (e *Event) Stop() error {
	if !e.IsLive() {
		return ErrEventNotLive
	}
	now := time.Now()
	e.EndedAt = &now
	return nil
}

// AddSession 把一个 Session 追加到列表尾部并赋予 Event 内编号。
// 返回要广播给房间内所有用户的 create-session 消息。
func (e *Event) AddSession(s *Session) Effect {
	s.EventID = e.ID
	s.Number = e.nextSessionNumber()
	e.Sessions = append(e.Sessions, s)
	return Broadcast(e.RoomID(), "create-session", s.BroadcastArgs())
}

func (e *Event) nextSessionNumber() int {
	max := 0
	for _, s := range e.Sessions {
		if s.Number > max {
			max = s.Number
		}
	}
	return max + 1
}

// SessionByID 在本 Event 的 Session 列表中查找。
func (e *Event) SessionByID(id uint) *Session {
	for _, s := range e.Sessions {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// SetEmbed 更新嵌入视频。值未变化时是 no-op，changed 返回 false 且无 Effect。
// 旧的嵌入 id 会被记录到历史列表头部（去重）。
func (e *Event) SetEmbed(ytID string) (Effect, bool) {
	if ytID == e.YouTubeEmbed {
		return Effect{}, false
	}
	if ytID != "" && !containsString(e.PreviousEmbeds, ytID) {
		e.PreviousEmbeds = append([]string{ytID}, e.PreviousEmbeds...)
	}
	e.YouTubeEmbed = ytID
	return Broadcast(e.RoomID(), "embed", map[string]interface{}{"ytId": ytID}), true
}

// OpenSessions / CloseSessions 切换参加者能否加入 Session 的开关。
func (e *Event) OpenSessions() Effect {
	e.SessionsOpen = true
	return Broadcast(e.RoomID(), "open-sessions", map[string]interface{}{"id": e.ID})
}

func (e *Event) CloseSessions() Effect {
	e.SessionsOpen = false
	return Broadcast(e.RoomID(), "close-sessions", map[string]interface{}{"id": e.ID})
}

// UserConnected 把用户加入已连接集合并生成 join 广播。
// 同一用户重复加入（例如重连）不会产生重复集合项。
func (e *Event) UserConnected(u *User) Effect {
	if e.connected == nil {
		e.connected = make(map[string]*User)
	}
	e.connected[u.ID] = u
	return Broadcast(e.RoomID(), "join", map[string]interface{}{
		"id":   e.ID,
		"user": u.AsParticipant(),
	})
}

// UserDisconnected 把用户从已连接集合移除并生成 leave 广播。
// 用户不在集合中时（重复断开）是幂等的 no-op。
func (e *Event) UserDisconnected(u *User) (Effect, bool) {
	if _, ok := e.connected[u.ID]; !ok {
		return Effect{}, false
	}
	delete(e.connected, u.ID)
	return Broadcast(e.RoomID(), "leave", map[string]interface{}{
		"id":   e.ID,
		"user": u.AsParticipant(),
	}), true
}

// NumConnected 返回当前连到本 Event 的用户数。
func (e *Event) NumConnected() int { return len(e.connected) }

// ConnectedUsers 返回已连接用户的快照列表。
func (e *Event) ConnectedUsers() []*User {
	users := make([]*User, 0, len(e.connected))
	for _, u := range e.connected {
		users = append(users, u)
	}
	return users
}

// IsConnected 返回给定用户当前是否连在本 Event 房间。
func (e *Event) IsConnected(userID string) bool {
	_, ok := e.connected[userID]
	return ok
}

// adminMatches 比较一条 Admin 记录与一个用户是否指向同一人。
func adminMatches(admin Admin, userID string, emails []string) bool {
	if admin.ID != "" && admin.ID == userID {
		return true
	}
	if admin.Email != "" {
		for _, e := range emails {
			if e == admin.Email {
				return true
			}
		}
	}
	return false
}

// UserIsAdmin 返回用户是否在本 Event 的管理员列表中。
func (e *Event) UserIsAdmin(u *User) bool {
	for _, a := range e.Admins {
		if adminMatches(a, u.ID, u.Emails) {
			return true
		}
	}
	return false
}

// AddAdmin 把一条管理员记录加入列表（已存在时是 no-op）。
// 优先按 id 记录；对尚未注册的用户按 email 记录。
func (e *Event) AddAdmin(admin Admin) bool {
	for _, a := range e.Admins {
		if a == admin || (admin.ID != "" && a.ID == admin.ID) ||
			(admin.ID == "" && admin.Email != "" && a.Email == admin.Email) {
			return false
		}
	}
	if admin.ID == "" && admin.Email == "" {
		return false
	}
	e.Admins = append(e.Admins, admin)
	return true
}

// RemoveAdmin 从管理员列表中删除匹配的记录。
func (e *Event) RemoveAdmin(admin Admin) bool {
	kept := e.Admins[:0]
	removed := false
	for _, a := range e.Admins {
		if (admin.ID != "" && a.ID == admin.ID) || (admin.Email != "" && a.Email == admin.Email) {
			removed = true
			continue
		}
		kept = append(kept, a)
	}
	e.Admins = kept
	return removed
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
