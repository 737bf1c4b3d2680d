package domain

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// MaxAttendees 是单个 Session 的硬性人数上限（外部视频房间的物理上限）。
const MaxAttendees = 10

// HangoutPending 记录"谁正在为本 Session 创建 hangout"。
// Time 用于创建超时后转移所有权。
type HangoutPending struct {
	UserID string    `json:"userId"`
	Time   time.Time `json:"time"`
}

// Session 是 Event 内的一个分组讨论，至多关联一个外部 hangout。
// Key 是启动时生成的一次性会话密钥：参与链接只认 Key 不认数字 id，
// 防止未启动或无权访问的 Session 被提前加入。
type Session struct {
	ID          uint          `gorm:"primaryKey" json:"id"`
	EventID     uint          `gorm:"index" json:"eventId"`
	Number      int           `json:"number"`
	Title       string        `gorm:"size:191" json:"title"`
	Description string        `json:"description"`
	JoinCap     int           `json:"joinCap"`
	Started     bool          `json:"started"`
	Stopped     bool          `json:"stopped"`
	Key         string        `gorm:"size:64;index" json:"-"`
	HangoutURL  string        `gorm:"size:255" json:"-"`
	Attendees   []Participant `gorm:"serializer:json" json:"attendees"`
	CreatedAt   time.Time     `json:"-"`
	UpdatedAt   time.Time     `json:"-"`

	// 以下为瞬态状态，不落库。
	Pending       *HangoutPending `gorm:"-" json:"-"` // hangout 创建中描述符
	Joining       []Participant   `gorm:"-" json:"-"` // 已重定向、尚未确认进入 hangout 的用户
	Connected     []Participant   `gorm:"-" json:"-"` // hangout 内确认在线的用户（phone-home 上报）
	LastHeartbeat *time.Time      `gorm:"-" json:"-"`
}

// RoomID 返回该 Session 的广播房间 id。
func (s *Session) RoomID() string { return fmt.Sprintf("session/%d", s.ID) }

// EventRoomID 返回所属 Event 的广播房间 id。
func (s *Session) EventRoomID() string { return fmt.Sprintf("event/%d", s.EventID) }

// Cap 返回生效的加入上限：JoinCap 与硬上限的较小值，未设置时取硬上限。
func (s *Session) Cap() int {
	if s.JoinCap <= 0 || s.JoinCap > MaxAttendees {
		return MaxAttendees
	}
	return s.JoinCap
}

// BroadcastArgs 返回广播消息里使用的 Session 表示。
func (s *Session) BroadcastArgs() map[string]interface{} {
	return map[string]interface{}{
		"id":          s.ID,
		"eventId":     s.EventID,
		"number":      s.Number,
		"title":       s.Title,
		"description": s.Description,
		"joinCap":     s.Cap(),
		"started":     s.Started,
		"stopped":     s.Stopped,
		"attendees":   s.Attendees,
	}
}

// NewSessionKey 生成一个不可猜测的会话密钥（32 个十六进制字符）。
// 用加密随机数而不是时间种子哈希，避免理论上的密钥碰撞。
func NewSessionKey() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate session key: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Start 启动 Session：置位 started、生成会话密钥，并向所属 Event 房间
// 广播携带新密钥的 start 消息。重复启动返回 ErrSessionAlreadyStarted。
func (s *Session) Start() (Effect, error) {
	if s.Started {
		return Effect{}, ErrSessionAlreadyStarted
	}
	key, err := NewSessionKey()
	if err != nil {
		return Effect{}, err
	}
	s.Started = true
	s.Stopped = false
	s.Key = key
	return Broadcast(s.EventRoomID(), "start", map[string]interface{}{
		"id":  s.ID,
		"key": s.Key,
	}), nil
}

// Stop 停止一个已启动的 Session。
func (s *Session) Stop() (Effect, error) {
	if !s.Started {
		return Effect{}, ErrSessionNotStarted
	}
	if s.Stopped {
		return Effect{}, ErrSessionAlreadyStopped
	}
	s.Stopped = true
	return Broadcast(s.EventRoomID(), "stop", map[string]interface{}{"id": s.ID}), nil
}

// AddAttendee 把用户加入参加者列表。超出容量返回 ErrCapacityExceeded，
// 且不改变任何状态；成功时返回对 Event 房间的 attend 广播。
func (s *Session) AddAttendee(u *User) (Effect, error) {
	for _, p := range s.Attendees {
		if p.ID == u.ID {
			return Effect{}, ErrAlreadyAttending
		}
	}
	if len(s.Attendees) >= s.Cap() {
		return Effect{}, ErrCapacityExceeded
	}
	s.Attendees = append(s.Attendees, u.AsParticipant())
	return Broadcast(s.EventRoomID(), "attend", map[string]interface{}{
		"id":   s.ID,
		"user": u.AsParticipant(),
	}), nil
}

// RemoveAttendee 把用户从参加者列表移除。
func (s *Session) RemoveAttendee(u *User) (Effect, error) {
	kept := s.Attendees[:0]
	found := false
	for _, p := range s.Attendees {
		if p.ID == u.ID {
			found = true
			continue
		}
		kept = append(kept, p)
	}
	if !found {
		return Effect{}, ErrNotAttending
	}
	s.Attendees = kept
	return Broadcast(s.EventRoomID(), "unattend", map[string]interface{}{
		"id":   s.ID,
		"user": u.AsParticipant(),
	}), nil
}

// IsHangoutPending 返回是否已有用户被指派去创建 hangout。
func (s *Session) IsHangoutPending() bool { return s.Pending != nil }

// HasHangout 返回 Session 是否已持有 hangout URL。
func (s *Session) HasHangout() bool { return s.HangoutURL != "" }

// MarkHangoutPending 把用户记录为 pending 创建者。
// 已有未决的创建时返回 ErrHangoutPending。
func (s *Session) MarkHangoutPending(u *User) error {
	if s.Pending != nil {
		return ErrHangoutPending
	}
	s.Pending = &HangoutPending{UserID: u.ID, Time: time.Now()}
	return nil
}

// TransferHangoutPending 在创建超时后把 pending 所有权转移给新用户。
func (s *Session) TransferHangoutPending(u *User) {
	s.Pending = &HangoutPending{UserID: u.ID, Time: time.Now()}
}

// SetHangoutURL 设置 hangout URL 并清除 pending 状态。
// URL 已存在时是检测双重决议的 no-op，返回 ErrHangoutAlreadySet；
// 竞争中后到的一方据此把手里的 URL 归还 URL 池。
func (s *Session) SetHangoutURL(url string) error {
	if s.HangoutURL != "" {
		return ErrHangoutAlreadySet
	}
	s.HangoutURL = url
	s.Pending = nil
	return nil
}

// ClearHangoutURL 清除 hangout URL（连接超时后无人加入的回收路径）。
// 曾经下发给浏览器的 URL 不回池：外部状态可能已经变化。
func (s *Session) ClearHangoutURL() {
	s.HangoutURL = ""
	s.Joining = nil
	s.Connected = nil
}

// AddJoining 把被重定向到 hangout 的用户记入"加入中"列表。
func (s *Session) AddJoining(u *User) {
	for _, p := range s.Joining {
		if p.ID == u.ID {
			return
		}
	}
	s.Joining = append(s.Joining, u.AsParticipant())
}

// SetConnectedParticipants 用 phone-home 上报的名单替换在线列表，
// 并把其中已确认连入的用户从"加入中"列表消去。名单超过硬上限时拒绝。
// 返回列表是否发生了变化。
func (s *Session) SetConnectedParticipants(participants []Participant) (bool, error) {
	if len(participants) > MaxAttendees {
		return false, ErrCapacityExceeded
	}
	byID := make(map[string]bool, len(participants))
	for _, p := range participants {
		byID[p.ID] = true
	}
	kept := s.Joining[:0]
	for _, j := range s.Joining {
		if !byID[j.ID] {
			kept = append(kept, j)
		}
	}
	s.Joining = kept

	changed := len(participants) != len(s.Connected)
	if !changed {
		current := make(map[string]bool, len(s.Connected))
		for _, p := range s.Connected {
			current[p.ID] = true
		}
		for id := range byID {
			if !current[id] {
				changed = true
				break
			}
		}
	}
	s.Connected = participants
	return changed, nil
}

// NumFilling 返回占用名额的总人数：在线 + 加入中。
// 参与链接在名额占满时直接拒绝，而不是把用户送进一个挤不进去的房间。
func (s *Session) NumFilling() int { return len(s.Connected) + len(s.Joining) }

// RecordHeartbeat 记录 hangout 侧的心跳时间。
func (s *Session) RecordHeartbeat(at time.Time) { s.LastHeartbeat = &at }
