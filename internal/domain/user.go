package domain

import "time"

// PermCreateEvents / PermFarmHangouts 是用户可被授予的细粒度权限 key。
const (
	PermCreateEvents = "createEvents"
	PermFarmHangouts = "farmHangouts"
)

// PermissionKeys 枚举所有可用的权限 key，供管理接口校验输入。
var PermissionKeys = []string{PermCreateEvents, PermFarmHangouts}

// User 表示一个通过外部身份提供方登录（或匿名加入）的用户。
// 持久化字段由 GORM 管理；socket 相关状态是瞬态的，不落库。
type User struct {
	ID          string          `gorm:"primaryKey;size:64" json:"id"`
	DisplayName string          `gorm:"size:191" json:"displayName"`
	Emails      []string        `gorm:"serializer:json" json:"emails"`
	Picture     string          `gorm:"size:255" json:"picture"`
	Link        string          `gorm:"size:255" json:"link,omitempty"`
	Admin       bool            `json:"admin"`
	Superuser   bool            `json:"superuser"`
	Perms       map[string]bool `gorm:"serializer:json" json:"-"`
	CreatedAt   time.Time       `json:"-"`
	UpdatedAt   time.Time       `json:"-"`

	// sockKey 是派生出的 socket 认证 token 的缓存，按需计算。
	// 只通过 auth service 读写，永不序列化。
	sockKey string `gorm:"-"`
}

// SockKey 返回缓存的 socket 认证 token（可能为空）。
func (u *User) SockKey() string { return u.sockKey }

// CacheSockKey 缓存派生出的 socket 认证 token。
func (u *User) CacheSockKey(key string) { u.sockKey = key }

// IsSuperuser 返回该用户是否是超级用户。
func (u *User) IsSuperuser() bool { return u.Superuser }

// HasPerm 返回用户是否持有指定权限。超级用户恒为 true。
func (u *User) HasPerm(perm string) bool {
	if u.Superuser {
		return true
	}
	return u.Perms != nil && u.Perms[perm]
}

// SetPerm 授予或撤销一个权限。
func (u *User) SetPerm(perm string, val bool) {
	if u.Perms == nil {
		u.Perms = make(map[string]bool)
	}
	u.Perms[perm] = val
}

// HasEmail 返回用户的邮箱列表中是否包含给定地址。
func (u *User) HasEmail(email string) bool {
	if email == "" {
		return false
	}
	for _, e := range u.Emails {
		if e == email {
			return true
		}
	}
	return false
}

// IsAdminOf 返回用户是否可以管理给定 Event。
// 超级用户可以管理任何 Event；全局 admin 标志不授予单个 Event 的管理权，
// Event 自己的 admin 列表才是依据。
func (u *User) IsAdminOf(event *Event) bool {
	if u.Superuser {
		return true
	}
	if event == nil {
		return false
	}
	return event.UserIsAdmin(u)
}

// Participant 是 User 在广播消息和 Session 名单里的精简表示。
type Participant struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Picture     string `json:"picture"`
}

// AsParticipant 返回该用户的精简表示。
func (u *User) AsParticipant() Participant {
	return Participant{ID: u.ID, DisplayName: u.DisplayName, Picture: u.Picture}
}
