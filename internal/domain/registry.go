package domain

import (
	"strconv"
	"sync"
)

// Registry 是进程内领域状态的唯一容器：所有 Event/Session/User 的
// 权威内存副本都挂在这里，持久化层只是它的镜像。
// 显式注入到 hub 与 HTTP handler，而不是包级全局变量，
// 这样测试可以各自构造隔离的实例。
//
// 并发约定：Registry 自身的索引由内部锁保护；跨多个实体的复合变更
// （检查-然后-写）由调用方通过 Lock/Unlock 串行化。
type Registry struct {
	mu sync.Mutex

	events     map[uint]*Event
	shortNames map[string]uint
	users      map[string]*User
	sessions   map[uint]*Session

	nextEventID   uint
	nextSessionID uint
}

// NewRegistry 创建一个空的状态容器。
func NewRegistry() *Registry {
	return &Registry{
		events:     make(map[uint]*Event),
		shortNames: make(map[string]uint),
		users:      make(map[string]*User),
		sessions:   make(map[uint]*Session),
	}
}

// Lock / Unlock 串行化复合领域变更。
func (r *Registry) Lock()   { r.mu.Lock() }
func (r *Registry) Unlock() { r.mu.Unlock() }

// --- Users ---

// PutUser 登记（或替换）一个用户。调用方需持有锁。
func (r *Registry) PutUser(u *User) { r.users[u.ID] = u }

// UserByID 按 id 查找用户。调用方需持有锁。
func (r *Registry) UserByID(id string) *User { return r.users[id] }

// UserByEmail 按邮箱查找用户。调用方需持有锁。
func (r *Registry) UserByEmail(email string) *User {
	for _, u := range r.users {
		if u.HasEmail(email) {
			return u
		}
	}
	return nil
}

// Users 返回用户快照列表。调用方需持有锁。
func (r *Registry) Users() []*User {
	users := make([]*User, 0, len(r.users))
	for _, u := range r.users {
		users = append(users, u)
	}
	return users
}

// --- Events ---

// AddEvent 登记一个 Event，必要时分配 id，并维护 shortName 唯一索引。
// shortName 冲突返回 ErrShortNameTaken。调用方需持有锁。
func (r *Registry) AddEvent(e *Event) error {
	if e.ShortName != nil && *e.ShortName != "" {
		if owner, ok := r.shortNames[*e.ShortName]; ok && owner != e.ID {
			return ErrShortNameTaken
		}
	}
	if e.ID == 0 {
		r.nextEventID++
		e.ID = r.nextEventID
	} else if e.ID > r.nextEventID {
		r.nextEventID = e.ID
	}
	r.events[e.ID] = e
	if e.ShortName != nil && *e.ShortName != "" {
		r.shortNames[*e.ShortName] = e.ID
	}
	for _, s := range e.Sessions {
		r.indexSession(s)
	}
	return nil
}

// RenameEvent 更新 Event 的 shortName 并保持唯一索引一致。
// 调用方需持有锁。
func (r *Registry) RenameEvent(e *Event, shortName *string) error {
	if shortName != nil && *shortName != "" {
		if owner, ok := r.shortNames[*shortName]; ok && owner != e.ID {
			return ErrShortNameTaken
		}
	}
	if e.ShortName != nil && *e.ShortName != "" {
		delete(r.shortNames, *e.ShortName)
	}
	e.ShortName = shortName
	if shortName != nil && *shortName != "" {
		r.shortNames[*shortName] = e.ID
	}
	return nil
}

// EventByID 按数字 id 查找 Event。调用方需持有锁。
func (r *Registry) EventByID(id uint) *Event { return r.events[id] }

// EventByRef 按数字 id 或 shortName 解析 Event，路由两种形式都接受。
// 调用方需持有锁。
func (r *Registry) EventByRef(ref string) *Event {
	if id, err := strconv.ParseUint(ref, 10, 32); err == nil {
		if e, ok := r.events[uint(id)]; ok {
			return e
		}
	}
	if id, ok := r.shortNames[ref]; ok {
		return r.events[id]
	}
	return nil
}

// Events 返回 Event 快照列表。调用方需持有锁。
func (r *Registry) Events() []*Event {
	events := make([]*Event, 0, len(r.events))
	for _, e := range r.events {
		events = append(events, e)
	}
	return events
}

// --- Sessions ---

// AttachSession 把 Session 纳入其 Event 的列表并建立全局索引，
// 必要时分配 id。返回 create-session 广播。调用方需持有锁。
func (r *Registry) AttachSession(e *Event, s *Session) Effect {
	if s.ID == 0 {
		r.nextSessionID++
		s.ID = r.nextSessionID
	} else if s.ID > r.nextSessionID {
		r.nextSessionID = s.ID
	}
	effect := e.AddSession(s)
	r.sessions[s.ID] = s
	return effect
}

// RestoreSession 在启动装载时把持久化的 Session 挂回其 Event，
// 保留既有编号，不走 AddSession 的重新编号。调用方需持有锁。
func (r *Registry) RestoreSession(e *Event, s *Session) {
	e.Sessions = append(e.Sessions, s)
	r.indexSession(s)
}

func (r *Registry) indexSession(s *Session) {
	if s.ID > r.nextSessionID {
		r.nextSessionID = s.ID
	}
	r.sessions[s.ID] = s
}

// SessionByID 按全局 id 查找 Session。调用方需持有锁。
func (r *Registry) SessionByID(id uint) *Session { return r.sessions[id] }

// SessionByKey 按会话密钥查找 Session。线性扫描：密钥查找只发生在
// 参与链接与 phone-home 路径上，规模小。调用方需持有锁。
func (r *Registry) SessionByKey(key string) *Session {
	if key == "" {
		return nil
	}
	for _, s := range r.sessions {
		if s.Key == key {
			return s
		}
	}
	return nil
}
