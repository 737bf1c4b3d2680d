package domain

import "errors"

// 领域层的状态冲突错误。
// 这些错误表示在当前状态下不允许的变更请求，属于可预期的业务失败，
// 由调用方（hub 命令路由或 HTTP handler）转换为 -err 回复或 HTTP 状态码，
// 绝不允许导致连接断开或进程崩溃。
var (
	// ErrEventAlreadyLive 表示对一个已经处于直播状态的 Event 调用 Start。
	ErrEventAlreadyLive = errors.New("event is already live")
	// ErrEventNotLive 表示对一个未处于直播状态的 Event 调用 Stop。
	ErrEventNotLive = errors.New("event is not live")

	// ErrSessionAlreadyStarted 表示重复启动同一个 Session。
	ErrSessionAlreadyStarted = errors.New("session is already started")
	// ErrSessionNotStarted 表示停止一个尚未启动的 Session。
	ErrSessionNotStarted = errors.New("session has not been started")
	// ErrSessionAlreadyStopped 表示重复停止同一个 Session。
	ErrSessionAlreadyStopped = errors.New("session is already stopped")

	// ErrCapacityExceeded 表示加入人数超过 Session 的容量上限。
	ErrCapacityExceeded = errors.New("session attendee capacity exceeded")
	// ErrAlreadyAttending 表示用户已在参加者列表中。
	ErrAlreadyAttending = errors.New("user is already attending this session")
	// ErrNotAttending 表示用户不在参加者列表中。
	ErrNotAttending = errors.New("user is not attending this session")

	// ErrHangoutPending 表示已有其他用户正在创建 hangout。
	ErrHangoutPending = errors.New("a hangout creation is already pending")
	// ErrHangoutAlreadySet 表示 Session 已经持有 hangout URL。
	// setHangoutUrl 的第二次调用返回此错误，用于检测双重决议竞争。
	ErrHangoutAlreadySet = errors.New("hangout url is already set")

	// ErrShortNameTaken 表示 Event 的 shortName 与现有 Event 冲突。
	ErrShortNameTaken = errors.New("event short name is already taken")
)
