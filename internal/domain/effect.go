package domain

// Effect 描述一次领域变更产生的广播副作用。
// 变更方法不直接持有 socket 或其他实体的回调，而是返回 Effect 列表，
// 由 hub 的分发器统一应用（先持久化、后广播的顺序由调用方保证）。
type Effect struct {
	Room string                 // 目标房间 id，形如 "event/5" 或 "session/12"
	Type string                 // 广播消息类型（裸类型名，不带 -ack/-err 后缀）
	Args map[string]interface{} // 消息参数
}

// Broadcast 构造一个广播 Effect。
func Broadcast(room, msgType string, args map[string]interface{}) Effect {
	if args == nil {
		args = map[string]interface{}{}
	}
	return Effect{Room: room, Type: msgType, Args: args}
}
