package dto

import "encoding/json"

//Message 表示 WebSocket 上双向传输的统一信封：{"type":..., "args":{...}}
//命令回执的 type 为 "<命令>-ack" 或 "<命令>-err"，广播用裸命令名

type Message struct {
	Type string                 `json:"type"`
	Args map[string]interface{} `json:"args"`
}

//NewAck 构造命令成功回执，args 可以为 nil（编码为 {}）

func NewAck(cmd string, args map[string]interface{}) Message {
	if args == nil {
		args = map[string]interface{}{}
	}
	return Message{Type: cmd + "-ack", Args: args}
}

//NewErr 构造命令失败回执

func NewErr(cmd string, reason string) Message {
	return Message{Type: cmd + "-err", Args: map[string]interface{}{"message": reason}}
}

//Encode 把消息编码为单个 WebSocket 文本帧

func (m Message) Encode() ([]byte, error) {
	if m.Args == nil {
		m.Args = map[string]interface{}{}
	}
	return json.Marshal(m)
}

//Decode 解析收到的信封，不校验 args 内容（由各命令自行解码）

func Decode(data []byte) (Message, error) {
	var m Message
	err := json.Unmarshal(data, &m)
	return m, err
}

//ArgString 提取字符串参数，缺失或类型不符返回空串

func (m Message) ArgString(key string) string {
	v, _ := m.Args[key].(string)
	return v
}

//ArgUint 提取数字参数，JSON 数字解码为 float64

func (m Message) ArgUint(key string) (uint, bool) {
	switch v := m.Args[key].(type) {
	case float64:
		if v < 0 {
			return 0, false
		}
		return uint(v), true
	case string:
		return 0, false
	}
	return 0, false
}

//ArgBool 提取布尔参数

func (m Message) ArgBool(key string) bool {
	v, _ := m.Args[key].(bool)
	return v
}

//AuthArgs 是 auth 命令的参数

type AuthArgs struct {
	ID  string `json:"id"`
	Key string `json:"key"`
}

//JoinArgs 是 join / leave 命令的参数，id 形如 "event/1" 或 "session/3"

type JoinArgs struct {
	ID string `json:"id"`
}

//SessionArgs 是 attend / unattend / start / stop 命令的参数

type SessionArgs struct {
	ID uint `json:"id"`
}

//CreateSessionArgs 是 create-session 命令的参数

type CreateSessionArgs struct {
	EventID     uint   `json:"eventId"`
	Title       string `json:"title"`
	Description string `json:"description"`
	JoinCap     int    `json:"joinCap"`
}

//EmbedArgs 是 embed 命令的参数，ytId 为空表示清除嵌入

type EmbedArgs struct {
	EventID uint   `json:"eventId"`
	YtID    string `json:"ytId"`
}

//ChatArgs 是 chat 命令的参数

type ChatArgs struct {
	EventID uint   `json:"eventId"`
	Text    string `json:"text"`
}

//DecodeArgs 把 args 重新解码到具体命令的参数结构

func (m Message) DecodeArgs(dst interface{}) error {
	raw, err := json.Marshal(m.Args)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}
