package hub

import (
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/drewww/unhangout/internal/domain"
)

// Client 代表一个连接到 Hub 的 WebSocket 客户端。
// user 和 rooms 只在 Hub 的主循环 goroutine 里读写，不需要额外加锁。
type Client struct {
	hub   *Hub
	conn  *websocket.Conn
	id    string          // 连接级别的唯一 id（同一用户可以开多个连接）
	user  *domain.User    // auth 命令成功前为 nil
	rooms map[string]bool // 已加入的房间 id 集合
	send  chan []byte     // 用于向此客户端发送消息的缓冲通道
}

// NewClient 创建一个新的 Client 实例，连接尚未认证。
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:   hub,
		conn:  conn,
		id:    uuid.NewString(),
		rooms: make(map[string]bool),
		send:  make(chan []byte, 256),
	}
}

// Run 启动客户端的读写 goroutine
func (c *Client) Run() {
	go c.WritePump()
	go c.ReadPump()
}

// ID 返回连接 id。
func (c *Client) ID() string { return c.id }

// User 返回已认证的用户，未认证时为 nil。只在 Hub 循环里调用。
func (c *Client) User() *domain.User { return c.user }

// queue 把已编码的消息放入发送队列（非阻塞）。
// 队列满说明客户端读取太慢，消息被丢弃，由 ping/pong 机制负责最终断开。
func (c *Client) queue(message []byte) {
	select {
	case c.send <- message:
	default:
		logrus.WithField("conn_id", c.id).Warn("Client send channel full, dropping message")
	}
}

// ReadPump 把 WebSocket 帧泵送到 Hub 的 messageChan。
// 它在自己的 goroutine 中运行。
func (c *Client) ReadPump() {
	defer func() {
		unregisterMsg := HubMessage{Type: "unregister", Client: c}
		select {
		case c.hub.messageChan <- unregisterMsg:
		case <-time.After(1 * time.Second):
			logrus.WithField("conn_id", c.id).Warn("Timeout sending unregister message to Hub channel")
		}
		c.conn.Close()
		logrus.WithField("conn_id", c.id).Info("readPump exited, unregistered client")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			logCtx := logrus.WithField("conn_id", c.id)
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logCtx.WithError(err).Warn("WebSocket read error (unexpected close)")
			} else {
				logCtx.Debug("WebSocket connection closed normally or read error")
			}
			break
		}

		if messageType != websocket.TextMessage {
			logrus.WithField("conn_id", c.id).Debugf("Received non-text message type: %d", messageType)
			continue
		}

		frameMsg := HubMessage{Type: "frame", Client: c, RawData: message}
		// 非阻塞发送到 Hub，如果 Hub 处理不过来则丢弃
		select {
		case c.hub.messageChan <- frameMsg:
		default:
			logrus.WithField("conn_id", c.id).Warn("Hub message channel full, dropping client message")
		}
	}
}

// WritePump 把 send 通道中的消息泵送到 WebSocket 连接。
// 它在自己的 goroutine 中运行。
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		logrus.WithField("conn_id", c.id).Info("writePump exited")
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// send 通道被 Hub 关闭了（通常在注销时）
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logrus.WithField("conn_id", c.id).WithError(err).Warn("Failed to write message to websocket")
				return
			}
			_ = c.conn.SetWriteDeadline(time.Time{})

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				logrus.WithField("conn_id", c.id).WithError(err).Warn("Failed to send ping message")
				return
			}
			_ = c.conn.SetWriteDeadline(time.Time{})
		}
	}
}

// CloseConn 强制关闭底层连接。
func (c *Client) CloseConn() { c.conn.Close() }
