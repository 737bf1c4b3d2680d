package hub

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/drewww/unhangout/internal/domain"
	"github.com/drewww/unhangout/internal/dto"
	"github.com/drewww/unhangout/internal/service"
)

// 包级别的 WebSocket 常量，供 hub 和 client 包内使用
const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096
)

// HubMessage 定义了在 Hub 内部通道传递的消息类型
type HubMessage struct {
	Type    string  // "register", "unregister", "frame"
	Client  *Client // 来源客户端
	RawData []byte  // 仅用于 frame（原始 WebSocket 帧）
}

// Hub 维护活跃客户端集合并串行处理全部 socket 命令。
// 命令在主循环里同步处理而不是每帧起 goroutine：同一房间的广播
// 必须按命令到达顺序送达，并发处理会打乱顺序。
type Hub struct {
	messageChan chan HubMessage
	quit        chan struct{}

	// 客户端集合，按房间 id（"event/3" / "session/7"）组织
	rooms   map[string]map[*Client]bool
	clients map[*Client]bool
	roomsMu sync.RWMutex

	registry     *domain.Registry
	authService  *service.AuthService
	eventService *service.EventService
}

// NewHub 创建并返回一个新的 Hub 实例
func NewHub(registry *domain.Registry, authService *service.AuthService, eventService *service.EventService) *Hub {
	if registry == nil {
		panic("Registry cannot be nil for Hub")
	}
	if authService == nil {
		panic("AuthService cannot be nil for Hub")
	}
	if eventService == nil {
		panic("EventService cannot be nil for Hub")
	}
	return &Hub{
		messageChan:  make(chan HubMessage, 512),
		quit:         make(chan struct{}),
		rooms:        make(map[string]map[*Client]bool),
		clients:      make(map[*Client]bool),
		registry:     registry,
		authService:  authService,
		eventService: eventService,
	}
}

// Run 启动 Hub 的主事件处理循环。
// 它应该在一个单独的 goroutine 中运行。
func (h *Hub) Run() {
	log := logrus.WithField("component", "hub")
	log.Info("Hub is running...")

	for {
		select {
		case msg := <-h.messageChan:
			switch msg.Type {
			case "register":
				h.registerClient(msg.Client)
			case "unregister":
				h.unregisterClient(msg.Client)
			case "frame":
				h.handleFrame(msg.Client, msg.RawData)
			default:
				log.Warnf("Hub: Received unknown message type: %s", msg.Type)
			}
		case <-h.quit:
			log.Info("Hub is shutting down...")
			return
		}
	}
}

// Stop 请求主循环退出。
func (h *Hub) Stop() {
	close(h.quit)
}

// registerClient 把新连接纳入管理。此时连接尚未认证，不属于任何房间。
func (h *Hub) registerClient(client *Client) {
	if client == nil {
		logrus.Error("Hub: Attempted to register a nil client")
		return
	}
	h.roomsMu.Lock()
	h.clients[client] = true
	h.roomsMu.Unlock()
	logrus.WithField("conn_id", client.ID()).Info("Client registered to Hub")
}

// unregisterClient 处理连接断开：退出全部房间（触发 leave 广播）、
// 关闭发送通道。在主循环里执行，不与命令处理并发。
func (h *Hub) unregisterClient(client *Client) {
	if client == nil {
		logrus.Error("Hub: Attempted to unregister a nil client")
		return
	}
	logCtx := logrus.WithField("conn_id", client.ID())

	for roomID := range client.rooms {
		h.leaveRoom(client, roomID)
	}

	h.roomsMu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		select {
		case <-client.send:
			logCtx.Warn("Client send channel already closed or has data during unregister")
		default:
			close(client.send)
		}
	}
	h.roomsMu.Unlock()
	logCtx.Info("Client unregistered from Hub")
}

// joinRoom 把客户端加入房间的成员表。
func (h *Hub) joinRoom(client *Client, roomID string) {
	h.roomsMu.Lock()
	if _, ok := h.rooms[roomID]; !ok {
		h.rooms[roomID] = make(map[*Client]bool)
	}
	h.rooms[roomID][client] = true
	h.roomsMu.Unlock()
	client.rooms[roomID] = true
}

// leaveRoom 把客户端移出房间。如果这是该用户在房间里的最后一个连接，
// 生成并广播 leave（事件房间）。多标签页场景下中间的断开是安静的。
func (h *Hub) leaveRoom(client *Client, roomID string) {
	h.roomsMu.Lock()
	if roomClients, ok := h.rooms[roomID]; ok {
		delete(roomClients, client)
		if len(roomClients) == 0 {
			delete(h.rooms, roomID)
		}
	}
	h.roomsMu.Unlock()
	delete(client.rooms, roomID)

	if client.user == nil {
		return
	}
	if h.userStillInRoom(roomID, client.user.ID) {
		return
	}

	if event := h.eventForRoom(roomID); event != nil {
		h.registry.Lock()
		effect, left := event.UserDisconnected(client.user)
		h.registry.Unlock()
		if left {
			h.Apply([]domain.Effect{effect})
		}
	}
}

// leaveOtherRooms 让连接退出除 keep 以外的全部房间。
// 一个连接同一时刻只属于一个房间，加入新房间意味着隐式离开旧房间，
// 旧房间的 leave 广播由 leaveRoom 触发。
func (h *Hub) leaveOtherRooms(client *Client, keep string) {
	for roomID := range client.rooms {
		if roomID != keep {
			h.leaveRoom(client, roomID)
		}
	}
}

// userStillInRoom 检查用户是否还有别的连接留在房间里。
func (h *Hub) userStillInRoom(roomID, userID string) bool {
	h.roomsMu.RLock()
	defer h.roomsMu.RUnlock()
	for c := range h.rooms[roomID] {
		if c.user != nil && c.user.ID == userID {
			return true
		}
	}
	return false
}

// eventForRoom 解析 "event/<id>" 形式的房间 id。
func (h *Hub) eventForRoom(roomID string) *domain.Event {
	id, ok := parseEventRoom(roomID)
	if !ok {
		return nil
	}
	h.registry.Lock()
	defer h.registry.Unlock()
	return h.registry.EventByID(id)
}

// Apply 把一批领域 Effect 作为广播送到各自的房间。
// 服务层先完成持久化再返回 Effect，所以这里的广播总是落库之后的状态。
func (h *Hub) Apply(effects []domain.Effect) {
	for _, effect := range effects {
		message := dto.Message{Type: effect.Type, Args: effect.Args}
		encoded, err := message.Encode()
		if err != nil {
			logrus.WithError(err).WithField("type", effect.Type).Error("Failed to encode broadcast message")
			continue
		}
		h.broadcast(effect.Room, encoded)
	}
}

// broadcast 将消息发送给指定房间的所有客户端。
// 广播送达包括变更发起者在内的全体成员，发起者额外收到自己的 -ack。
func (h *Hub) broadcast(roomID string, message []byte) {
	h.roomsMu.RLock()
	roomClients, ok := h.rooms[roomID]
	clientsToSend := make([]*Client, 0, len(roomClients))
	if ok {
		for client := range roomClients {
			clientsToSend = append(clientsToSend, client)
		}
	}
	h.roomsMu.RUnlock()

	if len(clientsToSend) == 0 {
		return
	}

	logrus.WithFields(logrus.Fields{
		"room_id":         roomID,
		"message_size":    len(message),
		"recipient_count": len(clientsToSend),
	}).Debug("Broadcasting message to clients")

	for _, client := range clientsToSend {
		client.queue(message)
	}
}

// NumInRoom 返回房间内的连接数（监控用）。
func (h *Hub) NumInRoom(roomID string) int {
	h.roomsMu.RLock()
	defer h.roomsMu.RUnlock()
	return len(h.rooms[roomID])
}

// QueueMessage 将消息放入 Hub 的处理队列 (非阻塞)。
// 这是 Client 之外的组件向 Hub 发送消息的安全方式。
func (h *Hub) QueueMessage(msg HubMessage) bool {
	select {
	case h.messageChan <- msg:
		return true
	default:
		logrus.WithField("message_type", msg.Type).Warn("Hub message channel full, dropping message")
		return false
	}
}
